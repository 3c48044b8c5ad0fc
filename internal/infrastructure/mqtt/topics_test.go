package mqtt

import "testing"

func TestTopics(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"InstrumentCommand", topics.InstrumentCommand("spectro-01"), "labaccess/command/spectro-01"},
		{"InstrumentAck", topics.InstrumentAck("spectro-01"), "labaccess/ack/spectro-01"},
		{"CoreEvent", topics.CoreEvent("session_started"), "labaccess/core/event/session_started"},
		{"SystemStatus", topics.SystemStatus(), "labaccess/system/status"},
		{"AllInstrumentAcks", topics.AllInstrumentAcks(), "labaccess/ack/+"},
		{"AllCoreEvents", topics.AllCoreEvents(), "labaccess/core/event/+"},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

func TestStatusPayloads(t *testing.T) {
	online := buildOnlinePayload("labaccess-core")
	if !containsAll(online, `"status":"online"`, `"client_id":"labaccess-core"`) {
		t.Errorf("online payload missing fields: %s", online)
	}

	offline := buildOfflinePayload("labaccess-core")
	if !containsAll(offline, `"status":"offline"`, `"reason":"graceful_shutdown"`) {
		t.Errorf("offline payload missing fields: %s", offline)
	}
}

func containsAll(s string, parts ...string) bool {
	for _, p := range parts {
		if !contains(s, p) {
			return false
		}
	}
	return true
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
