// Package logging provides the structured logger for the lab access core.
//
// It is a thin wrapper over log/slog that applies the configured level,
// format, and output, and stamps every record with service and version
// fields. Domain packages do not import this package directly; they accept
// a minimal Logger interface (Debug/Info/Warn/Error) which *Logger
// satisfies, keeping them testable without log output.
package logging
