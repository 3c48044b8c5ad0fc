// Package device provides the instrument registry for the lab access core.
//
// The registry is the central catalogue of all lab instruments under
// access control. It manages device lifecycle, connectivity status, and
// provides query operations for the access facade and reservation
// calendar.
//
// # Key Types
//
//   - Device: A lab instrument (microscope, meter, datalogger, ...)
//   - DeviceType: Instrument classification
//   - Status: Connectivity state (offline, connecting, online, error, maintenance)
//
// # Status Model
//
// Transitions follow a fixed graph: offline -> connecting -> online,
// with error reachable from connecting and online, and maintenance
// reachable from anywhere but only releasing back to offline. Entering
// online refreshes the device's last seen timestamp.
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db)
//	registry := device.NewRegistry(repo, arena)
//	registry.SetLogger(log)
//
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
//	dev := &device.Device{
//	    Name: "Bench Spectroscope",
//	    Type: device.DeviceTypeSpectroscope,
//	    Metadata: device.Metadata{"wavelength_nm": []any{380.0, 750.0}},
//	}
//	if err := registry.Register(ctx, dev); err != nil {
//	    return err
//	}
//
//	registry.Transition(ctx, dev.ID, device.StatusConnecting)
//	registry.Transition(ctx, dev.ID, device.StatusOnline)
//
// # Thread Safety
//
// The Registry is safe for concurrent use. Cache access is protected by
// a read-write mutex and per-device mutations are serialised through the
// shared lock arena, so two racing transitions on the same device are
// applied in sequence and each validated against the graph.
package device
