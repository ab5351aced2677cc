// Package msgs defines the telemetry messages published by dpsd.
package msgs

// Messages are encoded with protocol buffers, the schema is in
// telemetry.proto next to this file.
//
// Producer: dpsd
// Consumer: dashboards, loggers, remote controllers
