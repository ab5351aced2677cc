// Package comm provides the MingHe converter wire protocol.
package comm

// The protocol is half-duplex ASCII over a serial line with a single
// master. Every request gets exactly one response frame:
//
//   : <2-digit address> <'s'|'r'> <command> [<decimal value>] <LRC> [CR][LF]
//
// The LRC is 'A' plus the sum of all bytes from ':' through the value,
// modulo 26. Commands and markers are lowercase and values are digits, so
// the first uppercase byte of a frame is always its LRC.
//
// A write is acknowledged with the literal payload "ok" (or "err") in
// place of the marker, command and value.
//
// Producer: converter firmware
// Consumer: this package
