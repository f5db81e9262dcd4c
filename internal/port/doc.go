// Package port checks and picks host ports for published container
// endpoints.
//
// Scanner probes the OS with net.Listen / net.ListenPacket. Allocator
// layers the ports already claimed by other managed containers on top and,
// when asked to, falls back to a nearby or ephemeral port instead of
// failing.
package port
