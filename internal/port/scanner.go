package port

import (
	"net"
	"strconv"
)

// Scanner checks whether host ports can be bound.
//
// It asks the operating system directly by opening a listener, instead of
// parsing /proc/net/* or shelling out to lsof or ss, which may need elevated
// permissions or be missing on macOS and Windows.
//
// The struct has no state. It exists so the Allocator can take a Checker
// and tests can substitute a fake one.
type Scanner struct{}

// NewScanner returns a Scanner.
func NewScanner() *Scanner {
	return &Scanner{}
}

// IsPortAvailable reports whether port can be bound on the host.
//
// For TCP it tries net.Listen("tcp", ":port"); for UDP,
// net.ListenPacket("udp", ":port"). A successful bind means the port is
// free and the listener is closed again straight away.
//
// The check binds on all interfaces (":port", not "127.0.0.1:port")
// because Docker publishes ports on 0.0.0.0. A port held on any interface
// would make the container start fail.
//
// Parameters:
//   - port: the port number to check (1-65535)
//   - protocol: "tcp", "udp", or "" for tcp
//
// Returns false for a port in use, an invalid port, or an unknown protocol.
func (s *Scanner) IsPortAvailable(port int, protocol string) bool {
	addr := ":" + strconv.Itoa(port)

	switch protocol {
	case "tcp", "":
		// Fails with "address already in use" when another process holds it.
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return false
		}
		_ = ln.Close()
		return true

	case "udp":
		// UDP is connectionless, so the bind test uses a PacketConn.
		conn, err := net.ListenPacket("udp", addr)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true

	default:
		// Unknown protocol: report unavailable rather than guess.
		return false
	}
}
