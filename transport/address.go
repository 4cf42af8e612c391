package transport

import "net"

// AddressKey returns the string used as the session table's primary key
// for addr. Two net.Addr values that stringify the same are treated as
// the same peer, matching how the engine's Session Table is specified
// (opaque per-peer key, IP+port for UDP).
func AddressKey(addr net.Addr) string {
	return addr.String()
}
