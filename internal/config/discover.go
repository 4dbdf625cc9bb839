package config

import "net"

// DiscoverAddress resolves the daemon's externally reachable IPv4
// address per spec §6: attempt a UDP "connect" to 8.8.8.8:53 and read
// back the local socket name, falling back to 127.0.0.1 on any failure.
// No packets are actually sent — UDP connect only programs the kernel
// route lookup.
func DiscoverAddress() string {
	conn, err := net.Dial("udp4", "8.8.8.8:53")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || addr.IP == nil {
		return "127.0.0.1"
	}
	return addr.IP.String()
}

// ResolveServerAddress returns sip.server.address if configured, else
// the auto-discovered address.
func (c *Config) ResolveServerAddress() string {
	if c.SIP.Server.Address != "" {
		return c.SIP.Server.Address
	}
	return DiscoverAddress()
}
