// Package netutil provides local-IPv4 and hostname lookups; discovery uses
// the hostname as the mDNS host name it advertises.
package netutil

import (
	"fmt"
	"net"
	"os"
)

// LocalIPv4 returns the local address the OS would use for outbound IPv4
// traffic. It dials a UDP socket to a public address without sending any
// packets, which is a cheap, portable way to ask the OS for that address;
// if the dial fails, it returns the first non-loopback IPv4 address found on
// an "up" interface.
func LocalIPv4() (string, error) {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err == nil {
		defer conn.Close()
		if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok && addr.IP != nil {
			return addr.IP.String(), nil
		}
	}

	// No route to the internet (offline LAN) — fall back to scanning
	// interfaces directly for a usable address.
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("enumerate interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			var ip net.IP
			switch v := a.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip == nil || ip.IsLoopback() || ip.To4() == nil {
				continue
			}
			return ip.String(), nil
		}
	}
	return "", fmt.Errorf("no usable local IPv4 address found")
}

// FriendlyDeviceName returns a human-readable name for this host, used as
// the mDNS host name of the advertised service.
func FriendlyDeviceName() string {
	if name, err := os.Hostname(); err == nil && name != "" {
		return name
	}
	return "lantransfer-device"
}
