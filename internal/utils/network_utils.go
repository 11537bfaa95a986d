package utils

import (
	"net"
	"strings"
)

// Interface is the slice of a network interface the relay heuristic reads.
type Interface struct {
	Name     string
	Up       bool
	Loopback bool
	Addrs    []net.IP
}

// CGNAT range (100.64.0.0/10). Cloudflare WARP, Tailscale and carrier NATs
// live here; direct media rarely gets through them.
var cgnatBlock = &net.IPNet{IP: net.IPv4(100, 64, 0, 0).To4(), Mask: net.CIDRMask(10, 32)}

var tunnelNames = []string{"tun", "tap", "wg", "ppp", "warp"}

// ShouldForceRelay checks if the system is likely behind a restrictive VPN or
// CGNAT, in which case calls should go through TURN.
func ShouldForceRelay() bool {
	_, ok := RelayHint(systemInterfaces())
	return ok
}

// RelayHint returns the interface that suggests relaying, if any.
func RelayHint(ifaces []Interface) (string, bool) {
	for _, iface := range ifaces {
		if !iface.Up || iface.Loopback {
			continue
		}

		name := strings.ToLower(iface.Name)
		for _, t := range tunnelNames {
			if strings.Contains(name, t) {
				return iface.Name, true
			}
		}

		for _, ip := range iface.Addrs {
			if cgnatBlock.Contains(ip) {
				return iface.Name, true
			}
		}
	}
	return "", false
}

func systemInterfaces() []Interface {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}

	out := make([]Interface, 0, len(ifaces))
	for _, iface := range ifaces {
		i := Interface{
			Name:     iface.Name,
			Up:       iface.Flags&net.FlagUp != 0,
			Loopback: iface.Flags&net.FlagLoopback != 0,
		}
		addrs, err := iface.Addrs()
		if err == nil {
			for _, addr := range addrs {
				switch v := addr.(type) {
				case *net.IPNet:
					i.Addrs = append(i.Addrs, v.IP)
				case *net.IPAddr:
					i.Addrs = append(i.Addrs, v.IP)
				}
			}
		}
		out = append(out, i)
	}
	return out
}
