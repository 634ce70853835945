package util

import (
	"context"
	"errors"
	"net"
	"regexp"
	"time"
)

// ipv4Pattern only accepts four dot-separated groups of 1~3 digits.
var ipv4Pattern = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`)

// ValidIPv4 reports whether s is a dotted-decimal IPv4 address. The strict
// 4-octet pattern rejects shorthand forms; net.ParseIP rejects octets > 255.
func ValidIPv4(s string) bool {
	if !ipv4Pattern.MatchString(s) {
		return false
	}
	ip := net.ParseIP(s)
	return ip != nil && ip.To4() != nil
}

// probeTargets are dialed in order; no payload is ever sent to them. The
// kernel picks a source address during route lookup, which is what we read back.
var probeTargets = []string{
	"8.8.8.8:80",     // internet-routable
	"192.168.0.1:80", // common home subnet
	"10.0.0.1:80",    // common enterprise subnet
}

// ErrNoLocalIP is returned when neither the route probe nor the interface
// scan yields a usable IPv4 address.
var ErrNoLocalIP = errors.New("could not determine local IPv4 address")

// LocalIPv4 returns this host's LAN IPv4 address. Each probe target gets a
// UDP "connect" bounded by timeout; the first non-loopback local address wins.
// If every probe fails (e.g. no default route), the first non-loopback IPv4
// of an up interface is used instead.
func LocalIPv4(ctx context.Context, timeout time.Duration) (string, error) {
	for _, target := range probeTargets {
		if ip, ok := probeRoute(ctx, target, timeout); ok {
			return ip, nil
		}
	}

	if ip, ok := firstInterfaceIPv4(); ok {
		return ip, nil
	}

	return "", ErrNoLocalIP
}

// probeRoute opens a throwaway UDP socket towards target and reports the
// source address the OS assigned to it.
func probeRoute(ctx context.Context, target string, timeout time.Duration) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp4", target)
	if err != nil {
		LogDebug("local IP probe via %s failed: %v", target, err)
		return "", false
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || addr.IP.IsLoopback() || addr.IP.IsUnspecified() || addr.IP.To4() == nil {
		return "", false
	}
	return addr.IP.String(), true
}

func firstInterfaceIPv4() (string, bool) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", false
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			if ip4 := ipNet.IP.To4(); ip4 != nil && !ip4.IsLoopback() {
				return ip4.String(), true
			}
		}
	}
	return "", false
}
