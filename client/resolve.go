package client

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
)

// resolve maps host to the IP to dial. The local host name maps to loopback,
// and IPv4 addresses are preferred over IPv6.
func resolve(ctx context.Context, host string) (string, error) {
	if name, err := os.Hostname(); err == nil && strings.EqualFold(name, host) {
		return "127.0.0.1", nil
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.String(), nil
	}

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrResolve, host, err)
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("%w: %s: no addresses", ErrResolve, host)
	}
	for _, addr := range addrs {
		if addr.IP.To4() != nil {
			return addr.IP.String(), nil
		}
	}
	return addrs[0].IP.String(), nil
}
