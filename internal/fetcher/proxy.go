package fetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ghostcrawl/ghostcrawl/internal/socks"
)

const proxyDialTimeout = 10 * time.Second

// transportForProxy builds a one-shot *http.Transport wired to dial every
// connection through proxyURL, mirroring the gateway's own handshake logic
// (internal/gateway/connection.go) on the client side: a SOCKS handshake if
// the scheme contains "socks5" or "socks4", and the standard library's own
// CONNECT/absolute-URI proxy support for any other scheme. A fresh
// Transport per request (rather than mutating a shared one) keeps this safe
// under concurrent fetches picking different proxies.
func transportForProxy(proxyURL *url.URL) *http.Transport {
	if schemeContainsSocks(proxyURL.Scheme) {
		return &http.Transport{DialContext: socksDialContext(proxyURL)}
	}
	return &http.Transport{Proxy: http.ProxyURL(proxyURL)}
}

func schemeContainsSocks(scheme string) bool {
	lower := strings.ToLower(scheme)
	return strings.Contains(lower, "socks5") || strings.Contains(lower, "socks4")
}

// socksDialContext returns a DialContext that connects to proxyURL's host
// and performs a SOCKS5 or SOCKS4 CONNECT handshake to addr (the original
// request's target host:port), handing back the tunneled connection for
// http.Transport to read/write (and, for https requests, to layer TLS over).
func socksDialContext(proxyURL *url.URL) func(ctx context.Context, network, addr string) (net.Conn, error) {
	creds := socksCredentialsFromURL(proxyURL)

	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		targetHost, targetPortStr, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("fetcher: split target address %s: %w", addr, err)
		}
		targetPort, err := strconv.ParseUint(targetPortStr, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("fetcher: parse target port %s: %w", targetPortStr, err)
		}

		dialer := &net.Dialer{Timeout: proxyDialTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", proxyHostPort(proxyURL))
		if err != nil {
			return nil, fmt.Errorf("fetcher: connect to proxy %s: %w", proxyURL.Host, err)
		}

		if schemeContains(proxyURL.Scheme, "socks5") {
			if err := socks.Socks5Connect(conn, targetHost, uint16(targetPort), creds); err != nil {
				conn.Close()
				return nil, err
			}
			return conn, nil
		}

		targetIP, err := resolveIPv4Target(targetHost)
		if err != nil {
			conn.Close()
			return nil, err
		}
		if err := socks.Socks4Connect(conn, targetIP, uint16(targetPort), creds.Username); err != nil {
			conn.Close()
			return nil, err
		}
		return conn, nil
	}
}

func proxyHostPort(u *url.URL) string {
	if u.Port() != "" {
		return u.Host
	}
	return net.JoinHostPort(u.Hostname(), "1080")
}

func socksCredentialsFromURL(u *url.URL) socks.Credentials {
	if u.User == nil {
		return socks.Credentials{}
	}
	password, _ := u.User.Password()
	return socks.Credentials{Username: u.User.Username(), Password: password}
}

func schemeContains(scheme, substr string) bool {
	return strings.Contains(strings.ToLower(scheme), substr)
}

func resolveIPv4Target(host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return v4, nil
		}
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return nil, fmt.Errorf("fetcher: resolve %s: %w", host, err)
	}
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			return v4, nil
		}
	}
	return nil, fmt.Errorf("fetcher: no IPv4 address for %s", host)
}
