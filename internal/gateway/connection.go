package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/ghostcrawl/ghostcrawl/internal/metadata"
	"github.com/ghostcrawl/ghostcrawl/internal/socks"
)

const (
	tunnelBufferSize = 8 * 1024
	upstreamDialTimeout = 10 * time.Second
)

// handleConnection drives one client connection through the
// READ_REQUEST -> RESOLVE_UPSTREAM -> CONNECT_UPSTREAM ->
// {SOCKS5_HANDSHAKE, SOCKS4_HANDSHAKE, HTTP_PROXY_FORWARD} -> TUNNEL
// state machine, closing client on any failure.
func (g *Gateway) handleConnection(ctx context.Context, client net.Conn) {
	defer client.Close()

	req, err := readClientRequest(client)
	if err != nil {
		g.recordError("read_request", metadata.CauseNetworkFailure, err)
		return
	}

	proxy, ok := g.pool.GetProxy()
	if !ok {
		g.recordError("resolve_upstream", metadata.CauseNetworkFailure, fmt.Errorf("gateway: proxy pool is empty"))
		return
	}
	upstreamURL, err := proxy.ParsedURL()
	if err != nil {
		g.recordError("resolve_upstream", metadata.CauseNetworkFailure, err)
		g.pool.Report(proxy.URL, false)
		return
	}

	dialCtx, cancel := context.WithTimeout(ctx, upstreamDialTimeout)
	upstream, err := (&net.Dialer{}).DialContext(dialCtx, "tcp", upstreamHostPort(upstreamURL))
	cancel()
	if err != nil {
		g.recordError("connect_upstream", metadata.CauseNetworkFailure, err)
		g.pool.Report(proxy.URL, false)
		return
	}
	defer upstream.Close()

	creds := credentialsFromURL(upstreamURL)

	var handshakeErr error
	switch {
	case schemeContains(upstreamURL.Scheme, "socks5"):
		handshakeErr = g.socks5Handshake(client, upstream, req, creds)
	case schemeContains(upstreamURL.Scheme, "socks4"):
		handshakeErr = g.socks4Handshake(client, upstream, req, creds)
	default:
		handshakeErr = g.httpProxyForward(upstream, req, creds)
	}
	if handshakeErr != nil {
		g.recordError("handshake", metadata.CauseNetworkFailure, handshakeErr)
		g.pool.Report(proxy.URL, false)
		return
	}

	g.pool.Report(proxy.URL, true)
	g.tunnel(client, upstream)
}

func upstreamHostPort(u *url.URL) string {
	if u.Port() != "" {
		return u.Host
	}
	return net.JoinHostPort(u.Hostname(), "1080")
}

func credentialsFromURL(u *url.URL) socks.Credentials {
	if u.User == nil {
		return socks.Credentials{}
	}
	password, _ := u.User.Password()
	return socks.Credentials{Username: u.User.Username(), Password: password}
}

func schemeContains(scheme, substr string) bool {
	return strings.Contains(strings.ToLower(scheme), substr)
}

// socks5Handshake performs the SOCKS5_HANDSHAKE state: negotiate, optional
// user/pass subnegotiation, CONNECT to req's target. If the client's
// original request was a CONNECT, it synthesizes the 200 reply itself;
// otherwise it resends the buffered plaintext request to the tunneled
// upstream, per the edge rule that SOCKS tunneling of plaintext HTTP must
// replay the opening bytes after the handshake.
func (g *Gateway) socks5Handshake(client, upstream net.Conn, req clientRequest, creds socks.Credentials) error {
	if err := socks.Socks5Connect(upstream, req.targetHost, req.targetPort, creds); err != nil {
		return err
	}
	if req.isConnect {
		if _, err := client.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
			return fmt.Errorf("gateway: write connect-established reply: %w", err)
		}
		return nil
	}
	if _, err := upstream.Write(req.raw); err != nil {
		return fmt.Errorf("gateway: replay buffered request to socks5 upstream: %w", err)
	}
	return nil
}

// socks4Handshake performs the SOCKS4_HANDSHAKE state: resolve the target to
// an IPv4 address, CONNECT, and (mirroring socks5Handshake) either synthesize
// the CONNECT reply or replay the buffered plaintext request.
func (g *Gateway) socks4Handshake(client, upstream net.Conn, req clientRequest, creds socks.Credentials) error {
	targetIP, err := resolveIPv4(req.targetHost)
	if err != nil {
		return err
	}
	if err := socks.Socks4Connect(upstream, targetIP, req.targetPort, creds.Username); err != nil {
		return err
	}
	if req.isConnect {
		if _, err := client.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
			return fmt.Errorf("gateway: write connect-established reply: %w", err)
		}
		return nil
	}
	if _, err := upstream.Write(req.raw); err != nil {
		return fmt.Errorf("gateway: replay buffered request to socks4 upstream: %w", err)
	}
	return nil
}

func resolveIPv4(host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return v4, nil
		}
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return nil, fmt.Errorf("gateway: resolve %s: %w", host, err)
	}
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			return v4, nil
		}
	}
	return nil, fmt.Errorf("gateway: no IPv4 address for %s", host)
}

// httpProxyForward performs the HTTP_PROXY_FORWARD state: inject
// Proxy-Authorization if the upstream URL carries userinfo, then forward the
// client's original request bytes verbatim (CONNECT line included, per the
// edge rule that HTTP CONNECT via an HTTP upstream is forwarded as-is).
func (g *Gateway) httpProxyForward(upstream net.Conn, req clientRequest, creds socks.Credentials) error {
	payload := req.raw
	if creds.HasAuth() {
		payload = injectProxyAuth(payload, creds)
	}
	if _, err := upstream.Write(payload); err != nil {
		return fmt.Errorf("gateway: forward request to http upstream: %w", err)
	}
	return nil
}

func injectProxyAuth(raw []byte, creds socks.Credentials) []byte {
	header := []byte("Proxy-Authorization: " + socks.BasicAuthHeader(creds) + "\r\n")
	idx := bytes.Index(raw, []byte("\r\n"))
	if idx < 0 {
		return raw
	}
	out := make([]byte, 0, len(raw)+len(header))
	out = append(out, raw[:idx+2]...)
	out = append(out, header...)
	out = append(out, raw[idx+2:]...)
	return out
}

// tunnel implements the TUNNEL state: two unidirectional 8 KiB-buffered byte
// pumps. The connection terminates when either direction closes or errors.
func (g *Gateway) tunnel(client, upstream net.Conn) {
	done := make(chan struct{}, 2)

	pump := func(dst, src net.Conn) {
		buf := make([]byte, tunnelBufferSize)
		io.CopyBuffer(dst, src, buf)
		done <- struct{}{}
	}

	go pump(upstream, client)
	go pump(client, upstream)

	<-done
}

func (g *Gateway) recordError(action string, cause metadata.ErrorCause, err error) {
	g.metadataSink.RecordError(time.Now(), "gateway", action, cause, err.Error(), nil)
}
