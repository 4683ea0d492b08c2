// Package gateway implements the local proxy gateway: a listener that
// accepts plaintext HTTP and CONNECT requests from the crawl engine's
// browser client and tunnels them through a proxypool.Pool-selected
// upstream proxy, so that a headless browser pointed at a single
// --proxy-server address transparently rotates across the configured
// proxy pool.
package gateway

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/ghostcrawl/ghostcrawl/internal/metadata"
	"github.com/ghostcrawl/ghostcrawl/internal/proxypool"
	"github.com/ghostcrawl/ghostcrawl/internal/workpool"
)

// Gateway is the acceptor task described in spec.md §4.F: one goroutine
// loops on Accept and spawns a per-connection goroutine on a shared,
// semaphore-bounded executor pool sized by threads.
type Gateway struct {
	pool         *proxypool.Pool
	metadataSink metadata.MetadataSink

	listener net.Listener
	executor *workpool.Pool

	closeOnce sync.Once
}

// New constructs a Gateway that selects upstreams from pool and records
// failures through metadataSink. threads bounds the number of connections
// handled concurrently; values <1 are treated as 1.
func New(pool *proxypool.Pool, metadataSink metadata.MetadataSink, threads int) *Gateway {
	return &Gateway{
		pool:         pool,
		metadataSink: metadataSink,
		executor:     workpool.New(threads),
	}
}

// Listen binds the gateway to bindIP:bindPort. Port 0 requests an ephemeral
// port; call Port after Listen to discover what was actually bound.
func (g *Gateway) Listen(bindIP string, bindPort int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(bindIP, strconv.Itoa(bindPort)))
	if err != nil {
		return fmt.Errorf("gateway: listen on %s:%d: %w", bindIP, bindPort, err)
	}
	g.listener = ln
	return nil
}

// Port returns the bound TCP port. Valid only after a successful Listen.
func (g *Gateway) Port() int {
	return g.listener.Addr().(*net.TCPAddr).Port
}

// Addr returns the bound address string "host:port". Valid only after a
// successful Listen.
func (g *Gateway) Addr() string {
	return g.listener.Addr().String()
}

// Serve runs the accept loop until ctx is cancelled or the listener is
// closed. It blocks until every in-flight connection handler has returned.
func (g *Gateway) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		g.Close()
	}()

	for {
		conn, err := g.listener.Accept()
		if err != nil {
			g.executor.Wait()
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("gateway: accept: %w", err)
			}
		}

		g.executor.Go(func() {
			g.handleConnection(ctx, conn)
		})
	}
}

// Close stops accepting new connections. Already-accepted connections run
// to completion.
func (g *Gateway) Close() error {
	var err error
	g.closeOnce.Do(func() {
		err = g.listener.Close()
	})
	return err
}
