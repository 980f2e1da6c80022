// Package testutil supplies shared test harnesses for packages that need
// a live socket pair without a real listener, adapted from the teacher's
// internal/testutil package (there backed by a Redis test fixture; here
// backed by net.Pipe loopback connections for Connection/NetworkManager
// tests).
package testutil

import (
	"net"
	"testing"
	"time"

	"github.com/rts2go/rts2drv/pkg/conn"
)

// PipeConn returns a Connection wrapping one end of an in-memory
// net.Pipe, along with the raw peer end so a test can read what the
// Connection writes or write lines for it to read. The peer end is
// closed automatically via t.Cleanup.
func PipeConn(t *testing.T, id string, kind conn.Kind) (*conn.Connection, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close() })
	c := conn.New(conn.Config{ID: id, Kind: kind, Socket: server, IdleTimeout: time.Hour})
	return c, client
}

// DrainPeer continuously reads and discards from peer in the background,
// so a test's writes through its Connection never block on a full pipe.
func DrainPeer(t *testing.T, peer net.Conn) {
	t.Helper()
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := peer.Read(buf); err != nil {
				return
			}
		}
	}()
}
