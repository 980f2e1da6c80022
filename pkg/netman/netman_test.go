package netman

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/rts2go/rts2drv/internal/testutil"
	"github.com/rts2go/rts2drv/pkg/conn"
	"github.com/rts2go/rts2drv/pkg/device"
	"github.com/rts2go/rts2drv/pkg/entity"
	"github.com/rts2go/rts2drv/pkg/value"
)

// drainedConn wraps testutil.PipeConn for this package's test style.
func drainedConn(t *testing.T, id string, kind conn.Kind) (*conn.Connection, net.Conn) {
	return testutil.PipeConn(t, id, kind)
}

func newTestManager(t *testing.T) *NetworkManager {
	t.Helper()
	d := device.New("ccd1", 3, &noopSink{})
	return New("ccd1", 3, 0, d)
}

// noopSink is a throwaway device.NetworkSink that swallows every call;
// it is replaced by the NetworkManager's own sink once wired.
type noopSink struct{}

func (noopSink) SetDeviceState(uint32, string)                       {}
func (noopSink) SetBOPState(uint32, uint32)                          {}
func (noopSink) BroadcastValue(v *value.Value)                       {}
func (noopSink) SendValueTo(v *value.Value, c *conn.Connection)      {}
func (noopSink) SendOK(c *conn.Connection)                           {}
func (noopSink) SendError(c *conn.Connection, message string)        {}
func (noopSink) SendStatus(c *conn.Connection)                       {}

func TestHandleLineDispatchesKnownToken(t *testing.T) {
	nm := newTestManager(t)
	c, peer := drainedConn(t, "c1", conn.KindPeerDevice)
	c.SetRemoteName("ccd2")
	nm.manager.Add(c)

	done := make(chan string, 1)
	go func() {
		buf := make([]byte, 256)
		n, _ := peer.Read(buf)
		done <- string(buf[:n])
	}()

	nm.handleLine(c, `S 5 "moving"`)

	state, _ := c.PeerState()
	if state != 5 {
		t.Errorf("peer state = %d, want 5", state)
	}
}

func TestHandleLineUnknownCommandRepliesError(t *testing.T) {
	nm := newTestManager(t)
	c, peer := drainedConn(t, "c1", conn.KindClient)
	nm.manager.Add(c)

	out := make(chan string, 1)
	go func() {
		buf := make([]byte, 256)
		n, _ := peer.Read(buf)
		out <- string(buf[:n])
	}()

	nm.handleLine(c, "bogus_command foo bar")

	select {
	case got := <-out:
		if got != "-1 Unknown command: bogus_command\n" {
			t.Errorf("reply = %q, want %q", got, "-1 Unknown command: bogus_command\n")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reply")
	}
}

func TestHandleLineXCommandRepliesError(t *testing.T) {
	nm := newTestManager(t)
	c, peer := drainedConn(t, "c1", conn.KindClient)
	c.SetState(conn.AuthOK)
	nm.manager.Add(c)

	out := make(chan string, 1)
	go func() {
		buf := make([]byte, 256)
		n, _ := peer.Read(buf)
		out <- string(buf[:n])
	}()

	nm.handleLine(c, `X focstep = 10`)

	// focstep doesn't exist, so the value write is rejected and an
	// error response (not OK) should have been sent.
	select {
	case got := <-out:
		if !strings.HasPrefix(got, "-1 ") {
			t.Errorf("reply = %q, want an error reply", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reply")
	}
}

func TestSplitToken(t *testing.T) {
	cases := []struct {
		in         string
		tok, rest string
	}{
		{"", "", ""},
		{"info", "info", ""},
		{"S 5 \"moving\"", "S", "5 \"moving\""},
		{"  X foo = 1  ", "X", "foo = 1"},
	}
	for _, tc := range cases {
		tok, rest := splitToken(tc.in)
		if tok != tc.tok || rest != tc.rest {
			t.Errorf("splitToken(%q) = (%q,%q), want (%q,%q)", tc.in, tok, rest, tc.tok, tc.rest)
		}
	}
}

func TestFindDeviceEntity(t *testing.T) {
	nm := newTestManager(t)
	nm.entities.Put(entity.Entity{ID: 7, Name: "CCD1", Kind: entity.KindDevice, Host: "10.0.0.1", Port: 6000})

	e, ok := nm.findDeviceEntity("CCD1")
	if !ok || e.Host != "10.0.0.1" || e.Port != 6000 {
		t.Errorf("findDeviceEntity = %+v, %v", e, ok)
	}
	if _, ok := nm.findDeviceEntity("missing"); ok {
		t.Error("expected missing device to not be found")
	}
}

func TestRunInterestTickSkipsWithoutCentrald(t *testing.T) {
	nm := newTestManager(t)
	nm.pendingInterests["CCD1"] = true
	// No centrald connection registered: must return without panicking
	// or attempting a dial.
	nm.runInterestTick()
}

func TestNewRebindsDeviceNetworkSink(t *testing.T) {
	d := device.New("ccd1", 3, &noopSink{})
	nm := New("ccd1", 3, 0, d)

	c, peer := drainedConn(t, "c1", conn.KindClient)
	nm.manager.Add(c)
	go func() {
		buf := make([]byte, 256)
		peer.Read(buf)
	}()

	// If SetNetwork hadn't rebound the device's sink to nm, this would
	// silently hit noopSink and nm.lastStatusMsg would stay empty.
	d.SetState(device.StateRunning, "running", nil)
	nm.mu.Lock()
	msg := nm.lastStatusMsg
	nm.mu.Unlock()
	if msg != "running" {
		t.Errorf("lastStatusMsg = %q, want %q", msg, "running")
	}
}

func TestHasLiveConnection(t *testing.T) {
	nm := newTestManager(t)
	c, _ := drainedConn(t, "c1", conn.KindPeerDevice)
	c.SetRemoteName("CCD1")
	c.SetState(conn.AuthPending)
	nm.manager.Add(c)

	if !nm.hasLiveConnection("CCD1") {
		t.Error("expected AUTH_PENDING connection to count as live")
	}
	if nm.hasLiveConnection("CCD2") {
		t.Error("expected no connection for CCD2")
	}
}
