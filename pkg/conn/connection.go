// Package conn implements the RTS2 Connection state machine: one TCP
// endpoint with a receive buffer, write buffer, lifecycle state, identity
// metadata, and an in-flight command slot with a FIFO of queued commands.
// See SPEC_FULL.md §3 and §4.2.
package conn

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rts2go/rts2drv/pkg/rlog"
	"github.com/rts2go/rts2drv/pkg/rtserr"
	"github.com/rts2go/rts2drv/pkg/wire"
)

// Kind identifies what is on the other end of a Connection.
type Kind int

const (
	KindClient Kind = iota
	KindCentrald
	KindPeerDevice
)

func (k Kind) String() string {
	switch k {
	case KindClient:
		return "client"
	case KindCentrald:
		return "centrald"
	case KindPeerDevice:
		return "peer-device"
	default:
		return "unknown"
	}
}

// State is a Connection FSM state, per SPEC_FULL.md §4.2.
type State int

const (
	Connecting State = iota
	Connected
	AuthPending
	AuthOK
	AuthFailed
	Broken
	Delete
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	case AuthPending:
		return "AUTH_PENDING"
	case AuthOK:
		return "AUTH_OK"
	case AuthFailed:
		return "AUTH_FAILED"
	case Broken:
		return "BROKEN"
	case Delete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// CommandCallback is invoked exactly once per in-flight command: either
// when the matching response arrives, or when its deadline passes
// (success=false, code=-1, message="timed out").
type CommandCallback func(success bool, code int, message string)

// LineHandler is invoked for every non-response inbound line, for
// dispatch by the owning NetworkManager. It must not block on socket I/O.
type LineHandler func(c *Connection, line string)

// ClosedHandler is invoked once when a Connection transitions to BROKEN.
type ClosedHandler func(c *Connection)

type inFlightCommand struct {
	text     string
	deadline time.Time
	callback CommandCallback
}

type queuedCommand struct {
	text     string
	callback CommandCallback
	timeout  time.Duration
}

// Connection is one TCP endpoint in the RTS2 session mesh.
type Connection struct {
	ID         string
	Kind       Kind
	RemoteAddr string

	socket net.Conn
	writeMu sync.Mutex

	stateMu      sync.RWMutex
	state        State
	remoteName   string
	centraldID   int
	centraldNum  int
	authKey      int
	peerState    uint32
	peerBOP      uint32
	progressSet  bool
	progressFrom float64
	progressTo   float64
	lastActivity time.Time
	connectedAt  time.Time
	lastAttempt  time.Time

	idleTimeout time.Duration

	cmdMu   sync.Mutex
	inFlt   *inFlightCommand
	fifo    []queuedCommand

	splitter wire.Splitter

	onLine   LineHandler
	onClosed ClosedHandler

	closeOnce sync.Once
}

// Config bundles the construction-time parameters for a Connection.
type Config struct {
	ID          string
	Kind        Kind
	Socket      net.Conn
	IdleTimeout time.Duration
	OnLine      LineHandler
	OnClosed    ClosedHandler
}

// New wraps socket in a Connection in the Connecting state.
func New(cfg Config) *Connection {
	now := time.Now()
	addr := ""
	if cfg.Socket != nil {
		addr = cfg.Socket.RemoteAddr().String()
	}
	return &Connection{
		ID:           cfg.ID,
		Kind:         cfg.Kind,
		RemoteAddr:   addr,
		socket:       cfg.Socket,
		state:        Connecting,
		idleTimeout:  cfg.IdleTimeout,
		lastActivity: now,
		connectedAt:  now,
		onLine:       cfg.OnLine,
		onClosed:     cfg.OnClosed,
	}
}

// State returns the current FSM state.
func (c *Connection) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// SetState transitions the connection to a new state.
func (c *Connection) SetState(s State) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

// RemoteName returns the remote device name announced by centrald, if any.
func (c *Connection) RemoteName() string {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.remoteName
}

// SetRemoteName records the remote device name.
func (c *Connection) SetRemoteName(name string) {
	c.stateMu.Lock()
	c.remoteName = name
	c.stateMu.Unlock()
}

// CentraldIdentity returns the centrald-issued (id, partition number, auth key).
func (c *Connection) CentraldIdentity() (id, num, key int) {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.centraldID, c.centraldNum, c.authKey
}

// SetCentraldIdentity records the centrald-issued identity triple.
func (c *Connection) SetCentraldIdentity(id, num, key int) {
	c.stateMu.Lock()
	c.centraldID, c.centraldNum, c.authKey = id, num, key
	c.stateMu.Unlock()
}

// PeerState returns the last-seen peer device state and BOP words.
func (c *Connection) PeerState() (state, bop uint32) {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.peerState, c.peerBOP
}

// SetPeerState records a peer's state word (and optionally BOP word).
func (c *Connection) SetPeerState(state uint32, bop *uint32) {
	c.stateMu.Lock()
	c.peerState = state
	if bop != nil {
		c.peerBOP = *bop
	}
	c.stateMu.Unlock()
}

// SetProgress records a progress window.
func (c *Connection) SetProgress(start, end float64) {
	c.stateMu.Lock()
	c.progressSet = true
	c.progressFrom, c.progressTo = start, end
	c.stateMu.Unlock()
}

// LastActivity returns the timestamp of the most recent send or receive.
func (c *Connection) LastActivity() time.Time {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.lastActivity
}

func (c *Connection) touch() {
	c.stateMu.Lock()
	c.lastActivity = time.Now()
	c.stateMu.Unlock()
}

// ConnectedAt returns the time the Connection was constructed.
func (c *Connection) ConnectedAt() time.Time {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.connectedAt
}

// NoteAttempt records that an outbound connection attempt was just made,
// used by the interest manager's 30s retry throttle.
func (c *Connection) NoteAttempt() {
	c.stateMu.Lock()
	c.lastAttempt = time.Now()
	c.stateMu.Unlock()
}

// LastAttempt returns the last outbound-connect attempt timestamp.
func (c *Connection) LastAttempt() time.Time {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.lastAttempt
}

// Send enqueues bytes for transmit, returning success if written to the
// socket. Logged at debug.
func (c *Connection) Send(data []byte) error {
	if c.socket == nil {
		return rtserr.ErrConnectionClosed
	}
	c.writeMu.Lock()
	_, err := c.socket.Write(data)
	c.writeMu.Unlock()
	c.touch()
	rlog.WithConnection(c.ID).Debugf("send: %q", data)
	if err != nil {
		return fmt.Errorf("writing to connection %s: %w", c.ID, err)
	}
	return nil
}

// SendMessage appends a trailing newline if absent, then sends.
func (c *Connection) SendMessage(text string) error {
	if len(text) == 0 || text[len(text)-1] != '\n' {
		text += "\n"
	}
	return c.Send([]byte(text))
}

// SendCommand issues a command with at-most-one-in-flight semantics. If
// no command is currently in flight, it is transmitted immediately and
// its deadline armed. Otherwise, if queueIfBusy is set, it is appended to
// the FIFO; if not, ErrAlreadyInFlight is returned.
func (c *Connection) SendCommand(text string, cb CommandCallback, queueIfBusy bool, timeout time.Duration) error {
	c.cmdMu.Lock()
	if c.inFlt != nil {
		if !queueIfBusy {
			c.cmdMu.Unlock()
			return rtserr.ErrAlreadyInFlight
		}
		c.fifo = append(c.fifo, queuedCommand{text: text, callback: cb, timeout: timeout})
		c.cmdMu.Unlock()
		return nil
	}
	c.inFlt = &inFlightCommand{text: text, deadline: time.Now().Add(timeout), callback: cb}
	c.cmdMu.Unlock()

	return c.SendMessage(text)
}

// OnReceive feeds newly-read bytes into the line splitter. Response lines
// (+/-) complete the in-flight command; all other lines are handed to
// the registered LineHandler.
func (c *Connection) OnReceive(data []byte) {
	c.touch()
	for _, line := range c.splitter.Feed(data) {
		if wire.IsResponseLine(line) {
			success, code, msg := wire.ParseResponse(line)
			c.completeInFlight(success, code, msg)
			continue
		}
		if c.onLine != nil {
			c.onLine(c, line)
		}
	}
}

func (c *Connection) completeInFlight(success bool, code int, message string) {
	c.cmdMu.Lock()
	cur := c.inFlt
	c.inFlt = nil

	var next *queuedCommand
	if len(c.fifo) > 0 {
		q := c.fifo[0]
		c.fifo = c.fifo[1:]
		next = &q
	}
	c.cmdMu.Unlock()

	if cur != nil && cur.callback != nil {
		cur.callback(success, code, message)
	}

	if next != nil {
		if err := c.SendCommand(next.text, next.callback, false, next.timeout); err != nil {
			if next.callback != nil {
				next.callback(false, -1, err.Error())
			}
		}
	}
}

// CheckDeadline fires the in-flight callback with a timeout failure if
// its deadline has passed, clearing the slot and draining the FIFO. This
// is the per-connection command-queue helper of SPEC_FULL.md §5,
// modeled as a cooperative check rather than a dedicated OS thread.
func (c *Connection) CheckDeadline() {
	c.cmdMu.Lock()
	if c.inFlt == nil || time.Now().Before(c.inFlt.deadline) {
		c.cmdMu.Unlock()
		return
	}
	c.cmdMu.Unlock()
	c.completeInFlight(false, -1, "timed out")
}

// HasInFlight reports whether a command is currently awaiting a response.
func (c *Connection) HasInFlight() bool {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	return c.inFlt != nil
}

// CheckKeepalive sends "T ready" if the connection has been idle for
// more than 1/4 of its configured idle timeout.
func (c *Connection) CheckKeepalive() {
	if c.idleTimeout <= 0 {
		return
	}
	if time.Since(c.LastActivity()) > c.idleTimeout/4 {
		_ = c.SendMessage("T ready")
	}
}

// IsTimedOut reports whether this connection should be torn down, per
// SPEC_FULL.md §4.2: centrald not yet AUTH_OK after 60s, CONNECTING
// longer than 10s, or idle longer than 2x the configured timeout.
func (c *Connection) IsTimedOut() bool {
	st := c.State()
	age := time.Since(c.ConnectedAt())

	if c.Kind == KindCentrald && st != AuthOK && age > 60*time.Second {
		return true
	}
	if st == Connecting && age > 10*time.Second {
		return true
	}
	if c.idleTimeout > 0 && time.Since(c.LastActivity()) > 2*c.idleTimeout {
		return true
	}
	return false
}

// Close closes the socket, transitions to BROKEN, flushes any in-flight
// and queued commands with a failure callback, and runs the
// closed-callback exactly once.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.SetState(Broken)
		if c.socket != nil {
			_ = c.socket.Close()
		}

		c.cmdMu.Lock()
		cur := c.inFlt
		c.inFlt = nil
		pending := c.fifo
		c.fifo = nil
		c.cmdMu.Unlock()

		if cur != nil && cur.callback != nil {
			cur.callback(false, -1, "connection closed")
		}
		for _, q := range pending {
			if q.callback != nil {
				q.callback(false, -1, "Command timed out in queue")
			}
		}

		if c.onClosed != nil {
			c.onClosed(c)
		}
	})
}

// Socket returns the underlying net.Conn (nil for sockets not yet dialed).
func (c *Connection) Socket() net.Conn { return c.socket }

// AttachSocket assigns the underlying socket once an async connect
// resolves, used by outbound connections constructed before dialing.
func (c *Connection) AttachSocket(s net.Conn) {
	c.writeMu.Lock()
	c.socket = s
	c.writeMu.Unlock()
	if s != nil {
		c.RemoteAddr = s.RemoteAddr().String()
	}
}

// ReadLoop blocks reading from the socket and feeding OnReceive until the
// socket errors or returns EOF, then closes the connection. Run this in
// its own goroutine per connection; it is the only reader of the socket.
func (c *Connection) ReadLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := c.socket.Read(buf)
		if n > 0 {
			c.OnReceive(buf[:n])
		}
		if err != nil {
			c.Close()
			return
		}
	}
}
