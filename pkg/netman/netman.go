// Package netman implements the NetworkManager: the listener, the
// outbound centrald session, the dynamic mesh of peer-device
// connections, and the inbound command dispatch loop. It implements
// both command.Host (the seam the built-in handler groups dispatch
// through) and device.NetworkSink (the seam the device core publishes
// state/value changes through). See SPEC_FULL.md §4.
//
// The reference implementation runs a single select()-based event loop
// on one thread and serializes inbound command handling per connection
// with an explicit command_in_progress flag plus a FIFO. That
// serialization falls out for free here: each Connection already owns
// a dedicated ReadLoop goroutine (pkg/conn), so a peer's own lines are
// processed one at a time in arrival order with no extra queue needed.
// What the Go port keeps from the original is the *decision* each line
// takes: immediate commands (no response expected) dispatch inline;
// everything else dispatches inline too, since dispatch is synchronous
// here — there is no case where a handler suspends mid-command the way
// a future select() iteration might have needed to.
package netman

import (
	"fmt"
	"math"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rts2go/rts2drv/pkg/command"
	"github.com/rts2go/rts2drv/pkg/conn"
	"github.com/rts2go/rts2drv/pkg/device"
	"github.com/rts2go/rts2drv/pkg/entity"
	"github.com/rts2go/rts2drv/pkg/rlog"
	"github.com/rts2go/rts2drv/pkg/value"
)

// DefaultCentraldPort is centrald's well-known listening port.
const DefaultCentraldPort = 617

// DefaultCommandTimeout bounds how long an outbound command waits for
// its response before the connection's deadline sweep fails it.
const DefaultCommandTimeout = 60 * time.Second

// MessageSink receives parsed "M" protocol lines for process-wide
// logging/archival, decoupled from NetworkManager so it can be swapped
// for a file-backed sink in production and a recording fake in tests.
type MessageSink interface {
	Append(sec, usec int, origin string, msgType int, text string)
}

// StateInterestFunc is invoked with a peer device's latest state/BOP
// words whenever either changes.
type StateInterestFunc func(deviceName string, state, bop uint32, message string)

// ValueInterestFunc is invoked with a peer device's raw value rendering
// whenever that value changes.
type ValueInterestFunc func(deviceName, valueName, data string)

// NetworkManager owns every live connection for one running device
// process: the inbound listener, the outbound centrald session, and any
// outbound peer-device sessions opened to satisfy registered interests.
type NetworkManager struct {
	deviceName string
	deviceType int
	port       int

	manager  *conn.Manager
	entities *entity.Registry
	registry *command.Registry
	device   *device.Device

	listener net.Listener

	mu               sync.Mutex
	running          bool
	lastStatusMsg    string
	progressStart    float64
	progressEnd      float64
	pendingInterests map[string]bool
	lastAttempt      map[string]time.Time
	stateInterests   map[string]StateInterestFunc
	valueInterests   map[string]ValueInterestFunc

	msgSink              MessageSink
	onCentraldConnected  func()
	onClientAuthorized   func(c *conn.Connection)

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New returns a NetworkManager for deviceName/deviceType, listening on
// port (0 picks a kernel-assigned port once Start runs).
func New(deviceName string, deviceType int, port int, d *device.Device) *NetworkManager {
	nm := &NetworkManager{
		deviceName:       deviceName,
		deviceType:       deviceType,
		port:             port,
		manager:          conn.NewManager(),
		entities:         entity.NewRegistry(),
		registry:         command.NewRegistry(),
		device:           d,
		progressStart:    math.NaN(),
		progressEnd:      math.NaN(),
		pendingInterests: make(map[string]bool),
		lastAttempt:      make(map[string]time.Time),
		stateInterests:   make(map[string]StateInterestFunc),
		valueInterests:   make(map[string]ValueInterestFunc),
		stopCh:           make(chan struct{}),
	}
	nm.registry.RegisterHandler(command.NewProtocolCommands(nm))
	nm.registry.RegisterHandler(command.NewAuthCommands(nm))
	if d != nil {
		d.SetNetwork(nm)
		nm.registry.RegisterHandler(device.NewCommands(d, nm))
	}
	commands := nm.registry.GetAllCommands()
	rlog.WithDevice(deviceName).Debugf("registered %d commands", len(commands))
	return nm
}

// SetMessageSink installs the process-wide "M" line sink.
func (nm *NetworkManager) SetMessageSink(sink MessageSink) { nm.msgSink = sink }

// SetOnCentraldConnected installs the callback fired once the outbound
// centrald connection reaches AUTH_OK.
func (nm *NetworkManager) SetOnCentraldConnected(fn func()) { nm.onCentraldConnected = fn }

// SetOnClientAuthorized installs the callback fired once an inbound
// client connection is authorized.
func (nm *NetworkManager) SetOnClientAuthorized(fn func(c *conn.Connection)) {
	nm.onClientAuthorized = fn
}

// Port returns the listener's bound port (meaningful only after Start).
func (nm *NetworkManager) Port() int {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	return nm.port
}

// Manager returns the connection table.
func (nm *NetworkManager) Manager() *conn.Manager { return nm.manager }

// Entities returns the entity registry.
func (nm *NetworkManager) Entities() *entity.Registry { return nm.entities }

// Registry returns the command registry, so callers can register
// additional driver-specific handler groups before Start.
func (nm *NetworkManager) Registry() *command.Registry { return nm.registry }

// Device returns the device core this NetworkManager serves, or nil for
// a bare protocol-only manager (e.g. a test harness).
func (nm *NetworkManager) Device() *device.Device { return nm.device }

// PendingInterests returns the names of every peer device this manager
// is trying to maintain an interest connection to.
func (nm *NetworkManager) PendingInterests() []string {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	names := make([]string, 0, len(nm.pendingInterests))
	for name := range nm.pendingInterests {
		names = append(names, name)
	}
	return names
}

// DeviceName implements command.Host.
func (nm *NetworkManager) DeviceName() string { return nm.deviceName }

// Catalogue implements command.Host.
func (nm *NetworkManager) Catalogue() *value.Catalogue {
	if nm.device == nil {
		return value.NewCatalogue()
	}
	return nm.device.Catalogue()
}

// Start binds the listener, begins the accept loop, the periodic
// connection sweep, and dials centrald at host:port.
func (nm *NetworkManager) Start(centraldHost string, centraldPort int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", nm.port))
	if err != nil {
		return fmt.Errorf("binding listener: %w", err)
	}
	nm.listener = ln
	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		nm.mu.Lock()
		nm.port = tcpAddr.Port
		nm.mu.Unlock()
	}

	nm.mu.Lock()
	nm.running = true
	nm.mu.Unlock()

	nm.wg.Add(2)
	go nm.acceptLoop()
	go nm.sweepLoop()

	nm.ConnectToCentrald(centraldHost, centraldPort)
	return nil
}

// Stop closes the listener and every connection, and waits (bounded)
// for the background loops to exit.
func (nm *NetworkManager) Stop() {
	nm.mu.Lock()
	if !nm.running {
		nm.mu.Unlock()
		return
	}
	nm.running = false
	nm.mu.Unlock()

	close(nm.stopCh)
	if nm.listener != nil {
		_ = nm.listener.Close()
	}
	nm.manager.CloseAll()

	done := make(chan struct{})
	go func() { nm.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}
}

func (nm *NetworkManager) acceptLoop() {
	defer nm.wg.Done()
	for {
		sock, err := nm.listener.Accept()
		if err != nil {
			return
		}
		c := conn.New(conn.Config{
			ID:          newConnID(),
			Kind:        conn.KindClient,
			Socket:      sock,
			IdleTimeout: 300 * time.Second,
			OnLine:      nm.handleLine,
			OnClosed:    nm.handleClosed,
		})
		c.SetState(conn.Connected)
		nm.manager.Add(c)
		rlog.WithConnection(c.ID).Debugf("new connection from %s", c.RemoteAddr)
		nm.sendMetaInfo(c)
		go c.ReadLoop()
	}
}

func (nm *NetworkManager) sweepLoop() {
	defer nm.wg.Done()
	cleanup := time.NewTicker(60 * time.Second)
	keepalive := time.NewTicker(15 * time.Second)
	deadlines := time.NewTicker(1 * time.Second)
	interest := time.NewTicker(1 * time.Second)
	defer cleanup.Stop()
	defer keepalive.Stop()
	defer deadlines.Stop()
	defer interest.Stop()

	for {
		select {
		case <-nm.stopCh:
			return
		case <-cleanup.C:
			nm.manager.CleanStale()
		case <-keepalive.C:
			nm.manager.CheckAllKeepalives()
		case <-deadlines.C:
			nm.manager.CheckAllDeadlines()
		case <-interest.C:
			nm.runInterestTick()
		}
	}
}

func (nm *NetworkManager) handleClosed(c *conn.Connection) {
	nm.manager.Remove(c.ID)
}

// handleLine is the inbound dispatch entry point, mirroring
// _handle_command: split token/params, special-case this_device, dispatch
// through the registry, and reply if the token expects a response.
func (nm *NetworkManager) handleLine(c *conn.Connection, line string) {
	token, params := splitToken(line)
	if token == "" {
		return
	}
	rlog.WithConnection(c.ID).Debugf("icmd %q params %q", token, params)

	if token == "this_device" {
		nm.handleThisDevice(c, params)
	}

	if !nm.registry.CanHandle(token) {
		rlog.WithConnection(c.ID).Warnf("unknown command: %q", line)
		nm.SendError(c, "Unknown command: "+token)
		return
	}

	needsResponse := nm.registry.NeedsResponse(token)
	_, success, text := nm.registry.Dispatch(token, c, params)
	if !needsResponse {
		return
	}
	if success {
		nm.SendOK(c)
	} else {
		nm.SendError(c, text)
	}
}

// handleThisDevice marks the connection as a peer-device connection and,
// if we already have a pending interest in it, kicks off an "info"
// request once it is authenticated.
func (nm *NetworkManager) handleThisDevice(c *conn.Connection, params string) {
	fields := strings.Fields(params)
	if len(fields) < 2 {
		return
	}
	name := fields[0]
	c.SetRemoteName(name)

	nm.mu.Lock()
	interested := nm.pendingInterests[name]
	nm.mu.Unlock()
	if interested && c.State() == conn.AuthOK {
		_ = c.SendCommand("info", nil, true, DefaultCommandTimeout)
	}
}

func splitToken(line string) (token, params string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", ""
	}
	idx := strings.IndexAny(line, " \t")
	if idx < 0 {
		return line, ""
	}
	return line[:idx], strings.TrimLeft(line[idx+1:], " \t")
}

func newConnID() string {
	return fmt.Sprintf("c-%d-%d", time.Now().UnixNano(), connSeq.next())
}

// connSeq disambiguates connection ids created within the same
// nanosecond (possible under load on a coarse system clock).
var connSeq sequence

type sequence struct {
	mu sync.Mutex
	n  uint64
}

func (s *sequence) next() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return s.n
}
