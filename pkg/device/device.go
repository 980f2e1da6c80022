// Package device implements the Device core: the 32-bit state/BOP words,
// the value catalogue a running daemon owns, and the queued-value
// mechanism that defers client writes while the device is busy. See
// SPEC_FULL.md §4.7.
package device

import (
	"sync"
	"time"

	"github.com/rts2go/rts2drv/pkg/conn"
	"github.com/rts2go/rts2drv/pkg/rlog"
	"github.com/rts2go/rts2drv/pkg/value"
)

// Device state bits (SPEC_FULL.md §6).
const (
	StateIdle     uint32 = 0x000
	StateRunning  uint32 = 0x001
	StateExposing uint32 = 0x002
)

// Error bits.
const (
	ErrorKill uint32 = 0x00010000
	ErrorHW   uint32 = 0x00020000
	ErrorMask uint32 = 0x000f0000
	NotReady  uint32 = 0x00040000
)

// Block-operation (BOP) coordination bits.
const (
	BOPExposure   uint32 = 0x01000000
	BOPReadout    uint32 = 0x02000000
	BOPTelMove    uint32 = 0x04000000
	BOPWillExpose uint32 = 0x08000000
	BOPTrigExpose uint32 = 0x10000000
)

// Weather and stop-everything bits.
const (
	GoodWeather     uint32 = 0x00000000
	BadWeather      uint32 = 0x80000000
	WeatherMask     uint32 = 0x80000000
	StopEverything  uint32 = 0x40000000
	CanMove         uint32 = 0x00000000
	StopMask        uint32 = 0x40000000
	DeviceBlockOpen uint32 = 0x00002000
	DeviceBlockClose uint32 = 0x00004000
	WRRain          uint32 = 0x00100000
	WRWind          uint32 = 0x00200000
	WRHumidity      uint32 = 0x00400000
	WRCloud         uint32 = 0x00800000
)

// NetworkSink is the seam between Device and the network manager that
// actually owns connections and the wire protocol. NetworkManager
// implements it.
type NetworkSink interface {
	SetDeviceState(state uint32, description string)
	SetBOPState(state, bop uint32)
	BroadcastValue(v *value.Value)
	SendValueTo(v *value.Value, c *conn.Connection)
	SendOK(c *conn.Connection)
	SendError(c *conn.Connection, message string)
	SendStatus(c *conn.Connection)
}

type queuedChange struct {
	val      *value.Value
	newValue interface{}
}

// Device owns a catalogue of values and the device state/BOP words. It is
// the shared base every concrete driver builds on.
type Device struct {
	Name     string
	TypeCode int

	catalogue *value.Catalogue
	network   NetworkSink

	mu       sync.Mutex
	state    uint32
	bopState uint32
	queued   map[string]queuedChange

	startTime time.Time
	infotime  *value.Value
	uptime    *value.Value

	shouldQueueValue func(v *value.Value) bool
	onStateChanged   func(oldState, newState uint32, message string)
	infoCallback     func()
	onClientChange   func(v *value.Value, oldRendered, newRendered string)
}

// New returns a Device with its mandatory infotime/uptime values
// registered, in STATE_IDLE.
func New(name string, typeCode int, sink NetworkSink) *Device {
	d := &Device{
		Name:      name,
		TypeCode:  typeCode,
		catalogue: value.NewCatalogue(),
		network:   sink,
		state:     StateIdle,
		queued:    make(map[string]queuedChange),
		startTime: time.Now(),
		shouldQueueValue: func(*value.Value) bool { return false },
	}
	d.infotime = value.NewTime("infotime", "time of last update", 0)
	d.uptime = value.NewTime("uptime", "daemon uptime", 0)
	_ = d.catalogue.Register(d.infotime)
	_ = d.catalogue.Register(d.uptime)
	return d
}

// Catalogue returns the device's value catalogue.
func (d *Device) Catalogue() *value.Catalogue { return d.catalogue }

// SetNetwork rebinds the sink a Device publishes state/BOP/value changes
// through. Constructing the network manager and the device it serves is
// circular (the manager wants to register the device's built-in command
// handlers, the device wants a sink to publish through), so callers may
// construct a Device with a placeholder sink and rebind it once the real
// NetworkManager exists.
func (d *Device) SetNetwork(sink NetworkSink) {
	d.mu.Lock()
	d.network = sink
	d.mu.Unlock()
}

// SetShouldQueueValue installs the hook that decides whether an inbound
// client write should be queued instead of applied immediately. Drivers
// override this to queue writes while busy (e.g. mid-exposure).
func (d *Device) SetShouldQueueValue(fn func(v *value.Value) bool) {
	d.mu.Lock()
	d.shouldQueueValue = fn
	d.mu.Unlock()
}

// SetOnStateChanged installs a callback invoked after every SetState call.
func (d *Device) SetOnStateChanged(fn func(oldState, newState uint32, message string)) {
	d.mu.Lock()
	d.onStateChanged = fn
	d.mu.Unlock()
}

// SetInfoCallback installs the hook invoked to refresh values before an
// "info" reply is sent.
func (d *Device) SetInfoCallback(fn func()) {
	d.mu.Lock()
	d.infoCallback = fn
	d.mu.Unlock()
}

// SetOnClientChange installs the hook invoked whenever a client-originated
// write actually changes a value, mirroring on_value_changed_from_client.
func (d *Device) SetOnClientChange(fn func(v *value.Value, oldRendered, newRendered string)) {
	d.mu.Lock()
	d.onClientChange = fn
	d.mu.Unlock()
}

// State returns the current 32-bit device state word.
func (d *Device) State() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// BOPState returns the current 32-bit BOP coordination word.
func (d *Device) BOPState() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bopState
}

// SetState updates the device state word and, optionally, the BOP word in
// the same step. Queued values are drained both before and after the
// update so a state transition can both release and re-queue writes.
func (d *Device) SetState(newState uint32, description string, newBOP *uint32) {
	d.mu.Lock()
	oldState := d.state
	d.state = newState
	d.mu.Unlock()

	rlog.WithDevice(d.Name).Debugf("set_state 0x%x %q", newState, description)
	d.CheckQueuedValues()

	if newBOP != nil {
		d.SetBOPState(*newBOP)
	} else {
		d.network.SetDeviceState(newState, description)
	}

	d.CheckQueuedValues()

	d.mu.Lock()
	cb := d.onStateChanged
	d.mu.Unlock()
	if cb != nil {
		cb(oldState, newState, description)
	}
}

// SetReady clears the NOT_READY bit if set.
func (d *Device) SetReady(message string) {
	st := d.State()
	if st&NotReady != 0 {
		d.SetState(st&^NotReady, message, nil)
	}
}

// SetBOPState updates the BOP coordination word and propagates it on the
// wire. Unlike the reference implementation, it does not early-return
// when the new word equals the old one: queued values must still be
// re-evaluated every time SetBOPState is called, since a caller may
// invoke it specifically to re-check them (SPEC_FULL.md §9).
func (d *Device) SetBOPState(newBOPState uint32) {
	d.mu.Lock()
	changed := d.bopState != newBOPState
	d.bopState = newBOPState
	state := d.state
	d.mu.Unlock()

	if changed {
		d.network.SetBOPState(state, newBOPState)
	}
	d.CheckQueuedValues()
}

// RegisterValue adds v to the device's catalogue.
func (d *Device) RegisterValue(v *value.Value) error {
	return d.catalogue.Register(v)
}

// DistributeValue broadcasts v to interested connections if it has
// pending changes, then clears its need-send flag.
func (d *Device) DistributeValue(v *value.Value) {
	if v.NeedSend() {
		d.network.BroadcastValue(v)
		v.ResetNeedSend()
	}
}

// ShouldQueue reports whether a client write to v should be deferred
// rather than applied immediately, per the installed busy hook.
func (d *Device) ShouldQueue(v *value.Value) bool {
	d.mu.Lock()
	hook := d.shouldQueueValue
	d.mu.Unlock()
	return hook(v)
}

// QueueValueChange defers applying newValue to v until CheckQueuedValues
// determines the device is no longer busy for it.
func (d *Device) QueueValueChange(v *value.Value, newValue interface{}) {
	d.mu.Lock()
	d.queued[v.Name] = queuedChange{val: v, newValue: newValue}
	d.mu.Unlock()
}

// CheckQueuedValues applies every queued write whose value no longer
// needs to be queued, in no particular order, and distributes it.
func (d *Device) CheckQueuedValues() {
	d.mu.Lock()
	hook := d.shouldQueueValue
	pending := make(map[string]queuedChange, len(d.queued))
	for k, v := range d.queued {
		pending[k] = v
	}
	d.mu.Unlock()

	for key, qc := range pending {
		if hook(qc.val) {
			continue
		}
		old := qc.val.Render()
		if err := qc.val.SetLocal(qc.newValue); err != nil {
			rlog.WithDevice(d.Name).Errorf("error applying queued value %s: %v", key, err)
			continue
		}
		d.mu.Lock()
		cb := d.onClientChange
		d.mu.Unlock()
		if cb != nil {
			cb(qc.val, old, qc.val.Render())
		}
		d.DistributeValue(qc.val)

		d.mu.Lock()
		delete(d.queued, key)
		d.mu.Unlock()
	}
}

// RefreshInfoTime stamps infotime to the given Unix timestamp, as the
// built-in "info" command does before replying.
func (d *Device) RefreshInfoTime(now float64) {
	_ = d.infotime.SetLocal(now)
}

// Uptime returns seconds elapsed since the device was constructed.
func (d *Device) Uptime() float64 {
	return time.Since(d.startTime).Seconds()
}

// RunInfoCallback invokes the installed info hook, if any.
func (d *Device) RunInfoCallback() {
	d.mu.Lock()
	cb := d.infoCallback
	d.mu.Unlock()
	if cb != nil {
		cb()
	}
}
