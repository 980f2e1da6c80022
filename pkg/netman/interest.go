package netman

import (
	"time"

	"github.com/rts2go/rts2drv/pkg/conn"
	"github.com/rts2go/rts2drv/pkg/entity"
	"github.com/rts2go/rts2drv/pkg/rlog"
)

// retryInterval bounds how often the interest tick re-attempts an
// outbound connection to the same device, per SPEC_FULL.md §4.8.
const retryInterval = 30 * time.Second

// RegisterInterestInValue implements register_interest_in_value: future
// "V" updates from deviceName.valueName invoke callback. Ensures
// deviceName is in the interest set so the periodic tick will connect
// to it, and requests an immediate refresh if a session already exists.
func (nm *NetworkManager) RegisterInterestInValue(deviceName, valueName string, callback ValueInterestFunc) {
	key := deviceName + "." + valueName
	nm.mu.Lock()
	nm.valueInterests[key] = callback
	nm.pendingInterests[deviceName] = true
	nm.mu.Unlock()
	rlog.WithDevice(nm.deviceName).Debugf("registered interest in %s", key)

	if c, ok := nm.findAuthedPeer(deviceName); ok {
		_ = c.SendCommand("info", nil, true, DefaultCommandTimeout)
	}
}

// RegisterStateInterest implements register_state_interest: future
// state/BOP changes from deviceName invoke callback.
func (nm *NetworkManager) RegisterStateInterest(deviceName string, callback StateInterestFunc) {
	nm.mu.Lock()
	nm.stateInterests[deviceName] = callback
	nm.pendingInterests[deviceName] = true
	nm.mu.Unlock()
	rlog.WithDevice(nm.deviceName).Debugf("registered state interest in %s", deviceName)

	if c, ok := nm.findAuthedPeer(deviceName); ok {
		_ = c.SendCommand("device_status", nil, true, DefaultCommandTimeout)
	}
}

func (nm *NetworkManager) findAuthedPeer(deviceName string) (*conn.Connection, bool) {
	for _, c := range nm.manager.ByRemoteName(deviceName) {
		if c.State() == conn.AuthOK {
			return c, true
		}
	}
	return nil, false
}

// runInterestTick is the interest manager's periodic body, invoked from
// sweepLoop's ticker in place of the reference's dedicated thread/sleep
// loop (SPEC_FULL.md §4.8).
func (nm *NetworkManager) runInterestTick() {
	centraldConn, ok := nm.manager.CentraldConnection()
	if !ok {
		return
	}
	_, _, authKey := centraldConn.CentraldIdentity()

	nm.mu.Lock()
	names := make([]string, 0, len(nm.pendingInterests))
	for name := range nm.pendingInterests {
		names = append(names, name)
	}
	nm.mu.Unlock()

	for _, name := range names {
		if nm.hasLiveConnection(name) {
			continue
		}
		e, found := nm.findDeviceEntity(name)
		if !found {
			continue
		}

		nm.mu.Lock()
		last := nm.lastAttempt[name]
		nm.mu.Unlock()
		if time.Since(last) < retryInterval {
			continue
		}

		if e.Host == "" || e.Port == 0 {
			rlog.WithDevice(nm.deviceName).Warnf("missing host/port for device %s", name)
			continue
		}
		if authKey == 0 {
			rlog.WithDevice(nm.deviceName).Debugf("waiting for auth key to connect to %s", name)
			continue
		}

		nm.mu.Lock()
		nm.lastAttempt[name] = time.Now()
		nm.mu.Unlock()
		rlog.WithDevice(nm.deviceName).Infof("connecting to device of interest %s at %s:%d", name, e.Host, e.Port)
		nm.connectToDevice(e.Host, e.Port, name)
	}
}

func (nm *NetworkManager) hasLiveConnection(deviceName string) bool {
	for _, c := range nm.manager.ByRemoteName(deviceName) {
		if c.State() == conn.AuthOK || c.State() == conn.AuthPending {
			return true
		}
	}
	return false
}

func (nm *NetworkManager) findDeviceEntity(deviceName string) (entity.Entity, bool) {
	for _, e := range nm.entities.All() {
		if e.Kind == entity.KindDevice && e.Name == deviceName {
			return e, true
		}
	}
	return entity.Entity{}, false
}

// NotifyStateChanged implements command.Host: a peer's "S" line.
func (nm *NetworkManager) NotifyStateChanged(connName string, oldState, newState uint32, message string) {
	nm.mu.Lock()
	cb := nm.stateInterests[connName]
	nm.mu.Unlock()
	if cb == nil {
		return
	}
	_, bop := nm.peerWords(connName)
	cb(connName, newState, bop, message)
}

// NotifyBOPChanged implements command.Host: a peer's "B" line.
func (nm *NetworkManager) NotifyBOPChanged(connName string, bopState uint32, message string) {
	nm.mu.Lock()
	cb := nm.stateInterests[connName]
	nm.mu.Unlock()
	if cb == nil {
		return
	}
	state, _ := nm.peerWords(connName)
	cb(connName, state, bopState, message)
}

func (nm *NetworkManager) peerWords(connName string) (state, bop uint32) {
	for _, c := range nm.manager.ByRemoteName(connName) {
		return c.PeerState()
	}
	return 0, 0
}

// NotifyValue implements command.Host: a peer's "V" line.
func (nm *NetworkManager) NotifyValue(connName, valueName, data string) {
	key := connName + "." + valueName
	nm.mu.Lock()
	cb := nm.valueInterests[key]
	nm.mu.Unlock()
	if cb != nil {
		cb(connName, valueName, data)
	}
}

// NotifyProgress implements command.Host: a peer's "R" line. The
// reference implementation only records progress on the connection
// itself (already done in pkg/command/protocol.go); no interest
// callback is wired for it there either.
func (nm *NetworkManager) NotifyProgress(connName string, state uint32, start, end float64) {
	rlog.WithDevice(nm.deviceName).Debugf("progress from %s: state=%d [%.3f,%.3f]", connName, state, start, end)
}

// NotifyMessage implements command.Host: a parsed "M" line, forwarded to
// the installed message sink.
func (nm *NetworkManager) NotifyMessage(sec, usec int, origin string, msgType int, text string) {
	if nm.msgSink != nil {
		nm.msgSink.Append(sec, usec, origin, msgType, text)
	}
}
