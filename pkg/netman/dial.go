package netman

import (
	"fmt"
	"net"
	"time"

	"github.com/rts2go/rts2drv/pkg/conn"
	"github.com/rts2go/rts2drv/pkg/rlog"
)

// ConnectToCentrald opens an outbound TCP session to centrald and begins
// the registration handshake of SPEC_FULL.md §4.4: send
// "register 0 <name> <type> localhost <port>", await the registration
// ack, then wait for "registered_as"/"authorization_ok" to drive the
// connection to AUTH_OK (handled asynchronously by pkg/command/auth.go
// as those lines arrive).
func (nm *NetworkManager) ConnectToCentrald(host string, port int) {
	sock, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", host, port), 10*time.Second)
	if err != nil {
		rlog.WithDevice(nm.deviceName).Errorf("connecting to centrald: %v", err)
		return
	}

	c := conn.New(conn.Config{
		ID:          newConnID(),
		Kind:        conn.KindCentrald,
		Socket:      sock,
		IdleTimeout: 60 * time.Second,
		OnLine:      nm.handleLine,
		OnClosed:    nm.handleClosed,
	})
	c.SetState(conn.Connected)
	nm.manager.Add(c)
	go c.ReadLoop()

	register := fmt.Sprintf("register 0 %s %d localhost %d", nm.deviceName, nm.deviceType, nm.Port())
	c.SetState(conn.AuthPending)
	err = c.SendCommand(register, func(success bool, code int, msg string) {
		if !success {
			rlog.WithConnection(c.ID).Errorf("centrald registration failed: %s", msg)
			c.SetState(conn.Broken)
			c.Close()
		}
	}, false, DefaultCommandTimeout)
	if err != nil {
		rlog.WithConnection(c.ID).Errorf("sending registration: %v", err)
	}
}

// connectToDevice opens an outbound session to a peer device using the
// centrald-issued identity, per SPEC_FULL.md §4.4's outbound-peer-device
// sequence.
func (nm *NetworkManager) connectToDevice(host string, port int, deviceName string) {
	centraldConn, ok := nm.manager.CentraldConnection()
	if !ok {
		rlog.WithDevice(nm.deviceName).Errorf("cannot connect to device %s: no authenticated centrald connection", deviceName)
		return
	}
	deviceID, centraldNum, authKey := centraldConn.CentraldIdentity()
	if deviceID <= 0 {
		rlog.WithDevice(nm.deviceName).Errorf("cannot connect to device %s: missing our device id", deviceName)
		return
	}

	sock, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", host, port), 10*time.Second)
	if err != nil {
		rlog.WithDevice(nm.deviceName).Errorf("connecting to device %s: %v", deviceName, err)
		return
	}

	c := conn.New(conn.Config{
		ID:          newConnID(),
		Kind:        conn.KindPeerDevice,
		Socket:      sock,
		IdleTimeout: 300 * time.Second,
		OnLine:      nm.handleLine,
		OnClosed:    nm.handleClosed,
	})
	c.SetRemoteName(deviceName)
	c.SetState(conn.Connected)
	nm.manager.Add(c)
	go c.ReadLoop()

	c.SetState(conn.AuthPending)
	authCmd := fmt.Sprintf("auth %d %d %d", deviceID, centraldNum, authKey)
	err = c.SendCommand(authCmd, func(success bool, code int, msg string) {
		if success {
			c.SetState(conn.AuthOK)
			_ = c.SendCommand("info", nil, true, DefaultCommandTimeout)
			_ = c.SendCommand("device_status", nil, true, DefaultCommandTimeout)
		} else {
			rlog.WithConnection(c.ID).Errorf("device auth failed for %s: %s", deviceName, msg)
			c.SetState(conn.AuthFailed)
			c.Close()
		}
	}, false, DefaultCommandTimeout)
	if err != nil {
		rlog.WithConnection(c.ID).Errorf("sending device auth: %v", err)
	}
}
