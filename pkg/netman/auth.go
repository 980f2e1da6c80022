package netman

import (
	"fmt"

	"github.com/rts2go/rts2drv/pkg/conn"
	"github.com/rts2go/rts2drv/pkg/rlog"
)

// RequestAuthorization implements command.Host: relays a connecting
// client's "auth" request to the authenticated centrald connection for
// key verification, per SPEC_FULL.md §4.4/§7.
func (nm *NetworkManager) RequestAuthorization(c *conn.Connection, deviceID, centraldNum, key int) {
	centraldConn, ok := nm.manager.CentraldConnection()
	if !ok {
		nm.FailClientAuthorization(c, "Authorization service not available")
		c.Close()
		return
	}
	cmd := fmt.Sprintf("authorize %d %d", deviceID, key)
	err := centraldConn.SendCommand(cmd, nil, true, DefaultCommandTimeout)
	if err != nil {
		rlog.WithConnection(c.ID).Errorf("forwarding authorize to centrald: %v", err)
		nm.FailClientAuthorization(c, "Authorization service not available")
		c.Close()
	}
}

// CompleteClientAuthorization implements command.Host: fires once
// centrald's "A authorization_ok <id>" arrives for a pending client,
// mirroring _complete_client_authorization.
func (nm *NetworkManager) CompleteClientAuthorization(c *conn.Connection) {
	rlog.WithConnection(c.ID).Debugf("authorizing client")
	c.SetState(conn.AuthOK)

	nm.sendMetaInfo(c)
	state := uint32(0)
	bop := uint32(0)
	if nm.device != nil {
		state = nm.device.State()
		bop = nm.device.BOPState()
	}
	nm.SetBOPStateTo(c, state, bop)
	nm.SendOKWithMessage(c, "OK authorized")

	if nm.onClientAuthorized != nil {
		nm.onClientAuthorized(c)
	}
}

// SetBOPStateTo sends a single "B <state> <bop>" line to c, used for the
// direct post-authorization status push that does not belong on every
// other AUTH_OK connection.
func (nm *NetworkManager) SetBOPStateTo(c *conn.Connection, state, bop uint32) {
	_ = c.SendMessage(fmt.Sprintf("B %d %d", state, bop))
}

// SendOKWithMessage replies "+0 <message>" to c.
func (nm *NetworkManager) SendOKWithMessage(c *conn.Connection, message string) {
	_ = c.SendMessage("+0 " + message)
}

// FailClientAuthorization implements command.Host: rejects a pending
// client auth attempt.
func (nm *NetworkManager) FailClientAuthorization(c *conn.Connection, message string) {
	c.SetState(conn.AuthFailed)
	nm.SendError(c, message)
}

// RequestCentraldKey implements command.Host: sends "key <name>" once
// centrald has acknowledged registration; the reply arrives later as an
// unsolicited "authorization_key" line, handled by AuthCommands.
func (nm *NetworkManager) RequestCentraldKey(c *conn.Connection) {
	if err := c.SendCommand(fmt.Sprintf("key %s", nm.deviceName), nil, true, DefaultCommandTimeout); err != nil {
		rlog.WithConnection(c.ID).Errorf("requesting centrald key: %v", err)
	}
}

// CentraldConnected implements command.Host: fires once our own
// connection has observed both registered_as and authorization_ok.
func (nm *NetworkManager) CentraldConnected(c *conn.Connection) {
	rlog.WithConnection(c.ID).Debugf("centrald connection authorized")
	if nm.onCentraldConnected != nil {
		nm.onCentraldConnected()
	}
}
