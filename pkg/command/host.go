package command

import (
	"github.com/rts2go/rts2drv/pkg/conn"
	"github.com/rts2go/rts2drv/pkg/entity"
	"github.com/rts2go/rts2drv/pkg/value"
)

// Host is the seam between the built-in protocol/auth handler groups and
// the network manager that owns connections, the entity registry and the
// device's value catalogue. NetworkManager implements it.
type Host interface {
	DeviceName() string
	Catalogue() *value.Catalogue
	Entities() *entity.Registry
	Manager() *conn.Manager

	// NotifyStateChanged is called whenever a peer reports its device
	// state word (protocol "S"), carrying the old and new 32-bit words.
	NotifyStateChanged(connName string, oldState, newState uint32, message string)
	// NotifyBOPChanged is called for protocol "B" lines.
	NotifyBOPChanged(connName string, bopState uint32, message string)
	// NotifyValue delivers a peer's "V" value update to any registered
	// value-interest callback.
	NotifyValue(connName, valueName, data string)
	// NotifyProgress delivers a peer's "R" progress-window update.
	NotifyProgress(connName string, state uint32, start, end float64)
	// NotifyMessage delivers a parsed "M" system message.
	NotifyMessage(sec, usec int, origin string, msgType int, text string)

	// HandleValueChangeRequest processes an inbound "X name = data"
	// write request against the local catalogue, queuing it when the
	// device's should-queue hook says so. It returns whether the write (or
	// its queuing) succeeded.
	HandleValueChangeRequest(c *conn.Connection, name, data string) bool
	// SendErrorResponse writes a "-1 <message>" reply on c.
	SendErrorResponse(c *conn.Connection, message string)

	// RequestAuthorization forwards an "auth" request from a connecting
	// client to the centrald connection for key verification.
	RequestAuthorization(c *conn.Connection, deviceID, centraldNum, key int)
	// CompleteClientAuthorization marks c authorized once centrald
	// approves the pending auth request.
	CompleteClientAuthorization(c *conn.Connection)
	// FailClientAuthorization marks c's auth attempt as rejected.
	FailClientAuthorization(c *conn.Connection, message string)
	// RequestCentraldKey sends "key <device-name>" on the centrald
	// connection once registration succeeds.
	RequestCentraldKey(c *conn.Connection)
	// CentraldConnected fires once the centrald connection reaches
	// AUTH_OK — i.e. after both registered_as AND authorization_ok have
	// been observed for our own connection.
	CentraldConnected(c *conn.Connection)
	// UpdateConnectionName records a peer-declared name for c (the
	// "this_device" handshake).
	UpdateConnectionName(c *conn.Connection, name string)
}
