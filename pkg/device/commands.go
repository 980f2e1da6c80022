package device

import (
	"time"

	"github.com/rts2go/rts2drv/pkg/conn"
)

// Commands is the built-in handler group for the info/base_info/
// device_status command trio every device answers, grounded on the
// reference DeviceCommands class.
type Commands struct {
	device  *Device
	network NetworkSink
}

// NewCommands returns a device Commands group bound to d, replying
// through sink.
func NewCommands(d *Device, sink NetworkSink) *Commands {
	return &Commands{device: d, network: sink}
}

var deviceTokens = []string{"info", "base_info", "device_status"}

func (c *Commands) Commands() []string { return deviceTokens }

func (c *Commands) NeedsResponse(token string) bool { return true }

func (c *Commands) Dispatch(token string, cn *conn.Connection, params string) (bool, string) {
	switch token {
	case "info":
		return c.handleInfo(cn)
	case "base_info":
		return c.handleBaseInfo(cn)
	case "device_status":
		return c.handleDeviceStatus(cn)
	}
	return false, "unrecognized device token"
}

func (c *Commands) handleInfo(cn *conn.Connection) (bool, string) {
	c.device.RunInfoCallback()
	c.device.RefreshInfoTime(float64(time.Now().UnixNano()) / 1e9)
	_ = c.device.uptime.SetLocal(c.device.Uptime())

	for _, v := range c.device.Catalogue().List() {
		c.network.SendValueTo(v, cn)
	}
	c.network.SendStatus(cn)
	return true, ""
}

func (c *Commands) handleBaseInfo(cn *conn.Connection) (bool, string) {
	return true, ""
}

func (c *Commands) handleDeviceStatus(cn *conn.Connection) (bool, string) {
	c.network.SendStatus(cn)
	return true, ""
}
