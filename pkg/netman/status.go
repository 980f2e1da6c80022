package netman

import (
	"fmt"
	"math"

	"github.com/rts2go/rts2drv/pkg/conn"
	"github.com/rts2go/rts2drv/pkg/value"
	"github.com/rts2go/rts2drv/pkg/wire"
)

// SetDeviceState implements device.NetworkSink: broadcasts an "S" line
// and clears any in-flight progress window, per the reference
// set_device_state/send_status_message behavior.
func (nm *NetworkManager) SetDeviceState(state uint32, description string) {
	nm.mu.Lock()
	nm.lastStatusMsg = description
	nm.progressStart = math.NaN()
	nm.progressEnd = math.NaN()
	nm.mu.Unlock()
	nm.broadcastStatus(state)
}

// SetBOPState implements device.NetworkSink: broadcasts a "B" line.
func (nm *NetworkManager) SetBOPState(state, bop uint32) {
	nm.mu.Lock()
	nm.lastStatusMsg = ""
	nm.mu.Unlock()
	msg := fmt.Sprintf("%d %d", state, bop)
	nm.manager.Broadcast(wire.JoinMessage("B", msg), nil)
}

// SetProgressState sets a progress window on the next status broadcast,
// for drivers reporting multi-second operations directly (e.g. a CCD
// mid-exposure). Not part of device.NetworkSink: drivers call it
// directly when they want an "R" line instead of a plain "S" line.
func (nm *NetworkManager) SetProgressState(state uint32, start, end float64, message string) {
	nm.mu.Lock()
	nm.progressStart = start
	nm.progressEnd = end
	nm.lastStatusMsg = message
	nm.mu.Unlock()
	nm.broadcastStatus(state)
}

func (nm *NetworkManager) broadcastStatus(state uint32) {
	line := nm.renderStatusLine(state)
	nm.manager.Broadcast(line, nil)
}

// renderStatusLine builds an "S <state> [\"msg\"]" or, if a progress
// window is set, "R <state> <start> <end> [\"msg\"]" line.
func (nm *NetworkManager) renderStatusLine(state uint32) string {
	nm.mu.Lock()
	start, end, msg := nm.progressStart, nm.progressEnd, nm.lastStatusMsg
	nm.mu.Unlock()

	var body string
	if math.IsNaN(start) && math.IsNaN(end) {
		body = fmt.Sprintf("S %d", state)
	} else {
		body = fmt.Sprintf("R %d %.6f %.6f", state, start, end)
	}
	if msg != "" {
		body += " " + wire.Quote(msg)
	}
	return body
}

// SendStatus implements device.NetworkSink: sends the current status to
// c, or broadcasts it if c is nil.
func (nm *NetworkManager) SendStatus(c *conn.Connection) {
	state := uint32(0)
	if nm.device != nil {
		state = nm.device.State()
	}
	line := nm.renderStatusLine(state)
	if c != nil {
		_ = c.SendMessage(line)
		return
	}
	nm.manager.Broadcast(line, nil)
}

// BroadcastValue implements device.NetworkSink: sends a "V" line to
// every AUTH_OK connection and clears the value's need-send flag.
func (nm *NetworkManager) BroadcastValue(v *value.Value) {
	line := wire.JoinMessage("V", v.Name, v.Render())
	nm.manager.Broadcast(line, nil)
	v.ResetNeedSend()
}

// SendValueTo sends v's current rendering to a single connection,
// regardless of its need-send flag.
func (nm *NetworkManager) SendValueTo(v *value.Value, c *conn.Connection) {
	if c.State() != conn.AuthOK {
		return
	}
	_ = c.SendMessage(wire.JoinMessage("V", v.Name, v.Render()))
}

// SendOK implements device.NetworkSink: replies "+0 OK".
func (nm *NetworkManager) SendOK(c *conn.Connection) {
	_ = c.SendMessage(wire.OKResponse("OK"))
}

// SendError implements device.NetworkSink: replies "-1 <message>".
func (nm *NetworkManager) SendError(c *conn.Connection, message string) {
	_ = c.SendMessage(wire.ErrResponse(message))
}

// SendErrorResponse implements command.Host; identical to SendError.
func (nm *NetworkManager) SendErrorResponse(c *conn.Connection, message string) {
	nm.SendError(c, message)
}

// sendMetaInfo sends the "M"/"F"/"V" metadata block for every catalogue
// value to a freshly accepted connection, mirroring _send_meta_info.
func (nm *NetworkManager) sendMetaInfo(c *conn.Connection) {
	if nm.device == nil {
		return
	}
	for _, v := range nm.device.Catalogue().List() {
		meta := fmt.Sprintf("M %d %s %s", v.MetaBits(), wire.Quote(v.Name), wire.Quote(v.Description))
		_ = c.SendMessage(meta)

		if v.IsSelection() {
			_ = c.SendMessage(wire.JoinMessage("F", wire.Quote(v.Name)))
			for _, label := range v.Labels() {
				_ = c.SendMessage(wire.JoinMessage("F", wire.Quote(v.Name), wire.Quote(label)))
			}
		}
		_ = c.SendMessage(wire.JoinMessage("V", v.Name, v.Render()))
	}
}

// HandleValueChangeRequest implements command.Host: an inbound "X name =
// data" write request against the local catalogue.
func (nm *NetworkManager) HandleValueChangeRequest(c *conn.Connection, name, data string) bool {
	if c.State() != conn.AuthOK {
		nm.SendError(c, "Not authenticated")
		return false
	}
	if nm.device == nil {
		nm.SendError(c, fmt.Sprintf("No such value: %s", name))
		return false
	}
	v, ok := nm.device.Catalogue().Get(name)
	if !ok {
		nm.SendError(c, fmt.Sprintf("No such value: %s", name))
		return false
	}
	if !v.IsWritable() {
		nm.SendError(c, fmt.Sprintf("Value %s is read-only", name))
		return false
	}
	if nm.device.ShouldQueue(v) {
		newValue, err := v.ParseCandidate(data)
		if err != nil {
			nm.SendError(c, fmt.Sprintf("Error updating value: %v", err))
			return false
		}
		nm.device.QueueValueChange(v, newValue)
		return true
	}
	if err := v.Parse(data); err != nil {
		nm.SendError(c, fmt.Sprintf("Error updating value: %v", err))
		return false
	}
	if v.NeedSend() {
		nm.BroadcastValue(v)
	}
	return true
}

// UpdateConnectionName implements command.Host, mirroring
// update_connection_name: a peer-declared this_device name becomes the
// connection's descriptive remote name.
func (nm *NetworkManager) UpdateConnectionName(c *conn.Connection, name string) {
	if c.Kind == conn.KindCentrald {
		c.SetRemoteName("centrald")
		return
	}
	c.SetRemoteName(name)
}
