package command

import (
	"strconv"
	"strings"

	"github.com/rts2go/rts2drv/pkg/conn"
	"github.com/rts2go/rts2drv/pkg/entity"
	"github.com/rts2go/rts2drv/pkg/rlog"
)

// ProtocolCommands is the built-in handler group for the single-letter
// status/value/technical protocol commands and the centrald entity
// bookkeeping commands (device/client/this_device/delete_client).
// See SPEC_FULL.md §4.5.
type ProtocolCommands struct {
	host Host
}

// NewProtocolCommands returns a ProtocolCommands group bound to host.
func NewProtocolCommands(host Host) *ProtocolCommands {
	return &ProtocolCommands{host: host}
}

var protocolTokens = []string{
	"S", "V", "B", "R", "T", "M", "X", "E", "F", "Z",
	"device", "client", "this_device", "delete_client", "delete_device",
}

var protocolNeedsResponse = map[string]bool{
	"X": true,
}

func (p *ProtocolCommands) Commands() []string { return protocolTokens }

func (p *ProtocolCommands) NeedsResponse(token string) bool {
	return protocolNeedsResponse[token]
}

func (p *ProtocolCommands) Dispatch(token string, c *conn.Connection, params string) (bool, string) {
	switch token {
	case "S":
		return p.handleStatusOrBOP(c, params, false)
	case "B":
		return p.handleStatusOrBOP(c, params, true)
	case "V":
		return p.handleValue(c, params)
	case "R":
		return p.handleProgress(c, params)
	case "T":
		return p.handleTechnical(c, params)
	case "M":
		return p.handleMessage(c, params)
	case "X":
		return p.handleXCommand(c, params)
	case "E", "F", "Z", "delete_device":
		return true, ""
	case "device":
		return p.handleDeviceInfo(c, params)
	case "client":
		return p.handleClient(c, params)
	case "this_device":
		return p.handleThisDeviceInfo(c, params)
	case "delete_client":
		return p.handleDeleteClient(c, params)
	}
	return false, "unrecognized protocol token"
}

func (p *ProtocolCommands) handleStatusOrBOP(c *conn.Connection, params string, isBOP bool) (bool, string) {
	n := 3
	if isBOP {
		n = 4
	}
	parts := splitMax(params, n)
	if len(parts) == 0 {
		return false, "empty status line"
	}

	statusValue, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return false, "bad status value: " + parts[0]
	}

	var bopState uint32
	msgIdx := 1
	if isBOP {
		if len(parts) < 2 {
			rlog.WithConnection(c.ID).Warnf("invalid BOP format: %s", params)
			return false, "invalid BOP format"
		}
		v, err := strconv.ParseUint(parts[1], 10, 32)
		if err != nil {
			return false, "bad BOP state: " + parts[1]
		}
		bopState = uint32(v)
		msgIdx = 2
	}

	msg := ""
	if len(parts) > msgIdx {
		msg = unquote(parts[msgIdx])
	}

	oldState, _ := c.PeerState()
	name := c.RemoteName()
	if isBOP {
		c.SetPeerState(uint32(statusValue), &bopState)
		p.host.NotifyBOPChanged(name, bopState, msg)
	} else {
		c.SetPeerState(uint32(statusValue), nil)
		p.host.NotifyStateChanged(name, oldState, uint32(statusValue), msg)
	}
	return true, ""
}

func (p *ProtocolCommands) handleValue(c *conn.Connection, params string) (bool, string) {
	parts := splitMax(params, 2)
	if len(parts) < 2 {
		return false, "malformed V line"
	}
	p.host.NotifyValue(c.RemoteName(), parts[0], parts[1])
	return true, ""
}

func (p *ProtocolCommands) handleProgress(c *conn.Connection, params string) (bool, string) {
	parts := splitMax(params, 4)
	if len(parts) < 3 {
		return false, "malformed R line"
	}
	statusValue, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return false, "bad progress state: " + parts[0]
	}
	start, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return false, "bad progress start: " + parts[1]
	}
	end, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return false, "bad progress end: " + parts[2]
	}
	c.SetProgress(start, end)
	p.host.NotifyProgress(c.RemoteName(), uint32(statusValue), start, end)
	return true, ""
}

func (p *ProtocolCommands) handleTechnical(c *conn.Connection, params string) (bool, string) {
	fields := strings.Fields(params)
	if len(fields) > 0 && fields[0] == "ready" {
		if err := c.SendMessage("T OK"); err != nil {
			rlog.WithConnection(c.ID).Warnf("failed to reply T OK: %v", err)
		}
	}
	return true, ""
}

func (p *ProtocolCommands) handleXCommand(c *conn.Connection, params string) (bool, string) {
	parts := splitMax(params, 3)
	if len(parts) < 3 {
		rlog.WithConnection(c.ID).Warnf("invalid X command format: %s", params)
		p.host.SendErrorResponse(c, "Invalid command format")
		return false, "Invalid command format"
	}
	name, op, data := parts[0], parts[1], parts[2]
	if op != "=" {
		rlog.WithConnection(c.ID).Warnf("operand %q not implemented for X command", op)
		return false, "operand not implemented"
	}
	if !p.host.HandleValueChangeRequest(c, name, data) {
		return false, "value write rejected"
	}
	return true, "set"
}

func (p *ProtocolCommands) handleMessage(c *conn.Connection, params string) (bool, string) {
	parts := splitMax(params, 4)
	if len(parts) < 4 {
		return true, ""
	}
	sec, err1 := strconv.Atoi(parts[0])
	usec, err2 := strconv.Atoi(parts[1])
	origin := parts[2]
	rest := splitMax(parts[3], 2)
	if err1 != nil || err2 != nil || len(rest) < 2 {
		return true, ""
	}
	msgType, err := strconv.Atoi(rest[0])
	if err != nil {
		return true, ""
	}
	p.host.NotifyMessage(sec, usec, origin, msgType, rest[1])
	return true, ""
}

func (p *ProtocolCommands) handleDeviceInfo(c *conn.Connection, params string) (bool, string) {
	fields := strings.Fields(params)
	if len(fields) < 5 {
		return true, ""
	}
	centraldNum, err1 := strconv.Atoi(fields[0])
	centraldID, err2 := strconv.Atoi(fields[1])
	name := fields[2]
	host := fields[3]
	port, err3 := strconv.Atoi(fields[4])
	typeCode := -1
	if len(fields) > 5 {
		if v, err := strconv.Atoi(fields[5]); err == nil {
			typeCode = v
		}
	}
	if err1 != nil || err2 != nil || err3 != nil {
		rlog.WithConnection(c.ID).Warnf("malformed device info: %s", params)
		return true, ""
	}
	p.host.Entities().Put(entity.Entity{
		ID: centraldID, Name: name, Kind: entity.KindDevice,
		TypeCode: typeCode, Host: host, Port: port,
	})
	rlog.WithField("device", name).Debugf("registered device id=%d centrald_num=%d", centraldID, centraldNum)
	return true, ""
}

func (p *ProtocolCommands) handleClient(c *conn.Connection, params string) (bool, string) {
	fields := strings.Fields(params)
	if len(fields) < 3 {
		return true, ""
	}
	centraldID, err := strconv.Atoi(fields[0])
	if err != nil {
		return true, ""
	}
	login := fields[1]
	p.host.Entities().Put(entity.Entity{ID: centraldID, Name: login, Kind: entity.KindClient})
	rlog.WithField("client", login).Debugf("registered client id=%d", centraldID)
	return true, ""
}

func (p *ProtocolCommands) handleThisDeviceInfo(c *conn.Connection, params string) (bool, string) {
	fields := strings.Fields(params)
	if len(fields) < 2 {
		return true, ""
	}
	name := fields[0]
	c.SetRemoteName(name)
	p.host.UpdateConnectionName(c, name)
	rlog.WithConnection(c.ID).Debugf("this_device %s type %s", name, fields[1])
	return true, ""
}

func (p *ProtocolCommands) handleDeleteClient(c *conn.Connection, params string) (bool, string) {
	id, err := strconv.Atoi(strings.TrimSpace(params))
	if err != nil {
		return false, "bad delete_client id"
	}
	if _, ok := p.host.Entities().Get(id); ok {
		p.host.Entities().Delete(id)
	} else {
		rlog.Warnf("delete_client for unknown id %d", id)
	}
	return true, ""
}

// splitMax splits s on whitespace into at most n fields, Python
// str.split(maxsplit=n-1)-style: the final field retains any embedded
// whitespace verbatim.
func splitMax(s string, n int) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var out []string
	for len(out) < n-1 {
		s = strings.TrimLeft(s, " \t")
		if s == "" {
			return out
		}
		idx := strings.IndexAny(s, " \t")
		if idx < 0 {
			out = append(out, s)
			return out
		}
		out = append(out, s[:idx])
		s = s[idx+1:]
	}
	s = strings.TrimSpace(s)
	if s != "" {
		out = append(out, s)
	}
	return out
}

// unquote strips a single layer of surrounding double quotes, if present.
func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
