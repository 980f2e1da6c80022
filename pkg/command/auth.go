package command

import (
	"strconv"
	"strings"

	"github.com/rts2go/rts2drv/pkg/conn"
	"github.com/rts2go/rts2drv/pkg/rlog"
)

// AuthCommands is the built-in handler group for the authentication and
// registration handshake: "auth" from a connecting client, and the
// "registered_as" / "authorization_key" / "authorization_ok" sequence
// from centrald. See SPEC_FULL.md §4.4, §9.
//
// Two behaviors here deliberately diverge from the reference
// implementation, per SPEC_FULL.md §9:
//   - the registration-complete notification is wired as a method call on
//     the network manager rather than through a dangling attribute lookup
//     that never resolves;
//   - a connection only reaches AUTH_OK once both "registered_as" AND the
//     matching "authorization_ok" have been observed — "registered_as"
//     alone leaves it at AUTH_PENDING.
type AuthCommands struct {
	host Host
}

// NewAuthCommands returns an AuthCommands group bound to host.
func NewAuthCommands(host Host) *AuthCommands {
	return &AuthCommands{host: host}
}

var authTokens = []string{"auth", "A", "registered_as", "authorization_key", "authorization_ok"}

func (a *AuthCommands) Commands() []string { return authTokens }

func (a *AuthCommands) NeedsResponse(token string) bool { return false }

func (a *AuthCommands) Dispatch(token string, c *conn.Connection, params string) (bool, string) {
	switch token {
	case "auth":
		return a.handleAuth(c, params)
	case "A":
		return a.handleAuthResponse(c, params)
	case "registered_as":
		return a.handleRegisteredAs(c, "registered_as "+params)
	case "authorization_key":
		return a.handleKeyResponse(c, params)
	case "authorization_ok":
		return a.handleAuthorizationOK(c, "authorization_ok "+params)
	}
	return false, "unrecognized auth token"
}

func (a *AuthCommands) handleAuth(c *conn.Connection, params string) (bool, string) {
	fields := strings.Fields(params)
	if len(fields) < 3 {
		a.host.SendErrorResponse(c, "Invalid auth format")
		return false, "Invalid auth format"
	}
	deviceID, err1 := strconv.Atoi(fields[0])
	centraldNum, err2 := strconv.Atoi(fields[1])
	key, err3 := strconv.Atoi(fields[2])
	if err1 != nil || err2 != nil || err3 != nil {
		a.host.SendErrorResponse(c, "Invalid auth format")
		return false, "Invalid auth format"
	}

	c.SetCentraldIdentity(deviceID, centraldNum, key)
	c.SetState(conn.AuthPending)
	rlog.WithConnection(c.ID).Debugf("auth request for device id %d", deviceID)

	a.host.RequestAuthorization(c, deviceID, centraldNum, key)
	return true, ""
}

// handleAuthResponse unwraps an "A <subcommand> ..." line into the
// canonical form its target handler expects, per SPEC_FULL.md §9 (accept
// both the bare and "A"-prefixed spellings).
func (a *AuthCommands) handleAuthResponse(c *conn.Connection, params string) (bool, string) {
	parts := splitMax(params, 2)
	if len(parts) == 0 {
		rlog.WithConnection(c.ID).Warnf("invalid A command format: %s", params)
		return false, "invalid A command"
	}
	subcommand := parts[0]
	subparams := ""
	if len(parts) > 1 {
		subparams = parts[1]
	}

	switch subcommand {
	case "registered_as":
		return a.handleRegisteredAs(c, "registered_as "+subparams)
	case "authorization_ok":
		return a.handleAuthorizationOK(c, "A authorization_ok "+subparams)
	case "authorization_failed":
		rlog.WithConnection(c.ID).Warnf("authorization failed: %s", subparams)
		return true, ""
	}
	rlog.WithConnection(c.ID).Warnf("unknown A-prefixed command: %s %s", subcommand, subparams)
	return false, "unknown A-prefixed command"
}

// handleRegisteredAs accepts both "registered_as ID" and "A registered_as
// ID" forms.
func (a *AuthCommands) handleRegisteredAs(c *conn.Connection, line string) (bool, string) {
	fields := strings.Fields(line)
	var deviceID int
	var err error
	switch {
	case len(fields) >= 2 && fields[0] == "registered_as":
		deviceID, err = strconv.Atoi(fields[1])
	case len(fields) >= 3 && fields[0] == "A" && fields[1] == "registered_as":
		deviceID, err = strconv.Atoi(fields[2])
	default:
		rlog.WithConnection(c.ID).Warnf("invalid registered_as format: %s", line)
		return true, ""
	}
	if err != nil {
		rlog.WithConnection(c.ID).Warnf("invalid registered_as format: %s", line)
		return true, ""
	}

	_, num, key := c.CentraldIdentity()
	c.SetCentraldIdentity(deviceID, num, key)
	rlog.WithConnection(c.ID).Debugf("registered with centrald as id %d", deviceID)

	a.host.RequestCentraldKey(c)
	return true, ""
}

func (a *AuthCommands) handleKeyResponse(c *conn.Connection, params string) (bool, string) {
	fields := strings.Fields(params)
	if len(fields) >= 2 {
		key, err := strconv.Atoi(fields[1])
		if err == nil {
			id, num, _ := c.CentraldIdentity()
			c.SetCentraldIdentity(id, num, key)
			rlog.WithConnection(c.ID).Debugf("stored authorization key for device id %d", id)
		}
	}
	return true, ""
}

// handleAuthorizationOK accepts both the "A authorization_ok ID" form the
// wire produces (the reference implementation always re-prepends "A ",
// SPEC_FULL.md §9) and a bare "authorization_ok ID" line.
func (a *AuthCommands) handleAuthorizationOK(c *conn.Connection, line string) (bool, string) {
	fields := strings.Fields(line)
	var authID int
	var err error
	switch {
	case len(fields) >= 3 && fields[0] == "A" && fields[1] == "authorization_ok":
		authID, err = strconv.Atoi(fields[2])
	case len(fields) >= 2 && fields[0] == "authorization_ok":
		authID, err = strconv.Atoi(fields[1])
	default:
		return true, ""
	}
	if err != nil {
		return true, ""
	}

	rlog.Debugf("received authorization_ok for id %d", authID)

	ownID, _, _ := c.CentraldIdentity()
	if ownID == authID {
		c.SetState(conn.AuthOK)
		a.host.CentraldConnected(c)
		return true, ""
	}

	for _, other := range a.host.Manager().All() {
		id, _, _ := other.CentraldIdentity()
		if id == authID && other.State() == conn.AuthPending {
			a.host.CompleteClientAuthorization(other)
			return true, ""
		}
	}
	rlog.Warnf("authorization_ok for non-pending id %d", authID)
	return true, ""
}
