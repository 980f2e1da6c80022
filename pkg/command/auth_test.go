package command

import (
	"testing"

	"github.com/rts2go/rts2drv/pkg/conn"
)

func TestAuthHandleAuthRequestsAuthorization(t *testing.T) {
	host := newFakeHost()
	a := NewAuthCommands(host)
	c := newDrainedConn(t, "c1", conn.KindClient)

	ok, _ := a.Dispatch("auth", c, "42 1 9988")
	if !ok || !host.requestedAuthz {
		t.Errorf("Dispatch(auth) = %v, requestedAuthz=%v", ok, host.requestedAuthz)
	}
	if c.State() != conn.AuthPending {
		t.Errorf("state = %v, want AUTH_PENDING", c.State())
	}
}

func TestAuthHandleAuthBadFormat(t *testing.T) {
	host := newFakeHost()
	a := NewAuthCommands(host)
	c := newDrainedConn(t, "c1", conn.KindClient)

	ok, _ := a.Dispatch("auth", c, "not enough")
	if ok {
		t.Error("expected failure on malformed auth command")
	}
	if len(host.errResponses) != 1 {
		t.Errorf("expected an error response, got %v", host.errResponses)
	}
}

func TestAuthRegisteredAsDoesNotSetAuthOK(t *testing.T) {
	host := newFakeHost()
	a := NewAuthCommands(host)
	c := newDrainedConn(t, "c1", conn.KindCentrald)
	c.SetState(conn.Connected)

	ok, _ := a.Dispatch("registered_as", c, "77")
	if !ok {
		t.Fatal("registered_as dispatch failed")
	}
	if c.State() == conn.AuthOK {
		t.Error("registered_as alone must not transition to AUTH_OK")
	}
	if len(host.requestedAuthKeyFor) != 1 {
		t.Errorf("expected key request, got %v", host.requestedAuthKeyFor)
	}
	id, _, _ := c.CentraldIdentity()
	if id != 77 {
		t.Errorf("centrald id = %d, want 77", id)
	}
}

func TestAuthAuthorizationOKTransitionsOwnConnection(t *testing.T) {
	host := newFakeHost()
	a := NewAuthCommands(host)
	c := newDrainedConn(t, "c1", conn.KindCentrald)
	c.SetCentraldIdentity(77, 1, 0)
	c.SetState(conn.AuthPending)

	ok, _ := a.Dispatch("authorization_ok", c, "77")
	if !ok {
		t.Fatal("authorization_ok dispatch failed")
	}
	if c.State() != conn.AuthOK {
		t.Errorf("state = %v, want AUTH_OK", c.State())
	}
	if len(host.centraldConnected) != 1 {
		t.Errorf("expected CentraldConnected callback, got %v", host.centraldConnected)
	}
}

func TestAuthAuthorizationOKCompletesPendingClient(t *testing.T) {
	host := newFakeHost()
	a := NewAuthCommands(host)
	centrald := newDrainedConn(t, "centrald", conn.KindCentrald)
	centrald.SetCentraldIdentity(1, 1, 0)
	centrald.SetState(conn.AuthOK)
	host.Manager().Add(centrald)

	client := newDrainedConn(t, "client1", conn.KindClient)
	client.SetCentraldIdentity(42, 1, 0)
	client.SetState(conn.AuthPending)
	host.Manager().Add(client)

	ok, _ := a.Dispatch("A", centrald, "authorization_ok 42")
	if !ok {
		t.Fatal("A authorization_ok dispatch failed")
	}
	if len(host.completedClients) != 1 || host.completedClients[0] != client {
		t.Errorf("expected client completed, got %v", host.completedClients)
	}
}

func TestAuthAResponseDispatchesRegisteredAs(t *testing.T) {
	host := newFakeHost()
	a := NewAuthCommands(host)
	c := newDrainedConn(t, "c1", conn.KindCentrald)

	ok, _ := a.Dispatch("A", c, "registered_as 55")
	if !ok {
		t.Fatal("A registered_as dispatch failed")
	}
	id, _, _ := c.CentraldIdentity()
	if id != 55 {
		t.Errorf("centrald id = %d, want 55", id)
	}
}

func TestAuthKeyResponseStoresKey(t *testing.T) {
	host := newFakeHost()
	a := NewAuthCommands(host)
	c := newDrainedConn(t, "c1", conn.KindCentrald)
	c.SetCentraldIdentity(9, 1, 0)

	ok, _ := a.Dispatch("authorization_key", c, "ccd1 12345")
	if !ok {
		t.Fatal("authorization_key dispatch failed")
	}
	_, _, key := c.CentraldIdentity()
	if key != 12345 {
		t.Errorf("key = %d, want 12345", key)
	}
}
