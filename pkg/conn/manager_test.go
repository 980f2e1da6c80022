package conn

import (
	"net"
	"testing"
	"time"
)

func newManagerConn(t *testing.T, id string, kind Kind, state State) *Connection {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close() })
	c := New(Config{ID: id, Kind: kind, Socket: server, IdleTimeout: time.Hour})
	c.SetState(state)
	go func() {
		buf := make([]byte, 256)
		for {
			_, err := client.Read(buf)
			if err != nil {
				return
			}
		}
	}()
	return c
}

func TestManagerByKindAndState(t *testing.T) {
	m := NewManager()
	c1 := newManagerConn(t, "c1", KindCentrald, AuthOK)
	c2 := newManagerConn(t, "c2", KindClient, AuthOK)
	c3 := newManagerConn(t, "c3", KindClient, Connecting)
	m.Add(c1)
	m.Add(c2)
	m.Add(c3)

	if got := m.ByKind(KindClient); len(got) != 2 {
		t.Errorf("ByKind(client) = %d, want 2", len(got))
	}
	if got := m.ByState(AuthOK); len(got) != 2 {
		t.Errorf("ByState(AuthOK) = %d, want 2", len(got))
	}

	centrald, ok := m.CentraldConnection()
	if !ok || centrald.ID != "c1" {
		t.Errorf("CentraldConnection() = %v, %v, want c1", centrald, ok)
	}
}

func TestManagerRemoveAndLen(t *testing.T) {
	m := NewManager()
	c1 := newManagerConn(t, "c1", KindClient, AuthOK)
	m.Add(c1)
	if m.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", m.Len())
	}
	m.Remove("c1")
	if m.Len() != 0 {
		t.Errorf("Len() after remove = %d, want 0", m.Len())
	}
}

func TestManagerCloseAll(t *testing.T) {
	m := NewManager()
	c1 := newManagerConn(t, "c1", KindClient, AuthOK)
	m.Add(c1)
	m.CloseAll()
	if c1.State() != Broken {
		t.Errorf("state after CloseAll = %v, want BROKEN", c1.State())
	}
}
