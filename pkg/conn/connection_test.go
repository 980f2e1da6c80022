package conn

import (
	"net"
	"testing"
	"time"
)

func newTestPair(t *testing.T) (*Connection, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close() })

	c := New(Config{ID: "c1", Kind: KindClient, Socket: server, IdleTimeout: time.Second})
	go c.ReadLoop()
	return c, client
}

func TestSendCommandAtMostOneInFlight(t *testing.T) {
	c, client := newTestPair(t)
	defer client.Close()

	done := make(chan struct{})
	go func() {
		buf := make([]byte, 64)
		client.Read(buf) // "info\n"
		client.Write([]byte("+0 OK\n"))
		close(done)
	}()

	results := make(chan string, 2)
	err := c.SendCommand("info", func(success bool, code int, message string) {
		results <- "first"
	}, true, time.Second)
	if err != nil {
		t.Fatalf("SendCommand: %v", err)
	}

	if !c.HasInFlight() {
		t.Fatal("expected a command in flight")
	}

	err = c.SendCommand("info2", func(success bool, code int, message string) {
		results <- "second"
	}, true, time.Second)
	if err != nil {
		t.Fatalf("queueing second command: %v", err)
	}

	<-done
	select {
	case r := <-results:
		if r != "first" {
			t.Errorf("first callback = %q, want first", r)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first callback")
	}
}

func TestSendCommandRejectsWithoutQueueIfBusy(t *testing.T) {
	c, client := newTestPair(t)
	defer client.Close()

	go func() {
		buf := make([]byte, 64)
		client.Read(buf)
	}()

	if err := c.SendCommand("info", func(bool, int, string) {}, true, time.Second); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if err := c.SendCommand("info2", func(bool, int, string) {}, false, time.Second); err == nil {
		t.Error("expected ErrAlreadyInFlight when queueIfBusy=false")
	}
}

func TestCheckDeadlineFiresTimeoutCallback(t *testing.T) {
	c, client := newTestPair(t)
	defer client.Close()

	go func() {
		buf := make([]byte, 64)
		client.Read(buf)
	}()

	called := make(chan struct {
		success bool
		code    int
	}, 1)
	if err := c.SendCommand("info", func(success bool, code int, message string) {
		called <- struct {
			success bool
			code    int
		}{success, code}
	}, true, 1*time.Millisecond); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	c.CheckDeadline()

	select {
	case r := <-called:
		if r.success || r.code != -1 {
			t.Errorf("timeout callback = %+v, want (false,-1)", r)
		}
	case <-time.After(time.Second):
		t.Fatal("deadline callback never fired")
	}
}

func TestOnReceiveDispatchesNonResponseLines(t *testing.T) {
	var got string
	client, server := net.Pipe()
	defer client.Close()

	c := New(Config{
		ID: "c1", Kind: KindClient, Socket: server, IdleTimeout: time.Second,
		OnLine: func(conn *Connection, line string) { got = line },
	})
	go c.ReadLoop()

	client.Write([]byte("X focstep = 3\n"))
	time.Sleep(20 * time.Millisecond)

	if got != "X focstep = 3" {
		t.Errorf("onLine got %q, want %q", got, "X focstep = 3")
	}
}

func TestIsTimedOutConnecting(t *testing.T) {
	c := New(Config{ID: "c1", Kind: KindPeerDevice, IdleTimeout: time.Hour})
	c.connectedAt = time.Now().Add(-20 * time.Second)
	if !c.IsTimedOut() {
		t.Error("CONNECTING connection older than 10s should be timed out")
	}
}

func TestCloseFlushesQueuedCommands(t *testing.T) {
	c, client := newTestPair(t)
	defer client.Close()

	go func() {
		buf := make([]byte, 64)
		client.Read(buf)
	}()

	results := make(chan string, 1)
	c.SendCommand("info", func(bool, int, string) {}, true, time.Second)
	c.SendCommand("info2", func(success bool, code int, message string) {
		results <- message
	}, true, time.Second)

	c.Close()

	select {
	case msg := <-results:
		if msg != "Command timed out in queue" {
			t.Errorf("queued callback message = %q", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("queued command callback never fired on close")
	}
}
