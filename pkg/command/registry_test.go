package command

import (
	"testing"

	"github.com/rts2go/rts2drv/pkg/conn"
)

type fakeGroup struct {
	tokens   []string
	resp     bool
	success  bool
	text     string
	panicOn  string
	dispatch func(token string, c *conn.Connection, params string) (bool, string)
}

func (f *fakeGroup) Commands() []string             { return f.tokens }
func (f *fakeGroup) NeedsResponse(token string) bool { return f.resp }
func (f *fakeGroup) Dispatch(token string, c *conn.Connection, params string) (bool, string) {
	if token == f.panicOn {
		panic("boom")
	}
	if f.dispatch != nil {
		return f.dispatch(token, c, params)
	}
	return f.success, f.text
}

func TestRegistryDispatchUnknownCommand(t *testing.T) {
	r := NewRegistry()
	handled, success, _ := r.Dispatch("bogus", nil, "")
	if handled || success {
		t.Errorf("unknown command: handled=%v success=%v, want false,false", handled, success)
	}
	if !r.NeedsResponse("bogus") {
		t.Error("unknown commands should default to needing a response")
	}
}

func TestRegistryDispatchMultipleHandlersLastSuccessWins(t *testing.T) {
	r := NewRegistry()
	r.RegisterHandler(&fakeGroup{tokens: []string{"info"}, resp: true, success: true, text: "first"})
	r.RegisterHandler(&fakeGroup{tokens: []string{"info"}, resp: true, success: true, text: "second"})

	handled, success, text := r.Dispatch("info", nil, "")
	if !handled || !success || text != "second" {
		t.Errorf("Dispatch = (%v,%v,%q), want (true,true,\"second\")", handled, success, text)
	}
}

func TestRegistryDispatchAnySuccessWins(t *testing.T) {
	r := NewRegistry()
	r.RegisterHandler(&fakeGroup{tokens: []string{"info"}, success: false, text: "bad"})
	r.RegisterHandler(&fakeGroup{tokens: []string{"info"}, success: true, text: "good"})

	handled, success, text := r.Dispatch("info", nil, "")
	if !handled || !success || text != "good" {
		t.Errorf("Dispatch = (%v,%v,%q), want (true,true,\"good\")", handled, success, text)
	}
}

func TestRegistryDispatchAllFail(t *testing.T) {
	r := NewRegistry()
	r.RegisterHandler(&fakeGroup{tokens: []string{"info"}, success: false, text: "bad1"})
	r.RegisterHandler(&fakeGroup{tokens: []string{"info"}, success: false, text: "bad2"})

	handled, success, text := r.Dispatch("info", nil, "")
	if !handled || success {
		t.Errorf("Dispatch = (%v,%v,%q), want handled=true success=false", handled, success, text)
	}
	if text != "bad1; bad2" {
		t.Errorf("failure summary = %q, want %q", text, "bad1; bad2")
	}
}

func TestRegistryDispatchRecoversPanic(t *testing.T) {
	r := NewRegistry()
	r.RegisterHandler(&fakeGroup{tokens: []string{"info"}, panicOn: "info"})

	handled, success, _ := r.Dispatch("info", nil, "")
	if !handled || success {
		t.Errorf("Dispatch after panic = (%v,%v), want (true,false)", handled, success)
	}
}

func TestRegistryFindHandlersOrder(t *testing.T) {
	r := NewRegistry()
	g1 := &fakeGroup{tokens: []string{"X"}}
	g2 := &fakeGroup{tokens: []string{"X"}}
	r.RegisterHandler(g1)
	r.RegisterHandler(g2)

	got := r.FindHandlers("X")
	if len(got) != 2 || got[0] != g1 || got[1] != g2 {
		t.Errorf("FindHandlers order not preserved: %v", got)
	}
}

func TestRegistryGetAllCommandsDedup(t *testing.T) {
	r := NewRegistry()
	r.RegisterHandler(&fakeGroup{tokens: []string{"X", "E"}})
	r.RegisterHandler(&fakeGroup{tokens: []string{"X", "F"}})

	got := r.GetAllCommands()
	if len(got) != 3 {
		t.Errorf("GetAllCommands = %v, want 3 distinct tokens", got)
	}
}
