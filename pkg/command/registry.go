// Package command implements the CommandRegistry and the built-in RTS2
// protocol/auth handler groups. See SPEC_FULL.md §4.5.
package command

import (
	"fmt"
	"strings"

	"github.com/rts2go/rts2drv/pkg/conn"
	"github.com/rts2go/rts2drv/pkg/rlog"
)

// HandlerGroup is a pluggable object that claims a set of command tokens
// and handles them. Multiple groups may claim the same token; they fire
// in registration order (SPEC_FULL.md §4.5, §9).
type HandlerGroup interface {
	// Commands returns the fixed set of tokens this group handles.
	Commands() []string
	// NeedsResponse reports whether token expects a wire reply.
	NeedsResponse(token string) bool
	// Dispatch handles token on the given connection. params is the raw
	// remainder of the line after the token, exactly as received, so a
	// handler can apply its own split/maxsplit and quote-extraction
	// rules. It returns (success, result-text).
	Dispatch(token string, c *conn.Connection, params string) (bool, string)
}

// Registry stores an ordered list of handler groups and dispatches
// inbound tokens to them. Registering the same group (or the same
// token from different groups) more than once is legitimate and does
// not deduplicate — dispatch order equals registration order.
type Registry struct {
	groups []HandlerGroup
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// RegisterHandler appends g to the registry.
func (r *Registry) RegisterHandler(g HandlerGroup) {
	r.groups = append(r.groups, g)
}

// FindHandlers returns every registered group claiming token, in
// registration order.
func (r *Registry) FindHandlers(token string) []HandlerGroup {
	var out []HandlerGroup
	for _, g := range r.groups {
		for _, tok := range g.Commands() {
			if tok == token {
				out = append(out, g)
				break
			}
		}
	}
	return out
}

// CanHandle reports whether any registered group claims token.
func (r *Registry) CanHandle(token string) bool {
	return len(r.FindHandlers(token)) > 0
}

// NeedsResponse reports whether token expects a wire reply, per the
// first registered handler's declaration. Unknown tokens default to
// requiring a response, so the "unknown command" error path (SPEC_FULL.md
// §7) can report back to the caller.
func (r *Registry) NeedsResponse(token string) bool {
	handlers := r.FindHandlers(token)
	if len(handlers) == 0 {
		return true
	}
	return handlers[0].NeedsResponse(token)
}

// GetAllCommands returns every distinct token any registered group claims.
func (r *Registry) GetAllCommands() []string {
	seen := make(map[string]bool)
	var out []string
	for _, g := range r.groups {
		for _, tok := range g.Commands() {
			if !seen[tok] {
				seen[tok] = true
				out = append(out, tok)
			}
		}
	}
	return out
}

// Dispatch routes token to every claiming handler group in registration
// order. A command is overall-success if any handler succeeded; if it
// requires a response, the last successful handler's text is returned,
// or a failure summary if every handler failed.
func (r *Registry) Dispatch(token string, c *conn.Connection, params string) (handled, success bool, text string) {
	handlers := r.FindHandlers(token)
	if len(handlers) == 0 {
		return false, false, fmt.Sprintf("Unknown command: %s", token)
	}

	var causes []string
	var lastSuccessText string
	anySuccess := false

	for _, h := range handlers {
		ok, result := r.invoke(h, token, c, params)
		if ok {
			anySuccess = true
			lastSuccessText = result
		} else if result != "" {
			causes = append(causes, result)
		}
	}

	if anySuccess {
		return true, true, lastSuccessText
	}
	summary := strings.Join(causes, "; ")
	if summary == "" {
		summary = fmt.Sprintf("handler for %q failed", token)
	}
	return true, false, summary
}

// invoke calls a single handler's Dispatch, recovering a panic into a
// logged failure so one misbehaving handler group cannot break the
// dispatch chain for the others.
func (r *Registry) invoke(h HandlerGroup, token string, c *conn.Connection, params string) (ok bool, text string) {
	defer func() {
		if p := recover(); p != nil {
			rlog.WithToken(token).Errorf("handler panic: %v", p)
			ok = false
			text = fmt.Sprintf("internal error: %v", p)
		}
	}()
	return h.Dispatch(token, c, params)
}
