// Package prototest provides an in-memory protocol.Debugger for tests.
package prototest

import (
	"context"
	"errors"
	"sync"
	"time"

	"cdpmock/internal/protocol"
	"cdpmock/internal/synth"
	"cdpmock/pkg/model"
)

// Call methods recorded by Fake.
const (
	MethodAttach       = "attach"
	MethodDetach       = "detach"
	MethodNetwork      = "network"
	MethodIntercept    = "intercept"
	MethodContinue     = "continue"
	MethodFulfill      = "fulfill"
	MethodActiveTabGet = "activeTab"
)

// ErrNoActiveTab is returned by ActiveTab when Fake.Active is empty.
var ErrNoActiveTab = errors.New("no active tab")

// Call is one recorded protocol call.
type Call struct {
	Method    string
	Tab       model.TabID
	RequestID model.RequestID
	Patterns  []string
	Response  *synth.Response
	At        time.Time
}

// Fake records every call and lets tests inject events and failures.
type Fake struct {
	mu    sync.Mutex
	calls []Call

	Active      model.TabID
	AttachErr   map[model.TabID]error
	NetworkErr  error
	DetachErr   map[model.TabID]error
	ContinueErr error
	FulfillErr  error

	// OnAttach, when set, runs inside Attach before it returns.
	OnAttach func(tab model.TabID)

	events   chan protocol.Event
	resolved chan Call
}

// New creates a Fake with buffered event and resolution channels.
func New() *Fake {
	return &Fake{
		AttachErr: make(map[model.TabID]error),
		DetachErr: make(map[model.TabID]error),
		events:    make(chan protocol.Event, 64),
		resolved:  make(chan Call, 64),
	}
}

// Emit delivers an event to the consumer.
func (f *Fake) Emit(ev protocol.Event) { f.events <- ev }

// Pause emits a request-paused event.
func (f *Fake) Pause(req model.PausedRequest) {
	f.Emit(protocol.Event{Type: protocol.EventRequestPaused, Tab: req.Tab, Request: &req})
}

// Close closes the event stream.
func (f *Fake) Close() { close(f.events) }

// Resolved yields every continue/fulfill call, successful or not.
func (f *Fake) Resolved() <-chan Call { return f.resolved }

// Calls returns a copy of the recorded calls.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// Count returns how many calls of method were recorded.
func (f *Fake) Count(method string) int {
	n := 0
	for _, c := range f.Calls() {
		if c.Method == method {
			n++
		}
	}
	return n
}

func (f *Fake) record(c Call) {
	c.At = time.Now()
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
	if c.Method == MethodContinue || c.Method == MethodFulfill {
		f.resolved <- c
	}
}

func (f *Fake) ActiveTab(ctx context.Context) (model.TabID, error) {
	f.record(Call{Method: MethodActiveTabGet})
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Active == "" {
		return "", ErrNoActiveTab
	}
	return f.Active, nil
}

func (f *Fake) Attach(ctx context.Context, tab model.TabID) error {
	f.record(Call{Method: MethodAttach, Tab: tab})
	f.mu.Lock()
	hook := f.OnAttach
	err := f.AttachErr[tab]
	f.mu.Unlock()
	if hook != nil {
		hook(tab)
	}
	return err
}

func (f *Fake) Detach(ctx context.Context, tab model.TabID) error {
	f.record(Call{Method: MethodDetach, Tab: tab})
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.DetachErr[tab]
}

func (f *Fake) EnableNetwork(ctx context.Context, tab model.TabID) error {
	f.record(Call{Method: MethodNetwork, Tab: tab})
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.NetworkErr
}

func (f *Fake) EnableInterception(ctx context.Context, tab model.TabID, patterns []string) error {
	f.record(Call{Method: MethodIntercept, Tab: tab, Patterns: patterns})
	return nil
}

func (f *Fake) ContinueRequest(ctx context.Context, tab model.TabID, id model.RequestID) error {
	f.mu.Lock()
	err := f.ContinueErr
	f.mu.Unlock()
	f.record(Call{Method: MethodContinue, Tab: tab, RequestID: id})
	return err
}

func (f *Fake) FulfillRequest(ctx context.Context, tab model.TabID, id model.RequestID, resp *synth.Response) error {
	f.mu.Lock()
	err := f.FulfillErr
	f.mu.Unlock()
	f.record(Call{Method: MethodFulfill, Tab: tab, RequestID: id, Response: resp})
	return err
}

func (f *Fake) Events() <-chan protocol.Event { return f.events }

var _ protocol.Debugger = (*Fake)(nil)
