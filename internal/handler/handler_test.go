package handler

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cdpmock/internal/protocol"
	"cdpmock/internal/protocol/prototest"
	"cdpmock/pkg/model"
	"cdpmock/pkg/traffic"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticRules struct {
	mu    sync.Mutex
	rules []model.Rule
	reads atomic.Int32
}

func (s *staticRules) Rules() []model.Rule {
	s.reads.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rules
}

func (s *staticRules) set(rs []model.Rule) {
	s.mu.Lock()
	s.rules = rs
	s.mu.Unlock()
}

type fakeSessions struct {
	mu       sync.Mutex
	enabled  bool
	attached map[model.TabID]bool
	detached []model.TabID
	closed   []model.TabID
}

func newFakeSessions(tabs ...model.TabID) *fakeSessions {
	s := &fakeSessions{enabled: true, attached: make(map[model.TabID]bool)}
	for _, t := range tabs {
		s.attached[t] = true
	}
	return s
}

func (s *fakeSessions) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

func (s *fakeSessions) IsAttached(tab model.TabID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attached[tab]
}

func (s *fakeSessions) OnExternalDetach(tab model.TabID, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attached, tab)
	s.detached = append(s.detached, tab)
}

func (s *fakeSessions) OnTabClosed(ctx context.Context, tab model.TabID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attached, tab)
	s.closed = append(s.closed, tab)
}

type harness struct {
	fake     *prototest.Fake
	rules    *staticRules
	sessions *fakeSessions
	events   chan model.Event
	cancel   context.CancelFunc
	done     chan error
}

func startHarness(t *testing.T, concurrency int, rs ...model.Rule) *harness {
	t.Helper()
	h := &harness{
		fake:     prototest.New(),
		rules:    &staticRules{rules: rs},
		sessions: newFakeSessions("tab"),
		events:   make(chan model.Event, 64),
		done:     make(chan error, 1),
	}
	eng := New(Config{
		Debugger:    h.fake,
		Rules:       h.rules,
		Sessions:    h.sessions,
		Events:      h.events,
		Concurrency: concurrency,
	})
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- eng.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-h.done
	})
	return h
}

func (h *harness) next(t *testing.T) prototest.Call {
	t.Helper()
	select {
	case c := <-h.fake.Resolved():
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the paused request to be resolved")
		return prototest.Call{}
	}
}

func (h *harness) noMore(t *testing.T) {
	t.Helper()
	select {
	case c := <-h.fake.Resolved():
		t.Fatalf("unexpected extra resolution: %+v", c)
	case <-time.After(50 * time.Millisecond):
	}
}

func pause(id, method, url string, headers traffic.Headers) model.PausedRequest {
	return model.PausedRequest{Tab: "tab", ID: model.RequestID(id), Method: method, URL: url, Headers: headers}
}

func TestPreflightBypassesRules(t *testing.T) {
	h := startHarness(t, 0, model.Rule{Pattern: ".*", Enabled: true, StatusCode: 500})

	h.fake.Pause(pause("r1", "OPTIONS", "https://x.test/api", nil))

	c := h.next(t)
	assert.Equal(t, prototest.MethodContinue, c.Method)
	assert.Equal(t, model.RequestID("r1"), c.RequestID)
	assert.Zero(t, h.rules.reads.Load(), "rules are never consulted for preflights")
	h.noMore(t)
}

func TestFulfillsMatchedRuleWithStatus(t *testing.T) {
	h := startHarness(t, 0, model.Rule{Pattern: "api/users", StatusCode: 404, Enabled: true})

	h.fake.Pause(pause("r1", "GET", "https://x.test/api/users/1", nil))

	c := h.next(t)
	require.Equal(t, prototest.MethodFulfill, c.Method)
	assert.Equal(t, 404, c.Response.StatusCode)
	assert.Empty(t, c.Response.Body)
	h.noMore(t)

	evt := <-h.events
	assert.Equal(t, EventFulfilled, evt.Type)
	require.NotNil(t, evt.Rule)
	assert.Equal(t, 0, *evt.Rule)
	assert.NotEmpty(t, evt.ID)
}

func TestDisabledRuleIsSkipped(t *testing.T) {
	h := startHarness(t, 0,
		model.Rule{Pattern: ".*", Enabled: false},
		model.Rule{Pattern: "foo", StatusCode: 500, Enabled: true},
	)

	h.fake.Pause(pause("r1", "GET", "https://x.test/foo", nil))

	c := h.next(t)
	require.Equal(t, prototest.MethodFulfill, c.Method)
	assert.Equal(t, 500, c.Response.StatusCode)
}

func TestDelayedRuleDoesNotBlockOthers(t *testing.T) {
	h := startHarness(t, 0,
		model.Rule{Pattern: "slow", DelayMS: 50, Enabled: true},
		model.Rule{Pattern: "fast", Enabled: true},
	)

	start := time.Now()
	h.fake.Pause(pause("slow", "GET", "https://x.test/slow", nil))
	h.fake.Pause(pause("fast", "GET", "https://x.test/fast", nil))
	h.fake.Pause(pause("none", "GET", "https://x.test/other", nil))

	var order []model.RequestID
	var slowAt time.Time
	for range 3 {
		c := h.next(t)
		order = append(order, c.RequestID)
		if c.RequestID == "slow" {
			slowAt = c.At
			assert.Equal(t, prototest.MethodFulfill, c.Method)
		}
	}

	assert.Equal(t, model.RequestID("slow"), order[2], "delayed request resolves last")
	assert.GreaterOrEqual(t, slowAt.Sub(start), 50*time.Millisecond)
}

func TestFulfillEchoesRequestOrigin(t *testing.T) {
	h := startHarness(t, 0, model.Rule{Pattern: "api", Enabled: true})

	hdrs, err := traffic.ParseHeaders([]byte(`{"Accept":"*/*","Origin":"https://app.test"}`))
	require.NoError(t, err)
	h.fake.Pause(pause("r1", "GET", "https://x.test/api", hdrs))

	c := h.next(t)
	require.Equal(t, prototest.MethodFulfill, c.Method)
	v, ok := c.Response.Headers.Get("Access-Control-Allow-Origin")
	assert.True(t, ok)
	assert.Equal(t, "https://app.test", v)
}

func TestInvalidPatternFallsThroughToNextRule(t *testing.T) {
	h := startHarness(t, 0,
		model.Rule{Pattern: "(", Enabled: true, StatusCode: 500},
		model.Rule{Pattern: "users", Enabled: true, StatusCode: 201},
	)

	h.fake.Pause(pause("r1", "POST", "https://x.test/users", nil))

	c := h.next(t)
	require.Equal(t, prototest.MethodFulfill, c.Method)
	assert.Equal(t, 201, c.Response.StatusCode)
}

func TestStructuredBodyReachesProtocol(t *testing.T) {
	body, err := model.JSONBody(map[string]int{"a": 1})
	require.NoError(t, err)
	h := startHarness(t, 0, model.Rule{Pattern: "api", Enabled: true, ResponseBody: body})

	h.fake.Pause(pause("r1", "GET", "https://x.test/api", nil))

	c := h.next(t)
	require.Equal(t, prototest.MethodFulfill, c.Method)
	decoded, err := base64.StdEncoding.DecodeString(c.Response.EncodedBody())
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(decoded))
}

func TestNoMatchPassesThrough(t *testing.T) {
	h := startHarness(t, 0, model.Rule{Pattern: "api", Enabled: true})

	h.fake.Pause(pause("r1", "GET", "https://x.test/static/app.js", nil))

	c := h.next(t)
	assert.Equal(t, prototest.MethodContinue, c.Method)
	h.noMore(t)
	assert.Equal(t, EventPassed, (<-h.events).Type)
}

func TestInactiveSessionPassesThrough(t *testing.T) {
	h := startHarness(t, 0, model.Rule{Pattern: ".*", Enabled: true})
	h.sessions.mu.Lock()
	h.sessions.enabled = false
	h.sessions.mu.Unlock()

	h.fake.Pause(pause("r1", "GET", "https://x.test/a", nil))
	assert.Equal(t, prototest.MethodContinue, h.next(t).Method)

	h.sessions.mu.Lock()
	h.sessions.enabled = true
	h.sessions.mu.Unlock()
	h.fake.Pause(model.PausedRequest{Tab: "unknown", ID: "r2", Method: "GET", URL: "https://x.test/a"})
	assert.Equal(t, prototest.MethodContinue, h.next(t).Method)
}

func TestFulfillFailureFallsBackToContinue(t *testing.T) {
	h := startHarness(t, 0, model.Rule{Pattern: "api", Enabled: true})
	h.fake.FulfillErr = errors.New("Invalid InterceptionId")

	h.fake.Pause(pause("r1", "GET", "https://x.test/api", nil))

	assert.Equal(t, prototest.MethodFulfill, h.next(t).Method)
	c := h.next(t)
	assert.Equal(t, prototest.MethodContinue, c.Method)
	assert.Equal(t, model.RequestID("r1"), c.RequestID)
	h.noMore(t)

	evt := <-h.events
	assert.Equal(t, EventFallback, evt.Type)
	assert.Contains(t, evt.Error, "Invalid InterceptionId")
}

func TestFallbackFailureIsNotRetried(t *testing.T) {
	h := startHarness(t, 0, model.Rule{Pattern: "api", Enabled: true})
	h.fake.FulfillErr = errors.New("session closed")
	h.fake.ContinueErr = errors.New("session closed")

	h.fake.Pause(pause("r1", "GET", "https://x.test/api", nil))

	assert.Equal(t, prototest.MethodFulfill, h.next(t).Method)
	assert.Equal(t, prototest.MethodContinue, h.next(t).Method)
	h.noMore(t)
	assert.Equal(t, EventFailed, (<-h.events).Type)
}

func TestSynthesisFailureFallsBackToContinue(t *testing.T) {
	h := startHarness(t, 0, model.Rule{Pattern: "api", Enabled: true, ResponseBody: model.TextBody("\xff")})

	h.fake.Pause(pause("r1", "GET", "https://x.test/api", nil))

	assert.Equal(t, prototest.MethodContinue, h.next(t).Method)
	h.noMore(t)
	assert.Zero(t, h.fake.Count(prototest.MethodFulfill))
}

func TestSnapshotSurvivesRuleEditsDuringDelay(t *testing.T) {
	h := startHarness(t, 0, model.Rule{Pattern: "api", Enabled: true, StatusCode: 202, DelayMS: 50})

	h.fake.Pause(pause("r1", "GET", "https://x.test/api", nil))
	require.Eventually(t, func() bool { return h.rules.reads.Load() > 0 }, time.Second, time.Millisecond)
	h.rules.set(nil)

	c := h.next(t)
	require.Equal(t, prototest.MethodFulfill, c.Method)
	assert.Equal(t, 202, c.Response.StatusCode)
}

func TestSaturatedPoolDegradesToContinue(t *testing.T) {
	h := startHarness(t, 1, model.Rule{Pattern: "slow", Enabled: true, DelayMS: 200})

	h.fake.Pause(pause("slow", "GET", "https://x.test/slow", nil))
	require.Eventually(t, func() bool { return h.rules.reads.Load() > 0 }, time.Second, time.Millisecond)
	h.fake.Pause(pause("extra", "GET", "https://x.test/slow", nil))

	c := h.next(t)
	assert.Equal(t, model.RequestID("extra"), c.RequestID)
	assert.Equal(t, prototest.MethodContinue, c.Method)

	c = h.next(t)
	assert.Equal(t, model.RequestID("slow"), c.RequestID)
	assert.Equal(t, prototest.MethodFulfill, c.Method)
}

func TestSessionEventsAreRouted(t *testing.T) {
	h := startHarness(t, 0)

	h.fake.Emit(protocol.Event{Type: protocol.EventSessionDetached, Tab: "tab", Reason: "canceled_by_user"})
	h.fake.Emit(protocol.Event{Type: protocol.EventTabClosed, Tab: "other"})

	require.Eventually(t, func() bool {
		h.sessions.mu.Lock()
		defer h.sessions.mu.Unlock()
		return len(h.sessions.detached) == 1 && len(h.sessions.closed) == 1
	}, time.Second, time.Millisecond)
	assert.False(t, h.sessions.IsAttached("tab"))
}

func TestRunReturnsWhenStreamCloses(t *testing.T) {
	fake := prototest.New()
	eng := New(Config{Debugger: fake, Rules: &staticRules{}, Sessions: newFakeSessions()})
	fake.Close()
	assert.NoError(t, eng.Run(context.Background()))
}
