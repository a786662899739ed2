package web

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"cdpmock/internal/service"
	"cdpmock/pkg/api"
	"cdpmock/pkg/model"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type memRules struct {
	mu    sync.Mutex
	rules []model.Rule
}

func (m *memRules) LoadAll(ctx context.Context) ([]model.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rules, nil
}

func (m *memRules) SaveAll(ctx context.Context, rules []model.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = rules
	return nil
}

type stubSessions struct {
	mu      sync.Mutex
	enabled bool
}

func (s *stubSessions) Restore(ctx context.Context) error { return nil }
func (s *stubSessions) Enable(ctx context.Context) error  { s.set(true); return nil }
func (s *stubSessions) Disable(ctx context.Context) error { s.set(false); return nil }
func (s *stubSessions) set(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = v
}
func (s *stubSessions) Status() model.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.Status{Enabled: s.enabled}
}

func newTestServer(t *testing.T) (*httptest.Server, *service.Service) {
	t.Helper()
	svc := service.New(service.Options{Store: &memRules{}, Sessions: &stubSessions{}})
	require.NoError(t, svc.Load(context.Background()))

	var facade api.Service = svc
	s, err := NewServer("127.0.0.1:0", facade, nil)
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts, svc
}

func call(t *testing.T, method, url, body string) (int, gjson.Result) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, gjson.ParseBytes(raw)
}

func TestStatusAndEnable(t *testing.T) {
	ts, _ := newTestServer(t)

	code, res := call(t, http.MethodGet, ts.URL+"/api/status", "")
	assert.Equal(t, http.StatusOK, code)
	assert.False(t, res.Get("isEnabled").Bool())
	assert.True(t, res.Get("attachedTabs").IsArray())

	code, res = call(t, http.MethodPost, ts.URL+"/api/enabled", `{"enabled":true}`)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, res.Get("success").Bool())

	_, res = call(t, http.MethodGet, ts.URL+"/api/status", "")
	assert.True(t, res.Get("isEnabled").Bool())

	code, res = call(t, http.MethodPost, ts.URL+"/api/enabled", `{"enabled":"yes"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, res.Get("success").Bool())
}

func TestRuleCRUD(t *testing.T) {
	ts, svc := newTestServer(t)

	code, res := call(t, http.MethodPost, ts.URL+"/api/rules", `{"urlPattern":"api/a","enabled":true,"responseBody":{"a":1}}`)
	require.Equal(t, http.StatusOK, code, res.Raw)
	_, _ = call(t, http.MethodPost, ts.URL+"/api/rules", `{"urlPattern":"api/b","enabled":true,"statusCode":404}`)

	_, res = call(t, http.MethodGet, ts.URL+"/api/rules", "")
	assert.Equal(t, []string{"api/a", "api/b"}, []string{res.Get("rules.0.urlPattern").String(), res.Get("rules.1.urlPattern").String()})
	assert.Equal(t, int64(1), res.Get("rules.0.responseBody.a").Int())

	code, _ = call(t, http.MethodPut, ts.URL+"/api/rules/1", `{"urlPattern":"api/B","enabled":false}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "api/B", svc.Rules()[1].Pattern)

	code, _ = call(t, http.MethodPost, ts.URL+"/api/rules/1/toggle", "")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, svc.Rules()[1].Enabled)

	code, _ = call(t, http.MethodDelete, ts.URL+"/api/rules/0", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, svc.Rules(), 1)

	code, _ = call(t, http.MethodDelete, ts.URL+"/api/rules", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, svc.Rules())
}

func TestInvalidIndexEnvelope(t *testing.T) {
	ts, _ := newTestServer(t)

	for _, tc := range []struct{ method, path, body string }{
		{http.MethodPut, "/api/rules/3", `{"urlPattern":"x"}`},
		{http.MethodDelete, "/api/rules/0", ""},
		{http.MethodPost, "/api/rules/-1/toggle", ""},
		{http.MethodDelete, "/api/rules/abc", ""},
	} {
		code, res := call(t, tc.method, ts.URL+tc.path, tc.body)
		assert.Equal(t, http.StatusBadRequest, code, tc.path)
		assert.False(t, res.Get("success").Bool())
		assert.Equal(t, "Invalid index", res.Get("error").String())
	}
}

func TestRuleValidation(t *testing.T) {
	ts, svc := newTestServer(t)

	code, res := call(t, http.MethodPost, ts.URL+"/api/rules", `{"enabled":true}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, res.Get("error").String(), "invalid rule")
	assert.Empty(t, svc.Rules())
}

func TestRuleSchemaEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	code, res := call(t, http.MethodGet, ts.URL+"/api/schema/rule", "")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, res.Get("properties.urlPattern").Exists())
}

func TestCORSPreflight(t *testing.T) {
	ts, _ := newTestServer(t)
	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/rules", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestEventsStream(t *testing.T) {
	ts, svc := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.RunEvents(ctx) }()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// 订阅在升级后建立，重复投递直到收到
	deadline := time.Now().Add(2 * time.Second)
	_ = conn.SetReadDeadline(deadline)
	received := make(chan Message, 1)
	go func() {
		var msg Message
		if err := conn.ReadJSON(&msg); err == nil {
			received <- msg
		}
	}()
	for {
		svc.EventSink() <- model.Event{Type: "fulfilled", URL: "https://x.test/api"}
		select {
		case msg := <-received:
			assert.Equal(t, "event", msg.Type)
			assert.Equal(t, "fulfilled", msg.Data.Type)
			return
		case <-time.After(50 * time.Millisecond):
		}
		if time.Now().After(deadline) {
			t.Fatal("no event received")
		}
	}
}
