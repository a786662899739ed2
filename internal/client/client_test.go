package client

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"

	"cdpmock/internal/service"
	"cdpmock/internal/web"
	"cdpmock/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type memRules struct {
	mu    sync.Mutex
	rules []model.Rule
}

func (m *memRules) LoadAll(ctx context.Context) ([]model.Rule, error) { return nil, nil }
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
	return model.Status{Enabled: s.enabled, AttachedTabs: []model.TabID{}}
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	svc := service.New(service.Options{Store: &memRules{}, Sessions: &stubSessions{}})
	srv, err := web.NewServer("127.0.0.1:0", svc, nil)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return New(ts.URL)
}

func TestBuildRule(t *testing.T) {
	doc, err := BuildRule(RuleInput{
		Pattern:    "api/users",
		StatusCode: 201,
		DelayMS:    20,
		Body:       `{"id":1}`,
		BodyIsJSON: true,
		Headers:    []string{"Set-Cookie: a=1", "Set-Cookie: b=2"},
	})
	require.NoError(t, err)

	res := gjson.ParseBytes(doc)
	assert.Equal(t, "api/users", res.Get("urlPattern").String())
	assert.True(t, res.Get("enabled").Bool())
	assert.Equal(t, int64(201), res.Get("statusCode").Int())
	assert.Equal(t, int64(20), res.Get("delay").Int())
	assert.Equal(t, int64(1), res.Get("responseBody.id").Int())
	assert.Equal(t, []string{"a=1", "b=2"}, []string{
		res.Get("responseHeaders.0.value").String(),
		res.Get("responseHeaders.1.value").String(),
	})
}

func TestBuildRuleErrors(t *testing.T) {
	_, err := BuildRule(RuleInput{})
	assert.ErrorIs(t, err, ErrBadRuleInput)
	_, err = BuildRule(RuleInput{Pattern: "x", Body: "{", BodyIsJSON: true})
	assert.ErrorIs(t, err, ErrBadRuleInput)
	_, err = BuildRule(RuleInput{Pattern: "x", Headers: []string{"no-colon"}})
	assert.ErrorIs(t, err, ErrBadRuleInput)
}

func TestClientRoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.SetEnabled(ctx, true))
	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.Enabled)

	doc, err := BuildRule(RuleInput{Pattern: "api/a", Body: "hello"})
	require.NoError(t, err)
	require.NoError(t, c.AddRule(ctx, doc))
	require.NoError(t, c.ToggleRule(ctx, 0))

	rules, err := c.ListRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "hello", rules[0].ResponseBody.Text)
	assert.False(t, rules[0].Enabled)

	err = c.DeleteRule(ctx, 4)
	assert.ErrorIs(t, err, ErrAPI)
	assert.Contains(t, err.Error(), "Invalid index")

	require.NoError(t, c.ClearRules(ctx))
	rules, err = c.ListRules(ctx)
	require.NoError(t, err)
	assert.Empty(t, rules)
}
