package cdp

import (
	"context"
	"errors"
	"fmt"
	"sync"

	adapter "cdpmock/internal/adapter/cdp"
	"cdpmock/internal/ctxkeys"
	"cdpmock/internal/logger"
	"cdpmock/internal/protocol"
	"cdpmock/internal/synth"
	"cdpmock/pkg/model"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/rpcc"
)

var (
	ErrNoTarget    = errors.New("no target")
	ErrNotAttached = errors.New("not attached")
	ErrClosed      = errors.New("debugger closed")
)

const defaultEventBuffer = 256

// targetSession 单个标签页的调试连接
type targetSession struct {
	id     model.TabID
	conn   *rpcc.Conn
	client *cdp.Client
	ctx    context.Context
	cancel context.CancelFunc
}

// Manager 基于 DevTools 协议的调试器实现
type Manager struct {
	dt *devtool.DevTools

	targetsMu sync.Mutex
	targets   map[model.TabID]*targetSession
	closed    bool

	events chan protocol.Event
	done   chan struct{}
	wg     sync.WaitGroup
	log    logger.Logger
}

// New 创建调试器，devtoolsURL 形如 http://127.0.0.1:9222
func New(devtoolsURL string, l logger.Logger) *Manager {
	if l == nil {
		l = logger.NewNop()
	}
	return &Manager{
		dt:      devtool.New(devtoolsURL),
		targets: make(map[model.TabID]*targetSession),
		events:  make(chan protocol.Event, defaultEventBuffer),
		done:    make(chan struct{}),
		log:     l,
	}
}

// ActiveTab 返回浏览器中第一个页面类型的目标
func (m *Manager) ActiveTab(ctx context.Context) (model.TabID, error) {
	targets, err := m.dt.List(ctx)
	if err != nil {
		return "", err
	}
	for _, t := range targets {
		if t.Type == devtool.Page {
			return model.TabID(t.ID), nil
		}
	}
	return "", ErrNoTarget
}

// Attach 连接到指定标签页
func (m *Manager) Attach(ctx context.Context, tab model.TabID) error {
	m.targetsMu.Lock()
	if m.closed {
		m.targetsMu.Unlock()
		return ErrClosed
	}
	_, exists := m.targets[tab]
	m.targetsMu.Unlock()
	if exists {
		return nil
	}

	targets, err := m.dt.List(ctx)
	if err != nil {
		return err
	}
	var sel *devtool.Target
	for _, t := range targets {
		if model.TabID(t.ID) == tab {
			sel = t
			break
		}
	}
	if sel == nil {
		return fmt.Errorf("%w: %s", ErrNoTarget, tab)
	}

	conn, err := rpcc.DialContext(ctx, sel.WebSocketDebuggerURL)
	if err != nil {
		return err
	}
	sctx, cancel := context.WithCancel(context.Background())
	ts := &targetSession{
		id:     tab,
		conn:   conn,
		client: cdp.NewClient(conn),
		ctx:    sctx,
		cancel: cancel,
	}

	m.targetsMu.Lock()
	if m.closed {
		m.targetsMu.Unlock()
		m.closeTargetSession(ts)
		return ErrClosed
	}
	if _, ok := m.targets[tab]; ok {
		m.targetsMu.Unlock()
		m.closeTargetSession(ts)
		return nil
	}
	m.targets[tab] = ts
	m.wg.Add(1)
	m.targetsMu.Unlock()

	go m.watchDetached(ts)
	m.log.Info("已连接目标", "tab", string(tab), "title", sel.Title)
	return nil
}

// Detach 断开指定标签页；先尽力关闭拦截再断开连接
func (m *Manager) Detach(ctx context.Context, tab model.TabID) error {
	ts, err := m.get(tab)
	if err != nil {
		return err
	}
	if err := ts.client.Fetch.Disable(ctx); err != nil {
		m.log.Debug("关闭拦截失败", "tab", string(tab), "error", err)
	}
	m.drop(ts)
	m.log.Info("已断开目标", "tab", string(tab))
	return nil
}

// EnableNetwork 开启网络域
func (m *Manager) EnableNetwork(ctx context.Context, tab model.TabID) error {
	ts, err := m.get(tab)
	if err != nil {
		return err
	}
	return ts.client.Network.Enable(ctx, nil)
}

// EnableInterception 在请求阶段暂停匹配的请求
func (m *Manager) EnableInterception(ctx context.Context, tab model.TabID, patterns []string) error {
	ts, err := m.get(tab)
	if err != nil {
		return err
	}

	// 先订阅再开启，避免丢失开启后立即到达的暂停事件
	rp, err := ts.client.Fetch.RequestPaused(ts.ctx)
	if err != nil {
		return err
	}

	reqPatterns := make([]fetch.RequestPattern, 0, len(patterns))
	for i := range patterns {
		p := patterns[i]
		reqPatterns = append(reqPatterns, fetch.RequestPattern{URLPattern: &p, RequestStage: fetch.RequestStageRequest})
	}
	if err := ts.client.Fetch.Enable(ctx, &fetch.EnableArgs{Patterns: reqPatterns}); err != nil {
		_ = rp.Close()
		return err
	}

	m.targetsMu.Lock()
	if m.targets[tab] != ts {
		m.targetsMu.Unlock()
		_ = rp.Close()
		return fmt.Errorf("%w: %s", ErrNotAttached, tab)
	}
	m.wg.Add(1)
	m.targetsMu.Unlock()

	go m.consume(ts, rp)
	return nil
}

// ContinueRequest 原样放行
func (m *Manager) ContinueRequest(ctx context.Context, tab model.TabID, id model.RequestID) error {
	ts, err := m.get(tab)
	if err != nil {
		return err
	}
	if err := ts.client.Fetch.ContinueRequest(ctx, fetch.NewContinueRequestArgs(fetch.RequestID(id))); err != nil {
		return err
	}
	m.log.Debug("已放行请求", "tab", string(tab), "requestId", string(id), "traceId", traceID(ctx))
	return nil
}

// FulfillRequest 以合成响应完成请求；Body 由协议层编码为 base64
func (m *Manager) FulfillRequest(ctx context.Context, tab model.TabID, id model.RequestID, resp *synth.Response) error {
	ts, err := m.get(tab)
	if err != nil {
		return err
	}
	args := &fetch.FulfillRequestArgs{
		RequestID:       fetch.RequestID(id),
		ResponseCode:    resp.StatusCode,
		ResponseHeaders: adapter.ToHeaderEntries(resp.Headers),
	}
	if len(resp.Body) > 0 {
		args.Body = resp.Body
	}
	if err := ts.client.Fetch.FulfillRequest(ctx, args); err != nil {
		return err
	}
	m.log.Debug("已发送合成响应", "tab", string(tab), "requestId", string(id), "status", resp.StatusCode, "traceId", traceID(ctx))
	return nil
}

// traceID 取出拦截引擎写入的追踪 ID
func traceID(ctx context.Context) string {
	id, _ := ctx.Value(ctxkeys.TraceIDKey{}).(string)
	return id
}

// Events 类型化事件流，Close 后关闭
func (m *Manager) Events() <-chan protocol.Event {
	return m.events
}

// Close 断开所有目标并关闭事件流
func (m *Manager) Close() error {
	m.targetsMu.Lock()
	if m.closed {
		m.targetsMu.Unlock()
		return nil
	}
	m.closed = true
	close(m.done)
	sessions := make([]*targetSession, 0, len(m.targets))
	for id, ts := range m.targets {
		sessions = append(sessions, ts)
		delete(m.targets, id)
	}
	m.targetsMu.Unlock()

	for _, ts := range sessions {
		m.closeTargetSession(ts)
	}
	m.wg.Wait()
	close(m.events)
	m.log.Info("调试器已关闭")
	return nil
}

// get 查找已连接的目标
func (m *Manager) get(tab model.TabID) (*targetSession, error) {
	m.targetsMu.Lock()
	defer m.targetsMu.Unlock()
	ts, ok := m.targets[tab]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotAttached, tab)
	}
	return ts, nil
}

// drop 移除并关闭目标；仅当 ts 仍是当前会话时返回 true
func (m *Manager) drop(ts *targetSession) bool {
	m.targetsMu.Lock()
	cur, ok := m.targets[ts.id]
	current := ok && cur == ts
	if current {
		delete(m.targets, ts.id)
	}
	m.targetsMu.Unlock()

	m.closeTargetSession(ts)
	return current
}

// closeTargetSession 取消会话上下文并关闭连接
func (m *Manager) closeTargetSession(ts *targetSession) {
	ts.cancel()
	if err := ts.conn.Close(); err != nil {
		m.log.Debug("关闭目标连接失败", "tab", string(ts.id), "error", err)
	}
}
