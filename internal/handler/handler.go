package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cdpmock/internal/ctxkeys"
	"cdpmock/internal/logger"
	"cdpmock/internal/protocol"
	"cdpmock/internal/rules"
	"cdpmock/internal/synth"
	"cdpmock/pkg/model"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ErrResolution 放行或完成暂停请求的协议调用失败
var ErrResolution = errors.New("resolution failed")

// 事件类型
const (
	EventPassed    = "passed"
	EventPreflight = "preflight"
	EventFulfilled = "fulfilled"
	EventFallback  = "fallback"
	EventDegraded  = "degraded"
	EventFailed    = "failed"
)

const defaultProcessTimeout = 3 * time.Second

// RuleSource 提供规则列表的时间点快照
type RuleSource interface {
	Rules() []model.Rule
}

// SessionState 会话状态：只读查询 + 协议事件回调
type SessionState interface {
	Enabled() bool
	IsAttached(tab model.TabID) bool
	OnExternalDetach(tab model.TabID, reason string)
	OnTabClosed(ctx context.Context, tab model.TabID)
}

// Config 配置选项
type Config struct {
	Debugger         protocol.Debugger
	Rules            RuleSource
	Sessions         SessionState
	Matcher          *rules.Matcher
	Events           chan model.Event
	Concurrency      int // <=0 不限制
	ProcessTimeoutMS int
	Logger           logger.Logger
}

// Handler 拦截引擎：消费暂停事件，匹配规则，合成响应或放行
type Handler struct {
	dbg            protocol.Debugger
	rules          RuleSource
	sessions       SessionState
	matcher        *rules.Matcher
	events         chan model.Event
	concurrency    int
	processTimeout time.Duration
	log            logger.Logger
}

// New 创建拦截引擎
func New(cfg Config) *Handler {
	l := cfg.Logger
	if l == nil {
		l = logger.NewNop()
	}
	m := cfg.Matcher
	if m == nil {
		m = rules.NewMatcher(0, l)
	}
	to := time.Duration(cfg.ProcessTimeoutMS) * time.Millisecond
	if to <= 0 {
		to = defaultProcessTimeout
	}
	return &Handler{
		dbg:            cfg.Debugger,
		rules:          cfg.Rules,
		sessions:       cfg.Sessions,
		matcher:        m,
		events:         cfg.Events,
		concurrency:    cfg.Concurrency,
		processTimeout: to,
		log:            l,
	}
}

// Run 持续消费协议事件，直到 ctx 取消或事件流关闭；返回前等待所有在途请求处理完成
func (h *Handler) Run(ctx context.Context) error {
	g := new(errgroup.Group)
	if h.concurrency > 0 {
		g.SetLimit(h.concurrency)
	}

	h.log.Info("开始消费拦截事件流", "concurrency", h.concurrency)
	events := h.dbg.Events()
	for {
		select {
		case <-ctx.Done():
			h.log.Info("停止消费拦截事件流")
			return g.Wait()
		case ev, ok := <-events:
			if !ok {
				h.log.Info("拦截事件流已关闭")
				return g.Wait()
			}
			h.dispatch(ctx, g, ev)
		}
	}
}

// dispatch 根据事件类型分发；暂停事件在独立 goroutine 中处理
func (h *Handler) dispatch(ctx context.Context, g *errgroup.Group, ev protocol.Event) {
	switch ev.Type {
	case protocol.EventRequestPaused:
		if ev.Request == nil {
			h.log.Warn("暂停事件缺少请求信息", "tab", string(ev.Tab))
			return
		}
		req := *ev.Request
		submitted := g.TryGo(func() error {
			h.Handle(ctx, req)
			return nil
		})
		if !submitted {
			h.degradeAndContinue(ctx, req, "并发已达上限")
		}
	case protocol.EventSessionDetached:
		h.sessions.OnExternalDetach(ev.Tab, ev.Reason)
	case protocol.EventTabClosed:
		h.sessions.OnTabClosed(ctx, ev.Tab)
	default:
		h.log.Debug("忽略未知事件", "type", string(ev.Type))
	}
}

// Handle 处理一次暂停请求，保证恰好调用一次放行或完成（失败时回退放行）
func (h *Handler) Handle(ctx context.Context, req model.PausedRequest) {
	traceID := uuid.NewString()
	ctx = context.WithValue(ctx, ctxkeys.TraceIDKey{}, traceID)
	l := h.log.With("traceId", traceID, "tab", string(req.Tab), "requestId", string(req.ID))
	start := time.Now()

	if !h.sessions.Enabled() || !h.sessions.IsAttached(req.Tab) {
		h.passThrough(ctx, req, EventPassed, l)
		l.Debug("拦截未启用，直接放行", "url", req.URL)
		return
	}

	if strings.EqualFold(req.Method, http.MethodOptions) {
		h.passThrough(ctx, req, EventPreflight, l)
		l.Debug("预检请求，直接放行", "url", req.URL)
		return
	}

	match, ok := h.matcher.Select(h.rules.Rules(), req.URL)
	if !ok {
		h.passThrough(ctx, req, EventPassed, l)
		l.Debug("请求处理完成，无匹配规则", "url", req.URL, "duration", time.Since(start))
		return
	}

	h.fulfill(ctx, req, match, l)
	l.Debug("请求处理完成", "url", req.URL, "rule", match.Index, "duration", time.Since(start))
}

// fulfill 等待规则延迟后合成响应并完成请求，任何失败都回退放行
func (h *Handler) fulfill(ctx context.Context, req model.PausedRequest, match *rules.Match, l logger.Logger) {
	if d := match.Rule.Delay(); d > 0 {
		t := time.NewTimer(d)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			l.Warn("延迟期间停止处理，回退放行", "url", req.URL)
			h.fallback(ctx, req, match.Index, ctx.Err(), l)
			return
		}
	}

	resp, err := synth.Synthesize(match.Rule, req.Headers)
	if err != nil {
		l.Err(err, "合成响应失败，回退放行", "url", req.URL, "rule", match.Index)
		h.fallback(ctx, req, match.Index, err, l)
		return
	}

	rctx, cancel := h.resolveContext(ctx)
	defer cancel()
	if err := h.dbg.FulfillRequest(rctx, req.Tab, req.ID, resp); err != nil {
		err = fmt.Errorf("%w: fulfill: %v", ErrResolution, err)
		l.Err(err, "完成请求失败，回退放行", "url", req.URL, "rule", match.Index)
		h.fallback(ctx, req, match.Index, err, l)
		return
	}

	idx := match.Index
	h.sendEvent(model.Event{
		Type:       EventFulfilled,
		Tab:        req.Tab,
		RequestID:  req.ID,
		URL:        req.URL,
		Method:     req.Method,
		Rule:       &idx,
		StatusCode: resp.StatusCode,
	})
	l.Info("请求已被拦截并替换响应", "url", req.URL, "rule", match.Index, "status", resp.StatusCode)
}

// fallback 完成失败后尝试原样放行；再次失败只记录，不重试
func (h *Handler) fallback(ctx context.Context, req model.PausedRequest, rule int, cause error, l logger.Logger) {
	rctx, cancel := h.resolveContext(ctx)
	defer cancel()

	evt := model.Event{
		Type:      EventFallback,
		Tab:       req.Tab,
		RequestID: req.ID,
		URL:       req.URL,
		Method:    req.Method,
		Rule:      &rule,
	}
	if cause != nil {
		evt.Error = cause.Error()
	}
	if err := h.dbg.ContinueRequest(rctx, req.Tab, req.ID); err != nil {
		l.Warn("回退放行失败", "url", req.URL, "error", err)
		evt.Type = EventFailed
		evt.Error = err.Error()
	}
	h.sendEvent(evt)
}

// passThrough 原样放行
func (h *Handler) passThrough(ctx context.Context, req model.PausedRequest, kind string, l logger.Logger) {
	rctx, cancel := h.resolveContext(ctx)
	defer cancel()

	evt := model.Event{Type: kind, Tab: req.Tab, RequestID: req.ID, URL: req.URL, Method: req.Method}
	if err := h.dbg.ContinueRequest(rctx, req.Tab, req.ID); err != nil {
		err = fmt.Errorf("%w: continue: %v", ErrResolution, err)
		l.Err(err, "放行请求失败", "url", req.URL)
		evt.Type = EventFailed
		evt.Error = err.Error()
	}
	h.sendEvent(evt)
}

// degradeAndContinue 统一的降级处理：直接放行请求
func (h *Handler) degradeAndContinue(ctx context.Context, req model.PausedRequest, reason string) {
	h.log.Warn("执行降级策略：直接放行", "tab", string(req.Tab), "reason", reason, "requestId", string(req.ID))
	rctx, cancel := h.resolveContext(ctx)
	defer cancel()

	evt := model.Event{Type: EventDegraded, Tab: req.Tab, RequestID: req.ID, URL: req.URL, Method: req.Method, Error: reason}
	if err := h.dbg.ContinueRequest(rctx, req.Tab, req.ID); err != nil {
		h.log.Err(fmt.Errorf("%w: continue: %v", ErrResolution, err), "降级放行失败", "requestId", string(req.ID))
		evt.Type = EventFailed
		evt.Error = err.Error()
	}
	h.sendEvent(evt)
}

// resolveContext 协议调用的超时上下文；不继承取消，以便关闭过程中仍能释放暂停的请求
func (h *Handler) resolveContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), h.processTimeout)
}

// sendEvent 安全发送事件到通道，自动添加 ID 与时间戳
func (h *Handler) sendEvent(evt model.Event) {
	if h.events == nil {
		return
	}
	evt.ID = uuid.NewString()
	evt.Timestamp = time.Now().UnixMilli()
	select {
	case h.events <- evt:
	default:
	}
}
