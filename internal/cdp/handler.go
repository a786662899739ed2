package cdp

import (
	"context"
	"time"

	adapter "cdpmock/internal/adapter/cdp"
	"cdpmock/internal/protocol"

	"github.com/mafredri/cdp/protocol/fetch"
)

const listTimeout = 2 * time.Second

// consume 持续接收暂停事件并转换为中立事件投递
func (m *Manager) consume(ts *targetSession, rp fetch.RequestPausedClient) {
	defer m.wg.Done()
	defer rp.Close()

	m.log.Info("开始消费拦截事件流", "tab", string(ts.id))
	for {
		ev, err := rp.Recv()
		if err != nil {
			m.handleTargetStreamClosed(ts, err)
			return
		}
		req := adapter.ToPausedRequest(ts.id, ev)
		m.emit(protocol.Event{Type: protocol.EventRequestPaused, Tab: ts.id, Request: &req})
	}
}

// watchDetached 监听调试器被外部断开
func (m *Manager) watchDetached(ts *targetSession) {
	defer m.wg.Done()

	detached, err := ts.client.Inspector.Detached(ts.ctx)
	if err != nil {
		m.log.Err(err, "订阅断开事件失败", "tab", string(ts.id))
		return
	}
	defer detached.Close()

	if err := ts.client.Inspector.Enable(ts.ctx); err != nil {
		m.log.Debug("开启 Inspector 域失败", "tab", string(ts.id), "error", err)
	}

	ev, err := detached.Recv()
	if err != nil {
		m.handleTargetStreamClosed(ts, err)
		return
	}
	if m.drop(ts) {
		m.log.Warn("调试器被外部断开", "tab", string(ts.id), "reason", ev.Reason)
		m.reportLost(ts, ev.Reason)
	}
}

// handleTargetStreamClosed 处理单个目标的事件流终止；主动断开时静默返回
func (m *Manager) handleTargetStreamClosed(ts *targetSession, err error) {
	if ts.ctx.Err() != nil {
		return
	}
	if !m.drop(ts) {
		return
	}

	m.log.Warn("事件流被中断，自动移除目标", "tab", string(ts.id), "error", err)
	m.reportLost(ts, "target_closed")
}

// reportLost 目标已不在列表中时上报标签页关闭，否则上报会话断开
func (m *Manager) reportLost(ts *targetSession, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), listTimeout)
	defer cancel()
	if m.tabExists(ctx, ts) {
		m.emit(protocol.Event{Type: protocol.EventSessionDetached, Tab: ts.id, Reason: reason})
		return
	}
	m.emit(protocol.Event{Type: protocol.EventTabClosed, Tab: ts.id})
}

// tabExists 查询目标是否仍存在；查询失败按已关闭处理
func (m *Manager) tabExists(ctx context.Context, ts *targetSession) bool {
	targets, err := m.dt.List(ctx)
	if err != nil {
		return false
	}
	for _, t := range targets {
		if t.ID == string(ts.id) {
			return true
		}
	}
	return false
}

// emit 投递事件；关闭过程中丢弃
func (m *Manager) emit(ev protocol.Event) {
	select {
	case m.events <- ev:
	case <-m.done:
	}
}
