package protocol

import (
	"context"

	"cdpmock/internal/synth"
	"cdpmock/pkg/model"
)

// EventType 调试协议事件类型
type EventType string

const (
	EventRequestPaused   EventType = "requestPaused"
	EventSessionDetached EventType = "sessionDetached"
	EventTabClosed       EventType = "tabClosed"
)

// Event 调试协议投递的类型化事件
type Event struct {
	Type    EventType
	Tab     model.TabID
	Request *model.PausedRequest // 仅 EventRequestPaused
	Reason  string               // 仅 EventSessionDetached
}

// Debugger 调试/拦截协议
type Debugger interface {
	// ActiveTab 返回当前活动标签页
	ActiveTab(ctx context.Context) (model.TabID, error)

	// Attach 建立调试会话
	Attach(ctx context.Context, tab model.TabID) error

	// Detach 断开调试会话
	Detach(ctx context.Context, tab model.TabID) error

	// EnableNetwork 开启网络事件
	EnableNetwork(ctx context.Context, tab model.TabID) error

	// EnableInterception 按 URL 模式开启请求暂停
	EnableInterception(ctx context.Context, tab model.TabID, patterns []string) error

	// ContinueRequest 原样放行暂停的请求
	ContinueRequest(ctx context.Context, tab model.TabID, id model.RequestID) error

	// FulfillRequest 以合成响应完成暂停的请求
	FulfillRequest(ctx context.Context, tab model.TabID, id model.RequestID, resp *synth.Response) error

	// Events 事件流，调试器关闭时关闭
	Events() <-chan Event
}
