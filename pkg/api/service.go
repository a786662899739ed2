package api

import (
	"context"

	"cdpmock/internal/service"
	"cdpmock/pkg/model"
)

// Service 服务接口
type Service interface {
	// GetStatus 获取拦截开关与已附加标签页
	GetStatus() model.Status

	// SetEnabled 打开或关闭拦截
	SetEnabled(ctx context.Context, enabled bool) error

	// ListRules 列出规则
	ListRules() []model.Rule

	// AddRule 追加规则
	AddRule(ctx context.Context, r model.Rule) error

	// UpdateRule 替换规则
	UpdateRule(ctx context.Context, index int, r model.Rule) error

	// DeleteRule 删除规则
	DeleteRule(ctx context.Context, index int) error

	// ToggleRule 切换规则启用状态
	ToggleRule(ctx context.Context, index int) error

	// ClearAllRules 清空规则
	ClearAllRules(ctx context.Context) error

	// SubscribeEvents 订阅事件
	SubscribeEvents() (<-chan model.Event, func())
}

// ErrInvalidIndex 规则下标越界
var ErrInvalidIndex = service.ErrInvalidIndex

