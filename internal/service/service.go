package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"cdpmock/internal/ctxkeys"
	"cdpmock/internal/logger"
	"cdpmock/pkg/model"
)

// ErrInvalidIndex 规则下标越界
var ErrInvalidIndex = errors.New("invalid index")

const defaultEventBuffer = 256

// RuleStore 规则列表的持久化
type RuleStore interface {
	LoadAll(ctx context.Context) ([]model.Rule, error)
	SaveAll(ctx context.Context, rules []model.Rule) error
}

// Sessions 全局开关与已附加标签页
type Sessions interface {
	Restore(ctx context.Context) error
	Enable(ctx context.Context) error
	Disable(ctx context.Context) error
	Status() model.Status
}

// Options 服务配置
type Options struct {
	Store    RuleStore
	Sessions Sessions
	Logger   logger.Logger
}

// Service 管理界面使用的控制面：规则增删改查与全局开关
type Service struct {
	mu    sync.Mutex
	rules atomic.Pointer[[]model.Rule]

	store    RuleStore
	sessions Sessions
	log      logger.Logger

	events chan model.Event
	subMu  sync.Mutex
	subs   map[chan model.Event]struct{}
}

// New 创建服务
func New(opts Options) *Service {
	l := opts.Logger
	if l == nil {
		l = logger.NewNop()
	}
	s := &Service{
		store:    opts.Store,
		sessions: opts.Sessions,
		log:      l,
		events:   make(chan model.Event, defaultEventBuffer),
		subs:     make(map[chan model.Event]struct{}),
	}
	empty := []model.Rule{}
	s.rules.Store(&empty)
	return s
}

// Load 启动时加载规则与开关
func (s *Service) Load(ctx context.Context) error {
	rs, err := s.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	if rs == nil {
		rs = []model.Rule{}
	}
	s.rules.Store(&rs)
	s.log.Info("规则已加载", "count", len(rs))

	if err := s.sessions.Restore(ctx); err != nil {
		return fmt.Errorf("restore state: %w", err)
	}
	return nil
}

// Rules 返回当前规则快照，调用方不得修改
func (s *Service) Rules() []model.Rule {
	return *s.rules.Load()
}

// GetStatus 返回全局开关与已附加标签页
func (s *Service) GetStatus() model.Status {
	return s.sessions.Status()
}

// SetEnabled 打开或关闭拦截
func (s *Service) SetEnabled(ctx context.Context, enabled bool) error {
	if enabled {
		return s.sessions.Enable(ctx)
	}
	return s.sessions.Disable(ctx)
}

// ListRules 返回规则列表副本
func (s *Service) ListRules() []model.Rule {
	cur := s.Rules()
	out := make([]model.Rule, len(cur))
	for i := range cur {
		out[i] = cur[i].Clone()
	}
	return out
}

// AddRule 在末尾追加规则
func (s *Service) AddRule(ctx context.Context, r model.Rule) error {
	return s.mutate(ctx, "add", func(rs []model.Rule) ([]model.Rule, error) {
		return append(rs, r.Clone()), nil
	})
}

// UpdateRule 替换指定下标的规则
func (s *Service) UpdateRule(ctx context.Context, index int, r model.Rule) error {
	return s.mutate(ctx, "update", func(rs []model.Rule) ([]model.Rule, error) {
		if !inRange(rs, index) {
			return nil, fmt.Errorf("%w: %d", ErrInvalidIndex, index)
		}
		rs[index] = r.Clone()
		return rs, nil
	})
}

// DeleteRule 删除指定下标的规则，后续规则前移
func (s *Service) DeleteRule(ctx context.Context, index int) error {
	return s.mutate(ctx, "delete", func(rs []model.Rule) ([]model.Rule, error) {
		if !inRange(rs, index) {
			return nil, fmt.Errorf("%w: %d", ErrInvalidIndex, index)
		}
		return append(rs[:index], rs[index+1:]...), nil
	})
}

// ToggleRule 翻转指定规则的启用状态
func (s *Service) ToggleRule(ctx context.Context, index int) error {
	return s.mutate(ctx, "toggle", func(rs []model.Rule) ([]model.Rule, error) {
		if !inRange(rs, index) {
			return nil, fmt.Errorf("%w: %d", ErrInvalidIndex, index)
		}
		rs[index].Enabled = !rs[index].Enabled
		return rs, nil
	})
}

// ClearAllRules 清空规则
func (s *Service) ClearAllRules(ctx context.Context) error {
	return s.mutate(ctx, "clear", func([]model.Rule) ([]model.Rule, error) {
		return []model.Rule{}, nil
	})
}

// mutate 在副本上修改，持久化成功后才发布新快照
func (s *Service) mutate(ctx context.Context, op string, fn func([]model.Rule) ([]model.Rule, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx = context.WithValue(ctx, ctxkeys.OpKey{}, op)
	next, err := fn(s.ListRules())
	if err != nil {
		s.log.Warn("规则操作失败", "op", op, "error", err)
		return err
	}
	if err := s.store.SaveAll(ctx, next); err != nil {
		s.log.Err(err, "持久化规则失败", "op", op)
		return fmt.Errorf("save rules: %w", err)
	}
	s.rules.Store(&next)
	s.log.Info("规则已更新", "op", op, "count", len(next))
	return nil
}

func inRange(rs []model.Rule, i int) bool {
	return i >= 0 && i < len(rs)
}
