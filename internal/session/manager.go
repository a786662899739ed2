package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"cdpmock/internal/logger"
	"cdpmock/internal/protocol"
	"cdpmock/pkg/model"
)

var (
	ErrAttach = errors.New("attach failed")
	ErrDetach = errors.New("detach failed")
)

// DefaultPatterns 默认拦截所有 URL
var DefaultPatterns = []string{"*"}

// StateStore 全局拦截开关的持久化
type StateStore interface {
	LoadEnabled(ctx context.Context) (bool, error)
	SaveEnabled(ctx context.Context, enabled bool) error
}

// Options 会话管理器配置
type Options struct {
	Debugger protocol.Debugger
	Store    StateStore
	Patterns []string
	Logger   logger.Logger
}

// Manager 管理已附加的标签页集合与全局开关
type Manager struct {
	mu        sync.RWMutex
	enabled   bool
	attached  map[model.TabID]struct{}
	attaching map[model.TabID]struct{}
	// generation 每次 Disable 递增，用于识别附加过程中被关闭的情况
	generation uint64

	dbg      protocol.Debugger
	store    StateStore
	patterns []string
	log      logger.Logger
}

// NewManager 创建会话管理器
func NewManager(opts Options) *Manager {
	l := opts.Logger
	if l == nil {
		l = logger.NewNop()
	}
	patterns := opts.Patterns
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	return &Manager{
		attached:  make(map[model.TabID]struct{}),
		attaching: make(map[model.TabID]struct{}),
		dbg:       opts.Debugger,
		store:     opts.Store,
		patterns:  patterns,
		log:       l,
	}
}

// Restore 从持久化加载开关；开关为开时尝试附加当前活动标签页
func (m *Manager) Restore(ctx context.Context) error {
	enabled, err := m.store.LoadEnabled(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.enabled = enabled
	m.mu.Unlock()

	m.log.Info("恢复拦截开关", "enabled", enabled)
	if enabled {
		m.attachActive(ctx)
	}
	return nil
}

// Enable 打开全局开关并附加当前活动标签页，只有持久化失败才返回错误
func (m *Manager) Enable(ctx context.Context) error {
	if err := m.setEnabled(ctx, true); err != nil {
		return err
	}
	m.attachActive(ctx)
	return nil
}

// Disable 关闭全局开关并断开所有标签页，单个标签页断开失败不影响其余
func (m *Manager) Disable(ctx context.Context) error {
	if err := m.setEnabled(ctx, false); err != nil {
		return err
	}
	m.mu.Lock()
	m.generation++
	m.mu.Unlock()

	for _, tab := range m.AttachedTabs() {
		if err := m.dbg.Detach(ctx, tab); err != nil {
			m.log.Err(fmt.Errorf("%w: %v", ErrDetach, err), "断开调试器失败", "tab", string(tab))
			continue
		}
		m.log.Info("调试器已断开", "tab", string(tab))
	}

	m.mu.Lock()
	clear(m.attached)
	m.mu.Unlock()
	return nil
}

// Attach 附加调试器到标签页；已附加或正在附加时为空操作
func (m *Manager) Attach(ctx context.Context, tab model.TabID) error {
	m.mu.Lock()
	_, done := m.attached[tab]
	_, busy := m.attaching[tab]
	if done || busy {
		m.mu.Unlock()
		return nil
	}
	m.attaching[tab] = struct{}{}
	gen := m.generation
	m.mu.Unlock()

	err := m.dbg.Attach(ctx, tab)

	m.mu.Lock()
	delete(m.attaching, tab)
	stale := gen != m.generation
	if err == nil && !stale {
		m.attached[tab] = struct{}{}
	}
	m.mu.Unlock()

	if err == nil && stale {
		m.log.Info("附加期间拦截已关闭，撤销附加", "tab", string(tab))
		if derr := m.dbg.Detach(ctx, tab); derr != nil {
			m.log.Debug("撤销附加时断开调试器失败", "tab", string(tab), "error", derr)
		}
		return nil
	}

	if err == nil {
		err = m.instrument(ctx, tab)
		if err != nil {
			m.mu.Lock()
			delete(m.attached, tab)
			m.mu.Unlock()
			if derr := m.dbg.Detach(ctx, tab); derr != nil {
				m.log.Debug("回滚时断开调试器失败", "tab", string(tab), "error", derr)
			}
		}
	}
	if err != nil {
		err = fmt.Errorf("%w: tab %s: %v", ErrAttach, tab, err)
		m.log.Err(err, "附加调试器失败", "tab", string(tab))
		return err
	}

	m.log.Info("调试器已附加", "tab", string(tab))
	return nil
}

// Detach 断开单个标签页；未附加时为空操作
func (m *Manager) Detach(ctx context.Context, tab model.TabID) error {
	m.mu.Lock()
	_, ok := m.attached[tab]
	delete(m.attached, tab)
	m.mu.Unlock()
	if !ok {
		return nil
	}

	if err := m.dbg.Detach(ctx, tab); err != nil {
		err = fmt.Errorf("%w: tab %s: %v", ErrDetach, tab, err)
		m.log.Err(err, "断开调试器失败", "tab", string(tab))
		return err
	}
	m.log.Info("调试器已断开", "tab", string(tab))
	return nil
}

// OnExternalDetach 协议层主动断开时移除标签页
func (m *Manager) OnExternalDetach(tab model.TabID, reason string) {
	m.mu.Lock()
	delete(m.attached, tab)
	m.mu.Unlock()
	m.log.Info("调试器被外部断开", "tab", string(tab), "reason", reason)
}

// OnTabClosed 标签页关闭时移除；集合清空且开关为开时自动关闭开关
func (m *Manager) OnTabClosed(ctx context.Context, tab model.TabID) {
	m.mu.Lock()
	delete(m.attached, tab)
	autoDisable := len(m.attached) == 0 && m.enabled
	if autoDisable {
		m.enabled = false
	}
	m.mu.Unlock()

	m.log.Info("标签页已关闭", "tab", string(tab))
	if !autoDisable {
		return
	}
	if err := m.store.SaveEnabled(ctx, false); err != nil {
		m.log.Err(err, "持久化拦截开关失败", "enabled", false)
	}
	m.log.Info("所有标签页已关闭，自动关闭拦截")
}

// Enabled 返回全局开关
func (m *Manager) Enabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// IsAttached 判断标签页是否已附加
func (m *Manager) IsAttached(tab model.TabID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.attached[tab]
	return ok
}

// AttachedTabs 返回已附加的标签页（有序）
func (m *Manager) AttachedTabs() []model.TabID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]model.TabID, 0, len(m.attached))
	for id := range m.attached {
		list = append(list, id)
	}
	sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
	return list
}

// Status 返回开关与已附加标签页的快照
func (m *Manager) Status() model.Status {
	m.mu.RLock()
	enabled := m.enabled
	m.mu.RUnlock()
	return model.Status{Enabled: enabled, AttachedTabs: m.AttachedTabs()}
}

func (m *Manager) setEnabled(ctx context.Context, enabled bool) error {
	m.mu.Lock()
	prev := m.enabled
	m.enabled = enabled
	m.mu.Unlock()

	if err := m.store.SaveEnabled(ctx, enabled); err != nil {
		m.mu.Lock()
		m.enabled = prev
		m.mu.Unlock()
		m.log.Err(err, "持久化拦截开关失败", "enabled", enabled)
		return err
	}
	m.log.Info("拦截开关已更新", "enabled", enabled)
	return nil
}

func (m *Manager) attachActive(ctx context.Context) {
	tab, err := m.dbg.ActiveTab(ctx)
	if err != nil {
		m.log.Warn("未找到活动标签页", "error", err)
		return
	}
	_ = m.Attach(ctx, tab)
}

func (m *Manager) instrument(ctx context.Context, tab model.TabID) error {
	if err := m.dbg.EnableNetwork(ctx, tab); err != nil {
		return fmt.Errorf("enable network: %w", err)
	}
	if err := m.dbg.EnableInterception(ctx, tab, m.patterns); err != nil {
		return fmt.Errorf("enable interception: %w", err)
	}
	return nil
}
