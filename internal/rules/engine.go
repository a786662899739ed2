package rules

import (
	"errors"
	"fmt"
	"regexp"

	"cdpmock/internal/logger"
	"cdpmock/pkg/model"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrInvalidPattern 规则的 URL 正则无法编译
var ErrInvalidPattern = errors.New("invalid pattern")

// DefaultCacheSize 正则缓存默认容量
const DefaultCacheSize = 256

// Matcher 将规则的 URL 正则与请求 URL 进行匹配
type Matcher struct {
	cache *lru.Cache[string, *regexp.Regexp]
	log   logger.Logger
}

// Match 选中的规则及其在列表中的下标
type Match struct {
	Index int
	Rule  model.Rule
}

// NewMatcher 创建匹配器，size<=0 时使用默认缓存容量
func NewMatcher(size int, l logger.Logger) *Matcher {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if l == nil {
		l = logger.NewNop()
	}
	cache, _ := lru.New[string, *regexp.Regexp](size)
	return &Matcher{cache: cache, log: l}
}

// Compile 编译并缓存正则，编译失败不入缓存
func (m *Matcher) Compile(pattern string) (*regexp.Regexp, error) {
	if re, ok := m.cache.Get(pattern); ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidPattern, pattern, err)
	}
	m.cache.Add(pattern, re)
	return re, nil
}

// Matches 判断规则是否命中 URL（非锚定、区分大小写的搜索）。禁用的规则不参与正则编译。
func (m *Matcher) Matches(r model.Rule, url string) (bool, error) {
	if !r.Enabled {
		return false, nil
	}
	re, err := m.Compile(r.Pattern)
	if err != nil {
		return false, err
	}
	return re.MatchString(url), nil
}

// Select 按存储顺序返回第一条启用且命中的规则；非法正则跳过并告警
func (m *Matcher) Select(rs []model.Rule, url string) (*Match, bool) {
	for i := range rs {
		ok, err := m.Matches(rs[i], url)
		if err != nil {
			m.log.Warn("跳过非法规则", "index", i, "error", err)
			continue
		}
		if ok {
			return &Match{Index: i, Rule: rs[i]}, true
		}
	}
	return nil, false
}
