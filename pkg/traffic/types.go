package traffic

import (
	"bytes"
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrMalformedHeaders 头部既不是对象也不是 name/value 数组
var ErrMalformedHeaders = errors.New("malformed headers")

// Header 单个头部条目
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Headers 有序的头部列表，允许同名条目重复出现
type Headers []Header

// Get 获取第一个同名 Header 的值（大小写不敏感）
func (h Headers) Get(name string) (string, bool) {
	for _, e := range h {
		if strings.EqualFold(e.Name, name) {
			return e.Value, true
		}
	}
	return "", false
}

// Has 判断是否存在指定 Header（大小写不敏感）
func (h Headers) Has(name string) bool {
	_, ok := h.Get(name)
	return ok
}

// Add 追加一个 Header，不做去重
func (h Headers) Add(name, value string) Headers {
	return append(h, Header{Name: name, Value: value})
}

// Clone 复制头部列表
func (h Headers) Clone() Headers {
	if h == nil {
		return nil
	}
	out := make(Headers, len(h))
	copy(out, h)
	return out
}

// HeadersFromMap 将按名称索引的映射转换为有序列表（按名称排序）
func HeadersFromMap(m map[string]string) Headers {
	if len(m) == 0 {
		return nil
	}
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	out := make(Headers, 0, len(m))
	for _, k := range names {
		out = append(out, Header{Name: k, Value: m[k]})
	}
	return out
}

// HeadersFromPairs 由 name, value 交替排列的参数构造头部，末尾落单的名称被忽略
func HeadersFromPairs(kv ...string) Headers {
	out := make(Headers, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, Header{Name: kv[i], Value: kv[i+1]})
	}
	return out
}

// ParseHeaders 解析 JSON 形式的头部。
// 同时接受 {"Name":"value"} 对象与 [{"name":..,"value":..}] 数组两种形态，保持文档顺序，值统一转为文本。
func ParseHeaders(raw []byte) (Headers, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	if !gjson.ValidBytes(raw) {
		return nil, ErrMalformedHeaders
	}
	res := gjson.ParseBytes(raw)
	var out Headers
	switch {
	case res.IsArray():
		res.ForEach(func(_, v gjson.Result) bool {
			name := v.Get("name").String()
			if name != "" {
				out = append(out, Header{Name: name, Value: v.Get("value").String()})
			}
			return true
		})
	case res.IsObject():
		res.ForEach(func(k, v gjson.Result) bool {
			out = append(out, Header{Name: k.String(), Value: v.String()})
			return true
		})
	case res.Type == gjson.Null:
		return nil, nil
	default:
		return nil, ErrMalformedHeaders
	}
	return out, nil
}

// MarshalJSON 名称唯一时输出对象形态，否则输出数组形态
func (h Headers) MarshalJSON() ([]byte, error) {
	if h == nil {
		return []byte("null"), nil
	}
	seen := make(map[string]struct{}, len(h))
	unique := true
	for _, e := range h {
		if _, ok := seen[e.Name]; ok {
			unique = false
			break
		}
		seen[e.Name] = struct{}{}
	}
	if !unique {
		return json.Marshal([]Header(h))
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range h {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(e.Name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(e.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON 接受对象或数组形态
func (h *Headers) UnmarshalJSON(data []byte) error {
	parsed, err := ParseHeaders(data)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
