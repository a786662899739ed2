package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"cdpmock/pkg/traffic"

	"github.com/tidwall/gjson"
)

type TabID string
type RequestID string

// ErrInvalidBody 响应体不是合法 JSON
var ErrInvalidBody = errors.New("invalid response body")

// Body 规则的响应体：纯文本或结构化 JSON 值
type Body struct {
	Text string
	JSON json.RawMessage
}

// TextBody 创建纯文本响应体
func TextBody(s string) Body { return Body{Text: s} }

// JSONBody 由任意可序列化值创建结构化响应体
func JSONBody(v any) (Body, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Body{}, err
	}
	return Body{JSON: raw}, nil
}

// IsStructured 是否为结构化值
func (b Body) IsStructured() bool { return len(b.JSON) > 0 }

// IsZero 响应体为空
func (b Body) IsZero() bool { return b.Text == "" && len(b.JSON) == 0 }

// MarshalJSON 文本输出为 JSON 字符串，结构化值原样输出
func (b Body) MarshalJSON() ([]byte, error) {
	if b.IsStructured() {
		return b.JSON, nil
	}
	return json.Marshal(b.Text)
}

// UnmarshalJSON JSON 字符串视为文本，其余非 null 值视为结构化值
func (b *Body) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return ErrInvalidBody
	}
	res := gjson.ParseBytes(data)
	switch res.Type {
	case gjson.Null:
		*b = Body{}
	case gjson.String:
		*b = Body{Text: res.String()}
	default:
		var buf bytes.Buffer
		if err := json.Compact(&buf, data); err != nil {
			return err
		}
		*b = Body{JSON: buf.Bytes()}
	}
	return nil
}

// Rule 拦截规则：URL 正则 → 合成响应
type Rule struct {
	Pattern         string          `json:"urlPattern" jsonschema:"required,minLength=1"`
	Enabled         bool            `json:"enabled"`
	StatusCode      int             `json:"statusCode,omitempty" jsonschema:"minimum=0,maximum=599"`
	DelayMS         int             `json:"delay,omitempty" jsonschema:"minimum=0"`
	ResponseBody    Body            `json:"responseBody,omitzero"`
	ResponseHeaders traffic.Headers `json:"responseHeaders,omitempty"`
}

// Status 返回生效的状态码，未设置时为 200
func (r Rule) Status() int {
	if r.StatusCode <= 0 {
		return http.StatusOK
	}
	return r.StatusCode
}

// Delay 返回合成前的延迟
func (r Rule) Delay() time.Duration {
	if r.DelayMS <= 0 {
		return 0
	}
	return time.Duration(r.DelayMS) * time.Millisecond
}

// Clone 深拷贝规则
func (r Rule) Clone() Rule {
	out := r
	out.ResponseHeaders = r.ResponseHeaders.Clone()
	if r.ResponseBody.JSON != nil {
		out.ResponseBody.JSON = append(json.RawMessage(nil), r.ResponseBody.JSON...)
	}
	return out
}

// Status 拦截开关状态
type Status struct {
	Enabled      bool    `json:"isEnabled"`
	AttachedTabs []TabID `json:"attachedTabs"`
}

// PausedRequest 被暂停等待处理的请求快照
type PausedRequest struct {
	Tab     TabID
	ID      RequestID
	URL     string
	Method  string
	Headers traffic.Headers
}

// Event 拦截活动通知
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Tab        TabID     `json:"tab"`
	RequestID  RequestID `json:"requestId,omitempty"`
	URL        string    `json:"url,omitempty"`
	Method     string    `json:"method,omitempty"`
	Rule       *int      `json:"rule,omitempty"`
	StatusCode int       `json:"statusCode,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  int64     `json:"timestamp"`
}
