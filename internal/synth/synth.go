package synth

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"cdpmock/pkg/model"
	"cdpmock/pkg/traffic"

	"github.com/tidwall/gjson"
)

// ErrSynthesis 无法构造合成响应
var ErrSynthesis = errors.New("synthesis failed")

const (
	AllowMethods = "GET, POST, PUT, DELETE, PATCH, OPTIONS"
	AllowHeaders = "Content-Type, Authorization, X-Requested-With"
)

// Response 合成的完整 HTTP 响应
type Response struct {
	StatusCode int
	Headers    traffic.Headers
	Body       []byte
}

// EncodedBody 返回 fulfill 调用所需的 base64 形式响应体
func (r *Response) EncodedBody() string {
	return base64.StdEncoding.EncodeToString(r.Body)
}

// Synthesize 根据命中的规则和原始请求头构造合成响应。
// 规则自带的头部追加在 CORS 默认头之后，同名时两者都会发送。
func Synthesize(rule model.Rule, reqHeaders traffic.Headers) (*Response, error) {
	origin := "*"
	if v, ok := reqHeaders.Get("Origin"); ok && v != "" {
		origin = v
	}

	headers := make(traffic.Headers, 0, 5+len(rule.ResponseHeaders))
	headers = headers.
		Add("Access-Control-Allow-Origin", origin).
		Add("Access-Control-Allow-Credentials", "true").
		Add("Access-Control-Allow-Methods", AllowMethods).
		Add("Access-Control-Allow-Headers", AllowHeaders)
	headers = append(headers, rule.ResponseHeaders...)

	text := rule.ResponseBody.Text
	if rule.ResponseBody.IsStructured() && !falsy(rule.ResponseBody.JSON) {
		var buf bytes.Buffer
		if err := json.Compact(&buf, rule.ResponseBody.JSON); err != nil {
			return nil, fmt.Errorf("%w: encode body: %v", ErrSynthesis, err)
		}
		text = buf.String()
		if !rule.ResponseHeaders.Has("Content-Type") {
			headers = headers.Add("Content-Type", "application/json")
		}
	}
	if !utf8.ValidString(text) {
		return nil, fmt.Errorf("%w: body is not valid UTF-8", ErrSynthesis)
	}

	return &Response{
		StatusCode: rule.Status(),
		Headers:    headers,
		Body:       []byte(text),
	}, nil
}

// falsy 结构化的 false 与 0 按空响应体处理
func falsy(raw []byte) bool {
	res := gjson.ParseBytes(raw)
	switch res.Type {
	case gjson.False:
		return true
	case gjson.Number:
		return res.Float() == 0
	}
	return false
}
