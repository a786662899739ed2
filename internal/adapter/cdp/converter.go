package cdp

import (
	"cdpmock/pkg/model"
	"cdpmock/pkg/traffic"

	"github.com/mafredri/cdp/protocol/fetch"
)

// ToPausedRequest 将 CDP 暂停事件转换为中立的 PausedRequest 模型
func ToPausedRequest(tab model.TabID, ev *fetch.RequestPausedReply) model.PausedRequest {
	req := model.PausedRequest{
		Tab:    tab,
		ID:     model.RequestID(ev.RequestID),
		URL:    ev.Request.URL,
		Method: ev.Request.Method,
	}

	// 解析失败时按无头部处理，不影响后续放行
	if headers, err := traffic.ParseHeaders([]byte(ev.Request.Headers)); err == nil {
		req.Headers = headers
	}
	return req
}

// ToHeaderEntries 将有序 Header 转换为 CDP Header 条目
func ToHeaderEntries(h traffic.Headers) []fetch.HeaderEntry {
	entries := make([]fetch.HeaderEntry, 0, len(h))
	for _, e := range h {
		entries = append(entries, fetch.HeaderEntry{Name: e.Name, Value: e.Value})
	}
	return entries
}
