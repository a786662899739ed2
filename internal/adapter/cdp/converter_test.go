package cdp

import (
	"testing"

	"cdpmock/pkg/model"
	"cdpmock/pkg/traffic"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/stretchr/testify/assert"
)

func TestToPausedRequest(t *testing.T) {
	ev := &fetch.RequestPausedReply{
		RequestID: "interception-1",
		Request: network.Request{
			URL:     "https://x.test/api/users?id=1",
			Method:  "GET",
			Headers: network.Headers(`{"Origin":"https://app.test","Accept":"application/json"}`),
		},
	}

	req := ToPausedRequest("tab-1", ev)
	assert.Equal(t, model.TabID("tab-1"), req.Tab)
	assert.Equal(t, model.RequestID("interception-1"), req.ID)
	assert.Equal(t, "https://x.test/api/users?id=1", req.URL)
	assert.Equal(t, "GET", req.Method)
	assert.Equal(t, traffic.Headers{
		{Name: "Origin", Value: "https://app.test"},
		{Name: "Accept", Value: "application/json"},
	}, req.Headers)
}

func TestToPausedRequestBadHeaders(t *testing.T) {
	ev := &fetch.RequestPausedReply{
		RequestID: "r",
		Request:   network.Request{URL: "https://x.test", Method: "POST", Headers: network.Headers(`{oops`)},
	}
	req := ToPausedRequest("t", ev)
	assert.Nil(t, req.Headers)
	assert.Equal(t, "POST", req.Method)
}

func TestToHeaderEntriesKeepsDuplicates(t *testing.T) {
	h := traffic.Headers{{Name: "Set-Cookie", Value: "a=1"}, {Name: "Set-Cookie", Value: "b=2"}}
	assert.Equal(t, []fetch.HeaderEntry{
		{Name: "Set-Cookie", Value: "a=1"},
		{Name: "Set-Cookie", Value: "b=2"},
	}, ToHeaderEntries(h))
	assert.Empty(t, ToHeaderEntries(nil))
}
