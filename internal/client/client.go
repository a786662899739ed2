// Package client talks to the control server over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cdpmock/pkg/model"

	"github.com/tidwall/gjson"
)

// ErrAPI is returned when the server answers with success=false or a non-2xx status.
var ErrAPI = errors.New("control api error")

// Client is a thin wrapper over the control server's JSON endpoints.
type Client struct {
	base string
	http *http.Client
}

// New creates a client for baseURL, e.g. http://127.0.0.1:8787.
func New(baseURL string) *Client {
	base := strings.TrimRight(baseURL, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{base: base, http: &http.Client{Timeout: 10 * time.Second}}
}

// Status returns the interception flag and attached tabs.
func (c *Client) Status(ctx context.Context) (model.Status, error) {
	var st model.Status
	raw, err := c.do(ctx, http.MethodGet, "/api/status", nil)
	if err != nil {
		return st, err
	}
	err = json.Unmarshal(raw, &st)
	return st, err
}

// SetEnabled turns interception on or off.
func (c *Client) SetEnabled(ctx context.Context, enabled bool) error {
	_, err := c.do(ctx, http.MethodPost, "/api/enabled", []byte(`{"enabled":`+strconv.FormatBool(enabled)+`}`))
	return err
}

// RulesJSON returns the raw rules array.
func (c *Client) RulesJSON(ctx context.Context) ([]byte, error) {
	raw, err := c.do(ctx, http.MethodGet, "/api/rules", nil)
	if err != nil {
		return nil, err
	}
	return []byte(gjson.GetBytes(raw, "rules").Raw), nil
}

// ListRules returns the decoded rules.
func (c *Client) ListRules(ctx context.Context) ([]model.Rule, error) {
	raw, err := c.RulesJSON(ctx)
	if err != nil {
		return nil, err
	}
	rules := []model.Rule{}
	if len(raw) == 0 {
		return rules, nil
	}
	err = json.Unmarshal(raw, &rules)
	return rules, err
}

// AddRule appends a rule given as a JSON document.
func (c *Client) AddRule(ctx context.Context, payload []byte) error {
	_, err := c.do(ctx, http.MethodPost, "/api/rules", payload)
	return err
}

// UpdateRule replaces the rule at index.
func (c *Client) UpdateRule(ctx context.Context, index int, payload []byte) error {
	_, err := c.do(ctx, http.MethodPut, "/api/rules/"+strconv.Itoa(index), payload)
	return err
}

// DeleteRule removes the rule at index.
func (c *Client) DeleteRule(ctx context.Context, index int) error {
	_, err := c.do(ctx, http.MethodDelete, "/api/rules/"+strconv.Itoa(index), nil)
	return err
}

// ToggleRule flips the enabled flag of the rule at index.
func (c *Client) ToggleRule(ctx context.Context, index int) error {
	_, err := c.do(ctx, http.MethodPost, "/api/rules/"+strconv.Itoa(index)+"/toggle", nil)
	return err
}

// ClearRules removes every rule.
func (c *Client) ClearRules(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodDelete, "/api/rules", nil)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	res := gjson.ParseBytes(raw)
	if resp.StatusCode >= 300 || (res.Get("success").Exists() && !res.Get("success").Bool()) {
		msg := res.Get("error").String()
		if msg == "" {
			msg = resp.Status
		}
		return nil, fmt.Errorf("%w: %s", ErrAPI, msg)
	}
	return raw, nil
}
