package mcp

import (
	"context"

	"cdpmock/internal/client"
	"cdpmock/internal/query"
	"cdpmock/pkg/model"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Tools holds the dependencies shared by every tool handler.
type Tools struct {
	Control Control
}

// Register registers all tools with the MCP server.
func Register(srv *sdkmcp.Server, t *Tools) {
	sdkmcp.AddTool(srv, &sdkmcp.Tool{
		Name:        "cdpmock_status",
		Description: "Report whether interception is on and which browser tabs are attached",
	}, t.Status)

	sdkmcp.AddTool(srv, &sdkmcp.Tool{
		Name:        "cdpmock_set_enabled",
		Description: "Turn response interception on or off. Turning it on attaches the active tab",
	}, t.SetEnabled)

	sdkmcp.AddTool(srv, &sdkmcp.Tool{
		Name:        "cdpmock_list_rules",
		Description: "List mock rules in evaluation order. Optional jq expression filters the rules array",
	}, t.ListRules)

	sdkmcp.AddTool(srv, &sdkmcp.Tool{
		Name:        "cdpmock_add_rule",
		Description: "Append a mock rule: URL regex, status code, delay, body and response headers",
	}, t.AddRule)

	sdkmcp.AddTool(srv, &sdkmcp.Tool{
		Name:        "cdpmock_update_rule",
		Description: "Replace the mock rule at index",
	}, t.UpdateRule)

	sdkmcp.AddTool(srv, &sdkmcp.Tool{
		Name:        "cdpmock_delete_rule",
		Description: "Delete the mock rule at index",
	}, t.DeleteRule)

	sdkmcp.AddTool(srv, &sdkmcp.Tool{
		Name:        "cdpmock_toggle_rule",
		Description: "Flip the enabled flag of the mock rule at index",
	}, t.ToggleRule)

	sdkmcp.AddTool(srv, &sdkmcp.Tool{
		Name:        "cdpmock_clear_rules",
		Description: "Delete every mock rule",
	}, t.ClearRules)
}

// EmptyInput is the input of tools without arguments.
type EmptyInput struct{}

// ResultOutput acknowledges a mutation.
type ResultOutput struct {
	Success bool `json:"success"`
}

// StatusOutput is the output of cdpmock_status.
type StatusOutput struct {
	Enabled      bool     `json:"enabled"`
	AttachedTabs []string `json:"attached_tabs"`
}

// SetEnabledInput is the input of cdpmock_set_enabled.
type SetEnabledInput struct {
	Enabled bool `json:"enabled" jsonschema:"true to intercept, false to stop"`
}

// ListRulesInput is the input of cdpmock_list_rules.
type ListRulesInput struct {
	Query string `json:"query,omitempty" jsonschema:"optional jq expression applied to the rules array"`
}

// ListRulesOutput is the output of cdpmock_list_rules.
type ListRulesOutput struct {
	Rules       []RuleView `json:"rules"`
	QueryResult []any      `json:"query_result,omitempty"`
}

// RuleView is a flattened rule.
type RuleView struct {
	Index      int      `json:"index"`
	URLPattern string   `json:"url_pattern"`
	Enabled    bool     `json:"enabled"`
	StatusCode int      `json:"status_code"`
	DelayMS    int      `json:"delay_ms"`
	Body       string   `json:"body"`
	BodyIsJSON bool     `json:"body_is_json"`
	Headers    []string `json:"headers,omitempty"`
}

// RuleInput describes a rule to add or write.
type RuleInput struct {
	URLPattern string   `json:"url_pattern" jsonschema:"regular expression matched against the full request URL"`
	Disabled   bool     `json:"disabled,omitempty" jsonschema:"create the rule switched off"`
	StatusCode int      `json:"status_code,omitempty" jsonschema:"HTTP status, 200 when omitted"`
	DelayMS    int      `json:"delay_ms,omitempty" jsonschema:"milliseconds to wait before responding"`
	Body       string   `json:"body,omitempty" jsonschema:"response body text"`
	BodyIsJSON bool     `json:"body_is_json,omitempty" jsonschema:"treat body as a JSON document"`
	Headers    []string `json:"headers,omitempty" jsonschema:"response headers as 'Name: Value' lines"`
}

// UpdateRuleInput is the input of cdpmock_update_rule.
type UpdateRuleInput struct {
	Index int       `json:"index" jsonschema:"zero-based rule index"`
	Rule  RuleInput `json:"rule" jsonschema:"replacement rule"`
}

// IndexInput addresses one rule.
type IndexInput struct {
	Index int `json:"index" jsonschema:"zero-based rule index"`
}

// Status reports the interception state.
func (t *Tools) Status(ctx context.Context, _ *sdkmcp.CallToolRequest, _ EmptyInput) (*sdkmcp.CallToolResult, StatusOutput, error) {
	st, err := t.Control.Status(ctx)
	if err != nil {
		return nil, StatusOutput{}, err
	}
	out := StatusOutput{Enabled: st.Enabled, AttachedTabs: make([]string, 0, len(st.AttachedTabs))}
	for _, tab := range st.AttachedTabs {
		out.AttachedTabs = append(out.AttachedTabs, string(tab))
	}
	return nil, out, nil
}

// SetEnabled switches interception.
func (t *Tools) SetEnabled(ctx context.Context, _ *sdkmcp.CallToolRequest, in SetEnabledInput) (*sdkmcp.CallToolResult, ResultOutput, error) {
	if err := t.Control.SetEnabled(ctx, in.Enabled); err != nil {
		return nil, ResultOutput{}, err
	}
	return nil, ResultOutput{Success: true}, nil
}

// ListRules lists rules, optionally filtered through jq.
func (t *Tools) ListRules(ctx context.Context, _ *sdkmcp.CallToolRequest, in ListRulesInput) (*sdkmcp.CallToolResult, ListRulesOutput, error) {
	rules, err := t.Control.ListRules(ctx)
	if err != nil {
		return nil, ListRulesOutput{}, err
	}
	out := ListRulesOutput{Rules: make([]RuleView, 0, len(rules))}
	for i, r := range rules {
		out.Rules = append(out.Rules, toView(i, r))
	}
	if in.Query == "" {
		return nil, out, nil
	}

	raw, err := t.Control.RulesJSON(ctx)
	if err != nil {
		return nil, ListRulesOutput{}, err
	}
	out.QueryResult, err = query.Run(raw, in.Query)
	if err != nil {
		return nil, ListRulesOutput{}, err
	}
	return nil, out, nil
}

// AddRule appends a rule.
func (t *Tools) AddRule(ctx context.Context, _ *sdkmcp.CallToolRequest, in RuleInput) (*sdkmcp.CallToolResult, ResultOutput, error) {
	doc, err := client.BuildRule(in.toClient())
	if err != nil {
		return nil, ResultOutput{}, err
	}
	if err := t.Control.AddRule(ctx, doc); err != nil {
		return nil, ResultOutput{}, err
	}
	return nil, ResultOutput{Success: true}, nil
}

// UpdateRule replaces a rule.
func (t *Tools) UpdateRule(ctx context.Context, _ *sdkmcp.CallToolRequest, in UpdateRuleInput) (*sdkmcp.CallToolResult, ResultOutput, error) {
	doc, err := client.BuildRule(in.Rule.toClient())
	if err != nil {
		return nil, ResultOutput{}, err
	}
	if err := t.Control.UpdateRule(ctx, in.Index, doc); err != nil {
		return nil, ResultOutput{}, err
	}
	return nil, ResultOutput{Success: true}, nil
}

// DeleteRule removes a rule.
func (t *Tools) DeleteRule(ctx context.Context, _ *sdkmcp.CallToolRequest, in IndexInput) (*sdkmcp.CallToolResult, ResultOutput, error) {
	if err := t.Control.DeleteRule(ctx, in.Index); err != nil {
		return nil, ResultOutput{}, err
	}
	return nil, ResultOutput{Success: true}, nil
}

// ToggleRule flips a rule's enabled flag.
func (t *Tools) ToggleRule(ctx context.Context, _ *sdkmcp.CallToolRequest, in IndexInput) (*sdkmcp.CallToolResult, ResultOutput, error) {
	if err := t.Control.ToggleRule(ctx, in.Index); err != nil {
		return nil, ResultOutput{}, err
	}
	return nil, ResultOutput{Success: true}, nil
}

// ClearRules removes all rules.
func (t *Tools) ClearRules(ctx context.Context, _ *sdkmcp.CallToolRequest, _ EmptyInput) (*sdkmcp.CallToolResult, ResultOutput, error) {
	if err := t.Control.ClearRules(ctx); err != nil {
		return nil, ResultOutput{}, err
	}
	return nil, ResultOutput{Success: true}, nil
}

func (in RuleInput) toClient() client.RuleInput {
	return client.RuleInput{
		Pattern:    in.URLPattern,
		Disabled:   in.Disabled,
		StatusCode: in.StatusCode,
		DelayMS:    in.DelayMS,
		Body:       in.Body,
		BodyIsJSON: in.BodyIsJSON,
		Headers:    in.Headers,
	}
}

func toView(i int, r model.Rule) RuleView {
	v := RuleView{
		Index:      i,
		URLPattern: r.Pattern,
		Enabled:    r.Enabled,
		StatusCode: r.Status(),
		DelayMS:    r.DelayMS,
		Body:       r.ResponseBody.Text,
	}
	if r.ResponseBody.IsStructured() {
		v.Body = string(r.ResponseBody.JSON)
		v.BodyIsJSON = true
	}
	for _, h := range r.ResponseHeaders {
		v.Headers = append(v.Headers, h.Name+": "+h.Value)
	}
	return v
}
