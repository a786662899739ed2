package client

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ErrBadRuleInput is returned by BuildRule for unusable flag values.
var ErrBadRuleInput = errors.New("bad rule input")

// RuleInput collects rule fields from command-line flags.
type RuleInput struct {
	Pattern    string
	Disabled   bool
	StatusCode int
	DelayMS    int
	Body       string
	BodyIsJSON bool
	Headers    []string // "Name: Value"
}

// BuildRule renders a rule document; headers keep flag order and duplicates.
func BuildRule(in RuleInput) ([]byte, error) {
	if in.Pattern == "" {
		return nil, fmt.Errorf("%w: pattern is required", ErrBadRuleInput)
	}
	doc := []byte(`{}`)
	var err error
	if doc, err = sjson.SetBytes(doc, "urlPattern", in.Pattern); err != nil {
		return nil, err
	}
	if doc, err = sjson.SetBytes(doc, "enabled", !in.Disabled); err != nil {
		return nil, err
	}
	if in.StatusCode != 0 {
		if doc, err = sjson.SetBytes(doc, "statusCode", in.StatusCode); err != nil {
			return nil, err
		}
	}
	if in.DelayMS != 0 {
		if doc, err = sjson.SetBytes(doc, "delay", in.DelayMS); err != nil {
			return nil, err
		}
	}

	if in.Body != "" {
		if in.BodyIsJSON {
			if !gjson.Valid(in.Body) {
				return nil, fmt.Errorf("%w: body is not valid JSON", ErrBadRuleInput)
			}
			doc, err = sjson.SetRawBytes(doc, "responseBody", []byte(in.Body))
		} else {
			doc, err = sjson.SetBytes(doc, "responseBody", in.Body)
		}
		if err != nil {
			return nil, err
		}
	}

	if len(in.Headers) > 0 {
		if doc, err = sjson.SetRawBytes(doc, "responseHeaders", []byte(`[]`)); err != nil {
			return nil, err
		}
	}
	for _, h := range in.Headers {
		name, value, ok := strings.Cut(h, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: header %q must look like \"Name: Value\"", ErrBadRuleInput, h)
		}
		pair := map[string]string{"name": name, "value": strings.TrimSpace(value)}
		if doc, err = sjson.SetBytes(doc, "responseHeaders.-1", pair); err != nil {
			return nil, err
		}
	}
	return doc, nil
}
