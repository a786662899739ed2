package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"cdpmock/pkg/model"
	"cdpmock/pkg/traffic"

	invopop "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// ErrInvalidRule 规则文档不符合结构约束
var ErrInvalidRule = errors.New("invalid rule")

const ruleResource = "rule.json"

var printer = message.NewPrinter(language.English)

var (
	bodyType    = reflect.TypeFor[model.Body]()
	headersType = reflect.TypeFor[traffic.Headers]()
)

// RuleSchema 由 model.Rule 反射生成 JSON Schema
func RuleSchema() *invopop.Schema {
	r := &invopop.Reflector{
		RequiredFromJSONSchemaTags: true,
		DoNotReference:             true,
		ExpandedStruct:             true,
		Mapper:                     mapType,
	}
	s := r.Reflect(&model.Rule{})
	s.Title = "cdpmock rule"
	return s
}

func mapType(t reflect.Type) *invopop.Schema {
	switch t {
	case bodyType:
		return &invopop.Schema{Description: "plain text, or any JSON value sent as application/json"}
	case headersType:
		return headersSchema()
	}
	return nil
}

func headersSchema() *invopop.Schema {
	scalar := &invopop.Schema{AnyOf: []*invopop.Schema{
		{Type: "string"},
		{Type: "number"},
		{Type: "boolean"},
	}}

	pair := &invopop.Schema{
		Type:       "object",
		Properties: invopop.NewProperties(),
		Required:   []string{"name", "value"},
	}
	pair.Properties.Set("name", &invopop.Schema{Type: "string", MinLength: ptr(uint64(1))})
	pair.Properties.Set("value", scalar)

	return &invopop.Schema{
		Description: "header object, or an ordered list of name/value pairs",
		AnyOf: []*invopop.Schema{
			{Type: "object", AdditionalProperties: scalar},
			{Type: "array", Items: pair},
		},
	}
}

func ptr[T any](v T) *T { return &v }

// Validator 规则文档校验器
type Validator struct {
	schema *jsonschema.Schema
}

var (
	defaultOnce      sync.Once
	defaultValidator *Validator
	defaultErr       error
)

// Default 返回进程内共享的校验器，只编译一次
func Default() (*Validator, error) {
	defaultOnce.Do(func() {
		defaultValidator, defaultErr = NewValidator()
	})
	return defaultValidator, defaultErr
}

// NewValidator 编译规则结构
func NewValidator() (*Validator, error) {
	raw, err := json.Marshal(RuleSchema())
	if err != nil {
		return nil, fmt.Errorf("marshaling schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parsing schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource(ruleResource, doc); err != nil {
		return nil, fmt.Errorf("adding schema resource: %w", err)
	}
	compiled, err := c.Compile(ruleResource)
	if err != nil {
		return nil, fmt.Errorf("compiling schema: %w", err)
	}
	return &Validator{schema: compiled}, nil
}

// DecodeRule 校验并解码规则文档
func (v *Validator) DecodeRule(data []byte) (model.Rule, error) {
	var r model.Rule
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return r, fmt.Errorf("%w: malformed JSON: %v", ErrInvalidRule, err)
	}
	if err := v.schema.Validate(inst); err != nil {
		return r, fmt.Errorf("%w: %s", ErrInvalidRule, describe(err))
	}
	if err := json.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	return r, nil
}

// describe 将叶子校验错误展开为 "路径: 原因"
func describe(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	var out []string
	collect(ve, &out)
	if len(out) == 0 {
		return err.Error()
	}
	sort.Strings(out)
	return strings.Join(out, "; ")
}

func collect(ve *jsonschema.ValidationError, out *[]string) {
	if ve.ErrorKind != nil && len(ve.Causes) == 0 {
		path := "/" + strings.Join(ve.InstanceLocation, "/")
		*out = append(*out, path+": "+ve.ErrorKind.LocalizedString(printer))
		return
	}
	for _, c := range ve.Causes {
		collect(c, out)
	}
}
