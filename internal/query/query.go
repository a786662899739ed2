// Package query filters JSON documents with jq expressions.
package query

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/itchyny/gojq"
)

// ErrInvalidExpression is returned when the jq expression does not parse or compile.
var ErrInvalidExpression = errors.New("invalid jq expression")

// Run evaluates expression against data and collects every emitted value.
// A runtime error from the expression aborts the run.
func Run(data []byte, expression string) ([]any, error) {
	q, err := gojq.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExpression, err)
	}
	code, err := gojq.Compile(q)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExpression, err)
	}

	var input any
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, fmt.Errorf("invalid JSON data: %w", err)
	}

	values := make([]any, 0)
	iter := code.Run(input)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			var halt *gojq.HaltError
			if errors.As(err, &halt) && halt.Value() == nil {
				break
			}
			return nil, fmt.Errorf("jq: %w", err)
		}
		values = append(values, v)
	}
	return values, nil
}
