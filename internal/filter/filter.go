// Package filter applies jq expressions to command output.
package filter

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/itchyny/gojq"
)

// NormalizeExpression fixes shell-escaped operators in jq expressions.
// Zsh escapes ! to \! even in single quotes, breaking operators like !=.
func NormalizeExpression(expr string) string {
	return strings.ReplaceAll(expr, `\!`, `!`)
}

// Compile parses expression once so it can be applied to many values, for
// example every list published by a live inbox.
func Compile(expression string) (*Query, error) {
	if strings.TrimSpace(expression) == "" {
		return &Query{}, nil
	}
	expression = NormalizeExpression(expression)
	q, err := gojq.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid filter expression: %w", err)
	}
	code, err := gojq.Compile(q)
	if err != nil {
		return nil, fmt.Errorf("invalid filter expression: %w", err)
	}
	return &Query{expr: expression, code: code}, nil
}

// Query is a compiled expression. The zero Query is the identity.
type Query struct {
	expr string
	code *gojq.Code
}

// Run applies the query to data. data must be made of JSON-compatible Go
// values (maps, slices, float64, string, bool, nil).
func (q *Query) Run(data any) (any, error) {
	if q == nil || q.code == nil {
		return data, nil
	}
	results, err := run(q.code.Run(data))
	if err != nil {
		if items, ok := dataFallback(data, q.expr, err); ok {
			if fallback, fallbackErr := run(q.code.Run(items)); fallbackErr == nil {
				results, err = fallback, nil
			}
		}
	}
	if err != nil {
		return nil, err
	}
	return collapse(results), nil
}

// RunValue converts v to its JSON form and applies the query.
func (q *Query) RunValue(v any) (any, error) {
	data, err := toJSONValue(v)
	if err != nil {
		return nil, err
	}
	return q.Run(data)
}

func run(iter gojq.Iter) ([]any, error) {
	var results []any
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, ok := v.(error); ok {
			return nil, fmt.Errorf("filter error: %w", err)
		}
		results = append(results, v)
	}
	return results, nil
}

func collapse(results []any) any {
	if len(results) == 1 {
		return results[0]
	}
	return results
}

// dataFallback retries a root-array query against the "data" field of a
// page envelope.
func dataFallback(data any, expression string, runErr error) (any, bool) {
	if !looksLikeRootArrayQuery(expression) {
		return nil, false
	}
	if !strings.Contains(runErr.Error(), "expected an object but got: array") &&
		!strings.Contains(runErr.Error(), "cannot iterate over") {
		return nil, false
	}
	m, ok := data.(map[string]any)
	if !ok {
		return nil, false
	}
	items, ok := m["data"].([]any)
	if !ok {
		return nil, false
	}
	return items, true
}

func looksLikeRootArrayQuery(expression string) bool {
	expr := strings.TrimSpace(expression)
	return strings.HasPrefix(expr, ".[]") || strings.HasPrefix(expr, "[.[]") || strings.HasPrefix(expr, "(.[]")
}

func toJSONValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return data, nil
}

// Apply applies a jq expression to data.
func Apply(data any, expression string) (any, error) {
	q, err := Compile(expression)
	if err != nil {
		return nil, err
	}
	return q.Run(data)
}

// ApplyToJSON applies expression to JSON bytes and returns pretty-printed
// JSON bytes.
func ApplyToJSON(jsonData []byte, expression string) ([]byte, error) {
	if expression == "" {
		return jsonData, nil
	}
	result, err := ApplyFromJSON(jsonData, expression)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(result, "", "  ")
}

// ApplyFromJSON applies expression to JSON bytes and returns the result as a
// Go value for the caller to format.
func ApplyFromJSON(jsonData []byte, expression string) (any, error) {
	var data any
	if err := json.Unmarshal(jsonData, &data); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return Apply(data, expression)
}
