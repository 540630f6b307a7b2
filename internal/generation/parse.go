package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Validator is implemented by structured outputs with checks beyond key presence.
type Validator interface {
	Validate() error
}

// Parsed is the result of decoding structured content: either Value is usable or
// Malformed explains why the content broke the contract.
type Parsed[T any] struct {
	Value     T
	Malformed *SchemaError
}

// OK reports whether the content satisfied the schema.
func (p Parsed[T]) OK() bool {
	return p.Malformed == nil
}

// Parse decodes content against schema. Every required top-level key must be present
// and non-null unless listed as nullable.
func Parse[T any](content string, schema *Schema) Parsed[T] {
	var out Parsed[T]
	name := "response"
	if schema != nil {
		name = schema.Name
	}
	fail := func(format string, args ...any) Parsed[T] {
		out.Malformed = &SchemaError{Schema: name, Reason: fmt.Sprintf(format, args...), Raw: content}
		return out
	}

	body := stripCodeFence(content)
	if body == "" {
		return fail("empty content")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return fail("not a JSON object: %v", err)
	}

	if schema != nil {
		for _, key := range schema.Definition.Required {
			raw, ok := fields[key]
			if !ok {
				return fail("missing required field %q", key)
			}
			if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) && !schema.isNullable(key) {
				return fail("field %q must not be null", key)
			}
		}
	}

	if err := json.Unmarshal([]byte(body), &out.Value); err != nil {
		return fail("decode: %v", err)
	}

	if v, ok := any(&out.Value).(Validator); ok {
		if err := v.Validate(); err != nil {
			return fail("%v", err)
		}
	}
	return out
}

// CallStructured performs one retried call and parses the content. Upstream failures
// are returned as the error; contract violations come back in Parsed.Malformed.
func CallStructured[T any](ctx context.Context, r *Retrier, req Request) (Parsed[T], error) {
	resp, err := r.Call(ctx, req)
	if err != nil {
		return Parsed[T]{}, err
	}
	return Parse[T](resp.Content(), req.Schema), nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
