package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/kaptinlin/jsonrepair"
)

// Schema errors.
var (
	// ErrNoJSON indicates the model output contained no JSON value.
	ErrNoJSON = errors.New("no JSON value in output")

	// ErrSchemaMismatch indicates the output does not conform to the schema.
	ErrSchemaMismatch = errors.New("output does not match schema")
)

// Schema is a resolved JSON schema for a structured model output.
type Schema struct {
	name     string
	schema   *jsonschema.Schema
	resolved *jsonschema.Resolved
	doc      string
}

// SchemaOption tightens an inferred schema before it is resolved.
type SchemaOption func(*jsonschema.Schema)

// NonEmptyList requires the list property name to be an array holding at
// least one non-blank string.
func NonEmptyList(name string) SchemaOption {
	return func(s *jsonschema.Schema) {
		p, ok := s.Properties[name]
		if !ok {
			return
		}
		p.Types = nil
		p.Type = "array"
		p.MinItems = jsonschema.Ptr(1)
		if p.Items != nil {
			p.Items.Pattern = `\S`
		}
	}
}

// SchemaFor builds the schema of T. Fields without omitempty are required.
// Unknown top-level keys are tolerated since models add them freely.
func SchemaFor[T any](opts ...SchemaOption) (*Schema, error) {
	s, err := jsonschema.For[T](nil)
	if err != nil {
		return nil, fmt.Errorf("failed to infer schema: %w", err)
	}
	s.AdditionalProperties = nil
	for _, opt := range opts {
		opt(s)
	}

	resolved, err := s.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve schema: %w", err)
	}

	doc, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}

	return &Schema{
		name:     reflect.TypeFor[T]().Name(),
		schema:   s,
		resolved: resolved,
		doc:      string(doc),
	}, nil
}

// MustSchemaFor is like SchemaFor but panics on error. It is intended for
// package-level schema variables.
func MustSchemaFor[T any](opts ...SchemaOption) *Schema {
	s, err := SchemaFor[T](opts...)
	if err != nil {
		panic(err)
	}
	return s
}

// Name returns the Go type name the schema was built from.
func (s *Schema) Name() string {
	return s.name
}

// String returns the schema document.
func (s *Schema) String() string {
	return s.doc
}

// Decode extracts, repairs and validates a JSON object from model output.
func (s *Schema) Decode(text string) (json.RawMessage, error) {
	candidate := extractJSON(text)
	if candidate == "" {
		return nil, ErrNoJSON
	}

	if !json.Valid([]byte(candidate)) {
		repaired, err := jsonrepair.JSONRepair(candidate)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrNoJSON, err)
		}
		candidate = repaired
	}

	var instance any
	if err := json.Unmarshal([]byte(candidate), &instance); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoJSON, err)
	}

	if err := s.resolved.Validate(instance); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSchemaMismatch, err)
	}
	return json.RawMessage(candidate), nil
}

// extractJSON strips markdown fences and surrounding prose, returning the
// outermost object or array in text.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.Index(text, "```"); i >= 0 {
		rest := text[i+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if end := strings.Index(rest, "```"); end >= 0 {
			rest = rest[:end]
		}
		text = strings.TrimSpace(rest)
	}

	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return ""
	}
	closer := byte('}')
	if text[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(text, closer)
	if end <= start {
		// Truncated output; let the repairer close it.
		return text[start:]
	}
	return text[start : end+1]
}

// Decode unmarshals a structured response into T.
func Decode[T any](resp Response) (T, error) {
	var out T
	raw := resp.Raw
	if len(raw) == 0 {
		raw = json.RawMessage(resp.Text)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&out); err != nil {
		return out, fmt.Errorf("%w: %w", ErrSchemaMismatch, err)
	}
	return out, nil
}
