// Package secrets provides secret redaction for everything the engine emits.
package secrets

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
)

// Placeholder replaces every secret value found in emitted text.
const Placeholder = "[REDACTED]"

// Redactor masks known secret values. It is safe for concurrent use and
// values can be added while an invocation is running.
type Redactor struct {
	mu       sync.RWMutex
	values   map[string]struct{}
	replacer *strings.Replacer
}

// NewRedactor creates a redactor seeded with the given values.
func NewRedactor(values ...string) *Redactor {
	r := &Redactor{values: make(map[string]struct{})}
	r.Add(values...)
	return r
}

// Add registers secret values for redaction. Every non-empty value is
// masked, however short.
func (r *Redactor) Add(values ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := false
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := r.values[v]; !ok {
			r.values[v] = struct{}{}
			changed = true
		}
	}
	if changed {
		r.rebuild()
	}
}

// AddMap registers every value of m.
func (r *Redactor) AddMap(m map[string]string) {
	values := make([]string, 0, len(m))
	for _, v := range m {
		values = append(values, v)
	}
	r.Add(values...)
}

// rebuild must be called with the write lock held. Longer values are
// replaced first so a secret containing another is masked whole.
func (r *Redactor) rebuild() {
	sorted := make([]string, 0, len(r.values))
	for v := range r.values {
		sorted = append(sorted, v)
	}
	sort.Slice(sorted, func(i, j int) bool {
		if len(sorted[i]) != len(sorted[j]) {
			return len(sorted[i]) > len(sorted[j])
		}
		return sorted[i] < sorted[j]
	})

	pairs := make([]string, 0, len(sorted)*2)
	for _, v := range sorted {
		pairs = append(pairs, v, Placeholder)
	}
	r.replacer = strings.NewReplacer(pairs...)
}

// Empty reports whether no secret is registered.
func (r *Redactor) Empty() bool {
	if r == nil {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.values) == 0
}

// Redact masks every registered secret in s.
func (r *Redactor) Redact(s string) string {
	if r == nil || s == "" {
		return s
	}
	r.mu.RLock()
	rep := r.replacer
	r.mu.RUnlock()
	if rep == nil {
		return s
	}
	return rep.Replace(s)
}

// RedactValue masks secrets inside an arbitrary payload. Strings, maps and
// slices are walked directly; any other value is round-tripped through JSON.
func (r *Redactor) RedactValue(v any) any {
	if v == nil || r.Empty() {
		return v
	}
	switch val := v.(type) {
	case string:
		return r.Redact(val)
	case []string:
		out := make([]string, len(val))
		for i, s := range val {
			out[i] = r.Redact(s)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(val))
		for k, s := range val {
			out[k] = r.Redact(s)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = r.RedactValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = r.RedactValue(item)
		}
		return out
	case bool, int, int64, float64, float32, uint64:
		return val
	}

	data, err := json.Marshal(v)
	if err != nil {
		return Placeholder
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return Placeholder
	}
	return r.RedactValue(generic)
}
