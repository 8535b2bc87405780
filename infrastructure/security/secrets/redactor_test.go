package secrets

import (
	"strings"
	"sync"
	"testing"
)

func TestRedactor_Redact(t *testing.T) {
	t.Parallel()

	r := NewRedactor("sk-live-123456", "hunter22", "q7Z", "")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"single", "key=sk-live-123456", "key=[REDACTED]"},
		{"multiple", "hunter22 and sk-live-123456", "[REDACTED] and [REDACTED]"},
		{"short value", "PIN=q7Z", "PIN=[REDACTED]"},
		{"no secret", "print(1)", "print(1)"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := r.Redact(tt.input); got != tt.want {
				t.Errorf("Redact(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestRedactor_LongestFirst(t *testing.T) {
	t.Parallel()

	r := NewRedactor("abcd", "abcdefgh")
	if got := r.Redact("x=abcdefgh"); got != "x=[REDACTED]" {
		t.Errorf("Redact() = %q, want the longer secret masked whole", got)
	}
}

func TestRedactor_RedactValue(t *testing.T) {
	t.Parallel()

	r := NewRedactor()
	r.AddMap(map[string]string{"API_KEY": "sk-secret-value"})

	type payload struct {
		Code     string `json:"code"`
		Language string `json:"language"`
	}

	got := r.RedactValue(payload{Code: "token = 'sk-secret-value'", Language: "python"})
	m, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("RedactValue() = %T, want map", got)
	}
	if strings.Contains(m["code"].(string), "sk-secret-value") {
		t.Errorf("code still contains the secret: %v", m["code"])
	}
	if m["language"] != "python" {
		t.Errorf("language = %v, want python", m["language"])
	}

	nested := r.RedactValue(map[string]any{"steps": []any{"use sk-secret-value"}, "n": 3})
	steps := nested.(map[string]any)["steps"].([]any)
	if steps[0] != "use [REDACTED]" {
		t.Errorf("steps[0] = %v", steps[0])
	}
}

func TestRedactor_NilAndEmpty(t *testing.T) {
	t.Parallel()

	var r *Redactor
	if got := r.Redact("sk-live"); got != "sk-live" {
		t.Errorf("nil Redact() = %q", got)
	}
	if !r.Empty() {
		t.Error("nil redactor should be empty")
	}
	if got := NewRedactor().RedactValue([]string{"a"}); len(got.([]string)) != 1 {
		t.Errorf("RedactValue() = %v", got)
	}
}

func TestRedactor_Concurrent(t *testing.T) {
	t.Parallel()

	r := NewRedactor()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Add("secret-value-xyz")
		}()
		go func() {
			defer wg.Done()
			_ = r.Redact("secret-value-xyz")
		}()
	}
	wg.Wait()

	if got := r.Redact("secret-value-xyz"); got != Placeholder {
		t.Errorf("Redact() = %q, want placeholder", got)
	}
}
