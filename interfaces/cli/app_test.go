package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/felixgeelhaar/roundtable/domain/event"
	"github.com/felixgeelhaar/roundtable/domain/task"
)

const approvingScript = `librarian:
  - response: "No prior context."
architect:
  - response: '{"plan_steps": ["$ echo hello"]}'
critic:
  - response: '{"is_approved": true, "score": 90}'
coder:
  - response: '{"language": "python", "code": "print(\"hello\")"}'
`

const rejectingScript = `librarian:
  - response: "No prior context."
architect:
  - response: '{"plan_steps": ["$ rm -rf /"]}'
critic:
  - response: '{"is_approved": false, "score": 10, "feedback": "destructive"}'
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	app := New().WithOutput(&stdout, &stderr)
	app.root.SetIn(strings.NewReader(""))
	err := app.ExecuteWithArgs(context.Background(), append(args, "--env-file", filepath.Join(t.TempDir(), "absent.env")))
	return stdout.String(), stderr.String(), err
}

func wireLines(t *testing.T, out string) []event.Wire {
	t.Helper()
	var lines []event.Wire
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		var w event.Wire
		if err := json.Unmarshal(scanner.Bytes(), &w); err != nil {
			t.Fatalf("line %q is not JSON: %v", scanner.Text(), err)
		}
		lines = append(lines, w)
	}
	return lines
}

func TestApp_Version(t *testing.T) {
	out, _, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if !strings.Contains(out, "roundtable version") {
		t.Errorf("version output missing 'roundtable version', got: %s", out)
	}
}

func TestApp_Help(t *testing.T) {
	out, _, err := execute(t, "--help")
	if err != nil {
		t.Fatalf("help command failed: %v", err)
	}
	for _, want := range []string{"round table", "run", "serve", "replay", "validate"} {
		if !strings.Contains(out, want) {
			t.Errorf("help output missing %q, got: %s", want, out)
		}
	}
}

func TestApp_Validate(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "roundtable.yaml", `name: test
version: "1"
gateway:
  provider: scripted
  script: replies.yaml
loop:
  max_iterations: 2
stores:
  journal:
    type: badger
`)

	out, _, err := execute(t, "validate", "-c", path)
	if err != nil {
		t.Fatalf("validate command failed: %v", err)
	}
	for _, want := range []string{"is valid", "scripted", "2 (blocked plans: fail)", "journal: badger", "Webhooks:"} {
		if !strings.Contains(out, want) {
			t.Errorf("validate output missing %q, got: %s", want, out)
		}
	}
}

func TestApp_ValidateInvalid(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "roundtable.yaml", `name: test
version: "1"
gateway:
  provider: carrier-pigeon
`)

	_, _, err := execute(t, "validate", "-c", path)
	if err == nil {
		t.Fatal("validate command should fail for invalid config")
	}

	if _, _, err := execute(t, "validate"); err == nil {
		t.Error("validate without -c should fail")
	}
}

func TestApp_ValidateShowSchema(t *testing.T) {
	out, _, err := execute(t, "validate", "--schema")
	if err != nil {
		t.Fatalf("validate --schema failed: %v", err)
	}
	if !strings.Contains(out, "$schema") || !strings.Contains(out, "Round-Table Engine Configuration") {
		t.Errorf("unexpected schema output: %s", out)
	}

	path := filepath.Join(t.TempDir(), "schema.json")
	if _, _, err := execute(t, "validate", "--schema", "-o", path); err != nil {
		t.Fatalf("validate --schema -o failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || !json.Valid(data) {
		t.Errorf("schema file invalid: %v", err)
	}
}

func TestApp_EnvFileSuppliesAPIKey(t *testing.T) {
	t.Cleanup(func() { _ = os.Unsetenv("ROUNDTABLE_TEST_KEY") })

	dir := t.TempDir()
	path := writeFile(t, dir, "roundtable.yaml", `name: test
version: "1"
gateway:
  provider: openai
  api_key: ${ROUNDTABLE_TEST_KEY}
`)
	envFile := writeFile(t, dir, "test.env", "ROUNDTABLE_TEST_KEY=sk-test\n")

	if _, _, err := execute(t, "validate", "-c", path); err == nil {
		t.Fatal("validate should fail without an api key")
	}

	var stdout, stderr bytes.Buffer
	app := New().WithOutput(&stdout, &stderr)
	if err := app.ExecuteWithArgs(context.Background(), []string{"validate", "-c", path, "--env-file", envFile}); err != nil {
		t.Fatalf("validate with env file failed: %v", err)
	}
}

func TestApp_Run(t *testing.T) {
	script := writeFile(t, t.TempDir(), "replies.yaml", approvingScript)

	out, _, err := execute(t, "run", "--script", script, "--dry-run", "--user", "alice", "say hello")
	if err != nil {
		t.Fatalf("run command failed: %v", err)
	}

	lines := wireLines(t, out)
	if len(lines) < 2 {
		t.Fatalf("got %d event lines, want a full sequence:\n%s", len(lines), out)
	}
	if last := lines[len(lines)-1]; last.Type != event.KindResult {
		t.Errorf("last line = %+v, want result", last)
	}
}

func TestApp_RunBudgetExhausted(t *testing.T) {
	script := writeFile(t, t.TempDir(), "replies.yaml", rejectingScript)

	out, _, err := execute(t, "run", "--script", script, "--dry-run", "--max-iterations", "2", "delete everything")
	if !errors.Is(err, task.ErrBudgetExhausted) {
		t.Fatalf("run error = %v, want budget exhausted", err)
	}

	lines := wireLines(t, out)
	last := lines[len(lines)-1]
	if last.Type != event.KindError || last.Code != string(task.CodeBudgetExhausted) {
		t.Errorf("last line = %+v, want budget exhausted error", last)
	}
}

func TestApp_RunRequiresTask(t *testing.T) {
	if _, _, err := execute(t, "run", "--dry-run"); err == nil {
		t.Fatal("run without a task should fail")
	}
}

func TestApp_RunThenReplay(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "replies.yaml", approvingScript)
	path := writeFile(t, dir, "roundtable.yaml", `name: test
version: "1"
gateway:
  provider: scripted
  script: replies.yaml
execution:
  provider: noop
stores:
  journal:
    type: badger
    dsn: `+filepath.Join(dir, "journal")+`
`)

	_, stderr, err := execute(t, "run", "-c", path, "--summary", "say hello")
	if err != nil {
		t.Fatalf("run command failed: %v", err)
	}
	m := regexp.MustCompile(`run ([0-9a-f-]{36}): succeeded`).FindStringSubmatch(stderr)
	if m == nil {
		t.Fatalf("summary line missing from stderr: %s", stderr)
	}

	out, _, err := execute(t, "replay", "-c", path, m[1])
	if err != nil {
		t.Fatalf("replay command failed: %v", err)
	}
	var summary struct {
		RunID    string `json:"run_id"`
		Complete bool   `json:"complete"`
		Approved bool   `json:"approved"`
	}
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("replay output is not JSON: %v\n%s", err, out)
	}
	if summary.RunID != m[1] || !summary.Complete || !summary.Approved {
		t.Errorf("summary = %+v", summary)
	}

	out, _, err = execute(t, "replay", "-c", path, "--events", m[1])
	if err != nil {
		t.Fatalf("replay --events failed: %v", err)
	}
	if lines := wireLines(t, out); len(lines) == 0 || lines[len(lines)-1].Type != event.KindResult {
		t.Errorf("replayed events end with %+v, want result", lines)
	}

	if _, _, err := execute(t, "replay", "-c", path, "00000000-0000-0000-0000-000000000000"); err == nil {
		t.Error("replay of an unknown run should fail")
	}
}
