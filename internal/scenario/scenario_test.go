package scenario

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/aristath/structured/internal/config"
)

func testEnv(t *testing.T) (*Env, *bytes.Buffer) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Retry.InitialIntervalMs = 1
	cfg.Retry.MaxIntervalMs = 5

	var out bytes.Buffer
	env := NewEnv(cfg, &out)
	t.Cleanup(env.Close)
	return env, &out
}

func TestScenarios(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"a", "completion order [20 30 10]"},
		{"b", "both children flagged cancelled synchronously"},
		{"c", "counter = 100"},
		{"preference", "detached"},
		{"timeout", "quick work: 42"},
		{"pipeline", "fetch took 3 attempts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, out := testEnv(t)
			if err := Run(context.Background(), env, tt.name); err != nil {
				t.Fatalf("Run(%s): %v\n%s", tt.name, err, out)
			}
			if !strings.Contains(out.String(), tt.want) {
				t.Errorf("output missing %q:\n%s", tt.want, out)
			}
		})
	}
}

func TestRunAll(t *testing.T) {
	env, out := testEnv(t)
	if err := Run(context.Background(), env, All); err != nil {
		t.Fatalf("Run(all): %v\n%s", err, out)
	}
	for _, name := range Names() {
		if name == All {
			continue
		}
		if !strings.Contains(out.String(), "== "+name+":") {
			t.Errorf("scenario %s did not run", name)
		}
	}
}

func TestUnknownScenario(t *testing.T) {
	env, _ := testEnv(t)
	if err := Run(context.Background(), env, "nope"); err == nil {
		t.Error("expected an error for an unknown scenario")
	}
	if _, ok := Lookup("nope"); ok {
		t.Error("Lookup should not find an unknown scenario")
	}
}

func TestCancelledRun(t *testing.T) {
	env, _ := testEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := Run(ctx, env, "a"); err == nil {
		t.Error("expected a cancelled run to fail")
	}
}

func TestDescribe(t *testing.T) {
	var buf bytes.Buffer
	Describe(&buf)
	for _, name := range []string{"a", "pipeline", "timeout"} {
		if !strings.Contains(buf.String(), name) {
			t.Errorf("description missing %s", name)
		}
	}
}
