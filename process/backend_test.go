package process

import (
	"context"
	"encoding/json"
	"math"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/jonwraymond/toolgate/backend"
)

func call(t *testing.T, b backend.Backend, tool string, args map[string]any) any {
	t.Helper()
	v, err := b.Execute(context.Background(), tool, args)
	if err != nil {
		return backend.ErrorPayload(err)
	}
	return v
}

func TestCodeBackend(t *testing.T) {
	r, dir := newShellRunner(t)
	b := NewCodeBackend(r, BackendOptions{Logger: zerolog.Nop()})

	if b.Name() != "code" {
		t.Errorf("Name() = %q, want code", b.Name())
	}

	got := call(t, b, "run_code", map[string]any{"code": "echo hi"})
	want := map[string]any{"stdout": "hi\n", "stderr": "", "returncode": 0}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("run_code = %v, want %v", got, want)
	}

	got = call(t, b, "run_code", map[string]any{"code": "sleep 5", "timeout_ms": float64(150)})
	if !reflect.DeepEqual(got, map[string]any{"error": "timeout"}) {
		t.Errorf("run_code timeout = %v", got)
	}
	assertDirEmpty(t, dir)
}

func TestShellBackend(t *testing.T) {
	r, _ := newShellRunner(t)
	b := NewShellBackend(r, BackendOptions{Logger: zerolog.Nop()})

	got := call(t, b, "run_command", map[string]any{"command": "exit 7"})
	m, _ := got.(map[string]any)
	if m["returncode"] != 7 {
		t.Errorf("run_command = %v, want returncode 7", got)
	}

	got = call(t, b, "run_command", map[string]any{"command": "sleep 5", "timeout_ms": 100})
	if !reflect.DeepEqual(got, map[string]any{"error": "timeout"}) {
		t.Errorf("run_command timeout = %v", got)
	}
}

func TestRunArgs(t *testing.T) {
	tests := []struct {
		name        string
		args        map[string]any
		wantText    string
		wantTimeout time.Duration
		wantErr     bool
	}{
		{name: "defaults", args: map[string]any{}, wantTimeout: DefaultCodeTimeout},
		{name: "explicit", args: map[string]any{"code": "x", "timeout_ms": float64(250)}, wantText: "x", wantTimeout: 250 * time.Millisecond},
		{name: "non-string code", args: map[string]any{"code": 3}, wantErr: true},
		{name: "zero timeout", args: map[string]any{"timeout_ms": float64(0)}, wantErr: true},
		{name: "string timeout", args: map[string]any{"timeout_ms": "5"}, wantErr: true},
		{name: "json number", args: map[string]any{"timeout_ms": json.Number("2500")}, wantTimeout: 2500 * time.Millisecond},
		{name: "huge timeout", args: map[string]any{"timeout_ms": json.Number("1e300")}, wantErr: true},
		{name: "just over max", args: map[string]any{"timeout_ms": float64(math.MaxInt64)}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, timeout, err := runArgs(tt.args, "code", DefaultCodeTimeout)
			if (err != nil) != tt.wantErr {
				t.Fatalf("runArgs() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if text != tt.wantText || timeout != tt.wantTimeout {
				t.Errorf("runArgs() = (%q, %s), want (%q, %s)", text, timeout, tt.wantText, tt.wantTimeout)
			}
		})
	}
}

func TestRunArgs_TooLarge(t *testing.T) {
	_, _, err := runArgs(map[string]any{"timeout_ms": json.Number("1e300")}, "code", DefaultCodeTimeout)
	if err == nil || !strings.Contains(err.Error(), "too large") {
		t.Fatalf("runArgs() error = %v, want timeout_ms too large", err)
	}

	_, timeout, err := runArgs(map[string]any{"timeout_ms": maxTimeoutMS}, "code", DefaultCodeTimeout)
	if err != nil {
		t.Fatalf("runArgs(max) error = %v", err)
	}
	if timeout <= 0 {
		t.Errorf("runArgs(max) timeout = %v, want positive", timeout)
	}
}
