package files

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/rs/zerolog"

	"github.com/jonwraymond/toolgate/backend"
)

func TestBackend_WriteThenRead(t *testing.T) {
	a, _ := New("")
	b := NewBackend(a, "", zerolog.Nop())
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "out.txt")

	got, err := b.Execute(ctx, "write_file", map[string]any{"path": path, "content": "42"})
	if err != nil {
		t.Fatalf("write_file error = %v", err)
	}
	if !reflect.DeepEqual(got, map[string]any{"status": "written", "path": path}) {
		t.Errorf("write_file = %v", got)
	}

	got, err = b.Execute(ctx, "read_file", map[string]any{"path": path})
	if err != nil {
		t.Fatalf("read_file error = %v", err)
	}
	if !reflect.DeepEqual(got, map[string]any{"content": "42"}) {
		t.Errorf("read_file = %v", got)
	}
}

func TestBackend_Errors(t *testing.T) {
	a, _ := New("")
	b := NewBackend(a, "files", zerolog.Nop())
	ctx := context.Background()

	tests := []struct {
		tool string
		args map[string]any
	}{
		{"read_file", map[string]any{"path": filepath.Join(t.TempDir(), "missing")}},
		{"read_file", map[string]any{}},
		{"write_file", map[string]any{"path": 12}},
		{"write_file", map[string]any{"path": "x", "content": false}},
	}
	for _, tt := range tests {
		_, err := b.Execute(ctx, tt.tool, tt.args)
		if err == nil {
			t.Errorf("%s(%v) should fail", tt.tool, tt.args)
			continue
		}
		p := backend.ErrorPayload(err)
		if p["error"] == "" || len(p) != 1 {
			t.Errorf("%s payload = %v, want {error}", tt.tool, p)
		}
	}
}
