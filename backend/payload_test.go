package backend

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
)

type shapedError struct{}

func (shapedError) Error() string { return "deadline passed" }
func (shapedError) Payload() map[string]any {
	return map[string]any{"error": "timeout"}
}

func TestErrorPayload(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want map[string]any
	}{
		{name: "nil", err: nil, want: nil},
		{name: "plain", err: errors.New("no such file"), want: map[string]any{"error": "no such file"}},
		{name: "shaped", err: shapedError{}, want: map[string]any{"error": "timeout"}},
		{
			name: "shaped wrapped",
			err:  fmt.Errorf("run_code: %w", shapedError{}),
			want: map[string]any{"error": "timeout"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorPayload(tt.err); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ErrorPayload() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsErrorPayload(t *testing.T) {
	tests := []struct {
		v    any
		want bool
	}{
		{map[string]any{"error": "x"}, true},
		{map[string]any{"error": "x", "fallback": true}, true},
		{map[string]any{"status": "empty"}, false},
		{"error", false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := IsErrorPayload(tt.v); got != tt.want {
			t.Errorf("IsErrorPayload(%v) = %v, want %v", tt.v, got, tt.want)
		}
	}
}

func TestToolID(t *testing.T) {
	id := FormatToolID("memory", "get_memory")
	if id != "memory:get_memory" {
		t.Fatalf("FormatToolID() = %q", id)
	}
	b, tool, err := ParseToolID(id)
	if err != nil {
		t.Fatalf("ParseToolID() error = %v", err)
	}
	if b != "memory" || tool != "get_memory" {
		t.Errorf("ParseToolID() = (%q, %q)", b, tool)
	}

	if _, _, err := ParseToolID("get_memory"); !errors.Is(err, ErrInvalidToolID) {
		t.Errorf("ParseToolID() without backend error = %v, want ErrInvalidToolID", err)
	}
	if FormatToolID("", "x") != "x" {
		t.Error("FormatToolID() with empty backend should return the tool name")
	}
}
