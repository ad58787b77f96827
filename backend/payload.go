package backend

import "errors"

// PayloadError is an error that knows how it should be rendered in a call
// result. Errors that do not implement it render as {"error": err.Error()}.
type PayloadError interface {
	error
	Payload() map[string]any
}

// ErrorPayload converts err into the error-shaped result returned to callers.
// The first PayloadError found in the wrap chain wins.
func ErrorPayload(err error) map[string]any {
	if err == nil {
		return nil
	}
	var pe PayloadError
	if errors.As(err, &pe) {
		if p := pe.Payload(); p != nil {
			return p
		}
	}
	return map[string]any{"error": err.Error()}
}

// IsErrorPayload reports whether a result value is error-shaped, that is a
// map carrying an "error" key.
func IsErrorPayload(v any) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	_, has := m["error"]
	return has
}
