package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SchemaError reports a structured call whose output did not conform to
// the requested schema. Callers map it to their component's fallback
// policy; it is never recovered from silently.
type SchemaError struct {
	Component string
	Err       error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s: structured output did not conform: %v", e.Component, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// decodeStructured unmarshals a structured-call payload into v. Markdown
// code fences are stripped first; any remaining parse failure becomes a
// *SchemaError.
func decodeStructured(component, raw string, v interface{}) error {
	cleaned := stripCodeFences(raw)
	if cleaned == "" {
		return &SchemaError{Component: component, Err: fmt.Errorf("empty payload")}
	}
	if err := json.Unmarshal([]byte(cleaned), v); err != nil {
		return &SchemaError{Component: component, Err: err}
	}
	return nil
}

// stripCodeFences removes a surrounding ```json / ``` fence if present.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
	}
	return strings.TrimSpace(s)
}
