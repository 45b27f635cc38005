package dispatch

import (
	"bytes"
	"encoding/json"
)

var emptyObject = json.RawMessage(`{}`)

// normalize turns raw transport output into the JSON value both paths
// agree on: JSON passes through, a JSON string holding JSON is unwrapped,
// empty output is {} and plain text becomes {"output": "..."}.
func normalize(out []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return emptyObject
	}
	if !json.Valid(trimmed) {
		wrapped, _ := json.Marshal(map[string]string{"output": string(trimmed)})
		return wrapped
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			inner := bytes.TrimSpace([]byte(s))
			if len(inner) > 0 && (inner[0] == '{' || inner[0] == '[') && json.Valid(inner) {
				return json.RawMessage(inner)
			}
			wrapped, _ := json.Marshal(map[string]string{"output": s})
			return wrapped
		}
	}
	return json.RawMessage(trimmed)
}
