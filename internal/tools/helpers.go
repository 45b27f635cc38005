// Package tools implements the village MCP tool handlers.
//
// Each tool is a struct that receives its dependencies through the shared
// Village and exposes Definition() for registration and Handle() for calls.
//
// Error split:
//   - problems the agent can fix (bad arguments, a conflicting scope, a
//     failing bd command) come back as tool errors carrying a hint
//   - infrastructure failures (an unreadable reservation or mail store)
//     come back as Go errors, so the client sees a protocol-level failure
package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/beads-village/village/internal/dispatch"
	"github.com/mark3labs/mcp-go/mcp"
)

// jsonResult encodes v as the compact JSON text of a tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

// errorResult is a tool error the agent can act on.
func errorResult(msg, hint string) *mcp.CallToolResult {
	body := map[string]string{"error": msg}
	if hint != "" {
		body["hint"] = hint
	}
	data, _ := json.Marshal(body)
	return mcp.NewToolResultError(string(data))
}

// commandFailure turns a failed tracker command into a tool error carrying
// bd's own diagnostic. Anything else is returned as a Go error.
func commandFailure(err error, hint string) (*mcp.CallToolResult, error) {
	var ce *dispatch.CommandError
	if errors.As(err, &ce) {
		msg := ce.Diagnostic
		if msg == "" {
			msg = ce.Error()
		}
		return errorResult(msg, hint), nil
	}
	return nil, err
}

// intArg extracts an integer argument, returning defaultVal if the key is
// missing or not a number (JSON numbers are float64).
func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}

// strictIntArg is intArg that rejects fractional and non-numeric values.
// Values beyond the int32 range saturate.
func strictIntArg(req mcp.CallToolRequest, key string, defaultVal int) (int, bool) {
	raw, present := req.GetArguments()[key]
	if !present || raw == nil {
		return defaultVal, true
	}
	v, ok := raw.(float64)
	if !ok || v != math.Trunc(v) {
		return 0, false
	}
	switch {
	case v > math.MaxInt32:
		return math.MaxInt32, true
	case v < math.MinInt32:
		return math.MinInt32, true
	}
	return int(v), true
}

// boolArg extracts a boolean argument.
func boolArg(req mcp.CallToolRequest, key string, defaultVal bool) bool {
	v, ok := req.GetArguments()[key].(bool)
	if !ok {
		return defaultVal
	}
	return v
}

// hasArg reports whether key was supplied at all.
func hasArg(req mcp.CallToolRequest, key string) bool {
	_, ok := req.GetArguments()[key]
	return ok
}

// stringsArg accepts a JSON array of strings or a single comma-separated
// string.
func stringsArg(req mcp.CallToolRequest, key string) []string {
	var out []string
	switch v := req.GetArguments()[key].(type) {
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	case []string:
		for _, s := range v {
			if strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	case string:
		for _, s := range strings.Split(v, ",") {
			if strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	}
	return out
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

// truncate shortens s to max runes, marking the cut.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}

// issueView is the token-lean issue shape used in list responses.
type issueView struct {
	ID       string `json:"id"`
	Title    string `json:"t"`
	Priority int    `json:"p"`
	Status   string `json:"s,omitempty"`
}

func viewOf(is dispatch.Issue, withStatus bool) issueView {
	v := issueView{ID: is.ID, Title: is.Title, Priority: is.Priority}
	if withStatus {
		v.Status = is.Status
	}
	return v
}
