package prompts

import (
	"context"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

func promptText(t *testing.T, result *mcp.GetPromptResult) string {
	t.Helper()
	if len(result.Messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(result.Messages))
	}
	tc, ok := result.Messages[0].Content.(mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T, want TextContent", result.Messages[0].Content)
	}
	return tc.Text
}

func TestStartPrompt(t *testing.T) {
	p := NewStartPrompt()
	if p.Definition().Name != "village-start" {
		t.Errorf("name = %q", p.Definition().Name)
	}

	tests := []struct {
		name string
		args map[string]string
		want string
	}{
		{"no args", nil, "`init()`"},
		{"team only", map[string]string{"team": "red"}, "`init(team='red')`"},
		{"team and role", map[string]string{"team": "red", "role": "be"}, "`init(team='red', role='be')`"},
		{"role only", map[string]string{"role": "qa"}, "`init(role='qa')`"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := mcp.GetPromptRequest{}
			req.Params.Arguments = tt.args
			result, err := p.Handle(context.Background(), req)
			if err != nil {
				t.Fatal(err)
			}
			text := promptText(t, result)
			if !strings.Contains(text, tt.want) {
				t.Errorf("prompt missing %q:\n%s", tt.want, text)
			}
			for _, step := range []string{"claim", "reserve", "done"} {
				if !strings.Contains(text, "`"+step+"`") {
					t.Errorf("prompt missing step %s", step)
				}
			}
		})
	}
}

func TestHandoffPrompt(t *testing.T) {
	p := NewHandoffPrompt()
	if p.Definition().Name != "village-handoff" {
		t.Errorf("name = %q", p.Definition().Name)
	}
	result, err := p.Handle(context.Background(), mcp.GetPromptRequest{})
	if err != nil {
		t.Fatal(err)
	}
	text := promptText(t, result)
	for _, step := range []string{"`status`", "`release`", "`sync`"} {
		if !strings.Contains(text, step) {
			t.Errorf("handoff prompt missing %s", step)
		}
	}
}
