package prompts

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

// HandoffPrompt handles the village-handoff MCP prompt.
// It asks the AI to leave shared state clean before the session ends.
type HandoffPrompt struct{}

// NewHandoffPrompt creates a HandoffPrompt.
func NewHandoffPrompt() *HandoffPrompt {
	return &HandoffPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *HandoffPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("village-handoff",
		mcp.WithPromptDescription(
			"Wrap up the session: report status, release reservations and hand unfinished work to the team.",
		),
	)
}

// Handle processes the village-handoff prompt request.
func (p *HandoffPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{
		Description: "Hand off the village session",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(
					"I'm ending this session. Please:\n" +
						"1. Run `status` and show me the current issue, reservations and unread mail\n" +
						"2. If the current issue is finished, run `done`. If not, `add` an issue describing what is left " +
						"and `msg` the team with scope='team' so someone can pick it up\n" +
						"3. Run `release` so no files stay locked\n" +
						"4. Run `sync`\n" +
						"5. Give me a two-line summary of what happened this session",
				),
			},
		},
	}, nil
}
