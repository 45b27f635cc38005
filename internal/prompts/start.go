// Package prompts implements the village MCP prompts.
//
// MCP prompts are user-triggered workflows (like slash commands) that
// instruct the AI to run a sequence of tools. Unlike tools, which the AI
// calls on its own, prompts are started by the user.
package prompts

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// StartPrompt handles the village-start MCP prompt.
// It walks an agent through joining a workspace and taking one task.
type StartPrompt struct{}

// NewStartPrompt creates a StartPrompt.
func NewStartPrompt() *StartPrompt {
	return &StartPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *StartPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("village-start",
		mcp.WithPromptDescription(
			"Join the village and work one task: init, claim, reserve, work, done.",
		),
		mcp.WithArgument("team",
			mcp.ArgumentDescription("Team to join (default: the configured team)"),
		),
		mcp.WithArgument("role",
			mcp.ArgumentDescription("Your role, e.g. fe, be or qa. Claim prefers issues labelled with it."),
		),
	)
}

// Handle processes the village-start prompt request.
func (p *StartPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	var initArgs string
	if args := req.Params.Arguments; args != nil {
		if team := args["team"]; team != "" {
			initArgs += fmt.Sprintf("team='%s'", team)
		}
		if role := args["role"]; role != "" {
			if initArgs != "" {
				initArgs += ", "
			}
			initArgs += fmt.Sprintf("role='%s'", role)
		}
	}

	return &mcp.GetPromptResult{
		Description: "Start a village session",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(fmt.Sprintf(
					"Work one task as part of the village.\n\n"+
						"1. Run `init(%s)` and check the response for errors\n"+
						"2. Run `inbox` and read what the other agents said\n"+
						"3. Run `claim` to take the next ready task. If nothing is ready, tell me and stop\n"+
						"4. Before editing any file, `reserve` it. If a path comes back as a conflict, "+
						"work on something else or `msg` the holder; never edit a file someone else holds\n"+
						"5. Do the work. File anything you discover along the way with `add`\n"+
						"6. Run `done` with a short note of what changed\n"+
						"7. Tell me the session is complete so I can restart it for the next task",
					initArgs,
				)),
			},
		},
	}, nil
}
