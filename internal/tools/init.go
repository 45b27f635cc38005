package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/beads-village/village/internal/journal"
	"github.com/beads-village/village/internal/mail"
	"github.com/beads-village/village/internal/session"
	"github.com/beads-village/village/internal/storage"
	"github.com/mark3labs/mcp-go/mcp"
)

// InitTool handles the init MCP tool.
// It binds the session to a workspace and team and prepares both for
// coordination.
type InitTool struct {
	v *Village
}

// NewInitTool creates an InitTool.
func NewInitTool(v *Village) *InitTool {
	return &InitTool{v: v}
}

// Definition returns the MCP tool definition for registration.
func (t *InitTool) Definition() mcp.Tool {
	return mcp.NewTool("init",
		mcp.WithDescription(
			"Initialize or join a workspace for multi-agent coordination. "+
				"Runs bd init, creates the .mail/ and .reservations/ directories, clears expired reservations "+
				"and announces you to the other agents. Call this first.",
		),
		mcp.WithString("ws",
			mcp.Description("Workspace directory to join. Defaults to the current workspace."),
		),
		mcp.WithString("team",
			mcp.Description("Team to join. Team-scope mail and discovery are limited to this team."),
		),
		mcp.WithString("role",
			mcp.Description("Your role (e.g. fe, be, qa). claim prefers issues labelled with it."),
		),
		mcp.WithBoolean("leader",
			mcp.Description("Mark yourself as the team leader."),
		),
	)
}

// Handle processes the init tool call.
func (t *InitTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ws := req.GetString("ws", "")
	team := req.GetString("team", "")
	role := req.GetString("role", "")

	if ws != "" || team != "" || role != "" {
		if _, err := t.v.Session.Switch(ws, team, role); err != nil {
			switch {
			case errors.Is(err, session.ErrNoWorkspace):
				return errorResult(err.Error(), "Provide an existing directory with the ws parameter."), nil
			case errors.Is(err, session.ErrInvalidTeam):
				return errorResult(err.Error(), "Team names use letters, digits, '.', '_' and '-'."), nil
			}
			return nil, fmt.Errorf("switching session: %w", err)
		}
	}
	if hasArg(req, "leader") {
		t.v.Session.SetLeader(boolArg(req, "leader", false))
	}
	id := t.v.Session.Identity()

	if _, err := t.v.Dispatcher.Init(ctx, t.v.target()); err != nil {
		if !strings.Contains(strings.ToLower(err.Error()), "already") {
			return commandFailure(err, "Ensure the bd CLI is installed and on PATH, then retry init.")
		}
	}

	layout := t.v.Session.Layout()
	for _, dir := range []string{layout.Reservations, layout.LocalMail, layout.TeamMail, layout.TeamAgents} {
		if err := storage.NewFileStore(dir).Ensure(); err != nil {
			return nil, fmt.Errorf("preparing %s: %w", dir, err)
		}
	}

	pruned, err := t.v.Leases().Prune()
	if err != nil {
		return nil, fmt.Errorf("clearing expired reservations: %w", err)
	}

	t.v.announce("join", fmt.Sprintf("Agent %s joined workspace", id.AgentID), mail.Normal)
	t.v.heartbeat()
	t.v.record(journal.KindJoin, id.Workspace, id.Team)

	return jsonResult(map[string]any{
		"ok":        1,
		"agent":     id.AgentID,
		"ws":        id.Workspace,
		"team":      id.Team,
		"role":      id.Role,
		"leader":    id.Leader,
		"pruned":    pruned,
		"transport": t.v.Dispatcher.TransportFor(ctx, t.v.target()),
		"hint":      "Workspace ready. Use 'claim' to get a task, or 'ready' to see available tasks.",
	})
}
