package tools

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/beads-village/village/internal/dispatch"
	"github.com/mark3labs/mcp-go/mcp"
)

// openIssueWarnThreshold is where status starts nagging about cleanup.
const openIssueWarnThreshold = 200

// StatusTool handles the status MCP tool.
type StatusTool struct {
	v *Village
}

// NewStatusTool creates a StatusTool.
func NewStatusTool(v *Village) *StatusTool {
	return &StatusTool{v: v}
}

// Definition returns the MCP tool definition for status.
func (t *StatusTool) Definition() mcp.Tool {
	return mcp.NewTool("status",
		mcp.WithDescription(
			"Show your session: workspace, team, current issue, reservations held, "+
				"open issue count, active agents and unread mail.",
		),
	)
}

// Snapshot is the session summary shared by the status tool and the
// village://status resource.
type Snapshot struct {
	Agent        string   `json:"agent"`
	Workspace    string   `json:"ws"`
	Team         string   `json:"team"`
	Role         string   `json:"role,omitempty"`
	Leader       bool     `json:"leader"`
	Current      string   `json:"current,omitempty"`
	Reserved     int      `json:"reserved"`
	ActiveAgents []string `json:"active_agents"`
	Unread       int      `json:"unread"`
	Minutes      float64  `json:"min"`
	Done         int      `json:"done"`
}

// Snapshot gathers the session state without touching the tracker or
// marking mail read.
func (v *Village) Snapshot() (*Snapshot, error) {
	id := v.Session.Identity()
	snap := &Snapshot{
		Agent:     id.AgentID,
		Workspace: id.Workspace,
		Team:      id.Team,
		Role:      id.Role,
		Leader:    id.Leader,
		Current:   v.Session.Issue(),
		Reserved:  len(v.Session.Reserved()),
		Minutes:   math.Round(v.Session.Uptime().Minutes()*10) / 10,
		Done:      v.Session.Done(),
	}

	active := map[string]bool{}
	rs, err := v.Leases().Reservations()
	if err != nil {
		return nil, fmt.Errorf("listing reservations: %w", err)
	}
	for _, r := range rs {
		active[r.Holder] = true
	}
	agents, err := v.Router.Discover(id, 10*time.Minute)
	if err != nil {
		v.logger.Debug("discover for status failed", "err", err)
	}
	for _, a := range agents {
		active[a.ID] = true
	}
	snap.ActiveAgents = make([]string, 0, len(active))
	for a := range active {
		snap.ActiveAgents = append(snap.ActiveAgents, a)
	}
	sort.Strings(snap.ActiveAgents)

	unread, err := v.Router.Unread(id)
	if err != nil {
		v.logger.Debug("unread count failed", "err", err)
	}
	snap.Unread = unread
	return snap, nil
}

// Handle processes the status tool call.
func (t *StatusTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap, err := t.v.Snapshot()
	if err != nil {
		return nil, err
	}

	resp := map[string]any{
		"agent":         snap.Agent,
		"ws":            snap.Workspace,
		"team":          snap.Team,
		"role":          snap.Role,
		"leader":        snap.Leader,
		"current":       snap.Current,
		"reserved":      snap.Reserved,
		"active_agents": snap.ActiveAgents,
		"unread":        snap.Unread,
		"min":           snap.Minutes,
		"done":          snap.Done,
		"transport":     t.v.Dispatcher.TransportFor(ctx, t.v.target()),
	}

	open, err := t.v.Dispatcher.List(ctx, t.v.target(), dispatch.ListArgs{Status: "open"})
	if err != nil {
		resp["tracker_error"] = err.Error()
	} else {
		resp["open"] = len(open)
		resp["warn"] = len(open) > openIssueWarnThreshold
		if len(open) > openIssueWarnThreshold {
			resp["hint"] = "More than 200 open issues. Run 'cleanup' to keep the tracker fast."
		}
	}
	return jsonResult(resp)
}
