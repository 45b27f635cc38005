package tools

import (
	"context"
	"fmt"

	"github.com/beads-village/village/internal/journal"
	"github.com/mark3labs/mcp-go/mcp"
)

// HistoryTool handles the history MCP tool. It is only registered when the
// journal opened.
type HistoryTool struct {
	store *journal.Store
	v     *Village
}

// NewHistoryTool creates a HistoryTool.
func NewHistoryTool(store *journal.Store, v *Village) *HistoryTool {
	return &HistoryTool{store: store, v: v}
}

// Definition returns the MCP tool definition for history.
func (t *HistoryTool) Definition() mcp.Tool {
	return mcp.NewTool("history",
		mcp.WithDescription(
			"Recent activity from this machine's journal, newest first: joins, claims, reservations, "+
				"messages and completions. Local only; other machines keep their own.",
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum events (default 20, max 200)"),
		),
		mcp.WithString("kind",
			mcp.Description("Only events of this kind"),
			mcp.Enum(
				journal.KindJoin, journal.KindClaim, journal.KindDone, journal.KindAdd,
				journal.KindReserve, journal.KindRelease, journal.KindConflict,
				journal.KindMessage, journal.KindBroadcast, journal.KindCleanup, journal.KindSync,
			),
		),
		mcp.WithBoolean("all",
			mcp.Description("Include every agent in this workspace, not just you"),
		),
	)
}

type eventView struct {
	Agent   string `json:"agent"`
	Kind    string `json:"kind"`
	Subject string `json:"subj,omitempty"`
	Detail  string `json:"detail,omitempty"`
	At      string `json:"ts"`
}

// Handle processes the history tool call.
func (t *HistoryTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := clamp(intArg(req, "limit", journal.DefaultLimit), 1, journal.MaxLimit)
	id := t.v.Session.Identity()

	f := journal.Filter{Workspace: id.Workspace, Kind: req.GetString("kind", "")}
	if !boolArg(req, "all", false) {
		f.Agent = id.AgentID
	}
	events, err := t.store.Recent(f, limit)
	if err != nil {
		return nil, fmt.Errorf("reading journal: %w", err)
	}

	items := make([]eventView, 0, len(events))
	for _, e := range events {
		items = append(items, eventView{
			Agent:   e.Agent,
			Kind:    e.Kind,
			Subject: e.Subject,
			Detail:  truncate(e.Detail, 100),
			At:      e.CreatedAt,
		})
	}
	return jsonResult(map[string]any{"items": items, "count": len(items)})
}
