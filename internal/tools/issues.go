package tools

import (
	"context"
	"fmt"

	"github.com/beads-village/village/internal/dispatch"
	"github.com/beads-village/village/internal/journal"
	"github.com/mark3labs/mcp-go/mcp"
)

var issueTypes = []string{"task", "bug", "feature", "epic", "chore"}

// AddTool handles the add MCP tool.
type AddTool struct {
	v *Village
}

// NewAddTool creates an AddTool.
func NewAddTool(v *Village) *AddTool {
	return &AddTool{v: v}
}

// Definition returns the MCP tool definition for add.
func (t *AddTool) Definition() mcp.Tool {
	return mcp.NewTool("add",
		mcp.WithDescription(
			"Create an issue. File one for any discovered work that takes more than two minutes. "+
				"Give a description saying why it exists and what needs doing. Without deps the new issue is "+
				"linked discovered-from its parent, which defaults to your current issue.",
		),
		mcp.WithString("title",
			mcp.Required(),
			mcp.Description("Clear, actionable title"),
		),
		mcp.WithString("typ",
			mcp.Description("Issue type (default: task)"),
			mcp.Enum(issueTypes...),
		),
		mcp.WithNumber("pri",
			mcp.Description("Priority 0-4: 0=critical, 1=high, 2=normal (default), 3=low, 4=backlog"),
		),
		mcp.WithString("desc",
			mcp.Description("Why the issue exists and what needs to be done"),
		),
		mcp.WithArray("deps",
			mcp.Description("IDs this issue depends on"),
			mcp.WithStringItems(),
		),
		mcp.WithString("parent",
			mcp.Description("Issue this work was discovered from (default: current issue)"),
		),
	)
}

// Handle processes the add tool call.
func (t *AddTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title := req.GetString("title", "")
	if title == "" {
		return errorResult("title required", "Provide a clear, actionable title. Example: 'Fix login timeout on slow networks'"), nil
	}

	typ := req.GetString("typ", "task")
	valid := false
	for _, it := range issueTypes {
		if typ == it {
			valid = true
			break
		}
	}
	if !valid {
		return errorResult(fmt.Sprintf("invalid type: %s", typ), "Valid types: 'task' (default), 'bug', 'feature', 'epic', 'chore'"), nil
	}

	pri, ok := strictIntArg(req, "pri", 2)
	if !ok || pri < 0 || pri > 4 {
		return errorResult(fmt.Sprintf("invalid priority: %v", req.GetArguments()["pri"]),
			"Priority must be 0-4. 0=critical, 1=high, 2=normal (default), 3=low, 4=backlog"), nil
	}

	desc := req.GetString("desc", "")
	deps := stringsArg(req, "deps")
	parent := req.GetString("parent", t.v.Session.Issue())

	target := t.v.target()
	issue, err := t.v.Dispatcher.Create(ctx, target, dispatch.CreateArgs{
		Title:       title,
		Type:        typ,
		Priority:    pri,
		Description: desc,
		Deps:        deps,
	})
	if err != nil {
		return commandFailure(err, "Check that the workspace is initialized ('init') and bd is healthy ('doctor').")
	}

	if len(deps) == 0 && parent != "" {
		err := t.v.Dispatcher.AddDependency(ctx, target, dispatch.DepAddArgs{From: issue.ID, To: parent})
		if err != nil {
			t.v.logger.Warn("linking discovered issue failed", "issue", issue.ID, "parent", parent, "err", err)
			parent = ""
		}
	}
	t.v.record(journal.KindAdd, issue.ID, title)

	resp := map[string]any{
		"id":   issue.ID,
		"t":    title,
		"p":    pri,
		"typ":  typ,
		"hint": "Issue created. Keep working on your current task, or 'claim' it later.",
	}
	if desc != "" {
		resp["desc"] = truncate(desc, 100)
	}
	if len(deps) > 0 {
		resp["deps"] = deps
	} else if parent != "" {
		resp["parent"] = parent
	}
	return jsonResult(resp)
}

// LsTool handles the ls MCP tool.
type LsTool struct {
	v *Village
}

// NewLsTool creates an LsTool.
func NewLsTool(v *Village) *LsTool {
	return &LsTool{v: v}
}

// Definition returns the MCP tool definition for ls.
func (t *LsTool) Definition() mcp.Tool {
	return mcp.NewTool("ls",
		mcp.WithDescription("List issues with pagination."),
		mcp.WithString("status",
			mcp.Description("Status filter (default: open). Use 'all' for every status."),
			mcp.Enum("open", "in_progress", "blocked", "closed", "all"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Page size (default 10, max 50)"),
		),
		mcp.WithNumber("offset",
			mcp.Description("Items to skip (default 0)"),
		),
	)
}

// Handle processes the ls tool call.
func (t *LsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := req.GetString("status", "open")
	if status == "all" {
		status = ""
	}
	limit := clamp(intArg(req, "limit", 10), 1, 50)
	offset := intArg(req, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	issues, err := t.v.Dispatcher.List(ctx, t.v.target(), dispatch.ListArgs{Status: status})
	if err != nil {
		return commandFailure(err, "Run 'init' first, or 'doctor' to diagnose the tracker.")
	}

	total := len(issues)
	start := min(offset, total)
	end := min(start+limit, total)
	items := make([]issueView, 0, end-start)
	for _, is := range issues[start:end] {
		items = append(items, viewOf(is, true))
	}

	resp := map[string]any{
		"items":    items,
		"total":    total,
		"count":    len(items),
		"offset":   start,
		"has_more": end < total,
	}
	if end < total {
		resp["next_offset"] = end
	}
	return jsonResult(resp)
}

// ReadyTool handles the ready MCP tool.
type ReadyTool struct {
	v *Village
}

// NewReadyTool creates a ReadyTool.
func NewReadyTool(v *Village) *ReadyTool {
	return &ReadyTool{v: v}
}

// Definition returns the MCP tool definition for ready.
func (t *ReadyTool) Definition() mcp.Tool {
	return mcp.NewTool("ready",
		mcp.WithDescription("List unblocked issues ready to work on, highest priority first."),
		mcp.WithNumber("limit",
			mcp.Description("Maximum items (default 5, max 20)"),
		),
	)
}

// Handle processes the ready tool call.
func (t *ReadyTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := clamp(intArg(req, "limit", 5), 1, 20)

	issues, err := t.v.Dispatcher.Ready(ctx, t.v.target(), dispatch.ReadyArgs{})
	if err != nil {
		return commandFailure(err, "Run 'init' first, or 'doctor' to diagnose the tracker.")
	}

	n := min(limit, len(issues))
	items := make([]issueView, 0, n)
	for _, is := range issues[:n] {
		items = append(items, viewOf(is, false))
	}
	return jsonResult(map[string]any{
		"items":    items,
		"total":    len(issues),
		"count":    len(items),
		"has_more": len(issues) > n,
	})
}

// ShowTool handles the show MCP tool.
type ShowTool struct {
	v *Village
}

// NewShowTool creates a ShowTool.
func NewShowTool(v *Village) *ShowTool {
	return &ShowTool{v: v}
}

// Definition returns the MCP tool definition for show.
func (t *ShowTool) Definition() mcp.Tool {
	return mcp.NewTool("show",
		mcp.WithDescription("Show the full details of an issue."),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Issue ID"),
		),
	)
}

// Handle processes the show tool call.
func (t *ShowTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	if id == "" {
		return errorResult("id required", "Use 'ls' or 'ready' to find issue IDs."), nil
	}
	_, raw, err := t.v.Dispatcher.Show(ctx, t.v.target(), id)
	if err != nil && raw == nil {
		return commandFailure(err, fmt.Sprintf("Issue '%s' could not be loaded. Use 'ls' to check the ID.", id))
	}
	return mcp.NewToolResultText(string(raw)), nil
}
