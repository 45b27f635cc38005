package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/beads-village/village/internal/dispatch"
	"github.com/beads-village/village/internal/journal"
	"github.com/beads-village/village/internal/mail"
	"github.com/mark3labs/mcp-go/mcp"
)

// ClaimTool handles the claim MCP tool.
type ClaimTool struct {
	v *Village
}

// NewClaimTool creates a ClaimTool.
func NewClaimTool(v *Village) *ClaimTool {
	return &ClaimTool{v: v}
}

// Definition returns the MCP tool definition for claim.
func (t *ClaimTool) Definition() mcp.Tool {
	return mcp.NewTool("claim",
		mcp.WithDescription(
			"Claim the next ready task (highest priority first). Syncs the tracker, marks the issue in_progress, "+
				"makes it your current issue and tells the other agents. With a role set, issues labelled for "+
				"that role are preferred and issues labelled for other roles are skipped.",
		),
	)
}

// roleMatches reports whether an issue may be claimed by role. Issues with
// no role: label are open to everyone.
func roleMatches(is dispatch.Issue, role string) bool {
	if role == "" {
		return true
	}
	labelled := false
	for _, l := range is.Labels {
		if l == role || l == "role:"+role {
			return true
		}
		if strings.HasPrefix(l, "role:") {
			labelled = true
		}
	}
	return !labelled
}

// pickForRole returns the first issue labelled for role, else the first
// unlabelled one.
func pickForRole(issues []dispatch.Issue, role string) (dispatch.Issue, bool) {
	if role != "" {
		for _, is := range issues {
			for _, l := range is.Labels {
				if l == role || l == "role:"+role {
					return is, true
				}
			}
		}
	}
	for _, is := range issues {
		if roleMatches(is, role) {
			return is, true
		}
	}
	return dispatch.Issue{}, false
}

// Handle processes the claim tool call.
func (t *ClaimTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	target := t.v.target()
	if _, err := t.v.Dispatcher.Sync(ctx, target); err != nil {
		t.v.logger.Debug("pre-claim sync failed", "err", err)
	}

	ready, err := t.v.Dispatcher.Ready(ctx, target, dispatch.ReadyArgs{})
	if err != nil {
		return commandFailure(err, "Run 'init' first to initialize the workspace, or 'doctor' to fix issues.")
	}

	issue, ok := pickForRole(ready, t.v.Session.Identity().Role)
	if !ok {
		return jsonResult(map[string]any{
			"ok":   0,
			"msg":  "no ready tasks",
			"hint": "No tasks available to claim. Use 'add' to create new tasks, or 'ls' to see all issues.",
		})
	}

	if _, err := t.v.Dispatcher.Update(ctx, target, dispatch.UpdateArgs{ID: issue.ID, Status: "in_progress"}); err != nil {
		return commandFailure(err, fmt.Sprintf("Could not mark '%s' in progress. Use 'show' to check it.", issue.ID))
	}

	t.v.Session.SetIssue(issue.ID)
	t.v.announce("claimed:"+issue.ID, issue.Title, mail.High)
	t.v.heartbeat()
	t.v.record(journal.KindClaim, issue.ID, issue.Title)

	return jsonResult(map[string]any{
		"id":   issue.ID,
		"t":    issue.Title,
		"p":    issue.Priority,
		"s":    "in_progress",
		"hint": "Task claimed. Use 'reserve' before editing files, then 'done' when complete.",
	})
}

// DoneTool handles the done MCP tool.
type DoneTool struct {
	v *Village
}

// NewDoneTool creates a DoneTool.
func NewDoneTool(v *Village) *DoneTool {
	return &DoneTool{v: v}
}

// Definition returns the MCP tool definition for done.
func (t *DoneTool) Definition() mcp.Tool {
	return mcp.NewTool("done",
		mcp.WithDescription(
			"Complete a task: closes the issue, releases all your file reservations, syncs and notifies the other agents.",
		),
		mcp.WithString("id",
			mcp.Description("Issue ID to close. Defaults to your current issue."),
		),
		mcp.WithString("msg",
			mcp.Description("Completion note used as the close reason (default: completed)."),
		),
	)
}

// Handle processes the done tool call.
func (t *DoneTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", t.v.Session.Issue())
	if id == "" {
		return errorResult("no issue id", "Provide an issue ID, or use 'claim' first to set the current task."), nil
	}
	msg := req.GetString("msg", "completed")
	if msg == "" {
		msg = "completed"
	}

	target := t.v.target()
	if _, err := t.v.Dispatcher.Close(ctx, target, id, msg); err != nil {
		return commandFailure(err, fmt.Sprintf("Failed to close issue '%s'. Use 'show' to verify the issue exists.", id))
	}

	holder := t.v.Session.Identity().AgentID
	released, err := t.v.Leases().Release(holder, nil)
	if err != nil {
		return nil, fmt.Errorf("issue %s closed but releasing reservations failed: %w", id, err)
	}
	if released == nil {
		released = []string{}
	}
	t.v.Session.ForgetReserved()

	if _, err := t.v.Dispatcher.Sync(ctx, target); err != nil {
		t.v.logger.Debug("post-done sync failed", "err", err)
	}

	t.v.announce("done:"+id, msg, mail.High)
	t.v.Session.CompleteIssue(id)
	t.v.heartbeat()
	t.v.record(journal.KindDone, id, msg)

	return jsonResult(map[string]any{
		"ok":       1,
		"done":     t.v.Session.Done(),
		"released": released,
		"hint":     "Task completed. Restart the session for best performance (1 task = 1 session).",
	})
}
