package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/beads-village/village/internal/journal"
	"github.com/mark3labs/mcp-go/mcp"
)

// CleanupTool handles the cleanup MCP tool.
type CleanupTool struct {
	v *Village
}

// NewCleanupTool creates a CleanupTool.
func NewCleanupTool(v *Village) *CleanupTool {
	return &CleanupTool{v: v}
}

// Definition returns the MCP tool definition for cleanup.
func (t *CleanupTool) Definition() mcp.Tool {
	return mcp.NewTool("cleanup",
		mcp.WithDescription(
			"Delete closed issues older than N days, clear expired reservations and optionally old mail. "+
				"Run every few days to keep fewer than 200 open issues.",
		),
		mcp.WithNumber("days",
			mcp.Description("Delete closed issues older than this many days (default 2)"),
		),
		mcp.WithNumber("mail_days",
			mcp.Description("Also delete local and team messages older than this many days (default 0 = keep mail)"),
		),
	)
}

// Handle processes the cleanup tool call.
func (t *CleanupTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	days := intArg(req, "days", 2)
	if days < 1 {
		days = 2
	}
	mailDays := intArg(req, "mail_days", 0)

	target := t.v.target()
	cleaned, err := t.v.Dispatcher.Cleanup(ctx, target, days)
	if err != nil {
		return commandFailure(err, "Run 'doctor' to diagnose the tracker.")
	}
	if _, err := t.v.Dispatcher.Sync(ctx, target); err != nil {
		t.v.logger.Debug("post-cleanup sync failed", "err", err)
	}

	leases, err := t.v.Leases().Prune()
	if err != nil {
		return nil, fmt.Errorf("pruning reservations: %w", err)
	}

	resp := map[string]any{
		"ok":            1,
		"days":          days,
		"cleaned":       cleaned,
		"leases_pruned": leases,
	}
	if mailDays > 0 {
		res, err := t.v.Router.Prune(t.v.Session.Identity(), time.Duration(mailDays)*24*time.Hour, false)
		if err != nil {
			return nil, fmt.Errorf("pruning mail: %w", err)
		}
		resp["mail_pruned"] = res
	}
	t.v.record(journal.KindCleanup, fmt.Sprintf("%d days", days), fmt.Sprintf("cleaned %d", cleaned))
	return jsonResult(resp)
}

// DoctorTool handles the doctor MCP tool.
type DoctorTool struct {
	v *Village
}

// NewDoctorTool creates a DoctorTool.
func NewDoctorTool(v *Village) *DoctorTool {
	return &DoctorTool{v: v}
}

// Definition returns the MCP tool definition for doctor.
func (t *DoctorTool) Definition() mcp.Tool {
	return mcp.NewTool("doctor",
		mcp.WithDescription(
			"Check and repair the tracker database (bd doctor --fix). "+
				"With fix=false only a read-only health check runs. Tracker statistics are included when available.",
		),
		mcp.WithBoolean("fix",
			mcp.Description("Repair problems found (default true)"),
		),
	)
}

// Handle processes the doctor tool call.
func (t *DoctorTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	target := t.v.target()
	fix := boolArg(req, "fix", true)

	var (
		raw json.RawMessage
		err error
	)
	if fix {
		raw, err = t.v.Dispatcher.Doctor(ctx, target, true)
	} else {
		raw, err = t.v.Dispatcher.Health(ctx, target)
	}
	if err != nil {
		return commandFailure(err, "If the database is beyond repair, re-run 'init'.")
	}

	resp := map[string]any{"ok": 1, "fix": fix, "result": raw}
	if stats, err := t.v.Dispatcher.Stats(ctx, target); err != nil {
		t.v.logger.Debug("tracker stats failed", "err", err)
	} else {
		resp["stats"] = stats
	}
	return jsonResult(resp)
}

// SyncTool handles the sync MCP tool.
type SyncTool struct {
	v *Village
}

// NewSyncTool creates a SyncTool.
func NewSyncTool(v *Village) *SyncTool {
	return &SyncTool{v: v}
}

// Definition returns the MCP tool definition for sync.
func (t *SyncTool) Definition() mcp.Tool {
	return mcp.NewTool("sync",
		mcp.WithDescription("Sync the tracker with version control so other agents see your changes."),
	)
}

// Handle processes the sync tool call.
func (t *SyncTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := t.v.Dispatcher.Sync(ctx, t.v.target())
	if err != nil {
		return commandFailure(err, "Check the repository state (uncommitted conflicts block sync).")
	}
	t.v.record(journal.KindSync, "", "")
	return jsonResult(map[string]any{"ok": 1, "result": json.RawMessage(raw)})
}
