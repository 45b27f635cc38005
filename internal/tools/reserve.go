package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/beads-village/village/internal/journal"
	"github.com/beads-village/village/internal/lease"
	"github.com/mark3labs/mcp-go/mcp"
)

// ReserveTool handles the reserve MCP tool.
type ReserveTool struct {
	v *Village
}

// NewReserveTool creates a ReserveTool.
func NewReserveTool(v *Village) *ReserveTool {
	return &ReserveTool{v: v}
}

// Definition returns the MCP tool definition for reserve.
func (t *ReserveTool) Definition() mcp.Tool {
	return mcp.NewTool("reserve",
		mcp.WithDescription(
			"Reserve files before editing them so other agents don't make conflicting changes. "+
				"Reservations expire after ttl seconds; reserving a path you already hold renews it. "+
				"Paths held by others come back as conflicts with the holder and the time left.",
		),
		mcp.WithArray("paths",
			mcp.Required(),
			mcp.Description("Workspace-relative (or absolute, inside the workspace) paths to reserve"),
			mcp.WithStringItems(),
		),
		mcp.WithNumber("ttl",
			mcp.Description("Seconds until the reservation expires (default 600)"),
		),
		mcp.WithString("reason",
			mcp.Description("Why you need the files (default: your current issue)"),
		),
	)
}

type reserveResponse struct {
	Granted   []string          `json:"granted"`
	Conflicts []lease.Conflict  `json:"conflicts"`
	Errors    []lease.PathError `json:"errors,omitempty"`
	Expires   *time.Time        `json:"expires"`
	Hint      string            `json:"hint,omitempty"`
}

// Handle processes the reserve tool call.
func (t *ReserveTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	paths := stringsArg(req, "paths")
	if len(paths) == 0 {
		return errorResult("paths required", "Provide a list of file paths to reserve."), nil
	}
	secs, ok := strictIntArg(req, "ttl", 0)
	if !ok || secs < 0 {
		return errorResult("ttl must be a whole number of seconds", "Omit ttl to use the default of 600."), nil
	}
	ttl := time.Duration(clamp(secs, 0, int(lease.MaxTTL/time.Second))) * time.Second
	reason := req.GetString("reason", "")
	if reason == "" {
		reason = t.v.Session.Issue()
	}
	if reason == "" {
		reason = "editing"
	}

	holder := t.v.Session.Identity().AgentID
	res, err := t.v.Leases().Reserve(holder, paths, reason, ttl)
	if err != nil {
		return nil, fmt.Errorf("reserving paths: %w", err)
	}
	t.v.Session.TrackReserved(res.Granted...)

	resp := reserveResponse{
		Granted:   res.Granted,
		Conflicts: res.Conflicts,
		Errors:    res.Errors,
	}
	if resp.Granted == nil {
		resp.Granted = []string{}
	}
	if resp.Conflicts == nil {
		resp.Conflicts = []lease.Conflict{}
	}
	if len(res.Granted) > 0 {
		exp := res.ExpiresAt
		resp.Expires = &exp
		t.v.record(journal.KindReserve, strings.Join(res.Granted, ","), reason)
	}
	if len(res.Conflicts) > 0 {
		holders := make([]string, 0, len(res.Conflicts))
		for _, c := range res.Conflicts {
			holders = append(holders, c.Path+"@"+c.Holder)
		}
		t.v.record(journal.KindConflict, strings.Join(holders, ","), "")
		resp.Hint = "Some paths are held by other agents. Work on something else, message the holder with 'msg', or retry after the remaining seconds."
	}
	return jsonResult(resp)
}

// ReleaseTool handles the release MCP tool.
type ReleaseTool struct {
	v *Village
}

// NewReleaseTool creates a ReleaseTool.
func NewReleaseTool(v *Village) *ReleaseTool {
	return &ReleaseTool{v: v}
}

// Definition returns the MCP tool definition for release.
func (t *ReleaseTool) Definition() mcp.Tool {
	return mcp.NewTool("release",
		mcp.WithDescription("Release file reservations. With no paths, releases everything you hold."),
		mcp.WithArray("paths",
			mcp.Description("Paths to release (default: all of yours)"),
			mcp.WithStringItems(),
		),
	)
}

// Handle processes the release tool call.
func (t *ReleaseTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	paths := stringsArg(req, "paths")
	holder := t.v.Session.Identity().AgentID

	released, err := t.v.Leases().Release(holder, paths)
	if err != nil {
		return nil, fmt.Errorf("releasing paths: %w", err)
	}
	if len(paths) == 0 {
		t.v.Session.ForgetReserved()
	} else {
		t.v.Session.ForgetReserved(released...)
	}
	if released == nil {
		released = []string{}
	}
	if len(released) > 0 {
		t.v.record(journal.KindRelease, strings.Join(released, ","), "")
	}
	return jsonResult(map[string]any{"released": released})
}

// ReservationsTool handles the reservations MCP tool.
type ReservationsTool struct {
	v *Village
}

// NewReservationsTool creates a ReservationsTool.
func NewReservationsTool(v *Village) *ReservationsTool {
	return &ReservationsTool{v: v}
}

// Definition returns the MCP tool definition for reservations.
func (t *ReservationsTool) Definition() mcp.Tool {
	return mcp.NewTool("reservations",
		mcp.WithDescription("List live file reservations in the workspace: who is editing what, and for how long."),
	)
}

type reservationView struct {
	Path      string    `json:"path"`
	Holder    string    `json:"holder"`
	Reason    string    `json:"reason,omitempty"`
	ExpiresAt time.Time `json:"expires"`
	Remaining int       `json:"remaining_s"`
}

func reservationViews(rs []lease.Reservation, now time.Time) []reservationView {
	out := make([]reservationView, 0, len(rs))
	for _, r := range rs {
		out = append(out, reservationView{
			Path:      r.Path,
			Holder:    r.Holder,
			Reason:    r.Reason,
			ExpiresAt: r.ExpiresAt,
			Remaining: int(r.Remaining(now).Seconds()),
		})
	}
	return out
}

// Handle processes the reservations tool call.
func (t *ReservationsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rs, err := t.v.Leases().Reservations()
	if err != nil {
		return nil, fmt.Errorf("listing reservations: %w", err)
	}
	return jsonResult(reservationViews(rs, timeNow()))
}
