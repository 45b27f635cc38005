package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Issue is the subset of a tracker issue the village works with.
type Issue struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Status      string   `json:"status,omitempty"`
	Priority    int      `json:"priority"`
	IssueType   string   `json:"issue_type,omitempty"`
	Labels      []string `json:"labels,omitempty"`
	Assignee    string   `json:"assignee,omitempty"`
}

// decodeIssues accepts a JSON array of issues. Any other shape (bd prints
// {} or a message when there is nothing to list) decodes as empty.
func decodeIssues(raw json.RawMessage) ([]Issue, error) {
	if len(raw) == 0 || raw[0] != '[' {
		return nil, nil
	}
	var issues []Issue
	if err := json.Unmarshal(raw, &issues); err != nil {
		return nil, fmt.Errorf("parsing issue list: %w", err)
	}
	return issues, nil
}

// decodeIssue accepts an issue object, or a one-element array as some bd
// versions print for show.
func decodeIssue(raw json.RawMessage) (*Issue, error) {
	if len(raw) > 0 && raw[0] == '[' {
		issues, err := decodeIssues(raw)
		if err != nil {
			return nil, err
		}
		if len(issues) == 0 {
			return nil, errors.New("empty issue list")
		}
		return &issues[0], nil
	}
	var issue Issue
	if err := json.Unmarshal(raw, &issue); err != nil {
		return nil, fmt.Errorf("parsing issue: %w", err)
	}
	return &issue, nil
}

func (d *Dispatcher) run(ctx context.Context, t Target, args Args) (json.RawMessage, error) {
	res, err := d.Exec(ctx, Call{Target: t, Args: args})
	if err != nil {
		return nil, err
	}
	return res.Data, nil
}

// Create creates an issue and returns it.
func (d *Dispatcher) Create(ctx context.Context, t Target, a CreateArgs) (*Issue, error) {
	raw, err := d.run(ctx, t, a)
	if err != nil {
		return nil, err
	}
	issue, err := decodeIssue(raw)
	if err != nil {
		return nil, err
	}
	if issue.ID == "" {
		return nil, fmt.Errorf("create returned no issue id: %s", truncate(string(raw), maxDiagnostic))
	}
	return issue, nil
}

// List lists issues.
func (d *Dispatcher) List(ctx context.Context, t Target, a ListArgs) ([]Issue, error) {
	raw, err := d.run(ctx, t, a)
	if err != nil {
		return nil, err
	}
	return decodeIssues(raw)
}

// Ready lists unblocked issues in priority order.
func (d *Dispatcher) Ready(ctx context.Context, t Target, a ReadyArgs) ([]Issue, error) {
	raw, err := d.run(ctx, t, a)
	if err != nil {
		return nil, err
	}
	return decodeIssues(raw)
}

// Show returns the full tracker record for id, undecoded, plus the
// decoded common fields.
func (d *Dispatcher) Show(ctx context.Context, t Target, id string) (*Issue, json.RawMessage, error) {
	raw, err := d.run(ctx, t, ShowArgs{ID: id})
	if err != nil {
		return nil, nil, err
	}
	issue, err := decodeIssue(raw)
	if err != nil {
		return nil, raw, err
	}
	return issue, raw, nil
}

// Update changes an issue.
func (d *Dispatcher) Update(ctx context.Context, t Target, a UpdateArgs) (json.RawMessage, error) {
	return d.run(ctx, t, a)
}

// Close closes an issue.
func (d *Dispatcher) Close(ctx context.Context, t Target, id, reason string) (json.RawMessage, error) {
	return d.run(ctx, t, CloseArgs{ID: id, Reason: reason})
}

// AddDependency links two issues.
func (d *Dispatcher) AddDependency(ctx context.Context, t Target, a DepAddArgs) error {
	_, err := d.run(ctx, t, a)
	return err
}

// Sync forces a tracker sync.
func (d *Dispatcher) Sync(ctx context.Context, t Target) (json.RawMessage, error) {
	return d.run(ctx, t, SyncArgs{})
}

// Stats returns tracker statistics.
func (d *Dispatcher) Stats(ctx context.Context, t Target) (json.RawMessage, error) {
	return d.run(ctx, t, StatsArgs{})
}

// Health runs a read-only health check.
func (d *Dispatcher) Health(ctx context.Context, t Target) (json.RawMessage, error) {
	return d.run(ctx, t, HealthArgs{})
}

// Doctor runs bd doctor, repairing when fix is set.
func (d *Dispatcher) Doctor(ctx context.Context, t Target, fix bool) (json.RawMessage, error) {
	return d.run(ctx, t, DoctorArgs{Fix: fix})
}

// Init initializes the tracker in the target workspace.
func (d *Dispatcher) Init(ctx context.Context, t Target) (json.RawMessage, error) {
	return d.run(ctx, t, InitArgs{})
}

// Cleanup deletes closed issues older than days and returns how many went.
func (d *Dispatcher) Cleanup(ctx context.Context, t Target, days int) (int, error) {
	raw, err := d.run(ctx, t, CleanupArgs{Days: days})
	if err != nil {
		return 0, err
	}
	var counts struct {
		Deleted *int `json:"deleted"`
		Cleaned *int `json:"cleaned"`
	}
	if json.Unmarshal(raw, &counts) == nil {
		switch {
		case counts.Deleted != nil:
			return *counts.Deleted, nil
		case counts.Cleaned != nil:
			return *counts.Cleaned, nil
		}
	}
	return 0, nil
}
