package dispatch

import "strconv"

// Op names a tracker operation independent of the transport that runs it.
type Op string

const (
	OpCreate  Op = "create"
	OpList    Op = "list"
	OpReady   Op = "ready"
	OpShow    Op = "show"
	OpUpdate  Op = "update"
	OpClose   Op = "close"
	OpDepAdd  Op = "dep_add"
	OpSync    Op = "sync"
	OpStats   Op = "stats"
	OpHealth  Op = "health"
	OpCleanup Op = "cleanup"
	OpDoctor  Op = "doctor"
	OpInit    Op = "init"
)

// Args is one tracker operation with its parameters. Every implementation
// knows how to render itself for both transports, which is what keeps the
// two paths semantically identical.
type Args interface {
	Op() Op
	// cliArgs is the bd argv, without the binary name.
	cliArgs() []string
	// daemonRequest returns the RPC operation and payload, or ok=false when
	// the daemon has no equivalent and the CLI must be used.
	daemonRequest() (operation string, payload map[string]any, ok bool)
}

// CreateArgs creates an issue.
type CreateArgs struct {
	Title       string
	Type        string
	Priority    int
	Description string
	Deps        []string
}

func (CreateArgs) Op() Op { return OpCreate }

func (a CreateArgs) cliArgs() []string {
	args := []string{"create", a.Title, "-t", a.issueType(), "-p", strconv.Itoa(a.Priority)}
	if a.Description != "" {
		args = append(args, "--description", a.Description)
	}
	for _, d := range a.Deps {
		args = append(args, "--deps", d)
	}
	return append(args, "--json")
}

func (a CreateArgs) daemonRequest() (string, map[string]any, bool) {
	p := map[string]any{
		"title":      a.Title,
		"issue_type": a.issueType(),
		"priority":   a.Priority,
	}
	if a.Description != "" {
		p["description"] = a.Description
	}
	if len(a.Deps) > 0 {
		p["dependencies"] = a.Deps
	}
	return "create", p, true
}

func (a CreateArgs) issueType() string {
	if a.Type == "" {
		return "task"
	}
	return a.Type
}

// ListArgs lists issues, optionally filtered by status.
type ListArgs struct {
	Status string
	Limit  int
}

func (ListArgs) Op() Op { return OpList }

func (a ListArgs) cliArgs() []string {
	args := []string{"list"}
	if a.Status != "" {
		args = append(args, "--status", a.Status)
	}
	if a.Limit > 0 {
		args = append(args, "--limit", strconv.Itoa(a.Limit))
	}
	return append(args, "--json")
}

func (a ListArgs) daemonRequest() (string, map[string]any, bool) {
	p := map[string]any{}
	if a.Status != "" {
		p["status"] = a.Status
	}
	if a.Limit > 0 {
		p["limit"] = a.Limit
	}
	return "list", p, true
}

// ReadyArgs lists unblocked issues, highest priority first.
type ReadyArgs struct {
	Limit int
}

func (ReadyArgs) Op() Op { return OpReady }

func (a ReadyArgs) cliArgs() []string {
	args := []string{"ready"}
	if a.Limit > 0 {
		args = append(args, "--limit", strconv.Itoa(a.Limit))
	}
	return append(args, "--json")
}

func (a ReadyArgs) daemonRequest() (string, map[string]any, bool) {
	p := map[string]any{}
	if a.Limit > 0 {
		p["limit"] = a.Limit
	}
	return "ready", p, true
}

// ShowArgs fetches one issue.
type ShowArgs struct {
	ID string
}

func (ShowArgs) Op() Op { return OpShow }

func (a ShowArgs) cliArgs() []string { return []string{"show", a.ID, "--json"} }

func (a ShowArgs) daemonRequest() (string, map[string]any, bool) {
	return "show", map[string]any{"id": a.ID}, true
}

// UpdateArgs changes status and/or priority of an issue.
type UpdateArgs struct {
	ID       string
	Status   string
	Priority *int
}

func (UpdateArgs) Op() Op { return OpUpdate }

func (a UpdateArgs) cliArgs() []string {
	args := []string{"update", a.ID}
	if a.Status != "" {
		args = append(args, "--status", a.Status)
	}
	if a.Priority != nil {
		args = append(args, "--priority", strconv.Itoa(*a.Priority))
	}
	return append(args, "--json")
}

func (a UpdateArgs) daemonRequest() (string, map[string]any, bool) {
	p := map[string]any{"id": a.ID}
	if a.Status != "" {
		p["status"] = a.Status
	}
	if a.Priority != nil {
		p["priority"] = *a.Priority
	}
	return "update", p, true
}

// CloseArgs closes an issue with a reason.
type CloseArgs struct {
	ID     string
	Reason string
}

func (CloseArgs) Op() Op { return OpClose }

func (a CloseArgs) reason() string {
	if a.Reason == "" {
		return "completed"
	}
	return a.Reason
}

func (a CloseArgs) cliArgs() []string {
	return []string{"close", a.ID, "--reason", a.reason(), "--json"}
}

func (a CloseArgs) daemonRequest() (string, map[string]any, bool) {
	return "close", map[string]any{"id": a.ID, "reason": a.reason()}, true
}

// DepAddArgs links From to To with a dependency of Type.
type DepAddArgs struct {
	From string
	To   string
	Type string
}

func (DepAddArgs) Op() Op { return OpDepAdd }

func (a DepAddArgs) depType() string {
	if a.Type == "" {
		return "discovered-from"
	}
	return a.Type
}

func (a DepAddArgs) cliArgs() []string {
	return []string{"dep", "add", a.From, a.To, "--type", a.depType()}
}

func (a DepAddArgs) daemonRequest() (string, map[string]any, bool) {
	return "dep_add", map[string]any{"from_id": a.From, "to_id": a.To, "dep_type": a.depType()}, true
}

// SyncArgs forces a sync of the tracker database with version control.
type SyncArgs struct{}

func (SyncArgs) Op() Op            { return OpSync }
func (SyncArgs) cliArgs() []string { return []string{"sync"} }
func (SyncArgs) daemonRequest() (string, map[string]any, bool) {
	return "sync", map[string]any{}, true
}

// StatsArgs reports tracker statistics.
type StatsArgs struct{}

func (StatsArgs) Op() Op            { return OpStats }
func (StatsArgs) cliArgs() []string { return []string{"stats", "--json"} }
func (StatsArgs) daemonRequest() (string, map[string]any, bool) {
	return "stats", map[string]any{}, true
}

// HealthArgs runs a read-only health check.
type HealthArgs struct{}

func (HealthArgs) Op() Op            { return OpHealth }
func (HealthArgs) cliArgs() []string { return []string{"doctor", "--json"} }
func (HealthArgs) daemonRequest() (string, map[string]any, bool) {
	return "health", map[string]any{}, true
}

// CleanupArgs deletes closed issues older than Days.
type CleanupArgs struct {
	Days int
}

func (CleanupArgs) Op() Op { return OpCleanup }

func (a CleanupArgs) cliArgs() []string {
	days := a.Days
	if days <= 0 {
		days = 2
	}
	return []string{"cleanup", "--days", strconv.Itoa(days), "--json"}
}

func (CleanupArgs) daemonRequest() (string, map[string]any, bool) { return "", nil, false }

// DoctorArgs runs the tracker's doctor, optionally repairing.
type DoctorArgs struct {
	Fix bool
}

func (DoctorArgs) Op() Op { return OpDoctor }

func (a DoctorArgs) cliArgs() []string {
	if a.Fix {
		return []string{"doctor", "--fix", "--json"}
	}
	return []string{"doctor", "--json"}
}

func (DoctorArgs) daemonRequest() (string, map[string]any, bool) { return "", nil, false }

// InitArgs initializes a tracker database in the workspace.
type InitArgs struct{}

func (InitArgs) Op() Op                                       { return OpInit }
func (InitArgs) cliArgs() []string                            { return []string{"init"} }
func (InitArgs) daemonRequest() (string, map[string]any, bool) { return "", nil, false }
