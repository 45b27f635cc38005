// Package session resolves who this process is and where it works.
//
// An Identity (agent id, workspace, team, role, leader flag) is resolved
// once from configuration and can be re-bound mid-session with Switch.
// The Session also carries in-memory work state: the issue being worked
// on, the number of issues completed and the paths reserved. None of it
// is persisted; a restart starts a fresh session.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/beads-village/village/internal/config"
)

var (
	// ErrInvalidTeam is returned for team names that cannot be used as a
	// directory name in the hub.
	ErrInvalidTeam = errors.New("invalid team name")
	// ErrInvalidAgent is returned for agent ids that cannot be used as a
	// file name.
	ErrInvalidAgent = errors.New("invalid agent id")
	// ErrNoWorkspace is returned when the workspace does not exist or is
	// not a directory.
	ErrNoWorkspace = errors.New("workspace not found")
)

var nameRE = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9._-]*$`)

// timeNow is a package-level variable for testability.
var timeNow = time.Now

// Identity is an immutable snapshot of the session binding.
type Identity struct {
	AgentID   string    `json:"agent"`
	Workspace string    `json:"workspace"`
	Team      string    `json:"team"`
	Role      string    `json:"role,omitempty"`
	Leader    bool      `json:"leader"`
	StartedAt time.Time `json:"started_at"`
}

// Layout is where a binding's state lives on disk.
type Layout struct {
	Reservations string
	LocalMail    string
	Hub          string
	TeamMail     string
	TeamAgents   string
	GlobalMail   string
}

// LayoutFor derives the directory layout for id under hub.
func LayoutFor(id Identity, hub string) Layout {
	return Layout{
		Reservations: filepath.Join(id.Workspace, ".reservations"),
		LocalMail:    filepath.Join(id.Workspace, ".mail"),
		Hub:          hub,
		TeamMail:     filepath.Join(hub, id.Team, "mail"),
		TeamAgents:   filepath.Join(hub, id.Team, "agents"),
		GlobalMail:   filepath.Join(hub, ".global", "mail"),
	}
}

// Session is the per-process session. Safe for concurrent use.
type Session struct {
	mu       sync.RWMutex
	id       Identity
	hub      string
	issue    string
	done     int
	reserved map[string]bool
}

// Resolve builds a session from cfg. The agent id defaults to agent-<pid>.
func Resolve(cfg config.Config) (*Session, error) {
	agent := strings.TrimSpace(cfg.Agent)
	if agent == "" {
		agent = fmt.Sprintf("agent-%d", os.Getpid())
	}
	if err := ValidateAgent(agent); err != nil {
		return nil, err
	}
	ws, err := resolveWorkspace(cfg.Workspace)
	if err != nil {
		return nil, err
	}
	team := cfg.Team
	if team == "" {
		team = config.DefaultTeam
	}
	if err := ValidateTeam(team); err != nil {
		return nil, err
	}
	return &Session{
		id: Identity{
			AgentID:   agent,
			Workspace: ws,
			Team:      team,
			Role:      cfg.Role,
			Leader:    cfg.Leader,
			StartedAt: timeNow().UTC(),
		},
		hub:      cfg.HubRoot,
		reserved: make(map[string]bool),
	}, nil
}

// ValidateTeam checks that team is usable as a hub directory name.
func ValidateTeam(team string) error {
	if !nameRE.MatchString(team) {
		return fmt.Errorf("%w: %q", ErrInvalidTeam, team)
	}
	return nil
}

// ValidateAgent checks that agent is usable as a file name and does not
// collide with the broadcast address.
func ValidateAgent(agent string) error {
	if !nameRE.MatchString(agent) || agent == "all" {
		return fmt.Errorf("%w: %q", ErrInvalidAgent, agent)
	}
	return nil
}

func resolveWorkspace(ws string) (string, error) {
	if ws == "" {
		return "", ErrNoWorkspace
	}
	abs, err := filepath.Abs(ws)
	if err != nil {
		return "", fmt.Errorf("resolving workspace %s: %w", ws, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrNoWorkspace, abs)
	}
	return abs, nil
}

// Identity returns a snapshot of the current binding.
func (s *Session) Identity() Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// Layout returns the on-disk layout of the current binding.
func (s *Session) Layout() Layout {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return LayoutFor(s.id, s.hub)
}

// Switch re-binds the session to another workspace, team or role. Empty
// arguments keep the current value. Reservations tracked for the previous
// workspace are forgotten, not released.
func (s *Session) Switch(workspace, team, role string) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.id
	if workspace != "" {
		ws, err := resolveWorkspace(workspace)
		if err != nil {
			return s.id, err
		}
		next.Workspace = ws
	}
	if team != "" {
		if err := ValidateTeam(team); err != nil {
			return s.id, err
		}
		next.Team = team
	}
	if role != "" {
		next.Role = role
	}
	if next.Workspace != s.id.Workspace {
		s.reserved = make(map[string]bool)
	}
	s.id = next
	return next, nil
}

// SetLeader marks the session as team leader or not.
func (s *Session) SetLeader(leader bool) {
	s.mu.Lock()
	s.id.Leader = leader
	s.mu.Unlock()
}

// SetIssue records the issue this agent is working on.
func (s *Session) SetIssue(id string) {
	s.mu.Lock()
	s.issue = id
	s.mu.Unlock()
}

// Issue returns the current issue, or "".
func (s *Session) Issue() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.issue
}

// CompleteIssue counts id as done and clears it if it was current.
func (s *Session) CompleteIssue(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done++
	if s.issue == id {
		s.issue = ""
	}
}

// Done returns the number of issues completed this session.
func (s *Session) Done() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.done
}

// TrackReserved remembers paths granted to this session.
func (s *Session) TrackReserved(paths ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range paths {
		s.reserved[p] = true
	}
}

// ForgetReserved drops paths, or everything when called with none.
func (s *Session) ForgetReserved(paths ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(paths) == 0 {
		s.reserved = make(map[string]bool)
		return
	}
	for _, p := range paths {
		delete(s.reserved, p)
	}
}

// Reserved returns the tracked paths, sorted.
func (s *Session) Reserved() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.reserved))
	for p := range s.reserved {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Uptime returns how long the session has been running.
func (s *Session) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return timeNow().Sub(s.id.StartedAt)
}
