package mail

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// All addresses every reader in a scope.
const All = "all"

// Scope selects which message store a message lives in.
type Scope string

const (
	// ScopeLocal is the workspace's own .mail directory.
	ScopeLocal Scope = "local"
	// ScopeTeam is the team's directory under the hub.
	ScopeTeam Scope = "team"
	// ScopeGlobal is the hub-wide directory shared by every team.
	ScopeGlobal Scope = "global"
)

// ParseScope validates s. Empty means local.
func ParseScope(s string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(s))) {
	case "", ScopeLocal:
		return ScopeLocal, nil
	case ScopeTeam:
		return ScopeTeam, nil
	case ScopeGlobal:
		return ScopeGlobal, nil
	}
	return "", fmt.Errorf("%w: %q (want local, team or global)", ErrInvalidScope, s)
}

// Importance is the urgency a sender attaches to a message.
type Importance string

const (
	Normal Importance = "normal"
	High   Importance = "high"
	Urgent Importance = "urgent"
)

// ParseImportance validates s. Empty means normal.
func ParseImportance(s string) (Importance, error) {
	switch Importance(strings.ToLower(strings.TrimSpace(s))) {
	case "", Normal:
		return Normal, nil
	case High:
		return High, nil
	case Urgent:
		return Urgent, nil
	}
	return "", fmt.Errorf("%w: %q (want normal, high or urgent)", ErrInvalidImportance, s)
}

var (
	ErrMissingSubject    = errors.New("subject is required")
	ErrInvalidScope      = errors.New("invalid scope")
	ErrInvalidImportance = errors.New("invalid importance")
	// ErrScopeViolation is returned when a caller names a team other than
	// the one its session is bound to.
	ErrScopeViolation = errors.New("scope violation")
)

// Message is an immutable stored message.
type Message struct {
	ID         string     `json:"id"`
	From       string     `json:"from"`
	To         string     `json:"to"`
	Subject    string     `json:"subject"`
	Body       string     `json:"body,omitempty"`
	Importance Importance `json:"importance"`
	Scope      Scope      `json:"scope"`
	Team       string     `json:"team,omitempty"`
	Workspace  string     `json:"workspace,omitempty"`
	Thread     string     `json:"thread,omitempty"`
	Issue      string     `json:"issue,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// VisibleTo reports whether reader is an addressee of m.
func (m Message) VisibleTo(reader string) bool {
	return m.To == All || m.To == reader
}

// Draft is what a sender supplies; the router fills in the rest.
type Draft struct {
	To         string
	Subject    string
	Body       string
	Importance Importance
	Scope      Scope
	// Team, when set, must equal the sender's team.
	Team   string
	Thread string
	Issue  string
}

// idGen produces ids that sort lexicographically in creation order:
// zero-padded unix nanos, a per-process sequence for equal or regressing
// clock readings, and a random suffix against cross-process collisions.
type idGen struct {
	mu   sync.Mutex
	last int64
	seq  int
}

func (g *idGen) next(now time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := now.UnixNano()
	if n <= g.last {
		n = g.last
		g.seq++
	} else {
		g.last = n
		g.seq = 0
	}
	return fmt.Sprintf("%020d-%06d-%s", n, g.seq, strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}
