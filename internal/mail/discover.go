package mail

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/beads-village/village/internal/session"
	"github.com/beads-village/village/internal/storage"
)

// DefaultDiscoverWindow is how far back Discover looks for activity.
const DefaultDiscoverWindow = 10 * time.Minute

// Hint is the optional liveness record an agent keeps in its team's
// agents/ directory. It is best-effort and never authoritative.
type Hint struct {
	Agent     string    `json:"agent"`
	Team      string    `json:"team"`
	Workspace string    `json:"workspace"`
	Role      string    `json:"role,omitempty"`
	Leader    bool      `json:"leader,omitempty"`
	Task      string    `json:"task,omitempty"`
	LastSeen  time.Time `json:"last_seen"`
}

// Agent is one entry of a discovery result.
type Agent struct {
	ID         string    `json:"id"`
	LastSeen   time.Time `json:"last_seen"`
	Messages   int       `json:"messages"`
	Workspaces []string  `json:"workspaces,omitempty"`
	Role       string    `json:"role,omitempty"`
	Leader     bool      `json:"leader,omitempty"`
	Task       string    `json:"task,omitempty"`
	// Hinted is set when the agent was seen only through its liveness
	// hint, with no recent messages.
	Hinted bool `json:"hinted,omitempty"`
}

// Discover lists agents active in reader's team within window, most
// recently seen first. Activity is derived from local and team message
// provenance plus liveness hints, so the result is approximate: an agent
// that has been silent for the whole window is not listed.
func (r *Router) Discover(reader session.Identity, window time.Duration) ([]Agent, error) {
	if window <= 0 {
		window = DefaultDiscoverWindow
	}
	since := timeNow().UTC().Add(-window)
	agents := map[string]*Agent{}
	workspaces := map[string]map[string]bool{}

	for _, scope := range []Scope{ScopeTeam, ScopeLocal} {
		msgs, err := readMessages(r.store(reader, scope), scope)
		if err != nil {
			return nil, err
		}
		for _, m := range msgs {
			if m.CreatedAt.Before(since) {
				continue
			}
			a := agents[m.From]
			if a == nil {
				a = &Agent{ID: m.From}
				agents[m.From] = a
				workspaces[m.From] = map[string]bool{}
			}
			a.Messages++
			if m.CreatedAt.After(a.LastSeen) {
				a.LastSeen = m.CreatedAt
			}
			if m.Workspace != "" {
				workspaces[m.From][m.Workspace] = true
			}
		}
	}

	hints, err := r.hints(reader)
	if err != nil {
		return nil, err
	}
	for _, h := range hints {
		if h.LastSeen.Before(since) {
			continue
		}
		a := agents[h.Agent]
		if a == nil {
			a = &Agent{ID: h.Agent, Hinted: true}
			agents[h.Agent] = a
			workspaces[h.Agent] = map[string]bool{}
		}
		if h.LastSeen.After(a.LastSeen) {
			a.LastSeen = h.LastSeen
		}
		a.Role, a.Leader, a.Task = h.Role, h.Leader, h.Task
		if h.Workspace != "" {
			workspaces[h.Agent][h.Workspace] = true
		}
	}

	out := make([]Agent, 0, len(agents))
	for id, a := range agents {
		for ws := range workspaces[id] {
			a.Workspaces = append(a.Workspaces, ws)
		}
		sort.Strings(a.Workspaces)
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].LastSeen.After(out[j].LastSeen)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *Router) agentStore(id session.Identity) *storage.FileStore {
	return storage.NewFileStore(session.LayoutFor(id, r.hub).TeamAgents)
}

func (r *Router) hints(reader session.Identity) ([]Hint, error) {
	store := r.agentStore(reader)
	keys, err := store.List("")
	if err != nil {
		return nil, err
	}
	var out []Hint
	for _, key := range keys {
		data, err := store.Get(key)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var h Hint
		if json.Unmarshal(data, &h) != nil || h.Agent == "" {
			continue
		}
		out = append(out, h)
	}
	return out, nil
}

// Heartbeat refreshes id's liveness hint. Failures are logged and
// returned so callers can ignore them; hints never gate correctness.
func (r *Router) Heartbeat(id session.Identity, task string) error {
	h := Hint{
		Agent:     id.AgentID,
		Team:      id.Team,
		Workspace: id.Workspace,
		Role:      id.Role,
		Leader:    id.Leader,
		Task:      task,
		LastSeen:  timeNow().UTC(),
	}
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling hint: %w", err)
	}
	if err := r.agentStore(id).Put(id.AgentID+".json", data); err != nil {
		r.logger.Warn("heartbeat failed", "agent", id.AgentID, "team", id.Team, "err", err)
		return err
	}
	return nil
}

// Teams lists the team directories present under the hub.
func (r *Router) Teams() ([]string, error) {
	return storage.NewFileStore(r.hub).Dirs(false)
}
