package mail

import (
	"time"

	"github.com/beads-village/village/internal/session"
	"github.com/beads-village/village/internal/storage"
)

// staleHintAge is how long a liveness hint survives without a refresh.
const staleHintAge = time.Hour

// PruneResult counts what Prune removed.
type PruneResult struct {
	Messages int `json:"messages"`
	Hints    int `json:"hints"`
}

// Prune deletes messages older than olderThan from the local and team
// stores of id (and the global store when includeGlobal is set), compacts
// id's own receipts to the surviving ids and drops stale liveness hints.
// Other readers' receipts are left alone; ids of deleted messages in them
// are inert. Messages are only ever removed here, never by reads.
func (r *Router) Prune(id session.Identity, olderThan time.Duration, includeGlobal bool) (PruneResult, error) {
	var res PruneResult
	cutoff := timeNow().UTC().Add(-olderThan)

	scopes := []Scope{ScopeLocal, ScopeTeam}
	if includeGlobal {
		scopes = append(scopes, ScopeGlobal)
	}
	if olderThan > 0 {
		for _, scope := range scopes {
			n, err := pruneStore(r.store(id, scope), scope, id.AgentID, cutoff)
			if err != nil {
				return res, err
			}
			res.Messages += n
		}
	}

	hints, err := r.hints(id)
	if err != nil {
		return res, err
	}
	hintCutoff := timeNow().UTC().Add(-staleHintAge)
	store := r.agentStore(id)
	for _, h := range hints {
		if h.Agent == id.AgentID || !h.LastSeen.Before(hintCutoff) {
			continue
		}
		if err := store.Delete(h.Agent + ".json"); err != nil {
			return res, err
		}
		res.Hints++
	}
	return res, nil
}

func pruneStore(store storage.Store, scope Scope, reader string, cutoff time.Time) (int, error) {
	msgs, err := readMessages(store, scope)
	if err != nil {
		return 0, err
	}
	removed := 0
	alive := make(map[string]bool, len(msgs))
	for _, m := range msgs {
		if m.CreatedAt.Before(cutoff) {
			if err := store.Delete(m.ID + ".json"); err != nil {
				return removed, err
			}
			removed++
			continue
		}
		alive[m.ID] = true
	}
	if removed == 0 {
		return 0, nil
	}

	set, err := loadReceipt(store, reader)
	if err != nil {
		return removed, err
	}
	if len(set) == 0 {
		return removed, nil
	}
	for id := range set {
		if !alive[id] {
			delete(set, id)
		}
	}
	if err := saveReceipt(store, reader, set); err != nil {
		return removed, err
	}
	return removed, nil
}
