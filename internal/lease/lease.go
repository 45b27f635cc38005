// Package lease grants time-bounded exclusive claims on workspace paths.
//
// A reservation is one JSON record per path in the workspace's
// .reservations/ directory. Records carry an absolute expiry, so a crashed
// holder never blocks anyone for longer than its TTL: expired records are
// treated exactly like missing ones and deleting them is housekeeping only.
//
// The store is replicated by version control and offers no transactions.
// First-time claims go through an exclusive create, so two agents on the same
// host can never both win an unheld path. Renewals and takeovers of expired
// records overwrite atomically and then read the record back; a writer that
// finds someone else's record after its own write reports a conflict instead
// of a grant.
package lease

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/beads-village/village/internal/storage"
)

// DefaultTTL is used when a caller passes a zero or negative TTL.
const DefaultTTL = 600 * time.Second

// MaxTTL caps any requested TTL.
const MaxTTL = 24 * time.Hour

// maxAttempts bounds the reread loop after a lost create or a failed
// read-back.
const maxAttempts = 3

// ErrContended is reported for a path whose record kept changing under us.
var ErrContended = errors.New("reservation contended, retry later")

// Reservation is the persisted record for one path.
type Reservation struct {
	Path       string    `json:"path"`
	Holder     string    `json:"holder"`
	Reason     string    `json:"reason,omitempty"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Workspace  string    `json:"workspace_id,omitempty"`
}

// Live reports whether the reservation is still in force at now.
func (r Reservation) Live(now time.Time) bool {
	return now.Before(r.ExpiresAt)
}

// Remaining returns the time left before expiry, never negative.
func (r Reservation) Remaining(now time.Time) time.Duration {
	if d := r.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Conflict describes a path held by another agent.
type Conflict struct {
	Path      string    `json:"path"`
	Holder    string    `json:"holder"`
	Reason    string    `json:"reason,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
	Remaining int       `json:"remaining_s"`
}

// PathError is a per-path failure that did not abort the whole request.
type PathError struct {
	Path string `json:"path"`
	Err  error  `json:"-"`
}

func (e PathError) Error() string { return fmt.Sprintf("%s: %v", e.Path, e.Err) }

// MarshalJSON renders the error message alongside the path.
func (e PathError) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{"path": e.Path, "error": e.Err.Error()})
}

// Result is the outcome of Reserve. Granted and Conflicts are disjoint.
type Result struct {
	Granted   []string    `json:"granted"`
	Conflicts []Conflict  `json:"conflicts"`
	Errors    []PathError `json:"errors,omitempty"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// Config controls a Manager.
type Config struct {
	// Workspace is the absolute workspace path. Reservation paths are
	// stored relative to it.
	Workspace string
	// DefaultTTL applies when Reserve is called with ttl <= 0.
	DefaultTTL time.Duration
}

// Manager grants, renews and releases reservations in one workspace.
type Manager struct {
	store      storage.Store
	workspace  string
	defaultTTL time.Duration
}

// New returns a Manager over store. The store root is the workspace's
// reservation directory.
func New(store storage.Store, cfg Config) *Manager {
	ttl := cfg.DefaultTTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{store: store, workspace: cfg.Workspace, defaultTTL: ttl}
}

// Reserve tries to claim every path for holder. Paths already held by holder
// are renewed. A storage failure aborts the call; invalid paths are reported
// per path in Result.Errors.
func (m *Manager) Reserve(holder string, paths []string, reason string, ttl time.Duration) (*Result, error) {
	if holder == "" {
		return nil, errors.New("reserve: holder is required")
	}
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	if ttl > MaxTTL {
		ttl = MaxTTL
	}
	now := timeNow().UTC()
	res := &Result{
		Granted:   []string{},
		Conflicts: []Conflict{},
		ExpiresAt: now.Add(ttl),
	}

	seen := make(map[string]bool, len(paths))
	for _, raw := range paths {
		p, err := Normalize(m.workspace, raw)
		if err != nil {
			res.Errors = append(res.Errors, PathError{Path: raw, Err: err})
			continue
		}
		if seen[p] {
			continue
		}
		seen[p] = true

		conflict, err := m.reserveOne(holder, p, reason, now, res.ExpiresAt)
		switch {
		case errors.Is(err, ErrContended):
			res.Errors = append(res.Errors, PathError{Path: p, Err: err})
		case err != nil:
			return nil, fmt.Errorf("reserving %s: %w", p, err)
		case conflict != nil:
			res.Conflicts = append(res.Conflicts, *conflict)
		default:
			res.Granted = append(res.Granted, p)
		}
	}
	return res, nil
}

func (m *Manager) reserveOne(holder, path, reason string, now, expires time.Time) (*Conflict, error) {
	key := Key(path)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		cur, exists, err := m.load(key)
		if err != nil {
			return nil, err
		}
		if cur != nil && cur.Live(now) && cur.Holder != holder {
			return conflictFrom(cur, now), nil
		}

		rec := Reservation{
			Path:       path,
			Holder:     holder,
			Reason:     reason,
			AcquiredAt: now,
			ExpiresAt:  expires,
			Workspace:  m.workspace,
		}
		if cur != nil && cur.Live(now) && cur.Holder == holder {
			rec.AcquiredAt = cur.AcquiredAt
			if rec.Reason == "" {
				rec.Reason = cur.Reason
			}
		}
		data, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshaling reservation: %w", err)
		}

		if !exists {
			err := m.store.Create(key, data)
			if errors.Is(err, storage.ErrExists) {
				continue
			}
			if err != nil {
				return nil, err
			}
			return nil, nil
		}

		if err := m.store.Put(key, data); err != nil {
			return nil, err
		}
		back, _, err := m.load(key)
		if err != nil {
			return nil, err
		}
		if back != nil && back.Holder == holder && back.ExpiresAt.Equal(rec.ExpiresAt) {
			return nil, nil
		}
	}
	return nil, ErrContended
}

// load reads the record under key. exists is true whenever a file is present,
// even if it could not be decoded; a corrupt record has no live holder.
func (m *Manager) load(key string) (rec *Reservation, exists bool, err error) {
	data, err := m.store.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var r Reservation
	if err := json.Unmarshal(data, &r); err != nil || r.Path == "" {
		return nil, true, nil
	}
	return &r, true, nil
}

func conflictFrom(r *Reservation, now time.Time) *Conflict {
	return &Conflict{
		Path:      r.Path,
		Holder:    r.Holder,
		Reason:    r.Reason,
		ExpiresAt: r.ExpiresAt,
		Remaining: int(r.Remaining(now).Seconds()),
	}
}

// Release drops holder's reservations on paths, or all of holder's
// reservations when paths is empty. Paths not held by holder are left alone.
// It returns the paths actually released. A release-all also sweeps holder's
// expired records but only reports the ones that were still live.
func (m *Manager) Release(holder string, paths []string) ([]string, error) {
	released := []string{}

	if len(paths) == 0 {
		all, err := m.all()
		if err != nil {
			return nil, err
		}
		now := timeNow()
		for _, e := range all {
			if e.rec.Holder != holder {
				continue
			}
			if err := m.store.Delete(e.key); err != nil {
				return released, fmt.Errorf("releasing %s: %w", e.rec.Path, err)
			}
			if e.rec.Live(now) {
				released = append(released, e.rec.Path)
			}
		}
		return released, nil
	}

	for _, raw := range paths {
		p, err := Normalize(m.workspace, raw)
		if err != nil {
			continue
		}
		key := Key(p)
		cur, _, err := m.load(key)
		if err != nil {
			return released, fmt.Errorf("releasing %s: %w", p, err)
		}
		if cur == nil || cur.Holder != holder {
			continue
		}
		if err := m.store.Delete(key); err != nil {
			return released, fmt.Errorf("releasing %s: %w", p, err)
		}
		released = append(released, p)
	}
	return released, nil
}

// Lookup returns the live reservation on path, or nil when the path is free.
func (m *Manager) Lookup(path string) (*Reservation, error) {
	p, err := Normalize(m.workspace, path)
	if err != nil {
		return nil, err
	}
	cur, _, err := m.load(Key(p))
	if err != nil {
		return nil, err
	}
	if cur == nil || !cur.Live(timeNow()) {
		return nil, nil
	}
	return cur, nil
}

// Reservations returns every live reservation, sorted by path.
func (m *Manager) Reservations() ([]Reservation, error) {
	all, err := m.all()
	if err != nil {
		return nil, err
	}
	now := timeNow()
	out := make([]Reservation, 0, len(all))
	for _, e := range all {
		if e.rec.Live(now) {
			out = append(out, *e.rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// HeldBy returns holder's live reservations, sorted by path.
func (m *Manager) HeldBy(holder string) ([]Reservation, error) {
	live, err := m.Reservations()
	if err != nil {
		return nil, err
	}
	var out []Reservation
	for _, r := range live {
		if r.Holder == holder {
			out = append(out, r)
		}
	}
	return out, nil
}

// Prune deletes expired and undecodable records. It never affects a live
// reservation and returns the number of records removed.
func (m *Manager) Prune() (int, error) {
	keys, err := m.store.List("")
	if err != nil {
		return 0, err
	}
	now := timeNow()
	removed := 0
	for _, key := range keys {
		cur, exists, err := m.load(key)
		if err != nil {
			return removed, err
		}
		if !exists || (cur != nil && cur.Live(now)) {
			continue
		}
		if err := m.store.Delete(key); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

type entry struct {
	key string
	rec *Reservation
}

func (m *Manager) all() ([]entry, error) {
	keys, err := m.store.List("")
	if err != nil {
		return nil, err
	}
	out := make([]entry, 0, len(keys))
	for _, key := range keys {
		rec, _, err := m.load(key)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			out = append(out, entry{key: key, rec: rec})
		}
	}
	return out, nil
}
