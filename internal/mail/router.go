// Package mail routes messages between agents through shared directories.
//
// There are three scopes: the workspace's .mail directory (local), the team
// directory under the hub (team) and the hub-wide .global directory
// (global). Every message is one immutable file named by its id, so
// concurrent senders never touch the same key. Read state is kept per
// reader in receipts/<reader>.json inside each scope store; only the reader
// writes its own receipt.
//
// Message ids sort in creation order within a process and approximately
// across processes. Readers always sort by id and never rely on directory
// listing order.
package mail

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/beads-village/village/internal/session"
	"github.com/beads-village/village/internal/storage"
)

const (
	// DefaultInboxLimit applies when InboxOptions.Limit is zero.
	DefaultInboxLimit = 5
	// MaxInboxLimit caps InboxOptions.Limit.
	MaxInboxLimit = 50

	receiptsDir = "receipts"
)

// Router sends and reads messages for sessions bound to one hub.
type Router struct {
	hub    string
	logger *slog.Logger
	ids    idGen

	// receiptMu serializes receipt read-modify-write within the process.
	receiptMu sync.Mutex
}

// NewRouter returns a Router over the hub directory.
func NewRouter(hub string, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{hub: hub, logger: logger}
}

func (r *Router) store(id session.Identity, scope Scope) *storage.FileStore {
	layout := session.LayoutFor(id, r.hub)
	switch scope {
	case ScopeTeam:
		return storage.NewFileStore(layout.TeamMail)
	case ScopeGlobal:
		return storage.NewFileStore(layout.GlobalMail)
	default:
		return storage.NewFileStore(layout.LocalMail)
	}
}

// Send stores a message from sender and returns it with its assigned id.
func (r *Router) Send(sender session.Identity, d Draft) (*Message, error) {
	if strings.TrimSpace(d.Subject) == "" {
		return nil, ErrMissingSubject
	}
	scope := d.Scope
	if scope == "" {
		scope = ScopeLocal
	}
	if _, err := ParseScope(string(scope)); err != nil {
		return nil, err
	}
	imp := d.Importance
	if imp == "" {
		imp = Normal
	}
	if _, err := ParseImportance(string(imp)); err != nil {
		return nil, err
	}
	if d.Team != "" && d.Team != sender.Team {
		return nil, fmt.Errorf("%w: session is bound to team %q, not %q", ErrScopeViolation, sender.Team, d.Team)
	}
	to := strings.TrimSpace(d.To)
	if to == "" {
		to = All
	}

	now := timeNow().UTC()
	msg := &Message{
		ID:         r.ids.next(now),
		From:       sender.AgentID,
		To:         to,
		Subject:    d.Subject,
		Body:       d.Body,
		Importance: imp,
		Scope:      scope,
		Workspace:  sender.Workspace,
		Thread:     d.Thread,
		Issue:      d.Issue,
		CreatedAt:  now,
	}
	if scope != ScopeLocal {
		msg.Team = sender.Team
	}

	data, err := json.MarshalIndent(msg, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling message: %w", err)
	}
	if err := r.store(sender, scope).Create(msg.ID+".json", data); err != nil {
		return nil, fmt.Errorf("sending %s message: %w", scope, err)
	}
	return msg, nil
}

// InboxOptions filters an inbox query.
type InboxOptions struct {
	Limit         int
	UnreadOnly    bool
	IncludeGlobal bool
	// From keeps only messages from this sender.
	From string
	// Team, when set, must equal the reader's team.
	Team string
}

// Inbox returns the newest messages visible to reader, oldest first.
// Local and own-team messages are always merged; the global hub only when
// IncludeGlobal is set.
//
// Inbox has a side effect: every message it returns is recorded as read by
// reader. Use Peek to look without consuming.
func (r *Router) Inbox(reader session.Identity, o InboxOptions) ([]Message, error) {
	msgs, err := r.Peek(reader, o)
	if err != nil {
		return nil, err
	}
	if err := r.markRead(reader, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Peek is Inbox without recording anything as read.
func (r *Router) Peek(reader session.Identity, o InboxOptions) ([]Message, error) {
	if o.Team != "" && o.Team != reader.Team {
		return nil, fmt.Errorf("%w: session is bound to team %q, not %q", ErrScopeViolation, reader.Team, o.Team)
	}
	limit := o.Limit
	if limit <= 0 {
		limit = DefaultInboxLimit
	}
	if limit > MaxInboxLimit {
		limit = MaxInboxLimit
	}

	out, err := r.collect(reader, o)
	if err != nil {
		return nil, err
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// collect returns every message matching o for reader, oldest first, ignoring
// o.Limit.
func (r *Router) collect(reader session.Identity, o InboxOptions) ([]Message, error) {
	scopes := []Scope{ScopeLocal, ScopeTeam}
	if o.IncludeGlobal {
		scopes = append(scopes, ScopeGlobal)
	}

	var out []Message
	for _, scope := range scopes {
		store := r.store(reader, scope)
		msgs, err := readMessages(store, scope)
		if err != nil {
			return nil, err
		}
		var read map[string]bool
		if o.UnreadOnly {
			read, err = loadReceipt(store, reader.AgentID)
			if err != nil {
				return nil, err
			}
		}
		for _, m := range msgs {
			if m.From == reader.AgentID || !m.VisibleTo(reader.AgentID) {
				continue
			}
			if o.From != "" && m.From != o.From {
				continue
			}
			if read[m.ID] {
				continue
			}
			out = append(out, m)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// readMessages loads every decodable message in store, sorted by id. The
// scope is taken from where the file lives, not from its content.
func readMessages(store storage.Store, scope Scope) ([]Message, error) {
	keys, err := store.List("")
	if err != nil {
		return nil, err
	}
	msgs := make([]Message, 0, len(keys))
	for _, key := range keys {
		if !strings.HasSuffix(key, ".json") {
			continue
		}
		data, err := store.Get(key)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var m Message
		if err := json.Unmarshal(data, &m); err != nil || m.ID == "" {
			continue
		}
		m.Scope = scope
		msgs = append(msgs, m)
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].ID < msgs[j].ID })
	return msgs, nil
}

type receipt struct {
	Reader string   `json:"reader"`
	Read   []string `json:"read"`
}

func receiptKey(reader string) string {
	return path.Join(receiptsDir, reader+".json")
}

func loadReceipt(store storage.Store, reader string) (map[string]bool, error) {
	data, err := store.Get(receiptKey(reader))
	if errors.Is(err, storage.ErrNotFound) {
		return map[string]bool{}, nil
	}
	if err != nil {
		return nil, err
	}
	var rc receipt
	if err := json.Unmarshal(data, &rc); err != nil {
		// A damaged receipt only means messages show up as unread again.
		return map[string]bool{}, nil
	}
	set := make(map[string]bool, len(rc.Read))
	for _, id := range rc.Read {
		set[id] = true
	}
	return set, nil
}

func saveReceipt(store storage.Store, reader string, set map[string]bool) error {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	data, err := json.MarshalIndent(receipt{Reader: reader, Read: ids}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling receipt: %w", err)
	}
	return store.Put(receiptKey(reader), data)
}

func (r *Router) markRead(reader session.Identity, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	byScope := map[Scope][]string{}
	for _, m := range msgs {
		byScope[m.Scope] = append(byScope[m.Scope], m.ID)
	}

	r.receiptMu.Lock()
	defer r.receiptMu.Unlock()
	for scope, ids := range byScope {
		store := r.store(reader, scope)
		set, err := loadReceipt(store, reader.AgentID)
		if err != nil {
			return err
		}
		for _, id := range ids {
			set[id] = true
		}
		if err := saveReceipt(store, reader.AgentID, set); err != nil {
			return fmt.Errorf("recording read receipt: %w", err)
		}
	}
	return nil
}

// Unread counts unread messages visible to reader in local and team scope.
func (r *Router) Unread(reader session.Identity) (int, error) {
	msgs, err := r.collect(reader, InboxOptions{UnreadOnly: true})
	if err != nil {
		return 0, err
	}
	return len(msgs), nil
}
