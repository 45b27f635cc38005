package tools

import (
	"log/slog"

	"github.com/beads-village/village/internal/journal"
	"github.com/beads-village/village/internal/session"
)

// ActivityRecorder is notified when a tool changes shared state. It's an
// optional dependency; tools work fine without one.
type ActivityRecorder interface {
	Record(id session.Identity, kind, subject, detail string)
}

// JournalBridge records tool activity in the local journal under one
// journal session per process.
type JournalBridge struct {
	store     *journal.Store
	sessionID string
	logger    *slog.Logger
}

// NewJournalBridge opens a journal session for id. Returns nil if store is
// nil or the session cannot be started; callers should check before
// passing it to SetBridge.
func NewJournalBridge(store *journal.Store, id session.Identity, logger *slog.Logger) *JournalBridge {
	if store == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	sid, err := store.StartSession(id.AgentID, id.Workspace, id.Team)
	if err != nil {
		logger.Warn("journal session not started", "err", err)
		return nil
	}
	return &JournalBridge{store: store, sessionID: sid, logger: logger}
}

// SessionID is the journal session this bridge records under.
func (b *JournalBridge) SessionID() string { return b.sessionID }

// Record appends an event. Failures are logged, not returned: the journal
// never affects a tool's outcome.
func (b *JournalBridge) Record(id session.Identity, kind, subject, detail string) {
	_, err := b.store.Record(journal.Event{
		SessionID: b.sessionID,
		Agent:     id.AgentID,
		Workspace: id.Workspace,
		Team:      id.Team,
		Kind:      kind,
		Subject:   subject,
		Detail:    detail,
	})
	if err != nil {
		b.logger.Warn("journal record failed", "kind", kind, "err", err)
	}
}

// Close ends the journal session.
func (b *JournalBridge) Close() error {
	return b.store.EndSession(b.sessionID)
}
