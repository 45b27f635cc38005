package tools

import (
	"log/slog"
	"time"

	"github.com/beads-village/village/internal/dispatch"
	"github.com/beads-village/village/internal/lease"
	"github.com/beads-village/village/internal/mail"
	"github.com/beads-village/village/internal/session"
	"github.com/beads-village/village/internal/storage"
)

// Village bundles the components the tools coordinate. The components
// never talk to each other; cross-component steps (done releases leases,
// claim announces itself) happen in the tools.
type Village struct {
	Session    *session.Session
	Router     *mail.Router
	Dispatcher *dispatch.Dispatcher
	LeaseTTL   time.Duration

	logger   *slog.Logger
	activity ActivityRecorder
}

// NewVillage wires the shared tool dependencies.
func NewVillage(sess *session.Session, router *mail.Router, d *dispatch.Dispatcher, leaseTTL time.Duration, logger *slog.Logger) *Village {
	if logger == nil {
		logger = slog.Default()
	}
	return &Village{
		Session:    sess,
		Router:     router,
		Dispatcher: d,
		LeaseTTL:   leaseTTL,
		logger:     logger,
	}
}

// SetBridge sets the optional activity recorder. Pass nil to disable.
func (v *Village) SetBridge(r ActivityRecorder) {
	v.activity = r
}

// Leases returns a lease manager for the session's current workspace.
// Managers are cheap; building one per call follows workspace switches.
func (v *Village) Leases() *lease.Manager {
	layout := v.Session.Layout()
	return lease.New(storage.NewFileStore(layout.Reservations), lease.Config{
		Workspace:  v.Session.Identity().Workspace,
		DefaultTTL: v.LeaseTTL,
	})
}

func (v *Village) target() dispatch.Target {
	id := v.Session.Identity()
	return dispatch.Target{Workspace: id.Workspace, Actor: id.AgentID}
}

func (v *Village) record(kind, subject, detail string) {
	if v.activity == nil {
		return
	}
	v.activity.Record(v.Session.Identity(), kind, subject, detail)
}

// announce posts a status message to the workspace. It is best-effort:
// coordination chatter never fails the operation that triggered it.
func (v *Village) announce(subject, body string, imp mail.Importance) {
	_, err := v.Router.Send(v.Session.Identity(), mail.Draft{
		To:         mail.All,
		Subject:    subject,
		Body:       body,
		Importance: imp,
		Scope:      mail.ScopeLocal,
		Issue:      v.Session.Issue(),
	})
	if err != nil {
		v.logger.Warn("announce failed", "subject", subject, "err", err)
	}
}

func (v *Village) heartbeat() {
	_ = v.Router.Heartbeat(v.Session.Identity(), v.Session.Issue())
}
