package resources

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/beads-village/village/internal/config"
	"github.com/beads-village/village/internal/dispatch"
	"github.com/beads-village/village/internal/lease"
	"github.com/beads-village/village/internal/mail"
	"github.com/beads-village/village/internal/session"
	"github.com/beads-village/village/internal/tools"
	"github.com/mark3labs/mcp-go/mcp"
)

func newVillage(t *testing.T, agent, ws, hub string) *tools.Village {
	t.Helper()
	sess, err := session.Resolve(config.Config{Agent: agent, Workspace: ws, HubRoot: hub})
	if err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := dispatch.New(nil, dispatch.NewCLITransport(&dispatch.ExecCommandRunner{}, "bd", 0), dispatch.Config{}, logger)
	return tools.NewVillage(sess, mail.NewRouter(hub, logger), d, 0, logger)
}

func read(t *testing.T, fn func(context.Context, mcp.ReadResourceRequest) ([]mcp.ResourceContents, error), uri string) mcp.TextResourceContents {
	t.Helper()
	req := mcp.ReadResourceRequest{}
	req.Params.URI = uri
	contents, err := fn(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if len(contents) != 1 {
		t.Fatalf("contents = %d, want 1", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("content is %T", contents[0])
	}
	return tc
}

func TestHandleReservations(t *testing.T) {
	ws, hub := t.TempDir(), t.TempDir()
	alice := newVillage(t, "alice", ws, hub)
	if _, err := alice.Leases().Reserve("alice", []string{"b.go", "a.go"}, "bd-1", 0); err != nil {
		t.Fatal(err)
	}
	h := NewHandler(newVillage(t, "bob", ws, hub))

	tc := read(t, h.HandleReservations, "village://reservations")
	if tc.MIMEType != "application/json" {
		t.Errorf("mime = %q", tc.MIMEType)
	}
	var rs []lease.Reservation
	if err := json.Unmarshal([]byte(tc.Text), &rs); err != nil {
		t.Fatalf("decoding: %v\n%s", err, tc.Text)
	}
	if len(rs) != 2 || rs[0].Path != "a.go" || rs[1].Path != "b.go" || rs[0].Holder != "alice" {
		t.Errorf("reservations = %+v", rs)
	}
}

func TestHandleReservations_StorageError(t *testing.T) {
	ws, hub := t.TempDir(), t.TempDir()
	// A file where the directory should be makes the store unreadable.
	if err := os.WriteFile(filepath.Join(ws, ".reservations"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	h := NewHandler(newVillage(t, "alice", ws, hub))

	tc := read(t, h.HandleReservations, "village://reservations")
	if tc.MIMEType != "text/plain" || !strings.HasPrefix(tc.Text, "Error: ") {
		t.Errorf("got %q (%s)", tc.Text, tc.MIMEType)
	}
}

func TestHandleStatus(t *testing.T) {
	ws, hub := t.TempDir(), t.TempDir()
	v := newVillage(t, "alice", ws, hub)
	v.Session.SetIssue("bd-4")
	v.Session.TrackReserved("a.go")

	tc := read(t, NewHandler(v).HandleStatus, "village://status")
	var snap tools.Snapshot
	if err := json.Unmarshal([]byte(tc.Text), &snap); err != nil {
		t.Fatalf("decoding: %v\n%s", err, tc.Text)
	}
	if snap.Agent != "alice" || snap.Current != "bd-4" || snap.Reserved != 1 || snap.Team != config.DefaultTeam {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestResourceDefinitions(t *testing.T) {
	h := NewHandler(nil)
	if h.ReservationsResource().URI != "village://reservations" {
		t.Errorf("reservations uri = %q", h.ReservationsResource().URI)
	}
	if h.StatusResource().URI != "village://status" {
		t.Errorf("status uri = %q", h.StatusResource().URI)
	}
}
