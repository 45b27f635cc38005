package mail

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/beads-village/village/internal/session"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func useClock(t *testing.T) *fakeClock {
	t.Helper()
	c := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	orig := timeNow
	timeNow = func() time.Time { return c.now }
	t.Cleanup(func() { timeNow = orig })
	return c
}

func newRouter(t *testing.T) *Router {
	t.Helper()
	return NewRouter(t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func ident(agent, ws, team string) session.Identity {
	return session.Identity{AgentID: agent, Workspace: ws, Team: team}
}

func subjects(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Subject
	}
	return out
}

func TestSend_Validation(t *testing.T) {
	r := newRouter(t)
	a := ident("A", t.TempDir(), "red")

	tests := []struct {
		name  string
		draft Draft
		want  error
	}{
		{"missing subject", Draft{Subject: "  "}, ErrMissingSubject},
		{"bad importance", Draft{Subject: "x", Importance: "meh"}, ErrInvalidImportance},
		{"bad scope", Draft{Subject: "x", Scope: "planet"}, ErrInvalidScope},
		{"other team", Draft{Subject: "x", Scope: ScopeTeam, Team: "blue"}, ErrScopeViolation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := r.Send(a, tt.draft); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSend_Defaults(t *testing.T) {
	r := newRouter(t)
	a := ident("A", t.TempDir(), "red")

	m, err := r.Send(a, Draft{Subject: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	if m.To != All || m.Importance != Normal || m.Scope != ScopeLocal || m.Team != "" {
		t.Errorf("defaults = %+v", m)
	}
	if _, err := os.Stat(filepath.Join(a.Workspace, ".mail", m.ID+".json")); err != nil {
		t.Errorf("message file missing: %v", err)
	}
}

// A in ws1 and B in ws2 share team X. A local message stays in ws1; a team
// message reaches B.
func TestInbox_LocalVersusTeamScope(t *testing.T) {
	r := newRouter(t)
	a := ident("A", t.TempDir(), "X")
	b := ident("B", t.TempDir(), "X")

	if _, err := r.Send(a, Draft{Subject: "ping", To: "B"}); err != nil {
		t.Fatal(err)
	}
	got, err := r.Inbox(b, InboxOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("B saw local message from another workspace: %v", subjects(got))
	}

	if _, err := r.Send(a, Draft{Subject: "ping", To: "B", Scope: ScopeTeam}); err != nil {
		t.Fatal(err)
	}
	got, err = r.Inbox(b, InboxOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Subject != "ping" || got[0].Scope != ScopeTeam {
		t.Errorf("B inbox = %+v, want the team ping", got)
	}
}

func TestInbox_TeamIsolation(t *testing.T) {
	r := newRouter(t)
	ws := t.TempDir()
	red := ident("A", ws, "red")
	blue := ident("B", t.TempDir(), "blue")

	if _, err := r.Send(red, Draft{Subject: "red only", Scope: ScopeTeam}); err != nil {
		t.Fatal(err)
	}
	got, err := r.Inbox(blue, InboxOptions{IncludeGlobal: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("blue saw red's team message: %v", subjects(got))
	}

	if _, err := r.Inbox(blue, InboxOptions{Team: "red"}); !errors.Is(err, ErrScopeViolation) {
		t.Errorf("reading another team: err = %v, want ErrScopeViolation", err)
	}
}

func TestInbox_UnreadIsPerReader(t *testing.T) {
	r := newRouter(t)
	ws := t.TempDir()
	a := ident("A", ws, "red")
	b := ident("B", ws, "red")
	c := ident("C", ws, "red")

	if _, err := r.Send(a, Draft{Subject: "news"}); err != nil {
		t.Fatal(err)
	}

	first, err := r.Inbox(b, InboxOptions{UnreadOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 1 {
		t.Fatalf("first read = %v", subjects(first))
	}
	second, err := r.Inbox(b, InboxOptions{UnreadOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(second) != 0 {
		t.Errorf("second unread read = %v, want empty", subjects(second))
	}

	// Read state is per reader and reads never delete.
	forC, err := r.Inbox(c, InboxOptions{UnreadOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(forC) != 1 {
		t.Errorf("C unread = %v, want the message", subjects(forC))
	}
	all, _ := r.Inbox(b, InboxOptions{})
	if len(all) != 1 {
		t.Errorf("B full inbox = %v, message must survive reads", subjects(all))
	}
}

func TestPeek_DoesNotConsume(t *testing.T) {
	r := newRouter(t)
	ws := t.TempDir()
	a, b := ident("A", ws, "red"), ident("B", ws, "red")
	if _, err := r.Send(a, Draft{Subject: "x"}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		got, err := r.Peek(b, InboxOptions{UnreadOnly: true})
		if err != nil || len(got) != 1 {
			t.Fatalf("peek %d = %v, %v", i, got, err)
		}
	}
	if n, _ := r.Unread(b); n != 1 {
		t.Errorf("Unread = %d", n)
	}
}

func TestInbox_Addressing(t *testing.T) {
	r := newRouter(t)
	ws := t.TempDir()
	a, b := ident("A", ws, "red"), ident("B", ws, "red")

	for _, d := range []Draft{
		{Subject: "to C", To: "C"},
		{Subject: "to B", To: "B"},
		{Subject: "to all"},
	} {
		if _, err := r.Send(a, d); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := r.Send(b, Draft{Subject: "mine"}); err != nil {
		t.Fatal(err)
	}

	got, err := r.Inbox(b, InboxOptions{})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"to B", "to all"}
	if s := subjects(got); len(s) != 2 || s[0] != want[0] || s[1] != want[1] {
		t.Errorf("B inbox = %v, want %v", s, want)
	}

	fromA, _ := r.Peek(b, InboxOptions{From: "nobody"})
	if len(fromA) != 0 {
		t.Errorf("From filter leaked %v", subjects(fromA))
	}
}

func TestInbox_LimitKeepsNewestInOrder(t *testing.T) {
	clock := useClock(t)
	r := newRouter(t)
	ws := t.TempDir()
	a, b := ident("A", ws, "red"), ident("B", ws, "red")

	for _, s := range []string{"1", "2", "3", "4", "5", "6", "7"} {
		if _, err := r.Send(a, Draft{Subject: s}); err != nil {
			t.Fatal(err)
		}
		clock.advance(time.Second)
	}
	got, err := r.Inbox(b, InboxOptions{Limit: 3})
	if err != nil {
		t.Fatal(err)
	}
	if s := subjects(got); len(s) != 3 || s[0] != "5" || s[2] != "7" {
		t.Errorf("inbox = %v, want [5 6 7]", s)
	}
}

func TestUnread_CountsPastInboxLimit(t *testing.T) {
	useClock(t)
	r := newRouter(t)
	ws := t.TempDir()
	a, b := ident("A", ws, "red"), ident("B", ws, "red")

	const sent = MaxInboxLimit + 10
	for i := 0; i < sent; i++ {
		if _, err := r.Send(a, Draft{Subject: "ping"}); err != nil {
			t.Fatal(err)
		}
	}
	n, err := r.Unread(b)
	if err != nil {
		t.Fatal(err)
	}
	if n != sent {
		t.Errorf("unread = %d, want %d", n, sent)
	}

	if _, err := r.Inbox(b, InboxOptions{Limit: MaxInboxLimit}); err != nil {
		t.Fatal(err)
	}
	if n, _ := r.Unread(b); n != sent-MaxInboxLimit {
		t.Errorf("unread after one full inbox = %d, want %d", n, sent-MaxInboxLimit)
	}
}

func TestInbox_MergesScopesById(t *testing.T) {
	clock := useClock(t)
	r := newRouter(t)
	ws := t.TempDir()
	a, b := ident("A", ws, "red"), ident("B", ws, "red")

	sends := []Draft{
		{Subject: "team-1", Scope: ScopeTeam},
		{Subject: "local-2"},
		{Subject: "global-3", Scope: ScopeGlobal},
		{Subject: "team-4", Scope: ScopeTeam},
	}
	for _, d := range sends {
		if _, err := r.Send(a, d); err != nil {
			t.Fatal(err)
		}
		clock.advance(time.Millisecond)
	}

	noGlobal, _ := r.Peek(b, InboxOptions{Limit: 10})
	if s := subjects(noGlobal); len(s) != 3 || s[0] != "team-1" || s[1] != "local-2" || s[2] != "team-4" {
		t.Errorf("without global = %v", s)
	}
	withGlobal, _ := r.Peek(b, InboxOptions{Limit: 10, IncludeGlobal: true})
	if len(withGlobal) != 4 || withGlobal[2].Subject != "global-3" {
		t.Errorf("with global = %v", subjects(withGlobal))
	}
}

func TestIDs_StrictlyIncreasing(t *testing.T) {
	var g idGen
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, g.next(now))
	}
	// A clock step backwards must not reorder ids.
	ids = append(ids, g.next(now.Add(-time.Hour)))
	ids = append(ids, g.next(now.Add(time.Second)))

	if !sort.StringsAreSorted(ids) {
		t.Errorf("ids not sorted: %v", ids)
	}
	seen := map[string]bool{}
	for _, id := range ids {
		if seen[id] {
			t.Errorf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestDiscover(t *testing.T) {
	clock := useClock(t)
	r := newRouter(t)
	ws1, ws2 := t.TempDir(), t.TempDir()
	a := ident("A", ws1, "red")
	b := ident("B", ws2, "red")
	c := ident("C", ws2, "red")
	stale := ident("S", ws1, "red")

	if _, err := r.Send(stale, Draft{Subject: "old", Scope: ScopeTeam}); err != nil {
		t.Fatal(err)
	}
	clock.advance(time.Hour)
	if _, err := r.Send(a, Draft{Subject: "hi", Scope: ScopeTeam}); err != nil {
		t.Fatal(err)
	}
	clock.advance(time.Minute)
	if _, err := r.Send(b, Draft{Subject: "hey", Scope: ScopeTeam}); err != nil {
		t.Fatal(err)
	}
	c.Role = "reviewer"
	if err := r.Heartbeat(c, "bd-9"); err != nil {
		t.Fatal(err)
	}

	agents, err := r.Discover(a, 10*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	byID := map[string]Agent{}
	for _, ag := range agents {
		byID[ag.ID] = ag
	}
	if _, ok := byID["S"]; ok {
		t.Error("agent silent for the whole window was listed")
	}
	if byID["A"].Messages != 1 || byID["B"].Messages != 1 {
		t.Errorf("message counts = %+v", agents)
	}
	hc := byID["C"]
	if !hc.Hinted || hc.Role != "reviewer" || hc.Task != "bd-9" {
		t.Errorf("hinted agent = %+v", hc)
	}
	if agents[len(agents)-1].ID != "A" {
		t.Errorf("order = %+v, want most recent first", agents)
	}
}

func TestTeams(t *testing.T) {
	r := newRouter(t)
	ws := t.TempDir()
	for _, team := range []string{"red", "blue"} {
		if _, err := r.Send(ident("A", ws, team), Draft{Subject: "x", Scope: ScopeTeam}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := r.Send(ident("A", ws, "red"), Draft{Subject: "x", Scope: ScopeGlobal}); err != nil {
		t.Fatal(err)
	}
	teams, err := r.Teams()
	if err != nil {
		t.Fatal(err)
	}
	if len(teams) != 2 || teams[0] != "blue" || teams[1] != "red" {
		t.Errorf("Teams = %v", teams)
	}
}

func TestPrune(t *testing.T) {
	clock := useClock(t)
	r := newRouter(t)
	ws := t.TempDir()
	a, b := ident("A", ws, "red"), ident("B", ws, "red")

	if _, err := r.Send(a, Draft{Subject: "old"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Heartbeat(ident("Z", ws, "red"), ""); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Inbox(b, InboxOptions{}); err != nil {
		t.Fatal(err)
	}
	clock.advance(48 * time.Hour)
	if _, err := r.Send(a, Draft{Subject: "new"}); err != nil {
		t.Fatal(err)
	}

	res, err := r.Prune(b, 24*time.Hour, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Messages != 1 || res.Hints != 1 {
		t.Errorf("prune = %+v, want 1 message and 1 stale hint", res)
	}
	got, _ := r.Peek(b, InboxOptions{})
	if s := subjects(got); len(s) != 1 || s[0] != "new" {
		t.Errorf("after prune = %v", s)
	}
	read, err := loadReceipt(r.store(b, ScopeLocal), "B")
	if err != nil {
		t.Fatal(err)
	}
	if len(read) != 0 {
		t.Errorf("receipt still lists pruned ids: %v", read)
	}
}

func TestWatch_DeliversNewMessages(t *testing.T) {
	r := newRouter(t)
	ws := t.TempDir()
	a, b := ident("A", ws, "red"), ident("B", ws, "red")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan []Message, 4)
	done := make(chan error, 1)
	go func() {
		done <- r.Watch(ctx, b, InboxOptions{}, func(m []Message) { got <- m })
	}()

	// Give the watcher a moment to register before writing.
	time.Sleep(50 * time.Millisecond)
	if _, err := r.Send(a, Draft{Subject: "wake up", Scope: ScopeTeam}); err != nil {
		t.Fatal(err)
	}

	select {
	case batch := <-got:
		if len(batch) != 1 || batch[0].Subject != "wake up" {
			t.Errorf("batch = %v", subjects(batch))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no delivery within 5s")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch returned %v", err)
	}
	if n, _ := r.Unread(b); n != 1 {
		t.Errorf("Watch consumed messages: unread = %d", n)
	}
}
