package dispatch

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// fakeTracker is an in-memory issue tracker. Both the fake daemon and the
// fake CLI drive the same tracker, so equal inputs must give equal outputs.
type fakeTracker struct {
	mu     sync.Mutex
	issues map[string]*Issue
	deps   []string
	next   int
	syncs  int
	calls  []string
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{issues: map[string]*Issue{}, next: 1}
}

func (f *fakeTracker) seed(issues ...Issue) {
	for i := range issues {
		is := issues[i]
		f.issues[is.ID] = &is
	}
}

func intArg(m map[string]any, key string, def int) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func strArg(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func (f *fakeTracker) sorted(filter func(*Issue) bool) []Issue {
	out := []Issue{}
	for _, is := range f.issues {
		if filter(is) {
			out = append(out, *is)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func limit(issues []Issue, n int) []Issue {
	if n > 0 && len(issues) > n {
		return issues[:n]
	}
	return issues
}

// apply executes op against the tracker.
func (f *fakeTracker) apply(op string, args map[string]any) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op)

	switch op {
	case "create":
		title := strArg(args, "title")
		if title == "" {
			return nil, errors.New("title required")
		}
		id := fmt.Sprintf("bd-%d", f.next)
		f.next++
		is := &Issue{
			ID:          id,
			Title:       title,
			Description: strArg(args, "description"),
			Status:      "open",
			Priority:    intArg(args, "priority", 2),
			IssueType:   strArg(args, "issue_type"),
		}
		f.issues[id] = is
		return is, nil
	case "list":
		status := strArg(args, "status")
		return limit(f.sorted(func(is *Issue) bool { return status == "" || is.Status == status }), intArg(args, "limit", 0)), nil
	case "ready":
		return limit(f.sorted(func(is *Issue) bool { return is.Status == "open" }), intArg(args, "limit", 0)), nil
	case "show":
		is, ok := f.issues[strArg(args, "id")]
		if !ok {
			return nil, fmt.Errorf("issue %s not found", strArg(args, "id"))
		}
		return is, nil
	case "update":
		is, ok := f.issues[strArg(args, "id")]
		if !ok {
			return nil, fmt.Errorf("issue %s not found", strArg(args, "id"))
		}
		if s := strArg(args, "status"); s != "" {
			is.Status = s
		}
		if _, ok := args["priority"]; ok {
			is.Priority = intArg(args, "priority", is.Priority)
		}
		return is, nil
	case "close":
		is, ok := f.issues[strArg(args, "id")]
		if !ok {
			return nil, fmt.Errorf("issue %s not found", strArg(args, "id"))
		}
		is.Status = "closed"
		return is, nil
	case "dep_add":
		f.deps = append(f.deps, strArg(args, "from_id")+"->"+strArg(args, "to_id")+":"+strArg(args, "dep_type"))
		return map[string]any{"ok": true}, nil
	case "sync":
		f.syncs++
		return map[string]any{"synced": f.syncs}, nil
	case "stats":
		open := 0
		for _, is := range f.issues {
			if is.Status == "open" {
				open++
			}
		}
		return map[string]any{"total": len(f.issues), "open": open}, nil
	case "health":
		return map[string]any{"healthy": true}, nil
	case "cleanup":
		n := 0
		for id, is := range f.issues {
			if is.Status == "closed" {
				delete(f.issues, id)
				n++
			}
		}
		return map[string]any{"deleted": n}, nil
	case "doctor":
		return map[string]any{"fixed": args["fix"] == true}, nil
	case "init":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown operation %q", op)
}

// parseCLI maps bd argv back onto a tracker operation.
func parseCLI(argv []string) (string, map[string]any) {
	var rest []string
	for _, a := range argv {
		if a != "--json" {
			rest = append(rest, a)
		}
	}
	args := map[string]any{}
	flag := func(from int) {
		for i := from; i+1 < len(rest); i += 2 {
			k, v := rest[i], rest[i+1]
			switch k {
			case "-t":
				args["issue_type"] = v
			case "-p", "--priority":
				n, _ := strconv.Atoi(v)
				args["priority"] = n
			case "--description":
				args["description"] = v
			case "--deps":
				deps, _ := args["dependencies"].([]string)
				args["dependencies"] = append(deps, v)
			case "--status":
				args["status"] = v
			case "--limit", "--days":
				n, _ := strconv.Atoi(v)
				args[strings.TrimPrefix(k, "--")] = n
			case "--reason":
				args["reason"] = v
			case "--type":
				args["dep_type"] = v
			}
		}
	}

	switch rest[0] {
	case "create":
		args["title"] = rest[1]
		flag(2)
		return "create", args
	case "show", "update", "close":
		args["id"] = rest[1]
		flag(2)
		return rest[0], args
	case "dep":
		args["from_id"], args["to_id"] = rest[2], rest[3]
		flag(4)
		return "dep_add", args
	case "doctor":
		for _, a := range rest {
			if a == "--fix" {
				args["fix"] = true
				return "doctor", args
			}
		}
		return "health", args
	default:
		flag(1)
		return rest[0], args
	}
}

// fakeRunner is a CommandRunner that serves bd invocations from a tracker.
type fakeRunner struct {
	tracker *fakeTracker
	mu      sync.Mutex
	calls   [][]string
	dirs    []string
	// fn, if set, overrides the tracker.
	fn func(args []string) ([]byte, error)
}

func (r *fakeRunner) Run(_ context.Context, dir, _ string, args ...string) ([]byte, error) {
	r.mu.Lock()
	r.calls = append(r.calls, args)
	r.dirs = append(r.dirs, dir)
	r.mu.Unlock()
	if r.fn != nil {
		return r.fn(args)
	}

	op, m := parseCLI(args)
	v, err := r.tracker.apply(op, m)
	if err != nil {
		return nil, &RunError{Name: "bd", Args: args, Err: errors.New("exit status 1"), Stderr: []byte("Error: " + err.Error() + "\n")}
	}
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func (r *fakeRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// fakeDaemon serves the RPC protocol on a unix socket.
type fakeDaemon struct {
	tracker *fakeTracker
	ln      net.Listener
	path    string

	mu       sync.Mutex
	requests []Request
	// handle, if set, overrides the tracker for non-ping requests. Returning
	// nil drops the connection without a reply.
	handle func(Request) *Response
	// silent makes the daemon accept connections and never answer.
	silent bool
	// raw, if set, is written verbatim as the reply to non-ping requests.
	raw string
}

// shortTempDir returns a directory with a path short enough for a unix
// socket name.
func shortTempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "bdv")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func startFakeDaemon(t *testing.T, tracker *fakeTracker, sockPath string) *fakeDaemon {
	t.Helper()
	if sockPath == "" {
		sockPath = filepath.Join(shortTempDir(t), SocketName)
	}
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("listen %s: %v", sockPath, err)
	}
	d := &fakeDaemon{tracker: tracker, ln: ln, path: sockPath}
	t.Cleanup(func() { ln.Close() })
	go d.serve()
	return d
}

func (d *fakeDaemon) serve() {
	for {
		conn, err := d.ln.Accept()
		if err != nil {
			return
		}
		go d.handleConn(conn)
	}
}

func (d *fakeDaemon) handleConn(conn net.Conn) {
	defer conn.Close()
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return
	}
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return
	}
	d.mu.Lock()
	d.requests = append(d.requests, req)
	silent, handle, raw := d.silent, d.handle, d.raw
	d.mu.Unlock()

	if silent {
		buf := make([]byte, 1)
		_, _ = conn.Read(buf)
		return
	}

	var resp *Response
	switch {
	case req.Operation == "ping":
		resp = &Response{Success: true, Data: json.RawMessage(`{"status":"ok"}`)}
	case raw != "":
		_, _ = conn.Write([]byte(raw))
		return
	case handle != nil:
		resp = handle(req)
		if resp == nil {
			return
		}
	default:
		v, err := d.tracker.apply(req.Operation, req.Args)
		if err != nil {
			resp = &Response{Success: false, Error: err.Error()}
		} else {
			data, _ := json.Marshal(v)
			resp = &Response{Success: true, Data: data}
		}
	}
	out, _ := json.Marshal(resp)
	_, _ = conn.Write(append(out, '\n'))
}

func (d *fakeDaemon) ops() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for _, r := range d.requests {
		out = append(out, r.Operation)
	}
	return out
}

func (d *fakeDaemon) set(fn func(*fakeDaemon)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(d)
}
