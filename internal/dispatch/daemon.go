package dispatch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// SocketName is the daemon socket inside a .beads directory.
const SocketName = "bd.sock"

// Request is one RPC request line sent to the daemon.
type Request struct {
	Operation string         `json:"operation"`
	Args      map[string]any `json:"args"`
	Actor     string         `json:"actor,omitempty"`
	Cwd       string         `json:"cwd,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// Response is the daemon's reply line.
type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// DaemonTransport talks newline-delimited JSON RPC to the tracker daemon
// over a unix socket. Each request uses its own connection.
type DaemonTransport struct {
	// SocketPath pins the socket; empty means discover per workspace.
	SocketPath string
	// Timeout bounds a whole request when ctx carries no earlier deadline.
	Timeout time.Duration
	// HomeDir locates the per-user fallback socket.
	HomeDir func() (string, error)
}

// NewDaemonTransport returns a transport that discovers the socket.
func NewDaemonTransport(timeout time.Duration) *DaemonTransport {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &DaemonTransport{Timeout: timeout, HomeDir: os.UserHomeDir}
}

// Name identifies the transport in results and logs.
func (d *DaemonTransport) Name() string { return "daemon" }

// FindSocket walks up from workspace to the nearest .beads directory and
// returns its socket, falling back to ~/.beads/bd.sock.
func (d *DaemonTransport) FindSocket(workspace string) (string, error) {
	if d.SocketPath != "" {
		return d.SocketPath, nil
	}

	dir, err := filepath.Abs(workspace)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDaemonUnavailable, err)
	}
	for {
		beads := filepath.Join(dir, ".beads")
		if info, err := os.Stat(beads); err == nil && info.IsDir() {
			sock := filepath.Join(beads, SocketName)
			if _, err := os.Stat(sock); err == nil {
				return sock, nil
			}
			// The nearest .beads owns this workspace even without a socket.
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	if d.HomeDir != nil {
		if home, err := d.HomeDir(); err == nil {
			sock := filepath.Join(home, ".beads", SocketName)
			if _, err := os.Stat(sock); err == nil {
				return sock, nil
			}
		}
	}
	return "", fmt.Errorf("%w: no %s found (start it with: bd daemon --start)", ErrDaemonUnavailable, SocketName)
}

// Probe pings the daemon. Any error means the fast path is unavailable.
func (d *DaemonTransport) Probe(ctx context.Context, t Target) error {
	_, err := d.send(ctx, t, "ping", map[string]any{})
	return err
}

// Exec runs call on the daemon. Operations without an RPC return
// ErrUnsupported so the caller can use the CLI.
func (d *DaemonTransport) Exec(ctx context.Context, call Call) (json.RawMessage, error) {
	operation, payload, ok := call.Args.daemonRequest()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, call.Args.Op())
	}
	data, err := d.send(ctx, call.Target, operation, payload)
	if err != nil {
		return nil, err
	}
	return normalize(data), nil
}

func (d *DaemonTransport) send(ctx context.Context, t Target, operation string, payload map[string]any) (json.RawMessage, error) {
	sock, err := d.FindSocket(t.Workspace)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(d.Timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	dialer := net.Dialer{Deadline: deadline}
	conn, err := dialer.DialContext(ctx, "unix", sock)
	if err != nil {
		// A socket file with nobody listening is left behind by a dead
		// daemon; it counts as unavailable, not as an error.
		return nil, fmt.Errorf("%w: dial %s: %v", ErrDaemonUnavailable, sock, err)
	}
	defer conn.Close()
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDaemonUnavailable, err)
	}

	req := Request{
		Operation: operation,
		Args:      payload,
		Actor:     t.Actor,
		Cwd:       t.Workspace,
		RequestID: uuid.NewString(),
	}
	line, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s request: %w", operation, err)
	}
	if _, err := conn.Write(append(line, '\n')); err != nil {
		return nil, fmt.Errorf("%w: write: %v", ErrDaemonUnavailable, err)
	}

	// A reply missing only its trailing newline is still parsed.
	reply, err := bufio.NewReader(conn).ReadBytes('\n')
	if len(bytes.TrimSpace(reply)) == 0 {
		if err == nil {
			err = errors.New("empty response")
		}
		return nil, fmt.Errorf("%w: read %s response: %v", ErrDaemonUnavailable, operation, err)
	}

	var resp Response
	if err := json.Unmarshal(reply, &resp); err != nil {
		return nil, fmt.Errorf("%w: malformed %s response: %v", ErrDaemonUnavailable, operation, err)
	}
	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = "unknown error"
		}
		return nil, &DaemonError{Operation: operation, Message: msg}
	}
	return resp.Data, nil
}
