// Package dispatch runs issue-tracker operations over one of two transports
// while presenting a single contract to callers.
//
// The fast path is the tracker daemon's unix socket; the slow path invokes
// the bd CLI as a subprocess in the workspace. For every call the dispatcher
// probes the daemon (with a hard deadline and a short cache), runs the
// operation on it when available, and on any transport failure or
// unsupported operation retries exactly once through the CLI. Callers see
// the same normalized result either way; Result.Transport records which
// path served it.
//
// A daemon that answers success=false (a locked database, an operation an
// older daemon does not know) also gets the one CLI retry. Only the CLI's
// outcome is reported, so the daemon can change speed but never results.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Target is where an operation runs and on whose behalf.
type Target struct {
	Workspace string
	Actor     string
}

// Call is one operation bound to a target.
type Call struct {
	Target
	Args Args
}

// Transport executes calls.
type Transport interface {
	Name() string
	Exec(ctx context.Context, call Call) (json.RawMessage, error)
}

// FastTransport is a transport that can report its availability cheaply.
type FastTransport interface {
	Transport
	Probe(ctx context.Context, t Target) error
}

// Result is a normalized operation result.
type Result struct {
	Data      json.RawMessage
	Transport string
	// FellBack is set when the fast path was tried and failed.
	FellBack bool
}

// Config tunes the dispatcher.
type Config struct {
	PreferDaemon  bool
	ProbeTimeout  time.Duration
	ProbeCacheTTL time.Duration
}

type probeResult struct {
	ok bool
	at time.Time
}

// timeNow is a package-level variable for testability.
var timeNow = time.Now

// Dispatcher routes calls to the daemon or the CLI.
type Dispatcher struct {
	fast   FastTransport
	slow   Transport
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	probes map[string]probeResult
}

// New returns a dispatcher. fast may be nil, in which case every call goes
// to slow.
func New(fast FastTransport, slow Transport, cfg Config, logger *slog.Logger) *Dispatcher {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 150 * time.Millisecond
	}
	if cfg.ProbeCacheTTL < 0 {
		cfg.ProbeCacheTTL = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		fast:   fast,
		slow:   slow,
		cfg:    cfg,
		logger: logger,
		probes: make(map[string]probeResult),
	}
}

// Exec runs call and returns its normalized result.
func (d *Dispatcher) Exec(ctx context.Context, call Call) (*Result, error) {
	fellBack := false
	if d.FastAvailable(ctx, call.Target) {
		data, err := d.fast.Exec(ctx, call)
		if err == nil {
			return &Result{Data: data, Transport: d.fast.Name()}, nil
		}

		// The daemon answered, so an application error or an unsupported
		// op says nothing about its health.
		var de *DaemonError
		if !errors.As(err, &de) && !errors.Is(err, ErrUnsupported) {
			d.invalidate(call.Workspace)
		}
		d.logger.Debug("fast path failed, using cli", "op", call.Args.Op(), "err", err)
		fellBack = true
	}

	data, err := d.slow.Exec(ctx, call)
	if err != nil {
		return nil, err
	}
	return &Result{Data: data, Transport: d.slow.Name(), FellBack: fellBack}, nil
}

// FastAvailable reports whether the daemon answers a ping for t, using a
// cached answer younger than the probe cache TTL.
func (d *Dispatcher) FastAvailable(ctx context.Context, t Target) bool {
	if d.fast == nil || !d.cfg.PreferDaemon {
		return false
	}

	d.mu.Lock()
	cached, ok := d.probes[t.Workspace]
	d.mu.Unlock()
	if ok && timeNow().Sub(cached.at) < d.cfg.ProbeCacheTTL {
		return cached.ok
	}

	pctx, cancel := context.WithTimeout(ctx, d.cfg.ProbeTimeout)
	defer cancel()
	err := d.fast.Probe(pctx, t)
	if err != nil {
		d.logger.Debug("daemon probe failed", "workspace", t.Workspace, "err", err)
	}

	d.mu.Lock()
	d.probes[t.Workspace] = probeResult{ok: err == nil, at: timeNow()}
	d.mu.Unlock()
	return err == nil
}

func (d *Dispatcher) invalidate(workspace string) {
	d.mu.Lock()
	d.probes[workspace] = probeResult{ok: false, at: timeNow()}
	d.mu.Unlock()
}

// TransportFor names the transport the next call for t would try first.
func (d *Dispatcher) TransportFor(ctx context.Context, t Target) string {
	if d.FastAvailable(ctx, t) {
		return d.fast.Name()
	}
	return d.slow.Name()
}
