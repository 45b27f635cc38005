// Package server wires all MCP components and creates the server instance.
//
// This is the composition root: it builds the session, the mail router,
// the command dispatcher and the optional journal, then injects them into
// the tools, prompts and resources. No coordination logic lives here.
package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/beads-village/village/internal/config"
	"github.com/beads-village/village/internal/dispatch"
	"github.com/beads-village/village/internal/journal"
	"github.com/beads-village/village/internal/mail"
	"github.com/beads-village/village/internal/prompts"
	"github.com/beads-village/village/internal/resources"
	"github.com/beads-village/village/internal/session"
	"github.com/beads-village/village/internal/tools"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Version is set at build time via ldflags.
var Version = "dev"

// tool is what every handler in internal/tools provides.
type tool interface {
	Definition() mcp.Tool
	Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// noop is the cleanup returned when there is nothing to close.
func noop() {}

// NewDispatcher builds the daemon-first dispatcher described by cfg.
func NewDispatcher(cfg config.Config, logger *slog.Logger) *dispatch.Dispatcher {
	return dispatch.New(
		dispatch.NewDaemonTransport(cfg.DaemonTimeout),
		dispatch.NewCLITransport(&dispatch.ExecCommandRunner{}, cfg.BDPath, cfg.CommandTimeout),
		dispatch.Config{
			PreferDaemon:  cfg.PreferDaemon,
			ProbeTimeout:  cfg.ProbeTimeout,
			ProbeCacheTTL: cfg.ProbeCacheTTL,
		},
		logger,
	)
}

// New creates and configures the MCP server with all tools, prompts and
// resources registered.
//
// The returned cleanup function ends the journal session and closes the
// journal database. It is always non-nil and safe to call even if the
// journal could not be opened.
func New(cfg config.Config, logger *slog.Logger) (*server.MCPServer, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}

	sess, err := session.Resolve(cfg)
	if err != nil {
		return nil, noop, fmt.Errorf("resolving session: %w", err)
	}
	router := mail.NewRouter(cfg.HubRoot, logger)
	village := tools.NewVillage(sess, router, NewDispatcher(cfg, logger), cfg.LeaseTTL, logger)

	s := server.NewMCPServer(
		"beads-village",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	for _, t := range []tool{
		tools.NewInitTool(village),
		tools.NewClaimTool(village),
		tools.NewDoneTool(village),
		tools.NewAddTool(village),
		tools.NewLsTool(village),
		tools.NewReadyTool(village),
		tools.NewShowTool(village),
		tools.NewCleanupTool(village),
		tools.NewDoctorTool(village),
		tools.NewSyncTool(village),
		tools.NewReserveTool(village),
		tools.NewReleaseTool(village),
		tools.NewReservationsTool(village),
		tools.NewMsgTool(village),
		tools.NewBroadcastTool(village),
		tools.NewInboxTool(village),
		tools.NewDiscoverTool(village),
		tools.NewStatusTool(village),
	} {
		s.AddTool(t.Definition(), t.Handle)
	}

	// --- Journal ---
	//
	// The journal is an independent subsystem: if it fails to open, the
	// coordination tools keep working. Log a warning and skip history.

	cleanup := noop
	store, jErr := journal.New(journal.Config{DataDir: cfg.JournalDir})
	if jErr != nil {
		logger.Warn("journal disabled", "err", jErr)
	} else {
		bridge := tools.NewJournalBridge(store, sess.Identity(), logger)
		if bridge != nil {
			village.SetBridge(bridge)
		}
		cleanup = func() {
			if bridge != nil {
				if err := bridge.Close(); err != nil {
					logger.Warn("journal session close", "err", err)
				}
			}
			if err := store.Close(); err != nil {
				logger.Warn("journal close", "err", err)
			}
		}
		history := tools.NewHistoryTool(store, village)
		s.AddTool(history.Definition(), history.Handle)
	}

	// --- Prompts ---

	start := prompts.NewStartPrompt()
	s.AddPrompt(start.Definition(), start.Handle)

	handoff := prompts.NewHandoffPrompt()
	s.AddPrompt(handoff.Definition(), handoff.Handle)

	// --- Resources ---

	rh := resources.NewHandler(village)
	s.AddResource(rh.ReservationsResource(), rh.HandleReservations)
	s.AddResource(rh.StatusResource(), rh.HandleStatus)

	return s, cleanup, nil
}

// serverInstructions returns the system instructions that tell the AI how
// to coordinate through the village.
func serverInstructions() string {
	return `You are one of several AI agents working on the same codebase at the same time.
Beads Village keeps you out of each other's way: a shared issue queue, file
reservations and messages between agents.

## WORKFLOW (follow this order)

1. init()                  join the workspace (once per session)
2. claim()                 take the next ready task
3. reserve(paths=[...])    lock the files you will edit
4. [do your work]
5. add(title="...")        file any work you discover along the way
6. done(id="...", msg="...") close the task; releases your reservations
7. Restart the session: 1 task = 1 session

## RULES

- ALWAYS run init() first
- ALWAYS reserve files before editing them. A conflict means another agent
  holds the file: work on something else or msg() the holder
- ALWAYS create issues for discovered work instead of expanding your task
- After done(), restart the session
- Keep fewer than 200 open issues; run cleanup() every few days

## COORDINATION

- reservations()   who is editing what
- msg(subj, body)  tell the agents in this workspace; scope="team" reaches your team
- broadcast(subj)  tell your whole team; scope="global" reaches every team
- inbox()          read messages (marks them read)
- discover()       agents active in your team recently
- status()         your session at a glance

## FORMATS

Priority: 0=critical, 1=high, 2=normal, 3=low, 4=backlog.
Responses are compact JSON: id, t=title, p=priority, s=status;
messages use f=from, s=subject, b=body, ts=timestamp.

## MULTIPLE WORKSPACES AND TEAMS

init(ws="/path/to/repo", team="name", role="be") re-binds this session.
Team mail and discovery only cover your current team.`
}
