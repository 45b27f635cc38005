package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/beads-village/village/internal/config"
	"github.com/beads-village/village/internal/lease"
	"github.com/beads-village/village/internal/mail"
	"github.com/beads-village/village/internal/server"
	"github.com/beads-village/village/internal/session"
	"github.com/beads-village/village/internal/storage"
	"github.com/spf13/cobra"
)

// errNoAgent is returned by commands that act as an agent when none was
// named. A pid-derived id would change on every invocation, so the CLI
// could never renew or release its own reservations.
var errNoAgent = errors.New("agent required: pass --agent or set " + config.EnvAgent)

// globalFlags are the persistent flags shared by every subcommand.
type globalFlags struct {
	agent string
	ws    string
	team  string
	hub   string
	json  bool
}

// env is everything a subcommand needs, resolved once per invocation.
type env struct {
	cfg     config.Config
	logger  *slog.Logger
	session *session.Session
	router  *mail.Router
	out     *printer
}

func (e *env) identity() session.Identity { return e.session.Identity() }

func (e *env) leases() *lease.Manager {
	return lease.New(storage.NewFileStore(e.session.Layout().Reservations), lease.Config{
		Workspace:  e.identity().Workspace,
		DefaultTTL: e.cfg.LeaseTTL,
	})
}

func newLogger(w io.Writer, cfg config.Config) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
}

func (g *globalFlags) loadConfig() (config.Config, error) {
	cfg, err := config.Load(config.Overrides{
		Agent:     g.agent,
		Workspace: g.ws,
		Team:      g.team,
		HubRoot:   g.hub,
	})
	if err != nil {
		return cfg, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// load resolves configuration and session for cmd. needAgent rejects the
// pid fallback identity.
func (g *globalFlags) load(cmd *cobra.Command, needAgent bool) (*env, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, err
	}
	if needAgent && cfg.Agent == "" {
		return nil, errNoAgent
	}
	logger := newLogger(cmd.ErrOrStderr(), cfg)
	sess, err := session.Resolve(cfg)
	if err != nil {
		return nil, fmt.Errorf("resolving session: %w", err)
	}
	return &env{
		cfg:     cfg,
		logger:  logger,
		session: sess,
		router:  mail.NewRouter(cfg.HubRoot, logger),
		out:     newPrinter(cmd.OutOrStdout(), g.json),
	}, nil
}

// newRootCmd creates the root village command with all subcommands attached.
func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	cmd := &cobra.Command{
		Use:   "village",
		Short: "Coordinate AI agents sharing a beads workspace",
		Long: "village runs the Beads Village MCP server and offers the same reservations and mail\n" +
			"to humans and scripts. Output is styled on a terminal and JSON otherwise.",
		Version:       server.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("village {{.Version}}\n")

	pf := cmd.PersistentFlags()
	pf.StringVar(&g.agent, "agent", "", "agent id (default $"+config.EnvAgent+")")
	pf.StringVar(&g.ws, "ws", "", "workspace directory (default $"+config.EnvWorkspace+" or the current directory)")
	pf.StringVar(&g.team, "team", "", "team name (default $"+config.EnvTeam+" or \"default\")")
	pf.StringVar(&g.hub, "hub", "", "hub directory for team and global mail (default $"+config.EnvHubRoot+" or ~/.beads-village)")
	pf.BoolVar(&g.json, "json", false, "print JSON even on a terminal")

	cmd.AddCommand(
		newServeCmd(g),
		newReserveCmd(g),
		newReleaseCmd(g),
		newReservationsCmd(g),
		newSendCmd(g),
		newInboxCmd(g),
		newDiscoverCmd(g),
		newPruneCmd(g),
		newJournalCmd(g),
		newVersionCmd(),
	)
	return cmd
}
