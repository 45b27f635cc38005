package main

import (
	"fmt"
	"io"

	"github.com/beads-village/village/internal/journal"
	"github.com/spf13/cobra"
)

// openJournal opens the journal under the configured directory. Callers
// must Close it.
func (e *env) openJournal() (*journal.Store, error) {
	store, err := journal.New(journal.Config{DataDir: e.cfg.JournalDir})
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	return store, nil
}

func newJournalCmd(g *globalFlags) *cobra.Command {
	var (
		limit int
		kind  string
		all   bool
		stats bool
	)
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Show recent activity recorded on this machine",
		Long: "Show the local activity journal the MCP server writes: joins, claims, reservations,\n" +
			"messages and completions, newest first. Without --agent every agent in the workspace\n" +
			"is shown.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := g.load(cmd, false)
			if err != nil {
				return err
			}
			store, err := e.openJournal()
			if err != nil {
				return err
			}
			defer store.Close()

			if stats {
				st, err := store.Stats()
				if err != nil {
					return err
				}
				return e.out.emit(st, func(w io.Writer) {
					header(w, "Journal "+store.Path())
					fmt.Fprintf(w, "  sessions %d\n  events   %d\n", st.Sessions, st.Events)
					for k, n := range st.Kinds {
						fmt.Fprintf(w, "  %-10s %d\n", k, n)
					}
				})
			}

			f := journal.Filter{Workspace: e.identity().Workspace, Kind: kind}
			if e.cfg.Agent != "" && !all {
				f.Agent = e.cfg.Agent
			}
			events, err := store.Recent(f, limit)
			if err != nil {
				return err
			}
			if events == nil {
				events = []journal.Event{}
			}
			return e.out.emit(events, func(w io.Writer) {
				if len(events) == 0 {
					fmt.Fprintln(w, mutedStyle.Render("no activity"))
					return
				}
				for _, ev := range events {
					line := fmt.Sprintf("%s %s %s", mutedStyle.Render(ev.CreatedAt), headerStyle.Render(ev.Agent), ev.Kind)
					if ev.Subject != "" {
						line += " " + ev.Subject
					}
					fmt.Fprintln(w, line)
				}
			})
		},
	}
	f := cmd.Flags()
	f.IntVarP(&limit, "limit", "n", journal.DefaultLimit, "maximum events")
	f.StringVar(&kind, "kind", "", "only events of this kind")
	f.BoolVar(&all, "all", false, "every agent, even when --agent is set")
	f.BoolVar(&stats, "stats", false, "print aggregate counts instead of events")
	return cmd
}
