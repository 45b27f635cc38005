package main

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/beads-village/village/internal/mail"
	"github.com/spf13/cobra"
)

func newSendCmd(g *globalFlags) *cobra.Command {
	var to, scope, importance, thread string
	cmd := &cobra.Command{
		Use:   "send <subject> [body]",
		Short: "Send a message to other agents",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := g.load(cmd, true)
			if err != nil {
				return err
			}
			sc, err := mail.ParseScope(scope)
			if err != nil {
				return err
			}
			imp, err := mail.ParseImportance(importance)
			if err != nil {
				return err
			}
			d := mail.Draft{
				To:         to,
				Subject:    args[0],
				Importance: imp,
				Scope:      sc,
				Thread:     thread,
			}
			if len(args) == 2 {
				d.Body = args[1]
			}
			if d.To == "" {
				d.To = mail.All
			}
			msg, err := e.router.Send(e.identity(), d)
			if err != nil {
				return fmt.Errorf("sending message: %w", err)
			}
			return e.out.emit(msg, func(w io.Writer) {
				fmt.Fprintf(w, "%s %s %s\n", okStyle.Render("sent"), msg.ID, mutedStyle.Render("("+string(msg.Scope)+" to "+msg.To+")"))
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&to, "to", "", "recipient agent id (default: everyone)")
	f.StringVar(&scope, "scope", "local", "local, team or global")
	f.StringVar(&importance, "importance", "normal", "normal, high or urgent")
	f.StringVar(&thread, "thread", "", "thread id")
	return cmd
}

func newInboxCmd(g *globalFlags) *cobra.Command {
	var (
		n      int
		unread bool
		global bool
		from   string
		watch  bool
	)
	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "Read messages addressed to you",
		Long: "Read local and team messages, oldest first, marking them read. With --watch,\n" +
			"keep running and print unread messages as they arrive without marking them.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := g.load(cmd, true)
			if err != nil {
				return err
			}
			opts := mail.InboxOptions{
				Limit:         n,
				UnreadOnly:    unread,
				IncludeGlobal: global,
				From:          from,
			}
			if watch {
				ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
				defer stop()
				var emitErr error
				err := e.router.Watch(ctx, e.identity(), opts, func(msgs []mail.Message) {
					if emitErr != nil {
						return
					}
					emitErr = e.out.emit(msgs, func(w io.Writer) { printMessages(w, msgs, time.Now()) })
				})
				if err != nil && ctx.Err() == nil {
					return fmt.Errorf("watching inbox: %w", err)
				}
				return emitErr
			}

			msgs, err := e.router.Inbox(e.identity(), opts)
			if err != nil {
				return fmt.Errorf("reading inbox: %w", err)
			}
			if msgs == nil {
				msgs = []mail.Message{}
			}
			return e.out.emit(msgs, func(w io.Writer) {
				if len(msgs) == 0 {
					fmt.Fprintln(w, mutedStyle.Render("no messages"))
					return
				}
				printMessages(w, msgs, time.Now())
			})
		},
	}
	f := cmd.Flags()
	f.IntVarP(&n, "limit", "n", mail.DefaultInboxLimit, "maximum messages")
	f.BoolVar(&unread, "unread", false, "only unread messages")
	f.BoolVar(&global, "global", false, "include hub-wide messages from every team")
	f.StringVar(&from, "from", "", "only messages from this agent")
	f.BoolVar(&watch, "watch", false, "follow new messages until interrupted")
	return cmd
}

func printMessages(w io.Writer, msgs []mail.Message, now time.Time) {
	for _, m := range msgs {
		imp := importanceStyle(string(m.Importance)).Render(string(m.Importance))
		fmt.Fprintf(w, "%s %s %s %s\n", headerStyle.Render(m.From), imp, m.Subject, mutedStyle.Render(ago(m.CreatedAt, now)))
		if m.Body != "" {
			fmt.Fprintf(w, "  %s\n", m.Body)
		}
	}
}

func newDiscoverCmd(g *globalFlags) *cobra.Command {
	var minutes int
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List agents recently active in your team",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := g.load(cmd, false)
			if err != nil {
				return err
			}
			if minutes < 1 {
				minutes = 10
			}
			agents, err := e.router.Discover(e.identity(), time.Duration(minutes)*time.Minute)
			if err != nil {
				return fmt.Errorf("discovering agents: %w", err)
			}
			if agents == nil {
				agents = []mail.Agent{}
			}
			now := time.Now()
			return e.out.emit(agents, func(w io.Writer) {
				header(w, fmt.Sprintf("Team %s: %d active in the last %dm", e.identity().Team, len(agents), minutes))
				for _, a := range agents {
					line := "  " + a.ID
					if a.Role != "" {
						line += " " + mutedStyle.Render("["+a.Role+"]")
					}
					if a.Leader {
						line += " " + warnStyle.Render("leader")
					}
					if a.Task != "" {
						line += " on " + a.Task
					}
					fmt.Fprintln(w, line+" "+mutedStyle.Render(ago(a.LastSeen, now)))
				}
			})
		},
	}
	cmd.Flags().IntVar(&minutes, "minutes", 10, "activity window in minutes")
	return cmd
}

func newPruneCmd(g *globalFlags) *cobra.Command {
	var (
		mailDays    int
		journalDays int
		global      bool
	)
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove expired reservations and old mail",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := g.load(cmd, true)
			if err != nil {
				return err
			}
			leases, err := e.leases().Prune()
			if err != nil {
				return fmt.Errorf("pruning reservations: %w", err)
			}
			resp := map[string]any{"leases": leases}
			var pr mail.PruneResult
			if mailDays > 0 {
				pr, err = e.router.Prune(e.identity(), time.Duration(mailDays)*24*time.Hour, global)
				if err != nil {
					return fmt.Errorf("pruning mail: %w", err)
				}
				resp["mail"] = pr
			}
			var events int64
			if journalDays > 0 {
				store, err := e.openJournal()
				if err != nil {
					return err
				}
				defer store.Close()
				events, err = store.Prune(time.Now().Add(-time.Duration(journalDays) * 24 * time.Hour))
				if err != nil {
					return err
				}
				resp["journal"] = events
			}
			return e.out.emit(resp, func(w io.Writer) {
				fmt.Fprintf(w, "%s %d expired reservation(s)\n", okStyle.Render("pruned"), leases)
				if mailDays > 0 {
					fmt.Fprintf(w, "%s %d message(s), %d hint(s)\n", okStyle.Render("pruned"), pr.Messages, pr.Hints)
				}
				if journalDays > 0 {
					fmt.Fprintf(w, "%s %d journal event(s)\n", okStyle.Render("pruned"), events)
				}
			})
		},
	}
	cmd.Flags().IntVar(&mailDays, "mail-days", 0, "also delete messages older than this many days (0 keeps mail)")
	cmd.Flags().IntVar(&journalDays, "journal-days", 0, "also delete journal events older than this many days")
	cmd.Flags().BoolVar(&global, "global", false, "include the global hub when pruning mail")
	return cmd
}
