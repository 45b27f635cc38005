package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/beads-village/village/internal/lease"
	"github.com/spf13/cobra"
)

// errConflict signals that at least one path is held by another agent.
var errConflict = errors.New("some paths are reserved by other agents")

func newReserveCmd(g *globalFlags) *cobra.Command {
	var (
		ttl    int
		reason string
	)
	cmd := &cobra.Command{
		Use:   "reserve <path>...",
		Short: "Reserve files for editing",
		Long: "Reserve files so other agents leave them alone. Reserving a path you already\n" +
			"hold renews it. Exits with status 2 when any path is held by someone else.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := g.load(cmd, true)
			if err != nil {
				return err
			}
			if ttl < 0 {
				return errors.New("--ttl must not be negative")
			}
			if reason == "" {
				reason = "editing"
			}
			d := lease.MaxTTL
			if ttl < int(lease.MaxTTL/time.Second) {
				d = time.Duration(ttl) * time.Second
			}
			res, err := e.leases().Reserve(e.identity().AgentID, splitPaths(args), reason, d)
			if err != nil {
				return fmt.Errorf("reserving paths: %w", err)
			}
			if res.Granted == nil {
				res.Granted = []string{}
			}
			if res.Conflicts == nil {
				res.Conflicts = []lease.Conflict{}
			}
			if err := e.out.emit(res, func(w io.Writer) { printReserve(w, res) }); err != nil {
				return err
			}
			if len(res.Conflicts) > 0 {
				return &exitError{code: 2, err: errConflict}
			}
			if len(res.Errors) > 0 {
				return fmt.Errorf("%d path(s) rejected", len(res.Errors))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&ttl, "ttl", 0, "seconds until the reservation expires (default from config, 600; max 86400)")
	cmd.Flags().StringVar(&reason, "reason", "", "why you need the files")
	return cmd
}

// splitPaths accepts both separate arguments and comma-separated lists.
func splitPaths(args []string) []string {
	var out []string
	for _, a := range args {
		for _, p := range strings.Split(a, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func printReserve(w io.Writer, res *lease.Result) {
	for _, p := range res.Granted {
		fmt.Fprintf(w, "%s %s\n", okStyle.Render("reserved"), p)
	}
	if len(res.Granted) > 0 {
		fmt.Fprintln(w, mutedStyle.Render("  until "+res.ExpiresAt.Local().Format(time.Kitchen)))
	}
	for _, c := range res.Conflicts {
		fmt.Fprintf(w, "%s %s held by %s (%ds left)\n", errStyle.Render("conflict"), c.Path, c.Holder, c.Remaining)
	}
	for _, pe := range res.Errors {
		fmt.Fprintf(w, "%s %s\n", warnStyle.Render("rejected"), pe.Error())
	}
}

func newReleaseCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "release [path]...",
		Short: "Release reservations (all of yours when no path is given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := g.load(cmd, true)
			if err != nil {
				return err
			}
			released, err := e.leases().Release(e.identity().AgentID, splitPaths(args))
			if err != nil {
				return fmt.Errorf("releasing paths: %w", err)
			}
			if released == nil {
				released = []string{}
			}
			return e.out.emit(map[string]any{"released": released}, func(w io.Writer) {
				if len(released) == 0 {
					fmt.Fprintln(w, mutedStyle.Render("nothing to release"))
					return
				}
				for _, p := range released {
					fmt.Fprintf(w, "%s %s\n", okStyle.Render("released"), p)
				}
			})
		},
	}
}

func newReservationsCmd(g *globalFlags) *cobra.Command {
	var mine bool
	cmd := &cobra.Command{
		Use:   "reservations [path]",
		Short: "List live reservations in the workspace, or show who holds one path",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := g.load(cmd, mine)
			if err != nil {
				return err
			}
			m := e.leases()
			now := time.Now()

			if len(args) == 1 {
				r, err := m.Lookup(args[0])
				if err != nil {
					return fmt.Errorf("looking up %s: %w", args[0], err)
				}
				return e.out.emit(map[string]any{"path": args[0], "reservation": r}, func(w io.Writer) {
					if r == nil {
						fmt.Fprintf(w, "%s %s\n", okStyle.Render("free"), args[0])
						return
					}
					fmt.Fprintf(w, "%s %s by %s (%s left)\n", warnStyle.Render("held"), r.Path, r.Holder, r.Remaining(now).Round(time.Second))
				})
			}

			var rs []lease.Reservation
			if mine {
				rs, err = m.HeldBy(e.identity().AgentID)
			} else {
				rs, err = m.Reservations()
			}
			if err != nil {
				return fmt.Errorf("listing reservations: %w", err)
			}
			if rs == nil {
				rs = []lease.Reservation{}
			}
			return e.out.emit(rs, func(w io.Writer) {
				header(w, fmt.Sprintf("Reservations (%d)", len(rs)))
				for _, r := range rs {
					left := r.Remaining(now).Round(time.Second)
					line := fmt.Sprintf("  %-40s %-16s %s", r.Path, r.Holder, left)
					if r.Reason != "" {
						line += "  " + mutedStyle.Render(r.Reason)
					}
					fmt.Fprintln(w, line)
				}
			})
		},
	}
	cmd.Flags().BoolVar(&mine, "mine", false, "only reservations held by --agent")
	return cmd
}
