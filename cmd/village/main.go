// Village: multi-agent coordination for beads workspaces.
//
// Several AI coding agents share one repository. Village gives them a
// claimable issue queue (through bd), file reservations and scoped mail,
// all stored as plain files that version control can replicate.
//
// Usage:
//
//	village serve                      # MCP server on stdio
//	village reserve a.go b.go          # exit status 2 on conflict
//	village inbox --watch              # follow new mail
package main

import (
	"errors"
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		code := 1
		var ee *exitError
		if errors.As(err, &ee) {
			code = ee.code
		}
		fmt.Fprintf(os.Stderr, "village: %v\n", err)
		os.Exit(code)
	}
}

// exitError carries a non-default exit status out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }
