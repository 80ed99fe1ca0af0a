package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/recipevault/internal/store"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sync status and pending local changes",
		Long: `Show the outcome of the last sync pass, how many local changes are waiting
to be pushed, and whether a sync process is running. Reads local state only.`,
		Args: cobra.NoArgs,
		RunE: runStatus,
	}
}

// statusOutput is the JSON schema for `status --json`.
type statusOutput struct {
	LoggedIn       bool       `json:"logged_in"`
	Email          string     `json:"email,omitempty"`
	Server         string     `json:"server"`
	Status         string     `json:"status"`
	LastSyncAt     *time.Time `json:"last_sync_at,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	Recipes        int        `json:"recipes"`
	Unsynced       int        `json:"unsynced"`
	PendingDeletes int        `json:"pending_deletes"`
	SyncPID        int        `json:"sync_pid,omitempty"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	out := statusOutput{Server: cc.Cfg.APIURL, SyncPID: runningPID(cc.Cfg.PIDPath)}

	st, err := openStore(ctx, cc)
	if err != nil {
		return err
	}
	defer st.Close()

	snap, err := st.LoadStatus(ctx)
	if err != nil {
		return err
	}

	out.Status = string(snap.Status)
	out.LastError = snap.LastError

	if !snap.LastSyncAt.IsZero() {
		at := snap.LastSyncAt
		out.LastSyncAt = &at
	}

	sess, err := openSession(cc)
	switch {
	case errors.Is(err, errNotSignedIn):
	case err != nil:
		return err
	default:
		out.LoggedIn = true
		out.Email = sess.Email()

		if err := countLocal(ctx, st, sess.OwnerID(), &out); err != nil {
			return err
		}
	}

	if cc.Flags.JSON {
		return printJSON(cc.Stdout, out)
	}

	printStatusText(cc, &out)

	return nil
}

func countLocal(ctx context.Context, st *store.Store, owner string, out *statusOutput) error {
	all, err := st.ListRecipes(ctx, owner)
	if err != nil {
		return err
	}

	for i := range all {
		if !all[i].IsSynced {
			out.Unsynced++
		}
	}

	out.Recipes = len(all)

	tombs, err := st.ListPendingDeletes(ctx, owner)
	if err != nil {
		return err
	}

	out.PendingDeletes = len(tombs)

	return nil
}

func printStatusText(cc *CLIContext, out *statusOutput) {
	w := cc.Stdout

	if out.LoggedIn {
		fmt.Fprintf(w, "Account:    %s\n", out.Email)
	} else {
		fmt.Fprintf(w, "Account:    not logged in\n")
	}

	fmt.Fprintf(w, "Server:     %s\n", out.Server)
	fmt.Fprintf(w, "Status:     %s\n", out.Status)

	if out.LastSyncAt != nil {
		fmt.Fprintf(w, "Last sync:  %s\n", formatTime(*out.LastSyncAt))
	} else {
		fmt.Fprintf(w, "Last sync:  never\n")
	}

	if out.LastError != "" {
		fmt.Fprintf(w, "Last error: %s\n", out.LastError)
	}

	if out.LoggedIn {
		fmt.Fprintf(w, "Recipes:    %d (%d unsynced, %d pending delete(s))\n", out.Recipes, out.Unsynced, out.PendingDeletes)
	}

	if out.SyncPID != 0 {
		fmt.Fprintf(w, "Sync:       running (PID %d)\n", out.SyncPID)
	}
}
