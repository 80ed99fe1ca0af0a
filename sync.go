package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/recipevault/internal/remote"
	"github.com/tonimelisma/recipevault/internal/sync"
	"github.com/tonimelisma/recipevault/internal/syncstatus"
)

func newSyncCmd() *cobra.Command {
	var (
		watch    bool
		recipeID string
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push local changes to the server",
		Long: `Run one sync pass: every unsynced recipe is created or updated on the
server, local delete requests are sent, and the outcome is recorded for
"recipevault status".

With --watch, keep running and start a pass on a timer, whenever the local
database changes, and whenever the server connection comes back. Sending
SIGHUP to the watcher (or running "recipevault sync" while it runs) starts a
pass immediately.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if watch {
				return runWatch(cmd)
			}

			return runSyncOnce(cmd, recipeID)
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "keep syncing until interrupted")
	cmd.Flags().StringVar(&recipeID, "recipe", "", "sync only this recipe")
	cmd.MarkFlagsMutuallyExclusive("watch", "recipe")

	return cmd
}

func newPullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull",
		Short: "Download recipes from the server",
		Long: `Fetch every recipe from the server into the local database. Recipes with
local changes that have not been pushed yet are left alone.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			return withSyncLock(cc, func() error {
				ss, err := newSyncSession(cmd.Context(), cc)
				if err != nil {
					return err
				}
				defer ss.cleanup()

				report, err := ss.engine.Pull(cmd.Context())
				if err != nil {
					return err
				}

				if cc.Flags.JSON {
					return printJSON(cc.Stdout, newPassView(report, ss))
				}

				cc.Statusf("Pulled %d recipe(s); kept %d with unpushed local changes.\n", report.Pulled, report.PullSkipped)

				return nil
			})
		},
	}
}

// withSyncLock runs fn while holding the data directory's sync lock. When
// another process holds the lock, it is asked to sync instead.
func withSyncLock(cc *CLIContext, fn func() error) error {
	// A concurrent one-shot sync may pass its SIGHUP on to us. The pass we
	// are about to run covers it, so it is absorbed.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)

	defer signal.Stop(hup)

	cleanup, err := writePIDFile(cc.Cfg.PIDPath)
	if errors.Is(err, errSyncRunning) {
		pid, sigErr := sendSIGHUP(cc.Cfg.PIDPath)
		if sigErr != nil {
			return err
		}

		cc.Statusf("A sync process (PID %d) is already running; asked it to sync now.\n", pid)

		return nil
	}

	if err != nil {
		return err
	}
	defer cleanup()

	return fn()
}

func runSyncOnce(cmd *cobra.Command, recipeID string) error {
	cc := mustCLIContext(cmd.Context())

	return withSyncLock(cc, func() error {
		ss, err := newSyncSession(cmd.Context(), cc)
		if err != nil {
			return err
		}
		defer ss.cleanup()

		var report *sync.PassReport

		if recipeID != "" {
			report, err = ss.engine.SyncRecipe(cmd.Context(), recipeID)
		} else {
			report, err = ss.engine.TryRun(cmd.Context())
		}

		if cc.Flags.JSON {
			if jsonErr := printJSON(cc.Stdout, newPassView(report, ss)); jsonErr != nil {
				return jsonErr
			}

			return err
		}

		printPassReport(cc, report)

		snap := ss.status.Snapshot()
		if snap.LastError != "" {
			cc.Statusf("Status: %s (%s)\n", snap.Status, snap.LastError)
		} else {
			cc.Statusf("Status: %s\n", snap.Status)
		}

		return err
	})
}

func printPassReport(cc *CLIContext, report *sync.PassReport) {
	if report == nil {
		return
	}

	cc.Statusf("Synced %d of %d recipe(s), pushed %d delete(s) in %s.\n",
		len(report.Synced), report.Attempted, report.DeletesPushed, report.Duration.Round(time.Millisecond))

	if len(report.Requeued) > 0 {
		cc.Statusf("%d recipe(s) changed during the pass and will be pushed again.\n", len(report.Requeued))
	}

	if len(report.Dropped) > 0 {
		cc.Statusf("%d recipe(s) were deleted during the pass; their remote copies are deleted too.\n", len(report.Dropped))
	}

	for _, f := range report.Failed {
		cc.Statusf("  failed %s: %v\n", f.ID, f.Err)
	}
}

// passView is the JSON schema for sync and pull output.
type passView struct {
	Skipped       bool          `json:"skipped,omitempty"`
	Attempted     int           `json:"attempted"`
	Synced        []string      `json:"synced"`
	Requeued      []string      `json:"requeued,omitempty"`
	Dropped       []string      `json:"dropped,omitempty"`
	Failed        []failureView `json:"failed"`
	DeletesPushed int           `json:"deletes_pushed"`
	Pulled        int           `json:"pulled,omitempty"`
	PullSkipped   int           `json:"pull_skipped,omitempty"`
	DurationMS    int64         `json:"duration_ms"`
	Status        string        `json:"status"`
	LastError     string        `json:"last_error,omitempty"`
}

type failureView struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

func newPassView(report *sync.PassReport, ss *syncSession) passView {
	snap := ss.status.Snapshot()
	v := passView{
		Synced:    []string{},
		Failed:    []failureView{},
		Status:    string(snap.Status),
		LastError: snap.LastError,
	}

	if report == nil {
		return v
	}

	v.Skipped = report.Skipped
	v.Attempted = report.Attempted
	v.Synced = append(v.Synced, report.Synced...)
	v.Requeued = report.Requeued
	v.Dropped = report.Dropped
	v.DeletesPushed = report.DeletesPushed
	v.Pulled = report.Pulled
	v.PullSkipped = report.PullSkipped
	v.DurationMS = report.Duration.Milliseconds()

	for _, f := range report.Failed {
		v.Failed = append(v.Failed, failureView{ID: f.ID, Error: f.Err.Error()})
	}

	return v
}

func runWatch(cmd *cobra.Command) error {
	cc := mustCLIContext(cmd.Context())

	ctx := shutdownContext(cmd.Context(), cc.Logger)

	// Installed before the PID file is visible, so a SIGHUP never finds us
	// without a handler.
	kick := kickOnSIGHUP(ctx)

	cleanup, err := writePIDFile(cc.Cfg.PIDPath)
	if err != nil {
		return err
	}
	defer cleanup()

	ss, err := newSyncSession(ctx, cc)
	if err != nil {
		return err
	}
	defer ss.cleanup()

	updates, unsubscribe := ss.status.Subscribe()
	defer unsubscribe()

	go reportStatusChanges(cc, updates)

	opts := sync.WatchOpts{
		Interval: cc.Cfg.Interval,
		Debounce: cc.Cfg.Debounce,
		Kick:     kick,
		OnPass: func(trigger string, report *sync.PassReport, err error) {
			attrs := []any{slog.String("trigger", trigger)}
			if err != nil {
				attrs = append(attrs, slog.String("error", err.Error()))
			}

			cc.Logger.Info("pass finished", attrs...)

			switch {
			case report == nil:
			case report.Pulled > 0 || report.PullSkipped > 0:
				cc.Statusf("[%s] pulled %d recipe(s)\n", trigger, report.Pulled)
			case report.Attempted > 0 || report.DeletesPushed > 0:
				cc.Statusf("[%s] synced %d of %d recipe(s), %d delete(s)\n",
					trigger, len(report.Synced), report.Attempted, report.DeletesPushed)
			}

		},
	}

	if cc.Cfg.WatchStore {
		opts.StorePath = cc.Cfg.DBPath
	}

	if cc.Cfg.Notifications {
		opts.Notifier = remote.NewNotifier(cc.Cfg.APIURL, ss.auth, cc.Logger)
	}

	cc.Statusf("Watching for changes (every %s). Press Ctrl-C to stop.\n", cc.Cfg.Interval)

	if err := ss.engine.Watch(ctx, opts); err != nil {
		return fmt.Errorf("watch: %w", err)
	}

	return nil
}

// reportStatusChanges tells the user when syncing starts failing and when it
// recovers. Repeated failures stay in the log only.
func reportStatusChanges(cc *CLIContext, updates <-chan syncstatus.Snapshot) {
	failing := false

	for snap := range updates {
		switch snap.Status {
		case syncstatus.Error:
			if !failing {
				cc.Statusf("Sync failing: %s\n", snap.LastError)
			}

			failing = true
		case syncstatus.Success:
			if failing {
				cc.Statusf("Sync recovered at %s.\n", formatTime(snap.LastSyncAt))
			}

			failing = false
		}
	}
}
