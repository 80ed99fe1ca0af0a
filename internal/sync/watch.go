package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/recipevault/internal/remote"
	"github.com/tonimelisma/recipevault/internal/store"
)

// Watch defaults.
const (
	DefaultInterval = 15 * time.Minute
	DefaultDebounce = 2 * time.Second
)

// Trigger reasons reported to WatchOpts.OnPass.
const (
	TriggerStartup   = "startup"
	TriggerPeriodic  = "periodic"
	TriggerLocal     = "local-change"
	TriggerReconnect = "reconnect"
	TriggerRemote    = "remote-change"
	TriggerManual    = "manual"
)

// WatchOpts configures Watch.
type WatchOpts struct {
	// Interval between periodic passes. Zero means DefaultInterval.
	Interval time.Duration
	// Debounce collapses bursts of store writes. Zero means DefaultDebounce.
	Debounce time.Duration
	// StorePath is the SQLite file whose writes trigger a pass. Empty
	// disables the local-change trigger.
	StorePath string
	// Notifier reports reconnects and remote changes. Nil disables both
	// triggers.
	Notifier Notifier
	// Kick requests an immediate pass, e.g. from a signal handler. Nil
	// disables the manual trigger.
	Kick <-chan struct{}
	// OnPass, if set, is called after every pass that was not skipped.
	OnPass func(trigger string, report *PassReport, err error)
}

// Watch runs passes until ctx is canceled. Every trigger goes through the
// same guard, so a trigger that fires while a pass runs is dropped, never
// queued.
func (e *Engine) Watch(ctx context.Context, opts WatchOpts) error {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	e.logger.Info("watch mode starting",
		slog.Duration("interval", interval),
		slog.Duration("debounce", debounce),
		slog.Bool("store_trigger", opts.StorePath != ""),
		slog.Bool("notifier", opts.Notifier != nil),
	)

	// Register the store watch before the startup pass so no edit made
	// after that pass goes unnoticed.
	var watcher *fsnotify.Watcher

	if opts.StorePath != "" {
		var err error

		watcher, err = fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("sync: creating store watcher: %w", err)
		}

		if err := watcher.Add(filepath.Dir(opts.StorePath)); err != nil {
			watcher.Close()
			return fmt.Errorf("sync: watching %s: %w", filepath.Dir(opts.StorePath), err)
		}
	}

	e.trigger(ctx, TriggerStartup, opts.OnPass)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return e.periodicLoop(gctx, interval, opts.OnPass)
	})

	if watcher != nil {
		g.Go(func() error {
			defer watcher.Close()
			return e.storeLoop(gctx, watcher, opts.StorePath, debounce, opts.OnPass)
		})
	}

	if opts.Kick != nil {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case _, ok := <-opts.Kick:
					if !ok {
						return nil
					}

					e.trigger(gctx, TriggerManual, opts.OnPass)
				}
			}
		})
	}

	if opts.Notifier != nil {
		g.Go(func() error {
			return opts.Notifier.Run(gctx, func(reason string) {
				// The notifier's read loop must not block on a pass.
				if e.guard.Running() {
					return
				}

				g.Go(func() error {
					e.triggerSignal(gctx, reason, opts.OnPass)
					return nil
				})
			})
		})
	}

	err := g.Wait()

	e.logger.Info("watch mode stopped")

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (e *Engine) periodicLoop(ctx context.Context, interval time.Duration, onPass func(string, *PassReport, error)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.trigger(ctx, TriggerPeriodic, onPass)
		}
	}
}

// storeLoop debounces writes to the store file and its WAL. After the
// debounce it compares the pending watermark with the last one seen, so the
// engine's own writes (identifier rewrites, synced flags, status rows) do
// not keep re-triggering passes.
func (e *Engine) storeLoop(
	ctx context.Context, watcher *fsnotify.Watcher, storePath string,
	debounce time.Duration, onPass func(string, *PassReport, error),
) error {
	base := filepath.Base(storePath)

	var (
		timer    *time.Timer
		fire     <-chan time.Time
		lastSeen store.Watermark
	)

	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if !isStoreFile(filepath.Base(ev.Name), base) || (!ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create)) {
				continue
			}

			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}

			fire = timer.C

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			e.logger.Warn("store watcher error", slog.String("error", err.Error()))

		case <-fire:
			fire = nil

			owner := ""
			if e.creds != nil {
				owner = e.creds.OwnerID()
			}

			w, err := e.store.PendingWatermark(ctx, owner)
			if err != nil {
				e.logger.Warn("reading pending watermark", slog.String("error", err.Error()))
				continue
			}

			if w == lastSeen || !w.HasWork() {
				lastSeen = w
				continue
			}

			// A dropped trigger leaves lastSeen alone so the next write
			// retries.
			if e.trigger(ctx, TriggerLocal, onPass) {
				lastSeen = w
			}
		}
	}
}

// isStoreFile matches the database file and its -wal and -journal siblings.
func isStoreFile(name, base string) bool {
	return name == base || strings.HasPrefix(name, base+"-")
}

func (e *Engine) triggerSignal(ctx context.Context, reason string, onPass func(string, *PassReport, error)) {
	switch reason {
	case remote.SignalChanged:
		e.triggerPull(ctx, onPass)
	default:
		e.trigger(ctx, TriggerReconnect, onPass)
	}
}

// trigger attempts a push pass and reports whether it ran.
func (e *Engine) trigger(ctx context.Context, reason string, onPass func(string, *PassReport, error)) bool {
	if ctx.Err() != nil {
		return false
	}

	e.logger.Debug("sync triggered", slog.String("trigger", reason))

	report, err := e.TryRun(ctx)
	if report != nil && report.Skipped {
		return false
	}

	if onPass != nil {
		onPass(reason, report, err)
	}

	return true
}

func (e *Engine) triggerPull(ctx context.Context, onPass func(string, *PassReport, error)) {
	if ctx.Err() != nil {
		return
	}

	e.logger.Debug("sync triggered", slog.String("trigger", TriggerRemote))

	report, err := e.Pull(ctx)
	if report != nil && report.Skipped {
		return
	}

	if onPass != nil {
		onPass(TriggerRemote, report, err)
	}
}
