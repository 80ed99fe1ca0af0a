// Package syncstatus publishes the process-wide state of the sync engine:
// idle, syncing, success or error, along with the time of the last successful
// pass and the last error message.
package syncstatus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Status is the coarse state shown to users.
type Status string

const (
	Idle    Status = "idle"
	Syncing Status = "syncing"
	Success Status = "success"
	Error   Status = "error"
)

// ParseStatus validates a persisted status string.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case Idle, Syncing, Success, Error:
		return st, nil
	default:
		return "", fmt.Errorf("syncstatus: unknown status %q", s)
	}
}

// Snapshot is an immutable copy of the published state.
type Snapshot struct {
	Status     Status
	LastSyncAt time.Time // zero until the first successful pass
	LastError  string
}

// Sink persists snapshots so "status" can report the last pass from another
// process. The store implements it.
type Sink interface {
	SaveStatus(ctx context.Context, snap Snapshot) error
}

// Publisher holds the current snapshot and fans changes out to subscribers.
// Safe for concurrent use.
type Publisher struct {
	mu      sync.Mutex
	snap    Snapshot
	subs    map[int]chan Snapshot
	nextSub int

	sink    Sink
	logger  *slog.Logger
	nowFunc func() time.Time
}

// NewPublisher starts from initial. An empty status becomes Idle. sink may
// be nil.
func NewPublisher(initial Snapshot, sink Sink, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}

	if initial.Status == "" {
		initial.Status = Idle
	}

	return &Publisher{
		snap:    initial,
		subs:    make(map[int]chan Snapshot),
		sink:    sink,
		logger:  logger,
		nowFunc: time.Now,
	}
}

// Snapshot returns the current state.
func (p *Publisher) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.snap
}

// Begin moves to Syncing. The previous error and last sync time stay visible
// until the pass ends.
func (p *Publisher) Begin(ctx context.Context) {
	p.transition(ctx, func(s *Snapshot) {
		s.Status = Syncing
	})
}

// Succeed moves to Success, clears the error and stamps the sync time.
func (p *Publisher) Succeed(ctx context.Context) {
	now := p.nowFunc()

	p.transition(ctx, func(s *Snapshot) {
		s.Status = Success
		s.LastSyncAt = now
		s.LastError = ""
	})
}

// Fail moves to Error with a single summary message.
func (p *Publisher) Fail(ctx context.Context, msg string) {
	p.transition(ctx, func(s *Snapshot) {
		s.Status = Error
		s.LastError = msg
	})
}

// Subscribe returns a channel that receives every new snapshot, and a cancel
// func that closes it. A slow subscriber only sees the latest value: pending
// snapshots are replaced, never queued.
func (p *Publisher) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	p.mu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = ch
	p.mu.Unlock()

	var once sync.Once

	cancel := func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, id)
			p.mu.Unlock()
			close(ch)
		})
	}

	return ch, cancel
}

func (p *Publisher) transition(ctx context.Context, mutate func(*Snapshot)) {
	p.mu.Lock()
	mutate(&p.snap)
	snap := p.snap

	for _, ch := range p.subs {
		deliverLatest(ch, snap)
	}
	p.mu.Unlock()

	p.logger.Debug("sync status changed",
		slog.String("status", string(snap.Status)),
		slog.String("last_error", snap.LastError),
	)

	if p.sink == nil {
		return
	}

	if err := p.sink.SaveStatus(ctx, snap); err != nil {
		p.logger.Warn("persisting sync status failed", slog.String("error", err.Error()))
	}
}

// deliverLatest performs a non-blocking send, dropping any stale value still
// buffered. Callers hold p.mu, so no other sender races on ch.
func deliverLatest(ch chan Snapshot, snap Snapshot) {
	select {
	case ch <- snap:
		return
	default:
	}

	select {
	case <-ch:
	default:
	}

	select {
	case ch <- snap:
	default:
	}
}
