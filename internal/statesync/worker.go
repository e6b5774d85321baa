package statesync

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/kbuck1/navilink/internal/navilink"
)

const (
	defaultBufferSize    = 256
	defaultPruneInterval = 6 * time.Hour
	sinkTimeout          = 5 * time.Second

	// ChannelStateChanged is the WebSocket channel for snapshots.
	ChannelStateChanged = "device.state_changed"
)

// History source values, matching the device package.
const (
	SourcePoll    = "poll"
	SourceCommand = "command"
	SourceConnect = "connect"
)

// HistoryStore persists snapshots and prunes old ones.
type HistoryStore interface {
	Record(ctx context.Context, snap navilink.Snapshot, source string) error
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}

// TelemetryWriter queues a snapshot for the time-series database.
type TelemetryWriter interface {
	WriteDeviceStatus(snap navilink.Snapshot)
}

// Broadcaster pushes a payload to WebSocket subscribers of a channel.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// StatePublisher forwards a snapshot to the message bus.
type StatePublisher interface {
	PublishState(snap navilink.Snapshot) error
}

// SnapshotObserver receives every snapshot, typically for gauges.
type SnapshotObserver interface {
	ObserveSnapshot(snap navilink.Snapshot)
}

// Options configures a Worker. Every sink is optional.
type Options struct {
	Registry *navilink.Registry

	History     HistoryStore
	Telemetry   TelemetryWriter
	Broadcaster Broadcaster
	Publisher   StatePublisher
	Metrics     SnapshotObserver

	// Retention enables periodic history pruning when positive.
	Retention     time.Duration
	PruneInterval time.Duration

	BufferSize int
	Clock      clock.Clock
	Logger     navilink.Logger
}

// Update is one queued snapshot.
type Update struct {
	Snapshot navilink.Snapshot
	Source   string
}

// Worker receives device updates from the registry and fans them out to
// the configured sinks on its own goroutine, so registry callbacks (which
// run on the link's dispatch path) never block on I/O.
//
// Metrics and telemetry see every snapshot. History, WebSocket and NATS only
// see snapshots whose content changed since the last one for that device.
type Worker struct {
	opts   Options
	clock  clock.Clock
	logger navilink.Logger
	queue  chan Update

	mu          sync.Mutex
	last        map[string][]byte
	available   map[string]bool
	pendingCmds map[string]bool

	dropped     atomic.Uint64
	unsubscribe func()
	cancel      context.CancelFunc
	group       *errgroup.Group
}

// New creates a Worker. Start must be called to begin processing.
func New(opts Options) *Worker {
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	if opts.PruneInterval <= 0 {
		opts.PruneInterval = defaultPruneInterval
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger := opts.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	return &Worker{
		opts:        opts,
		clock:       clk,
		logger:      logger,
		queue:       make(chan Update, opts.BufferSize),
		last:        make(map[string][]byte),
		available:   make(map[string]bool),
		pendingCmds: make(map[string]bool),
	}
}

// Start subscribes to the registry and launches the processing and prune
// goroutines. They stop when ctx is cancelled or Stop is called.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	w.group = g

	g.Go(func() error { return w.run(gctx) })
	if w.opts.History != nil && w.opts.Retention > 0 {
		g.Go(func() error { return w.pruneLoop(gctx) })
	}

	if w.opts.Registry != nil {
		w.unsubscribe = w.opts.Registry.SubscribeAll(func(d *navilink.DeviceSession) {
			w.Enqueue(d.Snapshot())
		})
	}
	w.logger.Info("state sync started", "buffer", w.opts.BufferSize)
}

// Stop unsubscribes, drains what is already queued and waits for the
// goroutines to exit.
func (w *Worker) Stop() {
	if w.unsubscribe != nil {
		w.unsubscribe()
		w.unsubscribe = nil
	}
	if w.cancel != nil {
		w.cancel()
	}
	if w.group != nil {
		if err := w.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Warn("state sync stopped with error", "error", err)
		}
	}
}

// ExpectCommand marks the next update for id as caused by a command.
func (w *Worker) ExpectCommand(id string) {
	w.mu.Lock()
	w.pendingCmds[id] = true
	w.mu.Unlock()
}

// Dropped returns how many updates were discarded because the queue was
// full.
func (w *Worker) Dropped() uint64 {
	return w.dropped.Load()
}

// Enqueue queues a snapshot without blocking. When the queue is full the
// update is dropped; the next poll brings a fresh one.
func (w *Worker) Enqueue(snap navilink.Snapshot) {
	u := Update{Snapshot: snap, Source: w.sourceFor(snap)}
	select {
	case w.queue <- u:
	default:
		n := w.dropped.Add(1)
		w.logger.Warn("state sync queue full, update dropped", "device_id", snap.ID, "dropped_total", n)
	}
}

// sourceFor classifies an update and records the availability edge.
func (w *Worker) sourceFor(snap navilink.Snapshot) string {
	w.mu.Lock()
	defer w.mu.Unlock()

	wasAvailable := w.available[snap.ID]
	w.available[snap.ID] = snap.Available
	switch {
	case w.pendingCmds[snap.ID]:
		delete(w.pendingCmds, snap.ID)
		return SourceCommand
	case snap.Available && !wasAvailable:
		return SourceConnect
	default:
		return SourcePoll
	}
}

func (w *Worker) run(ctx context.Context) error {
	for {
		select {
		case u := <-w.queue:
			w.process(ctx, u)
		case <-ctx.Done():
			for {
				select {
				case u := <-w.queue:
					w.process(context.Background(), u)
				default:
					return ctx.Err()
				}
			}
		}
	}
}

// process delivers one update to every sink. Sink errors are logged and
// never stop the worker.
func (w *Worker) process(ctx context.Context, u Update) {
	snap := u.Snapshot

	if w.opts.Metrics != nil {
		w.opts.Metrics.ObserveSnapshot(snap)
	}
	if w.opts.Telemetry != nil {
		w.opts.Telemetry.WriteDeviceStatus(snap)
	}

	if !w.changed(snap) && u.Source == SourcePoll {
		return
	}

	if w.opts.History != nil {
		hctx, cancel := context.WithTimeout(ctx, sinkTimeout)
		if err := w.opts.History.Record(hctx, snap, u.Source); err != nil {
			w.logger.Warn("state history write failed", "device_id", snap.ID, "error", err)
		}
		cancel()
	}
	if w.opts.Broadcaster != nil {
		w.opts.Broadcaster.Broadcast(ChannelStateChanged, snap)
	}
	if w.opts.Publisher != nil {
		if err := w.opts.Publisher.PublishState(snap); err != nil {
			w.logger.Warn("state forward failed", "device_id", snap.ID, "error", err)
		}
	}
	w.logger.Debug("state change delivered", "device_id", snap.ID, "source", u.Source)
}

// changed reports whether snap differs from the last processed snapshot
// for the same id, ignoring the update timestamp.
func (w *Worker) changed(snap navilink.Snapshot) bool {
	snap.UpdatedAt = time.Time{}
	fingerprint, err := json.Marshal(snap)
	if err != nil {
		return true
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if prev, ok := w.last[snap.ID]; ok && string(prev) == string(fingerprint) {
		return false
	}
	w.last[snap.ID] = fingerprint
	return true
}

func (w *Worker) pruneLoop(ctx context.Context) error {
	ticker := w.clock.Ticker(w.opts.PruneInterval)
	defer ticker.Stop()

	w.prune(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.prune(ctx)
		}
	}
}

func (w *Worker) prune(ctx context.Context) {
	removed, err := w.opts.History.Prune(ctx, w.opts.Retention)
	if err != nil {
		w.logger.Warn("state history prune failed", "error", err)
		return
	}
	if removed > 0 {
		w.logger.Info("state history pruned", "removed", removed, "retention", w.opts.Retention)
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
