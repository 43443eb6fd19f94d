package settings

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Feed delivers remote change events for the settings row. Any backing
// mechanism (Redis pub/sub, polling, push) can satisfy it; the event
// carries no payload; the adapter re-fetches the full row.
type Feed interface {
	// Subscribe invokes onChange for every change event until ctx is done.
	Subscribe(ctx context.Context, onChange func()) error
}

// Adapter bridges the alert manager to the remote settings row. It loads
// once at construction, keeps a snapshot fresh via the change feed, and
// swaps the whole snapshot atomically; there is no partial update.
type Adapter struct {
	source Source
	logger *zap.Logger

	mu        sync.RWMutex
	snapshot  Settings
	fallback  bool // true while serving Defaults() because the store failed
	listeners []func(Settings)

	cancel context.CancelFunc
	done   chan struct{}
}

// NewAdapter loads the initial snapshot from source. A load failure is
// logged and the adapter starts on Defaults(); it does not fail construction.
func NewAdapter(ctx context.Context, source Source, logger *zap.Logger) *Adapter {
	a := &Adapter{
		source: source,
		logger: logger,
	}

	snap, err := source.Load(ctx)
	if err != nil {
		logger.Warn("settings load failed, using defaults", zap.Error(err))
		snap = Defaults()
		a.fallback = true
	}
	a.snapshot = snap

	return a
}

// Watch subscribes to the change feed in a background goroutine. Each
// event triggers a full re-fetch. A nil feed is a no-op (refresh-only mode).
func (a *Adapter) Watch(feed Feed) {
	if feed == nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.done = make(chan struct{})

	go func() {
		defer close(a.done)
		err := feed.Subscribe(ctx, func() {
			if err := a.Refresh(context.Background()); err != nil {
				a.logger.Warn("settings refresh after change event failed", zap.Error(err))
			}
		})
		if err != nil && ctx.Err() == nil {
			a.logger.Error("settings feed terminated", zap.Error(err))
		}
	}()
}

// Close stops the feed subscription, if any.
func (a *Adapter) Close() {
	if a.cancel != nil {
		a.cancel()
		<-a.done
	}
}

// Current returns the latest snapshot. Reads during an in-flight refresh
// see the previous, internally consistent snapshot.
func (a *Adapter) Current() Settings {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snapshot
}

// UsingDefaults reports whether the adapter is serving the hardcoded
// fallback because the last load failed.
func (a *Adapter) UsingDefaults() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.fallback
}

// Refresh re-fetches the row and swaps the snapshot. On error the previous
// snapshot is kept, so a slow or failed fetch never leaves partial state.
func (a *Adapter) Refresh(ctx context.Context) error {
	snap, err := a.source.Load(ctx)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.snapshot = snap
	a.fallback = false
	fns := make([]func(Settings), len(a.listeners))
	copy(fns, a.listeners)
	a.mu.Unlock()

	a.logger.Info("settings snapshot refreshed",
		zap.Bool("enabled", snap.Enabled),
		zap.Float64("master_volume", snap.MasterVolume),
		zap.Int("max_notifications", snap.MaxNotifications),
	)

	for _, fn := range fns {
		fn(snap)
	}
	return nil
}

// OnChange registers a listener invoked with each new snapshot after a
// successful refresh.
func (a *Adapter) OnChange(fn func(Settings)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, fn)
}
