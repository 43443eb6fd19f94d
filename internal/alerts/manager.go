package alerts

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/casamarzia/opsbell/internal/metrics"
	"github.com/casamarzia/opsbell/internal/settings"
)

// SettingsProvider is the manager's view of the settings store adapter.
type SettingsProvider interface {
	Current() settings.Settings
	Refresh(ctx context.Context) error
}

// Escalator forwards accepted critical alerts to external channels
// (SMS, email, webhook). Best effort: failures never reach Add's caller.
type Escalator interface {
	Escalate(ctx context.Context, alert Alert)
}

// Manager owns the in-memory alert collection. It is constructed
// explicitly and passed by reference; there is no package-level instance.
// All methods are safe for concurrent use.
type Manager struct {
	provider  SettingsProvider
	escalator Escalator // nil when no escalation targets are configured
	logger    *zap.Logger
	now       func() time.Time

	mu     sync.Mutex
	alerts []*Alert // most-recent-first
	timers map[uuid.UUID]*time.Timer
	subs   map[int]func([]Alert)
	nextID int
	closed bool
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock overrides the wall clock. For tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithEscalator attaches an escalation sink for critical alerts.
func WithEscalator(e Escalator) Option {
	return func(m *Manager) { m.escalator = e }
}

// NewManager creates a manager bound to the given settings provider.
func NewManager(provider SettingsProvider, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		provider: provider,
		logger:   logger,
		now:      time.Now,
		timers:   make(map[uuid.UUID]*time.Timer),
		subs:     make(map[int]func([]Alert)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Add evaluates suppression policy and, if the draft passes, creates the
// alert. Returns (alert, true) on acceptance and (nil, false) when policy
// rejected it. Rejection is a policy outcome, not an error.
//
// Gates, in order: global switch, per-category switch, business-hours
// window. Priority is frozen from the settings snapshot at this instant;
// later settings changes do not touch existing alerts.
func (m *Manager) Add(draft Draft) (*Alert, bool) {
	if !settings.ValidCategory(draft.Category) {
		m.reject(draft.Category, ReasonUnknownCategory)
		return nil, false
	}

	snap := m.provider.Current()
	now := m.now()

	if !snap.Enabled {
		m.reject(draft.Category, ReasonDisabled)
		return nil, false
	}
	pol := snap.Category(draft.Category)
	if !pol.Enabled {
		m.reject(draft.Category, ReasonCategoryDisabled)
		return nil, false
	}
	if !snap.InBusinessHours(now) {
		m.reject(draft.Category, ReasonOutsideBusiness)
		return nil, false
	}

	alert := &Alert{
		ID:          uuid.New(),
		Category:    draft.Category,
		Priority:    pol.Priority,
		Title:       draft.Title,
		Message:     draft.Message,
		Data:        draft.Data,
		ActionURL:   draft.ActionURL,
		ActionLabel: draft.ActionLabel,
		CreatedAt:   now,
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, false
	}

	m.alerts = append([]*Alert{alert}, m.alerts...)
	for len(m.alerts) > snap.MaxNotifications && snap.MaxNotifications > 0 {
		evicted := m.alerts[len(m.alerts)-1]
		m.alerts = m.alerts[:len(m.alerts)-1]
		m.stopTimerLocked(evicted.ID)
		metrics.RecordAlertEvicted()
	}

	persist := snap.PersistCritical && alert.Priority == settings.PriorityCritical
	if !persist && snap.AutoMarkReadDelay > 0 {
		id := alert.ID
		m.timers[id] = time.AfterFunc(snap.AutoMarkReadDelay, func() {
			m.autoRead(id)
		})
	}

	snapCopy, fns := m.snapshotLocked()
	m.mu.Unlock()

	m.logger.Info("alert accepted",
		zap.String("id", alert.ID.String()),
		zap.String("category", alert.Category),
		zap.String("priority", alert.Priority),
	)
	metrics.RecordAlertCreated(alert.Category, alert.Priority)

	m.broadcast(snapCopy, fns)

	if m.escalator != nil && alert.Priority == settings.PriorityCritical {
		a := *alert
		go m.escalator.Escalate(context.Background(), a)
	}

	return alert, true
}

// SuppressionReason reports which gate would reject the category right
// now, or "" when a draft would be accepted. The HTTP surface uses it to
// explain a rejected submission.
func (m *Manager) SuppressionReason(category string) string {
	if !settings.ValidCategory(category) {
		return ReasonUnknownCategory
	}
	snap := m.provider.Current()
	if !snap.Enabled {
		return ReasonDisabled
	}
	if !snap.Category(category).Enabled {
		return ReasonCategoryDisabled
	}
	if !snap.InBusinessHours(m.now()) {
		return ReasonOutsideBusiness
	}
	return ""
}

func (m *Manager) reject(category, reason string) {
	m.logger.Debug("alert suppressed",
		zap.String("category", category),
		zap.String("reason", reason),
	)
	metrics.RecordAlertSuppressed(category, reason)
}

// Notifications returns a copy of the collection, most-recent-first.
func (m *Manager) Notifications() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alert, len(m.alerts))
	for i, a := range m.alerts {
		out[i] = *a
	}
	return out
}

// UnreadCount returns the number of unread alerts.
func (m *Manager) UnreadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.alerts {
		if !a.Read {
			n++
		}
	}
	return n
}

// MarkRead marks one alert read. Unknown ids are a silent no-op; marking
// an already-read alert does not re-notify subscribers.
func (m *Manager) MarkRead(id uuid.UUID) {
	m.mu.Lock()
	var changed bool
	for _, a := range m.alerts {
		if a.ID == id && !a.Read {
			a.Read = true
			changed = true
			m.stopTimerLocked(id)
			break
		}
	}
	if !changed {
		m.mu.Unlock()
		return
	}
	snap, fns := m.snapshotLocked()
	m.mu.Unlock()
	m.broadcast(snap, fns)
}

// MarkAllRead marks every alert read. No-op when nothing is unread.
func (m *Manager) MarkAllRead() {
	m.mu.Lock()
	var changed bool
	for _, a := range m.alerts {
		if !a.Read {
			a.Read = true
			changed = true
			m.stopTimerLocked(a.ID)
		}
	}
	if !changed {
		m.mu.Unlock()
		return
	}
	snap, fns := m.snapshotLocked()
	m.mu.Unlock()
	m.broadcast(snap, fns)
}

// Dismiss removes the alert permanently and cancels its auto-read timer.
// Unknown ids are a silent no-op.
func (m *Manager) Dismiss(id uuid.UUID) {
	m.mu.Lock()
	idx := -1
	for i, a := range m.alerts {
		if a.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		return
	}
	m.alerts = append(m.alerts[:idx], m.alerts[idx+1:]...)
	m.stopTimerLocked(id)
	snap, fns := m.snapshotLocked()
	m.mu.Unlock()
	m.broadcast(snap, fns)
}

// Clear empties the collection and cancels all timers.
func (m *Manager) Clear() {
	m.mu.Lock()
	for id := range m.timers {
		m.stopTimerLocked(id)
	}
	m.alerts = nil
	snap, fns := m.snapshotLocked()
	m.mu.Unlock()
	m.broadcast(snap, fns)
}

// Subscribe registers a listener invoked with a full snapshot after every
// mutation. The returned function removes the listener. Callbacks run on
// the mutating goroutine; keep them short.
func (m *Manager) Subscribe(fn func([]Alert)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.mu.Unlock()

	metrics.SetSubscribers(m.subscriberCount())

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
		metrics.SetSubscribers(m.subscriberCount())
	}
}

func (m *Manager) subscriberCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// RefreshSettings forces a re-fetch of the settings snapshot.
func (m *Manager) RefreshSettings(ctx context.Context) error {
	return m.provider.Refresh(ctx)
}

// ShouldPlaySound decides whether an alert of this category is audible
// right now: master switches, per-category sound flag, and quiet-hours
// muting all apply.
func (m *Manager) ShouldPlaySound(category string) bool {
	snap := m.provider.Current()
	if !snap.Enabled || !snap.SoundEnabled {
		return false
	}
	if !snap.Category(category).Sound {
		return false
	}
	if snap.InQuietHours(m.now()) && snap.QuietHours.MuteSound {
		return false
	}
	return true
}

// ShouldShowToast decides whether a toast should pop for this category.
// During quiet hours with toast reduction on, only critical-priority
// categories toast.
func (m *Manager) ShouldShowToast(category string) bool {
	snap := m.provider.Current()
	if !snap.Enabled || !snap.ShowToasts {
		return false
	}
	pol := snap.Category(category)
	if !pol.Toast {
		return false
	}
	if snap.InQuietHours(m.now()) && snap.QuietHours.ReduceToasts {
		return pol.Priority == settings.PriorityCritical
	}
	return true
}

// MasterVolume returns the configured playback volume in [0, 1].
func (m *Manager) MasterVolume() float64 {
	return m.provider.Current().MasterVolume
}

// PriorityFor returns the priority the current settings would assign to a
// new alert of this category.
func (m *Manager) PriorityFor(category string) string {
	return m.provider.Current().Category(category).Priority
}

// Close cancels outstanding timers and drops all subscribers. The manager
// must not be used after Close.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for id := range m.timers {
		m.stopTimerLocked(id)
	}
	m.subs = make(map[int]func([]Alert))
}

// autoRead is the auto-read timer callback. The timer was cancelled on
// dismiss/mark-read, so a missing or already-read id means the race was
// lost; nothing to do.
func (m *Manager) autoRead(id uuid.UUID) {
	m.mu.Lock()
	delete(m.timers, id)
	var changed bool
	for _, a := range m.alerts {
		if a.ID == id && !a.Read {
			a.Read = true
			changed = true
			break
		}
	}
	if !changed {
		m.mu.Unlock()
		return
	}
	snap, fns := m.snapshotLocked()
	m.mu.Unlock()

	metrics.RecordAutoRead()
	m.broadcast(snap, fns)
}

// stopTimerLocked cancels and forgets the timer for id, if any.
func (m *Manager) stopTimerLocked(id uuid.UUID) {
	if t, ok := m.timers[id]; ok {
		t.Stop()
		delete(m.timers, id)
	}
}

// snapshotLocked copies the collection and subscriber list under the lock
// so callbacks can run without holding it.
func (m *Manager) snapshotLocked() ([]Alert, []func([]Alert)) {
	snap := make([]Alert, len(m.alerts))
	for i, a := range m.alerts {
		snap[i] = *a
	}
	fns := make([]func([]Alert), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	return snap, fns
}

func (m *Manager) broadcast(snap []Alert, fns []func([]Alert)) {
	for _, fn := range fns {
		fn(snap)
	}
}
