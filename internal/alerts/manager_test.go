package alerts

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/casamarzia/opsbell/internal/settings"
)

// staticProvider serves a fixed settings snapshot and counts refreshes.
type staticProvider struct {
	mu        sync.Mutex
	snap      settings.Settings
	refreshes int
}

func (p *staticProvider) Current() settings.Settings {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap
}

func (p *staticProvider) Refresh(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshes++
	return nil
}

func (p *staticProvider) set(snap settings.Settings) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snap = snap
}

func newTestManager(t *testing.T, snap settings.Settings, opts ...Option) (*Manager, *staticProvider) {
	t.Helper()
	p := &staticProvider{snap: snap}
	m := NewManager(p, zap.NewNop(), opts...)
	t.Cleanup(m.Close)
	return m, p
}

func fixedClock(hhmmss string) func() time.Time {
	c := settings.MustClock(hhmmss)
	at := time.Date(2026, 3, 14, int(c)/3600, int(c)%3600/60, int(c)%60, 0, time.UTC)
	return func() time.Time { return at }
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestAdd_AcceptsWithDefaults(t *testing.T) {
	m, _ := newTestManager(t, settings.Defaults())

	alert, ok := m.Add(Draft{
		Category: settings.CategoryVIPBooking,
		Title:    "VIP booking",
		Message:  "Table for 6 at 20:00",
	})
	if !ok {
		t.Fatal("expected alert to be accepted")
	}
	if alert.Priority != settings.PriorityCritical {
		t.Errorf("vip_booking priority = %s, want critical", alert.Priority)
	}
	if !m.ShouldPlaySound(settings.CategoryVIPBooking) {
		t.Error("sound should be allowed for vip_booking under defaults")
	}
	if got := m.UnreadCount(); got != 1 {
		t.Errorf("unread count = %d, want 1", got)
	}
}

func TestAdd_RejectsWhenGloballyDisabled(t *testing.T) {
	snap := settings.Defaults()
	snap.Enabled = false
	m, _ := newTestManager(t, snap)

	if _, ok := m.Add(Draft{Category: settings.CategoryNewBooking, Title: "x"}); ok {
		t.Fatal("expected rejection when notifications are disabled")
	}
	if got := len(m.Notifications()); got != 0 {
		t.Errorf("collection length = %d, want 0", got)
	}
}

func TestAdd_RejectsDisabledCategories(t *testing.T) {
	for _, cat := range settings.Categories() {
		snap := settings.Defaults()
		pol := snap.Categories[cat]
		pol.Enabled = false
		snap.Categories[cat] = pol
		m, _ := newTestManager(t, snap)

		if _, ok := m.Add(Draft{Category: cat, Title: "t"}); ok {
			t.Errorf("category %s: expected rejection when disabled", cat)
		}
		if got := len(m.Notifications()); got != 0 {
			t.Errorf("category %s: collection changed on rejection", cat)
		}
	}
}

func TestAdd_RejectsUnknownCategory(t *testing.T) {
	m, _ := newTestManager(t, settings.Defaults())
	if _, ok := m.Add(Draft{Category: "fax_received", Title: "x"}); ok {
		t.Fatal("expected rejection for unknown category")
	}
}

func TestSuppressionReason(t *testing.T) {
	m, p := newTestManager(t, settings.Defaults())

	if got := m.SuppressionReason("fax_received"); got != ReasonUnknownCategory {
		t.Errorf("unknown category reason = %q", got)
	}
	if got := m.SuppressionReason(settings.CategoryNewBooking); got != "" {
		t.Errorf("enabled category reason = %q, want empty", got)
	}

	snap := settings.Defaults()
	snap.Enabled = false
	p.set(snap)
	if got := m.SuppressionReason(settings.CategoryNewBooking); got != ReasonDisabled {
		t.Errorf("disabled reason = %q", got)
	}

	snap = settings.Defaults()
	pol := snap.Categories[settings.CategoryCancellation]
	pol.Enabled = false
	snap.Categories[settings.CategoryCancellation] = pol
	p.set(snap)
	if got := m.SuppressionReason(settings.CategoryCancellation); got != ReasonCategoryDisabled {
		t.Errorf("category disabled reason = %q", got)
	}
}

func TestAdd_BusinessHoursGate(t *testing.T) {
	snap := settings.Defaults()
	snap.BusinessHours.Only = true
	snap.BusinessHours.Window = settings.Window{
		Start: settings.MustClock("09:00:00"),
		End:   settings.MustClock("23:00:00"),
	}

	m, _ := newTestManager(t, snap, WithClock(fixedClock("03:00:00")))
	if _, ok := m.Add(Draft{Category: settings.CategoryNewBooking, Title: "late"}); ok {
		t.Fatal("expected rejection outside business hours")
	}

	m2, _ := newTestManager(t, snap, WithClock(fixedClock("12:00:00")))
	if _, ok := m2.Add(Draft{Category: settings.CategoryNewBooking, Title: "lunch"}); !ok {
		t.Fatal("expected acceptance inside business hours")
	}
}

func TestAdd_PriorityFrozenAtCreation(t *testing.T) {
	m, p := newTestManager(t, settings.Defaults())

	alert, ok := m.Add(Draft{Category: settings.CategoryNewBooking, Title: "t"})
	if !ok {
		t.Fatal("expected acceptance")
	}
	if alert.Priority != settings.PriorityMedium {
		t.Fatalf("priority = %s, want medium", alert.Priority)
	}

	snap := settings.Defaults()
	pol := snap.Categories[settings.CategoryNewBooking]
	pol.Priority = settings.PriorityCritical
	snap.Categories[settings.CategoryNewBooking] = pol
	p.set(snap)

	got := m.Notifications()
	if got[0].Priority != settings.PriorityMedium {
		t.Errorf("existing alert priority changed to %s after settings update", got[0].Priority)
	}
	if m.PriorityFor(settings.CategoryNewBooking) != settings.PriorityCritical {
		t.Error("PriorityFor should reflect the new settings")
	}
}

func TestRetentionCap_EvictsOldest(t *testing.T) {
	snap := settings.Defaults()
	snap.MaxNotifications = 3
	snap.PersistCritical = false
	snap.AutoMarkReadDelay = 0
	m, _ := newTestManager(t, snap)

	var first *Alert
	for i := 0; i < 5; i++ {
		a, ok := m.Add(Draft{Category: settings.CategoryNewBooking, Title: "b"})
		if !ok {
			t.Fatal("expected acceptance")
		}
		if i == 0 {
			first = a
		}
	}

	got := m.Notifications()
	if len(got) != 3 {
		t.Fatalf("collection length = %d, want 3", len(got))
	}
	for _, a := range got {
		if a.ID == first.ID {
			t.Error("oldest alert should have been evicted")
		}
	}
	// Most-recent-first ordering.
	for i := 1; i < len(got); i++ {
		if got[i].CreatedAt.After(got[i-1].CreatedAt) {
			t.Error("collection not ordered most-recent-first")
		}
	}
}

func TestQuietHours_MutesSound(t *testing.T) {
	snap := settings.Defaults()
	snap.QuietHours.Enabled = true
	snap.QuietHours.MuteSound = true
	snap.QuietHours.Window = settings.Window{
		Start: settings.MustClock("22:00:00"),
		End:   settings.MustClock("08:00:00"),
	}

	in := newManagerAt(t, snap, "23:30:00")
	if in.ShouldPlaySound(settings.CategoryNewBooking) {
		t.Error("sound should be muted at 23:30 inside quiet hours")
	}

	out := newManagerAt(t, snap, "12:00:00")
	if !out.ShouldPlaySound(settings.CategoryNewBooking) {
		t.Error("sound should play at 12:00 outside quiet hours")
	}
}

func newManagerAt(t *testing.T, snap settings.Settings, hhmmss string) *Manager {
	t.Helper()
	m, _ := newTestManager(t, snap, WithClock(fixedClock(hhmmss)))
	return m
}

func TestQuietHours_ReducesToastsToCritical(t *testing.T) {
	snap := settings.Defaults()
	snap.QuietHours.Enabled = true
	snap.QuietHours.ReduceToasts = true
	snap.QuietHours.Window = settings.Window{
		Start: settings.MustClock("22:00:00"),
		End:   settings.MustClock("08:00:00"),
	}
	m := newManagerAt(t, snap, "07:00:00")

	if !m.ShouldShowToast(settings.CategoryVIPBooking) {
		t.Error("critical category should still toast during quiet hours")
	}
	if !m.ShouldShowToast(settings.CategorySystemAlert) {
		t.Error("critical category should still toast during quiet hours")
	}
	for _, cat := range []string{
		settings.CategoryNewBooking,   // medium
		settings.CategoryCancellation, // high
		settings.CategoryCustomerMessage, // low
	} {
		if m.ShouldShowToast(cat) {
			t.Errorf("%s should not toast during quiet hours", cat)
		}
	}
}

func TestAutoRead_MarksAfterDelay(t *testing.T) {
	snap := settings.Defaults()
	snap.AutoMarkReadDelay = 30 * time.Millisecond
	m, _ := newTestManager(t, snap)

	alert, ok := m.Add(Draft{Category: settings.CategoryNewBooking, Title: "t"})
	if !ok {
		t.Fatal("expected acceptance")
	}
	if m.Notifications()[0].Read {
		t.Fatal("alert should start unread")
	}

	waitFor(t, 2*time.Second, func() bool {
		for _, a := range m.Notifications() {
			if a.ID == alert.ID {
				return a.Read
			}
		}
		return false
	})
	if got := m.UnreadCount(); got != 0 {
		t.Errorf("unread count = %d after auto-read, want 0", got)
	}
}

func TestAutoRead_SkipsPersistedCritical(t *testing.T) {
	snap := settings.Defaults()
	snap.AutoMarkReadDelay = 20 * time.Millisecond
	snap.PersistCritical = true
	m, _ := newTestManager(t, snap)

	alert, ok := m.Add(Draft{Category: settings.CategoryVIPBooking, Title: "vip"})
	if !ok {
		t.Fatal("expected acceptance")
	}

	time.Sleep(100 * time.Millisecond)
	for _, a := range m.Notifications() {
		if a.ID == alert.ID && a.Read {
			t.Fatal("persisted critical alert must stay unread until marked manually")
		}
	}

	m.MarkRead(alert.ID)
	if got := m.UnreadCount(); got != 0 {
		t.Errorf("unread count = %d after manual mark, want 0", got)
	}
}

func TestDismiss_CancelsAutoRead(t *testing.T) {
	snap := settings.Defaults()
	snap.AutoMarkReadDelay = 30 * time.Millisecond
	m, _ := newTestManager(t, snap)

	alert, _ := m.Add(Draft{Category: settings.CategoryNewBooking, Title: "t"})
	m.Dismiss(alert.ID)

	if got := len(m.Notifications()); got != 0 {
		t.Fatalf("collection length = %d after dismiss, want 0", got)
	}

	// Timer must not resurrect or panic after the alert is gone.
	time.Sleep(80 * time.Millisecond)
	if got := len(m.Notifications()); got != 0 {
		t.Errorf("collection length = %d after timer window, want 0", got)
	}
}

func TestDismiss_UnknownIDIsNoOp(t *testing.T) {
	m, _ := newTestManager(t, settings.Defaults())
	m.Add(Draft{Category: settings.CategoryNewBooking, Title: "t"})

	m.Dismiss(uuid.New())
	m.MarkRead(uuid.New())

	if got := len(m.Notifications()); got != 1 {
		t.Errorf("collection length = %d, want 1", got)
	}
}

func TestMarkAllRead(t *testing.T) {
	snap := settings.Defaults()
	snap.AutoMarkReadDelay = 0
	m, _ := newTestManager(t, snap)

	for i := 0; i < 3; i++ {
		m.Add(Draft{Category: settings.CategoryNewBooking, Title: "t"})
	}
	m.MarkAllRead()

	if got := m.UnreadCount(); got != 0 {
		t.Errorf("unread count = %d, want 0", got)
	}
}

func TestClear(t *testing.T) {
	m, _ := newTestManager(t, settings.Defaults())
	m.Add(Draft{Category: settings.CategoryNewBooking, Title: "t"})
	m.Add(Draft{Category: settings.CategoryCancellation, Title: "t"})

	m.Clear()

	if got := len(m.Notifications()); got != 0 {
		t.Errorf("collection length = %d after clear, want 0", got)
	}
}

func TestSubscribe_ReceivesEveryMutationInOrder(t *testing.T) {
	snap := settings.Defaults()
	snap.AutoMarkReadDelay = 0
	m, _ := newTestManager(t, snap)

	var lengths []int
	unsub := m.Subscribe(func(alerts []Alert) {
		lengths = append(lengths, len(alerts))
	})

	a, _ := m.Add(Draft{Category: settings.CategoryNewBooking, Title: "t"})
	m.Add(Draft{Category: settings.CategoryCancellation, Title: "t"})
	m.MarkRead(a.ID)
	m.Dismiss(a.ID)
	m.Clear()

	want := []int{1, 2, 2, 1, 0}
	if len(lengths) != len(want) {
		t.Fatalf("callback count = %d, want %d (%v)", len(lengths), len(want), lengths)
	}
	for i := range want {
		if lengths[i] != want[i] {
			t.Errorf("callback %d snapshot length = %d, want %d", i, lengths[i], want[i])
		}
	}

	unsub()
	m.Add(Draft{Category: settings.CategoryNewBooking, Title: "t"})
	if len(lengths) != len(want) {
		t.Error("unsubscribed listener still receiving callbacks")
	}
}

func TestSubscribe_MultipleIndependentSubscribers(t *testing.T) {
	m, _ := newTestManager(t, settings.Defaults())

	var bell, toast int
	m.Subscribe(func([]Alert) { bell++ })
	m.Subscribe(func([]Alert) { toast++ })

	m.Add(Draft{Category: settings.CategoryNewBooking, Title: "t"})

	if bell != 1 || toast != 1 {
		t.Errorf("subscriber calls = (%d, %d), want (1, 1)", bell, toast)
	}
}

func TestSuppressedAdd_DoesNotNotify(t *testing.T) {
	snap := settings.Defaults()
	snap.Enabled = false
	m, _ := newTestManager(t, snap)

	calls := 0
	m.Subscribe(func([]Alert) { calls++ })

	m.Add(Draft{Category: settings.CategoryNewBooking, Title: "t"})
	if calls != 0 {
		t.Errorf("subscriber called %d times for suppressed alert, want 0", calls)
	}
}

func TestRefreshSettings_DelegatesToProvider(t *testing.T) {
	m, p := newTestManager(t, settings.Defaults())
	if err := m.RefreshSettings(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if p.refreshes != 1 {
		t.Errorf("provider refreshes = %d, want 1", p.refreshes)
	}
}

func TestMasterVolume(t *testing.T) {
	m, _ := newTestManager(t, settings.Defaults())
	if got := m.MasterVolume(); got != 0.3 {
		t.Errorf("master volume = %v, want 0.3", got)
	}
}

// fakeEscalator records escalated alerts.
type fakeEscalator struct {
	mu     sync.Mutex
	alerts []Alert
}

func (f *fakeEscalator) Escalate(ctx context.Context, a Alert) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, a)
}

func (f *fakeEscalator) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.alerts)
}

func TestEscalation_CriticalOnly(t *testing.T) {
	esc := &fakeEscalator{}
	m, _ := newTestManager(t, settings.Defaults(), WithEscalator(esc))

	m.Add(Draft{Category: settings.CategoryNewBooking, Title: "routine"}) // medium
	m.Add(Draft{Category: settings.CategoryVIPBooking, Title: "vip"})     // critical

	waitFor(t, 2*time.Second, func() bool { return esc.count() == 1 })
	esc.mu.Lock()
	defer esc.mu.Unlock()
	if esc.alerts[0].Category != settings.CategoryVIPBooking {
		t.Errorf("escalated category = %s, want vip_booking", esc.alerts[0].Category)
	}
}
