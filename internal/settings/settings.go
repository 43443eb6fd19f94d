// Package settings holds the alert hub configuration: master switches,
// per-category policy records, and the daily quiet-hours / business-hours
// windows. One row per deployment; the snapshot is replaced wholesale on
// every change event.
package settings

import (
	"fmt"
	"time"
)

// Priority tiers for alerts. Priority is frozen onto an alert at creation
// time from the settings snapshot in effect at that instant.
const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// Alert categories (closed set).
const (
	CategoryNewBooking      = "new_booking"
	CategoryVIPBooking      = "vip_booking"
	CategoryCancellation    = "cancellation"
	CategoryModification    = "modification"
	CategoryPeakBooking     = "peak_booking"
	CategoryCustomerMessage = "customer_message"
	CategorySystemAlert     = "system_alert"
)

// Categories lists every known category in a stable order.
func Categories() []string {
	return []string{
		CategoryNewBooking,
		CategoryVIPBooking,
		CategoryCancellation,
		CategoryModification,
		CategoryPeakBooking,
		CategoryCustomerMessage,
		CategorySystemAlert,
	}
}

// ValidCategory reports whether cat is one of the known categories.
func ValidCategory(cat string) bool {
	for _, c := range Categories() {
		if c == cat {
			return true
		}
	}
	return false
}

// ValidPriority reports whether p is one of the known priority tiers.
func ValidPriority(p string) bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh || p == PriorityCritical
}

// CategoryPolicy is the per-category routing record.
type CategoryPolicy struct {
	Enabled  bool   `json:"enabled"`
	Sound    bool   `json:"sound"`
	Toast    bool   `json:"toast"`
	Priority string `json:"priority"`
}

// ClockTime is a wall-clock time of day, seconds since midnight.
// It carries no date and no zone; window checks compare against the
// hub's local clock.
type ClockTime int

// ParseClock parses "HH:MM:SS" (or "HH:MM") into a ClockTime.
func ParseClock(s string) (ClockTime, error) {
	var h, m, sec int
	if _, err := fmt.Sscanf(s, "%d:%d:%d", &h, &m, &sec); err != nil {
		if _, err2 := fmt.Sscanf(s, "%d:%d", &h, &m); err2 != nil {
			return 0, fmt.Errorf("parse clock %q: %w", s, err)
		}
		sec = 0
	}
	if h < 0 || h > 23 || m < 0 || m > 59 || sec < 0 || sec > 59 {
		return 0, fmt.Errorf("clock %q out of range", s)
	}
	return ClockTime(h*3600 + m*60 + sec), nil
}

// MustClock parses a clock string and panics on error. For defaults and tests.
func MustClock(s string) ClockTime {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

// String formats the time as HH:MM:SS.
func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", int(c)/3600, int(c)%3600/60, int(c)%60)
}

// ClockOf extracts the wall-clock time of day from t.
func ClockOf(t time.Time) ClockTime {
	return ClockTime(t.Hour()*3600 + t.Minute()*60 + t.Second())
}

// Window is a daily time window. A window whose Start is after its End
// spans midnight (22:00-08:00 covers 23:30 and 07:00 but not 12:00).
type Window struct {
	Start ClockTime `json:"start"`
	End   ClockTime `json:"end"`
}

// Contains reports whether the wall-clock time of t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	now := ClockOf(t)
	if w.Start > w.End {
		return now >= w.Start || now <= w.End
	}
	return now >= w.Start && now <= w.End
}

// QuietHours mutes sound and reduces toasts during a daily window.
// It never gates alert creation.
type QuietHours struct {
	Enabled      bool   `json:"enabled"`
	Window       Window `json:"window"`
	MuteSound    bool   `json:"mute_sound"`
	ReduceToasts bool   `json:"reduce_toasts"`
}

// BusinessHours optionally rejects alert creation outside a daily window.
type BusinessHours struct {
	Only   bool   `json:"only"`
	Window Window `json:"window"`
}

// Settings is the full configuration record.
type Settings struct {
	Enabled      bool    `json:"notifications_enabled"`
	SoundEnabled bool    `json:"sound_enabled"`
	ShowToasts   bool    `json:"show_toasts"`
	MasterVolume float64 `json:"master_volume"`

	AutoMarkReadDelay time.Duration `json:"auto_mark_read_delay"`
	MaxNotifications  int           `json:"max_notifications"`

	Categories map[string]CategoryPolicy `json:"categories"`

	QuietHours    QuietHours    `json:"quiet_hours"`
	BusinessHours BusinessHours `json:"business_hours"`

	GroupSimilar    bool `json:"group_similar_notifications"`
	PersistCritical bool `json:"persist_critical_notifications"`
	HistoryDays     int  `json:"notification_history_days"`
}

// Category returns the policy record for cat, falling back to a disabled
// low-priority record for unknown categories.
func (s Settings) Category(cat string) CategoryPolicy {
	if p, ok := s.Categories[cat]; ok {
		return p
	}
	return CategoryPolicy{Priority: PriorityLow}
}

// InQuietHours reports whether t falls inside the enabled quiet window.
func (s Settings) InQuietHours(t time.Time) bool {
	return s.QuietHours.Enabled && s.QuietHours.Window.Contains(t)
}

// InBusinessHours reports whether t falls inside the business window.
// Always true when the business-hours gate is off.
func (s Settings) InBusinessHours(t time.Time) bool {
	if !s.BusinessHours.Only {
		return true
	}
	return s.BusinessHours.Window.Contains(t)
}

// Defaults is the hardcoded fallback used whenever the settings row is
// unreachable or has never been seeded. The hub fails open: alerts keep
// flowing with these values rather than erroring.
func Defaults() Settings {
	return Settings{
		Enabled:           true,
		SoundEnabled:      true,
		ShowToasts:        true,
		MasterVolume:      0.3,
		AutoMarkReadDelay: 30 * time.Second,
		MaxNotifications:  50,
		Categories: map[string]CategoryPolicy{
			CategoryNewBooking:      {Enabled: true, Sound: true, Toast: true, Priority: PriorityMedium},
			CategoryVIPBooking:      {Enabled: true, Sound: true, Toast: true, Priority: PriorityCritical},
			CategoryCancellation:    {Enabled: true, Sound: true, Toast: true, Priority: PriorityHigh},
			CategoryModification:    {Enabled: true, Sound: true, Toast: true, Priority: PriorityMedium},
			CategoryPeakBooking:     {Enabled: true, Sound: true, Toast: true, Priority: PriorityHigh},
			CategoryCustomerMessage: {Enabled: true, Sound: false, Toast: true, Priority: PriorityLow},
			CategorySystemAlert:     {Enabled: true, Sound: true, Toast: true, Priority: PriorityCritical},
		},
		QuietHours: QuietHours{
			Enabled:      false,
			Window:       Window{Start: MustClock("22:00:00"), End: MustClock("08:00:00")},
			MuteSound:    true,
			ReduceToasts: true,
		},
		BusinessHours: BusinessHours{
			Only:   false,
			Window: Window{Start: MustClock("09:00:00"), End: MustClock("23:00:00")},
		},
		GroupSimilar:    false,
		PersistCritical: true,
		HistoryDays:     30,
	}
}
