package settings

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/casamarzia/opsbell/internal/db"
)

// Source loads the settings record from a backing store.
type Source interface {
	Load(ctx context.Context) (Settings, error)
}

// DefaultProfile is the single settings row every deployment reads.
const DefaultProfile = "admin"

// PGStore reads the alert_settings row from Postgres. The row is written
// elsewhere (the dashboard settings form); the hub only observes it.
type PGStore struct {
	db      *db.DB
	profile string
	logger  *zap.Logger
}

// NewPGStore creates a store scoped to the given profile row.
func NewPGStore(database *db.DB, profile string, logger *zap.Logger) *PGStore {
	if profile == "" {
		profile = DefaultProfile
	}
	return &PGStore{db: database, profile: profile, logger: logger}
}

// Load fetches the settings row. A missing row is an error; callers fall
// back to Defaults().
func (s *PGStore) Load(ctx context.Context) (Settings, error) {
	query := `
		SELECT
			notifications_enabled, sound_enabled, show_toasts, master_volume,
			auto_mark_read_delay_seconds, max_notifications,
			new_booking_enabled, new_booking_sound, new_booking_toast, new_booking_priority,
			vip_booking_enabled, vip_booking_sound, vip_booking_toast, vip_booking_priority,
			cancellation_enabled, cancellation_sound, cancellation_toast, cancellation_priority,
			modification_enabled, modification_sound, modification_toast, modification_priority,
			peak_booking_enabled, peak_booking_sound, peak_booking_toast, peak_booking_priority,
			customer_message_enabled, customer_message_sound, customer_message_toast, customer_message_priority,
			system_alert_enabled, system_alert_sound, system_alert_toast, system_alert_priority,
			quiet_hours_enabled, quiet_hours_start, quiet_hours_end,
			quiet_hours_mute_sound, quiet_hours_reduce_toasts,
			business_hours_only, business_hours_start, business_hours_end,
			group_similar_notifications, persist_critical_notifications, notification_history_days
		FROM alert_settings
		WHERE profile = $1
	`

	out := Defaults()
	var (
		delaySeconds                           int
		quietStart, quietEnd, bizStart, bizEnd string
		pols                                   = make(map[string]*CategoryPolicy, len(out.Categories))
	)
	for _, cat := range Categories() {
		p := out.Categories[cat]
		pols[cat] = &p
	}

	row := s.db.Pool().QueryRow(ctx, query, s.profile)
	err := row.Scan(
		&out.Enabled, &out.SoundEnabled, &out.ShowToasts, &out.MasterVolume,
		&delaySeconds, &out.MaxNotifications,
		&pols[CategoryNewBooking].Enabled, &pols[CategoryNewBooking].Sound, &pols[CategoryNewBooking].Toast, &pols[CategoryNewBooking].Priority,
		&pols[CategoryVIPBooking].Enabled, &pols[CategoryVIPBooking].Sound, &pols[CategoryVIPBooking].Toast, &pols[CategoryVIPBooking].Priority,
		&pols[CategoryCancellation].Enabled, &pols[CategoryCancellation].Sound, &pols[CategoryCancellation].Toast, &pols[CategoryCancellation].Priority,
		&pols[CategoryModification].Enabled, &pols[CategoryModification].Sound, &pols[CategoryModification].Toast, &pols[CategoryModification].Priority,
		&pols[CategoryPeakBooking].Enabled, &pols[CategoryPeakBooking].Sound, &pols[CategoryPeakBooking].Toast, &pols[CategoryPeakBooking].Priority,
		&pols[CategoryCustomerMessage].Enabled, &pols[CategoryCustomerMessage].Sound, &pols[CategoryCustomerMessage].Toast, &pols[CategoryCustomerMessage].Priority,
		&pols[CategorySystemAlert].Enabled, &pols[CategorySystemAlert].Sound, &pols[CategorySystemAlert].Toast, &pols[CategorySystemAlert].Priority,
		&out.QuietHours.Enabled, &quietStart, &quietEnd,
		&out.QuietHours.MuteSound, &out.QuietHours.ReduceToasts,
		&out.BusinessHours.Only, &bizStart, &bizEnd,
		&out.GroupSimilar, &out.PersistCritical, &out.HistoryDays,
	)
	if err == pgx.ErrNoRows {
		return Settings{}, fmt.Errorf("settings row %q not found", s.profile)
	}
	if err != nil {
		return Settings{}, fmt.Errorf("query alert_settings: %w", err)
	}

	out.AutoMarkReadDelay = time.Duration(delaySeconds) * time.Second
	out.Categories = make(map[string]CategoryPolicy, len(pols))
	for cat, p := range pols {
		if !ValidPriority(p.Priority) {
			s.logger.Warn("unknown priority in settings row, keeping default",
				zap.String("category", cat),
				zap.String("priority", p.Priority),
			)
			p.Priority = Defaults().Categories[cat].Priority
		}
		out.Categories[cat] = *p
	}

	if out.QuietHours.Window.Start, err = ParseClock(quietStart); err != nil {
		return Settings{}, fmt.Errorf("quiet_hours_start: %w", err)
	}
	if out.QuietHours.Window.End, err = ParseClock(quietEnd); err != nil {
		return Settings{}, fmt.Errorf("quiet_hours_end: %w", err)
	}
	if out.BusinessHours.Window.Start, err = ParseClock(bizStart); err != nil {
		return Settings{}, fmt.Errorf("business_hours_start: %w", err)
	}
	if out.BusinessHours.Window.End, err = ParseClock(bizEnd); err != nil {
		return Settings{}, fmt.Errorf("business_hours_end: %w", err)
	}

	return out, nil
}
