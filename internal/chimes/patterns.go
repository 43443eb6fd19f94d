package chimes

import (
	"time"

	"github.com/casamarzia/opsbell/internal/settings"
)

// Tone is a single note in a chime: a frequency held for a duration.
type Tone struct {
	Freq     float64
	Duration time.Duration
}

const (
	beat = 200 * time.Millisecond
	gap  = 50 * time.Millisecond
)

// patterns maps each alert category to a hand-tuned tone sequence.
// Routine events get short ascending major-chord figures; cancellations
// descend; VIP bookings and system alerts get longer fanfares so they cut
// through a noisy kitchen.
var patterns = map[string][]Tone{
	settings.CategoryNewBooking: {
		{Freq: 523.25, Duration: beat}, // C5
		{Freq: 659.25, Duration: beat}, // E5
		{Freq: 783.99, Duration: beat}, // G5
	},
	settings.CategoryVIPBooking: {
		{Freq: 523.25, Duration: beat},     // C5
		{Freq: 659.25, Duration: beat},     // E5
		{Freq: 783.99, Duration: beat},     // G5
		{Freq: 1046.50, Duration: 2 * beat}, // C6 held
	},
	settings.CategoryCancellation: {
		{Freq: 783.99, Duration: beat}, // G5
		{Freq: 659.25, Duration: beat}, // E5
		{Freq: 523.25, Duration: beat}, // C5
	},
	settings.CategoryModification: {
		{Freq: 587.33, Duration: beat}, // D5
		{Freq: 739.99, Duration: beat}, // F#5
	},
	settings.CategoryPeakBooking: {
		{Freq: 659.25, Duration: beat}, // E5
		{Freq: 830.61, Duration: beat}, // G#5
		{Freq: 987.77, Duration: beat}, // B5
	},
	settings.CategoryCustomerMessage: {
		{Freq: 880.00, Duration: beat}, // A5
	},
	settings.CategorySystemAlert: {
		{Freq: 987.77, Duration: beat},     // B5
		{Freq: 739.99, Duration: beat},     // F#5
		{Freq: 987.77, Duration: beat},     // B5
		{Freq: 739.99, Duration: 2 * beat}, // F#5 held
	},
}

// Sequence returns the tone sequence for a category, or nil when the
// category has no chime.
func Sequence(category string) []Tone {
	return patterns[category]
}

// Categories lists every category with a chime, in settings order.
func Categories() []string {
	out := make([]string, 0, len(patterns))
	for _, cat := range settings.Categories() {
		if _, ok := patterns[cat]; ok {
			out = append(out, cat)
		}
	}
	return out
}
