// Package alerts is the in-memory alert registry for the back-office
// dashboard. It is the single authority over which alerts exist, how
// policy suppresses them, and their read/dismiss lifecycle.
package alerts

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Alert is one dashboard alert. ID, Category, Priority and CreatedAt are
// immutable after creation; Read is the only field the manager mutates.
type Alert struct {
	ID          uuid.UUID       `json:"id"`
	Category    string          `json:"category"`
	Priority    string          `json:"priority"`
	Title       string          `json:"title"`
	Message     string          `json:"message"`
	Data        json.RawMessage `json:"data,omitempty"`
	ActionURL   string          `json:"action_url,omitempty"`
	ActionLabel string          `json:"action_label,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	Read        bool            `json:"read"`
}

// Draft is the caller-supplied part of an alert. The manager assigns the
// id, timestamp and priority.
type Draft struct {
	Category    string          `json:"category"`
	Title       string          `json:"title"`
	Message     string          `json:"message"`
	Data        json.RawMessage `json:"data,omitempty"`
	ActionURL   string          `json:"action_url,omitempty"`
	ActionLabel string          `json:"action_label,omitempty"`
}

// Suppression reasons reported by Add.
const (
	ReasonDisabled         = "notifications_disabled"
	ReasonCategoryDisabled = "category_disabled"
	ReasonOutsideBusiness  = "outside_business_hours"
	ReasonUnknownCategory  = "unknown_category"
)
