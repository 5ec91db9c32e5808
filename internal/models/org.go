package models

import (
	"time"

	"github.com/google/uuid"
)

// Organization is a tenant. Timezone drives calendar-day bucketing in
// analytics; the attribution overrides fall back to config when nil.
type Organization struct {
	ID               uuid.UUID `json:"id" db:"id"`
	Name             string    `json:"name" db:"name"`
	Timezone         string    `json:"timezone" db:"timezone"`
	LookbackHours    *int      `json:"lookback_hours,omitempty" db:"lookback_hours"`
	CooldownHours    *int      `json:"cooldown_hours,omitempty" db:"cooldown_hours"`
	AllowNewIdentity *bool     `json:"allow_new_identity,omitempty" db:"allow_new_identity"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}
