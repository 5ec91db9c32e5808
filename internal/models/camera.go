package models

import (
	"time"

	"github.com/google/uuid"
)

// Camera is a registered capture device. Kind decides which side of the
// attribution funnel its captures land on.
type Camera struct {
	ID         uuid.UUID `json:"id" db:"id"`
	OrgID      uuid.UUID `json:"org_id" db:"org_id"`
	Name       string    `json:"name" db:"name"`
	LocationID string    `json:"location_id" db:"location_id"`
	Kind       EventKind `json:"kind" db:"kind"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
