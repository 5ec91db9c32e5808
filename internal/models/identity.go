package models

import (
	"time"

	"github.com/google/uuid"
)

// Identity is an anonymous token for one physical person, scoped to a single
// organization. Cross-org merging is never permitted.
type Identity struct {
	ID          uuid.UUID `json:"id" db:"id"`
	OrgID       uuid.UUID `json:"org_id" db:"org_id"`
	ExternalRef *string   `json:"external_ref,omitempty" db:"external_ref"`
	Active      bool      `json:"active" db:"active"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	LastSeenAt  time.Time `json:"last_seen_at" db:"last_seen_at"`
}

type FaceEmbedding struct {
	ID         uuid.UUID `json:"id" db:"id"`
	IdentityID uuid.UUID `json:"identity_id" db:"identity_id"`
	Embedding  []float32 `json:"-" db:"embedding"`
	Quality    float32   `json:"quality" db:"quality"`
	ImageKey   string    `json:"image_key" db:"image_key"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
