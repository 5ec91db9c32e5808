package models

import (
	"time"

	"github.com/google/uuid"
)

type EventKind string

const (
	EventKindBillboard EventKind = "billboard"
	EventKindStore     EventKind = "store"
)

type MatchStatus string

const (
	MatchStatusMatched   MatchStatus = "matched"
	MatchStatusEnrolled  MatchStatus = "enrolled"
	MatchStatusAmbiguous MatchStatus = "ambiguous"
	MatchStatusUnmatched MatchStatus = "unmatched"
)

// DetectionEvent is one observed face presence, emitted by the deduplicator
// when a dwell session closes. Append-only.
type DetectionEvent struct {
	ID           uuid.UUID   `json:"id" db:"id"`
	OrgID        uuid.UUID   `json:"org_id" db:"org_id"`
	IdentityID   *uuid.UUID  `json:"identity_id,omitempty" db:"identity_id"`
	CameraID     *uuid.UUID  `json:"camera_id,omitempty" db:"camera_id"`
	LocationID   string      `json:"location_id" db:"location_id"`
	Kind         EventKind   `json:"kind" db:"kind"`
	CapturedAt   time.Time   `json:"captured_at" db:"captured_at"`
	EndedAt      time.Time   `json:"ended_at" db:"ended_at"`
	DwellSeconds float64     `json:"dwell_seconds" db:"dwell_seconds"`
	Confidence   float32     `json:"confidence" db:"confidence"`
	Quality      float32     `json:"quality" db:"quality"`
	MatchStatus  MatchStatus `json:"match_status" db:"match_status"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
}

// ConversionRecord links a store visit back to the billboard viewing that
// preceded it. Immutable once created.
type ConversionRecord struct {
	ID                  uuid.UUID  `json:"id" db:"id"`
	OrgID               uuid.UUID  `json:"org_id" db:"org_id"`
	IdentityID          *uuid.UUID `json:"identity_id,omitempty" db:"identity_id"`
	BillboardLocationID string     `json:"billboard_location_id" db:"billboard_location_id"`
	StoreLocationID     string     `json:"store_location_id" db:"store_location_id"`
	ViewerEventID       uuid.UUID  `json:"viewer_event_id" db:"viewer_event_id"`
	VisitEventID        uuid.UUID  `json:"visit_event_id" db:"visit_event_id"`
	ViewedAt            time.Time  `json:"viewed_at" db:"viewed_at"`
	VisitedAt           time.Time  `json:"visited_at" db:"visited_at"`
	AttributedAt        time.Time  `json:"attributed_at" db:"attributed_at"`
}
