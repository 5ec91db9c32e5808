package dto

import "github.com/google/uuid"

type RegisterFaceResponse struct {
	IdentityID uuid.UUID `json:"identity_id"`
	FaceID     uuid.UUID `json:"face_id"`
	Created    bool      `json:"created"`
	Confidence float32   `json:"confidence"`
	Quality    float32   `json:"quality"`
	Timestamp  string    `json:"timestamp"`
}

type RecognizeFaceResponse struct {
	IdentityID  uuid.UUID `json:"identity_id"`
	ExternalRef string    `json:"external_ref,omitempty"`
	Confidence  float32   `json:"confidence"`
	Timestamp   string    `json:"timestamp"`
}

// CaptureAccepted acknowledges a queued capture submission.
type CaptureAccepted struct {
	TaskID     uuid.UUID `json:"task_id"`
	AcceptedAt string    `json:"accepted_at"`
}

type IdentityResponse struct {
	ID          uuid.UUID      `json:"id"`
	OrgID       uuid.UUID      `json:"org_id"`
	ExternalRef *string        `json:"external_ref,omitempty"`
	Active      bool           `json:"active"`
	FaceCount   int            `json:"face_count"`
	Faces       []FaceResponse `json:"faces,omitempty"`
	CreatedAt   string         `json:"created_at"`
	LastSeenAt  string         `json:"last_seen_at"`
}

type FaceResponse struct {
	ID        uuid.UUID `json:"id"`
	Quality   float32   `json:"quality"`
	CreatedAt string    `json:"created_at"`
}

type DeleteFacesResponse struct {
	RemovedFaces int  `json:"removed_faces"`
	Deactivated  bool `json:"deactivated"`
}

// WSEvent is a WebSocket message for live match and conversion delivery.
type WSEvent struct {
	Type  string    `json:"type"` // detection, conversion
	OrgID uuid.UUID `json:"org_id"`
	Data  any       `json:"data"`
}
