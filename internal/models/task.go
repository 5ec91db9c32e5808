package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// CaptureTask is the message published to NATS for worker processing.
// The image itself lives in MinIO under ImageRef; the task carries only
// the reference so queue messages stay small.
type CaptureTask struct {
	TaskID       uuid.UUID  `json:"task_id"`
	OrgID        uuid.UUID  `json:"org_id"`
	CameraID     *uuid.UUID `json:"camera_id,omitempty"`
	LocationID   string     `json:"location_id"`
	Kind         EventKind  `json:"kind"`
	ImageRef     string     `json:"image_ref"`
	CapturedAt   time.Time  `json:"captured_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	DwellSeconds float64    `json:"dwell_seconds,omitempty"`
}

// DeadLetter wraps a capture task that exhausted its deliveries.
type DeadLetter struct {
	Task       CaptureTask `json:"task"`
	Reason     string      `json:"reason"`
	Deliveries int         `json:"deliveries"`
	FailedAt   time.Time   `json:"failed_at"`
}

const (
	SyncOpAdd        = "add"
	SyncOpRemove     = "remove"
	SyncOpDeactivate = "deactivate"
)

// IdentitySync fans out index mutations so every worker keeps its in-memory
// search index current. Origin lets the emitting process skip its own echo.
type IdentitySync struct {
	Op          string    `json:"op"`
	OrgID       uuid.UUID `json:"org_id"`
	IdentityID  uuid.UUID `json:"identity_id"`
	EmbeddingID uuid.UUID `json:"embedding_id,omitempty"`
	Embedding   []float32 `json:"embedding,omitempty"`
	Origin      string    `json:"origin"`
}

// RPC ops served by the worker over NATS request-reply.
const (
	RPCOpRegister    = "register"
	RPCOpRecognize   = "recognize"
	RPCOpDeleteFace  = "delete_face"
	RPCOpDeleteFaces = "delete_faces"
)

type RPCRequest struct {
	Op      string          `json:"op"`
	OrgID   uuid.UUID       `json:"org_id"`
	Payload json.RawMessage `json:"payload"`
}

type RPCReply struct {
	OK    bool            `json:"ok"`
	Code  string          `json:"code,omitempty"`
	Error string          `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type RegisterParams struct {
	ImageRef    string `json:"image_ref"`
	ExternalRef string `json:"external_ref,omitempty"`
}

type RegisterResult struct {
	IdentityID uuid.UUID `json:"identity_id"`
	FaceID     uuid.UUID `json:"face_id"`
	Created    bool      `json:"created"`
	Confidence float32   `json:"confidence"`
	Quality    float32   `json:"quality"`
}

type RecognizeParams struct {
	ImageRef string `json:"image_ref"`
}

type RecognizeResult struct {
	IdentityID  uuid.UUID `json:"identity_id"`
	ExternalRef string    `json:"external_ref,omitempty"`
	Confidence  float32   `json:"confidence"`
}

type DeleteFaceParams struct {
	IdentityID uuid.UUID `json:"identity_id"`
	FaceID     uuid.UUID `json:"face_id,omitempty"`
}

type DeleteFaceResult struct {
	RemovedFaces int  `json:"removed_faces"`
	Deactivated  bool `json:"deactivated"`
}
