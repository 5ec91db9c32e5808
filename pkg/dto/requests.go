// Package dto defines the API boundary records. Every request field is
// explicit and validated; error codes come from the closed apperr set.
package dto

import "github.com/google/uuid"

type CreateOrgRequest struct {
	Name             string `json:"name" binding:"required"`
	Timezone         string `json:"timezone"`
	LookbackHours    *int   `json:"lookback_hours,omitempty"`
	CooldownHours    *int   `json:"cooldown_hours,omitempty"`
	AllowNewIdentity *bool  `json:"allow_new_identity,omitempty"`
}

type CreateCameraRequest struct {
	OrgID      uuid.UUID `json:"org_id" binding:"required"`
	Name       string    `json:"name" binding:"required"`
	LocationID string    `json:"location_id" binding:"required"`
	Kind       string    `json:"kind" binding:"required,oneof=billboard store"`
}

// Multipart forms. Gin binds these from PostForm values; the image part is
// read separately.

type RegisterFaceForm struct {
	OrgID       string `form:"org_id" binding:"required"`
	ExternalRef string `form:"external_ref"`
}

type RecognizeFaceForm struct {
	OrgID string `form:"org_id" binding:"required"`
}

type ViewerCaptureForm struct {
	OrgID     string `form:"org_id" binding:"required"`
	CameraID  string `form:"camera_id" binding:"required"`
	StartedAt string `form:"started_at" binding:"required"` // RFC 3339
	EndedAt   string `form:"ended_at" binding:"required"`
	Duration  string `form:"duration"` // seconds, optional consistency check
}

type VisitCaptureForm struct {
	OrgID      string `form:"org_id" binding:"required"`
	CameraID   string `form:"camera_id" binding:"required"`
	CapturedAt string `form:"captured_at" binding:"required"` // RFC 3339
}

type ListQuery struct {
	OrgID string `form:"org_id" binding:"required"`
	Page  int    `form:"page"`
	Limit int    `form:"limit"`
}

type EventsQuery struct {
	ListQuery
	Kind       string `form:"kind" binding:"omitempty,oneof=billboard store"`
	LocationID string `form:"location_id"`
	From       string `form:"from"`
	To         string `form:"to"`
}

type ConversionsQuery struct {
	ListQuery
	From string `form:"from"`
	To   string `form:"to"`
}

type AnalyticsQuery struct {
	OrgID     string `form:"org_id" binding:"required"`
	StartDate string `form:"start_date" binding:"required"` // YYYY-MM-DD, org timezone
	EndDate   string `form:"end_date" binding:"required"`
}
