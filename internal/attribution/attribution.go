// Package attribution links store visits back to billboard viewings.
package attribution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/admatch/internal/models"
	"github.com/your-org/admatch/internal/observability"
)

// Store is the slice of durable storage the engine needs.
type Store interface {
	LatestBillboardEvent(ctx context.Context, orgID, identityID uuid.UUID, since, until time.Time) (*models.DetectionEvent, error)
	HasRecentConversion(ctx context.Context, orgID, identityID uuid.UUID, billboardLoc, storeLoc string, since time.Time) (bool, error)
	InsertConversion(ctx context.Context, conv *models.ConversionRecord) (bool, error)
}

// Policy is the attribution tuning after per-org overrides are applied.
type Policy struct {
	Lookback         time.Duration
	Cooldown         time.Duration
	AllowNewIdentity bool
}

type Engine struct {
	store Store
	log   *slog.Logger
}

func NewEngine(store Store, log *slog.Logger) *Engine {
	return &Engine{store: store, log: log}
}

// Attribute turns a store visit into a conversion when the identity saw a
// billboard within the lookback window. Both windows are anchored on the
// visit's capture time, so replayed tasks reach the same verdict. Returns nil
// without error when there is nothing to attribute: no identity, no prior
// viewing, cooldown still running, or the visit was already attributed.
func (e *Engine) Attribute(ctx context.Context, visit *models.DetectionEvent, pol Policy) (*models.ConversionRecord, error) {
	if visit.Kind != models.EventKindStore || visit.IdentityID == nil {
		return nil, nil
	}
	switch visit.MatchStatus {
	case models.MatchStatusMatched:
	case models.MatchStatusEnrolled:
		if !pol.AllowNewIdentity {
			return nil, nil
		}
	default:
		return nil, nil
	}
	identityID := *visit.IdentityID

	viewer, err := e.store.LatestBillboardEvent(ctx, visit.OrgID, identityID,
		visit.CapturedAt.Add(-pol.Lookback), visit.CapturedAt)
	if err != nil {
		return nil, fmt.Errorf("find viewer event: %w", err)
	}
	if viewer == nil {
		return nil, nil
	}

	alreadySeen, err := e.store.HasRecentConversion(ctx, visit.OrgID, identityID,
		viewer.LocationID, visit.LocationID, visit.CapturedAt.Add(-pol.Cooldown))
	if err != nil {
		return nil, fmt.Errorf("check cooldown: %w", err)
	}
	if alreadySeen {
		return nil, nil
	}

	conv := &models.ConversionRecord{
		OrgID:               visit.OrgID,
		IdentityID:          &identityID,
		BillboardLocationID: viewer.LocationID,
		StoreLocationID:     visit.LocationID,
		ViewerEventID:       viewer.ID,
		VisitEventID:        visit.ID,
		ViewedAt:            viewer.CapturedAt,
		VisitedAt:           visit.CapturedAt,
		AttributedAt:        time.Now().UTC(),
	}
	inserted, err := e.store.InsertConversion(ctx, conv)
	if err != nil {
		return nil, fmt.Errorf("insert conversion: %w", err)
	}
	if !inserted {
		// Redelivered visit event; the first delivery already converted.
		return nil, nil
	}

	observability.ConversionsRecorded.Inc()
	e.log.Info("conversion attributed",
		"org_id", visit.OrgID,
		"identity_id", identityID,
		"billboard", viewer.LocationID,
		"store", visit.LocationID,
		"gap", visit.CapturedAt.Sub(viewer.CapturedAt).Round(time.Second).String())
	return conv, nil
}
