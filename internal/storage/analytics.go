package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/admatch/internal/models"
)

// EventsInRange loads every detection event in [from, to) for recomputing
// analytics. Ascending capture order keeps folds deterministic.
func (s *PostgresStore) EventsInRange(ctx context.Context, orgID uuid.UUID, from, to time.Time) ([]models.DetectionEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, org_id, identity_id, camera_id, location_id, kind, captured_at, ended_at,
		        dwell_seconds, confidence, quality, match_status, created_at
		 FROM detection_events
		 WHERE org_id = $1 AND captured_at >= $2 AND captured_at < $3
		 ORDER BY captured_at ASC`, orgID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load events in range: %w", err)
	}
	defer rows.Close()

	var events []models.DetectionEvent
	for rows.Next() {
		var ev models.DetectionEvent
		if err := rows.Scan(&ev.ID, &ev.OrgID, &ev.IdentityID, &ev.CameraID, &ev.LocationID,
			&ev.Kind, &ev.CapturedAt, &ev.EndedAt, &ev.DwellSeconds, &ev.Confidence,
			&ev.Quality, &ev.MatchStatus, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}

func (s *PostgresStore) ConversionsInRange(ctx context.Context, orgID uuid.UUID, from, to time.Time) ([]models.ConversionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, org_id, identity_id, billboard_location_id, store_location_id,
		        viewer_event_id, visit_event_id, viewed_at, visited_at, attributed_at
		 FROM conversions
		 WHERE org_id = $1 AND attributed_at >= $2 AND attributed_at < $3
		 ORDER BY attributed_at ASC`, orgID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load conversions in range: %w", err)
	}
	defer rows.Close()

	var convs []models.ConversionRecord
	for rows.Next() {
		var conv models.ConversionRecord
		if err := rows.Scan(&conv.ID, &conv.OrgID, &conv.IdentityID, &conv.BillboardLocationID,
			&conv.StoreLocationID, &conv.ViewerEventID, &conv.VisitEventID, &conv.ViewedAt,
			&conv.VisitedAt, &conv.AttributedAt); err != nil {
			return nil, fmt.Errorf("scan conversion: %w", err)
		}
		convs = append(convs, conv)
	}
	return convs, nil
}

// IdentitiesFirstSeenIn counts identities whose earliest event falls inside
// [from, to). Returning viewers are excluded by the MIN over all history.
func (s *PostgresStore) IdentitiesFirstSeenIn(ctx context.Context, orgID uuid.UUID, from, to time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM (
		     SELECT identity_id, MIN(captured_at) AS first_seen
		     FROM detection_events
		     WHERE org_id = $1 AND identity_id IS NOT NULL
		     GROUP BY identity_id
		 ) t WHERE t.first_seen >= $2 AND t.first_seen < $3`,
		orgID, from, to,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count first seen identities: %w", err)
	}
	return n, nil
}
