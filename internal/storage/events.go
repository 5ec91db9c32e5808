package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/your-org/admatch/internal/models"
)

// EventFilter narrows detection event queries. Zero values mean "any".
type EventFilter struct {
	Kind       models.EventKind
	LocationID string
	IdentityID *uuid.UUID
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

func (s *PostgresStore) InsertDetectionEvent(ctx context.Context, ev *models.DetectionEvent) error {
	ev.ID = uuid.New()
	err := s.pool.QueryRow(ctx,
		`INSERT INTO detection_events
		     (id, org_id, identity_id, camera_id, location_id, kind, captured_at, ended_at,
		      dwell_seconds, confidence, quality, match_status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING created_at`,
		ev.ID, ev.OrgID, ev.IdentityID, ev.CameraID, ev.LocationID, ev.Kind, ev.CapturedAt,
		ev.EndedAt, ev.DwellSeconds, ev.Confidence, ev.Quality, ev.MatchStatus,
	).Scan(&ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert detection event: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDetectionEvent(ctx context.Context, orgID, id uuid.UUID) (*models.DetectionEvent, error) {
	ev := &models.DetectionEvent{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, org_id, identity_id, camera_id, location_id, kind, captured_at, ended_at,
		        dwell_seconds, confidence, quality, match_status, created_at
		 FROM detection_events WHERE id = $1 AND org_id = $2`, id, orgID,
	).Scan(&ev.ID, &ev.OrgID, &ev.IdentityID, &ev.CameraID, &ev.LocationID, &ev.Kind,
		&ev.CapturedAt, &ev.EndedAt, &ev.DwellSeconds, &ev.Confidence, &ev.Quality,
		&ev.MatchStatus, &ev.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get detection event: %w", err)
	}
	return ev, nil
}

func (s *PostgresStore) QueryDetectionEvents(ctx context.Context, orgID uuid.UUID, f EventFilter) ([]models.DetectionEvent, int, error) {
	conds := []string{"org_id = $1"}
	args := []any{orgID}
	argIdx := 2

	if f.Kind != "" {
		conds = append(conds, fmt.Sprintf("kind = $%d", argIdx))
		args = append(args, f.Kind)
		argIdx++
	}
	if f.LocationID != "" {
		conds = append(conds, fmt.Sprintf("location_id = $%d", argIdx))
		args = append(args, f.LocationID)
		argIdx++
	}
	if f.IdentityID != nil {
		conds = append(conds, fmt.Sprintf("identity_id = $%d", argIdx))
		args = append(args, *f.IdentityID)
		argIdx++
	}
	if f.From != nil {
		conds = append(conds, fmt.Sprintf("captured_at >= $%d", argIdx))
		args = append(args, *f.From)
		argIdx++
	}
	if f.To != nil {
		conds = append(conds, fmt.Sprintf("captured_at < $%d", argIdx))
		args = append(args, *f.To)
		argIdx++
	}

	where := strings.Join(conds, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM detection_events WHERE `+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count detection events: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT id, org_id, identity_id, camera_id, location_id, kind, captured_at, ended_at,
		        dwell_seconds, confidence, quality, match_status, created_at
		 FROM detection_events WHERE %s
		 ORDER BY captured_at DESC LIMIT $%d OFFSET $%d`, where, argIdx, argIdx+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query detection events: %w", err)
	}
	defer rows.Close()

	var events []models.DetectionEvent
	for rows.Next() {
		var ev models.DetectionEvent
		if err := rows.Scan(&ev.ID, &ev.OrgID, &ev.IdentityID, &ev.CameraID, &ev.LocationID,
			&ev.Kind, &ev.CapturedAt, &ev.EndedAt, &ev.DwellSeconds, &ev.Confidence,
			&ev.Quality, &ev.MatchStatus, &ev.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan detection event: %w", err)
		}
		events = append(events, ev)
	}
	return events, total, nil
}

// LatestBillboardEvent finds the identity's most recent billboard sighting in
// [since, until]. The upper bound keeps replayed visits from attributing a
// viewing that happened after them.
func (s *PostgresStore) LatestBillboardEvent(ctx context.Context, orgID, identityID uuid.UUID, since, until time.Time) (*models.DetectionEvent, error) {
	ev := &models.DetectionEvent{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, org_id, identity_id, camera_id, location_id, kind, captured_at, ended_at,
		        dwell_seconds, confidence, quality, match_status, created_at
		 FROM detection_events
		 WHERE org_id = $1 AND identity_id = $2 AND kind = 'billboard'
		   AND captured_at >= $3 AND captured_at <= $4
		 ORDER BY captured_at DESC LIMIT 1`,
		orgID, identityID, since, until,
	).Scan(&ev.ID, &ev.OrgID, &ev.IdentityID, &ev.CameraID, &ev.LocationID, &ev.Kind,
		&ev.CapturedAt, &ev.EndedAt, &ev.DwellSeconds, &ev.Confidence, &ev.Quality,
		&ev.MatchStatus, &ev.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("latest billboard event: %w", err)
	}
	return ev, nil
}

// --- Conversions ---

// HasRecentConversion reports whether the identity already converted on this
// billboard/store pair after since.
func (s *PostgresStore) HasRecentConversion(ctx context.Context, orgID, identityID uuid.UUID, billboardLoc, storeLoc string, since time.Time) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
		     SELECT 1 FROM conversions
		     WHERE org_id = $1 AND identity_id = $2
		       AND billboard_location_id = $3 AND store_location_id = $4
		       AND attributed_at > $5
		 )`,
		orgID, identityID, billboardLoc, storeLoc, since,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check recent conversion: %w", err)
	}
	return exists, nil
}

// InsertConversion records an attribution. A redelivered visit event hits the
// unique index on visit_event_id and reports inserted=false.
func (s *PostgresStore) InsertConversion(ctx context.Context, conv *models.ConversionRecord) (bool, error) {
	conv.ID = uuid.New()
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO conversions
		     (id, org_id, identity_id, billboard_location_id, store_location_id,
		      viewer_event_id, visit_event_id, viewed_at, visited_at, attributed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (visit_event_id) DO NOTHING`,
		conv.ID, conv.OrgID, conv.IdentityID, conv.BillboardLocationID, conv.StoreLocationID,
		conv.ViewerEventID, conv.VisitEventID, conv.ViewedAt, conv.VisitedAt, conv.AttributedAt)
	if err != nil {
		return false, fmt.Errorf("insert conversion: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) QueryConversions(ctx context.Context, orgID uuid.UUID, from, to *time.Time, limit, offset int) ([]models.ConversionRecord, int, error) {
	conds := []string{"org_id = $1"}
	args := []any{orgID}
	argIdx := 2

	if from != nil {
		conds = append(conds, fmt.Sprintf("attributed_at >= $%d", argIdx))
		args = append(args, *from)
		argIdx++
	}
	if to != nil {
		conds = append(conds, fmt.Sprintf("attributed_at < $%d", argIdx))
		args = append(args, *to)
		argIdx++
	}

	where := strings.Join(conds, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM conversions WHERE `+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count conversions: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT id, org_id, identity_id, billboard_location_id, store_location_id,
		        viewer_event_id, visit_event_id, viewed_at, visited_at, attributed_at
		 FROM conversions WHERE %s
		 ORDER BY attributed_at DESC LIMIT $%d OFFSET $%d`, where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query conversions: %w", err)
	}
	defer rows.Close()

	var convs []models.ConversionRecord
	for rows.Next() {
		var conv models.ConversionRecord
		if err := rows.Scan(&conv.ID, &conv.OrgID, &conv.IdentityID, &conv.BillboardLocationID,
			&conv.StoreLocationID, &conv.ViewerEventID, &conv.VisitEventID, &conv.ViewedAt,
			&conv.VisitedAt, &conv.AttributedAt); err != nil {
			return nil, 0, fmt.Errorf("scan conversion: %w", err)
		}
		convs = append(convs, conv)
	}
	return convs, total, nil
}

// DeleteEventsBefore drops detection events older than cutoff for one org.
func (s *PostgresStore) DeleteEventsBefore(ctx context.Context, orgID uuid.UUID, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM detection_events WHERE org_id = $1 AND captured_at < $2`, orgID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old events: %w", err)
	}
	return tag.RowsAffected(), nil
}
