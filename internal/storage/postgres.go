package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/your-org/admatch/internal/config"
	"github.com/your-org/admatch/internal/models"
)

// ErrNotFound marks lookups and deletes that touched no rows.
var ErrNotFound = errors.New("not found")

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Organizations ---

func (s *PostgresStore) CreateOrg(ctx context.Context, org *models.Organization) error {
	org.ID = uuid.New()
	if org.Timezone == "" {
		org.Timezone = "UTC"
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO organizations (id, name, timezone, lookback_hours, cooldown_hours, allow_new_identity)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at, updated_at`,
		org.ID, org.Name, org.Timezone, org.LookbackHours, org.CooldownHours, org.AllowNewIdentity,
	).Scan(&org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create org: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetOrg(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	org := &models.Organization{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, timezone, lookback_hours, cooldown_hours, allow_new_identity, created_at, updated_at
		 FROM organizations WHERE id = $1`, id,
	).Scan(&org.ID, &org.Name, &org.Timezone, &org.LookbackHours, &org.CooldownHours,
		&org.AllowNewIdentity, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get org: %w", err)
	}
	return org, nil
}

func (s *PostgresStore) ListOrgs(ctx context.Context) ([]models.Organization, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, timezone, lookback_hours, cooldown_hours, allow_new_identity, created_at, updated_at
		 FROM organizations ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list orgs: %w", err)
	}
	defer rows.Close()

	var orgs []models.Organization
	for rows.Next() {
		var org models.Organization
		if err := rows.Scan(&org.ID, &org.Name, &org.Timezone, &org.LookbackHours,
			&org.CooldownHours, &org.AllowNewIdentity, &org.CreatedAt, &org.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan org: %w", err)
		}
		orgs = append(orgs, org)
	}
	return orgs, nil
}

// DeleteOrg removes the tenant and cascades identities, embeddings, events,
// conversions and cameras.
func (s *PostgresStore) DeleteOrg(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM organizations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete org: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Cameras ---

func (s *PostgresStore) CreateCamera(ctx context.Context, cam *models.Camera) error {
	cam.ID = uuid.New()
	err := s.pool.QueryRow(ctx,
		`INSERT INTO cameras (id, org_id, name, location_id, kind)
		 VALUES ($1, $2, $3, $4, $5) RETURNING created_at`,
		cam.ID, cam.OrgID, cam.Name, cam.LocationID, cam.Kind,
	).Scan(&cam.CreatedAt)
	if err != nil {
		return fmt.Errorf("create camera: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCamera(ctx context.Context, id uuid.UUID) (*models.Camera, error) {
	cam := &models.Camera{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, org_id, name, location_id, kind, created_at FROM cameras WHERE id = $1`, id,
	).Scan(&cam.ID, &cam.OrgID, &cam.Name, &cam.LocationID, &cam.Kind, &cam.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get camera: %w", err)
	}
	return cam, nil
}

func (s *PostgresStore) ListCameras(ctx context.Context, orgID uuid.UUID) ([]models.Camera, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, org_id, name, location_id, kind, created_at
		 FROM cameras WHERE org_id = $1 ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list cameras: %w", err)
	}
	defer rows.Close()

	var cams []models.Camera
	for rows.Next() {
		var cam models.Camera
		if err := rows.Scan(&cam.ID, &cam.OrgID, &cam.Name, &cam.LocationID, &cam.Kind, &cam.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan camera: %w", err)
		}
		cams = append(cams, cam)
	}
	return cams, nil
}

func (s *PostgresStore) DeleteCamera(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM cameras WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete camera: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
