package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/admatch/internal/identity"
	"github.com/your-org/admatch/internal/models"
)

// IdentityRow is an identity plus its stored face count, for listings.
type IdentityRow struct {
	models.Identity
	FaceCount int `json:"face_count"`
}

// FaceRef points at a stored face and its object key, for cleanup after deletes.
type FaceRef struct {
	ID       uuid.UUID
	ImageKey string
}

func (s *PostgresStore) CreateIdentity(ctx context.Context, orgID uuid.UUID, externalRef *string) (*models.Identity, error) {
	ident := &models.Identity{ID: uuid.New(), OrgID: orgID, ExternalRef: externalRef, Active: true}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO identities (id, org_id, external_ref) VALUES ($1, $2, $3)
		 RETURNING created_at, last_seen_at`,
		ident.ID, orgID, externalRef,
	).Scan(&ident.CreatedAt, &ident.LastSeenAt)
	if err != nil {
		return nil, fmt.Errorf("create identity: %w", err)
	}
	return ident, nil
}

func (s *PostgresStore) GetIdentity(ctx context.Context, id uuid.UUID) (*models.Identity, error) {
	ident := &models.Identity{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, org_id, external_ref, active, created_at, last_seen_at
		 FROM identities WHERE id = $1`, id,
	).Scan(&ident.ID, &ident.OrgID, &ident.ExternalRef, &ident.Active, &ident.CreatedAt, &ident.LastSeenAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get identity: %w", err)
	}
	return ident, nil
}

func (s *PostgresStore) GetIdentityByExternalRef(ctx context.Context, orgID uuid.UUID, ref string) (*models.Identity, error) {
	ident := &models.Identity{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, org_id, external_ref, active, created_at, last_seen_at
		 FROM identities WHERE org_id = $1 AND external_ref = $2`, orgID, ref,
	).Scan(&ident.ID, &ident.OrgID, &ident.ExternalRef, &ident.Active, &ident.CreatedAt, &ident.LastSeenAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get identity by ref: %w", err)
	}
	return ident, nil
}

func (s *PostgresStore) ListIdentities(ctx context.Context, orgID uuid.UUID, activeOnly bool, limit, offset int) ([]IdentityRow, int, error) {
	where := `WHERE i.org_id = $1`
	if activeOnly {
		where += ` AND i.active`
	}

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM identities i `+where, orgID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count identities: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT i.id, i.org_id, i.external_ref, i.active, i.created_at, i.last_seen_at,
		        (SELECT COUNT(*) FROM identity_embeddings e WHERE e.identity_id = i.id) AS face_count
		 FROM identities i `+where+`
		 ORDER BY i.created_at DESC LIMIT $2 OFFSET $3`,
		orgID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	var out []IdentityRow
	for rows.Next() {
		var row IdentityRow
		if err := rows.Scan(&row.ID, &row.OrgID, &row.ExternalRef, &row.Active,
			&row.CreatedAt, &row.LastSeenAt, &row.FaceCount); err != nil {
			return nil, 0, fmt.Errorf("scan identity: %w", err)
		}
		out = append(out, row)
	}
	return out, total, nil
}

// CountIdentities counts active identities in the org, for capacity checks.
func (s *PostgresStore) CountIdentities(ctx context.Context, orgID uuid.UUID) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM identities WHERE org_id = $1 AND active`, orgID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count identities: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) TouchIdentity(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `UPDATE identities SET last_seen_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touch identity: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeactivateIdentity(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `UPDATE identities SET active = false WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deactivate identity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Face embeddings ---

// AddFaceEmbedding inserts one embedding row. A caller-provided ID is kept
// (the register path keys the stored crop by it before inserting).
func (s *PostgresStore) AddFaceEmbedding(ctx context.Context, face *models.FaceEmbedding) error {
	if face.ID == uuid.Nil {
		face.ID = uuid.New()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO identity_embeddings (id, identity_id, embedding, quality, image_key)
		 VALUES ($1, $2, $3, $4, $5) RETURNING created_at`,
		face.ID, face.IdentityID, pgvector.NewVector(face.Embedding), face.Quality, face.ImageKey,
	).Scan(&face.CreatedAt)
	if err != nil {
		return fmt.Errorf("add face embedding: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountFaces(ctx context.Context, identityID uuid.UUID) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM identity_embeddings WHERE identity_id = $1`, identityID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count faces: %w", err)
	}
	return n, nil
}

// EvictOldestFaces deletes every face beyond the newest keep rows and returns
// what was removed so callers can drop index entries and stored crops.
func (s *PostgresStore) EvictOldestFaces(ctx context.Context, identityID uuid.UUID, keep int) ([]FaceRef, error) {
	rows, err := s.pool.Query(ctx,
		`DELETE FROM identity_embeddings
		 WHERE identity_id = $1 AND id IN (
		     SELECT id FROM identity_embeddings
		     WHERE identity_id = $1
		     ORDER BY created_at DESC OFFSET $2
		 ) RETURNING id, image_key`,
		identityID, keep)
	if err != nil {
		return nil, fmt.Errorf("evict faces: %w", err)
	}
	defer rows.Close()

	var evicted []FaceRef
	for rows.Next() {
		var ref FaceRef
		if err := rows.Scan(&ref.ID, &ref.ImageKey); err != nil {
			return nil, fmt.Errorf("scan evicted face: %w", err)
		}
		evicted = append(evicted, ref)
	}
	return evicted, nil
}

func (s *PostgresStore) ListFaces(ctx context.Context, identityID uuid.UUID) ([]models.FaceEmbedding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, identity_id, quality, image_key, created_at
		 FROM identity_embeddings WHERE identity_id = $1 ORDER BY created_at DESC`, identityID)
	if err != nil {
		return nil, fmt.Errorf("list faces: %w", err)
	}
	defer rows.Close()

	var faces []models.FaceEmbedding
	for rows.Next() {
		var face models.FaceEmbedding
		if err := rows.Scan(&face.ID, &face.IdentityID, &face.Quality, &face.ImageKey, &face.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan face: %w", err)
		}
		faces = append(faces, face)
	}
	return faces, nil
}

func (s *PostgresStore) GetFace(ctx context.Context, identityID, faceID uuid.UUID) (*models.FaceEmbedding, error) {
	face := &models.FaceEmbedding{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, identity_id, quality, image_key, created_at
		 FROM identity_embeddings WHERE id = $1 AND identity_id = $2`, faceID, identityID,
	).Scan(&face.ID, &face.IdentityID, &face.Quality, &face.ImageKey, &face.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get face: %w", err)
	}
	return face, nil
}

// DeleteFace removes one face and returns its object key.
func (s *PostgresStore) DeleteFace(ctx context.Context, identityID, faceID uuid.UUID) (string, error) {
	var imageKey string
	err := s.pool.QueryRow(ctx,
		`DELETE FROM identity_embeddings WHERE id = $1 AND identity_id = $2 RETURNING image_key`,
		faceID, identityID,
	).Scan(&imageKey)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("delete face: %w", err)
	}
	return imageKey, nil
}

// DeleteFacesByIdentity removes every face of the identity.
func (s *PostgresStore) DeleteFacesByIdentity(ctx context.Context, identityID uuid.UUID) ([]FaceRef, error) {
	rows, err := s.pool.Query(ctx,
		`DELETE FROM identity_embeddings WHERE identity_id = $1 RETURNING id, image_key`, identityID)
	if err != nil {
		return nil, fmt.Errorf("delete faces: %w", err)
	}
	defer rows.Close()

	var removed []FaceRef
	for rows.Next() {
		var ref FaceRef
		if err := rows.Scan(&ref.ID, &ref.ImageKey); err != nil {
			return nil, fmt.Errorf("scan deleted face: %w", err)
		}
		removed = append(removed, ref)
	}
	return removed, nil
}

// SearchIdentities runs a durable nearest-neighbour search over the org's
// active identities, best distance per identity, ascending.
func (s *PostgresStore) SearchIdentities(ctx context.Context, orgID uuid.UUID, embedding []float32, k int) ([]identity.Candidate, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT e.identity_id, MIN(e.embedding <=> $1) AS distance
		 FROM identity_embeddings e
		 JOIN identities i ON i.id = e.identity_id
		 WHERE i.org_id = $2 AND i.active
		 GROUP BY e.identity_id
		 ORDER BY distance
		 LIMIT $3`,
		pgvector.NewVector(embedding), orgID, k)
	if err != nil {
		return nil, fmt.Errorf("search identities: %w", err)
	}
	defer rows.Close()

	var out []identity.Candidate
	for rows.Next() {
		var cand identity.Candidate
		if err := rows.Scan(&cand.IdentityID, &cand.Distance); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		out = append(out, cand)
	}
	return out, nil
}

// LoadActiveFaces streams every face of every active identity, for index builds.
func (s *PostgresStore) LoadActiveFaces(ctx context.Context) ([]identity.IndexedFace, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT e.id, e.identity_id, i.org_id, e.embedding
		 FROM identity_embeddings e
		 JOIN identities i ON i.id = e.identity_id
		 WHERE i.active`)
	if err != nil {
		return nil, fmt.Errorf("load active faces: %w", err)
	}
	defer rows.Close()

	var faces []identity.IndexedFace
	for rows.Next() {
		var face identity.IndexedFace
		var vec pgvector.Vector
		if err := rows.Scan(&face.EmbeddingID, &face.IdentityID, &face.OrgID, &vec); err != nil {
			return nil, fmt.Errorf("scan indexed face: %w", err)
		}
		face.Embedding = vec.Slice()
		faces = append(faces, face)
	}
	return faces, nil
}
