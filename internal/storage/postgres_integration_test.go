//go:build integration

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/your-org/admatch/internal/config"
	"github.com/your-org/admatch/internal/models"
)

func setupTestStore(t *testing.T) (*PostgresStore, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil, func() {}
	}
	if container == nil {
		t.Skip("Docker not available, skipping integration test")
		return nil, func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("get container port: %v", err)
	}

	cfg := config.DatabaseConfig{
		Host:     host,
		Port:     port.Int(),
		Name:     "testdb",
		User:     "test",
		Password: "test",
		MaxConns: 5,
	}

	if err := MigrateUp(cfg.DSN()); err != nil {
		container.Terminate(ctx)
		t.Fatalf("run migrations: %v", err)
	}

	store, err := NewPostgresStore(cfg)
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("create store: %v", err)
	}

	cleanup := func() {
		store.Close()
		container.Terminate(ctx)
	}
	return store, cleanup
}

// testEmbedding builds a deterministic 512-dim unit vector.
func testEmbedding(axis int) []float32 {
	v := make([]float32, 512)
	v[axis%512] = 1
	return v
}

// nearEmbedding is close to testEmbedding(axis) but not identical.
func nearEmbedding(axis int) []float32 {
	v := testEmbedding(axis)
	v[(axis+1)%512] = 0.1
	return v
}

func mustCreateOrg(t *testing.T, store *PostgresStore, name string) *models.Organization {
	t.Helper()
	org := &models.Organization{Name: name, Timezone: "UTC"}
	if err := store.CreateOrg(context.Background(), org); err != nil {
		t.Fatalf("create org: %v", err)
	}
	return org
}

func TestIdentityLifecycle(t *testing.T) {
	store, cleanup := setupTestStore(t)
	if store == nil {
		return
	}
	defer cleanup()
	ctx := context.Background()

	org := mustCreateOrg(t, store, "acme")

	ident, err := store.CreateIdentity(ctx, org.ID, nil)
	if err != nil {
		t.Fatalf("create identity: %v", err)
	}
	if !ident.Active {
		t.Fatal("new identity should be active")
	}

	for i := 0; i < 3; i++ {
		face := &models.FaceEmbedding{
			IdentityID: ident.ID,
			Embedding:  nearEmbedding(i),
			Quality:    0.9,
			ImageKey:   FaceKey(uuid.New()),
		}
		if err := store.AddFaceEmbedding(ctx, face); err != nil {
			t.Fatalf("add face %d: %v", i, err)
		}
		time.Sleep(10 * time.Millisecond) // distinct created_at for eviction order
	}

	n, err := store.CountFaces(ctx, ident.ID)
	if err != nil {
		t.Fatalf("count faces: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 faces, got %d", n)
	}

	evicted, err := store.EvictOldestFaces(ctx, ident.ID, 2)
	if err != nil {
		t.Fatalf("evict faces: %v", err)
	}
	if len(evicted) != 1 {
		t.Fatalf("expected 1 evicted face, got %d", len(evicted))
	}

	faces, err := store.ListFaces(ctx, ident.ID)
	if err != nil {
		t.Fatalf("list faces: %v", err)
	}
	if len(faces) != 2 {
		t.Fatalf("expected 2 faces after eviction, got %d", len(faces))
	}

	removed, err := store.DeleteFacesByIdentity(ctx, ident.ID)
	if err != nil {
		t.Fatalf("delete faces: %v", err)
	}
	if len(removed) != 2 {
		t.Fatalf("expected 2 removed faces, got %d", len(removed))
	}

	if err := store.DeactivateIdentity(ctx, ident.ID); err != nil {
		t.Fatalf("deactivate identity: %v", err)
	}
	got, err := store.GetIdentity(ctx, ident.ID)
	if err != nil {
		t.Fatalf("get identity: %v", err)
	}
	if got.Active {
		t.Fatal("identity should be inactive")
	}
}

func TestSearchScopedToOrg(t *testing.T) {
	store, cleanup := setupTestStore(t)
	if store == nil {
		return
	}
	defer cleanup()
	ctx := context.Background()

	orgA := mustCreateOrg(t, store, "org-a")
	orgB := mustCreateOrg(t, store, "org-b")

	identA, err := store.CreateIdentity(ctx, orgA.ID, nil)
	if err != nil {
		t.Fatalf("create identity A: %v", err)
	}
	identB, err := store.CreateIdentity(ctx, orgB.ID, nil)
	if err != nil {
		t.Fatalf("create identity B: %v", err)
	}

	// Same face in both orgs.
	for _, id := range []uuid.UUID{identA.ID, identB.ID} {
		face := &models.FaceEmbedding{IdentityID: id, Embedding: testEmbedding(7), Quality: 0.9}
		if err := store.AddFaceEmbedding(ctx, face); err != nil {
			t.Fatalf("add face: %v", err)
		}
	}

	cands, err := store.SearchIdentities(ctx, orgA.ID, nearEmbedding(7), 5)
	if err != nil {
		t.Fatalf("search identities: %v", err)
	}
	if len(cands) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(cands))
	}
	if cands[0].IdentityID != identA.ID {
		t.Fatalf("search leaked across orgs: got %s", cands[0].IdentityID)
	}
	if cands[0].Distance > 0.05 {
		t.Fatalf("unexpectedly far candidate: %f", cands[0].Distance)
	}

	faces, err := store.LoadActiveFaces(ctx)
	if err != nil {
		t.Fatalf("load active faces: %v", err)
	}
	if len(faces) != 2 {
		t.Fatalf("expected 2 indexed faces, got %d", len(faces))
	}
	for _, f := range faces {
		if len(f.Embedding) != 512 {
			t.Fatalf("expected 512-dim embedding, got %d", len(f.Embedding))
		}
		if f.OrgID != orgA.ID && f.OrgID != orgB.ID {
			t.Fatalf("unexpected org %s", f.OrgID)
		}
	}
}

func TestEventsAndConversions(t *testing.T) {
	store, cleanup := setupTestStore(t)
	if store == nil {
		return
	}
	defer cleanup()
	ctx := context.Background()

	org := mustCreateOrg(t, store, "acme")
	ident, err := store.CreateIdentity(ctx, org.ID, nil)
	if err != nil {
		t.Fatalf("create identity: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	viewer := &models.DetectionEvent{
		OrgID:        org.ID,
		IdentityID:   &ident.ID,
		LocationID:   "billboard-42",
		Kind:         models.EventKindBillboard,
		CapturedAt:   now.Add(-2 * time.Hour),
		EndedAt:      now.Add(-2 * time.Hour).Add(9 * time.Second),
		DwellSeconds: 9,
		MatchStatus:  models.MatchStatusMatched,
	}
	if err := store.InsertDetectionEvent(ctx, viewer); err != nil {
		t.Fatalf("insert viewer event: %v", err)
	}

	visit := &models.DetectionEvent{
		OrgID:        org.ID,
		IdentityID:   &ident.ID,
		LocationID:   "store-1",
		Kind:         models.EventKindStore,
		CapturedAt:   now,
		EndedAt:      now.Add(30 * time.Second),
		DwellSeconds: 30,
		MatchStatus:  models.MatchStatusMatched,
	}
	if err := store.InsertDetectionEvent(ctx, visit); err != nil {
		t.Fatalf("insert visit event: %v", err)
	}

	latest, err := store.LatestBillboardEvent(ctx, org.ID, ident.ID, now.Add(-48*time.Hour), now)
	if err != nil {
		t.Fatalf("latest billboard event: %v", err)
	}
	if latest == nil || latest.ID != viewer.ID {
		t.Fatalf("expected viewer event %s, got %+v", viewer.ID, latest)
	}

	conv := &models.ConversionRecord{
		OrgID:               org.ID,
		IdentityID:          &ident.ID,
		BillboardLocationID: viewer.LocationID,
		StoreLocationID:     visit.LocationID,
		ViewerEventID:       viewer.ID,
		VisitEventID:        visit.ID,
		ViewedAt:            viewer.CapturedAt,
		VisitedAt:           visit.CapturedAt,
		AttributedAt:        now,
	}
	inserted, err := store.InsertConversion(ctx, conv)
	if err != nil {
		t.Fatalf("insert conversion: %v", err)
	}
	if !inserted {
		t.Fatal("first insert should succeed")
	}

	// Redelivery of the same visit event must be a no-op.
	dup := *conv
	inserted, err = store.InsertConversion(ctx, &dup)
	if err != nil {
		t.Fatalf("reinsert conversion: %v", err)
	}
	if inserted {
		t.Fatal("duplicate visit event must not convert twice")
	}

	recent, err := store.HasRecentConversion(ctx, org.ID, ident.ID, viewer.LocationID, visit.LocationID, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("check recent conversion: %v", err)
	}
	if !recent {
		t.Fatal("expected cooldown hit")
	}

	events, total, err := store.QueryDetectionEvents(ctx, org.ID, EventFilter{
		Kind: models.EventKindBillboard, Limit: 10,
	})
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	if total != 1 || len(events) != 1 {
		t.Fatalf("expected 1 billboard event, got total=%d len=%d", total, len(events))
	}

	newViewers, err := store.IdentitiesFirstSeenIn(ctx, org.ID, now.Add(-3*time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("count first seen: %v", err)
	}
	if newViewers != 1 {
		t.Fatalf("expected 1 new viewer, got %d", newViewers)
	}

	deleted, err := store.DeleteEventsBefore(ctx, org.ID, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("delete old events: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted event, got %d", deleted)
	}
}
