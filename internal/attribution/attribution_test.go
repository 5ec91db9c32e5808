package attribution

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/admatch/internal/models"
)

type fakeStore struct {
	viewer    *models.DetectionEvent
	viewerErr error
	recent    bool
	accepted  bool

	gotSince    time.Time
	gotUntil    time.Time
	gotCooldown time.Time
	gotConv     *models.ConversionRecord
}

func (f *fakeStore) LatestBillboardEvent(_ context.Context, _, _ uuid.UUID, since, until time.Time) (*models.DetectionEvent, error) {
	f.gotSince, f.gotUntil = since, until
	return f.viewer, f.viewerErr
}

func (f *fakeStore) HasRecentConversion(_ context.Context, _, _ uuid.UUID, _, _ string, since time.Time) (bool, error) {
	f.gotCooldown = since
	return f.recent, nil
}

func (f *fakeStore) InsertConversion(_ context.Context, conv *models.ConversionRecord) (bool, error) {
	f.gotConv = conv
	return f.accepted, nil
}

var testPolicy = Policy{Lookback: 48 * time.Hour, Cooldown: 24 * time.Hour}

func testEngine(store Store) *Engine {
	return NewEngine(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func storeVisit(identityID *uuid.UUID, status models.MatchStatus, at time.Time) *models.DetectionEvent {
	return &models.DetectionEvent{
		ID:          uuid.New(),
		OrgID:       uuid.New(),
		IdentityID:  identityID,
		LocationID:  "store-1",
		Kind:        models.EventKindStore,
		CapturedAt:  at,
		EndedAt:     at,
		MatchStatus: status,
	}
}

func billboardViewing(orgID, identityID uuid.UUID, at time.Time) *models.DetectionEvent {
	return &models.DetectionEvent{
		ID:          uuid.New(),
		OrgID:       orgID,
		IdentityID:  &identityID,
		LocationID:  "billboard-7",
		Kind:        models.EventKindBillboard,
		CapturedAt:  at,
		MatchStatus: models.MatchStatusMatched,
	}
}

func TestAttributeSuccess(t *testing.T) {
	now := time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC)
	identityID := uuid.New()
	visit := storeVisit(&identityID, models.MatchStatusMatched, now)
	viewing := billboardViewing(visit.OrgID, identityID, now.Add(-3*time.Hour))

	store := &fakeStore{viewer: viewing, accepted: true}
	conv, err := testEngine(store).Attribute(context.Background(), visit, testPolicy)
	if err != nil {
		t.Fatalf("attribute: %v", err)
	}
	if conv == nil {
		t.Fatal("expected a conversion")
	}
	if conv.BillboardLocationID != "billboard-7" || conv.StoreLocationID != "store-1" {
		t.Errorf("locations = %s/%s", conv.BillboardLocationID, conv.StoreLocationID)
	}
	if conv.ViewerEventID != viewing.ID || conv.VisitEventID != visit.ID {
		t.Error("event references wrong")
	}
	if !conv.ViewedAt.Equal(viewing.CapturedAt) || !conv.VisitedAt.Equal(visit.CapturedAt) {
		t.Error("timestamps wrong")
	}

	// Both windows anchor on the visit's capture time.
	if !store.gotSince.Equal(now.Add(-48 * time.Hour)) {
		t.Errorf("lookback since = %s", store.gotSince)
	}
	if !store.gotUntil.Equal(now) {
		t.Errorf("lookback until = %s", store.gotUntil)
	}
	if !store.gotCooldown.Equal(now.Add(-24 * time.Hour)) {
		t.Errorf("cooldown since = %s", store.gotCooldown)
	}
}

func TestAttributeSkipsNonCandidates(t *testing.T) {
	now := time.Now().UTC()
	identityID := uuid.New()

	billboard := storeVisit(&identityID, models.MatchStatusMatched, now)
	billboard.Kind = models.EventKindBillboard

	tests := []struct {
		name  string
		visit *models.DetectionEvent
	}{
		{"billboard event", billboard},
		{"no identity", storeVisit(nil, models.MatchStatusUnmatched, now)},
		{"ambiguous match", storeVisit(&identityID, models.MatchStatusAmbiguous, now)},
		{"enrolled without zero-prior policy", storeVisit(&identityID, models.MatchStatusEnrolled, now)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{accepted: true}
			conv, err := testEngine(store).Attribute(context.Background(), tt.visit, testPolicy)
			if err != nil {
				t.Fatalf("attribute: %v", err)
			}
			if conv != nil {
				t.Fatal("expected no conversion")
			}
			if store.gotConv != nil {
				t.Fatal("store must not be written")
			}
		})
	}
}

func TestAttributeEnrolledWithZeroPriorPolicy(t *testing.T) {
	now := time.Now().UTC()
	identityID := uuid.New()
	visit := storeVisit(&identityID, models.MatchStatusEnrolled, now)
	viewing := billboardViewing(visit.OrgID, identityID, now.Add(-time.Hour))

	pol := testPolicy
	pol.AllowNewIdentity = true

	store := &fakeStore{viewer: viewing, accepted: true}
	conv, err := testEngine(store).Attribute(context.Background(), visit, pol)
	if err != nil {
		t.Fatalf("attribute: %v", err)
	}
	if conv == nil {
		t.Fatal("zero-prior policy must allow enrolled identities")
	}
}

func TestAttributeNoPriorViewing(t *testing.T) {
	identityID := uuid.New()
	visit := storeVisit(&identityID, models.MatchStatusMatched, time.Now().UTC())

	store := &fakeStore{viewer: nil, accepted: true}
	conv, err := testEngine(store).Attribute(context.Background(), visit, testPolicy)
	if err != nil {
		t.Fatalf("attribute: %v", err)
	}
	if conv != nil {
		t.Fatal("expected no conversion without a prior viewing")
	}
}

func TestAttributeCooldownSuppresses(t *testing.T) {
	now := time.Now().UTC()
	identityID := uuid.New()
	visit := storeVisit(&identityID, models.MatchStatusMatched, now)
	viewing := billboardViewing(visit.OrgID, identityID, now.Add(-time.Hour))

	store := &fakeStore{viewer: viewing, recent: true, accepted: true}
	conv, err := testEngine(store).Attribute(context.Background(), visit, testPolicy)
	if err != nil {
		t.Fatalf("attribute: %v", err)
	}
	if conv != nil {
		t.Fatal("cooldown must suppress repeat conversions")
	}
	if store.gotConv != nil {
		t.Fatal("store must not be written during cooldown")
	}
}

func TestAttributeRedeliveryIsNoOp(t *testing.T) {
	now := time.Now().UTC()
	identityID := uuid.New()
	visit := storeVisit(&identityID, models.MatchStatusMatched, now)
	viewing := billboardViewing(visit.OrgID, identityID, now.Add(-time.Hour))

	store := &fakeStore{viewer: viewing, accepted: false}
	conv, err := testEngine(store).Attribute(context.Background(), visit, testPolicy)
	if err != nil {
		t.Fatalf("attribute: %v", err)
	}
	if conv != nil {
		t.Fatal("duplicate insert must report nothing attributed")
	}
}

func TestAttributeStorageErrorSurfaces(t *testing.T) {
	identityID := uuid.New()
	visit := storeVisit(&identityID, models.MatchStatusMatched, time.Now().UTC())

	store := &fakeStore{viewerErr: errors.New("connection refused")}
	if _, err := testEngine(store).Attribute(context.Background(), visit, testPolicy); err == nil {
		t.Fatal("expected storage error to surface")
	}
}
