package dedup

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/admatch/internal/models"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// faceA and faceB are far apart; faceA2 is a noisy variant of faceA.
func faceA() []float32  { return []float32{1, 0, 0, 0} }
func faceA2() []float32 { return []float32{0.95, 0.1, 0, 0} }
func faceB() []float32  { return []float32{0, 1, 0, 0} }

func capture(orgID uuid.UUID, loc string, emb []float32, quality float32, start time.Time, dwell time.Duration) Capture {
	return Capture{
		OrgID:      orgID,
		LocationID: loc,
		Kind:       models.EventKindBillboard,
		Embedding:  emb,
		Quality:    quality,
		Start:      start,
		End:        start.Add(dwell),
	}
}

func TestFirstCaptureOpensSession(t *testing.T) {
	d := New(8*time.Second, 0.45)
	org := uuid.New()

	closed := d.Observe(capture(org, "b1", faceA(), 0.8, base, 3*time.Second))
	if closed != nil {
		t.Fatal("first capture must not close a session")
	}
	if d.OpenSessions() != 1 {
		t.Fatalf("expected 1 open session, got %d", d.OpenSessions())
	}
}

func TestMatchingCaptureMerges(t *testing.T) {
	d := New(8*time.Second, 0.45)
	org := uuid.New()

	d.Observe(capture(org, "b1", faceA(), 0.8, base, 3*time.Second))
	closed := d.Observe(capture(org, "b1", faceA2(), 0.6, base.Add(5*time.Second), 4*time.Second))
	if closed != nil {
		t.Fatal("matching capture within window must merge, not close")
	}
	if d.OpenSessions() != 1 {
		t.Fatalf("expected 1 open session, got %d", d.OpenSessions())
	}

	// Dwell now spans first start to second end.
	sessions := d.Sweep(base.Add(time.Minute))
	if len(sessions) != 1 {
		t.Fatalf("expected 1 swept session, got %d", len(sessions))
	}
	s := sessions[0]
	if s.Dwell() != 9*time.Second {
		t.Errorf("dwell = %s, want 9s", s.Dwell())
	}
	if s.Captures != 2 {
		t.Errorf("captures = %d, want 2", s.Captures)
	}
}

func TestBestQualityRepresentativeKept(t *testing.T) {
	d := New(8*time.Second, 0.45)
	org := uuid.New()

	d.Observe(capture(org, "b1", faceA(), 0.5, base, time.Second))
	d.Observe(capture(org, "b1", faceA2(), 0.9, base.Add(2*time.Second), time.Second))

	sessions := d.Sweep(base.Add(time.Minute))
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}
	if sessions[0].Quality != 0.9 {
		t.Errorf("quality = %f, want 0.9", sessions[0].Quality)
	}
	if sessions[0].Embedding[0] != faceA2()[0] {
		t.Error("representative embedding not replaced by higher-quality capture")
	}
}

func TestDifferentFaceClosesAndReopens(t *testing.T) {
	d := New(8*time.Second, 0.45)
	org := uuid.New()

	d.Observe(capture(org, "b1", faceA(), 0.8, base, 3*time.Second))
	closed := d.Observe(capture(org, "b1", faceB(), 0.8, base.Add(2*time.Second), time.Second))
	if closed == nil {
		t.Fatal("different face must close the open session")
	}
	if closed.Dwell() != 3*time.Second {
		t.Errorf("closed dwell = %s, want 3s", closed.Dwell())
	}
	// The non-matching capture opened the next session.
	if d.OpenSessions() != 1 {
		t.Fatalf("expected 1 open session after reopen, got %d", d.OpenSessions())
	}
}

func TestWindowExpiryClosesOnNextCapture(t *testing.T) {
	d := New(8*time.Second, 0.45)
	org := uuid.New()

	d.Observe(capture(org, "b1", faceA(), 0.8, base, 3*time.Second))
	// Same face, but past the suppression window: separate sighting.
	closed := d.Observe(capture(org, "b1", faceA(), 0.8, base.Add(30*time.Second), 2*time.Second))
	if closed == nil {
		t.Fatal("stale session must close when the next capture arrives")
	}
	if closed.Captures != 1 {
		t.Errorf("closed captures = %d, want 1", closed.Captures)
	}
}

func TestSweepClosesOnlyExpired(t *testing.T) {
	d := New(8*time.Second, 0.45)
	org := uuid.New()

	d.Observe(capture(org, "b1", faceA(), 0.8, base, time.Second))
	d.Observe(capture(org, "b2", faceB(), 0.8, base.Add(9*time.Second), time.Second))

	closed := d.Sweep(base.Add(11 * time.Second))
	if len(closed) != 1 {
		t.Fatalf("expected 1 expired session, got %d", len(closed))
	}
	if closed[0].LocationID != "b1" {
		t.Errorf("swept wrong session: %s", closed[0].LocationID)
	}
	if d.OpenSessions() != 1 {
		t.Fatalf("expected 1 session left open, got %d", d.OpenSessions())
	}
}

func TestSessionsScopedPerOrgAndLocation(t *testing.T) {
	d := New(8*time.Second, 0.45)
	orgA := uuid.New()
	orgB := uuid.New()

	// Same location id and same face in two orgs: independent sessions.
	d.Observe(capture(orgA, "b1", faceA(), 0.8, base, time.Second))
	closed := d.Observe(capture(orgB, "b1", faceA(), 0.8, base.Add(time.Second), time.Second))
	if closed != nil {
		t.Fatal("capture in another org must not touch this org's session")
	}
	if d.OpenSessions() != 2 {
		t.Fatalf("expected 2 open sessions, got %d", d.OpenSessions())
	}

	// Different locations in one org are independent too.
	d.Observe(capture(orgA, "b2", faceA(), 0.8, base.Add(2*time.Second), time.Second))
	if d.OpenSessions() != 3 {
		t.Fatalf("expected 3 open sessions, got %d", d.OpenSessions())
	}
}

func TestExactlyOneEventPerSession(t *testing.T) {
	d := New(8*time.Second, 0.45)
	org := uuid.New()

	for i := 0; i < 5; i++ {
		if closed := d.Observe(capture(org, "b1", faceA(), 0.8, base.Add(time.Duration(i)*time.Second), time.Second)); closed != nil {
			t.Fatal("merging captures must not emit")
		}
	}

	first := d.Sweep(base.Add(time.Minute))
	second := d.Sweep(base.Add(2 * time.Minute))
	if len(first) != 1 || len(second) != 0 {
		t.Fatalf("expected exactly one emission, got %d then %d", len(first), len(second))
	}
	if first[0].Dwell() != 5*time.Second {
		t.Errorf("dwell = %s, want 5s", first[0].Dwell())
	}
}
