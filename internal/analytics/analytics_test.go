package analytics

import (
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/admatch/internal/models"
)

func billboardEvent(loc string, at time.Time, dwellSec float64) models.DetectionEvent {
	return models.DetectionEvent{
		ID:           uuid.New(),
		LocationID:   loc,
		Kind:         models.EventKindBillboard,
		CapturedAt:   at,
		DwellSeconds: dwellSec,
	}
}

func storeEvent(loc string, at time.Time) models.DetectionEvent {
	return models.DetectionEvent{
		ID:         uuid.New(),
		LocationID: loc,
		Kind:       models.EventKindStore,
		CapturedAt: at,
	}
}

func conversion(identityID *uuid.UUID, billboardLoc string, at time.Time) models.ConversionRecord {
	return models.ConversionRecord{
		ID:                  uuid.New(),
		IdentityID:          identityID,
		BillboardLocationID: billboardLoc,
		StoreLocationID:     "store-1",
		AttributedAt:        at,
	}
}

func TestSummary(t *testing.T) {
	from := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 7)
	alice := uuid.New()

	in := Input{
		From: from,
		To:   to,
		Events: []models.DetectionEvent{
			billboardEvent("b1", from.Add(time.Hour), 60),
			billboardEvent("b1", from.Add(2*time.Hour), 120),
			billboardEvent("b2", from.Add(3*time.Hour), 0),
			storeEvent("s1", from.Add(4*time.Hour)), // store visits are not viewers
		},
		Conversions: []models.ConversionRecord{
			conversion(&alice, "b1", from.Add(5*time.Hour)),
			conversion(&alice, "b2", from.Add(6*time.Hour)), // same person converts twice
		},
		NewViewers: 2,
	}

	report := Compute(in, Input{From: from.AddDate(0, 0, -7), To: from}, time.UTC)
	s := report.Summary
	if s.TotalViewers != 3 {
		t.Errorf("viewers = %d, want 3", s.TotalViewers)
	}
	if s.NewViewers != 2 {
		t.Errorf("new viewers = %d, want 2", s.NewViewers)
	}
	if s.TotalCustomers != 1 {
		t.Errorf("customers = %d, want 1 distinct identity", s.TotalCustomers)
	}
	// (60+120+0)/3 = 60s = 1.0 minutes
	if s.AvgViewTimeMin != 1.0 {
		t.Errorf("avg view time = %f, want 1.0", s.AvgViewTimeMin)
	}
}

func TestCustomersIgnoreAnonymousConversions(t *testing.T) {
	from := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	in := Input{
		From:        from,
		To:          from.AddDate(0, 0, 1),
		Conversions: []models.ConversionRecord{conversion(nil, "b1", from.Add(time.Hour))},
	}
	report := Compute(in, Input{}, time.UTC)
	if report.Summary.TotalCustomers != 0 {
		t.Errorf("customers = %d, want 0", report.Summary.TotalCustomers)
	}
}

func TestDeltaPercent(t *testing.T) {
	tests := []struct {
		cur, prev float64
		want      int
	}{
		{0, 0, 0},
		{5, 0, 100},
		{0, 5, -100},
		{10, 5, 100},
		{5, 10, -50},
		{7, 3, 133},
		{1.5, 1.0, 50},
	}
	for _, tt := range tests {
		if got := deltaPercent(tt.cur, tt.prev); got != tt.want {
			t.Errorf("deltaPercent(%v, %v) = %d, want %d", tt.cur, tt.prev, got, tt.want)
		}
	}
}

func TestDailyBucketingUsesOrgTimezone(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	// Period is June 1-2 local time.
	from := time.Date(2025, 6, 1, 5, 0, 0, 0, time.UTC)
	to := time.Date(2025, 6, 3, 5, 0, 0, 0, time.UTC)

	in := Input{
		From: from,
		To:   to,
		Events: []models.DetectionEvent{
			// 03:00 UTC on June 2 is 22:00 June 1 local.
			billboardEvent("b1", time.Date(2025, 6, 2, 3, 0, 0, 0, time.UTC), 30),
			// 15:00 UTC on June 2 is 10:00 June 2 local.
			billboardEvent("b1", time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC), 30),
		},
	}

	report := Compute(in, Input{}, loc)
	if len(report.Daily) != 2 {
		t.Fatalf("expected 2 days, got %d", len(report.Daily))
	}
	d1, d2 := report.Daily[0], report.Daily[1]
	if d1.Date != "2025-06-01" || d2.Date != "2025-06-02" {
		t.Fatalf("dates = %s, %s", d1.Date, d2.Date)
	}
	if d1.DayOfWeek != "Sunday" || d2.DayOfWeek != "Monday" {
		t.Errorf("weekdays = %s, %s", d1.DayOfWeek, d2.DayOfWeek)
	}
	if d1.Viewers != 1 || d2.Viewers != 1 {
		t.Errorf("viewers = %d, %d, want 1 each (UTC bucketing would give 0, 2)", d1.Viewers, d2.Viewers)
	}
}

func TestDailyIncludesQuietDays(t *testing.T) {
	from := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 3)

	in := Input{
		From:   from,
		To:     to,
		Events: []models.DetectionEvent{billboardEvent("b1", from.AddDate(0, 0, 1).Add(time.Hour), 45)},
	}
	report := Compute(in, Input{}, time.UTC)
	if len(report.Daily) != 3 {
		t.Fatalf("expected 3 days, got %d", len(report.Daily))
	}
	if report.Daily[0].Viewers != 0 || report.Daily[2].Viewers != 0 {
		t.Error("quiet days must appear with zero counts")
	}
	if report.Daily[1].Viewers != 1 {
		t.Errorf("active day viewers = %d, want 1", report.Daily[1].Viewers)
	}
}

func TestBillboardRanking(t *testing.T) {
	from := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	alice := uuid.New()

	var events []models.DetectionEvent
	for i := 0; i < 5; i++ {
		events = append(events, billboardEvent("b-busy", from.Add(time.Duration(i)*time.Hour), 10))
	}
	for i := 0; i < 3; i++ {
		events = append(events, billboardEvent("b-mid", from.Add(time.Duration(i)*time.Hour), 10))
	}
	events = append(events, billboardEvent("b-slow", from, 10))

	in := Input{
		From:   from,
		To:     from.AddDate(0, 0, 1),
		Events: events,
		Conversions: []models.ConversionRecord{
			conversion(&alice, "b-mid", from.Add(time.Hour)),
		},
	}

	report := Compute(in, Input{}, time.UTC)
	if len(report.Billboards) != 3 {
		t.Fatalf("expected 3 billboards, got %d", len(report.Billboards))
	}
	if report.Billboards[0].LocationID != "b-busy" ||
		report.Billboards[1].LocationID != "b-mid" ||
		report.Billboards[2].LocationID != "b-slow" {
		t.Fatalf("ranking order wrong: %+v", report.Billboards)
	}
	mid := report.Billboards[1]
	if mid.Conversions != 1 {
		t.Errorf("b-mid conversions = %d, want 1", mid.Conversions)
	}
	if mid.VisitRate != 0.333 {
		t.Errorf("b-mid visit rate = %f, want 0.333", mid.VisitRate)
	}
}

func TestComputeIsDeterministic(t *testing.T) {
	from := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	alice, bob := uuid.New(), uuid.New()

	in := Input{
		From: from,
		To:   from.AddDate(0, 0, 2),
		Events: []models.DetectionEvent{
			billboardEvent("b1", from.Add(time.Hour), 30),
			billboardEvent("b2", from.Add(2*time.Hour), 30),
			billboardEvent("b1", from.AddDate(0, 0, 1), 90),
		},
		Conversions: []models.ConversionRecord{
			conversion(&alice, "b1", from.Add(3*time.Hour)),
			conversion(&bob, "b2", from.Add(4*time.Hour)),
		},
		NewViewers: 1,
	}
	prev := Input{From: from.AddDate(0, 0, -2), To: from}

	first := Compute(in, prev, time.UTC)
	second := Compute(in, prev, time.UTC)
	if !reflect.DeepEqual(first, second) {
		t.Fatal("recomputation over the unchanged log must be identical")
	}
}
