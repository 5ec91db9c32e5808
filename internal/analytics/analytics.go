// Package analytics recomputes reporting figures from the append-only event
// log. There are no stored counters; every query folds the raw rows again, so
// a report can always be re-derived and never drifts from the log.
package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/your-org/admatch/internal/models"
)

// Input is one period's slice of the log plus the pre-counted first-time
// viewers (a MIN over full history, computed in SQL).
type Input struct {
	From        time.Time
	To          time.Time
	Events      []models.DetectionEvent
	Conversions []models.ConversionRecord
	NewViewers  int
}

type Summary struct {
	TotalViewers   int     `json:"total_viewers"`
	NewViewers     int     `json:"new_viewers"`
	TotalCustomers int     `json:"total_customers"`
	AvgViewTimeMin float64 `json:"average_view_time_minutes"`
}

// Deltas are integer percent changes against the previous equal-length
// period: 0 when both periods are zero, 100 when only the previous is.
type Deltas struct {
	Viewers     int `json:"viewers_percent"`
	NewViewers  int `json:"new_viewers_percent"`
	Customers   int `json:"customers_percent"`
	AvgViewTime int `json:"average_view_time_percent"`
}

type DayStat struct {
	Date           string  `json:"date"`
	DayOfWeek      string  `json:"day_of_week"`
	Viewers        int     `json:"viewers"`
	Customers      int     `json:"customers"`
	AvgViewTimeMin float64 `json:"average_view_time_minutes"`
}

type BillboardStat struct {
	LocationID  string  `json:"location_id"`
	Views       int     `json:"views"`
	Conversions int     `json:"conversions"`
	VisitRate   float64 `json:"visit_rate"`
}

type Report struct {
	Summary    Summary         `json:"summary"`
	Deltas     Deltas          `json:"deltas"`
	Daily      []DayStat       `json:"daily_history"`
	Billboards []BillboardStat `json:"billboards"`
}

// Compute folds the current period into a report, with deltas against the
// previous period. Calendar days follow loc, the org's timezone.
func Compute(current, previous Input, loc *time.Location) Report {
	cur := summarize(current)
	prev := summarize(previous)

	return Report{
		Summary: cur,
		Deltas: Deltas{
			Viewers:     deltaPercent(float64(cur.TotalViewers), float64(prev.TotalViewers)),
			NewViewers:  deltaPercent(float64(cur.NewViewers), float64(prev.NewViewers)),
			Customers:   deltaPercent(float64(cur.TotalCustomers), float64(prev.TotalCustomers)),
			AvgViewTime: deltaPercent(cur.AvgViewTimeMin, prev.AvgViewTimeMin),
		},
		Daily:      dailyHistory(current, loc),
		Billboards: billboardRanking(current),
	}
}

func summarize(in Input) Summary {
	var viewers int
	var dwellSum float64
	customers := make(map[string]struct{})

	for _, ev := range in.Events {
		if ev.Kind == models.EventKindBillboard {
			viewers++
			dwellSum += ev.DwellSeconds
		}
	}
	for _, conv := range in.Conversions {
		if conv.IdentityID != nil {
			customers[conv.IdentityID.String()] = struct{}{}
		}
	}

	var avg float64
	if viewers > 0 {
		avg = round1(dwellSum / float64(viewers) / 60)
	}
	return Summary{
		TotalViewers:   viewers,
		NewViewers:     in.NewViewers,
		TotalCustomers: len(customers),
		AvgViewTimeMin: avg,
	}
}

func deltaPercent(cur, prev float64) int {
	if prev == 0 {
		if cur == 0 {
			return 0
		}
		return 100
	}
	return int(math.Round((cur - prev) / prev * 100))
}

func dailyHistory(in Input, loc *time.Location) []DayStat {
	type bucket struct {
		viewers   int
		dwellSum  float64
		customers map[string]struct{}
	}
	buckets := make(map[string]*bucket)

	day := func(t time.Time) string {
		return t.In(loc).Format("2006-01-02")
	}
	get := func(key string) *bucket {
		b := buckets[key]
		if b == nil {
			b = &bucket{customers: make(map[string]struct{})}
			buckets[key] = b
		}
		return b
	}

	for _, ev := range in.Events {
		if ev.Kind != models.EventKindBillboard {
			continue
		}
		b := get(day(ev.CapturedAt))
		b.viewers++
		b.dwellSum += ev.DwellSeconds
	}
	for _, conv := range in.Conversions {
		if conv.IdentityID != nil {
			get(day(conv.AttributedAt)).customers[conv.IdentityID.String()] = struct{}{}
		}
	}

	// Every calendar day of the period appears, active or not.
	var days []DayStat
	start := in.From.In(loc)
	start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
	for d := start; d.Before(in.To.In(loc)); d = d.AddDate(0, 0, 1) {
		key := d.Format("2006-01-02")
		stat := DayStat{Date: key, DayOfWeek: d.Weekday().String()}
		if b := buckets[key]; b != nil {
			stat.Viewers = b.viewers
			stat.Customers = len(b.customers)
			if b.viewers > 0 {
				stat.AvgViewTimeMin = round1(b.dwellSum / float64(b.viewers) / 60)
			}
		}
		days = append(days, stat)
	}
	return days
}

func billboardRanking(in Input) []BillboardStat {
	views := make(map[string]int)
	convs := make(map[string]int)

	for _, ev := range in.Events {
		if ev.Kind == models.EventKindBillboard {
			views[ev.LocationID]++
		}
	}
	for _, conv := range in.Conversions {
		convs[conv.BillboardLocationID]++
	}

	seen := make(map[string]struct{})
	var stats []BillboardStat
	for loc := range views {
		seen[loc] = struct{}{}
	}
	for loc := range convs {
		seen[loc] = struct{}{}
	}
	for loc := range seen {
		stat := BillboardStat{
			LocationID:  loc,
			Views:       views[loc],
			Conversions: convs[loc],
		}
		if stat.Views > 0 {
			stat.VisitRate = round3(float64(stat.Conversions) / float64(stat.Views))
		}
		stats = append(stats, stat)
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Views != stats[j].Views {
			return stats[i].Views > stats[j].Views
		}
		return stats[i].LocationID < stats[j].LocationID
	})
	return stats
}

func round1(x float64) float64 {
	return math.Round(x*10) / 10
}

func round3(x float64) float64 {
	return math.Round(x*1000) / 1000
}
