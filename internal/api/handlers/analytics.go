package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/your-org/admatch/internal/analytics"
	"github.com/your-org/admatch/internal/apperr"
	"github.com/your-org/admatch/internal/storage"
	"github.com/your-org/admatch/pkg/dto"
)

// AnalyticsHandler recomputes the report from the event log on every
// query. Nothing here is cached or pre-aggregated.
type AnalyticsHandler struct {
	db              *storage.PostgresStore
	defaultTimezone string
}

func NewAnalyticsHandler(db *storage.PostgresStore, defaultTimezone string) *AnalyticsHandler {
	return &AnalyticsHandler{db: db, defaultTimezone: defaultTimezone}
}

func (h *AnalyticsHandler) Get(c *gin.Context) {
	var q dto.AnalyticsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, apperr.Wrap(apperr.CodeInvalidRequest, err))
		return
	}
	orgID, err := parseUUID(q.OrgID, "org_id")
	if err != nil {
		respondError(c, err)
		return
	}

	org, err := h.db.GetOrg(c.Request.Context(), orgID)
	if err != nil {
		respondError(c, err)
		return
	}
	if org == nil {
		respondError(c, apperr.New(apperr.CodeOrgNotFound))
		return
	}

	tz := org.Timezone
	if tz == "" {
		tz = h.defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}

	from, err := parseDate(q.StartDate, "start_date", loc)
	if err != nil {
		respondError(c, err)
		return
	}
	endDay, err := parseDate(q.EndDate, "end_date", loc)
	if err != nil {
		respondError(c, err)
		return
	}
	// End date is inclusive: the period runs to the following midnight.
	to := endDay.AddDate(0, 0, 1)
	if !to.After(from) {
		respondError(c, apperr.Newf(apperr.CodeInvalidRequest, "end_date precedes start_date"))
		return
	}

	// Previous period of equal length, immediately before.
	span := to.Sub(from)
	prevFrom := from.Add(-span)

	current := analytics.Input{From: from, To: to}
	previous := analytics.Input{From: prevFrom, To: from}

	g, ctx := errgroup.WithContext(c.Request.Context())
	g.Go(func() error { return h.loadInput(ctx, orgID, &current) })
	g.Go(func() error { return h.loadInput(ctx, orgID, &previous) })
	if err := g.Wait(); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, analytics.Compute(current, previous, loc))
}

func (h *AnalyticsHandler) loadInput(ctx context.Context, orgID uuid.UUID, in *analytics.Input) error {
	events, err := h.db.EventsInRange(ctx, orgID, in.From, in.To)
	if err != nil {
		return err
	}
	convs, err := h.db.ConversionsInRange(ctx, orgID, in.From, in.To)
	if err != nil {
		return err
	}
	newViewers, err := h.db.IdentitiesFirstSeenIn(ctx, orgID, in.From, in.To)
	if err != nil {
		return err
	}
	in.Events = events
	in.Conversions = convs
	in.NewViewers = newViewers
	return nil
}

func parseDate(s, field string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", s, loc)
	if err != nil {
		return time.Time{}, apperr.Newf(apperr.CodeInvalidRequest, "%s must be YYYY-MM-DD", field)
	}
	return t, nil
}
