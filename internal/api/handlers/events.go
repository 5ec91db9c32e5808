package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/admatch/internal/apperr"
	"github.com/your-org/admatch/internal/models"
	"github.com/your-org/admatch/internal/storage"
	"github.com/your-org/admatch/pkg/dto"
)

type EventHandler struct {
	db *storage.PostgresStore
}

func NewEventHandler(db *storage.PostgresStore) *EventHandler {
	return &EventHandler{db: db}
}

func optionalTime(s, field string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := parseRFC3339(s, field)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (h *EventHandler) List(c *gin.Context) {
	var q dto.EventsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, apperr.Wrap(apperr.CodeInvalidRequest, err))
		return
	}
	orgID, err := parseUUID(q.OrgID, "org_id")
	if err != nil {
		respondError(c, err)
		return
	}
	from, err := optionalTime(q.From, "from")
	if err != nil {
		respondError(c, err)
		return
	}
	to, err := optionalTime(q.To, "to")
	if err != nil {
		respondError(c, err)
		return
	}
	page, limit, offset := q.Normalize()

	events, total, err := h.db.QueryDetectionEvents(c.Request.Context(), orgID, storage.EventFilter{
		Kind:       models.EventKind(q.Kind),
		LocationID: q.LocationID,
		From:       from,
		To:         to,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.Page[models.DetectionEvent]{
		Items: events,
		Meta:  dto.NewPageMeta(page, limit, total),
	})
}

func (h *EventHandler) Get(c *gin.Context) {
	id, err := parseUUID(c.Param("id"), "event id")
	if err != nil {
		respondError(c, err)
		return
	}
	orgID, err := parseUUID(c.Query("org_id"), "org_id")
	if err != nil {
		respondError(c, err)
		return
	}

	// Scoped by org in the query, so a foreign event id reads as absent.
	ev, err := h.db.GetDetectionEvent(c.Request.Context(), orgID, id)
	if err != nil {
		respondError(c, err)
		return
	}
	if ev == nil {
		respondError(c, apperr.New(apperr.CodeEventNotFound))
		return
	}
	c.JSON(http.StatusOK, ev)
}

func (h *EventHandler) ListConversions(c *gin.Context) {
	var q dto.ConversionsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, apperr.Wrap(apperr.CodeInvalidRequest, err))
		return
	}
	orgID, err := parseUUID(q.OrgID, "org_id")
	if err != nil {
		respondError(c, err)
		return
	}
	from, err := optionalTime(q.From, "from")
	if err != nil {
		respondError(c, err)
		return
	}
	to, err := optionalTime(q.To, "to")
	if err != nil {
		respondError(c, err)
		return
	}
	page, limit, offset := q.Normalize()

	convs, total, err := h.db.QueryConversions(c.Request.Context(), orgID, from, to, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.Page[models.ConversionRecord]{
		Items: convs,
		Meta:  dto.NewPageMeta(page, limit, total),
	})
}
