package handlers

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/admatch/internal/apperr"
	"github.com/your-org/admatch/internal/models"
	"github.com/your-org/admatch/internal/queue"
	"github.com/your-org/admatch/internal/storage"
	"github.com/your-org/admatch/pkg/dto"
)

// CaptureHandler ingests billboard dwell and store entrance captures. Both
// paths are asynchronous: the image is staged, a task is queued, and the
// device gets a 202 without waiting for matching.
type CaptureHandler struct {
	db       *storage.PostgresStore
	objects  *storage.MinIOStore
	producer *queue.Producer
}

func NewCaptureHandler(db *storage.PostgresStore, objects *storage.MinIOStore, producer *queue.Producer) *CaptureHandler {
	return &CaptureHandler{db: db, objects: objects, producer: producer}
}

// camera resolves the submitting device and checks it belongs to the
// claimed org and points the right way.
func (h *CaptureHandler) camera(c *gin.Context, orgRaw, camRaw string, kind models.EventKind) (*models.Camera, error) {
	orgID, err := parseUUID(orgRaw, "org_id")
	if err != nil {
		return nil, err
	}
	camID, err := parseUUID(camRaw, "camera_id")
	if err != nil {
		return nil, err
	}

	cam, err := h.db.GetCamera(c.Request.Context(), camID)
	if err != nil {
		return nil, err
	}
	if cam == nil {
		return nil, apperr.Newf(apperr.CodeInvalidRequest, "camera not registered")
	}
	if cam.OrgID != orgID {
		return nil, apperr.New(apperr.CodeCrossOrgAccess)
	}
	if cam.Kind != kind {
		return nil, apperr.Newf(apperr.CodeInvalidRequest, "camera %s is a %s device", cam.ID, cam.Kind)
	}
	return cam, nil
}

func (h *CaptureHandler) enqueue(c *gin.Context, task *models.CaptureTask) {
	file, _, err := c.Request.FormFile("image")
	if err != nil {
		respondError(c, apperr.Newf(apperr.CodeInvalidRequest, "image file required"))
		return
	}
	defer file.Close()

	imageData, err := io.ReadAll(io.LimitReader(file, maxImageBytes+1))
	if err != nil {
		respondError(c, apperr.Wrap(apperr.CodeInvalidRequest, err))
		return
	}
	if len(imageData) > maxImageBytes {
		respondError(c, apperr.Newf(apperr.CodeInvalidImage, "image exceeds %d bytes", maxImageBytes))
		return
	}

	task.ImageRef = storage.InboxKey(task.TaskID)
	if err := h.objects.PutObject(c.Request.Context(), task.ImageRef, imageData, "image/jpeg"); err != nil {
		respondError(c, apperr.Wrap(apperr.CodeServiceUnavailable, err))
		return
	}
	if err := h.producer.PublishCapture(c.Request.Context(), task); err != nil {
		respondError(c, apperr.Wrap(apperr.CodeServiceUnavailable, err))
		return
	}

	c.JSON(http.StatusAccepted, dto.CaptureAccepted{
		TaskID:     task.TaskID,
		AcceptedAt: ts(time.Now()),
	})
}

// Viewer ingests one billboard dwell capture.
func (h *CaptureHandler) Viewer(c *gin.Context) {
	var form dto.ViewerCaptureForm
	if err := c.ShouldBind(&form); err != nil {
		respondError(c, apperr.Wrap(apperr.CodeInvalidRequest, err))
		return
	}

	cam, err := h.camera(c, form.OrgID, form.CameraID, models.EventKindBillboard)
	if err != nil {
		respondError(c, err)
		return
	}
	startedAt, err := parseRFC3339(form.StartedAt, "started_at")
	if err != nil {
		respondError(c, err)
		return
	}
	endedAt, err := parseRFC3339(form.EndedAt, "ended_at")
	if err != nil {
		respondError(c, err)
		return
	}
	if endedAt.Before(startedAt) {
		respondError(c, apperr.Newf(apperr.CodeInvalidRequest, "ended_at precedes started_at"))
		return
	}

	h.enqueue(c, &models.CaptureTask{
		TaskID:       uuid.New(),
		OrgID:        cam.OrgID,
		CameraID:     &cam.ID,
		LocationID:   cam.LocationID,
		Kind:         models.EventKindBillboard,
		CapturedAt:   startedAt,
		EndedAt:      &endedAt,
		DwellSeconds: endedAt.Sub(startedAt).Seconds(),
	})
}

// Visit ingests one store entrance capture.
func (h *CaptureHandler) Visit(c *gin.Context) {
	var form dto.VisitCaptureForm
	if err := c.ShouldBind(&form); err != nil {
		respondError(c, apperr.Wrap(apperr.CodeInvalidRequest, err))
		return
	}

	cam, err := h.camera(c, form.OrgID, form.CameraID, models.EventKindStore)
	if err != nil {
		respondError(c, err)
		return
	}
	capturedAt, err := parseRFC3339(form.CapturedAt, "captured_at")
	if err != nil {
		respondError(c, err)
		return
	}

	h.enqueue(c, &models.CaptureTask{
		TaskID:     uuid.New(),
		OrgID:      cam.OrgID,
		CameraID:   &cam.ID,
		LocationID: cam.LocationID,
		Kind:       models.EventKindStore,
		CapturedAt: capturedAt,
	})
}
