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

// maxImageBytes caps capture uploads; anything larger is not a face photo.
const maxImageBytes = 10 << 20

type FaceHandler struct {
	db      *storage.PostgresStore
	objects *storage.MinIOStore
	rpc     *queue.RPCClient
}

func NewFaceHandler(db *storage.PostgresStore, objects *storage.MinIOStore, rpc *queue.RPCClient) *FaceHandler {
	return &FaceHandler{db: db, objects: objects, rpc: rpc}
}

// stageImage reads the multipart image and parks it in the inbox for the
// worker. The worker deletes it after extraction, whatever the outcome.
func (h *FaceHandler) stageImage(c *gin.Context) (string, error) {
	file, _, err := c.Request.FormFile("image")
	if err != nil {
		return "", apperr.Newf(apperr.CodeInvalidRequest, "image file required")
	}
	defer file.Close()

	imageData, err := io.ReadAll(io.LimitReader(file, maxImageBytes+1))
	if err != nil {
		return "", apperr.Wrap(apperr.CodeInvalidRequest, err)
	}
	if len(imageData) > maxImageBytes {
		return "", apperr.Newf(apperr.CodeInvalidImage, "image exceeds %d bytes", maxImageBytes)
	}

	ref := storage.InboxKey(uuid.New())
	if err := h.objects.PutObject(c.Request.Context(), ref, imageData, "image/jpeg"); err != nil {
		return "", apperr.Wrap(apperr.CodeServiceUnavailable, err)
	}
	return ref, nil
}

func (h *FaceHandler) requireOrg(c *gin.Context, raw string) (uuid.UUID, error) {
	orgID, err := parseUUID(raw, "org_id")
	if err != nil {
		return uuid.Nil, err
	}
	org, err := h.db.GetOrg(c.Request.Context(), orgID)
	if err != nil {
		return uuid.Nil, err
	}
	if org == nil {
		return uuid.Nil, apperr.New(apperr.CodeOrgNotFound)
	}
	return orgID, nil
}

// Register enrolls a face synchronously through the worker, which owns the
// org critical section.
func (h *FaceHandler) Register(c *gin.Context) {
	var form dto.RegisterFaceForm
	if err := c.ShouldBind(&form); err != nil {
		respondError(c, apperr.Wrap(apperr.CodeInvalidRequest, err))
		return
	}
	orgID, err := h.requireOrg(c, form.OrgID)
	if err != nil {
		respondError(c, err)
		return
	}
	ref, err := h.stageImage(c)
	if err != nil {
		respondError(c, err)
		return
	}

	res, err := h.rpc.Register(c.Request.Context(), orgID, models.RegisterParams{
		ImageRef:    ref,
		ExternalRef: form.ExternalRef,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	c.JSON(status, dto.RegisterFaceResponse{
		IdentityID: res.IdentityID,
		FaceID:     res.FaceID,
		Created:    res.Created,
		Confidence: res.Confidence,
		Quality:    res.Quality,
		Timestamp:  ts(time.Now()),
	})
}

// Recognize matches a face without enrolling it.
func (h *FaceHandler) Recognize(c *gin.Context) {
	var form dto.RecognizeFaceForm
	if err := c.ShouldBind(&form); err != nil {
		respondError(c, apperr.Wrap(apperr.CodeInvalidRequest, err))
		return
	}
	orgID, err := h.requireOrg(c, form.OrgID)
	if err != nil {
		respondError(c, err)
		return
	}
	ref, err := h.stageImage(c)
	if err != nil {
		respondError(c, err)
		return
	}

	res, err := h.rpc.Recognize(c.Request.Context(), orgID, models.RecognizeParams{ImageRef: ref})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.RecognizeFaceResponse{
		IdentityID:  res.IdentityID,
		ExternalRef: res.ExternalRef,
		Confidence:  res.Confidence,
		Timestamp:   ts(time.Now()),
	})
}
