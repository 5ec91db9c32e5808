package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/admatch/internal/apperr"
	"github.com/your-org/admatch/internal/models"
	"github.com/your-org/admatch/internal/storage"
	"github.com/your-org/admatch/pkg/dto"
)

type CameraHandler struct {
	db *storage.PostgresStore
}

func NewCameraHandler(db *storage.PostgresStore) *CameraHandler {
	return &CameraHandler{db: db}
}

func (h *CameraHandler) Create(c *gin.Context) {
	var req dto.CreateCameraRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Wrap(apperr.CodeInvalidRequest, err))
		return
	}

	org, err := h.db.GetOrg(c.Request.Context(), req.OrgID)
	if err != nil {
		respondError(c, err)
		return
	}
	if org == nil {
		respondError(c, apperr.New(apperr.CodeOrgNotFound))
		return
	}

	cam := &models.Camera{
		OrgID:      req.OrgID,
		Name:       req.Name,
		LocationID: req.LocationID,
		Kind:       models.EventKind(req.Kind),
	}
	if err := h.db.CreateCamera(c.Request.Context(), cam); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cam)
}

func (h *CameraHandler) List(c *gin.Context) {
	orgID, err := parseUUID(c.Query("org_id"), "org_id")
	if err != nil {
		respondError(c, err)
		return
	}
	cams, err := h.db.ListCameras(c.Request.Context(), orgID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cameras": cams, "total": len(cams)})
}

func (h *CameraHandler) Delete(c *gin.Context) {
	id, err := parseUUID(c.Param("id"), "camera id")
	if err != nil {
		respondError(c, err)
		return
	}
	orgID, err := parseUUID(c.Query("org_id"), "org_id")
	if err != nil {
		respondError(c, err)
		return
	}

	cam, err := h.db.GetCamera(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if cam == nil {
		respondError(c, apperr.Newf(apperr.CodeInvalidRequest, "camera not found"))
		return
	}
	if cam.OrgID != orgID {
		respondError(c, apperr.New(apperr.CodeCrossOrgAccess))
		return
	}

	if err := h.db.DeleteCamera(c.Request.Context(), id); err != nil && !errors.Is(err, storage.ErrNotFound) {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
