package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/admatch/internal/apperr"
	"github.com/your-org/admatch/internal/models"
	"github.com/your-org/admatch/internal/queue"
	"github.com/your-org/admatch/internal/storage"
	"github.com/your-org/admatch/pkg/dto"
)

// IdentityHandler serves identity listings and lookups from Postgres, and
// routes deletions through the worker so the search index stays coherent.
type IdentityHandler struct {
	db      *storage.PostgresStore
	objects *storage.MinIOStore
	rpc     *queue.RPCClient
}

func NewIdentityHandler(db *storage.PostgresStore, objects *storage.MinIOStore, rpc *queue.RPCClient) *IdentityHandler {
	return &IdentityHandler{db: db, objects: objects, rpc: rpc}
}

func (h *IdentityHandler) List(c *gin.Context) {
	var q dto.ListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, apperr.Wrap(apperr.CodeInvalidRequest, err))
		return
	}
	orgID, err := parseUUID(q.OrgID, "org_id")
	if err != nil {
		respondError(c, err)
		return
	}
	page, limit, offset := q.Normalize()

	rows, total, err := h.db.ListIdentities(c.Request.Context(), orgID, false, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}

	items := make([]dto.IdentityResponse, 0, len(rows))
	for _, row := range rows {
		items = append(items, dto.IdentityResponse{
			ID:          row.ID,
			OrgID:       row.OrgID,
			ExternalRef: row.ExternalRef,
			Active:      row.Active,
			FaceCount:   row.FaceCount,
			CreatedAt:   ts(row.CreatedAt),
			LastSeenAt:  ts(row.LastSeenAt),
		})
	}
	c.JSON(http.StatusOK, dto.Page[dto.IdentityResponse]{
		Items: items,
		Meta:  dto.NewPageMeta(page, limit, total),
	})
}

// lookup loads an identity and enforces the org boundary.
func (h *IdentityHandler) lookup(c *gin.Context) (*models.Identity, uuid.UUID, error) {
	id, err := parseUUID(c.Param("id"), "identity id")
	if err != nil {
		return nil, uuid.Nil, err
	}
	orgID, err := parseUUID(c.Query("org_id"), "org_id")
	if err != nil {
		return nil, uuid.Nil, err
	}

	ident, err := h.db.GetIdentity(c.Request.Context(), id)
	if err != nil {
		return nil, uuid.Nil, err
	}
	if ident == nil {
		return nil, uuid.Nil, apperr.New(apperr.CodeUserNotFound)
	}
	if ident.OrgID != orgID {
		return nil, uuid.Nil, apperr.New(apperr.CodeCrossOrgAccess)
	}
	return ident, orgID, nil
}

func (h *IdentityHandler) Get(c *gin.Context) {
	ident, _, err := h.lookup(c)
	if err != nil {
		respondError(c, err)
		return
	}

	faces, err := h.db.ListFaces(c.Request.Context(), ident.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := dto.IdentityResponse{
		ID:          ident.ID,
		OrgID:       ident.OrgID,
		ExternalRef: ident.ExternalRef,
		Active:      ident.Active,
		FaceCount:   len(faces),
		CreatedAt:   ts(ident.CreatedAt),
		LastSeenAt:  ts(ident.LastSeenAt),
	}
	for _, f := range faces {
		resp.Faces = append(resp.Faces, dto.FaceResponse{
			ID:        f.ID,
			Quality:   f.Quality,
			CreatedAt: ts(f.CreatedAt),
		})
	}
	c.JSON(http.StatusOK, resp)
}

// FaceImage serves the stored enrollment crop for one face.
func (h *IdentityHandler) FaceImage(c *gin.Context) {
	ident, _, err := h.lookup(c)
	if err != nil {
		respondError(c, err)
		return
	}
	faceID, err := parseUUID(c.Param("faceId"), "face id")
	if err != nil {
		respondError(c, err)
		return
	}

	face, err := h.db.GetFace(c.Request.Context(), ident.ID, faceID)
	if err != nil {
		respondError(c, err)
		return
	}
	if face == nil || face.ImageKey == "" {
		respondError(c, apperr.New(apperr.CodeFaceNotFound))
		return
	}

	data, err := h.objects.GetObject(c.Request.Context(), face.ImageKey)
	if err != nil {
		respondError(c, apperr.Wrap(apperr.CodeServiceUnavailable, err))
		return
	}
	c.Data(http.StatusOK, "image/jpeg", data)
}

// DeleteFace removes a single enrolled face. Irreversible.
func (h *IdentityHandler) DeleteFace(c *gin.Context) {
	ident, orgID, err := h.lookup(c)
	if err != nil {
		respondError(c, err)
		return
	}
	faceID, err := parseUUID(c.Param("faceId"), "face id")
	if err != nil {
		respondError(c, err)
		return
	}
	if err := requireConfirm(c); err != nil {
		respondError(c, err)
		return
	}

	res, err := h.rpc.DeleteFace(c.Request.Context(), orgID, models.DeleteFaceParams{
		IdentityID: ident.ID,
		FaceID:     faceID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.DeleteFacesResponse{
		RemovedFaces: res.RemovedFaces,
		Deactivated:  res.Deactivated,
	})
}

// DeleteFaces removes every face and deactivates the identity. Irreversible.
func (h *IdentityHandler) DeleteFaces(c *gin.Context) {
	ident, orgID, err := h.lookup(c)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := requireConfirm(c); err != nil {
		respondError(c, err)
		return
	}

	res, err := h.rpc.DeleteFace(c.Request.Context(), orgID, models.DeleteFaceParams{
		IdentityID: ident.ID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.DeleteFacesResponse{
		RemovedFaces: res.RemovedFaces,
		Deactivated:  res.Deactivated,
	})
}
