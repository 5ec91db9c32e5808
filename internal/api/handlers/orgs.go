package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/admatch/internal/apperr"
	"github.com/your-org/admatch/internal/models"
	"github.com/your-org/admatch/internal/storage"
	"github.com/your-org/admatch/pkg/dto"
)

type OrgHandler struct {
	db *storage.PostgresStore
}

func NewOrgHandler(db *storage.PostgresStore) *OrgHandler {
	return &OrgHandler{db: db}
}

func (h *OrgHandler) Create(c *gin.Context) {
	var req dto.CreateOrgRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Wrap(apperr.CodeInvalidRequest, err))
		return
	}
	if req.Timezone != "" {
		if _, err := time.LoadLocation(req.Timezone); err != nil {
			respondError(c, apperr.Newf(apperr.CodeInvalidRequest, "unknown timezone %q", req.Timezone))
			return
		}
	}

	org := &models.Organization{
		Name:             req.Name,
		Timezone:         req.Timezone,
		LookbackHours:    req.LookbackHours,
		CooldownHours:    req.CooldownHours,
		AllowNewIdentity: req.AllowNewIdentity,
	}
	if err := h.db.CreateOrg(c.Request.Context(), org); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, org)
}

func (h *OrgHandler) List(c *gin.Context) {
	orgs, err := h.db.ListOrgs(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orgs": orgs, "total": len(orgs)})
}

func (h *OrgHandler) Get(c *gin.Context) {
	id, err := parseUUID(c.Param("id"), "org id")
	if err != nil {
		respondError(c, err)
		return
	}
	org, err := h.db.GetOrg(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if org == nil {
		respondError(c, apperr.New(apperr.CodeOrgNotFound))
		return
	}
	c.JSON(http.StatusOK, org)
}

// Delete removes the org and everything under it. Irreversible; the caller
// must confirm.
func (h *OrgHandler) Delete(c *gin.Context) {
	id, err := parseUUID(c.Param("id"), "org id")
	if err != nil {
		respondError(c, err)
		return
	}
	if err := requireConfirm(c); err != nil {
		respondError(c, err)
		return
	}
	if err := h.db.DeleteOrg(c.Request.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(c, apperr.New(apperr.CodeOrgNotFound))
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
