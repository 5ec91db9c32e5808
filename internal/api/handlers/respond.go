// Package handlers implements the REST surface. Handlers validate input,
// delegate mutations to the worker over RPC and reads to Postgres, and
// render every failure through the uniform error envelope.
package handlers

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/admatch/internal/apperr"
)

func respondError(c *gin.Context, err error) {
	ae := apperr.From(err)
	switch ae.Code {
	case apperr.CodeInternal:
		slog.Error("request failed", "path", c.Request.URL.Path, "error", err)
	case apperr.CodeCrossOrgAccess:
		// Tenant isolation violations are audited.
		slog.Warn("cross-org access denied", "path", c.Request.URL.Path, "ip", c.ClientIP())
	}
	status, body := apperr.ToEnvelope(err)
	c.JSON(status, body)
}

func parseUUID(s, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, apperr.Newf(apperr.CodeInvalidRequest, "invalid %s", field)
	}
	return id, nil
}

func parseRFC3339(s, field string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, apperr.Newf(apperr.CodeInvalidRequest, "%s must be RFC 3339", field)
	}
	return t, nil
}

// requireConfirm enforces the explicit-intent contract on irreversible
// deletes.
func requireConfirm(c *gin.Context) error {
	if c.Query("confirm") != "true" {
		return apperr.Newf(apperr.CodeInvalidRequest, "irreversible operation requires confirm=true")
	}
	return nil
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
