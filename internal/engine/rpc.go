package engine

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/your-org/admatch/internal/apperr"
	"github.com/your-org/admatch/internal/match"
	"github.com/your-org/admatch/internal/models"
	"github.com/your-org/admatch/internal/observability"
	"github.com/your-org/admatch/internal/queue"
	"github.com/your-org/admatch/internal/storage"
	"github.com/your-org/admatch/internal/vision"
)

// RegisterRPCHandlers wires the engine's synchronous operations into the
// RPC server. Every mutation the API wants runs here, inside the worker,
// so the org critical section has a single owner.
func (e *Engine) RegisterRPCHandlers(srv *queue.RPCServer) error {
	handlers := map[string]queue.RPCHandler{
		models.RPCOpRegister:    e.rpcRegister,
		models.RPCOpRecognize:   e.rpcRecognize,
		models.RPCOpDeleteFace:  e.rpcDeleteFace,
		models.RPCOpDeleteFaces: e.rpcDeleteFaces,
	}
	for op, h := range handlers {
		if err := srv.Handle(op, h); err != nil {
			return err
		}
	}
	return nil
}

// rpcRegister enrolls a face explicitly. Unlike capture processing, the
// head pose is gated and the crop is kept as an enrollment image. A face
// that already belongs to a different identity is refused rather than
// silently merged.
func (e *Engine) rpcRegister(ctx context.Context, req models.RPCRequest) (any, error) {
	var params models.RegisterParams
	if err := json.Unmarshal(req.Payload, &params); err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalidRequest, err)
	}

	face, err := e.extractFromRef(ctx, params.ImageRef, true)
	if err != nil {
		return nil, err
	}

	var externalRef *string
	if params.ExternalRef != "" {
		externalRef = &params.ExternalRef
	}

	unlock := e.locks.Lock(req.OrgID)
	defer unlock()

	opCtx, cancel := context.WithTimeout(ctx, e.cfg.Matching.OpTimeout)
	defer cancel()

	cands := e.index.Search(req.OrgID, face.Embedding, 2)

	// An external ref pins the target identity; the embedding must not
	// collide with anyone else.
	if externalRef != nil {
		ident, err := e.db.GetIdentityByExternalRef(opCtx, req.OrgID, *externalRef)
		if err != nil {
			return nil, opErr(err)
		}
		if ident != nil {
			if !ident.Active {
				return nil, apperr.New(apperr.CodeInactiveUser)
			}
			if other, dup := match.DuplicateOf(cands, ident.ID, e.matchConfig()); dup {
				e.log.Warn("register collides with another identity", "org_id", req.OrgID, "other", other)
				return nil, apperr.New(apperr.CodeFaceAlreadyExists)
			}
			return e.storeEnrollment(opCtx, req.OrgID, ident.ID, false, face, 1)
		}
		if other, dup := match.DuplicateOf(cands, uuid.Nil, e.matchConfig()); dup {
			e.log.Warn("register collides with enrolled identity", "org_id", req.OrgID, "other", other)
			return nil, apperr.New(apperr.CodeFaceAlreadyExists)
		}
		return e.enrollWithCrop(opCtx, req.OrgID, externalRef, face)
	}

	decision := match.Decide(face.Embedding, cands, e.matchConfig())
	switch decision.Action {
	case match.ActionAttach:
		return e.storeEnrollment(opCtx, req.OrgID, decision.IdentityID, false, face, decision.Confidence)
	case match.ActionEnroll:
		return e.enrollWithCrop(opCtx, req.OrgID, nil, face)
	default:
		return nil, apperr.New(decision.Reason)
	}
}

// storeEnrollment attaches an extracted face to an existing identity and
// persists its crop. Caller holds the org lock.
func (e *Engine) storeEnrollment(ctx context.Context, orgID, identityID uuid.UUID, created bool, face *vision.Face, confidence float32) (*models.RegisterResult, error) {
	rec := &models.FaceEmbedding{
		ID:         uuid.New(),
		IdentityID: identityID,
		Embedding:  face.Embedding,
		Quality:    face.Quality,
	}
	rec.ImageKey = storage.FaceKey(rec.ID)

	if err := e.objects.PutObject(ctx, rec.ImageKey, face.Crop, "image/jpeg"); err != nil {
		return nil, opErr(err)
	}
	if err := e.attachEmbedding(ctx, orgID, rec); err != nil {
		return nil, opErr(err)
	}
	observability.FacesMatched.Inc()
	return &models.RegisterResult{
		IdentityID: identityID,
		FaceID:     rec.ID,
		Created:    created,
		Confidence: confidence,
		Quality:    face.Quality,
	}, nil
}

// enrollWithCrop creates a brand-new identity for an extracted face.
// Caller holds the org lock.
func (e *Engine) enrollWithCrop(ctx context.Context, orgID uuid.UUID, externalRef *string, face *vision.Face) (*models.RegisterResult, error) {
	rec := &models.FaceEmbedding{ID: uuid.New(), Embedding: face.Embedding, Quality: face.Quality}
	rec.ImageKey = storage.FaceKey(rec.ID)
	if err := e.objects.PutObject(ctx, rec.ImageKey, face.Crop, "image/jpeg"); err != nil {
		return nil, opErr(err)
	}
	ident, err := e.enrollIdentity(ctx, orgID, externalRef, rec)
	if err != nil {
		return nil, opErr(err)
	}
	return &models.RegisterResult{
		IdentityID: ident.ID,
		FaceID:     rec.ID,
		Created:    true,
		Confidence: 1,
		Quality:    face.Quality,
	}, nil
}

// rpcRecognize matches a face without enrolling anything. Read-only, so it
// skips the org lock.
func (e *Engine) rpcRecognize(ctx context.Context, req models.RPCRequest) (any, error) {
	var params models.RecognizeParams
	if err := json.Unmarshal(req.Payload, &params); err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalidRequest, err)
	}

	face, err := e.extractFromRef(ctx, params.ImageRef, false)
	if err != nil {
		return nil, err
	}

	cands := e.index.Search(req.OrgID, face.Embedding, 2)
	decision := match.Decide(face.Embedding, cands, e.matchConfig())
	switch decision.Action {
	case match.ActionAttach:
		ident, err := e.db.GetIdentity(ctx, decision.IdentityID)
		if err != nil {
			return nil, opErr(err)
		}
		res := &models.RecognizeResult{IdentityID: decision.IdentityID, Confidence: decision.Confidence}
		if ident != nil && ident.ExternalRef != nil {
			res.ExternalRef = *ident.ExternalRef
		}
		return res, nil
	case match.ActionEnroll:
		return nil, apperr.New(apperr.CodeUserNotFound)
	default:
		if decision.Reason == apperr.CodeAmbiguousMatch {
			observability.AmbiguousMatches.Inc()
		}
		return nil, apperr.New(decision.Reason)
	}
}

func (e *Engine) rpcDeleteFace(ctx context.Context, req models.RPCRequest) (any, error) {
	var params models.DeleteFaceParams
	if err := json.Unmarshal(req.Payload, &params); err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalidRequest, err)
	}

	ident, err := e.guardIdentity(ctx, req.OrgID, params.IdentityID)
	if err != nil {
		return nil, err
	}

	unlock := e.locks.Lock(req.OrgID)
	defer unlock()

	imageKey, err := e.db.DeleteFace(ctx, ident.ID, params.FaceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.New(apperr.CodeFaceNotFound)
		}
		return nil, opErr(err)
	}
	if imageKey != "" {
		if err := e.objects.DeleteObject(ctx, imageKey); err != nil {
			e.log.Warn("delete face crop", "key", imageKey, "error", err)
		}
	}
	e.index.Remove(req.OrgID, params.FaceID)
	e.fanOut(models.IdentitySync{
		Op: models.SyncOpRemove, OrgID: req.OrgID, IdentityID: ident.ID, EmbeddingID: params.FaceID,
	})

	res := &models.DeleteFaceResult{RemovedFaces: 1}
	remaining, err := e.db.CountFaces(ctx, ident.ID)
	if err != nil {
		return nil, opErr(err)
	}
	if remaining == 0 {
		if err := e.deactivate(ctx, req.OrgID, ident.ID); err != nil {
			return nil, err
		}
		res.Deactivated = true
	}
	return res, nil
}

func (e *Engine) rpcDeleteFaces(ctx context.Context, req models.RPCRequest) (any, error) {
	var params models.DeleteFaceParams
	if err := json.Unmarshal(req.Payload, &params); err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalidRequest, err)
	}

	ident, err := e.guardIdentity(ctx, req.OrgID, params.IdentityID)
	if err != nil {
		return nil, err
	}

	unlock := e.locks.Lock(req.OrgID)
	defer unlock()

	removed, err := e.db.DeleteFacesByIdentity(ctx, ident.ID)
	if err != nil {
		return nil, opErr(err)
	}
	var keys []string
	for _, ref := range removed {
		if ref.ImageKey != "" {
			keys = append(keys, ref.ImageKey)
		}
	}
	if len(keys) > 0 {
		if err := e.objects.DeleteObjects(ctx, keys); err != nil {
			e.log.Warn("delete face crops", "count", len(keys), "error", err)
		}
	}
	if err := e.deactivate(ctx, req.OrgID, ident.ID); err != nil {
		return nil, err
	}
	return &models.DeleteFaceResult{RemovedFaces: len(removed), Deactivated: true}, nil
}

// guardIdentity loads an identity and enforces the tenant boundary: an id
// belonging to another org fails loudly and is logged for audit, never
// silently re-scoped.
func (e *Engine) guardIdentity(ctx context.Context, orgID, identityID uuid.UUID) (*models.Identity, error) {
	ident, err := e.db.GetIdentity(ctx, identityID)
	if err != nil {
		return nil, opErr(err)
	}
	if ident == nil {
		return nil, apperr.New(apperr.CodeUserNotFound)
	}
	if ident.OrgID != orgID {
		e.log.Warn("cross-org identity access denied",
			"requested_org", orgID, "identity_org", ident.OrgID, "identity_id", identityID)
		return nil, apperr.New(apperr.CodeCrossOrgAccess)
	}
	return ident, nil
}

func (e *Engine) deactivate(ctx context.Context, orgID, identityID uuid.UUID) error {
	if err := e.db.DeactivateIdentity(ctx, identityID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return opErr(err)
	}
	e.index.RemoveIdentity(orgID, identityID)
	e.fanOut(models.IdentitySync{Op: models.SyncOpDeactivate, OrgID: orgID, IdentityID: identityID})
	return nil
}

// extractFromRef pulls the pending image from the inbox, extracts a face
// and discards the original.
func (e *Engine) extractFromRef(ctx context.Context, ref string, strict bool) (*vision.Face, error) {
	imageData, err := e.objects.GetObject(ctx, ref)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeServiceUnavailable, err)
	}
	defer func() {
		if err := e.objects.DeleteObject(ctx, ref); err != nil {
			e.log.Warn("delete inbox image", "ref", ref, "error", err)
		}
	}()

	if strict {
		return e.extractor.ExtractStrict(imageData)
	}
	return e.extractor.Extract(imageData)
}
