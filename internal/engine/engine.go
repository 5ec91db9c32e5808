// Package engine runs the capture pipeline on the worker: fetch image,
// extract embedding, deduplicate into dwell sessions, match against the
// org's identities, record the detection and attribute store visits. All
// identity mutations for one org happen under that org's lock, and they
// all happen here; the API never writes identities directly.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/admatch/internal/apperr"
	"github.com/your-org/admatch/internal/attribution"
	"github.com/your-org/admatch/internal/config"
	"github.com/your-org/admatch/internal/dedup"
	"github.com/your-org/admatch/internal/identity"
	"github.com/your-org/admatch/internal/match"
	"github.com/your-org/admatch/internal/models"
	"github.com/your-org/admatch/internal/observability"
	"github.com/your-org/admatch/internal/queue"
	"github.com/your-org/admatch/internal/storage"
	"github.com/your-org/admatch/internal/vision"
)

// FaceExtractor is the embedding capability the engine depends on.
// Satisfied by vision.Extractor; tests substitute a stub.
type FaceExtractor interface {
	Extract(imageData []byte) (*vision.Face, error)
	ExtractStrict(imageData []byte) (*vision.Face, error)
}

type Engine struct {
	cfg       *config.Config
	db        *storage.PostgresStore
	objects   *storage.MinIOStore
	extractor FaceExtractor
	index     *identity.Index
	dedup     *dedup.Deduplicator
	attrib    *attribution.Engine
	producer  *queue.Producer
	locks     *orgLocks
	origin    string
	log       *slog.Logger
}

func New(cfg *config.Config, db *storage.PostgresStore, objects *storage.MinIOStore,
	extractor FaceExtractor, producer *queue.Producer, log *slog.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		db:        db,
		objects:   objects,
		extractor: extractor,
		index:     identity.NewIndex(),
		dedup:     dedup.New(cfg.Dedup.Window, cfg.Dedup.SessionThreshold),
		attrib:    attribution.NewEngine(db, log),
		producer:  producer,
		locks:     newOrgLocks(),
		origin:    uuid.NewString(),
		log:       log,
	}
}

// Bootstrap loads every active embedding into the in-memory index.
func (e *Engine) Bootstrap(ctx context.Context) error {
	faces, err := e.db.LoadActiveFaces(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap index: %w", err)
	}
	e.index.Bootstrap(faces)
	e.log.Info("search index bootstrapped", "embeddings", len(faces))
	return nil
}

// ApplySync folds a peer's index mutation into the local index. The
// emitting process skips its own echo via origin.
func (e *Engine) ApplySync(sync models.IdentitySync) {
	if sync.Origin == e.origin {
		return
	}
	switch sync.Op {
	case models.SyncOpAdd:
		e.index.Add(sync.OrgID, sync.IdentityID, sync.EmbeddingID, sync.Embedding)
	case models.SyncOpRemove:
		e.index.Remove(sync.OrgID, sync.EmbeddingID)
	case models.SyncOpDeactivate:
		e.index.RemoveIdentity(sync.OrgID, sync.IdentityID)
	}
}

// HandleCapture processes one queued capture task end-to-end. Input-quality
// rejections are terminal for the task: retrying the same image cannot
// succeed, so they ack without an event.
func (e *Engine) HandleCapture(ctx context.Context, task models.CaptureTask) error {
	imageData, err := e.objects.GetObject(ctx, task.ImageRef)
	if err != nil {
		return fmt.Errorf("fetch capture image: %w", err)
	}

	face, err := e.extractor.Extract(imageData)
	// The raw capture is never needed again, whatever the outcome.
	if delErr := e.objects.DeleteObject(ctx, task.ImageRef); delErr != nil {
		e.log.Warn("delete capture image", "ref", task.ImageRef, "error", delErr)
	}
	if err != nil {
		ae := apperr.From(err)
		switch ae.Code {
		case apperr.CodeInvalidImage, apperr.CodeFaceNotDetected, apperr.CodeLowQuality:
			observability.CapturesRejected.WithLabelValues(string(ae.Code)).Inc()
			return nil
		}
		return err
	}

	start, end := task.CapturedAt, task.CapturedAt
	if task.EndedAt != nil {
		end = *task.EndedAt
	} else if task.DwellSeconds > 0 {
		end = start.Add(time.Duration(task.DwellSeconds * float64(time.Second)))
	}

	closed := e.dedup.Observe(dedup.Capture{
		OrgID:      task.OrgID,
		CameraID:   task.CameraID,
		LocationID: task.LocationID,
		Kind:       task.Kind,
		Embedding:  face.Embedding,
		Quality:    face.Quality,
		Start:      start,
		End:        end,
	})
	observability.CapturesProcessed.WithLabelValues(string(task.Kind)).Inc()

	if closed == nil {
		observability.DedupSessions.WithLabelValues("merged").Inc()
		return nil
	}
	return e.resolveSession(ctx, closed)
}

// FlushSessions closes dwell sessions idle past the window and resolves
// them. The worker drives this from a ticker.
func (e *Engine) FlushSessions(ctx context.Context, now time.Time) {
	for _, s := range e.dedup.Sweep(now) {
		if err := e.resolveSession(ctx, s); err != nil {
			e.log.Error("resolve flushed session", "org_id", s.OrgID, "location", s.LocationID, "error", err)
		}
	}
}

// resolveSession matches a closed dwell session, records its detection
// event and, for store visits, runs attribution.
func (e *Engine) resolveSession(ctx context.Context, s *dedup.Session) error {
	observability.DedupSessions.WithLabelValues("closed").Inc()

	decision, identityID, err := e.matchSession(ctx, s)
	if err != nil {
		return err
	}

	ev := &models.DetectionEvent{
		OrgID:        s.OrgID,
		IdentityID:   identityID,
		CameraID:     s.CameraID,
		LocationID:   s.LocationID,
		Kind:         s.Kind,
		CapturedAt:   s.Start,
		EndedAt:      s.End,
		DwellSeconds: s.Dwell().Seconds(),
		Confidence:   decision.Confidence,
		Quality:      s.Quality,
		MatchStatus:  decision.Status(),
	}
	if err := e.db.InsertDetectionEvent(ctx, ev); err != nil {
		return err
	}
	if err := e.producer.PublishDetection(ctx, ev); err != nil {
		e.log.Warn("publish detection", "event_id", ev.ID, "error", err)
	}

	if s.Kind != models.EventKindStore {
		return nil
	}
	pol, err := e.policyFor(ctx, s.OrgID)
	if err != nil {
		return err
	}
	conv, err := e.attrib.Attribute(ctx, ev, pol)
	if err != nil {
		return err
	}
	if conv != nil {
		if err := e.producer.PublishConversion(ctx, conv); err != nil {
			e.log.Warn("publish conversion", "conversion_id", conv.ID, "error", err)
		}
	}
	return nil
}

// matchSession runs the search-then-write sequence inside the org's
// critical section and returns the decision plus the identity the event
// should reference, if any.
func (e *Engine) matchSession(ctx context.Context, s *dedup.Session) (match.Decision, *uuid.UUID, error) {
	unlock := e.locks.Lock(s.OrgID)
	defer unlock()

	opCtx, cancel := context.WithTimeout(ctx, e.cfg.Matching.OpTimeout)
	defer cancel()

	start := time.Now()
	cands := e.index.Search(s.OrgID, s.Embedding, 2)
	decision := match.Decide(s.Embedding, cands, e.matchConfig())
	observability.MatchDuration.WithLabelValues("search").Observe(time.Since(start).Seconds())

	switch decision.Action {
	case match.ActionAttach:
		face := &models.FaceEmbedding{IdentityID: decision.IdentityID, Embedding: s.Embedding, Quality: s.Quality}
		if err := e.attachEmbedding(opCtx, s.OrgID, face); err != nil {
			return decision, nil, opErr(err)
		}
		observability.FacesMatched.Inc()
		id := decision.IdentityID
		return decision, &id, nil

	case match.ActionEnroll:
		face := &models.FaceEmbedding{Embedding: s.Embedding, Quality: s.Quality}
		ident, err := e.enrollIdentity(opCtx, s.OrgID, nil, face)
		if err != nil {
			if apperr.CodeOf(err) == apperr.CodeCapacityExceeded {
				// Record the sighting without an identity rather than
				// failing the whole task.
				e.log.Warn("org at identity capacity", "org_id", s.OrgID)
				decision.Action = match.ActionReject
				decision.Reason = apperr.CodeCapacityExceeded
				return decision, nil, nil
			}
			return decision, nil, opErr(err)
		}
		id := ident.ID
		return decision, &id, nil

	default:
		if decision.Reason == apperr.CodeAmbiguousMatch {
			observability.AmbiguousMatches.Inc()
		}
		return decision, nil, nil
	}
}

// attachEmbedding adds one embedding to an existing identity: persist,
// evict past the cap, update the index, fan out. Caller holds the org lock
// and has set face.IdentityID.
func (e *Engine) attachEmbedding(ctx context.Context, orgID uuid.UUID, face *models.FaceEmbedding) error {
	if err := e.db.AddFaceEmbedding(ctx, face); err != nil {
		return err
	}
	if err := e.db.TouchIdentity(ctx, face.IdentityID); err != nil {
		return err
	}

	evicted, err := e.db.EvictOldestFaces(ctx, face.IdentityID, e.cfg.Matching.PerIdentityCap)
	if err != nil {
		return err
	}
	for _, ref := range evicted {
		e.index.Remove(orgID, ref.ID)
		if ref.ImageKey != "" {
			if err := e.objects.DeleteObject(ctx, ref.ImageKey); err != nil {
				e.log.Warn("delete evicted crop", "key", ref.ImageKey, "error", err)
			}
		}
		e.fanOut(models.IdentitySync{
			Op: models.SyncOpRemove, OrgID: orgID, IdentityID: face.IdentityID, EmbeddingID: ref.ID,
		})
	}

	e.index.Add(orgID, face.IdentityID, face.ID, face.Embedding)
	e.fanOut(models.IdentitySync{
		Op: models.SyncOpAdd, OrgID: orgID, IdentityID: face.IdentityID,
		EmbeddingID: face.ID, Embedding: face.Embedding,
	})
	return nil
}

// enrollIdentity creates a new identity with its first embedding. Caller
// holds the org lock.
func (e *Engine) enrollIdentity(ctx context.Context, orgID uuid.UUID, externalRef *string, face *models.FaceEmbedding) (*models.Identity, error) {
	count, err := e.db.CountIdentities(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if count >= e.cfg.Matching.OrgIdentityCap {
		return nil, apperr.New(apperr.CodeCapacityExceeded)
	}

	ident, err := e.db.CreateIdentity(ctx, orgID, externalRef)
	if err != nil {
		return nil, err
	}
	face.IdentityID = ident.ID
	if err := e.db.AddFaceEmbedding(ctx, face); err != nil {
		return nil, err
	}

	e.index.Add(orgID, ident.ID, face.ID, face.Embedding)
	e.fanOut(models.IdentitySync{
		Op: models.SyncOpAdd, OrgID: orgID, IdentityID: ident.ID,
		EmbeddingID: face.ID, Embedding: face.Embedding,
	})
	observability.IdentitiesEnrolled.Inc()
	return ident, nil
}

func (e *Engine) fanOut(sync models.IdentitySync) {
	sync.Origin = e.origin
	if err := e.producer.PublishIdentitySync(sync); err != nil {
		e.log.Warn("publish identity sync", "op", sync.Op, "error", err)
	}
}

func (e *Engine) matchConfig() match.Config {
	return match.Config{
		AcceptThreshold:    e.cfg.Matching.AcceptThreshold,
		Margin:             e.cfg.Matching.Margin,
		DuplicateThreshold: e.cfg.Matching.DuplicateThreshold,
		EmbeddingDim:       e.cfg.Vision.EmbeddingDim,
	}
}

// policyFor resolves attribution tuning for an org: per-org overrides,
// config defaults where unset.
func (e *Engine) policyFor(ctx context.Context, orgID uuid.UUID) (attribution.Policy, error) {
	org, err := e.db.GetOrg(ctx, orgID)
	if err != nil {
		return attribution.Policy{}, fmt.Errorf("load org for policy: %w", err)
	}
	return resolvePolicy(org, e.cfg.Attribution), nil
}

func resolvePolicy(org *models.Organization, defaults config.AttributionConfig) attribution.Policy {
	pol := attribution.Policy{
		Lookback:         defaults.Lookback,
		Cooldown:         defaults.Cooldown,
		AllowNewIdentity: defaults.AllowNewIdentity,
	}
	if org == nil {
		return pol
	}
	if org.LookbackHours != nil {
		pol.Lookback = time.Duration(*org.LookbackHours) * time.Hour
	}
	if org.CooldownHours != nil {
		pol.Cooldown = time.Duration(*org.CooldownHours) * time.Hour
	}
	if org.AllowNewIdentity != nil {
		pol.AllowNewIdentity = *org.AllowNewIdentity
	}
	return pol
}

// opErr maps a timed-out identity operation to the availability code the
// caller is supposed to retry on.
func opErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Wrap(apperr.CodeWorkerUnavailable, err)
	}
	return err
}

// OpenSessions reports how many dwell sessions are currently open.
func (e *Engine) OpenSessions() int {
	return e.dedup.OpenSessions()
}
