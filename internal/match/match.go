// Package match decides what to do with an embedding given its nearest
// neighbours. It is pure decision logic; the engine executes the outcome
// inside the org's critical section.
package match

import (
	"github.com/google/uuid"

	"github.com/your-org/admatch/internal/apperr"
	"github.com/your-org/admatch/internal/identity"
	"github.com/your-org/admatch/internal/models"
)

// Config holds the acceptance rule parameters. All thresholds are cosine
// distances: lower means closer.
type Config struct {
	AcceptThreshold    float64
	Margin             float64
	DuplicateThreshold float64
	EmbeddingDim       int
}

type Action int

const (
	ActionAttach Action = iota // nearest candidate accepted, add embedding to it
	ActionEnroll               // no acceptable candidate, create a new identity
	ActionReject
)

type Decision struct {
	Action     Action
	IdentityID uuid.UUID
	Distance   float64
	Confidence float32
	Reason     apperr.Code
}

// Status maps a decision onto the event record vocabulary.
func (d Decision) Status() models.MatchStatus {
	switch d.Action {
	case ActionAttach:
		return models.MatchStatusMatched
	case ActionEnroll:
		return models.MatchStatusEnrolled
	default:
		if d.Reason == apperr.CodeAmbiguousMatch {
			return models.MatchStatusAmbiguous
		}
		return models.MatchStatusUnmatched
	}
}

// Decide applies the acceptance rule to an org-scoped candidate list sorted by
// ascending distance. The embedding is re-validated here even though upstream
// checks should have caught degenerate vectors.
//
// Accept the nearest candidate iff its distance is at or below the accept
// threshold and either there is no runner-up or the runner-up trails by at
// least the margin. A close runner-up is rejected as ambiguous rather than
// guessed at. Anything else enrolls a new identity.
func Decide(embedding []float32, cands []identity.Candidate, cfg Config) Decision {
	if !identity.ValidVector(embedding, cfg.EmbeddingDim) {
		return Decision{Action: ActionReject, Reason: apperr.CodeLowQuality}
	}
	if len(cands) == 0 {
		return Decision{Action: ActionEnroll}
	}

	nearest := cands[0]
	if nearest.Distance > cfg.AcceptThreshold {
		return Decision{Action: ActionEnroll, Distance: nearest.Distance}
	}
	if len(cands) > 1 && cands[1].Distance-nearest.Distance < cfg.Margin {
		return Decision{
			Action:   ActionReject,
			Reason:   apperr.CodeAmbiguousMatch,
			Distance: nearest.Distance,
		}
	}
	return Decision{
		Action:     ActionAttach,
		IdentityID: nearest.IdentityID,
		Distance:   nearest.Distance,
		Confidence: float32(1 - nearest.Distance),
	}
}

// DuplicateOf reports which other identity a registration collides with.
// Explicit enrollment of a face sitting within the duplicate threshold of a
// different identity is refused instead of silently merging people.
func DuplicateOf(cands []identity.Candidate, self uuid.UUID, cfg Config) (uuid.UUID, bool) {
	for _, c := range cands {
		if c.IdentityID == self {
			continue
		}
		if c.Distance <= cfg.DuplicateThreshold {
			return c.IdentityID, true
		}
	}
	return uuid.Nil, false
}
