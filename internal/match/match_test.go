package match

import (
	"math"
	"testing"

	"github.com/google/uuid"

	"github.com/your-org/admatch/internal/apperr"
	"github.com/your-org/admatch/internal/identity"
	"github.com/your-org/admatch/internal/models"
)

var testCfg = Config{
	AcceptThreshold:    0.3,
	Margin:             0.05,
	DuplicateThreshold: 0.08,
	EmbeddingDim:       4,
}

func validEmbedding() []float32 {
	return []float32{1, 0, 0, 0}
}

func TestDecide(t *testing.T) {
	idA := uuid.New()
	idB := uuid.New()

	tests := []struct {
		name       string
		embedding  []float32
		cands      []identity.Candidate
		wantAction Action
		wantID     uuid.UUID
		wantReason apperr.Code
	}{
		{
			name:       "no candidates enrolls",
			embedding:  validEmbedding(),
			cands:      nil,
			wantAction: ActionEnroll,
		},
		{
			name:      "clear match attaches",
			embedding: validEmbedding(),
			cands: []identity.Candidate{
				{IdentityID: idA, Distance: 0.10},
				{IdentityID: idB, Distance: 0.50},
			},
			wantAction: ActionAttach,
			wantID:     idA,
		},
		{
			name:      "single candidate within threshold attaches",
			embedding: validEmbedding(),
			cands: []identity.Candidate{
				{IdentityID: idA, Distance: 0.25},
			},
			wantAction: ActionAttach,
			wantID:     idA,
		},
		{
			name:      "distance exactly at threshold attaches",
			embedding: validEmbedding(),
			cands: []identity.Candidate{
				{IdentityID: idA, Distance: 0.30},
			},
			wantAction: ActionAttach,
			wantID:     idA,
		},
		{
			name:      "close runner-up is ambiguous",
			embedding: validEmbedding(),
			cands: []identity.Candidate{
				{IdentityID: idA, Distance: 0.10},
				{IdentityID: idB, Distance: 0.12},
			},
			wantAction: ActionReject,
			wantReason: apperr.CodeAmbiguousMatch,
		},
		{
			name:      "runner-up exactly at margin attaches",
			embedding: validEmbedding(),
			cands: []identity.Candidate{
				{IdentityID: idA, Distance: 0.10},
				{IdentityID: idB, Distance: 0.15},
			},
			wantAction: ActionAttach,
			wantID:     idA,
		},
		{
			name:      "nearest above threshold enrolls even with close runner-up",
			embedding: validEmbedding(),
			cands: []identity.Candidate{
				{IdentityID: idA, Distance: 0.40},
				{IdentityID: idB, Distance: 0.41},
			},
			wantAction: ActionEnroll,
		},
		{
			name:       "zero vector rejected",
			embedding:  []float32{0, 0, 0, 0},
			cands:      []identity.Candidate{{IdentityID: idA, Distance: 0.1}},
			wantAction: ActionReject,
			wantReason: apperr.CodeLowQuality,
		},
		{
			name:       "NaN component rejected",
			embedding:  []float32{1, float32(math.NaN()), 0, 0},
			cands:      nil,
			wantAction: ActionReject,
			wantReason: apperr.CodeLowQuality,
		},
		{
			name:       "dimension mismatch rejected",
			embedding:  []float32{1, 0},
			cands:      nil,
			wantAction: ActionReject,
			wantReason: apperr.CodeLowQuality,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(tt.embedding, tt.cands, testCfg)
			if got.Action != tt.wantAction {
				t.Fatalf("action = %v, want %v", got.Action, tt.wantAction)
			}
			if tt.wantAction == ActionAttach && got.IdentityID != tt.wantID {
				t.Errorf("identity = %s, want %s", got.IdentityID, tt.wantID)
			}
			if tt.wantReason != "" && got.Reason != tt.wantReason {
				t.Errorf("reason = %s, want %s", got.Reason, tt.wantReason)
			}
		})
	}
}

func TestDecideConfidence(t *testing.T) {
	id := uuid.New()
	got := Decide(validEmbedding(), []identity.Candidate{{IdentityID: id, Distance: 0.2}}, testCfg)
	if got.Action != ActionAttach {
		t.Fatalf("action = %v, want attach", got.Action)
	}
	if math.Abs(float64(got.Confidence)-0.8) > 1e-6 {
		t.Errorf("confidence = %f, want 0.8", got.Confidence)
	}
}

func TestDecisionStatus(t *testing.T) {
	tests := []struct {
		decision Decision
		want     models.MatchStatus
	}{
		{Decision{Action: ActionAttach}, models.MatchStatusMatched},
		{Decision{Action: ActionEnroll}, models.MatchStatusEnrolled},
		{Decision{Action: ActionReject, Reason: apperr.CodeAmbiguousMatch}, models.MatchStatusAmbiguous},
		{Decision{Action: ActionReject, Reason: apperr.CodeLowQuality}, models.MatchStatusUnmatched},
	}
	for _, tt := range tests {
		if got := tt.decision.Status(); got != tt.want {
			t.Errorf("status for %v = %s, want %s", tt.decision.Action, got, tt.want)
		}
	}
}

func TestDuplicateOf(t *testing.T) {
	self := uuid.New()
	other := uuid.New()

	cands := []identity.Candidate{
		{IdentityID: self, Distance: 0.01},
		{IdentityID: other, Distance: 0.05},
	}
	if id, dup := DuplicateOf(cands, self, testCfg); !dup || id != other {
		t.Errorf("expected duplicate of %s, got %s dup=%v", other, id, dup)
	}

	// Own identity never counts as a duplicate.
	cands = []identity.Candidate{{IdentityID: self, Distance: 0.01}}
	if _, dup := DuplicateOf(cands, self, testCfg); dup {
		t.Error("own identity must not be a duplicate")
	}

	// Beyond the duplicate threshold is a distinct person.
	cands = []identity.Candidate{{IdentityID: other, Distance: 0.2}}
	if _, dup := DuplicateOf(cands, uuid.Nil, testCfg); dup {
		t.Error("distant candidate must not be a duplicate")
	}
}
