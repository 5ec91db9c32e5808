package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/admatch/internal/config"
	"github.com/your-org/admatch/internal/models"
)

func TestOrgLockMutualExclusion(t *testing.T) {
	locks := newOrgLocks()
	org := uuid.New()

	var inCritical, maxInCritical int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock(org)
			defer unlock()

			mu.Lock()
			inCritical++
			if inCritical > maxInCritical {
				maxInCritical = inCritical
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inCritical--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if maxInCritical != 1 {
		t.Fatalf("expected at most 1 goroutine in the critical section, saw %d", maxInCritical)
	}
}

func TestOrgLockSameOrgSameStripe(t *testing.T) {
	locks := newOrgLocks()
	org := uuid.New()
	if locks.stripe(org) != locks.stripe(org) {
		t.Fatal("same org must map to the same stripe")
	}
}

func TestResolvePolicy(t *testing.T) {
	defaults := config.AttributionConfig{
		Lookback:         48 * time.Hour,
		Cooldown:         24 * time.Hour,
		AllowNewIdentity: false,
	}

	lookback := 12
	cooldown := 6
	allow := true

	tests := []struct {
		name         string
		org          *models.Organization
		wantLookback time.Duration
		wantCooldown time.Duration
		wantAllow    bool
	}{
		{
			name:         "nil org uses defaults",
			org:          nil,
			wantLookback: 48 * time.Hour,
			wantCooldown: 24 * time.Hour,
		},
		{
			name:         "org without overrides uses defaults",
			org:          &models.Organization{},
			wantLookback: 48 * time.Hour,
			wantCooldown: 24 * time.Hour,
		},
		{
			name: "org overrides win",
			org: &models.Organization{
				LookbackHours:    &lookback,
				CooldownHours:    &cooldown,
				AllowNewIdentity: &allow,
			},
			wantLookback: 12 * time.Hour,
			wantCooldown: 6 * time.Hour,
			wantAllow:    true,
		},
		{
			name:         "partial override keeps other defaults",
			org:          &models.Organization{LookbackHours: &lookback},
			wantLookback: 12 * time.Hour,
			wantCooldown: 24 * time.Hour,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pol := resolvePolicy(tt.org, defaults)
			if pol.Lookback != tt.wantLookback {
				t.Errorf("lookback = %v, want %v", pol.Lookback, tt.wantLookback)
			}
			if pol.Cooldown != tt.wantCooldown {
				t.Errorf("cooldown = %v, want %v", pol.Cooldown, tt.wantCooldown)
			}
			if pol.AllowNewIdentity != tt.wantAllow {
				t.Errorf("allow new identity = %v, want %v", pol.AllowNewIdentity, tt.wantAllow)
			}
		})
	}
}
