// Package dedup collapses bursts of captures of the same person at the same
// location into a single dwell session.
package dedup

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/admatch/internal/identity"
	"github.com/your-org/admatch/internal/models"
)

// Capture is one post-extraction observation feeding the deduplicator.
type Capture struct {
	OrgID      uuid.UUID
	CameraID   *uuid.UUID
	LocationID string
	Kind       models.EventKind
	Embedding  []float32
	Quality    float32
	Start      time.Time
	End        time.Time
}

// Session is one open dwell interval at a location. The embedding is the
// best-quality representative seen so far; it is what the matcher gets.
type Session struct {
	OrgID      uuid.UUID
	CameraID   *uuid.UUID
	LocationID string
	Kind       models.EventKind
	Embedding  []float32
	Quality    float32
	Start      time.Time
	End        time.Time
	Captures   int
}

// Dwell returns the accumulated dwell across merged captures.
func (s *Session) Dwell() time.Duration {
	return s.End.Sub(s.Start)
}

// Deduplicator holds at most one open session per (org, location). A capture
// either merges into the open session, or closes it and opens the next one in
// the same step. Expiry is driven by capture timestamps, not wall clock, so
// replayed batches behave the same as live traffic.
type Deduplicator struct {
	mu        sync.Mutex
	window    time.Duration
	threshold float64 // cosine distance, looser than match accept
	sessions  map[string]*Session
}

func New(window time.Duration, threshold float64) *Deduplicator {
	return &Deduplicator{
		window:    window,
		threshold: threshold,
		sessions:  make(map[string]*Session),
	}
}

func sessionKey(orgID uuid.UUID, locationID string) string {
	return orgID.String() + "/" + locationID
}

// Observe feeds one capture and returns the session it closed, if any.
// A non-matching or stale capture closes the open session and opens a new one
// in the same transition, so at most one session closes per capture.
func (d *Deduplicator) Observe(c Capture) *Session {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := sessionKey(c.OrgID, c.LocationID)
	open := d.sessions[key]

	var closed *Session
	if open != nil {
		expired := c.Start.Sub(open.End) > d.window
		same := identity.CosineDistance(c.Embedding, open.Embedding) <= d.threshold
		if !expired && same {
			d.merge(open, c)
			return nil
		}
		closed = open
		delete(d.sessions, key)
	}

	d.sessions[key] = &Session{
		OrgID:      c.OrgID,
		CameraID:   c.CameraID,
		LocationID: c.LocationID,
		Kind:       c.Kind,
		Embedding:  c.Embedding,
		Quality:    c.Quality,
		Start:      c.Start,
		End:        c.End,
		Captures:   1,
	}
	return closed
}

func (d *Deduplicator) merge(s *Session, c Capture) {
	if c.Start.Before(s.Start) {
		s.Start = c.Start
	}
	if c.End.After(s.End) {
		s.End = c.End
	}
	if c.Quality > s.Quality {
		s.Embedding = c.Embedding
		s.Quality = c.Quality
	}
	s.Captures++
}

// Sweep closes every session idle past the window as of now and returns them.
// The worker calls this on a ticker so sessions with no follow-up capture
// still emit their event.
func (d *Deduplicator) Sweep(now time.Time) []*Session {
	d.mu.Lock()
	defer d.mu.Unlock()

	var closed []*Session
	for key, s := range d.sessions {
		if now.Sub(s.End) > d.window {
			closed = append(closed, s)
			delete(d.sessions, key)
		}
	}
	return closed
}

// OpenSessions reports how many sessions are currently open.
func (d *Deduplicator) OpenSessions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}
