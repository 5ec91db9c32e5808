package engine

import (
	"hash/fnv"
	"sync"

	"github.com/google/uuid"
)

const lockStripes = 64

// orgLocks serializes the search-then-write sequence per organization.
// Two concurrent captures of the same new face must not both pass the
// search empty-handed and enroll twice; holding the org's stripe across
// search and write closes that race. Striping keeps unrelated orgs
// fully concurrent (modulo hash collisions, which only cost throughput).
type orgLocks struct {
	stripes [lockStripes]sync.Mutex
}

func newOrgLocks() *orgLocks {
	return &orgLocks{}
}

func (l *orgLocks) stripe(orgID uuid.UUID) *sync.Mutex {
	h := fnv.New32a()
	h.Write(orgID[:])
	return &l.stripes[h.Sum32()%lockStripes]
}

// Lock acquires the org's stripe and returns the unlock func.
func (l *orgLocks) Lock(orgID uuid.UUID) func() {
	mu := l.stripe(orgID)
	mu.Lock()
	return mu.Unlock
}
