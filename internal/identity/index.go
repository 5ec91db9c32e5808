// Package identity holds the in-memory nearest-neighbor index over enrolled
// embeddings. One HNSW graph per organization: a search can never cross org
// boundaries because it never touches another org's graph.
package identity

import (
	"sort"
	"sync"

	"github.com/coder/hnsw"
	"github.com/google/uuid"
)

// maxNeighbors (M) is the maximum number of neighbors per HNSW node.
const maxNeighbors = 16

// Candidate is one identity-level search result.
type Candidate struct {
	IdentityID uuid.UUID
	Distance   float64
}

// IndexedFace is the tuple the index needs per enrolled embedding.
type IndexedFace struct {
	EmbeddingID uuid.UUID
	IdentityID  uuid.UUID
	OrgID       uuid.UUID
	Embedding   []float32
}

type entry struct {
	identityID uuid.UUID
	embedding  []float32
}

// orgIndex is the per-org graph plus the authoritative membership map.
// The graph cannot truly delete nodes; entries decides what is alive and
// search results are filtered through it.
type orgIndex struct {
	graph       *hnsw.Graph[string]
	entries     map[string]entry
	perIdentity map[uuid.UUID]int
	ghosts      int
}

func newOrgIndex() *orgIndex {
	g := hnsw.NewGraph[string]()
	g.M = maxNeighbors
	g.Ml = 1.0 / float64(maxNeighbors)
	g.Distance = hnsw.CosineDistance
	return &orgIndex{
		graph:       g,
		entries:     make(map[string]entry),
		perIdentity: make(map[uuid.UUID]int),
	}
}

// Index is the process-wide embedding index, sharded by organization.
type Index struct {
	mu   sync.RWMutex
	orgs map[uuid.UUID]*orgIndex
}

func NewIndex() *Index {
	return &Index{orgs: make(map[uuid.UUID]*orgIndex)}
}

// Bootstrap loads the index from a full dump of active embeddings,
// replacing any previous state.
func (x *Index) Bootstrap(faces []IndexedFace) {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.orgs = make(map[uuid.UUID]*orgIndex)
	for i := range faces {
		f := &faces[i]
		if len(f.Embedding) == 0 {
			continue
		}
		oi := x.orgs[f.OrgID]
		if oi == nil {
			oi = newOrgIndex()
			x.orgs[f.OrgID] = oi
		}
		oi.add(f.EmbeddingID, f.IdentityID, f.Embedding)
	}
}

// Add inserts a single embedding.
func (x *Index) Add(orgID, identityID, embeddingID uuid.UUID, emb []float32) {
	if len(emb) == 0 {
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	oi := x.orgs[orgID]
	if oi == nil {
		oi = newOrgIndex()
		x.orgs[orgID] = oi
	}
	oi.add(embeddingID, identityID, emb)
}

func (oi *orgIndex) add(embeddingID, identityID uuid.UUID, emb []float32) {
	key := embeddingID.String()
	if _, exists := oi.entries[key]; exists {
		return
	}
	oi.graph.Add(hnsw.MakeNode(key, emb))
	oi.entries[key] = entry{identityID: identityID, embedding: emb}
	oi.perIdentity[identityID]++
}

// Remove drops one embedding from search results. The graph node stays
// behind as a ghost until the next rebuild.
func (x *Index) Remove(orgID, embeddingID uuid.UUID) {
	x.mu.Lock()
	defer x.mu.Unlock()

	oi := x.orgs[orgID]
	if oi == nil {
		return
	}
	key := embeddingID.String()
	e, ok := oi.entries[key]
	if !ok {
		return
	}
	delete(oi.entries, key)
	oi.ghosts++
	if oi.perIdentity[e.identityID] <= 1 {
		delete(oi.perIdentity, e.identityID)
	} else {
		oi.perIdentity[e.identityID]--
	}
	oi.maybeRebuild()
}

// RemoveIdentity drops every embedding of one identity (deactivation).
func (x *Index) RemoveIdentity(orgID, identityID uuid.UUID) {
	x.mu.Lock()
	defer x.mu.Unlock()

	oi := x.orgs[orgID]
	if oi == nil {
		return
	}
	for key, e := range oi.entries {
		if e.identityID == identityID {
			delete(oi.entries, key)
			oi.ghosts++
		}
	}
	delete(oi.perIdentity, identityID)
	oi.maybeRebuild()
}

// maybeRebuild reconstructs the graph once ghosts outnumber live entries.
// Caller holds the write lock.
func (oi *orgIndex) maybeRebuild() {
	if oi.ghosts < 128 || oi.ghosts <= len(oi.entries) {
		return
	}
	g := hnsw.NewGraph[string]()
	g.M = maxNeighbors
	g.Ml = 1.0 / float64(maxNeighbors)
	g.Distance = hnsw.CosineDistance
	for key, e := range oi.entries {
		g.Add(hnsw.MakeNode(key, e.embedding))
	}
	oi.graph = g
	oi.ghosts = 0
}

// Search returns up to k identity-level candidates ordered by ascending
// cosine distance. Per identity the best (smallest) distance wins. Scoped
// strictly to orgID; an unknown org yields no candidates.
func (x *Index) Search(orgID uuid.UUID, query []float32, k int) []Candidate {
	x.mu.RLock()
	defer x.mu.RUnlock()

	oi := x.orgs[orgID]
	if oi == nil || len(oi.entries) == 0 || k <= 0 {
		return nil
	}

	// Overfetch: several embeddings may map to one identity and ghost
	// nodes are filtered out after the graph search.
	fetch := k * 8
	if fetch < 32 {
		fetch = 32
	}
	neighbors := oi.graph.Search(query, fetch)

	best := make(map[uuid.UUID]float64)
	for _, n := range neighbors {
		e, alive := oi.entries[n.Key]
		if !alive {
			continue
		}
		d := CosineDistance(query, e.embedding)
		if cur, ok := best[e.identityID]; !ok || d < cur {
			best[e.identityID] = d
		}
	}

	out := make([]Candidate, 0, len(best))
	for id, d := range best {
		out = append(out, Candidate{IdentityID: id, Distance: d})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if len(out) > k {
		out = out[:k]
	}
	return out
}

// IdentityCount returns the number of live identities for an org.
func (x *Index) IdentityCount(orgID uuid.UUID) int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	oi := x.orgs[orgID]
	if oi == nil {
		return 0
	}
	return len(oi.perIdentity)
}

// EmbeddingCount returns the number of live embeddings for an org.
func (x *Index) EmbeddingCount(orgID uuid.UUID) int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	oi := x.orgs[orgID]
	if oi == nil {
		return 0
	}
	return len(oi.entries)
}
