package identity

import (
	"testing"

	"github.com/google/uuid"
)

func unit(i int) []float32 {
	v := make([]float32, 8)
	v[i] = 1
	return v
}

// nearUnit returns a vector close to axis i but not identical.
func nearUnit(i int) []float32 {
	v := make([]float32, 8)
	v[i] = 1
	v[(i+1)%8] = 0.1
	return v
}

func TestSearchScopedToOrg(t *testing.T) {
	idx := NewIndex()
	orgA, orgB := uuid.New(), uuid.New()
	identA, identB := uuid.New(), uuid.New()

	idx.Add(orgA, identA, uuid.New(), unit(0))
	idx.Add(orgB, identB, uuid.New(), unit(0))

	got := idx.Search(orgA, unit(0), 5)
	if len(got) != 1 {
		t.Fatalf("search orgA returned %d candidates, want 1", len(got))
	}
	if got[0].IdentityID != identA {
		t.Errorf("search orgA returned identity %s, want %s", got[0].IdentityID, identA)
	}

	if got := idx.Search(uuid.New(), unit(0), 5); got != nil {
		t.Errorf("search of unknown org returned %d candidates, want none", len(got))
	}
}

func TestSearchBestDistancePerIdentity(t *testing.T) {
	idx := NewIndex()
	org := uuid.New()
	ident := uuid.New()

	idx.Add(org, ident, uuid.New(), unit(0))
	idx.Add(org, ident, uuid.New(), nearUnit(0))
	idx.Add(org, ident, uuid.New(), unit(3))

	got := idx.Search(org, unit(0), 2)
	if len(got) != 1 {
		t.Fatalf("got %d candidates, want 1 (one identity)", len(got))
	}
	if got[0].Distance > 1e-9 {
		t.Errorf("best distance = %v, want 0 (exact embedding enrolled)", got[0].Distance)
	}
}

func TestSearchAscendingOrder(t *testing.T) {
	idx := NewIndex()
	org := uuid.New()
	near, mid, far := uuid.New(), uuid.New(), uuid.New()

	idx.Add(org, far, uuid.New(), unit(4))
	idx.Add(org, near, uuid.New(), unit(0))
	idx.Add(org, mid, uuid.New(), nearUnit(0))

	got := idx.Search(org, unit(0), 3)
	if len(got) != 3 {
		t.Fatalf("got %d candidates, want 3", len(got))
	}
	if got[0].IdentityID != near || got[1].IdentityID != mid || got[2].IdentityID != far {
		t.Errorf("order = [%s %s %s], want [near mid far]", got[0].IdentityID, got[1].IdentityID, got[2].IdentityID)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Distance < got[i-1].Distance {
			t.Errorf("distances not ascending: %v then %v", got[i-1].Distance, got[i].Distance)
		}
	}
}

func TestSearchTrimsToK(t *testing.T) {
	idx := NewIndex()
	org := uuid.New()
	for i := 0; i < 6; i++ {
		idx.Add(org, uuid.New(), uuid.New(), unit(i))
	}

	if got := idx.Search(org, unit(0), 2); len(got) != 2 {
		t.Errorf("got %d candidates, want k=2", len(got))
	}
}

func TestRemoveEmbedding(t *testing.T) {
	idx := NewIndex()
	org := uuid.New()
	ident := uuid.New()
	embID := uuid.New()

	idx.Add(org, ident, embID, unit(0))
	idx.Remove(org, embID)

	if got := idx.Search(org, unit(0), 5); len(got) != 0 {
		t.Errorf("removed embedding still searchable: %d candidates", len(got))
	}
	if n := idx.IdentityCount(org); n != 0 {
		t.Errorf("IdentityCount = %d, want 0", n)
	}
}

func TestRemoveIdentity(t *testing.T) {
	idx := NewIndex()
	org := uuid.New()
	gone, stays := uuid.New(), uuid.New()

	idx.Add(org, gone, uuid.New(), unit(0))
	idx.Add(org, gone, uuid.New(), nearUnit(0))
	idx.Add(org, stays, uuid.New(), unit(5))

	idx.RemoveIdentity(org, gone)

	got := idx.Search(org, unit(0), 5)
	for _, c := range got {
		if c.IdentityID == gone {
			t.Fatalf("deactivated identity still searchable")
		}
	}
	if n := idx.IdentityCount(org); n != 1 {
		t.Errorf("IdentityCount = %d, want 1", n)
	}
	if n := idx.EmbeddingCount(org); n != 1 {
		t.Errorf("EmbeddingCount = %d, want 1", n)
	}
}

func TestBootstrapReplacesState(t *testing.T) {
	idx := NewIndex()
	org := uuid.New()
	old := uuid.New()
	idx.Add(org, old, uuid.New(), unit(0))

	fresh := uuid.New()
	idx.Bootstrap([]IndexedFace{
		{EmbeddingID: uuid.New(), IdentityID: fresh, OrgID: org, Embedding: unit(1)},
	})

	got := idx.Search(org, unit(1), 5)
	if len(got) != 1 || got[0].IdentityID != fresh {
		t.Fatalf("bootstrap did not replace index state")
	}
	if idx.IdentityCount(org) != 1 {
		t.Errorf("IdentityCount = %d, want 1", idx.IdentityCount(org))
	}
}
