package dto

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name                          string
		page, limit                   int
		wantPage, wantLimit, wantOffs int
	}{
		{"defaults", 0, 0, 1, 20, 0},
		{"negative page", -3, 10, 1, 10, 0},
		{"limit capped", 1, 500, 1, 100, 0},
		{"offset from page", 3, 25, 3, 25, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := ListQuery{Page: tt.page, Limit: tt.limit}
			page, limit, offset := q.Normalize()
			if page != tt.wantPage || limit != tt.wantLimit || offset != tt.wantOffs {
				t.Errorf("got (%d, %d, %d), want (%d, %d, %d)",
					page, limit, offset, tt.wantPage, tt.wantLimit, tt.wantOffs)
			}
		})
	}
}

func TestNewPageMeta(t *testing.T) {
	tests := []struct {
		name           string
		page, limit    int
		total          int
		wantPages      int
		wantNext, prev bool
	}{
		{"empty", 1, 20, 0, 0, false, false},
		{"single page", 1, 20, 15, 1, false, false},
		{"first of three", 1, 20, 45, 3, true, false},
		{"middle page", 2, 20, 45, 3, true, true},
		{"last page", 3, 20, 45, 3, false, true},
		{"exact boundary", 2, 20, 40, 2, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewPageMeta(tt.page, tt.limit, tt.total)
			if m.TotalPages != tt.wantPages {
				t.Errorf("total pages = %d, want %d", m.TotalPages, tt.wantPages)
			}
			if m.HasNext != tt.wantNext {
				t.Errorf("has next = %v, want %v", m.HasNext, tt.wantNext)
			}
			if m.HasPrev != tt.prev {
				t.Errorf("has prev = %v, want %v", m.HasPrev, tt.prev)
			}
		})
	}
}
