package api

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePagination(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"defaults", "", defaultPageLimit, 0},
		{"custom limit", "limit=50", 50, 0},
		{"custom offset", "offset=10", defaultPageLimit, 10},
		{"both", "limit=25&offset=5", 25, 5},
		{"limit exceeds max", "limit=500", maxPageLimit, 0},
		{"negative limit uses default", "limit=-1", defaultPageLimit, 0},
		{"negative offset uses zero", "offset=-5", defaultPageLimit, 0},
		{"non-numeric limit", "limit=abc", defaultPageLimit, 0},
		{"zero limit uses default", "limit=0", defaultPageLimit, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := "/admin/security-logs"
			if tt.query != "" {
				url += "?" + tt.query
			}
			r := httptest.NewRequest("GET", url, nil)
			limit, offset := parsePagination(r)
			assert.Equal(t, tt.wantLimit, limit, "limit")
			assert.Equal(t, tt.wantOffset, offset, "offset")
		})
	}
}

func TestPaginateSlice(t *testing.T) {
	tests := []struct {
		name      string
		fetched   int
		limit     int
		offset    int
		wantStart int
		wantEnd   int
		wantMore  bool
	}{
		{name: "first page with lookahead", fetched: 11, limit: 10, offset: 0, wantStart: 0, wantEnd: 10, wantMore: true},
		{name: "second page with lookahead", fetched: 21, limit: 10, offset: 10, wantStart: 10, wantEnd: 20, wantMore: true},
		{name: "last page partial", fetched: 25, limit: 10, offset: 20, wantStart: 20, wantEnd: 25, wantMore: false},
		{name: "offset beyond fetched", fetched: 5, limit: 10, offset: 100, wantStart: 5, wantEnd: 5, wantMore: false},
		{name: "exact fit", fetched: 10, limit: 10, offset: 0, wantStart: 0, wantEnd: 10, wantMore: false},
		{name: "empty", fetched: 0, limit: 10, offset: 0, wantStart: 0, wantEnd: 0, wantMore: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, meta := paginateSlice(tt.fetched, tt.limit, tt.offset)
			assert.Equal(t, tt.wantStart, start, "start")
			assert.Equal(t, tt.wantEnd, end, "end")
			assert.Equal(t, tt.wantMore, meta.HasMore, "hasMore")
			assert.Equal(t, tt.limit, meta.Limit, "limit")
			assert.Equal(t, tt.offset, meta.Offset, "offset")

			assert.LessOrEqual(t, start, end)
			assert.LessOrEqual(t, end, tt.fetched)
		})
	}
}
