// Package types contains the payloads stored in the cache and served to callers.
package types

// Entry is one scored entity in a recommendation list. Lists are cached and
// served in this shape, ordered by Score desc with ID asc on ties.
type Entry struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Slug            string  `json:"slug,omitempty"`
	DestinationID   string  `json:"destination_id,omitempty"`
	Score           float64 `json:"score"`
	TrendingScore   float64 `json:"trending_score,omitempty"`
	PopularityScore float64 `json:"popularity_score,omitempty"`
}

// Recommendations is the response for a recommendation read.
type Recommendations struct {
	Recommended []Entry `json:"recommended"`
	All         []Entry `json:"all"`
}

// TrendingEntry is a destination ranked by persisted trending score.
type TrendingEntry struct {
	Rank          int     `json:"rank"`
	DestinationID string  `json:"destination_id"`
	Name          string  `json:"name"`
	Slug          string  `json:"slug,omitempty"`
	TrendingScore float64 `json:"trending_score"`
}

// Head returns at most n leading entries. A non-positive n yields an empty list.
func Head(entries []Entry, n int) []Entry {
	if n <= 0 || len(entries) == 0 {
		return []Entry{}
	}
	if n > len(entries) {
		n = len(entries)
	}
	out := make([]Entry, n)
	copy(out, entries[:n])
	return out
}
