package repository

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/okian/voyage/internal/domain/model"
	"github.com/okian/voyage/internal/domain/types"
)

// MemoryStore keeps the interaction log and catalog in process. It backs
// development runs and tests. Identities come from the auth layer, so any
// non-empty user id is accepted.
type MemoryStore struct {
	mu           sync.RWMutex
	events       []model.InteractionEvent
	destinations map[string]model.Destination
	itineraries  map[string]model.Itinerary
	categories   map[string]model.Category
	lastSeen     map[string]time.Time
	ratings      []model.Rating

	trending          *TrendingIndex
	trendingCacheSize int
	seed              *CatalogData
	now               func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store, optionally seeded with a catalog.
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		destinations:      make(map[string]model.Destination),
		itineraries:       make(map[string]model.Itinerary),
		categories:        make(map[string]model.Category),
		lastSeen:          make(map[string]time.Time),
		trendingCacheSize: 100,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.trending = NewTrendingIndex(s.trendingCacheSize)
	if s.seed != nil {
		for _, d := range s.seed.Destinations {
			s.PutDestination(d)
		}
		for _, c := range s.seed.Categories {
			s.PutCategory(c)
		}
		for _, it := range s.seed.Itineraries {
			s.PutItinerary(it)
		}
		s.seed = nil
	}
	return s
}

// PutDestination inserts or replaces a destination.
func (s *MemoryStore) PutDestination(d model.Destination) {
	s.mu.Lock()
	s.destinations[d.ID] = d
	s.mu.Unlock()
	s.trending.Describe(d.ID, d.Name, d.Slug)
	s.trending.Set(d.ID, d.TrendingScore)
}

// DeleteDestination removes a destination and its itineraries.
func (s *MemoryStore) DeleteDestination(id string) {
	s.mu.Lock()
	delete(s.destinations, id)
	for k, it := range s.itineraries {
		if it.DestinationID == id {
			delete(s.itineraries, k)
		}
	}
	s.mu.Unlock()
	s.trending.Remove(id)
}

// PutItinerary inserts or replaces an itinerary.
func (s *MemoryStore) PutItinerary(it model.Itinerary) {
	s.mu.Lock()
	s.itineraries[it.ID] = it
	s.mu.Unlock()
}

// PutCategory inserts or replaces a category.
func (s *MemoryStore) PutCategory(c model.Category) {
	s.mu.Lock()
	s.categories[c.Slug] = c
	s.mu.Unlock()
}

func (s *MemoryStore) touch(userID string, ts time.Time) {
	if userID == "" {
		return
	}
	if ts.After(s.lastSeen[userID]) {
		s.lastSeen[userID] = ts
	}
}

// AppendInteraction implements InteractionLog.
func (s *MemoryStore) AppendInteraction(_ context.Context, e model.InteractionEvent) error {
	e.Actor = e.Actor.Normalize()
	if e.TS.IsZero() {
		e.TS = s.now()
	}
	if err := e.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.destinations[e.SubjectID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEntity, e.SubjectID)
	}
	s.events = append(s.events, e)
	s.touch(e.Actor.UserID, e.TS)
	return nil
}

// ListInteractionEvents implements InteractionLog.
func (s *MemoryStore) ListInteractionEvents(_ context.Context, filter model.EventFilter) ([]model.InteractionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.InteractionEvent, 0)
	for _, e := range s.events {
		if filter.Match(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

// ListDestinations returns destinations ordered by id with current trending scores.
func (s *MemoryStore) ListDestinations(_ context.Context) ([]model.Destination, error) {
	s.mu.RLock()
	out := make([]model.Destination, 0, len(s.destinations))
	for _, d := range s.destinations {
		out = append(out, d)
	}
	s.mu.RUnlock()
	for i := range out {
		out[i].TrendingScore = s.trending.Score(out[i].ID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListItineraries returns itineraries ordered by id.
func (s *MemoryStore) ListItineraries(_ context.Context) ([]model.Itinerary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Itinerary, 0, len(s.itineraries))
	for _, it := range s.itineraries {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListCategories returns categories ordered by slug.
func (s *MemoryStore) ListCategories(_ context.Context) ([]model.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Category, 0, len(s.categories))
	for _, c := range s.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

// ListCountries returns the distinct non-empty destination countries, sorted.
func (s *MemoryStore) ListCountries(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, d := range s.destinations {
		if d.Country == "" {
			continue
		}
		if _, ok := seen[d.Country]; ok {
			continue
		}
		seen[d.Country] = struct{}{}
		out = append(out, d.Country)
	}
	sort.Strings(out)
	return out, nil
}

// UpdateTrendingScores implements TrendingStore. Unknown ids are ignored.
func (s *MemoryStore) UpdateTrendingScores(_ context.Context, scores map[string]float64) error {
	known := make(map[string]float64, len(scores))
	s.mu.Lock()
	for id, v := range scores {
		d, ok := s.destinations[id]
		if !ok {
			continue
		}
		d.TrendingScore = v
		s.destinations[id] = d
		known[id] = v
	}
	s.mu.Unlock()
	s.trending.SetAll(known)
	return nil
}

// TopTrending implements TrendingStore.
func (s *MemoryStore) TopTrending(_ context.Context, n int) ([]types.TrendingEntry, error) {
	return s.trending.TopN(n)
}

// ActiveUsers returns users seen at or after since, sorted by id.
func (s *MemoryStore) ActiveUsers(_ context.Context, since time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0)
	for id, ts := range s.lastSeen {
		if !ts.Before(since) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

// SaveRating implements RatingWriter. Itinerary ratings must reference a known itinerary.
func (s *MemoryStore) SaveRating(_ context.Context, r model.Rating) error {
	if err := r.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ObjectType == model.RatingItinerary {
		if _, ok := s.itineraries[r.ObjectID]; !ok {
			return fmt.Errorf("%w: itinerary %s", ErrNotFound, r.ObjectID)
		}
	}
	s.ratings = append(s.ratings, r)
	s.touch(r.UserID, s.now())
	return nil
}

// Ratings returns a copy of stored ratings.
func (s *MemoryStore) Ratings() []model.Rating {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.ratings)
}

// DestinationPage implements ListingSource.
func (s *MemoryStore) DestinationPage(ctx context.Context, q DestinationQuery) (Page, error) {
	all, err := s.ListDestinations(ctx)
	if err != nil {
		return Page{}, err
	}
	rows := make([]model.Destination, 0, len(all))
	for _, d := range all {
		if q.Country != "" && !strings.EqualFold(d.Country, q.Country) {
			continue
		}
		if q.Trending && d.TrendingScore <= 0 {
			continue
		}
		rows = append(rows, d)
	}
	if q.Trending {
		sort.SliceStable(rows, func(i, j int) bool { return less(rows[i].TrendingScore, rows[i].ID, rows[j].TrendingScore, rows[j].ID) })
	}
	return paginate(rows, q.Page, q.PageSize), nil
}

// CategoryPage implements ListingSource.
func (s *MemoryStore) CategoryPage(_ context.Context, categorySlug string, q CategoryQuery) (Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.categories[categorySlug]; !ok {
		return Page{}, fmt.Errorf("%w: category %s", ErrNotFound, categorySlug)
	}
	var destID string
	if q.DestinationSlug != "" {
		for _, d := range s.destinations {
			if d.Slug == q.DestinationSlug {
				destID = d.ID
				break
			}
		}
		if destID == "" {
			return paginate([]model.Itinerary{}, q.Page, q.PageSize), nil
		}
	}
	rows := make([]model.Itinerary, 0)
	for _, it := range s.itineraries {
		if it.CategorySlug != categorySlug {
			continue
		}
		if destID != "" && it.DestinationID != destID {
			continue
		}
		if q.BudgetMax > 0 && it.TotalBudget > q.BudgetMax {
			continue
		}
		if q.DurationDays > 0 && it.DurationDays != q.DurationDays {
			continue
		}
		rows = append(rows, it)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return paginate(rows, q.Page, q.PageSize), nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
