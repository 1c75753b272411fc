// Package repository provides the persistence ports the recommendation core
// consumes (interaction log, catalog, trending writes, active users, ratings,
// listing pages) and their in-memory and Postgres implementations.
package repository

import (
	"context"
	"time"

	"github.com/okian/voyage/internal/domain/model"
	"github.com/okian/voyage/internal/domain/types"
)

// InteractionLog is the append-only event store.
type InteractionLog interface {
	AppendInteraction(ctx context.Context, e model.InteractionEvent) error
	ListInteractionEvents(ctx context.Context, filter model.EventFilter) ([]model.InteractionEvent, error)
}

// Catalog lists entities. ListEntities(kind) from the core's point of view is
// split per kind so callers get typed rows.
type Catalog interface {
	ListDestinations(ctx context.Context) ([]model.Destination, error)
	ListItineraries(ctx context.Context) ([]model.Itinerary, error)
	ListCategories(ctx context.Context) ([]model.Category, error)
	ListCountries(ctx context.Context) ([]string, error)
}

// TrendingStore persists and serves trending scores.
type TrendingStore interface {
	// UpdateTrendingScores writes every score in one batch.
	UpdateTrendingScores(ctx context.Context, scores map[string]float64) error
	TopTrending(ctx context.Context, n int) ([]types.TrendingEntry, error)
}

// Users answers questions about authenticated users.
type Users interface {
	ActiveUsers(ctx context.Context, since time.Time) ([]string, error)
}

// RatingWriter stores ratings.
type RatingWriter interface {
	SaveRating(ctx context.Context, r model.Rating) error
}

// DestinationQuery filters the destination listing.
type DestinationQuery struct {
	Trending bool
	Country  string
	Page     int
	PageSize int
}

// CategoryQuery filters the itineraries-by-category listing.
type CategoryQuery struct {
	DestinationSlug string
	BudgetMax       float64 // zero means no cap
	DurationDays    int     // zero means any
	Page            int
	PageSize        int
}

// Page is one page of a listing.
type Page struct {
	Count    int   `json:"count"`
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
	Results  []any `json:"results"`
}

// ListingSource renders listing pages for the request-scoped cache tier.
type ListingSource interface {
	DestinationPage(ctx context.Context, q DestinationQuery) (Page, error)
	CategoryPage(ctx context.Context, categorySlug string, q CategoryQuery) (Page, error)
}

// Store is everything the service needs from persistence.
type Store interface {
	InteractionLog
	Catalog
	TrendingStore
	Users
	RatingWriter
	ListingSource
	Close() error
}

func paginate[T any](rows []T, page, size int) Page {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 10
	}
	out := Page{Count: len(rows), Page: page, PageSize: size, Results: []any{}}
	start := (page - 1) * size
	if start >= len(rows) {
		return out
	}
	end := min(start+size, len(rows))
	for _, r := range rows[start:end] {
		out.Results = append(out.Results, r)
	}
	return out
}
