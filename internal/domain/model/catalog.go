package model

import "fmt"

// Kind selects which entity list a recommendation covers.
type Kind string

// Recommendation kinds. The values appear in cache keys.
const (
	KindDestination Kind = "destinations"
	KindItinerary   Kind = "itineraries"
)

// ParseKind accepts the plural wire form and its singular.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "destinations", "destination":
		return KindDestination, nil
	case "itineraries", "itinerary":
		return KindItinerary, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Destination is a place visitors interact with. TrendingScore is written
// only by the trending recompute.
type Destination struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Slug          string  `json:"slug"`
	Country       string  `json:"country,omitempty"`
	TrendingScore float64 `json:"trending_score"`
}

// Itinerary is a curated trip plan attached to a destination.
type Itinerary struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	Slug            string  `json:"slug"`
	DestinationID   string  `json:"destination_id"`
	CategorySlug    string  `json:"category,omitempty"`
	DurationDays    int     `json:"duration_days"`
	TotalBudget     float64 `json:"total_budget"`
	PopularityScore float64 `json:"popularity_score"`
}

// Category groups itineraries.
type Category struct {
	Slug string `json:"slug"`
	Name string `json:"name"`
}

// Rating targets.
const (
	RatingItinerary  = "itinerary"
	RatingAttraction = "attraction"
	RatingRestaurant = "restaurant"
	RatingExperience = "experience"
)

// Rating is a 1..5 score an authenticated user gives to rated content.
type Rating struct {
	UserID     string
	ObjectType string
	ObjectID   string
	Value      int
	Review     string
}

// Validate enforces the rating range and target.
func (r Rating) Validate() error {
	if r.UserID == "" {
		return ErrMissingActor
	}
	if r.Value < 1 || r.Value > 5 {
		return ErrRatingRange
	}
	switch r.ObjectType {
	case RatingItinerary, RatingAttraction, RatingRestaurant, RatingExperience:
	default:
		return fmt.Errorf("%w: %q", ErrRatingTarget, r.ObjectType)
	}
	if r.ObjectID == "" {
		return ErrMissingSubject
	}
	return nil
}
