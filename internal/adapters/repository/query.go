package repository

import (
	"net/url"
	"strconv"
	"strings"
)

// Listing query parameter names.
const (
	ParamPage         = "page"
	ParamPageSize     = "page_size"
	ParamTrending     = "trending"
	ParamCountry      = "country"
	ParamDestination  = "destination"
	ParamBudgetMax    = "budget_max"
	ParamDurationDays = "duration_days"
)

func intParam(v url.Values, key string) int {
	n, err := strconv.Atoi(v.Get(key))
	if err != nil {
		return 0
	}
	return n
}

// ParseDestinationQuery reads a destination listing query. Malformed numbers
// fall back to defaults.
func ParseDestinationQuery(v url.Values) DestinationQuery {
	return DestinationQuery{
		Trending: strings.EqualFold(v.Get(ParamTrending), "true"),
		Country:  v.Get(ParamCountry),
		Page:     intParam(v, ParamPage),
		PageSize: intParam(v, ParamPageSize),
	}
}

// ParseCategoryQuery reads an itineraries-by-category query.
func ParseCategoryQuery(v url.Values) CategoryQuery {
	budget, err := strconv.ParseFloat(v.Get(ParamBudgetMax), 64)
	if err != nil || budget < 0 {
		budget = 0
	}
	return CategoryQuery{
		DestinationSlug: v.Get(ParamDestination),
		BudgetMax:       budget,
		DurationDays:    intParam(v, ParamDurationDays),
		Page:            intParam(v, ParamPage),
		PageSize:        intParam(v, ParamPageSize),
	}
}
