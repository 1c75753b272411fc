package cache

import (
	"net/url"
	"strings"

	"github.com/okian/voyage/internal/domain/model"
)

// Key prefixes. These strings are a contract with every other reader and
// writer of the cache and must not change.
const (
	PrefixRecommendations = "recommendations:"
	PrefixGlobal          = "recommendations:global:"
	PrefixUser            = "recommendations:user:"
	PrefixDestinations    = "destinations:"
	PrefixCategory        = "category:"
)

// Tier names used in logs and metrics.
const (
	TierGlobal        = "global"
	TierPerUser       = "per_user"
	TierRequestScoped = "request_scoped"
)

// GlobalKey is recommendations:global:{kind}.
func GlobalKey(kind model.Kind) string {
	return PrefixGlobal + string(kind)
}

// UserKey is recommendations:user:{user_id}:{kind}.
func UserKey(userID string, kind model.Kind) string {
	return PrefixUser + userID + ":" + string(kind)
}

// UserKeys returns both per-user keys for userID.
func UserKeys(userID string) []string {
	return []string{UserKey(userID, model.KindDestination), UserKey(userID, model.KindItinerary)}
}

// ListingPath renders a request path with its query. url.Values.Encode sorts
// by key so equal queries produce equal paths.
func ListingPath(path string, query url.Values) string {
	if len(query) == 0 {
		return path
	}
	return path + "?" + query.Encode()
}

// DestinationListingKey is destinations:{full path}.
func DestinationListingKey(fullPath string) string {
	return PrefixDestinations + fullPath
}

// CategoryListingKey is category:{slug}:{full path}.
func CategoryListingKey(slug, fullPath string) string {
	return PrefixCategory + slug + ":" + fullPath
}

// TierOf classifies a key.
func TierOf(key string) string {
	switch {
	case strings.HasPrefix(key, PrefixGlobal):
		return TierGlobal
	case strings.HasPrefix(key, PrefixUser):
		return TierPerUser
	default:
		return TierRequestScoped
	}
}

// Listing request paths served by the API and warmed by the precompute jobs.
const DestinationListingPath = "/api/destinations/"

// CategoryListingPath is the itineraries-by-category path for slug.
func CategoryListingPath(slug string) string {
	return "/api/categories/type/" + slug + "/"
}
