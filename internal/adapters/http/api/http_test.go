package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/voyage/internal/adapters/cache"
	"github.com/okian/voyage/internal/adapters/http/api"
	"github.com/okian/voyage/internal/adapters/mq/queue"
	"github.com/okian/voyage/internal/adapters/repository"
	"github.com/okian/voyage/internal/domain/model"
	"github.com/okian/voyage/internal/domain/types"
	"github.com/okian/voyage/internal/jobs"
	"github.com/okian/voyage/internal/recommend"
)

// mockService records what handlers pass through and returns canned data.
type mockService struct {
	recs     types.Recommendations
	recsErr  error
	kind     model.Kind
	actor    model.Actor
	limit    int
	trending []types.TrendingEntry
	trendN   int

	tracked   []model.InteractionEvent
	duplicate bool
	trackErr  error

	rated   []model.Rating
	rateErr error

	query    url.Values
	slug     string
	page     repository.Page
	hookErr  error
	hooks    []string
	flushed  string
	jobs     []string
	jobErr   error
	statsHit int
}

func (m *mockService) ParseLimit(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 5
	}
	return max(1, min(n, 20))
}

func (m *mockService) GetRecommendations(_ context.Context, kind model.Kind, actor model.Actor, limit int) (types.Recommendations, error) {
	m.kind, m.actor, m.limit = kind, actor, limit
	return m.recs, m.recsErr
}

func (m *mockService) Trending(_ context.Context, limit int) ([]types.TrendingEntry, error) {
	m.trendN = limit
	return m.trending, nil
}

func (m *mockService) Track(_ context.Context, e model.InteractionEvent) (bool, error) {
	if m.trackErr != nil {
		return false, m.trackErr
	}
	m.tracked = append(m.tracked, e)
	return m.duplicate, nil
}

func (m *mockService) Rate(_ context.Context, r model.Rating) error {
	if m.rateErr != nil {
		return m.rateErr
	}
	m.rated = append(m.rated, r)
	return nil
}

func (m *mockService) DestinationListing(_ context.Context, q url.Values) (repository.Page, error) {
	m.query = q
	return m.page, nil
}

func (m *mockService) CategoryListing(_ context.Context, slug string, q url.Values) (repository.Page, error) {
	m.slug, m.query = slug, q
	return m.page, nil
}

func (m *mockService) OnDestinationChanged(context.Context) error {
	m.hooks = append(m.hooks, "destination")
	return m.hookErr
}

func (m *mockService) OnCategoryChanged(context.Context) error {
	m.hooks = append(m.hooks, "category")
	return m.hookErr
}

func (m *mockService) OnUserSignal(_ context.Context, userID string) error {
	m.hooks = append(m.hooks, "user:"+userID)
	return m.hookErr
}

func (m *mockService) Flush(_ context.Context, prefix string) (int, error) {
	m.flushed = prefix
	return 3, nil
}

func (m *mockService) TriggerJob(_ context.Context, job string) error {
	if m.jobErr != nil {
		return m.jobErr
	}
	m.jobs = append(m.jobs, job)
	return nil
}

func (m *mockService) GetStats(context.Context) map[string]any {
	m.statsHit++
	return map[string]any{"queueLength": 2}
}

func do(h http.Handler, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(w *httptest.ResponseRecorder, v any) {
	So(json.Unmarshal(w.Body.Bytes(), v), ShouldBeNil)
}

func TestReadRoutes(t *testing.T) {
	Convey("Given the API router", t, func() {
		svc := &mockService{}
		h := api.NewServer(svc, svc).Router()

		Convey("When /healthz is scraped", func() {
			w := do(h, http.MethodGet, "/healthz", "", nil)

			Convey("Then it serves metrics", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
			})
		})

		Convey("When the API description is fetched", func() {
			w := do(h, http.MethodGet, "/openapi.yaml", "", nil)

			Convey("Then it is served", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
			})
		})

		Convey("When /stats is read", func() {
			w := do(h, http.MethodGet, "/stats", "", nil)

			Convey("Then it returns the provider's map", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var got map[string]any
				decode(w, &got)
				So(got["queueLength"], ShouldEqual, float64(2))
				So(svc.statsHit, ShouldEqual, 1)
			})
		})

		Convey("When recommendations are requested by a user with a session too", func() {
			svc.recs = types.Recommendations{
				Recommended: []types.Entry{{ID: "d1", Score: 14.6}},
				All:         []types.Entry{{ID: "d1", Score: 14.6}, {ID: "d2"}},
			}
			w := do(h, http.MethodGet, "/api/recommendations/destinations?limit=99", "",
				map[string]string{api.HeaderUserID: "u1", api.HeaderSessionID: "s1"})

			Convey("Then the user wins and the limit is clamped", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(svc.kind, ShouldEqual, model.KindDestination)
				So(svc.actor, ShouldResemble, model.Actor{UserID: "u1"})
				So(svc.limit, ShouldEqual, 20)

				var got types.Recommendations
				decode(w, &got)
				So(got.Recommended, ShouldHaveLength, 1)
				So(got.All, ShouldHaveLength, 2)
			})
		})

		Convey("When an anonymous caller asks for itineraries without a limit", func() {
			w := do(h, http.MethodGet, "/api/recommendations/itineraries?limit=abc", "", nil)

			Convey("Then the default limit applies", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(svc.kind, ShouldEqual, model.KindItinerary)
				So(svc.actor.IsZero(), ShouldBeTrue)
				So(svc.limit, ShouldEqual, 5)
			})
		})

		Convey("When the kind is unknown", func() {
			w := do(h, http.MethodGet, "/api/recommendations/hotels", "", nil)

			Convey("Then it returns 404", func() {
				So(w.Code, ShouldEqual, http.StatusNotFound)
				var got map[string]string
				decode(w, &got)
				So(got["code"], ShouldEqual, "not_found")
			})
		})

		Convey("When the service fails", func() {
			svc.recsErr = errors.New("disk on fire")
			w := do(h, http.MethodGet, "/api/recommendations/destinations", "", nil)

			Convey("Then it returns 500 without leaking the cause", func() {
				So(w.Code, ShouldEqual, http.StatusInternalServerError)
				So(w.Body.String(), ShouldNotContainSubstring, "disk on fire")
			})
		})

		Convey("When trending is requested", func() {
			svc.trending = []types.TrendingEntry{{Rank: 1, DestinationID: "d2", TrendingScore: 3}}

			Convey("Then a valid limit is forwarded", func() {
				w := do(h, http.MethodGet, "/api/trending?limit=3", "", nil)
				So(w.Code, ShouldEqual, http.StatusOK)
				So(svc.trendN, ShouldEqual, 3)
				var got []types.TrendingEntry
				decode(w, &got)
				So(got[0].DestinationID, ShouldEqual, "d2")
			})

			Convey("Then an invalid limit falls back to the default", func() {
				w := do(h, http.MethodGet, "/api/trending?limit=-4", "", nil)
				So(w.Code, ShouldEqual, http.StatusOK)
				So(svc.trendN, ShouldEqual, 0)
			})
		})

		Convey("When listings are requested", func() {
			svc.page = repository.Page{Count: 1, Page: 2, PageSize: 10, Results: []any{"x"}}

			Convey("Then destinations get the raw query", func() {
				w := do(h, http.MethodGet, "/api/destinations/?page=2&country=PT", "", nil)
				So(w.Code, ShouldEqual, http.StatusOK)
				So(svc.query.Get("country"), ShouldEqual, "PT")
				var got repository.Page
				decode(w, &got)
				So(got.Page, ShouldEqual, 2)
			})

			Convey("Then categories get the slug", func() {
				w := do(h, http.MethodGet, "/api/categories/type/food/?budget_max=10000", "", nil)
				So(w.Code, ShouldEqual, http.StatusOK)
				So(svc.slug, ShouldEqual, "food")
				So(svc.query.Get("budget_max"), ShouldEqual, "10000")
			})
		})
	})
}

func TestTrackingRoutes(t *testing.T) {
	Convey("Given the API router", t, func() {
		svc := &mockService{}
		h := api.NewServer(svc, svc).Router()

		Convey("When an anonymous view has no body", func() {
			w := do(h, http.MethodPost, "/api/destinations/d1/view", "", nil)

			Convey("Then a session id is issued and the view is accepted", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				sid := w.Header().Get(api.HeaderSessionID)
				So(sid, ShouldNotBeEmpty)
				So(svc.tracked, ShouldHaveLength, 1)
				So(svc.tracked[0].SubjectID, ShouldEqual, "d1")
				So(svc.tracked[0].Action, ShouldEqual, model.ActionView)
				So(svc.tracked[0].Actor.SessionID, ShouldEqual, sid)
				So(svc.tracked[0].ClientAddr, ShouldEqual, "192.0.2.1")
			})
		})

		Convey("When a user sends a dwell", func() {
			w := do(h, http.MethodPost, "/api/destinations/d1/dwell", `{"event_id":"e1","dwell_time":42.5}`,
				map[string]string{api.HeaderUserID: "u1"})

			Convey("Then the seconds and id are forwarded", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				So(w.Header().Get(api.HeaderSessionID), ShouldBeEmpty)
				So(svc.tracked[0].ID, ShouldEqual, "e1")
				So(svc.tracked[0].Magnitude, ShouldEqual, 42.5)
				So(svc.tracked[0].Actor.UserID, ShouldEqual, "u1")
			})
		})

		Convey("When a dwell has no duration", func() {
			w := do(h, http.MethodPost, "/api/destinations/d1/dwell", `{}`, map[string]string{api.HeaderSessionID: "s1"})

			Convey("Then it is rejected", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(w.Body.String(), ShouldContainSubstring, "dwell_time")
				So(svc.tracked, ShouldBeEmpty)
			})
		})

		Convey("When a dwell is negative", func() {
			w := do(h, http.MethodPost, "/api/destinations/d1/dwell", `{"dwell_time":-1}`, map[string]string{api.HeaderSessionID: "s1"})

			Convey("Then validation rejects it", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(w.Body.String(), ShouldContainSubstring, "dwell_time must be at least 0")
			})
		})

		Convey("When a click carries a target", func() {
			w := do(h, http.MethodPost, "/api/destinations/d2/click", `{"click_target":"book"}`, map[string]string{api.HeaderSessionID: "s1"})

			Convey("Then the target is forwarded", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				So(svc.tracked[0].ClickTarget, ShouldEqual, "book")
				So(svc.tracked[0].Actor, ShouldResemble, model.Actor{SessionID: "s1"})
			})
		})

		Convey("When the body is not JSON", func() {
			w := do(h, http.MethodPost, "/api/destinations/d1/click", `nope`, nil)

			Convey("Then it returns 400", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When the action is unknown", func() {
			w := do(h, http.MethodPost, "/api/destinations/d1/share", "", nil)

			Convey("Then it returns 404", func() {
				So(w.Code, ShouldEqual, http.StatusNotFound)
			})
		})

		Convey("When the event id was already seen", func() {
			svc.duplicate = true
			w := do(h, http.MethodPost, "/api/destinations/d1/view", `{"event_id":"e1"}`, map[string]string{api.HeaderSessionID: "s1"})

			Convey("Then it reports a duplicate", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var got map[string]any
				decode(w, &got)
				So(got["duplicate"], ShouldEqual, true)
			})
		})

		Convey("When the service rejects the event", func() {
			svc.trackErr = model.ErrMissingSubject
			w := do(h, http.MethodPost, "/api/destinations/d1/view", "", map[string]string{api.HeaderSessionID: "s1"})

			Convey("Then the domain error maps to 400", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})
		})
	})
}

func TestRatingRoutes(t *testing.T) {
	Convey("Given the API router", t, func() {
		svc := &mockService{}
		h := api.NewServer(svc, svc).Router()
		user := map[string]string{api.HeaderUserID: "u1"}

		Convey("When an anonymous caller rates", func() {
			w := do(h, http.MethodPost, "/api/ratings", `{"object_type":"itinerary","object_id":"i1","rating":4}`,
				map[string]string{api.HeaderSessionID: "s1"})

			Convey("Then it returns 401", func() {
				So(w.Code, ShouldEqual, http.StatusUnauthorized)
				So(svc.rated, ShouldBeEmpty)
			})
		})

		Convey("When a user rates an itinerary", func() {
			w := do(h, http.MethodPost, "/api/ratings", `{"object_type":"itinerary","object_id":"i1","rating":4,"review":"great"}`, user)

			Convey("Then the rating is stored", func() {
				So(w.Code, ShouldEqual, http.StatusCreated)
				So(svc.rated, ShouldResemble, []model.Rating{{
					UserID: "u1", ObjectType: "itinerary", ObjectID: "i1", Value: 4, Review: "great",
				}})
			})
		})

		Convey("When the rating is out of range", func() {
			w := do(h, http.MethodPost, "/api/ratings", `{"object_type":"itinerary","object_id":"i1","rating":6}`, user)

			Convey("Then validation rejects it", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(w.Body.String(), ShouldContainSubstring, "rating must be at most 5")
			})
		})

		Convey("When the target type is unknown", func() {
			w := do(h, http.MethodPost, "/api/ratings", `{"object_type":"hotel","object_id":"h1","rating":3}`, user)

			Convey("Then validation rejects it", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(w.Body.String(), ShouldContainSubstring, "object_type must be one of")
			})
		})

		Convey("When the rating is missing", func() {
			w := do(h, http.MethodPost, "/api/ratings", `{"object_type":"experience","object_id":"x1"}`, user)

			Convey("Then the field is named", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(w.Body.String(), ShouldContainSubstring, "missing rating")
			})
		})

		Convey("When the rated object is unknown to the store", func() {
			svc.rateErr = repository.ErrUnknownEntity
			w := do(h, http.MethodPost, "/api/ratings", `{"object_type":"restaurant","object_id":"r1","rating":2}`, user)

			Convey("Then it returns 404", func() {
				So(w.Code, ShouldEqual, http.StatusNotFound)
			})
		})
	})
}

func TestHookAndAdminRoutes(t *testing.T) {
	Convey("Given the API router", t, func() {
		svc := &mockService{}
		h := api.NewServer(svc, svc).Router()

		Convey("When each hook is called", func() {
			So(do(h, http.MethodPost, "/hooks/destination-changed", "", nil).Code, ShouldEqual, http.StatusAccepted)
			So(do(h, http.MethodPost, "/hooks/category-changed", "", nil).Code, ShouldEqual, http.StatusAccepted)
			So(do(h, http.MethodPost, "/hooks/user-signal/u9", "", nil).Code, ShouldEqual, http.StatusAccepted)

			Convey("Then the service sees them in order", func() {
				So(svc.hooks, ShouldResemble, []string{"destination", "category", "user:u9"})
			})
		})

		Convey("When a hook cannot queue its job", func() {
			svc.hookErr = recommend.ErrBackpressure
			w := do(h, http.MethodPost, "/hooks/destination-changed", "", nil)

			Convey("Then it returns 429", func() {
				So(w.Code, ShouldEqual, http.StatusTooManyRequests)
			})
		})

		Convey("When the cache is flushed by prefix", func() {
			w := do(h, http.MethodPost, "/admin/cache/flush?prefix=recommendations:user:", "", nil)

			Convey("Then the prefix and count are echoed", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(svc.flushed, ShouldEqual, "recommendations:user:")
				var got map[string]any
				decode(w, &got)
				So(got["deleted"], ShouldEqual, float64(3))
			})
		})

		Convey("When a job is triggered", func() {
			w := do(h, http.MethodPost, "/admin/jobs/"+jobs.RecomputeTrending, "", nil)

			Convey("Then it is queued", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				So(svc.jobs, ShouldResemble, []string{jobs.RecomputeTrending})
			})
		})

		Convey("When the job is unknown", func() {
			svc.jobErr = jobs.ErrUnknownJob
			w := do(h, http.MethodPost, "/admin/jobs/nope", "", nil)

			Convey("Then it returns 404", func() {
				So(w.Code, ShouldEqual, http.StatusNotFound)
			})
		})
	})
}

func TestMiddleware(t *testing.T) {
	Convey("Given a router with a tight tracking limit and one allowed origin", t, func() {
		svc := &mockService{}
		h := api.NewServer(svc, svc,
			api.WithTrackRate(2),
			api.WithCORSOrigins([]string{"https://app.example"}),
		).Router()

		Convey("When the limit is exceeded from one address", func() {
			codes := make([]int, 0, 3)
			for i := 0; i < 3; i++ {
				codes = append(codes, do(h, http.MethodPost, "/api/destinations/d1/view", "", nil).Code)
			}

			Convey("Then the third call is throttled", func() {
				So(codes, ShouldResemble, []int{http.StatusAccepted, http.StatusAccepted, http.StatusTooManyRequests})
			})

			Convey("Then reads are not throttled", func() {
				So(do(h, http.MethodGet, "/api/trending", "", nil).Code, ShouldEqual, http.StatusOK)
			})
		})

		Convey("When an allowed origin sends a preflight", func() {
			w := do(h, http.MethodOptions, "/api/trending", "", map[string]string{
				"Origin":                        "https://app.example",
				"Access-Control-Request-Method": http.MethodGet,
			})

			Convey("Then CORS headers are returned", func() {
				So(w.Header().Get("Access-Control-Allow-Origin"), ShouldEqual, "https://app.example")
			})
		})

		Convey("When an unknown origin calls", func() {
			w := do(h, http.MethodGet, "/api/trending", "", map[string]string{"Origin": "https://evil.example"})

			Convey("Then no CORS header is granted", func() {
				So(w.Header().Get("Access-Control-Allow-Origin"), ShouldBeEmpty)
			})
		})
	})
}

func TestStoreErrors(t *testing.T) {
	Convey("Given the router over a real service and a memory store", t, func() {
		store := repository.NewMemoryStore(repository.WithCatalog(repository.CatalogData{
			Destinations: []model.Destination{{ID: "d1", Name: "Lisbon", Slug: "lisbon", Country: "PT"}},
			Itineraries:  []model.Itinerary{{ID: "i1", Title: "Tascas", DestinationID: "d1", CategorySlug: "food"}},
			Categories:   []model.Category{{Slug: "food", Name: "Food"}},
		}))
		q := queue.NewInMemoryQueue(queue.WithCapacity(10))
		Reset(func() { _ = q.Close() })
		svc := recommend.New(store, cache.NewTiers(cache.NewMemoryBackend()), q)
		h := api.NewServer(svc, svc).Router()
		user := map[string]string{api.HeaderUserID: "u1"}

		Convey("When an unknown destination is tracked", func() {
			w := do(h, http.MethodPost, "/api/destinations/nope/view", "", user)

			Convey("Then it returns 404", func() {
				So(w.Code, ShouldEqual, http.StatusNotFound)
				So(w.Body.String(), ShouldContainSubstring, "not_found")
			})
		})

		Convey("When an unknown itinerary is rated", func() {
			w := do(h, http.MethodPost, "/api/ratings", `{"object_type":"itinerary","object_id":"nope","rating":3}`, user)

			Convey("Then it returns 404 and nothing is stored", func() {
				So(w.Code, ShouldEqual, http.StatusNotFound)
				So(store.Ratings(), ShouldBeEmpty)
			})
		})

		Convey("When an unknown category is listed", func() {
			w := do(h, http.MethodGet, "/api/categories/type/nope/", "", nil)

			Convey("Then it returns 404", func() {
				So(w.Code, ShouldEqual, http.StatusNotFound)
			})
		})

		Convey("When a new user's first action is a rating", func() {
			w := do(h, http.MethodPost, "/api/ratings", `{"object_type":"itinerary","object_id":"i1","rating":5}`,
				map[string]string{api.HeaderUserID: "fresh"})

			Convey("Then the rating is accepted", func() {
				So(w.Code, ShouldEqual, http.StatusCreated)
				So(store.Ratings(), ShouldHaveLength, 1)
				So(store.Ratings()[0].UserID, ShouldEqual, "fresh")
			})
		})
	})
}

func TestErrors(t *testing.T) {
	Convey("Given op-tagged errors", t, func() {
		cause := errors.New("boom")

		Convey("Then kinds and causes are both matchable", func() {
			err := api.WrapKind("api.op", api.ErrBadRequest, cause)
			So(errors.Is(err, api.ErrBadRequest), ShouldBeTrue)
			So(errors.Is(err, cause), ShouldBeTrue)
			So(err.Error(), ShouldEqual, "api.op: bad request: boom")
		})

		Convey("Then NewKind and Wrap format without the missing part", func() {
			So(api.NewKind("api.op", api.ErrNotFound).Error(), ShouldEqual, "api.op: not found")
			So(api.Wrap("api.op", cause).Error(), ShouldEqual, "api.op: boom")
			So(api.Wrap("api.op", nil), ShouldBeNil)
		})
	})
}
