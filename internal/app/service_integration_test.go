package service_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/voyage/internal/adapters/http/api"
	"github.com/okian/voyage/internal/adapters/mq/hooks"
	"github.com/okian/voyage/internal/adapters/repository"
	service "github.com/okian/voyage/internal/app"
	"github.com/okian/voyage/internal/config"
	"github.com/okian/voyage/internal/domain/model"
	"github.com/okian/voyage/internal/domain/types"
)

const waitFor = 5 * time.Second

// seededStore holds two destinations: d2 is viewed three times by a session
// and d1 once by user u1, so the global list leads with d2 and u1's with d1.
func seededStore() *repository.MemoryStore {
	store := repository.NewMemoryStore(repository.WithCatalog(repository.CatalogData{
		Destinations: []model.Destination{
			{ID: "d1", Name: "Lisbon", Slug: "lisbon", Country: "PT"},
			{ID: "d2", Name: "Kyoto", Slug: "kyoto", Country: "JP"},
		},
		Categories:  []model.Category{{Slug: "food", Name: "Food"}},
		Itineraries: []model.Itinerary{{ID: "i1", Title: "Pasteis", Slug: "pasteis", DestinationID: "d1", CategorySlug: "food", DurationDays: 3}},
	}))
	ctx := context.Background()
	now := time.Now()
	for i := 0; i < 3; i++ {
		_ = store.AppendInteraction(ctx, model.InteractionEvent{
			SubjectID: "d2", Actor: model.Actor{SessionID: "s1"}, Action: model.ActionView, TS: now,
		})
	}
	_ = store.AppendInteraction(ctx, model.InteractionEvent{
		SubjectID: "d1", Actor: model.Actor{UserID: "u1"}, Action: model.ActionView, TS: now,
	})
	return store
}

func get(h http.Handler, target, userID string) types.Recommendations {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if userID != "" {
		req.Header.Set(api.HeaderUserID, userID)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	var recs types.Recommendations
	_ = json.Unmarshal(w.Body.Bytes(), &recs)
	return recs
}

func post(h http.Handler, target, body string, headers map[string]string) int {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w.Code
}

// eventually polls cond until it holds or the deadline passes.
func eventually(cond func() bool) bool {
	deadline := time.Now().Add(waitFor)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return cond()
}

func leads(recs types.Recommendations, id string) bool {
	return len(recs.All) > 0 && recs.All[0].ID == id
}

func TestServiceIntegration(t *testing.T) {
	Convey("Given a started service with a seeded store", t, func() {
		store := seededStore()
		svc := service.New(service.WithConfig(testConfig()), service.WithStore(store))
		So(svc.Start(context.Background()), ShouldBeNil)
		h := svc.Handler()

		Reset(func() { _ = stop(svc) })

		Convey("When an anonymous visitor asks for destinations", func() {
			recs := get(h, "/api/recommendations/destinations?limit=1", "")

			Convey("Then the global list warmed at boot is served", func() {
				So(recs.Recommended, ShouldHaveLength, 1)
				So(recs.All, ShouldHaveLength, 2)
				So(recs.All[0].ID, ShouldEqual, "d2")
			})
		})

		Convey("When trending is read", func() {
			req := httptest.NewRequest(http.MethodGet, "/api/trending", nil)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			var got []types.TrendingEntry
			So(json.Unmarshal(w.Body.Bytes(), &got), ShouldBeNil)

			Convey("Then the boot recompute ranked d2 first", func() {
				So(got, ShouldHaveLength, 2)
				So(got[0].DestinationID, ShouldEqual, "d2")
				So(got[0].TrendingScore, ShouldEqual, 3)
			})
		})

		Convey("When a user reads before their list exists", func() {
			first := get(h, "/api/recommendations/destinations", "u1")

			Convey("Then the first answer is empty and a worker fills the cache", func() {
				So(first.All, ShouldBeEmpty)
				So(eventually(func() bool {
					return leads(get(h, "/api/recommendations/destinations", "u1"), "d1")
				}), ShouldBeTrue)
			})
		})

		Convey("When a user's dwell arrives after their list is cached", func() {
			So(eventually(func() bool {
				return leads(get(h, "/api/recommendations/destinations", "u1"), "d1")
			}), ShouldBeTrue)
			code := post(h, "/api/destinations/d2/dwell", `{"dwell_time":120}`, map[string]string{api.HeaderUserID: "u1"})

			Convey("Then the list is dropped and rebuilt with the new signal", func() {
				So(code, ShouldEqual, http.StatusAccepted)
				So(eventually(func() bool {
					return leads(get(h, "/api/recommendations/destinations", "u1"), "d2")
				}), ShouldBeTrue)
			})

			Convey("Then the global list is untouched until the next rebuild", func() {
				recs := get(h, "/api/recommendations/destinations", "")
				So(recs.All[0].ID, ShouldEqual, "d2")
				So(recs.All[0].Score, ShouldAlmostEqual, 0.6)
			})
		})

		Convey("When a destination is added and the CMS calls the hook", func() {
			store.PutDestination(model.Destination{ID: "d3", Name: "Oaxaca", Slug: "oaxaca", Country: "MX"})
			for i := 0; i < 10; i++ {
				_ = store.AppendInteraction(context.Background(), model.InteractionEvent{
					SubjectID: "d3", Actor: model.Actor{SessionID: "s2"}, Action: model.ActionClick, TS: time.Now(),
				})
			}
			code := post(h, "/hooks/destination-changed", "", nil)

			Convey("Then the global rebuild picks it up", func() {
				So(code, ShouldEqual, http.StatusAccepted)
				So(eventually(func() bool {
					return leads(get(h, "/api/recommendations/destinations", ""), "d3")
				}), ShouldBeTrue)
			})
		})

		Convey("When an operator queues a job", func() {
			code := post(h, "/admin/jobs/precache_users", "", nil)

			Convey("Then the active user's list appears without a read miss", func() {
				So(code, ShouldEqual, http.StatusAccepted)
				So(eventually(func() bool {
					recs, err := svc.Recommender().GetRecommendations(context.Background(),
						model.KindDestination, model.Actor{UserID: "u1"}, 5)
					return err == nil && len(recs.All) > 0
				}), ShouldBeTrue)
			})
		})

		Convey("When a destination listing is requested", func() {
			req := httptest.NewRequest(http.MethodGet, "/api/destinations/?country=PT", nil)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			var page repository.Page
			So(json.Unmarshal(w.Body.Bytes(), &page), ShouldBeNil)

			Convey("Then the filtered page is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(page.Count, ShouldEqual, 1)
			})
		})
	})
}

func TestServiceIntegrationNATS(t *testing.T) {
	Convey("Given a service running tasks and hooks over embedded NATS", t, func() {
		cfg := testConfig()
		cfg.QueueBackend = config.BackendNATS
		cfg.NATSEmbedded = true
		cfg.NATSEmbeddedPort = server.RANDOM_PORT
		cfg.NATSTaskSubject = "it.tasks"
		cfg.NATSHookPrefix = "it.hooks"

		store := seededStore()
		svc := service.New(service.WithConfig(cfg), service.WithStore(store))
		So(svc.Start(context.Background()), ShouldBeNil)
		So(svc.NATS(), ShouldNotBeNil)
		h := svc.Handler()

		Reset(func() { _ = stop(svc) })

		Convey("When a user misses", func() {
			_ = get(h, "/api/recommendations/destinations", "u1")

			Convey("Then the precache task travels over NATS to a worker", func() {
				So(eventually(func() bool {
					return leads(get(h, "/api/recommendations/destinations", "u1"), "d1")
				}), ShouldBeTrue)
			})
		})

		Convey("When a user signal is published on the bus", func() {
			So(eventually(func() bool {
				return leads(get(h, "/api/recommendations/destinations", "u1"), "d1")
			}), ShouldBeTrue)
			_ = store.AppendInteraction(context.Background(), model.InteractionEvent{
				SubjectID: "d2", Actor: model.Actor{UserID: "u1"}, Action: model.ActionDwell, Magnitude: 300, TS: time.Now(),
			})
			pub := hooks.NewPublisher(svc.NATS(), cfg.NATSHookPrefix)

			Convey("Then the user's cache is invalidated and rebuilt", func() {
				So(eventually(func() bool {
					recs := get(h, "/api/recommendations/destinations", "u1")
					if leads(recs, "d1") {
						_ = pub.UserSignal("u1")
					}
					return leads(recs, "d2")
				}), ShouldBeTrue)
			})
		})
	})
}
