package simulate_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/voyage/internal/adapters/repository"
	service "github.com/okian/voyage/internal/app"
	"github.com/okian/voyage/internal/config"
	"github.com/okian/voyage/internal/domain/model"
	"github.com/okian/voyage/internal/simulate"
)

var destinations = []string{"d1", "d2", "d3", "d4", "d5"}

func TestGenerate(t *testing.T) {
	Convey("Given a seeded generator config", t, func() {
		cfg := simulate.DefaultConfig()
		cfg.Interactions = 500
		cfg.Seed = 7
		cfg.RetryRatio = 0.1

		out, err := simulate.Generate(cfg, destinations)
		So(err, ShouldBeNil)

		Convey("Then every distinct interaction is generated plus retries", func() {
			firsts := 0
			ids := map[string]bool{}
			for _, in := range out {
				if in.Retry {
					So(ids[in.EventID], ShouldBeTrue)
					continue
				}
				firsts++
				So(ids[in.EventID], ShouldBeFalse)
				ids[in.EventID] = true
			}
			So(firsts, ShouldEqual, 500)
			So(len(out), ShouldBeGreaterThan, 500)
		})

		Convey("Then interactions are well formed", func() {
			for _, in := range out {
				So(destinations, ShouldContain, in.DestinationID)
				_, err := model.ParseAction(in.Action)
				So(err, ShouldBeNil)
				So((in.UserID == "") != (in.SessionID == ""), ShouldBeTrue)
				if in.Action == string(model.ActionDwell) {
					So(in.DwellTime, ShouldBeBetweenOrEqual, 5.0, 300.0)
				} else {
					So(in.DwellTime, ShouldEqual, 0.0)
				}
			}
		})

		Convey("Then the head of the destination list is favoured", func() {
			counts := map[string]int{}
			for _, in := range out {
				counts[in.DestinationID]++
			}
			So(counts["d1"], ShouldBeGreaterThan, counts["d5"])
		})

		Convey("When the same seed is used again", func() {
			again, err := simulate.Generate(cfg, destinations)
			So(err, ShouldBeNil)

			Convey("Then the traffic shape repeats with fresh event ids", func() {
				So(again, ShouldHaveLength, len(out))
				for i := range out {
					So(again[i].DestinationID, ShouldEqual, out[i].DestinationID)
					So(again[i].Action, ShouldEqual, out[i].Action)
					So(again[i].UserID, ShouldEqual, out[i].UserID)
				}
				So(again[0].EventID, ShouldNotEqual, out[0].EventID)
			})
		})
	})

	Convey("Given nothing to target", t, func() {
		_, err := simulate.Generate(simulate.DefaultConfig(), nil)

		Convey("Then generation fails", func() {
			So(errors.Is(err, simulate.ErrNoDestinations), ShouldBeTrue)
		})
	})
}

func TestExpectedTrending(t *testing.T) {
	Convey("Given traffic with a retried click", t, func() {
		click := simulate.Interaction{EventID: "e2", DestinationID: "d1", Action: "click"}
		retry := click
		retry.Retry = true
		traffic := []simulate.Interaction{
			{EventID: "e1", DestinationID: "d1", Action: "view"},
			click,
			{EventID: "e3", DestinationID: "d2", Action: "dwell", DwellTime: 120},
			retry,
		}

		got := simulate.ExpectedTrending(traffic)

		Convey("Then the retry counts once", func() {
			So(got, ShouldHaveLength, 2)
			So(got["d1"], ShouldEqual, 3.0)
			So(got["d2"], ShouldEqual, 2.0)
		})
	})
}

func TestSave(t *testing.T) {
	Convey("Given generated traffic", t, func() {
		path := filepath.Join(t.TempDir(), "out", "traffic.json")
		traffic := []simulate.Interaction{{EventID: "e1", DestinationID: "d1", Action: "view", UserID: "u1"}}

		So(simulate.Save(path, traffic), ShouldBeNil)

		Convey("Then it can be read back", func() {
			raw, err := os.ReadFile(path)
			So(err, ShouldBeNil)
			var back []simulate.Interaction
			So(json.Unmarshal(raw, &back), ShouldBeNil)
			So(back, ShouldResemble, traffic)
		})
	})
}

func startService() (*service.Service, *httptest.Server) {
	cfg := config.New(context.Background())
	cfg.Addr = "127.0.0.1:0"
	cfg.WorkerCount = 2
	cfg.QueueSize = 100
	cfg.TrackRatePerMinute = 100_000
	cfg.ShutdownTimeout = 5 * time.Second
	cfg.ScheduleRebuildGlobal = ""
	cfg.SchedulePrecacheUsers = ""
	cfg.ScheduleTrending = ""
	cfg.ScheduleClearStale = ""
	cfg.ScheduleListings = ""

	dests := make([]model.Destination, 0, len(destinations))
	for _, id := range destinations {
		dests = append(dests, model.Destination{ID: id, Name: "Destination " + id, Slug: id, Country: "PT"})
	}
	store := repository.NewMemoryStore(repository.WithCatalog(repository.CatalogData{Destinations: dests}))

	svc := service.New(service.WithConfig(cfg), service.WithStore(store))
	if err := svc.Start(context.Background()); err != nil {
		panic(err)
	}
	return svc, httptest.NewServer(svc.Handler())
}

func TestRunner(t *testing.T) {
	Convey("Given a running service with an empty interaction log", t, func() {
		svc, srv := startService()
		Reset(func() {
			srv.Close()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = svc.Stop(ctx)
		})

		cfg := simulate.DefaultConfig()
		cfg.BaseURL = srv.URL
		cfg.Interactions = 200
		cfg.Workers = 4
		cfg.Seed = 42
		cfg.Settle = 5 * time.Second

		Convey("When a simulation runs against it", func() {
			stats, err := simulate.NewRunner(cfg, nil).Run(context.Background())

			Convey("Then trending matches the traffic that was sent", func() {
				So(err, ShouldBeNil)
				So(stats.Failed, ShouldEqual, 0)
				So(stats.Accepted, ShouldEqual, 200)
				So(stats.Duplicate, ShouldEqual, stats.Generated-200)
				So(stats.TrendingChecked, ShouldBeGreaterThan, 0)
				So(stats.TrendingMatched, ShouldEqual, stats.TrendingChecked)
				So(stats.Recommendations, ShouldBeGreaterThan, 0)
				So(stats.Duration, ShouldBeGreaterThan, time.Duration(0))
			})
		})

		Convey("When the client runs admin actions", func() {
			client := simulate.NewClient(srv.URL, time.Second)
			ctx := context.Background()

			Convey("Then known jobs are queued and unknown ones rejected", func() {
				So(client.RunJob(ctx, "rebuild_global"), ShouldBeNil)
				err := client.RunJob(ctx, "nope")
				So(errors.Is(err, simulate.ErrUnexpectedStatus), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "404")
			})

			Convey("Then a flush reports what it removed", func() {
				_, err := client.Flush(ctx, "recommendations:")
				So(err, ShouldBeNil)
				n, err := client.Flush(ctx, "recommendations:")
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 0)
			})

			Convey("Then the catalog can be discovered", func() {
				ids, err := client.Destinations(ctx, 10)
				So(err, ShouldBeNil)
				So(ids, ShouldHaveLength, len(destinations))
			})
		})
	})
}
