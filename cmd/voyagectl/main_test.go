package main

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/voyage/internal/adapters/mq/queue"
	"github.com/okian/voyage/internal/adapters/repository"
	service "github.com/okian/voyage/internal/app"
	"github.com/okian/voyage/internal/config"
	"github.com/okian/voyage/internal/domain/model"
	"github.com/okian/voyage/internal/domain/types"
	"github.com/okian/voyage/internal/simulate"
)

// execute runs voyagectl with args and returns what it printed.
func execute(args ...string) (string, error) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
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

	store := repository.NewMemoryStore(repository.WithCatalog(repository.CatalogData{
		Destinations: []model.Destination{
			{ID: "d1", Name: "Lisbon", Slug: "lisbon", Country: "PT"},
			{ID: "d2", Name: "Kyoto", Slug: "kyoto", Country: "JP"},
			{ID: "d3", Name: "Cusco", Slug: "cusco", Country: "PE"},
		},
	}))
	svc := service.New(service.WithConfig(cfg), service.WithStore(store))
	if err := svc.Start(context.Background()); err != nil {
		panic(err)
	}
	return svc, httptest.NewServer(svc.Handler())
}

func TestHTTPCommands(t *testing.T) {
	convey.Convey("Given a running service", t, func() {
		svc, srv := startService()
		convey.Reset(func() {
			srv.Close()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = svc.Stop(ctx)
		})
		url := "--url=" + srv.URL

		convey.Convey("When a known job is queued", func() {
			out, err := execute(url, "job", "rebuild_global")

			convey.Convey("Then the job is reported as queued", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(out, convey.ShouldContainSubstring, `"queued"`)
			})
		})

		convey.Convey("When an unknown job is queued", func() {
			_, err := execute(url, "job", "nope")

			convey.Convey("Then the command fails", func() {
				convey.So(errors.Is(err, simulate.ErrUnexpectedStatus), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the job name is missing", func() {
			_, err := execute(url, "job")

			convey.Convey("Then argument validation rejects it", func() {
				convey.So(err, convey.ShouldNotBeNil)
			})
		})

		convey.Convey("When the global recommendations are read", func() {
			out, err := execute(url, "recommend", "destinations", "--limit=2")
			convey.So(err, convey.ShouldBeNil)
			var recs types.Recommendations
			convey.So(json.Unmarshal([]byte(out), &recs), convey.ShouldBeNil)

			convey.Convey("Then the whole catalog is ranked and the head is trimmed", func() {
				convey.So(recs.All, convey.ShouldHaveLength, 3)
				convey.So(recs.Recommended, convey.ShouldHaveLength, 2)
			})
		})

		convey.Convey("When an unknown kind is read", func() {
			_, err := execute(url, "recommend", "hotels")

			convey.Convey("Then the command fails", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(err.Error(), convey.ShouldContainSubstring, "404")
			})
		})

		convey.Convey("When trending is read before any traffic", func() {
			out, err := execute(url, "trending")
			convey.So(err, convey.ShouldBeNil)
			var entries []types.TrendingEntry
			convey.So(json.Unmarshal([]byte(out), &entries), convey.ShouldBeNil)

			convey.Convey("Then every destination scores zero", func() {
				convey.So(len(entries), convey.ShouldBeLessThanOrEqualTo, 3)
				for _, e := range entries {
					convey.So(e.TrendingScore, convey.ShouldEqual, 0.0)
				}
			})
		})

		convey.Convey("When the recommendation cache is flushed", func() {
			out, err := execute(url, "flush", "--prefix=recommendations:")
			convey.So(err, convey.ShouldBeNil)
			var got struct {
				Prefix  string `json:"prefix"`
				Deleted int    `json:"deleted"`
			}
			convey.So(json.Unmarshal([]byte(out), &got), convey.ShouldBeNil)

			convey.Convey("Then the warmed global lists are removed", func() {
				convey.So(got.Prefix, convey.ShouldEqual, "recommendations:")
				convey.So(got.Deleted, convey.ShouldBeGreaterThan, 0)
			})
		})

		convey.Convey("When a simulation is run", func() {
			out, err := execute(url, "simulate",
				"--interactions=60", "--workers=2", "--seed=3", "--settle=5s", "--retry-ratio=0.1")
			convey.So(err, convey.ShouldBeNil)
			var stats simulate.Stats
			convey.So(json.Unmarshal([]byte(out), &stats), convey.ShouldBeNil)

			convey.Convey("Then the stats show every destination matched", func() {
				convey.So(stats.Accepted, convey.ShouldEqual, 60)
				convey.So(stats.Failed, convey.ShouldEqual, 0)
				convey.So(stats.TrendingMatched, convey.ShouldEqual, stats.TrendingChecked)
			})
		})
	})
}

func TestHookCommands(t *testing.T) {
	convey.Convey("Given a NATS server with a listener on the hook subjects", t, func() {
		ns, err := queue.StartEmbeddedNATS("127.0.0.1", server.RANDOM_PORT)
		convey.So(err, convey.ShouldBeNil)
		nc, err := nats.Connect(ns.ClientURL())
		convey.So(err, convey.ShouldBeNil)
		sub, err := nc.SubscribeSync("voyage.hooks.>")
		convey.So(err, convey.ShouldBeNil)
		convey.So(nc.Flush(), convey.ShouldBeNil)

		convey.Reset(func() {
			nc.Close()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = ns.Shutdown(ctx)
		})
		natsURL := "--nats-url=" + ns.ClientURL()

		convey.Convey("When a user signal is published", func() {
			_, err := execute("hook", natsURL, "user-signal", "u1")
			convey.So(err, convey.ShouldBeNil)
			msg, err := sub.NextMsg(2 * time.Second)
			convey.So(err, convey.ShouldBeNil)

			convey.Convey("Then it lands on the user subject with the user id", func() {
				convey.So(msg.Subject, convey.ShouldEqual, "voyage.hooks.user.signal")
				convey.So(string(msg.Data), convey.ShouldContainSubstring, `"u1"`)
			})
		})

		convey.Convey("When a destination change is published without an id", func() {
			_, err := execute("hook", natsURL, "destination-changed")
			convey.So(err, convey.ShouldBeNil)
			msg, err := sub.NextMsg(2 * time.Second)
			convey.So(err, convey.ShouldBeNil)

			convey.Convey("Then it lands on the destination subject", func() {
				convey.So(msg.Subject, convey.ShouldEqual, "voyage.hooks.destination.changed")
			})
		})

		convey.Convey("When a category change uses a custom prefix", func() {
			custom, err := nc.SubscribeSync("cms.hooks.category.changed")
			convey.So(err, convey.ShouldBeNil)
			convey.So(nc.Flush(), convey.ShouldBeNil)

			_, err = execute("hook", natsURL, "--prefix=cms.hooks", "category-changed", "food")
			convey.So(err, convey.ShouldBeNil)
			msg, err := custom.NextMsg(2 * time.Second)
			convey.So(err, convey.ShouldBeNil)

			convey.Convey("Then it is published under that prefix", func() {
				convey.So(strings.Contains(string(msg.Data), `"food"`), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the broker is unreachable", func() {
			_, err := execute("hook", "--nats-url=nats://127.0.0.1:1", "--nats-timeout=200ms", "user-signal", "u1")

			convey.Convey("Then the command fails", func() {
				convey.So(err, convey.ShouldNotBeNil)
			})
		})
	})
}
