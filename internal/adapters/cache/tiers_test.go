package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/voyage/internal/domain/model"
	"github.com/okian/voyage/internal/domain/types"
	. "github.com/smartystreets/goconvey/convey"
)

// flakyBackend fails every call while down is set.
type flakyBackend struct {
	*MemoryBackend
	down  bool
	calls int
}

var errBackendDown = errors.New("connection refused")

func (f *flakyBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	f.calls++
	if f.down {
		return nil, false, errBackendDown
	}
	return f.MemoryBackend.Get(ctx, key)
}

func (f *flakyBackend) Set(ctx context.Context, key string, v []byte, ttl time.Duration) error {
	f.calls++
	if f.down {
		return errBackendDown
	}
	return f.MemoryBackend.Set(ctx, key, v, ttl)
}

func (f *flakyBackend) Delete(ctx context.Context, key string) error {
	f.calls++
	if f.down {
		return errBackendDown
	}
	return f.MemoryBackend.Delete(ctx, key)
}

func (f *flakyBackend) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	f.calls++
	if f.down {
		return 0, errBackendDown
	}
	return f.MemoryBackend.DeletePrefix(ctx, prefix)
}

func TestKeys(t *testing.T) {
	Convey("Given the key scheme", t, func() {
		So(GlobalKey(model.KindDestination), ShouldEqual, "recommendations:global:destinations")
		So(GlobalKey(model.KindItinerary), ShouldEqual, "recommendations:global:itineraries")
		So(UserKey("42", model.KindDestination), ShouldEqual, "recommendations:user:42:destinations")
		So(UserKeys("42"), ShouldResemble, []string{
			"recommendations:user:42:destinations",
			"recommendations:user:42:itineraries",
		})
		So(DestinationListingKey("/api/destinations/?page=1"), ShouldEqual, "destinations:/api/destinations/?page=1")
		So(CategoryListingKey("beach", "/api/categories/type/beach/"), ShouldEqual, "category:beach:/api/categories/type/beach/")
		So(TierOf("recommendations:global:destinations"), ShouldEqual, TierGlobal)
		So(TierOf("recommendations:user:1:itineraries"), ShouldEqual, TierPerUser)
		So(TierOf("destinations:/x"), ShouldEqual, TierRequestScoped)
	})
}

func TestTiers(t *testing.T) {
	Convey("Given tiers over a memory backend", t, func() {
		ctx := context.Background()
		clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
		backend := NewMemoryBackend(WithClock(clock.Now))
		tiers := NewTiers(backend, WithUserTTL(time.Hour))
		list := []types.Entry{{ID: "d1", Score: 2}, {ID: "d2", Score: 1}}

		Convey("When a list is written and read", func() {
			So(tiers.Set(ctx, GlobalKey(model.KindDestination), list, 0), ShouldBeNil)
			got, ok := tiers.GetEntries(ctx, GlobalKey(model.KindDestination))

			Convey("Then it round-trips in order", func() {
				So(ok, ShouldBeTrue)
				So(got, ShouldResemble, list)
			})
		})

		Convey("When an empty list is written", func() {
			So(tiers.Set(ctx, GlobalKey(model.KindItinerary), []types.Entry{}, 0), ShouldBeNil)
			got, ok := tiers.GetEntries(ctx, GlobalKey(model.KindItinerary))

			Convey("Then it is a hit with no entries", func() {
				So(ok, ShouldBeTrue)
				So(got, ShouldNotBeNil)
				So(got, ShouldBeEmpty)
			})
		})

		Convey("When the payload is garbage", func() {
			So(tiers.SetRaw(ctx, "recommendations:global:destinations", []byte("{nope"), 0), ShouldBeNil)
			_, ok := tiers.GetEntries(ctx, "recommendations:global:destinations")

			Convey("Then it reads as a miss", func() {
				So(ok, ShouldBeFalse)
			})
		})

		Convey("When a user's entries are invalidated", func() {
			for _, k := range UserKeys("u1") {
				So(tiers.Set(ctx, k, list, tiers.UserTTL()), ShouldBeNil)
			}
			for _, k := range UserKeys("u2") {
				So(tiers.Set(ctx, k, list, tiers.UserTTL()), ShouldBeNil)
			}
			So(tiers.Set(ctx, GlobalKey(model.KindDestination), list, 0), ShouldBeNil)
			So(tiers.InvalidateUser(ctx, "u1"), ShouldBeNil)

			Convey("Then only that user's keys disappear", func() {
				So(backend.Keys(), ShouldResemble, []string{
					"recommendations:global:destinations",
					"recommendations:user:u2:destinations",
					"recommendations:user:u2:itineraries",
				})
			})
		})

		Convey("When prefix invalidation runs", func() {
			_ = tiers.SetRaw(ctx, "destinations:/a", []byte("1"), time.Minute)
			_ = tiers.SetRaw(ctx, "destinations:/b", []byte("1"), time.Minute)
			n, err := tiers.InvalidatePrefix(ctx, PrefixDestinations)

			Convey("Then the prefix is unreadable afterwards", func() {
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 2)
				_, ok := tiers.GetRaw(ctx, "destinations:/a")
				So(ok, ShouldBeFalse)
			})
		})

		Convey("When invalidating an empty prefix", func() {
			_, err := tiers.InvalidatePrefix(ctx, "")
			So(errors.Is(err, ErrEmptyPrefix), ShouldBeTrue)
		})

		Convey("When writing an empty key", func() {
			So(errors.Is(tiers.SetRaw(ctx, "", []byte("x"), 0), ErrEmptyKey), ShouldBeTrue)
		})
	})
}

func TestTiersDegrade(t *testing.T) {
	Convey("Given tiers over a failing backend", t, func() {
		ctx := context.Background()
		flaky := &flakyBackend{MemoryBackend: NewMemoryBackend()}
		tiers := NewTiers(flaky, WithBreaker(2, time.Hour))
		_ = tiers.Set(ctx, "recommendations:global:destinations", []types.Entry{{ID: "d1"}}, 0)
		flaky.down = true

		Convey("When reading", func() {
			_, ok := tiers.GetEntries(ctx, "recommendations:global:destinations")

			Convey("Then the failure is a miss, not an error", func() {
				So(ok, ShouldBeFalse)
			})
		})

		Convey("When writing", func() {
			err := tiers.Set(ctx, "recommendations:user:1:destinations", []types.Entry{}, time.Hour)

			Convey("Then the error is reported as unavailable", func() {
				So(errors.Is(err, ErrUnavailable), ShouldBeTrue)
			})
		})

		Convey("When failures keep coming", func() {
			tiers.GetRaw(ctx, "a")
			tiers.GetRaw(ctx, "b")
			before := flaky.calls
			_, ok := tiers.GetRaw(ctx, "c")

			Convey("Then the breaker opens and short-circuits the backend", func() {
				So(ok, ShouldBeFalse)
				So(flaky.calls, ShouldEqual, before)
				So(tiers.BreakerState(), ShouldEqual, "open")
			})
		})

		Convey("When invalidating a user", func() {
			err := tiers.InvalidateUser(ctx, "1")

			Convey("Then the joined error wraps unavailable", func() {
				So(errors.Is(err, ErrUnavailable), ShouldBeTrue)
			})
		})
	})
}
