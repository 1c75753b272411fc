package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	. "github.com/smartystreets/goconvey/convey"
)

func newTestBadger(t *testing.T) *BadgerBackend {
	t.Helper()
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewBadgerBackend(db)
}

func TestBadgerBackend(t *testing.T) {
	Convey("Given an in-memory badger backend", t, func() {
		ctx := context.Background()
		b := newTestBadger(t)

		Convey("When a value is stored and read back", func() {
			So(b.Set(ctx, "recommendations:global:itineraries", []byte(`[{"id":"1"}]`), 0), ShouldBeNil)
			data, ok, err := b.Get(ctx, "recommendations:global:itineraries")

			Convey("Then the bytes match", func() {
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
				So(string(data), ShouldEqual, `[{"id":"1"}]`)
			})
		})

		Convey("When reading a missing key", func() {
			_, ok, err := b.Get(ctx, "missing")

			Convey("Then it is a clean miss", func() {
				So(err, ShouldBeNil)
				So(ok, ShouldBeFalse)
			})
		})

		Convey("When deleting a missing key", func() {
			So(b.Delete(ctx, "missing"), ShouldBeNil)
		})

		Convey("When many keys share a prefix", func() {
			for i := 0; i < 2500; i++ {
				So(b.Set(ctx, fmt.Sprintf("category:hill:/api/categories/type/hill/?page=%d", i), []byte("p"), time.Hour), ShouldBeNil)
			}
			So(b.Set(ctx, "destinations:/api/destinations/", []byte("d"), 0), ShouldBeNil)

			n, err := b.DeletePrefix(ctx, "category:")

			Convey("Then all of them are removed in chunks and others survive", func() {
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 2500)
				_, ok, _ := b.Get(ctx, "category:hill:/api/categories/type/hill/?page=7")
				So(ok, ShouldBeFalse)
				_, ok, _ = b.Get(ctx, "destinations:/api/destinations/")
				So(ok, ShouldBeTrue)
			})
		})

		Convey("When running value log GC in memory", func() {
			So(b.RunGC(), ShouldBeNil)
		})

		Convey("When closing a wrapped database", func() {
			So(b.Close(), ShouldBeNil)
		})
	})
}

func TestOpenBadgerInMemory(t *testing.T) {
	Convey("Given an empty path", t, func() {
		b, err := OpenBadger("")
		So(err, ShouldBeNil)

		Convey("Then the owned store can be used and closed", func() {
			So(b.Set(context.Background(), "k", []byte("v"), time.Minute), ShouldBeNil)
			So(b.Close(), ShouldBeNil)
		})
	})
}
