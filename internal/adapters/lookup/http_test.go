package lookup_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/beatkit/tempo/internal/adapters/lookup"
	. "github.com/smartystreets/goconvey/convey"
)

// fastClient builds a client whose limiter never makes a test wait.
func fastClient(baseURL string) *lookup.HTTPClient {
	return lookup.NewHTTPClient(baseURL, lookup.WithRequestsPerMinute(6_000_000))
}

func TestHTTPClientChartPages(t *testing.T) {
	Convey("Given an upstream serving chart listings", t, func() {
		ctx := context.Background()
		var gotPath, gotPage string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotPage = r.URL.Query().Get("page")
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{
				"items": [
					{"chartId": "AAAA-EXPERT-STANDARD", "difficultyRating": 5.2, "ranked": true, "qualified": false}
				],
				"hasMore": true
			}`))
		}))
		defer srv.Close()
		client := fastClient(srv.URL)

		Convey("When fetching a ranked page", func() {
			page, err := client.RankedCharts(ctx, 3)

			Convey("Then the request and decode are correct", func() {
				So(err, ShouldBeNil)
				So(gotPath, ShouldEqual, "/charts/ranked")
				So(gotPage, ShouldEqual, "3")
				So(page.HasMore, ShouldBeTrue)
				So(len(page.Items), ShouldEqual, 1)
				So(page.Items[0].ChartID, ShouldEqual, "AAAA-EXPERT-STANDARD")
				So(page.Items[0].DifficultyRating, ShouldAlmostEqual, 5.2, 1e-9)
				So(page.Items[0].Ranked, ShouldBeTrue)
			})
		})

		Convey("When fetching a qualified page", func() {
			_, err := client.QualifiedCharts(ctx, 1)

			So(err, ShouldBeNil)
			So(gotPath, ShouldEqual, "/charts/qualified")
		})
	})
}

func TestHTTPClientChartByID(t *testing.T) {
	Convey("Given an upstream serving single charts", t, func() {
		ctx := context.Background()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/charts/KNOWN" {
				http.NotFound(w, r)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"chartId": "KNOWN", "difficultyRating": 4.1, "ranked": true}`))
		}))
		defer srv.Close()
		client := fastClient(srv.URL)

		Convey("When the chart exists", func() {
			state, err := client.ChartByID(ctx, "KNOWN")

			So(err, ShouldBeNil)
			So(state.ChartID, ShouldEqual, "KNOWN")
			So(state.Ranked, ShouldBeTrue)
		})

		Convey("When the chart is unknown", func() {
			_, err := client.ChartByID(ctx, "MISSING")

			Convey("Then the not-found sentinel surfaces", func() {
				So(err, ShouldWrap, lookup.ErrNotFound)
			})
		})
	})
}

func TestHTTPClientChartScores(t *testing.T) {
	Convey("Given an upstream serving score pages", t, func() {
		ctx := context.Background()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{
				"items": [
					{"scoreId": "S1", "playerId": "P1", "value": 991234, "accuracy": 0.9612, "rank": 1},
					{"scoreId": "S2", "playerId": "P2", "value": 980001, "accuracy": 0.9501, "rank": 2}
				],
				"hasMore": false
			}`))
		}))
		defer srv.Close()
		client := fastClient(srv.URL)

		Convey("When fetching a score page", func() {
			page, err := client.ChartScores(ctx, "AAAA-EXPERT-STANDARD", 1)

			So(err, ShouldBeNil)
			So(page.HasMore, ShouldBeFalse)
			So(len(page.Items), ShouldEqual, 2)
			So(page.Items[0], ShouldResemble, lookup.ChartScore{
				ScoreID: "S1", PlayerID: "P1", Value: 991234, Accuracy: 0.9612, Rank: 1,
			})
		})
	})
}

func TestHTTPClientFailures(t *testing.T) {
	Convey("Given an upstream that misbehaves", t, func() {
		ctx := context.Background()

		Convey("When the upstream returns a server error", func() {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			}))
			defer srv.Close()

			_, err := fastClient(srv.URL).RankedCharts(ctx, 1)
			So(err, ShouldWrap, lookup.ErrFetch)
		})

		Convey("When the upstream returns malformed JSON", func() {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"items": [`))
			}))
			defer srv.Close()

			_, err := fastClient(srv.URL).RankedCharts(ctx, 1)
			So(err, ShouldWrap, lookup.ErrFetch)
		})

		Convey("When the upstream is unreachable", func() {
			_, err := fastClient("http://127.0.0.1:1").RankedCharts(ctx, 1)
			So(err, ShouldWrap, lookup.ErrFetch)
		})
	})
}
