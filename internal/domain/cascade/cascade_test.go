package cascade_test

import (
	"context"
	"testing"
	"time"

	"github.com/beatkit/tempo/internal/adapters/lookup"
	"github.com/beatkit/tempo/internal/adapters/repository"
	"github.com/beatkit/tempo/internal/domain/cascade"
	"github.com/beatkit/tempo/internal/domain/curve"
	"github.com/beatkit/tempo/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

// fakeLookup serves canned chart and score listings, one page each.
type fakeLookup struct {
	ranked    []model.ChartRankingState
	qualified []model.ChartRankingState
	byID      map[string]model.ChartRankingState
	scores    map[string][]lookup.ChartScore
	pageErr   error
}

func (f *fakeLookup) RankedCharts(ctx context.Context, page int) (lookup.ChartPage, error) {
	if f.pageErr != nil {
		return lookup.ChartPage{}, f.pageErr
	}
	if page > 1 {
		return lookup.ChartPage{}, nil
	}
	return lookup.ChartPage{Items: f.ranked}, nil
}

func (f *fakeLookup) QualifiedCharts(ctx context.Context, page int) (lookup.ChartPage, error) {
	if page > 1 {
		return lookup.ChartPage{}, nil
	}
	return lookup.ChartPage{Items: f.qualified}, nil
}

func (f *fakeLookup) ChartByID(ctx context.Context, chartID string) (model.ChartRankingState, error) {
	state, ok := f.byID[chartID]
	if !ok {
		return model.ChartRankingState{}, lookup.ErrNotFound
	}
	return state, nil
}

func (f *fakeLookup) ChartScores(ctx context.Context, chartID string, page int) (lookup.ScorePage, error) {
	if page > 1 {
		return lookup.ScorePage{}, nil
	}
	return lookup.ScorePage{Items: f.scores[chartID]}, nil
}

const chartA = "AAAA1111-EXPERTPLUS-STANDARD"

func seedScore(ctx context.Context, store *repository.MemStore, scoreID, player string, value int64, acc, pp float64) {
	_ = store.PutCurrentScore(ctx, model.CurrentScore{
		ScoreID:  scoreID,
		PlayerID: player,
		ChartID:  chartA,
		Value:    value,
		Accuracy: acc,
		PP:       pp,
		Weight:   1.0,
		SetAt:    time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	})
}

func TestRefreshFirstSight(t *testing.T) {
	Convey("Given a chart the store has never seen", t, func() {
		ctx := context.Background()
		store := repository.NewMemStore()
		lk := &fakeLookup{
			ranked: []model.ChartRankingState{
				{ChartID: chartA, DifficultyRating: 5.20, Ranked: true},
			},
		}
		ref := cascade.New(store, lk, curve.New())

		Convey("When a ranked refresh runs", func() {
			sum, err := ref.Refresh(ctx, cascade.KindRanked)

			Convey("Then the chart state is recorded", func() {
				So(err, ShouldBeNil)
				So(sum.ChartsSeen, ShouldEqual, 1)
				So(sum.ChartsChanged, ShouldEqual, 1)

				state, err := store.ChartRankingState(ctx, chartA)
				So(err, ShouldBeNil)
				So(state.Ranked, ShouldBeTrue)
				So(state.DifficultyRating, ShouldAlmostEqual, 5.20, 1e-9)
				So(state.LastRefreshed.IsZero(), ShouldBeFalse)
			})
		})
	})
}

func TestRefreshRatingChange(t *testing.T) {
	Convey("Given a ranked chart whose rating moved upstream", t, func() {
		ctx := context.Background()
		store := repository.NewMemStore()
		c := curve.New()

		So(store.PutChartRankingState(ctx, model.ChartRankingState{
			ChartID: chartA, DifficultyRating: 4.80, Ranked: true,
		}), ShouldBeNil)
		seedScore(ctx, store, "S1", "P1", 900000, 0.95, 100)
		seedScore(ctx, store, "S2", "P2", 880000, 0.90, 90)

		lk := &fakeLookup{
			ranked: []model.ChartRankingState{
				{ChartID: chartA, DifficultyRating: 5.20, Ranked: true},
			},
			scores: map[string][]lookup.ChartScore{
				chartA: {
					{ScoreID: "S1", PlayerID: "P1", Value: 900000, Accuracy: 0.95, Rank: 1},
					{ScoreID: "S2", PlayerID: "P2", Value: 880000, Accuracy: 0.90, Rank: 2},
				},
			},
		}
		ref := cascade.New(store, lk, c)

		Convey("When a ranked refresh runs", func() {
			sum, err := ref.Refresh(ctx, cascade.KindRanked)
			So(err, ShouldBeNil)
			So(sum.ChartsChanged, ShouldEqual, 1)

			Convey("Then pp is recomputed from the new rating and stored accuracy", func() {
				s1, err := store.CurrentScore(ctx, "P1", chartA)
				So(err, ShouldBeNil)
				So(s1.PP, ShouldAlmostEqual, c.PP(5.20, 0.95), 1e-9)
				So(s1.Rank, ShouldEqual, 1)

				s2, err := store.CurrentScore(ctx, "P2", chartA)
				So(err, ShouldBeNil)
				So(s2.PP, ShouldAlmostEqual, c.PP(5.20, 0.90), 1e-9)
				So(s2.Rank, ShouldEqual, 2)
			})

			Convey("Then each affected player's top score carries full weight", func() {
				s1, err := store.CurrentScore(ctx, "P1", chartA)
				So(err, ShouldBeNil)
				So(s1.Weight, ShouldAlmostEqual, 1.0, 1e-9)
			})
		})

		Convey("When a fetched row's value does not match the stored row", func() {
			lk.scores[chartA][0].Value = 123456

			_, err := ref.Refresh(ctx, cascade.KindRanked)
			So(err, ShouldBeNil)

			Convey("Then the mismatched row is left alone", func() {
				s1, err := store.CurrentScore(ctx, "P1", chartA)
				So(err, ShouldBeNil)
				So(s1.PP, ShouldAlmostEqual, 100, 1e-9)
			})
		})
	})
}

func TestRefreshReweightAcrossCharts(t *testing.T) {
	Convey("Given a player with scores on several charts", t, func() {
		ctx := context.Background()
		store := repository.NewMemStore()
		c := curve.New()

		const chartB = "BBBB2222-EXPERT-STANDARD"
		So(store.PutChartRankingState(ctx, model.ChartRankingState{
			ChartID: chartA, DifficultyRating: 4.80, Ranked: true,
		}), ShouldBeNil)
		seedScore(ctx, store, "S1", "P1", 900000, 0.95, 100)
		_ = store.PutCurrentScore(ctx, model.CurrentScore{
			ScoreID: "S9", PlayerID: "P1", ChartID: chartB,
			Value: 700000, Accuracy: 0.92, PP: 500, Weight: 0.5,
		})

		lk := &fakeLookup{
			ranked: []model.ChartRankingState{
				{ChartID: chartA, DifficultyRating: 5.20, Ranked: true},
			},
			scores: map[string][]lookup.ChartScore{
				chartA: {
					{ScoreID: "S1", PlayerID: "P1", Value: 900000, Accuracy: 0.95, Rank: 1},
				},
			},
		}
		ref := cascade.New(store, lk, c)

		Convey("When the refresh recomputes one chart", func() {
			_, err := ref.Refresh(ctx, cascade.KindRanked)
			So(err, ShouldBeNil)

			Convey("Then weights follow the pp-descending order across all charts", func() {
				scores, err := store.PlayerCurrentScores(ctx, "P1")
				So(err, ShouldBeNil)
				So(len(scores), ShouldEqual, 2)
				// S9 keeps the higher pp, so it holds rank index 0.
				So(scores[0].ScoreID, ShouldEqual, "S9")
				So(scores[0].Weight, ShouldAlmostEqual, c.Weight(0), 1e-9)
				So(scores[1].ScoreID, ShouldEqual, "S1")
				So(scores[1].Weight, ShouldAlmostEqual, c.Weight(1), 1e-9)
			})
		})
	})
}

func TestRefreshUnrank(t *testing.T) {
	Convey("Given a ranked chart with live and archived scores", t, func() {
		ctx := context.Background()
		store := repository.NewMemStore()

		So(store.PutChartRankingState(ctx, model.ChartRankingState{
			ChartID: chartA, DifficultyRating: 4.80, Ranked: true,
		}), ShouldBeNil)
		seedScore(ctx, store, "S1", "P1", 900000, 0.95, 100)
		So(store.ArchivePreviousScore(ctx, model.ArchivedScore{
			CurrentScore: model.CurrentScore{
				ScoreID: "S0", PlayerID: "P1", ChartID: chartA,
				Value: 850000, Accuracy: 0.93, PP: 80, Weight: 0.9,
			},
			ArchiveID:  "A1",
			ArchivedAt: time.Now().UTC(),
		}), ShouldBeNil)

		Convey("When the fresh listing reports the chart unranked", func() {
			lk := &fakeLookup{
				ranked: []model.ChartRankingState{
					{ChartID: chartA, DifficultyRating: 4.80, Ranked: false},
				},
			}
			ref := cascade.New(store, lk, curve.New())

			sum, err := ref.Refresh(ctx, cascade.KindRanked)

			Convey("Then every row on the chart ends at pp=0 weight=0", func() {
				So(err, ShouldBeNil)
				So(sum.ChartsChanged, ShouldEqual, 1)
				So(sum.ScoresUpdated, ShouldEqual, 2)

				s1, err := store.CurrentScore(ctx, "P1", chartA)
				So(err, ShouldBeNil)
				So(s1.PP, ShouldEqual, 0)
				So(s1.Weight, ShouldEqual, 0)

				rows, err := store.ChartArchivedScores(ctx, chartA)
				So(err, ShouldBeNil)
				So(len(rows), ShouldEqual, 1)
				So(rows[0].PP, ShouldEqual, 0)
				So(rows[0].Weight, ShouldEqual, 0)
			})
		})

		Convey("When the chart merely disappears from the listing", func() {
			Convey("And the direct lookup still knows it as ranked", func() {
				lk := &fakeLookup{
					byID: map[string]model.ChartRankingState{
						chartA: {ChartID: chartA, DifficultyRating: 4.80, Ranked: true},
					},
				}
				ref := cascade.New(store, lk, curve.New())

				_, err := ref.Refresh(ctx, cascade.KindRanked)

				Convey("Then the pagination race does not unrank it", func() {
					So(err, ShouldBeNil)
					s1, err := store.CurrentScore(ctx, "P1", chartA)
					So(err, ShouldBeNil)
					So(s1.PP, ShouldAlmostEqual, 100, 1e-9)

					state, err := store.ChartRankingState(ctx, chartA)
					So(err, ShouldBeNil)
					So(state.Ranked, ShouldBeTrue)
				})
			})

			Convey("And the direct lookup no longer knows it", func() {
				lk := &fakeLookup{byID: map[string]model.ChartRankingState{}}
				ref := cascade.New(store, lk, curve.New())

				sum, err := ref.Refresh(ctx, cascade.KindRanked)

				Convey("Then the unrank cascade fires", func() {
					So(err, ShouldBeNil)
					So(sum.ChartsChanged, ShouldEqual, 1)

					s1, err := store.CurrentScore(ctx, "P1", chartA)
					So(err, ShouldBeNil)
					So(s1.PP, ShouldEqual, 0)

					state, err := store.ChartRankingState(ctx, chartA)
					So(err, ShouldBeNil)
					So(state.Ranked, ShouldBeFalse)
				})
			})
		})
	})
}

func TestRefreshArchivedPP(t *testing.T) {
	Convey("Given an archived snapshot on a recomputed chart", t, func() {
		ctx := context.Background()
		store := repository.NewMemStore()
		c := curve.New()

		So(store.PutChartRankingState(ctx, model.ChartRankingState{
			ChartID: chartA, DifficultyRating: 4.80, Ranked: true,
		}), ShouldBeNil)
		seedScore(ctx, store, "S1", "P1", 900000, 0.95, 100)
		So(store.ArchivePreviousScore(ctx, model.ArchivedScore{
			CurrentScore: model.CurrentScore{
				ScoreID: "S0", PlayerID: "P1", ChartID: chartA,
				Value: 850000, Accuracy: 0.93, PP: 80, Weight: 0.9,
			},
			ArchiveID:  "A1",
			ArchivedAt: time.Now().UTC(),
		}), ShouldBeNil)

		lk := &fakeLookup{
			ranked: []model.ChartRankingState{
				{ChartID: chartA, DifficultyRating: 5.20, Ranked: true},
			},
			scores: map[string][]lookup.ChartScore{
				chartA: {
					{ScoreID: "S1", PlayerID: "P1", Value: 900000, Accuracy: 0.95, Rank: 1},
				},
			},
		}
		ref := cascade.New(store, lk, c)

		Convey("When the refresh runs", func() {
			_, err := ref.Refresh(ctx, cascade.KindRanked)
			So(err, ShouldBeNil)

			Convey("Then the archived row gets the new pp with zero weight", func() {
				rows, err := store.ChartArchivedScores(ctx, chartA)
				So(err, ShouldBeNil)
				So(len(rows), ShouldEqual, 1)
				So(rows[0].PP, ShouldAlmostEqual, c.PP(5.20, 0.93), 1e-9)
				So(rows[0].Weight, ShouldEqual, 0)
			})
		})
	})
}

func TestRefreshListingFailure(t *testing.T) {
	Convey("Given an upstream whose listing pages all fail", t, func() {
		ctx := context.Background()
		store := repository.NewMemStore()

		So(store.PutChartRankingState(ctx, model.ChartRankingState{
			ChartID: chartA, DifficultyRating: 4.80, Ranked: true,
		}), ShouldBeNil)
		seedScore(ctx, store, "S1", "P1", 900000, 0.95, 100)

		lk := &fakeLookup{
			pageErr: lookup.ErrFetch,
			byID: map[string]model.ChartRankingState{
				chartA: {ChartID: chartA, DifficultyRating: 4.80, Ranked: true},
			},
		}
		ref := cascade.New(store, lk, curve.New())

		Convey("When a ranked refresh runs", func() {
			sum, err := ref.Refresh(ctx, cascade.KindRanked)

			Convey("Then the run survives, reverification keeps the chart ranked", func() {
				So(err, ShouldBeNil)
				So(sum.ChartsChanged, ShouldEqual, 0)

				s1, err := store.CurrentScore(ctx, "P1", chartA)
				So(err, ShouldBeNil)
				So(s1.PP, ShouldAlmostEqual, 100, 1e-9)

				state, err := store.ChartRankingState(ctx, chartA)
				So(err, ShouldBeNil)
				So(state.Ranked, ShouldBeTrue)
			})
		})
	})
}

func TestRefreshIdempotent(t *testing.T) {
	Convey("Given a refresh that already applied a rating change", t, func() {
		ctx := context.Background()
		store := repository.NewMemStore()
		c := curve.New()

		So(store.PutChartRankingState(ctx, model.ChartRankingState{
			ChartID: chartA, DifficultyRating: 4.80, Ranked: true,
		}), ShouldBeNil)
		seedScore(ctx, store, "S1", "P1", 900000, 0.95, 100)

		lk := &fakeLookup{
			ranked: []model.ChartRankingState{
				{ChartID: chartA, DifficultyRating: 5.20, Ranked: true},
			},
			scores: map[string][]lookup.ChartScore{
				chartA: {
					{ScoreID: "S1", PlayerID: "P1", Value: 900000, Accuracy: 0.95, Rank: 1},
				},
			},
		}
		ref := cascade.New(store, lk, c)

		first, err := ref.Refresh(ctx, cascade.KindRanked)
		So(err, ShouldBeNil)
		So(first.ChartsChanged, ShouldEqual, 1)

		Convey("When the same listing is refreshed again", func() {
			second, err := ref.Refresh(ctx, cascade.KindRanked)

			Convey("Then nothing changes and pp stays put", func() {
				So(err, ShouldBeNil)
				So(second.ChartsChanged, ShouldEqual, 0)

				s1, err := store.CurrentScore(ctx, "P1", chartA)
				So(err, ShouldBeNil)
				So(s1.PP, ShouldAlmostEqual, c.PP(5.20, 0.95), 1e-9)
			})
		})
	})
}
