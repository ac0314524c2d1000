// Copyright 2022-2026
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package analytics_test

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pashagolub/pgxmock"

	"github.com/folio-vault/fv-api/analytics"
	"github.com/folio-vault/fv-api/common"
	"github.com/folio-vault/fv-api/database"
	"github.com/folio-vault/fv-api/marketcal"
	"github.com/folio-vault/fv-api/prices"
	"github.com/folio-vault/fv-api/vstore"
)

type fakeVersions struct {
	portfolios map[uuid.UUID]*vstore.Portfolio
	versions   map[uuid.UUID][]*vstore.Version
	positions  map[uuid.UUID][]*vstore.Position
}

func newFakeVersions() *fakeVersions {
	return &fakeVersions{
		portfolios: make(map[uuid.UUID]*vstore.Portfolio),
		versions:   make(map[uuid.UUID][]*vstore.Version),
		positions:  make(map[uuid.UUID][]*vstore.Position),
	}
}

func (f *fakeVersions) GetPortfolio(_ context.Context, portfolioID uuid.UUID) (*vstore.Portfolio, error) {
	if portfolio, ok := f.portfolios[portfolioID]; ok {
		return portfolio, nil
	}
	return nil, vstore.ErrNotFound
}

func (f *fakeVersions) ResolveEffectiveVersion(_ context.Context, portfolioID uuid.UUID, asOf time.Time) (*vstore.Version, error) {
	var resolved *vstore.Version
	for _, version := range f.versions[portfolioID] {
		if !version.EffectiveAt.After(asOf) {
			resolved = version
		}
	}
	if resolved == nil {
		return nil, vstore.ErrNoEffectiveVersion
	}
	return resolved, nil
}

func (f *fakeVersions) VersionsInRange(_ context.Context, portfolioID uuid.UUID, begin time.Time, end time.Time) ([]*vstore.Version, error) {
	inRange := make([]*vstore.Version, 0, 4)
	for _, version := range f.versions[portfolioID] {
		if !version.EffectiveAt.After(end) {
			inRange = append(inRange, version)
		}
	}
	idx := 0
	for ii, version := range inRange {
		if version.EffectiveAt.After(begin) {
			break
		}
		idx = ii
	}
	return inRange[idx:], nil
}

func (f *fakeVersions) Positions(_ context.Context, versionID uuid.UUID) ([]*vstore.Position, error) {
	if positions, ok := f.positions[versionID]; ok {
		return positions, nil
	}
	return nil, vstore.ErrVersionNotFound
}

func (f *fakeVersions) addVersion(portfolioID uuid.UUID, effectiveAt time.Time, positions []*vstore.Position) *vstore.Version {
	version := &vstore.Version{
		ID:          uuid.New(),
		PortfolioID: portfolioID,
		Seq:         len(f.versions[portfolioID]) + 1,
		EffectiveAt: effectiveAt,
		CreatedAt:   time.Now(),
	}
	f.versions[portfolioID] = append(f.versions[portfolioID], version)
	f.positions[version.ID] = positions
	return version
}

type fakePrices struct {
	closes   map[int64]map[string]float64
	earliest map[string]time.Time

	// raw bounds of the last Closes call, for window assertions
	queryBegin time.Time
	queryEnd   time.Time
}

func newFakePrices() *fakePrices {
	return &fakePrices{
		closes:   make(map[int64]map[string]float64),
		earliest: make(map[string]time.Time),
	}
}

func (f *fakePrices) setClose(day time.Time, symbol string, closePrice float64) {
	key := prices.DayKey(day)
	if _, ok := f.closes[key]; !ok {
		f.closes[key] = make(map[string]float64)
	}
	f.closes[key][symbol] = closePrice
	if earliest, ok := f.earliest[symbol]; !ok || day.Before(earliest) {
		f.earliest[symbol] = day
	}
}

func (f *fakePrices) Closes(_ context.Context, symbols []string, begin time.Time, end time.Time) (map[int64]map[string]float64, error) {
	f.queryBegin = begin
	f.queryEnd = end
	out := make(map[int64]map[string]float64)
	want := make(map[string]bool, len(symbols))
	for _, symbol := range symbols {
		want[symbol] = true
	}
	for day, bySymbol := range f.closes {
		if day < prices.DayKey(begin) || day > prices.DayKey(end) {
			continue
		}
		for symbol, closePrice := range bySymbol {
			if !want[symbol] {
				continue
			}
			if _, ok := out[day]; !ok {
				out[day] = make(map[string]float64)
			}
			out[day][symbol] = closePrice
		}
	}
	return out, nil
}

func (f *fakePrices) EarliestBar(_ context.Context, symbol string) (time.Time, error) {
	if earliest, ok := f.earliest[symbol]; ok {
		return earliest, nil
	}
	return time.Time{}, prices.ErrNoPriceData
}

type fakeBackfill struct {
	batches [][]string
}

func (f *fakeBackfill) BackfillSymbols(_ context.Context, symbols []string, _ time.Time, _ time.Time) error {
	f.batches = append(f.batches, symbols)
	return nil
}

var _ = Describe("Engine", func() {
	var (
		versions *fakeVersions
		bars     *fakePrices
		backfill *fakeBackfill
		engine   *analytics.Engine
		ctx      context.Context
		nyc      *time.Location

		// wed aug 26 through fri aug 28 2026, consecutive trading days
		day1, day2, day3 time.Time
	)

	newWeightPortfolio := func(positions []*vstore.Position) uuid.UUID {
		portfolioID := uuid.New()
		versions.portfolios[portfolioID] = &vstore.Portfolio{
			ID:             portfolioID,
			Name:           "test portfolio",
			BaseCurrency:   "USD",
			AllocationType: vstore.AllocationWeight,
		}
		versions.addVersion(portfolioID, marketcal.MarketOpen(day1), positions)
		return portfolioID
	}

	BeforeEach(func() {
		versions = newFakeVersions()
		bars = newFakePrices()
		backfill = &fakeBackfill{}
		engine = analytics.NewEngine(versions, bars, backfill)
		ctx = context.Background()
		nyc = common.GetTimezone()

		day1 = time.Date(2026, time.August, 26, 0, 0, 0, 0, nyc)
		day2 = time.Date(2026, time.August, 27, 0, 0, 0, 0, nyc)
		day3 = time.Date(2026, time.August, 28, 0, 0, 0, 0, nyc)
	})

	Describe("ComputeSeries", func() {
		It("tracks a single fully-weighted asset exactly", func() {
			portfolioID := newWeightPortfolio([]*vstore.Position{{Symbol: "VTI", Value: 1}})
			bars.setClose(day1, "VTI", 100)
			bars.setClose(day2, "VTI", 105)
			bars.setClose(day3, "VTI", 103)

			series, err := engine.ComputeSeries(ctx, portfolioID, day1, day3)
			Expect(err).To(BeNil())
			Expect(series.Points).To(HaveLen(3))
			Expect(*series.Points[0].NAV).To(Equal(100.0))
			Expect(series.Points[0].Return).To(BeNil())
			Expect(*series.Points[1].NAV).To(BeNumerically("~", 105, 1e-9))
			Expect(*series.Points[1].Return).To(BeNumerically("~", .05, 1e-9))
			Expect(*series.Points[2].NAV).To(BeNumerically("~", 103, 1e-9))
		})

		It("computes quantity-mode NAV as the sum of position values", func() {
			portfolioID := uuid.New()
			versions.portfolios[portfolioID] = &vstore.Portfolio{
				ID:             portfolioID,
				Name:           "shares",
				AllocationType: vstore.AllocationQuantity,
			}
			versions.addVersion(portfolioID, marketcal.MarketOpen(day1),
				[]*vstore.Position{{Symbol: "VTI", Value: 10}, {Symbol: "BND", Value: 5}})
			bars.setClose(day1, "VTI", 100)
			bars.setClose(day1, "BND", 80)
			bars.setClose(day2, "VTI", 102)
			bars.setClose(day2, "BND", 81)

			series, err := engine.ComputeSeries(ctx, portfolioID, day1, day2)
			Expect(err).To(BeNil())
			Expect(*series.Points[0].NAV).To(Equal(1400.0))  // 10*100 + 5*80
			Expect(*series.Points[1].NAV).To(Equal(1425.0))  // 10*102 + 5*81
			Expect(*series.Points[1].Return).To(BeNumerically("~", 1425.0/1400.0-1, 1e-12))
		})

		It("marks days with a missing bar as explicit gaps", func() {
			portfolioID := newWeightPortfolio([]*vstore.Position{{Symbol: "VTI", Value: 1}})
			bars.setClose(day1, "VTI", 100)
			// no bar on day2
			bars.setClose(day3, "VTI", 110)

			series, err := engine.ComputeSeries(ctx, portfolioID, day1, day3)
			Expect(err).To(BeNil())
			Expect(series.Points).To(HaveLen(3))
			Expect(series.Points[1].NAV).To(BeNil())
			Expect(series.Points[1].Return).To(BeNil())
			// post-gap return measured against the last traded close
			Expect(*series.Points[2].Return).To(BeNumerically("~", .10, 1e-9))
			Expect(*series.Points[2].NAV).To(BeNumerically("~", 110, 1e-9))
		})

		It("keeps the NAV index continuous across version boundaries", func() {
			portfolioID := newWeightPortfolio([]*vstore.Position{{Symbol: "VTI", Value: 1}})
			// switch everything into BND effective day3's open
			versions.addVersion(portfolioID, marketcal.MarketOpen(day3),
				[]*vstore.Position{{Symbol: "BND", Value: 1}})

			bars.setClose(day1, "VTI", 100)
			bars.setClose(day1, "BND", 80)
			bars.setClose(day2, "VTI", 110)
			bars.setClose(day2, "BND", 80)
			bars.setClose(day3, "VTI", 50)
			bars.setClose(day3, "BND", 84)

			series, err := engine.ComputeSeries(ctx, portfolioID, day1, day3)
			Expect(err).To(BeNil())
			Expect(*series.Points[1].NAV).To(BeNumerically("~", 110, 1e-9))
			// day3 is governed by the BND version: +5%, the VTI crash is irrelevant
			Expect(*series.Points[2].Return).To(BeNumerically("~", .05, 1e-9))
			Expect(*series.Points[2].NAV).To(BeNumerically("~", 115.5, 1e-9))
		})

		It("returns ErrInsufficientData when the range precedes all versions", func() {
			portfolioID := newWeightPortfolio([]*vstore.Position{{Symbol: "VTI", Value: 1}})
			bars.setClose(day1, "VTI", 100)

			_, err := engine.ComputeSeries(ctx, portfolioID,
				time.Date(2020, time.January, 2, 0, 0, 0, 0, nyc),
				time.Date(2020, time.June, 1, 0, 0, 0, 0, nyc))
			Expect(err).To(MatchError(analytics.ErrInsufficientData))
		})

		It("returns ErrInsufficientData when no day is computable", func() {
			portfolioID := newWeightPortfolio([]*vstore.Position{{Symbol: "VTI", Value: 1}})
			bars.earliest["VTI"] = day1.AddDate(0, -1, 0) // history exists, just not here

			_, err := engine.ComputeSeries(ctx, portfolioID, day1, day3)
			Expect(err).To(MatchError(analytics.ErrInsufficientData))
		})

		It("passes through ErrNotFound for unknown portfolios", func() {
			_, err := engine.ComputeSeries(ctx, uuid.New(), day1, day3)
			Expect(err).To(MatchError(vstore.ErrNotFound))
		})

		It("backfills symbols with no local history on demand", func() {
			portfolioID := newWeightPortfolio([]*vstore.Position{{Symbol: "VTI", Value: .5}, {Symbol: "NEW", Value: .5}})
			bars.setClose(day1, "VTI", 100)
			bars.setClose(day2, "VTI", 101)
			// NEW has no earliest bar; the engine should request a backfill

			_, err := engine.ComputeSeries(ctx, portfolioID, day1, day2)
			Expect(err).To(MatchError(analytics.ErrInsufficientData)) // backfill fake stores nothing
			Expect(backfill.batches).To(HaveLen(1))
			Expect(backfill.batches[0]).To(Equal([]string{"NEW"}))
		})

		It("treats a zero begin as portfolio inception", func() {
			portfolioID := newWeightPortfolio([]*vstore.Position{{Symbol: "VTI", Value: 1}})
			bars.setClose(day1, "VTI", 100)
			bars.setClose(day2, "VTI", 101)

			series, err := engine.ComputeSeries(ctx, portfolioID, time.Time{}, day2)
			Expect(err).To(BeNil())
			Expect(series.Points[0].Date.Day()).To(Equal(26))
			Expect(*series.Points[0].NAV).To(Equal(100.0))

			// the price query must cover the whole inception day even though
			// the version only became effective at that day's open
			Expect(bars.queryBegin).To(BeTemporally("<=", day1))
			Expect(bars.queryEnd).To(BeTemporally(">=", day2))
		})
	})

	Describe("Attribution", func() {
		It("sums contributions to the total return", func() {
			portfolioID := newWeightPortfolio([]*vstore.Position{
				{Symbol: "VTI", Value: .6},
				{Symbol: "BND", Value: .4},
			})
			bars.setClose(day1, "VTI", 100)
			bars.setClose(day1, "BND", 80)
			bars.setClose(day3, "VTI", 102)   // +2%
			bars.setClose(day3, "BND", 79.2)  // -1%

			attribution, err := engine.Attribution(ctx, portfolioID, day1, day3)
			Expect(err).To(BeNil())
			Expect(attribution.TotalReturn).To(BeNumerically("~", .008, 1e-9))
			Expect(attribution.Positions).To(HaveLen(2))
			// sorted by contribution magnitude
			Expect(attribution.Positions[0].Symbol).To(Equal("VTI"))
			Expect(attribution.Positions[0].Contribution).To(BeNumerically("~", .012, 1e-9))
			Expect(attribution.Positions[1].Contribution).To(BeNumerically("~", -.004, 1e-9))

			sum := attribution.Positions[0].Contribution + attribution.Positions[1].Contribution
			Expect(sum).To(BeNumerically("~", attribution.TotalReturn, 1e-9))
		})

		It("fails with ErrInsufficientData when a holding has no prices", func() {
			portfolioID := newWeightPortfolio([]*vstore.Position{{Symbol: "VTI", Value: 1}})
			bars.earliest["VTI"] = day1

			_, err := engine.Attribution(ctx, portfolioID, day1, day3)
			Expect(err).To(MatchError(analytics.ErrInsufficientData))
		})

		It("uses the prior session's close when the period starts on a weekend", func() {
			portfolioID := newWeightPortfolio([]*vstore.Position{{Symbol: "VTI", Value: 1}})
			saturday := time.Date(2026, time.August, 29, 0, 0, 0, 0, nyc)
			monday := time.Date(2026, time.August, 31, 0, 0, 0, 0, nyc)
			bars.setClose(day3, "VTI", 103) // friday
			bars.setClose(monday, "VTI", 110)

			attribution, err := engine.Attribution(ctx, portfolioID, saturday, monday)
			Expect(err).To(BeNil())
			Expect(attribution.TotalReturn).To(BeNumerically("~", 110.0/103.0-1, 1e-9))
		})
	})

	Describe("Series", func() {
		It("reports NaN until two computable points exist", func() {
			nav := 100.0
			series := &analytics.Series{Points: []*analytics.SeriesPoint{
				{Date: day1, NAV: &nav},
				{Date: day2}, // gap
			}}
			Expect(math.IsNaN(series.TotalReturn())).To(BeTrue())

			higher := 110.0
			series.Points = append(series.Points, &analytics.SeriesPoint{Date: day3, NAV: &higher})
			Expect(series.TotalReturn()).To(BeNumerically("~", .10, 1e-9))
		})
	})

	Describe("Compare", func() {
		It("aligns series and reports pairwise alpha", func() {
			portfolioID := newWeightPortfolio([]*vstore.Position{{Symbol: "VTI", Value: 1}})
			bars.setClose(day1, "VTI", 100)
			bars.setClose(day2, "VTI", 105)
			bars.setClose(day3, "VTI", 103)

			bars.setClose(day1, "SPY", 50)
			bars.setClose(day2, "SPY", 51)
			bars.setClose(day3, "SPY", 50.5)

			comparison, err := engine.Compare(ctx, []uuid.UUID{portfolioID}, "SPY", day1, day3)
			Expect(err).To(BeNil())
			Expect(comparison.Series).To(HaveLen(2))
			Expect(comparison.Series[0].Points).To(HaveLen(3))
			Expect(comparison.Series[1].Label).To(Equal("SPY"))
			Expect(comparison.Alpha).To(HaveLen(1))
			// portfolio +3%, benchmark +1%
			Expect(comparison.Alpha[0].Alpha).To(BeNumerically("~", .02, 1e-9))
		})

		It("drops days any series cannot cover", func() {
			portfolioID := newWeightPortfolio([]*vstore.Position{{Symbol: "VTI", Value: 1}})
			bars.setClose(day1, "VTI", 100)
			bars.setClose(day2, "VTI", 105)
			bars.setClose(day3, "VTI", 103)

			// benchmark missing day2
			bars.setClose(day1, "SPY", 50)
			bars.setClose(day3, "SPY", 50.5)

			comparison, err := engine.Compare(ctx, []uuid.UUID{portfolioID}, "SPY", day1, day3)
			Expect(err).To(BeNil())
			Expect(comparison.Series[0].Points).To(HaveLen(2))
			Expect(comparison.Series[1].Points).To(HaveLen(2))
		})

		It("requires at least one series", func() {
			_, err := engine.Compare(ctx, nil, "", day1, day3)
			Expect(err).To(MatchError(analytics.ErrNoPortfolios))
		})
	})

	Describe("Materialize", func() {
		It("upserts one metrics row per computable day", func() {
			portfolioID := newWeightPortfolio([]*vstore.Position{{Symbol: "VTI", Value: 1}})
			bars.setClose(day1, "VTI", 100)
			bars.setClose(day2, "VTI", 105)
			bars.setClose(day3, "VTI", 103)

			dbPool, err := pgxmock.NewConn()
			Expect(err).To(BeNil())
			database.SetPool(dbPool)

			dbPool.ExpectBegin()
			for i := 0; i < 3; i++ {
				dbPool.ExpectExec("INSERT INTO portfolio_metrics_daily").
					WithArgs(portfolioID, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
						pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
					WillReturnResult(pgxmock.NewResult("INSERT", 1))
			}
			dbPool.ExpectCommit()

			Expect(engine.Materialize(ctx, portfolioID, day1, day3)).To(Succeed())
			Expect(dbPool.ExpectationsWereMet()).To(BeNil())
		})
	})
})
