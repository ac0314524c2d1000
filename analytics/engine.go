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

// Package analytics computes NAV, risk and attribution from the version
// store and the local price store. All computations are deterministic
// functions of already-persisted data; nothing here calls a live feed.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/folio-vault/fv-api/common"
	"github.com/folio-vault/fv-api/marketcal"
	"github.com/folio-vault/fv-api/observability/opentelemetry"
	"github.com/folio-vault/fv-api/prices"
	"github.com/folio-vault/fv-api/vstore"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
)

// VersionResolver is the slice of the version store the engine reads;
// vstore.Store satisfies it
type VersionResolver interface {
	GetPortfolio(ctx context.Context, portfolioID uuid.UUID) (*vstore.Portfolio, error)
	ResolveEffectiveVersion(ctx context.Context, portfolioID uuid.UUID, asOf time.Time) (*vstore.Version, error)
	VersionsInRange(ctx context.Context, portfolioID uuid.UUID, begin time.Time, end time.Time) ([]*vstore.Version, error)
	Positions(ctx context.Context, versionID uuid.UUID) ([]*vstore.Position, error)
}

// PriceReader is the slice of the price store the engine reads;
// prices.Store satisfies it
type PriceReader interface {
	Closes(ctx context.Context, symbols []string, begin time.Time, end time.Time) (map[int64]map[string]float64, error)
	EarliestBar(ctx context.Context, symbol string) (time.Time, error)
}

// Backfiller triggers on-demand ingestion for symbols with no local history;
// ingest.Service satisfies it
type Backfiller interface {
	BackfillSymbols(ctx context.Context, symbols []string, begin time.Time, end time.Time) error
}

// SeriesPoint is one day of a NAV series. NAV and Return are nil on gap days
// where a required price bar is missing.
type SeriesPoint struct {
	Date   time.Time `json:"date"`
	NAV    *float64  `json:"nav"`
	Return *float64  `json:"return"`
}

type Series struct {
	PortfolioID uuid.UUID      `json:"portfolioId,omitempty"`
	Label       string         `json:"label"`
	Points      []*SeriesPoint `json:"points"`
}

// TotalReturn is the fractional return between the first and last non-gap
// points of the series; NaN when fewer than two computable days exist
func (s *Series) TotalReturn() float64 {
	var first, last float64
	computable := 0
	for _, point := range s.Points {
		if point.NAV == nil {
			continue
		}
		if computable == 0 {
			first = *point.NAV
		}
		last = *point.NAV
		computable++
	}
	if computable < 2 || first == 0 {
		return math.NaN()
	}
	return last/first - 1
}

type AttributionRow struct {
	Symbol       string  `json:"symbol"`
	Weight       float64 `json:"weight"`
	Return       float64 `json:"return"`
	Contribution float64 `json:"contribution"`
}

type Attribution struct {
	PortfolioID uuid.UUID         `json:"portfolioId"`
	Begin       time.Time         `json:"begin"`
	End         time.Time         `json:"end"`
	TotalReturn float64           `json:"totalReturn"`
	Positions   []*AttributionRow `json:"positions"`
}

type PairAlpha struct {
	A     string  `json:"a"`
	B     string  `json:"b"`
	Alpha float64 `json:"alpha"`
}

type Comparison struct {
	Series []*Series    `json:"series"`
	Alpha  []*PairAlpha `json:"alpha"`
}

type Engine struct {
	versions VersionResolver
	bars     PriceReader
	backfill Backfiller

	// one recompute at a time per portfolio
	locks sync.Map

	// cache generations, bumped on invalidation
	gens sync.Map
}

func NewEngine(versions VersionResolver, bars PriceReader, backfill Backfiller) *Engine {
	return &Engine{
		versions: versions,
		bars:     bars,
		backfill: backfill,
	}
}

func (eng *Engine) portfolioLock(portfolioID uuid.UUID) *sync.Mutex {
	actual, _ := eng.locks.LoadOrStore(portfolioID, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

func (eng *Engine) generation(portfolioID uuid.UUID) uint64 {
	actual, _ := eng.gens.LoadOrStore(portfolioID, new(uint64))
	return atomic.LoadUint64(actual.(*uint64))
}

// InvalidateSeries drops cached series for the portfolio; called after a new
// version is created
func (eng *Engine) InvalidateSeries(portfolioID uuid.UUID) {
	actual, _ := eng.gens.LoadOrStore(portfolioID, new(uint64))
	atomic.AddUint64(actual.(*uint64), 1)
}

// ComputeSeries computes the day-by-day NAV series for a portfolio over
// [begin, end]. A zero begin means portfolio inception. The NAV index is
// continuous across version boundaries: a version change only swaps which
// positions determine the next day's return. Days where any position lacks a
// price bar are explicit gaps.
func (eng *Engine) ComputeSeries(ctx context.Context, portfolioID uuid.UUID, begin time.Time, end time.Time) (*Series, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "analytics.ComputeSeries")
	defer span.End()

	if end.IsZero() {
		end = time.Now()
	}
	if !begin.IsZero() && end.Before(begin) {
		return nil, ErrInvalidTimeRange
	}

	portfolio, err := eng.versions.GetPortfolio(ctx, portfolioID)
	if err != nil {
		return nil, err
	}

	cacheKey := fmt.Sprintf("series:%s:%d:%s:%s", portfolioID, eng.generation(portfolioID), begin.Format("2006-01-02"), end.Format("2006-01-02"))
	if raw, err := common.CacheGet(cacheKey); err == nil {
		series := &Series{}
		if err := json.Unmarshal(raw, series); err == nil {
			return series, nil
		}
	}

	// effective_at is an intraday instant (the market open) while the
	// requested range is day-granular; compare and query at day bounds so a
	// version effective during the first or last session is not missed
	versions, err := eng.versions.VersionsInRange(ctx, portfolioID, begin, marketcal.MarketClose(end))
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, ErrInsufficientData
	}

	if begin.IsZero() {
		begin = versions[0].EffectiveAt
	} else if marketcal.MarketClose(begin).Before(versions[0].EffectiveAt) {
		// no version governs any session in the window
		return nil, ErrInsufficientData
	}
	// bar dates are stored at day granularity; widen the window so the first
	// and last sessions' bars are both read
	begin = marketcal.DayStart(begin)
	end = marketcal.MarketClose(end)

	snapshots := make(map[uuid.UUID][]*vstore.Position, len(versions))
	symbolSet := make(map[string]bool)
	for _, version := range versions {
		positions, err := eng.versions.Positions(ctx, version.ID)
		if err != nil {
			return nil, err
		}
		snapshots[version.ID] = positions
		for _, pos := range positions {
			symbolSet[pos.Symbol] = true
		}
	}

	symbols := make([]string, 0, len(symbolSet))
	for symbol := range symbolSet {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	if err := eng.ensureHistory(ctx, symbols, begin, end); err != nil {
		return nil, err
	}

	closes, err := eng.bars.Closes(ctx, symbols, begin, end)
	if err != nil {
		return nil, err
	}

	series := eng.walkSeries(portfolio, versions, snapshots, closes, begin, end)
	if series == nil {
		return nil, ErrInsufficientData
	}

	if raw, err := json.Marshal(series); err == nil {
		if err := common.CacheSet(cacheKey, raw); err != nil {
			log.Debug().Err(err).Str("Key", cacheKey).Msg("could not cache series")
		}
	}
	return series, nil
}

// ensureHistory backfills any symbol with no locally stored bars
func (eng *Engine) ensureHistory(ctx context.Context, symbols []string, begin time.Time, end time.Time) error {
	missing := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		if _, err := eng.bars.EarliestBar(ctx, symbol); err != nil {
			if errors.Is(err, prices.ErrNoPriceData) {
				missing = append(missing, symbol)
				continue
			}
			return err
		}
	}

	if len(missing) == 0 {
		return nil
	}

	log.Info().Strs("Symbols", missing).Msg("backfilling unseen symbols on demand")
	return eng.backfill.BackfillSymbols(ctx, missing, begin, end)
}

// walkSeries runs the day loop. Returns nil when no day in the range is
// computable.
func (eng *Engine) walkSeries(portfolio *vstore.Portfolio, versions []*vstore.Version, snapshots map[uuid.UUID][]*vstore.Position, closes map[int64]map[string]float64, begin time.Time, end time.Time) *Series {
	days := marketcal.TradingDays(begin, end)
	points := make([]*SeriesPoint, 0, len(days))

	lastClose := make(map[string]float64)
	versionIdx := 0
	nav := math.NaN()
	computable := false

	for _, day := range days {
		// advance to the version governing this day
		for versionIdx+1 < len(versions) && !versions[versionIdx+1].EffectiveAt.After(marketcal.MarketClose(day)) {
			versionIdx++
		}
		positions := snapshots[versions[versionIdx].ID]

		point := &SeriesPoint{Date: day}
		dayCloses := closes[prices.DayKey(day)]

		complete := len(dayCloses) > 0
		for _, pos := range positions {
			if _, ok := dayCloses[pos.Symbol]; !ok {
				complete = false
				break
			}
		}

		if complete {
			switch portfolio.AllocationType {
			case vstore.AllocationQuantity:
				dayNAV := 0.0
				for _, pos := range positions {
					dayNAV += pos.Value * dayCloses[pos.Symbol]
				}
				if computable {
					ret := dayNAV/nav - 1
					point.Return = &ret
				}
				nav = dayNAV
				navOut := nav
				point.NAV = &navOut
				computable = true
			case vstore.AllocationWeight:
				if !computable {
					// base the index at the first computable day
					nav = 100
					navOut := nav
					point.NAV = &navOut
					computable = true
					break
				}

				dayReturn := 0.0
				haveReturns := true
				for _, pos := range positions {
					prev, ok := lastClose[pos.Symbol]
					if !ok || prev == 0 {
						haveReturns = false
						break
					}
					dayReturn += pos.Value * (dayCloses[pos.Symbol]/prev - 1)
				}
				if haveReturns {
					nav *= 1 + dayReturn
					navOut := nav
					point.NAV = &navOut
					point.Return = &dayReturn
				}
			}
		}

		// carry forward the most recent bar per symbol, even on gap days,
		// so post-gap returns use the last traded close
		for symbol, closePrice := range dayCloses {
			lastClose[symbol] = closePrice
		}

		points = append(points, point)
	}

	if !computable {
		return nil
	}
	return &Series{
		PortfolioID: portfolio.ID,
		Label:       portfolio.Name,
		Points:      points,
	}
}

// Attribution decomposes the portfolio's return over [begin, end] into
// per-holding contributions. Weights come from the version in effect at the
// period start; returns are endpoint-to-endpoint on each holding's closes.
// The contributions sum to the reported total by construction.
func (eng *Engine) Attribution(ctx context.Context, portfolioID uuid.UUID, begin time.Time, end time.Time) (*Attribution, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "analytics.Attribution")
	defer span.End()

	if end.IsZero() {
		end = time.Now()
	}
	if !begin.IsZero() && end.Before(begin) {
		return nil, ErrInvalidTimeRange
	}

	portfolio, err := eng.versions.GetPortfolio(ctx, portfolioID)
	if err != nil {
		return nil, err
	}

	if begin.IsZero() {
		versions, err := eng.versions.VersionsInRange(ctx, portfolioID, begin, marketcal.MarketClose(end))
		if err != nil {
			return nil, err
		}
		if len(versions) == 0 {
			return nil, ErrInsufficientData
		}
		begin = versions[0].EffectiveAt
	}

	version, err := eng.versions.ResolveEffectiveVersion(ctx, portfolioID, marketcal.MarketClose(begin))
	if err != nil {
		if errors.Is(err, vstore.ErrNoEffectiveVersion) {
			return nil, ErrInsufficientData
		}
		return nil, err
	}

	positions, err := eng.versions.Positions(ctx, version.ID)
	if err != nil {
		return nil, err
	}

	symbols := make([]string, 0, len(positions))
	for _, pos := range positions {
		symbols = append(symbols, pos.Symbol)
	}

	if err := eng.ensureHistory(ctx, symbols, begin, end); err != nil {
		return nil, err
	}

	// include the previous session so the period start lands on a close even
	// when begin falls on a weekend or holiday
	scanFrom := marketcal.PrevMarketDay(begin)
	closes, err := eng.bars.Closes(ctx, symbols, scanFrom, marketcal.MarketClose(end))
	if err != nil {
		return nil, err
	}

	startClose := make(map[string]float64, len(symbols))
	endClose := make(map[string]float64, len(symbols))
	beginKey := prices.DayKey(begin)
	for _, day := range marketcal.TradingDays(scanFrom, end) {
		dayCloses := closes[prices.DayKey(day)]
		for symbol, closePrice := range dayCloses {
			if prices.DayKey(day) <= beginKey {
				startClose[symbol] = closePrice
			}
			endClose[symbol] = closePrice
		}
	}

	for _, symbol := range symbols {
		if _, ok := startClose[symbol]; !ok {
			return nil, fmt.Errorf("%w: no starting price for %s", ErrInsufficientData, symbol)
		}
		if _, ok := endClose[symbol]; !ok {
			return nil, fmt.Errorf("%w: no ending price for %s", ErrInsufficientData, symbol)
		}
	}

	// quantity portfolios attribute against value weights at the period start
	weights := make(map[string]float64, len(positions))
	if portfolio.AllocationType == vstore.AllocationQuantity {
		totalValue := 0.0
		for _, pos := range positions {
			totalValue += pos.Value * startClose[pos.Symbol]
		}
		if totalValue == 0 {
			return nil, ErrInsufficientData
		}
		for _, pos := range positions {
			weights[pos.Symbol] = pos.Value * startClose[pos.Symbol] / totalValue
		}
	} else {
		for _, pos := range positions {
			weights[pos.Symbol] = pos.Value
		}
	}

	rows := make([]*AttributionRow, 0, len(positions))
	total := 0.0
	for _, pos := range positions {
		ret := endClose[pos.Symbol]/startClose[pos.Symbol] - 1
		row := &AttributionRow{
			Symbol:       pos.Symbol,
			Weight:       weights[pos.Symbol],
			Return:       ret,
			Contribution: weights[pos.Symbol] * ret,
		}
		total += row.Contribution
		rows = append(rows, row)
	}

	sort.Slice(rows, func(a, b int) bool {
		return math.Abs(rows[a].Contribution) > math.Abs(rows[b].Contribution)
	})

	return &Attribution{
		PortfolioID: portfolioID,
		Begin:       begin,
		End:         end,
		TotalReturn: total,
		Positions:   rows,
	}, nil
}

// Compare computes each portfolio's series independently, optionally adds a
// benchmark symbol as a synthetic single-asset series, inner-joins all series
// on common non-gap days and reports pairwise alpha (total-return
// difference) over the aligned window.
func (eng *Engine) Compare(ctx context.Context, portfolioIDs []uuid.UUID, benchmark string, begin time.Time, end time.Time) (*Comparison, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "analytics.Compare")
	defer span.End()

	if len(portfolioIDs) == 0 && benchmark == "" {
		return nil, ErrNoPortfolios
	}

	allSeries := make([]*Series, 0, len(portfolioIDs)+1)
	for _, portfolioID := range portfolioIDs {
		series, err := eng.ComputeSeries(ctx, portfolioID, begin, end)
		if err != nil {
			return nil, err
		}
		allSeries = append(allSeries, series)
	}

	if benchmark != "" {
		series, err := eng.benchmarkSeries(ctx, benchmark, begin, end)
		if err != nil {
			return nil, err
		}
		allSeries = append(allSeries, series)
	}

	aligned := alignSeries(allSeries)
	if len(aligned) == 0 || len(aligned[0].Points) == 0 {
		return nil, ErrInsufficientData
	}

	alpha := make([]*PairAlpha, 0, len(aligned))
	for a := 0; a < len(aligned); a++ {
		for b := a + 1; b < len(aligned); b++ {
			alpha = append(alpha, &PairAlpha{
				A:     aligned[a].Label,
				B:     aligned[b].Label,
				Alpha: aligned[a].TotalReturn() - aligned[b].TotalReturn(),
			})
		}
	}

	return &Comparison{
		Series: aligned,
		Alpha:  alpha,
	}, nil
}

// benchmarkSeries treats a bare symbol as a fully-weighted single-asset
// portfolio and computes its base-100 index
func (eng *Engine) benchmarkSeries(ctx context.Context, symbol string, begin time.Time, end time.Time) (*Series, error) {
	if end.IsZero() {
		end = time.Now()
	}
	if begin.IsZero() {
		begin = end.AddDate(-1, 0, 0)
	}

	if err := eng.ensureHistory(ctx, []string{symbol}, begin, end); err != nil {
		return nil, err
	}

	closes, err := eng.bars.Closes(ctx, []string{symbol}, begin, end)
	if err != nil {
		return nil, err
	}

	points := make([]*SeriesPoint, 0, 252)
	nav := math.NaN()
	prev := math.NaN()
	computable := false
	for _, day := range marketcal.TradingDays(begin, end) {
		point := &SeriesPoint{Date: day}
		if closePrice, ok := closes[prices.DayKey(day)][symbol]; ok {
			if !computable {
				nav = 100
				computable = true
			} else {
				ret := closePrice/prev - 1
				nav *= 1 + ret
				point.Return = &ret
			}
			navOut := nav
			point.NAV = &navOut
			prev = closePrice
		}
		points = append(points, point)
	}

	if !computable {
		return nil, ErrInsufficientData
	}
	return &Series{
		Label:  symbol,
		Points: points,
	}, nil
}

// alignSeries inner-joins the series on days where every series has a
// non-gap NAV and recomputes returns over the joined days
func alignSeries(allSeries []*Series) []*Series {
	if len(allSeries) == 0 {
		return nil
	}

	counts := make(map[int64]int)
	for _, series := range allSeries {
		for _, point := range series.Points {
			if point.NAV != nil {
				counts[prices.DayKey(point.Date)]++
			}
		}
	}

	aligned := make([]*Series, 0, len(allSeries))
	for _, series := range allSeries {
		out := &Series{
			PortfolioID: series.PortfolioID,
			Label:       series.Label,
			Points:      make([]*SeriesPoint, 0, len(series.Points)),
		}
		prev := math.NaN()
		for _, point := range series.Points {
			if point.NAV == nil || counts[prices.DayKey(point.Date)] != len(allSeries) {
				continue
			}
			joined := &SeriesPoint{Date: point.Date, NAV: point.NAV}
			if !math.IsNaN(prev) {
				ret := *point.NAV/prev - 1
				joined.Return = &ret
			}
			prev = *point.NAV
			out.Points = append(out.Points, joined)
		}
		aligned = append(aligned, out)
	}
	return aligned
}
