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

package analytics

import (
	"context"
	"math"
	"time"

	"github.com/folio-vault/fv-api/database"
	"github.com/folio-vault/fv-api/observability/opentelemetry"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
)

// MetricsRow is one materialized day of portfolio_metrics_daily. Pointer
// fields are NULL in the store when the underlying value is not yet
// computable (e.g. volatility before 30 returns exist).
type MetricsRow struct {
	PortfolioID   uuid.UUID `json:"portfolioId"`
	Date          time.Time `json:"date"`
	NAV           float64   `json:"nav"`
	Return1D      *float64  `json:"return1d"`
	ReturnMTD     *float64  `json:"returnMtd"`
	ReturnYTD     *float64  `json:"returnYtd"`
	Volatility30D *float64  `json:"volatility30d"`
	MaxDrawdown   float64   `json:"maxDrawdown"`
}

// Materialize recomputes the daily metrics rows for a portfolio over
// [begin, end] and upserts them. The rows are a derivable cache; replacing
// them is always safe. At most one materialization per portfolio runs at a
// time; concurrent readers see stale but never torn rows.
func (eng *Engine) Materialize(ctx context.Context, portfolioID uuid.UUID, begin time.Time, end time.Time) error {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "analytics.Materialize")
	defer span.End()

	lock := eng.portfolioLock(portfolioID)
	lock.Lock()
	defer lock.Unlock()

	series, err := eng.ComputeSeries(ctx, portfolioID, begin, end)
	if err != nil {
		return err
	}

	rows := deriveMetrics(portfolioID, series)
	if len(rows) == 0 {
		return ErrInsufficientData
	}

	trx, err := database.Trx(ctx)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not begin transaction")
		return err
	}

	metricsSQL := `INSERT INTO portfolio_metrics_daily (
		portfolio_id,
		event_date,
		nav,
		return_1d,
		return_mtd,
		return_ytd,
		volatility_30d,
		max_drawdown
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8
	) ON CONFLICT (portfolio_id, event_date) DO UPDATE SET
		nav = EXCLUDED.nav,
		return_1d = EXCLUDED.return_1d,
		return_mtd = EXCLUDED.return_mtd,
		return_ytd = EXCLUDED.return_ytd,
		volatility_30d = EXCLUDED.volatility_30d,
		max_drawdown = EXCLUDED.max_drawdown`

	for _, row := range rows {
		if _, err := trx.Exec(ctx, metricsSQL, row.PortfolioID, row.Date, row.NAV, row.Return1D, row.ReturnMTD, row.ReturnYTD, row.Volatility30D, row.MaxDrawdown); err != nil {
			log.Error().Stack().Err(err).Time("EventDate", row.Date).Msg("could not upsert metrics row")
			if err := trx.Rollback(ctx); err != nil {
				log.Error().Stack().Err(err).Msg("could not rollback transaction")
			}
			return err
		}
	}

	if err := trx.Commit(ctx); err != nil {
		log.Error().Stack().Err(err).Msg("could not commit transaction")
		return err
	}

	log.Info().Str("PortfolioID", portfolioID.String()).Int("NumRows", len(rows)).Msg("materialized daily metrics")
	return nil
}

// deriveMetrics folds a NAV series into daily metrics rows. Gap days produce
// no row.
func deriveMetrics(portfolioID uuid.UUID, series *Series) []*MetricsRow {
	rows := make([]*MetricsRow, 0, len(series.Points))

	returns := make([]float64, 0, len(series.Points))
	retIdx := make([]int, 0, len(series.Points))
	navs := make([]float64, 0, len(series.Points))

	var monthAnchor, yearAnchor float64
	var lastNAV float64
	var lastDate time.Time

	for _, point := range series.Points {
		if point.NAV == nil {
			continue
		}
		nav := *point.NAV

		if len(navs) == 0 {
			monthAnchor = nav
			yearAnchor = nav
		} else {
			if point.Date.Month() != lastDate.Month() || point.Date.Year() != lastDate.Year() {
				monthAnchor = lastNAV
			}
			if point.Date.Year() != lastDate.Year() {
				yearAnchor = lastNAV
			}
		}

		navs = append(navs, nav)
		row := &MetricsRow{
			PortfolioID: portfolioID,
			Date:        point.Date,
			NAV:         nav,
			MaxDrawdown: MaxDrawdown(navs),
		}

		if point.Return != nil {
			ret := *point.Return
			row.Return1D = &ret
			returns = append(returns, ret)
			retIdx = append(retIdx, len(rows))
		}

		if monthAnchor != 0 {
			mtd := nav/monthAnchor - 1
			row.ReturnMTD = &mtd
		}
		if yearAnchor != 0 {
			ytd := nav/yearAnchor - 1
			row.ReturnYTD = &ytd
		}

		lastNAV = nav
		lastDate = point.Date
		rows = append(rows, row)
	}

	// volatility stays NULL until a full window of returns exists
	vols := RollingVolatility(returns, VolatilityWindow)
	for ii, rowIdx := range retIdx {
		if math.IsNaN(vols[ii]) {
			continue
		}
		vol := vols[ii]
		rows[rowIdx].Volatility30D = &vol
	}

	return rows
}

// MetricsDaily reads materialized metrics rows for a portfolio over
// [begin, end] in ascending date order
func (eng *Engine) MetricsDaily(ctx context.Context, portfolioID uuid.UUID, begin time.Time, end time.Time) ([]*MetricsRow, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "analytics.MetricsDaily")
	defer span.End()

	trx, err := database.Trx(ctx)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not begin transaction")
		return nil, err
	}

	metricsSQL := `SELECT portfolio_id, event_date, nav, return_1d, return_mtd, return_ytd, volatility_30d, max_drawdown FROM portfolio_metrics_daily WHERE portfolio_id=$1 AND event_date BETWEEN $2 AND $3 ORDER BY event_date ASC`
	dbRows, err := trx.Query(ctx, metricsSQL, portfolioID, begin, end)
	if err != nil {
		log.Error().Stack().Err(err).Str("PortfolioID", portfolioID.String()).Msg("could not query metrics")
		if err := trx.Rollback(ctx); err != nil {
			log.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return nil, err
	}

	rows := make([]*MetricsRow, 0, 252)
	for dbRows.Next() {
		row := &MetricsRow{}
		if err := dbRows.Scan(&row.PortfolioID, &row.Date, &row.NAV, &row.Return1D, &row.ReturnMTD, &row.ReturnYTD, &row.Volatility30D, &row.MaxDrawdown); err != nil {
			log.Error().Stack().Err(err).Msg("could not scan metrics row")
			if err := trx.Rollback(ctx); err != nil {
				log.Error().Stack().Err(err).Msg("could not rollback transaction")
			}
			return nil, err
		}
		rows = append(rows, row)
	}

	if err := trx.Commit(ctx); err != nil {
		log.Error().Stack().Err(err).Msg("could not commit transaction")
	}
	return rows, nil
}
