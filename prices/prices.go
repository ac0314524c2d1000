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

// Package prices is the local price store shared by ingestion (writes) and
// analytics (reads). Bars are keyed (symbol, event_date); writes are
// idempotent upserts so replaying an ingestion batch is always safe.
package prices

import (
	"context"
	"errors"
	"time"

	"github.com/folio-vault/fv-api/common"
	"github.com/folio-vault/fv-api/database"
	"github.com/folio-vault/fv-api/observability/opentelemetry"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var (
	ErrInvalidTimeRange = errors.New("start date occurs after end date")
	ErrNoPriceData      = errors.New("no price data for symbol")
)

type Instrument struct {
	Symbol   string    `json:"symbol"`
	Name     string    `json:"name"`
	Exchange string    `json:"exchange"`
	Created  time.Time `json:"createdAt"`
}

// Bar is one daily OHLCV row. Date carries 16:00 America/New_York, the
// regular session close the bar belongs to.
type Bar struct {
	Symbol   string    `json:"symbol"`
	Date     time.Time `json:"date"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	AdjClose float64   `json:"adjClose"`
	Volume   int64     `json:"volume"`
}

// DayKey collapses a timestamp to a stable per-day map key (midnight NYC)
func DayKey(t time.Time) int64 {
	nyc := common.GetTimezone()
	t = t.In(nyc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, nyc).Unix()
}

type Store struct{}

func New() *Store {
	return &Store{}
}

// EnsureInstrument creates a reference-data row for the symbol if one does
// not exist yet. Existing rows are left untouched.
func (store *Store) EnsureInstrument(ctx context.Context, symbol string, name string, exchange string) error {
	trx, err := database.Trx(ctx)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not begin transaction")
		return err
	}

	instrumentSQL := `INSERT INTO instruments (symbol, name, exchange, created_at) VALUES ($1, $2, $3, $4) ON CONFLICT (symbol) DO NOTHING`
	if _, err := trx.Exec(ctx, instrumentSQL, symbol, name, exchange, time.Now()); err != nil {
		log.Error().Stack().Err(err).Str("Symbol", symbol).Msg("could not ensure instrument")
		rollback(ctx, trx)
		return err
	}

	return trx.Commit(ctx)
}

// Instruments lists every known instrument ordered by symbol
func (store *Store) Instruments(ctx context.Context) ([]*Instrument, error) {
	trx, err := database.Trx(ctx)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not begin transaction")
		return nil, err
	}

	rows, err := trx.Query(ctx, `SELECT symbol, name, exchange, created_at FROM instruments ORDER BY symbol ASC`)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not query instruments")
		rollback(ctx, trx)
		return nil, err
	}

	instruments := make([]*Instrument, 0, 16)
	for rows.Next() {
		instrument := &Instrument{}
		if err := rows.Scan(&instrument.Symbol, &instrument.Name, &instrument.Exchange, &instrument.Created); err != nil {
			log.Error().Stack().Err(err).Msg("could not scan instrument row")
			rollback(ctx, trx)
			return nil, err
		}
		instruments = append(instruments, instrument)
	}

	if err := trx.Commit(ctx); err != nil {
		log.Error().Stack().Err(err).Msg("could not commit transaction")
	}
	return instruments, nil
}

// UpsertBars writes bars keyed (symbol, event_date). Existing rows have
// their OHLCV fields overwritten so corrected provider data replaces stale
// values; replaying identical data is a no-op.
func (store *Store) UpsertBars(ctx context.Context, bars []*Bar) error {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "prices.UpsertBars")
	defer span.End()

	if len(bars) == 0 {
		return nil
	}

	trx, err := database.Trx(ctx)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not begin transaction")
		return err
	}

	upsertSQL := `INSERT INTO eod (
		symbol,
		event_date,
		open,
		high,
		low,
		close,
		adj_close,
		volume
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8
	) ON CONFLICT (symbol, event_date) DO UPDATE SET
		open = EXCLUDED.open,
		high = EXCLUDED.high,
		low = EXCLUDED.low,
		close = EXCLUDED.close,
		adj_close = EXCLUDED.adj_close,
		volume = EXCLUDED.volume`

	for _, bar := range bars {
		if _, err := trx.Exec(ctx, upsertSQL, bar.Symbol, bar.Date, bar.Open, bar.High, bar.Low, bar.Close, bar.AdjClose, bar.Volume); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "bar upsert failed")
			log.Error().Stack().Err(err).Str("Symbol", bar.Symbol).Time("EventDate", bar.Date).Msg("could not upsert bar")
			rollback(ctx, trx)
			return err
		}
	}

	if err := trx.Commit(ctx); err != nil {
		log.Error().Stack().Err(err).Msg("could not commit transaction")
		return err
	}
	return nil
}

// Bars loads the stored bars for a symbol over [begin, end] in ascending
// date order
func (store *Store) Bars(ctx context.Context, symbol string, begin time.Time, end time.Time) ([]*Bar, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "prices.Bars")
	defer span.End()

	if end.Before(begin) {
		return nil, ErrInvalidTimeRange
	}

	tz := common.GetTimezone()

	trx, err := database.Trx(ctx)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not begin transaction")
		return nil, err
	}

	barSQL := `SELECT symbol, event_date, open, high, low, close, adj_close, volume FROM eod WHERE symbol=$1 AND event_date BETWEEN $2 AND $3 ORDER BY event_date ASC`
	rows, err := trx.Query(ctx, barSQL, symbol, begin, end)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "bar query failed")
		log.Error().Stack().Err(err).Str("Symbol", symbol).Msg("could not query bars")
		rollback(ctx, trx)
		return nil, err
	}

	bars := make([]*Bar, 0, 252)
	for rows.Next() {
		bar := &Bar{}
		if err := rows.Scan(&bar.Symbol, &bar.Date, &bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.AdjClose, &bar.Volume); err != nil {
			log.Error().Stack().Err(err).Msg("could not scan bar row")
			rollback(ctx, trx)
			return nil, err
		}
		bar.Date = time.Date(bar.Date.Year(), bar.Date.Month(), bar.Date.Day(), 16, 0, 0, 0, tz)
		bars = append(bars, bar)
	}

	if err := trx.Commit(ctx); err != nil {
		log.Error().Stack().Err(err).Msg("could not commit transaction")
	}
	return bars, nil
}

// Closes loads closing prices for a set of symbols over [begin, end],
// keyed day (see DayKey) then symbol. Days where a symbol has no bar are
// simply absent from the inner map.
func (store *Store) Closes(ctx context.Context, symbols []string, begin time.Time, end time.Time) (map[int64]map[string]float64, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "prices.Closes")
	defer span.End()

	if end.Before(begin) {
		return nil, ErrInvalidTimeRange
	}

	trx, err := database.Trx(ctx)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not begin transaction")
		return nil, err
	}

	closeSQL := `SELECT symbol, event_date, close FROM eod WHERE symbol = ANY ($1) AND event_date BETWEEN $2 AND $3 ORDER BY event_date ASC, symbol ASC`
	rows, err := trx.Query(ctx, closeSQL, symbols, begin, end)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "close query failed")
		log.Error().Stack().Err(err).Strs("Symbols", symbols).Msg("could not query closing prices")
		rollback(ctx, trx)
		return nil, err
	}

	closes := make(map[int64]map[string]float64)
	for rows.Next() {
		var symbol string
		var eventDate time.Time
		var closePrice float64
		if err := rows.Scan(&symbol, &eventDate, &closePrice); err != nil {
			log.Error().Stack().Err(err).Msg("could not scan close row")
			rollback(ctx, trx)
			return nil, err
		}

		day := DayKey(eventDate)
		if _, ok := closes[day]; !ok {
			closes[day] = make(map[string]float64, len(symbols))
		}
		closes[day][symbol] = closePrice
	}

	if err := trx.Commit(ctx); err != nil {
		log.Error().Stack().Err(err).Msg("could not commit transaction")
	}
	return closes, nil
}

// EarliestBar returns the date of the oldest stored bar for a symbol;
// ErrNoPriceData if the symbol has never been ingested
func (store *Store) EarliestBar(ctx context.Context, symbol string) (time.Time, error) {
	return store.boundaryBar(ctx, symbol, `SELECT event_date FROM eod WHERE symbol=$1 ORDER BY event_date ASC LIMIT 1`)
}

// LatestBar returns the date of the newest stored bar for a symbol;
// ErrNoPriceData if the symbol has never been ingested
func (store *Store) LatestBar(ctx context.Context, symbol string) (time.Time, error) {
	return store.boundaryBar(ctx, symbol, `SELECT event_date FROM eod WHERE symbol=$1 ORDER BY event_date DESC LIMIT 1`)
}

func (store *Store) boundaryBar(ctx context.Context, symbol string, query string) (time.Time, error) {
	tz := common.GetTimezone()

	trx, err := database.Trx(ctx)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not begin transaction")
		return time.Time{}, err
	}

	var eventDate time.Time
	if err := trx.QueryRow(ctx, query, symbol).Scan(&eventDate); err != nil {
		rollback(ctx, trx)
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, ErrNoPriceData
		}
		log.Error().Stack().Err(err).Str("Symbol", symbol).Msg("could not query bar boundary")
		return time.Time{}, err
	}

	if err := trx.Commit(ctx); err != nil {
		log.Error().Stack().Err(err).Msg("could not commit transaction")
	}
	return time.Date(eventDate.Year(), eventDate.Month(), eventDate.Day(), 16, 0, 0, 0, tz), nil
}

func rollback(ctx context.Context, trx pgx.Tx) {
	if err := trx.Rollback(ctx); err != nil {
		log.Error().Stack().Err(err).Msg("could not rollback transaction")
	}
}
