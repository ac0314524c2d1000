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

package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/folio-vault/fv-api/observability/opentelemetry"
	"github.com/folio-vault/fv-api/prices"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
)

// BarStore is the slice of the price store the service writes through;
// prices.Store satisfies it
type BarStore interface {
	EnsureInstrument(ctx context.Context, symbol string, name string, exchange string) error
	UpsertBars(ctx context.Context, bars []*prices.Bar) error
	LatestBar(ctx context.Context, symbol string) (time.Time, error)
}

// pacer enforces fixed minimum spacing between successive provider calls.
// Slots are reserved under the lock so concurrent workers queue up rather
// than burst.
type pacer struct {
	mu      sync.Mutex
	next    time.Time
	spacing time.Duration
}

func (p *pacer) wait(ctx context.Context) error {
	p.mu.Lock()
	now := time.Now()
	if p.next.Before(now) {
		p.next = now
	}
	delay := p.next.Sub(now)
	p.next = p.next.Add(p.spacing)
	p.mu.Unlock()

	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type Service struct {
	provider Provider
	store    BarStore
	pace     *pacer

	maxRetries   uint64
	workers      int
	historyStart time.Time
}

func NewService(provider Provider, store BarStore) *Service {
	spacing := viper.GetDuration("ingest.spacing")
	if spacing == 0 {
		spacing = time.Second
	}
	maxRetries := viper.GetUint64("ingest.max_retries")
	if maxRetries == 0 {
		maxRetries = 3
	}
	workers := viper.GetInt("ingest.workers")
	if workers == 0 {
		workers = 4
	}
	historyStart := viper.GetTime("ingest.history_start")
	if historyStart.IsZero() {
		historyStart = time.Now().AddDate(-5, 0, 0)
	}

	return &Service{
		provider:     provider,
		store:        store,
		pace:         &pacer{spacing: spacing},
		maxRetries:   maxRetries,
		workers:      workers,
		historyStart: historyStart,
	}
}

// withRetry runs op under exponential backoff. ErrSymbolNotFound is
// permanent; rate-limit and transient failures are retried until the attempt
// budget runs out, at which point the error is wrapped as ErrUpstreamData.
func (svc *Service) withRetry(ctx context.Context, op func() error) error {
	wrapped := func() error {
		err := op()
		if errors.Is(err, ErrSymbolNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), svc.maxRetries), ctx)
	err := backoff.Retry(wrapped, policy)
	if err == nil || errors.Is(err, ErrSymbolNotFound) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %s", ErrUpstreamData, err.Error())
}

// BackfillSymbol ingests the symbol's daily bar history over [begin, end].
// The instrument row is created first (a minimal stub when reference data is
// unavailable), then every fetched bar is upserted keyed (symbol, date).
// Re-running with the same inputs yields identical stored state.
func (svc *Service) BackfillSymbol(ctx context.Context, symbol string, begin time.Time, end time.Time) error {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "ingest.BackfillSymbol")
	defer span.End()

	subLog := log.With().Str("Symbol", symbol).Time("Begin", begin).Time("End", end).Logger()

	var meta *Meta
	err := svc.withRetry(ctx, func() error {
		if err := svc.pace.wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		var fetchErr error
		meta, fetchErr = svc.provider.FetchMeta(ctx, symbol)
		return fetchErr
	})
	switch {
	case errors.Is(err, ErrSymbolNotFound):
		return err
	case err != nil:
		// reference data is a nicety; fall back to a stub instrument
		subLog.Warn().Err(err).Msg("could not fetch instrument reference data, creating stub")
		meta = &Meta{Symbol: symbol}
	}

	if err := svc.store.EnsureInstrument(ctx, symbol, meta.Name, meta.Exchange); err != nil {
		return err
	}

	var bars []*prices.Bar
	err = svc.withRetry(ctx, func() error {
		if err := svc.pace.wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		var fetchErr error
		bars, fetchErr = svc.provider.FetchDailyBars(ctx, symbol, begin, end)
		return fetchErr
	})
	if err != nil {
		return err
	}

	subLog.Info().Int("NumBars", len(bars)).Msg("upserting bars")
	return svc.store.UpsertBars(ctx, bars)
}

// BackfillSymbols runs BackfillSymbol for each distinct symbol through a
// worker pool. Individual symbol failures are logged and skipped; previously
// succeeded symbols are never rolled back. Cancellation takes effect between
// symbols, leaving already-upserted bars valid.
func (svc *Service) BackfillSymbols(ctx context.Context, symbols []string, begin time.Time, end time.Time) error {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "ingest.BackfillSymbols")
	defer span.End()

	work := make(chan string)
	var wg sync.WaitGroup

	for ii := 0; ii < svc.workers; ii++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for symbol := range work {
				if ctx.Err() != nil {
					continue
				}
				if err := svc.BackfillSymbol(ctx, symbol, begin, end); err != nil {
					if errors.Is(err, ErrSymbolNotFound) {
						log.Warn().Str("Symbol", symbol).Msg("symbol unknown to provider, skipping")
						continue
					}
					log.Error().Err(err).Str("Symbol", symbol).Msg("backfill failed for symbol")
				}
			}
		}()
	}

	seen := make(map[string]bool, len(symbols))
	for _, symbol := range symbols {
		if seen[symbol] {
			continue
		}
		seen[symbol] = true
		work <- symbol
	}
	close(work)
	wg.Wait()

	return ctx.Err()
}

// UpdateDailyPrices refreshes each symbol from its most recent stored bar
// forward; symbols with no history at all get a full backfill. Used by the
// nightly job.
func (svc *Service) UpdateDailyPrices(ctx context.Context, symbols []string) error {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "ingest.UpdateDailyPrices")
	defer span.End()

	now := time.Now()

	work := make(chan string)
	var wg sync.WaitGroup

	for ii := 0; ii < svc.workers; ii++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for symbol := range work {
				if ctx.Err() != nil {
					continue
				}

				begin := svc.historyStart
				latest, err := svc.store.LatestBar(ctx, symbol)
				switch {
				case err == nil:
					begin = latest.AddDate(0, 0, 1)
				case !errors.Is(err, prices.ErrNoPriceData):
					log.Error().Err(err).Str("Symbol", symbol).Msg("could not determine last stored bar")
					continue
				}

				if begin.After(now) {
					continue
				}

				if err := svc.BackfillSymbol(ctx, symbol, begin, now); err != nil {
					if errors.Is(err, ErrSymbolNotFound) {
						log.Warn().Str("Symbol", symbol).Msg("symbol unknown to provider, skipping")
						continue
					}
					log.Error().Err(err).Str("Symbol", symbol).Msg("daily price update failed for symbol")
				}
			}
		}()
	}

	seen := make(map[string]bool, len(symbols))
	for _, symbol := range symbols {
		if seen[symbol] {
			continue
		}
		seen[symbol] = true
		work <- symbol
	}
	close(work)
	wg.Wait()

	return ctx.Err()
}
