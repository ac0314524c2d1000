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

// Package ingest fetches daily OHLCV bars from an external market-data
// provider and persists them idempotently into the local price store, under
// rate limits and retry discipline.
package ingest

import (
	"context"
	"time"

	"github.com/folio-vault/fv-api/prices"
)

// Meta is the reference data a provider knows about a symbol
type Meta struct {
	Symbol   string `json:"ticker"`
	Name     string `json:"name"`
	Exchange string `json:"exchangeCode"`
}

// Provider is the external market-data source. Implementations classify
// failures as ErrRateLimited, ErrSymbolNotFound or ErrTransient so the
// service can decide between retry and skip.
type Provider interface {
	// FetchDailyBars returns the provider's daily bars for symbol over
	// [begin, end] in ascending date order
	FetchDailyBars(ctx context.Context, symbol string, begin time.Time, end time.Time) ([]*prices.Bar, error)

	// FetchMeta returns reference data for symbol
	FetchMeta(ctx context.Context, symbol string) (*Meta, error)
}
