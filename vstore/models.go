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

// Package vstore owns the append-only portfolio history. Portfolios are
// created once; every edit lands as a new version with a full position
// snapshot. Prior versions are never touched, which makes point-in-time
// reconstruction a single lookup on effective_at.
package vstore

import (
	"time"

	"github.com/google/uuid"
)

// AllocationType describes how position values are expressed and is fixed
// for the lifetime of a portfolio
type AllocationType string

const (
	AllocationWeight   AllocationType = "weight"
	AllocationQuantity AllocationType = "quantity"
)

type Portfolio struct {
	ID             uuid.UUID      `json:"id"`
	Name           string         `json:"name"`
	BaseCurrency   string         `json:"baseCurrency"`
	AllocationType AllocationType `json:"allocationType"`
	SoftDeleted    bool           `json:"-"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// Version is an immutable, dated snapshot marker. EffectiveAt is always a
// trading-day market open; versions of a portfolio are totally ordered by it.
type Version struct {
	ID          uuid.UUID `json:"id"`
	PortfolioID uuid.UUID `json:"portfolioId"`
	Seq         int       `json:"seq"`
	EffectiveAt time.Time `json:"effectiveAt"`
	Note        string    `json:"note,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Position is one holding inside a version snapshot. Value is a weight in
// [0, 1] for weight portfolios and a share quantity otherwise.
type Position struct {
	Symbol string  `json:"symbol"`
	Value  float64 `json:"value"`
}
