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
	"math"

	"gonum.org/v1/gonum/stat"
)

const (
	// trading days per year, used to annualize daily volatility
	annualizationFactor = 252

	// VolatilityWindow is the trailing number of daily returns the rolling
	// volatility is computed over
	VolatilityWindow = 30
)

// AnnualizedVolatility returns the sample standard deviation of the given
// daily returns scaled by sqrt(252). NaN when fewer than two returns are
// provided.
func AnnualizedVolatility(returns []float64) float64 {
	if len(returns) < 2 {
		return math.NaN()
	}
	return stat.StdDev(returns, nil) * math.Sqrt(annualizationFactor)
}

// RollingVolatility computes AnnualizedVolatility over a trailing window for
// each day. Position ii covers returns (ii-window, ii]; days without a full
// window yield NaN.
func RollingVolatility(returns []float64, window int) []float64 {
	out := make([]float64, len(returns))
	for ii := range returns {
		if ii+1 < window {
			out[ii] = math.NaN()
			continue
		}
		out[ii] = AnnualizedVolatility(returns[ii+1-window : ii+1])
	}
	return out
}

// MaxDrawdown returns the most negative peak-to-trough fractional decline of
// the NAV series, e.g. [100, 110, 90, 95] yields (90-110)/110. Zero for a
// series that never declines; NaN for an empty series.
func MaxDrawdown(nav []float64) float64 {
	if len(nav) == 0 {
		return math.NaN()
	}

	peak := nav[0]
	maxDD := 0.0
	for _, val := range nav {
		if val > peak {
			peak = val
		}
		dd := (val - peak) / peak
		if dd < maxDD {
			maxDD = dd
		}
	}
	return maxDD
}
