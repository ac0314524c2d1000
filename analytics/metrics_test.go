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
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/folio-vault/fv-api/analytics"
)

var _ = Describe("Metrics", func() {
	Describe("MaxDrawdown", func() {
		It("finds the deepest peak-to-trough decline", func() {
			dd := analytics.MaxDrawdown([]float64{100, 110, 90, 95})
			Expect(dd).To(BeNumerically("~", (90.0-110.0)/110.0, 1e-12))
		})

		It("is zero for a monotonically rising series", func() {
			Expect(analytics.MaxDrawdown([]float64{100, 101, 105})).To(Equal(0.0))
		})

		It("measures against the running peak, not the global one", func() {
			// trough after a later, higher peak
			dd := analytics.MaxDrawdown([]float64{100, 90, 120, 96})
			Expect(dd).To(BeNumerically("~", (96.0-120.0)/120.0, 1e-12))
		})

		It("is NaN for an empty series", func() {
			Expect(math.IsNaN(analytics.MaxDrawdown(nil))).To(BeTrue())
		})
	})

	Describe("AnnualizedVolatility", func() {
		It("is zero for constant returns", func() {
			returns := make([]float64, 30)
			for ii := range returns {
				returns[ii] = .01
			}
			Expect(analytics.AnnualizedVolatility(returns)).To(BeNumerically("~", 0, 1e-12))
		})

		It("scales the sample stddev by sqrt(252)", func() {
			returns := []float64{.01, -.01, .01, -.01}
			// sample stddev of alternating +-1% around mean 0
			expected := math.Sqrt(4.0/3.0*.0001) * math.Sqrt(252)
			Expect(analytics.AnnualizedVolatility(returns)).To(BeNumerically("~", expected, 1e-12))
		})

		It("is NaN with fewer than two returns", func() {
			Expect(math.IsNaN(analytics.AnnualizedVolatility([]float64{.01}))).To(BeTrue())
		})
	})

	Describe("RollingVolatility", func() {
		It("yields NaN until the window fills", func() {
			returns := make([]float64, 40)
			for ii := range returns {
				returns[ii] = .005
			}
			rolling := analytics.RollingVolatility(returns, 30)
			Expect(rolling).To(HaveLen(40))
			Expect(math.IsNaN(rolling[28])).To(BeTrue())
			Expect(math.IsNaN(rolling[29])).To(BeFalse())
			Expect(rolling[39]).To(BeNumerically("~", 0, 1e-12))
		})
	})
})
