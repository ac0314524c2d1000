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

package marketcal_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/folio-vault/fv-api/common"
	"github.com/folio-vault/fv-api/marketcal"
)

var _ = Describe("Marketcal", func() {
	var nyc *time.Location

	BeforeEach(func() {
		nyc = common.GetTimezone()
	})

	DescribeTable("when checking holidays",
		func(year int, month time.Month, day int, expected bool) {
			d := time.Date(year, month, day, 0, 0, 0, 0, common.GetTimezone())
			Expect(marketcal.IsMarketHoliday(d)).To(Equal(expected))
		},
		Entry("New Year's Day 2026", 2026, time.January, 1, true),
		Entry("MLK Day 2026", 2026, time.January, 19, true),
		Entry("Presidents Day 2026", 2026, time.February, 16, true),
		Entry("Good Friday 2026", 2026, time.April, 3, true),
		Entry("Memorial Day 2026", 2026, time.May, 25, true),
		Entry("Juneteenth 2026", 2026, time.June, 19, true),
		Entry("Juneteenth 2021 predates exchange observance", 2021, time.June, 18, false),
		Entry("Independence Day 2026 observed Friday July 3", 2026, time.July, 3, true),
		Entry("July 4th itself falls on Saturday 2026", 2026, time.July, 4, false),
		Entry("Independence Day 2021 observed Monday July 5", 2021, time.July, 5, true),
		Entry("Labor Day 2026", 2026, time.September, 7, true),
		Entry("Thanksgiving 2026", 2026, time.November, 26, true),
		Entry("Christmas 2026", 2026, time.December, 25, true),
		Entry("Christmas 2021 observed Friday Dec 24", 2021, time.December, 24, true),
		Entry("no observance when New Year's falls on Saturday", 2021, time.December, 31, false),
		Entry("an ordinary Wednesday", 2026, time.August, 26, false),
	)

	DescribeTable("when checking market days",
		func(year int, month time.Month, day int, expected bool) {
			d := time.Date(year, month, day, 0, 0, 0, 0, common.GetTimezone())
			Expect(marketcal.IsMarketDay(d)).To(Equal(expected))
		},
		Entry("a regular Friday", 2026, time.August, 28, true),
		Entry("a Saturday", 2026, time.August, 29, false),
		Entry("a Sunday", 2026, time.August, 30, false),
		Entry("Thanksgiving", 2026, time.November, 26, false),
		Entry("day after Thanksgiving trades", 2026, time.November, 27, true),
	)

	Describe("NextMarketOpen", func() {
		It("rolls a Friday evening timestamp to Monday's open", func() {
			t := time.Date(2026, time.August, 28, 17, 0, 0, 0, nyc)
			open := marketcal.NextMarketOpen(t)
			Expect(open).To(Equal(time.Date(2026, time.August, 31, 9, 30, 0, 0, nyc)))
		})

		It("resolves a pre-bell timestamp to the same day's open", func() {
			t := time.Date(2026, time.August, 31, 8, 0, 0, 0, nyc)
			open := marketcal.NextMarketOpen(t)
			Expect(open).To(Equal(time.Date(2026, time.August, 31, 9, 30, 0, 0, nyc)))
		})

		It("skips holidays", func() {
			t := time.Date(2026, time.September, 4, 18, 0, 0, 0, nyc)
			open := marketcal.NextMarketOpen(t)
			// Labor Day is Monday Sep 7
			Expect(open).To(Equal(time.Date(2026, time.September, 8, 9, 30, 0, 0, nyc)))
		})
	})

	Describe("PrevMarketDay", func() {
		It("skips weekends and holidays", func() {
			t := time.Date(2026, time.September, 8, 0, 0, 0, 0, nyc)
			Expect(marketcal.PrevMarketDay(t)).To(Equal(time.Date(2026, time.September, 4, 0, 0, 0, 0, nyc)))
		})
	})

	Describe("TradingDays", func() {
		It("enumerates a full week", func() {
			days := marketcal.TradingDays(
				time.Date(2026, time.August, 31, 0, 0, 0, 0, nyc),
				time.Date(2026, time.September, 4, 0, 0, 0, 0, nyc))
			Expect(days).To(HaveLen(5))
			Expect(days[0].Weekday()).To(Equal(time.Monday))
			Expect(days[4].Weekday()).To(Equal(time.Friday))
		})

		It("excludes weekends and holidays inside the range", func() {
			days := marketcal.TradingDays(
				time.Date(2026, time.September, 4, 0, 0, 0, 0, nyc),
				time.Date(2026, time.September, 8, 0, 0, 0, 0, nyc))
			Expect(days).To(HaveLen(2))
			Expect(days[0].Day()).To(Equal(4))
			Expect(days[1].Day()).To(Equal(8))
		})
	})
})
