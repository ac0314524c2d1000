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

// Package marketcal answers trading-day questions for the NYSE. Holidays are
// computed by rule rather than loaded from a table so calendar queries never
// depend on ingested data.
package marketcal

import (
	"sync"
	"time"

	"github.com/folio-vault/fv-api/common"
)

const (
	// MarketOpenHour is the regular session open, 9:30 America/New_York
	MarketOpenHour   = 9
	MarketOpenMinute = 30

	// MarketCloseHour is the regular session close, 16:00 America/New_York
	MarketCloseHour = 16
)

var (
	holidayCache  = map[int]map[int64]bool{}
	holidayLocker sync.RWMutex
)

// midnight normalizes a time to 00:00 NYC on the same calendar date
func midnight(t time.Time) time.Time {
	nyc := common.GetTimezone()
	t = t.In(nyc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, nyc)
}

// DayStart returns 00:00 NYC on the given calendar date; intraday timestamps
// such as a version's effective market open collapse to their trading date
func DayStart(t time.Time) time.Time {
	return midnight(t)
}

// observed shifts a fixed-date holiday to the nearest weekday; Saturday
// holidays are observed Friday, Sunday holidays Monday
func observed(t time.Time) time.Time {
	switch t.Weekday() {
	case time.Saturday:
		return t.AddDate(0, 0, -1)
	case time.Sunday:
		return t.AddDate(0, 0, 1)
	}
	return t
}

// nthWeekday returns the n-th occurrence of weekday w in the given month,
// e.g. nthWeekday(2026, time.January, time.Monday, 3) is MLK day
func nthWeekday(year int, month time.Month, w time.Weekday, n int, loc *time.Location) time.Time {
	t := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	offset := (int(w) - int(t.Weekday()) + 7) % 7
	return t.AddDate(0, 0, offset+(n-1)*7)
}

// lastWeekday returns the final occurrence of weekday w in the given month
func lastWeekday(year int, month time.Month, w time.Weekday, loc *time.Location) time.Time {
	t := time.Date(year, month+1, 1, 0, 0, 0, 0, loc).AddDate(0, 0, -1)
	offset := (int(t.Weekday()) - int(w) + 7) % 7
	return t.AddDate(0, 0, -offset)
}

// easter computes the Gregorian date of Easter Sunday using the
// Meeus/Jones/Butcher algorithm
func easter(year int, loc *time.Location) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
}

// holidaysForYear computes the NYSE full-day holidays for a year
func holidaysForYear(year int) map[int64]bool {
	nyc := common.GetTimezone()
	days := []time.Time{
		observed(time.Date(year, time.January, 1, 0, 0, 0, 0, nyc)),
		nthWeekday(year, time.January, time.Monday, 3, nyc),
		nthWeekday(year, time.February, time.Monday, 3, nyc),
		easter(year, nyc).AddDate(0, 0, -2),
		lastWeekday(year, time.May, time.Monday, nyc),
		observed(time.Date(year, time.July, 4, 0, 0, 0, 0, nyc)),
		nthWeekday(year, time.September, time.Monday, 1, nyc),
		nthWeekday(year, time.November, time.Thursday, 4, nyc),
		observed(time.Date(year, time.December, 25, 0, 0, 0, 0, nyc)),
	}

	// Juneteenth became an exchange holiday in 2022
	if year >= 2022 {
		days = append(days, observed(time.Date(year, time.June, 19, 0, 0, 0, 0, nyc)))
	}

	set := make(map[int64]bool, len(days))
	for _, d := range days {
		// New Year's observed on a Saturday falls into the prior year; the
		// exchange does not close in that case
		if d.Year() != year {
			continue
		}
		set[d.Unix()] = true
	}
	return set
}

// IsMarketHoliday returns true if the specified date is a market holiday
func IsMarketHoliday(t time.Time) bool {
	d := midnight(t)

	holidayLocker.RLock()
	set, ok := holidayCache[d.Year()]
	holidayLocker.RUnlock()

	if !ok {
		set = holidaysForYear(d.Year())
		holidayLocker.Lock()
		holidayCache[d.Year()] = set
		holidayLocker.Unlock()
	}

	return set[d.Unix()]
}

// IsMarketDay returns true if the specified date is a valid trading day
// (i.e. not a market holiday or weekend)
func IsMarketDay(t time.Time) bool {
	d := midnight(t)
	if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		return false
	}
	return !IsMarketHoliday(d)
}

// MarketOpen returns 9:30 NYC on the given calendar date
func MarketOpen(t time.Time) time.Time {
	d := midnight(t)
	return time.Date(d.Year(), d.Month(), d.Day(), MarketOpenHour, MarketOpenMinute, 0, 0, d.Location())
}

// MarketClose returns 16:00 NYC on the given calendar date
func MarketClose(t time.Time) time.Time {
	d := midnight(t)
	return time.Date(d.Year(), d.Month(), d.Day(), MarketCloseHour, 0, 0, 0, d.Location())
}

// NextMarketOpen returns the first market open strictly after t. A timestamp
// before the open bell on a trading day resolves to that day's open.
func NextMarketOpen(t time.Time) time.Time {
	nyc := common.GetTimezone()
	t = t.In(nyc)

	if IsMarketDay(t) && t.Before(MarketOpen(t)) {
		return MarketOpen(t)
	}

	d := midnight(t).AddDate(0, 0, 1)
	for !IsMarketDay(d) {
		d = d.AddDate(0, 0, 1)
	}
	return MarketOpen(d)
}

// PrevMarketDay returns the last trading day strictly before t
func PrevMarketDay(t time.Time) time.Time {
	d := midnight(t).AddDate(0, 0, -1)
	for !IsMarketDay(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// TradingDays returns every trading day in [begin, end], inclusive, normalized
// to midnight NYC and in ascending order
func TradingDays(begin, end time.Time) []time.Time {
	days := make([]time.Time, 0, 32)
	for d := midnight(begin); !d.After(midnight(end)); d = d.AddDate(0, 0, 1) {
		if IsMarketDay(d) {
			days = append(days, d)
		}
	}
	return days
}
