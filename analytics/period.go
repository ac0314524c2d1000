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
	"time"

	"github.com/folio-vault/fv-api/common"
)

// ResolvePeriod translates a period shortcut into an explicit [begin, end]
// window ending now. "All" returns a zero begin, which ComputeSeries treats
// as portfolio inception.
func ResolvePeriod(period string, now time.Time) (time.Time, time.Time, error) {
	nyc := common.GetTimezone()
	now = now.In(nyc)

	switch period {
	case "1M":
		return now.AddDate(0, -1, 0), now, nil
	case "3M":
		return now.AddDate(0, -3, 0), now, nil
	case "YTD":
		return time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, nyc), now, nil
	case "1Y":
		return now.AddDate(-1, 0, 0), now, nil
	case "All", "":
		return time.Time{}, now, nil
	}
	return time.Time{}, time.Time{}, ErrInvalidPeriod
}
