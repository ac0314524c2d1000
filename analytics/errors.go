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

import "errors"

var (
	ErrInsufficientData = errors.New("not enough data to compute over the requested range")
	ErrInvalidTimeRange = errors.New("start date occurs after end date")
	ErrNoPortfolios     = errors.New("at least one portfolio is required")
	ErrInvalidPeriod    = errors.New("unrecognized period shortcut")
)
