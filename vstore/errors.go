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

package vstore

import "errors"

var (
	ErrValidation          = errors.New("allocation data failed validation")
	ErrNotFound            = errors.New("portfolio not found")
	ErrVersionNotFound     = errors.New("portfolio version not found")
	ErrNoEffectiveVersion  = errors.New("no version is effective on the requested date")
	ErrConcurrencyConflict = errors.New("concurrent version creation conflict")
	ErrEmptyPositions      = errors.New("a version must contain at least one position")
)
