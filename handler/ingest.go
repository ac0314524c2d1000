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

package handler

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// ListBars handles GET /v1/instruments/:symbol/eod. Without an explicit
// range the last year of stored bars is returned.
func (s *Server) ListBars(c *fiber.Ctx) error {
	symbol := strings.ToUpper(c.Params("symbol"))

	begin, end, err := parseRange(c)
	if err != nil {
		return err
	}
	if begin.IsZero() {
		begin = end.AddDate(-1, 0, 0)
	}

	bars, err := s.Prices.Bars(c.Context(), symbol, begin, end)
	if err != nil {
		return statusFromError(err)
	}
	return c.JSON(bars)
}

type BackfillRequest struct {
	Symbols   []string `json:"symbols"`
	StartDate string   `json:"startDate"`
	EndDate   string   `json:"endDate"`
}

// Backfill handles POST /v1/backfill. Ingestion runs in the background; the
// request is acknowledged as soon as it validates.
func (s *Server) Backfill(c *fiber.Ctx) error {
	var req BackfillRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "cannot parse request body")
	}
	if len(req.Symbols) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "no symbols specified")
	}

	begin := time.Now().AddDate(-5, 0, 0)
	end := time.Now()
	var err error
	if req.StartDate != "" {
		begin, err = time.Parse("2006-01-02", req.StartDate)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "cannot parse startDate")
		}
	}
	if req.EndDate != "" {
		end, err = time.Parse("2006-01-02", req.EndDate)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "cannot parse endDate")
		}
	}
	if end.Before(begin) {
		return fiber.NewError(fiber.StatusBadRequest, "endDate precedes startDate")
	}

	symbols := req.Symbols
	go func() {
		if err := s.Ingest.BackfillSymbols(context.Background(), symbols, begin, end); err != nil {
			log.Error().Err(err).Strs("Symbols", symbols).Msg("backfill failed")
		}
	}()

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status":  "accepted",
		"symbols": symbols,
	})
}
