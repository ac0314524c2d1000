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
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Performance handles GET /v1/portfolios/:id/performance
func (s *Server) Performance(c *fiber.Ctx) error {
	portfolioID, err := parsePortfolioID(c)
	if err != nil {
		return err
	}

	begin, end, err := parseRange(c)
	if err != nil {
		return err
	}

	series, err := s.Engine.ComputeSeries(c.Context(), portfolioID, begin, end)
	if err != nil {
		return statusFromError(err)
	}
	return c.JSON(series)
}

// Attribution handles GET /v1/portfolios/:id/attribution
func (s *Server) Attribution(c *fiber.Ctx) error {
	portfolioID, err := parsePortfolioID(c)
	if err != nil {
		return err
	}

	begin, end, err := parseRange(c)
	if err != nil {
		return err
	}

	attribution, err := s.Engine.Attribution(c.Context(), portfolioID, begin, end)
	if err != nil {
		return statusFromError(err)
	}
	return c.JSON(attribution)
}

// Compare handles GET /v1/compare?ids=a,b&benchmark=SPY
func (s *Server) Compare(c *fiber.Ctx) error {
	idsParam := c.Query("ids")
	benchmark := c.Query("benchmark")

	portfolioIDs := make([]uuid.UUID, 0, 4)
	if idsParam != "" {
		for _, idStr := range strings.Split(idsParam, ",") {
			portfolioID, err := uuid.Parse(strings.TrimSpace(idStr))
			if err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "invalid portfolio id: "+idStr)
			}
			portfolioIDs = append(portfolioIDs, portfolioID)
		}
	}

	begin, end, err := parseRange(c)
	if err != nil {
		return err
	}

	comparison, err := s.Engine.Compare(c.Context(), portfolioIDs, benchmark, begin, end)
	if err != nil {
		return statusFromError(err)
	}
	return c.JSON(comparison)
}

// Metrics handles GET /v1/portfolios/:id/metrics, serving the materialized
// daily rows
func (s *Server) Metrics(c *fiber.Ctx) error {
	portfolioID, err := parsePortfolioID(c)
	if err != nil {
		return err
	}

	begin, end, err := parseRange(c)
	if err != nil {
		return err
	}

	rows, err := s.Engine.MetricsDaily(c.Context(), portfolioID, begin, end)
	if err != nil {
		return statusFromError(err)
	}
	return c.JSON(rows)
}
