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
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/folio-vault/fv-api/vstore"
)

type createPortfolioRequest struct {
	Name           string                `json:"name"`
	BaseCurrency   string                `json:"baseCurrency"`
	AllocationType vstore.AllocationType `json:"allocationType"`
	Positions      []*vstore.Position    `json:"positions"`
	Note           string                `json:"note"`
	AsOf           *time.Time            `json:"asOf"`
}

type createVersionRequest struct {
	Positions []*vstore.Position `json:"positions"`
	Note      string             `json:"note"`
	AsOf      *time.Time         `json:"asOf"`
}

type portfolioResponse struct {
	Portfolio *vstore.Portfolio `json:"portfolio"`
	Version   *vstore.Version   `json:"version"`
	Warnings  []string          `json:"warnings,omitempty"`
}

// CreatePortfolio handles POST /v1/portfolios
func (s *Server) CreatePortfolio(c *fiber.Ctx) error {
	params := createPortfolioRequest{}
	if err := json.Unmarshal(c.Body(), &params); err != nil {
		log.Warn().Err(err).Msg("bad create portfolio request")
		return fiber.ErrBadRequest
	}

	asOf := time.Now()
	if params.AsOf != nil {
		asOf = *params.AsOf
	}

	portfolio, version, warnings, err := s.Store.CreatePortfolio(c.Context(), params.Name, params.BaseCurrency, params.AllocationType, params.Positions, params.Note, asOf)
	if err != nil {
		return statusFromError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(portfolioResponse{
		Portfolio: portfolio,
		Version:   version,
		Warnings:  warnings,
	})
}

// ListPortfolios handles GET /v1/portfolios
func (s *Server) ListPortfolios(c *fiber.Ctx) error {
	portfolios, err := s.Store.ListPortfolios(c.Context())
	if err != nil {
		return statusFromError(err)
	}
	return c.JSON(portfolios)
}

// GetPortfolio handles GET /v1/portfolios/:id
func (s *Server) GetPortfolio(c *fiber.Ctx) error {
	portfolioID, err := parsePortfolioID(c)
	if err != nil {
		return err
	}

	portfolio, err := s.Store.GetPortfolio(c.Context(), portfolioID)
	if err != nil {
		return statusFromError(err)
	}
	return c.JSON(portfolio)
}

// DeletePortfolio handles DELETE /v1/portfolios/:id; the portfolio is
// soft-deleted, its history stays intact
func (s *Server) DeletePortfolio(c *fiber.Ctx) error {
	portfolioID, err := parsePortfolioID(c)
	if err != nil {
		return err
	}

	if err := s.Store.SoftDelete(c.Context(), portfolioID); err != nil {
		return statusFromError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ListVersions handles GET /v1/portfolios/:id/versions
func (s *Server) ListVersions(c *fiber.Ctx) error {
	portfolioID, err := parsePortfolioID(c)
	if err != nil {
		return err
	}

	// 404 for unknown portfolios rather than an empty list
	if _, err := s.Store.GetPortfolio(c.Context(), portfolioID); err != nil {
		return statusFromError(err)
	}

	versions, err := s.Store.Versions(c.Context(), portfolioID)
	if err != nil {
		return statusFromError(err)
	}
	return c.JSON(versions)
}

// CreateVersion handles POST /v1/portfolios/:id/versions
func (s *Server) CreateVersion(c *fiber.Ctx) error {
	portfolioID, err := parsePortfolioID(c)
	if err != nil {
		return err
	}

	params := createVersionRequest{}
	if err := json.Unmarshal(c.Body(), &params); err != nil {
		log.Warn().Err(err).Msg("bad create version request")
		return fiber.ErrBadRequest
	}

	asOf := time.Now()
	if params.AsOf != nil {
		asOf = *params.AsOf
	}

	version, warnings, err := s.Store.CreateVersion(c.Context(), portfolioID, params.Positions, params.Note, asOf)
	if err != nil {
		return statusFromError(err)
	}

	// previously computed series are stale now
	s.Engine.InvalidateSeries(portfolioID)

	return c.Status(fiber.StatusCreated).JSON(portfolioResponse{
		Version:  version,
		Warnings: warnings,
	})
}
