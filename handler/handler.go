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

// Package handler exposes the version store and analytics engine over HTTP
package handler

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/folio-vault/fv-api/analytics"
	"github.com/folio-vault/fv-api/common"
	"github.com/folio-vault/fv-api/ingest"
	"github.com/folio-vault/fv-api/prices"
	"github.com/folio-vault/fv-api/vstore"
)

type Server struct {
	Store  *vstore.Store
	Prices *prices.Store
	Engine *analytics.Engine
	Ingest *ingest.Service
}

func New(store *vstore.Store, priceStore *prices.Store, engine *analytics.Engine, ingestSvc *ingest.Service) *Server {
	return &Server{
		Store:  store,
		Prices: priceStore,
		Engine: engine,
		Ingest: ingestSvc,
	}
}

type PingResponse struct {
	Status  string `json:"status" example:"success"`
	Message string `json:"message" example:"API is alive"`
	Time    string `json:"time" example:"2026-08-30T08:09:10.115924-04:00"`
}

func (s *Server) Ping(c *fiber.Ctx) error {
	now, _ := time.Now().MarshalText()
	return c.JSON(PingResponse{
		Status:  "success",
		Message: "API is alive",
		Time:    string(now),
	})
}

// statusFromError maps the domain error taxonomy onto HTTP statuses
func statusFromError(err error) *fiber.Error {
	switch {
	case errors.Is(err, vstore.ErrValidation),
		errors.Is(err, vstore.ErrEmptyPositions),
		errors.Is(err, analytics.ErrInvalidPeriod),
		errors.Is(err, analytics.ErrInvalidTimeRange),
		errors.Is(err, prices.ErrInvalidTimeRange),
		errors.Is(err, analytics.ErrNoPortfolios):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, vstore.ErrNotFound),
		errors.Is(err, vstore.ErrVersionNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, vstore.ErrConcurrencyConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, vstore.ErrNoEffectiveVersion),
		errors.Is(err, analytics.ErrInsufficientData):
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ingest.ErrUpstreamData):
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	}
	return fiber.ErrInternalServerError
}

func parsePortfolioID(c *fiber.Ctx) (uuid.UUID, error) {
	portfolioID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, fiber.NewError(fiber.StatusBadRequest, "invalid portfolio id")
	}
	return portfolioID, nil
}

// parseRange resolves the requested window from either a period shortcut
// (1M, 3M, YTD, 1Y, All) or explicit startDate/endDate query params. With
// neither, the window is portfolio inception through now.
func parseRange(c *fiber.Ctx) (time.Time, time.Time, error) {
	if period := c.Query("period"); period != "" {
		begin, end, err := analytics.ResolvePeriod(period, time.Now())
		if err != nil {
			return time.Time{}, time.Time{}, statusFromError(err)
		}
		return begin, end, nil
	}

	var begin, end time.Time
	var err error

	// dates name NYC trading days; parsing them as UTC would shift the
	// window back into the prior session
	if startDateStr := c.Query("startDate"); startDateStr != "" {
		begin, err = time.ParseInLocation("2006-01-02", startDateStr, common.GetTimezone())
		if err != nil {
			return time.Time{}, time.Time{}, fiber.NewError(fiber.StatusBadRequest, "cannot parse startDate")
		}
	}

	end = time.Now()
	if endDateStr := c.Query("endDate"); endDateStr != "" {
		end, err = time.ParseInLocation("2006-01-02", endDateStr, common.GetTimezone())
		if err != nil {
			return time.Time{}, time.Time{}, fiber.NewError(fiber.StatusBadRequest, "cannot parse endDate")
		}
	}

	return begin, end, nil
}
