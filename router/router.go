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

package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/folio-vault/fv-api/handler"
)

// SetupRoutes wires the api surface
func SetupRoutes(app *fiber.App, s *handler.Server) {
	api := app.Group("/v1")
	api.Get("/ping", s.Ping)
	api.Get("/compare", s.Compare)
	api.Post("/backfill", s.Backfill)
	api.Get("/instruments/:symbol/eod", s.ListBars)

	portfolios := api.Group("/portfolios")
	portfolios.Get("/", s.ListPortfolios)
	portfolios.Post("/", s.CreatePortfolio)
	portfolios.Get("/:id", s.GetPortfolio)
	portfolios.Delete("/:id", s.DeletePortfolio)
	portfolios.Get("/:id/versions", s.ListVersions)
	portfolios.Post("/:id/versions", s.CreateVersion)
	portfolios.Get("/:id/performance", s.Performance)
	portfolios.Get("/:id/attribution", s.Attribution)
	portfolios.Get("/:id/metrics", s.Metrics)
}
