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

package cmd

import (
	"context"
	"time"

	"github.com/folio-vault/fv-api/analytics"
	"github.com/folio-vault/fv-api/common"
	"github.com/folio-vault/fv-api/database"
	"github.com/folio-vault/fv-api/ingest"
	"github.com/folio-vault/fv-api/prices"
	"github.com/folio-vault/fv-api/vstore"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(updateCmd)
}

// runDailyUpdate pulls new bars for every tracked instrument and then
// recomputes the daily metrics table for each live portfolio. The same
// routine backs both the update command and the nightly scheduler job.
func runDailyUpdate(ctx context.Context, portfolios *vstore.Store, barStore *prices.Store, ingestSvc *ingest.Service, engine *analytics.Engine) error {
	instruments, err := barStore.Instruments(ctx)
	if err != nil {
		return err
	}

	symbols := make([]string, 0, len(instruments))
	for _, instrument := range instruments {
		symbols = append(symbols, instrument.Symbol)
	}

	log.Info().Int("NumSymbols", len(symbols)).Msg("updating daily prices")
	if err := ingestSvc.UpdateDailyPrices(ctx, symbols); err != nil {
		return err
	}

	live, err := portfolios.ListPortfolios(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	for _, portfolio := range live {
		engine.InvalidateSeries(portfolio.ID)
		if err := engine.Materialize(ctx, portfolio.ID, time.Time{}, now); err != nil {
			log.Error().Err(err).Str("PortfolioID", portfolio.ID.String()).Msg("could not materialize metrics")
		}
	}

	return nil
}

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Refresh daily prices and recompute portfolio metrics",
	Run: func(cmd *cobra.Command, args []string) {
		common.SetupLogging()
		common.SetupCache()

		ctx := context.Background()
		if err := database.Connect(ctx); err != nil {
			log.Fatal().Err(err).Msg("database connection failed")
		}

		portfolios := vstore.New()
		barStore := prices.New()
		ingestSvc := ingest.NewService(ingest.NewTiingo(), barStore)
		engine := analytics.NewEngine(portfolios, barStore, ingestSvc)

		if err := runDailyUpdate(ctx, portfolios, barStore, ingestSvc, engine); err != nil {
			log.Fatal().Err(err).Msg("daily update failed")
		}
	},
}
