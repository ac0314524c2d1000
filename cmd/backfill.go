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

	"github.com/folio-vault/fv-api/common"
	"github.com/folio-vault/fv-api/database"
	"github.com/folio-vault/fv-api/ingest"
	"github.com/folio-vault/fv-api/prices"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var backfillStart string
var backfillEnd string

func init() {
	backfillCmd.Flags().StringVar(&backfillStart, "start", "", "First date to fetch, specified as YYYY-MM-dd (default: 5 years ago)")
	backfillCmd.Flags().StringVar(&backfillEnd, "end", "", "Last date to fetch, specified as YYYY-MM-dd (default: today)")
	rootCmd.AddCommand(backfillCmd)
}

var backfillCmd = &cobra.Command{
	Use:   "backfill symbol...",
	Short: "Download daily bar history for the given symbols",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		common.SetupLogging()
		common.SetupCache()

		begin := viper.GetTime("ingest.history_start")
		if begin.IsZero() {
			begin = time.Now().AddDate(-5, 0, 0)
		}
		end := time.Now()

		var err error
		if backfillStart != "" {
			begin, err = time.ParseInLocation("2006-01-02", backfillStart, common.GetTimezone())
			if err != nil {
				log.Fatal().Err(err).Str("InputStr", backfillStart).Msg("could not parse start date, expected format 2006-01-02")
			}
		}
		if backfillEnd != "" {
			end, err = time.ParseInLocation("2006-01-02", backfillEnd, common.GetTimezone())
			if err != nil {
				log.Fatal().Err(err).Str("InputStr", backfillEnd).Msg("could not parse end date, expected format 2006-01-02")
			}
		}
		if end.Before(begin) {
			log.Fatal().Time("Begin", begin).Time("End", end).Msg("end date precedes start date")
		}

		ctx := context.Background()
		if err := database.Connect(ctx); err != nil {
			log.Fatal().Err(err).Msg("database connection failed")
		}

		svc := ingest.NewService(ingest.NewTiingo(), prices.New())
		if err := svc.BackfillSymbols(ctx, args, begin, end); err != nil {
			log.Fatal().Err(err).Msg("backfill failed")
		}
	},
}
