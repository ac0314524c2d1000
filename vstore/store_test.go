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

package vstore_test

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pashagolub/pgxmock"

	"github.com/folio-vault/fv-api/common"
	"github.com/folio-vault/fv-api/database"
	"github.com/folio-vault/fv-api/vstore"
)

var _ = Describe("Store", func() {
	var (
		dbPool pgxmock.PgxConnIface
		store  *vstore.Store
		ctx    context.Context
		nyc    *time.Location
	)

	BeforeEach(func() {
		var err error
		dbPool, err = pgxmock.NewConn()
		Expect(err).To(BeNil())
		database.SetPool(dbPool)
		store = vstore.New()
		ctx = context.Background()
		nyc = common.GetTimezone()
	})

	Describe("CreatePortfolio", func() {
		It("rejects weights outside [0, 1]", func() {
			_, _, _, err := store.CreatePortfolio(ctx, "bad weights", "USD", vstore.AllocationWeight,
				[]*vstore.Position{{Symbol: "VTI", Value: 1.2}}, "", time.Now())
			Expect(err).To(MatchError(vstore.ErrValidation))
		})

		It("rejects non-positive quantities", func() {
			_, _, _, err := store.CreatePortfolio(ctx, "bad qty", "USD", vstore.AllocationQuantity,
				[]*vstore.Position{{Symbol: "VTI", Value: -3}}, "", time.Now())
			Expect(err).To(MatchError(vstore.ErrValidation))
		})

		It("rejects duplicate symbols", func() {
			_, _, _, err := store.CreatePortfolio(ctx, "dupes", "USD", vstore.AllocationWeight,
				[]*vstore.Position{{Symbol: "VTI", Value: .5}, {Symbol: "VTI", Value: .5}}, "", time.Now())
			Expect(err).To(MatchError(vstore.ErrValidation))
		})

		It("rejects an empty position set", func() {
			_, _, _, err := store.CreatePortfolio(ctx, "empty", "USD", vstore.AllocationWeight,
				[]*vstore.Position{}, "", time.Now())
			Expect(err).To(MatchError(vstore.ErrEmptyPositions))
		})

		It("atomically writes portfolio, version and positions", func() {
			dbPool.ExpectBegin()
			dbPool.ExpectExec("INSERT INTO portfolios").
				WithArgs(pgxmock.AnyArg(), "60/40", "USD", vstore.AllocationWeight, pgxmock.AnyArg()).
				WillReturnResult(pgxmock.NewResult("INSERT", 1))
			dbPool.ExpectExec("INSERT INTO portfolio_versions").
				WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), 1, pgxmock.AnyArg(), "initial", pgxmock.AnyArg()).
				WillReturnResult(pgxmock.NewResult("INSERT", 1))
			dbPool.ExpectExec("INSERT INTO portfolio_positions").
				WithArgs(pgxmock.AnyArg(), "VTI", .6).
				WillReturnResult(pgxmock.NewResult("INSERT", 1))
			dbPool.ExpectExec("INSERT INTO portfolio_positions").
				WithArgs(pgxmock.AnyArg(), "BND", .4).
				WillReturnResult(pgxmock.NewResult("INSERT", 1))
			dbPool.ExpectCommit()

			portfolio, version, warnings, err := store.CreatePortfolio(ctx, "60/40", "USD", vstore.AllocationWeight,
				[]*vstore.Position{{Symbol: "VTI", Value: .6}, {Symbol: "BND", Value: .4}}, "initial",
				time.Date(2026, time.August, 28, 12, 0, 0, 0, nyc))
			Expect(err).To(BeNil())
			Expect(warnings).To(BeEmpty())
			Expect(version.Seq).To(Equal(1))
			Expect(version.PortfolioID).To(Equal(portfolio.ID))
			// friday midday rolls to monday's open
			Expect(version.EffectiveAt).To(Equal(time.Date(2026, time.August, 31, 9, 30, 0, 0, nyc)))
			Expect(dbPool.ExpectationsWereMet()).To(BeNil())
		})

		It("warns but does not reject when weights miss 1.0", func() {
			dbPool.ExpectBegin()
			dbPool.ExpectExec("INSERT INTO portfolios").
				WillReturnResult(pgxmock.NewResult("INSERT", 1))
			dbPool.ExpectExec("INSERT INTO portfolio_versions").
				WillReturnResult(pgxmock.NewResult("INSERT", 1))
			dbPool.ExpectExec("INSERT INTO portfolio_positions").
				WillReturnResult(pgxmock.NewResult("INSERT", 1))
			dbPool.ExpectCommit()

			_, _, warnings, err := store.CreatePortfolio(ctx, "underweight", "USD", vstore.AllocationWeight,
				[]*vstore.Position{{Symbol: "VTI", Value: .9}}, "", time.Now())
			Expect(err).To(BeNil())
			Expect(warnings).To(HaveLen(1))
			Expect(warnings[0]).To(ContainSubstring("0.9000"))
		})
	})

	Describe("CreateVersion", func() {
		var portfolioID uuid.UUID

		expectGetPortfolio := func() {
			dbPool.ExpectBegin()
			dbPool.ExpectQuery("SELECT id, name, base_currency").
				WithArgs(portfolioID).
				WillReturnRows(pgxmock.NewRows([]string{"id", "name", "base_currency", "allocation_type", "soft_deleted", "created_at"}).
					AddRow(portfolioID, "60/40", "USD", vstore.AllocationWeight, false, time.Now()))
			dbPool.ExpectCommit()
		}

		BeforeEach(func() {
			portfolioID = uuid.New()
		})

		It("returns ErrNotFound for an unknown portfolio", func() {
			dbPool.ExpectBegin()
			dbPool.ExpectQuery("SELECT id, name, base_currency").
				WithArgs(portfolioID).
				WillReturnError(pgx.ErrNoRows)
			dbPool.ExpectRollback()

			_, _, err := store.CreateVersion(ctx, portfolioID, []*vstore.Position{{Symbol: "VTI", Value: 1}}, "", time.Now())
			Expect(err).To(MatchError(vstore.ErrNotFound))
		})

		It("appends with the next sequence number", func() {
			expectGetPortfolio()
			dbPool.ExpectBegin()
			dbPool.ExpectQuery("SELECT COALESCE").
				WithArgs(portfolioID).
				WillReturnRows(pgxmock.NewRows([]string{"coalesce"}).AddRow(3))
			dbPool.ExpectExec("INSERT INTO portfolio_versions").
				WithArgs(pgxmock.AnyArg(), portfolioID, 4, pgxmock.AnyArg(), "rebalance", pgxmock.AnyArg()).
				WillReturnResult(pgxmock.NewResult("INSERT", 1))
			dbPool.ExpectExec("INSERT INTO portfolio_positions").
				WillReturnResult(pgxmock.NewResult("INSERT", 1))
			dbPool.ExpectCommit()

			version, _, err := store.CreateVersion(ctx, portfolioID,
				[]*vstore.Position{{Symbol: "VTI", Value: 1}}, "rebalance", time.Now())
			Expect(err).To(BeNil())
			Expect(version.Seq).To(Equal(4))
			Expect(dbPool.ExpectationsWereMet()).To(BeNil())
		})

		It("surfaces ErrConcurrencyConflict after losing the race twice", func() {
			uniqueViolation := &pgconn.PgError{Code: "23505", ConstraintName: "portfolio_versions_portfolio_id_effective_at_key"}

			expectGetPortfolio()
			for i := 0; i < 2; i++ {
				dbPool.ExpectBegin()
				dbPool.ExpectQuery("SELECT COALESCE").
					WithArgs(portfolioID).
					WillReturnRows(pgxmock.NewRows([]string{"coalesce"}).AddRow(1))
				dbPool.ExpectExec("INSERT INTO portfolio_versions").
					WillReturnError(uniqueViolation)
				dbPool.ExpectRollback()
			}

			_, _, err := store.CreateVersion(ctx, portfolioID,
				[]*vstore.Position{{Symbol: "VTI", Value: 1}}, "", time.Now())
			Expect(err).To(MatchError(vstore.ErrConcurrencyConflict))
			Expect(dbPool.ExpectationsWereMet()).To(BeNil())
		})
	})

	Describe("ResolveEffectiveVersion", func() {
		It("returns ErrNoEffectiveVersion before the first version", func() {
			portfolioID := uuid.New()
			dbPool.ExpectBegin()
			dbPool.ExpectQuery("SELECT id, portfolio_id, seq").
				WillReturnError(pgx.ErrNoRows)
			dbPool.ExpectRollback()

			_, err := store.ResolveEffectiveVersion(ctx, portfolioID, time.Date(2020, time.January, 2, 0, 0, 0, 0, nyc))
			Expect(err).To(MatchError(vstore.ErrNoEffectiveVersion))
		})

		It("returns the latest version at or before the requested date", func() {
			portfolioID := uuid.New()
			versionID := uuid.New()
			effectiveAt := time.Date(2026, time.March, 2, 9, 30, 0, 0, nyc)

			dbPool.ExpectBegin()
			dbPool.ExpectQuery("SELECT id, portfolio_id, seq").
				WithArgs(portfolioID, pgxmock.AnyArg()).
				WillReturnRows(pgxmock.NewRows([]string{"id", "portfolio_id", "seq", "effective_at", "note", "created_at"}).
					AddRow(versionID, portfolioID, 2, effectiveAt, "", time.Now()))
			dbPool.ExpectCommit()

			version, err := store.ResolveEffectiveVersion(ctx, portfolioID, time.Date(2026, time.April, 1, 0, 0, 0, 0, nyc))
			Expect(err).To(BeNil())
			Expect(version.ID).To(Equal(versionID))
			Expect(version.Seq).To(Equal(2))
		})
	})

	Describe("VersionsInRange", func() {
		It("keeps the version governing the start of the window", func() {
			portfolioID := uuid.New()
			v1 := time.Date(2026, time.January, 2, 9, 30, 0, 0, nyc)
			v2 := time.Date(2026, time.February, 2, 9, 30, 0, 0, nyc)
			v3 := time.Date(2026, time.March, 2, 9, 30, 0, 0, nyc)

			dbPool.ExpectBegin()
			dbPool.ExpectQuery("SELECT id, portfolio_id, seq").
				WillReturnRows(pgxmock.NewRows([]string{"id", "portfolio_id", "seq", "effective_at", "note", "created_at"}).
					AddRow(uuid.New(), portfolioID, 1, v1, "", time.Now()).
					AddRow(uuid.New(), portfolioID, 2, v2, "", time.Now()).
					AddRow(uuid.New(), portfolioID, 3, v3, "", time.Now()))
			dbPool.ExpectCommit()

			// window opens mid-february: v1 is already superseded, v2 governs
			versions, err := store.VersionsInRange(ctx, portfolioID,
				time.Date(2026, time.February, 15, 0, 0, 0, 0, nyc),
				time.Date(2026, time.April, 1, 0, 0, 0, 0, nyc))
			Expect(err).To(BeNil())
			Expect(versions).To(HaveLen(2))
			Expect(versions[0].Seq).To(Equal(2))
			Expect(versions[1].Seq).To(Equal(3))
		})
	})

	Describe("SoftDelete", func() {
		It("returns ErrNotFound when nothing was updated", func() {
			dbPool.ExpectBegin()
			dbPool.ExpectExec("UPDATE portfolios SET soft_deleted").
				WillReturnResult(pgxmock.NewResult("UPDATE", 0))
			dbPool.ExpectRollback()

			err := store.SoftDelete(ctx, uuid.New())
			Expect(err).To(MatchError(vstore.ErrNotFound))
		})
	})
})
