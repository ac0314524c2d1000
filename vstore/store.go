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

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/folio-vault/fv-api/database"
	"github.com/folio-vault/fv-api/marketcal"
	"github.com/folio-vault/fv-api/observability/opentelemetry"
	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
)

const pgUniqueViolation = "23505"

type Store struct {
	weightTolerance float64
}

func New() *Store {
	tolerance := viper.GetFloat64("vstore.weight_tolerance")
	if tolerance == 0 {
		tolerance = .005
	}
	return &Store{
		weightTolerance: tolerance,
	}
}

// validatePositions enforces per-mode value bounds. The weight-sum check is
// advisory only; it may produce a warning but never an error.
func (store *Store) validatePositions(allocType AllocationType, positions []*Position) ([]string, error) {
	if len(positions) == 0 {
		return nil, ErrEmptyPositions
	}

	seen := make(map[string]bool, len(positions))
	sum := 0.0
	for _, pos := range positions {
		if pos.Symbol == "" {
			return nil, fmt.Errorf("%w: position symbol cannot be empty", ErrValidation)
		}
		if seen[pos.Symbol] {
			return nil, fmt.Errorf("%w: duplicate symbol %s", ErrValidation, pos.Symbol)
		}
		seen[pos.Symbol] = true

		switch allocType {
		case AllocationWeight:
			if pos.Value < 0 || pos.Value > 1 {
				return nil, fmt.Errorf("%w: weight for %s must be in [0, 1], got %f", ErrValidation, pos.Symbol, pos.Value)
			}
			sum += pos.Value
		case AllocationQuantity:
			if pos.Value <= 0 {
				return nil, fmt.Errorf("%w: quantity for %s must be positive, got %f", ErrValidation, pos.Symbol, pos.Value)
			}
		default:
			return nil, fmt.Errorf("%w: unknown allocation type %q", ErrValidation, allocType)
		}
	}

	var warnings []string
	if allocType == AllocationWeight && math.Abs(sum-1.0) > store.weightTolerance {
		warnings = append(warnings, fmt.Sprintf("position weights sum to %.4f, expected 1.0", sum))
	}
	return warnings, nil
}

// CreatePortfolio creates a portfolio together with its first version and
// position snapshot as a single atomic unit
func (store *Store) CreatePortfolio(ctx context.Context, name string, baseCurrency string, allocType AllocationType, positions []*Position, note string, asOf time.Time) (*Portfolio, *Version, []string, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "vstore.CreatePortfolio")
	defer span.End()

	subLog := log.With().Str("PortfolioName", name).Logger()

	if name == "" {
		return nil, nil, nil, fmt.Errorf("%w: portfolio name cannot be empty", ErrValidation)
	}
	if baseCurrency == "" {
		baseCurrency = "USD"
	}

	warnings, err := store.validatePositions(allocType, positions)
	if err != nil {
		return nil, nil, nil, err
	}

	portfolio := &Portfolio{
		ID:             uuid.New(),
		Name:           name,
		BaseCurrency:   baseCurrency,
		AllocationType: allocType,
		CreatedAt:      time.Now(),
	}
	version := &Version{
		ID:          uuid.New(),
		PortfolioID: portfolio.ID,
		Seq:         1,
		EffectiveAt: marketcal.NextMarketOpen(asOf),
		Note:        note,
		CreatedAt:   portfolio.CreatedAt,
	}

	trx, err := database.Trx(ctx)
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("could not begin transaction")
		return nil, nil, nil, err
	}

	portfolioSQL := `INSERT INTO portfolios (id, name, base_currency, allocation_type, soft_deleted, created_at) VALUES ($1, $2, $3, $4, false, $5)`
	if _, err := trx.Exec(ctx, portfolioSQL, portfolio.ID, portfolio.Name, portfolio.BaseCurrency, portfolio.AllocationType, portfolio.CreatedAt); err != nil {
		subLog.Error().Stack().Err(err).Msg("could not insert portfolio")
		rollback(ctx, trx)
		return nil, nil, nil, err
	}

	if err := insertVersion(ctx, trx, version, positions); err != nil {
		rollback(ctx, trx)
		return nil, nil, nil, err
	}

	if err := trx.Commit(ctx); err != nil {
		subLog.Error().Stack().Err(err).Msg("could not commit transaction")
		return nil, nil, nil, err
	}

	return portfolio, version, warnings, nil
}

// CreateVersion appends a new version to an existing portfolio. The version
// becomes effective at the next trading-day market open strictly after asOf.
// A unique violation on (portfolio_id, effective_at) means another writer got
// there first; the insert is retried once with a fresh sequence read before
// surfacing ErrConcurrencyConflict.
func (store *Store) CreateVersion(ctx context.Context, portfolioID uuid.UUID, positions []*Position, note string, asOf time.Time) (*Version, []string, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "vstore.CreateVersion")
	defer span.End()

	portfolio, err := store.GetPortfolio(ctx, portfolioID)
	if err != nil {
		return nil, nil, err
	}

	warnings, err := store.validatePositions(portfolio.AllocationType, positions)
	if err != nil {
		return nil, nil, err
	}

	effectiveAt := marketcal.NextMarketOpen(asOf)

	var version *Version
	for attempt := 0; attempt < 2; attempt++ {
		version, err = store.tryInsertVersion(ctx, portfolioID, positions, note, effectiveAt)
		if err == nil {
			return version, warnings, nil
		}

		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolation {
			return nil, nil, err
		}
	}

	log.Warn().Str("PortfolioID", portfolioID.String()).Time("EffectiveAt", effectiveAt).Msg("version creation lost race twice")
	return nil, nil, ErrConcurrencyConflict
}

func (store *Store) tryInsertVersion(ctx context.Context, portfolioID uuid.UUID, positions []*Position, note string, effectiveAt time.Time) (*Version, error) {
	trx, err := database.Trx(ctx)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not begin transaction")
		return nil, err
	}

	var maxSeq int
	seqSQL := `SELECT COALESCE(MAX(seq), 0) FROM portfolio_versions WHERE portfolio_id=$1`
	if err := trx.QueryRow(ctx, seqSQL, portfolioID).Scan(&maxSeq); err != nil {
		log.Error().Stack().Err(err).Msg("could not read version sequence")
		rollback(ctx, trx)
		return nil, err
	}

	version := &Version{
		ID:          uuid.New(),
		PortfolioID: portfolioID,
		Seq:         maxSeq + 1,
		EffectiveAt: effectiveAt,
		Note:        note,
		CreatedAt:   time.Now(),
	}

	if err := insertVersion(ctx, trx, version, positions); err != nil {
		rollback(ctx, trx)
		return nil, err
	}

	if err := trx.Commit(ctx); err != nil {
		log.Error().Stack().Err(err).Msg("could not commit transaction")
		return nil, err
	}
	return version, nil
}

func insertVersion(ctx context.Context, trx pgx.Tx, version *Version, positions []*Position) error {
	versionSQL := `INSERT INTO portfolio_versions (id, portfolio_id, seq, effective_at, note, created_at) VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := trx.Exec(ctx, versionSQL, version.ID, version.PortfolioID, version.Seq, version.EffectiveAt, version.Note, version.CreatedAt); err != nil {
		log.Error().Stack().Err(err).Str("VersionID", version.ID.String()).Msg("could not insert portfolio version")
		return err
	}

	positionSQL := `INSERT INTO portfolio_positions (version_id, symbol, value) VALUES ($1, $2, $3)`
	for _, pos := range positions {
		if _, err := trx.Exec(ctx, positionSQL, version.ID, pos.Symbol, pos.Value); err != nil {
			log.Error().Stack().Err(err).Str("Symbol", pos.Symbol).Msg("could not insert portfolio position")
			return err
		}
	}
	return nil
}

// GetPortfolio loads a portfolio by id; soft-deleted portfolios are treated
// as not found
func (store *Store) GetPortfolio(ctx context.Context, portfolioID uuid.UUID) (*Portfolio, error) {
	trx, err := database.Trx(ctx)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not begin transaction")
		return nil, err
	}

	portfolio := &Portfolio{}
	portfolioSQL := `SELECT id, name, base_currency, allocation_type, soft_deleted, created_at FROM portfolios WHERE id=$1 AND NOT soft_deleted`
	err = trx.QueryRow(ctx, portfolioSQL, portfolioID).Scan(&portfolio.ID, &portfolio.Name, &portfolio.BaseCurrency, &portfolio.AllocationType, &portfolio.SoftDeleted, &portfolio.CreatedAt)
	if err != nil {
		rollback(ctx, trx)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		log.Error().Stack().Err(err).Str("PortfolioID", portfolioID.String()).Msg("could not load portfolio")
		return nil, err
	}

	if err := trx.Commit(ctx); err != nil {
		log.Error().Stack().Err(err).Msg("could not commit transaction")
	}
	return portfolio, nil
}

// ListPortfolios returns all live portfolios ordered by creation time
func (store *Store) ListPortfolios(ctx context.Context) ([]*Portfolio, error) {
	trx, err := database.Trx(ctx)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not begin transaction")
		return nil, err
	}

	listSQL := `SELECT id, name, base_currency, allocation_type, soft_deleted, created_at FROM portfolios WHERE NOT soft_deleted ORDER BY created_at ASC`
	rows, err := trx.Query(ctx, listSQL)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not list portfolios")
		rollback(ctx, trx)
		return nil, err
	}

	portfolios := make([]*Portfolio, 0, 8)
	for rows.Next() {
		portfolio := &Portfolio{}
		if err := rows.Scan(&portfolio.ID, &portfolio.Name, &portfolio.BaseCurrency, &portfolio.AllocationType, &portfolio.SoftDeleted, &portfolio.CreatedAt); err != nil {
			log.Error().Stack().Err(err).Msg("could not scan portfolio row")
			rollback(ctx, trx)
			return nil, err
		}
		portfolios = append(portfolios, portfolio)
	}

	if err := trx.Commit(ctx); err != nil {
		log.Error().Stack().Err(err).Msg("could not commit transaction")
	}
	return portfolios, nil
}

// SoftDelete marks the portfolio deleted. History is retained; the portfolio
// simply disappears from listings and scheduled recomputes.
func (store *Store) SoftDelete(ctx context.Context, portfolioID uuid.UUID) error {
	trx, err := database.Trx(ctx)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not begin transaction")
		return err
	}

	deleteSQL := `UPDATE portfolios SET soft_deleted=true WHERE id=$1 AND NOT soft_deleted`
	tag, err := trx.Exec(ctx, deleteSQL, portfolioID)
	if err != nil {
		log.Error().Stack().Err(err).Str("PortfolioID", portfolioID.String()).Msg("could not soft-delete portfolio")
		rollback(ctx, trx)
		return err
	}
	if tag.RowsAffected() == 0 {
		rollback(ctx, trx)
		return ErrNotFound
	}

	return trx.Commit(ctx)
}

// ResolveEffectiveVersion returns the version with the greatest effective_at
// less than or equal to asOf
func (store *Store) ResolveEffectiveVersion(ctx context.Context, portfolioID uuid.UUID, asOf time.Time) (*Version, error) {
	trx, err := database.Trx(ctx)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not begin transaction")
		return nil, err
	}

	version := &Version{}
	resolveSQL := `SELECT id, portfolio_id, seq, effective_at, note, created_at FROM portfolio_versions WHERE portfolio_id=$1 AND effective_at <= $2 ORDER BY effective_at DESC LIMIT 1`
	err = trx.QueryRow(ctx, resolveSQL, portfolioID, asOf).Scan(&version.ID, &version.PortfolioID, &version.Seq, &version.EffectiveAt, &version.Note, &version.CreatedAt)
	if err != nil {
		rollback(ctx, trx)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoEffectiveVersion
		}
		log.Error().Stack().Err(err).Str("PortfolioID", portfolioID.String()).Msg("could not resolve effective version")
		return nil, err
	}

	if err := trx.Commit(ctx); err != nil {
		log.Error().Stack().Err(err).Msg("could not commit transaction")
	}
	return version, nil
}

// Versions lists a portfolio's full version history ordered by effective_at
func (store *Store) Versions(ctx context.Context, portfolioID uuid.UUID) ([]*Version, error) {
	return store.versionsWhere(ctx, `SELECT id, portfolio_id, seq, effective_at, note, created_at FROM portfolio_versions WHERE portfolio_id=$1 ORDER BY effective_at ASC`, portfolioID)
}

// VersionsInRange returns every version that governs any day in
// [begin, end]: all versions effective inside the window plus the one in
// effect when the window opens
func (store *Store) VersionsInRange(ctx context.Context, portfolioID uuid.UUID, begin time.Time, end time.Time) ([]*Version, error) {
	rangeSQL := `SELECT id, portfolio_id, seq, effective_at, note, created_at FROM portfolio_versions WHERE portfolio_id=$1 AND effective_at <= $2 ORDER BY effective_at ASC`
	versions, err := store.versionsWhere(ctx, rangeSQL, portfolioID, end)
	if err != nil {
		return nil, err
	}

	// drop versions superseded before the window opens, keeping the last one
	idx := 0
	for i, version := range versions {
		if version.EffectiveAt.After(begin) {
			break
		}
		idx = i
	}
	return versions[idx:], nil
}

func (store *Store) versionsWhere(ctx context.Context, query string, args ...interface{}) ([]*Version, error) {
	trx, err := database.Trx(ctx)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not begin transaction")
		return nil, err
	}

	rows, err := trx.Query(ctx, query, args...)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not query portfolio versions")
		rollback(ctx, trx)
		return nil, err
	}

	versions := make([]*Version, 0, 4)
	for rows.Next() {
		version := &Version{}
		if err := rows.Scan(&version.ID, &version.PortfolioID, &version.Seq, &version.EffectiveAt, &version.Note, &version.CreatedAt); err != nil {
			log.Error().Stack().Err(err).Msg("could not scan version row")
			rollback(ctx, trx)
			return nil, err
		}
		versions = append(versions, version)
	}

	if err := trx.Commit(ctx); err != nil {
		log.Error().Stack().Err(err).Msg("could not commit transaction")
	}
	return versions, nil
}

// Positions returns the full position snapshot of a version
func (store *Store) Positions(ctx context.Context, versionID uuid.UUID) ([]*Position, error) {
	trx, err := database.Trx(ctx)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not begin transaction")
		return nil, err
	}

	positionSQL := `SELECT symbol, value FROM portfolio_positions WHERE version_id=$1 ORDER BY symbol ASC`
	rows, err := trx.Query(ctx, positionSQL, versionID)
	if err != nil {
		log.Error().Stack().Err(err).Str("VersionID", versionID.String()).Msg("could not query positions")
		rollback(ctx, trx)
		return nil, err
	}

	positions := make([]*Position, 0, 8)
	for rows.Next() {
		pos := &Position{}
		if err := rows.Scan(&pos.Symbol, &pos.Value); err != nil {
			log.Error().Stack().Err(err).Msg("could not scan position row")
			rollback(ctx, trx)
			return nil, err
		}
		positions = append(positions, pos)
	}

	if len(positions) == 0 {
		rollback(ctx, trx)
		return nil, ErrVersionNotFound
	}

	if err := trx.Commit(ctx); err != nil {
		log.Error().Stack().Err(err).Msg("could not commit transaction")
	}
	return positions, nil
}

func rollback(ctx context.Context, trx pgx.Tx) {
	if err := trx.Rollback(ctx); err != nil {
		log.Error().Stack().Err(err).Msg("could not rollback transaction")
	}
}
