package collector

import (
	"context"
	"fmt"

	"github.com/wonny/kisradar/pkg/database"
	"github.com/wonny/kisradar/pkg/logger"
)

// Repository stores run summaries and criteria outcomes in Postgres for
// history queries. JSON artifacts remain the primary output.
type Repository struct {
	db     *database.DB
	logger *logger.Logger
}

// NewRepository returns a snapshot repository over the given pool.
func NewRepository(db *database.DB, log *logger.Logger) *Repository {
	return &Repository{db: db, logger: log}
}

// EnsureSchema creates the snapshot tables when missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS screener_runs (
			id BIGSERIAL PRIMARY KEY,
			collected_at TIMESTAMPTZ NOT NULL,
			duration_seconds DOUBLE PRECISION NOT NULL,
			total_unique_stocks INTEGER NOT NULL,
			kospi_count INTEGER NOT NULL,
			kosdaq_count INTEGER NOT NULL,
			exclude_etf BOOLEAN NOT NULL,
			failed_facet_stocks INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS screener_criteria (
			id BIGSERIAL PRIMARY KEY,
			run_id BIGINT NOT NULL REFERENCES screener_runs(id) ON DELETE CASCADE,
			stock_code TEXT NOT NULL,
			stock_name TEXT NOT NULL DEFAULT '',
			high_breakout BOOLEAN NOT NULL,
			momentum_history BOOLEAN NOT NULL,
			resistance_breakout BOOLEAN NOT NULL,
			ma_alignment BOOLEAN NOT NULL,
			supply_demand BOOLEAN NOT NULL,
			program_trading BOOLEAN NOT NULL,
			top30_trading_value BOOLEAN NOT NULL,
			all_met BOOLEAN NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_screener_criteria_run ON screener_criteria (run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_screener_criteria_code ON screener_criteria (stock_code)`,
	}

	for _, stmt := range ddl {
		if _, err := r.db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

// SaveRun inserts the run summary and per-stock criteria rows.
func (r *Repository) SaveRun(ctx context.Context, result *RunResult) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var runID int64
	err = tx.QueryRow(ctx,
		`INSERT INTO screener_runs
			(collected_at, duration_seconds, total_unique_stocks, kospi_count, kosdaq_count, exclude_etf, failed_facet_stocks)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		result.Meta.CollectedAt,
		result.Meta.DurationSeconds,
		result.Meta.TotalUniqueStocks,
		result.Meta.KOSPICount,
		result.Meta.KOSDAQCount,
		result.Meta.ExcludeETF,
		result.Meta.FailedFacetStocks,
	).Scan(&runID)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for code, c := range result.Criteria {
		name := ""
		if d, ok := result.StockDetails[code]; ok {
			name = d.StockName
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO screener_criteria
				(run_id, stock_code, stock_name,
				 high_breakout, momentum_history, resistance_breakout, ma_alignment,
				 supply_demand, program_trading, top30_trading_value, all_met)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			runID, code, name,
			c.HighBreakout.Met,
			c.MomentumHistory.Met,
			c.ResistanceBreakout.Met,
			c.MAAlignment.Met,
			c.SupplyDemand.Met,
			c.ProgramTrading.Met,
			c.Top30TradingValue.Met,
			c.AllMet,
		)
		if err != nil {
			return fmt.Errorf("failed to insert criteria row for %s: %w", code, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	r.logger.WithFields(map[string]interface{}{
		"run_id": runID,
		"stocks": len(result.Criteria),
	}).Info("run snapshot saved")

	return nil
}
