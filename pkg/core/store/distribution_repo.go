package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"capital_waterfall/pkg/core/capital"
	"capital_waterfall/pkg/core/cascade"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DistributionRepo is the Postgres Repository.
type DistributionRepo struct {
	pool *pgxpool.Pool
}

// NewDistributionRepo creates a repository on pool.
func NewDistributionRepo(pool *pgxpool.Pool) *DistributionRepo {
	return &DistributionRepo{pool: pool}
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Save writes the event, its allocation rows and the folded ledgers in one
// transaction. A second Save of the same event id returns ErrAlreadyApplied and
// changes nothing.
func (r *DistributionRepo) Save(ctx context.Context, res *cascade.Result) error {
	if res.EventID == "" {
		return fmt.Errorf("distribution has no event id")
	}
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to marshal distribution: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, `
		INSERT INTO distribution_events (event_id, currency, total_amount, distribution_date, result_json)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id) DO NOTHING
	`, res.EventID, res.Currency, res.TotalAmount, dateOrNil(res.DistributionDate), payload)
	if err != nil {
		return fmt.Errorf("failed to insert distribution event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("event %s: %w", res.EventID, ErrAlreadyApplied)
	}

	rows := make([][]any, len(res.Allocations))
	for i, a := range res.Allocations {
		rows[i] = []any{
			res.EventID, i, a.HierarchyLevel, a.InvestorID, a.StructureName, string(a.Method),
			a.BaseAllocation, a.ReturnOfCapitalAmount, a.IncomeAmount, a.CapitalGainAmount,
		}
	}
	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"distribution_allocations"},
		[]string{
			"event_id", "seq", "hierarchy_level", "investor_id", "structure_name", "method",
			"base_allocation", "return_of_capital_amount", "income_amount", "capital_gain_amount",
		},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to insert allocations: %w", err)
	}

	for _, l := range res.Levels {
		if l.Method == cascade.MethodNone {
			continue
		}
		prior, err := loadAccounts(ctx, tx, l.StructureName, true)
		if err != nil {
			return err
		}
		next := cascade.FoldLedger(res, l.Level, prior)

		batch := &pgx.Batch{}
		for pos, a := range next.Accounts() {
			batch.Queue(`
				INSERT INTO capital_accounts (
					structure_name, investor_id, position, investor_name, category, ownership_percent,
					capital_contributed, capital_returned, preferred_return_accrued,
					preferred_return_paid, distributions_received, last_event_date, updated_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
				ON CONFLICT (structure_name, investor_id)
				DO UPDATE SET
					investor_name = EXCLUDED.investor_name,
					category = EXCLUDED.category,
					ownership_percent = EXCLUDED.ownership_percent,
					capital_contributed = EXCLUDED.capital_contributed,
					capital_returned = EXCLUDED.capital_returned,
					preferred_return_accrued = EXCLUDED.preferred_return_accrued,
					preferred_return_paid = EXCLUDED.preferred_return_paid,
					distributions_received = EXCLUDED.distributions_received,
					last_event_date = EXCLUDED.last_event_date,
					updated_at = NOW()
			`, l.StructureName, a.InvestorID, pos, a.InvestorName, string(a.Category), a.OwnershipPercent,
				a.CapitalContributed, a.CapitalReturned, a.PreferredReturnAccrued,
				a.PreferredReturnPaid, a.DistributionsReceived, dateOrNil(a.LastEventDate))
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to update capital accounts for %q: %w", l.StructureName, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit distribution: %w", err)
	}
	return nil
}

// Load returns a persisted distribution.
func (r *DistributionRepo) Load(ctx context.Context, eventID string) (*cascade.Result, error) {
	var payload []byte
	err := r.pool.QueryRow(ctx, `SELECT result_json FROM distribution_events WHERE event_id = $1`, eventID).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("event %s: %w", eventID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load distribution: %w", err)
	}
	var res cascade.Result
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("failed to unmarshal distribution: %w", err)
	}
	return &res, nil
}

// LoadAccounts returns the current ledger of structureName.
func (r *DistributionRepo) LoadAccounts(ctx context.Context, structureName string) (*capital.Ledger, error) {
	return loadAccounts(ctx, r.pool, structureName, false)
}

func loadAccounts(ctx context.Context, q querier, structureName string, forUpdate bool) (*capital.Ledger, error) {
	query := `
		SELECT investor_id, investor_name, category, ownership_percent,
		       capital_contributed, capital_returned, preferred_return_accrued,
		       preferred_return_paid, distributions_received, last_event_date
		FROM capital_accounts
		WHERE structure_name = $1
		ORDER BY position, investor_id
	`
	if forUpdate {
		query += " FOR UPDATE"
	}
	rows, err := q.Query(ctx, query, structureName)
	if err != nil {
		return nil, fmt.Errorf("failed to query capital accounts: %w", err)
	}
	accounts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (capital.Account, error) {
		var a capital.Account
		var category string
		var last *time.Time
		err := row.Scan(&a.InvestorID, &a.InvestorName, &category, &a.OwnershipPercent,
			&a.CapitalContributed, &a.CapitalReturned, &a.PreferredReturnAccrued,
			&a.PreferredReturnPaid, &a.DistributionsReceived, &last)
		a.Category = capital.InvestorCategory(category)
		if last != nil {
			a.LastEventDate = last.UTC()
		}
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read capital accounts: %w", err)
	}
	return capital.NewLedger(accounts)
}

func dateOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
