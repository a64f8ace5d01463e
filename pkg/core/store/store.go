// Package store persists computed distributions and the capital account
// ledgers they move. Postgres is primary; a directory of JSON files stands in
// when no database is configured.
package store

import (
	"context"
	"errors"

	"capital_waterfall/pkg/core/capital"
	"capital_waterfall/pkg/core/cascade"

	"github.com/google/uuid"
)

var (
	// ErrAlreadyApplied means an event id was persisted before. Events are
	// applied to the ledger at most once.
	ErrAlreadyApplied = errors.New("distribution already applied")
	// ErrNotFound means no distribution exists for an event id.
	ErrNotFound = errors.New("distribution not found")
)

// Repository is implemented by DistributionRepo and ResultCache.
type Repository interface {
	// Save records r and folds it into the ledgers of every level it paid.
	Save(ctx context.Context, r *cascade.Result) error
	Load(ctx context.Context, eventID string) (*cascade.Result, error)
	// LoadAccounts returns the ledger of one structure. Unknown structures
	// yield an empty ledger.
	LoadAccounts(ctx context.Context, structureName string) (*capital.Ledger, error)
}

// NewEventID returns a fresh event id for requests that did not carry one.
func NewEventID() string {
	return uuid.NewString()
}

// Hydrate attaches stored ledger snapshots to every position in req that
// does not already carry one. Contributed capital only grows: a request whose
// commitment exceeds the recorded contribution raises it, which also covers
// investors first seen at a pro-rata level with nothing on record.
func Hydrate(ctx context.Context, repo Repository, req *cascade.Request) error {
	fill := func(structure string, positions []cascade.Position) error {
		ledger, err := repo.LoadAccounts(ctx, structure)
		if err != nil {
			return err
		}
		if ledger.Len() == 0 {
			return nil
		}
		for i := range positions {
			p := &positions[i]
			if p.Account != nil {
				continue
			}
			a, ok := ledger.Get(p.InvestorID)
			if !ok {
				continue
			}
			a.CapitalContributed = max(a.CapitalContributed, p.Commitment)
			p.Account = &a
		}
		return nil
	}

	if len(req.Hierarchy) == 0 {
		return fill(req.StructureName, req.Investors)
	}
	for i := range req.Hierarchy {
		n := &req.Hierarchy[i]
		if err := fill(n.StructureName, n.Investors); err != nil {
			return err
		}
	}
	return nil
}
