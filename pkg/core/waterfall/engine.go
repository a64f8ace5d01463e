package waterfall

import (
	"fmt"
	"math"
	"time"

	"capital_waterfall/pkg/core/capital"
)

// Evaluate runs the structure's tiers in order against amount. accounts is
// read-only; the post-event snapshots are returned in Result.UpdatedAccounts.
//
// Identical inputs always produce identical outputs.
func Evaluate(s Structure, amount float64, accounts []capital.Account, inception, distribution time.Time) (*Result, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if amount < 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return nil, fmt.Errorf("%w: waterfall amount must be a non-negative number, got %v", ErrInvalidRequest, amount)
	}
	if amount > 0 && len(accounts) == 0 {
		return nil, fmt.Errorf("%w: waterfall has %.2f to distribute but no capital accounts", ErrInvalidRequest, amount)
	}
	seen := make(map[string]bool, len(accounts))
	for _, a := range accounts {
		if err := a.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		if seen[a.InvestorID] {
			return nil, fmt.Errorf("%w: duplicate capital account for investor %s", ErrInvalidRequest, a.InvestorID)
		}
		seen[a.InvestorID] = true
	}
	if !distribution.IsZero() && !inception.IsZero() && distribution.Before(inception) {
		return nil, fmt.Errorf("%w: distribution date %s precedes inception %s",
			ErrInvalidRequest, distribution.Format("2006-01-02"), inception.Format("2006-01-02"))
	}

	algorithm := s.Algorithm
	if algorithm == "" {
		algorithm = AlgorithmAmerican
	}

	e := newEvaluation(s, amount, accounts, inception, distribution)
	tiers := make([]TierResult, 0, len(s.Tiers))
	for _, t := range s.Tiers {
		tiers = append(tiers, e.runTier(t))
	}

	result := &Result{
		StructureName:       s.Name,
		Algorithm:           algorithm,
		Amount:              amount,
		TierDistributions:   tiers,
		InvestorAllocations: e.alloc,
		GPAllocation:        e.gp,
		UpdatedAccounts:     make([]capital.Account, len(e.accounts)),
	}
	for i, a := range e.accounts {
		if !distribution.IsZero() {
			a.LastEventDate = distribution
		}
		result.UpdatedAccounts[i] = a
	}

	if err := result.reconcile(); err != nil {
		return nil, err
	}
	return result, nil
}

// reconcile re-checks conservation across tiers, investors and GP.
func (r *Result) reconcile() error {
	tol := Tolerance(r.Amount)

	tierSum, lpTier, gpTier := 0.0, 0.0, 0.0
	for _, t := range r.TierDistributions {
		if t.Skipped && t.AmountDistributed != 0 {
			return fmt.Errorf("%w: skipped tier %s distributed %.6f", ErrInvariantViolation, t.TierName, t.AmountDistributed)
		}
		tierSum += t.AmountDistributed
		lpTier += t.LPAmount
		gpTier += t.GPAmount
	}
	if math.Abs(tierSum-r.Amount) > tol {
		return fmt.Errorf("%w: tiers distributed %.6f of %.6f", ErrInvariantViolation, tierSum, r.Amount)
	}

	lpSum := 0.0
	for _, a := range r.InvestorAllocations {
		lpSum += a.Total
	}
	if math.Abs(lpSum-lpTier) > tol {
		return fmt.Errorf("%w: investor allocations %.6f differ from LP tier total %.6f", ErrInvariantViolation, lpSum, lpTier)
	}
	if math.Abs(r.GPAllocation.TotalAmount-gpTier) > tol {
		return fmt.Errorf("%w: GP allocation %.6f differs from GP tier total %.6f",
			ErrInvariantViolation, r.GPAllocation.TotalAmount, gpTier)
	}

	for i, a := range r.UpdatedAccounts {
		if a.CapitalReturned > a.CapitalContributed+tol {
			return fmt.Errorf("%w: investor %s returned capital above contribution", ErrInvariantViolation, r.InvestorAllocations[i].InvestorID)
		}
	}
	return nil
}
