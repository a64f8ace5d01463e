package cascade

import (
	"errors"
	"fmt"
	"math"

	"capital_waterfall/pkg/core/taxalloc"
	"capital_waterfall/pkg/core/waterfall"
)

// VerificationResult holds the status of the reconciliation checks.
type VerificationResult struct {
	IsBalanced bool     `json:"is_balanced"`
	Gap        float64  `json:"gap"`
	Warnings   []string `json:"warnings,omitempty"`
}

// Err converts a failed verification into an invariant violation.
func (v VerificationResult) Err() error {
	if v.IsBalanced {
		return nil
	}
	return fmt.Errorf("%w: %s", waterfall.ErrInvariantViolation, errors.Join(stringsToErrors(v.Warnings)...))
}

func stringsToErrors(ss []string) []error {
	errs := make([]error, len(ss))
	for i, s := range ss {
		errs[i] = errors.New(s)
	}
	return errs
}

// Verify re-checks a result: every level allocates exactly its payable
// amount, level payables sum to the total, allocations sum to the total and,
// when declared, each tax category sums to its declared amount and each
// investor's split adds back to its allocation.
func Verify(r *Result, tax taxalloc.Classification) VerificationResult {
	tol := waterfall.Tolerance(r.TotalAmount)
	res := VerificationResult{IsBalanced: true}
	fail := func(gap float64, format string, args ...interface{}) {
		res.IsBalanced = false
		if math.Abs(gap) > math.Abs(res.Gap) {
			res.Gap = gap
		}
		res.Warnings = append(res.Warnings, fmt.Sprintf(format, args...))
	}

	payable := 0.0
	for _, l := range r.Levels {
		payable += l.Payable
		if l.Method == MethodNone {
			continue
		}
		levelSum := 0.0
		for _, a := range r.Allocations {
			if a.HierarchyLevel == l.Level {
				levelSum += a.BaseAllocation
			}
		}
		if gap := levelSum - l.Payable; math.Abs(gap) > waterfall.Tolerance(l.Payable) {
			fail(gap, "level %d allocated %.6f of payable %.6f", l.Level, levelSum, l.Payable)
		}
	}
	if gap := payable - r.TotalAmount; math.Abs(gap) > tol {
		fail(gap, "level payables sum to %.6f, total is %.6f", payable, r.TotalAmount)
	}
	if gap := r.TotalDistributed() - r.TotalAmount; math.Abs(gap) > tol {
		fail(gap, "allocations sum to %.6f, total is %.6f", r.TotalDistributed(), r.TotalAmount)
	}

	if tax.Declared() {
		var roc, inc, cg float64
		for _, a := range r.Allocations {
			if a.ReturnOfCapitalAmount == nil || a.IncomeAmount == nil || a.CapitalGainAmount == nil {
				fail(0, "investor %s at level %d has no tax split", a.InvestorID, a.HierarchyLevel)
				continue
			}
			roc += *a.ReturnOfCapitalAmount
			inc += *a.IncomeAmount
			cg += *a.CapitalGainAmount
			split := *a.ReturnOfCapitalAmount + *a.IncomeAmount + *a.CapitalGainAmount
			if gap := split - a.BaseAllocation; math.Abs(gap) > waterfall.Tolerance(a.BaseAllocation) {
				fail(gap, "investor %s at level %d tax split %.6f differs from allocation %.6f",
					a.InvestorID, a.HierarchyLevel, split, a.BaseAllocation)
			}
		}
		checks := []struct {
			name          string
			got, declared float64
		}{
			{"return of capital", roc, tax.ReturnOfCapital},
			{"income", inc, tax.Income},
			{"capital gain", cg, tax.CapitalGain},
		}
		for _, c := range checks {
			if gap := c.got - c.declared; math.Abs(gap) > tol {
				fail(gap, "%s allocated %.6f of declared %.6f", c.name, c.got, c.declared)
			}
		}
	}
	return res
}
