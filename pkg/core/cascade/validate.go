package cascade

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"capital_waterfall/pkg/core/waterfall"
)

// Kind classifies an engine error for callers that report it.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, waterfall.ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, waterfall.ErrConfiguration):
		return "configuration_error"
	case errors.Is(err, waterfall.ErrInvariantViolation):
		return "arithmetic_invariant_violation"
	}
	return "internal"
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", waterfall.ErrInvalidRequest, fmt.Sprintf(format, args...))
}

func fmtConfig(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", waterfall.ErrConfiguration, fmt.Sprintf(format, args...))
}

// levels normalizes the request into hierarchy nodes ordered shallowest first
// and validates everything that can be checked before any arithmetic.
func levels(req Request) ([]HierarchyNode, error) {
	if math.IsNaN(req.TotalAmount) || math.IsInf(req.TotalAmount, 0) || req.TotalAmount <= 0 {
		return nil, invalid("total amount must be positive, got %v", req.TotalAmount)
	}
	if !req.DistributionDate.IsZero() && !req.InceptionDate.IsZero() && req.DistributionDate.Before(req.InceptionDate) {
		return nil, invalid("distribution date %s precedes inception date %s",
			req.DistributionDate.Format("2006-01-02"), req.InceptionDate.Format("2006-01-02"))
	}
	if err := req.TaxClassification.Validate(req.TotalAmount); err != nil {
		return nil, err
	}

	var nodes []HierarchyNode
	if len(req.Hierarchy) > 0 {
		nodes = append(nodes, req.Hierarchy...)
	} else {
		nodes = []HierarchyNode{{
			Level:                     1,
			StructureName:             req.StructureName,
			Investors:                 req.Investors,
			ApplyWaterfallAtThisLevel: req.Waterfall != nil || req.WaterfallPreset != "",
			WaterfallStructure:        req.Waterfall,
			WaterfallPreset:           req.WaterfallPreset,
		}}
	}
	sort.SliceStable(nodes, func(i, j int) bool { return nodes[i].Level < nodes[j].Level })

	anyInvestors := false
	seenLevel := make(map[int]bool, len(nodes))
	for _, n := range nodes {
		if n.Level < 1 {
			return nil, invalid("hierarchy level must be >= 1, got %d", n.Level)
		}
		if seenLevel[n.Level] {
			return nil, invalid("hierarchy level %d appears more than once", n.Level)
		}
		seenLevel[n.Level] = true

		if err := validatePositions(n); err != nil {
			return nil, err
		}
		if len(n.Investors) > 0 {
			anyInvestors = true
		}
		if n.ApplyWaterfallAtThisLevel {
			if n.WaterfallStructure == nil && n.WaterfallPreset != "" {
				return nil, fmt.Errorf("%w: level %d references preset %q that was not resolved",
					waterfall.ErrConfiguration, n.Level, n.WaterfallPreset)
			}
			if n.WaterfallStructure != nil {
				if err := n.WaterfallStructure.Validate(); err != nil {
					return nil, fmt.Errorf("level %d: %w", n.Level, err)
				}
			}
		}
	}
	if !anyInvestors {
		return nil, invalid("no investors at any hierarchy level")
	}
	return nodes, nil
}

func validatePositions(n HierarchyNode) error {
	seen := make(map[string]bool, len(n.Investors))
	for _, p := range n.Investors {
		if p.InvestorID == "" {
			return invalid("level %d has an investor with empty id", n.Level)
		}
		if seen[p.InvestorID] {
			return invalid("level %d lists investor %s twice", n.Level, p.InvestorID)
		}
		seen[p.InvestorID] = true
		if !p.Category.Valid() {
			return invalid("investor %s has unknown category %q", p.InvestorID, p.Category)
		}
		fields := []struct {
			name  string
			value float64
		}{
			{"ownership_percent", p.OwnershipPercent},
			{"ownership_of_parent", p.OwnershipOfParent},
			{"commitment", p.Commitment},
		}
		for _, f := range fields {
			if f.value < 0 || math.IsNaN(f.value) || math.IsInf(f.value, 0) {
				return invalid("investor %s: %s must be a non-negative number, got %v", p.InvestorID, f.name, f.value)
			}
		}
		if p.OwnershipPercent > 100+waterfall.Epsilon {
			return invalid("investor %s: ownership percent %v exceeds 100", p.InvestorID, p.OwnershipPercent)
		}
		if p.Account != nil {
			if p.Account.InvestorID != "" && p.Account.InvestorID != p.InvestorID {
				return invalid("investor %s carries the account of %s", p.InvestorID, p.Account.InvestorID)
			}
			acct := *p.Account
			acct.InvestorID = p.InvestorID
			if err := acct.Validate(); err != nil {
				return invalid("%v", err)
			}
		}
	}
	return nil
}

// childOwnership sums OwnershipOfParent for a level and rejects values outside
// [0, 100] rather than clamping them.
func childOwnership(n HierarchyNode) (float64, error) {
	pct := 0.0
	for _, p := range n.Investors {
		pct += p.OwnershipOfParent
	}
	if pct > 100+waterfall.Epsilon {
		return 0, invalid("level %d ownership of parent sums to %.4f%%, above 100%%", n.Level, pct)
	}
	if pct > 100 {
		pct = 100
	}
	return pct, nil
}
