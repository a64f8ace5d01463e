// Package capital holds the per-investor capital account model consumed by the
// waterfall engine. Accounts are snapshots: every change produces a new value.
package capital

import (
	"fmt"
	"math"
	"time"
)

// InvestorCategory is a closed set of investor kinds.
type InvestorCategory string

const (
	CategoryIndividual     InvestorCategory = "individual"
	CategoryEntity         InvestorCategory = "entity"
	CategoryTrust          InvestorCategory = "trust"
	CategoryFund           InvestorCategory = "fund"
	CategoryGeneralPartner InvestorCategory = "general_partner"
)

// Valid reports whether c is a known category. The empty category is accepted
// and treated as individual.
func (c InvestorCategory) Valid() bool {
	switch c {
	case "", CategoryIndividual, CategoryEntity, CategoryTrust, CategoryFund, CategoryGeneralPartner:
		return true
	}
	return false
}

// Account is one investor's cumulative financial state within one structure/level.
type Account struct {
	InvestorID   string           `json:"investor_id"`
	InvestorName string           `json:"investor_name"`
	Category     InvestorCategory `json:"category,omitempty"`

	// OwnershipPercent is scoped to the structure (0-100) and weights the residual split.
	OwnershipPercent float64 `json:"ownership_percent"`

	CapitalContributed     float64 `json:"capital_contributed"`
	CapitalReturned        float64 `json:"capital_returned"`
	PreferredReturnAccrued float64 `json:"preferred_return_accrued"`
	PreferredReturnPaid    float64 `json:"preferred_return_paid"`
	DistributionsReceived  float64 `json:"distributions_received"`

	// LastEventDate is the date of the last folded distribution. Zero means the
	// preferred return accrues from the structure inception date.
	LastEventDate time.Time `json:"last_event_date,omitempty"`
}

// OutstandingCapital is contributed capital not yet returned.
func OutstandingCapital(a Account) float64 {
	v := a.CapitalContributed - a.CapitalReturned
	if v < 0 {
		return 0
	}
	return v
}

// OutstandingPreferred is accrued preferred return not yet paid.
func OutstandingPreferred(a Account) float64 {
	v := a.PreferredReturnAccrued - a.PreferredReturnPaid
	if v < 0 {
		return 0
	}
	return v
}

// Validate checks the ledger invariants of a single snapshot.
func (a Account) Validate() error {
	if a.InvestorID == "" {
		return fmt.Errorf("capital account has empty investor id")
	}
	if !a.Category.Valid() {
		return fmt.Errorf("investor %s: unknown category %q", a.InvestorID, a.Category)
	}
	fields := []struct {
		name  string
		value float64
	}{
		{"ownership_percent", a.OwnershipPercent},
		{"capital_contributed", a.CapitalContributed},
		{"capital_returned", a.CapitalReturned},
		{"preferred_return_accrued", a.PreferredReturnAccrued},
		{"preferred_return_paid", a.PreferredReturnPaid},
		{"distributions_received", a.DistributionsReceived},
	}
	for _, f := range fields {
		if f.value < 0 || math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return fmt.Errorf("investor %s: %s must be a non-negative number, got %v", a.InvestorID, f.name, f.value)
		}
	}
	if a.CapitalReturned > a.CapitalContributed+tolerance(a.CapitalContributed) {
		return fmt.Errorf("investor %s: capital returned %.2f exceeds contributed %.2f",
			a.InvestorID, a.CapitalReturned, a.CapitalContributed)
	}
	if a.PreferredReturnPaid > a.PreferredReturnAccrued+tolerance(a.PreferredReturnAccrued) {
		return fmt.Errorf("investor %s: preferred paid %.2f exceeds accrued %.2f",
			a.InvestorID, a.PreferredReturnPaid, a.PreferredReturnAccrued)
	}
	return nil
}

// Delta is one event's effect on an account.
type Delta struct {
	InvestorID        string  `json:"investor_id"`
	ReturnOfCapital   float64 `json:"return_of_capital"`
	PreferredAccrued  float64 `json:"preferred_accrued"`
	PreferredReturn   float64 `json:"preferred_return"`
	TotalDistribution float64 `json:"total_distribution"`
}

// Fold returns a new snapshot with d applied. The input is never modified.
func Fold(a Account, d Delta, eventDate time.Time) Account {
	out := a
	out.CapitalReturned += d.ReturnOfCapital
	out.PreferredReturnAccrued += d.PreferredAccrued
	out.PreferredReturnPaid += d.PreferredReturn
	out.DistributionsReceived += d.TotalDistribution
	if !eventDate.IsZero() {
		out.LastEventDate = eventDate
	}
	return out
}

func tolerance(v float64) float64 {
	if v < 1 {
		return 1e-6
	}
	return v * 1e-6
}
