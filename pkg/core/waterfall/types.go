// Package waterfall evaluates distribution waterfalls: an ordered list of tiers
// (return of capital, preferred return, GP catch-up, residual split) applied to
// one cash amount and a set of capital accounts.
package waterfall

import (
	"fmt"
	"math"

	"capital_waterfall/pkg/core/capital"
)

// Epsilon is the absolute reconciliation tolerance.
const Epsilon = 1e-6

// resolution is the relative float64 rounding slack allowed on sums of large
// amounts, roughly a few hundred ulps.
const resolution = 1e-13

// Tolerance is Epsilon, widened only where total is so large that float64
// cannot hold a sum to within Epsilon. Below 1e7 it is exactly Epsilon.
func Tolerance(total float64) float64 {
	return math.Max(Epsilon, math.Abs(total)*resolution)
}

// DefaultGeneralPartnerID is used when a structure does not name its GP.
const DefaultGeneralPartnerID = "general-partner"

// TierType identifies a tier algorithm.
type TierType string

const (
	TierReturnOfCapital TierType = "return_of_capital"
	TierPreferredReturn TierType = "preferred_return"
	TierGPCatchUp       TierType = "gp_catch_up"
	TierResidualSplit   TierType = "residual_split"
)

// DisplayName is the human-readable tier label used when a spec has no name.
func (t TierType) DisplayName() string {
	switch t {
	case TierReturnOfCapital:
		return "Return of Capital"
	case TierPreferredReturn:
		return "Preferred Return"
	case TierGPCatchUp:
		return "GP Catch-Up"
	case TierResidualSplit:
		return "Residual Split"
	}
	return string(t)
}

// Algorithm selects which prior-event context feeds the catch-up tier.
type Algorithm string

const (
	// AlgorithmAmerican is deal-by-deal: only the current event counts.
	AlgorithmAmerican Algorithm = "american"
	// AlgorithmEuropean is whole-fund: cumulative history counts.
	AlgorithmEuropean Algorithm = "european"
)

// TierSpec is one configured tier.
type TierSpec struct {
	Name string   `json:"name,omitempty" yaml:"name"`
	Type TierType `json:"type" yaml:"type"`

	// PreferredRatePercent is the annual hurdle rate, e.g. 8 for 8% p.a.
	PreferredRatePercent *float64 `json:"preferred_rate_percent,omitempty" yaml:"preferred_rate_percent"`
	// TargetCarryPercent is the GP's target share of profit, e.g. 20.
	TargetCarryPercent float64 `json:"target_carry_percent,omitempty" yaml:"target_carry_percent"`
	LPSplitPercent     float64 `json:"lp_split_percent,omitempty" yaml:"lp_split_percent"`
	GPSplitPercent     float64 `json:"gp_split_percent,omitempty" yaml:"gp_split_percent"`
}

// Label returns the configured name or the tier type's display name.
func (t TierSpec) Label() string {
	if t.Name != "" {
		return t.Name
	}
	return t.Type.DisplayName()
}

// Structure is an immutable waterfall configuration supplied per event.
type Structure struct {
	Name      string     `json:"name,omitempty" yaml:"name"`
	Algorithm Algorithm  `json:"algorithm" yaml:"algorithm"`
	Tiers     []TierSpec `json:"tiers" yaml:"tiers"`

	GeneralPartnerID string `json:"general_partner_id,omitempty" yaml:"general_partner_id"`
	// PriorGPDistributions is GP profit already paid by the structure in earlier
	// events. Only the European algorithm reads it.
	PriorGPDistributions float64 `json:"prior_gp_distributions,omitempty" yaml:"prior_gp_distributions"`
}

// GPID returns the general partner id, defaulted.
func (s Structure) GPID() string {
	if s.GeneralPartnerID != "" {
		return s.GeneralPartnerID
	}
	return DefaultGeneralPartnerID
}

// Validate checks the structure for configuration errors.
func (s Structure) Validate() error {
	switch s.Algorithm {
	case "", AlgorithmAmerican, AlgorithmEuropean:
	default:
		return fmt.Errorf("%w: unknown algorithm %q", ErrConfiguration, s.Algorithm)
	}
	if len(s.Tiers) == 0 {
		return fmt.Errorf("%w: waterfall has no tiers", ErrConfiguration)
	}
	if s.PriorGPDistributions < 0 {
		return fmt.Errorf("%w: prior GP distributions must not be negative", ErrConfiguration)
	}

	residualAt := -1
	for i, t := range s.Tiers {
		switch t.Type {
		case TierReturnOfCapital:
		case TierPreferredReturn:
			if t.PreferredRatePercent == nil {
				return fmt.Errorf("%w: tier %d (%s) requires preferred_rate_percent", ErrConfiguration, i, t.Label())
			}
			if *t.PreferredRatePercent < 0 {
				return fmt.Errorf("%w: tier %d (%s) has negative preferred rate", ErrConfiguration, i, t.Label())
			}
		case TierGPCatchUp:
			if t.TargetCarryPercent <= 0 || t.TargetCarryPercent >= 100 {
				return fmt.Errorf("%w: tier %d (%s) target carry must be in (0, 100), got %v",
					ErrConfiguration, i, t.Label(), t.TargetCarryPercent)
			}
		case TierResidualSplit:
			if t.LPSplitPercent < 0 || t.GPSplitPercent < 0 {
				return fmt.Errorf("%w: tier %d (%s) has a negative split", ErrConfiguration, i, t.Label())
			}
			if d := t.LPSplitPercent + t.GPSplitPercent - 100; d > Epsilon || d < -Epsilon {
				return fmt.Errorf("%w: tier %d (%s) LP/GP split %v/%v does not sum to 100",
					ErrConfiguration, i, t.Label(), t.LPSplitPercent, t.GPSplitPercent)
			}
			if residualAt >= 0 {
				return fmt.Errorf("%w: more than one residual split tier", ErrConfiguration)
			}
			residualAt = i
		default:
			return fmt.Errorf("%w: tier %d has unknown type %q", ErrConfiguration, i, t.Type)
		}
	}
	if residualAt < 0 {
		return fmt.Errorf("%w: waterfall needs a residual split tier to absorb remaining cash", ErrConfiguration)
	}
	if residualAt != len(s.Tiers)-1 {
		return fmt.Errorf("%w: residual split must be the last tier", ErrConfiguration)
	}
	return nil
}

// TierResult summarises one tier of one event.
type TierResult struct {
	TierName          string   `json:"tier_name"`
	TierType          TierType `json:"tier_type"`
	AmountDistributed float64  `json:"amount_distributed"`
	LPAmount          float64  `json:"lp_amount"`
	GPAmount          float64  `json:"gp_amount"`
	Skipped           bool     `json:"skipped,omitempty"`
}

// InvestorAllocation is one LP's take from a waterfall, broken down by tier.
type InvestorAllocation struct {
	InvestorID       string                   `json:"investor_id"`
	InvestorName     string                   `json:"investor_name,omitempty"`
	Category         capital.InvestorCategory `json:"category,omitempty"`
	OwnershipPercent float64                  `json:"ownership_percent"`

	ReturnOfCapital  float64 `json:"return_of_capital"`
	PreferredReturn  float64 `json:"preferred_return"`
	ResidualShare    float64 `json:"residual_share"`
	PreferredAccrued float64 `json:"preferred_accrued"`
	Total            float64 `json:"total"`
}

// GPAllocation aggregates GP-side dollars across tiers.
type GPAllocation struct {
	GeneralPartnerID string  `json:"general_partner_id"`
	CatchUpAmount    float64 `json:"catch_up_amount"`
	CarriedInterest  float64 `json:"carried_interest"`
	TotalAmount      float64 `json:"total_amount"`
}

// Result is the full audit record of one waterfall evaluation.
type Result struct {
	StructureName       string               `json:"structure_name,omitempty"`
	Algorithm           Algorithm            `json:"algorithm"`
	Amount              float64              `json:"amount"`
	TierDistributions   []TierResult         `json:"tier_distributions"`
	InvestorAllocations []InvestorAllocation `json:"investor_allocations"`
	GPAllocation        GPAllocation         `json:"gp_allocation"`
	UpdatedAccounts     []capital.Account    `json:"updated_accounts"`
}

// Deltas returns the per-investor ledger deltas of this evaluation.
func (r *Result) Deltas() []capital.Delta {
	out := make([]capital.Delta, 0, len(r.InvestorAllocations))
	for _, a := range r.InvestorAllocations {
		out = append(out, capital.Delta{
			InvestorID:        a.InvestorID,
			ReturnOfCapital:   a.ReturnOfCapital,
			PreferredAccrued:  a.PreferredAccrued,
			PreferredReturn:   a.PreferredReturn,
			TotalDistribution: a.Total,
		})
	}
	return out
}
