// Package cascade resolves one distribution event across a multi-level
// ownership hierarchy: it decides how much each level receives, runs the
// waterfall or a pro-rata split per level, and apportions the declared tax
// classification to every resulting allocation.
package cascade

import (
	"time"

	"capital_waterfall/pkg/core/capital"
	"capital_waterfall/pkg/core/taxalloc"
	"capital_waterfall/pkg/core/waterfall"
)

// Position is one investor's stake in one hierarchy level.
type Position struct {
	InvestorID   string                   `json:"investor_id"`
	InvestorName string                   `json:"investor_name,omitempty"`
	Category     capital.InvestorCategory `json:"category,omitempty"`

	// OwnershipPercent is scoped to the investor's own level.
	OwnershipPercent float64 `json:"ownership_percent"`
	// OwnershipOfParent is the share (0-100) of the parent level's distributable
	// amount attributable to this investor's level. Summed across the level.
	OwnershipOfParent float64 `json:"ownership_of_parent,omitempty"`

	Commitment float64 `json:"commitment,omitempty"`
	// Account is the prior ledger snapshot. Nil means no history: contributed
	// equals Commitment and everything else is zero.
	Account *capital.Account `json:"account,omitempty"`
}

// HierarchyNode is one level of an ownership hierarchy. Level 1 is the
// investor-facing master; larger numbers are deeper.
type HierarchyNode struct {
	Level         int        `json:"level"`
	StructureName string     `json:"structure_name,omitempty"`
	Investors     []Position `json:"investors"`

	ApplyWaterfallAtThisLevel bool                 `json:"apply_waterfall_at_this_level"`
	WaterfallStructure        *waterfall.Structure `json:"waterfall_structure,omitempty"`
	// WaterfallPreset names a configured structure; see ResolvePresets.
	WaterfallPreset string `json:"waterfall_preset,omitempty"`
}

// Request is one distribution event.
type Request struct {
	EventID           string                  `json:"event_id,omitempty"`
	TotalAmount       float64                 `json:"total_amount"`
	Currency          string                  `json:"currency,omitempty"`
	DistributionDate  time.Time               `json:"distribution_date"`
	InceptionDate     time.Time               `json:"inception_date"`
	TaxClassification taxalloc.Classification `json:"tax_classification"`

	// Flat form: a single level built from these fields.
	StructureName   string               `json:"structure_name,omitempty"`
	Investors       []Position           `json:"investors,omitempty"`
	Waterfall       *waterfall.Structure `json:"waterfall,omitempty"`
	WaterfallPreset string               `json:"waterfall_preset,omitempty"`

	// Hierarchical form. Takes precedence over the flat form when non-empty.
	Hierarchy []HierarchyNode `json:"hierarchy,omitempty"`
}

// Method is how a level's payable amount was split.
type Method string

const (
	MethodWaterfall Method = "waterfall"
	MethodProRata   Method = "pro_rata"
	MethodNone      Method = "none"
)

// InvestorAllocation is the final record for one recipient at one level.
type InvestorAllocation struct {
	InvestorID       string                   `json:"investor_id"`
	InvestorName     string                   `json:"investor_name,omitempty"`
	Category         capital.InvestorCategory `json:"category,omitempty"`
	OwnershipPercent float64                  `json:"ownership_percent"`

	BaseAllocation        float64  `json:"base_allocation"`
	ReturnOfCapitalAmount *float64 `json:"return_of_capital_amount,omitempty"`
	IncomeAmount          *float64 `json:"income_amount,omitempty"`
	CapitalGainAmount     *float64 `json:"capital_gain_amount,omitempty"`

	HierarchyLevel int    `json:"hierarchy_level"`
	StructureName  string `json:"structure_name,omitempty"`
	Method         Method `json:"method"`

	// Breakdown is the tier detail when the level ran a waterfall.
	Breakdown *waterfall.InvestorAllocation `json:"waterfall_breakdown,omitempty"`
}

// LevelSummary records how much flowed through one level.
type LevelSummary struct {
	Level         int    `json:"level"`
	StructureName string `json:"structure_name,omitempty"`
	Method        Method `json:"method"`
	InvestorCount int    `json:"investor_count"`

	// Available is what reached this level; ChildTotal was passed to the next
	// deeper level; Payable = Available - ChildTotal stayed here.
	Available         float64 `json:"available"`
	ChildOwnershipPct float64 `json:"child_ownership_percent"`
	ChildTotal        float64 `json:"child_total"`
	Payable           float64 `json:"payable"`
	Allocated         float64 `json:"allocated"`

	Waterfall *waterfall.Result `json:"waterfall,omitempty"`
}

// Result is the complete outcome of one event.
type Result struct {
	EventID          string    `json:"event_id,omitempty"`
	Currency         string    `json:"currency"`
	TotalAmount      float64   `json:"total_amount"`
	DistributionDate time.Time `json:"distribution_date"`

	// TaxClassification is the declared split, when one was declared.
	TaxClassification *taxalloc.Classification `json:"tax_classification,omitempty"`

	Levels      []LevelSummary       `json:"levels"`
	Allocations []InvestorAllocation `json:"allocations"`

	// Waterfall is the result at the shallowest level that applied one.
	Waterfall *waterfall.Result `json:"waterfall,omitempty"`
}

// TotalDistributed sums every allocation.
func (r *Result) TotalDistributed() float64 {
	total := 0.0
	for _, a := range r.Allocations {
		total += a.BaseAllocation
	}
	return total
}
