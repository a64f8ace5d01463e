// Package taxalloc apportions a distribution's declared tax classification
// (return of capital, income, capital gain) across hierarchy levels and
// investors in proportion to what each actually received.
package taxalloc

import (
	"fmt"
	"math"

	"capital_waterfall/pkg/core/waterfall"
)

// Classification is the declared tax character of a whole distribution.
type Classification struct {
	ReturnOfCapital float64 `json:"return_of_capital"`
	Income          float64 `json:"income"`
	CapitalGain     float64 `json:"capital_gain"`
}

// Total is the sum of all categories.
func (c Classification) Total() float64 {
	return c.ReturnOfCapital + c.Income + c.CapitalGain
}

// Declared reports whether any category carries an amount.
func (c Classification) Declared() bool {
	return c.ReturnOfCapital != 0 || c.Income != 0 || c.CapitalGain != 0
}

// Validate checks that a declared classification is non-negative and sums to total.
func (c Classification) Validate(total float64) error {
	if !c.Declared() {
		return nil
	}
	categories := []struct {
		name  string
		value float64
	}{
		{"return_of_capital", c.ReturnOfCapital},
		{"income", c.Income},
		{"capital_gain", c.CapitalGain},
	}
	for _, cat := range categories {
		if cat.value < 0 || math.IsNaN(cat.value) || math.IsInf(cat.value, 0) {
			return fmt.Errorf("%w: tax category %s must be a non-negative number, got %v",
				waterfall.ErrInvalidRequest, cat.name, cat.value)
		}
	}
	if math.Abs(c.Total()-total) > waterfall.Tolerance(total) {
		return fmt.Errorf("%w: tax categories sum to %.2f, expected %.2f", waterfall.ErrInvalidRequest, c.Total(), total)
	}
	return nil
}

// LevelShare is one hierarchy level's subtotal and per-investor base allocations.
type LevelShare struct {
	Level    int
	Subtotal float64
	Bases    []float64
}

// Split is one investor's share of each tax category.
type Split struct {
	ReturnOfCapital float64 `json:"return_of_capital"`
	Income          float64 `json:"income"`
	CapitalGain     float64 `json:"capital_gain"`
}

// Allocate returns, per level and per investor, the tax category amounts.
// Each category is first apportioned to levels by subtotal/total, then within
// a level by base/subtotal, so rounding never compounds across levels. The
// last level and the last investor in each level absorb the remainder, which
// makes every category sum back to its declared amount.
func Allocate(c Classification, total float64, levels []LevelShare) ([][]Split, error) {
	if total <= 0 {
		return nil, fmt.Errorf("%w: tax allocation needs a positive total, got %v", waterfall.ErrInvalidRequest, total)
	}
	if err := c.Validate(total); err != nil {
		return nil, err
	}

	subtotals := make([]float64, len(levels))
	for i, l := range levels {
		subtotals[i] = l.Subtotal
	}
	rocByLevel, _ := waterfall.ProRata(c.ReturnOfCapital, subtotals)
	incByLevel, _ := waterfall.ProRata(c.Income, subtotals)
	cgByLevel, _ := waterfall.ProRata(c.CapitalGain, subtotals)

	out := make([][]Split, len(levels))
	for i, l := range levels {
		out[i] = make([]Split, len(l.Bases))
		if l.Subtotal <= 0 {
			continue
		}
		roc, _ := waterfall.ProRata(rocByLevel[i], l.Bases)
		inc, _ := waterfall.ProRata(incByLevel[i], l.Bases)
		cg, _ := waterfall.ProRata(cgByLevel[i], l.Bases)
		for j := range l.Bases {
			out[i][j] = Split{ReturnOfCapital: roc[j], Income: inc[j], CapitalGain: cg[j]}
		}
	}
	return out, nil
}
