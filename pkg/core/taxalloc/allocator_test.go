package taxalloc

import (
	"testing"

	"capital_waterfall/pkg/core/waterfall"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	assert.NoError(t, Classification{}.Validate(1_000_000), "undeclared classification is allowed")
	assert.NoError(t, Classification{ReturnOfCapital: 500_000, Income: 300_000, CapitalGain: 200_000}.Validate(1_000_000))

	err := Classification{ReturnOfCapital: 500_000, Income: 299_000, CapitalGain: 200_000}.Validate(1_000_000)
	assert.ErrorIs(t, err, waterfall.ErrInvalidRequest)

	err = Classification{ReturnOfCapital: 1_100_000, Income: -100_000}.Validate(1_000_000)
	assert.ErrorIs(t, err, waterfall.ErrInvalidRequest)
}

func TestAllocate_ReconcilesPerCategory(t *testing.T) {
	class := Classification{ReturnOfCapital: 400_000, Income: 350_000, CapitalGain: 250_000}
	levels := []LevelShare{
		{Level: 2, Subtotal: 300_000, Bases: []float64{100_000, 200_000}},
		{Level: 1, Subtotal: 700_000, Bases: []float64{350_000, 233_333.33, 116_666.67}},
	}
	splits, err := Allocate(class, 1_000_000, levels)
	require.NoError(t, err)
	require.Len(t, splits, 2)

	var roc, inc, cg float64
	for _, level := range splits {
		for _, s := range level {
			roc += s.ReturnOfCapital
			inc += s.Income
			cg += s.CapitalGain
		}
	}
	assert.InDelta(t, class.ReturnOfCapital, roc, 1e-6)
	assert.InDelta(t, class.Income, inc, 1e-6)
	assert.InDelta(t, class.CapitalGain, cg, 1e-6)

	// investor share of a category = declared * base / total
	assert.InDelta(t, 400_000*100_000/1_000_000.0, splits[0][0].ReturnOfCapital, 1e-6)
	assert.InDelta(t, 250_000*350_000/1_000_000.0, splits[1][0].CapitalGain, 1e-6)

	// each investor's categories add back to its base allocation
	for i, level := range splits {
		for j, s := range level {
			assert.InDelta(t, levels[i].Bases[j], s.ReturnOfCapital+s.Income+s.CapitalGain, 1e-6)
		}
	}
}

func TestAllocate_ZeroSubtotalLevel(t *testing.T) {
	splits, err := Allocate(Classification{Income: 100}, 100, []LevelShare{
		{Level: 2, Subtotal: 0, Bases: []float64{0}},
		{Level: 1, Subtotal: 100, Bases: []float64{60, 40}},
	})
	require.NoError(t, err)
	assert.Zero(t, splits[0][0].Income)
	assert.InDelta(t, 60, splits[1][0].Income, 1e-9)
	assert.InDelta(t, 40, splits[1][1].Income, 1e-9)
}

func TestAllocate_RejectsMismatch(t *testing.T) {
	_, err := Allocate(Classification{Income: 999_000}, 1_000_000, nil)
	assert.ErrorIs(t, err, waterfall.ErrInvalidRequest)
}
