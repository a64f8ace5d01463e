package store

import (
	"context"
	"io/fs"
	"os"
	"sync"
	"testing"
	"time"

	"capital_waterfall/pkg/core/cascade"
	"capital_waterfall/pkg/core/waterfall"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	inception = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	firstDate = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
)

func fundRequest(eventID string, amount float64, date time.Time) cascade.Request {
	pref := 8.0
	return cascade.Request{
		EventID:          eventID,
		TotalAmount:      amount,
		DistributionDate: date,
		InceptionDate:    inception,
		Hierarchy: []cascade.HierarchyNode{
			{
				Level:                     1,
				StructureName:             "Master Trust",
				ApplyWaterfallAtThisLevel: true,
				WaterfallStructure: &waterfall.Structure{
					Name:             "8/20",
					GeneralPartnerID: "gp",
					Tiers: []waterfall.TierSpec{
						{Type: waterfall.TierReturnOfCapital},
						{Type: waterfall.TierPreferredReturn, PreferredRatePercent: &pref},
						{Type: waterfall.TierGPCatchUp, TargetCarryPercent: 20},
						{Type: waterfall.TierResidualSplit, LPSplitPercent: 80, GPSplitPercent: 20},
					},
				},
				Investors: []cascade.Position{
					{InvestorID: "A", OwnershipPercent: 60, Commitment: 600_000},
					{InvestorID: "B", OwnershipPercent: 40, Commitment: 400_000},
				},
			},
			{
				Level:         2,
				StructureName: "Feeder/One",
				Investors: []cascade.Position{
					{InvestorID: "C", OwnershipPercent: 100, OwnershipOfParent: 10},
				},
			},
		},
	}
}

func newCache(t *testing.T) *ResultCache {
	t.Helper()
	c, err := NewResultCache(t.TempDir())
	require.NoError(t, err)
	return c
}

func TestResultCache_SaveLoad(t *testing.T) {
	ctx := context.Background()
	c := newCache(t)

	res, err := cascade.ComputeDistribution(fundRequest("evt/1", 500_000, firstDate))
	require.NoError(t, err)
	require.NoError(t, c.Save(ctx, res))

	loaded, err := c.Load(ctx, "evt/1")
	require.NoError(t, err)
	assert.Equal(t, res.EventID, loaded.EventID)
	assert.Len(t, loaded.Allocations, len(res.Allocations))
	assert.InDelta(t, 500_000, loaded.TotalDistributed(), 1e-6)

	_, err = c.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResultCache_AtMostOnce(t *testing.T) {
	ctx := context.Background()
	c := newCache(t)

	res, err := cascade.ComputeDistribution(fundRequest("evt-1", 500_000, firstDate))
	require.NoError(t, err)
	require.NoError(t, c.Save(ctx, res))

	assert.ErrorIs(t, c.Save(ctx, res), ErrAlreadyApplied)

	ledger, err := c.LoadAccounts(ctx, "Master Trust")
	require.NoError(t, err)
	a, ok := ledger.Get("A")
	require.True(t, ok)
	// 450,000 reaches the master and is all return of capital; applied once.
	assert.InDelta(t, 270_000, a.CapitalReturned, 1e-6)
}

func TestResultCache_ConcurrentSaves(t *testing.T) {
	ctx := context.Background()
	c := newCache(t)
	res, err := cascade.ComputeDistribution(fundRequest("evt-1", 500_000, firstDate))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = c.Save(ctx, res)
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, ErrAlreadyApplied)
		}
	}
	assert.Equal(t, 1, ok)
}

func TestResultCache_LedgerCarriesAcrossEvents(t *testing.T) {
	ctx := context.Background()
	c := newCache(t)

	first, err := cascade.ComputeDistribution(fundRequest("evt-1", 500_000, firstDate))
	require.NoError(t, err)
	require.NoError(t, c.Save(ctx, first))

	feeder, err := c.LoadAccounts(ctx, "Feeder/One")
	require.NoError(t, err)
	fc, ok := feeder.Get("C")
	require.True(t, ok)
	assert.InDelta(t, 50_000, fc.DistributionsReceived, 1e-6)

	// Second event half a year later sees the first event's returned capital.
	second := fundRequest("evt-2", 1_000_000, firstDate.AddDate(0, 6, 0))
	require.NoError(t, Hydrate(ctx, c, &second))
	require.NotNil(t, second.Hierarchy[0].Investors[0].Account)
	assert.InDelta(t, 270_000, second.Hierarchy[0].Investors[0].Account.CapitalReturned, 1e-6)
	assert.Equal(t, firstDate, second.Hierarchy[0].Investors[0].Account.LastEventDate)

	res, err := cascade.ComputeDistribution(second)
	require.NoError(t, err)
	lp := res.Levels[0].Waterfall.InvestorAllocations[0]
	// A has 330,000 outstanding after the first event.
	assert.InDelta(t, 330_000, lp.ReturnOfCapital, 1e-6)

	require.NoError(t, c.Save(ctx, res))
	master, err := c.LoadAccounts(ctx, "Master Trust")
	require.NoError(t, err)
	a, _ := master.Get("A")
	assert.InDelta(t, 600_000, a.CapitalReturned, 1e-6)
	gp, ok := master.Get("gp")
	require.True(t, ok)
	assert.Greater(t, gp.DistributionsReceived, 0.0)
}

func TestFileKey(t *testing.T) {
	assert.Equal(t, "_default", fileKey(""))
	assert.Equal(t, "k_a%2Fb", fileKey("a/b"))
	assert.NotEqual(t, fileKey("a b"), fileKey("a_b"))
}

func TestResultCache_FailedSaveAppliesNothing(t *testing.T) {
	tests := []struct {
		name  string
		block func(c *ResultCache) string
	}{
		{"unreadable ledger", func(c *ResultCache) string { return c.accountsPath("Feeder/One") }},
		{"unwritable staging file", func(c *ResultCache) string { return c.accountsPath("Feeder/One") + ".tmp" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			c := newCache(t)
			res, err := cascade.ComputeDistribution(fundRequest("ev-1", 2_000_000, firstDate))
			require.NoError(t, err)
			gpTotal := allocationTotal(res, "gp")
			require.Greater(t, gpTotal, 0.0)

			blocked := tt.block(c)
			require.NoError(t, os.Mkdir(blocked, 0o755))
			require.Error(t, c.Save(ctx, res))

			master, err := c.LoadAccounts(ctx, "Master Trust")
			require.NoError(t, err)
			_, ok := master.Get("gp")
			assert.False(t, ok, "master ledger untouched")
			_, err = c.Load(ctx, "ev-1")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, os.Remove(blocked))
			require.NoError(t, c.Save(ctx, res))
			assert.ErrorIs(t, c.Save(ctx, res), ErrAlreadyApplied)

			master, err = c.LoadAccounts(ctx, "Master Trust")
			require.NoError(t, err)
			gp, ok := master.Get("gp")
			require.True(t, ok)
			assert.InDelta(t, gpTotal, gp.DistributionsReceived, 1e-6)
		})
	}
}

func TestResultCache_RestoreLedgers(t *testing.T) {
	c := newCache(t)
	existing := c.accountsPath("Master Trust")
	require.NoError(t, os.WriteFile(existing, []byte(`[{"investor_id":"A"}]`), 0o644))
	created := c.accountsPath("Feeder/One")
	require.NoError(t, os.WriteFile(created, []byte(`[]`), 0o644))

	c.restoreLedgers([]stagedLedger{
		{structure: "Master Trust", path: existing, tmp: existing + ".tmp", prior: []byte(`[]`)},
		{structure: "Feeder/One", path: created, tmp: created + ".tmp"},
	})

	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
	_, err = os.Stat(created)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestHydrate_CommitmentRaisesContribution(t *testing.T) {
	ctx := context.Background()
	c := newCache(t)

	first, err := cascade.ComputeDistribution(fundRequest("evt-1", 500_000, firstDate))
	require.NoError(t, err)
	require.NoError(t, c.Save(ctx, first))

	// A's capital returned is 270,000 of 600,000; a further 300,000 is called.
	second := fundRequest("evt-2", 1_000_000, firstDate.AddDate(0, 6, 0))
	second.Hierarchy[0].Investors[0].Commitment = 900_000
	require.NoError(t, Hydrate(ctx, c, &second))

	a := second.Hierarchy[0].Investors[0].Account
	require.NotNil(t, a)
	assert.InDelta(t, 900_000, a.CapitalContributed, 1e-6)
	assert.InDelta(t, 270_000, a.CapitalReturned, 1e-6)

	// a smaller commitment never lowers what is on record
	third := fundRequest("evt-3", 1_000_000, firstDate.AddDate(0, 6, 0))
	third.Hierarchy[0].Investors[0].Commitment = 100_000
	require.NoError(t, Hydrate(ctx, c, &third))
	assert.InDelta(t, 600_000, third.Hierarchy[0].Investors[0].Account.CapitalContributed, 1e-6)
}

func allocationTotal(r *cascade.Result, id string) float64 {
	total := 0.0
	for _, a := range r.Allocations {
		if a.InvestorID == id {
			total += a.BaseAllocation
		}
	}
	return total
}

func TestHydrate_EmptyStoreLeavesPositions(t *testing.T) {
	c := newCache(t)
	req := fundRequest("evt-1", 500_000, firstDate)
	require.NoError(t, Hydrate(context.Background(), c, &req))
	for _, n := range req.Hierarchy {
		for _, p := range n.Investors {
			assert.Nil(t, p.Account, p.InvestorID)
		}
	}
}
