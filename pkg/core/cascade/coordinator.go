package cascade

import (
	"capital_waterfall/pkg/core/capital"
	"capital_waterfall/pkg/core/taxalloc"
	"capital_waterfall/pkg/core/waterfall"
)

// DefaultCurrency is used when a request does not carry one.
const DefaultCurrency = "USD"

// ComputeDistribution resolves one event into allocations for every level.
//
// Cash enters at the shallowest level. Each deeper level takes
// available * sum(OwnershipOfParent)/100 of its parent's available amount and
// the parent keeps the rest, so level amounts always add up to TotalAmount.
// Levels are funded and reported deepest first.
func ComputeDistribution(req Request) (*Result, error) {
	nodes, err := levels(req)
	if err != nil {
		return nil, err
	}

	summaries := make([]LevelSummary, len(nodes))
	available := req.TotalAmount
	for i, n := range nodes {
		s := LevelSummary{
			Level:         n.Level,
			StructureName: n.StructureName,
			InvestorCount: len(n.Investors),
			Available:     available,
		}
		if i+1 < len(nodes) {
			pct, err := childOwnership(nodes[i+1])
			if err != nil {
				return nil, err
			}
			s.ChildOwnershipPct = pct
			s.ChildTotal = available * pct / 100
		}
		s.Payable = available - s.ChildTotal
		if s.Payable > 0 && len(n.Investors) == 0 {
			return nil, invalid("level %d has %.2f payable but no investors", n.Level, s.Payable)
		}
		summaries[i] = s
		available = s.ChildTotal
	}

	result := &Result{
		EventID:          req.EventID,
		Currency:         req.Currency,
		TotalAmount:      req.TotalAmount,
		DistributionDate: req.DistributionDate,
	}
	if result.Currency == "" {
		result.Currency = DefaultCurrency
	}

	var shares []taxalloc.LevelShare
	var ranges [][2]int
	for i := len(nodes) - 1; i >= 0; i-- {
		n, s := nodes[i], &summaries[i]
		if s.Payable <= 0 || len(n.Investors) == 0 {
			s.Method = MethodNone
			continue
		}

		var allocs []InvestorAllocation
		if n.ApplyWaterfallAtThisLevel && n.WaterfallStructure != nil {
			wf, err := waterfall.Evaluate(*n.WaterfallStructure, s.Payable, accountsFor(n), req.InceptionDate, req.DistributionDate)
			if err != nil {
				return nil, err
			}
			s.Method = MethodWaterfall
			s.Waterfall = wf
			result.Waterfall = wf
			allocs = waterfallAllocations(n, wf)
		} else {
			s.Method = MethodProRata
			allocs, err = proRataAllocations(n, s.Payable)
			if err != nil {
				return nil, err
			}
		}

		bases := make([]float64, len(allocs))
		for j, a := range allocs {
			s.Allocated += a.BaseAllocation
			bases[j] = a.BaseAllocation
		}
		start := len(result.Allocations)
		result.Allocations = append(result.Allocations, allocs...)
		ranges = append(ranges, [2]int{start, len(result.Allocations)})
		shares = append(shares, taxalloc.LevelShare{Level: n.Level, Subtotal: s.Payable, Bases: bases})
	}

	// Reported shallowest first for display; allocations stay in funding order.
	result.Levels = summaries

	if req.TaxClassification.Declared() {
		class := req.TaxClassification
		result.TaxClassification = &class
		splits, err := taxalloc.Allocate(req.TaxClassification, req.TotalAmount, shares)
		if err != nil {
			return nil, err
		}
		for li, r := range ranges {
			for j := r[0]; j < r[1]; j++ {
				sp := splits[li][j-r[0]]
				roc, inc, cg := sp.ReturnOfCapital, sp.Income, sp.CapitalGain
				result.Allocations[j].ReturnOfCapitalAmount = &roc
				result.Allocations[j].IncomeAmount = &inc
				result.Allocations[j].CapitalGainAmount = &cg
			}
		}
	}

	if v := Verify(result, req.TaxClassification); !v.IsBalanced {
		return nil, v.Err()
	}
	return result, nil
}

// accountsFor builds the waterfall input for a level from prior snapshots or,
// when an investor has no history, from the commitment alone.
func accountsFor(n HierarchyNode) []capital.Account {
	accounts := make([]capital.Account, len(n.Investors))
	for i, p := range n.Investors {
		var a capital.Account
		if p.Account != nil {
			a = *p.Account
		} else {
			a.CapitalContributed = p.Commitment
		}
		a.InvestorID = p.InvestorID
		if p.InvestorName != "" {
			a.InvestorName = p.InvestorName
		}
		if p.Category != "" {
			a.Category = p.Category
		}
		a.OwnershipPercent = p.OwnershipPercent
		accounts[i] = a
	}
	return accounts
}

func waterfallAllocations(n HierarchyNode, wf *waterfall.Result) []InvestorAllocation {
	allocs := make([]InvestorAllocation, 0, len(wf.InvestorAllocations)+1)
	for i := range wf.InvestorAllocations {
		lp := wf.InvestorAllocations[i]
		allocs = append(allocs, InvestorAllocation{
			InvestorID:       lp.InvestorID,
			InvestorName:     lp.InvestorName,
			Category:         lp.Category,
			OwnershipPercent: lp.OwnershipPercent,
			BaseAllocation:   lp.Total,
			HierarchyLevel:   n.Level,
			StructureName:    n.StructureName,
			Method:           MethodWaterfall,
			Breakdown:        &lp,
		})
	}
	if wf.GPAllocation.TotalAmount > 0 {
		allocs = append(allocs, InvestorAllocation{
			InvestorID:     wf.GPAllocation.GeneralPartnerID,
			InvestorName:   "General Partner",
			Category:       capital.CategoryGeneralPartner,
			BaseAllocation: wf.GPAllocation.TotalAmount,
			HierarchyLevel: n.Level,
			StructureName:  n.StructureName,
			Method:         MethodWaterfall,
		})
	}
	return allocs
}

// proRataAllocations splits payable by OwnershipPercent normalized by the
// level's own sum, so ownership that adds up to 99.98 still reconciles.
func proRataAllocations(n HierarchyNode, payable float64) ([]InvestorAllocation, error) {
	weights := make([]float64, len(n.Investors))
	for i, p := range n.Investors {
		weights[i] = p.OwnershipPercent
	}
	amounts, ok := waterfall.ProRata(payable, weights)
	if !ok {
		return nil, invalid("level %d ownership percentages sum to zero", n.Level)
	}

	allocs := make([]InvestorAllocation, len(n.Investors))
	for i, p := range n.Investors {
		allocs[i] = InvestorAllocation{
			InvestorID:       p.InvestorID,
			InvestorName:     p.InvestorName,
			Category:         p.Category,
			OwnershipPercent: p.OwnershipPercent,
			BaseAllocation:   amounts[i],
			HierarchyLevel:   n.Level,
			StructureName:    n.StructureName,
			Method:           MethodProRata,
		}
	}
	return allocs, nil
}
