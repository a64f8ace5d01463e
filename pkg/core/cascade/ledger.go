package cascade

import (
	"capital_waterfall/pkg/core/capital"
	"capital_waterfall/pkg/core/waterfall"
)

// LevelDeltas are the ledger changes one event makes to one level's accounts.
type LevelDeltas struct {
	Level         int             `json:"level"`
	StructureName string          `json:"structure_name,omitempty"`
	Deltas        []capital.Delta `json:"deltas"`
}

// LedgerDeltas lists, per level, what a caller must fold into its capital
// account ledger after persisting r. Waterfall levels carry the full tier
// breakdown including preferred accrual; pro-rata levels only move
// distributions received.
func LedgerDeltas(r *Result) []LevelDeltas {
	var out []LevelDeltas
	for _, l := range r.Levels {
		if l.Method == MethodNone {
			continue
		}
		ld := LevelDeltas{Level: l.Level, StructureName: l.StructureName}
		if l.Method == MethodWaterfall && l.Waterfall != nil {
			ld.Deltas = l.Waterfall.Deltas()
			if gp := l.Waterfall.GPAllocation; gp.TotalAmount > 0 {
				ld.Deltas = append(ld.Deltas, capital.Delta{
					InvestorID:        gp.GeneralPartnerID,
					TotalDistribution: gp.TotalAmount,
				})
			}
		} else {
			for _, a := range r.Allocations {
				if a.HierarchyLevel != l.Level {
					continue
				}
				ld.Deltas = append(ld.Deltas, capital.Delta{
					InvestorID:        a.InvestorID,
					TotalDistribution: a.BaseAllocation,
				})
			}
		}
		out = append(out, ld)
	}
	return out
}

// FoldLedger returns level's ledger after r. Waterfall levels take the
// engine's post-event snapshots, which already carry commitments for investors
// the ledger has not seen, plus the GP's distribution. Other levels fold the
// distribution deltas. The input ledger is not modified.
func FoldLedger(r *Result, level int, ledger *capital.Ledger) *capital.Ledger {
	for _, l := range r.Levels {
		if l.Level != level || l.Method == MethodNone {
			continue
		}
		if l.Method == MethodWaterfall && l.Waterfall != nil {
			next := ledger.Put(l.Waterfall.UpdatedAccounts...)
			if gp := l.Waterfall.GPAllocation; gp.TotalAmount > 0 {
				next = next.FoldAll([]capital.Delta{{
					InvestorID:        gp.GeneralPartnerID,
					TotalDistribution: gp.TotalAmount,
				}}, r.DistributionDate)
			}
			return next
		}
		for _, ld := range LedgerDeltas(r) {
			if ld.Level == level {
				return ledger.FoldAll(ld.Deltas, r.DistributionDate)
			}
		}
	}
	return ledger.Clone()
}

// ResolvePresets fills WaterfallStructure for every node (and the flat form)
// that names a preset. Unknown names are configuration errors.
func ResolvePresets(req *Request, presets *waterfall.Presets) error {
	resolve := func(name string) (*waterfall.Structure, error) {
		s, ok := presets.Get(name)
		if !ok {
			return nil, fmtConfig("unknown waterfall preset %q", name)
		}
		return &s, nil
	}
	if req.Waterfall == nil && req.WaterfallPreset != "" {
		s, err := resolve(req.WaterfallPreset)
		if err != nil {
			return err
		}
		req.Waterfall = s
	}
	for i := range req.Hierarchy {
		n := &req.Hierarchy[i]
		if n.WaterfallStructure == nil && n.WaterfallPreset != "" {
			s, err := resolve(n.WaterfallPreset)
			if err != nil {
				return err
			}
			n.WaterfallStructure = s
			n.ApplyWaterfallAtThisLevel = true
		}
	}
	return nil
}
