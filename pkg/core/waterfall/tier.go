package waterfall

import (
	"math"
	"time"

	"capital_waterfall/pkg/core/capital"
)

// evaluation is the working state threaded through the tiers of one event.
type evaluation struct {
	accounts  []capital.Account // working copy, updated after each tier
	remaining float64

	inception    time.Time
	distribution time.Time

	// opening outstanding capital per account, the accrual basis for this event
	openingCapital []float64
	accrued        bool

	alloc []InvestorAllocation

	// catch-up context
	lpProfitThisEvent  float64
	gpThisEvent        float64
	lpProfitHistorical float64
	gpHistorical       float64

	gp GPAllocation
}

func newEvaluation(s Structure, amount float64, accounts []capital.Account, inception, distribution time.Time) *evaluation {
	e := &evaluation{
		accounts:       append([]capital.Account(nil), accounts...),
		remaining:      amount,
		inception:      inception,
		distribution:   distribution,
		openingCapital: make([]float64, len(accounts)),
		alloc:          make([]InvestorAllocation, len(accounts)),
		gp:             GPAllocation{GeneralPartnerID: s.GPID()},
	}
	for i, a := range accounts {
		e.openingCapital[i] = capital.OutstandingCapital(a)
		e.alloc[i] = InvestorAllocation{
			InvestorID:       a.InvestorID,
			InvestorName:     a.InvestorName,
			Category:         a.Category,
			OwnershipPercent: a.OwnershipPercent,
		}
	}
	if s.Algorithm == AlgorithmEuropean {
		for _, a := range accounts {
			e.lpProfitHistorical += a.PreferredReturnPaid
		}
		e.gpHistorical = s.PriorGPDistributions
	}
	return e
}

// runTier applies one tier against the remaining amount.
func (e *evaluation) runTier(t TierSpec) TierResult {
	res := TierResult{TierName: t.Label(), TierType: t.Type}

	// Accrual happens whether or not cash is left so the ledger reflects the
	// full entitlement for the period.
	if t.Type == TierPreferredReturn {
		e.accruePreferred(*t.PreferredRatePercent)
	}

	if e.remaining <= 0 {
		res.Skipped = true
		return res
	}

	switch t.Type {
	case TierReturnOfCapital:
		res.LPAmount = e.returnOfCapital()
	case TierPreferredReturn:
		res.LPAmount = e.preferredReturn()
	case TierGPCatchUp:
		res.GPAmount = e.catchUp(t.TargetCarryPercent)
	case TierResidualSplit:
		res.LPAmount, res.GPAmount = e.residualSplit(t.LPSplitPercent)
	}
	res.AmountDistributed = res.LPAmount + res.GPAmount

	before := e.remaining
	e.remaining -= res.AmountDistributed
	if math.Abs(e.remaining) <= Tolerance(before) {
		e.remaining = 0
	}
	return res
}

func (e *evaluation) returnOfCapital() float64 {
	weights := make([]float64, len(e.accounts))
	for i, a := range e.accounts {
		weights[i] = capital.OutstandingCapital(a)
	}
	shares := allocateCapped(e.remaining, weights, weights)

	total := 0.0
	for i, s := range shares {
		e.accounts[i].CapitalReturned += s
		e.accounts[i].DistributionsReceived += s
		e.alloc[i].ReturnOfCapital += s
		e.alloc[i].Total += s
		total += s
	}
	return total
}

// accruePreferred adds this period's hurdle accrual to every account, once per
// event, on the capital outstanding when the event opened.
func (e *evaluation) accruePreferred(ratePercent float64) {
	if e.accrued {
		return
	}
	e.accrued = true
	for i := range e.accounts {
		start := e.inception
		if !e.accounts[i].LastEventDate.IsZero() {
			start = e.accounts[i].LastEventDate
		}
		years := float64(daysBetween(start, e.distribution)) / 365
		accrual := e.openingCapital[i] * ratePercent / 100 * years
		e.accounts[i].PreferredReturnAccrued += accrual
		e.alloc[i].PreferredAccrued += accrual
	}
}

func (e *evaluation) preferredReturn() float64 {
	weights := make([]float64, len(e.accounts))
	for i, a := range e.accounts {
		weights[i] = capital.OutstandingPreferred(a)
	}
	shares := allocateCapped(e.remaining, weights, weights)

	total := 0.0
	for i, s := range shares {
		e.accounts[i].PreferredReturnPaid += s
		e.accounts[i].DistributionsReceived += s
		e.alloc[i].PreferredReturn += s
		e.alloc[i].Total += s
		total += s
	}
	e.lpProfitThisEvent += total
	return total
}

// catchUp pays the GP until GP dollars reach carry/(1-carry) of LP profit.
func (e *evaluation) catchUp(carryPercent float64) float64 {
	lpProfit := e.lpProfitThisEvent + e.lpProfitHistorical
	gpPaid := e.gpThisEvent + e.gpHistorical

	target := carryPercent / (100 - carryPercent) * lpProfit
	amount := math.Max(0, target-gpPaid)
	amount = math.Min(amount, e.remaining)

	e.gpThisEvent += amount
	e.gp.CatchUpAmount += amount
	e.gp.TotalAmount += amount
	return amount
}

func (e *evaluation) residualSplit(lpPercent float64) (float64, float64) {
	lp := e.remaining * lpPercent / 100
	gp := e.remaining - lp

	weights := make([]float64, len(e.accounts))
	for i, a := range e.accounts {
		weights[i] = a.OwnershipPercent
	}
	shares, ok := ProRata(lp, weights)
	if !ok {
		for i, a := range e.accounts {
			weights[i] = a.CapitalContributed
		}
		shares, ok = ProRata(lp, weights)
	}
	if !ok {
		for i := range weights {
			weights[i] = 1
		}
		shares, _ = ProRata(lp, weights)
	}

	for i, s := range shares {
		e.accounts[i].DistributionsReceived += s
		e.alloc[i].ResidualShare += s
		e.alloc[i].Total += s
	}
	e.lpProfitThisEvent += lp
	e.gpThisEvent += gp
	e.gp.CarriedInterest += gp
	e.gp.TotalAmount += gp
	return lp, gp
}

// daysBetween counts whole calendar days from start to end, never negative.
func daysBetween(start, end time.Time) int {
	if start.IsZero() || end.IsZero() || !end.After(start) {
		return 0
	}
	s := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	d := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	return int(math.Round(d.Sub(s).Hours() / 24))
}
