package waterfall

// ProRata splits amount across weights. Weights need not sum to any particular
// value; they are normalized by their own total. The last recipient with a
// positive weight takes the remainder so the shares always sum to amount
// exactly. Returns false when no weight is positive.
func ProRata(amount float64, weights []float64) ([]float64, bool) {
	shares := make([]float64, len(weights))
	total := 0.0
	last := -1
	for i, w := range weights {
		if w > 0 {
			total += w
			last = i
		}
	}
	if last < 0 {
		return shares, false
	}

	distributed := 0.0
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		if i == last {
			shares[i] = amount - distributed
			break
		}
		shares[i] = amount * w / total
		distributed += shares[i]
	}
	return shares, true
}

// allocateCapped distributes up to amount pro-rata by weight while never giving
// recipient i more than caps[i] (waterline allocation). Recipients that hit
// their cap drop out and the residual is re-spread over the rest. Every pass
// either caps at least one recipient or places the whole residual, so the loop
// ends within len(weights) passes.
//
// The returned shares sum to min(amount, sum(caps)).
func allocateCapped(amount float64, weights, caps []float64) []float64 {
	n := len(weights)
	shares := make([]float64, n)
	if amount <= 0 {
		return shares
	}

	totalCap := 0.0
	for i := range caps {
		if caps[i] > 0 && weights[i] > 0 {
			totalCap += caps[i]
		}
	}
	if amount >= totalCap {
		for i := range caps {
			if caps[i] > 0 && weights[i] > 0 {
				shares[i] = caps[i]
			}
		}
		return shares
	}

	active := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if caps[i] > 0 && weights[i] > 0 {
			active = append(active, i)
		}
	}

	left := amount
	for pass := 0; pass < n && len(active) > 0; pass++ {
		totalW := 0.0
		for _, i := range active {
			totalW += weights[i]
		}

		next := make([]int, 0, len(active))
		cappedAny := false
		for _, i := range active {
			want := left * weights[i] / totalW
			if want >= caps[i] {
				shares[i] = caps[i]
				cappedAny = true
			} else {
				next = append(next, i)
			}
		}

		if !cappedAny {
			w := make([]float64, len(active))
			for k, i := range active {
				w[k] = weights[i]
			}
			split, _ := ProRata(left, w)
			for k, i := range active {
				shares[i] = split[k]
			}
			return shares
		}

		// Residual after caps, derived from the running total so the final pass
		// lands exactly on amount.
		placed := 0.0
		for i := range shares {
			placed += shares[i]
		}
		left = amount - placed
		active = next
	}
	return shares
}
