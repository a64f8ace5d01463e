package capital

import (
	"fmt"
	"time"
)

// Ledger is an ordered set of account snapshots keyed by investor id.
type Ledger struct {
	order    []string
	accounts map[string]Account
}

// NewLedger builds a ledger from accounts. Duplicate investor ids are rejected.
func NewLedger(accounts []Account) (*Ledger, error) {
	l := &Ledger{accounts: make(map[string]Account, len(accounts))}
	for _, a := range accounts {
		if _, exists := l.accounts[a.InvestorID]; exists {
			return nil, fmt.Errorf("duplicate capital account for investor '%s'", a.InvestorID)
		}
		l.order = append(l.order, a.InvestorID)
		l.accounts[a.InvestorID] = a
	}
	return l, nil
}

// Get returns the snapshot for id.
func (l *Ledger) Get(id string) (Account, bool) {
	a, ok := l.accounts[id]
	return a, ok
}

// Accounts returns snapshots in insertion order.
func (l *Ledger) Accounts() []Account {
	out := make([]Account, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.accounts[id])
	}
	return out
}

// Len is the number of accounts.
func (l *Ledger) Len() int { return len(l.order) }

// Clone returns an independent copy.
func (l *Ledger) Clone() *Ledger {
	c := &Ledger{
		order:    append([]string(nil), l.order...),
		accounts: make(map[string]Account, len(l.accounts)),
	}
	for k, v := range l.accounts {
		c.accounts[k] = v
	}
	return c
}

// FoldAll returns a new ledger with every delta applied. Deltas for unknown
// investors open a fresh account.
func (l *Ledger) FoldAll(deltas []Delta, eventDate time.Time) *Ledger {
	out := l.Clone()
	for _, d := range deltas {
		a, ok := out.accounts[d.InvestorID]
		if !ok {
			a = Account{InvestorID: d.InvestorID}
			out.order = append(out.order, d.InvestorID)
		}
		out.accounts[d.InvestorID] = Fold(a, d, eventDate)
	}
	return out
}

// Put returns a new ledger with accounts replacing any snapshot of the same
// investor. New investors are appended.
func (l *Ledger) Put(accounts ...Account) *Ledger {
	out := l.Clone()
	for _, a := range accounts {
		if _, ok := out.accounts[a.InvestorID]; !ok {
			out.order = append(out.order, a.InvestorID)
		}
		out.accounts[a.InvestorID] = a
	}
	return out
}
