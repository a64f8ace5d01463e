// Package report renders a computed distribution as a Markdown statement and
// as a standalone HTML page.
package report

import (
	"fmt"
	"html"
	"strings"

	"capital_waterfall/pkg/core/cascade"
	"capital_waterfall/pkg/core/utils"

	"github.com/shopspring/decimal"
)

// Money formats an amount to cents with thousands separators. Rounding is
// half away from zero on the decimal value, not on the binary float.
func Money(v float64) string {
	s := decimal.NewFromFloat(v).Round(2).StringFixed(2)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, frac = s[:i], s[i:]
	}
	var b strings.Builder
	for i, c := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	return sign + b.String() + frac
}

// Percent formats a 0-100 percentage to at most four decimals.
func Percent(v float64) string {
	return decimal.NewFromFloat(v).Round(4).String() + "%"
}

// Markdown renders the statement for one event.
func Markdown(r *cascade.Result) string {
	var b strings.Builder

	title := "Distribution"
	if r.EventID != "" {
		title += " " + r.EventID
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	if !r.DistributionDate.IsZero() {
		fmt.Fprintf(&b, "- **Date:** %s\n", r.DistributionDate.UTC().Format("2006-01-02"))
	}
	fmt.Fprintf(&b, "- **Total:** %s %s\n", Money(r.TotalAmount), r.Currency)
	fmt.Fprintf(&b, "- **Distributed:** %s %s\n\n", Money(r.TotalDistributed()), r.Currency)

	b.WriteString("## Levels\n\n")
	b.WriteString("| Level | Structure | Method | Investors | Available | Passed down | Payable |\n")
	b.WriteString("|---:|---|---|---:|---:|---:|---:|\n")
	for _, l := range r.Levels {
		fmt.Fprintf(&b, "| %d | %s | %s | %d | %s | %s | %s |\n",
			l.Level, cell(l.StructureName), l.Method, l.InvestorCount,
			Money(l.Available), Money(l.ChildTotal), Money(l.Payable))
	}

	b.WriteString("\n## Allocations\n\n")
	taxed := len(r.Allocations) > 0 && r.Allocations[0].ReturnOfCapitalAmount != nil
	b.WriteString("| Level | Investor | Method | Ownership | Amount |")
	if taxed {
		b.WriteString(" Return of capital | Income | Capital gain |")
	}
	b.WriteString("\n|---:|---|---|---:|---:|")
	if taxed {
		b.WriteString("---:|---:|---:|")
	}
	b.WriteString("\n")
	for _, a := range r.Allocations {
		name := a.InvestorID
		if a.InvestorName != "" {
			name = a.InvestorName + " (" + a.InvestorID + ")"
		}
		fmt.Fprintf(&b, "| %d | %s | %s | %s | %s |",
			a.HierarchyLevel, cell(name), a.Method, Percent(a.OwnershipPercent), Money(a.BaseAllocation))
		if taxed {
			fmt.Fprintf(&b, " %s | %s | %s |",
				Money(deref(a.ReturnOfCapitalAmount)), Money(deref(a.IncomeAmount)), Money(deref(a.CapitalGainAmount)))
		}
		b.WriteString("\n")
	}

	for _, l := range r.Levels {
		if l.Waterfall == nil {
			continue
		}
		wf := l.Waterfall
		fmt.Fprintf(&b, "\n## Waterfall at level %d", l.Level)
		if wf.StructureName != "" {
			fmt.Fprintf(&b, ": %s", cell(wf.StructureName))
		}
		fmt.Fprintf(&b, " (%s)\n\n", wf.Algorithm)
		b.WriteString("| Tier | Distributed | LP | GP |\n|---|---:|---:|---:|\n")
		for _, t := range wf.TierDistributions {
			label := cell(t.TierName)
			if t.Skipped {
				label += " (skipped)"
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", label, Money(t.AmountDistributed), Money(t.LPAmount), Money(t.GPAmount))
		}
		gp := wf.GPAllocation
		fmt.Fprintf(&b, "\nGeneral partner %s: catch-up %s, carried interest %s, total %s.\n",
			cell(gp.GeneralPartnerID), Money(gp.CatchUpAmount), Money(gp.CarriedInterest), Money(gp.TotalAmount))
	}
	return b.String()
}

// HTML renders Markdown(r) as a self-contained page.
func HTML(r *cascade.Result) (string, error) {
	body, err := utils.MarkdownToHTML(Markdown(r))
	if err != nil {
		return "", err
	}
	title := "Distribution"
	if r.EventID != "" {
		title += " " + r.EventID
	}
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>%s</title>
<style>
body { font-family: sans-serif; margin: 2rem; }
table { border-collapse: collapse; margin-bottom: 1.5rem; }
th, td { border: 1px solid #ccc; padding: 4px 8px; }
</style>
</head>
<body>
%s</body>
</html>
`, html.EscapeString(title), body), nil
}

func cell(s string) string {
	if s == "" {
		return "-"
	}
	return strings.ReplaceAll(s, "|", `\|`)
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
