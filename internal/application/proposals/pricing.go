package proposals

import (
	"time"

	"github.com/shopspring/decimal"
)

var (
	minimumPremium       = decimal.NewFromInt(250)
	defaultCommissionPct = decimal.NewFromInt(20)
	daysPerYear          = decimal.NewFromInt(365)
	hundred              = decimal.NewFromInt(100)
)

const minimumDays = 90

// Premium is insured * rate% pro rata over max(days, 90) days, floored at 250.
func Premium(insured, ratePct decimal.Decimal, days int) decimal.Decimal {
	if days < minimumDays {
		days = minimumDays
	}
	p := insured.Mul(ratePct).Div(hundred).Div(daysPerYear).Mul(decimal.NewFromInt(int64(days)))
	return decimal.Max(p, minimumPremium).Round(2)
}

// CommissionAmount is premium * pct / 100 in cents.
func CommissionAmount(premium, pct decimal.Decimal) decimal.Decimal {
	return premium.Mul(pct).Div(hundred).Round(2)
}

// Days counts whole calendar days between two dates.
func Days(start, end time.Time) int {
	s := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	e := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	return int(e.Sub(s).Hours() / 24)
}
