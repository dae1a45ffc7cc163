// Package report derives summary views over installment plan schedules.
// Everything here is recomputed from the plans passed in; nothing is cached.
package report

import (
	"github.com/mcclellann/installments/pkg/models"
	"github.com/mcclellann/installments/pkg/money"
)

// Predicate selects monthly payments.
type Predicate func(models.MonthlyPayment) bool

// Paid selects completed payments.
func Paid() Predicate {
	return func(p models.MonthlyPayment) bool { return p.Paid }
}

// Unpaid selects payments still to be made.
func Unpaid() Predicate {
	return func(p models.MonthlyPayment) bool { return !p.Paid }
}

// CurrentMonth selects unpaid payments due in the month containing today.
func CurrentMonth(today models.Date) Predicate {
	return InMonth(today.MonthOf())
}

// Overdue selects unpaid payments due before the start of today's month.
func Overdue(today models.Date) Predicate {
	return func(p models.MonthlyPayment) bool { return p.IsOverdue(today) }
}

// InMonth selects unpaid payments due in month.
func InMonth(month models.Month) Predicate {
	return func(p models.MonthlyPayment) bool { return !p.Paid && month.Contains(p.Date) }
}

// All selects every payment.
func All() Predicate {
	return func(models.MonthlyPayment) bool { return true }
}

// FilterPayments returns copies of the plans holding only the payments that
// match pred. Plans left without payments are dropped. The input is not
// modified.
func FilterPayments(plans []models.InstallmentPlan, pred Predicate) []models.InstallmentPlan {
	var out []models.InstallmentPlan
	for _, plan := range plans {
		var kept []models.MonthlyPayment
		for _, p := range plan.MonthlyPayments {
			if pred(p) {
				kept = append(kept, p)
			}
		}
		if len(kept) == 0 {
			continue
		}
		filtered := plan
		filtered.MonthlyPayments = kept
		out = append(out, filtered)
	}
	return out
}

// TotalFor sums the amounts of all payments matching pred across plans.
func TotalFor(plans []models.InstallmentPlan, pred Predicate) money.Amount {
	var total money.Amount
	for _, plan := range FilterPayments(plans, pred) {
		total += plan.ScheduledTotal()
	}
	return total
}

// Range is the span of months covered by a set of schedules. Both ends are
// nil when there are no payments.
type Range struct {
	Min *models.Month `json:"min"`
	Max *models.Month `json:"max"`
}

// DateRange returns the earliest and latest payment months across plans.
func DateRange(plans []models.InstallmentPlan) Range {
	var lo, hi models.Date
	found := false
	for _, plan := range plans {
		for _, p := range plan.MonthlyPayments {
			if !found || p.Date.Before(lo) {
				lo = p.Date
			}
			if !found || p.Date.After(hi) {
				hi = p.Date
			}
			found = true
		}
	}
	if !found {
		return Range{}
	}
	minMonth, maxMonth := lo.MonthOf(), hi.MonthOf()
	return Range{Min: &minMonth, Max: &maxMonth}
}
