package report

import (
	"github.com/mcclellann/installments/pkg/models"
	"github.com/mcclellann/installments/pkg/money"
)

// Summary is the dashboard view over a set of plans.
type Summary struct {
	Total        money.Amount `json:"total"`
	Paid         money.Amount `json:"paid"`
	Remaining    money.Amount `json:"remaining"`
	CurrentMonth money.Amount `json:"current_month"`
	Overdue      money.Amount `json:"overdue"`
	Month        models.Month `json:"month"`
	MonthTotal   money.Amount `json:"month_total"`
	PaidPercent  float64      `json:"paid_percent"`
	Range        Range        `json:"range"`
	PlanCount    int          `json:"plan_count"`
}

// Summarize computes totals as of today, plus the unpaid total due in month.
func Summarize(plans []models.InstallmentPlan, today models.Date, month models.Month) Summary {
	total := TotalFor(plans, All())
	paid := TotalFor(plans, Paid())
	return Summary{
		Total:        total,
		Paid:         paid,
		Remaining:    TotalFor(plans, Unpaid()),
		CurrentMonth: TotalFor(plans, CurrentMonth(today)),
		Overdue:      TotalFor(plans, Overdue(today)),
		Month:        month,
		MonthTotal:   TotalFor(plans, InMonth(month)),
		PaidPercent:  money.Percentage(paid, total),
		Range:        DateRange(plans),
		PlanCount:    len(plans),
	}
}
