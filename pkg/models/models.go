package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/installments/pkg/money"
)

// MonthlyPayment is one scheduled installment of a plan.
type MonthlyPayment struct {
	ID       uuid.UUID    `json:"id"`
	Date     Date         `json:"date"` // due in this month
	Amount   money.Amount `json:"amount"`
	Paid     bool         `json:"paid"`
	PaidDate *Date        `json:"paid_date,omitempty"` // set exactly when Paid is true
}

// Complete marks the payment as paid on the given date. Amount and due date
// are left untouched.
func (p *MonthlyPayment) Complete(on Date) {
	p.Paid = true
	p.PaidDate = &on
}

// Cancel reverts a completed payment to unpaid.
func (p *MonthlyPayment) Cancel() {
	p.Paid = false
	p.PaidDate = nil
}

// IsOverdue reports whether the payment is unpaid and due before the month
// containing today.
func (p MonthlyPayment) IsOverdue(today Date) bool {
	return !p.Paid && p.Date.Before(today.MonthStart())
}

// InstallmentPlan is a total amount paid off through a fixed number of
// monthly payments.
type InstallmentPlan struct {
	ID              uuid.UUID        `json:"id"`
	Title           string           `json:"title"`
	Amount          money.Amount     `json:"amount"`
	StartDate       Date             `json:"start_date"`
	MonthCount      int              `json:"month_count"`
	MonthlyPayments []MonthlyPayment `json:"monthly_payments"` // ordered by date ascending
	Version         int              `json:"version"`          // bumped on every stored change
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// PaidPayments returns the paid payments in schedule order.
func (p *InstallmentPlan) PaidPayments() []MonthlyPayment {
	var paid []MonthlyPayment
	for _, mp := range p.MonthlyPayments {
		if mp.Paid {
			paid = append(paid, mp)
		}
	}
	return paid
}

// PaidCount returns the number of paid payments.
func (p *InstallmentPlan) PaidCount() int {
	n := 0
	for _, mp := range p.MonthlyPayments {
		if mp.Paid {
			n++
		}
	}
	return n
}

// Payment returns a pointer into the schedule for the payment with the given
// ID, or nil.
func (p *InstallmentPlan) Payment(id uuid.UUID) *MonthlyPayment {
	for i := range p.MonthlyPayments {
		if p.MonthlyPayments[i].ID == id {
			return &p.MonthlyPayments[i]
		}
	}
	return nil
}

// ScheduledTotal sums the schedule's payment amounts.
func (p *InstallmentPlan) ScheduledTotal() money.Amount {
	return money.SumBy(p.MonthlyPayments, func(mp MonthlyPayment) (money.Amount, bool) {
		return mp.Amount, true
	})
}
