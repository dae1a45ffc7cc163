// Package amortization splits a monetary total into a dated monthly schedule
// and re-splits the unpaid tail of an existing schedule when a plan changes.
//
// Every schedule produced here satisfies two invariants: its amounts sum to
// the requested total to the cent, and it holds exactly the requested number
// of payments. All payments but the last carry the same amount, rounded down
// to the cent; the last one absorbs the remainder.
package amortization

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcclellann/installments/pkg/models"
	"github.com/mcclellann/installments/pkg/money"
)

var (
	// ErrInvalidMonthCount is returned for a month count below one, or below
	// the number of payments already made.
	ErrInvalidMonthCount = errors.New("invalid month count")
	// ErrNonPositiveAmount is returned when a total is not schedulable.
	ErrNonPositiveAmount = errors.New("amount must be positive")
	// ErrPaidNotPrefix is returned by Reamortize when paid payments do not
	// occupy the leading months of the schedule.
	ErrPaidNotPrefix = errors.New("paid payments are not a contiguous prefix of the schedule")
)

// IDFunc assigns identities to freshly generated payments.
type IDFunc func() uuid.UUID

// Engine generates schedules. The zero value uses random UUIDs.
type Engine struct {
	NewID IDFunc
}

var defaultEngine Engine

// Generate builds the initial schedule for a plan using random payment IDs.
func Generate(amount money.Amount, startDate models.Date, monthCount int) ([]models.MonthlyPayment, error) {
	return defaultEngine.Generate(amount, startDate, monthCount)
}

// Reamortize rebuilds a plan's schedule for new parameters, keeping paid
// payments, using random IDs for the regenerated tail.
func Reamortize(plan models.InstallmentPlan, newAmount money.Amount, newStartDate models.Date, newMonthCount int) ([]models.MonthlyPayment, error) {
	return defaultEngine.Reamortize(plan, newAmount, newStartDate, newMonthCount)
}

// Generate builds the initial schedule: monthCount unpaid payments dated one
// calendar month apart from startDate.
func (e Engine) Generate(amount money.Amount, startDate models.Date, monthCount int) ([]models.MonthlyPayment, error) {
	if monthCount < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMonthCount, monthCount)
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: %s", ErrNonPositiveAmount, amount)
	}
	return e.split(amount, startDate, monthCount), nil
}

// Reamortize keeps the paid payments of plan untouched and regenerates the
// unpaid tail so that the schedule totals newAmount over newMonthCount
// months. The tail starts newStartDate plus one month per paid payment.
func (e Engine) Reamortize(plan models.InstallmentPlan, newAmount money.Amount, newStartDate models.Date, newMonthCount int) ([]models.MonthlyPayment, error) {
	if newMonthCount < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMonthCount, newMonthCount)
	}
	if !newAmount.IsPositive() {
		return nil, fmt.Errorf("%w: %s", ErrNonPositiveAmount, newAmount)
	}

	paid, err := paidPrefix(plan.MonthlyPayments)
	if err != nil {
		return nil, err
	}

	remainingMonths := newMonthCount - len(paid)
	if remainingMonths < 0 {
		return nil, fmt.Errorf("%w: %d months requested but %d already paid", ErrInvalidMonthCount, newMonthCount, len(paid))
	}

	paidTotal := money.SumBy(paid, func(p models.MonthlyPayment) (money.Amount, bool) {
		return p.Amount, true
	})
	remaining := newAmount - paidTotal
	if remaining < 0 {
		return nil, fmt.Errorf("%w: amount %s is below the %s already paid", ErrNonPositiveAmount, newAmount, paidTotal)
	}
	if remainingMonths == 0 && remaining != 0 {
		return nil, fmt.Errorf("%w: %s left to schedule but no unpaid months remain", ErrInvalidMonthCount, remaining)
	}

	schedule := make([]models.MonthlyPayment, 0, newMonthCount)
	schedule = append(schedule, paid...)
	if remainingMonths > 0 {
		tailStart := newStartDate.AddMonths(len(paid))
		schedule = append(schedule, e.split(remaining, tailStart, remainingMonths)...)
	}
	return schedule, nil
}

// split divides amount over n months. amount must be non-negative and n >= 1.
func (e Engine) split(amount money.Amount, start models.Date, n int) []models.MonthlyPayment {
	base := amount / money.Amount(n)
	remainder := amount - base*money.Amount(n)

	schedule := make([]models.MonthlyPayment, n)
	for i := range schedule {
		amt := base
		if i == n-1 {
			amt += remainder
		}
		schedule[i] = models.MonthlyPayment{
			ID:     e.id(),
			Date:   start.AddMonths(i),
			Amount: amt,
		}
	}
	return schedule
}

func (e Engine) id() uuid.UUID {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.New()
}

// paidPrefix returns the paid payments, failing if an unpaid payment comes
// before any paid one.
func paidPrefix(payments []models.MonthlyPayment) ([]models.MonthlyPayment, error) {
	var paid []models.MonthlyPayment
	seenUnpaid := false
	for _, p := range payments {
		if !p.Paid {
			seenUnpaid = true
			continue
		}
		if seenUnpaid {
			return nil, fmt.Errorf("%w: payment %s due %s is paid after an unpaid month", ErrPaidNotPrefix, p.ID, p.Date)
		}
		paid = append(paid, p)
	}
	return paid, nil
}
