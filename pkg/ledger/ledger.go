package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mcclellann/installments/pkg/amortization"
	"github.com/mcclellann/installments/pkg/events"
	"github.com/mcclellann/installments/pkg/metrics"
	"github.com/mcclellann/installments/pkg/models"
	"github.com/mcclellann/installments/pkg/money"
	"github.com/mcclellann/installments/pkg/report"
	"github.com/mcclellann/installments/pkg/store"
)

// ErrUnknownView is returned by ParseView.
var ErrUnknownView = errors.New("unknown payments view")

// View selects which payments Payments returns.
type View string

const (
	ViewPaid    View = "paid"
	ViewUnpaid  View = "unpaid"
	ViewCurrent View = "current"
	ViewOverdue View = "overdue"
	ViewMonth   View = "month"
)

// ParseView parses a view name. The empty string selects ViewUnpaid.
func ParseView(s string) (View, error) {
	switch v := View(strings.ToLower(s)); v {
	case "":
		return ViewUnpaid, nil
	case ViewPaid, ViewUnpaid, ViewCurrent, ViewOverdue, ViewMonth:
		return v, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownView, s)
}

// CreatePlanInput holds the fields of a new plan.
type CreatePlanInput struct {
	Title      string       `json:"title" validate:"required,max=200"`
	Amount     money.Amount `json:"amount" validate:"gt=0,max=100000000000"`
	StartDate  models.Date  `json:"start_date" validate:"required"`
	MonthCount int          `json:"month_count" validate:"min=1,max=600"`
}

// UpdatePlanInput holds the edited fields of a plan. A non-zero Version must
// match the stored plan.
type UpdatePlanInput struct {
	Title      string       `json:"title" validate:"required,max=200"`
	Amount     money.Amount `json:"amount" validate:"gt=0,max=100000000000"`
	StartDate  models.Date  `json:"start_date" validate:"required"`
	MonthCount int          `json:"month_count" validate:"min=1,max=600"`
	Version    int          `json:"version" validate:"min=0"`
}

// Ledger handles the business logic for installment plans and their payments.
type Ledger struct {
	storage   store.Storage
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	engine    amortization.Engine
	validate  *validator.Validate
	now       func() time.Time

	mu       sync.Mutex
	notified map[uuid.UUID]struct{} // overdue payments already announced
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithEngine replaces the default amortization engine.
func WithEngine(e amortization.Engine) Option {
	return func(l *Ledger) { l.engine = e }
}

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage, p events.Publisher, m *metrics.Metrics, logger *zap.Logger, opts ...Option) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Ledger{
		storage:   s,
		publisher: p,
		metrics:   m,
		logger:    logger.Named("ledger"),
		validate:  newValidator(),
		now:       time.Now,
		notified:  make(map[uuid.UUID]struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Now returns the ledger's current time.
func (l *Ledger) Now() time.Time {
	return l.now()
}

// CreatePlan generates the schedule for a new plan and stores it.
func (l *Ledger) CreatePlan(ctx context.Context, in CreatePlanInput) (*models.InstallmentPlan, error) {
	in.Title = strings.TrimSpace(in.Title)
	if err := l.validateInput(in); err != nil {
		return nil, err
	}

	schedule, err := l.engine.Generate(in.Amount, in.StartDate, in.MonthCount)
	if err != nil {
		return nil, err
	}

	now := l.now().UTC()
	plan := &models.InstallmentPlan{
		ID:              uuid.New(),
		Title:           in.Title,
		Amount:          in.Amount,
		StartDate:       in.StartDate,
		MonthCount:      in.MonthCount,
		MonthlyPayments: schedule,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := ValidateSchedule(*plan); err != nil {
		return nil, err
	}

	if err := l.storage.CreatePlan(ctx, plan); err != nil {
		return nil, fmt.Errorf("failed to store plan: %w", err)
	}

	l.metrics.PlansCreated.Inc()
	l.logger.Info("installment plan created",
		zap.String("plan_id", plan.ID.String()),
		zap.String("amount", plan.Amount.String()),
		zap.Int("month_count", plan.MonthCount),
	)
	l.publish(ctx, events.New(events.PlanCreated, plan.ID, plan.Amount, now))
	return plan, nil
}

// UpdatePlan applies an edit. A change to amount, start date or month count
// regenerates the unpaid tail of the schedule; paid payments are kept as is.
func (l *Ledger) UpdatePlan(ctx context.Context, id uuid.UUID, in UpdatePlanInput) (*models.InstallmentPlan, error) {
	in.Title = strings.TrimSpace(in.Title)
	if err := l.validateInput(in); err != nil {
		return nil, err
	}

	plan, err := l.storage.GetPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Version != 0 && in.Version != plan.Version {
		return nil, fmt.Errorf("%w: have version %d, stored version %d", store.ErrVersionConflict, in.Version, plan.Version)
	}

	reamortize := in.Amount != plan.Amount ||
		!in.StartDate.Equal(plan.StartDate) ||
		in.MonthCount != plan.MonthCount
	if reamortize {
		schedule, err := l.engine.Reamortize(*plan, in.Amount, in.StartDate, in.MonthCount)
		if err != nil {
			return nil, err
		}
		plan.MonthlyPayments = schedule
	}
	plan.Title = in.Title
	plan.Amount = in.Amount
	plan.StartDate = in.StartDate
	plan.MonthCount = in.MonthCount

	if err := ValidateSchedule(*plan); err != nil {
		return nil, err
	}
	if err := l.storage.UpdatePlan(ctx, plan); err != nil {
		return nil, fmt.Errorf("failed to update plan: %w", err)
	}

	if reamortize {
		l.metrics.PlansReamortized.Inc()
	}
	l.logger.Info("installment plan updated",
		zap.String("plan_id", plan.ID.String()),
		zap.Bool("reamortized", reamortize),
		zap.Int("paid_count", plan.PaidCount()),
		zap.Int("version", plan.Version),
	)
	l.publish(ctx, events.New(events.PlanUpdated, plan.ID, plan.Amount, l.now()))
	return plan, nil
}

// CompletePayment marks a payment as paid on paidDate, or today when
// paidDate is nil. Completing a paid payment changes nothing.
func (l *Ledger) CompletePayment(ctx context.Context, planID, paymentID uuid.UUID, paidDate *models.Date) (models.MonthlyPayment, error) {
	plan, payment, err := l.findPayment(ctx, planID, paymentID)
	if err != nil {
		return models.MonthlyPayment{}, err
	}
	if payment.Paid {
		return *payment, nil
	}

	on := models.DateOf(l.now())
	if paidDate != nil && !paidDate.IsZero() {
		on = *paidDate
	}
	payment.Complete(on)
	if err := l.storage.UpdatePayment(ctx, plan, *payment); err != nil {
		return models.MonthlyPayment{}, fmt.Errorf("failed to complete payment: %w", err)
	}

	l.metrics.PaymentsCompleted.Inc()
	l.logger.Info("payment completed",
		zap.String("plan_id", plan.ID.String()),
		zap.String("payment_id", payment.ID.String()),
		zap.String("paid_date", on.String()),
	)
	l.publish(ctx, events.New(events.PaymentCompleted, plan.ID, payment.Amount, l.now()).
		ForPayment(payment.ID, payment.Date.String()))
	return *payment, nil
}

// CancelPayment reverts a payment to unpaid. Cancelling an unpaid payment
// changes nothing.
func (l *Ledger) CancelPayment(ctx context.Context, planID, paymentID uuid.UUID) (models.MonthlyPayment, error) {
	plan, payment, err := l.findPayment(ctx, planID, paymentID)
	if err != nil {
		return models.MonthlyPayment{}, err
	}
	if !payment.Paid {
		return *payment, nil
	}

	payment.Cancel()
	if err := l.storage.UpdatePayment(ctx, plan, *payment); err != nil {
		return models.MonthlyPayment{}, fmt.Errorf("failed to cancel payment: %w", err)
	}

	l.metrics.PaymentsCancelled.Inc()
	l.logger.Info("payment cancelled",
		zap.String("plan_id", plan.ID.String()),
		zap.String("payment_id", payment.ID.String()),
	)
	l.publish(ctx, events.New(events.PaymentCancelled, plan.ID, payment.Amount, l.now()).
		ForPayment(payment.ID, payment.Date.String()))
	return *payment, nil
}

func (l *Ledger) findPayment(ctx context.Context, planID, paymentID uuid.UUID) (*models.InstallmentPlan, *models.MonthlyPayment, error) {
	plan, err := l.storage.GetPlan(ctx, planID)
	if err != nil {
		return nil, nil, err
	}
	payment := plan.Payment(paymentID)
	if payment == nil {
		return nil, nil, fmt.Errorf("%w: %s in plan %s", store.ErrPaymentNotFound, paymentID, planID)
	}
	return plan, payment, nil
}

// GetPlan retrieves a plan by its ID.
func (l *Ledger) GetPlan(ctx context.Context, id uuid.UUID) (*models.InstallmentPlan, error) {
	return l.storage.GetPlan(ctx, id)
}

// ListPlans retrieves all plans.
func (l *Ledger) ListPlans(ctx context.Context) ([]*models.InstallmentPlan, error) {
	return l.storage.ListPlans(ctx)
}

// DeletePlan deletes a plan and its schedule.
func (l *Ledger) DeletePlan(ctx context.Context, id uuid.UUID) error {
	plan, err := l.storage.GetPlan(ctx, id)
	if err != nil {
		return err
	}
	if err := l.storage.DeletePlan(ctx, id); err != nil {
		return fmt.Errorf("failed to delete plan: %w", err)
	}
	l.logger.Info("installment plan deleted", zap.String("plan_id", id.String()))
	l.publish(ctx, events.New(events.PlanDeleted, id, plan.Amount, l.now()))
	return nil
}

// Payments returns every plan reduced to the payments selected by view.
// month is only used by ViewMonth; a zero month means the current one.
func (l *Ledger) Payments(ctx context.Context, view View, now time.Time, month models.Month) ([]models.InstallmentPlan, error) {
	plans, err := l.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	today := models.DateOf(now)
	var pred report.Predicate
	switch view {
	case ViewPaid:
		pred = report.Paid()
	case ViewUnpaid:
		pred = report.Unpaid()
	case ViewCurrent:
		pred = report.CurrentMonth(today)
	case ViewOverdue:
		pred = report.Overdue(today)
	case ViewMonth:
		if month.Year == 0 {
			month = today.MonthOf()
		}
		pred = report.InMonth(month)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownView, view)
	}
	return report.FilterPayments(plans, pred), nil
}

// Summary computes the dashboard totals as of now. A zero month means the
// current one.
func (l *Ledger) Summary(ctx context.Context, now time.Time, month models.Month) (report.Summary, error) {
	plans, err := l.snapshot(ctx)
	if err != nil {
		return report.Summary{}, err
	}
	today := models.DateOf(now)
	if month.Year == 0 {
		month = today.MonthOf()
	}
	return report.Summarize(plans, today, month), nil
}

// ScanOverdue announces every unpaid payment due before the current month
// and updates the overdue gauge. Each payment is announced once while it
// stays overdue. It returns the number of overdue payments.
func (l *Ledger) ScanOverdue(ctx context.Context, now time.Time) (int, error) {
	plans, err := l.snapshot(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list plans for overdue scan: %w", err)
	}

	overdue := report.FilterPayments(plans, report.Overdue(models.DateOf(now)))
	seen := make(map[uuid.UUID]struct{})
	var fresh []events.Event
	count := 0

	l.mu.Lock()
	for _, plan := range overdue {
		for _, p := range plan.MonthlyPayments {
			count++
			seen[p.ID] = struct{}{}
			if _, done := l.notified[p.ID]; done {
				continue
			}
			l.notified[p.ID] = struct{}{}
			fresh = append(fresh, events.New(events.PaymentOverdue, plan.ID, p.Amount, now).ForPayment(p.ID, p.Date.String()))
		}
	}
	for id := range l.notified {
		if _, ok := seen[id]; !ok {
			delete(l.notified, id)
		}
	}
	l.mu.Unlock()

	for _, e := range fresh {
		l.publish(ctx, e)
	}
	l.metrics.OverduePayments.Set(float64(count))
	l.logger.Info("overdue scan finished",
		zap.Int("overdue", count),
		zap.Int("announced", len(fresh)),
	)
	return count, nil
}

func (l *Ledger) snapshot(ctx context.Context) ([]models.InstallmentPlan, error) {
	ptrs, err := l.storage.ListPlans(ctx)
	if err != nil {
		return nil, err
	}
	plans := make([]models.InstallmentPlan, len(ptrs))
	for i, p := range ptrs {
		plans[i] = *p
	}
	return plans, nil
}

// publish delivers e. The change it describes is already stored, so a
// failure is logged rather than returned.
func (l *Ledger) publish(ctx context.Context, e events.Event) {
	if err := l.publisher.Publish(ctx, e); err != nil {
		l.logger.Warn("failed to publish event",
			zap.String("type", string(e.Type)),
			zap.String("plan_id", e.PlanID.String()),
			zap.Error(err),
		)
	}
}
