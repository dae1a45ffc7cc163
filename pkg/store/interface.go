package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/mcclellann/installments/pkg/models"
)

var (
	ErrPlanNotFound    = errors.New("installment plan not found")
	ErrPaymentNotFound = errors.New("monthly payment not found")
	// ErrVersionConflict means the plan changed since it was read.
	ErrVersionConflict = errors.New("installment plan was modified concurrently")
)

// Storage defines the persistence operations for installment plans and their
// schedules.
type Storage interface {
	// CreatePlan stores a new plan together with its schedule.
	CreatePlan(ctx context.Context, plan *models.InstallmentPlan) error
	GetPlan(ctx context.Context, id uuid.UUID) (*models.InstallmentPlan, error)
	// UpdatePlan replaces the plan's fields and whole schedule if the stored
	// version still equals plan.Version, then increments plan.Version.
	UpdatePlan(ctx context.Context, plan *models.InstallmentPlan) error
	// UpdatePayment stores the paid state of one payment under the same
	// version check as UpdatePlan.
	UpdatePayment(ctx context.Context, plan *models.InstallmentPlan, payment models.MonthlyPayment) error
	DeletePlan(ctx context.Context, id uuid.UUID) error
	ListPlans(ctx context.Context) ([]*models.InstallmentPlan, error)

	Close() error
}
