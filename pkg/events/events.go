// Package events publishes installment lifecycle events to other systems.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/installments/pkg/money"
)

// Type names an event; it doubles as the AMQP routing key.
type Type string

const (
	PlanCreated      Type = "plan.created"
	PlanUpdated      Type = "plan.updated"
	PlanDeleted      Type = "plan.deleted"
	PaymentCompleted Type = "payment.completed"
	PaymentCancelled Type = "payment.cancelled"
	PaymentOverdue   Type = "payment.overdue"
)

// Event is a single lifecycle notification.
type Event struct {
	ID         uuid.UUID    `json:"id"`
	Type       Type         `json:"type"`
	PlanID     uuid.UUID    `json:"plan_id"`
	PaymentID  *uuid.UUID   `json:"payment_id,omitempty"`
	Amount     money.Amount `json:"amount"`
	DueDate    string       `json:"due_date,omitempty"`
	OccurredAt time.Time    `json:"occurred_at"`
}

// New creates an event for a plan.
func New(t Type, planID uuid.UUID, amount money.Amount, at time.Time) Event {
	return Event{
		ID:         uuid.New(),
		Type:       t,
		PlanID:     planID,
		Amount:     amount,
		OccurredAt: at.UTC(),
	}
}

// ForPayment attaches a payment to the event.
func (e Event) ForPayment(paymentID uuid.UUID, dueDate string) Event {
	e.PaymentID = &paymentID
	e.DueDate = dueDate
	return e
}

func (e Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON decodes an event.
func FromJSON(data []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(data, &e)
	return e, err
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}
