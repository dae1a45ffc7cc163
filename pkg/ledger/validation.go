package ledger

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mcclellann/installments/pkg/models"
	"github.com/mcclellann/installments/pkg/money"
)

var amountType = reflect.TypeOf(money.Amount(0))

var (
	// ErrValidation is wrapped by every *ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrSumMismatch means a schedule does not add up to the plan amount.
	ErrSumMismatch = errors.New("schedule total does not match plan amount")
	// ErrCountMismatch means a schedule does not hold one payment per month.
	ErrCountMismatch = errors.New("schedule length does not match month count")
)

// FieldError describes one rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every invalid field of an input.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + " " + f.Message
	}
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	// Dates validate as their string form so that "required" rejects the
	// zero date.
	v.RegisterCustomTypeFunc(func(f reflect.Value) interface{} {
		d, ok := f.Interface().(models.Date)
		if !ok || d.IsZero() {
			return ""
		}
		return d.String()
	}, models.Date{})
	return v
}

func (l *Ledger) validateInput(in interface{}) error {
	err := l.validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	ve := &ValidationError{}
	for _, fe := range verrs {
		ve.Fields = append(ve.Fields, FieldError{Field: fe.Field(), Message: message(fe)})
	}
	return ve
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "min":
		if fe.Kind() == reflect.String {
			return "must be at least " + fe.Param() + " characters"
		}
		return "must be at least " + fe.Param()
	case "max":
		if fe.Kind() == reflect.String {
			return "must be at most " + fe.Param() + " characters"
		}
		return "must be at most " + limit(fe)
	}
	return "is invalid"
}

// limit renders a tag parameter, formatting cent counts on money fields.
func limit(fe validator.FieldError) string {
	if fe.Type() == amountType {
		if cents, err := strconv.ParseInt(fe.Param(), 10, 64); err == nil {
			return money.Amount(cents).String()
		}
	}
	return fe.Param()
}

// ValidateSchedule reports whether plan's schedule sums to its amount and
// holds MonthCount payments. Both problems are reported together.
func ValidateSchedule(plan models.InstallmentPlan) error {
	var errs []error
	if total := plan.ScheduledTotal(); total != plan.Amount {
		errs = append(errs, fmt.Errorf("%w: scheduled %s, plan amount %s", ErrSumMismatch, total, plan.Amount))
	}
	if n := len(plan.MonthlyPayments); n != plan.MonthCount {
		errs = append(errs, fmt.Errorf("%w: %d payments for %d months", ErrCountMismatch, n, plan.MonthCount))
	}
	return errors.Join(errs...)
}
