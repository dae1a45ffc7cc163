package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*SQLiteStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return newSQLiteStore(db, nil), mock
}

func TestCreatePlan_RollsBackOnInsertError(t *testing.T) {
	s, mock := newMockStore(t)
	plan := newTestPlan(t, 3000, 3)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO installment_plans")).
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	err := s.CreatePlan(context.Background(), plan)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create plan")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreatePlan_RollsBackOnPaymentError(t *testing.T) {
	s, mock := newMockStore(t)
	plan := newTestPlan(t, 3000, 3)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO installment_plans")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	prep := mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO monthly_payments"))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().WillReturnError(errors.New("constraint failed"))
	mock.ExpectRollback()

	err := s.CreatePlan(context.Background(), plan)
	require.Error(t, err)
	assert.Contains(t, err.Error(), plan.MonthlyPayments[1].ID.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPlan_QueryError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM installment_plans WHERE id = ?")).
		WillReturnError(errors.New("database is locked"))

	_, err := s.GetPlan(context.Background(), uuid.New())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrPlanNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPlan_CorruptPaymentRow(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("FROM installment_plans WHERE id = ?")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "amount_cents", "start_date", "month_count", "version", "created_at", "updated_at"}).
			AddRow(id.String(), "tv", int64(5000), "2025-01-01", 1, 1, now, now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM monthly_payments WHERE plan_id = ?")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "plan_id", "due_date", "amount_cents", "paid", "paid_date"}).
			AddRow(uuid.NewString(), id.String(), "01/01/2025", int64(5000), false, nil))

	_, err := s.GetPlan(context.Background(), id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid date")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdatePayment_VersionConflict(t *testing.T) {
	s, mock := newMockStore(t)
	plan := newTestPlan(t, 3000, 3)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE installment_plans SET version = version + 1")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM installment_plans WHERE id = ?")).
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectRollback()

	err := s.UpdatePayment(context.Background(), plan, plan.MonthlyPayments[0])
	assert.ErrorIs(t, err, ErrVersionConflict)
	assert.Equal(t, 1, plan.Version, "version untouched on failure")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdatePayment_PaymentMissing(t *testing.T) {
	s, mock := newMockStore(t)
	plan := newTestPlan(t, 3000, 3)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE installment_plans SET version = version + 1")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE monthly_payments SET paid = ?")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.UpdatePayment(context.Background(), plan, plan.MonthlyPayments[0])
	assert.ErrorIs(t, err, ErrPaymentNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListPlans_QueryError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM installment_plans ORDER BY")).
		WillReturnError(errors.New("no such table: installment_plans"))

	_, err := s.ListPlans(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list plans")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDataSourceName(t *testing.T) {
	assert.Equal(t, "app.db?_foreign_keys=on&_busy_timeout=5000", dataSourceName("app.db"))
	assert.Equal(t, "file:app.db?mode=rwc&_foreign_keys=on&_busy_timeout=5000", dataSourceName("file:app.db?mode=rwc"))
}
