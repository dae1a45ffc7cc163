package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/installments/pkg/models"
	"github.com/mcclellann/installments/pkg/money"
	"go.uber.org/zap"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore manages the database connection and operations for SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewSQLiteStore opens the database at path, applies migrations and returns
// a ready store.
func NewSQLiteStore(path string, logger *zap.Logger) (*SQLiteStore, error) {
	dsn := dataSourceName(path)

	if err := RunMigrations(dsn); err != nil {
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := newSQLiteStore(db, logger)
	s.logger.Info("database ready", zap.String("path", path))
	return s, nil
}

func newSQLiteStore(db *sql.DB, logger *zap.Logger) *SQLiteStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLiteStore{db: db, logger: logger.Named("store"), now: time.Now}
}

// dataSourceName turns foreign keys on for every pooled connection.
func dataSourceName(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_foreign_keys=on&_busy_timeout=5000"
}

const planColumns = `id, title, amount_cents, start_date, month_count, version, created_at, updated_at`

const paymentColumns = `id, plan_id, due_date, amount_cents, paid, paid_date`

// CreatePlan inserts a new plan and its schedule within a transaction.
func (s *SQLiteStore) CreatePlan(ctx context.Context, plan *models.InstallmentPlan) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO installment_plans (`+planColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		plan.ID.String(), plan.Title, plan.Amount.Cents(), plan.StartDate.String(), plan.MonthCount,
		plan.Version, plan.CreatedAt, plan.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create plan: %w", err)
	}

	if err := insertPayments(ctx, tx, plan.ID, plan.MonthlyPayments); err != nil {
		return err
	}
	return tx.Commit()
}

func insertPayments(ctx context.Context, tx *sql.Tx, planID uuid.UUID, payments []models.MonthlyPayment) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO monthly_payments (id, plan_id, seq, due_date, amount_cents, paid, paid_date)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare payment insert: %w", err)
	}
	defer stmt.Close()

	for i, p := range payments {
		if _, err := stmt.ExecContext(ctx,
			p.ID.String(), planID.String(), i, p.Date.String(), p.Amount.Cents(), p.Paid, paidDateValue(p),
		); err != nil {
			return fmt.Errorf("failed to insert payment %s: %w", p.ID, err)
		}
	}
	return nil
}

func paidDateValue(p models.MonthlyPayment) sql.NullString {
	if p.PaidDate == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: p.PaidDate.String(), Valid: true}
}

// GetPlan retrieves a plan and its schedule by ID.
func (s *SQLiteStore) GetPlan(ctx context.Context, id uuid.UUID) (*models.InstallmentPlan, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+planColumns+` FROM installment_plans WHERE id = ?`, id.String())
	plan, err := scanPlan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPlanNotFound
		}
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM monthly_payments WHERE plan_id = ? ORDER BY seq ASC`, id.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get payments for plan %s: %w", id, err)
	}
	defer rows.Close()

	byPlan, err := scanPayments(rows)
	if err != nil {
		return nil, err
	}
	plan.MonthlyPayments = byPlan[plan.ID]
	return plan, nil
}

// UpdatePlan rewrites the plan row and replaces its schedule.
func (s *SQLiteStore) UpdatePlan(ctx context.Context, plan *models.InstallmentPlan) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	updatedAt := s.now()
	result, err := tx.ExecContext(ctx,
		`UPDATE installment_plans
		SET title = ?, amount_cents = ?, start_date = ?, month_count = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		plan.Title, plan.Amount.Cents(), plan.StartDate.String(), plan.MonthCount, updatedAt,
		plan.ID.String(), plan.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update plan: %w", err)
	}
	if err := checkVersioned(ctx, tx, result, plan.ID); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM monthly_payments WHERE plan_id = ?`, plan.ID.String()); err != nil {
		return fmt.Errorf("failed to clear schedule: %w", err)
	}
	if err := insertPayments(ctx, tx, plan.ID, plan.MonthlyPayments); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit plan update: %w", err)
	}
	plan.Version++
	plan.UpdatedAt = updatedAt
	return nil
}

// UpdatePayment stores the paid state of a single payment.
func (s *SQLiteStore) UpdatePayment(ctx context.Context, plan *models.InstallmentPlan, payment models.MonthlyPayment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	updatedAt := s.now()
	result, err := tx.ExecContext(ctx,
		`UPDATE installment_plans SET version = version + 1, updated_at = ? WHERE id = ? AND version = ?`,
		updatedAt, plan.ID.String(), plan.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update plan: %w", err)
	}
	if err := checkVersioned(ctx, tx, result, plan.ID); err != nil {
		return err
	}

	result, err = tx.ExecContext(ctx,
		`UPDATE monthly_payments SET paid = ?, paid_date = ? WHERE id = ? AND plan_id = ?`,
		payment.Paid, paidDateValue(payment), payment.ID.String(), plan.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrPaymentNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit payment update: %w", err)
	}
	plan.Version++
	plan.UpdatedAt = updatedAt
	return nil
}

// checkVersioned tells a missing plan apart from a stale version when a
// version-guarded update touched no rows.
func checkVersioned(ctx context.Context, tx *sql.Tx, result sql.Result, id uuid.UUID) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM installment_plans WHERE id = ?`, id.String()).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrPlanNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check plan existence: %w", err)
	}
	return ErrVersionConflict
}

// DeletePlan removes a plan and its payments within a transaction.
func (s *SQLiteStore) DeletePlan(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM monthly_payments WHERE plan_id = ?`, id.String()); err != nil {
		return fmt.Errorf("failed to delete associated payments: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM installment_plans WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete plan: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrPlanNotFound
	}

	return tx.Commit()
}

// ListPlans retrieves every plan with its schedule, oldest first.
func (s *SQLiteStore) ListPlans(ctx context.Context) ([]*models.InstallmentPlan, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+planColumns+` FROM installment_plans ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	var plans []*models.InstallmentPlan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan row: %w", err)
		}
		plans = append(plans, plan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}

	paymentRows, err := s.db.QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM monthly_payments ORDER BY plan_id ASC, seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer paymentRows.Close()

	byPlan, err := scanPayments(paymentRows)
	if err != nil {
		return nil, err
	}
	for _, plan := range plans {
		plan.MonthlyPayments = byPlan[plan.ID]
	}
	return plans, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPlan(row scanner) (*models.InstallmentPlan, error) {
	var (
		plan             models.InstallmentPlan
		idStr, startStr  string
		amountCents      int64
		created, updated time.Time
	)
	if err := row.Scan(&idStr, &plan.Title, &amountCents, &startStr, &plan.MonthCount, &plan.Version, &created, &updated); err != nil {
		return nil, err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("invalid plan id %q: %w", idStr, err)
	}
	start, err := models.ParseDate(startStr)
	if err != nil {
		return nil, fmt.Errorf("plan %s: %w", idStr, err)
	}

	plan.ID = id
	plan.Amount = money.FromCents(amountCents)
	plan.StartDate = start
	plan.CreatedAt = created
	plan.UpdatedAt = updated
	return &plan, nil
}

// scanPayments groups payment rows by plan, preserving row order.
func scanPayments(rows *sql.Rows) (map[uuid.UUID][]models.MonthlyPayment, error) {
	byPlan := make(map[uuid.UUID][]models.MonthlyPayment)
	for rows.Next() {
		var (
			idStr, planIDStr, dueStr string
			amountCents              int64
			p                        models.MonthlyPayment
			paidDate                 sql.NullString
		)
		if err := rows.Scan(&idStr, &planIDStr, &dueStr, &amountCents, &p.Paid, &paidDate); err != nil {
			return nil, fmt.Errorf("failed to scan payment row: %w", err)
		}

		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("invalid payment id %q: %w", idStr, err)
		}
		planID, err := uuid.Parse(planIDStr)
		if err != nil {
			return nil, fmt.Errorf("invalid plan id %q: %w", planIDStr, err)
		}
		due, err := models.ParseDate(dueStr)
		if err != nil {
			return nil, fmt.Errorf("payment %s: %w", idStr, err)
		}
		if paidDate.Valid {
			pd, err := models.ParseDate(paidDate.String)
			if err != nil {
				return nil, fmt.Errorf("payment %s: %w", idStr, err)
			}
			p.PaidDate = &pd
		}

		p.ID = id
		p.Date = due
		p.Amount = money.FromCents(amountCents)
		byPlan[planID] = append(byPlan[planID], p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for payments: %w", err)
	}
	return byPlan, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
