package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/akylbek/payment-system/terminal-orchestrator/internal/models"
)

var (
	ErrNotFound = errors.New("transaction not found")
	// ErrSettled is returned when a save would overwrite a settled record.
	ErrSettled = errors.New("transaction already settled")
)

const selectColumns = `order_ref, kind, parent_ref, amount_cents, currency, display_id, provider, session_id, status, details, created_at, updated_at`

var settledStates = []string{
	string(models.StateSuccess),
	string(models.StateFailed),
	string(models.StateInternalError),
}

type TransactionRepository struct {
	db *sql.DB
}

func NewTransactionRepository(db *sql.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) InitDB() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS terminal_transactions (
			order_ref VARCHAR(255) PRIMARY KEY,
			kind VARCHAR(20) NOT NULL DEFAULT 'payment',
			parent_ref VARCHAR(255) NOT NULL DEFAULT '',
			amount_cents BIGINT NOT NULL,
			currency VARCHAR(3) NOT NULL,
			display_id VARCHAR(255) NOT NULL,
			provider VARCHAR(20) NOT NULL,
			session_id VARCHAR(255) NOT NULL DEFAULT '',
			status VARCHAR(50) NOT NULL,
			details JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_terminal_transactions_status ON terminal_transactions(status)`,
		`CREATE INDEX IF NOT EXISTS idx_terminal_transactions_parent_ref ON terminal_transactions(parent_ref)`,
	}

	for _, query := range queries {
		if _, err := r.db.Exec(query); err != nil {
			return err
		}
	}

	return nil
}

// SaveTransaction inserts the record, or restarts it when an earlier attempt
// under the same reference never settled. A settled record is left untouched
// and ErrSettled is returned.
func (r *TransactionRepository) SaveTransaction(ctx context.Context, record models.TransactionRecord) error {
	details, err := encodeDetails(record.Details)
	if err != nil {
		return err
	}
	kind := record.Kind
	if kind == "" {
		kind = models.RecordKindPayment
	}
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO terminal_transactions (order_ref, kind, parent_ref, amount_cents, currency, display_id, provider, session_id, status, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (order_ref) DO UPDATE
		SET kind = EXCLUDED.kind,
			parent_ref = EXCLUDED.parent_ref,
			amount_cents = EXCLUDED.amount_cents,
			currency = EXCLUDED.currency,
			display_id = EXCLUDED.display_id,
			provider = EXCLUDED.provider,
			session_id = EXCLUDED.session_id,
			status = EXCLUDED.status,
			details = EXCLUDED.details,
			updated_at = NOW()
		WHERE terminal_transactions.status <> ALL($11)
	`, record.OrderRef, kind, record.ParentRef, record.AmountCents, record.Currency, record.DisplayID,
		record.Provider, record.SessionID, string(record.Status), details, pq.Array(settledStates))
	if err != nil {
		return fmt.Errorf("save transaction %s: %w", record.OrderRef, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("save transaction %s: %w", record.OrderRef, ErrSettled)
	}
	return nil
}

// UpdateTransactionStatus sets the status and merges details into the stored
// ones. A session_id detail is also copied to its own column.
func (r *TransactionRepository) UpdateTransactionStatus(ctx context.Context, orderRef string, state models.InteractionState, details map[string]interface{}) error {
	encoded, err := encodeDetails(details)
	if err != nil {
		return err
	}
	sessionID, _ := details["session_id"].(string)

	result, err := r.db.ExecContext(ctx, `
		UPDATE terminal_transactions
		SET status = $1,
			session_id = COALESCE(NULLIF($2, ''), session_id),
			details = details || $3::jsonb,
			updated_at = NOW()
		WHERE order_ref = $4
	`, string(state), sessionID, encoded, orderRef)
	if err != nil {
		return fmt.Errorf("update transaction %s: %w", orderRef, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("update transaction %s: %w", orderRef, ErrNotFound)
	}
	return nil
}

func (r *TransactionRepository) GetByOrderRef(ctx context.Context, orderRef string) (*models.TransactionRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+selectColumns+`
		FROM terminal_transactions WHERE order_ref = $1
	`, orderRef)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", orderRef, err)
	}
	return record, nil
}

// ListInFlight returns payments that never reached a settled state, oldest first.
func (r *TransactionRepository) ListInFlight(ctx context.Context) ([]models.TransactionRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+selectColumns+`
		FROM terminal_transactions
		WHERE kind = $1 AND status <> ALL($2)
		ORDER BY created_at
	`, models.RecordKindPayment, pq.Array(settledStates))
	if err != nil {
		return nil, fmt.Errorf("list in-flight transactions: %w", err)
	}
	return collect(rows)
}

// ListRefunds returns the refunds recorded against a paid order, oldest first.
func (r *TransactionRepository) ListRefunds(ctx context.Context, orderRef string) ([]models.TransactionRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+selectColumns+`
		FROM terminal_transactions
		WHERE kind = $1 AND parent_ref = $2
		ORDER BY created_at
	`, models.RecordKindRefund, orderRef)
	if err != nil {
		return nil, fmt.Errorf("list refunds of %s: %w", orderRef, err)
	}
	return collect(rows)
}

func collect(rows *sql.Rows) ([]models.TransactionRecord, error) {
	defer rows.Close()

	var records []models.TransactionRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(s scanner) (*models.TransactionRecord, error) {
	var (
		record  models.TransactionRecord
		status  string
		details []byte
	)
	if err := s.Scan(&record.OrderRef, &record.Kind, &record.ParentRef, &record.AmountCents, &record.Currency, &record.DisplayID,
		&record.Provider, &record.SessionID, &status, &details, &record.CreatedAt, &record.UpdatedAt); err != nil {
		return nil, err
	}
	record.Status = models.InteractionState(status)
	if len(details) > 0 {
		if err := json.Unmarshal(details, &record.Details); err != nil {
			return nil, fmt.Errorf("decode details for %s: %w", record.OrderRef, err)
		}
	}
	return &record, nil
}

func encodeDetails(details map[string]interface{}) (string, error) {
	if len(details) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(details)
	if err != nil {
		return "", fmt.Errorf("encode details: %w", err)
	}
	return string(b), nil
}
