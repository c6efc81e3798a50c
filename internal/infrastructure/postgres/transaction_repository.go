package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"spendwise/internal/domain/account"
	"spendwise/internal/domain/transaction"
)

type TransactionRepository struct {
	db *DB
}

var _ transaction.Repository = (*TransactionRepository)(nil)

func NewTransactionRepository(db *DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

const transactionColumns = `id, account_id, external_id, date, description, amount, category, pending, merchant_name, created_at, updated_at`

func (r *TransactionRepository) GetByExternalID(ctx context.Context, externalID string) (*transaction.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE external_id = $1`
	tx, err := scanTransaction(r.db.QueryRowContext(ctx, query, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return tx, nil
}

func (r *TransactionRepository) Create(ctx context.Context, params transaction.CreateParams) (*transaction.Transaction, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", transaction.ErrInvalidInput, err)
	}

	query := `
		INSERT INTO transactions (account_id, external_id, date, description, amount, category, pending, merchant_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + transactionColumns

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, query,
		params.AccountID, params.ExternalID, params.Date, params.Description,
		params.Amount, params.Category, params.Pending, params.MerchantName,
	))
	switch {
	case hasCode(err, codeUniqueViolation):
		return nil, transaction.ErrDuplicateExternalID
	case hasCode(err, codeForeignKeyViolation):
		return nil, account.ErrAccountNotFound
	case err != nil:
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}
	return tx, nil
}

func (r *TransactionRepository) Update(ctx context.Context, id int64, params transaction.UpdateParams) (*transaction.Transaction, error) {
	query := `
		UPDATE transactions
		SET date = $2, description = $3, amount = $4, category = $5, pending = $6, merchant_name = $7, updated_at = now()
		WHERE id = $1
		RETURNING ` + transactionColumns

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, query,
		id, params.Date, params.Description, params.Amount, params.Category, params.Pending, params.MerchantName,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, transaction.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update transaction: %w", err)
	}
	return tx, nil
}

func (r *TransactionRepository) DeleteByExternalID(ctx context.Context, userID int64, externalID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM transactions t
		USING accounts a
		WHERE t.account_id = a.id AND a.user_id = $1 AND t.external_id = $2`,
		userID, externalID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to delete transaction: %w", err)
	}
	return n > 0, nil
}

func (r *TransactionRepository) ListByAccountID(ctx context.Context, accountID int64) ([]*transaction.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE account_id = $1 ORDER BY date DESC, id`
	rows, err := r.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txs []*transaction.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func scanTransaction(row scanner) (*transaction.Transaction, error) {
	var t transaction.Transaction
	var merchant sql.NullString
	err := row.Scan(
		&t.ID, &t.AccountID, &t.ExternalID, &t.Date, &t.Description,
		&t.Amount, &t.Category, &t.Pending, &merchant,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if merchant.Valid {
		t.MerchantName = &merchant.String
	}
	return &t, nil
}
