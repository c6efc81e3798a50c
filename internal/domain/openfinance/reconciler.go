package openfinance

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"spendwise/internal/domain/account"
	"spendwise/internal/domain/transaction"
	"spendwise/internal/infrastructure/plaid"
	"spendwise/internal/shared/logger"
)

// ReconcileResult counts what a reconciliation did to the ledger.
type ReconcileResult struct {
	AccountsCreated int
	AccountsUpdated int
	Added           int
	Modified        int
	Removed         int
	Skipped         int // already present on add, absent on remove
	Unresolved      []*RecordError
}

func (r *ReconcileResult) merge(o *ReconcileResult) {
	r.AccountsCreated += o.AccountsCreated
	r.AccountsUpdated += o.AccountsUpdated
	r.Added += o.Added
	r.Modified += o.Modified
	r.Removed += o.Removed
	r.Skipped += o.Skipped
	r.Unresolved = append(r.Unresolved, o.Unresolved...)
}

// Reconciler applies delta bundles to the ledger. Every operation is keyed by
// provider id, so replaying a bundle leaves the ledger unchanged.
type Reconciler struct {
	client       plaid.ClientInterface
	accounts     *account.Service
	transactions transaction.Repository
}

func NewReconciler(client plaid.ClientInterface, accounts *account.Service, transactions transaction.Repository) *Reconciler {
	return &Reconciler{
		client:       client,
		accounts:     accounts,
		transactions: transactions,
	}
}

// Reconcile runs accounts, added, modified, removed in that order. Store and
// provider failures abort the bundle; unresolved accounts do not.
func (r *Reconciler) Reconcile(ctx context.Context, b *DeltaBundle) (*ReconcileResult, error) {
	ctx, span := syncTracer.Start(ctx, "reconcile.bundle", trace.WithAttributes(
		attribute.Int64("user.id", b.UserID),
		attribute.Int("bundle.added", len(b.Added)),
		attribute.Int("bundle.modified", len(b.Modified)),
		attribute.Int("bundle.removed", len(b.Removed)),
	))
	defer span.End()

	result := &ReconcileResult{}
	stages := []func(context.Context) (*ReconcileResult, error){
		func(ctx context.Context) (*ReconcileResult, error) { return r.ReconcileAccounts(ctx, b.AccessToken, b.UserID) },
		func(ctx context.Context) (*ReconcileResult, error) { return r.ApplyAdded(ctx, b.UserID, b.Added) },
		func(ctx context.Context) (*ReconcileResult, error) { return r.ApplyModified(ctx, b.UserID, b.Modified) },
		func(ctx context.Context) (*ReconcileResult, error) { return r.ApplyRemoved(ctx, b.UserID, b.Removed) },
	}
	for _, stage := range stages {
		res, err := stage(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return result, err
		}
		result.merge(res)
	}

	logger.Ctx(ctx).Info("bundle reconciled",
		"user_id", b.UserID,
		"accounts_created", result.AccountsCreated,
		"accounts_updated", result.AccountsUpdated,
		"added", result.Added,
		"modified", result.Modified,
		"removed", result.Removed,
		"skipped", result.Skipped,
		"unresolved", len(result.Unresolved),
	)
	return result, nil
}

// ReconcileAccounts upserts each account in the provider snapshot by
// (user, external id) in a single pass.
func (r *Reconciler) ReconcileAccounts(ctx context.Context, accessToken string, userID int64) (*ReconcileResult, error) {
	snapshot, err := r.client.GetAccounts(ctx, accessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch accounts: %w", err)
	}

	result := &ReconcileResult{}
	for _, a := range snapshot {
		_, outcome, err := r.accounts.Upsert(ctx, account.CreateParams{
			UserID:     userID,
			ExternalID: a.AccountID,
			Name:       displayName(a),
			Type:       a.Type,
			Subtype:    a.Subtype,
			Mask:       a.Mask,
		})
		if err != nil {
			return result, fmt.Errorf("failed to upsert account %s: %w", a.AccountID, err)
		}
		switch outcome {
		case account.Created:
			result.AccountsCreated++
		case account.Updated:
			result.AccountsUpdated++
		}
	}
	record(ctx, "accounts", "created", result.AccountsCreated)
	record(ctx, "accounts", "updated", result.AccountsUpdated)
	return result, nil
}

// ApplyAdded creates transactions not yet in the ledger.
func (r *Reconciler) ApplyAdded(ctx context.Context, userID int64, txs []plaid.Transaction) (*ReconcileResult, error) {
	result := &ReconcileResult{}
	for i := range txs {
		tx := &txs[i]
		existing, err := r.transactions.GetByExternalID(ctx, tx.TransactionID)
		if err != nil {
			return result, fmt.Errorf("failed to look up transaction %s: %w", tx.TransactionID, err)
		}
		if existing != nil {
			result.Skipped++
			continue
		}
		if err := r.create(ctx, userID, tx, result); err != nil {
			return result, err
		}
	}
	record(ctx, "added", "applied", result.Added)
	record(ctx, "added", "skipped", result.Skipped)
	record(ctx, "added", "unresolved", len(result.Unresolved))
	return result, nil
}

// ApplyModified updates known transactions in place and creates unknown ones
// exactly as ApplyAdded would.
func (r *Reconciler) ApplyModified(ctx context.Context, userID int64, txs []plaid.Transaction) (*ReconcileResult, error) {
	result := &ReconcileResult{}
	for i := range txs {
		tx := &txs[i]
		existing, err := r.transactions.GetByExternalID(ctx, tx.TransactionID)
		if err != nil {
			return result, fmt.Errorf("failed to look up transaction %s: %w", tx.TransactionID, err)
		}
		if existing == nil {
			if err := r.create(ctx, userID, tx, result); err != nil {
				return result, err
			}
			continue
		}

		params, err := toParams(existing.AccountID, tx)
		if err != nil {
			r.unresolved(ctx, result, tx, err)
			continue
		}
		if _, err := r.transactions.Update(ctx, existing.ID, transaction.UpdateFrom(params)); err != nil {
			return result, fmt.Errorf("failed to update transaction %s: %w", tx.TransactionID, err)
		}
		result.Modified++
	}
	record(ctx, "modified", "applied", result.Modified)
	record(ctx, "modified", "added", result.Added)
	return result, nil
}

// ApplyRemoved deletes the user's transactions by provider id. Ids that are
// absent or owned by another user are skipped.
func (r *Reconciler) ApplyRemoved(ctx context.Context, userID int64, txs []plaid.RemovedTransaction) (*ReconcileResult, error) {
	result := &ReconcileResult{}
	for _, tx := range txs {
		found, err := r.transactions.DeleteByExternalID(ctx, userID, tx.TransactionID)
		if err != nil {
			return result, fmt.Errorf("failed to delete transaction %s: %w", tx.TransactionID, err)
		}
		if found {
			result.Removed++
		} else {
			result.Skipped++
		}
	}
	record(ctx, "removed", "applied", result.Removed)
	return result, nil
}

func (r *Reconciler) create(ctx context.Context, userID int64, tx *plaid.Transaction, result *ReconcileResult) error {
	acc, err := r.accounts.Resolve(ctx, userID, tx.AccountID)
	if errors.Is(err, account.ErrAccountNotFound) {
		r.unresolved(ctx, result, tx, ErrAccountNotResolved)
		return nil
	}
	if err != nil {
		return err
	}

	params, err := toParams(acc.ID, tx)
	if err != nil {
		r.unresolved(ctx, result, tx, err)
		return nil
	}

	_, err = r.transactions.Create(ctx, params)
	switch {
	case errors.Is(err, transaction.ErrDuplicateExternalID):
		result.Skipped++
		return nil
	case err != nil:
		return fmt.Errorf("failed to create transaction %s: %w", tx.TransactionID, err)
	}
	result.Added++
	return nil
}

func (r *Reconciler) unresolved(ctx context.Context, result *ReconcileResult, tx *plaid.Transaction, err error) {
	recErr := &RecordError{TransactionID: tx.TransactionID, AccountID: tx.AccountID, Err: err}
	result.Unresolved = append(result.Unresolved, recErr)
	logger.Ctx(ctx).Warn("skipping transaction",
		"transaction_id", tx.TransactionID,
		"account_id", tx.AccountID,
		"error", err,
	)
}

func toParams(accountID int64, tx *plaid.Transaction) (transaction.CreateParams, error) {
	date, err := tx.ParsedDate()
	if err != nil {
		return transaction.CreateParams{}, fmt.Errorf("%w: %v", ErrProviderError, err)
	}
	return transaction.CreateParams{
		AccountID:    accountID,
		ExternalID:   tx.TransactionID,
		Date:         date,
		Description:  tx.Name,
		Amount:       tx.Amount,
		Category:     transaction.CategoryLabel(tx.Category),
		Pending:      tx.Pending,
		MerchantName: tx.MerchantName,
	}, nil
}

func displayName(a plaid.Account) string {
	switch {
	case a.Name != "":
		return a.Name
	case a.OfficialName != "":
		return a.OfficialName
	default:
		return a.AccountID
	}
}

func record(ctx context.Context, stage, outcome string, n int) {
	if n == 0 {
		return
	}
	reconcileTotal.Add(ctx, int64(n), metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("outcome", outcome),
	))
}
