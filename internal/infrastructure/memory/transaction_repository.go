package memory

import (
	"context"
	"sort"

	"spendwise/internal/domain/account"
	"spendwise/internal/domain/transaction"
)

type TransactionRepository struct {
	l *Ledger
}

var _ transaction.Repository = (*TransactionRepository)(nil)

func (r *TransactionRepository) GetByExternalID(_ context.Context, externalID string) (*transaction.Transaction, error) {
	r.l.mu.RLock()
	defer r.l.mu.RUnlock()
	if err := r.l.fail("transactions.GetByExternalID"); err != nil {
		return nil, err
	}

	id, ok := r.l.txByExt[externalID]
	if !ok {
		return nil, nil
	}
	c := *r.l.txs[id]
	return &c, nil
}

func (r *TransactionRepository) Create(_ context.Context, params transaction.CreateParams) (*transaction.Transaction, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	if err := r.l.fail("transactions.Create"); err != nil {
		return nil, err
	}

	if _, ok := r.l.accounts[params.AccountID]; !ok {
		return nil, account.ErrAccountNotFound
	}
	if _, dup := r.l.txByExt[params.ExternalID]; dup {
		return nil, transaction.ErrDuplicateExternalID
	}

	now := r.l.now()
	tx := &transaction.Transaction{
		ID:           r.l.id(),
		AccountID:    params.AccountID,
		ExternalID:   params.ExternalID,
		Date:         params.Date,
		Description:  params.Description,
		Amount:       params.Amount,
		Category:     params.Category,
		Pending:      params.Pending,
		MerchantName: params.MerchantName,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.l.txs[tx.ID] = tx
	r.l.txByExt[tx.ExternalID] = tx.ID
	c := *tx
	return &c, nil
}

func (r *TransactionRepository) Update(_ context.Context, id int64, params transaction.UpdateParams) (*transaction.Transaction, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	if err := r.l.fail("transactions.Update"); err != nil {
		return nil, err
	}

	tx, ok := r.l.txs[id]
	if !ok {
		return nil, transaction.ErrTransactionNotFound
	}
	next := *tx
	next.Date = params.Date
	next.Description = params.Description
	next.Amount = params.Amount
	next.Category = params.Category
	next.Pending = params.Pending
	next.MerchantName = params.MerchantName
	next.UpdatedAt = r.l.now()
	r.l.txs[id] = &next
	c := next
	return &c, nil
}

func (r *TransactionRepository) DeleteByExternalID(_ context.Context, userID int64, externalID string) (bool, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	if err := r.l.fail("transactions.DeleteByExternalID"); err != nil {
		return false, err
	}

	id, ok := r.l.txByExt[externalID]
	if !ok {
		return false, nil
	}
	if acc := r.l.accounts[r.l.txs[id].AccountID]; acc == nil || acc.UserID != userID {
		return false, nil
	}
	delete(r.l.txs, id)
	delete(r.l.txByExt, externalID)
	return true, nil
}

func (r *TransactionRepository) ListByAccountID(_ context.Context, accountID int64) ([]*transaction.Transaction, error) {
	r.l.mu.RLock()
	defer r.l.mu.RUnlock()
	if err := r.l.fail("transactions.ListByAccountID"); err != nil {
		return nil, err
	}

	var out []*transaction.Transaction
	for _, tx := range r.l.txs {
		if tx.AccountID == accountID {
			c := *tx
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ExternalIDs returns every stored transaction id, sorted. Useful for
// comparing ledger states.
func (r *TransactionRepository) ExternalIDs() []string {
	r.l.mu.RLock()
	defer r.l.mu.RUnlock()

	out := make([]string, 0, len(r.l.txByExt))
	for ext := range r.l.txByExt {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}
