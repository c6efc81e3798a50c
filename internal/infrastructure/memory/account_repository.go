package memory

import (
	"context"
	"fmt"
	"sort"

	"spendwise/internal/domain/account"
	"spendwise/internal/domain/user"
)

type AccountRepository struct {
	l *Ledger
}

var _ account.Repository = (*AccountRepository)(nil)

func (r *AccountRepository) Create(_ context.Context, params account.CreateParams) (*account.Account, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	if err := r.l.fail("accounts.Create"); err != nil {
		return nil, err
	}

	if _, ok := r.l.users[params.UserID]; !ok {
		return nil, user.ErrUserNotFound
	}
	for _, a := range r.l.accounts {
		if a.UserID == params.UserID && a.ExternalID == params.ExternalID {
			return nil, fmt.Errorf("account %s already exists for user %d", params.ExternalID, params.UserID)
		}
	}

	now := r.l.now()
	a := &account.Account{
		ID:         r.l.id(),
		UserID:     params.UserID,
		ExternalID: params.ExternalID,
		Name:       params.Name,
		Type:       params.Type,
		Subtype:    params.Subtype,
		Mask:       params.Mask,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	r.l.accounts[a.ID] = a
	c := *a
	return &c, nil
}

func (r *AccountRepository) GetByExternalID(_ context.Context, userID int64, externalID string) (*account.Account, error) {
	r.l.mu.RLock()
	defer r.l.mu.RUnlock()
	if err := r.l.fail("accounts.GetByExternalID"); err != nil {
		return nil, err
	}

	for _, a := range r.l.accounts {
		if a.UserID == userID && a.ExternalID == externalID {
			c := *a
			return &c, nil
		}
	}
	return nil, nil
}

func (r *AccountRepository) Update(_ context.Context, id int64, params account.UpdateParams) (*account.Account, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	if err := r.l.fail("accounts.Update"); err != nil {
		return nil, err
	}

	a, ok := r.l.accounts[id]
	if !ok {
		return nil, account.ErrAccountNotFound
	}
	next := *a
	if params.Name != nil {
		next.Name = *params.Name
	}
	if params.Type != nil {
		next.Type = *params.Type
	}
	if params.Subtype != nil {
		next.Subtype = *params.Subtype
	}
	if params.Mask != nil {
		next.Mask = *params.Mask
	}
	next.UpdatedAt = r.l.now()
	r.l.accounts[id] = &next
	c := next
	return &c, nil
}

func (r *AccountRepository) ListByUserID(_ context.Context, userID int64) ([]*account.Account, error) {
	r.l.mu.RLock()
	defer r.l.mu.RUnlock()
	if err := r.l.fail("accounts.ListByUserID"); err != nil {
		return nil, err
	}

	var out []*account.Account
	for _, a := range r.l.accounts {
		if a.UserID == userID {
			c := *a
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
