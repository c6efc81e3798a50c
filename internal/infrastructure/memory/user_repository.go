package memory

import (
	"context"
	"sort"

	"spendwise/internal/domain/user"
)

type UserRepository struct {
	l *Ledger
}

var _ user.Repository = (*UserRepository)(nil)

func (r *UserRepository) Create(_ context.Context, params user.CreateParams) (*user.User, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	if err := r.l.fail("users.Create"); err != nil {
		return nil, err
	}

	now := r.l.now()
	u := &user.User{ID: r.l.id(), Email: params.Email, CreatedAt: now, UpdatedAt: now}
	r.l.users[u.ID] = u
	return copyUser(u), nil
}

func (r *UserRepository) GetByID(_ context.Context, id int64) (*user.User, error) {
	r.l.mu.RLock()
	defer r.l.mu.RUnlock()
	if err := r.l.fail("users.GetByID"); err != nil {
		return nil, err
	}

	u, ok := r.l.users[id]
	if !ok {
		return nil, nil
	}
	return copyUser(u), nil
}

func (r *UserRepository) ListLinked(_ context.Context) ([]*user.User, error) {
	r.l.mu.RLock()
	defer r.l.mu.RUnlock()
	if err := r.l.fail("users.ListLinked"); err != nil {
		return nil, err
	}

	var out []*user.User
	for _, u := range r.l.users {
		if u.IsLinked() {
			out = append(out, copyUser(u))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *UserRepository) LinkCredential(_ context.Context, id int64, accessToken string) error {
	return r.update("users.LinkCredential", id, func(u *user.User) {
		u.AccessToken = &accessToken
		u.Cursor = nil
	})
}

func (r *UserRepository) RotateCredential(_ context.Context, id int64, accessToken string) error {
	return r.update("users.RotateCredential", id, func(u *user.User) {
		u.AccessToken = &accessToken
	})
}

func (r *UserRepository) UpdateSyncState(_ context.Context, id int64, accessToken, cursor string) error {
	return r.update("users.UpdateSyncState", id, func(u *user.User) {
		u.AccessToken = &accessToken
		if cursor == "" {
			u.Cursor = nil
		} else {
			u.Cursor = &cursor
		}
	})
}

func (r *UserRepository) update(op string, id int64, apply func(*user.User)) error {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	if err := r.l.fail(op); err != nil {
		return err
	}

	u, ok := r.l.users[id]
	if !ok {
		return user.ErrUserNotFound
	}
	next := copyUser(u)
	apply(next)
	next.UpdatedAt = r.l.now()
	r.l.users[id] = next
	return nil
}

func copyUser(u *user.User) *user.User {
	c := *u
	if u.AccessToken != nil {
		v := *u.AccessToken
		c.AccessToken = &v
	}
	if u.Cursor != nil {
		v := *u.Cursor
		c.Cursor = &v
	}
	return &c
}
