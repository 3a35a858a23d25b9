// Package account holds the account model and the storage contract the
// gateway consumes. Stores return (nil, nil) when nothing matches.
package account

import (
	"context"
	"errors"
	"time"
)

// Status is the administrative state of an account.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusLocked   Status = "locked"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusLocked:
		return true
	}
	return false
}

// Account is a persisted gateway account. Password is the banking
// password and is never serialized.
type Account struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Name      string    `json:"name,omitempty"`
	Status    Status    `json:"status"`
	Token     string    `json:"token,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a copy safe to hand out of a store.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}

// View is the response shape of an account.
type View struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Name      string    `json:"name,omitempty"`
	Status    Status    `json:"status"`
	Token     string    `json:"token,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Public returns the account without its password.
func (a *Account) Public() View {
	return View{
		ID:        a.ID,
		Username:  a.Username,
		Name:      a.Name,
		Status:    a.Status,
		Token:     a.Token,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

// PublicNoToken strips both the password and the bearer token.
func (a *Account) PublicNoToken() View {
	v := a.Public()
	v.Token = ""
	return v
}

// Update is a partial update; nil fields are left untouched.
type Update struct {
	Name     *string
	Password *string
	Status   *Status
	Token    *string
}

// Empty reports whether the update changes nothing.
func (u Update) Empty() bool {
	return u.Name == nil && u.Password == nil && u.Status == nil && u.Token == nil
}

// Apply writes the set fields into a.
func (u Update) Apply(a *Account) {
	if u.Name != nil {
		a.Name = *u.Name
	}
	if u.Password != nil {
		a.Password = *u.Password
	}
	if u.Status != nil {
		a.Status = *u.Status
	}
	if u.Token != nil {
		a.Token = *u.Token
	}
}

var (
	// ErrDuplicateUsername is returned by Create when the username is taken.
	ErrDuplicateUsername = errors.New("account: username already exists")
	// ErrDuplicateToken is returned when a token collides with another account.
	ErrDuplicateToken = errors.New("account: token already in use")
)

// Store is the persistence collaborator.
type Store interface {
	FindByID(ctx context.Context, id int64) (*Account, error)
	FindByUsername(ctx context.Context, username string) (*Account, error)
	FindByToken(ctx context.Context, token string) (*Account, error)
	List(ctx context.Context) ([]*Account, error)
	// Create assigns ID and timestamps and returns the new ID.
	Create(ctx context.Context, a *Account) (int64, error)
	// Update reports false when the account does not exist or u is empty.
	Update(ctx context.Context, id int64, u Update) (bool, error)
	// Delete reports false when the account does not exist.
	Delete(ctx context.Context, id int64) (bool, error)
	Close() error
}
