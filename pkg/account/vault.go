package account

import (
	"context"
	"errors"
)

// ErrNoCredential is returned when a vault holds no secret for an account.
var ErrNoCredential = errors.New("account: no banking credential stored")

// CredentialVault hands out the banking password used for (re)login.
// Callers never read Account.Password directly.
type CredentialVault interface {
	BankingPassword(ctx context.Context, a *Account) (string, error)
}

// PlainVault reads the password stored on the account record.
type PlainVault struct{}

func (PlainVault) BankingPassword(_ context.Context, a *Account) (string, error) {
	if a == nil || a.Password == "" {
		return "", ErrNoCredential
	}
	return a.Password, nil
}
