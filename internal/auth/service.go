package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Service resolves identity-provider logins to system users.
type Service struct {
	store Store
}

// NewService constructs Service.
func NewService(store Store) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth store is required")
	}
	return &Service{store: store}, nil
}

// EnsureSystemUser finds, creates or reactivates the user behind identifier/source.
// The sequence runs in one transaction so a reactivation never half-applies.
func (s *Service) EnsureSystemUser(ctx context.Context, identifier, source string) (SystemUser, error) {
	var user SystemUser
	err := s.store.WithinTx(ctx, func(tx Store) error {
		var err error
		user, err = EnsureSystemUser(ctx, tx.Users(), identifier, source)
		return err
	})
	if err != nil {
		return SystemUser{}, err
	}
	return user, nil
}

// Authenticate resolves verified claims to a principal.
func (s *Service) Authenticate(ctx context.Context, claims *Claims) (Principal, error) {
	if claims == nil {
		return Principal{}, ErrMissingIdentity
	}
	identifier, source, err := claims.Identity()
	if err != nil {
		return Principal{}, err
	}
	user, err := s.EnsureSystemUser(ctx, identifier, source)
	if err != nil {
		return Principal{}, err
	}
	return Principal{User: user, Claims: *claims}, nil
}

// EnsureSystemUser applies the unknown -> active, deactivated -> active
// transitions on the given store. Callers own the transaction.
func EnsureSystemUser(ctx context.Context, users UserStore, identifier, source string) (SystemUser, error) {
	identifier = strings.TrimSpace(identifier)
	source = strings.ToUpper(strings.TrimSpace(source))
	if identifier == "" || source == "" {
		return SystemUser{}, ErrMissingIdentity
	}

	user, err := users.FindByIdentifier(ctx, identifier, source)
	switch {
	case errors.Is(err, ErrNotFound):
		user, err = users.Create(ctx, identifier, source)
		if errors.Is(err, ErrConflict) {
			// Lost a concurrent first-login race; the row exists now.
			user, err = users.FindByIdentifier(ctx, identifier, source)
		}
		if err != nil {
			return SystemUser{}, fmt.Errorf("create system user: %w", err)
		}
	case err != nil:
		return SystemUser{}, fmt.Errorf("find system user: %w", err)
	}

	if !user.Active() {
		user, err = users.Reactivate(ctx, user.ID)
		if err != nil {
			return SystemUser{}, fmt.Errorf("reactivate system user: %w", err)
		}
	}
	return user, nil
}
