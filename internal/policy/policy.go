// Package policy decides which wallet identities may perform admin actions
// (settling markets, listing all markets). The predicate is injected into the
// engine so the two historical authorization schemes -- a fixed wallet
// allow-list and a persisted is_admin flag -- stay interchangeable behind one
// interface, selected by configuration.
package policy

import (
	"context"
	"errors"

	"github.com/betmatch/betmatch/internal/domain"
)

// Admin reports whether a wallet identity holds admin rights. Implementations
// are pure checks with no side effects; "not admin" is not an error.
type Admin interface {
	IsAdmin(ctx context.Context, wallet string) (bool, error)
}

// AllowList grants admin rights to a fixed set of wallet addresses.
type AllowList struct {
	wallets map[string]bool
}

// NewAllowList builds an AllowList from the given wallet addresses.
func NewAllowList(wallets []string) *AllowList {
	set := make(map[string]bool, len(wallets))
	for _, w := range wallets {
		if w != "" {
			set[w] = true
		}
	}
	return &AllowList{wallets: set}
}

// IsAdmin reports membership in the allow-list.
func (a *AllowList) IsAdmin(_ context.Context, wallet string) (bool, error) {
	return a.wallets[wallet], nil
}

// FlagPolicy grants admin rights based on the persisted is_admin flag of the
// user row. Unknown wallets are simply not admins.
type FlagPolicy struct {
	users domain.UserStore
}

// NewFlagPolicy builds a FlagPolicy reading from the given user store.
func NewFlagPolicy(users domain.UserStore) *FlagPolicy {
	return &FlagPolicy{users: users}
}

// IsAdmin looks up the user row and returns its admin flag.
func (p *FlagPolicy) IsAdmin(ctx context.Context, wallet string) (bool, error) {
	u, err := p.users.Get(ctx, wallet)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return u.IsAdmin, nil
}
