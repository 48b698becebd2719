// Package accounts models linked chat accounts and their auto-reply
// settings. The supervisor only reads accounts; creation and mutation
// belong to external settings management.
package accounts

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound is returned when an account is not known to the provider.
var ErrNotFound = errors.New("account not found")

// Account is one externally linked chat identity managed for an owner.
type Account struct {
	ID          string `yaml:"id"`
	OwnerUserID string `yaml:"owner_user_id"`
	AuthKey     string `yaml:"auth_key"`

	AutoReplyDMEnabled     bool   `yaml:"auto_reply_dm_enabled"`
	AutoReplyDMMessage     string `yaml:"auto_reply_dm_message"`
	AutoReplyGroupsEnabled bool   `yaml:"auto_reply_groups_enabled"`
	AutoReplyGroupsMessage string `yaml:"auto_reply_groups_message"`
}

// AutoReplyActive reports whether the account needs a live session at all.
func (a *Account) AutoReplyActive() bool {
	return a.DMConfigured() || a.GroupsConfigured()
}

// DMConfigured reports whether direct-message auto-reply is enabled with a
// usable text.
func (a *Account) DMConfigured() bool {
	return a.AutoReplyDMEnabled && strings.TrimSpace(a.AutoReplyDMMessage) != ""
}

// GroupsConfigured reports whether group auto-reply is enabled with a
// usable text.
func (a *Account) GroupsConfigured() bool {
	return a.AutoReplyGroupsEnabled && strings.TrimSpace(a.AutoReplyGroupsMessage) != ""
}

// SettingsProvider resolves one account's current settings.
type SettingsProvider interface {
	// GetAccountSettings returns the account, or ErrNotFound.
	GetAccountSettings(ctx context.Context, accountID string) (*Account, error)
}

// Directory lists accounts that need supervision.
type Directory interface {
	// ListEnabled returns every account with at least one auto-reply flag
	// enabled and a usable reply text.
	ListEnabled(ctx context.Context) ([]*Account, error)

	// OwnerOf resolves an account's owning user, or ErrNotFound.
	OwnerOf(ctx context.Context, accountID string) (string, error)
}
