package accounts

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// FileProvider serves account settings from a YAML file. Intended for
// development deployments where no settings database exists.
type FileProvider struct {
	mu       sync.RWMutex
	accounts map[string]*Account
}

type fileDoc struct {
	Accounts []*Account `yaml:"accounts"`
}

// LoadFile reads accounts from a YAML document of the form:
//
//	accounts:
//	  - id: A123
//	    owner_user_id: U1
//	    auth_key: "..."
//	    auto_reply_dm_enabled: true
//	    auto_reply_dm_message: "Away right now"
func LoadFile(path string) (*FileProvider, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read accounts file: %w", err)
	}

	var doc fileDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse accounts file: %w", err)
	}

	p := &FileProvider{accounts: make(map[string]*Account, len(doc.Accounts))}
	for _, a := range doc.Accounts {
		if a.ID == "" {
			return nil, fmt.Errorf("accounts file: entry without id")
		}
		if _, dup := p.accounts[a.ID]; dup {
			return nil, fmt.Errorf("accounts file: duplicate account id %q", a.ID)
		}
		p.accounts[a.ID] = a
	}
	return p, nil
}

// GetAccountSettings implements SettingsProvider.
func (p *FileProvider) GetAccountSettings(_ context.Context, accountID string) (*Account, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	a, ok := p.accounts[accountID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

// ListEnabled implements Directory.
func (p *FileProvider) ListEnabled(_ context.Context) ([]*Account, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []*Account
	for _, a := range p.accounts {
		if a.AutoReplyActive() {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

// OwnerOf implements Directory.
func (p *FileProvider) OwnerOf(_ context.Context, accountID string) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	a, ok := p.accounts[accountID]
	if !ok {
		return "", ErrNotFound
	}
	return a.OwnerUserID, nil
}
