package accounts

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccount_Predicates(t *testing.T) {
	a := &Account{AutoReplyDMEnabled: true, AutoReplyDMMessage: "Away"}
	assert.True(t, a.DMConfigured())
	assert.True(t, a.AutoReplyActive())
	assert.False(t, a.GroupsConfigured())

	// Enabled flag with a blank text is not a usable configuration.
	b := &Account{AutoReplyDMEnabled: true, AutoReplyDMMessage: "   "}
	assert.False(t, b.DMConfigured())
	assert.False(t, b.AutoReplyActive())
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "accounts.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, &Account{
		ID: "A123", OwnerUserID: "U1", AuthKey: "k",
		AutoReplyDMEnabled: true, AutoReplyDMMessage: "Away right now",
	}))
	require.NoError(t, s.Upsert(ctx, &Account{
		ID: "A456", OwnerUserID: "U2",
	}))

	a, err := s.GetAccountSettings(ctx, "A123")
	require.NoError(t, err)
	assert.Equal(t, "Away right now", a.AutoReplyDMMessage)
	assert.True(t, a.DMConfigured())

	_, err = s.GetAccountSettings(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	owner, err := s.OwnerOf(ctx, "A456")
	require.NoError(t, err)
	assert.Equal(t, "U2", owner)
}

func TestSQLiteStore_ListEnabled(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, &Account{
		ID: "A1", OwnerUserID: "U1",
		AutoReplyDMEnabled: true, AutoReplyDMMessage: "Away",
	}))
	require.NoError(t, s.Upsert(ctx, &Account{
		ID: "A2", OwnerUserID: "U1",
		AutoReplyGroupsEnabled: true, AutoReplyGroupsMessage: "I read mentions later",
	}))
	// Enabled but with a blank text — must not be listed.
	require.NoError(t, s.Upsert(ctx, &Account{
		ID: "A3", OwnerUserID: "U2", AutoReplyDMEnabled: true, AutoReplyDMMessage: "  ",
	}))
	// Fully disabled.
	require.NoError(t, s.Upsert(ctx, &Account{ID: "A4", OwnerUserID: "U2"}))

	list, err := s.ListEnabled(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(list))
	for _, a := range list {
		ids = append(ids, a.ID)
	}
	assert.ElementsMatch(t, []string{"A1", "A2"}, ids)
}

func TestFileProvider(t *testing.T) {
	doc := `
accounts:
  - id: A123
    owner_user_id: U1
    auth_key: key-1
    auto_reply_dm_enabled: true
    auto_reply_dm_message: "Away right now"
  - id: A456
    owner_user_id: U2
`
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	p, err := LoadFile(path)
	require.NoError(t, err)

	ctx := context.Background()
	a, err := p.GetAccountSettings(ctx, "A123")
	require.NoError(t, err)
	assert.Equal(t, "Away right now", a.AutoReplyDMMessage)

	list, err := p.ListEnabled(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "A123", list[0].ID)

	owner, err := p.OwnerOf(ctx, "A456")
	require.NoError(t, err)
	assert.Equal(t, "U2", owner)

	_, err = p.GetAccountSettings(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}
