package directory

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/herald-io/herald/store"
)

// testFixture opens a file-backed store plus a raw connection for seeding.
type testFixture struct {
	dir *Directory
	raw *sql.DB
}

func newFixture(t *testing.T, ttl time.Duration) *testFixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), "herald.db")

	s, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	raw, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })

	return &testFixture{dir: New(s, 64, ttl), raw: raw}
}

func (f *testFixture) exec(t *testing.T, query string, args ...any) {
	t.Helper()
	_, err := f.raw.Exec(query, args...)
	require.NoError(t, err)
}

func TestUser_CachedUntilInvalidated(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()

	f.exec(t, `INSERT INTO users (id, name) VALUES (1, 'alice')`)

	u, err := f.dir.User(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "alice", u.Name)

	// The row changes underneath; the cached entry still answers.
	f.exec(t, `UPDATE users SET name = 'renamed' WHERE id = 1`)

	u, err = f.dir.User(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Name)

	f.dir.InvalidateUser(1)

	u, err = f.dir.User(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "renamed", u.Name)
}

func TestUser_DeletedReturnsNil(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.exec(t, `INSERT INTO users (id, name, deleted) VALUES (1, 'gone', 1)`)

	u, err := f.dir.User(context.Background(), 1)
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestUserByName(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.exec(t, `INSERT INTO users (id, name) VALUES (1, 'alice'), (2, 'bob')`)

	u, err := f.dir.UserByName(context.Background(), "bob")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, int64(2), u.ID)

	missing, err := f.dir.UserByName(context.Background(), "carol")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSubscriptions_ListInvalidation(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()

	f.exec(t, `INSERT INTO subscriptions (id, user_id, token, method) VALUES (1, 1, 'tok-a', 'websocket')`)

	subs, err := f.dir.Subscriptions(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 1)

	f.exec(t, `INSERT INTO subscriptions (id, user_id, token, method) VALUES (2, 1, 'tok-b', 'fcm')`)

	subs, err = f.dir.Subscriptions(ctx)
	require.NoError(t, err)
	assert.Len(t, subs, 1)

	f.dir.InvalidateSubscription(2)

	subs, err = f.dir.Subscriptions(ctx)
	require.NoError(t, err)
	assert.Len(t, subs, 2)
}

func TestSystem_Invalidation(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()

	sys, err := f.dir.System(ctx)
	require.NoError(t, err)
	assert.Equal(t, "", sys.Address)

	f.exec(t, `INSERT INTO system (id, address) VALUES (1, 'https://example.org')`)

	sys, err = f.dir.System(ctx)
	require.NoError(t, err)
	assert.Equal(t, "", sys.Address)

	f.dir.InvalidateSystem()

	sys, err = f.dir.System(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://example.org", sys.Address)
}

func TestUser_TTLExpiry(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond)
	ctx := context.Background()

	f.exec(t, `INSERT INTO users (id, name) VALUES (1, 'alice')`)

	_, err := f.dir.User(ctx, 1)
	require.NoError(t, err)

	f.exec(t, `UPDATE users SET name = 'renamed' WHERE id = 1`)
	time.Sleep(80 * time.Millisecond)

	u, err := f.dir.User(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "renamed", u.Name)
}
