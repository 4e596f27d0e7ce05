package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/herald-io/herald/encoding"
	"github.com/herald-io/herald/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedUser(t *testing.T, s *Store, u *model.User) {
	t.Helper()
	settings, err := encoding.Marshal(u.Settings)
	require.NoError(t, err)
	_, err = s.db.Exec(
		`INSERT INTO users (id, name, display_name, profile_image, admin, deleted, settings)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Name, u.DisplayName, u.ProfileImage, u.Admin, u.Deleted, settings)
	require.NoError(t, err)
}

func seedSubscription(t *testing.T, s *Store, sub *model.Subscription) {
	t.Helper()
	_, err := s.db.Exec(
		`INSERT INTO subscriptions (id, user_id, token, method, relay, area, schema, locale, deleted)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.UserID, sub.Token, sub.Method, sub.Relay, sub.Area, sub.Schema, sub.Locale, sub.Deleted)
	require.NoError(t, err)
}

func TestUsers_ExcludesDeleted(t *testing.T) {
	s := openTestStore(t)
	seedUser(t, s, &model.User{ID: 1, Name: "alice"})
	seedUser(t, s, &model.User{ID: 2, Name: "bob", Deleted: true})

	users, err := s.Users(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "alice", users[0].Name)
}

func TestUser_SettingsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	seedUser(t, s, &model.User{
		ID:   1,
		Name: "alice",
		Settings: map[string]any{
			"notification": map[string]any{"story": false},
		},
	})

	u, err := s.User(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, u)

	pref, ok := u.NotificationPref("story")
	require.True(t, ok)
	assert.False(t, model.AsBool(pref))
}

func TestUser_Missing(t *testing.T) {
	s := openTestStore(t)
	u, err := s.User(context.Background(), 42)
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestSystem_EmptyDefault(t *testing.T) {
	s := openTestStore(t)
	sys, err := s.System(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sys)
	assert.Equal(t, "", sys.Address)
}

func TestUpsertNotifications_Idempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	n := &model.Notification{
		Schema:       "blog",
		Type:         "story",
		StoryID:      10,
		UserID:       1,
		TargetUserID: 2,
		Details:      map[string]any{"story_type": "post"},
		CreatedAt:    time.Now().UnixMilli(),
	}

	require.NoError(t, s.UpsertNotifications(ctx, []*model.Notification{n}))

	// Replaying the same batch must not create a second row.
	n.Details = map[string]any{"story_type": "post", "photos": int64(3)}
	require.NoError(t, s.UpsertNotifications(ctx, []*model.Notification{n}))

	rows, err := s.Notifications(ctx, "blog")
	require.NoError(t, err)
	require.Len(t, rows, 1)

	photos, ok := model.AsInt64(rows[0].Details["photos"])
	require.True(t, ok)
	assert.Equal(t, int64(3), photos)
}

func TestUpsertNotifications_DistinctNaturalKeys(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	batch := []*model.Notification{
		{Schema: "blog", Type: "story", StoryID: 10, UserID: 1, TargetUserID: 2, CreatedAt: 1},
		{Schema: "blog", Type: "story", StoryID: 10, UserID: 1, TargetUserID: 3, CreatedAt: 2},
		{Schema: "blog", Type: "mention", StoryID: 10, UserID: 1, TargetUserID: 2, CreatedAt: 3},
	}
	require.NoError(t, s.UpsertNotifications(ctx, batch))

	rows, err := s.Notifications(ctx, "blog")
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestSoftDeleteSubscriptionsByTokens(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	seedSubscription(t, s, &model.Subscription{ID: 1, UserID: 1, Token: "tok-a", Method: model.MethodWebSocket})
	seedSubscription(t, s, &model.Subscription{ID: 2, UserID: 1, Token: "tok-b", Method: model.MethodFCM})
	seedSubscription(t, s, &model.Subscription{ID: 3, UserID: 2, Token: "tok-c", Method: model.MethodAPNS})

	require.NoError(t, s.SoftDeleteSubscriptionsByTokens(ctx, []string{"tok-a", "tok-c"}))

	subs, err := s.Subscriptions(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "tok-b", subs[0].Token)
}

func TestPruneNotifications(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour).UnixMilli()
	fresh := time.Now().UnixMilli()

	batch := []*model.Notification{
		{Schema: "blog", Type: "story", StoryID: 1, UserID: 1, TargetUserID: 2, CreatedAt: old},
		{Schema: "blog", Type: "story", StoryID: 2, UserID: 1, TargetUserID: 2, CreatedAt: old},
		{Schema: "blog", Type: "story", StoryID: 3, UserID: 1, TargetUserID: 2, CreatedAt: fresh},
	}
	require.NoError(t, s.UpsertNotifications(ctx, batch))

	// Only seen or soft-deleted rows are prunable.
	_, err := s.db.Exec(`UPDATE notifications SET seen = 1 WHERE story_id = 1`)
	require.NoError(t, err)
	_, err = s.db.Exec(`UPDATE notifications SET deleted = 1 WHERE story_id = 2`)
	require.NoError(t, err)

	pruned, err := s.PruneNotifications(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), pruned)

	rows, err := s.Notifications(ctx, "blog")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(3), rows[0].StoryID)
}

func TestStory_UserIDsDecoded(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	userIDs, err := encoding.Marshal([]int64{1, 2, 3})
	require.NoError(t, err)
	_, err = s.db.Exec(
		`INSERT INTO stories (schema, id, type, user_ids, ptime, deleted) VALUES (?, ?, ?, ?, ?, ?)`,
		"blog", 7, "post", userIDs, time.Now().UnixMilli(), false)
	require.NoError(t, err)

	story, err := s.Story(ctx, "blog", 7)
	require.NoError(t, err)
	require.NotNil(t, story)
	assert.Equal(t, []int64{1, 2, 3}, story.UserIDs)

	missing, err := s.Story(ctx, "blog", 99)
	require.NoError(t, err)
	assert.Nil(t, missing)
}
