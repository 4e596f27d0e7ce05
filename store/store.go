// Package store persists Herald's slice of the shared data store: users,
// subscriptions, the system singleton, stories (read-only enrichment) and
// notification rows. All statements are built with goqu against SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/rs/zerolog/log"

	_ "github.com/mattn/go-sqlite3"

	"github.com/herald-io/herald/encoding"
	"github.com/herald-io/herald/model"
)

const defaultBusyTimeoutMS = 5000

var dialect = goqu.Dialect("sqlite3")

// Store wraps the SQLite database holding Herald's tables.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (and bootstraps) the store at the given path.
func Open(path string) (*Store, error) {
	isMemoryDB := strings.Contains(path, ":memory:")

	dsn := path
	if !isMemoryDB {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += fmt.Sprintf("%s_journal_mode=WAL&_busy_timeout=%d", sep, defaultBusyTimeoutMS)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(0)

	if !isMemoryDB {
		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA synchronous=NORMAL",
			"PRAGMA temp_store=MEMORY",
		} {
			if _, err := db.Exec(pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
			}
		}
	} else {
		// A pool against :memory: would hand out independent databases.
		db.SetMaxOpenConns(1)
	}

	for _, schema := range Schemas() {
		if _, err := db.Exec(schema); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return &Store{db: db, path: path}, nil
}

// Schemas returns the DDL for Herald's own tables.
func Schemas() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			display_name TEXT NOT NULL DEFAULT '',
			profile_image TEXT NOT NULL DEFAULT '',
			admin INTEGER NOT NULL DEFAULT 0,
			deleted INTEGER NOT NULL DEFAULT 0,
			settings BLOB
		)`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
			id INTEGER PRIMARY KEY,
			user_id INTEGER NOT NULL,
			token TEXT NOT NULL UNIQUE,
			method TEXT NOT NULL,
			relay TEXT NOT NULL DEFAULT '',
			area TEXT NOT NULL DEFAULT '',
			schema TEXT NOT NULL DEFAULT '*',
			locale TEXT NOT NULL DEFAULT '',
			deleted INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS system (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			address TEXT NOT NULL DEFAULT '',
			settings BLOB
		)`,
		`CREATE TABLE IF NOT EXISTS stories (
			schema TEXT NOT NULL,
			id INTEGER NOT NULL,
			type TEXT NOT NULL DEFAULT '',
			user_ids BLOB,
			ptime INTEGER NOT NULL DEFAULT 0,
			deleted INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (schema, id)
		)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			schema TEXT NOT NULL,
			type TEXT NOT NULL,
			story_id INTEGER NOT NULL DEFAULT 0,
			reaction_id INTEGER NOT NULL DEFAULT 0,
			user_id INTEGER NOT NULL,
			target_user_id INTEGER NOT NULL,
			details BLOB,
			seen INTEGER NOT NULL DEFAULT 0,
			suppressed INTEGER NOT NULL DEFAULT 0,
			deleted INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			UNIQUE (schema, type, story_id, reaction_id, user_id, target_user_id)
		)`,
	}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Users returns all non-deleted users.
func (s *Store) Users(ctx context.Context) ([]*model.User, error) {
	query, args, err := dialect.From("users").
		Select("id", "name", "display_name", "profile_image", "admin", "deleted", "settings").
		Where(goqu.C("deleted").Eq(false)).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build users query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// User returns one user by id, deleted or not. Returns nil when absent.
func (s *Store) User(ctx context.Context, id int64) (*model.User, error) {
	query, args, err := dialect.From("users").
		Select("id", "name", "display_name", "profile_image", "admin", "deleted", "settings").
		Where(goqu.C("id").Eq(id)).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build user query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query user %d: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanUser(rows)
}

func scanUser(rows *sql.Rows) (*model.User, error) {
	var u model.User
	var settings []byte
	if err := rows.Scan(&u.ID, &u.Name, &u.DisplayName, &u.ProfileImage, &u.Admin, &u.Deleted, &settings); err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	if len(settings) > 0 {
		if err := encoding.Unmarshal(settings, &u.Settings); err != nil {
			return nil, fmt.Errorf("failed to decode settings for user %d: %w", u.ID, err)
		}
	}
	return &u, nil
}

// Subscriptions returns all non-deleted subscriptions.
func (s *Store) Subscriptions(ctx context.Context) ([]*model.Subscription, error) {
	query, args, err := dialect.From("subscriptions").
		Select("id", "user_id", "token", "method", "relay", "area", "schema", "locale", "deleted").
		Where(goqu.C("deleted").Eq(false)).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build subscriptions query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*model.Subscription
	for rows.Next() {
		var sub model.Subscription
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.Token, &sub.Method, &sub.Relay,
			&sub.Area, &sub.Schema, &sub.Locale, &sub.Deleted); err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, &sub)
	}
	return subs, rows.Err()
}

// System returns the settings singleton, or an empty one when unset.
func (s *Store) System(ctx context.Context) (*model.SystemSettings, error) {
	query, args, err := dialect.From("system").
		Select("id", "address", "settings").
		Where(goqu.C("id").Eq(1)).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build system query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query system settings: %w", err)
	}
	defer rows.Close()

	sys := &model.SystemSettings{ID: 1}
	if !rows.Next() {
		return sys, rows.Err()
	}

	var settings []byte
	if err := rows.Scan(&sys.ID, &sys.Address, &settings); err != nil {
		return nil, fmt.Errorf("failed to scan system settings: %w", err)
	}
	if len(settings) > 0 {
		if err := encoding.Unmarshal(settings, &sys.Settings); err != nil {
			return nil, fmt.Errorf("failed to decode system settings: %w", err)
		}
	}
	return sys, nil
}

// Story returns one story row for rule enrichment. Returns nil when absent.
func (s *Store) Story(ctx context.Context, schema string, id int64) (*model.Story, error) {
	query, args, err := dialect.From("stories").
		Select("schema", "id", "type", "user_ids", "ptime", "deleted").
		Where(goqu.C("schema").Eq(schema), goqu.C("id").Eq(id)).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build story query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query story %s/%d: %w", schema, id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}

	var story model.Story
	var userIDs []byte
	if err := rows.Scan(&story.Schema, &story.ID, &story.Type, &userIDs, &story.PTime, &story.Deleted); err != nil {
		return nil, fmt.Errorf("failed to scan story: %w", err)
	}
	if len(userIDs) > 0 {
		if err := encoding.Unmarshal(userIDs, &story.UserIDs); err != nil {
			return nil, fmt.Errorf("failed to decode story user ids: %w", err)
		}
	}
	return &story, nil
}

// UpsertNotifications persists one schema's batch of notifications.
// Conflicts on the natural key update details instead of inserting a
// duplicate row, which makes batch replays idempotent.
func (s *Store) UpsertNotifications(ctx context.Context, notifications []*model.Notification) error {
	if len(notifications) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin notification batch: %w", err)
	}

	for _, n := range notifications {
		details, err := encoding.Marshal(n.Details)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to encode notification details: %w", err)
		}

		query, args, err := dialect.Insert("notifications").
			Rows(goqu.Record{
				"schema":         n.Schema,
				"type":           n.Type,
				"story_id":       n.StoryID,
				"reaction_id":    n.ReactionID,
				"user_id":        n.UserID,
				"target_user_id": n.TargetUserID,
				"details":        details,
				"seen":           false,
				"suppressed":     n.Suppressed,
				"deleted":        false,
				"created_at":     n.CreatedAt,
			}).
			OnConflict(goqu.DoUpdate(
				"schema, type, story_id, reaction_id, user_id, target_user_id",
				goqu.Record{"details": details, "deleted": false},
			)).
			Prepared(true).ToSQL()
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to build notification upsert: %w", err)
		}

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to upsert notification: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit notification batch: %w", err)
	}
	return nil
}

// Notifications returns all non-deleted notifications for one schema,
// newest first.
func (s *Store) Notifications(ctx context.Context, schema string) ([]*model.Notification, error) {
	query, args, err := dialect.From("notifications").
		Select("id", "schema", "type", "story_id", "reaction_id", "user_id",
			"target_user_id", "details", "seen", "suppressed", "deleted", "created_at").
		Where(goqu.C("schema").Eq(schema), goqu.C("deleted").Eq(false)).
		Order(goqu.C("created_at").Desc()).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build notifications query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	var result []*model.Notification
	for rows.Next() {
		var n model.Notification
		var details []byte
		if err := rows.Scan(&n.ID, &n.Schema, &n.Type, &n.StoryID, &n.ReactionID,
			&n.UserID, &n.TargetUserID, &details, &n.Seen, &n.Suppressed, &n.Deleted, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		if len(details) > 0 {
			if err := encoding.Unmarshal(details, &n.Details); err != nil {
				return nil, fmt.Errorf("failed to decode notification details: %w", err)
			}
		}
		result = append(result, &n)
	}
	return result, rows.Err()
}

// SoftDeleteSubscriptionByToken marks one subscription stale.
func (s *Store) SoftDeleteSubscriptionByToken(ctx context.Context, token string) error {
	return s.SoftDeleteSubscriptionsByTokens(ctx, []string{token})
}

// SoftDeleteSubscriptionsByTokens marks every subscription whose token is
// in the given list stale. Used when a socket is gone or a relay reports
// expired device registrations.
func (s *Store) SoftDeleteSubscriptionsByTokens(ctx context.Context, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}

	query, args, err := dialect.Update("subscriptions").
		Set(goqu.Record{"deleted": true}).
		Where(goqu.C("token").In(tokens)).
		Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("failed to build subscription soft-delete: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to soft-delete subscriptions: %w", err)
	}

	if affected, err := res.RowsAffected(); err == nil && affected > 0 {
		log.Info().Int64("count", affected).Msg("Soft-deleted stale subscriptions")
	}
	return nil
}

// PruneNotifications hard-deletes soft-deleted or seen notifications older
// than the cutoff. The retention sweep is the only hard-delete path.
func (s *Store) PruneNotifications(ctx context.Context, olderThan time.Time) (int64, error) {
	cutoff := olderThan.UnixMilli()

	query, args, err := dialect.Delete("notifications").
		Where(
			goqu.C("created_at").Lt(cutoff),
			goqu.Or(goqu.C("deleted").Eq(true), goqu.C("seen").Eq(true)),
		).
		Prepared(true).ToSQL()
	if err != nil {
		return 0, fmt.Errorf("failed to build notification prune: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to prune notifications: %w", err)
	}
	return res.RowsAffected()
}
