package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "huddlebot/pkg/logx"
)

//go:embed migrations.sql
var migrations string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			log.Debug("sqlite pragma failed", logx.String("pragma", p), logx.Err(err))
		}
	}

	st := &sqliteStore{db: db, log: log}
	if _, err := db.ExecContext(context.Background(), migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, actor_username, chat_id, thread_id, plugin, action, target, ok, fail, err, took_ms, meta)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.ActorID, nullStr(e.ActorUsername), e.ChatID, e.ThreadID,
		e.Plugin, e.Action, nullStr(e.Target), e.OK, e.Fail, nullStr(e.Error), e.TookMS, nullStr(e.MetaJSON),
	)
	return err
}

func (s *sqliteStore) PutUser(ctx context.Context, u User) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if u.ID == 0 {
		return errors.New("storage: user id is required")
	}
	if u.SeenAt.IsZero() {
		u.SeenAt = time.Now()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	key := NormalizeUsername(u.Username)
	if key != "" {
		// Usernames move between accounts; the newest owner keeps it.
		if _, err := tx.ExecContext(ctx, `UPDATE users SET username = NULL, username_key = NULL WHERE username_key = ? AND id <> ?`, key, u.ID); err != nil {
			return err
		}
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO users(id, username, username_key, name, seen_at) VALUES(?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   username = excluded.username,
		   username_key = excluded.username_key,
		   name = excluded.name,
		   seen_at = excluded.seen_at`,
		u.ID, nullStr(u.Username), nullStr(key), nullStr(u.Name), u.SeenAt.UTC().UnixMilli(),
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) UserByID(ctx context.Context, id int64) (User, error) {
	if s == nil || s.db == nil {
		return User{}, ErrDisabled
	}
	return s.scanUser(s.db.QueryRowContext(ctx, `SELECT id, username, name, seen_at FROM users WHERE id = ?`, id))
}

func (s *sqliteStore) UserByUsername(ctx context.Context, username string) (User, error) {
	if s == nil || s.db == nil {
		return User{}, ErrDisabled
	}
	key := NormalizeUsername(username)
	if key == "" {
		return User{}, ErrNotFound
	}
	return s.scanUser(s.db.QueryRowContext(ctx, `SELECT id, username, name, seen_at FROM users WHERE username_key = ?`, key))
}

func (s *sqliteStore) scanUser(row *sql.Row) (User, error) {
	var (
		u        User
		username sql.NullString
		name     sql.NullString
		seen     int64
	)
	err := row.Scan(&u.ID, &username, &name, &seen)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	u.Username = username.String
	u.Name = name.String
	u.SeenAt = time.UnixMilli(seen)
	return u, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
