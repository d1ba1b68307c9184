package storage

import (
	"context"
	"errors"
	"strings"

	logx "huddlebot/pkg/logx"
)

// Store is the persistence API used by the app and plugins.
type Store interface {
	AppendAudit(ctx context.Context, e AuditEntry) error

	// PutUser inserts or refreshes a user. A changed username replaces the
	// old one.
	PutUser(ctx context.Context, u User) error
	UserByID(ctx context.Context, id int64) (User, error)
	UserByUsername(ctx context.Context, username string) (User, error)

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
