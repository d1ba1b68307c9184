// Package directory remembers which user owns which @username.
//
// Telegram does not let bots look users up by username, so mentions can only
// be resolved for people the bot has seen speak. Every observed sender is
// cached in memory and, when a store is configured, persisted by Run.
package directory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"huddlebot/internal/storage"
	logx "huddlebot/pkg/logx"
)

const persistQueue = 256

type Directory struct {
	store storage.Store
	log   logx.Logger
	now   func() time.Time

	mu     sync.RWMutex
	byID   map[int64]storage.User
	byName map[string]int64

	// pending feeds Run; nil without a store.
	pending chan storage.User
	dropped atomic.Uint64
}

// New returns a directory backed by store. store may be nil.
func New(store storage.Store, log logx.Logger) *Directory {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Directory{
		store:  store,
		log:    log.With(logx.String("comp", "directory")),
		now:    time.Now,
		byID:   map[int64]storage.User{},
		byName: map[string]int64{},
	}
	if store != nil {
		d.pending = make(chan storage.User, persistQueue)
	}
	return d
}

// Observe records that id currently uses username and name. It never waits
// for the store: changes are queued for Run and dropped when the queue is
// full.
func (d *Directory) Observe(ctx context.Context, id int64, username, name string) {
	if id == 0 {
		return
	}
	u := storage.User{ID: id, Username: strings.TrimSpace(username), Name: strings.TrimSpace(name), SeenAt: d.now()}

	d.mu.Lock()
	old, known := d.byID[id]
	changed := !known || old.Username != u.Username || old.Name != u.Name
	d.putLocked(u)
	d.mu.Unlock()

	if !changed || d.pending == nil {
		return
	}
	select {
	case d.pending <- u:
	default:
		d.dropped.Add(1)
	}
}

// Run persists observed users until ctx ends, then flushes what is still
// queued. It returns at once when the directory has no store.
func (d *Directory) Run(ctx context.Context) {
	if d.pending == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			d.flush()
			return
		case u := <-d.pending:
			d.persist(ctx, u)
		}
	}
}

func (d *Directory) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case u := <-d.pending:
			d.persist(ctx, u)
		default:
			return
		}
	}
}

func (d *Directory) persist(ctx context.Context, u storage.User) {
	if n := d.dropped.Swap(0); n > 0 {
		d.log.Warn("user updates dropped (queue full)", logx.Uint64("count", n))
	}
	if err := d.store.PutUser(ctx, u); err != nil {
		d.log.Warn("persist user failed", logx.Int64("user_id", u.ID), logx.Err(err))
	}
}

func (d *Directory) putLocked(u storage.User) {
	if old, ok := d.byID[u.ID]; ok {
		if k := storage.NormalizeUsername(old.Username); k != "" && d.byName[k] == u.ID {
			delete(d.byName, k)
		}
	}
	d.byID[u.ID] = u
	if k := storage.NormalizeUsername(u.Username); k != "" {
		d.byName[k] = u.ID
	}
}

// Lookup resolves a username, with or without the leading "@".
func (d *Directory) Lookup(ctx context.Context, username string) (storage.User, bool) {
	key := storage.NormalizeUsername(username)
	if key == "" {
		return storage.User{}, false
	}
	d.mu.RLock()
	id, ok := d.byName[key]
	u := d.byID[id]
	d.mu.RUnlock()
	if ok {
		return u, true
	}
	if d.store == nil {
		return storage.User{}, false
	}

	u, err := d.store.UserByUsername(ctx, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			d.log.Warn("user lookup failed", logx.String("username", key), logx.Err(err))
		}
		return storage.User{}, false
	}
	d.mu.Lock()
	// A fresher in-memory entry for the same name wins over the store.
	if _, taken := d.byName[key]; !taken {
		d.putLocked(u)
	}
	d.mu.Unlock()
	return u, true
}

// ByID returns what is known about id.
func (d *Directory) ByID(ctx context.Context, id int64) (storage.User, bool) {
	d.mu.RLock()
	u, ok := d.byID[id]
	d.mu.RUnlock()
	if ok || d.store == nil {
		return u, ok
	}
	u, err := d.store.UserByID(ctx, id)
	if err != nil {
		return storage.User{}, false
	}
	return u, true
}

// Len returns the number of users cached in memory.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byID)
}
