package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "huddlebot/pkg/logx"
)

// fileStore needs no database.
//
// Files:
//   - <prefix>.audit.jsonl          (append-only JSON Lines)
//   - <prefix>.users.snapshot.json  (compacted user table)
//   - <prefix>.users.journal.jsonl  (upserts since the last snapshot)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	auditFile *os.File

	snapshotPath string
	journal      *os.File
	users        map[int64]User
	byName       map[string]int64

	journalWrites int
	compactEvery  int
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	af, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	s := &fileStore{
		log:          log,
		auditFile:    af,
		snapshotPath: prefix + ".users.snapshot.json",
		users:        map[int64]User{},
		byName:       map[string]int64{},
		compactEvery: 500,
	}
	if err := s.loadSnapshot(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("user snapshot unreadable; starting from journal", logx.Err(err))
	}
	journalPath := prefix + ".users.journal.jsonl"
	if err := s.replayJournal(journalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("user journal replay stopped early", logx.Err(err))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = af.Close()
		return nil, err
	}
	s.journal = jf
	log.Debug("file store opened", logx.String("prefix", prefix), logx.Int("users", len(s.users)))
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.journal != nil {
		if err := s.compactLocked(); err != nil {
			errs = append(errs, err)
		}
		errs = append(errs, s.journal.Close())
		s.journal = nil
	}
	if s.auditFile != nil {
		errs = append(errs, s.auditFile.Close())
		s.auditFile = nil
	}
	return errors.Join(errs...)
}

func (s *fileStore) AppendAudit(_ context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) PutUser(_ context.Context, u User) error {
	if u.ID == 0 {
		return errors.New("storage: user id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return errors.New("user journal closed")
	}
	if old, ok := s.users[u.ID]; ok && old.Username == u.Username && old.Name == u.Name {
		// Only the seen time moved; keep it in memory.
		old.SeenAt = u.SeenAt
		s.users[u.ID] = old
		return nil
	}
	s.applyLocked(u)

	if err := json.NewEncoder(s.journal).Encode(u); err != nil {
		return err
	}
	s.journalWrites++
	if s.journalWrites%s.compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("user journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) UserByID(_ context.Context, id int64) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (s *fileStore) UserByUsername(_ context.Context, username string) (User, error) {
	key := NormalizeUsername(username)
	if key == "" {
		return User{}, ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byName[key]
	if !ok {
		return User{}, ErrNotFound
	}
	return s.users[id], nil
}

func (s *fileStore) applyLocked(u User) {
	if old, ok := s.users[u.ID]; ok {
		if k := NormalizeUsername(old.Username); k != "" && s.byName[k] == u.ID {
			delete(s.byName, k)
		}
	}
	s.users[u.ID] = u
	if k := NormalizeUsername(u.Username); k != "" {
		s.byName[k] = u.ID
	}
}

func (s *fileStore) compactLocked() error {
	list := make([]User, 0, len(s.users))
	for _, u := range s.users {
		list = append(list, u)
	}
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(list); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, io.SeekEnd)
	return err
}

func (s *fileStore) loadSnapshot() error {
	f, err := os.Open(s.snapshotPath)
	if err != nil {
		return err
	}
	defer f.Close()
	var list []User
	if err := json.NewDecoder(f).Decode(&list); err != nil {
		return err
	}
	for _, u := range list {
		s.applyLocked(u)
	}
	return nil
}

func (s *fileStore) replayJournal(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var u User
		if err := json.Unmarshal(sc.Bytes(), &u); err != nil || u.ID == 0 {
			continue
		}
		s.applyLocked(u)
	}
	return sc.Err()
}
