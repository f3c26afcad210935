package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charleschow/game-registry/internal/telemetry"

	_ "modernc.org/sqlite"
)

const defaultPollInterval = time.Second

const schema = `CREATE TABLE IF NOT EXISTS slots (
	name    TEXT    PRIMARY KEY,
	value   BLOB    NOT NULL,
	version INTEGER NOT NULL,
	updated TEXT    NOT NULL
)`

// SQLiteStore persists slots in a SQLite file. Writes made through this
// store notify watchers immediately; a poll loop picks up writes made by
// other processes that share the same file.
type SQLiteStore struct {
	db       *sql.DB
	interval time.Duration

	mu    sync.Mutex
	watch map[string]*watchers
	seen  map[string]int64

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// OpenSQLiteStore opens (creating if needed) the database at path and
// starts the change poller. pollInterval <= 0 uses one second.
func OpenSQLiteStore(path string, pollInterval time.Duration) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create slot store dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init slot schema: %w", err)
	}

	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	s := &SQLiteStore{
		db:       db,
		interval: pollInterval,
		watch:    make(map[string]*watchers),
		seen:     make(map[string]int64),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.poll()

	telemetry.Debugf("slot store: opened %s  poll=%s", path, pollInterval)
	return s, nil
}

// Slot returns a handle on the named slot.
func (s *SQLiteStore) Slot(name string) Slot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.watch[name]; !ok {
		s.watch[name] = &watchers{}
		s.seen[name] = s.versionLocked(name)
	}
	return &sqliteSlot{store: s, name: name}
}

// Close stops the poller and closes the database.
func (s *SQLiteStore) Close() error {
	s.once.Do(func() { close(s.stop) })
	<-s.done
	return s.db.Close()
}

// versionLocked reads a slot version; s.mu must be held.
func (s *SQLiteStore) versionLocked(name string) int64 {
	var v int64
	err := s.db.QueryRow(`SELECT version FROM slots WHERE name = ?`, name).Scan(&v)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		telemetry.Warnf("slot store: read version %q: %v", name, err)
	}
	return v
}

func (s *SQLiteStore) poll() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.checkVersions()
		}
	}
}

// checkVersions notifies watchers of every slot whose stored version moved
// past the last one this store saw.
func (s *SQLiteStore) checkVersions() {
	var changed []*watchers

	s.mu.Lock()
	for name, w := range s.watch {
		v := s.versionLocked(name)
		if v > s.seen[name] {
			s.seen[name] = v
			changed = append(changed, w)
		}
	}
	s.mu.Unlock()

	for _, w := range changed {
		w.notify()
	}
}

type sqliteSlot struct {
	store *SQLiteStore
	name  string
}

func (q *sqliteSlot) Load(ctx context.Context) ([]byte, error) {
	var value []byte
	err := q.store.db.QueryRowContext(ctx, `SELECT value FROM slots WHERE name = ?`, q.name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load slot %q: %w", q.name, err)
	}
	return value, nil
}

func (q *sqliteSlot) Save(ctx context.Context, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	// held across the write so the poller never sees our version before
	// seen is updated
	q.store.mu.Lock()
	var version int64
	err := q.store.db.QueryRowContext(ctx, `
		INSERT INTO slots (name, value, version, updated) VALUES (?, ?, 1, ?)
		ON CONFLICT(name) DO UPDATE SET
			value   = excluded.value,
			version = slots.version + 1,
			updated = excluded.updated
		RETURNING version`, q.name, value, now).Scan(&version)
	if err != nil {
		q.store.mu.Unlock()
		return fmt.Errorf("save slot %q: %w", q.name, err)
	}

	if version > q.store.seen[q.name] {
		q.store.seen[q.name] = version
	}
	w := q.store.watch[q.name]
	q.store.mu.Unlock()

	w.notify()
	return nil
}

func (q *sqliteSlot) Watch(fn func()) func() {
	q.store.mu.Lock()
	w := q.store.watch[q.name]
	q.store.mu.Unlock()
	return w.add(fn)
}
