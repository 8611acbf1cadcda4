// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

// Package store provides the Local Store: a BadgerDB-backed durable mirror of
// the sync engine's state, keyed by table, user and record id, plus a capped
// existence cache for saved-mark lookups.
//
// Key layout:
//
//	saved/<userID>/<entityID>
//	planned/<userID>/<visitID>
//	history/<userID>/<visitID>
//	pending/<userID>/<operationID>
//
// Only the sync engine writes to the store.
package store

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/placesync/internal/logging"
)

// Table names a logical table of the mirror.
type Table string

const (
	TableSaved   Table = "saved"
	TablePlanned Table = "planned"
	TableHistory Table = "history"
	TablePending Table = "pending"
)

// Errors
var (
	// ErrClosed is returned for operations on a closed store.
	ErrClosed = errors.New("store is closed")

	// ErrInvalidKey is returned when a user or record id contains the key separator.
	ErrInvalidKey = errors.New("store key segment must be non-empty and must not contain '/'")
)

// Config configures the store.
type Config struct {
	// Path is the BadgerDB directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps all data in memory (tests and ephemeral sessions).
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// CacheCapacity caps the existence cache.
	CacheCapacity int

	// CacheTTL expires existence cache entries.
	CacheTTL time.Duration

	// GCInterval is the interval between value-log GC runs.
	GCInterval time.Duration

	// GCDiscardRatio is passed to RunValueLogGC.
	GCDiscardRatio float64

	// CloseTimeout bounds Close.
	CloseTimeout time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Path:           "/data/placesync",
		SyncWrites:     true,
		CacheCapacity:  1024,
		CacheTTL:       10 * time.Minute,
		GCInterval:     10 * time.Minute,
		GCDiscardRatio: 0.5,
		CloseTimeout:   30 * time.Second,
	}
}

// Store is the durable local mirror.
type Store struct {
	db     *badger.DB
	config Config
	cache  *ExistenceCache

	mu     sync.RWMutex
	closed bool
}

// Open opens (or creates) the store described by cfg.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, fmt.Errorf("store path is required")
	}
	if cfg.CloseTimeout == 0 {
		cfg.CloseTimeout = 30 * time.Second
	}
	if cfg.GCDiscardRatio == 0 {
		cfg.GCDiscardRatio = 0.5
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.SyncWrites = cfg.SyncWrites
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Bool("sync_writes", cfg.SyncWrites).
		Msg("local store opened")

	return &Store{
		db:     db,
		config: cfg,
		cache:  NewExistenceCache(cfg.CacheCapacity, cfg.CacheTTL),
	}, nil
}

// OpenInMemory opens an in-memory store with default cache settings.
func OpenInMemory() (*Store, error) {
	cfg := DefaultConfig()
	cfg.InMemory = true
	cfg.Path = ""
	cfg.SyncWrites = false
	return Open(cfg)
}

func recordKey(table Table, userID, id string) ([]byte, error) {
	if userID == "" || id == "" || strings.Contains(userID, "/") || strings.Contains(id, "/") {
		return nil, ErrInvalidKey
	}
	return []byte(string(table) + "/" + userID + "/" + id), nil
}

func tablePrefix(table Table, userID string) []byte {
	return []byte(string(table) + "/" + userID + "/")
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Tx is a write transaction spanning any number of tables. Cache updates for
// saved marks are applied only after commit.
type Tx struct {
	txn    *badger.Txn
	userID string
	saved  map[string]bool
}

// Put stores v as JSON under (table, id).
func (tx *Tx) Put(table Table, id string, v any) error {
	key, err := recordKey(table, tx.userID, id)
	if err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", table, id, err)
	}
	if err := tx.txn.Set(key, data); err != nil {
		return fmt.Errorf("set %s/%s: %w", table, id, err)
	}
	if table == TableSaved {
		tx.saved[id] = true
	}
	RecordWrite(table, "put")
	return nil
}

// Delete removes (table, id). Deleting a missing record is not an error.
func (tx *Tx) Delete(table Table, id string) error {
	key, err := recordKey(table, tx.userID, id)
	if err != nil {
		return err
	}
	if err := tx.txn.Delete(key); err != nil {
		return fmt.Errorf("delete %s/%s: %w", table, id, err)
	}
	if table == TableSaved {
		tx.saved[id] = false
	}
	RecordWrite(table, "delete")
	return nil
}

// Clear removes every record of table for the transaction's user.
func (tx *Tx) Clear(table Table) error {
	prefix := tablePrefix(table, tx.userID)
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := tx.txn.NewIterator(opts)

	// Collect keys first; deleting while iterating is not allowed.
	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()

	for _, key := range keys {
		if err := tx.txn.Delete(key); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
		if table == TableSaved {
			tx.saved[string(key[len(prefix):])] = false
		}
	}
	return nil
}

// Update runs fn in a single durable transaction for userID. Either every
// write in fn commits or none does.
func (s *Store) Update(userID string, fn func(tx *Tx) error) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	tx := &Tx{userID: userID, saved: make(map[string]bool)}
	err := s.db.Update(func(txn *badger.Txn) error {
		tx.txn = txn
		return fn(tx)
	})
	if err != nil {
		return err
	}
	for entityID, saved := range tx.saved {
		s.cache.Set(userID, entityID, saved)
	}
	return nil
}

// Put stores a single record.
func (s *Store) Put(table Table, userID, id string, v any) error {
	return s.Update(userID, func(tx *Tx) error {
		return tx.Put(table, id, v)
	})
}

// Delete removes a single record.
func (s *Store) Delete(table Table, userID, id string) error {
	return s.Update(userID, func(tx *Tx) error {
		return tx.Delete(table, id)
	})
}

// Get decodes the record (table, userID, id) into out. It reports false if
// the record does not exist.
func (s *Store) Get(table Table, userID, id string, out any) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	key, err := recordKey(table, userID, id)
	if err != nil {
		return false, err
	}
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, out)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s/%s: %w", table, id, err)
	}
	return true, nil
}

// Scan calls fn for every record of table owned by userID, in key order.
// Records whose value fn rejects are treated as corrupt: they are logged,
// deleted and counted, and the scan continues.
func (s *Store) Scan(table Table, userID string, fn func(id string, raw []byte) error) (corrupt int, err error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	prefix := tablePrefix(table, userID)
	var bad [][]byte

	err = s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			id := string(item.Key()[len(prefix):])
			verr := item.Value(func(val []byte) error {
				return fn(id, val)
			})
			if verr != nil {
				logging.Warn().
					Err(verr).
					Str("table", string(table)).
					Str("user_id", userID).
					Str("record_id", id).
					Msg("dropping corrupt local record")
				bad = append(bad, item.KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan %s: %w", table, err)
	}

	if len(bad) > 0 {
		RecordCorrupt(table, len(bad))
		if derr := s.db.Update(func(txn *badger.Txn) error {
			for _, key := range bad {
				if err := txn.Delete(key); err != nil {
					return err
				}
			}
			return nil
		}); derr != nil {
			logging.Warn().Err(derr).Str("table", string(table)).Msg("failed to purge corrupt records")
		}
	}
	return len(bad), nil
}

// Count returns the number of records in table for userID.
func (s *Store) Count(table Table, userID string) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	prefix := tablePrefix(table, userID)
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// IsSaved reports whether userID has a saved mark for entityID, consulting
// the existence cache before the database.
func (s *Store) IsSaved(userID, entityID string) (bool, error) {
	if saved, ok := s.cache.Get(userID, entityID); ok {
		return saved, nil
	}
	gen := s.cache.Generation()
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	key, err := recordKey(TableSaved, userID, entityID)
	if err != nil {
		return false, err
	}
	var found bool
	err = s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("lookup saved mark: %w", err)
	}
	s.cache.Fill(userID, entityID, found, gen)
	return found, nil
}

// Cache exposes the existence cache for stats.
func (s *Store) Cache() *ExistenceCache {
	return s.cache
}

// LoadAll decodes every record of table for userID. Corrupt records are
// dropped as in Scan.
func LoadAll[T any](s *Store, table Table, userID string) ([]T, int, error) {
	var out []T
	corrupt, err := s.Scan(table, userID, func(_ string, raw []byte) error {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		out = append(out, v)
		return nil
	})
	return out, corrupt, err
}

// RunGC runs BadgerDB value-log GC until nothing more can be rewritten.
func (s *Store) RunGC() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.config.InMemory {
		return nil
	}
	for {
		err := s.db.RunValueLogGC(s.config.GCDiscardRatio)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("run GC: %w", err)
		}
	}
}

// Ping reports whether the store is open. Readiness checks use it.
func (s *Store) Ping() error {
	return s.checkOpen()
}

// Config returns the store configuration.
func (s *Store) Config() Config {
	return s.config
}

// Close closes the database, giving up after CloseTimeout.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- s.db.Close()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("close BadgerDB: %w", err)
		}
		logging.Info().Msg("local store closed")
		return nil
	case <-time.After(s.config.CloseTimeout):
		logging.Warn().Dur("timeout", s.config.CloseTimeout).Msg("BadgerDB close timed out")
		return fmt.Errorf("badgerdb close timeout after %v", s.config.CloseTimeout)
	}
}
