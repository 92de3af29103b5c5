// Package cache stores extraction results keyed by content hash, so that
// reprocessing identical text never hits the extraction backend twice.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/noemakg/noema/pkg/types"
)

// DefaultTTL is how long cached extractions stay valid.
const DefaultTTL = 7 * 24 * time.Hour

// ExtractionCache caches extraction batches in a local BadgerDB.
type ExtractionCache struct {
	db  *badger.DB
	ttl time.Duration
}

// New opens (or creates) a badger-backed extraction cache at path. A
// non-positive ttl falls back to DefaultTTL.
func New(path string, ttl time.Duration) (*ExtractionCache, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open extraction cache: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ExtractionCache{db: db, ttl: ttl}, nil
}

// Get returns the cached extraction for key, if present and still decodable.
// Undecodable entries are treated as misses.
func (c *ExtractionCache) Get(_ context.Context, key string) (*types.ExtractionResult, bool) {
	var raw []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, false
	}

	var result types.ExtractionResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, false
	}
	return &result, true
}

// Set stores an extraction result under key with the cache TTL.
func (c *ExtractionCache) Set(_ context.Context, key string, result *types.ExtractionResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode extraction: %w", err)
	}
	return c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), raw).WithTTL(c.ttl)
		return txn.SetEntry(entry)
	})
}

// Delete removes a cached extraction.
func (c *ExtractionCache) Delete(key string) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	return err
}

// Close closes the underlying database.
func (c *ExtractionCache) Close() error {
	return c.db.Close()
}
