package serpcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"

	"github.com/datalupa/perfilador/internal/models"
)

// Cache is the per-query SERP cache. Entries expire via Badger's TTL; hits
// are advisory only, so no cross-process coherence is needed.
type Cache struct {
	db     *badger.DB
	ttl    time.Duration
	logger arbor.ILogger
}

// New opens a file-backed cache at dir. An empty dir opens an in-memory
// cache, which tests use.
func New(dir string, ttl time.Duration, logger arbor.ILogger) (*Cache, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts.Logger = nil // arbor handles logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open SERP cache: %w", err)
	}

	logger.Debug().Str("dir", dir).Dur("ttl", ttl).Msg("SERP cache opened")

	return &Cache{db: db, ttl: ttl, logger: logger}, nil
}

func cacheKey(query string, numResults int) []byte {
	return []byte(fmt.Sprintf("serp:%d:%s", numResults, query))
}

// Get returns the cached rows for (query, numResults), if present.
func (c *Cache) Get(query string, numResults int) ([]models.SerpRow, bool) {
	var rows []models.SerpRow
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(cacheKey(query, numResults))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rows)
		})
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			c.logger.Warn().Err(err).Str("query", query).Msg("SERP cache read failed")
		}
		return nil, false
	}
	return rows, true
}

// Set stores the rows for (query, numResults) with the configured TTL.
func (c *Cache) Set(query string, numResults int, rows []models.SerpRow) {
	data, err := json.Marshal(rows)
	if err != nil {
		c.logger.Warn().Err(err).Str("query", query).Msg("SERP cache encode failed")
		return
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(cacheKey(query, numResults), data).WithTTL(c.ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		c.logger.Warn().Err(err).Str("query", query).Msg("SERP cache write failed")
	}
}

// Close closes the underlying store.
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
