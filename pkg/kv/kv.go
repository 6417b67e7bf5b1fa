// Package kv provides a fast key-value cache with persistence using BadgerDB
package kv

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

type KV struct {
	db       *badger.DB
	closed   bool
	closedMu sync.RWMutex
}

// Options for KV store
type Options struct {
	Dir           string // Data directory
	SyncWrites    bool   // Sync writes to disk
	Compression   bool   // Enable compression
	MemoryMode    bool   // In-memory only (no persistence)
	ValueLogMaxMB int64  // Max value log size in MB
}

// DefaultOptions returns default options
func DefaultOptions(dir string) Options {
	return Options{
		Dir:           dir,
		SyncWrites:    false, // Async for performance
		Compression:   true,
		MemoryMode:    false,
		ValueLogMaxMB: 256, // within valid range [1MB, 2GB)
	}
}

// Open opens a KV store
func Open(opt Options) (*KV, error) {
	if !opt.MemoryMode && opt.Dir == "" {
		opt.Dir = filepath.Join(os.TempDir(), "coagent-kv")
	}

	opts := badger.DefaultOptions(opt.Dir)
	opts.SyncWrites = opt.SyncWrites
	opts.Logger = nil

	if opt.Compression && !opt.MemoryMode {
		opts.Compression = options.ZSTD
	}
	if !opt.MemoryMode && opt.ValueLogMaxMB > 0 {
		opts.ValueLogFileSize = opt.ValueLogMaxMB * 1024 * 1024
	}
	if opt.MemoryMode {
		opts.InMemory = true
		opts.Dir = ""
		opts.ValueDir = ""
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger failed: %w", err)
	}

	log.Printf("[KV] Opened: %s (memory: %v)", opt.Dir, opt.MemoryMode)
	return &KV{db: db}, nil
}

// OpenMemory opens an in-memory store (tests, ephemeral caches)
func OpenMemory() (*KV, error) {
	return Open(Options{MemoryMode: true})
}

// Close closes the KV store
func (k *KV) Close() error {
	k.closedMu.Lock()
	defer k.closedMu.Unlock()

	if k.closed {
		return nil
	}
	k.closed = true
	return k.db.Close()
}

// IsNotFound reports whether err means the key does not exist
func IsNotFound(err error) bool {
	return errors.Is(err, badger.ErrKeyNotFound)
}

// Set sets a key-value pair
func (k *KV) Set(key, value string) error {
	k.closedMu.RLock()
	defer k.closedMu.RUnlock()

	if k.closed {
		return fmt.Errorf("KV is closed")
	}
	return k.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), []byte(value))
	})
}

// SetWithTTL sets a key-value pair that expires after ttl
func (k *KV) SetWithTTL(key, value string, ttl time.Duration) error {
	k.closedMu.RLock()
	defer k.closedMu.RUnlock()

	if k.closed {
		return fmt.Errorf("KV is closed")
	}
	return k.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), []byte(value)).WithTTL(ttl)
		return txn.SetEntry(e)
	})
}

// Get gets a value by key
func (k *KV) Get(key string) (string, error) {
	b, err := k.GetBytes(key)
	return string(b), err
}

// GetBytes gets raw bytes by key
func (k *KV) GetBytes(key string) ([]byte, error) {
	k.closedMu.RLock()
	defer k.closedMu.RUnlock()

	if k.closed {
		return nil, fmt.Errorf("KV is closed")
	}

	var result []byte
	err := k.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		result = val
		return nil
	})
	return result, err
}

// Delete deletes a key
func (k *KV) Delete(key string) error {
	k.closedMu.RLock()
	defer k.closedMu.RUnlock()

	if k.closed {
		return fmt.Errorf("KV is closed")
	}
	return k.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// Exists checks if a key exists
func (k *KV) Exists(key string) (bool, error) {
	_, err := k.GetBytes(key)
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Keys returns all keys with the given prefix
func (k *KV) Keys(prefix string) ([]string, error) {
	k.closedMu.RLock()
	defer k.closedMu.RUnlock()

	if k.closed {
		return nil, fmt.Errorf("KV is closed")
	}

	var keys []string
	err := k.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	return keys, err
}

// DeletePrefix removes all keys with the given prefix
func (k *KV) DeletePrefix(prefix string) error {
	keys, err := k.Keys(prefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := k.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// Backup streams a snapshot of the store to w. since is the version
// returned by a previous backup (0 for a full backup). Used by the backup
// worker while writers are paused.
func (k *KV) Backup(w io.Writer, since uint64) (uint64, error) {
	k.closedMu.RLock()
	defer k.closedMu.RUnlock()

	if k.closed {
		return 0, fmt.Errorf("KV is closed")
	}
	version, err := k.db.Backup(w, since)
	if err != nil {
		return 0, fmt.Errorf("backup failed: %w", err)
	}
	return version, nil
}

// Flush forces value log GC (best effort)
func (k *KV) Flush() error {
	k.closedMu.RLock()
	defer k.closedMu.RUnlock()

	if k.closed {
		return fmt.Errorf("KV is closed")
	}
	err := k.db.RunValueLogGC(0.5)
	if err == badger.ErrNoRewrite || err == badger.ErrRejected {
		return nil
	}
	return err
}
