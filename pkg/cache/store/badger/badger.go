// Package badger implements the metadata Store on BadgerDB, the default
// embedded backend.
//
// Key layout:
//
//	c/<owner>/<content_id>        content row (JSON)
//	sz/<owner>                    per-owner size ledger (int64, big-endian)
//	op/<owner>/<nano20>/<op_id>   sync operation (JSON), FIFO by key order
//	ls/<owner>                    last successful sync (RFC 3339)
//
// The size ledger is updated in the same transaction as the content row, so
// TotalSize is always consistent with the stored rows.
package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/satchel-edu/satchel/pkg/cache"
)

// Options configures the badger store.
type Options struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps the whole database in memory (tests, ephemeral runs).
	InMemory bool
}

// Store is the BadgerDB-backed metadata store.
type Store struct {
	db *badger.DB
}

var _ cache.Store = (*Store)(nil)

// Open opens or creates the database.
func Open(opts Options) (*Store, error) {
	var badgerOpts badger.Options
	if opts.InMemory {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if opts.Path == "" {
			return nil, cache.NewInvalidArgumentError("badger store requires a path")
		}
		badgerOpts = badger.DefaultOptions(opts.Path)
	}
	badgerOpts = badgerOpts.WithLogger(nil)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	return &Store{db: db}, nil
}

// PutContent inserts or replaces a content row, keeping the owner's size
// ledger in step within the same transaction.
func (s *Store) PutContent(ctx context.Context, content *cache.CachedContent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	value, err := encodeContent(content)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		key := keyContent(content.OwnerID, content.ContentID)

		var previous int64
		item, err := txn.Get(key)
		switch {
		case err == nil:
			prev, decErr := decodeContentItem(item)
			if decErr != nil {
				return decErr
			}
			previous = prev.SizeBytes
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}

		if err := txn.Set(key, value); err != nil {
			return err
		}
		return adjustSize(txn, content.OwnerID, content.SizeBytes-previous)
	})
}

// GetContent retrieves a content row by owner and id.
func (s *Store) GetContent(ctx context.Context, owner cache.OwnerID, id cache.ContentID) (*cache.CachedContent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var content *cache.CachedContent
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyContent(owner, id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return cache.NewNotFoundError(id)
		}
		if err != nil {
			return err
		}
		content, err = decodeContentItem(item)
		return err
	})
	if err != nil {
		return nil, err
	}
	return content, nil
}

// DeleteContent removes a content row and debits the size ledger.
func (s *Store) DeleteContent(ctx context.Context, owner cache.OwnerID, id cache.ContentID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		key := keyContent(owner, id)
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return cache.NewNotFoundError(id)
		}
		if err != nil {
			return err
		}
		content, err := decodeContentItem(item)
		if err != nil {
			return err
		}
		if err := txn.Delete(key); err != nil {
			return err
		}
		return adjustSize(txn, owner, -content.SizeBytes)
	})
}

// ListContent returns the owner's rows in one category ordered by
// (priority desc, last_accessed desc).
func (s *Store) ListContent(ctx context.Context, owner cache.OwnerID, category cache.Category) ([]*cache.CachedContent, error) {
	items, err := s.ListOwnerContent(ctx, owner)
	if err != nil {
		return nil, err
	}

	filtered := items[:0]
	for _, c := range items {
		if c.Category == category {
			filtered = append(filtered, c)
		}
	}
	sortByPriorityRecency(filtered)
	return filtered, nil
}

// ListOwnerContent returns every row of one owner.
func (s *Store) ListOwnerContent(ctx context.Context, owner cache.OwnerID) ([]*cache.CachedContent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var items []*cache.CachedContent
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixOwnerContent(owner)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			content, err := decodeContentItem(it.Item())
			if err != nil {
				return err
			}
			items = append(items, content)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// TotalSize returns the owner's size ledger value.
func (s *Store) TotalSize(ctx context.Context, owner cache.OwnerID) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var size int64
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keySize(owner))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			size = decodeInt64(val)
			return nil
		})
	})
	return size, err
}

// Owners returns every owner with content or queued operations.
func (s *Store) Owners(ctx context.Context) ([]cache.OwnerID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seen := make(map[cache.OwnerID]struct{})
	err := s.db.View(func(txn *badger.Txn) error {
		for _, prefix := range []string{"c/", "op/"} {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			opts.Prefix = []byte(prefix)
			it := txn.NewIterator(opts)
			for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
				key := string(it.Item().Key())
				rest := strings.TrimPrefix(key, prefix)
				if idx := strings.IndexByte(rest, '/'); idx > 0 {
					seen[cache.OwnerID(rest[:idx])] = struct{}{}
				}
			}
			it.Close()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	owners := make([]cache.OwnerID, 0, len(seen))
	for owner := range seen {
		owners = append(owners, owner)
	}
	sortOwners(owners)
	return owners, nil
}

// EnqueueOperation appends a sync operation to the owner's queue.
func (s *Store) EnqueueOperation(ctx context.Context, op *cache.SyncOperation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	value, err := encodeOperation(op)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyOperation(op), value)
	})
}

// ListOperations returns the owner's operations in FIFO order. Key encoding
// (zero-padded creation nanos, then operation id) makes iteration order the
// queue order.
func (s *Store) ListOperations(ctx context.Context, owner cache.OwnerID) ([]*cache.SyncOperation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var ops []*cache.SyncOperation
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixOwnerOps(owner)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			op, err := decodeOperationItem(it.Item())
			if err != nil {
				return err
			}
			ops = append(ops, op)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ops, nil
}

// UpdateOperation replaces an existing operation in place.
func (s *Store) UpdateOperation(ctx context.Context, op *cache.SyncOperation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	value, err := encodeOperation(op)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		key := keyOperation(op)
		if _, err := txn.Get(key); errors.Is(err, badger.ErrKeyNotFound) {
			return cache.NewNotFoundError(op.ContentID)
		} else if err != nil {
			return err
		}
		return txn.Set(key, value)
	})
}

// DeleteOperation removes an operation from the queue.
func (s *Store) DeleteOperation(ctx context.Context, owner cache.OwnerID, operationID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixOwnerOps(owner)
		it := txn.NewIterator(opts)
		defer it.Close()

		suffix := []byte("/" + operationID)
		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			if hasSuffix(key, suffix) {
				return txn.Delete(key)
			}
		}
		return cache.NewNotFoundError("")
	})
}

// SetLastSync records the owner's most recent successful sync time.
func (s *Store) SetLastSync(ctx context.Context, owner cache.OwnerID, t time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyLastSync(owner), []byte(t.UTC().Format(time.RFC3339Nano)))
	})
}

// LastSync returns the owner's most recent successful sync time.
func (s *Store) LastSync(ctx context.Context, owner cache.OwnerID) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}

	var last time.Time
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyLastSync(owner))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			parsed, parseErr := time.Parse(time.RFC3339Nano, string(val))
			if parseErr != nil {
				return parseErr
			}
			last = parsed
			return nil
		})
	})
	return last, err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// adjustSize applies a delta to the owner's size ledger inside txn.
func adjustSize(txn *badger.Txn, owner cache.OwnerID, delta int64) error {
	if delta == 0 {
		return nil
	}

	var current int64
	item, err := txn.Get(keySize(owner))
	switch {
	case err == nil:
		if err := item.Value(func(val []byte) error {
			current = decodeInt64(val)
			return nil
		}); err != nil {
			return err
		}
	case !errors.Is(err, badger.ErrKeyNotFound):
		return err
	}

	return txn.Set(keySize(owner), encodeInt64(current+delta))
}

func encodeInt64(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return buf
}

func decodeInt64(buf []byte) int64 {
	if len(buf) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(buf))
}

func hasSuffix(b, suffix []byte) bool {
	return len(b) >= len(suffix) && string(b[len(b)-len(suffix):]) == string(suffix)
}
