package persisttask

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
	badgerdb "github.com/dgraph-io/badger/v3"

	applog "github.com/taskgraph/tgraph/internal/log"
	"github.com/taskgraph/tgraph/pkg/id"
	"github.com/taskgraph/tgraph/pkg/value"
)

// cellStore durably persists cell content in Badger, fronted by a bigcache
// read-through cache — the same layering the teacher's
// internal/core/infrastructure/storage/memory package uses in front of its
// own badger-backed store, just collapsed into a single type here since
// this engine only ever needs one storage concern (cell content), not the
// teacher's broader key/value namespace.
type cellStore struct {
	db    *badgerdb.DB
	cache *bigcache.BigCache
	log   applog.Logger
}

// storeConfig controls cellStore construction.
type storeConfig struct {
	// Dir is the Badger data directory. Empty means in-memory (no files on
	// disk), used by tests and by an engine that never needs to survive a
	// restart.
	Dir string

	// CacheWindow bounds how long a bigcache entry survives before its
	// shard may evict it under memory pressure.
	CacheWindow time.Duration

	Log applog.Logger
}

func openCellStore(cfg storeConfig) (*cellStore, error) {
	opts := badgerdb.DefaultOptions(cfg.Dir)
	if cfg.Dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLogger(nil)

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("persisttask: open badger: %w", err)
	}

	window := cfg.CacheWindow
	if window <= 0 {
		window = 5 * time.Minute
	}
	cache, err := bigcache.New(context.Background(), bigcache.DefaultConfig(window))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("persisttask: open bigcache: %w", err)
	}

	log := cfg.Log
	if log == nil {
		log = applog.Nop()
	}
	return &cellStore{db: db, cache: cache, log: log}, nil
}

func cellKey(t id.TaskId, cell id.CellId) string {
	return fmt.Sprintf("%d:%d:%d", uint32(t), uint32(cell.TypeId), cell.Index)
}

// Put persists content for (t, cell). Errors are logged, not returned: the
// Backend interface's UpdateTaskCell has no error return, matching the
// engine's documented "backends swallow storage-layer failures, loudly" --
// this mirrors the badger store's own logger-only error handling.
func (s *cellStore) Put(t id.TaskId, cell id.CellId, content value.CellContent) {
	data, err := encodeCell(content)
	if err != nil {
		s.log.Error("encode cell", "task", t, "cell", cell, "error", err)
		return
	}
	key := cellKey(t, cell)
	if err := s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(key), data)
	}); err != nil {
		s.log.Error("persist cell", "task", t, "cell", cell, "error", err)
		return
	}
	_ = s.cache.Set(key, data)
}

// Get returns content for (t, cell) and whether it has ever been written.
func (s *cellStore) Get(t id.TaskId, cell id.CellId) (value.CellContent, bool, error) {
	key := cellKey(t, cell)
	if data, err := s.cache.Get(key); err == nil {
		content, derr := decodeCell(data)
		if derr != nil {
			return value.CellContent{}, false, derr
		}
		return content, true, nil
	}

	var data []byte
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			data = append([]byte(nil), val...)
			return nil
		})
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return value.CellContent{}, false, nil
	}
	if err != nil {
		return value.CellContent{}, false, fmt.Errorf("persisttask: get cell: %w", err)
	}
	_ = s.cache.Set(key, data)

	content, derr := decodeCell(data)
	if derr != nil {
		return value.CellContent{}, false, derr
	}
	return content, true, nil
}

// Keys enumerates every cell ever written for t, used to invalidate a
// task's whole prior result without keeping that set separately in memory.
func (s *cellStore) Keys(t id.TaskId) []id.CellId {
	prefix := []byte(fmt.Sprintf("%d:", uint32(t)))
	var cells []id.CellId
	_ = s.db.View(func(txn *badgerdb.Txn) error {
		it := txn.NewIterator(badgerdb.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var taskNum uint32
			var typeID, index uint32
			k := it.Item().Key()
			if _, err := fmt.Sscanf(string(k), "%d:%d:%d", &taskNum, &typeID, &index); err != nil {
				continue
			}
			cells = append(cells, id.CellId{TypeId: id.ValueTypeId(typeID), Index: index})
		}
		return nil
	})
	return cells
}

// GC runs Badger's value-log garbage collection, the durable backend's one
// maintenance job (see RunBackendJob in persisttask.go).
func (s *cellStore) GC() {
	for {
		if err := s.db.RunValueLogGC(0.5); err != nil {
			return
		}
	}
}

func (s *cellStore) Close() error { return s.db.Close() }
