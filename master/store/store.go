package store

import (
	"context"

	"github.com/zmyer/tera/common/kvstore"
)

// Store is the master's local persistent store. It holds the bookkeeping
// that must survive a master restart, not the meta table itself.
type Store struct {
	kv kvstore.Store
}

type Config struct {
	Path string `json:"path"`
	// ColumnFamilies are created at open when missing.
	ColumnFamilies []kvstore.CF `json:"column_families"`
}

// NewStore opens the local store at cfg.Path.
func NewStore(ctx context.Context, cfg *Config) (*Store, error) {
	kv, err := kvstore.NewKVStore(ctx, &kvstore.Option{
		Path:            cfg.Path,
		CreateIfMissing: true,
		ColumnFamilies:  cfg.ColumnFamilies,
	})
	if err != nil {
		return nil, err
	}
	return &Store{kv: kv}, nil
}

// KVStore exposes the raw kv interface.
func (s *Store) KVStore() kvstore.Store {
	return s.kv
}

// Close releases the store.
func (s *Store) Close() {
	s.kv.Close()
}
