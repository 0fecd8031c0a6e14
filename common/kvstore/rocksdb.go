// Copyright 2026 The Tera Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package kvstore

import (
	"context"
	"os"
	"sync"

	rdb "github.com/tecbot/gorocksdb"
)

const defaultCF = "default"

type Option struct {
	Path             string `json:"path"`
	CreateIfMissing  bool   `json:"create_if_missing"`
	MaxBackgroundJob int    `json:"max_background_job"`
	WriteBufferSize  int    `json:"write_buffer_size"`
	ColumnFamilies   []CF   `json:"column_families"`
}

type rocksdbStore struct {
	path string
	db   *rdb.DB
	opt  *rdb.Options
	ro   *rdb.ReadOptions
	wo   *rdb.WriteOptions

	families map[CF]*rdb.ColumnFamilyHandle
	lock     sync.RWMutex
}

// NewKVStore opens (creating when configured) a rocksdb-backed store.
func NewKVStore(ctx context.Context, opt *Option) (Store, error) {
	if opt.CreateIfMissing {
		if err := os.MkdirAll(opt.Path, 0o755); err != nil {
			return nil, err
		}
	}

	dbOpt := rdb.NewDefaultOptions()
	dbOpt.SetCreateIfMissing(opt.CreateIfMissing)
	dbOpt.SetCreateIfMissingColumnFamilies(true)
	if opt.MaxBackgroundJob > 0 {
		dbOpt.SetMaxBackgroundCompactions(opt.MaxBackgroundJob)
	}
	if opt.WriteBufferSize > 0 {
		dbOpt.SetWriteBufferSize(opt.WriteBufferSize)
	}

	cfNames := []string{defaultCF}
	for _, cf := range opt.ColumnFamilies {
		if string(cf) != defaultCF {
			cfNames = append(cfNames, string(cf))
		}
	}
	cfOpts := make([]*rdb.Options, len(cfNames))
	for i := range cfOpts {
		cfOpts[i] = dbOpt
	}

	db, handles, err := rdb.OpenDbColumnFamilies(dbOpt, opt.Path, cfNames, cfOpts)
	if err != nil {
		return nil, err
	}

	s := &rocksdbStore{
		path:     opt.Path,
		db:       db,
		opt:      dbOpt,
		ro:       rdb.NewDefaultReadOptions(),
		wo:       rdb.NewDefaultWriteOptions(),
		families: make(map[CF]*rdb.ColumnFamilyHandle, len(cfNames)),
	}
	for i, name := range cfNames {
		s.families[CF(name)] = handles[i]
	}
	return s, nil
}

func (s *rocksdbStore) handle(col CF) (*rdb.ColumnFamilyHandle, bool) {
	if col == "" {
		col = defaultCF
	}
	s.lock.RLock()
	h, ok := s.families[col]
	s.lock.RUnlock()
	return h, ok
}

func (s *rocksdbStore) CreateColumn(col CF) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, ok := s.families[col]; ok {
		return nil
	}
	h, err := s.db.CreateColumnFamily(s.opt, string(col))
	if err != nil {
		return err
	}
	s.families[col] = h
	return nil
}

func (s *rocksdbStore) CheckColumns(col CF) bool {
	_, ok := s.handle(col)
	return ok
}

func (s *rocksdbStore) GetRaw(ctx context.Context, col CF, key []byte) ([]byte, error) {
	h, ok := s.handle(col)
	if !ok {
		return nil, ErrNotFound
	}
	slice, err := s.db.GetCF(s.ro, h, key)
	if err != nil {
		return nil, err
	}
	defer slice.Free()
	if !slice.Exists() {
		return nil, ErrNotFound
	}
	value := make([]byte, len(slice.Data()))
	copy(value, slice.Data())
	return value, nil
}

func (s *rocksdbStore) SetRaw(ctx context.Context, col CF, key, value []byte) error {
	h, ok := s.handle(col)
	if !ok {
		return ErrNotFound
	}
	return s.db.PutCF(s.wo, h, key, value)
}

func (s *rocksdbStore) Delete(ctx context.Context, col CF, key []byte) error {
	h, ok := s.handle(col)
	if !ok {
		return ErrNotFound
	}
	return s.db.DeleteCF(s.wo, h, key)
}

func (s *rocksdbStore) List(ctx context.Context, col CF, prefix []byte, fn func(key, value []byte) bool) error {
	h, ok := s.handle(col)
	if !ok {
		return ErrNotFound
	}
	it := s.db.NewIteratorCF(s.ro, h)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		key := append([]byte(nil), it.Key().Data()...)
		value := append([]byte(nil), it.Value().Data()...)
		it.Key().Free()
		it.Value().Free()
		if !fn(key, value) {
			break
		}
	}
	return it.Err()
}

func (s *rocksdbStore) NewWriteBatch() WriteBatch {
	return &rocksdbBatch{store: s, batch: rdb.NewWriteBatch()}
}

func (s *rocksdbStore) Write(ctx context.Context, batch WriteBatch) error {
	b := batch.(*rocksdbBatch)
	return s.db.Write(s.wo, b.batch)
}

func (s *rocksdbStore) Close() {
	s.lock.Lock()
	defer s.lock.Unlock()
	for _, h := range s.families {
		h.Destroy()
	}
	s.ro.Destroy()
	s.wo.Destroy()
	s.db.Close()
}

type rocksdbBatch struct {
	store *rocksdbStore
	batch *rdb.WriteBatch
}

func (b *rocksdbBatch) Put(col CF, key, value []byte) {
	if h, ok := b.store.handle(col); ok {
		b.batch.PutCF(h, key, value)
	}
}

func (b *rocksdbBatch) Delete(col CF, key []byte) {
	if h, ok := b.store.handle(col); ok {
		b.batch.DeleteCF(h, key)
	}
}

func (b *rocksdbBatch) Count() int {
	return b.batch.Count()
}

func (b *rocksdbBatch) Close() {
	b.batch.Destroy()
}
