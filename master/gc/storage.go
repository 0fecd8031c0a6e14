package gc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zmyer/tera/common/kvstore"
	"github.com/zmyer/tera/proto"
)

// The incremental strategy's books survive master restarts in the local
// store, so a fresh master cannot delete before re-observing the fleet.
const CF = kvstore.CF("gc")

var (
	deadKeyPrefix = "d/"
	liveKeyPrefix = "l/"
)

type lgFileSet struct {
	Storage []proto.FileNo `json:"storage"`
	Live    []proto.FileNo `json:"live,omitempty"`
}

type deadTabletRecord struct {
	DeadTimeMs int64                    `json:"dead_time_ms"`
	Files      map[proto.LgNo]lgFileSet `json:"files"`
}

type liveTabletRecord struct {
	ReadyTimeMs int64 `json:"ready_time_ms"`
}

type storage struct {
	kv kvstore.Store
}

func newStorage(kv kvstore.Store) *storage {
	if kv != nil && !kv.CheckColumns(CF) {
		_ = kv.CreateColumn(CF)
	}
	return &storage{kv: kv}
}

func deadKey(table string, no proto.TabletNo) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d", deadKeyPrefix, table, no))
}

func liveKey(table string, no proto.TabletNo) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d", liveKeyPrefix, table, no))
}

func parseBookKey(key, prefix string) (table string, no proto.TabletNo, ok bool) {
	rest := strings.TrimPrefix(key, prefix)
	idx := strings.LastIndexByte(rest, '/')
	if idx <= 0 {
		return "", 0, false
	}
	n, err := proto.TabletNoFromPath(rest[idx+1:])
	if err != nil {
		return "", 0, false
	}
	return rest[:idx], n, true
}

func (s *storage) putDead(ctx context.Context, table string, no proto.TabletNo, rec *deadTabletRecord) error {
	if s.kv == nil {
		return nil
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.kv.SetRaw(ctx, CF, deadKey(table, no), data)
}

func (s *storage) putLive(ctx context.Context, table string, no proto.TabletNo, rec *liveTabletRecord) error {
	if s.kv == nil {
		return nil
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.kv.SetRaw(ctx, CF, liveKey(table, no), data)
}

func (s *storage) deleteDead(ctx context.Context, table string, no proto.TabletNo) error {
	if s.kv == nil {
		return nil
	}
	return s.kv.Delete(ctx, CF, deadKey(table, no))
}

func (s *storage) deleteLive(ctx context.Context, table string, no proto.TabletNo) error {
	if s.kv == nil {
		return nil
	}
	return s.kv.Delete(ctx, CF, liveKey(table, no))
}

func (s *storage) loadDead(ctx context.Context, fn func(table string, no proto.TabletNo, rec *deadTabletRecord)) error {
	if s.kv == nil {
		return nil
	}
	return s.kv.List(ctx, CF, []byte(deadKeyPrefix), func(key, value []byte) bool {
		table, no, ok := parseBookKey(string(key), deadKeyPrefix)
		if !ok {
			return true
		}
		rec := &deadTabletRecord{}
		if err := json.Unmarshal(value, rec); err != nil {
			return true
		}
		fn(table, no, rec)
		return true
	})
}

func (s *storage) loadLive(ctx context.Context, fn func(table string, no proto.TabletNo, rec *liveTabletRecord)) error {
	if s.kv == nil {
		return nil
	}
	return s.kv.List(ctx, CF, []byte(liveKeyPrefix), func(key, value []byte) bool {
		table, no, ok := parseBookKey(string(key), liveKeyPrefix)
		if !ok {
			return true
		}
		rec := &liveTabletRecord{}
		if err := json.Unmarshal(value, rec); err != nil {
			return true
		}
		fn(table, no, rec)
		return true
	})
}

func (s *storage) clearTable(ctx context.Context, table string) error {
	if s.kv == nil {
		return nil
	}
	batch := s.kv.NewWriteBatch()
	defer batch.Close()
	for _, prefix := range []string{deadKeyPrefix, liveKeyPrefix} {
		p := []byte(prefix + table + "/")
		_ = s.kv.List(ctx, CF, p, func(key, value []byte) bool {
			batch.Delete(CF, append([]byte(nil), key...))
			return true
		})
	}
	if batch.Count() == 0 {
		return nil
	}
	return s.kv.Write(ctx, batch)
}
