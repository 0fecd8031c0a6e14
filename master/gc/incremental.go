package gc

import (
	"context"
	"sync"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	"github.com/zmyer/tera/common/fsenv"
	"github.com/zmyer/tera/common/kvstore"
	"github.com/zmyer/tera/master/tabletmgr"
	"github.com/zmyer/tera/proto"
)

// storageDeps carries the optional persistence of the incremental books.
type storageDeps struct {
	kv kvstore.Store
}

// NewStorageDeps wraps the master store for the incremental strategy; kv may
// be nil to keep the books memory-only.
func NewStorageDeps(kv kvstore.Store) *storageDeps {
	return &storageDeps{kv: kv}
}

type deadTablet struct {
	deadTimeMs int64
	// storage is what sits on disk per lg; live is what this query cycle's
	// reports still reference.
	storage map[proto.LgNo]map[proto.FileNo]struct{}
	live    map[proto.LgNo]map[proto.FileNo]struct{}
}

type liveTablet struct {
	readyTimeMs int64
}

// incrementalStrategy keeps persistent per-table books: the files each dead
// tablet left behind, and the last time every live tablet reported. A dead
// tablet's files become deletable only once every live tablet of the table
// has reported after the death.
type incrementalStrategy struct {
	mgr    *tabletmgr.TabletManager
	env    fsenv.Env
	prefix string
	store  *storage

	dead map[string]map[proto.TabletNo]*deadTablet
	live map[string]map[proto.TabletNo]*liveTablet

	lock sync.Mutex
}

// NewIncrementalStrategy builds the incremental collector, restoring its
// books from the master store.
func NewIncrementalStrategy(mgr *tabletmgr.TabletManager, env fsenv.Env, prefix string, deps *storageDeps) Strategy {
	s := &incrementalStrategy{
		mgr:    mgr,
		env:    env,
		prefix: prefix,
		dead:   make(map[string]map[proto.TabletNo]*deadTablet),
		live:   make(map[string]map[proto.TabletNo]*liveTablet),
	}
	var kv kvstore.Store
	if deps != nil {
		kv = deps.kv
	}
	s.store = newStorage(kv)
	s.restore(context.Background())
	return s
}

func (s *incrementalStrategy) Name() string { return "incremental" }

func (s *incrementalStrategy) restore(ctx context.Context) {
	_ = s.store.loadDead(ctx, func(table string, no proto.TabletNo, rec *deadTabletRecord) {
		dt := &deadTablet{
			deadTimeMs: rec.DeadTimeMs,
			storage:    make(map[proto.LgNo]map[proto.FileNo]struct{}),
			live:       make(map[proto.LgNo]map[proto.FileNo]struct{}),
		}
		for lg, set := range rec.Files {
			dt.storage[lg] = make(map[proto.FileNo]struct{}, len(set.Storage))
			for _, f := range set.Storage {
				dt.storage[lg][f] = struct{}{}
			}
		}
		if s.dead[table] == nil {
			s.dead[table] = make(map[proto.TabletNo]*deadTablet)
		}
		s.dead[table][no] = dt
	})
	_ = s.store.loadLive(ctx, func(table string, no proto.TabletNo, rec *liveTabletRecord) {
		if s.live[table] == nil {
			s.live[table] = make(map[proto.TabletNo]*liveTablet)
		}
		s.live[table][no] = &liveTablet{readyTimeMs: rec.ReadyTimeMs}
	})
}

func (s *incrementalStrategy) persistDead(ctx context.Context, table string, no proto.TabletNo, dt *deadTablet) {
	rec := &deadTabletRecord{DeadTimeMs: dt.deadTimeMs, Files: make(map[proto.LgNo]lgFileSet)}
	for lg, set := range dt.storage {
		files := lgFileSet{}
		for f := range set {
			files.Storage = append(files.Storage, f)
		}
		rec.Files[lg] = files
	}
	_ = s.store.putDead(ctx, table, no, rec)
}

func (s *incrementalStrategy) PreQuery(ctx context.Context) bool {
	span := trace.SpanFromContextSafe(ctx)
	s.lock.Lock()
	defer s.lock.Unlock()

	nowMs := time.Now().UnixMilli()
	for _, table := range s.mgr.Tables() {
		name := table.Name()
		if name == proto.MetaTableName {
			continue
		}
		live, dead, ok := table.TabletsForGc()
		if !ok {
			continue
		}
		if s.dead[name] == nil {
			s.dead[name] = make(map[proto.TabletNo]*deadTablet)
		}
		if s.live[name] == nil {
			s.live[name] = make(map[proto.TabletNo]*liveTablet)
		}

		for no := range dead {
			if _, known := s.dead[name][no]; known {
				continue
			}
			files := listDeadTabletFiles(s.env, s.prefix, name, no)
			if len(files) == 0 {
				continue
			}
			dt := &deadTablet{
				deadTimeMs: nowMs,
				storage:    make(map[proto.LgNo]map[proto.FileNo]struct{}),
				live:       make(map[proto.LgNo]map[proto.FileNo]struct{}),
			}
			for lg, fs := range files {
				dt.storage[lg] = make(map[proto.FileNo]struct{}, len(fs))
				for _, f := range fs {
					dt.storage[lg][f] = struct{}{}
				}
			}
			span.Infof("gc: newly dead tablet %s/%d with %d lgs", name, no, len(dt.storage))
			s.dead[name][no] = dt
			s.persistDead(ctx, name, no, dt)
		}

		// newly dead tablets leave the live book
		for no := range s.live[name] {
			if _, isDead := s.dead[name][no]; isDead {
				delete(s.live[name], no)
				_ = s.store.deleteLive(ctx, name, no)
			}
		}
		for no := range live {
			if _, known := s.live[name][no]; !known {
				s.live[name][no] = &liveTablet{}
				_ = s.store.putLive(ctx, name, no, &liveTabletRecord{})
			}
		}
	}

	// a fresh cycle observes reports from scratch
	need := false
	for _, tablets := range s.dead {
		for _, dt := range tablets {
			dt.live = make(map[proto.LgNo]map[proto.FileNo]struct{})
			need = true
		}
	}
	return need
}

func (s *incrementalStrategy) OnQueryResponse(ctx context.Context, resp *proto.QueryResponse) {
	s.lock.Lock()
	defer s.lock.Unlock()

	nowMs := time.Now().UnixMilli()
	reported := make(map[string]struct{})
	for i := range resp.InhLiveFiles {
		reported[resp.InhLiveFiles[i].TableName] = struct{}{}
	}

	// refresh ready times of reporting live tablets
	for i := range resp.TabletMetaList {
		meta := &resp.TabletMetaList[i]
		name := meta.TableName
		if name == proto.MetaTableName {
			continue
		}
		if _, ok := s.live[name]; !ok {
			continue
		}
		if _, ok := reported[name]; !ok {
			continue
		}
		no, err := proto.TabletNoFromPath(meta.Path)
		if err != nil {
			continue
		}
		if lt, ok := s.live[name][no]; ok {
			lt.readyTimeMs = nowMs
			_ = s.store.putLive(ctx, name, no, &liveTabletRecord{ReadyTimeMs: nowMs})
		}
	}

	// intersect reports with dead tablets' storage sets
	for i := range resp.InhLiveFiles {
		inh := &resp.InhLiveFiles[i]
		tablets, ok := s.dead[inh.TableName]
		if !ok {
			continue
		}
		for _, lgFiles := range inh.LgLiveFiles {
			for _, f := range lgFiles.FileNumbers {
				no, _ := proto.ParseFullFileNumber(f)
				dt, ok := tablets[no]
				if !ok {
					continue
				}
				if _, inStorage := dt.storage[lgFiles.LgNo][f]; !inStorage {
					continue
				}
				if dt.live[lgFiles.LgNo] == nil {
					dt.live[lgFiles.LgNo] = make(map[proto.FileNo]struct{})
				}
				dt.live[lgFiles.LgNo][f] = struct{}{}
			}
		}
	}
}

func (s *incrementalStrategy) PostQuery(ctx context.Context) {
	span := trace.SpanFromContextSafe(ctx)
	s.lock.Lock()
	defer s.lock.Unlock()

	for name := range s.dead {
		s.deleteTableFiles(ctx, span, name)
	}
}

type spanLogger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

func (s *incrementalStrategy) deleteTableFiles(ctx context.Context, span spanLogger, name string) {
	// every live tablet must have reported since the death
	earliestReady := int64(1<<62 - 1)
	for _, lt := range s.live[name] {
		if lt.readyTimeMs < earliestReady {
			earliestReady = lt.readyTimeMs
		}
	}

	for no, dt := range s.dead[name] {
		if dt.deadTimeMs >= earliestReady {
			continue
		}
		for lg, storageSet := range dt.storage {
			for f := range storageSet {
				if _, stillLive := dt.live[lg][f]; stillLive {
					continue
				}
				path := proto.SSTFilePath(s.prefix, name, no, lg, f)
				span.Infof("gc: delete %s", path)
				if err := s.env.DeleteFile(path); err != nil {
					span.Warnf("gc: delete %s failed: %s", path, err)
					continue
				}
				fileDeleteCount.Inc()
				delete(storageSet, f)
			}
			if len(storageSet) == 0 {
				_ = s.env.DeleteDir(proto.LgDirPath(s.prefix, name, no, lg))
				delete(dt.storage, lg)
			}
		}
		if len(dt.storage) == 0 {
			_ = s.env.DeleteDir(proto.TabletDirPath(s.prefix, name, no))
			delete(s.dead[name], no)
			_ = s.store.deleteDead(ctx, name, no)
			continue
		}
		s.persistDead(ctx, name, no, dt)
	}
}

func (s *incrementalStrategy) Clear(ctx context.Context, tableName string) {
	s.lock.Lock()
	delete(s.dead, tableName)
	delete(s.live, tableName)
	s.lock.Unlock()
	_ = s.store.clearTable(ctx, tableName)
}
