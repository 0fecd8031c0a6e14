package gc

import (
	"context"
	"sync"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	"github.com/zmyer/tera/common/fsenv"
	"github.com/zmyer/tera/master/tabletmgr"
	"github.com/zmyer/tera/proto"
)

type gcTabletSet struct {
	live map[proto.TabletNo]struct{}
	dead map[proto.TabletNo]struct{}
}

// batchStrategy rebuilds the whole candidate set every cycle: list every
// dead tablet's files, subtract everything any node still reports, delete
// the rest. Simple and stateless, at the price of a full listing per cycle.
type batchStrategy struct {
	mgr    *tabletmgr.TabletManager
	env    fsenv.Env
	prefix string

	tablets   map[string]*gcTabletSet
	liveFiles map[string]map[proto.LgNo]map[proto.FileNo]struct{}

	lock sync.Mutex
}

// NewBatchStrategy builds the stateless full-cycle collector.
func NewBatchStrategy(mgr *tabletmgr.TabletManager, env fsenv.Env, prefix string) Strategy {
	return &batchStrategy{
		mgr:    mgr,
		env:    env,
		prefix: prefix,
	}
}

func (b *batchStrategy) Name() string { return "batch" }

func (b *batchStrategy) PreQuery(ctx context.Context) bool {
	span := trace.SpanFromContextSafe(ctx)
	b.lock.Lock()
	defer b.lock.Unlock()

	b.tablets = make(map[string]*gcTabletSet)
	b.liveFiles = make(map[string]map[proto.LgNo]map[proto.FileNo]struct{})

	for _, table := range b.mgr.Tables() {
		if table.Status() != proto.TableEnable || table.Name() == proto.MetaTableName {
			continue
		}
		live, dead, ok := table.TabletsForGc()
		if !ok || len(dead) == 0 {
			continue
		}
		b.tablets[table.Name()] = &gcTabletSet{live: live, dead: dead}
	}

	for name, set := range b.tablets {
		candidates := make(map[proto.LgNo]map[proto.FileNo]struct{})
		for no := range set.dead {
			for lg, files := range listDeadTabletFiles(b.env, b.prefix, name, no) {
				if candidates[lg] == nil {
					candidates[lg] = make(map[proto.FileNo]struct{})
				}
				for _, f := range files {
					candidates[lg][f] = struct{}{}
				}
			}
		}
		b.liveFiles[name] = candidates
	}

	if len(b.tablets) == 0 {
		span.Debugf("gc: nothing to collect this cycle")
		return false
	}
	span.Infof("gc: collected candidates of %d tables", len(b.tablets))
	return true
}

func (b *batchStrategy) OnQueryResponse(ctx context.Context, resp *proto.QueryResponse) {
	b.lock.Lock()
	defer b.lock.Unlock()

	reported := make(map[string]struct{})
	for i := range resp.InhLiveFiles {
		reported[resp.InhLiveFiles[i].TableName] = struct{}{}
	}

	// erase live tablets confirmed by this node
	for i := range resp.TabletMetaList {
		meta := &resp.TabletMetaList[i]
		set, ok := b.tablets[meta.TableName]
		if !ok {
			continue
		}
		if _, ok := reported[meta.TableName]; !ok {
			continue
		}
		if no, err := proto.TabletNoFromPath(meta.Path); err == nil {
			delete(set.live, no)
		}
	}

	// erase inherited live files from the candidates
	for i := range resp.InhLiveFiles {
		inh := &resp.InhLiveFiles[i]
		candidates, ok := b.liveFiles[inh.TableName]
		if !ok {
			continue
		}
		for _, lgFiles := range inh.LgLiveFiles {
			set := candidates[lgFiles.LgNo]
			if set == nil {
				continue
			}
			for _, f := range lgFiles.FileNumbers {
				delete(set, f)
			}
		}
	}
}

func (b *batchStrategy) PostQuery(ctx context.Context) {
	span := trace.SpanFromContextSafe(ctx)
	b.lock.Lock()
	defer b.lock.Unlock()

	for name, set := range b.tablets {
		if len(set.live) != 0 {
			span.Infof("gc: table %s has %d unconfirmed live tablets, skip", name, len(set.live))
			return
		}
	}

	deleted := 0
	for name, candidates := range b.liveFiles {
		for lg, files := range candidates {
			for f := range files {
				no, _ := proto.ParseFullFileNumber(f)
				path := proto.SSTFilePath(b.prefix, name, no, lg, f)
				span.Infof("gc: delete %s", path)
				if err := b.env.DeleteFile(path); err != nil {
					span.Warnf("gc: delete %s failed: %s", path, err)
					continue
				}
				fileDeleteCount.Inc()
				deleted++
			}
		}
	}
	span.Infof("gc: batch cycle deleted %d files", deleted)
	b.tablets = nil
	b.liveFiles = nil
}

func (b *batchStrategy) Clear(ctx context.Context, tableName string) {
	b.lock.Lock()
	delete(b.tablets, tableName)
	delete(b.liveFiles, tableName)
	b.lock.Unlock()
}
