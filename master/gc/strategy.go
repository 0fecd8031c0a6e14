package gc

import (
	"context"

	"github.com/zmyer/tera/common/fsenv"
	"github.com/zmyer/tera/master/tabletmgr"
	"github.com/zmyer/tera/metrics"
	"github.com/zmyer/tera/proto"
)

// Strategy hooks garbage collection into the master's tablet-node query
// cycle: PreQuery snapshots the dead-tablet candidates, OnQueryResponse
// folds each node's inherited-live-files report in, PostQuery deletes what
// no live tablet still references.
type Strategy interface {
	Name() string
	// PreQuery returns false when there is nothing to collect this cycle.
	PreQuery(ctx context.Context) bool
	OnQueryResponse(ctx context.Context, resp *proto.QueryResponse)
	PostQuery(ctx context.Context)
	// Clear drops all bookkeeping of one table, after table deletion.
	Clear(ctx context.Context, tableName string)
}

type Config struct {
	Strategy   string `json:"strategy"`
	PathPrefix string `json:"path_prefix"`
}

var (
	fileTotalCount  = metrics.NewCounter("gc", "file_candidate_total", "sst files collected as gc candidates")
	fileDeleteCount = metrics.NewCounter("gc", "file_delete_total", "sst files deleted by gc")
)

// NewStrategy picks a strategy by name; "batch" or "incremental" (default).
func NewStrategy(cfg *Config, mgr *tabletmgr.TabletManager, env fsenv.Env, kv *storageDeps) Strategy {
	if cfg.Strategy == "batch" {
		return NewBatchStrategy(mgr, env, cfg.PathPrefix)
	}
	return NewIncrementalStrategy(mgr, env, cfg.PathPrefix, kv)
}

// listDeadTabletFiles walks one dead tablet's directory, deleting stray
// non-sst leftovers and returning the sst files per locality group.
func listDeadTabletFiles(env fsenv.Env, prefix, table string, no proto.TabletNo) map[proto.LgNo][]proto.FileNo {
	tabletDir := proto.TabletDirPath(prefix, table, no)
	children, err := env.GetChildren(tabletDir)
	if err != nil {
		return nil
	}
	if len(children) == 0 {
		_ = env.DeleteDir(tabletDir)
		return nil
	}

	files := make(map[proto.LgNo][]proto.FileNo)
	for _, child := range children {
		lgNo, err := proto.TabletNoFromPath(child)
		if err != nil {
			// not a locality-group dir, only sst files are kept
			_ = env.DeleteFile(tabletDir + "/" + child)
			continue
		}
		lg := proto.LgNo(lgNo)
		lgDir := proto.LgDirPath(prefix, table, no, lg)
		entries, err := env.GetChildren(lgDir)
		if err != nil {
			continue
		}
		if len(entries) == 0 {
			_ = env.DeleteDir(lgDir)
			continue
		}
		for _, entry := range entries {
			fileNo, ok := proto.SSTFileNoFromName(entry)
			if !ok {
				_ = env.DeleteFile(lgDir + "/" + entry)
				continue
			}
			files[lg] = append(files[lg], proto.BuildFullFileNumber(no, fileNo))
			fileTotalCount.Inc()
		}
	}
	return files
}
