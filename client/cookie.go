package client

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	"github.com/zmyer/tera/util"
)

// cookieStore persists the meta cache to disk for warm start. The cookie is
// advisory: a stale entry is corrected by the refresh after the first error.
type cookieStore struct {
	cfg        *Config
	table      string
	createTime int64
}

type cookieFile struct {
	TableName string        `json:"table_name"`
	Tablets   []cookieEntry `json:"tablets"`
}

func newCookieStore(cfg *Config, table string, createTime int64) *cookieStore {
	return &cookieStore{cfg: cfg, table: table, createTime: createTime}
}

func (c *cookieStore) fileName() string {
	hash := util.HashString(c.cfg.ClusterID)
	return fmt.Sprintf("%s-%d-%08x", c.table, c.createTime, hash)
}

func (c *cookieStore) filePath() string {
	return filepath.Join(c.cfg.CookiePath, c.fileName())
}

func (c *cookieStore) lockPath() string {
	return c.filePath() + ".LOCK"
}

// Restore seeds the cache from the cookie file, when one exists.
func (c *cookieStore) Restore(cache *metaCache) {
	span := trace.SpanFromContextSafe(context.Background())

	data, err := os.ReadFile(c.filePath())
	if err != nil {
		if !os.IsNotExist(err) {
			span.Warnf("read cookie %s failed: %s", c.filePath(), err)
		}
		return
	}
	cookie := &cookieFile{}
	if err := json.Unmarshal(data, cookie); err != nil {
		span.Warnf("parse cookie %s failed: %s", c.filePath(), err)
		return
	}
	if cookie.TableName != c.table {
		span.Warnf("cookie table %s mismatches %s", cookie.TableName, c.table)
		return
	}
	cache.Restore(cookie.Tablets)
	span.Infof("restored %d cookie ranges of table %s", len(cookie.Tablets), c.table)
}

// Dump writes the current cache under the sibling lock file. A concurrent
// holder of the lock wins; this dump is simply skipped.
func (c *cookieStore) Dump(cache *metaCache) {
	span := trace.SpanFromContextSafe(context.Background())

	if err := os.MkdirAll(c.cfg.CookiePath, 0o755); err != nil {
		span.Warnf("create cookie dir %s failed: %s", c.cfg.CookiePath, err)
		return
	}
	lock, err := os.OpenFile(c.lockPath(), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		span.Warnf("cookie %s is locked: %s", c.filePath(), err)
		return
	}
	lock.Close()
	defer os.Remove(c.lockPath())

	cookie := &cookieFile{TableName: c.table, Tablets: cache.Snapshot()}
	data, err := json.Marshal(cookie)
	if err != nil {
		span.Errorf("marshal cookie failed: %s", err)
		return
	}
	tmp := c.filePath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		span.Warnf("write cookie %s failed: %s", tmp, err)
		return
	}
	if err := os.Rename(tmp, c.filePath()); err != nil {
		span.Warnf("rename cookie %s failed: %s", c.filePath(), err)
	}
}
