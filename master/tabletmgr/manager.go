package tabletmgr

import (
	"context"
	"sort"
	"sync"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	"github.com/zmyer/tera/errors"
	"github.com/zmyer/tera/proto"
)

// TabletManager owns the in-memory catalog. Every durable change is paired
// with a meta-table write that must succeed before the in-memory state is
// committed; transient write failures are retried inside the writer, and a
// permanent failure rolls the change back.
type TabletManager struct {
	meta MetaWriter

	tables  map[string]*Table
	aliases map[string]string

	lock sync.Mutex
}

// NewTabletManager builds an empty catalog over the meta writer.
func NewTabletManager(meta MetaWriter) *TabletManager {
	return &TabletManager{
		meta:    meta,
		tables:  make(map[string]*Table),
		aliases: make(map[string]string),
	}
}

// Restore rebuilds the catalog from the meta table.
func (m *TabletManager) Restore(ctx context.Context) error {
	span := trace.SpanFromContextSafe(ctx)
	var tablets []*proto.TabletMeta
	err := m.meta.ScanAll(ctx, func(key string, value []byte) error {
		if proto.IsTableMetaKey(key) {
			meta, err := proto.DecodeTableMeta(key, value)
			if err != nil {
				span.Warnf("skip bad table meta row %q: %s", key, err)
				return nil
			}
			m.LoadTableMeta(meta)
			return nil
		}
		meta, err := proto.DecodeTabletMeta(key, value)
		if err != nil {
			span.Warnf("skip bad tablet meta row %q: %s", key, err)
			return nil
		}
		tablets = append(tablets, meta)
		return nil
	})
	if err != nil {
		return err
	}
	// tablet rows attach once every table row is known, whatever the scan order
	for _, meta := range tablets {
		m.LoadTabletMeta(meta)
	}
	return nil
}

// LoadTableMeta installs a restored table descriptor.
func (m *TabletManager) LoadTableMeta(meta *proto.TableMeta) {
	m.lock.Lock()
	defer m.lock.Unlock()
	table := newTable(*meta)
	m.tables[meta.Name] = table
	if meta.Alias != "" {
		m.aliases[meta.Alias] = meta.Name
	}
}

// LoadTabletMeta installs a restored tablet row under its table. Restored
// tablets come back offline; load sequencing re-assigns them.
func (m *TabletManager) LoadTabletMeta(meta *proto.TabletMeta) {
	m.lock.Lock()
	table, ok := m.tables[meta.TableName]
	m.lock.Unlock()
	if !ok {
		return
	}
	restored := *meta
	if restored.Status != proto.TabletDeleted {
		restored.Status = proto.TabletOffLine
	}
	tablet := newTablet(restored, table)
	if no, err := proto.TabletNoFromPath(restored.Path); err == nil {
		table.observeTabletNo(no)
	}
	_ = table.AddTablet(tablet)
}

// resolve maps a user-visible name (internal name or alias) to the table.
func (m *TabletManager) resolve(name string) (*Table, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if table, ok := m.tables[name]; ok {
		return table, true
	}
	if internal, ok := m.aliases[name]; ok {
		if table, ok := m.tables[internal]; ok {
			return table, true
		}
	}
	return nil, false
}

// FindTable returns the table by internal name or alias.
func (m *TabletManager) FindTable(name string) (*Table, bool) {
	return m.resolve(name)
}

// FindTablet locates the tablet of table covering key.
func (m *TabletManager) FindTablet(tableName, key string) (*Tablet, error) {
	table, ok := m.resolve(tableName)
	if !ok {
		return nil, errors.ErrTableNotExist
	}
	tablet, ok := table.FindTablet(key)
	if !ok {
		return nil, errors.ErrTabletNotExist
	}
	return tablet, nil
}

// Tables lists all tables sorted by internal name.
func (m *TabletManager) Tables() []*Table {
	m.lock.Lock()
	defer m.lock.Unlock()
	names := make([]string, 0, len(m.tables))
	for name := range m.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	tables := make([]*Table, 0, len(names))
	for _, name := range names {
		tables = append(tables, m.tables[name])
	}
	return tables
}

// AddTable creates and persists a table with its initial tablets, split at
// the delimiters.
func (m *TabletManager) AddTable(ctx context.Context, meta proto.TableMeta, delimiters []string) (*Table, error) {
	m.lock.Lock()
	if _, ok := m.tables[meta.Name]; ok {
		m.lock.Unlock()
		return nil, errors.ErrTableExist
	}
	if meta.Alias != "" {
		if _, ok := m.aliases[meta.Alias]; ok {
			m.lock.Unlock()
			return nil, errors.ErrTableExist
		}
	}
	m.lock.Unlock()

	table := newTable(meta)
	bounds := append([]string{""}, delimiters...)
	var tablets []*Tablet
	var records []MetaRecord

	tableMeta := table.ToMeta()
	key, value, err := proto.EncodeTableMeta(&tableMeta)
	if err != nil {
		return nil, err
	}
	records = append(records, putRecord(key, value))

	for i, start := range bounds {
		end := ""
		if i+1 < len(bounds) {
			end = bounds[i+1]
		}
		tabletMeta := proto.TabletMeta{
			TableName: meta.Name,
			KeyRange:  proto.KeyRange{Start: start, End: end},
			Path:      proto.TabletPathFromNo(table.NextTabletNo()),
			Status:    proto.TabletNotInit,
		}
		tablet := newTablet(tabletMeta, table)
		tablets = append(tablets, tablet)

		key, value, err := proto.EncodeTabletMeta(&tabletMeta)
		if err != nil {
			return nil, err
		}
		records = append(records, putRecord(key, value))
	}

	if err := m.meta.Write(ctx, records); err != nil {
		return nil, err
	}

	m.lock.Lock()
	m.tables[meta.Name] = table
	if meta.Alias != "" {
		m.aliases[meta.Alias] = meta.Name
	}
	m.lock.Unlock()
	for _, tablet := range tablets {
		_ = table.AddTablet(tablet)
	}
	return table, nil
}

// DeleteTable removes a disabled table and its tablet rows.
func (m *TabletManager) DeleteTable(ctx context.Context, name string) error {
	table, ok := m.resolve(name)
	if !ok {
		return errors.ErrTableNotExist
	}
	if table.Status() != proto.TableDisable {
		return errors.New(errors.BadParam, "table %s must be disabled first", name)
	}

	records := []MetaRecord{delRecord(proto.TableMetaKey(table.Name()))}
	for _, tablet := range table.Tablets() {
		records = append(records,
			delRecord(proto.TabletMetaKey(table.Name(), tablet.KeyRange().Start)))
	}
	if err := m.meta.Write(ctx, records); err != nil {
		return err
	}

	table.SetStatus(proto.TableDeleted)
	m.lock.Lock()
	delete(m.tables, table.Name())
	if alias := table.Alias(); alias != "" {
		delete(m.aliases, alias)
	}
	m.lock.Unlock()
	return nil
}

// WriteTable persists the table descriptor after a state or schema change.
func (m *TabletManager) WriteTable(ctx context.Context, table *Table) error {
	meta := table.ToMeta()
	key, value, err := proto.EncodeTableMeta(&meta)
	if err != nil {
		return err
	}
	return m.meta.Write(ctx, []MetaRecord{putRecord(key, value)})
}

// WriteTablet persists one tablet row.
func (m *TabletManager) WriteTablet(ctx context.Context, tablet *Tablet) error {
	meta := tablet.ToMeta()
	key, value, err := proto.EncodeTabletMeta(&meta)
	if err != nil {
		return err
	}
	return m.meta.Write(ctx, []MetaRecord{putRecord(key, value)})
}

// RenameTable rebinds the user-visible alias. It requires the internal-name
// indirection: a table created without an alias cannot be renamed.
func (m *TabletManager) RenameTable(ctx context.Context, oldName, newName string) error {
	table, ok := m.resolve(oldName)
	if !ok {
		return errors.ErrTableNotExist
	}
	if table.Alias() == "" {
		return errors.New(errors.BadParam, "table %s has no alias indirection", oldName)
	}
	m.lock.Lock()
	if _, taken := m.aliases[newName]; taken {
		m.lock.Unlock()
		return errors.ErrTableExist
	}
	m.lock.Unlock()

	oldAlias := table.Alias()
	table.SetAlias(newName)
	if err := m.WriteTable(ctx, table); err != nil {
		table.SetAlias(oldAlias)
		return err
	}
	m.lock.Lock()
	delete(m.aliases, oldAlias)
	m.aliases[newName] = table.Name()
	m.lock.Unlock()
	return nil
}

// ApplySplit swaps tablet [a, c) for [a, b) and [b, c) in one meta batch.
// On write failure the in-memory state is left untouched: no phantom tablet
// ever exists.
func (m *TabletManager) ApplySplit(ctx context.Context, tablet *Tablet, splitKey string) (*Tablet, *Tablet, error) {
	table := tablet.Table()
	kr := tablet.KeyRange()
	if splitKey <= kr.Start || (kr.End != "" && splitKey >= kr.End) {
		return nil, nil, errors.New(errors.BadParam, "split key %q out of range", splitKey)
	}

	leftMeta := proto.TabletMeta{
		TableName: table.Name(),
		KeyRange:  proto.KeyRange{Start: kr.Start, End: splitKey},
		Path:      proto.TabletPathFromNo(table.NextTabletNo()),
		Status:    proto.TabletNotInit,
	}
	rightMeta := proto.TabletMeta{
		TableName: table.Name(),
		KeyRange:  proto.KeyRange{Start: splitKey, End: kr.End},
		Path:      proto.TabletPathFromNo(table.NextTabletNo()),
		Status:    proto.TabletNotInit,
	}

	tableMeta := table.ToMeta()
	tableKey, tableValue, err := proto.EncodeTableMeta(&tableMeta)
	if err != nil {
		return nil, nil, err
	}
	leftKey, leftValue, err := proto.EncodeTabletMeta(&leftMeta)
	if err != nil {
		return nil, nil, err
	}
	rightKey, rightValue, err := proto.EncodeTabletMeta(&rightMeta)
	if err != nil {
		return nil, nil, err
	}
	records := []MetaRecord{
		delRecord(tableKey),
		delRecord(proto.TabletMetaKey(table.Name(), kr.Start)),
		putRecord(tableKey, tableValue),
		putRecord(leftKey, leftValue),
		putRecord(rightKey, rightValue),
	}
	if err := m.meta.Write(ctx, records); err != nil {
		return nil, nil, err
	}

	_ = table.DeleteTablet(kr.Start)
	left := newTablet(leftMeta, table)
	right := newTablet(rightMeta, table)
	_ = table.AddTablet(left)
	_ = table.AddTablet(right)
	return left, right, nil
}

// ApplyMerge folds two contiguous offline tablets into one; the two deletes
// and one add land in the same meta batch, and a failed write aborts the
// merge with the originals intact.
func (m *TabletManager) ApplyMerge(ctx context.Context, first, second *Tablet) (*Tablet, error) {
	if first.TableName() != second.TableName() {
		return nil, errors.New(errors.BadParam, "merge across tables")
	}
	if first.Status() != proto.TabletOffLine || second.Status() != proto.TabletOffLine {
		return nil, errors.New(errors.BadParam, "merge needs both tablets offline")
	}
	kr1, kr2 := first.KeyRange(), second.KeyRange()
	if kr1.End != kr2.Start {
		return nil, errors.ErrRangeConflict
	}

	table := first.Table()
	mergedMeta := proto.TabletMeta{
		TableName: table.Name(),
		KeyRange:  proto.KeyRange{Start: kr1.Start, End: kr2.End},
		Path:      proto.TabletPathFromNo(table.NextTabletNo()),
		Status:    proto.TabletNotInit,
		DataSize:  first.DataSize() + second.DataSize(),
	}
	key, value, err := proto.EncodeTabletMeta(&mergedMeta)
	if err != nil {
		return nil, err
	}
	records := []MetaRecord{
		delRecord(proto.TabletMetaKey(table.Name(), kr1.Start)),
		delRecord(proto.TabletMetaKey(table.Name(), kr2.Start)),
		putRecord(key, value),
	}
	if err := m.meta.Write(ctx, records); err != nil {
		return nil, err
	}

	_ = table.DeleteTablet(kr1.Start)
	_ = table.DeleteTablet(kr2.Start)
	merged := newTablet(mergedMeta, table)
	_ = table.AddTablet(merged)
	return merged, nil
}

// PickMergeTablet finds a small adjacent same-table partner for tablet.
func (m *TabletManager) PickMergeTablet(tablet *Tablet) (*Tablet, bool) {
	table := tablet.Table()
	kr := tablet.KeyRange()
	mergeSize := table.Schema().MergeSize
	if mergeSize <= 0 {
		return nil, false
	}

	tablets := table.Tablets()
	for i, cand := range tablets {
		if cand.KeyRange().Start != kr.Start {
			continue
		}
		if i+1 < len(tablets) && tablets[i+1].DataSize() <= mergeSize {
			return tablets[i+1], true
		}
		if i > 0 && tablets[i-1].DataSize() <= mergeSize {
			return tablets[i-1], true
		}
		return nil, false
	}
	return nil, false
}

// SearchTable pages through tablets from (startTable, startKey).
func (m *TabletManager) SearchTable(startTable, startKey string, maxFound int) (tables []proto.TableMeta, tablets []proto.TabletMeta, isMore bool) {
	for _, table := range m.Tables() {
		if table.Name() < startTable {
			continue
		}
		tables = append(tables, table.ToMeta())
		for _, tablet := range table.Tablets() {
			if table.Name() == startTable && tablet.KeyRange().Start < startKey {
				continue
			}
			if maxFound > 0 && len(tablets) >= maxFound {
				return tables, tablets, true
			}
			tablets = append(tablets, tablet.ToMeta())
		}
	}
	return tables, tablets, false
}

// TabletsOn lists every tablet served by addr across tables.
func (m *TabletManager) TabletsOn(addr string) []*Tablet {
	var on []*Tablet
	for _, table := range m.Tables() {
		on = append(on, table.TabletsOn(addr)...)
	}
	return on
}

// AllTablets lists every tablet.
func (m *TabletManager) AllTablets() []*Tablet {
	var all []*Tablet
	for _, table := range m.Tables() {
		all = append(all, table.Tablets()...)
	}
	return all
}

// OfflineTabletRatio is the share of tablets not in the Ready state.
func (m *TabletManager) OfflineTabletRatio() float64 {
	total, offline := 0, 0
	for _, tablet := range m.AllTablets() {
		total++
		if tablet.Status() != proto.TabletReady {
			offline++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(offline) / float64(total)
}

// DumpMetaTable rewrites the full meta table from memory.
func (m *TabletManager) DumpMetaTable(ctx context.Context) error {
	var records []MetaRecord
	for _, table := range m.Tables() {
		meta := table.ToMeta()
		key, value, err := proto.EncodeTableMeta(&meta)
		if err != nil {
			return err
		}
		records = append(records, putRecord(key, value))
		for _, tablet := range table.Tablets() {
			tm := tablet.ToMeta()
			key, value, err := proto.EncodeTabletMeta(&tm)
			if err != nil {
				return err
			}
			records = append(records, putRecord(key, value))
		}
	}
	return m.meta.Write(ctx, records)
}

// ClearMetaTable deletes every meta row, for repair tooling.
func (m *TabletManager) ClearMetaTable(ctx context.Context) error {
	var records []MetaRecord
	err := m.meta.ScanAll(ctx, func(key string, value []byte) error {
		records = append(records, delRecord(key))
		return nil
	})
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	return m.meta.Write(ctx, records)
}
