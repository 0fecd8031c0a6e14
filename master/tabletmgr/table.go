package tabletmgr

import (
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/zmyer/tera/errors"
	"github.com/zmyer/tera/proto"
)

var tableStatusSwitch = map[proto.TableStatus][]proto.TableStatus{
	proto.TableEnable:  {proto.TableDisable},
	proto.TableDisable: {proto.TableEnable, proto.TableDeleted},
	proto.TableDeleted: {},
}

// Table owns its tablets, ordered by key range start.
type Table struct {
	name       string
	alias      string
	schema     proto.TableSchema
	status     proto.TableStatus
	createTime int64

	tablets     *btree.BTree
	maxTabletNo proto.TabletNo

	snapshots     []uint64
	rollbackNames []string

	oldSchema *proto.TableSchema

	lock sync.Mutex
}

func newTable(meta proto.TableMeta) *Table {
	createTime := meta.CreateTime
	if createTime == 0 {
		createTime = time.Now().UnixMilli()
	}
	return &Table{
		name:          meta.Name,
		alias:         meta.Alias,
		schema:        meta.Schema,
		status:        meta.Status,
		createTime:    createTime,
		tablets:       btree.New(16),
		snapshots:     meta.Snapshots,
		rollbackNames: meta.RollbackNames,
	}
}

func (t *Table) Name() string { return t.name }

func (t *Table) Alias() string {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.alias
}

func (t *Table) SetAlias(alias string) {
	t.lock.Lock()
	t.alias = alias
	t.lock.Unlock()
}

func (t *Table) CreateTime() int64 { return t.createTime }

func (t *Table) Status() proto.TableStatus {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.status
}

// SetStatus moves the table along a legal edge.
func (t *Table) SetStatus(new proto.TableStatus) (proto.TableStatus, bool) {
	t.lock.Lock()
	defer t.lock.Unlock()
	old := t.status
	for _, s := range tableStatusSwitch[old] {
		if s == new {
			t.status = new
			return old, true
		}
	}
	return old, false
}

func (t *Table) Schema() proto.TableSchema {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.schema
}

// PrepareUpdate stages a schema update, keeping the old schema for abort.
func (t *Table) PrepareUpdate(schema proto.TableSchema) bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.oldSchema != nil {
		return false
	}
	old := t.schema
	t.oldSchema = &old
	t.schema = schema
	return true
}

// AbortUpdate restores the schema staged by PrepareUpdate.
func (t *Table) AbortUpdate() {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.oldSchema != nil {
		t.schema = *t.oldSchema
		t.oldSchema = nil
	}
}

// CommitUpdate drops the staged old schema.
func (t *Table) CommitUpdate() {
	t.lock.Lock()
	t.oldSchema = nil
	t.lock.Unlock()
}

// UpdatePending reports whether a schema update is still syncing.
func (t *Table) UpdatePending() bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.oldSchema != nil
}

// ToMeta snapshots the durable descriptor.
func (t *Table) ToMeta() proto.TableMeta {
	t.lock.Lock()
	defer t.lock.Unlock()
	return proto.TableMeta{
		Name:          t.name,
		Alias:         t.alias,
		Status:        t.status,
		Schema:        t.schema,
		CreateTime:    t.createTime,
		Snapshots:     append([]uint64(nil), t.snapshots...),
		RollbackNames: append([]string(nil), t.rollbackNames...),
	}
}

// NextTabletNo hands out the next numeric tablet path.
func (t *Table) NextTabletNo() proto.TabletNo {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.maxTabletNo++
	return t.maxTabletNo
}

func (t *Table) observeTabletNo(no proto.TabletNo) {
	t.lock.Lock()
	if no > t.maxTabletNo {
		t.maxTabletNo = no
	}
	t.lock.Unlock()
}

// AddTablet inserts a tablet; ranges may not collide on start key.
func (t *Table) AddTablet(tablet *Tablet) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.tablets.Has(tablet) {
		return errors.ErrTabletExist
	}
	t.tablets.ReplaceOrInsert(tablet)
	return nil
}

// DeleteTablet removes the tablet starting at keyStart.
func (t *Table) DeleteTablet(keyStart string) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	item := t.tablets.Delete(tabletPivot(keyStart))
	if item == nil {
		return errors.ErrTabletNotExist
	}
	return nil
}

func tabletPivot(keyStart string) *Tablet {
	return &Tablet{meta: proto.TabletMeta{KeyRange: proto.KeyRange{Start: keyStart}}}
}

// FindTablet locates the tablet whose range covers key.
func (t *Table) FindTablet(key string) (*Tablet, bool) {
	t.lock.Lock()
	defer t.lock.Unlock()
	var found *Tablet
	t.tablets.DescendLessOrEqual(tabletPivot(key), func(i btree.Item) bool {
		found = i.(*Tablet)
		return false
	})
	if found == nil {
		return nil, false
	}
	if end := found.KeyRange().End; end != "" && end <= key {
		return nil, false
	}
	return found, true
}

// GetTablet returns the tablet starting exactly at keyStart.
func (t *Table) GetTablet(keyStart string) (*Tablet, bool) {
	t.lock.Lock()
	defer t.lock.Unlock()
	item := t.tablets.Get(tabletPivot(keyStart))
	if item == nil {
		return nil, false
	}
	return item.(*Tablet), true
}

// Tablets lists the tablets in range order.
func (t *Table) Tablets() []*Tablet {
	t.lock.Lock()
	defer t.lock.Unlock()
	tablets := make([]*Tablet, 0, t.tablets.Len())
	t.tablets.Ascend(func(i btree.Item) bool {
		tablets = append(tablets, i.(*Tablet))
		return true
	})
	return tablets
}

// TabletsOn lists the tablets served by addr.
func (t *Table) TabletsOn(addr string) []*Tablet {
	var on []*Tablet
	for _, tablet := range t.Tablets() {
		if tablet.ServerAddr() == addr {
			on = append(on, tablet)
		}
	}
	return on
}

// TabletCount returns the number of tablets.
func (t *Table) TabletCount() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.tablets.Len()
}

// TabletsForGc partitions tablet numbers into live and dead. A number is
// live while any cataloged tablet still claims its path; numbers up to and
// including the high-water mark with no claimant belong to dead tablets.
func (t *Table) TabletsForGc() (live, dead map[proto.TabletNo]struct{}, ok bool) {
	live = make(map[proto.TabletNo]struct{})
	dead = make(map[proto.TabletNo]struct{})

	tablets := t.Tablets()
	for _, tablet := range tablets {
		status := tablet.Status()
		if status != proto.TabletReady && status != proto.TabletOnSplit &&
			status != proto.TabletOnCompact {
			// a moving or loading tablet makes the snapshot unreliable
			return nil, nil, false
		}
		live[tablet.TabletNo()] = struct{}{}
	}

	t.lock.Lock()
	max := t.maxTabletNo
	t.lock.Unlock()
	for no := proto.TabletNo(1); no <= max; no++ {
		if _, isLive := live[no]; !isLive {
			dead[no] = struct{}{}
		}
	}
	return live, dead, true
}

// Snapshots lists the table's snapshot ids.
func (t *Table) Snapshots() []uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()
	return append([]uint64(nil), t.snapshots...)
}

// AddSnapshot records a new snapshot id.
func (t *Table) AddSnapshot(id uint64) {
	t.lock.Lock()
	t.snapshots = append(t.snapshots, id)
	t.lock.Unlock()
}

// DelSnapshot forgets a snapshot id.
func (t *Table) DelSnapshot(id uint64) bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	for i, s := range t.snapshots {
		if s == id {
			t.snapshots = append(t.snapshots[:i], t.snapshots[i+1:]...)
			return true
		}
	}
	return false
}

// AddRollback records a rollback name.
func (t *Table) AddRollback(name string) {
	t.lock.Lock()
	t.rollbackNames = append(t.rollbackNames, name)
	t.lock.Unlock()
}
