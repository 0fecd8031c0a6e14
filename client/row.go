package client

import (
	"sync/atomic"

	"github.com/zmyer/tera/errors"
	"github.com/zmyer/tera/proto"
)

// RowMutation collects the mutations of one row and carries the result back
// to the caller. A mutation with no callback is committed synchronously.
type RowMutation struct {
	row  string
	muts []proto.Mutation

	timeoutMs int64
	callback  func(*RowMutation)

	err         atomic.Value // *errors.Error
	commitTimes int32
	retryTimes  int32

	finish chan struct{}
}

// NewRowMutation starts an empty mutation of row.
func NewRowMutation(row string) *RowMutation {
	return &RowMutation{row: row, finish: make(chan struct{})}
}

func (m *RowMutation) Row() string { return m.row }

// Put writes one cell. timestamp 0 lets the server stamp it.
func (m *RowMutation) Put(family, qualifier string, value []byte) *RowMutation {
	m.muts = append(m.muts, proto.Mutation{
		Type: proto.MutationPut, Family: family, Qualifier: qualifier, Value: value,
	})
	return m
}

// PutKv writes a plain kv cell for key-value tables.
func (m *RowMutation) PutKv(value []byte) *RowMutation {
	m.muts = append(m.muts, proto.Mutation{Type: proto.MutationPut, Value: value})
	return m
}

// Add bumps a big-endian signed counter cell.
func (m *RowMutation) Add(family, qualifier string, delta int64) *RowMutation {
	m.muts = append(m.muts, proto.Mutation{
		Type: proto.MutationAdd, Family: family, Qualifier: qualifier,
		Value: proto.EncodeCounter(delta),
	})
	return m
}

// PutIfAbsent writes the cell only when it does not exist yet.
func (m *RowMutation) PutIfAbsent(family, qualifier string, value []byte) *RowMutation {
	m.muts = append(m.muts, proto.Mutation{
		Type: proto.MutationPutIfAbsent, Family: family, Qualifier: qualifier, Value: value,
	})
	return m
}

// Append concatenates value onto the cell.
func (m *RowMutation) Append(family, qualifier string, value []byte) *RowMutation {
	m.muts = append(m.muts, proto.Mutation{
		Type: proto.MutationAppend, Family: family, Qualifier: qualifier, Value: value,
	})
	return m
}

// DeleteColumn removes the newest version of one cell.
func (m *RowMutation) DeleteColumn(family, qualifier string) *RowMutation {
	m.muts = append(m.muts, proto.Mutation{
		Type: proto.MutationDeleteColumn, Family: family, Qualifier: qualifier,
	})
	return m
}

// DeleteFamily removes every cell of the family.
func (m *RowMutation) DeleteFamily(family string) *RowMutation {
	m.muts = append(m.muts, proto.Mutation{Type: proto.MutationDeleteFamily, Family: family})
	return m
}

// DeleteRow removes the whole row.
func (m *RowMutation) DeleteRow() *RowMutation {
	m.muts = append(m.muts, proto.Mutation{Type: proto.MutationDeleteRow})
	return m
}

// SetTimeout overrides the client default deadline, in milliseconds.
func (m *RowMutation) SetTimeout(ms int64) { m.timeoutMs = ms }

// SetCallback makes the mutation asynchronous; cb runs exactly once.
func (m *RowMutation) SetCallback(cb func(*RowMutation)) { m.callback = cb }

// IsAsync reports whether a callback was attached.
func (m *RowMutation) IsAsync() bool { return m.callback != nil }

// MutationNum returns the number of cell operations.
func (m *RowMutation) MutationNum() int { return len(m.muts) }

// Err returns the final disposition; nil is success.
func (m *RowMutation) Err() *errors.Error {
	if e, ok := m.err.Load().(*errors.Error); ok {
		return e
	}
	return nil
}

// CommitTimes returns how many RPC batches carried this mutation.
func (m *RowMutation) CommitTimes() int { return int(atomic.LoadInt32(&m.commitTimes)) }

// RetryTimes returns how many times the mutation re-entered the router.
func (m *RowMutation) RetryTimes() int { return int(atomic.LoadInt32(&m.retryTimes)) }

func (m *RowMutation) size() int {
	size := len(m.row)
	for i := range m.muts {
		size += len(m.muts[i].Family) + len(m.muts[i].Qualifier) + len(m.muts[i].Value) + 16
	}
	return size
}

func (m *RowMutation) setError(err *errors.Error) {
	if err != nil && err.Code == errors.Ok {
		err = nil
	}
	m.err.Store(err)
}

func (m *RowMutation) wait() {
	<-m.finish
}

func (m *RowMutation) complete() {
	if m.callback != nil {
		m.callback(m)
		return
	}
	close(m.finish)
}

func (m *RowMutation) wireRow() proto.RowMutationSequence {
	return proto.RowMutationSequence{RowKey: m.row, Mutations: m.muts}
}

// RowReader reads selected columns of one row.
type RowReader struct {
	row     string
	columns []proto.ColumnSelector

	maxVersions int32
	tsStart     int64
	tsEnd       int64
	snapshotID  uint64

	timeoutMs int64
	callback  func(*RowReader)

	err         atomic.Value // *errors.Error
	result      proto.RowResult
	commitTimes int32
	retryTimes  int32

	finish chan struct{}
}

// NewRowReader starts a reader of row; with no columns added it reads the
// whole row.
func NewRowReader(row string) *RowReader {
	return &RowReader{row: row, finish: make(chan struct{})}
}

func (r *RowReader) Row() string { return r.row }

// AddColumnFamily selects a whole family.
func (r *RowReader) AddColumnFamily(family string) *RowReader {
	r.columns = append(r.columns, proto.ColumnSelector{Family: family})
	return r
}

// AddColumn selects one qualified column.
func (r *RowReader) AddColumn(family, qualifier string) *RowReader {
	for i := range r.columns {
		if r.columns[i].Family == family {
			r.columns[i].Qualifiers = append(r.columns[i].Qualifiers, qualifier)
			return r
		}
	}
	r.columns = append(r.columns, proto.ColumnSelector{
		Family: family, Qualifiers: []string{qualifier},
	})
	return r
}

// SetMaxVersions caps versions per cell.
func (r *RowReader) SetMaxVersions(n int32) { r.maxVersions = n }

// SetTimeRange bounds cell timestamps to [start, end].
func (r *RowReader) SetTimeRange(startMs, endMs int64) {
	r.tsStart, r.tsEnd = startMs, endMs
}

// SetSnapshot pins the read to a snapshot.
func (r *RowReader) SetSnapshot(id uint64) { r.snapshotID = id }

// SetTimeout overrides the client default deadline, in milliseconds.
func (r *RowReader) SetTimeout(ms int64) { r.timeoutMs = ms }

// SetCallback makes the read asynchronous; cb runs exactly once.
func (r *RowReader) SetCallback(cb func(*RowReader)) { r.callback = cb }

// IsAsync reports whether a callback was attached.
func (r *RowReader) IsAsync() bool { return r.callback != nil }

// Err returns the final disposition; nil is success.
func (r *RowReader) Err() *errors.Error {
	if e, ok := r.err.Load().(*errors.Error); ok {
		return e
	}
	return nil
}

// Result returns the cells read.
func (r *RowReader) Result() proto.RowResult { return r.result }

// Value returns the first cell's value, a convenience for single-cell reads.
func (r *RowReader) Value() []byte {
	if len(r.result.KeyValues) == 0 {
		return nil
	}
	return r.result.KeyValues[0].Value
}

// CommitTimes returns how many RPC batches carried this reader.
func (r *RowReader) CommitTimes() int { return int(atomic.LoadInt32(&r.commitTimes)) }

// RetryTimes returns how many times the reader re-entered the router.
func (r *RowReader) RetryTimes() int { return int(atomic.LoadInt32(&r.retryTimes)) }

func (r *RowReader) size() int {
	size := len(r.row)
	for i := range r.columns {
		size += len(r.columns[i].Family)
		for _, q := range r.columns[i].Qualifiers {
			size += len(q)
		}
	}
	return size + 16
}

func (r *RowReader) setError(err *errors.Error) {
	if err != nil && err.Code == errors.Ok {
		err = nil
	}
	r.err.Store(err)
}

func (r *RowReader) wait() {
	<-r.finish
}

func (r *RowReader) complete() {
	if r.callback != nil {
		r.callback(r)
		return
	}
	close(r.finish)
}

func (r *RowReader) wireRow() proto.RowReaderInfo {
	return proto.RowReaderInfo{
		Key:         r.row,
		Columns:     r.columns,
		MaxVersions: r.maxVersions,
		TsStart:     r.tsStart,
		TsEnd:       r.tsEnd,
	}
}
