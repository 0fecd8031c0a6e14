package proto

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"strings"
)

// Meta-table row layout:
//
//	'@' + internal_table_name            -> TableMeta
//	internal_table_name + '\0' + start   -> TabletMeta
//
// Lexicographic order groups every descriptor row in the '@' region, bounded
// by TableMetaScanEnd. That region sorts before the tablet rows of any table
// whose name starts with a byte above '@' (letters and '_'), but after those
// of a table whose name starts with a digit.

// MetaTableName is the system table indexed by the root tablet.
const MetaTableName = "meta_table"

const (
	tableKeyPrefix = "@"
	tabletKeySep   = "\x00"

	// TableMetaScanEnd bounds a scan over the table-descriptor region.
	TableMetaScanEnd = "@~"
)

var ErrInvalidMetaRow = errors.New("invalid meta table row")

// TableMetaKey builds the meta-table row key of a table descriptor.
func TableMetaKey(name string) string {
	return tableKeyPrefix + name
}

// TabletMetaKey builds the meta-table row key of a tablet.
func TabletMetaKey(table, keyStart string) string {
	return table + tabletKeySep + keyStart
}

// TabletScanRange returns the meta-table range holding every tablet row of a
// table. An empty keyEnd expands to the end of the table's region.
func TabletScanRange(table, keyStart, keyEnd string) (start, end string) {
	start = TabletMetaKey(table, keyStart)
	if keyEnd == "" {
		end = table + tabletKeySep + "\xff\xff\xff\xff"
	} else {
		end = TabletMetaKey(table, keyEnd)
	}
	return start, end
}

// IsTableMetaKey reports whether the row key encodes a table descriptor.
func IsTableMetaKey(key string) bool {
	return strings.HasPrefix(key, tableKeyPrefix)
}

// EncodeTableMeta packs a table descriptor into its meta row.
func EncodeTableMeta(meta *TableMeta) (key string, value []byte, err error) {
	if meta.Name == "" {
		return "", nil, ErrInvalidMetaRow
	}
	value, err = json.Marshal(meta)
	if err != nil {
		return "", nil, err
	}
	return TableMetaKey(meta.Name), value, nil
}

// DecodeTableMeta parses a table-descriptor meta row.
func DecodeTableMeta(key string, value []byte) (*TableMeta, error) {
	if !IsTableMetaKey(key) {
		return nil, ErrInvalidMetaRow
	}
	meta := &TableMeta{}
	if err := json.Unmarshal(value, meta); err != nil {
		return nil, err
	}
	if meta.Name != key[len(tableKeyPrefix):] {
		return nil, ErrInvalidMetaRow
	}
	return meta, nil
}

// EncodeTabletMeta packs a tablet descriptor into its meta row.
func EncodeTabletMeta(meta *TabletMeta) (key string, value []byte, err error) {
	if meta.TableName == "" {
		return "", nil, ErrInvalidMetaRow
	}
	value, err = json.Marshal(meta)
	if err != nil {
		return "", nil, err
	}
	return TabletMetaKey(meta.TableName, meta.KeyRange.Start), value, nil
}

// DecodeTabletMeta parses a tablet meta row.
func DecodeTabletMeta(key string, value []byte) (*TabletMeta, error) {
	sep := strings.Index(key, tabletKeySep)
	if sep <= 0 {
		return nil, ErrInvalidMetaRow
	}
	meta := &TabletMeta{}
	if err := json.Unmarshal(value, meta); err != nil {
		return nil, err
	}
	if meta.TableName != key[:sep] || meta.KeyRange.Start != key[sep+1:] {
		return nil, ErrInvalidMetaRow
	}
	return meta, nil
}

// EncodeCounter encodes a signed counter cell as big-endian 64-bit.
func EncodeCounter(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return buf
}

// DecodeCounter decodes a big-endian signed counter cell.
func DecodeCounter(data []byte) (int64, error) {
	if len(data) != 8 {
		return 0, errors.New("counter cell must be 8 bytes")
	}
	return int64(binary.BigEndian.Uint64(data)), nil
}

// NextKey returns the immediate successor of key in lexicographic order.
func NextKey(key string) string {
	return key + "\x00"
}

// CompareRows orders meta rows the way the root tablet stores them.
func CompareRows(a, b string) int {
	return bytes.Compare([]byte(a), []byte(b))
}
