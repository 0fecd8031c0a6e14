package proto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTableMetaRoundTrip(t *testing.T) {
	meta := &TableMeta{
		Name:       "lk#5f3a",
		Alias:      "lk",
		Status:     TableEnable,
		CreateTime: 1700000000000,
		Schema: TableSchema{
			RawKey: RawKeyBinary,
			LocalityGroups: []LocalityGroup{
				{Name: "lg0", ID: 0},
				{Name: "lg1", ID: 1, Compress: true},
			},
			ColumnFamilies: []ColumnFamily{
				{Name: "cf", LocalityGroup: "lg0", MaxVersions: 3, TTLSeconds: 86400},
			},
			SplitSize: 512 << 20,
		},
		Snapshots: []uint64{7, 9},
	}

	key, value, err := EncodeTableMeta(meta)
	require.NoError(t, err)
	require.Equal(t, "@lk#5f3a", key)

	parsed, err := DecodeTableMeta(key, value)
	require.NoError(t, err)
	require.Equal(t, meta, parsed)
}

func TestTabletMetaRoundTrip(t *testing.T) {
	meta := &TabletMeta{
		TableName:    "lk#5f3a",
		KeyRange:     KeyRange{Start: "abc", End: "def"},
		Path:         TabletPathFromNo(12),
		ServerAddr:   "10.0.0.1:7001",
		Status:       TabletReady,
		DataSize:     1 << 30,
		UpdateTimeMs: 1700000000123,
	}

	key, value, err := EncodeTabletMeta(meta)
	require.NoError(t, err)
	require.Equal(t, "lk#5f3a\x00abc", key)

	parsed, err := DecodeTabletMeta(key, value)
	require.NoError(t, err)
	require.Equal(t, meta, parsed)
}

func TestDecodeRejectsMismatchedKey(t *testing.T) {
	meta := &TabletMeta{TableName: "t", KeyRange: KeyRange{Start: "a"}}
	_, value, err := EncodeTabletMeta(meta)
	require.NoError(t, err)

	_, err = DecodeTabletMeta("t\x00b", value)
	require.ErrorIs(t, err, ErrInvalidMetaRow)

	_, err = DecodeTableMeta("noprefix", []byte("{}"))
	require.ErrorIs(t, err, ErrInvalidMetaRow)
}

func TestMetaRowOrdering(t *testing.T) {
	// a table's descriptor row falls inside the descriptor scan region, and
	// tablet rows sort by start key
	require.Less(t, TableMetaKey("tbl"), TableMetaScanEnd)
	require.Less(t, TabletMetaKey("tbl", ""), TabletMetaKey("tbl", "a"))
	require.Less(t, TabletMetaKey("tbl", "a"), TabletMetaKey("tbl", "b"))

	start, end := TabletScanRange("tbl", "a", "")
	require.Less(t, start, end)
	require.Less(t, TabletMetaKey("tbl", "zzz"), end)
}

func TestCounterRoundTrip(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 1 << 40, -(1 << 40), 9223372036854775807, -9223372036854775808} {
		data := EncodeCounter(v)
		require.Len(t, data, 8)
		got, err := DecodeCounter(data)
		require.NoError(t, err)
		require.Equal(t, v, got)
	}
	_, err := DecodeCounter([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestFullFileNumber(t *testing.T) {
	full := BuildFullFileNumber(42, 100)
	tabletNo, fileNo := ParseFullFileNumber(full)
	require.Equal(t, TabletNo(42), tabletNo)
	require.Equal(t, uint64(100), fileNo)

	no, err := TabletNoFromPath(TabletPathFromNo(42))
	require.NoError(t, err)
	require.Equal(t, TabletNo(42), no)

	no, err = TabletNoFromPath("lk/0000000042")
	require.NoError(t, err)
	require.Equal(t, TabletNo(42), no)

	fileNo, ok := SSTFileNoFromName("00000100.sst")
	require.True(t, ok)
	require.Equal(t, uint64(100), fileNo)
	_, ok = SSTFileNoFromName("MANIFEST-000001")
	require.False(t, ok)
}
