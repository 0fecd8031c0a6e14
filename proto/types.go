package proto

type (
	// SequenceID tags every request issued by one client or master instance.
	SequenceID = uint64
	// TabletNo is the numeric directory a tablet lives under.
	TabletNo = uint64
	// FileNo is a full file number: tablet number in the high bits, the
	// engine file number in the low bits.
	FileNo = uint64
	// LgNo indexes a locality group inside a tablet.
	LgNo = uint32
)

// StatusCode is the wire status taxonomy shared by master and tablet nodes.
type StatusCode int32

const (
	StatusOk StatusCode = iota + 1
	StatusKeyNotExist
	StatusKeyNotInRange
	StatusSnapshotNotExist
	StatusTxnFail
	StatusTabletNodeOk
	StatusServerError
	StatusClientError
	StatusConnectError
	StatusRPCTimeout
	StatusRPCError
	StatusMasterOk
	StatusTableExist
	StatusTableNotExist
	StatusTableNotFound
	StatusTableStatusDisable
	StatusTableStatusEnable
	StatusInvalidArgument
	StatusNotPermission
)

var statusNames = map[StatusCode]string{
	StatusOk:                 "Ok",
	StatusKeyNotExist:        "KeyNotExist",
	StatusKeyNotInRange:      "KeyNotInRange",
	StatusSnapshotNotExist:   "SnapshotNotExist",
	StatusTxnFail:            "TxnFail",
	StatusTabletNodeOk:       "TabletNodeOk",
	StatusServerError:        "ServerError",
	StatusClientError:        "ClientError",
	StatusConnectError:       "ConnectError",
	StatusRPCTimeout:         "RPCTimeout",
	StatusRPCError:           "RPCError",
	StatusMasterOk:           "MasterOk",
	StatusTableExist:         "TableExist",
	StatusTableNotExist:      "TableNotExist",
	StatusTableNotFound:      "TableNotFound",
	StatusTableStatusDisable: "TableStatusDisable",
	StatusTableStatusEnable:  "TableStatusEnable",
	StatusInvalidArgument:    "InvalidArgument",
	StatusNotPermission:      "NotPermission",
}

func (s StatusCode) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "Unknown"
}

// Retryable reports whether the status is a transport-level fault the client
// may retry with backoff.
func (s StatusCode) Retryable() bool {
	switch s {
	case StatusServerError, StatusClientError, StatusConnectError, StatusRPCTimeout, StatusRPCError:
		return true
	}
	return false
}

// TableStatus is the catalog-level table state.
type TableStatus uint8

const (
	TableEnable TableStatus = iota + 1
	TableDisable
	TableDeleted
)

func (s TableStatus) String() string {
	switch s {
	case TableEnable:
		return "Enable"
	case TableDisable:
		return "Disable"
	case TableDeleted:
		return "Deleted"
	}
	return "Unknown"
}

// TabletStatus is the master-view tablet lifecycle state.
type TabletStatus uint8

const (
	TabletNotInit TabletStatus = iota + 1
	TabletWaitLoad
	TabletOnLoad
	TabletReady
	TabletOnSplit
	TabletOnMerge
	TabletOnCompact
	TabletUnLoading
	TabletOffLine
	TabletLoadFail
	TabletDeleted
)

var tabletStatusNames = map[TabletStatus]string{
	TabletNotInit:   "NotInit",
	TabletWaitLoad:  "WaitLoad",
	TabletOnLoad:    "OnLoad",
	TabletReady:     "Ready",
	TabletOnSplit:   "OnSplit",
	TabletOnMerge:   "OnMerge",
	TabletOnCompact: "OnCompact",
	TabletUnLoading: "UnLoading",
	TabletOffLine:   "OffLine",
	TabletLoadFail:  "LoadFail",
	TabletDeleted:   "Deleted",
}

func (s TabletStatus) String() string {
	if name, ok := tabletStatusNames[s]; ok {
		return name
	}
	return "Unknown"
}

// RawKeyType selects the key layout of the underlying engine.
type RawKeyType uint8

const (
	RawKeyBinary RawKeyType = iota + 1
	RawKeyGeneralKv
	RawKeyTTLKv
)

// KeyRange is a half-open row range [Start, End); empty End means +inf.
type KeyRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Contains reports whether key falls inside the range.
func (r KeyRange) Contains(key string) bool {
	return r.Start <= key && (r.End == "" || key < r.End)
}

type LocalityGroup struct {
	Name        string `json:"name"`
	ID          LgNo   `json:"id"`
	Compress    bool   `json:"compress"`
	StoreMedium string `json:"store_medium,omitempty"`
	BlockSize   int32  `json:"block_size,omitempty"`
}

type ColumnFamily struct {
	Name          string `json:"name"`
	LocalityGroup string `json:"locality_group"`
	MaxVersions   int32  `json:"max_versions"`
	TTLSeconds    int64  `json:"ttl_s"`
}

type TableSchema struct {
	RawKey          RawKeyType      `json:"raw_key"`
	LocalityGroups  []LocalityGroup `json:"locality_groups"`
	ColumnFamilies  []ColumnFamily  `json:"column_families"`
	SplitSize       int64           `json:"split_size,omitempty"`
	MergeSize       int64           `json:"merge_size,omitempty"`
	KvOnly          bool            `json:"kv_only,omitempty"`
	TableRenameable bool            `json:"table_renameable,omitempty"`
}

// LgCount returns the number of locality groups, at least one.
func (s *TableSchema) LgCount() int {
	if len(s.LocalityGroups) == 0 {
		return 1
	}
	return len(s.LocalityGroups)
}

type Rollback struct {
	Name       string `json:"name"`
	SnapshotID uint64 `json:"snapshot_id"`
	Point      uint64 `json:"point"`
}

// TableMeta is the durable table descriptor stored in the meta table.
type TableMeta struct {
	Name          string      `json:"name"`
	Alias         string      `json:"alias,omitempty"`
	Status        TableStatus `json:"status"`
	Schema        TableSchema `json:"schema"`
	CreateTime    int64       `json:"create_time"`
	Snapshots     []uint64    `json:"snapshots,omitempty"`
	RollbackNames []string    `json:"rollback_names,omitempty"`
}

// TabletCounter carries a tablet node's rolling load report for one tablet.
type TabletCounter struct {
	LowReadCell uint64 `json:"low_read_cell"`
	ScanRows    uint64 `json:"scan_rows"`
	ReadRows    uint64 `json:"read_rows"`
	WriteRows   uint64 `json:"write_rows"`
	IsOnBusy    bool   `json:"is_on_busy"`
}

// TabletMeta is the durable tablet descriptor stored in the meta table.
type TabletMeta struct {
	TableName        string        `json:"table_name"`
	KeyRange         KeyRange      `json:"key_range"`
	Path             string        `json:"path"`
	ServerAddr       string        `json:"server_addr"`
	Status           TabletStatus  `json:"status"`
	DataSize         int64         `json:"data_size"`
	LgSize           []int64       `json:"lg_size,omitempty"`
	Counter          TabletCounter `json:"counter,omitempty"`
	UpdateTimeMs     int64         `json:"update_time_ms"`
	LoadTimeMs       int64         `json:"load_time_ms,omitempty"`
	ServerID         string        `json:"server_id,omitempty"`
	ExpectServerAddr string        `json:"expect_server_addr,omitempty"`
	Snapshots        []uint64      `json:"snapshots,omitempty"`
	Rollbacks        []Rollback    `json:"rollbacks,omitempty"`
}

// TabletNodeInfo is the master's view of one tablet server.
type TabletNodeInfo struct {
	Addr        string  `json:"addr"`
	UUID        string  `json:"uuid"`
	Status      string  `json:"status"`
	TabletCount int     `json:"tablet_count"`
	DataSize    int64   `json:"data_size"`
	CPUUsage    float32 `json:"cpu_usage,omitempty"`
	MemUsed     int64   `json:"mem_used,omitempty"`
	QPS         int64   `json:"qps"`
	LastReport  int64   `json:"last_report"`
}
