package proto

// Wire messages between client, master and tablet nodes. The transport is
// external; these are carried as plain structs over whatever codec it uses.

type MutationType uint8

const (
	MutationPut MutationType = iota + 1
	MutationDeleteColumn
	MutationDeleteColumns
	MutationDeleteFamily
	MutationDeleteRow
	MutationAdd
	MutationPutIfAbsent
	MutationAppend
)

type Mutation struct {
	Type        MutationType `json:"type"`
	Family      string       `json:"family,omitempty"`
	Qualifier   string       `json:"qualifier,omitempty"`
	TimestampMs int64        `json:"timestamp_ms,omitempty"`
	Value       []byte       `json:"value,omitempty"`
	TTLSeconds  int64        `json:"ttl_s,omitempty"`
}

type RowMutationSequence struct {
	RowKey    string     `json:"row_key"`
	Mutations []Mutation `json:"mutations"`
}

type WriteTabletRequest struct {
	SequenceID  SequenceID            `json:"sequence_id"`
	TabletName  string                `json:"tablet_name"`
	IsSync      bool                  `json:"is_sync"`
	RowList     []RowMutationSequence `json:"row_list"`
	TimestampUs int64                 `json:"timestamp_us"`
}

type WriteTabletResponse struct {
	SequenceID    SequenceID   `json:"sequence_id"`
	Status        StatusCode   `json:"status"`
	RowStatusList []StatusCode `json:"row_status_list"`
}

type ColumnSelector struct {
	Family     string   `json:"family"`
	Qualifiers []string `json:"qualifiers,omitempty"`
}

type RowReaderInfo struct {
	Key         string           `json:"key"`
	Columns     []ColumnSelector `json:"columns,omitempty"`
	MaxVersions int32            `json:"max_versions,omitempty"`
	TsStart     int64            `json:"ts_start,omitempty"`
	TsEnd       int64            `json:"ts_end,omitempty"`
}

type ReadTabletRequest struct {
	SequenceID      SequenceID      `json:"sequence_id"`
	TabletName      string          `json:"tablet_name"`
	RowInfoList     []RowReaderInfo `json:"row_info_list"`
	SnapshotID      uint64          `json:"snapshot_id,omitempty"`
	ClientTimeoutMs int64           `json:"client_timeout_ms,omitempty"`
}

type KeyValuePair struct {
	Key         string `json:"key"`
	Family      string `json:"family,omitempty"`
	Qualifier   string `json:"qualifier,omitempty"`
	TimestampMs int64  `json:"timestamp_ms,omitempty"`
	Value       []byte `json:"value,omitempty"`
}

type RowResult struct {
	KeyValues []KeyValuePair `json:"key_values"`
}

type ReadTabletResponse struct {
	SequenceID   SequenceID   `json:"sequence_id"`
	Status       StatusCode   `json:"status"`
	DetailStatus []StatusCode `json:"detail_status"`
	RowResults   []RowResult  `json:"row_results"`
}

type TimeRange struct {
	TsStart int64 `json:"ts_start"`
	TsEnd   int64 `json:"ts_end"`
}

type ScanTabletRequest struct {
	SequenceID     SequenceID `json:"sequence_id"`
	TableName      string     `json:"table_name"`
	Start          string     `json:"start"`
	End            string     `json:"end"`
	SnapshotID     uint64     `json:"snapshot_id,omitempty"`
	BufferLimit    int64      `json:"buffer_limit,omitempty"`
	NumberLimit    int64      `json:"number_limit,omitempty"`
	TimeRange      *TimeRange `json:"timerange,omitempty"`
	FilterList     []string   `json:"filter_list,omitempty"`
	CFList         []string   `json:"cf_list,omitempty"`
	StartFamily    string     `json:"start_family,omitempty"`
	StartQualifier string     `json:"start_qualifier,omitempty"`
	StartTimestamp int64      `json:"start_timestamp,omitempty"`
	MaxVersion     int32      `json:"max_version,omitempty"`
	RoundDown      bool       `json:"round_down,omitempty"`
}

type ScanTabletResponse struct {
	SequenceID SequenceID `json:"sequence_id"`
	Status     StatusCode `json:"status"`
	Complete   bool       `json:"complete"`
	Results    RowResult  `json:"results"`
}

// LgInheritedLiveFiles lists the inherited sst files of one locality group.
type LgInheritedLiveFiles struct {
	LgNo        LgNo     `json:"lg_no"`
	FileNumbers []FileNo `json:"file_numbers"`
}

// InheritedLiveFiles is one table's inherited-file report from a node.
type InheritedLiveFiles struct {
	TableName   string                 `json:"table_name"`
	LgLiveFiles []LgInheritedLiveFiles `json:"lg_live_files"`
}

type QueryRequest struct {
	SequenceID SequenceID `json:"sequence_id"`
	IsGcQuery  bool       `json:"is_gc_query"`
}

type QueryResponse struct {
	SequenceID     SequenceID           `json:"sequence_id"`
	Status         StatusCode           `json:"status"`
	TabletMetaList []TabletMeta         `json:"tabletmeta_list"`
	InhLiveFiles   []InheritedLiveFiles `json:"inh_live_files"`
	NodeInfo       TabletNodeInfo       `json:"node_info"`
}

type LoadTabletRequest struct {
	SequenceID SequenceID  `json:"sequence_id"`
	Tablet     TabletMeta  `json:"tablet"`
	Schema     TableSchema `json:"schema"`
	SessionID  string      `json:"session_id,omitempty"`
}

type LoadTabletResponse struct {
	SequenceID SequenceID `json:"sequence_id"`
	Status     StatusCode `json:"status"`
}

type UnloadTabletRequest struct {
	SequenceID SequenceID `json:"sequence_id"`
	TableName  string     `json:"table_name"`
	KeyRange   KeyRange   `json:"key_range"`
}

type UnloadTabletResponse struct {
	SequenceID SequenceID `json:"sequence_id"`
	Status     StatusCode `json:"status"`
}

type SplitTabletRequest struct {
	SequenceID SequenceID `json:"sequence_id"`
	TableName  string     `json:"table_name"`
	KeyRange   KeyRange   `json:"key_range"`
	SplitKey   string     `json:"split_key,omitempty"`
}

type SplitTabletResponse struct {
	SequenceID SequenceID `json:"sequence_id"`
	Status     StatusCode `json:"status"`
	SplitKey   string     `json:"split_key,omitempty"`
}

// Master operations.

type CreateTableRequest struct {
	TableName  string      `json:"table_name"`
	Schema     TableSchema `json:"schema"`
	Delimiters []string    `json:"delimiters,omitempty"`
	UserToken  string      `json:"user_token,omitempty"`
}

type CreateTableResponse struct {
	Status StatusCode `json:"status"`
}

type UpdateTableRequest struct {
	TableName string      `json:"table_name"`
	Schema    TableSchema `json:"schema"`
	UserToken string      `json:"user_token,omitempty"`
}

type UpdateTableResponse struct {
	Status StatusCode `json:"status"`
}

type UpdateCheckRequest struct {
	TableName string `json:"table_name"`
}

type UpdateCheckResponse struct {
	Status StatusCode `json:"status"`
	Done   bool       `json:"done"`
}

type DeleteTableRequest struct {
	TableName string `json:"table_name"`
	UserToken string `json:"user_token,omitempty"`
}

type DeleteTableResponse struct {
	Status StatusCode `json:"status"`
}

type DisableTableRequest struct {
	TableName string `json:"table_name"`
	UserToken string `json:"user_token,omitempty"`
}

type DisableTableResponse struct {
	Status StatusCode `json:"status"`
}

type EnableTableRequest struct {
	TableName string `json:"table_name"`
	UserToken string `json:"user_token,omitempty"`
}

type EnableTableResponse struct {
	Status StatusCode `json:"status"`
}

type UserOpType uint8

const (
	UserOpCreate UserOpType = iota + 1
	UserOpDelete
	UserOpChangePwd
	UserOpShow
	UserOpAddToGroup
	UserOpDeleteFromGroup
)

type UserInfo struct {
	Name   string   `json:"name"`
	Token  string   `json:"token,omitempty"`
	Groups []string `json:"groups,omitempty"`
}

type OperateUserRequest struct {
	Op        UserOpType `json:"op"`
	User      UserInfo   `json:"user"`
	UserToken string     `json:"user_token,omitempty"`
}

type OperateUserResponse struct {
	Status StatusCode `json:"status"`
	User   *UserInfo  `json:"user,omitempty"`
}

type ShowTablesRequest struct {
	StartTableName string `json:"start_table_name,omitempty"`
	StartTabletKey string `json:"start_tablet_key,omitempty"`
	MaxTablet      uint32 `json:"max_tablet,omitempty"`
	Brief          bool   `json:"brief,omitempty"`
}

type ShowTablesResponse struct {
	Status     StatusCode   `json:"status"`
	TableList  []TableMeta  `json:"table_list"`
	TabletList []TabletMeta `json:"tablet_list"`
	IsMore     bool         `json:"is_more"`
}

type ShowTabletNodesRequest struct {
	Addr      string `json:"addr,omitempty"`
	IsShowAll bool   `json:"is_show_all,omitempty"`
}

type ShowTabletNodesResponse struct {
	Status   StatusCode       `json:"status"`
	NodeList []TabletNodeInfo `json:"node_list"`
	// Tablets served by the requested node when Addr is set.
	TabletList []TabletMeta `json:"tablet_list,omitempty"`
}

type GetSnapshotRequest struct {
	TableName string `json:"table_name"`
}

type GetSnapshotResponse struct {
	Status     StatusCode `json:"status"`
	SnapshotID uint64     `json:"snapshot_id"`
}

type DelSnapshotRequest struct {
	TableName  string `json:"table_name"`
	SnapshotID uint64 `json:"snapshot_id"`
}

type DelSnapshotResponse struct {
	Status StatusCode `json:"status"`
}

type RollbackRequest struct {
	TableName    string `json:"table_name"`
	SnapshotID   uint64 `json:"snapshot_id"`
	RollbackName string `json:"rollback_name"`
}

type RollbackResponse struct {
	Status StatusCode `json:"status"`
}

type CmdCtrlRequest struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

type CmdCtrlResponse struct {
	Status StatusCode `json:"status"`
	Result string     `json:"result,omitempty"`
}

type RenameTableRequest struct {
	OldName string `json:"old_name"`
	NewName string `json:"new_name"`
}

type RenameTableResponse struct {
	Status StatusCode `json:"status"`
}
