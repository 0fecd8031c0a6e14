package client

import "time"

// Config is the sdk configuration. It is loaded once at open time and never
// mutated afterwards; a second client in the same process shares it.
type Config struct {
	// Masters are the master rpc addresses tried in order.
	Masters []string `json:"masters"`
	// ClusterID names the cluster for cookie-file hashing.
	ClusterID string `json:"cluster_id"`

	RetryTimes    int `json:"retry_times"`
	RetryPeriodMs int `json:"retry_period_ms"`

	UpdateMetaInternalMs  int `json:"update_meta_internal_ms"`
	UpdateMetaConcurrency int `json:"update_meta_concurrency"`
	UpdateMetaBufferLimit int `json:"update_meta_buffer_limit"`
	MaxMetaScanRestarts   int `json:"max_meta_scan_restarts"`

	ThreadPoolMin int `json:"thread_pool_min"`
	ThreadPoolMax int `json:"thread_pool_max"`

	WriteSync          bool `json:"write_sync"`
	BatchSize          int  `json:"batch_size"`
	WriteSendIntervalMs int `json:"write_send_interval"`
	ReadSendIntervalMs  int `json:"read_send_interval"`
	MaxRPCBytes        int  `json:"max_rpc_bytes"`

	MaxMutationPendingNum int  `json:"max_mutation_pending_num"`
	MaxReaderPendingNum   int  `json:"max_reader_pending_num"`
	AsyncBlockingEnabled  bool `json:"async_blocking_enabled"`
	WriteMBPS             int  `json:"write_mbps"`

	TimeoutMs int `json:"timeout"`

	ScanBufferLimit int64 `json:"scan_buffer_limit"`

	CookieEnabled          bool   `json:"cookie_enabled"`
	CookiePath             string `json:"cookie_path"`
	CookieUpdateIntervalS  int    `json:"cookie_update_interval"`

	ShowMaxNum int `json:"show_max_num"`
}

const (
	defaultRetryTimes            = 10
	defaultRetryPeriodMs         = 500
	defaultUpdateMetaInternalMs  = 800
	defaultUpdateMetaConcurrency = 3
	defaultUpdateMetaBufferLimit = 10 * 1024 * 1024
	defaultMaxMetaScanRestarts   = 5
	defaultThreadPoolMax         = 20
	defaultBatchSize             = 100
	defaultWriteSendIntervalMs   = 100
	defaultReadSendIntervalMs    = 50
	defaultMaxRPCBytes           = 2 * 1024 * 1024
	defaultMaxMutationPending    = 100000
	defaultMaxReaderPending      = 100000
	defaultTimeoutMs             = 60000
	defaultScanBufferLimit       = 64 * 1024
	defaultCookieUpdateS         = 600
	defaultShowMaxNum            = 10000
)

func (c *Config) withDefaults() {
	if c.RetryTimes <= 0 {
		c.RetryTimes = defaultRetryTimes
	}
	if c.RetryPeriodMs <= 0 {
		c.RetryPeriodMs = defaultRetryPeriodMs
	}
	if c.UpdateMetaInternalMs <= 0 {
		c.UpdateMetaInternalMs = defaultUpdateMetaInternalMs
	}
	if c.UpdateMetaConcurrency <= 0 {
		c.UpdateMetaConcurrency = defaultUpdateMetaConcurrency
	}
	if c.UpdateMetaBufferLimit <= 0 {
		c.UpdateMetaBufferLimit = defaultUpdateMetaBufferLimit
	}
	if c.MaxMetaScanRestarts <= 0 {
		c.MaxMetaScanRestarts = defaultMaxMetaScanRestarts
	}
	if c.ThreadPoolMax <= 0 {
		c.ThreadPoolMax = defaultThreadPoolMax
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.WriteSendIntervalMs <= 0 {
		c.WriteSendIntervalMs = defaultWriteSendIntervalMs
	}
	if c.ReadSendIntervalMs <= 0 {
		c.ReadSendIntervalMs = defaultReadSendIntervalMs
	}
	if c.MaxRPCBytes <= 0 {
		c.MaxRPCBytes = defaultMaxRPCBytes
	}
	if c.MaxMutationPendingNum <= 0 {
		c.MaxMutationPendingNum = defaultMaxMutationPending
	}
	if c.MaxReaderPendingNum <= 0 {
		c.MaxReaderPendingNum = defaultMaxReaderPending
	}
	if c.TimeoutMs <= 0 {
		c.TimeoutMs = defaultTimeoutMs
	}
	if c.ScanBufferLimit <= 0 {
		c.ScanBufferLimit = defaultScanBufferLimit
	}
	if c.CookieUpdateIntervalS <= 0 {
		c.CookieUpdateIntervalS = defaultCookieUpdateS
	}
	if c.ShowMaxNum <= 0 {
		c.ShowMaxNum = defaultShowMaxNum
	}
}

func (c *Config) timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

func (c *Config) updateMetaInternal() time.Duration {
	return time.Duration(c.UpdateMetaInternalMs) * time.Millisecond
}
