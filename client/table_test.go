package client

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zmyer/tera/common/nodecli"
	"github.com/zmyer/tera/errors"
	"github.com/zmyer/tera/proto"
	"github.com/zmyer/tera/registry"
)

// fakeNode scripts one tablet server's responses.
type fakeNode struct {
	write func(req *proto.WriteTabletRequest) *proto.WriteTabletResponse
	read  func(req *proto.ReadTabletRequest) *proto.ReadTabletResponse
	scan  func(req *proto.ScanTabletRequest) *proto.ScanTabletResponse
}

func (f *fakeNode) WriteTablet(ctx context.Context, req *proto.WriteTabletRequest) (*proto.WriteTabletResponse, error) {
	if f.write == nil {
		return &proto.WriteTabletResponse{Status: proto.StatusServerError}, nil
	}
	return f.write(req), nil
}

func (f *fakeNode) ReadTablet(ctx context.Context, req *proto.ReadTabletRequest) (*proto.ReadTabletResponse, error) {
	if f.read == nil {
		return &proto.ReadTabletResponse{Status: proto.StatusServerError}, nil
	}
	return f.read(req), nil
}

func (f *fakeNode) ScanTablet(ctx context.Context, req *proto.ScanTabletRequest) (*proto.ScanTabletResponse, error) {
	if f.scan == nil {
		return &proto.ScanTabletResponse{Status: proto.StatusServerError}, nil
	}
	return f.scan(req), nil
}

func (f *fakeNode) Query(ctx context.Context, req *proto.QueryRequest) (*proto.QueryResponse, error) {
	return &proto.QueryResponse{Status: proto.StatusTabletNodeOk}, nil
}

func (f *fakeNode) LoadTablet(ctx context.Context, req *proto.LoadTabletRequest) (*proto.LoadTabletResponse, error) {
	return &proto.LoadTabletResponse{Status: proto.StatusTabletNodeOk}, nil
}

func (f *fakeNode) UnloadTablet(ctx context.Context, req *proto.UnloadTabletRequest) (*proto.UnloadTabletResponse, error) {
	return &proto.UnloadTabletResponse{Status: proto.StatusTabletNodeOk}, nil
}

func (f *fakeNode) SplitTablet(ctx context.Context, req *proto.SplitTabletRequest) (*proto.SplitTabletResponse, error) {
	return &proto.SplitTabletResponse{Status: proto.StatusTabletNodeOk}, nil
}

type fakeConns struct {
	nodes map[string]*fakeNode
	lock  sync.Mutex
}

func newFakeConns() *fakeConns {
	return &fakeConns{nodes: make(map[string]*fakeNode)}
}

func (f *fakeConns) node(addr string) *fakeNode {
	f.lock.Lock()
	defer f.lock.Unlock()
	if n, ok := f.nodes[addr]; ok {
		return n
	}
	n := &fakeNode{}
	f.nodes[addr] = n
	return n
}

func (f *fakeConns) GetClient(addr string) (nodecli.Client, error) {
	return f.node(addr), nil
}

func (f *fakeConns) Close() {}

func metaRow(t *testing.T, table, start, end, addr string) proto.KeyValuePair {
	t.Helper()
	key, value, err := proto.EncodeTabletMeta(&proto.TabletMeta{
		TableName:  table,
		KeyRange:   proto.KeyRange{Start: start, End: end},
		Path:       proto.TabletPathFromNo(1),
		ServerAddr: addr,
		Status:     proto.TabletReady,
	})
	require.NoError(t, err)
	return proto.KeyValuePair{Key: key, Value: value}
}

func testTable(t *testing.T, conns nodecli.Conns, regClient registry.Client, tune func(*Config)) *Table {
	cfg := &Config{
		Masters:              []string{"http://127.0.0.1:0"},
		TimeoutMs:            5000,
		UpdateMetaInternalMs: 20,
		WriteSendIntervalMs:  10,
		ReadSendIntervalMs:   10,
	}
	cfg.withDefaults()
	if tune != nil {
		tune(cfg)
	}
	table := openTable("t1", time.Now().UnixMilli(), cfg, conns, registry.NewAdapter(regClient))
	t.Cleanup(table.Close)
	return table
}

// Route-and-retry: an empty cache discovers [a,inf)@s1, the first commit is
// answered KeyNotInRange, the refreshed meta splits the range, and the
// redistribution commits successfully.
func TestRouteAndRetry(t *testing.T) {
	conns := newFakeConns()
	regClient := registry.NewMemClient()
	registry.SetNode(regClient, registry.RootTabletNode, "root:7001")

	var scanCalls int32
	conns.node("root:7001").scan = func(req *proto.ScanTabletRequest) *proto.ScanTabletResponse {
		resp := &proto.ScanTabletResponse{Status: proto.StatusTabletNodeOk, Complete: true}
		if atomic.AddInt32(&scanCalls, 1) == 1 {
			resp.Results.KeyValues = []proto.KeyValuePair{
				metaRow(t, "t1", "a", "", "s1:7002"),
			}
		} else {
			resp.Results.KeyValues = []proto.KeyValuePair{
				metaRow(t, "t1", "a", "n", "s1:7002"),
				metaRow(t, "t1", "n", "", "s2:7003"),
			}
		}
		return resp
	}

	var s1Writes int32
	conns.node("s1:7002").write = func(req *proto.WriteTabletRequest) *proto.WriteTabletResponse {
		resp := &proto.WriteTabletResponse{Status: proto.StatusTabletNodeOk}
		if atomic.AddInt32(&s1Writes, 1) == 1 {
			for range req.RowList {
				resp.RowStatusList = append(resp.RowStatusList, proto.StatusKeyNotInRange)
			}
		} else {
			for range req.RowList {
				resp.RowStatusList = append(resp.RowStatusList, proto.StatusOk)
			}
		}
		return resp
	}

	table := testTable(t, conns, regClient, nil)

	mu := NewRowMutation("m")
	mu.Put("cf", "q", []byte("1"))
	table.ApplyMutation(mu)

	require.Nil(t, mu.Err())
	require.Equal(t, 2, mu.CommitTimes())
	require.Equal(t, 1, mu.RetryTimes())
	require.EqualValues(t, 2, atomic.LoadInt32(&scanCalls))
}

// Deadline: with the scanner unreachable no rpc ever completes; the sync get
// observes Timeout with zero commits and retries.
func TestDeadline(t *testing.T) {
	conns := newFakeConns()
	regClient := registry.NewMemClient() // no root tablet registered

	table := testTable(t, conns, regClient, nil)

	reader := NewRowReader("k")
	reader.SetTimeout(50)
	start := time.Now()
	table.ApplyReader(reader)

	err := reader.Err()
	require.NotNil(t, err)
	require.Equal(t, errors.Timeout, err.Code)
	require.Equal(t, 0, reader.CommitTimes())
	require.Equal(t, 0, reader.RetryTimes())
	require.Less(t, time.Since(start), 3*time.Second)
}

// Flow control: one pending slot, fail-fast async mode; the second put is
// refused with Busy immediately.
func TestFlowControlBusy(t *testing.T) {
	conns := newFakeConns()
	regClient := registry.NewMemClient()

	table := testTable(t, conns, regClient, func(cfg *Config) {
		cfg.MaxMutationPendingNum = 1
		cfg.AsyncBlockingEnabled = false
	})

	firstDone := make(chan struct{})
	first := NewRowMutation("a")
	first.Put("cf", "q", []byte("1"))
	first.SetCallback(func(*RowMutation) { close(firstDone) })

	secondDone := make(chan *errors.Error, 1)
	second := NewRowMutation("b")
	second.Put("cf", "q", []byte("2"))
	second.SetCallback(func(mu *RowMutation) { secondDone <- mu.Err() })

	table.ApplyMutations([]*RowMutation{first, second})

	select {
	case err := <-secondDone:
		require.NotNil(t, err)
		require.Equal(t, errors.Busy, err.Code)
	case <-time.After(time.Second):
		t.Fatal("second put was not refused")
	}
	select {
	case <-firstDone:
		t.Fatal("first put should still be pending on meta")
	default:
	}
}

// A batched async read completes through the same routed path.
func TestBatchedRead(t *testing.T) {
	conns := newFakeConns()
	regClient := registry.NewMemClient()
	registry.SetNode(regClient, registry.RootTabletNode, "root:7001")

	conns.node("root:7001").scan = func(req *proto.ScanTabletRequest) *proto.ScanTabletResponse {
		return &proto.ScanTabletResponse{
			Status:   proto.StatusTabletNodeOk,
			Complete: true,
			Results: proto.RowResult{KeyValues: []proto.KeyValuePair{
				metaRow(t, "t1", "", "", "s1:7002"),
			}},
		}
	}
	conns.node("s1:7002").read = func(req *proto.ReadTabletRequest) *proto.ReadTabletResponse {
		resp := &proto.ReadTabletResponse{Status: proto.StatusTabletNodeOk}
		for _, info := range req.RowInfoList {
			if info.Key == "missing" {
				resp.DetailStatus = append(resp.DetailStatus, proto.StatusKeyNotExist)
				continue
			}
			resp.DetailStatus = append(resp.DetailStatus, proto.StatusOk)
			resp.RowResults = append(resp.RowResults, proto.RowResult{
				KeyValues: []proto.KeyValuePair{{Key: info.Key, Value: []byte("v-" + info.Key)}},
			})
		}
		return resp
	}

	table := testTable(t, conns, regClient, nil)

	value, err := table.Get("k1", "", "")
	require.Nil(t, err)
	require.Equal(t, []byte("v-k1"), value)

	_, err = table.Get("missing", "", "")
	require.NotNil(t, err)
	require.Equal(t, errors.NotFound, err.Code)
}

// Meta partial: a scan claiming complete while its ranges stop short of the
// requested end is flagged stale and retried; the pending task is not failed
// by the scanner, only by its own deadline.
func TestMetaPartialScanRetries(t *testing.T) {
	conns := newFakeConns()
	regClient := registry.NewMemClient()
	registry.SetNode(regClient, registry.RootTabletNode, "root:7001")

	var scanCalls int32
	conns.node("root:7001").scan = func(req *proto.ScanTabletRequest) *proto.ScanTabletResponse {
		atomic.AddInt32(&scanCalls, 1)
		// always stops at "m", never covering the requested row
		return &proto.ScanTabletResponse{
			Status:   proto.StatusTabletNodeOk,
			Complete: true,
			Results: proto.RowResult{KeyValues: []proto.KeyValuePair{
				metaRow(t, "t1", "a", "m", "s1:7002"),
			}},
		}
	}

	table := testTable(t, conns, regClient, nil)

	mu := NewRowMutation("x")
	mu.Put("cf", "q", []byte("1"))
	mu.SetTimeout(300)
	done := make(chan struct{})
	mu.SetCallback(func(*RowMutation) { close(done) })
	table.ApplyMutation(mu)

	time.Sleep(150 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("pending task failed by the scanner")
	default:
	}
	require.Greater(t, atomic.LoadInt32(&scanCalls), int32(2), "stale scan was not retried")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("deadline did not fire")
	}
	err := mu.Err()
	require.NotNil(t, err)
	require.Equal(t, errors.Timeout, err.Code)
	require.Equal(t, 0, mu.CommitTimes())
}

// Transport faults stay inside the retry envelope and eventually fail with
// System carrying the last status.
func TestRetryExhaustion(t *testing.T) {
	conns := newFakeConns()
	regClient := registry.NewMemClient()
	registry.SetNode(regClient, registry.RootTabletNode, "root:7001")

	conns.node("root:7001").scan = func(req *proto.ScanTabletRequest) *proto.ScanTabletResponse {
		return &proto.ScanTabletResponse{
			Status:   proto.StatusTabletNodeOk,
			Complete: true,
			Results: proto.RowResult{KeyValues: []proto.KeyValuePair{
				metaRow(t, "t1", "", "", "s1:7002"),
			}},
		}
	}
	conns.node("s1:7002").write = func(req *proto.WriteTabletRequest) *proto.WriteTabletResponse {
		return &proto.WriteTabletResponse{Status: proto.StatusServerError}
	}

	table := testTable(t, conns, regClient, func(cfg *Config) {
		cfg.RetryTimes = 2
		cfg.RetryPeriodMs = 1
	})

	mu := NewRowMutation("m")
	mu.Put("cf", "q", []byte("1"))
	table.ApplyMutation(mu)

	err := mu.Err()
	require.NotNil(t, err)
	require.Equal(t, errors.System, err.Code)
	require.Equal(t, 3, mu.CommitTimes())
	require.Equal(t, 3, mu.RetryTimes())
}
