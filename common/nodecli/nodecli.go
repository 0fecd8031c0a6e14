// Package nodecli is the shared tablet-node transport used by the sdk and
// the master.
package nodecli

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	"github.com/zmyer/tera/metrics"
	"github.com/zmyer/tera/proto"
)

// The wire messages are plain structs, so the connections run a json codec
// instead of generated protobuf stubs.
const codecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                               { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// Client is the rpc surface of one tablet server.
type Client interface {
	WriteTablet(ctx context.Context, req *proto.WriteTabletRequest) (*proto.WriteTabletResponse, error)
	ReadTablet(ctx context.Context, req *proto.ReadTabletRequest) (*proto.ReadTabletResponse, error)
	ScanTablet(ctx context.Context, req *proto.ScanTabletRequest) (*proto.ScanTabletResponse, error)
	Query(ctx context.Context, req *proto.QueryRequest) (*proto.QueryResponse, error)
	LoadTablet(ctx context.Context, req *proto.LoadTabletRequest) (*proto.LoadTabletResponse, error)
	UnloadTablet(ctx context.Context, req *proto.UnloadTabletRequest) (*proto.UnloadTabletResponse, error)
	SplitTablet(ctx context.Context, req *proto.SplitTabletRequest) (*proto.SplitTabletResponse, error)
}

// Conns hands out per-address clients over pooled connections.
type Conns interface {
	GetClient(addr string) (Client, error)
	Close()
}

type grpcConns struct {
	conns map[string]*grpc.ClientConn
	lock  sync.Mutex
}

// NewConns builds the grpc-backed connection pool.
func NewConns() Conns {
	return &grpcConns{conns: make(map[string]*grpc.ClientConn)}
}

func (g *grpcConns) GetClient(addr string) (Client, error) {
	g.lock.Lock()
	defer g.lock.Unlock()
	if conn, ok := g.conns[addr]; ok {
		return &grpcClient{conn: conn}, nil
	}

	dialOpts := []grpc.DialOption{
		grpc.WithDefaultCallOptions(
			grpc.MaxCallSendMsgSize(math.MaxInt32),
			grpc.MaxCallRecvMsgSize(math.MaxInt32),
			grpc.CallContentSubtype(codecName),
		),
		grpc.WithKeepaliveParams(
			keepalive.ClientParameters{
				Time:                1 * time.Second,
				Timeout:             5 * time.Second,
				PermitWithoutStream: true,
			},
		),
		grpc.WithUnaryInterceptor(metrics.GRPCClientMetrics.UnaryClientInterceptor()),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}

	conn, err := grpc.Dial(addr, dialOpts...)
	if err != nil {
		return nil, err
	}
	g.conns[addr] = conn
	return &grpcClient{conn: conn}, nil
}

func (g *grpcConns) Close() {
	g.lock.Lock()
	defer g.lock.Unlock()
	for _, conn := range g.conns {
		conn.Close()
	}
	g.conns = make(map[string]*grpc.ClientConn)
}

type grpcClient struct {
	conn *grpc.ClientConn
}

func (c *grpcClient) WriteTablet(ctx context.Context, req *proto.WriteTabletRequest) (*proto.WriteTabletResponse, error) {
	resp := &proto.WriteTabletResponse{}
	return resp, c.conn.Invoke(ctx, "/tera.TabletNode/WriteTablet", req, resp)
}

func (c *grpcClient) ReadTablet(ctx context.Context, req *proto.ReadTabletRequest) (*proto.ReadTabletResponse, error) {
	resp := &proto.ReadTabletResponse{}
	return resp, c.conn.Invoke(ctx, "/tera.TabletNode/ReadTablet", req, resp)
}

func (c *grpcClient) ScanTablet(ctx context.Context, req *proto.ScanTabletRequest) (*proto.ScanTabletResponse, error) {
	resp := &proto.ScanTabletResponse{}
	return resp, c.conn.Invoke(ctx, "/tera.TabletNode/ScanTablet", req, resp)
}

func (c *grpcClient) Query(ctx context.Context, req *proto.QueryRequest) (*proto.QueryResponse, error) {
	resp := &proto.QueryResponse{}
	return resp, c.conn.Invoke(ctx, "/tera.TabletNode/Query", req, resp)
}

func (c *grpcClient) LoadTablet(ctx context.Context, req *proto.LoadTabletRequest) (*proto.LoadTabletResponse, error) {
	resp := &proto.LoadTabletResponse{}
	return resp, c.conn.Invoke(ctx, "/tera.TabletNode/LoadTablet", req, resp)
}

func (c *grpcClient) UnloadTablet(ctx context.Context, req *proto.UnloadTabletRequest) (*proto.UnloadTabletResponse, error) {
	resp := &proto.UnloadTabletResponse{}
	return resp, c.conn.Invoke(ctx, "/tera.TabletNode/UnloadTablet", req, resp)
}

func (c *grpcClient) SplitTablet(ctx context.Context, req *proto.SplitTabletRequest) (*proto.SplitTabletResponse, error) {
	resp := &proto.SplitTabletResponse{}
	return resp, c.conn.Invoke(ctx, "/tera.TabletNode/SplitTablet", req, resp)
}

// RPCStatus folds a transport error into the wire status taxonomy.
func RPCStatus(err error) proto.StatusCode {
	if err == nil {
		return proto.StatusTabletNodeOk
	}
	switch status.Code(err) {
	case codes.Unavailable:
		return proto.StatusConnectError
	case codes.DeadlineExceeded:
		return proto.StatusRPCTimeout
	case codes.Canceled, codes.ResourceExhausted:
		return proto.StatusClientError
	case codes.Unimplemented, codes.Internal:
		return proto.StatusServerError
	default:
		return proto.StatusRPCError
	}
}
