package client

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zmyer/tera/proto"
	"github.com/zmyer/tera/registry"
)

// A scan walks both tablets and stitches their rows together in order.
func TestScanAcrossTablets(t *testing.T) {
	conns := newFakeConns()
	regClient := registry.NewMemClient()
	registry.SetNode(regClient, registry.RootTabletNode, "root:7001")

	conns.node("root:7001").scan = func(req *proto.ScanTabletRequest) *proto.ScanTabletResponse {
		if req.TableName != proto.MetaTableName {
			return &proto.ScanTabletResponse{Status: proto.StatusKeyNotInRange}
		}
		return &proto.ScanTabletResponse{
			Status:   proto.StatusTabletNodeOk,
			Complete: true,
			Results: proto.RowResult{KeyValues: []proto.KeyValuePair{
				metaRow(t, "t1", "", "m", "s1:7002"),
				metaRow(t, "t1", "m", "", "s2:7003"),
			}},
		}
	}

	serve := func(rows ...string) func(req *proto.ScanTabletRequest) *proto.ScanTabletResponse {
		return func(req *proto.ScanTabletRequest) *proto.ScanTabletResponse {
			resp := &proto.ScanTabletResponse{Status: proto.StatusTabletNodeOk, Complete: true}
			for _, row := range rows {
				if row < req.Start {
					continue
				}
				if req.End != "" && row >= req.End {
					continue
				}
				resp.Results.KeyValues = append(resp.Results.KeyValues, proto.KeyValuePair{
					Key: row, Value: []byte("v-" + row),
				})
			}
			return resp
		}
	}
	conns.node("s1:7002").scan = serve("a", "c", "e")
	conns.node("s2:7003").scan = serve("m", "q")

	table := testTable(t, conns, regClient, nil)

	stream := table.Scan(&ScanDescriptor{Start: "", End: ""})
	var got []string
	for kv := stream.Next(); kv != nil; kv = stream.Next() {
		got = append(got, kv.Key)
	}
	require.Nil(t, stream.Err())
	require.Equal(t, []string{"a", "c", "e", "m", "q"}, got)
}
