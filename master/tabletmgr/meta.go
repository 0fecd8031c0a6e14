package tabletmgr

import (
	"context"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	"github.com/zmyer/tera/common/nodecli"
	"github.com/zmyer/tera/errors"
	"github.com/zmyer/tera/proto"
	"github.com/zmyer/tera/registry"
)

// MetaRecord is one meta-table mutation of a durability batch.
type MetaRecord struct {
	Delete bool
	Key    string
	Value  []byte
}

func putRecord(key string, value []byte) MetaRecord {
	return MetaRecord{Key: key, Value: value}
}

func delRecord(key string) MetaRecord {
	return MetaRecord{Delete: true, Key: key}
}

// MetaWriter persists meta-table rows. Every catalog change writes through
// it before the in-memory state is considered committed.
type MetaWriter interface {
	// Write applies the batch atomically on the meta tablet.
	Write(ctx context.Context, records []MetaRecord) error
	// ScanAll walks every meta row, for restore and dump.
	ScanAll(ctx context.Context, fn func(key string, value []byte) error) error
}

const metaWriteRetry = 3

// nodeMetaWriter writes the meta table through the tablet node serving it,
// resolved from the registry.
type nodeMetaWriter struct {
	conns nodecli.Conns
	reg   registry.Adapter
	seq   func() proto.SequenceID
}

// NewMetaWriter builds the node-backed meta writer.
func NewMetaWriter(conns nodecli.Conns, reg registry.Adapter, seq func() proto.SequenceID) MetaWriter {
	return &nodeMetaWriter{conns: conns, reg: reg, seq: seq}
}

func (w *nodeMetaWriter) Write(ctx context.Context, records []MetaRecord) error {
	span := trace.SpanFromContextSafe(ctx)

	req := &proto.WriteTabletRequest{
		SequenceID:  w.seq(),
		TabletName:  proto.MetaTableName,
		IsSync:      true,
		TimestampUs: time.Now().UnixMicro(),
	}
	for _, rec := range records {
		mut := proto.Mutation{Type: proto.MutationPut, Value: rec.Value}
		if rec.Delete {
			mut = proto.Mutation{Type: proto.MutationDeleteRow}
		}
		req.RowList = append(req.RowList, proto.RowMutationSequence{
			RowKey:    rec.Key,
			Mutations: []proto.Mutation{mut},
		})
	}

	var lastStatus proto.StatusCode
	force := false
	for i := 0; i < metaWriteRetry; i++ {
		addr, err := w.reg.RootTabletAddress(ctx, force)
		if err != nil || addr == "" {
			force = true
			continue
		}
		client, err := w.conns.GetClient(addr)
		if err != nil {
			force = true
			continue
		}
		resp, err := client.WriteTablet(ctx, req)
		lastStatus = nodecli.RPCStatus(err)
		if err == nil {
			lastStatus = resp.Status
		}
		if lastStatus == proto.StatusTabletNodeOk || lastStatus == proto.StatusOk {
			for _, rs := range resp.RowStatusList {
				if rs != proto.StatusOk && rs != proto.StatusTabletNodeOk {
					return errors.New(errors.System, "meta row write fail: %s", rs)
				}
			}
			return nil
		}
		span.Warnf("write meta table fail: %s, attempt %d", lastStatus, i+1)
		force = true
	}
	return errors.New(errors.System, "write meta table fail: %s", lastStatus)
}

func (w *nodeMetaWriter) ScanAll(ctx context.Context, fn func(key string, value []byte) error) error {
	addr, err := w.reg.RootTabletAddress(ctx, true)
	if err != nil {
		return err
	}
	client, err := w.conns.GetClient(addr)
	if err != nil {
		return err
	}

	start := ""
	for {
		resp, err := client.ScanTablet(ctx, &proto.ScanTabletRequest{
			SequenceID: w.seq(),
			TableName:  proto.MetaTableName,
			Start:      start,
			End:        "",
		})
		if err != nil {
			return err
		}
		if resp.Status != proto.StatusTabletNodeOk && resp.Status != proto.StatusOk {
			return errors.FromStatus(resp.Status)
		}
		for i := range resp.Results.KeyValues {
			kv := &resp.Results.KeyValues[i]
			if err := fn(kv.Key, kv.Value); err != nil {
				return err
			}
		}
		if resp.Complete || len(resp.Results.KeyValues) == 0 {
			return nil
		}
		start = proto.NextKey(resp.Results.KeyValues[len(resp.Results.KeyValues)-1].Key)
	}
}
