package consumer

import (
	"bytes"
	"context"
	"encoding/binary"

	"go.uber.org/zap"

	"github.com/flowmesh/streamcore/core"
	"github.com/flowmesh/streamcore/netstats"
	"github.com/flowmesh/streamcore/plugin"
	"github.com/flowmesh/streamcore/transport"
)

// recvHandler adapts one partition's long-lived request_events RPC to
// the Consumer it feeds. TargetIndex identifies which of the Consumer's
// pull workers this callback belongs to.
type recvHandler struct {
	consumer    *Consumer
	targetIndex int
}

// RecvBatch implements transport.RecvBatchHandler: it bulk-pulls the
// control arrays, then schedules one ordered deserialize task per
// event, keyed by EventID so the pool honors EventID order where it
// can (§4.6).
func (h *recvHandler) RecvBatch(args transport.RecvBatchArgs) {
	h.consumer.handleRecvBatch(h.targetIndex, args)
}

func readBulk(ref transport.BulkRef) []byte {
	if ref.Handle == nil || ref.Size == 0 {
		return nil
	}
	buf := make([]byte, ref.Size)
	_, _ = ref.Handle.ReadAt(buf, int64(ref.Offset))
	return buf
}

func readU64Array(ref transport.BulkRef) []uint64 {
	raw := readBulk(ref)
	out := make([]uint64, len(raw)/8)
	for i := range out {
		out[i] = binary.LittleEndian.Uint64(raw[i*8:])
	}
	return out
}

func (c *Consumer) handleRecvBatch(targetIndex int, args transport.RecvBatchArgs) {
	metaSizes := readU64Array(args.MetaSizes)
	metaBuffer := readBulk(args.MetaBuffer)
	descSizes := readU64Array(args.DataDescSizes)
	descBuffer := readBulk(args.DataDesc)

	c.cfg.NetReporter.CountReceive(context.Background(), netstats.SizesStruct{
		Method: "request_events",
		Items:  int64(args.Count),
		Length: int64(len(metaBuffer)),
	})

	metaOffset, descOffset := 0, 0
	metaChunks := make([][]byte, args.Count)
	descChunks := make([][]byte, args.Count)
	for i := uint64(0); i < args.Count; i++ {
		msz := int(metaSizes[i])
		metaChunks[i] = metaBuffer[metaOffset : metaOffset+msz]
		metaOffset += msz

		dsz := int(descSizes[i])
		descChunks[i] = descBuffer[descOffset : descOffset+dsz]
		descOffset += dsz
	}

	done := make(chan struct{}, args.Count)
	for i := uint64(0); i < args.Count; i++ {
		i := i
		id := args.StartID + core.EventID(i)
		metaChunk, descChunk := metaChunks[i], descChunks[i]
		c.cfg.Pool.SubmitOrdered(func() {
			defer func() { done <- struct{}{} }()
			c.deserializeAndDeliver(targetIndex, id, metaChunk, descChunk)
		}, int64(id))
	}
	for i := uint64(0); i < args.Count; i++ {
		<-done
	}
}

func (c *Consumer) deserializeAndDeliver(targetIndex int, id core.EventID, metaBytes, descBytes []byte) {
	metadata, err := c.cfg.Serializer.Deserialize(bytes.NewReader(metaBytes))
	if err != nil {
		c.cfg.Logger.Debug("failed to deserialize event metadata",
			zap.Int("target_index", targetIndex), zap.Uint64("event_id", uint64(id)), zap.Error(err))
		c.queue.Deliver(core.Event{}, err)
		return
	}

	// Deserializing the data descriptor is a plain step, not part of
	// the selector/broker extension point below: every event's
	// descriptor bytes are decoded regardless of whether a DataBroker
	// is configured to act on them.
	desc, err := plugin.DecodeDataDescriptor(descBytes)
	if err != nil {
		c.cfg.Logger.Debug("failed to deserialize data descriptor",
			zap.Int("target_index", targetIndex), zap.Uint64("event_id", uint64(id)), zap.Error(err))
		c.queue.Deliver(core.Event{}, err)
		return
	}

	data := c.resolveData(desc)
	c.queue.Deliver(core.Event{ID: id, Metadata: metadata, Data: data}, nil)
}

// resolveData is the consume-side data-provisioning extension point
// (§4.6, §9's open question): a DataSelector narrows the already
// deserialized descriptor, and a DataBroker allocates the memory the
// transport would pull bytes into. The core does not require it to
// actually move bytes; this wires the collaborators without
// prescribing the bulk-pull mechanics.
func (c *Consumer) resolveData(desc plugin.DataDescriptor) core.Data {
	if c.cfg.DataBroker == nil {
		return core.Data{}
	}
	if c.cfg.DataSelector != nil {
		selected, err := c.cfg.DataSelector.Select(desc)
		if err != nil {
			return core.Data{}
		}
		desc = selected
	}

	segments := make([]core.DataSegment, 0, len(desc.Locations))
	for _, loc := range desc.Locations {
		buf, err := c.cfg.DataBroker.Allocate(int(loc.Size))
		if err != nil {
			continue
		}
		segments = append(segments, core.DataSegment{Ptr: buf, Size: len(buf)})
	}
	return core.Data{Segments: segments}
}
