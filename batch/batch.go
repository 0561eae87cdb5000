// Package batch implements the packed, bulk-exposable container that
// accumulates (metadata, data-segments, promise) triples for one
// partition's active batch queue, and the exact wire layout both sides
// of the send_batch RPC agree on.
//
// The layout is a flat scatter-gather view over four control arrays
// followed by the raw data bytes, grounded on the teacher's
// netstats-style byte accounting and the framing conventions of
// otelarrowexporter's bulk producer path:
//
//	meta_sizes    (count u64 little-endian values)
//	meta_buffer   (concatenated serialized metadata blobs)
//	data_offsets  (count u64 little-endian values)
//	data_sizes    (count u64 little-endian values)
//	data_segments (concatenated raw data bytes, event order)
package batch

import (
	"bytes"
	"encoding/binary"

	"github.com/flowmesh/streamcore/core"
	"github.com/flowmesh/streamcore/future"
	"github.com/flowmesh/streamcore/plugin"
	"github.com/flowmesh/streamcore/transport"
	"github.com/flowmesh/streamcore/werror"
)

// Batch is a packed, append-only record of events awaiting a send_batch
// RPC. It is not safe for concurrent use; callers (the active batch
// queue) serialize access under their own mutex.
type Batch struct {
	metaSizes   []uint64
	metaBuffer  bytes.Buffer
	dataOffsets []uint64
	dataSizes   []uint64
	segments    [][]byte
	promises    []future.Promise[core.EventID]

	totalDataSize uint64
	terminal      bool
}

// New creates an empty batch.
func New() *Batch {
	return &Batch{}
}

// Count returns the number of events pushed so far.
func (b *Batch) Count() int {
	return len(b.metaSizes)
}

// TotalDataSize returns the sum of all data sizes pushed so far.
func (b *Batch) TotalDataSize() uint64 {
	return b.totalDataSize
}

// Push serializes metadata with the given serializer, records the data
// segment descriptors without copying their bytes, and takes ownership
// of promise. Buffer growth is geometric because it rides Go's native
// append doubling, so no separate growth bookkeeping is needed here.
func (b *Batch) Push(metadata core.Metadata, serializer plugin.Serializer, data core.Data, promise future.Promise[core.EventID]) error {
	before := b.metaBuffer.Len()
	if err := serializer.Serialize(&b.metaBuffer, metadata); err != nil {
		return err
	}
	b.metaSizes = append(b.metaSizes, uint64(b.metaBuffer.Len()-before))

	b.dataOffsets = append(b.dataOffsets, b.totalDataSize)
	var size uint64
	for _, seg := range data.Segments {
		if seg.Size == 0 {
			continue
		}
		b.segments = append(b.segments, seg.Ptr[:seg.Size])
		size += uint64(seg.Size)
	}
	b.dataSizes = append(b.dataSizes, size)
	b.totalDataSize += size

	b.promises = append(b.promises, promise)
	return nil
}

// DataOffset returns the byte offset within the exposed view at which
// the raw data region begins (spec P2): 8*count + len(meta_buffer).
func (b *Batch) DataOffset() uint64 {
	return uint64(len(b.metaSizes))*8 + uint64(b.metaBuffer.Len())
}

func u64le(v uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return buf
}

func u64sliceLE(vs []uint64) []byte {
	buf := make([]byte, 8*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint64(buf[i*8:], v)
	}
	return buf
}

// Expose builds the scatter-gather view described in the package
// comment and registers it with engine as a read-only bulk handle. An
// empty batch returns a nil handle without touching the engine (B2).
func (b *Batch) Expose(engine transport.Engine) (transport.BulkHandle, error) {
	if b.Count() == 0 {
		return nil, nil
	}

	segs := make([]transport.Segment, 0, 4+len(b.segments))
	segs = append(segs,
		transport.Segment{Bytes: u64sliceLE(b.metaSizes)},
		transport.Segment{Bytes: b.metaBuffer.Bytes()},
		transport.Segment{Bytes: u64sliceLE(b.dataOffsets)},
		transport.Segment{Bytes: u64sliceLE(b.dataSizes)},
	)
	for _, s := range b.segments {
		if len(s) == 0 {
			continue
		}
		segs = append(segs, transport.Segment{Bytes: s})
	}

	return engine.Expose(segs)
}

// SetPromises fulfills every promise accumulated so far with
// consecutive EventIDs starting at firstID, in push order. A batch may
// be terminated (via SetPromises or SetPromisesErr) at most once.
func (b *Batch) SetPromises(firstID core.EventID) {
	if b.terminal {
		panic("batch: promises already resolved")
	}
	b.terminal = true
	for i, p := range b.promises {
		p.SetValue(firstID + core.EventID(i))
	}
}

// SetPromisesErr fails every promise accumulated so far with the same
// framed error. A batch may be terminated at most once.
func (b *Batch) SetPromisesErr(err error) {
	if b.terminal {
		panic("batch: promises already resolved")
	}
	b.terminal = true
	wrapped := werror.Wrap(err)
	for _, p := range b.promises {
		p.SetException(wrapped)
	}
}
