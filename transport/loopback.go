package transport

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/flowmesh/streamcore/core"
	"github.com/flowmesh/streamcore/plugin"
)

// memHandle is an in-process BulkHandle: just the concatenated bytes.
// Real deployments register segments with a zero-copy RDMA-style
// engine; for tests and local development this is a faithful stand-in
// that still exercises the same Engine/BulkHandle contract.
type memHandle struct {
	buf []byte
}

func (h *memHandle) Len() int { return len(h.buf) }

func (h *memHandle) ReadAt(dst []byte, off int64) (int, error) {
	if off < 0 || int(off) > len(h.buf) {
		return 0, fmt.Errorf("transport: offset %d out of range [0,%d]", off, len(h.buf))
	}
	n := copy(dst, h.buf[off:])
	return n, nil
}

// MemEngine is an in-process Engine that copies segments into one
// buffer. Intended for tests and single-process deployments.
type MemEngine struct{}

// Expose concatenates segments into a single in-memory BulkHandle. An
// empty segment list returns a nil handle (spec B2).
func (MemEngine) Expose(segments []Segment) (BulkHandle, error) {
	var total int
	for _, s := range segments {
		total += len(s.Bytes)
	}
	if total == 0 {
		return nil, nil
	}
	var buf bytes.Buffer
	buf.Grow(total)
	for _, s := range segments {
		buf.Write(s.Bytes)
	}
	return &memHandle{buf: buf.Bytes()}, nil
}

// Loopback is an in-process stand-in for a partition endpoint: it
// accepts send_batch RPCs, assigns strictly increasing EventIDs per
// partition, and fans batches out to request_events subscribers as
// recv_batch callbacks. It implements both ProduceRPC and ConsumeRPC.
type Loopback struct {
	mu                sync.Mutex
	nextID            core.EventID
	subs              map[uuid.UUID]*subscription
	failNext          error  // if set, the next SendBatch fails with this error
	failNextResultMsg string // if failNextResult is set, the next SendBatch reports server failure with this message
	failNextResult    bool

	// dataStoreOffset stands in for the pluggable topic-storage backend
	// spec.md §1 puts out of scope: it is the running cursor Loopback
	// hands out as each event's DataLocation.Offset, the same role
	// mofka's MemoryTopicManager plays when it assigns an OffsetSize
	// into its own in-memory store.
	dataStoreOffset uint64
}

type subscription struct {
	items chan recvItem
	close chan struct{}
}

type recvItem struct {
	args RecvBatchArgs
	done chan struct{}
}

// NewLoopback creates an empty loopback partition server.
func NewLoopback() *Loopback {
	return &Loopback{
		subs: make(map[uuid.UUID]*subscription),
	}
}

// FailNextSendBatch makes the next SendBatch call return err, exercising
// the RPC error path.
func (l *Loopback) FailNextSendBatch(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failNext = err
}

// FailNextSendBatchResult makes the next SendBatch call succeed at the
// RPC layer but report a non-success Result, exercising the
// ServerReported error path.
func (l *Loopback) FailNextSendBatchResult(message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failNextResultMsg = message
	l.failNextResult = true
}

// SendBatch implements ProduceRPC.
func (l *Loopback) SendBatch(_ context.Context, args SendBatchArgs) (SendBatchResult, error) {
	l.mu.Lock()
	if l.failNext != nil {
		err := l.failNext
		l.failNext = nil
		l.mu.Unlock()
		return SendBatchResult{}, err
	}
	if l.failNextResult {
		msg := l.failNextResultMsg
		l.failNextResult = false
		l.failNextResultMsg = ""
		l.mu.Unlock()
		return SendBatchResult{Success: false, Message: msg}, nil
	}
	first := l.nextID
	l.nextID += core.EventID(args.Count)
	l.mu.Unlock()

	if args.Bulk != nil {
		l.deliver(args, first)
	}

	return SendBatchResult{Success: true, FirstID: first}, nil
}

func (l *Loopback) deliver(args SendBatchArgs, first core.EventID) {
	l.mu.Lock()
	targets := make([]*subscription, 0, len(l.subs))
	for _, sub := range l.subs {
		targets = append(targets, sub)
	}
	l.mu.Unlock()

	if len(targets) == 0 {
		return
	}

	buf := make([]byte, args.Bulk.Len())
	_, _ = args.Bulk.ReadAt(buf, 0)

	metaSizesLen := int(args.Count) * 8
	metaBuf := buf[metaSizesLen:args.DataOffset]
	metaSizesBuf := buf[:metaSizesLen]

	dataOffsetsLen := int(args.Count) * 8
	dataSizesBuf := buf[int(args.DataOffset)+dataOffsetsLen : int(args.DataOffset)+2*dataOffsetsLen]

	metaHandle := &memHandle{buf: metaBuf}
	metaSizesHandle := &memHandle{buf: metaSizesBuf}

	descSizesBuf, descBuf := l.synthesizeDataDescriptors(args.Count, dataSizesBuf)
	descSizesHandle := &memHandle{buf: descSizesBuf}
	descHandle := &memHandle{buf: descBuf}

	for _, sub := range targets {
		item := recvItem{
			args: RecvBatchArgs{
				Count:         args.Count,
				StartID:       first,
				MetaSizes:     BulkRef{Handle: metaSizesHandle, Size: uint64(len(metaSizesBuf))},
				MetaBuffer:    BulkRef{Handle: metaHandle, Size: uint64(len(metaBuf))},
				DataDescSizes: BulkRef{Handle: descSizesHandle, Size: uint64(len(descSizesBuf))},
				DataDesc:      BulkRef{Handle: descHandle, Size: uint64(len(descBuf))},
			},
			done: make(chan struct{}),
		}
		sub.items <- item
		<-item.done
	}
}

// synthesizeDataDescriptors plays the part spec.md §1 leaves to a
// pluggable topic-storage backend: producing one DataDescriptor per
// event describing where its data lives in storage. Loopback has no
// real store, so it synthesizes each location as an (offset, size)
// pair against a monotonically growing counter, mirroring mofka's
// MemoryTopicManager::OffsetSize over its own in-memory store. This
// exists so consumer/recv.go's mandatory descriptor-deserialization
// step has genuine bytes to decode; the selector/broker/bulk-pull
// extension point (spec.md §4.6's "Future extension") still has
// nowhere to pull real data from, and stays unimplemented. It does not
// persist the event's actual data bytes, only accounts for their size,
// since nothing in this repo reads a location back yet.
func (l *Loopback) synthesizeDataDescriptors(count uint64, dataSizesBuf []byte) (sizesBuf, descBuf []byte) {
	sizesBuf = make([]byte, count*8)
	var descs bytes.Buffer
	for i := uint64(0); i < count; i++ {
		size := binary.LittleEndian.Uint64(dataSizesBuf[i*8:])

		l.mu.Lock()
		offset := l.dataStoreOffset
		l.dataStoreOffset += size
		l.mu.Unlock()

		encoded := plugin.EncodeDataDescriptor(plugin.DataDescriptor{
			Locations: []plugin.DataLocation{{Offset: offset, Size: size}},
		})
		binary.LittleEndian.PutUint64(sizesBuf[i*8:], uint64(len(encoded)))
		descs.Write(encoded)
	}
	return sizesBuf, descs.Bytes()
}

// RequestEvents implements ConsumeRPC: it blocks delivering recv_batch
// callbacks to handler until RemoveConsumer is called for consumerUUID
// or ctx is done.
func (l *Loopback) RequestEvents(ctx context.Context, args RequestEventsArgs, handler RecvBatchHandler) error {
	sub := &subscription{
		items: make(chan recvItem, 8),
		close: make(chan struct{}),
	}
	l.mu.Lock()
	l.subs[args.ConsumerUUID] = sub
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.subs, args.ConsumerUUID)
		l.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sub.close:
			return nil
		case item := <-sub.items:
			item.args.TargetIndex = args.TargetIndex
			handler.RecvBatch(item.args)
			close(item.done)
		}
	}
}

// RemoveConsumer implements ConsumeRPC.
func (l *Loopback) RemoveConsumer(_ context.Context, consumerUUID uuid.UUID) error {
	l.mu.Lock()
	sub, ok := l.subs[consumerUUID]
	l.mu.Unlock()
	if ok {
		close(sub.close)
	}
	return nil
}
