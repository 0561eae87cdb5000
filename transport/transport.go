// Package transport declares the one-sided bulk-transfer and RPC
// interfaces this module treats as external collaborators (spec §1,
// §6): the wire schema and the network library backing them are out of
// scope. The interfaces are shaped after the teacher's
// AnyStreamClient/StreamClientFunc abstraction (otelarrowexporter's
// exporter.go) — the core depends only on "a bidirectional stream of
// batches" and "a registerable read-only memory view," never on
// generated protobuf types, so it can sit in front of a real gRPC
// transport without forcing a concrete schema on it.
package transport

import (
	"context"

	"github.com/google/uuid"

	"github.com/flowmesh/streamcore/core"
)

// Segment is one contiguous region contributed to a bulk handle.
type Segment struct {
	Bytes []byte
}

// BulkHandle is a transport-registered, remotely readable view over one
// or more contiguous memory regions. A nil BulkHandle ("null handle")
// represents an empty batch's exposure (spec B2).
type BulkHandle interface {
	// Len returns the total number of bytes across all segments.
	Len() int
	// ReadAt reads into dst starting at byte offset off within the
	// logical concatenation of the exposed segments.
	ReadAt(dst []byte, off int64) (int, error)
}

// Engine exposes a set of segments as a single bulk handle, the
// `engine.expose(segments, mode) -> bulk` collaborator of spec §6.
// A networked Engine is expected to register the segments for zero-copy
// remote reads; the in-process MemEngine copies them into one buffer.
type Engine interface {
	Expose(segments []Segment) (BulkHandle, error)
}

// SendBatchArgs carries the send_batch RPC's arguments (spec §6).
type SendBatchArgs struct {
	TopicName     string
	ProducerName  string
	Count         uint64
	TotalDataSize uint64
	DataOffset    uint64
	Bulk          BulkHandle
}

// SendBatchResult carries the first EventID in an accepted batch, or a
// server-reported failure message (Result<EventID> in spec §6).
type SendBatchResult struct {
	Success bool
	FirstID core.EventID
	Message string
}

// ProduceRPC is the produce-path collaborator: the send_batch RPC
// issued to a partition's endpoint.
type ProduceRPC interface {
	SendBatch(ctx context.Context, args SendBatchArgs) (SendBatchResult, error)
}

// BulkRef is a reference into a remote bulk handle: (handle, offset,
// size), per spec §6's recv_batch callback arguments.
type BulkRef struct {
	Handle BulkHandle
	Offset uint64
	Size   uint64
}

// RecvBatchArgs carries one recv_batch callback's arguments.
type RecvBatchArgs struct {
	TargetIndex   int
	Count         uint64
	StartID       core.EventID
	MetaSizes     BulkRef
	MetaBuffer    BulkRef
	DataDescSizes BulkRef
	DataDesc      BulkRef
}

// RecvBatchHandler is implemented by a consumer's pull worker to accept
// recv_batch callbacks streamed back by the server.
type RecvBatchHandler interface {
	RecvBatch(args RecvBatchArgs)
}

// RequestEventsArgs carries the request_events RPC's arguments.
type RequestEventsArgs struct {
	TopicName     string
	ConsumerUUID  uuid.UUID
	ConsumerName  string
	TargetIndex   int
	MaxItems      uint64
	BatchSizeHint uint64
}

// ConsumeRPC is the consume-path collaborator: the long-lived
// request_events RPC and the remove_consumer RPC that unblocks it.
type ConsumeRPC interface {
	// RequestEvents blocks, delivering recv_batch callbacks to handler,
	// until the server acknowledges the request (normally triggered by
	// RemoveConsumer) or ctx is done.
	RequestEvents(ctx context.Context, args RequestEventsArgs, handler RecvBatchHandler) error
	RemoveConsumer(ctx context.Context, consumerUUID uuid.UUID) error
}
