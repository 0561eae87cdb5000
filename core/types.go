// Package core holds the data model shared by the producer and consumer
// pipelines: events, event identifiers, metadata/data handles, and
// partition targets.
package core

import "fmt"

// EventID is a monotonically increasing identifier assigned by the
// server upon batch acceptance. Strictly increasing per (topic,
// partition).
type EventID uint64

// Metadata is an opaque, immutable structured blob. The core never
// interprets its contents; a Serializer turns it into bytes for the
// wire and back.
type Metadata interface{}

// DataSegment describes a contiguous region of user memory contributed
// to an event's Data. The producer never copies the bytes, only this
// descriptor; the memory must stay valid until the owning Future
// resolves.
type DataSegment struct {
	Ptr  []byte
	Size int
}

// Data is an unordered list of segments. Size returns the sum of all
// segment sizes.
type Data struct {
	Segments []DataSegment
}

// Size returns the total byte size of all segments.
func (d Data) Size() int {
	var n int
	for _, s := range d.Segments {
		n += s.Size
	}
	return n
}

// Event is the fully constructed unit handed to a Consumer caller.
type Event struct {
	ID       EventID
	Metadata Metadata
	Data     Data
}

// PartitionTarget identifies a remote endpoint and the provider id of
// the partition it hosts, per spec §9 "Partition -> queue map".
type PartitionTarget struct {
	Endpoint   string
	ProviderID int32
}

func (p PartitionTarget) String() string {
	return fmt.Sprintf("%s/%d", p.Endpoint, p.ProviderID)
}
