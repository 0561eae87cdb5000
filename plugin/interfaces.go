// Package plugin declares the collaborator interfaces this module
// treats as external (validator, partition selector, metadata
// serializer, and the consume-side data broker/selector pair), plus the
// explicit registration tables spec §9 calls for in place of the
// teacher's global factory registries.
package plugin

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/flowmesh/streamcore/core"
)

// Validator checks an event before it is admitted to a partition queue.
type Validator interface {
	Validate(metadata core.Metadata, data core.Data) error
}

// TargetSelector maps an event's metadata to one of a topic's known
// partition targets.
type TargetSelector interface {
	SetTargets(targets []core.PartitionTarget)
	SelectTargetFor(metadata core.Metadata) (core.PartitionTarget, error)
}

// Serializer turns Metadata into bytes for the wire and back. Round-trip
// fidelity (R1: Deserialize(Serialize(m)) == m) is the serializer's
// contract, not the core's.
type Serializer interface {
	Serialize(w io.Writer, metadata core.Metadata) error
	Deserialize(r io.Reader) (core.Metadata, error)
}

// DataDescriptor is the consume-side, deserialized description of
// where an event's data lives in whatever storage backend holds it: an
// ordered list of (offset, size) locations, mirroring the location
// token mofka's own DataDescriptor wraps (MemoryTopicManager's
// OffsetSize). The core never interprets what offset/size mean to a
// given backend; deserializing the raw bytes into this shape is the
// mandatory step spec.md §4.6 lists before the DataSelector/DataBroker
// stage, which stays a stubbed extension point (spec's Open Question).
type DataDescriptor struct {
	Locations []DataLocation
}

// DataLocation is one region of an event's data within the storage
// backend, as the backend itself chose to describe it.
type DataLocation struct {
	Offset uint64
	Size   uint64
}

// locationWireSize is the encoded width of one DataLocation: two
// little-endian uint64s.
const locationWireSize = 16

// DecodeDataDescriptor deserializes the bytes recv_batch carries in
// data_desc_buffer[...] into a DataDescriptor. This is the plain,
// non-stubbed deserialize step of spec.md §4.6 — distinct from, and
// always performed ahead of, the selector/broker/bulk-pull extension
// point.
func DecodeDataDescriptor(raw []byte) (DataDescriptor, error) {
	if len(raw)%locationWireSize != 0 {
		return DataDescriptor{}, fmt.Errorf("plugin: data descriptor is %d bytes, not a multiple of %d", len(raw), locationWireSize)
	}
	locations := make([]DataLocation, len(raw)/locationWireSize)
	for i := range locations {
		off := i * locationWireSize
		locations[i] = DataLocation{
			Offset: binary.LittleEndian.Uint64(raw[off:]),
			Size:   binary.LittleEndian.Uint64(raw[off+8:]),
		}
	}
	return DataDescriptor{Locations: locations}, nil
}

// EncodeDataDescriptor is the inverse of DecodeDataDescriptor. A
// storage backend (or, in this repo, transport.Loopback's in-process
// stand-in for one) uses it to produce the data_desc_buffer bytes
// recv_batch streams back to consumers.
func EncodeDataDescriptor(desc DataDescriptor) []byte {
	out := make([]byte, len(desc.Locations)*locationWireSize)
	for i, loc := range desc.Locations {
		off := i * locationWireSize
		binary.LittleEndian.PutUint64(out[off:], loc.Offset)
		binary.LittleEndian.PutUint64(out[off+8:], loc.Size)
	}
	return out
}

// DataSelector decides, from a descriptor alone, which of an event's
// data locations the consumer actually wants pulled. The core's
// consume path treats this as a stubbed extension point (spec's Open
// Question); a nil DataSelector means "take everything."
type DataSelector interface {
	Select(desc DataDescriptor) (DataDescriptor, error)
}

// DataBroker allocates consumer-side memory for the locations a
// DataSelector chose, so the transport has somewhere to pull bytes into.
type DataBroker interface {
	Allocate(size int) ([]byte, error)
}
