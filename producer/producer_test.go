package producer

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/flowmesh/streamcore/core"
	"github.com/flowmesh/streamcore/future"
	"github.com/flowmesh/streamcore/transport"
	"github.com/flowmesh/streamcore/werror"
	"github.com/flowmesh/streamcore/workerpool"
)

type okValidator struct{}

func (okValidator) Validate(core.Metadata, core.Data) error { return nil }

type fixedSelector struct{ target core.PartitionTarget }

func (s fixedSelector) SetTargets([]core.PartitionTarget) {}
func (s fixedSelector) SelectTargetFor(core.Metadata) (core.PartitionTarget, error) {
	return s.target, nil
}

type jsonSerializer struct{}

func (jsonSerializer) Serialize(w io.Writer, metadata core.Metadata) error {
	return json.NewEncoder(w).Encode(metadata)
}

func (jsonSerializer) Deserialize(r io.Reader) (core.Metadata, error) {
	var m map[string]interface{}
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}

func newTestProducer(poolSize int, adaptive bool, batchSize int, lb *transport.Loopback) *Producer {
	target := core.PartitionTarget{Endpoint: "test", ProviderID: 0}
	return New(Config{
		TopicName:    "events",
		ProducerName: "p1",
		Pool:         workerpool.New(poolSize),
		Validator:    okValidator{},
		Selector:     fixedSelector{target: target},
		Serializer:   jsonSerializer{},
		Engine:       transport.MemEngine{},
		RPCFor:       func(core.PartitionTarget) transport.ProduceRPC { return lb },
		Adaptive:     adaptive,
		BatchSize:    batchSize,
	})
}

func mkData(raw string) core.Data {
	if raw == "" {
		return core.Data{}
	}
	buf := []byte(raw)
	return core.Data{Segments: []core.DataSegment{{Ptr: buf, Size: len(buf)}}}
}

func waitAll(t *testing.T, futures ...future.Future[core.EventID]) []core.EventID {
	t.Helper()
	ids := make([]core.EventID, len(futures))
	for i, f := range futures {
		id, err := f.Wait(context.Background())
		require.NoError(t, err)
		ids[i] = id
	}
	return ids
}

func TestProducerScenario1SyncPoolAdaptiveSingleFlush(t *testing.T) {
	t.Parallel()

	lb := transport.NewLoopback()
	p := newTestProducer(0, true, 0, lb)

	f := p.Push(map[string]string{"name": "alice"}, core.Data{})
	p.Flush()

	id, err := f.Wait(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 0, id)
}

func TestProducerScenario2MultiWorkerAdaptiveThreePushes(t *testing.T) {
	t.Parallel()

	lb := transport.NewLoopback()
	p := newTestProducer(2, true, 0, lb)

	f1 := p.Push(map[string]string{"name": "m1"}, mkData("abc"))
	f2 := p.Push(map[string]string{"name": "m2"}, mkData(""))
	f3 := p.Push(map[string]string{"name": "m3"}, mkData("xy"))

	p.Flush()

	ids := waitAll(t, f1, f2, f3)
	require.ElementsMatch(t, []core.EventID{0, 1, 2}, ids)
}

func TestProducerScenario3FixedBatchSizeFlushHook(t *testing.T) {
	t.Parallel()

	lb := transport.NewLoopback()
	p := newTestProducer(1, false, 2, lb)

	f1 := p.Push(map[string]string{"name": "e1"}, core.Data{})
	f2 := p.Push(map[string]string{"name": "e2"}, core.Data{})
	f3 := p.Push(map[string]string{"name": "e3"}, core.Data{})

	// e3's future resolves purely via its on-wait hook forcing a flush
	// of its still-open batch; no explicit Flush() call here.
	id3, err := f3.Wait(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 2, id3)

	id1, err := f1.Wait(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 0, id1)

	id2, err := f2.Wait(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, id2)
}

func TestProducerScenario4ServerReportedErrorFailsAllPromises(t *testing.T) {
	t.Parallel()

	lb := transport.NewLoopback()
	lb.FailNextSendBatchResult("partition unavailable")
	// Fixed batch size larger than the number of pushes so all four land
	// in the same still-open batch; the explicit Flush below is what
	// sends it as a single RPC.
	p := newTestProducer(1, false, 5, lb)

	f1 := p.Push(map[string]string{"name": "a"}, core.Data{})
	f2 := p.Push(map[string]string{"name": "b"}, core.Data{})
	f3 := p.Push(map[string]string{"name": "c"}, core.Data{})
	f4 := p.Push(map[string]string{"name": "d"}, core.Data{})

	p.Flush()

	_, err1 := f1.Wait(context.Background())
	_, err2 := f2.Wait(context.Background())
	_, err3 := f3.Wait(context.Background())
	_, err4 := f4.Wait(context.Background())

	for _, err := range []error{err1, err2, err3, err4} {
		require.Error(t, err)
		kind, ok := werror.KindOf(err)
		require.True(t, ok)
		require.Equal(t, werror.KindServerReported, kind)
	}
}

func TestProducerRetriesOnStreamRestartingError(t *testing.T) {
	t.Parallel()

	lb := transport.NewLoopback()
	lb.FailNextSendBatch(werror.ErrStreamRestarting)
	p := newTestProducer(1, true, 0, lb)

	f := p.Push(map[string]string{"name": "alice"}, core.Data{})
	p.Flush()

	// The first send_batch attempt hits a restarting stream and is
	// re-queued rather than failed; the retry succeeds against the
	// same loopback once failNext has been consumed.
	id, err := f.Wait(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 0, id)
}

func TestActiveBatchQueueRestartsAfterMaxLifetime(t *testing.T) {
	t.Parallel()

	lb := transport.NewLoopback()
	target := core.PartitionTarget{Endpoint: "test", ProviderID: 0}
	q := NewActiveBatchQueue("events", "p1", target, lb, transport.MemEngine{}, true, 0, 5*time.Millisecond, zap.NewNop(), nil)
	defer q.Stop()

	f1, p1 := future.New[core.EventID](nil)
	require.NoError(t, q.Push(map[string]string{"name": "a"}, jsonSerializer{}, core.Data{}, p1))
	id1, err := f1.Wait(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 0, id1)

	// Give the sender worker's jittered deadline time to expire and
	// restart while the FIFO is empty.
	time.Sleep(20 * time.Millisecond)

	f2, p2 := future.New[core.EventID](nil)
	require.NoError(t, q.Push(map[string]string{"name": "b"}, jsonSerializer{}, core.Data{}, p2))
	id2, err := f2.Wait(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, id2)
}

// reverseDelayValidator validates event i after a delay of (n-i)*2ms,
// which shrinks as i grows, so later pushes finish validation sooner than
// earlier ones: without OrderingStrict this would let later events
// reach the partition queue first.
type reverseDelayValidator struct{ n int }

func (v reverseDelayValidator) Validate(metadata core.Metadata, _ core.Data) error {
	i := metadata.(map[string]interface{})["i"].(int)
	time.Sleep(time.Duration(v.n-i) * 2 * time.Millisecond)
	return nil
}

func TestProducerStrictOrderingPreservesPushOrder(t *testing.T) {
	t.Parallel()

	lb := transport.NewLoopback()
	target := core.PartitionTarget{Endpoint: "test", ProviderID: 0}
	const n = 8
	p := New(Config{
		TopicName:    "events",
		ProducerName: "p1",
		Pool:         workerpool.New(4),
		Validator:    reverseDelayValidator{n: n},
		Selector:     fixedSelector{target: target},
		Serializer:   jsonSerializer{},
		Engine:       transport.MemEngine{},
		RPCFor:       func(core.PartitionTarget) transport.ProduceRPC { return lb },
		Adaptive:     true,
		Ordering:     OrderingStrict,
	})

	futures := make([]future.Future[core.EventID], n)
	for i := 0; i < n; i++ {
		futures[i] = p.Push(map[string]interface{}{"i": i}, core.Data{})
	}
	p.Flush()

	for i, f := range futures {
		id, err := f.Wait(context.Background())
		require.NoError(t, err)
		require.EqualValues(t, i, id, "strict ordering must preserve push order despite validate() finishing out of order")
	}
}

func TestProducerFlushWaitsForPostedUlts(t *testing.T) {
	t.Parallel()

	lb := transport.NewLoopback()
	p := newTestProducer(4, true, 0, lb)

	futures := make([]future.Future[core.EventID], 0, 20)
	for i := 0; i < 20; i++ {
		futures = append(futures, p.Push(map[string]int{"i": i}, core.Data{}))
	}
	p.Flush()

	ids := waitAll(t, futures...)
	require.Len(t, ids, 20)
}
