// Package producer implements the producer-side pipeline: one
// ActiveBatchQueue per partition target, and the Producer façade that
// validates, selects, and routes events into the right queue.
//
// The sender worker's wait/wake/drain loop is grounded on file.d's
// Batcher (free/full batch channels gated by a sync.Cond) and on
// otelarrowexporter's stream controller, which never lets a send
// failure escape anywhere but the per-item completion channel. The
// optional periodic sender-worker restart is grounded on the same
// exporter's runArrowStream/addJitter pair (exporter.go): a
// MaxQueueLifetime, jittered by subtracting 0-5%, avoids many
// partitions' sender workers cycling in lockstep.
package producer

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/flowmesh/streamcore/batch"
	"github.com/flowmesh/streamcore/core"
	"github.com/flowmesh/streamcore/future"
	"github.com/flowmesh/streamcore/netstats"
	"github.com/flowmesh/streamcore/plugin"
	"github.com/flowmesh/streamcore/transport"
	"github.com/flowmesh/streamcore/werror"
)

// addJitter subtracts 0-5% from v, the same one-sided jitter the
// teacher's exporter applies to its max stream lifetime: since the
// value is usually chosen close to some peer-side limit, jitter should
// never push past it, only shorten it.
func addJitter(v time.Duration) time.Duration {
	if v <= 0 {
		return 0
	}
	return v - time.Duration(rand.Int63n(int64(v)/20+1))
}

// ActiveBatchQueue owns one partition's FIFO of open/sealed batches and
// the sender worker draining it. Created lazily by a Producer on first
// push to a given target.
type ActiveBatchQueue struct {
	topicName    string
	producerName string
	target       core.PartitionTarget

	rpc    transport.ProduceRPC
	engine transport.Engine

	adaptive  bool
	batchSize int

	maxLifetime time.Duration

	logger      *zap.Logger
	netReporter netstats.Interface

	mu           sync.Mutex
	cond         *sync.Cond
	fifo         []*batch.Batch
	needStop     bool
	requestFlush bool
	deadline     time.Time

	done chan struct{}
}

// NewActiveBatchQueue creates a queue and starts its sender worker.
func NewActiveBatchQueue(
	topicName, producerName string,
	target core.PartitionTarget,
	rpc transport.ProduceRPC,
	engine transport.Engine,
	adaptive bool,
	batchSize int,
	maxLifetime time.Duration,
	logger *zap.Logger,
	netReporter netstats.Interface,
) *ActiveBatchQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	if netReporter == nil {
		netReporter = netstats.Noop{}
	}
	q := &ActiveBatchQueue{
		topicName:    topicName,
		producerName: producerName,
		target:       target,
		rpc:          rpc,
		engine:       engine,
		adaptive:     adaptive,
		batchSize:    batchSize,
		maxLifetime:  maxLifetime,
		logger:       logger.With(zap.String("partition", target.String())),
		netReporter:  netReporter,
		done:         make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

// Push appends one event to the queue's tail batch, per the push
// protocol in §4.4: a non-adaptive queue whose tail is already at
// batch_size is sealed first and a fresh tail is opened.
func (q *ActiveBatchQueue) Push(metadata core.Metadata, serializer plugin.Serializer, data core.Data, promise future.Promise[core.EventID]) error {
	q.mu.Lock()
	if len(q.fifo) == 0 {
		q.fifo = append(q.fifo, batch.New())
	}
	tail := q.fifo[len(q.fifo)-1]

	justSealed := false
	if !q.adaptive && q.batchSize > 0 && tail.Count() >= q.batchSize {
		tail = batch.New()
		q.fifo = append(q.fifo, tail)
		justSealed = true
	}

	err := tail.Push(metadata, serializer, data, promise)
	needNotify := q.adaptive || justSealed
	q.mu.Unlock()

	if needNotify {
		q.cond.Signal()
	}
	return err
}

// Flush requests that the sender worker drain the FIFO as soon as
// possible. It returns immediately; callers observe completion by
// waiting on the promises they hold.
func (q *ActiveBatchQueue) Flush() {
	q.mu.Lock()
	q.requestFlush = true
	q.mu.Unlock()
	q.cond.Signal()
}

// Stop requests the sender worker drain the FIFO and exit, then blocks
// until it has.
func (q *ActiveBatchQueue) Stop() {
	q.mu.Lock()
	q.needStop = true
	q.mu.Unlock()
	q.cond.Signal()
	<-q.done
}

// wakeCondition reports whether the sender worker should stop waiting,
// per §4.4's sender worker loop, plus (NEW) an expired restart
// deadline once the FIFO has drained. Caller must hold q.mu.
func (q *ActiveBatchQueue) wakeCondition() bool {
	if q.needStop || q.requestFlush {
		return true
	}
	if len(q.fifo) == 0 {
		return !q.deadline.IsZero() && !time.Now().Before(q.deadline)
	}
	return q.adaptive || q.fifo[0].Count() >= q.batchSize
}

// run drives the sender worker for the queue's lifetime, restarting it
// with a jittered MaxQueueLifetime (if configured) the way the
// teacher's runArrowStream cycles a new Stream after maxStreamLifetime,
// so many partitions' restarts don't land in lockstep. A restart never
// drops a batch: it only fires once the FIFO is empty.
func (q *ActiveBatchQueue) run() {
	for !q.runOnce() {
		q.logger.Debug("active batch queue sender restarting after max lifetime")
	}
	close(q.done)
}

// runOnce runs the sender loop until it stops (returns true) or its
// jittered lifetime expires with an empty FIFO (returns false, and the
// caller starts a fresh cycle).
func (q *ActiveBatchQueue) runOnce() bool {
	q.mu.Lock()
	if q.maxLifetime > 0 {
		q.deadline = time.Now().Add(addJitter(q.maxLifetime))
	}
	var wake *time.Timer
	if !q.deadline.IsZero() {
		wake = time.AfterFunc(time.Until(q.deadline), q.cond.Broadcast)
		defer wake.Stop()
	}

	for {
		for !q.wakeCondition() {
			q.cond.Wait()
		}

		if len(q.fifo) == 0 {
			q.requestFlush = false
			if q.needStop {
				q.mu.Unlock()
				return true
			}
			if !q.deadline.IsZero() && !time.Now().Before(q.deadline) {
				q.deadline = time.Time{}
				q.mu.Unlock()
				return false
			}
			continue
		}

		head := q.fifo[0]
		q.fifo = q.fifo[1:]
		q.mu.Unlock()

		retry := q.sendBatch(head)

		q.mu.Lock()
		q.requestFlush = false
		if retry {
			// werror.ErrStreamRestarting: the peer is cycling its
			// stream, not rejecting the batch, so re-queue it at the
			// head exactly as the teacher's exporter retries a send
			// against the next stream instead of failing the caller.
			q.fifo = append([]*batch.Batch{head}, q.fifo...)
		}
	}
}

// sendBatch exposes and ships one batch. It never propagates its own
// failure: every error path is delivered through the batch's promises,
// except werror.ErrStreamRestarting, which reports true so the caller
// re-queues the batch for the next attempt instead of failing it.
func (q *ActiveBatchQueue) sendBatch(b *batch.Batch) (retry bool) {
	handle, err := b.Expose(q.engine)
	if err != nil {
		b.SetPromisesErr(werror.NewTransportExposureError(err))
		return false
	}
	if handle == nil {
		// B2: an empty batch issues no RPC. There are no promises to
		// fulfill because an empty batch has no events.
		return false
	}

	ctx := context.Background()
	q.netReporter.CountSend(ctx, netstats.SizesStruct{
		Method: "send_batch",
		Items:  int64(b.Count()),
		Length: int64(b.TotalDataSize()),
	})

	result, err := q.rpc.SendBatch(ctx, transport.SendBatchArgs{
		TopicName:     q.topicName,
		ProducerName:  q.producerName,
		Count:         uint64(b.Count()),
		TotalDataSize: b.TotalDataSize(),
		DataOffset:    b.DataOffset(),
		Bulk:          handle,
	})
	if err != nil {
		if errors.Is(err, werror.ErrStreamRestarting) {
			q.logger.Debug("send_batch RPC hit a restarting stream, retrying")
			return true
		}
		q.logger.Debug("send_batch RPC failed", zap.Error(err))
		b.SetPromisesErr(werror.NewRPCError(err))
		return false
	}
	if !result.Success {
		b.SetPromisesErr(werror.NewServerReportedError(result.Message))
		return false
	}
	b.SetPromises(result.FirstID)
	return false
}
