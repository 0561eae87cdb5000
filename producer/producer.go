package producer

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/flowmesh/streamcore/core"
	"github.com/flowmesh/streamcore/future"
	"github.com/flowmesh/streamcore/netstats"
	"github.com/flowmesh/streamcore/plugin"
	"github.com/flowmesh/streamcore/transport"
	"github.com/flowmesh/streamcore/werror"
	"github.com/flowmesh/streamcore/workerpool"
)

// Ordering selects whether the validate->select->route work a
// multi-worker Pool runs concurrently must still land in each
// partition's queue in push-call order, or may be reordered for
// throughput. This is the Go-idiomatic equivalent of the
// Ordering::Strict/Ordering::Loose parameter the original producer
// constructor takes (mofka's tests/EventProducerTest.cpp); Loose is
// the zero value and matches this package's original, unordered
// behavior.
type Ordering int

const (
	// OrderingLoose lets concurrent validate/select work complete and
	// enqueue in whatever order finishes first.
	OrderingLoose Ordering = iota
	// OrderingStrict serializes each push's validate, select and
	// enqueue steps so they happen in the same order Push was called,
	// even when Pool has multiple workers.
	OrderingStrict
)

// Config bundles the collaborators a Producer routes through, per §6's
// "collaborator interfaces" and §9's partition-to-queue mapping.
type Config struct {
	TopicName    string
	ProducerName string

	Pool       *workerpool.Pool
	Validator  plugin.Validator
	Selector   plugin.TargetSelector
	Serializer plugin.Serializer
	Engine     transport.Engine

	// RPCFor resolves the ProduceRPC collaborator for a given partition
	// target, so different partitions can be reached through different
	// endpoints over the same transport.
	RPCFor func(core.PartitionTarget) transport.ProduceRPC

	// Adaptive selects the batching policy: true lets the sender worker
	// coalesce opportunistically, false caps each batch at BatchSize and
	// relies on the Future on-wait hook to avoid livelock (§4.4).
	Adaptive  bool
	BatchSize int

	// Ordering controls whether multi-worker validate/select/route work
	// must preserve push-call order into the partition queue. Defaults
	// to OrderingLoose.
	Ordering Ordering

	// MaxQueueLifetime, if positive, periodically restarts each
	// partition's sender worker once its FIFO has drained, jittered to
	// avoid synchronized mass-reconnects across many partitions. Zero
	// disables periodic restart (the default).
	MaxQueueLifetime time.Duration

	Logger      *zap.Logger
	NetReporter netstats.Interface
}

// Producer is the per-topic entry point: it validates, selects a
// partition, and routes each event to that partition's ActiveBatchQueue.
type Producer struct {
	cfg Config

	queuesMu sync.Mutex
	queues   map[core.PartitionTarget]*ActiveBatchQueue

	ultsMu     sync.Mutex
	ultsCond   *sync.Cond
	postedUlts int

	// orderMu/orderCond/nextTurn/pushSeq back the OrderingStrict
	// turnstile: pushSeq hands out each Push call's place in line;
	// nextTurn is whichever place may enqueue next.
	orderMu   sync.Mutex
	orderCond *sync.Cond
	nextTurn  int64
	pushSeq   int64
}

// New creates a Producer. Partition targets come from cfg.Selector at
// push time; queues are created on first push to a given target.
func New(cfg Config) *Producer {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.NetReporter == nil {
		cfg.NetReporter = netstats.Noop{}
	}
	p := &Producer{
		cfg:    cfg,
		queues: make(map[core.PartitionTarget]*ActiveBatchQueue),
	}
	p.ultsCond = sync.NewCond(&p.ultsMu)
	p.orderCond = sync.NewCond(&p.orderMu)
	return p
}

// Push validates and routes one event, returning a Future that
// resolves with the server-assigned EventID or a framed error. The
// validation and routing work runs on the configured worker pool,
// per §4.5.
func (p *Producer) Push(metadata core.Metadata, data core.Data) future.Future[core.EventID] {
	var onWait func()
	if !p.cfg.Adaptive {
		onWait = p.Flush
	}
	f, promise := future.New[core.EventID](onWait)

	p.ultsMu.Lock()
	p.postedUlts++
	p.ultsMu.Unlock()

	var turn int64 = -1
	if p.cfg.Ordering == OrderingStrict {
		p.orderMu.Lock()
		turn = p.pushSeq
		p.pushSeq++
		p.orderMu.Unlock()
	}

	p.cfg.Pool.Submit(func() {
		defer func() {
			p.ultsMu.Lock()
			p.postedUlts--
			if p.postedUlts == 0 {
				p.ultsCond.Broadcast()
			}
			p.ultsMu.Unlock()
		}()

		if turn >= 0 {
			p.waitTurn(turn)
			defer p.advanceTurn()
		}

		if err := p.cfg.Validator.Validate(metadata, data); err != nil {
			promise.SetException(werror.NewValidationError(err))
			return
		}

		target, err := p.cfg.Selector.SelectTargetFor(metadata)
		if err != nil {
			promise.SetException(werror.NewPartitionSelectionError(err))
			return
		}

		queue := p.queueFor(target)
		if err := queue.Push(metadata, p.cfg.Serializer, data, promise); err != nil {
			promise.SetException(werror.Wrap(err))
		}
	})

	return f
}

// waitTurn blocks until turn is next in push order; advanceTurn lets
// the following one proceed. Together they serialize only the
// validate->select->route critical section across concurrent workers,
// so OrderingStrict trades away the concurrency a multi-worker Pool
// would otherwise give that section for a guarantee that each push
// lands in its partition queue in the order Push was called.
func (p *Producer) waitTurn(turn int64) {
	p.orderMu.Lock()
	for p.nextTurn != turn {
		p.orderCond.Wait()
	}
	p.orderMu.Unlock()
}

func (p *Producer) advanceTurn() {
	p.orderMu.Lock()
	p.nextTurn++
	p.orderCond.Broadcast()
	p.orderMu.Unlock()
}

func (p *Producer) queueFor(target core.PartitionTarget) *ActiveBatchQueue {
	p.queuesMu.Lock()
	defer p.queuesMu.Unlock()

	q, ok := p.queues[target]
	if !ok {
		q = NewActiveBatchQueue(p.cfg.TopicName, p.cfg.ProducerName, target, p.cfg.RPCFor(target), p.cfg.Engine, p.cfg.Adaptive, p.cfg.BatchSize, p.cfg.MaxQueueLifetime, p.cfg.Logger, p.cfg.NetReporter)
		p.queues[target] = q
	}
	return q
}

func (p *Producer) snapshotQueues() []*ActiveBatchQueue {
	p.queuesMu.Lock()
	defer p.queuesMu.Unlock()

	queues := make([]*ActiveBatchQueue, 0, len(p.queues))
	for _, q := range p.queues {
		queues = append(queues, q)
	}
	return queues
}

// Flush waits until every task submitted before this call has deposited
// its event into some ActiveBatchQueue, then asks every queue to flush
// (P5). It does not wait for the flushes to land; callers observe that
// by waiting on the promises they hold.
func (p *Producer) Flush() {
	p.ultsMu.Lock()
	for p.postedUlts > 0 {
		p.ultsCond.Wait()
	}
	p.ultsMu.Unlock()

	for _, q := range p.snapshotQueues() {
		q.Flush()
	}
}

// Close flushes every queue and then stops each one, joining its sender
// worker. It is the destructor-implies-flush-and-stop behavior of §4.5
// and §4.4.
func (p *Producer) Close() {
	p.Flush()
	for _, q := range p.snapshotQueues() {
		q.Stop()
	}
}
