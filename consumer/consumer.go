// Package consumer implements the consume-side pipeline: one pull
// worker per partition target issuing a long-lived request_events RPC,
// ordered per-event deserialize tasks, and the symmetric-credit
// future/promise queue that hands events to the user.
//
// The pull-worker/inFlight-drain shape is grounded on the teacher's
// otelarrowreceiver Receiver (internal/arrow/arrow.go), which runs one
// receive loop per incoming stream and tracks completion with a
// WaitGroup rather than blocking callers on the stream itself.
package consumer

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/flowmesh/streamcore/core"
	"github.com/flowmesh/streamcore/future"
	"github.com/flowmesh/streamcore/netstats"
	"github.com/flowmesh/streamcore/plugin"
	"github.com/flowmesh/streamcore/transport"
	"github.com/flowmesh/streamcore/workerpool"
)

// Config bundles a Consumer's collaborators, per §4.6.
type Config struct {
	TopicName    string
	ConsumerName string
	Targets      []core.PartitionTarget

	Pool       *workerpool.Pool
	Serializer plugin.Serializer

	// DataSelector and DataBroker are the consume-path data
	// provisioning extension point; both may be nil (§9's open
	// question).
	DataSelector plugin.DataSelector
	DataBroker   plugin.DataBroker

	RPCFor func(core.PartitionTarget) transport.ConsumeRPC

	MaxItems      uint64
	BatchSizeHint uint64

	Logger      *zap.Logger
	NetReporter netstats.Interface
}

// Consumer pulls events from a fixed set of partition targets and
// delivers them through a single future/promise queue shared across
// all of them.
type Consumer struct {
	cfg          Config
	consumerUUID uuid.UUID

	queue *eventQueue

	rpcs []transport.ConsumeRPC
	done []chan struct{}
}

// New constructs a Consumer and launches one pull worker per target.
func New(cfg Config) *Consumer {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.NetReporter == nil {
		cfg.NetReporter = netstats.Noop{}
	}

	c := &Consumer{
		cfg:          cfg,
		consumerUUID: uuid.New(),
		queue:        newEventQueue(),
		rpcs:         make([]transport.ConsumeRPC, len(cfg.Targets)),
		done:         make([]chan struct{}, len(cfg.Targets)),
	}

	for i, target := range cfg.Targets {
		rpc := cfg.RPCFor(target)
		c.rpcs[i] = rpc
		done := make(chan struct{})
		c.done[i] = done
		go c.runPullWorker(i, target, rpc, done)
	}

	return c
}

func (c *Consumer) runPullWorker(index int, target core.PartitionTarget, rpc transport.ConsumeRPC, done chan struct{}) {
	defer close(done)

	handler := &recvHandler{consumer: c, targetIndex: index}
	err := rpc.RequestEvents(context.Background(), transport.RequestEventsArgs{
		TopicName:     c.cfg.TopicName,
		ConsumerUUID:  c.consumerUUID,
		ConsumerName:  c.cfg.ConsumerName,
		TargetIndex:   index,
		MaxItems:      c.cfg.MaxItems,
		BatchSizeHint: c.cfg.BatchSizeHint,
	}, handler)
	if err != nil {
		c.cfg.Logger.Debug("pull worker returned",
			zap.String("partition", target.String()), zap.Error(err))
	}
}

// Pull returns a Future resolving with the next Event available across
// all of this Consumer's partitions, per the symmetric credit protocol
// of §4.6.
func (c *Consumer) Pull() future.Future[core.Event] {
	return c.queue.Pull()
}

// Join sends remove_consumer to every partition target, unblocking
// each outstanding request_events RPC, then waits for every pull
// worker to finish. Errors from individual remove_consumer calls are
// aggregated, not fatal to draining the others.
func (c *Consumer) Join(ctx context.Context) error {
	var errs error
	for _, rpc := range c.rpcs {
		if err := rpc.RemoveConsumer(ctx, c.consumerUUID); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	for _, done := range c.done {
		<-done
	}
	return errs
}
