package consumer

import (
	"sync"

	"github.com/flowmesh/streamcore/core"
	"github.com/flowmesh/streamcore/future"
)

// eventQueue is the symmetric-credit future/promise queue of §4.6: a
// deque of (promise, future) pairs plus a userCredit flag. At any
// moment every pair in the deque belongs to the same regime, either
// pending pull() callers (userCredit true) or pending arrived events
// (userCredit false) (P6).
type eventQueue struct {
	mu         sync.Mutex
	pairs      []pair
	userCredit bool
}

type pair struct {
	promise future.Promise[core.Event]
	future  future.Future[core.Event]
}

func newEventQueue() *eventQueue {
	return &eventQueue{}
}

// Pull implements the user-facing pull() operation.
func (q *eventQueue) Pull() future.Future[core.Event] {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.userCredit || len(q.pairs) == 0 {
		f, p := future.New[core.Event](nil)
		q.pairs = append(q.pairs, pair{promise: p, future: f})
		q.userCredit = true
		return f
	}

	front := q.pairs[0]
	q.pairs = q.pairs[1:]
	if len(q.pairs) == 0 {
		q.userCredit = false
	}
	return front.future
}

// Deliver is the arrival side: ev, err is the result of deserializing
// one event (or failing to). Exactly one of them should be used; err
// takes priority when non-nil.
func (q *eventQueue) Deliver(ev core.Event, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.userCredit || len(q.pairs) == 0 {
		f, p := future.New[core.Event](nil)
		q.pairs = append(q.pairs, pair{promise: p, future: f})
		q.userCredit = false
		fulfill(p, ev, err)
		return
	}

	front := q.pairs[0]
	q.pairs = q.pairs[1:]
	if len(q.pairs) == 0 {
		q.userCredit = true
	}
	fulfill(front.promise, ev, err)
}

func fulfill(p future.Promise[core.Event], ev core.Event, err error) {
	if err != nil {
		p.SetException(err)
		return
	}
	p.SetValue(ev)
}
