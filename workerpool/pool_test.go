package workerpool

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestZeroSizeRunsSynchronously(t *testing.T) {
	t.Parallel()

	p := New(0)
	var ran bool
	p.Submit(func() { ran = true })
	require.True(t, ran, "task must have run before Submit returned")
}

func TestZeroSizeOrderedRunsSynchronously(t *testing.T) {
	t.Parallel()

	p := New(0)
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		p.SubmitOrdered(func() { order = append(order, i) }, int64(i))
	}
	require.Equal(t, []int{0, 1, 2}, order)
}

func TestSubmitOrderedDispatchesSmallerKeysFirst(t *testing.T) {
	t.Parallel()

	p := New(1) // single worker: execution order is deterministic
	var mu sync.Mutex
	var order []int64

	// Use a barrier so all tasks are enqueued before the lone worker
	// starts draining; otherwise the worker could race ahead and drain
	// entries one at a time before later (smaller-key) ones are queued.
	var started sync.WaitGroup
	started.Add(1)
	block := make(chan struct{})

	p.SubmitOrdered(func() {
		started.Done()
		<-block
		mu.Lock()
		order = append(order, -1)
		mu.Unlock()
	}, -1)
	started.Wait() // lone worker is now blocked inside the first task

	keys := []int64{5, 3, 9, 1, 4}
	var wg sync.WaitGroup
	wg.Add(len(keys))
	for _, k := range keys {
		k := k
		p.SubmitOrdered(func() {
			mu.Lock()
			order = append(order, k)
			mu.Unlock()
			wg.Done()
		}, k)
	}
	close(block)
	wg.Wait()
	p.Stop()

	sorted := append([]int64{}, keys...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	require.Equal(t, append([]int64{-1}, sorted...), order)
}

func TestStopJoinsWorkersAfterDraining(t *testing.T) {
	t.Parallel()

	p := New(4)
	var n int32 // guarded by mu below
	var mu sync.Mutex
	for i := 0; i < 50; i++ {
		p.Submit(func() {
			mu.Lock()
			n++
			mu.Unlock()
		})
	}
	p.Stop()
	require.EqualValues(t, 50, n)
}

func TestPlainSubmitIsFIFOAmongItself(t *testing.T) {
	t.Parallel()

	p := New(1)
	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(10)
	for i := 0; i < 10; i++ {
		i := i
		p.Submit(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		})
	}
	wg.Wait()
	p.Stop()

	for i := 0; i < 10; i++ {
		require.Equal(t, i, order[i])
	}
}
