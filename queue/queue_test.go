package queue

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gopherbb/tspbb/graph"
	"github.com/gopherbb/tspbb/path"
)

func testGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g, err := graph.New([][]float64{
		{0, 1, 2},
		{1, 0, 1},
		{2, 1, 0},
	})
	if err != nil {
		t.Fatalf("graph.New: %v", err)
	}
	return g
}

func TestEnqueueDequeueFIFO(t *testing.T) {
	g := testGraph(t)
	q := New(NewArena())

	const n = 20
	handles := make([]*path.Path, n)
	for i := 0; i < n; i++ {
		p := path.New(g)
		if err := p.Add(0); err != nil {
			t.Fatal(err)
		}
		handles[i] = p
		q.Enqueue(p)
	}

	for i := 0; i < n; i++ {
		got, ok := q.TryDequeue()
		if !ok {
			t.Fatalf("dequeue %d: queue unexpectedly empty", i)
		}
		if got != handles[i] {
			t.Fatalf("dequeue %d: FIFO order violated, got a different handle than enqueued %d-th", i, i)
		}
	}

	if _, ok := q.TryDequeue(); ok {
		t.Fatal("expected queue to be empty after draining all enqueued items")
	}
}

func TestTryDequeueEmpty(t *testing.T) {
	q := New(NewArena())
	if _, ok := q.TryDequeue(); ok {
		t.Fatal("expected empty queue to report no element")
	}
}

// TestConcurrentProducersConsumers is scenario S5 from the design
// document: M producers each enqueue K distinguishable handles while
// consumers concurrently drain the queue; the multiset of dequeued
// handles must equal the multiset of enqueued handles.
func TestConcurrentProducersConsumers(t *testing.T) {
	g := testGraph(t)
	arena := NewArena()
	q := New(arena)

	const producers = 8
	const perProducer = 500
	total := producers * perProducer

	enqueued := make(map[*path.Path]bool, total)
	var enqueuedMu sync.Mutex

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for seq := 0; seq < perProducer; seq++ {
				pp := path.New(g)
				pp.Add(0)
				enqueuedMu.Lock()
				enqueued[pp] = true
				enqueuedMu.Unlock()
				q.Enqueue(pp)
			}
		}()
	}

	var dequeued int64
	seen := make(map[*path.Path]bool, total)
	var seenMu sync.Mutex
	var consumerWG sync.WaitGroup
	for c := 0; c < 4; c++ {
		consumerWG.Add(1)
		go func() {
			defer consumerWG.Done()
			for {
				if atomic.LoadInt64(&dequeued) >= int64(total) {
					return
				}
				v, ok := q.TryDequeue()
				if !ok {
					time.Sleep(time.Microsecond)
					continue
				}
				seenMu.Lock()
				seen[v] = true
				seenMu.Unlock()
				if atomic.AddInt64(&dequeued, 1) >= int64(total) {
					return
				}
			}
		}()
	}

	wg.Wait()
	consumerWG.Wait()

	if len(seen) != total {
		t.Fatalf("expected %d distinct dequeued handles, got %d", total, len(seen))
	}
	for h := range enqueued {
		if !seen[h] {
			t.Fatalf("handle enqueued but never dequeued")
		}
	}

	if _, ok := q.TryDequeue(); ok {
		t.Fatal("expected queue drained after all producers/consumers finished")
	}
	if live := arena.Live(); live != 1 {
		t.Fatalf("expected exactly the sentinel node (1) live after drain, got %d", live)
	}
}

// TestPerProducerOrderPreserved checks the FIFO invariant restricted to
// a single producer's own enqueues: if producer p enqueues x before y, a
// (possibly different) consumer must dequeue x before y.
func TestPerProducerOrderPreserved(t *testing.T) {
	g := testGraph(t)
	q := New(NewArena())

	const producers = 6
	const perProducer = 300

	sequenceOf := make(map[*path.Path]int, producers*perProducer)
	producerOf := make(map[*path.Path]int, producers*perProducer)
	var tagMu sync.Mutex

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(producer int) {
			defer wg.Done()
			for seq := 0; seq < perProducer; seq++ {
				pp := path.New(g)
				pp.Add(0)
				tagMu.Lock()
				sequenceOf[pp] = seq
				producerOf[pp] = producer
				tagMu.Unlock()
				q.Enqueue(pp)
			}
		}(p)
	}
	wg.Wait()

	lastSeenSeq := make([]int, producers)
	for i := range lastSeenSeq {
		lastSeenSeq[i] = -1
	}
	count := 0
	for {
		v, ok := q.TryDequeue()
		if !ok {
			break
		}
		count++
		producer := producerOf[v]
		seq := sequenceOf[v]
		if seq <= lastSeenSeq[producer] {
			t.Fatalf("producer %d: FIFO order violated, saw seq %d after seq %d", producer, seq, lastSeenSeq[producer])
		}
		lastSeenSeq[producer] = seq
	}
	if count != producers*perProducer {
		t.Fatalf("expected %d dequeued handles, got %d", producers*perProducer, count)
	}
}

func TestArenaLeakAccounting(t *testing.T) {
	g := testGraph(t)
	arena := NewArena()
	q := New(arena)

	for i := 0; i < 50; i++ {
		p := path.New(g)
		p.Add(0)
		q.Enqueue(p)
	}
	for i := 0; i < 50; i++ {
		if _, ok := q.TryDequeue(); !ok {
			t.Fatalf("dequeue %d: expected element", i)
		}
	}

	if live := arena.Live(); live != 1 {
		t.Fatalf("expected only the sentinel (1) live after full drain, got %d", live)
	}
}
