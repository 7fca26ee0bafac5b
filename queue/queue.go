// Package queue implements the shared work pool of partial tours: a
// Michael–Scott lock-free unbounded FIFO queue built on
// stampedref.StampedRef, the only shared mutable container the
// branch-and-bound search engine touches.
//
// Enqueue and TryDequeue are both non-blocking and lock-free: while
// goroutines retry their CAS loops, at least one of them completes its
// operation in a finite number of steps, because every failed CAS
// implies some other goroutine's CAS succeeded. A single goroutine's
// retries are not bounded.
package queue

import (
	"sync"
	"sync/atomic"

	"code.hybscloud.com/spin"

	"github.com/gopherbb/tspbb/path"
	"github.com/gopherbb/tspbb/stampedref"
)

// node is a queue-internal record. It lives from insertion until it is
// unlinked as head, at which point it is returned to the owning Arena.
type node struct {
	value *path.Path
	next  stampedref.StampedRef[node]
}

// Arena is the queue's memory reclamation strategy for one solve. Every
// node allocated through it is counted and, for as long as it may still
// be linked into the queue, kept in a live set of real *node pointers.
//
// StampedRef stores its pointer half as a bare uintptr inside a 128-bit
// atomic word, not as a Go pointer — atomix.Uint128's own API is plain
// lo/hi uint64 words, with no pointer-awareness for the garbage
// collector to scan. Once a node is linked into the queue, the only
// place its address lives is that uintptr: the collector cannot see it
// as a reference and is free to reclaim the node out from under the
// list. Arena.live exists to close that hole by holding an ordinary,
// GC-visible *node reference to every node for exactly as long as it
// may be reachable through the list, so Go's own use-after-free
// guarantees keep applying where StampedRef's representation would
// otherwise defeat them.
//
// Reusing a freed node's address mid-solve, separately, would reopen
// the ABA hazard StampedRef's stamp exists to close — a straggling
// goroutine holding a stale (pointer, stamp) observation could CAS
// against a reused node at the same address. alloc never reuses a
// released node's memory for this reason; released nodes are only
// dropped from the live set, never recycled, and actual deallocation is
// left to the collector once nothing (arena included) references them.
type Arena struct {
	allocated int64
	released  int64
	live      sync.Map // map[*node]struct{}
}

// NewArena returns an empty node arena.
func NewArena() *Arena {
	return &Arena{}
}

func (a *Arena) alloc(value *path.Path) *node {
	n := &node{value: value}
	a.live.Store(n, struct{}{})
	atomic.AddInt64(&a.allocated, 1)
	return n
}

// release records that n has been unlinked as head and is no longer
// reachable from the queue. It must be called at most once per node
// (invariant I4): the unlinker is always the single CAS winner for that
// node. Dropping n from the live set is what actually makes it eligible
// for collection — until this call, the live set is the only ordinary
// Go reference keeping a linked-in node from being reclaimed out from
// under the queue.
func (a *Arena) release(n *node) {
	n.value = nil
	a.live.Delete(n)
	atomic.AddInt64(&a.released, 1)
}

// Live returns the number of nodes allocated but not yet released. A
// correctly-terminated solve drives this to one: the sentinel at head
// is never released and stays the one outstanding node.
func (a *Arena) Live() int64 {
	return atomic.LoadInt64(&a.allocated) - atomic.LoadInt64(&a.released)
}

// Queue is an unbounded, multi-producer multi-consumer FIFO of
// *path.Path handles. The zero value is not usable; construct with New.
type Queue struct {
	arena *Arena
	head  stampedref.StampedRef[node]
	tail  stampedref.StampedRef[node]
	// length is advisory only — lock-free queues cannot report an exact
	// length without expensive cross-core synchronization — and is used
	// solely to let callers detect genuine emptiness cheaply before
	// falling back to the active-worker termination protocol.
	length int64
}

// New returns an empty Queue backed by arena. Per invariant I1, the
// queue is seeded with a single sentinel node so head and tail are
// never nil.
func New(arena *Arena) *Queue {
	sentinel := arena.alloc(nil)
	q := &Queue{arena: arena}
	q.head.Set(sentinel, 0)
	q.tail.Set(sentinel, 0)
	return q
}

// Enqueue takes ownership of handle and links it as the new tail. It
// never blocks and always succeeds in a finite number of steps.
func (q *Queue) Enqueue(handle *path.Path) {
	n := q.arena.alloc(handle)
	sw := spin.Wait{}
	for {
		tail, tailStamp := q.tail.Get()
		next, nextStamp := tail.next.Get()
		// Re-check tail is unchanged since we read it.
		if t2, s2 := q.tail.Get(); t2 != tail || s2 != tailStamp {
			sw.Once()
			continue
		}
		if next == nil {
			if tail.next.CompareAndSwap(next, n, nextStamp, nextStamp+1) {
				// Best-effort: swing tail forward. A concurrent enqueuer
				// may already have done this for us.
				q.tail.CompareAndSwap(tail, n, tailStamp, tailStamp+1)
				atomic.AddInt64(&q.length, 1)
				return
			}
		} else {
			// Lagging tail: help it catch up before retrying.
			q.tail.CompareAndSwap(tail, next, tailStamp, tailStamp+1)
		}
		sw.Once()
	}
}

// TryDequeue removes and returns the oldest enqueued handle, or
// (nil, false) if the queue is currently observed empty. It never
// blocks.
func (q *Queue) TryDequeue() (*path.Path, bool) {
	sw := spin.Wait{}
	for {
		head, headStamp := q.head.Get()
		tail, _ := q.tail.Get()
		next, _ := head.next.Get()

		if h2, s2 := q.head.Get(); h2 != head || s2 != headStamp {
			sw.Once()
			continue
		}

		if head == tail {
			if next == nil {
				return nil, false
			}
			// Lagging tail: help it catch up, queue is not actually empty.
			t, ts := q.tail.Get()
			q.tail.CompareAndSwap(t, next, ts, ts+1)
			sw.Once()
			continue
		}

		value := next.value
		if q.head.CompareAndSwap(head, next, headStamp, headStamp+1) {
			q.arena.release(head)
			atomic.AddInt64(&q.length, -1)
			return value, true
		}
		sw.Once()
	}
}

// Empty reports whether the queue currently appears to have no real
// elements. It is advisory: a concurrent Enqueue can make an observed-
// empty queue non-empty immediately after this returns, which is why
// termination in package tspbb never relies on Empty alone.
func (q *Queue) Empty() bool {
	return atomic.LoadInt64(&q.length) <= 0
}
