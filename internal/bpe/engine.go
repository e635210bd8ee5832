// Package bpe implements the rank-driven greedy merge loop at the heart of
// byte-pair encoding: given a chunk's initial sequence of base token ids, it
// repeatedly merges the lowest-ranked adjacent pair until none of the
// learned merges apply any longer.
//
// The merge loop is a doubly linked list over token slots plus a binary
// min-heap of merge candidates, ported from the teacher's whole-buffer
// EncodeOffline (internal/tokenizer/tokenizer.go) and scoped down to run
// once per chunk. Candidates carry a version stamp per slot so that once a
// slot merges away, any heap entry still referencing its old contents is
// recognized as stale and skipped rather than acted on.
package bpe

import (
	"container/heap"
	"sync"
)

// Engine merges chunk token sequences using a shared, load-time-built pair
// lookup table. An Engine is immutable after construction and safe for
// concurrent use by multiple callers.
type Engine struct {
	lookup *pairLookup
	pool   sync.Pool
}

// mergeStepHook, when non-nil, is called with the current token count after
// every merge applied by Merge. It exists so tests can pin the algorithm's
// monotonic-shrinkage invariant without exposing per-iteration state on the
// exported API.
var mergeStepHook func(remaining int)

// NewEngine builds an Engine from the tokenizer's learned merges.
func NewEngine(merges mergeSource, vocabSize int) *Engine {
	e := &Engine{lookup: newPairLookup(merges, vocabSize)}
	e.pool.New = func() any { return &scratch{} }
	return e
}

// Merge runs the greedy merge loop over tokens (the chunk's base token ids,
// one per original byte) and returns the fully merged sequence. The input
// slice is read-only; the returned slice is newly allocated.
func (e *Engine) Merge(tokens []uint16) []uint16 {
	n := len(tokens)
	if n <= 1 {
		out := make([]uint16, n)
		copy(out, tokens)
		return out
	}

	sc := e.pool.Get().(*scratch)
	defer e.pool.Put(sc)
	sc.reset(n)

	copy(sc.tok, tokens)
	for i := 0; i < n; i++ {
		sc.prev[i] = i - 1
		sc.next[i] = i + 1
	}
	sc.next[n-1] = -1

	hb := sc.heapBuf[:0]
	h := &hb

	pushIfMergeable := func(i int) {
		if i < 0 {
			return
		}
		j := sc.next[i]
		if j < 0 {
			return
		}
		a, b := sc.tok[i], sc.tok[j]
		rank, merged, ok := e.lookup.lookup(a, b)
		if !ok {
			return
		}
		heap.Push(h, mergeCand{
			rank: rank, pos: i,
			left: a, right: b, merged: merged,
			verL: sc.live[i], verR: sc.live[j],
		})
	}

	for i := 0; i != -1 && sc.next[i] != -1; i = sc.next[i] {
		pushIfMergeable(i)
	}

	remaining := n

	for h.Len() > 0 {
		c := heap.Pop(h).(mergeCand)
		i := c.pos
		j := sc.next[i]
		if j < 0 {
			continue
		}
		if sc.live[i] != c.verL || sc.live[j] != c.verR {
			continue // stale: one side already merged away
		}
		if sc.tok[i] != c.left || sc.tok[j] != c.right {
			continue
		}

		sc.tok[i] = c.merged

		nj := sc.next[j]
		sc.next[i] = nj
		if nj != -1 {
			sc.prev[nj] = i
		}
		sc.prev[j], sc.next[j] = -1, -1

		sc.live[i]++
		sc.live[j]++

		remaining--
		if mergeStepHook != nil {
			mergeStepHook(remaining)
		}

		if pi := sc.prev[i]; pi != -1 {
			pushIfMergeable(pi)
		}
		pushIfMergeable(i)
	}

	sc.heapBuf = (*h)[:0]

	out := make([]uint16, 0, n)
	for i := 0; i != -1; i = sc.next[i] {
		out = append(out, sc.tok[i])
	}
	return out
}

// scratch holds the per-call working memory an Engine.Merge invocation
// needs; pooled so concurrent callers don't force a fresh set of slice
// allocations per chunk.
type scratch struct {
	tok     []uint16
	prev    []int
	next    []int
	live    []int
	heapBuf []mergeCand
}

func (s *scratch) reset(n int) {
	s.tok = growInts16(s.tok, n)
	s.prev = growInts(s.prev, n)
	s.next = growInts(s.next, n)
	s.live = growInts(s.live, n)
	for i := range s.live[:n] {
		s.live[i] = 0
	}
}

func growInts(buf []int, n int) []int {
	if cap(buf) < n {
		return make([]int, n)
	}
	return buf[:n]
}

func growInts16(buf []uint16, n int) []uint16 {
	if cap(buf) < n {
		return make([]uint16, n)
	}
	return buf[:n]
}

// mergeCand is one candidate merge waiting in the heap.
type mergeCand struct {
	rank        int32
	pos         int
	left, right uint16
	merged      uint16
	verL, verR  int
}

// mergeHeap orders candidates by rank, breaking ties by leftmost position so
// that, among equally-ranked candidates (always instances of the very same
// pair, since ranks are assigned uniquely per pair), the leftmost
// non-overlapping occurrence is always resolved first.
type mergeHeap []mergeCand

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	if h[i].rank != h[j].rank {
		return h[i].rank < h[j].rank
	}
	return h[i].pos < h[j].pos
}
func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x any)   { *h = append(*h, x.(mergeCand)) }
func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
