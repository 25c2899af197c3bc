package crawl

import (
	"container/heap"
	"sync"
)

// Priority levels for frontier items. Lower numbers dequeue first.
const (
	PrioritySeed    = 0
	PriorityInclude = 1
	PriorityOther   = 2
)

// Item is one URL waiting in the frontier.
type Item struct {
	URL      string
	Priority int
	seq      uint64
}

// Frontier is a priority queue of discovered URLs. Items with a lower
// priority number pop first; equal priorities pop in discovery order.
// Pop blocks while the queue is empty but fetches are still in flight,
// since those fetches may discover more URLs.
type Frontier struct {
	mu       sync.Mutex
	cond     *sync.Cond
	heap     itemHeap
	nextSeq  uint64
	inflight int
	stopped  bool
}

// NewFrontier constructs an empty frontier.
func NewFrontier() *Frontier {
	f := &Frontier{}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Push enqueues a URL at the given priority.
func (f *Frontier) Push(url string, priority int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return
	}
	heap.Push(&f.heap, Item{URL: url, Priority: priority, seq: f.nextSeq})
	f.nextSeq++
	f.cond.Signal()
}

// Pop removes the best item, blocking while the queue is empty and work is
// still in flight. It returns ok=false once the frontier is drained (empty
// with nothing in flight) or stopped. Every successful Pop must be paired
// with a Done call.
func (f *Frontier) Pop() (Item, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for {
		if f.stopped {
			return Item{}, false
		}
		if f.heap.Len() > 0 {
			it := heap.Pop(&f.heap).(Item)
			f.inflight++
			return it, true
		}
		if f.inflight == 0 {
			f.cond.Broadcast()
			return Item{}, false
		}
		f.cond.Wait()
	}
}

// Done marks one popped item as fully processed.
func (f *Frontier) Done() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inflight--
	f.cond.Broadcast()
}

// Stop wakes all blocked Pop calls and makes them return ok=false.
// In-flight work is unaffected; no new items are handed out.
func (f *Frontier) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	f.cond.Broadcast()
}

// Len returns the number of queued items.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.heap.Len()
}

type itemHeap []Item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) { *h = append(*h, x.(Item)) }

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}
