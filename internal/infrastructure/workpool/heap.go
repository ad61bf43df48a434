package workpool

import "container/heap"

// job is a queued unit of work.
type job struct {
	fn     func()
	prio   Priority
	seq    uint64
	handle *Handle
}

// jobHeap is a min-heap ordered by (prio, seq): highest priority first,
// submission order within a priority class.
type jobHeap []*job

var _ heap.Interface = (*jobHeap)(nil)

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].prio != h[j].prio {
		return h[i].prio < h[j].prio
	}
	return h[i].seq < h[j].seq
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) { *h = append(*h, x.(*job)) }

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return j
}
