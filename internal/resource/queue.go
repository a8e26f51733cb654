package resource

import "container/heap"

// downloadTask is one queued resource download, carrying enough of the
// originating message to drive upstream.Adapter.DownloadMedia.
type downloadTask struct {
	info     Info
	attempts int
	seq      int // insertion order, for stable tie-breaking
}

// taskQueue is a max-heap ordered by priority, then insertion order.
type taskQueue []*downloadTask

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	pi, pj := q[i].info.priority(), q[j].info.priority()
	if pi != pj {
		return pi > pj
	}
	return q[i].seq < q[j].seq
}

func (q taskQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *taskQueue) Push(x any) { *q = append(*q, x.(*downloadTask)) }

func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// priorityQueue wraps a taskQueue behind heap.Interface with a monotonic
// sequence counter so insertion order survives re-queues.
type priorityQueue struct {
	items taskQueue
	next  int
}

func newPriorityQueue() *priorityQueue {
	q := &priorityQueue{}
	heap.Init(&q.items)
	return q
}

// pushTail enqueues a brand-new task at its priority position.
func (q *priorityQueue) pushTail(info Info) *downloadTask {
	t := &downloadTask{info: info, seq: q.next}
	q.next++
	heap.Push(&q.items, t)
	return t
}

// pushHead re-queues a failed task to the head of its priority band by
// giving it a sequence number lower than anything already queued.
func (q *priorityQueue) pushHead(t *downloadTask) {
	lowest := 0
	for i, it := range q.items {
		if i == 0 || it.seq < lowest {
			lowest = it.seq
		}
	}
	t.seq = lowest - 1
	heap.Push(&q.items, t)
}

func (q *priorityQueue) pop() (*downloadTask, bool) {
	if q.items.Len() == 0 {
		return nil, false
	}
	return heap.Pop(&q.items).(*downloadTask), true
}

func (q *priorityQueue) len() int { return q.items.Len() }
