package scanner

import "sync"

// ResultQueue is an unbounded multi-producer queue. Push never blocks on a
// consumer.
type ResultQueue struct {
	mu   sync.Mutex
	buf  []Result
	head int
	n    int
}

// NewResultQueue returns an empty queue.
func NewResultQueue() *ResultQueue {
	return &ResultQueue{buf: make([]Result, 8)}
}

// Push appends r, growing the ring when full.
func (q *ResultQueue) Push(r Result) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.n == len(q.buf) {
		grown := make([]Result, 2*len(q.buf))
		for i := 0; i < q.n; i++ {
			grown[i] = q.buf[(q.head+i)%len(q.buf)]
		}
		q.buf, q.head = grown, 0
	}
	q.buf[(q.head+q.n)%len(q.buf)] = r
	q.n++
}

// TryPop removes the oldest result if there is one.
func (q *ResultQueue) TryPop() (Result, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.n == 0 {
		return Result{}, false
	}
	r := q.buf[q.head]
	q.buf[q.head] = Result{}
	q.head = (q.head + 1) % len(q.buf)
	q.n--
	return r, true
}

// Len returns the number of queued results.
func (q *ResultQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

// Deduper suppresses consecutive results carrying the same text. It lives
// at the caller boundary so the scanner itself stays stateless across
// frames.
type Deduper struct {
	mu   sync.Mutex
	last string
	seen bool
}

// Accept reports whether r differs from the previously accepted result.
func (d *Deduper) Accept(r Result) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen && d.last == r.Text {
		return false
	}
	d.last, d.seen = r.Text, true
	return true
}

// Reset forgets the last accepted text.
func (d *Deduper) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.last, d.seen = "", false
}
