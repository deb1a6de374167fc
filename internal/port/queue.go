package port

import (
	"errors"
	"fmt"

	"github.com/kstaniek/go-ims-packets/internal/packet"
)

var (
	ErrQueueFull      = errors.New("port: outbound queue full")
	ErrInvalidRequest = errors.New("port: invalid request")
)

// Request names one packet the port should send next.
type Request struct {
	ID     int
	Type   packet.Type
	Option int64
}

// Queue is a bounded FIFO of outbound requests backed by a fixed array.
type Queue struct {
	items []Request
	n     int
}

func NewQueue(depth int) *Queue {
	if depth <= 0 {
		depth = 1
	}
	return &Queue{items: make([]Request, depth)}
}

func (q *Queue) Len() int { return q.n }
func (q *Queue) Cap() int { return len(q.items) }

func (q *Queue) Enqueue(r Request) error {
	if r.ID < 0 || !r.Type.Valid() {
		return fmt.Errorf("%w: id=%d type=%v", ErrInvalidRequest, r.ID, r.Type)
	}
	if q.n == len(q.items) {
		return ErrQueueFull
	}
	q.items[q.n] = r
	q.n++
	return nil
}

// Peek returns the head without removing it.
func (q *Queue) Peek() (Request, bool) {
	if q.n == 0 {
		return Request{}, false
	}
	return q.items[0], true
}

// Dequeue removes the head and shifts the remaining entries down.
func (q *Queue) Dequeue() (Request, bool) {
	if q.n == 0 {
		return Request{}, false
	}
	head := q.items[0]
	copy(q.items, q.items[1:q.n])
	q.n--
	q.items[q.n] = Request{}
	return head, true
}

func (q *Queue) Clear() {
	clear(q.items)
	q.n = 0
}
