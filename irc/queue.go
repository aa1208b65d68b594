package irc

import (
	"container/heap"
	"sync"

	"github.com/mbasaglia/Melanobot-v2-sub002/network"
)

// queued wraps a command with its insertion order, which breaks ties
// between commands created at the same instant.
type queued struct {
	cmd network.Command
	seq uint64
}

type commandHeap []queued

func (h commandHeap) Len() int { return len(h) }

func (h commandHeap) Less(i, j int) bool {
	a, b := h[i].cmd, h[j].cmd
	if a.Before(b) {
		return true
	}
	if b.Before(a) {
		return false
	}
	return h[i].seq < h[j].seq
}

func (h commandHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *commandHeap) Push(x any) { *h = append(*h, x.(queued)) }

func (h *commandHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// commandQueue is a priority queue whose Pop blocks until a command is
// available or the queue is closed.
type commandQueue struct {
	mu     sync.Mutex
	items  commandHeap
	seq    uint64
	closed bool
	notify chan struct{}
}

func newCommandQueue() *commandQueue {
	return &commandQueue{
		notify: make(chan struct{}, 1),
	}
}

// Push adds a command, returning false if the queue is closed
func (q *commandQueue) Push(cmd network.Command) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.seq++
	heap.Push(&q.items, queued{cmd: cmd, seq: q.seq})
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// Pop removes the highest priority command.
// It returns false once the queue is closed or quit is signalled.
func (q *commandQueue) Pop(quit <-chan struct{}) (network.Command, bool) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return network.Command{}, false
		}
		if len(q.items) > 0 {
			item := heap.Pop(&q.items).(queued)
			q.mu.Unlock()
			return item.cmd, true
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-quit:
			return network.Command{}, false
		}
	}
}

// Len returns the number of pending commands
func (q *commandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close discards pending commands and refuses new ones
func (q *commandQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}
