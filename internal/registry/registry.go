// Package registry implements a subscription registry: a msg_id-keyed
// table of single-shot waiters with TTL-based expiry, used by the producer
// side to correlate ResultReport records back to the caller that sent the
// original message.
package registry

import (
	"container/heap"
	"sync"
	"time"

	"github.com/GreptimeTeam/shm-ringbuf/internal/rberr"
)

// Result is delivered to a waiter either by Deliver, Tick (Timeout), or
// Drain (the given reason).
type Result struct {
	Payload []byte
	Status  int32
	Err     error
}

// Waiter is a single-shot subscription on one msg_id. Await blocks until
// Deliver, Tick, or Drain completes it.
type Waiter struct {
	msgID    uint32
	deadline time.Time
	index    int // heap index, -1 once removed
	done     chan Result
}

// Await blocks until the waiter is completed.
func (w *Waiter) Await() Result {
	return <-w.done
}

type waiterHeap []*Waiter

func (h waiterHeap) Len() int            { return len(h) }
func (h waiterHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h waiterHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *waiterHeap) Push(x any)         { w := x.(*Waiter); w.index = len(*h); *h = append(*h, w) }
func (h *waiterHeap) Pop() any {
	old := *h
	n := len(old)
	w := old[n-1]
	w.index = -1
	*h = old[:n-1]
	return w
}

// Registry is safe for concurrent use.
type Registry struct {
	mu         sync.Mutex
	waiters    map[uint32]*Waiter
	expiry     waiterHeap
	defaultTTL time.Duration
}

// New builds an empty registry. defaultTTL is used when Register is called
// with a zero ttl.
func New(defaultTTL time.Duration) *Registry {
	return &Registry{
		waiters:    make(map[uint32]*Waiter),
		defaultTTL: defaultTTL,
	}
}

// Register inserts a single-shot waiter for msgID with the given ttl (or
// the registry's default TTL when ttl is zero). It returns
// *rberr.InvalidParameterError if msgID is already registered.
func (r *Registry) Register(msgID uint32, ttl time.Duration) (*Waiter, error) {
	if ttl <= 0 {
		ttl = r.defaultTTL
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.waiters[msgID]; exists {
		return nil, &rberr.InvalidParameterError{Detail: "msg_id already registered"}
	}

	w := &Waiter{
		msgID:    msgID,
		deadline: time.Now().Add(ttl),
		done:     make(chan Result, 1),
	}
	r.waiters[msgID] = w
	heap.Push(&r.expiry, w)
	return w, nil
}

// Deliver completes the waiter for msgID with result, if one is present.
// A missing msgID (a late or duplicate report) is silently dropped.
func (r *Registry) Deliver(msgID uint32, result Result) {
	r.mu.Lock()
	w, ok := r.waiters[msgID]
	if ok {
		r.removeLocked(w)
	}
	r.mu.Unlock()

	if ok {
		w.done <- result
	}
}

// Tick expires every waiter whose deadline is at or before now, completing
// each with rberr.ErrTimeout. It returns the number of waiters expired.
func (r *Registry) Tick(now time.Time) int {
	r.mu.Lock()
	var expired []*Waiter
	for len(r.expiry) > 0 && !r.expiry[0].deadline.After(now) {
		w := heap.Pop(&r.expiry).(*Waiter)
		delete(r.waiters, w.msgID)
		expired = append(expired, w)
	}
	r.mu.Unlock()

	for _, w := range expired {
		w.done <- Result{Err: rberr.ErrTimeout}
	}
	return len(expired)
}

// Drain completes every outstanding waiter with reason and empties the
// registry, for use on session teardown.
func (r *Registry) Drain(reason error) {
	r.mu.Lock()
	all := make([]*Waiter, 0, len(r.waiters))
	for _, w := range r.waiters {
		all = append(all, w)
	}
	r.waiters = make(map[uint32]*Waiter)
	r.expiry = nil
	r.mu.Unlock()

	for _, w := range all {
		w.done <- Result{Err: reason}
	}
}

// Len reports the number of outstanding waiters.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters)
}

func (r *Registry) removeLocked(w *Waiter) {
	delete(r.waiters, w.msgID)
	if w.index >= 0 {
		heap.Remove(&r.expiry, w.index)
	}
}
