// Package timer implements the engine's single-threaded deferred-message
// queue (spec.md §4.2): CHECK_TIMEOUT and INFORM_SESSION_END messages posted
// against a GroupKey and delivered, in FIFO order within equal deadlines, to
// a single dispatch goroutine. Grounded on the teacher pack's timeout-handle
// style (id-keyed handles + cancel-by-identity) and on the worker/stop
// lifecycle of the async webhook processor.
package timer

import (
	"container/heap"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/vitaliisemenov/applimit/internal/core"
)

// Kind distinguishes the two deferred message types the engine posts.
type Kind int

const (
	CheckTimeout Kind = iota
	InformSessionEnd
)

func (k Kind) String() string {
	if k == InformSessionEnd {
		return "INFORM_SESSION_END"
	}
	return "CHECK_TIMEOUT"
}

// Handler is invoked on the dispatch goroutine for every message whose
// deadline has elapsed. Implementations (the Controller) must acquire their
// own lock and re-validate state before acting, since delivery can race a
// concurrent Cancel.
type Handler func(kind Kind, key core.GroupKey)

type entry struct {
	kind     Kind
	key      core.GroupKey
	deadline time.Time
	seq      uint64
	canceled bool
	index    int
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Service is the single-threaded Timer Service. Post/Cancel are safe to call
// from any goroutine; the dispatch loop runs on its own goroutine and calls
// Handler without holding the Service's internal mutex.
type Service struct {
	clock   clockwork.Clock
	handler Handler
	logger  *slog.Logger

	mu      sync.Mutex
	pending entryHeap
	// byKey indexes live (non-canceled) entries for O(matching) cancel.
	byKey map[core.GroupKey][]*entry
	seq   uint64

	wake     chan struct{}
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// New starts the dispatch goroutine immediately; callers must call Stop to
// release it.
func New(clock clockwork.Clock, handler Handler, logger *slog.Logger) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		clock:   clock,
		handler: handler,
		logger:  logger,
		byKey:   make(map[core.GroupKey][]*entry),
		wake:    make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// Post schedules kind/key for delivery at now+delay. Re-entrant: safe to
// call from inside a Handler callback (the dispatch loop never holds a lock
// while invoking Handler).
func (s *Service) Post(kind Kind, key core.GroupKey, delay time.Duration) {
	s.mu.Lock()
	s.seq++
	e := &entry{kind: kind, key: key, deadline: s.clock.Now().Add(delay), seq: s.seq}
	heap.Push(&s.pending, e)
	s.byKey[key] = append(s.byKey[key], e)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Cancel removes all pending messages matching (kind, key). It is a no-op if
// none are pending; safe to call even after Stop.
func (s *Service) Cancel(kind Kind, key core.GroupKey) {
	s.mu.Lock()
	defer s.mu.Unlock()

	live := s.byKey[key][:0]
	for _, e := range s.byKey[key] {
		if e.kind == kind && !e.canceled {
			e.canceled = true
			continue
		}
		live = append(live, e)
	}
	if len(live) == 0 {
		delete(s.byKey, key)
	} else {
		s.byKey[key] = live
	}
}

// CancelAll removes every pending message for key, regardless of kind. Used
// when a group is removed entirely.
func (s *Service) CancelAll(key core.GroupKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.byKey[key] {
		e.canceled = true
	}
	delete(s.byKey, key)
}

// PendingLen reports how many messages are currently scheduled, including
// ones marked canceled but not yet swept out by delivery.
func (s *Service) PendingLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.Len()
}

// Stop halts the dispatch goroutine and waits for it to exit. Safe to call
// more than once.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.done
}

func (s *Service) run() {
	defer close(s.done)

	timer := s.clock.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.mu.Lock()
		s.rearm(timer)
		s.mu.Unlock()

		select {
		case <-s.stopCh:
			return
		case <-s.wake:
			continue
		case <-timer.Chan():
			s.deliverDue()
		}
	}
}

// rearm resets timer to fire at the next pending deadline, or far in the
// future if the queue is empty. Caller holds s.mu.
func (s *Service) rearm(timer clockwork.Timer) {
	timer.Stop()
	if s.pending.Len() == 0 {
		timer.Reset(time.Hour)
		return
	}
	next := s.pending[0].deadline
	d := next.Sub(s.clock.Now())
	if d < 0 {
		d = 0
	}
	timer.Reset(d)
}

func (s *Service) deliverDue() {
	now := s.clock.Now()
	var due []*entry
	s.mu.Lock()
	for s.pending.Len() > 0 && !s.pending[0].deadline.After(now) {
		e := heap.Pop(&s.pending).(*entry)
		if !e.canceled {
			due = append(due, e)
			keyed := s.byKey[e.key]
			for i, k := range keyed {
				if k == e {
					keyed = append(keyed[:i], keyed[i+1:]...)
					break
				}
			}
			if len(keyed) == 0 {
				delete(s.byKey, e.key)
			} else {
				s.byKey[e.key] = keyed
			}
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		s.logger.Debug("timer fired", "kind", e.kind.String(), "key", e.key)
		s.handler(e.kind, e.key)
	}
}
