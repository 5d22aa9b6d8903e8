// Package keepalive implements a scheduler that maintains a sorted set of
// clients by next-deadline, sending periodic keep-alive pings and
// disconnecting clients that miss their timeout. One Scheduler is shared by
// all clients registered with it, so liveness maintenance costs O(log N) per
// update. It is not a process-wide singleton: each server.Server and each
// client.Client constructs its own.
package keepalive

import (
	"container/heap"
	"context"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Client is the capability the scheduler needs from a connection: identity
// plus the two I/O actions it may trigger.
type Client interface {
	ID() string
	SendKeepAlive() error
	DisconnectSilent(reason string)
}

// Config holds the scheduler's two tunables. Interval must be less than
// Timeout.
type Config struct {
	Interval time.Duration
	Timeout  time.Duration
}

// DefaultConfig mirrors the reference defaults: a 5s ping interval and a
// 15s liveness timeout.
var DefaultConfig = Config{Interval: 5 * time.Second, Timeout: 15 * time.Second}

// record is one scheduled client, ordered by nextEvent() and, on ties, by
// a stable hash of the client ID.
type record struct {
	client       Client
	lastSent     time.Time
	lastReceived time.Time
	idHash       uint64
	index        int // heap index, maintained by container/heap
}

func (r *record) nextEvent(cfg Config) time.Time {
	sendDeadline := r.lastSent.Add(cfg.Interval)
	recvDeadline := r.lastReceived.Add(cfg.Timeout)
	if sendDeadline.Before(recvDeadline) {
		return sendDeadline
	}
	return recvDeadline
}

// recordHeap implements container/heap.Interface, ordered by nextEvent.
type recordHeap struct {
	items []*record
	cfg   Config
}

func (h recordHeap) Len() int { return len(h.items) }
func (h recordHeap) Less(i, j int) bool {
	ei, ej := h.items[i].nextEvent(h.cfg), h.items[j].nextEvent(h.cfg)
	if ei.Equal(ej) {
		return h.items[i].idHash < h.items[j].idHash
	}
	return ei.Before(ej)
}
func (h recordHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}
func (h *recordHeap) Push(x any) {
	r := x.(*record)
	r.index = len(h.items)
	h.items = append(h.items, r)
}
func (h *recordHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	h.items = old[:n-1]
	item.index = -1
	return item
}

// Scheduler is one keep-alive loop over its registered clients. Construct one with
// New and start its loop with Start; Register/Unregister/UpdateLastSent/
// UpdateLastReceived are safe for concurrent use from any connection.
type Scheduler struct {
	cfg    Config
	logger zerolog.Logger

	mu   sync.Mutex
	heap recordHeap
	byID map[string]*record
	wake chan struct{}
}

// New constructs a scheduler. Call Start to begin its loop.
func New(cfg Config, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		logger: logger.With().Str("com", "keepalive").Logger(),
		heap:   recordHeap{cfg: cfg},
		byID:   make(map[string]*record),
		wake:   make(chan struct{}, 1),
	}
}

// Register adds a client to the scheduled set with fresh last-sent/
// last-received timestamps, so it enters the interval/timeout window from
// the moment of registration.
func (s *Scheduler) Register(c Client) {
	now := time.Now()
	r := &record{
		client:       c,
		lastSent:     now,
		lastReceived: now,
		idHash:       stableHash(c.ID()),
	}

	s.mu.Lock()
	s.byID[c.ID()] = r
	heap.Push(&s.heap, r)
	s.mu.Unlock()

	s.notify()
}

// Unregister removes a client from the scheduled set. It is a no-op if the
// client was never registered or was already removed (e.g. by a prior
// timeout disconnect); the scheduler's back-reference to the client is
// cleared here.
func (s *Scheduler) Unregister(clientID string) {
	s.mu.Lock()
	r, ok := s.byID[clientID]
	if ok {
		delete(s.byID, clientID)
		if r.index >= 0 {
			heap.Remove(&s.heap, r.index)
		}
	}
	s.mu.Unlock()
}

// UpdateLastSent records that a packet was just sent to clientID, pushing
// its next interval deadline forward.
func (s *Scheduler) UpdateLastSent(clientID string) {
	s.updateField(clientID, func(r *record) { r.lastSent = time.Now() })
}

// UpdateLastReceived records that a packet was just received from
// clientID, resetting its idle timeout.
func (s *Scheduler) UpdateLastReceived(clientID string) {
	s.updateField(clientID, func(r *record) { r.lastReceived = time.Now() })
}

func (s *Scheduler) updateField(clientID string, mutate func(*record)) {
	s.mu.Lock()
	r, ok := s.byID[clientID]
	if ok {
		heap.Remove(&s.heap, r.index)
		mutate(r)
		heap.Push(&s.heap, r)
	}
	s.mu.Unlock()

	if ok {
		s.notify()
	}
}

func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Start launches the scheduler's main loop in a new goroutine. The loop
// runs until ctx is canceled.
func (s *Scheduler) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *Scheduler) run(ctx context.Context) {
	for {
		s.mu.Lock()
		if s.heap.Len() == 0 {
			s.mu.Unlock()
			select {
			case <-ctx.Done():
				return
			case <-time.After(50 * time.Millisecond):
				continue
			case <-s.wake:
				continue
			}
		}

		min := s.heap.items[0]
		delay := time.Until(min.nextEvent(s.cfg))
		s.mu.Unlock()

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-s.wake:
				timer.Stop()
				continue
			case <-timer.C:
			}
		}

		s.drainDue()
	}
}

// drainDue pops every record whose next event has arrived, dispatching a
// keep-alive send or a timeout disconnect for each, until the new minimum
// is in the future.
func (s *Scheduler) drainDue() {
	now := time.Now()
	for {
		s.mu.Lock()
		if s.heap.Len() == 0 {
			s.mu.Unlock()
			return
		}
		min := s.heap.items[0]
		if min.nextEvent(s.cfg).After(now) {
			s.mu.Unlock()
			return
		}

		heap.Remove(&s.heap, min.index)

		if now.Sub(min.lastReceived) >= s.cfg.Timeout {
			delete(s.byID, min.client.ID())
			s.mu.Unlock()
			s.logger.Warn().Str("client", min.client.ID()).Msg("keep-alive timeout, disconnecting")
			go min.client.DisconnectSilent("keep-alive timeout")
			continue
		}

		// Due for a keep-alive ping, not yet timed out: re-insert with a
		// jittered last-sent so many idle clients don't all ping in lockstep.
		min.lastSent = now.Add(time.Duration(rand.Intn(250)) * time.Millisecond)
		heap.Push(&s.heap, min)
		client := min.client
		s.mu.Unlock()

		go func() {
			if err := client.SendKeepAlive(); err != nil {
				s.logger.Debug().Err(err).Str("client", client.ID()).Msg("keep-alive send failed")
				client.DisconnectSilent("keep-alive send failed")
			}
		}()
	}
}

func stableHash(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
