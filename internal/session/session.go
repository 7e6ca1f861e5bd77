// Package session hosts entity-creator snapshots. Each session owns one
// snapshot and applies events to it one at a time on its own goroutine.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/rzpsarthak13/entity-creator/internal/creator"
	"github.com/rzpsarthak13/entity-creator/internal/write"
)

// ErrSessionClosed is returned when dispatching to a closed session.
var ErrSessionClosed = errors.New("session closed")

// ErrNotPersisted is returned by Dispatch, together with the applied
// snapshot, when the event could not be journaled or snapshotted.
var ErrNotPersisted = errors.New("event applied but not persisted")

// Change describes one applied event.
type Change struct {
	SessionID string
	Prev      creator.State
	Next      creator.State
	Event     creator.Event
}

// Listener is notified after every applied event. Listeners run on the
// session goroutine, in order, and must not block.
type Listener func(Change)

type request struct {
	ctx   context.Context
	event creator.Event
	reply chan result
}

type result struct {
	state creator.State
	err   error
}

// Session serializes events for one entity-creator snapshot.
type Session struct {
	id        string
	state     atomic.Pointer[creator.State]
	requests  chan request
	journal   *write.Journal
	snapshots *SnapshotStore
	logger    *slog.Logger

	listenersMu  sync.RWMutex
	listeners    map[int]Listener
	nextListener int

	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// Options configures a Session. Journal and Snapshots may be nil, in
// which case the session lives only in memory.
type Options struct {
	Journal   *write.Journal
	Snapshots *SnapshotStore
	Logger    *slog.Logger

	// Buffer is the number of events that may wait for the loop.
	Buffer int
}

// New starts a session at initial.
func New(id string, initial creator.State, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		id:        id,
		requests:  make(chan request, max(opts.Buffer, 0)),
		journal:   opts.Journal,
		snapshots: opts.Snapshots,
		logger:    logger.With("component", "session", "session", id),
		listeners: make(map[int]Listener),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	s.state.Store(&initial)

	go s.run()
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the latest snapshot. It never blocks.
func (s *Session) State() creator.State {
	return *s.state.Load()
}

// Dispatch applies ev and returns the resulting snapshot.
//
// The event is always applied once it reaches the loop. A non-nil error
// alongside a snapshot means the snapshot was applied in memory but could
// not be persisted.
func (s *Session) Dispatch(ctx context.Context, ev creator.Event) (creator.State, error) {
	req := request{ctx: ctx, event: ev, reply: make(chan result, 1)}

	select {
	case <-s.stopCh:
		return creator.State{}, ErrSessionClosed
	default:
	}

	select {
	case s.requests <- req:
	case <-s.stopCh:
		return creator.State{}, ErrSessionClosed
	case <-ctx.Done():
		return creator.State{}, ctx.Err()
	}

	select {
	case res := <-req.reply:
		return res.state, res.err
	case <-s.doneCh:
		return creator.State{}, ErrSessionClosed
	case <-ctx.Done():
		return creator.State{}, ctx.Err()
	}
}

// Subscribe registers l and returns a function that removes it.
func (s *Session) Subscribe(l Listener) (unsubscribe func()) {
	s.listenersMu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = l
	s.listenersMu.Unlock()

	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	}
}

// Close stops the loop and waits for it to exit. Events still waiting in
// the buffer are not applied.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.stopCh)
	})
	<-s.doneCh
}

// Done is closed when the session loop has exited.
func (s *Session) Done() <-chan struct{} {
	return s.doneCh
}

func (s *Session) run() {
	defer close(s.doneCh)

	for {
		// Stop wins over pending requests.
		select {
		case <-s.stopCh:
			return
		default:
		}

		select {
		case req := <-s.requests:
			req.reply <- s.apply(req)
		case <-s.stopCh:
			return
		}
	}
}

func (s *Session) apply(req request) result {
	prev := s.State()
	next := creator.Reduce(&prev, req.event)
	s.state.Store(&next)

	kind := creator.Kind("")
	if req.event != nil {
		kind = req.event.Kind()
	}
	s.logger.Debug("applied event", "kind", kind)

	// The event is applied; persist it even if the caller gives up.
	ctx := context.WithoutCancel(req.ctx)

	var errs []error
	if s.journal != nil && req.event != nil {
		if _, err := s.journal.Append(ctx, s.id, req.event); err != nil {
			errs = append(errs, fmt.Errorf("journal: %w", err))
		}
	}
	if s.snapshots != nil {
		if err := s.snapshots.Save(ctx, s.id, next); err != nil {
			errs = append(errs, fmt.Errorf("snapshot: %w", err))
		}
	}
	var err error
	if len(errs) > 0 {
		err = fmt.Errorf("%w: %w", ErrNotPersisted, errors.Join(errs...))
		s.logger.Error("failed to persist event", "kind", kind, "error", err)
	}

	s.notify(Change{SessionID: s.id, Prev: prev, Next: next, Event: req.event})

	return result{state: next, err: err}
}

func (s *Session) notify(c Change) {
	s.listenersMu.RLock()
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	listeners := make([]Listener, 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		listeners = append(listeners, s.listeners[id])
	}
	s.listenersMu.RUnlock()

	for _, l := range listeners {
		l(c)
	}
}
