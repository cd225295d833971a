package store

import (
	"context"
	"sync"
	"time"
)

// EventKind distinguishes change-feed notifications.
type EventKind int

const (
	ChildAdded EventKind = iota + 1
	ChildChanged
)

func (k EventKind) String() string {
	switch k {
	case ChildAdded:
		return "child_added"
	case ChildChanged:
		return "child_changed"
	default:
		return "unknown"
	}
}

// Event is one change-feed notification.
type Event struct {
	Kind  EventKind
	Child Child
}

// Listener receives notifications for one subscription. Calls are made from
// the subscription's goroutine, one at a time, in seq order.
type Listener interface {
	OnChild(ev Event)
	OnError(err error)
}

// Subscription is a live change feed on one node.
type Subscription struct {
	store    *Store
	path     string
	listener Listener

	nudge  chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Subscribe starts a change feed on path. Existing children are delivered as
// ChildAdded first. The feed runs until Cancel or Store.Close.
func (s *Store) Subscribe(path string, l Listener) *Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &Subscription{
		store:    s,
		path:     path,
		listener: l,
		nudge:    make(chan struct{}, 1),
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	go sub.run(ctx)
	return sub
}

// Path returns the subscribed node.
func (sub *Subscription) Path() string {
	return sub.path
}

// Cancel stops the feed and waits for its goroutine to exit. No listener
// call happens after Cancel returns. Safe to call twice, but not from inside
// the listener.
func (sub *Subscription) Cancel() {
	sub.once.Do(func() {
		sub.cancel()
		<-sub.done

		sub.store.mu.Lock()
		delete(sub.store.subs, sub)
		sub.store.mu.Unlock()
	})
}

func (s *Store) nudge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs {
		select {
		case sub.nudge <- struct{}{}:
		default:
		}
	}
}

func (sub *Subscription) run(ctx context.Context) {
	defer close(sub.done)

	ticker := time.NewTicker(sub.store.poll)
	defer ticker.Stop()

	var last int64
	seen := make(map[string]struct{})

	for {
		children, err := sub.store.Since(ctx, sub.path, last)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			sub.listener.OnError(err)
		}
		for _, c := range children {
			if ctx.Err() != nil {
				return
			}
			kind := ChildAdded
			if _, ok := seen[c.Key]; ok {
				kind = ChildChanged
			}
			seen[c.Key] = struct{}{}
			last = c.Seq
			sub.listener.OnChild(Event{Kind: kind, Child: c})
		}

		select {
		case <-ctx.Done():
			return
		case <-sub.nudge:
		case <-ticker.C:
		}
	}
}
