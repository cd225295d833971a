package cloud

import (
	"context"
	"sync"
)

type write struct {
	path  string
	key   string
	value []byte
}

func (w write) id() string {
	return w.path + "\x00" + w.key
}

// outbox holds writes not yet acknowledged by the tree. Only the latest value
// per child is kept; children are written in the order first queued.
type outbox struct {
	sending sync.Mutex // one flush at a time keeps per-child order

	mu    sync.Mutex
	order []string
	byID  map[string]write
	wake  chan struct{}
}

func newOutbox() *outbox {
	return &outbox{
		byID: make(map[string]write),
		wake: make(chan struct{}, 1),
	}
}

func (o *outbox) put(w write) {
	o.mu.Lock()
	id := w.id()
	if _, ok := o.byID[id]; !ok {
		o.order = append(o.order, id)
	}
	o.byID[id] = w
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *outbox) take() []write {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]write, 0, len(o.order))
	for _, id := range o.order {
		out = append(out, o.byID[id])
	}
	o.order = nil
	o.byID = make(map[string]write)
	return out
}

// restore puts unsent writes back in front, unless a newer value for the same
// child was queued meanwhile.
func (o *outbox) restore(ws []write) {
	o.mu.Lock()
	defer o.mu.Unlock()
	front := make([]string, 0, len(ws))
	for _, w := range ws {
		id := w.id()
		if _, newer := o.byID[id]; newer {
			continue
		}
		o.byID[id] = w
		front = append(front, id)
	}
	o.order = append(front, o.order...)
}

func (o *outbox) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.order)
}

// flush sends every queued write in order, stopping at the first failure.
func (o *outbox) flush(ctx context.Context, tree Tree) error {
	o.sending.Lock()
	defer o.sending.Unlock()

	ws := o.take()
	for i, w := range ws {
		if _, err := tree.Set(ctx, w.path, w.key, w.value); err != nil {
			o.restore(ws[i:])
			return err
		}
	}
	return nil
}
