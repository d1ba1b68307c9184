// Package inbox lets callers wait for the next incoming message that matches
// a predicate.
//
// Create the Watch before triggering whatever should produce the message
// (for example sending a question), then Wait on it. Messages offered between
// the two calls are kept, so a fast reply is never lost.
package inbox

import (
	"context"
	"errors"
	"sync"
	"time"

	kit "huddlebot/internal/transport"
)

var (
	ErrTimeout = errors.New("inbox: wait timed out")
	ErrClosed  = errors.New("inbox: closed")
)

// Match reports whether msg is the one a Watch is waiting for.
type Match func(msg *kit.Message) bool

// FromUserInChat matches messages sent by userID in chatID.
func FromUserInChat(userID, chatID int64) Match {
	return func(m *kit.Message) bool {
		return m != nil && m.FromID == userID && m.ChatID == chatID
	}
}

// Inbox fans incoming messages out to registered watches.
// The zero value is not usable; call New.
type Inbox struct {
	mu      sync.Mutex
	nextID  uint64
	watches map[uint64]*Watch
	closed  bool
}

func New() *Inbox {
	return &Inbox{watches: make(map[uint64]*Watch)}
}

// Watch is a one-shot subscription for a single matching message.
type Watch struct {
	id    uint64
	in    *Inbox
	match Match
	ch    chan kit.Message
}

// Watch registers a new one-shot watch. The watch only sees messages offered
// after this call returns.
func (in *Inbox) Watch(match Match) *Watch {
	w := &Watch{in: in, match: match, ch: make(chan kit.Message, 1)}

	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		close(w.ch)
		return w
	}
	in.nextID++
	w.id = in.nextID
	in.watches[w.id] = w
	return w
}

// Offer delivers msg to every pending watch whose predicate matches it and
// returns how many watches it satisfied. Matched watches are removed.
// Offer never blocks.
func (in *Inbox) Offer(msg kit.Message) int {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return 0
	}
	n := 0
	for id, w := range in.watches {
		if w.match != nil && !w.match(&msg) {
			continue
		}
		select {
		case w.ch <- msg:
			n++
		default:
		}
		delete(in.watches, id)
	}
	return n
}

// Pending returns the number of watches still waiting.
func (in *Inbox) Pending() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.watches)
}

// Close wakes every pending watch with ErrClosed. Later watches fail
// immediately.
func (in *Inbox) Close() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return
	}
	in.closed = true
	for id, w := range in.watches {
		close(w.ch)
		delete(in.watches, id)
	}
}

// Wait blocks until a matching message arrives, timeout elapses or ctx is
// done. A non-positive timeout waits on ctx alone. The watch is released on
// return either way.
func (w *Watch) Wait(ctx context.Context, timeout time.Duration) (kit.Message, error) {
	defer w.Cancel()
	if ctx == nil {
		ctx = context.Background()
	}

	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	select {
	case msg, ok := <-w.ch:
		if !ok {
			return kit.Message{}, ErrClosed
		}
		return msg, nil
	case <-expired:
		// A message may have landed at the same instant.
		select {
		case msg, ok := <-w.ch:
			if ok {
				return msg, nil
			}
		default:
		}
		return kit.Message{}, ErrTimeout
	case <-ctx.Done():
		return kit.Message{}, ctx.Err()
	}
}

// Cancel drops the watch without waiting. Safe to call more than once.
func (w *Watch) Cancel() {
	if w == nil || w.in == nil {
		return
	}
	w.in.mu.Lock()
	delete(w.in.watches, w.id)
	w.in.mu.Unlock()
}
