package inbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	kit "huddlebot/internal/transport"
)

func TestWatchSeesMessageOfferedBeforeWait(t *testing.T) {
	in := New()
	w := in.Watch(FromUserInChat(7, 70))

	if n := in.Offer(kit.Message{FromID: 7, ChatID: 70, Text: "fast"}); n != 1 {
		t.Fatalf("Offer satisfied %d watches, want 1", n)
	}
	msg, err := w.Wait(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if msg.Text != "fast" {
		t.Fatalf("got %q, want %q", msg.Text, "fast")
	}
}

func TestOfferIgnoresOtherSendersAndChats(t *testing.T) {
	in := New()
	w := in.Watch(FromUserInChat(7, 70))

	cases := []kit.Message{
		{FromID: 8, ChatID: 70, Text: "other user"},
		{FromID: 7, ChatID: -100, Text: "same user in group"},
	}
	for _, m := range cases {
		if n := in.Offer(m); n != 0 {
			t.Fatalf("Offer(%q) satisfied %d watches, want 0", m.Text, n)
		}
	}
	if in.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", in.Pending())
	}
	in.Offer(kit.Message{FromID: 7, ChatID: 70, Text: "mine"})
	msg, err := w.Wait(context.Background(), time.Second)
	if err != nil || msg.Text != "mine" {
		t.Fatalf("Wait = %q, %v", msg.Text, err)
	}
}

func TestWatchIsOneShot(t *testing.T) {
	in := New()
	w := in.Watch(FromUserInChat(1, 1))
	in.Offer(kit.Message{FromID: 1, ChatID: 1, Text: "first"})
	if n := in.Offer(kit.Message{FromID: 1, ChatID: 1, Text: "second"}); n != 0 {
		t.Fatalf("second offer satisfied %d watches, want 0", n)
	}
	msg, _ := w.Wait(context.Background(), time.Second)
	if msg.Text != "first" {
		t.Fatalf("got %q, want first reply", msg.Text)
	}
}

func TestWaitTimesOutNoEarlierThanTimeout(t *testing.T) {
	in := New()
	w := in.Watch(FromUserInChat(1, 1))

	const timeout = 30 * time.Millisecond
	start := time.Now()
	_, err := w.Wait(context.Background(), timeout)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if el := time.Since(start); el < timeout {
		t.Fatalf("timed out after %s, before %s", el, timeout)
	}
	if in.Pending() != 0 {
		t.Fatalf("watch not released after timeout")
	}
}

func TestWaitHonorsContext(t *testing.T) {
	in := New()
	w := in.Watch(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := w.Wait(ctx, time.Minute); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestCloseWakesWaiters(t *testing.T) {
	in := New()
	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		w := in.Watch(FromUserInChat(int64(i), int64(i)))
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = w.Wait(context.Background(), time.Minute)
		}(i)
	}
	in.Close()
	wg.Wait()
	for i, err := range errs {
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("waiter %d: err = %v, want ErrClosed", i, err)
		}
	}
	if _, err := in.Watch(nil).Wait(context.Background(), time.Second); !errors.Is(err, ErrClosed) {
		t.Fatalf("watch after close: err = %v", err)
	}
}

func TestOneMessageWakesEveryMatchingWatch(t *testing.T) {
	in := New()
	a := in.Watch(FromUserInChat(5, 50))
	b := in.Watch(FromUserInChat(5, 50))
	if n := in.Offer(kit.Message{FromID: 5, ChatID: 50, Text: "x"}); n != 2 {
		t.Fatalf("Offer satisfied %d, want 2", n)
	}
	for _, w := range []*Watch{a, b} {
		if msg, err := w.Wait(context.Background(), time.Second); err != nil || msg.Text != "x" {
			t.Fatalf("Wait = %q, %v", msg.Text, err)
		}
	}
}
