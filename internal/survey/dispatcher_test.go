package survey

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"huddlebot/internal/eventbus"
	kit "huddlebot/internal/transport"
	"huddlebot/internal/transport/inbox"
)

// fakeMessenger replies on behalf of recipients from inside SendText, before
// the dispatcher reaches Wait.
type fakeMessenger struct {
	in *inbox.Inbox

	mu      sync.Mutex
	replies map[int64]string
	openErr map[int64]error
	sendErr map[int64]error
	sent    map[int64]string
	opens   int
}

func newFakeMessenger(in *inbox.Inbox) *fakeMessenger {
	return &fakeMessenger{
		in:      in,
		replies: map[int64]string{},
		openErr: map[int64]error{},
		sendErr: map[int64]error{},
		sent:    map[int64]string{},
	}
}

func (f *fakeMessenger) OpenPrivate(_ context.Context, userID int64) (kit.ChatTarget, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	if err := f.openErr[userID]; err != nil {
		return kit.ChatTarget{}, err
	}
	return kit.ChatTarget{ChatID: userID + 1000}, nil
}

func (f *fakeMessenger) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	userID := to.ChatID - 1000
	f.mu.Lock()
	f.sent[userID] = text
	err := f.sendErr[userID]
	reply, ok := f.replies[userID]
	f.mu.Unlock()
	if err != nil {
		return kit.MessageRef{}, err
	}
	if ok {
		f.in.Offer(kit.Message{FromID: userID, ChatID: to.ChatID, Text: reply, IsPrivate: true})
	}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}

func fixedID() string { return "survey-1" }

func TestDispatchReportMatchesDistinctRecipients(t *testing.T) {
	in := inbox.New()
	m := newFakeMessenger(in)
	m.replies[1] = "yes"
	m.replies[2] = "no"
	d := NewDispatcher(m, in, WithIDFunc(fixedID))

	alice := Recipient{ID: 1, Name: "Alice"}
	bob := Recipient{ID: 2, Name: "Bob"}
	rep := d.Dispatch(context.Background(),
		[]Recipient{alice, bob, {ID: 1, Name: "Alice again"}},
		func(Recipient) string { return "q" }, time.Second)

	if len(rep.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(rep.Entries))
	}
	if rep.Entries[0].Recipient != alice || rep.Entries[1].Recipient != bob {
		t.Fatalf("entries not in request order with first occurrence kept: %+v", rep.Recipients())
	}
	if m.opens != 2 {
		t.Fatalf("opened %d private chats, want 2", m.opens)
	}
	if rep.ID != "survey-1" {
		t.Fatalf("report id = %q", rep.ID)
	}
}

func TestDispatchKeepsAnswerTextVerbatim(t *testing.T) {
	in := inbox.New()
	m := newFakeMessenger(in)
	raw := "  Blue, *definitely*\n"
	m.replies[1] = raw
	d := NewDispatcher(m, in)

	rep := d.Dispatch(context.Background(), []Recipient{{ID: 1}}, nil, time.Second)
	o := rep.Entries[0].Outcome
	if o.Kind != Answered || o.Text != raw {
		t.Fatalf("outcome = %+v, want Answered %q", o, raw)
	}
	if o.Error() != nil {
		t.Fatalf("answered outcome has error %v", o.Error())
	}
}

func TestDispatchBuildsMessagePerRecipient(t *testing.T) {
	in := inbox.New()
	m := newFakeMessenger(in)
	m.replies[1] = "a"
	m.replies[2] = "b"
	d := NewDispatcher(m, in)

	d.Dispatch(context.Background(), []Recipient{{ID: 1, Name: "A"}, {ID: 2, Name: "B"}},
		func(r Recipient) string { return "hi " + r.Name }, time.Second)

	if m.sent[1] != "hi A" || m.sent[2] != "hi B" {
		t.Fatalf("sent = %v", m.sent)
	}
}

func TestDispatchTimesOutNoEarlierThanTimeout(t *testing.T) {
	in := inbox.New()
	m := newFakeMessenger(in)
	m.replies[1] = "fast"
	d := NewDispatcher(m, in)

	const timeout = 40 * time.Millisecond
	start := time.Now()
	rep := d.Dispatch(context.Background(), []Recipient{{ID: 1}, {ID: 2}}, nil, timeout)
	elapsed := time.Since(start)

	if rep.Entries[0].Outcome.Kind != Answered {
		t.Fatalf("first recipient = %v, want answered", rep.Entries[0].Outcome.Kind)
	}
	o := rep.Entries[1].Outcome
	if o.Kind != TimedOut || !errors.Is(o.Error(), ErrResponseTimeout) {
		t.Fatalf("second recipient = %+v, want TimedOut", o)
	}
	if elapsed < timeout {
		t.Fatalf("dispatch returned after %s, before the %s timeout", elapsed, timeout)
	}
}

func TestDispatchUnreachableDoesNotAffectOthers(t *testing.T) {
	in := inbox.New()
	m := newFakeMessenger(in)
	blocked := kit.Unreachable(errors.New("Forbidden: bot was blocked by the user"))
	m.openErr[1] = blocked
	m.sendErr[2] = errors.New("connection reset")
	m.replies[3] = "here"
	d := NewDispatcher(m, in)

	rep := d.Dispatch(context.Background(), []Recipient{{ID: 1}, {ID: 2}, {ID: 3}}, nil, time.Second)

	cases := []struct {
		idx  int
		kind OutcomeKind
	}{
		{0, Unreachable},
		{1, Unreachable},
		{2, Answered},
	}
	for _, tc := range cases {
		if got := rep.Entries[tc.idx].Outcome.Kind; got != tc.kind {
			t.Fatalf("entry %d kind = %v, want %v", tc.idx, got, tc.kind)
		}
	}
	err := rep.Entries[0].Outcome.Error()
	if !errors.Is(err, ErrChannelUnreachable) || !errors.Is(err, kit.ErrUnreachable) {
		t.Fatalf("unreachable error = %v, want both taxonomy and platform cause", err)
	}
}

func TestDispatchCancelSettlesPendingAsUnreachable(t *testing.T) {
	in := inbox.New()
	m := newFakeMessenger(in)
	d := NewDispatcher(m, in)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	rep := d.Dispatch(ctx, []Recipient{{ID: 1}, {ID: 2}}, nil, time.Minute)
	for i, e := range rep.Entries {
		if e.Outcome.Kind != Unreachable || !errors.Is(e.Outcome.Err, context.Canceled) {
			t.Fatalf("entry %d = %+v, want Unreachable(context canceled)", i, e.Outcome)
		}
	}
}

func TestDispatchRecoversPanickingBuilder(t *testing.T) {
	in := inbox.New()
	m := newFakeMessenger(in)
	m.replies[2] = "ok"
	d := NewDispatcher(m, in)

	rep := d.Dispatch(context.Background(), []Recipient{{ID: 1}, {ID: 2}}, func(r Recipient) string {
		if r.ID == 1 {
			panic("boom")
		}
		return "q"
	}, time.Second)

	if rep.Entries[0].Outcome.Kind != Unreachable {
		t.Fatalf("panicking recipient = %v", rep.Entries[0].Outcome.Kind)
	}
	if rep.Entries[1].Outcome.Kind != Answered {
		t.Fatalf("other recipient = %v", rep.Entries[1].Outcome.Kind)
	}
	if in.Pending() != 0 {
		t.Fatalf("leaked %d watches", in.Pending())
	}
}

func TestDispatchPublishesLifecycleEvents(t *testing.T) {
	in := inbox.New()
	m := newFakeMessenger(in)
	m.replies[1] = "x"
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16)
	defer unsub()
	d := NewDispatcher(m, in, WithBus(bus), WithIDFunc(fixedID))

	d.Dispatch(context.Background(), []Recipient{{ID: 1}, {ID: 2}}, nil, 20*time.Millisecond)

	var types []string
	for len(types) < 4 {
		select {
		case e := <-ch:
			types = append(types, e.Type)
		case <-time.After(time.Second):
			t.Fatalf("only got events %v", types)
		}
	}
	if types[0] != eventbus.SurveyStarted || types[3] != eventbus.SurveySettled {
		t.Fatalf("event order = %v", types)
	}
	for _, tp := range types[1:3] {
		if tp != eventbus.SurveyRecipientSettled {
			t.Fatalf("event order = %v", types)
		}
	}
}

func TestRunSendsPromptToEveryone(t *testing.T) {
	in := inbox.New()
	m := newFakeMessenger(in)
	for i := int64(1); i <= 5; i++ {
		m.replies[i] = fmt.Sprintf("w%d", i)
	}
	d := NewDispatcher(m, in)

	req := Request{Prompt: "pick a word", Timeout: time.Second}
	for i := int64(1); i <= 5; i++ {
		req.Recipients = append(req.Recipients, Recipient{ID: i})
	}
	rep := d.Run(context.Background(), req)

	got := CollectAnswers(rep)
	want := []string{"w1", "w2", "w3", "w4", "w5"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("answers = %v, want %v", got, want)
	}
	for i := int64(1); i <= 5; i++ {
		if m.sent[i] != "pick a word" {
			t.Fatalf("recipient %d got %q", i, m.sent[i])
		}
	}
}
