// Package survey fans a question out to several users over private chats,
// waits a bounded time for each reply and aggregates the results.
package survey

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"huddlebot/internal/eventbus"
	kit "huddlebot/internal/transport"
	"huddlebot/internal/transport/inbox"
	logx "huddlebot/pkg/logx"
)

// Dispatcher runs surveys. It is safe for concurrent use; independent
// surveys do not share state beyond the inbox.
type Dispatcher struct {
	msg   kit.Messenger
	inbox *inbox.Inbox
	bus   eventbus.Bus
	log   logx.Logger
	newID func() string
}

type Option func(*Dispatcher)

func WithLogger(log logx.Logger) Option { return func(d *Dispatcher) { d.log = log } }
func WithBus(b eventbus.Bus) Option     { return func(d *Dispatcher) { d.bus = b } }

// WithIDFunc overrides survey id generation.
func WithIDFunc(fn func() string) Option { return func(d *Dispatcher) { d.newID = fn } }

func NewDispatcher(msg kit.Messenger, in *inbox.Inbox, opts ...Option) *Dispatcher {
	d := &Dispatcher{msg: msg, inbox: in, newID: uuid.NewString}
	for _, o := range opts {
		o(d)
	}
	if d.log.IsZero() {
		d.log = logx.Nop()
	}
	if d.bus == nil {
		d.bus = eventbus.Nop()
	}
	return d
}

// Run dispatches req with the same message for every recipient.
func (d *Dispatcher) Run(ctx context.Context, req Request) Report {
	return d.Dispatch(ctx, req.Recipients, func(Recipient) string { return req.Prompt }, req.Timeout)
}

// Dispatch messages every distinct recipient privately and waits up to
// timeout for each one's next reply. It returns once all recipients have
// settled; one recipient's failure never shortens another's wait.
//
// Cancelling ctx settles the pending recipients as Unreachable.
func (d *Dispatcher) Dispatch(ctx context.Context, recipients []Recipient, build func(Recipient) string, timeout time.Duration) Report {
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	uniq := Dedupe(recipients)
	id := d.newID()
	log := d.log.With(logx.String("survey_id", id))
	start := time.Now()

	d.bus.Publish(eventbus.Event{Type: eventbus.SurveyStarted, Data: StartedEvent{
		SurveyID: id, Recipients: len(uniq), Timeout: timeout,
	}})
	log.Info("survey started", logx.Int("recipients", len(uniq)), logx.Duration("timeout", timeout))

	entries := make([]Entry, len(uniq))
	var wg sync.WaitGroup
	for i, r := range uniq {
		wg.Add(1)
		go func(i int, r Recipient) {
			defer wg.Done()
			began := time.Now()
			out := d.settle(ctx, r, build, timeout, log)
			entries[i] = Entry{Recipient: r, Outcome: out}

			d.bus.Publish(eventbus.Event{Type: eventbus.SurveyRecipientSettled, Data: RecipientSettledEvent{
				SurveyID: id, Recipient: r, Kind: out.Kind, Elapsed: time.Since(began),
			}})
		}(i, r)
	}
	wg.Wait()

	rep := Report{ID: id, Entries: entries, Elapsed: time.Since(start)}
	d.bus.Publish(eventbus.Event{Type: eventbus.SurveySettled, Data: SettledEvent{
		SurveyID:    id,
		Answered:    rep.Count(Answered),
		TimedOut:    rep.Count(TimedOut),
		Unreachable: rep.Count(Unreachable),
		Elapsed:     rep.Elapsed,
	}})
	log.Info("survey settled",
		logx.Int("answered", rep.Count(Answered)),
		logx.Int("timed_out", rep.Count(TimedOut)),
		logx.Int("unreachable", rep.Count(Unreachable)),
		logx.Duration("took", rep.Elapsed),
	)
	return rep
}

// settle never panics; a panicking collaborator marks the recipient
// unreachable.
func (d *Dispatcher) settle(ctx context.Context, r Recipient, build func(Recipient) string, timeout time.Duration, log logx.Logger) (out Outcome) {
	defer func() {
		if p := recover(); p != nil {
			log.Error("panic while surveying recipient",
				logx.Int64("user_id", r.ID),
				logx.Any("panic", p),
				logx.String("stack", string(debug.Stack())),
			)
			out = UnreachableBy(fmt.Errorf("panic: %v", p))
		}
	}()

	chat, err := d.msg.OpenPrivate(ctx, r.ID)
	if err != nil {
		log.Debug("open private chat failed", logx.Int64("user_id", r.ID), logx.Err(err))
		return UnreachableBy(err)
	}

	text := ""
	if build != nil {
		text = build(r)
	}

	// Watch first so a reply racing the send is still seen.
	w := d.inbox.Watch(inbox.FromUserInChat(r.ID, chat.ChatID))
	if _, err := d.msg.SendText(ctx, chat, text, nil); err != nil {
		w.Cancel()
		log.Debug("send to recipient failed", logx.Int64("user_id", r.ID), logx.Err(err))
		return UnreachableBy(err)
	}

	msg, err := w.Wait(ctx, timeout)
	switch {
	case err == nil:
		return AnsweredWith(msg.Text)
	case errors.Is(err, inbox.ErrTimeout):
		return TimedOutOutcome()
	default:
		return UnreachableBy(err)
	}
}
