package survey

import (
	"fmt"
	"strings"
	"time"
)

// DefaultTimeout is how long each recipient has to reply.
const DefaultTimeout = 60 * time.Second

// Recipient identifies a user the bot can message privately.
type Recipient struct {
	ID       int64
	Username string
	Name     string
}

// Display returns the name used in reports.
func (r Recipient) Display() string {
	if s := strings.TrimSpace(r.Name); s != "" {
		return s
	}
	if s := strings.TrimSpace(r.Username); s != "" {
		return "@" + s
	}
	return fmt.Sprintf("user %d", r.ID)
}

type OutcomeKind int

const (
	Answered OutcomeKind = iota + 1
	Unreachable
	TimedOut
)

func (k OutcomeKind) String() string {
	switch k {
	case Answered:
		return "answered"
	case Unreachable:
		return "unreachable"
	case TimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Outcome is the settled result for one recipient.
//
// Text is set only for Answered. Err carries the platform cause for
// Unreachable.
type Outcome struct {
	Kind OutcomeKind
	Text string
	Err  error
}

func AnsweredWith(text string) Outcome { return Outcome{Kind: Answered, Text: text} }
func UnreachableBy(err error) Outcome  { return Outcome{Kind: Unreachable, Err: err} }
func TimedOutOutcome() Outcome         { return Outcome{Kind: TimedOut} }

// Error maps the outcome onto the error taxonomy. It is nil for Answered.
func (o Outcome) Error() error {
	switch o.Kind {
	case Answered:
		return nil
	case TimedOut:
		return ErrResponseTimeout
	case Unreachable:
		if o.Err == nil {
			return ErrChannelUnreachable
		}
		return fmt.Errorf("%w: %w", ErrChannelUnreachable, o.Err)
	default:
		return fmt.Errorf("survey: unsettled outcome")
	}
}

// Request describes one survey run.
type Request struct {
	Prompt     string
	Recipients []Recipient
	Timeout    time.Duration
}

type Entry struct {
	Recipient Recipient
	Outcome   Outcome
}

// Report holds one entry per distinct recipient, in request order.
type Report struct {
	ID      string
	Entries []Entry
	Elapsed time.Duration
}

// Count returns how many entries settled with kind.
func (r Report) Count(kind OutcomeKind) int {
	n := 0
	for _, e := range r.Entries {
		if e.Outcome.Kind == kind {
			n++
		}
	}
	return n
}

func (r Report) Recipients() []Recipient {
	out := make([]Recipient, len(r.Entries))
	for i, e := range r.Entries {
		out[i] = e.Recipient
	}
	return out
}

// Dedupe drops repeated recipient IDs. The first occurrence wins and order is
// otherwise preserved.
func Dedupe(in []Recipient) []Recipient {
	seen := make(map[int64]struct{}, len(in))
	out := make([]Recipient, 0, len(in))
	for _, r := range in {
		if _, ok := seen[r.ID]; ok {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r)
	}
	return out
}

// Event payloads published on the event bus.

type StartedEvent struct {
	SurveyID   string
	Recipients int
	Timeout    time.Duration
}

type RecipientSettledEvent struct {
	SurveyID  string
	Recipient Recipient
	Kind      OutcomeKind
	Elapsed   time.Duration
}

type SettledEvent struct {
	SurveyID    string
	Answered    int
	TimedOut    int
	Unreachable int
	Elapsed     time.Duration
}
