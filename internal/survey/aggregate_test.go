package survey

import (
	"context"
	"errors"
	"strings"
	"testing"

	kit "huddlebot/internal/transport"
)

type countingGenerator struct {
	calls   int
	prompts []string
	out     string
	err     error
}

func (g *countingGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.calls++
	g.prompts = append(g.prompts, prompt)
	return g.out, g.err
}

type stubSynth struct {
	audio []byte
	err   error
	lang  string
}

func (s *stubSynth) Synthesize(_ context.Context, _ string, lang string) ([]byte, error) {
	s.lang = lang
	return s.audio, s.err
}

func report(entries ...Entry) Report { return Report{Entries: entries} }

func entry(name string, o Outcome) Entry {
	return Entry{Recipient: Recipient{Name: name}, Outcome: o}
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		name string
		rep  Report
		want string
	}{
		{
			name: "all answered",
			rep:  report(entry("A", AnsweredWith("x")), entry("B", AnsweredWith("y"))),
			want: "All users responded.",
		},
		{
			name: "mixed",
			rep:  report(entry("A", AnsweredWith("yes")), entry("B", TimedOutOutcome())),
			want: "Responded: A. Did not respond: B.",
		},
		{
			name: "none answered",
			rep:  report(entry("A", UnreachableBy(kit.ErrUnreachable)), entry("B", TimedOutOutcome())),
			want: "Did not respond: A, B.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Summarize(tt.rep); got != tt.want {
				t.Fatalf("Summarize = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCollectAnswersKeepsOrderAndCount(t *testing.T) {
	rep := report(
		entry("A", AnsweredWith("one")),
		entry("B", TimedOutOutcome()),
		entry("C", AnsweredWith("three")),
		entry("D", UnreachableBy(nil)),
	)
	got := CollectAnswers(rep)
	if len(got) != rep.Count(Answered) {
		t.Fatalf("len = %d, want %d", len(got), rep.Count(Answered))
	}
	if got[0] != "one" || got[1] != "three" {
		t.Fatalf("answers = %v", got)
	}
}

func TestFormatAnswers(t *testing.T) {
	rep := report(
		entry("Alice", AnsweredWith("Blue")),
		entry("Bob", TimedOutOutcome()),
		entry("Carol", UnreachableBy(kit.Unreachable(errors.New("Forbidden")))),
		entry("Dan", UnreachableBy(errors.New("bad gateway"))),
	)
	got := FormatAnswers("Favourite colour?", rep)
	want := strings.Join([]string{
		`Results for the question: "Favourite colour?"`,
		"",
		"Alice: Blue",
		"Bob: No answer (timed out).",
		"Carol: Could not send DM (user has DMs disabled).",
		"Dan: An error occurred: bad gateway",
	}, "\n")
	if got != want {
		t.Fatalf("FormatAnswers =\n%s\nwant\n%s", got, want)
	}
}

func TestGenerateWithNoAnswersSkipsGenerator(t *testing.T) {
	gen := &countingGenerator{out: "poem"}
	rep := report(entry("A", UnreachableBy(kit.ErrUnreachable)))

	if Summarize(rep) != "Did not respond: A." {
		t.Fatalf("summary = %q", Summarize(rep))
	}
	_, err := Generate(context.Background(), gen, "a poem", rep)
	if !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("err = %v, want ErrEmptyInput", err)
	}
	if gen.calls != 0 {
		t.Fatalf("generator called %d times", gen.calls)
	}
}

func TestGenerateCallsGeneratorOnceWithAllAnswers(t *testing.T) {
	gen := &countingGenerator{out: "  the result  "}
	rep := report(
		entry("A", AnsweredWith("apple")),
		entry("B", AnsweredWith("pear")),
		entry("C", AnsweredWith("plum")),
	)
	text, err := Generate(context.Background(), gen, "Write a poem", rep)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "  the result  " {
		t.Fatalf("text = %q, want generator output verbatim", text)
	}
	if gen.calls != 1 {
		t.Fatalf("generator called %d times, want 1", gen.calls)
	}
	want := "Write a poem. Use the following words provided by users: apple, pear, plum"
	if gen.prompts[0] != want {
		t.Fatalf("prompt = %q, want %q", gen.prompts[0], want)
	}
}

func TestGenerateWrapsProviderError(t *testing.T) {
	cause := errors.New("quota exceeded")
	gen := &countingGenerator{err: cause}
	_, err := Generate(context.Background(), gen, "p", report(entry("A", AnsweredWith("w"))))
	if !errors.Is(err, ErrGenerationFailure) || !errors.Is(err, cause) {
		t.Fatalf("err = %v", err)
	}
}

func TestRender(t *testing.T) {
	rep := report(entry("A", AnsweredWith("w")))

	t.Run("ok", func(t *testing.T) {
		synth := &stubSynth{audio: []byte("ID3")}
		art, err := Render(context.Background(), &countingGenerator{out: "text"}, synth, "p", rep, "en")
		if err != nil {
			t.Fatalf("Render: %v", err)
		}
		if art.Text != "text" || string(art.Audio) != "ID3" || art.FileName != AudioFileName {
			t.Fatalf("artifact = %+v", art)
		}
		if synth.lang != "en" {
			t.Fatalf("lang = %q", synth.lang)
		}
	})

	t.Run("synthesis failure", func(t *testing.T) {
		art, err := Render(context.Background(), &countingGenerator{out: "text"}, &stubSynth{err: errors.New("503")}, "p", rep, "en")
		if !errors.Is(err, ErrSynthesisFailure) {
			t.Fatalf("err = %v, want ErrSynthesisFailure", err)
		}
		if art.Text != "" || art.Audio != nil {
			t.Fatalf("artifact = %+v, want empty on synthesis failure", art)
		}
	})

	t.Run("empty input", func(t *testing.T) {
		gen := &countingGenerator{}
		_, err := Render(context.Background(), gen, &stubSynth{}, "p", report(entry("A", TimedOutOutcome())), "en")
		if !errors.Is(err, ErrEmptyInput) || gen.calls != 0 {
			t.Fatalf("err = %v, calls = %d", err, gen.calls)
		}
	})
}

func TestDedupeKeepsFirstOccurrence(t *testing.T) {
	in := []Recipient{{ID: 2, Name: "b"}, {ID: 1, Name: "a"}, {ID: 2, Name: "b2"}}
	got := Dedupe(in)
	if len(got) != 2 || got[0].Name != "b" || got[1].Name != "a" {
		t.Fatalf("Dedupe = %+v", got)
	}
}

func TestRecipientDisplay(t *testing.T) {
	tests := []struct {
		r    Recipient
		want string
	}{
		{Recipient{ID: 1, Name: "Alice", Username: "al"}, "Alice"},
		{Recipient{ID: 1, Username: "al"}, "@al"},
		{Recipient{ID: 42}, "user 42"},
	}
	for _, tt := range tests {
		if got := tt.r.Display(); got != tt.want {
			t.Fatalf("Display(%+v) = %q, want %q", tt.r, got, tt.want)
		}
	}
}
