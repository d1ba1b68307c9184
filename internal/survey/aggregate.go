package survey

import (
	"context"
	"errors"
	"fmt"
	"strings"

	kit "huddlebot/internal/transport"
)

// AudioFileName is the attachment name used for synthesized results.
const AudioFileName = "generated_content.mp3"

// Generator produces text from a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Synthesizer turns text into MP3 audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, lang string) ([]byte, error)
}

// Artifact is the output of Render.
type Artifact struct {
	Text     string
	Audio    []byte
	FileName string
}

// Summarize lists who answered and who did not.
func Summarize(rep Report) string {
	var responded, missing []string
	for _, e := range rep.Entries {
		if e.Outcome.Kind == Answered {
			responded = append(responded, e.Recipient.Display())
		} else {
			missing = append(missing, e.Recipient.Display())
		}
	}
	if len(missing) == 0 {
		return "All users responded."
	}
	parts := make([]string, 0, 2)
	if len(responded) > 0 {
		parts = append(parts, "Responded: "+strings.Join(responded, ", ")+".")
	}
	parts = append(parts, "Did not respond: "+strings.Join(missing, ", ")+".")
	return strings.Join(parts, " ")
}

// CollectAnswers returns the answered texts in report order.
func CollectAnswers(rep Report) []string {
	out := make([]string, 0, len(rep.Entries))
	for _, e := range rep.Entries {
		if e.Outcome.Kind == Answered {
			out = append(out, e.Outcome.Text)
		}
	}
	return out
}

// FormatAnswers renders the per-recipient results of a question.
func FormatAnswers(question string, rep Report) string {
	var b strings.Builder
	b.WriteString("Results for the question: \"" + question + "\"\n")
	for _, e := range rep.Entries {
		b.WriteString("\n")
		b.WriteString(e.Recipient.Display())
		b.WriteString(": ")
		b.WriteString(describe(e.Outcome))
	}
	return b.String()
}

func describe(o Outcome) string {
	switch o.Kind {
	case Answered:
		return o.Text
	case TimedOut:
		return "No answer (timed out)."
	case Unreachable:
		if o.Err == nil || errors.Is(o.Err, kit.ErrUnreachable) {
			return "Could not send DM (user has DMs disabled)."
		}
		return "An error occurred: " + o.Err.Error()
	default:
		return "No answer."
	}
}

// ComposePrompt appends the collected answers to prompt.
func ComposePrompt(prompt string, answers []string) string {
	return prompt + ". Use the following words provided by users: " + strings.Join(answers, ", ")
}

// Generate makes exactly one generator call with the answered texts. With no
// answers it returns ErrEmptyInput without calling gen.
func Generate(ctx context.Context, gen Generator, prompt string, rep Report) (string, error) {
	answers := CollectAnswers(rep)
	if len(answers) == 0 {
		return "", ErrEmptyInput
	}
	if gen == nil {
		return "", fmt.Errorf("%w: no generator configured", ErrGenerationFailure)
	}
	text, err := gen.Generate(ctx, ComposePrompt(prompt, answers))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGenerationFailure, err)
	}
	return text, nil
}

// Render generates text from the report and synthesizes it to audio. Any
// failure fails the whole artifact; the text is never returned without its
// audio.
func Render(ctx context.Context, gen Generator, synth Synthesizer, prompt string, rep Report, lang string) (Artifact, error) {
	text, err := Generate(ctx, gen, prompt, rep)
	if err != nil {
		return Artifact{}, err
	}
	if synth == nil {
		return Artifact{}, fmt.Errorf("%w: no synthesizer configured", ErrSynthesisFailure)
	}
	audio, err := synth.Synthesize(ctx, text, lang)
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: %w", ErrSynthesisFailure, err)
	}
	return Artifact{Text: text, Audio: audio, FileName: AudioFileName}, nil
}
