// Package survey provides the fan-out commands: /ask reports each mentioned
// user's answer, /prompt and /prompt_audio feed the answers to Gemini.
package survey

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"huddlebot/internal/config"
	core "huddlebot/internal/plugin"
	"huddlebot/internal/storage"
	sv "huddlebot/internal/survey"
	kit "huddlebot/internal/transport"
)

const (
	usageAsk    = "Usage: /ask @User1 @User2 Your question here"
	usagePrompt = "Usage: /prompt @User1 @User2 Your prompt for the content"
	usageAudio  = "Usage: /prompt_audio @User1 @User2 Your prompt for the content"

	msgNoInput   = "No one provided any input, so I can't create anything."
	resultHeader = "Here is the result based on your prompt and input:\n\n"

	// captionLimit is Telegram's media caption length.
	captionLimit = 1024
)

type Config struct {
	// DMFooter is appended to every direct message.
	DMFooter string `json:"dm_footer"`
}

type Plugin struct {
	core.PluginBase

	cfg atomic.Pointer[Config]
}

func New() *Plugin {
	p := &Plugin{}
	p.cfg.Store(&Config{})
	return p
}

func (p *Plugin) Name() string { return "survey" }

func (p *Plugin) Init(ctx context.Context, deps core.PluginDeps) error {
	p.InitBase(deps, p.Name())
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	p.StartBase(ctx)
	return nil
}

func (p *Plugin) Stop(ctx context.Context) error { return p.StopBase(ctx) }

func (p *Plugin) ValidateConfig(ctx context.Context, raw json.RawMessage) error {
	_, err := core.DecodePluginConfig[Config](raw)
	return err
}

func (p *Plugin) OnConfigChange(ctx context.Context, raw json.RawMessage) error {
	cfg, err := core.DecodePluginConfig[Config](raw)
	if err != nil {
		return err
	}
	p.cfg.Store(&cfg)
	return nil
}

func (p *Plugin) Commands() []core.Command {
	return []core.Command{
		{
			Name:        "ask",
			Description: "Asks mentioned users a question via DM and reports their answers.",
			Usage:       "/ask @User1 @User2 Your question here",
			Handle:      p.cmdAsk,
		},
		{
			Name:        "prompt",
			Description: "Creates content from user-provided input and a prompt.",
			Usage:       "/prompt @User1 @User2 Your prompt for the content",
			Handle:      p.cmdPrompt,
		},
		{
			Name:        "prompt_audio",
			Description: "Creates content from user-provided input and a prompt, and reads it out as audio.",
			Usage:       "/prompt_audio @User1 @User2 Your prompt for the content",
			Handle:      p.cmdPromptAudio,
		},
	}
}

// round is one finished fan-out.
type round struct {
	text   string
	report sv.Report
}

type phrasing struct {
	usage    string
	announce func(names, text string, secs int) string
	dm       func(author, where, text string, secs int) string
}

var askPhrasing = phrasing{
	usage: usageAsk,
	announce: func(names, text string, secs int) string {
		return fmt.Sprintf("Sending the question %s to %s. They have %d seconds to answer.", quote(text), names, secs)
	},
	dm: func(author, where, text string, secs int) string {
		return fmt.Sprintf("You have a question from %s%s:\n\n%s\n\nPlease reply to this message with your answer. You have %d seconds.", author, where, text, secs)
	},
}

func promptPhrasing(usage string) phrasing {
	return phrasing{
		usage: usage,
		announce: func(names, text string, secs int) string {
			return fmt.Sprintf("Asking for input from %s for the prompt: %s. They have %d seconds to answer.", names, quote(text), secs)
		},
		dm: func(author, where, text string, secs int) string {
			return fmt.Sprintf("You have a request from %s%s for a prompt: %s.\n\nPlease reply with a short and simple answer. You have %d seconds.", author, where, quote(text), secs)
		},
	}
}

func (p *Plugin) cmdAsk(ctx context.Context, req *core.Request) error {
	start := time.Now()
	r, ok, err := p.gather(ctx, req, askPhrasing)
	if !ok {
		return err
	}
	_, err = req.Reply(ctx, sv.FormatAnswers(r.text, r.report))
	p.audit(ctx, req, r, start, err)
	return err
}

func (p *Plugin) cmdPrompt(ctx context.Context, req *core.Request) error {
	start := time.Now()
	r, ok, err := p.gather(ctx, req, promptPhrasing(usagePrompt))
	if !ok {
		return err
	}
	if _, err := req.Reply(ctx, sv.Summarize(r.report)+" Generating content with Gemini..."); err != nil {
		return err
	}
	text, genErr := sv.Generate(ctx, req.Services.Generator, r.text, r.report)
	switch {
	case errors.Is(genErr, sv.ErrEmptyInput):
		_, err = req.Reply(ctx, msgNoInput)
	case genErr != nil:
		_, err = req.Reply(ctx, "An error occurred while generating content with Gemini: "+genErr.Error())
	default:
		_, err = req.Reply(ctx, resultHeader+text)
	}
	p.audit(ctx, req, r, start, errors.Join(genErr, err))
	return err
}

func (p *Plugin) cmdPromptAudio(ctx context.Context, req *core.Request) error {
	start := time.Now()
	r, ok, err := p.gather(ctx, req, promptPhrasing(usageAudio))
	if !ok {
		return err
	}
	if _, err := req.Reply(ctx, sv.Summarize(r.report)+" Generating content with Gemini..."); err != nil {
		return err
	}
	lang := settings(req).LanguageOrDefault()
	art, renderErr := sv.Render(ctx, req.Services.Generator, req.Services.Synthesizer, r.text, r.report, lang)
	switch {
	case errors.Is(renderErr, sv.ErrEmptyInput):
		_, err = req.Reply(ctx, msgNoInput)
	case renderErr != nil:
		_, err = req.Reply(ctx, "An error occurred: "+renderErr.Error())
	default:
		err = p.sendResult(ctx, req, art)
	}
	p.audit(ctx, req, r, start, errors.Join(renderErr, err))
	return err
}

// sendResult delivers the text and the audio as one message when the text
// fits in a caption; longer text goes out right before the audio.
func (p *Plugin) sendResult(ctx context.Context, req *core.Request, art sv.Artifact) error {
	as, ok := req.Adapter.(kit.AudioSender)
	if !ok {
		_, err := req.Reply(ctx, "An error occurred: this chat does not support audio.")
		return err
	}
	text := resultHeader + art.Text
	au := kit.Audio{Data: bytes.NewReader(art.Audio), FileName: art.FileName}
	if utf8.RuneCountInString(text) <= captionLimit {
		au.Caption = text
	} else if _, err := req.Reply(ctx, text); err != nil {
		return err
	}
	if _, err := as.SendAudio(ctx, req.Chat, au); err != nil {
		_, _ = req.Reply(ctx, "An error occurred: "+err.Error())
		return err
	}
	return nil
}

// gather parses recipients and text, announces the round, and waits for the
// answers. ok is false when the command ended early with a reply of its own.
func (p *Plugin) gather(ctx context.Context, req *core.Request, ph phrasing) (r round, ok bool, err error) {
	serv := req.Services
	if serv == nil || serv.Surveys == nil {
		_, err = req.Reply(ctx, "Surveys are not available right now.")
		return round{}, false, err
	}

	mentions, text := splitMentions(req.Message.Mentions, req.Tail)
	if len(mentions) == 0 || text == "" {
		_, err = req.Reply(ctx, ph.usage)
		return round{}, false, err
	}

	recipients, unknown := p.resolve(ctx, req, mentions)
	recipients = sv.Dedupe(recipients)
	if len(unknown) > 0 {
		msg := "I don't know " + strings.Join(unknown, ", ") + " yet. They need to send a message in a chat I'm in first."
		if _, err = req.Reply(ctx, msg); err != nil {
			return round{}, false, err
		}
	}
	if len(recipients) == 0 {
		return round{}, false, nil
	}
	if limit := settings(req).MaxRecipientsOrDefault(); len(recipients) > limit {
		_, err = req.Reply(ctx, fmt.Sprintf("Too many recipients (%d). The limit is %d.", len(recipients), limit))
		return round{}, false, err
	}

	timeout, _ := settings(req).TimeoutOrDefault()
	secs := wholeSeconds(timeout)
	names := make([]string, 0, len(recipients))
	for _, rc := range recipients {
		names = append(names, rc.Display())
	}
	if _, err = req.Reply(ctx, ph.announce(strings.Join(names, ", "), text, secs)); err != nil {
		return round{}, false, err
	}

	author := req.Message.FromName
	if author == "" && req.Message.FromUsername != "" {
		author = "@" + req.Message.FromUsername
	}
	where := ""
	if t := strings.TrimSpace(req.Message.ChatTitle); t != "" && !req.Message.IsPrivate {
		where = fmt.Sprintf(" in the chat '%s'", t)
	}
	dm := ph.dm(author, where, text, secs)
	if footer := strings.TrimSpace(p.cfg.Load().DMFooter); footer != "" {
		dm += "\n\n" + footer
	}

	rep := serv.Surveys.Dispatch(ctx, recipients, func(sv.Recipient) string { return dm }, timeout)
	return round{text: text, report: rep}, true, nil
}

// quote wraps user text in plain double quotes, leaving it unescaped.
func quote(s string) string { return `"` + s + `"` }

// wholeSeconds rounds d up, so a sub-second window is never announced as
// 0 seconds.
func wholeSeconds(d time.Duration) int {
	return int((d + time.Second - 1) / time.Second)
}

func settings(req *core.Request) config.SurveyConfig {
	if req.Config == nil {
		return config.SurveyConfig{}
	}
	return req.Config.Survey
}

// splitMentions takes the mentions that lead tail and returns the rest of
// tail as the question or prompt.
func splitMentions(all []kit.Mention, tail string) ([]kit.Mention, string) {
	rest := strings.TrimSpace(tail)
	var lead []kit.Mention
	for _, m := range all {
		if m.Text == "" || !strings.HasPrefix(rest, m.Text) {
			break
		}
		lead = append(lead, m)
		rest = strings.TrimSpace(rest[len(m.Text):])
	}
	return lead, rest
}

// resolve maps mentions to recipients. Plain @username mentions need the
// directory; the ones it has never seen are returned as unknown.
func (p *Plugin) resolve(ctx context.Context, req *core.Request, mentions []kit.Mention) ([]sv.Recipient, []string) {
	var out []sv.Recipient
	var unknown []string
	for _, m := range mentions {
		if m.UserID != 0 {
			out = append(out, sv.Recipient{ID: m.UserID, Username: m.Username, Name: m.Name})
			continue
		}
		var (
			u     storage.User
			found bool
		)
		if dir := req.Services.Directory; dir != nil {
			u, found = dir.Lookup(ctx, m.Username)
		}
		if !found {
			unknown = append(unknown, "@"+strings.TrimPrefix(m.Username, "@"))
			continue
		}
		out = append(out, sv.Recipient{ID: u.ID, Username: u.Username, Name: u.Name})
	}
	return out, unknown
}

func (p *Plugin) audit(ctx context.Context, req *core.Request, r round, start time.Time, err error) {
	meta, _ := json.Marshal(map[string]any{
		"survey_id":   r.report.ID,
		"recipients":  len(r.report.Entries),
		"timed_out":   r.report.Count(sv.TimedOut),
		"unreachable": r.report.Count(sv.Unreachable),
	})
	e := storage.AuditEntry{
		ActorID:       req.FromID,
		ActorUsername: req.Message.FromUsername,
		ChatID:        req.Chat.ChatID,
		ThreadID:      req.Chat.ThreadID,
		Plugin:        p.Name(),
		Action:        req.Command,
		Target:        r.text,
		OK:            r.report.Count(sv.Answered),
		Fail:          len(r.report.Entries) - r.report.Count(sv.Answered),
		TookMS:        time.Since(start).Milliseconds(),
		MetaJSON:      string(meta),
	}
	if err != nil {
		e.Error = err.Error()
	}
	p.AppendAudit(ctx, e)
}
