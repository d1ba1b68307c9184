package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	core "huddlebot/internal/plugin"
	"huddlebot/internal/storage"
	kit "huddlebot/internal/transport"
	logx "huddlebot/pkg/logx"
)

const usage = "Please provide a prompt for Gemini. Example: /gemini What is the meaning of life?"

type Config struct {
	// MaxPromptChars rejects longer prompts; 0 means no limit.
	MaxPromptChars int `json:"max_prompt_chars"`
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

func (p *Plugin) Name() string { return "gemini" }

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
	c, err := core.DecodePluginConfig[Config](raw)
	if err != nil {
		return err
	}
	if c.MaxPromptChars < 0 {
		return fmt.Errorf("max_prompt_chars must be >= 0")
	}
	return nil
}

func (p *Plugin) OnConfigChange(ctx context.Context, raw json.RawMessage) error {
	c, err := core.DecodePluginConfig[Config](raw)
	if err != nil {
		return err
	}
	p.cfg.Store(&c)
	return nil
}

func (p *Plugin) Commands() []core.Command {
	return []core.Command{
		{
			Name:        "gemini",
			Aliases:     []string{"ai"},
			Description: "Ask Gemini anything.",
			Usage:       "/gemini <prompt>",
			Access:      core.AccessEveryone,
			Handle:      p.cmdGemini,
		},
	}
}

func (p *Plugin) cmdGemini(ctx context.Context, req *core.Request) error {
	prompt := strings.TrimSpace(req.Tail)
	if prompt == "" {
		_, err := req.Reply(ctx, usage)
		return err
	}
	if limit := p.cfg.Load().MaxPromptChars; limit > 0 && utf8.RuneCountInString(prompt) > limit {
		_, err := req.Reply(ctx, fmt.Sprintf("That prompt is too long. Keep it under %d characters.", limit))
		return err
	}

	wait, err := req.Reply(ctx, "Asking Gemini: \""+prompt+"\". Please wait...")
	if err != nil {
		return err
	}

	start := time.Now()
	var answer string
	gen := req.Services.Generator
	if gen == nil {
		err = fmt.Errorf("no generator configured")
	} else {
		answer, err = gen.Generate(ctx, prompt)
	}
	if err != nil {
		req.Logger.Warn("gemini request failed", logx.Err(err))
		answer = "An error occurred while communicating with Gemini: " + err.Error()
	}
	p.audit(ctx, req, prompt, start, err)

	// Replace the wait message; fall back to a new one if it can't be edited.
	if editErr := req.Adapter.EditText(ctx, wait, answer, &kit.SendOptions{DisablePreview: true}); editErr != nil {
		req.Logger.Debug("edit wait message failed", logx.Err(editErr))
		_, err = req.Reply(ctx, answer)
		return err
	}
	return nil
}

func (p *Plugin) audit(ctx context.Context, req *core.Request, prompt string, start time.Time, err error) {
	e := storage.AuditEntry{
		ActorID:       req.FromID,
		ActorUsername: req.Message.FromUsername,
		ChatID:        req.Chat.ChatID,
		ThreadID:      req.Chat.ThreadID,
		Plugin:        p.Name(),
		Action:        req.Command,
		Target:        prompt,
		OK:            1,
		TookMS:        time.Since(start).Milliseconds(),
	}
	if err != nil {
		e.OK, e.Fail, e.Error = 0, 1, err.Error()
	}
	p.AppendAudit(ctx, e)
}
