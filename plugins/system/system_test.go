package system

import (
	"context"
	"strings"
	"testing"
	"time"

	"huddlebot/internal/config"
	core "huddlebot/internal/plugin"
	kit "huddlebot/internal/transport"
	"huddlebot/internal/transport/inbox"
	"huddlebot/internal/transport/telegram/router"
	logx "huddlebot/pkg/logx"
)

type sink struct{ sent []string }

func (s *sink) Start(context.Context, chan<- kit.Update) error { return nil }
func (s *sink) Stop(context.Context) error                     { return nil }
func (s *sink) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	s.sent = append(s.sent, text)
	return kit.MessageRef{}, nil
}
func (s *sink) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error { return nil }

type pluginsStub []core.Status

func (p pluginsStub) Snapshot() []core.Status { return p }

func TestDurRel(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{42 * time.Second, "42s"},
		{3*time.Minute + 5*time.Second, "3m5s"},
		{26*time.Hour + 7*time.Minute, "26h7m"},
		{-10 * time.Second, "10s"},
	}
	for _, tt := range tests {
		if got := durRel(tt.in); got != tt.want {
			t.Errorf("durRel(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFmtBytes(t *testing.T) {
	if got := fmtBytes(512); got != "512B" {
		t.Fatalf("got %q", got)
	}
	if got := fmtBytes(3 << 20); got != "3.0MB" {
		t.Fatalf("got %q", got)
	}
}

func TestUptime(t *testing.T) {
	p := New()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return start }
	_ = p.Init(context.Background(), core.PluginDeps{Logger: logx.Nop()})
	p.now = func() time.Time { return start.Add(90 * time.Second) }

	out := &sink{}
	var uptime core.Command
	for _, c := range p.Commands() {
		if c.Name == "uptime" {
			uptime = c
		}
	}
	if err := uptime.Handle(context.Background(), &core.Request{Adapter: out}); err != nil {
		t.Fatal(err)
	}
	if len(out.sent) != 1 || out.sent[0] != "uptime: 1m30s" {
		t.Fatalf("sent = %q", out.sent)
	}
}

func TestHealthReport(t *testing.T) {
	p := New()
	_ = p.Init(context.Background(), core.PluginDeps{Logger: logx.Nop()})
	in := inbox.New()
	defer in.Close()
	w := in.Watch(inbox.FromUserInChat(1, 1))
	defer w.Cancel()

	req := &core.Request{
		Adapter: &sink{},
		Config:  &config.Config{Telegram: config.TelegramConfig{OwnerUserIDs: []int64{11, 12}}},
		Services: &core.Services{
			Inbox: in,
			Plugins: pluginsStub{
				{Name: "party", Enabled: true, Running: true},
				{Name: "survey", Enabled: true, LastErr: "bad config"},
			},
			RuntimeSupervisors: router.NewSupervisorRegistry(),
		},
	}
	got := p.renderHealth(req)
	for _, want := range []string{
		"Status: Degraded",
		"Owners: 11, 12",
		"Plugins: 2 loaded (2 enabled, 1 running)",
		"Waiting replies: 1",
		"✅ party",
		"⚠️ survey: bad config",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("health missing %q:\n%s", want, got)
		}
	}
}
