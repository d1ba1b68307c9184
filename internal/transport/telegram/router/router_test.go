package router

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"huddlebot/internal/config"
	kit "huddlebot/internal/transport"
	logx "huddlebot/pkg/logx"
)

type sentText struct {
	to   kit.ChatTarget
	text string
}

type fakeAdapter struct {
	mu   sync.Mutex
	sent []sentText
	menu []kit.BotCommand
	hit  chan struct{}
}

func newFakeAdapter() *fakeAdapter { return &fakeAdapter{hit: make(chan struct{}, 16)} }

func (f *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                         { return nil }

func (f *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	f.sent = append(f.sent, sentText{to: to, text: text})
	n := len(f.sent)
	f.mu.Unlock()
	select {
	case f.hit <- struct{}{}:
	default:
	}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: n}, nil
}

func (f *fakeAdapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	return nil
}

func (f *fakeAdapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	f.mu.Lock()
	f.menu = cmds
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) last(t *testing.T) string {
	t.Helper()
	select {
	case <-f.hit:
	case <-time.After(2 * time.Second):
		t.Fatalf("nothing sent")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1].text
}

func newManager(t *testing.T, ad kit.Adapter, cfg *config.Config) *CommandManager {
	t.Helper()
	cfgm := config.NewConfigManager("unused.json")
	if cfg == nil {
		cfg = &config.Config{}
	}
	cfgm.Commit(cfg)
	return NewCommandManager(logx.Nop(), ad, cfgm, &Services{RuntimeSupervisors: NewSupervisorRegistry()})
}

func runLoop(t *testing.T, m *CommandManager) chan<- kit.Update {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 8)
	done := make(chan struct{})
	go func() {
		_ = m.DispatchLoop(ctx, updates)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return updates
}

func message(fromID int64, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: -100, FromID: fromID, Text: text}}
}

func TestTokenizeArgs(t *testing.T) {
	tests := []struct {
		in      string
		want    []string
		wantErr bool
	}{
		{in: "", want: nil},
		{in: "a b  c", want: []string{"a", "b", "c"}},
		{in: `"John Doe" Jane`, want: []string{"John Doe", "Jane"}},
		{in: `'x y' z`, want: []string{"x y", "z"}},
		{in: `a\ b`, want: []string{"a b"}},
		{in: `"" a`, want: []string{"", "a"}},
		{in: `"open`, wantErr: true},
		{in: `what's up`, wantErr: true},
	}
	for _, tt := range tests {
		got, err := TokenizeArgs(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrUnbalancedQuotes) {
				t.Fatalf("TokenizeArgs(%q) err = %v, want ErrUnbalancedQuotes", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("TokenizeArgs(%q): %v", tt.in, err)
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("TokenizeArgs(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		in, word, tail string
		ok             bool
	}{
		{"/ask @a what's up?", "ask", "@a what's up?", true},
		{"/Help@huddle_bot", "help", "", true},
		{"  /which\n a b ", "which", "a b", true},
		{"hello", "", "", false},
		{"/", "", "", false},
		{"/@bot", "", "", false},
	}
	for _, tt := range tests {
		word, tail, ok := splitCommand(tt.in)
		if word != tt.word || tail != tt.tail || ok != tt.ok {
			t.Fatalf("splitCommand(%q) = (%q, %q, %v)", tt.in, word, tail, ok)
		}
	}
}

func TestSanitizeTelegramCommand(t *testing.T) {
	tests := map[string]string{
		"prompt_audio": "prompt_audio",
		"Prompt-Audio": "prompt_audio",
		"9lives":       "cmd_9lives",
		"--":           "",
	}
	for in, want := range tests {
		if got := sanitizeTelegramCommand(in); got != want {
			t.Fatalf("sanitizeTelegramCommand(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRouteCommandPassesTailAndArgs(t *testing.T) {
	ad := newFakeAdapter()
	m := newManager(t, ad, nil)
	got := make(chan *Request, 1)
	m.SetRegistry([]Command{{
		Name:    "ask",
		Aliases: []string{"q"},
		Handle: func(ctx context.Context, req *Request) error {
			got <- req
			return nil
		},
	}})
	updates := runLoop(t, m)
	updates <- message(7, `/q@bot @ann what's "new"?`)

	select {
	case req := <-got:
		if req.Command != "ask" || req.Tail != `@ann what's "new"?` {
			t.Fatalf("req = %q %q", req.Command, req.Tail)
		}
		if req.ArgsErr == nil || len(req.Args) != 3 {
			t.Fatalf("args = %q err = %v", req.Args, req.ArgsErr)
		}
		if req.Chat.ChatID != -100 || req.FromID != 7 || req.ReqID == "" {
			t.Fatalf("request context wrong: %+v", req)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("handler not called")
	}
}

func TestRouteUnknownAndUnauthorized(t *testing.T) {
	ad := newFakeAdapter()
	m := newManager(t, ad, &config.Config{Telegram: config.TelegramConfig{OwnerUserIDs: []int64{1}}})
	m.SetRegistry([]Command{{
		Name:   "health",
		Access: AccessOwnerOnly,
		Handle: func(ctx context.Context, req *Request) error {
			_, err := req.Reply(ctx, "ok")
			return err
		},
	}})
	updates := runLoop(t, m)

	updates <- message(2, "/nope")
	if got := ad.last(t); got != "unknown command. try /help" {
		t.Fatalf("got %q", got)
	}
	updates <- message(2, "/health")
	if got := ad.last(t); got != "unauthorized" {
		t.Fatalf("got %q", got)
	}
	updates <- message(1, "/health")
	if got := ad.last(t); got != "ok" {
		t.Fatalf("got %q", got)
	}
}

func TestPanickingHandlerKeepsWorkers(t *testing.T) {
	ad := newFakeAdapter()
	m := newManager(t, ad, &config.Config{Router: config.RouterConfig{Workers: 1}})
	m.SetRegistry([]Command{
		{Name: "boom", Handle: func(ctx context.Context, req *Request) error { panic("boom") }},
		{Name: "ping", Handle: func(ctx context.Context, req *Request) error {
			_, err := req.Reply(ctx, "pong")
			return err
		}},
	})
	updates := runLoop(t, m)
	updates <- message(1, "/boom")
	updates <- message(1, "/ping")
	if got := ad.last(t); got != "pong" {
		t.Fatalf("got %q", got)
	}
}

func TestHelpAndMenu(t *testing.T) {
	ad := newFakeAdapter()
	m := newManager(t, ad, nil)
	m.SetRegistry([]Command{
		{Name: "which", Description: "Chooses from given options.", Usage: "/which a b", Handle: func(context.Context, *Request) error { return nil }},
		{Name: "prompt-audio", Description: "Audio.", Handle: func(context.Context, *Request) error { return nil }},
	})

	list := m.helpText(nil)
	for _, want := range []string{"<code>/help</code>", "<code>/which</code>: Chooses from given options."} {
		if !strings.Contains(list, want) {
			t.Fatalf("help list missing %q:\n%s", want, list)
		}
	}
	if detail := m.helpText([]string{"/which"}); !strings.Contains(detail, "/which a b") {
		t.Fatalf("help detail missing usage:\n%s", detail)
	}
	if _, ok := m.Lookup("prompt_audio"); !ok {
		t.Fatalf("sanitized alias not registered")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		ad.mu.Lock()
		menu := ad.menu
		ad.mu.Unlock()
		if len(menu) == 3 {
			if menu[0].Command != "help" || menu[1].Command != "prompt_audio" {
				t.Fatalf("menu = %+v", menu)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("menu not updated: %+v", menu)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
