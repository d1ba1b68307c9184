package party

import (
	"context"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"testing"

	core "huddlebot/internal/plugin"
	kit "huddlebot/internal/transport"
	"huddlebot/internal/transport/telegram/router"
)

type recorder struct {
	mu   sync.Mutex
	sent []string
}

func (r *recorder) Start(context.Context, chan<- kit.Update) error { return nil }
func (r *recorder) Stop(context.Context) error                     { return nil }
func (r *recorder) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(r.sent)}, nil
}
func (r *recorder) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}

// run invokes the named command the way the router would.
func run(t *testing.T, p *Plugin, name, tail string, msg kit.Message) string {
	t.Helper()
	var cmd core.Command
	for _, c := range p.Commands() {
		if c.Name == name {
			cmd = c
		}
	}
	if cmd.Handle == nil {
		t.Fatalf("no command %q", name)
	}
	rec := &recorder{}
	args, err := router.TokenizeArgs(tail)
	if err != nil {
		args = strings.Fields(tail)
	}
	req := &core.Request{Message: msg, Tail: tail, Args: args, ArgsErr: err, Adapter: rec}
	if err := cmd.Handle(context.Background(), req); err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	if len(rec.sent) != 1 {
		t.Fatalf("sent %d messages", len(rec.sent))
	}
	return rec.sent[0]
}

func TestHello(t *testing.T) {
	p := New()
	if got := run(t, p, "hello", "", kit.Message{FromName: "Ann Lee"}); got != "Hello Ann Lee!" {
		t.Fatalf("got %q", got)
	}
	if got := run(t, p, "hello", "", kit.Message{FromUsername: "ann"}); got != "Hello @ann!" {
		t.Fatalf("got %q", got)
	}
}

func TestTeamsAndWhichValidation(t *testing.T) {
	tests := []struct {
		cmd, tail, want string
	}{
		{"teams", "", "Please provide a list of players. Example: /teams Player1 Player2 Player3 Player4"},
		{"teams", `"John Doe`, "Invalid input. Make sure the quotes are correct."},
		{"teams", "solo", "Please provide at least two players."},
		{"which", "", `Please provide a list of options. Example: /which CS Valorant "League of Legends"`},
		{"which", `'a b`, "Invalid input. Make sure the quotes are correct."},
		{"which", `"only one"`, "Please provide at least two options."},
	}
	for _, tt := range tests {
		if got := run(t, New(), tt.cmd, tt.tail, kit.Message{}); got != tt.want {
			t.Fatalf("/%s %s = %q, want %q", tt.cmd, tt.tail, got, tt.want)
		}
	}
}

func TestTeamsSplitsEveryone(t *testing.T) {
	p := New().WithRand(rand.New(rand.NewSource(1)))
	got := run(t, p, "teams", `a b c "John Doe" e`, kit.Message{})
	lines := strings.Split(got, "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "Team A: ") || !strings.HasPrefix(lines[1], "Team B: ") {
		t.Fatalf("unexpected reply %q", got)
	}
	teamA := strings.Split(strings.TrimPrefix(lines[0], "Team A: "), ", ")
	teamB := strings.Split(strings.TrimPrefix(lines[1], "Team B: "), ", ")
	if len(teamA) != 2 || len(teamB) != 3 {
		t.Fatalf("sizes %d/%d", len(teamA), len(teamB))
	}
	all := append(teamA, teamB...)
	sort.Strings(all)
	if strings.Join(all, "|") != "John Doe|a|b|c|e" {
		t.Fatalf("players lost or duplicated: %v", all)
	}
}

func TestWhichPicksAnOption(t *testing.T) {
	p := New().WithRand(rand.New(rand.NewSource(7)))
	got := run(t, p, "which", `CS Valorant "League of Legends"`, kit.Message{})
	switch got {
	case "I have chosen: CS", "I have chosen: Valorant", "I have chosen: League of Legends":
	default:
		t.Fatalf("got %q", got)
	}
}
