// Package party holds the small group-game commands: greetings, random
// teams and random picks.
package party

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	core "huddlebot/internal/plugin"
	"huddlebot/internal/transport/telegram/router"
)

type Plugin struct {
	core.PluginBase

	mu  sync.Mutex
	rng *rand.Rand
}

func New() *Plugin {
	return &Plugin{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// WithRand replaces the random source (tests).
func (p *Plugin) WithRand(r *rand.Rand) *Plugin {
	p.rng = r
	return p
}

func (p *Plugin) Name() string { return "party" }

func (p *Plugin) Init(ctx context.Context, deps core.PluginDeps) error {
	p.InitBase(deps, p.Name())
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	p.StartBase(ctx)
	return nil
}

func (p *Plugin) Stop(ctx context.Context) error { return p.StopBase(ctx) }

func (p *Plugin) Commands() []core.Command {
	return []core.Command{
		{
			Name:        "hello",
			Description: "Says hello.",
			Usage:       "/hello",
			Handle:      p.cmdHello,
		},
		{
			Name:        "teams",
			Description: `Randomizes players into two teams. Separate players with spaces. If a name contains spaces, use quotes (e.g., "John Doe").`,
			Usage:       "/teams Player1 Player2 Player3 Player4",
			Handle:      p.cmdTeams,
		},
		{
			Name:        "which",
			Description: "Chooses a game (or anything from given options).",
			Usage:       `/which CS Valorant "League of Legends"`,
			Handle:      p.cmdWhich,
		},
	}
}

func (p *Plugin) cmdHello(ctx context.Context, req *core.Request) error {
	name := req.Message.FromName
	if name == "" && req.Message.FromUsername != "" {
		name = "@" + req.Message.FromUsername
	}
	_, err := req.Reply(ctx, "Hello "+name+"!")
	return err
}

// list validates the quoted argument list shared by /teams and /which.
func list(req *core.Request, noun, example string) ([]string, string) {
	if strings.TrimSpace(req.Tail) == "" {
		return nil, "Please provide a list of " + noun + ". Example: " + example
	}
	if errors.Is(req.ArgsErr, router.ErrUnbalancedQuotes) {
		return nil, "Invalid input. Make sure the quotes are correct."
	}
	if len(req.Args) < 2 {
		return nil, "Please provide at least two " + noun + "."
	}
	return append([]string(nil), req.Args...), ""
}

func (p *Plugin) cmdTeams(ctx context.Context, req *core.Request) error {
	players, problem := list(req, "players", "/teams Player1 Player2 Player3 Player4")
	if problem != "" {
		_, err := req.Reply(ctx, problem)
		return err
	}
	a, b := p.split(players)
	_, err := req.Reply(ctx, "Team A: "+strings.Join(a, ", ")+"\nTeam B: "+strings.Join(b, ", "))
	return err
}

func (p *Plugin) cmdWhich(ctx context.Context, req *core.Request) error {
	options, problem := list(req, "options", `/which CS Valorant "League of Legends"`)
	if problem != "" {
		_, err := req.Reply(ctx, problem)
		return err
	}
	_, err := req.Reply(ctx, "I have chosen: "+p.pick(options))
	return err
}

// split shuffles players and cuts them in half; Team B gets the odd one.
func (p *Plugin) split(players []string) (a, b []string) {
	p.mu.Lock()
	p.rng.Shuffle(len(players), func(i, j int) { players[i], players[j] = players[j], players[i] })
	p.mu.Unlock()
	half := len(players) / 2
	return players[:half], players[half:]
}

func (p *Plugin) pick(options []string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return options[p.rng.Intn(len(options))]
}
