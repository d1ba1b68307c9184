package system

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"

	"huddlebot/internal/eventbus"
	core "huddlebot/internal/plugin"
	kit "huddlebot/internal/transport"
)

// renderHealth is plain text; Markdown breaks on error strings.
func (p *Plugin) renderHealth(req *core.Request) string {
	serv := req.Services
	if serv == nil {
		serv = &core.Services{}
	}

	var plugins []core.Status
	if serv.Plugins != nil {
		plugins = serv.Plugins.Snapshot()
	}
	enabledN, runningN, failedN := 0, 0, 0
	for _, st := range plugins {
		if st.Enabled {
			enabledN++
		}
		if st.Running {
			runningN++
		}
		if st.Enabled && !st.Running && st.LastErr != "" {
			failedN++
		}
	}

	sups := serv.RuntimeSupervisors.Snapshot()
	names := make([]string, 0, len(sups))
	for name := range sups {
		names = append(names, name)
	}
	sort.Strings(names)
	degraded := failedN > 0
	for _, name := range names {
		if sups[name].Snapshot().FirstError != "" {
			degraded = true
		}
	}

	status := "Running"
	if degraded {
		status = "Degraded"
	}

	owners := "-"
	if req.Config != nil && len(req.Config.Telegram.OwnerUserIDs) > 0 {
		parts := make([]string, 0, len(req.Config.Telegram.OwnerUserIDs))
		for _, id := range req.Config.Telegram.OwnerUserIDs {
			parts = append(parts, fmt.Sprintf("%d", id))
		}
		owners = strings.Join(parts, ", ")
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	var b strings.Builder
	b.Grow(1024)
	b.WriteString("🏥 Bot Health Status\n")
	b.WriteString("━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Fprintf(&b, "Status: %s\n", status)
	fmt.Fprintf(&b, "Uptime: %s\n", durRel(p.now().Sub(p.startedAt)))
	fmt.Fprintf(&b, "Owners: %s\n", owners)
	fmt.Fprintf(&b, "Plugins: %d loaded (%d enabled, %d running)\n", len(plugins), enabledN, runningN)
	b.WriteString("\n")

	b.WriteString("📨 Surveys\n")
	if serv.Inbox != nil {
		fmt.Fprintf(&b, "  • Waiting replies: %d\n", serv.Inbox.Pending())
	}
	if serv.Directory != nil {
		fmt.Fprintf(&b, "  • Known users: %d\n", serv.Directory.Len())
	}
	fmt.Fprintf(&b, "  • Dropped events: %d\n", eventbus.Dropped(serv.Bus))
	b.WriteString("\n")

	b.WriteString("💾 Memory Usage\n")
	fmt.Fprintf(&b, "  • Allocated: %s\n", fmtBytes(m.Alloc))
	fmt.Fprintf(&b, "  • System:    %s\n", fmtBytes(m.Sys))
	fmt.Fprintf(&b, "  • GC Runs:   %d\n", m.NumGC)
	fmt.Fprintf(&b, "  • Goroutines: %d\n", runtime.NumGoroutine())
	b.WriteString("\n")

	if len(names) > 0 {
		b.WriteString("⚙️ Workers\n")
		for _, name := range names {
			snap := sups[name].Snapshot()
			fmt.Fprintf(&b, "  • %s: %d active, %d started", name, snap.Counters.Active, snap.Counters.Started)
			if snap.FirstError != "" {
				fmt.Fprintf(&b, " | error: %s", snap.FirstError)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("🔌 Plugins\n")
	if len(plugins) == 0 {
		b.WriteString("  • (none)\n")
	}
	for _, st := range plugins {
		icon := "✅"
		switch {
		case !st.Enabled:
			icon = "⛔"
		case !st.Running && st.LastErr != "":
			icon = "⚠️"
		case !st.Running:
			icon = "🟨"
		}
		line := fmt.Sprintf("  • %s %s", icon, st.Name)
		if st.LastErr != "" {
			line += ": " + st.LastErr
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

func (p *Plugin) cmdHealth(ctx context.Context, req *core.Request) error {
	_, err := req.Adapter.SendText(ctx, req.Chat, p.renderHealth(req), &kit.SendOptions{DisablePreview: true})
	return err
}
