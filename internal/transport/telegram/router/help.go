package router

import (
	"html"
	"sort"
	"strings"
)

// helpText renders help in Telegram HTML parse mode.
func (m *CommandManager) helpText(args []string) string {
	if len(args) > 0 {
		name := strings.TrimPrefix(strings.TrimSpace(args[0]), "/")
		c, ok := m.Lookup(name)
		if !ok {
			return "❓ <b>Unknown command</b>\nType <code>/help</code> to see the list."
		}
		return helpCommandHTML(c)
	}
	return helpListHTML(m.snapshot())
}

func helpListHTML(cmds []Command) string {
	sort.SliceStable(cmds, func(i, j int) bool {
		if cmds[i].Access != cmds[j].Access {
			return cmds[i].Access < cmds[j].Access
		}
		return cmds[i].Name < cmds[j].Name
	})
	lines := []string{"📚 <b>Available Commands</b>", ""}
	for _, c := range cmds {
		desc := strings.TrimSpace(c.Description)
		if desc == "" {
			desc = "No description available."
		}
		prefix := "• "
		if c.Access == AccessOwnerOnly {
			prefix = "• 🔒 "
		}
		lines = append(lines, prefix+"<code>/"+html.EscapeString(c.Name)+"</code>: "+html.EscapeString(desc))
	}
	lines = append(lines, "", "Type <code>/help &lt;command&gt;</code> for usage.")
	return strings.Join(lines, "\n")
}

func helpCommandHTML(c Command) string {
	lines := []string{"📚 <b>Help</b> <code>/" + html.EscapeString(c.Name) + "</code>"}
	if d := strings.TrimSpace(c.Description); d != "" {
		lines = append(lines, html.EscapeString(d))
	}
	if c.Access == AccessOwnerOnly {
		lines = append(lines, "🔒 <i>Owner only</i>")
	}
	if u := strings.TrimSpace(c.Usage); u != "" {
		lines = append(lines, "", "<b>Usage</b>", "<code>"+html.EscapeString(u)+"</code>")
	}
	if len(c.Aliases) > 0 {
		aliases := append([]string(nil), c.Aliases...)
		sort.Strings(aliases)
		lines = append(lines, "", "<b>Aliases</b>")
		for _, a := range aliases {
			lines = append(lines, "• <code>/"+html.EscapeString(a)+"</code>")
		}
	}
	return strings.Join(lines, "\n")
}
