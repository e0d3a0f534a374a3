package router

import (
	"sort"
	"strings"

	"clubbot/internal/security"
)

// helpText renders help as Discord markdown.
func (m *CommandManager) helpText(path []string) string {
	m.mu.RLock()
	root := m.root
	alias := m.alias
	m.mu.RUnlock()

	prefix := m.prefix()

	// Walk to requested node.
	cur := root
	full := make([]string, 0, len(path))
	for _, p := range path {
		p = strings.ToLower(p)
		n, ok := cur.child(p)
		if !ok {
			// maybe it's an alias
			if leaf, ok2 := alias[p]; ok2 && leaf != nil && leaf.cmd != nil {
				cur = leaf
				full = splitRoute(leaf.cmd.Route)
				break
			}
			return "❓ unknown command. type `" + prefix + "help` for the list."
		}
		cur = n
		full = append(full, p)
	}

	if len(path) == 0 {
		return m.helpTop(root, prefix)
	}
	return m.helpNode(cur, full, prefix)
}

type helpRow struct {
	name  string
	desc  string
	admin bool
}

func (m *CommandManager) helpTop(root *cmdNode, prefix string) string {
	names := root.childNames()
	rows := make([]helpRow, 0, len(names))
	for _, name := range names {
		n, _ := root.child(name)
		if n == nil {
			continue
		}
		rows = append(rows, helpRow{name: name, desc: summarizeNodeDesc(n), admin: nodeIsAdminOnly(n)})
	}
	// Admin-only entries sink to the bottom, alphabetical within groups.
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].admin != rows[j].admin {
			return !rows[i].admin && rows[j].admin
		}
		return rows[i].name < rows[j].name
	})

	lines := []string{
		"📚 **commands**",
		"type `" + prefix + "help <cmd>` for details.",
		"",
	}
	for _, r := range rows {
		line := "• `" + prefix + r.name + "`"
		if r.admin {
			line = "• 🔒 `" + prefix + r.name + "`"
		}
		if r.desc != "" {
			line += " · " + r.desc
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (m *CommandManager) helpNode(cur *cmdNode, full []string, prefix string) string {
	title := prefix + strings.Join(full, " ")
	lines := []string{"📚 **help** `" + title + "`"}

	if cur != nil && cur.cmd != nil {
		c := cur.cmd
		if d := strings.TrimSpace(c.Description); d != "" {
			lines = append(lines, d)
		}
		if note := requireNote(c.Require); note != "" {
			lines = append(lines, note)
		}
		if u := strings.TrimSpace(c.Usage); u != "" {
			lines = append(lines, "", "**usage**", "`"+prefix+u+"`")
		}
		if len(c.Aliases) > 0 {
			short := make([]string, 0, len(c.Aliases))
			for _, a := range c.Aliases {
				a = strings.TrimSpace(a)
				if a != "" {
					short = append(short, "`"+prefix+a+"`")
				}
			}
			if len(short) > 0 {
				lines = append(lines, "", "**aliases** "+strings.Join(short, " "))
			}
		}
	} else if cur != nil {
		lines = append(lines, "command group (has subcommands).")
		if nodeIsAdminOnly(cur) {
			lines = append(lines, "🔒 admin only")
		}
	}

	if cur != nil && len(cur.children) > 0 {
		lines = append(lines, "", "**subcommands**")
		for _, name := range cur.childNames() {
			n, _ := cur.child(name)
			if n == nil {
				continue
			}
			path := append(append([]string(nil), full...), name)
			line := "• `" + prefix + strings.Join(path, " ") + "`"
			if nodeIsAdminOnly(n) {
				line = "• 🔒 `" + prefix + strings.Join(path, " ") + "`"
			}
			if d := summarizeNodeDesc(n); d != "" {
				line += " · " + d
			}
			lines = append(lines, line)
		}
	}

	return strings.Join(lines, "\n")
}

func requireNote(r security.Requirement) string {
	switch r.Level {
	case security.LevelAdmin:
		return "🔒 admin only"
	case security.LevelMember:
		return "👥 members only"
	}
	return ""
}

func summarizeNodeDesc(n *cmdNode) string {
	if n == nil {
		return ""
	}
	if n.cmd != nil {
		if d := strings.TrimSpace(n.cmd.Description); d != "" {
			return d
		}
	}
	kids := n.childNames()
	if len(kids) == 0 {
		return ""
	}
	max := 3
	if len(kids) < max {
		max = len(kids)
	}
	s := strings.Join(kids[:max], ", ")
	if len(kids) > max {
		s += ", …"
	}
	return "subcommands: " + s
}

// nodeIsAdminOnly reports whether every runnable descendant demands the
// admin level; groups inherit the mark so the top list shows 🔒 on "sec"
// without walking its children.
func nodeIsAdminOnly(n *cmdNode) bool {
	if n == nil {
		return false
	}
	if n.cmd != nil {
		return n.cmd.Require.Level == security.LevelAdmin
	}
	adminOnly := true
	var walk func(x *cmdNode)
	walk = func(x *cmdNode) {
		if x == nil || !adminOnly {
			return
		}
		if x.cmd != nil && x.cmd.Require.Level != security.LevelAdmin {
			adminOnly = false
			return
		}
		for _, ch := range x.children {
			walk(ch)
			if !adminOnly {
				return
			}
		}
	}
	walk(n)
	return adminOnly
}
