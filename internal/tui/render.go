package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/g960059/wgpanel/internal/api"
	"github.com/g960059/wgpanel/internal/composer"
	"github.com/g960059/wgpanel/internal/ledger"
	"github.com/g960059/wgpanel/internal/model"
	"github.com/g960059/wgpanel/internal/panel"
	"github.com/g960059/wgpanel/internal/security"
)

const emptyRosterLabel = "no agents yet"

func groupLabel(g api.Group) string {
	if t := strings.TrimSpace(g.Title); t != "" {
		return t
	}
	return g.GroupID
}

func renderSidebar(groups []api.Group, selectedID string, cursor, width int) string {
	lines := []string{styleTitle().Render("Groups")}
	if len(groups) == 0 {
		lines = append(lines, styleMuted().Render("no groups"))
	}
	for i, g := range groups {
		dot := styleMuted().Render("○")
		if g.Running {
			dot = lipgloss.NewStyle().Foreground(colorOK).Render("●")
		}
		label := truncate(groupLabel(g), max(width-4, 4))
		line := dot + " " + label
		switch {
		case i == cursor:
			line = styleSelected().Render("› " + label)
		case g.GroupID == selectedID:
			line = dot + " " + lipgloss.NewStyle().Bold(true).Render(label)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func renderGroupHeader(st panel.State, busy string) string {
	if st.Group == nil {
		if st.SelectedGroupID == "" {
			return styleMuted().Render("no group selected")
		}
		return styleMuted().Render(st.SelectedGroupID)
	}
	g := *st.Group
	parts := []string{styleTitle().Render(groupLabel(g))}
	state := string(g.State)
	if state == "" {
		state = "idle"
	}
	if g.Running {
		state = "running · " + state
	}
	parts = append(parts, styleMuted().Render(state))
	if scope, ok := g.ActiveScope(); ok {
		parts = append(parts, styleMuted().Render(scope.URL))
	}
	parts = append(parts, liveBadge(st.LiveMode))
	if busy != "" {
		parts = append(parts, busy)
	}
	return strings.Join(parts, "  ")
}

func liveBadge(mode model.LiveMode) string {
	switch mode {
	case model.LiveStreaming:
		return styleChip(colorOK).Render("live")
	case model.LivePolling:
		return styleChip(colorWarn).Render("polling")
	default:
		return styleChip(colorMuted).Render("offline")
	}
}

// renderTabs draws the chat tab followed by one tab per actor. An empty
// roster replaces the actor tabs with a hint and a disabled start control.
func renderTabs(st panel.State, canStart bool) string {
	chat := "chat"
	if st.Unread > 0 {
		chat = fmt.Sprintf("chat (%d)", st.Unread)
	}
	tabs := []string{tabLabel(chat, st.ActiveTab == panel.TabChat)}
	if len(st.Actors) == 0 {
		tabs = append(tabs, styleMuted().Render(emptyRosterLabel))
	}
	for _, a := range st.Actors {
		label := a.ID
		if a.Running {
			label = "● " + label
		}
		if a.UnreadCount > 0 {
			label = fmt.Sprintf("%s (%d)", label, a.UnreadCount)
		}
		tabs = append(tabs, tabLabel(label, st.ActiveTab == panel.ActorTab(a.ID)))
	}
	tabs = append(tabs, startControl(canStart))
	return strings.Join(tabs, " ")
}

func tabLabel(label string, active bool) string {
	if active {
		return styleSelected().Padding(0, 1).Render(label)
	}
	return lipgloss.NewStyle().Foreground(colorText).Padding(0, 1).Render(label)
}

func startControl(enabled bool) string {
	if !enabled {
		return styleMuted().Strikethrough(true).Render("[start]")
	}
	return lipgloss.NewStyle().Foreground(colorOK).Render("[start]")
}

func renderActorDetail(a api.Actor, busy string) string {
	state := "stopped"
	if a.Running {
		state = "running"
	}
	if !a.Enabled {
		state += " · disabled"
	}
	title := a.ID
	if a.Title != "" {
		title = fmt.Sprintf("%s (%s)", a.Title, a.ID)
	}
	lines := []string{
		styleTitle().Render(title) + "  " + busy,
		fmt.Sprintf("role     %s", a.Role),
		fmt.Sprintf("runtime  %s", valueOr(a.Runtime, "-")),
		fmt.Sprintf("state    %s", state),
	}
	if len(a.Command) > 0 {
		lines = append(lines, "command  "+security.RedactCommand(a.Command))
	}
	if a.UnreadCount > 0 {
		lines = append(lines, fmt.Sprintf("unread   %d", a.UnreadCount))
	}
	lines = append(lines, "", styleMuted().Render("s: start   x: stop   R: restart   d: remove"))
	return strings.Join(lines, "\n")
}

// renderTimeline returns the chat pane content and the line offset of the
// highlighted entry so the viewport can keep it visible.
func renderTimeline(entries []ledger.Entry, roster []api.Actor, width, cursor int) (string, int) {
	if len(entries) == 0 {
		return styleMuted().Render("no messages yet"), 0
	}
	var b strings.Builder
	offset := 0
	lines := 0
	for i, e := range entries {
		block := renderEntry(e, roster, width, i == cursor)
		if i == cursor {
			offset = lines
		}
		if i > 0 {
			b.WriteString("\n")
			lines++
		}
		b.WriteString(block)
		lines += strings.Count(block, "\n") + 1
	}
	return b.String(), offset
}

func renderEntry(e ledger.Entry, roster []api.Actor, width int, selected bool) string {
	ev := e.Event
	ts := ""
	if t := ev.Time(); !t.IsZero() {
		ts = t.Local().Format("15:04")
	}
	marker := "  "
	if selected {
		marker = styleSelected().Render("›") + " "
	}
	if ev.Kind != model.KindChatMessage {
		return marker + styleMuted().Render(strings.TrimSpace(fmt.Sprintf("%s %s %s", ts, ev.By, eventSummary(ev))))
	}
	msg, err := ev.ChatMessage()
	if err != nil {
		return marker + styleError().Render(err.Error())
	}
	head := lipgloss.NewStyle().Bold(true).Render(valueOr(ev.By, "?"))
	if len(msg.To) > 0 {
		head += styleMuted().Render(" → " + strings.Join(msg.To, ", "))
	}
	if ts != "" {
		head += styleMuted().Render("  " + ts)
	}
	if msg.Priority == model.PriorityAttention {
		head += " " + styleChip(colorWarn).Render("attention")
	}
	lines := []string{marker + head}
	if msg.QuoteText != nil && *msg.QuoteText != "" {
		lines = append(lines, "  "+styleMuted().Render("│ "+truncate(*msg.QuoteText, max(width-6, 10))))
	}
	if body := renderMarkdown(msg.Text, max(width-2, 10)); body != "" {
		lines = append(lines, indent(body, "  "))
	}
	for _, a := range msg.Attachments {
		name := valueOr(a.Title, a.Path)
		if a.Bytes > 0 {
			name = fmt.Sprintf("%s · %s", name, humanize.IBytes(uint64(a.Bytes)))
		}
		lines = append(lines, "  "+styleChip(colorInfo).Render("📎 "+name))
	}
	if chips := renderReceiptChips(e, roster); chips != "" {
		lines = append(lines, "  "+chips)
	}
	return strings.Join(lines, "\n")
}

func eventSummary(ev api.Event) string {
	if ev.Kind == model.KindSystemNotify {
		if n, err := ev.Notify(); err == nil {
			return strings.TrimSpace(n.Title + " " + n.Message)
		}
	}
	return ev.Kind
}

// renderReceiptChips shows one chip per current recipient: read state and,
// for attention messages, acknowledgement.
func renderReceiptChips(e ledger.Entry, roster []api.Actor) string {
	states := ledger.View(e, roster)
	chips := make([]string, 0, len(states)+1)
	switch addressed, acked := ledger.AwaitsUser(e); {
	case acked:
		chips = append(chips, styleChip(colorOK).Render("✓✓ you"))
	case addressed:
		chips = append(chips, styleChip(colorWarn).Render("! you"))
	}
	for _, rs := range states {
		switch {
		case rs.NeedsAck && rs.Acked:
			chips = append(chips, styleChip(colorOK).Render("✓✓ "+rs.ActorID))
		case rs.NeedsAck:
			chips = append(chips, styleChip(colorWarn).Render("! "+rs.ActorID))
		case rs.Read:
			chips = append(chips, styleChip(colorOK).Render("✓ "+rs.ActorID))
		default:
			chips = append(chips, styleChip(colorMuted).Render("· "+rs.ActorID))
		}
	}
	if len(chips) == 0 {
		return ""
	}
	return strings.Join(chips, " ")
}

func renderContextSummary(doc *api.ContextDoc, width int) string {
	if doc == nil {
		return styleMuted().Render("context not loaded")
	}
	lines := []string{styleTitle().Render("Context")}
	if v := strings.TrimSpace(doc.Vision); v != "" {
		lines = append(lines, truncate(v, width))
	}
	for _, ms := range doc.Milestones {
		if ms.Status == model.MilestoneArchived {
			continue
		}
		lines = append(lines, truncate(fmt.Sprintf("◆ %s [%s]", ms.Name, ms.Status), width))
	}
	for _, t := range doc.Tasks {
		if t.Status == model.TaskArchived {
			continue
		}
		line := fmt.Sprintf("• %s [%s]", t.Name, t.Status)
		if t.Assignee != "" {
			line += " @" + t.Assignee
		}
		lines = append(lines, truncate(line, width))
	}
	if n := len(doc.Notes); n > 0 {
		lines = append(lines, styleMuted().Render(fmt.Sprintf("%d notes", n)))
	}
	if n := len(doc.References); n > 0 {
		lines = append(lines, styleMuted().Render(fmt.Sprintf("%d references", n)))
	}
	return strings.Join(lines, "\n")
}

// renderComposerBar shows what a send would carry: recipients, reply target,
// priority and staged files.
func renderComposerBar(cs composer.State, recipients []string) string {
	var parts []string
	for _, r := range recipients {
		parts = append(parts, styleChip(colorInfo).Render(r))
	}
	if cs.Priority == model.PriorityAttention {
		parts = append(parts, styleChip(colorWarn).Render("attention"))
	}
	for _, f := range cs.Files {
		parts = append(parts, styleChip(colorMuted).Render(composer.FileLabel(f)))
	}
	lines := []string{strings.Join(parts, " ")}
	if cs.Reply != nil {
		lines = append(lines, styleMuted().Render(fmt.Sprintf("replying to %s: %s", cs.Reply.By, truncate(cs.Reply.Quote, 60))))
	}
	return strings.Join(lines, "\n")
}

func renderAutocomplete(ac composer.Autocomplete) string {
	if !ac.Open || len(ac.Items) == 0 {
		return ""
	}
	lines := make([]string, 0, len(ac.Items))
	for i, it := range ac.Items {
		if i == ac.Index {
			lines = append(lines, styleSelected().Render(" "+it+" "))
			continue
		}
		lines = append(lines, " "+it+" ")
	}
	return lipgloss.NewStyle().Background(colorSurfaceBg).Render(strings.Join(lines, "\n"))
}

func renderNotices(notices []panel.Notice, width int) string {
	if len(notices) == 0 {
		return ""
	}
	lines := make([]string, 0, len(notices))
	for _, n := range notices {
		style := lipgloss.NewStyle().Foreground(colorInfo)
		if n.Level == panel.NoticeError {
			style = styleError()
		}
		text := n.Message
		if n.Code != "" && n.Level == panel.NoticeError {
			text = fmt.Sprintf("[%s] %s", n.Code, n.Message)
		}
		lines = append(lines, style.Render(truncate(text, max(width-2, 10))))
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, width int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if width <= 0 || len(r) <= width {
		return s
	}
	if width == 1 {
		return "…"
	}
	return string(r[:width-1]) + "…"
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}

func valueOr(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
