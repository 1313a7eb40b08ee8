package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/lipgloss"
)

type confirmModalFocus int

const (
	confirmFocusConfirm confirmModalFocus = iota
	confirmFocusCancel
	confirmFocusInput
)

type modalKind int

const (
	modalAttentionSend modalKind = iota + 1
	modalRemoveActor
	modalDeleteGroup
)

// modal is an open confirmation. target names the actor or group acted on.
type modal struct {
	kind   modalKind
	title  string
	body   string
	target string
	focus  confirmModalFocus
	input  textinput.Model
}

func newAttentionModal(recipients []string) *modal {
	return &modal{
		kind:  modalAttentionSend,
		title: "Send as attention?",
		body:  fmt.Sprintf("Each of %s must acknowledge this message.", strings.Join(recipients, ", ")),
		focus: confirmFocusCancel,
	}
}

func newRemoveActorModal(actorID string) *modal {
	return &modal{
		kind:   modalRemoveActor,
		title:  "Remove actor",
		body:   fmt.Sprintf("Remove %s from the group? Its session is stopped.", actorID),
		target: actorID,
		focus:  confirmFocusCancel,
	}
}

// newDeleteGroupModal asks for the group id to be typed before the delete
// control accepts.
func newDeleteGroupModal(groupID, label string) *modal {
	in := textinput.New()
	in.Placeholder = groupID
	in.Prompt = "› "
	in.CharLimit = 256
	in.Focus()
	return &modal{
		kind:   modalDeleteGroup,
		title:  "Delete group",
		body:   fmt.Sprintf("This deletes %s and its ledger. Type %s to confirm.", label, groupID),
		target: groupID,
		focus:  confirmFocusInput,
		input:  in,
	}
}

func (m *modal) typed() string { return strings.TrimSpace(m.input.Value()) }

// ready reports whether the confirm control is enabled.
func (m *modal) ready() bool {
	if m.kind == modalDeleteGroup {
		return m.typed() == m.target
	}
	return true
}

func (m *modal) cycleFocus() {
	switch m.focus {
	case confirmFocusInput:
		m.input.Blur()
		m.focus = confirmFocusConfirm
	case confirmFocusConfirm:
		m.focus = confirmFocusCancel
	default:
		if m.kind == modalDeleteGroup {
			m.focus = confirmFocusInput
			m.input.Focus()
			return
		}
		m.focus = confirmFocusConfirm
	}
}

func (m *modal) confirmLabel() string {
	switch m.kind {
	case modalAttentionSend:
		return "Send"
	case modalRemoveActor:
		return "Remove"
	default:
		return "Delete"
	}
}

func (m *modal) view(width int) string {
	body := m.body
	if m.kind == modalDeleteGroup {
		body = body + "\n\n" + m.input.View()
	}
	return renderConfirmModal(width, m.title, body, m.confirmLabel(), "Cancel", m.focus, m.ready())
}

func modalBodyWidth(width int) int {
	w := width - 12
	if w > 64 {
		w = 64
	}
	if w < 20 {
		w = 20
	}
	return w
}

func renderModalBox(width int, title, content string) string {
	bodyW := modalBodyWidth(width)
	head := styleTitle().Render(title)
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorAccent).
		Padding(1, 2).
		Width(bodyW + 4).
		Render(head + "\n\n" + lipgloss.NewStyle().Width(bodyW).Render(content))
}

func renderConfirmModal(width int, title, body, confirmLabel, cancelLabel string, focus confirmModalFocus, enabled bool) string {
	btnBase := lipgloss.NewStyle().
		Padding(0, 1).
		Foreground(colorSurfaceFg).
		Background(colorControlBg)
	btnActive := btnBase.
		Foreground(colorSelectedFg).
		Background(colorSelectedBg).
		Bold(true)

	confirm := btnBase.Render(confirmLabel)
	cancel := btnBase.Render(cancelLabel)
	if !enabled {
		confirm = btnBase.Foreground(colorMuted).Render(confirmLabel)
	} else if focus == confirmFocusConfirm {
		confirm = btnActive.Render(confirmLabel)
	}
	if focus == confirmFocusCancel {
		cancel = btnActive.Render(cancelLabel)
	}

	sep := lipgloss.NewStyle().Background(colorControlBg).Render(" ")
	controls := lipgloss.JoinHorizontal(lipgloss.Top, confirm, sep, cancel)

	bodyW := modalBodyWidth(width)
	help := styleMuted().Width(bodyW).Render("tab: focus   enter: select   esc: cancel")

	content := strings.Join([]string{
		body,
		"",
		controls,
		"",
		help,
	}, "\n")
	return renderModalBox(width, title, content)
}
