// Package tui is the terminal front end of the panel. It renders panel.State
// and composer.State snapshots and turns key presses into store and composer
// calls; it never talks to the backend itself.
package tui

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/g960059/wgpanel/internal/composer"
	"github.com/g960059/wgpanel/internal/ledger"
	"github.com/g960059/wgpanel/internal/model"
	"github.com/g960059/wgpanel/internal/panel"
)

const (
	sidebarWidth  = 24
	contextWidth  = 32
	inputHeight   = 3
	noticeRefresh = time.Second
)

type focusArea int

const (
	focusSidebar focusArea = iota
	focusTimeline
	focusComposer
)

type storeChangedMsg struct{}

type noticeTickMsg time.Time

// actionDoneMsg reports the end of a store or composer call started from a
// key press. fromSend marks composer sends, whose failures are not turned
// into notices by the store.
type actionDoneMsg struct {
	fromSend bool
	err      error
}

type Options struct {
	Store    *panel.Store
	Composer *composer.Composer
	Logger   *zap.Logger
}

type Model struct {
	ctx    context.Context
	store  *panel.Store
	comp   *composer.Composer
	logger *zap.Logger
	keys   keyMap

	changes     chan struct{}
	unsubscribe func()

	width  int
	height int
	focus  focusArea

	st            panel.State
	cs            composer.State
	composerGroup string
	groupCursor   int
	// entryCursor indexes st.Ledger; -1 follows the newest entry.
	entryCursor int

	vp     viewport.Model
	input  textarea.Model
	spin   spinner.Model
	modal  *modal
	status string
}

func New(ctx context.Context, opts Options) *Model {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	input := textarea.New()
	input.Placeholder = "message, @ to mention"
	input.ShowLineNumbers = false
	input.CharLimit = 0
	input.SetHeight(inputHeight)
	input.Prompt = "› "

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(colorAccent)

	m := &Model{
		ctx:         ctx,
		store:       opts.Store,
		comp:        opts.Composer,
		logger:      logger,
		keys:        defaultKeyMap(),
		changes:     make(chan struct{}, 1),
		focus:       focusSidebar,
		entryCursor: -1,
		vp:          viewport.New(0, 0),
		input:       input,
		spin:        sp,
	}
	m.unsubscribe = m.store.OnChange(func() {
		select {
		case m.changes <- struct{}{}:
		default:
		}
	})
	m.refresh()
	return m
}

// Close detaches the model from the store.
func (m *Model) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
}

func waitForChange(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return storeChangedMsg{}
	}
}

func tickNotices() tea.Cmd {
	return tea.Tick(noticeRefresh, func(t time.Time) tea.Msg { return noticeTickMsg(t) })
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		waitForChange(m.changes),
		tickNotices(),
		m.spin.Tick,
		m.action(m.store.Start),
	)
}

func (m *Model) action(fn func(ctx context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return actionDoneMsg{err: fn(ctx)}
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.refreshTimeline()
		return m, nil

	case storeChangedMsg:
		m.refresh()
		return m, waitForChange(m.changes)

	case noticeTickMsg:
		m.st.Notices = m.store.Notices().Active()
		return m, tickNotices()

	case actionDoneMsg:
		m.handleResult(msg)
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case tea.FocusMsg:
		m.store.SetFocus(true)
		return m, nil

	case tea.BlurMsg:
		m.store.SetFocus(false)
		return m, nil

	case tea.KeyMsg:
		if m.modal != nil {
			return m, m.updateModal(msg)
		}
		return m, m.handleKey(msg)
	}

	if m.focus == focusComposer {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) handleResult(msg actionDoneMsg) {
	err := msg.err
	if err == nil {
		if msg.fromSend {
			m.syncInput()
			m.status = ""
		}
		return
	}
	var verr *panel.ValidationError
	switch {
	case errors.As(err, &verr):
		m.status = verr.Message
	case errors.Is(err, composer.ErrEmptyMessage), errors.Is(err, composer.ErrNoGroup):
		m.status = err.Error()
	case errors.Is(err, composer.ErrNotConfirmed), errors.Is(err, composer.ErrSending), errors.Is(err, context.Canceled):
	case msg.fromSend:
		m.store.Notices().PushError(err)
	default:
		m.logger.Debug("action failed", zap.Error(err))
	}
}

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return tea.Quit
	case key.Matches(msg, m.keys.DismissNotice):
		if n := len(m.st.Notices); n > 0 {
			m.store.DismissNotice(m.st.Notices[n-1].ID)
		}
		return nil
	case key.Matches(msg, m.keys.FocusNext) && !(m.focus == focusComposer && m.cs.Autocomplete.Open):
		m.cycleFocus()
		return nil
	}
	m.status = ""
	switch m.focus {
	case focusSidebar:
		return m.handleSidebarKey(msg)
	case focusTimeline:
		return m.handleTimelineKey(msg)
	default:
		return m.handleComposerKey(msg)
	}
}

func (m *Model) cycleFocus() {
	m.focus = (m.focus + 1) % 3
	if m.focus == focusComposer {
		m.input.Focus()
	} else {
		m.input.Blur()
	}
}

func (m *Model) handleSidebarKey(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, m.keys.Up):
		if m.groupCursor > 0 {
			m.groupCursor--
		}
	case key.Matches(msg, m.keys.Down):
		if m.groupCursor < len(m.st.Groups)-1 {
			m.groupCursor++
		}
	case key.Matches(msg, m.keys.Select):
		if m.groupCursor < len(m.st.Groups) {
			id := m.st.Groups[m.groupCursor].GroupID
			m.entryCursor = -1
			return m.action(func(ctx context.Context) error { return m.store.SelectGroup(ctx, id) })
		}
	case key.Matches(msg, m.keys.StartGroup):
		return m.action(m.store.StartGroup)
	case key.Matches(msg, m.keys.StopGroup):
		return m.action(m.store.StopGroup)
	case key.Matches(msg, m.keys.DeleteGroup):
		if m.st.Group != nil {
			m.modal = newDeleteGroupModal(m.st.Group.GroupID, groupLabel(*m.st.Group))
		}
	case key.Matches(msg, m.keys.PrevTab), key.Matches(msg, m.keys.NextTab):
		m.switchTab(key.Matches(msg, m.keys.NextTab))
	}
	return nil
}

func (m *Model) handleTimelineKey(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, m.keys.PrevTab), key.Matches(msg, m.keys.NextTab):
		m.switchTab(key.Matches(msg, m.keys.NextTab))
		return nil
	}
	if actorID, ok := m.activeActor(); ok {
		return m.handleActorKey(msg, actorID)
	}
	n := len(m.st.Ledger)
	switch {
	case key.Matches(msg, m.keys.Up):
		if m.entryCursor < 0 {
			m.entryCursor = n - 1
		}
		if m.entryCursor > 0 {
			m.entryCursor--
		}
		m.refreshTimeline()
	case key.Matches(msg, m.keys.Down):
		if m.entryCursor >= 0 && m.entryCursor < n-1 {
			m.entryCursor++
		} else {
			m.entryCursor = -1
		}
		m.refreshTimeline()
	case key.Matches(msg, m.keys.Bottom):
		m.entryCursor = -1
		m.refreshTimeline()
	case key.Matches(msg, m.keys.Reply):
		if e, ok := m.selectedEntry(); ok && e.Event.Kind == model.KindChatMessage {
			m.comp.SetReplyTo(e.Event)
			m.focus = focusComposer
			m.input.Focus()
			m.refresh()
		}
	case key.Matches(msg, m.keys.Ack):
		if e, ok := m.selectedEntry(); ok && e.Event.Kind == model.KindChatMessage {
			id := e.Event.ID
			return m.action(func(ctx context.Context) error { return m.store.Ack(ctx, id) })
		}
	default:
		var cmd tea.Cmd
		m.vp, cmd = m.vp.Update(msg)
		m.store.SetScrollAtBottom(m.vp.AtBottom())
		return cmd
	}
	return nil
}

func (m *Model) handleActorKey(msg tea.KeyMsg, actorID string) tea.Cmd {
	switch {
	case key.Matches(msg, m.keys.StartActor):
		return m.action(func(ctx context.Context) error { return m.store.StartActor(ctx, actorID) })
	case key.Matches(msg, m.keys.StopActor):
		return m.action(func(ctx context.Context) error { return m.store.StopActor(ctx, actorID) })
	case key.Matches(msg, m.keys.RestartActor):
		return m.action(func(ctx context.Context) error { return m.store.RestartActor(ctx, actorID) })
	case key.Matches(msg, m.keys.RemoveActor):
		m.modal = newRemoveActorModal(actorID)
	}
	return nil
}

func (m *Model) handleComposerKey(msg tea.KeyMsg) tea.Cmd {
	if m.cs.Autocomplete.Open {
		switch msg.String() {
		case "up":
			m.comp.AutocompleteUp()
			m.cs = m.comp.State()
			return nil
		case "down":
			m.comp.AutocompleteDown()
			m.cs = m.comp.State()
			return nil
		case "tab", "enter":
			if text, cursor, ok := m.comp.CommitAutocomplete(); ok {
				m.setInput(text, cursor)
			}
			m.cs = m.comp.State()
			return nil
		case "esc":
			m.comp.DismissAutocomplete()
			m.cs = m.comp.State()
			return nil
		}
	}
	switch {
	case key.Matches(msg, m.keys.Newline):
		m.input.InsertString("\n")
		m.syncComposer()
		return nil
	case key.Matches(msg, m.keys.Send):
		return m.send(false)
	case key.Matches(msg, m.keys.Attention):
		next := model.PriorityAttention
		if m.cs.Priority == model.PriorityAttention {
			next = model.PriorityNormal
		}
		m.comp.SetPriority(next)
		m.cs = m.comp.State()
		return nil
	case key.Matches(msg, m.keys.ClearReply):
		m.comp.ClearReply()
		m.cs = m.comp.State()
		return nil
	case key.Matches(msg, m.keys.Cancel):
		m.focus = focusTimeline
		m.input.Blur()
		return nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	m.syncComposer()
	return cmd
}

// send delivers the composer. Attention messages open the confirmation
// modal first and are sent only from its confirm control.
func (m *Model) send(confirmed bool) tea.Cmd {
	m.syncComposer()
	if !confirmed && m.cs.Priority == model.PriorityAttention {
		if strings.TrimSpace(m.cs.Text) == "" && len(m.cs.Files) == 0 {
			m.status = composer.ErrEmptyMessage.Error()
			return nil
		}
		m.modal = newAttentionModal(m.comp.Recipients())
		return nil
	}
	comp := m.comp
	ctx := m.ctx
	return func() tea.Msg {
		_, err := comp.Send(ctx, func(composer.Prompt) bool { return confirmed })
		return actionDoneMsg{fromSend: true, err: err}
	}
}

func (m *Model) updateModal(msg tea.KeyMsg) tea.Cmd {
	md := m.modal
	switch msg.String() {
	case "esc", "ctrl+g":
		m.modal = nil
		return nil
	case "tab", "shift+tab":
		md.cycleFocus()
		return nil
	case "enter":
		if md.focus == confirmFocusCancel {
			m.modal = nil
			return nil
		}
		if !md.ready() {
			return nil
		}
		m.modal = nil
		return m.confirmModal(md)
	}
	if md.focus == confirmFocusInput {
		var cmd tea.Cmd
		md.input, cmd = md.input.Update(msg)
		return cmd
	}
	return nil
}

func (m *Model) confirmModal(md *modal) tea.Cmd {
	switch md.kind {
	case modalAttentionSend:
		return m.send(true)
	case modalRemoveActor:
		target := md.target
		return m.action(func(ctx context.Context) error { return m.store.RemoveActor(ctx, target, true) })
	case modalDeleteGroup:
		target, typed := md.target, md.typed()
		return m.action(func(ctx context.Context) error { return m.store.DeleteGroup(ctx, target, typed) })
	}
	return nil
}

func (m *Model) switchTab(forward bool) {
	tabs := []string{panel.TabChat}
	for _, a := range m.st.Actors {
		tabs = append(tabs, panel.ActorTab(a.ID))
	}
	cur := 0
	for i, t := range tabs {
		if t == m.st.ActiveTab {
			cur = i
		}
	}
	if forward {
		cur = (cur + 1) % len(tabs)
	} else {
		cur = (cur - 1 + len(tabs)) % len(tabs)
	}
	m.store.SetActiveTab(tabs[cur])
	m.refresh()
}

func (m *Model) activeActor() (string, bool) {
	id, ok := strings.CutPrefix(m.st.ActiveTab, panel.ActorTab(""))
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

func (m *Model) selectedEntry() (entry ledger.Entry, ok bool) {
	n := len(m.st.Ledger)
	if n == 0 {
		return entry, false
	}
	i := m.entryCursor
	if i < 0 || i >= n {
		i = n - 1
	}
	return m.st.Ledger[i], true
}

// syncComposer pushes the textarea into the composer so mentions become
// chips and the popup tracks the cursor.
func (m *Model) syncComposer() {
	m.comp.SetText(m.input.Value(), inputCursor(m.input))
	m.cs = m.comp.State()
}

// syncInput pulls composer text into the textarea after the composer changed
// on its own: a send cleared it or a group switch restored a draft.
func (m *Model) syncInput() {
	m.cs = m.comp.State()
	m.composerGroup = m.cs.GroupID
	if m.input.Value() != m.cs.Text {
		m.setInput(m.cs.Text, -1)
	}
}

func (m *Model) setInput(text string, cursor int) {
	m.input.SetValue(text)
	if cursor < 0 {
		return
	}
	// SetValue leaves the cursor at the end; walk it back to the rune offset.
	lines := strings.Split(text, "\n")
	row, col := 0, cursor
	for row < len(lines)-1 && col > utf8.RuneCountInString(lines[row]) {
		col -= utf8.RuneCountInString(lines[row]) + 1
		row++
	}
	for m.input.Line() > row {
		m.input.CursorUp()
	}
	m.input.SetCursor(col)
}

func inputCursor(in textarea.Model) int {
	lines := strings.Split(in.Value(), "\n")
	pos := 0
	row := in.Line()
	for i := 0; i < row && i < len(lines); i++ {
		pos += utf8.RuneCountInString(lines[i]) + 1
	}
	info := in.LineInfo()
	return pos + info.StartColumn + info.ColumnOffset
}

func (m *Model) refresh() {
	m.st = m.store.State()
	if m.groupCursor >= len(m.st.Groups) {
		m.groupCursor = max(len(m.st.Groups)-1, 0)
	}
	if m.entryCursor >= len(m.st.Ledger) {
		m.entryCursor = -1
	}
	if m.comp != nil {
		cs := m.comp.State()
		if cs.GroupID != m.composerGroup {
			m.syncInput()
		} else {
			m.cs = cs
		}
	}
	m.refreshTimeline()
}

func (m *Model) refreshTimeline() {
	if m.vp.Width <= 0 {
		return
	}
	content, offset := renderTimeline(m.st.Ledger, m.st.Actors, m.vp.Width, m.entryCursor)
	m.vp.SetContent(content)
	switch {
	case m.entryCursor >= 0:
		if offset < m.vp.YOffset || offset >= m.vp.YOffset+m.vp.Height {
			m.vp.SetYOffset(offset)
		}
	case m.st.ScrollAtBottom:
		m.vp.GotoBottom()
	}
}

func (m *Model) resize() {
	mainW := m.width - sidebarWidth - contextWidth - 6
	if mainW < 20 {
		mainW = 20
	}
	bodyH := m.height - inputHeight - 9
	if bodyH < 3 {
		bodyH = 3
	}
	m.vp.Width = mainW
	m.vp.Height = bodyH
	m.input.SetWidth(max(m.width-4, 20))
}

func (m *Model) busyLabel(prefix, suffix string) string {
	for _, k := range m.st.Busy {
		if strings.HasPrefix(k, prefix) && strings.HasSuffix(k, suffix) {
			verb := strings.TrimSuffix(strings.TrimPrefix(k, prefix), suffix)
			verb = strings.TrimSuffix(verb, ":")
			return m.spin.View() + " " + verb
		}
	}
	return ""
}

func (m *Model) View() string {
	if m.width == 0 {
		return "loading…"
	}
	if m.modal != nil {
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, m.modal.view(m.width))
	}

	header := renderGroupHeader(m.st, m.busyLabel("group-", ":"+m.st.SelectedGroupID))
	tabs := renderTabs(m.st, m.store.CanStartGroup())

	bodyH := m.vp.Height
	sidebar := stylePane(m.focus == focusSidebar).Width(sidebarWidth).Height(bodyH).
		Render(renderSidebar(m.st.Groups, m.st.SelectedGroupID, m.groupCursorFor(), sidebarWidth-2))

	main := m.vp.View()
	if actorID, ok := m.activeActor(); ok {
		main = m.actorPane(actorID)
	}
	if msg, ok := m.st.Errors["ledger"]; ok && len(m.st.Ledger) == 0 {
		main = styleError().Render("ledger unavailable: " + msg)
	}
	mainPane := stylePane(m.focus == focusTimeline).Width(m.vp.Width).Height(bodyH).Render(main)

	ctxBody := renderContextSummary(m.st.Context, contextWidth-4)
	if msg, ok := m.st.Errors["context"]; ok {
		ctxBody = styleError().Render("context unavailable: " + msg)
	}
	ctxPane := stylePane(false).Width(contextWidth).Height(bodyH).Render(ctxBody)

	body := lipgloss.JoinHorizontal(lipgloss.Top, sidebar, mainPane, ctxPane)

	parts := []string{header, tabs, body}
	if n := renderNotices(m.st.Notices, m.width); n != "" {
		parts = append(parts, n)
	}
	if ac := renderAutocomplete(m.cs.Autocomplete); ac != "" && m.focus == focusComposer {
		parts = append(parts, ac)
	}
	if m.st.SelectedGroupID != "" {
		parts = append(parts, renderComposerBar(m.cs, m.comp.Recipients()))
	}
	parts = append(parts, m.input.View())
	if m.status != "" {
		parts = append(parts, styleError().Render(m.status))
	} else {
		parts = append(parts, styleMuted().Render(m.helpLine()))
	}
	return strings.Join(parts, "\n")
}

func (m *Model) groupCursorFor() int {
	if m.focus != focusSidebar {
		return -1
	}
	return m.groupCursor
}

func (m *Model) actorPane(actorID string) string {
	for _, a := range m.st.Actors {
		if a.ID == actorID {
			return renderActorDetail(a, m.busyLabel("actor-", ":"+actorID))
		}
	}
	return styleMuted().Render(actorID + " is no longer in the roster")
}

func (m *Model) helpLine() string {
	switch m.focus {
	case focusSidebar:
		return "enter: open   s: start   x: stop   D: delete   [ ]: tabs   tab: focus   ctrl+c: quit"
	case focusTimeline:
		if _, ok := m.activeActor(); ok {
			return "s: start   x: stop   R: restart   d: remove   [ ]: tabs   tab: focus"
		}
		return "↑/↓: select   r: reply   a: ack   G: newest   [ ]: tabs   tab: focus"
	default:
		return "enter: send   ctrl+j: newline   ctrl+p: attention   ctrl+r: clear reply   esc: back"
	}
}

// Run starts the program on the current terminal and blocks until the user
// quits or ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	m := New(ctx, opts)
	defer m.Close()
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithReportFocus(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
