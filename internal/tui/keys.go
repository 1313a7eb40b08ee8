package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Quit          key.Binding
	FocusNext     key.Binding
	Up            key.Binding
	Down          key.Binding
	Select        key.Binding
	PrevTab       key.Binding
	NextTab       key.Binding
	Bottom        key.Binding
	Reply         key.Binding
	Ack           key.Binding
	StartGroup    key.Binding
	StopGroup     key.Binding
	DeleteGroup   key.Binding
	StartActor    key.Binding
	StopActor     key.Binding
	RestartActor  key.Binding
	RemoveActor   key.Binding
	Send          key.Binding
	Newline       key.Binding
	Attention     key.Binding
	ClearReply    key.Binding
	DismissNotice key.Binding
	Cancel        key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Quit:          key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
		FocusNext:     key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "focus")),
		Up:            key.NewBinding(key.WithKeys("up", "k")),
		Down:          key.NewBinding(key.WithKeys("down", "j")),
		Select:        key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "open")),
		PrevTab:       key.NewBinding(key.WithKeys("["), key.WithHelp("[", "prev tab")),
		NextTab:       key.NewBinding(key.WithKeys("]"), key.WithHelp("]", "next tab")),
		Bottom:        key.NewBinding(key.WithKeys("G", "end")),
		Reply:         key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reply")),
		Ack:           key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "ack")),
		StartGroup:    key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "start")),
		StopGroup:     key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "stop")),
		DeleteGroup:   key.NewBinding(key.WithKeys("D"), key.WithHelp("D", "delete")),
		StartActor:    key.NewBinding(key.WithKeys("s")),
		StopActor:     key.NewBinding(key.WithKeys("x")),
		RestartActor:  key.NewBinding(key.WithKeys("R")),
		RemoveActor:   key.NewBinding(key.WithKeys("d")),
		Send:          key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "send")),
		Newline:       key.NewBinding(key.WithKeys("ctrl+j", "alt+enter"), key.WithHelp("ctrl+j", "newline")),
		Attention:     key.NewBinding(key.WithKeys("ctrl+p"), key.WithHelp("ctrl+p", "attention")),
		ClearReply:    key.NewBinding(key.WithKeys("ctrl+r")),
		DismissNotice: key.NewBinding(key.WithKeys("ctrl+x"), key.WithHelp("ctrl+x", "dismiss")),
		Cancel:        key.NewBinding(key.WithKeys("esc")),
	}
}
