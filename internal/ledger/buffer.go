// Package ledger holds the client-side window onto a group's ledger: a bounded,
// append-only buffer of events plus per-recipient read and acknowledgement
// overlays for chat messages.
package ledger

import (
	"github.com/g960059/wgpanel/internal/api"
	"github.com/g960059/wgpanel/internal/model"
)

const DefaultCap = 1000

type Entry struct {
	Event api.Event
	// Message is set for decodable chat.message events only.
	Message *api.ChatMessage
	Status  *Status
}

// Buffer is append-only apart from dropping the oldest entries once Cap is
// exceeded. Entries are never reordered and payloads are never edited.
type Buffer struct {
	cap     int
	entries []*Entry
	byID    map[string]*Entry
}

func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	return &Buffer{cap: capacity, byID: map[string]*Entry{}}
}

func (b *Buffer) Cap() int { return b.cap }

func (b *Buffer) Len() int { return len(b.entries) }

// Load replaces the window with events (oldest first), typically a freshly
// fetched tail. Overlays already known for an event are merged with the
// incoming ones so nothing already marked read is lost.
func (b *Buffer) Load(events []api.Event, roster []api.Actor) {
	prev := b.byID
	b.entries = b.entries[:0]
	b.byID = make(map[string]*Entry, len(events))
	for _, ev := range events {
		if _, dup := b.byID[ev.ID]; dup {
			continue
		}
		e := newEntry(ev, SourceInline, roster)
		if old, ok := prev[ev.ID]; ok && old.Status != nil && e.Status != nil {
			e.Status.merge(old.Status)
		}
		b.entries = append(b.entries, e)
		b.byID[ev.ID] = e
	}
	b.trim()
}

// Append adds a pushed event. It reports false for an id already buffered.
func (b *Buffer) Append(ev api.Event, roster []api.Actor) (*Entry, bool) {
	if _, ok := b.byID[ev.ID]; ok {
		return nil, false
	}
	e := newEntry(ev, SourcePushed, roster)
	b.entries = append(b.entries, e)
	b.byID[ev.ID] = e
	b.trim()
	return e, true
}

func (b *Buffer) trim() {
	over := len(b.entries) - b.cap
	if over <= 0 {
		return
	}
	for _, e := range b.entries[:over] {
		delete(b.byID, e.Event.ID)
	}
	kept := make([]*Entry, len(b.entries)-over)
	copy(kept, b.entries[over:])
	b.entries = kept
}

func (b *Buffer) Find(id string) (*Entry, bool) {
	e, ok := b.byID[id]
	return e, ok
}

func (b *Buffer) indexOf(id string) int {
	for i := len(b.entries) - 1; i >= 0; i-- {
		if b.entries[i].Event.ID == id {
			return i
		}
	}
	return -1
}

// Entries returns a snapshot copy safe to hand to renderers.
func (b *Buffer) Entries() []Entry {
	out := make([]Entry, len(b.entries))
	for i, e := range b.entries {
		out[i] = Entry{Event: e.Event, Message: e.Message, Status: e.Status.clone()}
	}
	return out
}

func (b *Buffer) Events() []api.Event {
	out := make([]api.Event, len(b.entries))
	for i, e := range b.entries {
		out[i] = e.Event
	}
	return out
}

func (b *Buffer) Last() (Entry, bool) {
	if len(b.entries) == 0 {
		return Entry{}, false
	}
	e := b.entries[len(b.entries)-1]
	return Entry{Event: e.Event, Message: e.Message, Status: e.Status.clone()}, true
}

func newEntry(ev api.Event, source Source, roster []api.Actor) *Entry {
	e := &Entry{Event: ev}
	if ev.Kind != model.KindChatMessage {
		return e
	}
	msg, err := ev.ChatMessage()
	if err != nil {
		return e
	}
	e.Message = &msg
	e.Status = initStatus(ev, msg, source, roster)
	return e
}
