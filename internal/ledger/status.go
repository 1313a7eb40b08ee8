package ledger

import (
	"github.com/g960059/wgpanel/internal/api"
	"github.com/g960059/wgpanel/internal/model"
	"github.com/g960059/wgpanel/internal/recipients"
)

// Source ranks where a status overlay came from. Higher ranks win.
type Source int

const (
	SourceComputed Source = iota
	SourceInline
	SourcePushed
)

func (s Source) String() string {
	switch s {
	case SourcePushed:
		return "pushed"
	case SourceInline:
		return "inline"
	default:
		return "computed"
	}
}

// Status maps recipient actor ids to read and acknowledgement flags. Ack is
// nil unless the message carries attention priority.
type Status struct {
	Read   map[string]bool
	Ack    map[string]bool
	Source Source
	// UserAcked records the human's own acknowledgement. The human is not an
	// actor, so it never appears in Ack.
	UserAcked bool
}

func (s *Status) clone() *Status {
	if s == nil {
		return nil
	}
	out := &Status{Source: s.Source, UserAcked: s.UserAcked, Read: make(map[string]bool, len(s.Read))}
	for k, v := range s.Read {
		out.Read[k] = v
	}
	if s.Ack != nil {
		out.Ack = make(map[string]bool, len(s.Ack))
		for k, v := range s.Ack {
			out.Ack[k] = v
		}
	}
	return out
}

// merge folds other into s. Flags only ever move from false to true.
func (s *Status) merge(other *Status) {
	if other == nil {
		return
	}
	for k, v := range other.Read {
		if _, ok := s.Read[k]; ok && v {
			s.Read[k] = true
		}
	}
	if s.Ack != nil {
		for k, v := range other.Ack {
			if _, ok := s.Ack[k]; ok && v {
				s.Ack[k] = true
			}
		}
	}
	if other.UserAcked && s.Ack != nil {
		s.UserAcked = true
	}
	if other.Source > s.Source {
		s.Source = other.Source
	}
}

// initStatus builds the overlay for a new message: the server's maps when
// present (restricted to the roster), otherwise a local resolution of the to
// tokens with every flag false.
func initStatus(ev api.Event, msg api.ChatMessage, source Source, roster []api.Actor) *Status {
	ids := recipients.RosterIDs(roster)
	attention := msg.Priority == model.PriorityAttention
	st := &Status{Read: map[string]bool{}}
	if attention {
		st.UserAcked = ev.AckStatus[model.TokenUser]
	}
	if ev.ReadStatus != nil {
		st.Source = source
		for k, v := range ev.ReadStatus {
			if _, ok := ids[k]; ok {
				st.Read[k] = v
			}
		}
		if attention {
			st.Ack = map[string]bool{}
			for k := range st.Read {
				st.Ack[k] = ev.AckStatus[k]
			}
			for k, v := range ev.AckStatus {
				if _, ok := ids[k]; ok {
					st.Ack[k] = v
				}
			}
		}
		return st
	}
	st.Source = SourceComputed
	for _, id := range recipients.Resolve(msg.To, ev.By, roster) {
		st.Read[id] = false
	}
	if attention {
		st.Ack = make(map[string]bool, len(st.Read))
		for id := range st.Read {
			st.Ack[id] = false
		}
	}
	return st
}

// MarkRead applies a read receipt with monotonic-cursor semantics: the
// referenced message and every earlier buffered message addressed to actorID
// become read. It never un-marks anything and never adds recipients. It
// returns how many messages changed.
func (b *Buffer) MarkRead(actorID, eventID string) int {
	idx := b.indexOf(eventID)
	if idx < 0 {
		return 0
	}
	changed := 0
	for i := idx; i >= 0; i-- {
		st := b.entries[i].Status
		if st == nil {
			continue
		}
		read, ok := st.Read[actorID]
		if !ok || read {
			continue
		}
		st.Read[actorID] = true
		st.Source = SourcePushed
		changed++
	}
	return changed
}

// MarkAck records an acknowledgement for exactly one attention message. The
// user token marks the human's own acknowledgement.
func (b *Buffer) MarkAck(actorID, eventID string) bool {
	e, ok := b.byID[eventID]
	if !ok || e.Status == nil || e.Status.Ack == nil {
		return false
	}
	if model.IsUserToken(actorID) {
		if e.Status.UserAcked {
			return false
		}
		e.Status.UserAcked = true
		return true
	}
	acked, ok := e.Status.Ack[actorID]
	if !ok || acked {
		return false
	}
	e.Status.Ack[actorID] = true
	// An acknowledgement implies the message was seen.
	if _, ok := e.Status.Read[actorID]; ok {
		e.Status.Read[actorID] = true
	}
	e.Status.Source = SourcePushed
	return true
}

// Reresolve rebuilds every locally computed overlay against roster, keeping
// flags already set. Overlays the server supplied are left alone. It returns
// how many overlays changed.
func (b *Buffer) Reresolve(roster []api.Actor) int {
	changed := 0
	for _, e := range b.entries {
		if e.Message == nil || e.Status == nil || e.Status.Source != SourceComputed {
			continue
		}
		next := initStatus(e.Event, *e.Message, SourceComputed, roster)
		next.merge(e.Status)
		if sameKeys(next.Read, e.Status.Read) {
			continue
		}
		e.Status = next
		changed++
	}
	return changed
}

func sameKeys(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

type RecipientState struct {
	ActorID  string
	Read     bool
	NeedsAck bool
	Acked    bool
}

// View renders the recipients of a chat entry against today's roster. Actors
// removed since the message was sent are never shown.
func View(e Entry, roster []api.Actor) []RecipientState {
	if e.Status == nil {
		return nil
	}
	ids := recipients.FilterToRoster(e.Status.Read, roster)
	out := make([]RecipientState, 0, len(ids))
	for _, id := range ids {
		rs := RecipientState{ActorID: id, Read: e.Status.Read[id]}
		if e.Status.Ack != nil {
			rs.NeedsAck = true
			rs.Acked = e.Status.Ack[id]
		}
		out = append(out, rs)
	}
	return out
}

// AwaitsUser reports whether the entry is an attention message addressed to
// the human, and whether the human has acknowledged it.
func AwaitsUser(e Entry) (addressed, acked bool) {
	if e.Message == nil || e.Status == nil || e.Status.Ack == nil {
		return false, false
	}
	for _, t := range e.Message.To {
		if model.IsUserToken(t) {
			return true, e.Status.UserAcked
		}
	}
	return e.Status.UserAcked, e.Status.UserAcked
}

// Summary counts read and acked recipients visible in View.
func Summary(e Entry, roster []api.Actor) (read, acked, total int) {
	for _, rs := range View(e, roster) {
		total++
		if rs.Read {
			read++
		}
		if rs.Acked {
			acked++
		}
	}
	return read, acked, total
}
