package panel

import (
	"strings"

	"go.uber.org/zap"

	"github.com/g960059/wgpanel/internal/api"
	"github.com/g960059/wgpanel/internal/live"
	"github.com/g960059/wgpanel/internal/model"
)

func (s *Store) registerHandlers(d *live.Dispatcher) {
	d.Handle(live.KindChatMessage, s.onChatMessage)
	d.Handle(live.KindChatRead, s.onChatRead)
	d.Handle(live.KindChatAck, s.onChatAck)
	d.Handle(live.KindContextSync, s.onContextSyncEvent)
	d.Handle(live.KindSystemNotify, s.onSystemNotify)
	d.Handle(live.KindActor, s.onActorEvent)
	d.Handle(live.KindGroup, s.onGroupEvent)
	d.Handle(live.KindOther, s.onOtherEvent)
}

// appendLocked adds ev to the selected group's buffer. It reports false for
// events of another group and for duplicates.
func (s *Store) appendLocked(groupID string, ev api.Event) bool {
	if groupID != s.selected {
		return false
	}
	_, ok := s.buf.Append(ev, s.actors)
	return ok
}

func (s *Store) onChatMessage(groupID string, ev api.Event) {
	s.mu.Lock()
	added := s.appendLocked(groupID, ev)
	if added && !s.chatVisibleLocked() {
		s.unread++
	}
	s.mu.Unlock()
	if added {
		s.notify()
	}
}

func (s *Store) onChatRead(groupID string, ev api.Event) {
	r, err := ev.Receipt()
	if err != nil {
		s.logger.Debug("skip chat.read", zap.String("event_id", ev.ID), zap.Error(err))
		return
	}
	s.mu.Lock()
	changed := 0
	if groupID == s.selected {
		changed = s.buf.MarkRead(r.ActorID, r.EventID)
	}
	s.mu.Unlock()
	if changed > 0 {
		s.notify()
	}
}

func (s *Store) onChatAck(groupID string, ev api.Event) {
	r, err := ev.Receipt()
	if err != nil {
		s.logger.Debug("skip chat.ack", zap.String("event_id", ev.ID), zap.Error(err))
		return
	}
	s.mu.Lock()
	changed := groupID == s.selected && s.buf.MarkAck(r.ActorID, r.EventID)
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

func (s *Store) onContextSyncEvent(groupID string, _ api.Event) {
	s.debounce.Trigger(groupID)
}

// onContextSync runs once per burst of context.sync events.
func (s *Store) onContextSync(groupID string) {
	if groupID != s.SelectedGroupID() {
		return
	}
	s.background(s.RefreshContext)
}

func (s *Store) onSystemNotify(groupID string, ev api.Event) {
	n, err := ev.Notify()
	if err != nil {
		s.logger.Debug("skip system.notify", zap.String("event_id", ev.ID), zap.Error(err))
		return
	}
	s.mu.Lock()
	added := s.appendLocked(groupID, ev)
	s.mu.Unlock()
	if !added {
		return
	}
	msg := strings.TrimSpace(n.Message)
	if t := strings.TrimSpace(n.Title); t != "" {
		if msg == "" {
			msg = t
		} else {
			msg = t + ": " + msg
		}
	}
	if msg != "" {
		s.notices.Push(NoticeInfo, n.Kind, msg)
	}
	s.notify()
}

func (s *Store) onActorEvent(groupID string, ev api.Event) {
	s.mu.Lock()
	added := s.appendLocked(groupID, ev)
	s.mu.Unlock()
	if !added {
		return
	}
	s.notify()
	s.background(s.RefreshActors)
}

func (s *Store) onGroupEvent(groupID string, ev api.Event) {
	s.mu.Lock()
	s.appendLocked(groupID, ev)
	s.mu.Unlock()
	s.background(s.RefreshGroups)
}

func (s *Store) onOtherEvent(groupID string, ev api.Event) {
	s.mu.Lock()
	added := s.appendLocked(groupID, ev)
	s.mu.Unlock()
	if added {
		s.notify()
	}
}

func (s *Store) onLiveMode(groupID string, mode model.LiveMode) {
	s.mu.Lock()
	if groupID != s.selected && mode != model.LiveOff {
		s.mu.Unlock()
		return
	}
	s.liveMode = mode
	s.mu.Unlock()
	s.notify()
}

func (s *Store) onLiveError(groupID string, err error) {
	if groupID != s.SelectedGroupID() {
		return
	}
	s.logger.Warn("live channel failed", zap.String("group_id", groupID), zap.Error(err))
	_ = s.fail(err)
}

// LiveMode reports how the selected group is currently receiving events.
func (s *Store) LiveMode() model.LiveMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.liveMode
}
