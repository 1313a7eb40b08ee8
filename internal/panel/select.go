package panel

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/g960059/wgpanel/internal/api"
	"github.com/g960059/wgpanel/internal/ledger"
	"github.com/g960059/wgpanel/internal/model"
)

// SelectGroup switches the panel to groupID. The previous group's draft is
// saved and its live channel closed before the new group's metadata, roster,
// ledger tail and context are fetched concurrently. Each fetch reports its own
// error; a failure in one never blocks the others. Results that arrive after a
// newer selection are dropped.
func (s *Store) SelectGroup(ctx context.Context, groupID string) error {
	s.openMu.Lock()
	s.mu.Lock()
	s.gen++
	gen := s.gen
	prev := s.selected
	s.selected = groupID
	s.group = nil
	s.actors = nil
	s.buf = ledger.NewBuffer(s.opts.BufferCap)
	s.doc = nil
	s.unread = 0
	s.activeTab = TabChat
	s.scrollAtBottom = true
	s.errs = map[string]string{}
	s.mu.Unlock()
	if prev != "" {
		s.debounce.Cancel(prev)
	}
	s.channel.Close()
	s.openMu.Unlock()

	if s.drafts != nil {
		if err := s.drafts.SwitchGroup(ctx, groupID); err != nil {
			s.logger.Warn("switch composer draft", zap.String("group_id", groupID), zap.Error(err))
		}
	}
	s.notify()
	if groupID == "" {
		return nil
	}

	var (
		g          errgroup.Group
		actorsDone = make(chan struct{})
		errs       = make([]error, 4)
		known      []string
	)
	g.Go(func() error {
		grp, err := s.api.GetGroup(ctx, groupID)
		errs[0] = s.applySection(gen, sectionGroup, err, func() { s.group = &grp })
		return nil
	})
	g.Go(func() error {
		defer close(actorsDone)
		actors, err := s.api.ListActors(ctx, groupID)
		errs[1] = s.applySection(gen, sectionActors, err, func() { s.actors = actors })
		if err == nil && s.current(gen) && s.drafts != nil {
			s.drafts.SetRoster(actors)
		}
		return nil
	})
	g.Go(func() error {
		events, err := s.api.LedgerTail(ctx, groupID, s.opts.TailLines)
		<-actorsDone
		errs[2] = s.applySection(gen, sectionLedger, err, func() { s.buf.Load(timeline(events), s.actors) })
		for _, ev := range events {
			known = append(known, ev.ID)
		}
		return nil
	})
	g.Go(func() error {
		doc, err := s.api.GetContext(ctx, groupID)
		errs[3] = s.applySection(gen, sectionContext, err, func() { s.doc = &doc })
		return nil
	})
	_ = g.Wait()

	s.openMu.Lock()
	opened := false
	if s.current(gen) && !s.isClosed() {
		s.channel.Open(s.baseCtx, groupID, known...)
		opened = true
	}
	s.openMu.Unlock()
	if !opened {
		return nil
	}
	if s.prefs != nil {
		if err := s.prefs.SetPref(ctx, prefLastGroup, groupID); err != nil {
			s.logger.Warn("persist last group", zap.String("group_id", groupID), zap.Error(err))
		}
	}
	s.notify()
	return errors.Join(errs...)
}

// applySection stores a fetch result for the selection identified by gen.
// Stale results are dropped silently; failures become section errors and
// notices.
func (s *Store) applySection(gen uint64, section string, err error, apply func()) error {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		s.errs[section] = err.Error()
		s.mu.Unlock()
		return s.fail(err)
	}
	delete(s.errs, section)
	apply()
	s.mu.Unlock()
	s.notify()
	return nil
}

func (s *Store) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Store) selection() (string, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected, s.gen
}

// RefreshGroups re-fetches the group list. The selection is kept unless the
// selected group disappeared, in which case it falls back to the first group,
// or to none.
func (s *Store) RefreshGroups(ctx context.Context) error {
	groups, err := s.api.ListGroups(ctx)
	if err != nil {
		return s.fail(err)
	}
	s.mu.Lock()
	s.groups = groups
	selected := s.selected
	fallback, lost := "", false
	if selected != "" {
		lost = true
		for _, g := range groups {
			if g.GroupID == selected {
				lost = false
				grp := g
				s.group = &grp
				break
			}
		}
		if lost && len(groups) > 0 {
			fallback = groups[0].GroupID
		}
	}
	s.mu.Unlock()
	s.notify()
	if lost {
		s.logger.Info("selected group disappeared", zap.String("group_id", selected), zap.String("fallback", fallback))
		return s.SelectGroup(ctx, fallback)
	}
	return nil
}

// RefreshActors re-fetches the roster of the selected group.
func (s *Store) RefreshActors(ctx context.Context) error {
	groupID, gen := s.selection()
	if groupID == "" {
		return nil
	}
	actors, err := s.api.ListActors(ctx, groupID)
	apply := func() {
		s.actors = actors
		s.buf.Reresolve(actors)
	}
	if applyErr := s.applySection(gen, sectionActors, err, apply); applyErr != nil {
		return applyErr
	}
	if err == nil && s.current(gen) && s.drafts != nil {
		s.drafts.SetRoster(actors)
	}
	return nil
}

// RefreshContext re-fetches the context document of the selected group.
func (s *Store) RefreshContext(ctx context.Context) error {
	groupID, gen := s.selection()
	if groupID == "" {
		return nil
	}
	doc, err := s.api.GetContext(ctx, groupID)
	return s.applySection(gen, sectionContext, err, func() { s.doc = &doc })
}

// RefreshLedger reloads the ledger tail, keeping read and ack flags already
// known locally.
func (s *Store) RefreshLedger(ctx context.Context) error {
	groupID, gen := s.selection()
	if groupID == "" {
		return nil
	}
	events, err := s.api.LedgerTail(ctx, groupID, s.opts.TailLines)
	return s.applySection(gen, sectionLedger, err, func() { s.buf.Load(timeline(events), s.actors) })
}

// timeline drops receipts and sync markers; they update overlays and the
// context document rather than appearing as entries.
func timeline(events []api.Event) []api.Event {
	out := make([]api.Event, 0, len(events))
	for _, ev := range events {
		if onTimeline(ev.Kind) {
			out = append(out, ev)
		}
	}
	return out
}

func onTimeline(kind string) bool {
	switch kind {
	case model.KindChatRead, model.KindChatAck, model.KindContextSync:
		return false
	}
	return true
}
