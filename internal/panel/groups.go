package panel

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/g960059/wgpanel/internal/appclient"
	"github.com/g960059/wgpanel/internal/model"
)

// CanStartGroup reports whether the selected group has any actor to start.
func (s *Store) CanStartGroup() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected != "" && len(s.actors) > 0
}

func (s *Store) StartGroup(ctx context.Context) error {
	if !s.CanStartGroup() {
		if s.SelectedGroupID() == "" {
			return invalid("group", "no group selected")
		}
		return invalid("group", "no agents yet; add an actor first")
	}
	return s.groupVerb(ctx, "start", s.api.StartGroup)
}

func (s *Store) StopGroup(ctx context.Context) error {
	return s.groupVerb(ctx, "stop", s.api.StopGroup)
}

func (s *Store) SetGroupState(ctx context.Context, state model.GroupState) error {
	if !state.Valid() {
		return invalid("state", "unknown group state %q", state)
	}
	return s.groupVerb(ctx, "state", func(ctx context.Context, groupID string) error {
		return s.api.SetGroupState(ctx, groupID, state)
	})
}

func (s *Store) groupVerb(ctx context.Context, verb string, call func(ctx context.Context, groupID string) error) error {
	groupID := s.SelectedGroupID()
	if groupID == "" {
		return invalid("group", "no group selected")
	}
	key := "group-" + verb + ":" + groupID
	if !s.acquire(key) {
		return ErrBusy
	}
	defer s.release(key)
	if err := call(ctx, groupID); err != nil {
		return s.fail(err)
	}
	if err := s.RefreshGroups(ctx); err != nil {
		return err
	}
	return s.RefreshActors(ctx)
}

// CreateGroup creates a group, attaches scopePath when given and selects the
// new group. If the group was created but the scope could not be attached, the
// group is still selected and a *PartialError is returned.
func (s *Store) CreateGroup(ctx context.Context, title, topic, scopePath string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", invalid("title", "title is required")
	}
	if !s.acquire("group-create") {
		return "", ErrBusy
	}
	defer s.release("group-create")

	groupID, err := s.api.CreateGroup(ctx, appclient.CreateGroupRequest{Title: title, Topic: topic})
	if err != nil {
		return "", s.fail(err)
	}
	var partial error
	if path := strings.TrimSpace(scopePath); path != "" {
		if _, err := s.api.AttachScope(ctx, groupID, path); err != nil {
			partial = &PartialError{Done: "created group " + groupID, Failed: "attach " + path, Err: err}
		}
	}
	if err := s.RefreshGroups(ctx); err != nil {
		return groupID, err
	}
	if err := s.SelectGroup(ctx, groupID); err != nil {
		s.logger.Debug("select created group", zap.String("group_id", groupID), zap.Error(err))
	}
	if partial != nil {
		return groupID, s.fail(partial)
	}
	return groupID, nil
}

// DeleteGroup removes a group for good. typed must repeat the group id.
func (s *Store) DeleteGroup(ctx context.Context, groupID, typed string) error {
	if strings.TrimSpace(groupID) == "" {
		return invalid("group_id", "group id is required")
	}
	if typed != groupID {
		return ErrNotConfirmed
	}
	key := "group-delete:" + groupID
	if !s.acquire(key) {
		return ErrBusy
	}
	defer s.release(key)
	if err := s.api.DeleteGroup(ctx, groupID, typed); err != nil {
		return s.fail(err)
	}
	return s.RefreshGroups(ctx)
}

// Ack acknowledges an attention message on behalf of the user.
func (s *Store) Ack(ctx context.Context, eventID string) error {
	groupID := s.SelectedGroupID()
	if groupID == "" {
		return invalid("group", "no group selected")
	}
	key := "ack:" + eventID
	if !s.acquire(key) {
		return ErrBusy
	}
	defer s.release(key)
	if err := s.api.Ack(ctx, groupID, eventID); err != nil {
		return s.fail(err)
	}
	s.mu.Lock()
	changed := s.selected == groupID && s.buf.MarkAck(model.TokenUser, eventID)
	s.mu.Unlock()
	if changed {
		s.notify()
	}
	return nil
}
