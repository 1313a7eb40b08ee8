package panel

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/g960059/wgpanel/internal/api"
	"github.com/g960059/wgpanel/internal/appclient"
	"github.com/g960059/wgpanel/internal/model"
	"github.com/g960059/wgpanel/internal/security"
)

// NewActor describes an actor to add to the selected group.
type NewActor struct {
	ID      string
	Role    model.ActorRole
	Runtime string
	Command []string
	Title   string
}

func actorKey(verb, actorID string) string { return "actor-" + verb + ":" + actorID }

// PrepareActor normalizes a against the current roster. The first actor of
// a group always becomes the foreman, and a group never gets a second
// foreman.
func PrepareActor(roster []api.Actor, a NewActor) (NewActor, error) {
	a.ID = strings.TrimSpace(a.ID)
	a.Title = strings.TrimSpace(a.Title)
	if len(roster) == 0 {
		a.Role = model.RoleForeman
	} else {
		if a.Role == "" {
			a.Role = model.RolePeer
		}
		if !a.Role.Valid() {
			return a, invalid("role", "unknown role %q", a.Role)
		}
		if a.Role == model.RoleForeman {
			for _, existing := range roster {
				if existing.Role == model.RoleForeman {
					return a, invalid("role", "group already has a foreman (%s); add this actor as a peer", existing.ID)
				}
			}
		}
	}
	if a.ID != "" {
		for _, existing := range roster {
			if existing.ID == a.ID {
				return a, invalid("actor_id", "actor %s already exists", a.ID)
			}
		}
	}
	return a, validateCommand(a.Runtime, a.Command)
}

// AddActor validates a with PrepareActor and adds it to the selected group.
func (s *Store) AddActor(ctx context.Context, a NewActor) error {
	s.mu.Lock()
	groupID := s.selected
	roster := append([]api.Actor(nil), s.actors...)
	s.mu.Unlock()
	if groupID == "" {
		return invalid("group", "no group selected")
	}
	a, err := PrepareActor(roster, a)
	if err != nil {
		return err
	}

	key := actorKey("add", a.ID)
	if !s.acquire(key) {
		return ErrBusy
	}
	defer s.release(key)
	err = s.api.AddActor(ctx, groupID, appclient.AddActorRequest{
		ActorID: a.ID,
		Role:    a.Role,
		Runtime: a.Runtime,
		Command: a.Command,
		Title:   a.Title,
	})
	if err != nil {
		return s.fail(err)
	}
	s.logger.Info("actor added",
		zap.String("group_id", groupID),
		zap.String("actor_id", a.ID),
		zap.String("role", string(a.Role)),
		zap.String("runtime", a.Runtime),
		zap.String("command", security.RedactCommand(a.Command)),
	)
	return s.RefreshActors(ctx)
}

func validateCommand(runtime string, command []string) error {
	if runtime != model.RuntimeCustom {
		return nil
	}
	for _, part := range command {
		if strings.TrimSpace(part) != "" {
			return nil
		}
	}
	return invalid("command", "a custom runtime needs a command")
}

// ActorEdit names the actor fields to change; nil fields are left alone.
type ActorEdit struct {
	Title   *string
	Runtime *string
	Command *[]string
	Enabled *bool
}

// UpdateActor edits a stopped actor. Running actors must be stopped first.
func (s *Store) UpdateActor(ctx context.Context, actorID string, edit ActorEdit) error {
	groupID, actor, err := s.lookupActor(actorID)
	if err != nil {
		return err
	}
	if actor.Running {
		return invalid("actor", "stop %s before editing it", actorID)
	}
	runtime := actor.Runtime
	if edit.Runtime != nil {
		runtime = *edit.Runtime
	}
	command := actor.Command
	if edit.Command != nil {
		command = *edit.Command
	}
	if edit.Runtime != nil || edit.Command != nil {
		if err := validateCommand(runtime, command); err != nil {
			return err
		}
	}
	key := actorKey("edit", actorID)
	if !s.acquire(key) {
		return ErrBusy
	}
	defer s.release(key)
	patch := appclient.ActorPatch{Title: edit.Title, Runtime: edit.Runtime, Command: edit.Command, Enabled: edit.Enabled}
	if err := s.api.UpdateActor(ctx, groupID, actorID, patch); err != nil {
		return s.fail(err)
	}
	return s.RefreshActors(ctx)
}

func (s *Store) StartActor(ctx context.Context, actorID string) error {
	return s.actorVerb(ctx, "start", actorID, s.api.StartActor)
}

func (s *Store) StopActor(ctx context.Context, actorID string) error {
	return s.actorVerb(ctx, "stop", actorID, s.api.StopActor)
}

func (s *Store) RestartActor(ctx context.Context, actorID string) error {
	return s.actorVerb(ctx, "restart", actorID, s.api.RestartActor)
}

// RemoveActor deletes an actor once the user has confirmed it.
func (s *Store) RemoveActor(ctx context.Context, actorID string, confirmed bool) error {
	if !confirmed {
		return ErrNotConfirmed
	}
	return s.actorVerb(ctx, "remove", actorID, s.api.RemoveActor)
}

func (s *Store) actorVerb(ctx context.Context, verb, actorID string, call func(ctx context.Context, groupID, actorID string) error) error {
	groupID, _, err := s.lookupActor(actorID)
	if err != nil {
		return err
	}
	key := actorKey(verb, actorID)
	if !s.acquire(key) {
		return ErrBusy
	}
	defer s.release(key)
	if err := call(ctx, groupID, actorID); err != nil {
		return s.fail(err)
	}
	return s.RefreshActors(ctx)
}

func (s *Store) lookupActor(actorID string) (string, api.Actor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == "" {
		return "", api.Actor{}, invalid("group", "no group selected")
	}
	for _, a := range s.actors {
		if a.ID == actorID {
			return s.selected, a, nil
		}
	}
	return "", api.Actor{}, invalid("actor_id", "unknown actor %s", actorID)
}
