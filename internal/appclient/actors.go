package appclient

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/g960059/wgpanel/internal/api"
	"github.com/g960059/wgpanel/internal/model"
)

func (c *Client) ListActors(ctx context.Context, groupID string) ([]api.Actor, error) {
	if err := requireID("group_id", groupID); err != nil {
		return nil, err
	}
	query := url.Values{}
	query.Set("include_unread", "true")
	var res api.ActorsResult
	if err := c.call(ctx, http.MethodGet, groupPath(groupID, "actors"), query, nil, &res); err != nil {
		return nil, err
	}
	for _, a := range res.Actors {
		if err := a.Validate(); err != nil {
			return nil, invalidPayload(err)
		}
	}
	return res.Actors, nil
}

type AddActorRequest struct {
	ActorID string
	Role    model.ActorRole
	Runtime string
	Command []string
	Title   string
}

func (c *Client) AddActor(ctx context.Context, groupID string, req AddActorRequest) error {
	if err := requireID("group_id", groupID); err != nil {
		return err
	}
	body := c.withBy(map[string]any{
		"actor_id": strings.TrimSpace(req.ActorID),
		"role":     string(req.Role),
		"runtime":  req.Runtime,
		"command":  req.Command,
		"title":    req.Title,
	})
	return c.call(ctx, http.MethodPost, groupPath(groupID, "actors"), nil, body, nil)
}

type ActorPatch struct {
	Title   *string   `json:"title,omitempty"`
	Runtime *string   `json:"runtime,omitempty"`
	Command *[]string `json:"command,omitempty"`
	Enabled *bool     `json:"enabled,omitempty"`
}

func (c *Client) UpdateActor(ctx context.Context, groupID, actorID string, patch ActorPatch) error {
	if err := requireID("group_id", groupID); err != nil {
		return err
	}
	if err := requireID("actor_id", actorID); err != nil {
		return err
	}
	body := c.withBy(map[string]any{"patch": patch})
	return c.call(ctx, http.MethodPost, groupPath(groupID, "actors", actorID), nil, body, nil)
}

func (c *Client) RemoveActor(ctx context.Context, groupID, actorID string) error {
	if err := requireID("group_id", groupID); err != nil {
		return err
	}
	if err := requireID("actor_id", actorID); err != nil {
		return err
	}
	query := url.Values{}
	query.Set("by", c.by)
	return c.call(ctx, http.MethodDelete, groupPath(groupID, "actors", actorID), query, nil, nil)
}

func (c *Client) StartActor(ctx context.Context, groupID, actorID string) error {
	return c.actorVerb(ctx, groupID, actorID, "start")
}

func (c *Client) StopActor(ctx context.Context, groupID, actorID string) error {
	return c.actorVerb(ctx, groupID, actorID, "stop")
}

func (c *Client) RestartActor(ctx context.Context, groupID, actorID string) error {
	return c.actorVerb(ctx, groupID, actorID, "restart")
}

func (c *Client) actorVerb(ctx context.Context, groupID, actorID, verb string) error {
	if err := requireID("group_id", groupID); err != nil {
		return err
	}
	if err := requireID("actor_id", actorID); err != nil {
		return err
	}
	return c.call(ctx, http.MethodPost, groupPath(groupID, "actors", actorID, verb), nil, c.withBy(nil), nil)
}

func (c *Client) ListRuntimes(ctx context.Context) ([]api.Runtime, error) {
	var res api.RuntimesResult
	if err := c.call(ctx, http.MethodGet, "/api/v1/runtimes", nil, nil, &res); err != nil {
		return nil, err
	}
	return res.Runtimes, nil
}
