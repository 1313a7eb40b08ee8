package appclient

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/g960059/wgpanel/internal/api"
	"github.com/g960059/wgpanel/internal/model"
)

func (c *Client) ListGroups(ctx context.Context) ([]api.Group, error) {
	var res api.GroupsResult
	if err := c.call(ctx, http.MethodGet, "/api/v1/groups", nil, nil, &res); err != nil {
		return nil, err
	}
	for _, g := range res.Groups {
		if err := g.Validate(); err != nil {
			return nil, invalidPayload(err)
		}
	}
	return res.Groups, nil
}

func (c *Client) GetGroup(ctx context.Context, groupID string) (api.Group, error) {
	if err := requireID("group_id", groupID); err != nil {
		return api.Group{}, err
	}
	var res api.GroupResult
	if err := c.call(ctx, http.MethodGet, groupPath(groupID), nil, nil, &res); err != nil {
		return api.Group{}, err
	}
	if err := res.Group.Validate(); err != nil {
		return api.Group{}, invalidPayload(err)
	}
	return res.Group, nil
}

type CreateGroupRequest struct {
	Title string
	Topic string
}

func (c *Client) CreateGroup(ctx context.Context, req CreateGroupRequest) (string, error) {
	body := c.withBy(map[string]any{
		"title": strings.TrimSpace(req.Title),
		"topic": strings.TrimSpace(req.Topic),
	})
	var res api.CreateGroupResult
	if err := c.call(ctx, http.MethodPost, "/api/v1/groups", nil, body, &res); err != nil {
		return "", err
	}
	if strings.TrimSpace(res.GroupID) == "" {
		return "", &RequestError{Code: CodeInvalidPayload, Message: "create group returned no group_id"}
	}
	return res.GroupID, nil
}

type GroupPatch struct {
	Title *string `json:"title,omitempty"`
	Topic *string `json:"topic,omitempty"`
}

func (c *Client) UpdateGroup(ctx context.Context, groupID string, patch GroupPatch) error {
	if err := requireID("group_id", groupID); err != nil {
		return err
	}
	body := c.withBy(map[string]any{"patch": patch})
	return c.call(ctx, http.MethodPut, groupPath(groupID), nil, body, nil)
}

// DeleteGroup is irreversible; confirm must equal groupID.
func (c *Client) DeleteGroup(ctx context.Context, groupID, confirm string) error {
	if err := requireID("group_id", groupID); err != nil {
		return err
	}
	query := url.Values{}
	query.Set("confirm", confirm)
	query.Set("by", c.by)
	return c.call(ctx, http.MethodDelete, groupPath(groupID), query, nil, nil)
}

func (c *Client) AttachScope(ctx context.Context, groupID, path string) (string, error) {
	if err := requireID("group_id", groupID); err != nil {
		return "", err
	}
	body := c.withBy(map[string]any{"path": strings.TrimSpace(path)})
	var res api.AttachResult
	if err := c.call(ctx, http.MethodPost, groupPath(groupID, "attach"), nil, body, &res); err != nil {
		return "", err
	}
	return res.ScopeKey, nil
}

func (c *Client) SetActiveScope(ctx context.Context, groupID, scopeKey string) error {
	if err := requireID("group_id", groupID); err != nil {
		return err
	}
	body := c.withBy(map[string]any{"scope_key": scopeKey})
	return c.call(ctx, http.MethodPost, groupPath(groupID, "scope"), nil, body, nil)
}

func (c *Client) StartGroup(ctx context.Context, groupID string) error {
	return c.groupVerb(ctx, groupID, "start")
}

func (c *Client) StopGroup(ctx context.Context, groupID string) error {
	return c.groupVerb(ctx, groupID, "stop")
}

func (c *Client) SetGroupState(ctx context.Context, groupID string, state model.GroupState) error {
	if err := requireID("group_id", groupID); err != nil {
		return err
	}
	if !state.Valid() {
		return &RequestError{Code: "invalid_state", Message: "state must be active, idle or paused"}
	}
	body := c.withBy(map[string]any{"state": string(state)})
	return c.call(ctx, http.MethodPost, groupPath(groupID, "state"), nil, body, nil)
}

func (c *Client) groupVerb(ctx context.Context, groupID, verb string) error {
	if err := requireID("group_id", groupID); err != nil {
		return err
	}
	return c.call(ctx, http.MethodPost, groupPath(groupID, verb), nil, c.withBy(nil), nil)
}

func (c *Client) GetSettings(ctx context.Context, groupID string) (api.Settings, error) {
	if err := requireID("group_id", groupID); err != nil {
		return nil, err
	}
	var res api.Settings
	if err := c.call(ctx, http.MethodGet, groupPath(groupID, "settings"), nil, nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) UpdateSettings(ctx context.Context, groupID string, patch api.Settings) error {
	if err := requireID("group_id", groupID); err != nil {
		return err
	}
	body := c.withBy(map[string]any{"patch": patch})
	return c.call(ctx, http.MethodPut, groupPath(groupID, "settings"), nil, body, nil)
}
