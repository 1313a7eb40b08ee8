package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/g960059/wgpanel/internal/api"
	"github.com/g960059/wgpanel/internal/appclient"
	"github.com/g960059/wgpanel/internal/panel"
)

func newGroupsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "groups",
		Short: "Working groups",
	}
	cmd.AddCommand(newGroupsListCmd(app))
	cmd.AddCommand(newGroupsCreateCmd(app))
	cmd.AddCommand(newGroupsDeleteCmd(app))
	cmd.AddCommand(newGroupsVerbCmd(app, "start", "Start every enabled actor of a group"))
	cmd.AddCommand(newGroupsVerbCmd(app, "stop", "Stop every actor of a group"))
	return cmd
}

func newGroupsListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List groups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			groups, err := app.Client.ListGroups(cmd.Context())
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, groups, func() error {
				out := cmd.OutOrStdout()
				for _, g := range groups {
					_, _ = fmt.Fprintf(out, "%s\t%s\t%s\n", g.GroupID, groupState(g), g.Title)
				}
				return nil
			})
		},
	}
}

func groupState(g api.Group) string {
	state := "stopped"
	if g.Running {
		state = "running"
	}
	if g.State != "" {
		state += "/" + string(g.State)
	}
	return state
}

func newGroupsCreateCmd(app *App) *cobra.Command {
	var (
		title string
		topic string
		scope string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a group",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			title = strings.TrimSpace(title)
			if title == "" {
				return writeErr(cmd, &panel.ValidationError{Field: "title", Message: "title is required"})
			}
			ctx := cmd.Context()
			groupID, err := app.Client.CreateGroup(ctx, appclient.CreateGroupRequest{Title: title, Topic: topic})
			if err != nil {
				return writeErr(cmd, err)
			}
			res := map[string]any{"group_id": groupID}
			if path := strings.TrimSpace(scope); path != "" {
				scopeKey, err := app.Client.AttachScope(ctx, groupID, path)
				if err != nil {
					return writeErr(cmd, &panel.PartialError{Done: "created group " + groupID, Failed: "attach " + path, Err: err})
				}
				res["scope_key"] = scopeKey
			}
			return writeOut(cmd, app, res, func() error {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "created group %s\n", groupID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Group title")
	cmd.Flags().StringVar(&topic, "topic", "", "Group topic")
	cmd.Flags().StringVar(&scope, "scope", "", "Project directory to attach")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func newGroupsDeleteCmd(app *App) *cobra.Command {
	var confirm string
	cmd := &cobra.Command{
		Use:   "delete <group-id>",
		Short: "Delete a group and its ledger",
		Long:  "Delete a group. The group id must be repeated in --confirm.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			groupID := strings.TrimSpace(args[0])
			if strings.TrimSpace(confirm) != groupID {
				return writeErr(cmd, fmt.Errorf("%w: pass --confirm %s", panel.ErrNotConfirmed, groupID))
			}
			if err := app.Client.DeleteGroup(cmd.Context(), groupID, groupID); err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"group_id": groupID, "deleted": true}, func() error {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted group %s\n", groupID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&confirm, "confirm", "", "Repeat the group id to confirm")
	return cmd
}

func newGroupsVerbCmd(app *App, verb, short string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <group-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			groupID := args[0]
			var err error
			switch verb {
			case "start":
				actors, lerr := app.Client.ListActors(ctx, groupID)
				if lerr != nil {
					return writeErr(cmd, lerr)
				}
				if len(actors) == 0 {
					return writeErr(cmd, &panel.ValidationError{Field: "group", Message: "no agents yet; add an actor first"})
				}
				err = app.Client.StartGroup(ctx, groupID)
			case "stop":
				err = app.Client.StopGroup(ctx, groupID)
			default:
				err = errors.New("unknown group verb " + verb)
			}
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"group_id": groupID, "verb": verb}, func() error {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s group %s\n", pastTense(verb), groupID)
				return nil
			})
		},
	}
}

func pastTense(verb string) string {
	switch verb {
	case "stop":
		return "stopped"
	case "add":
		return "added"
	case "remove":
		return "removed"
	}
	return verb + "ed"
}
