package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/g960059/wgpanel/internal/appclient"
	"github.com/g960059/wgpanel/internal/model"
	"github.com/g960059/wgpanel/internal/panel"
	"github.com/g960059/wgpanel/internal/security"
)

func newActorsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "actors",
		Short: "Actors of a group",
	}
	cmd.AddCommand(newActorsListCmd(app))
	cmd.AddCommand(newActorsAddCmd(app))
	cmd.AddCommand(newActorsVerbCmd(app, "start", "Start an actor", app.startActor))
	cmd.AddCommand(newActorsVerbCmd(app, "stop", "Stop an actor", app.stopActor))
	cmd.AddCommand(newActorsVerbCmd(app, "restart", "Restart an actor", app.restartActor))
	cmd.AddCommand(newActorsRemoveCmd(app))
	cmd.AddCommand(newRuntimesCmd(app))
	return cmd
}

func (app *App) startActor(ctx context.Context, groupID, actorID string) error {
	return app.Client.StartActor(ctx, groupID, actorID)
}

func (app *App) stopActor(ctx context.Context, groupID, actorID string) error {
	return app.Client.StopActor(ctx, groupID, actorID)
}

func (app *App) restartActor(ctx context.Context, groupID, actorID string) error {
	return app.Client.RestartActor(ctx, groupID, actorID)
}

func newActorsListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list <group-id>",
		Short: "List the roster of a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actors, err := app.Client.ListActors(cmd.Context(), args[0])
			if err != nil {
				return writeErr(cmd, err)
			}
			for i := range actors {
				actors[i].Command = security.RedactArgs(actors[i].Command)
			}
			return writeOut(cmd, app, actors, func() error {
				out := cmd.OutOrStdout()
				for _, a := range actors {
					state := "stopped"
					if a.Running {
						state = "running"
					}
					if !a.Enabled {
						state += ",disabled"
					}
					_, _ = fmt.Fprintf(out, "%s\t%s\t%s\t%s\tunread=%d\n", a.ID, a.Role, state, valueOr(a.Runtime, "-"), a.UnreadCount)
				}
				return nil
			})
		},
	}
}

func newActorsAddCmd(app *App) *cobra.Command {
	var (
		actorID string
		role    string
		runtime string
		command []string
		title   string
	)
	cmd := &cobra.Command{
		Use:   "add <group-id>",
		Short: "Add an actor; the first actor of a group becomes the foreman",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			groupID := args[0]
			roster, err := app.Client.ListActors(ctx, groupID)
			if err != nil {
				return writeErr(cmd, err)
			}
			a, err := panel.PrepareActor(roster, panel.NewActor{
				ID:      actorID,
				Role:    model.ActorRole(strings.ToLower(strings.TrimSpace(role))),
				Runtime: strings.TrimSpace(runtime),
				Command: command,
				Title:   title,
			})
			if err != nil {
				return writeErr(cmd, err)
			}
			err = app.Client.AddActor(ctx, groupID, appclient.AddActorRequest{
				ActorID: a.ID,
				Role:    a.Role,
				Runtime: a.Runtime,
				Command: a.Command,
				Title:   a.Title,
			})
			if err != nil {
				return writeErr(cmd, err)
			}
			res := map[string]any{"group_id": groupID, "actor_id": a.ID, "role": a.Role}
			return writeOut(cmd, app, res, func() error {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "added %s %s to %s\n", a.Role, valueOr(a.ID, "actor"), groupID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "id", "", "Actor id (the backend picks one when empty)")
	cmd.Flags().StringVar(&role, "role", "", "foreman or peer (default peer)")
	cmd.Flags().StringVar(&runtime, "runtime", "", "Agent runtime name")
	cmd.Flags().StringSliceVar(&command, "command", nil, "Command line for the custom runtime")
	cmd.Flags().StringVar(&title, "title", "", "Display title")
	return cmd
}

func newActorsVerbCmd(app *App, verb, short string, call func(ctx context.Context, groupID, actorID string) error) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <group-id> <actor-id>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			groupID, actorID := args[0], args[1]
			if err := call(cmd.Context(), groupID, actorID); err != nil {
				return writeErr(cmd, err)
			}
			res := map[string]any{"group_id": groupID, "actor_id": actorID, "verb": verb}
			return writeOut(cmd, app, res, func() error {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", pastTense(verb), actorID)
				return nil
			})
		},
	}
}

func newActorsRemoveCmd(app *App) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "remove <group-id> <actor-id>",
		Short: "Remove an actor from a group",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			groupID, actorID := args[0], args[1]
			if !yes {
				return writeErr(cmd, fmt.Errorf("%w: pass --yes to remove %s", panel.ErrNotConfirmed, actorID))
			}
			if err := app.Client.RemoveActor(cmd.Context(), groupID, actorID); err != nil {
				return writeErr(cmd, err)
			}
			res := map[string]any{"group_id": groupID, "actor_id": actorID, "removed": true}
			return writeOut(cmd, app, res, func() error {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", actorID)
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm the removal")
	return cmd
}

func newRuntimesCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "runtimes",
		Short: "List agent runtimes the backend can launch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runtimes, err := app.Client.ListRuntimes(cmd.Context())
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, runtimes, func() error {
				out := cmd.OutOrStdout()
				for _, rt := range runtimes {
					avail := "unavailable"
					if rt.Available {
						avail = "available"
					}
					_, _ = fmt.Fprintf(out, "%s\t%s\t%s\n", rt.Name, avail, rt.RecommendedCommand)
				}
				return nil
			})
		},
	}
}

func valueOr(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
