package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/g960059/wgpanel/internal/api"
	"github.com/g960059/wgpanel/internal/model"
	"github.com/g960059/wgpanel/internal/panel"
)

func newContextCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "context",
		Short: "Shared context document of a group",
	}
	cmd.AddCommand(newContextShowCmd(app))
	cmd.AddCommand(newContextVisionCmd(app))
	cmd.AddCommand(newContextNoteCmd(app))
	cmd.AddCommand(newContextTaskStatusCmd(app, "archive", model.TaskArchived))
	cmd.AddCommand(newContextTaskStatusCmd(app, "restore", model.TaskPlanned))
	return cmd
}

func newContextShowCmd(app *App) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "show <group-id>",
		Short: "Print the context document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := app.Client.GetContext(cmd.Context(), args[0])
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, doc, func() error {
				_, err := fmt.Fprint(cmd.OutOrStdout(), formatContext(doc, all))
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Include archived milestones and tasks")
	return cmd
}

func formatContext(doc api.ContextDoc, all bool) string {
	var b strings.Builder
	if v := strings.TrimSpace(doc.Vision); v != "" {
		fmt.Fprintf(&b, "vision: %s\n", v)
	}
	if s := strings.TrimSpace(doc.Sketch); s != "" {
		fmt.Fprintf(&b, "sketch:\n  %s\n", strings.ReplaceAll(s, "\n", "\n  "))
	}
	for _, ms := range doc.Milestones {
		if ms.Status == model.MilestoneArchived && !all {
			continue
		}
		fmt.Fprintf(&b, "milestone %s\t%s\t%s\n", ms.ID, ms.Status, ms.Name)
	}
	for _, t := range doc.Tasks {
		if t.Status == model.TaskArchived && !all {
			continue
		}
		line := fmt.Sprintf("task %s\t%s\t%s", t.ID, t.Status, t.Name)
		if t.Assignee != "" {
			line += "\t@" + t.Assignee
		}
		b.WriteString(line + "\n")
	}
	for _, n := range doc.Notes {
		fmt.Fprintf(&b, "note %s\t%s\n", n.ID, strings.ReplaceAll(n.Content, "\n", " "))
	}
	for _, r := range doc.References {
		fmt.Fprintf(&b, "ref %s\t%s\t%s\n", r.ID, r.URL, r.Note)
	}
	for _, p := range doc.Presence {
		fmt.Fprintf(&b, "presence %s\t%s\t%s\n", p.ActorID, p.Status, p.Activity)
	}
	return b.String()
}

func newContextVisionCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "vision <group-id> <text...>",
		Short: "Replace the vision statement",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			vision := strings.Join(args[1:], " ")
			op := api.NewOp(model.OpVisionUpdate, map[string]any{"vision": vision})
			return applyContextOp(cmd, app, args[0], op, "vision updated")
		},
	}
}

func newContextNoteCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "note <group-id> <text...>",
		Short: "Add a note",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			content := strings.TrimSpace(strings.Join(args[1:], " "))
			if content == "" {
				return writeErr(cmd, &panel.ValidationError{Field: "content", Message: "note content is required"})
			}
			op := api.NewOp(model.OpNoteAdd, map[string]any{"content": content})
			return applyContextOp(cmd, app, args[0], op, "note added")
		},
	}
}

func newContextTaskStatusCmd(app *App, verb string, status model.TaskStatus) *cobra.Command {
	return &cobra.Command{
		Use:   "task-" + verb + " <group-id> <task-id>",
		Short: fmt.Sprintf("Set a task to %s", status),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID := strings.TrimSpace(args[1])
			op := api.NewOp(model.OpTaskUpdate, map[string]any{"task_id": taskID, "status": string(status)})
			return applyContextOp(cmd, app, args[0], op, fmt.Sprintf("task %s %s", taskID, status))
		},
	}
}

func applyContextOp(cmd *cobra.Command, app *App, groupID string, op api.ContextOp, done string) error {
	if err := app.Client.ContextOps(cmd.Context(), groupID, []api.ContextOp{op}); err != nil {
		return writeErr(cmd, err)
	}
	return writeOut(cmd, app, map[string]any{"group_id": groupID, "op": op.Name()}, func() error {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), done)
		return nil
	})
}
