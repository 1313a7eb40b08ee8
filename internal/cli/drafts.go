package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/g960059/wgpanel/internal/model"
)

func newDraftsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drafts",
		Short: "Unsent composer drafts saved by the panel",
	}
	cmd.AddCommand(newDraftsListCmd(app))
	cmd.AddCommand(newDraftsClearCmd(app))
	return cmd
}

type draftView struct {
	GroupID   string   `json:"group_id"`
	Text      string   `json:"text"`
	To        []string `json:"to,omitempty"`
	ReplyTo   string   `json:"reply_to,omitempty"`
	Priority  string   `json:"priority"`
	Files     []string `json:"files,omitempty"`
	UpdatedAt string   `json:"updated_at"`
}

func newDraftsListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved drafts, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := app.openStore(ctx)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer store.Close()
			drafts, err := store.ListDrafts(ctx)
			if err != nil {
				return writeErr(cmd, err)
			}
			views := make([]draftView, 0, len(drafts))
			for _, d := range drafts {
				views = append(views, toDraftView(d))
			}
			return writeOut(cmd, app, views, func() error {
				out := cmd.OutOrStdout()
				for _, d := range drafts {
					_, _ = fmt.Fprintf(out, "%s\t%s\t%d files\t%s\n", d.GroupID, humanize.Time(d.UpdatedAt), len(d.Files), truncateLine(d.Text, 60))
				}
				return nil
			})
		},
	}
}

func toDraftView(d model.Draft) draftView {
	v := draftView{
		GroupID:   d.GroupID,
		Text:      d.Text,
		To:        d.To,
		ReplyTo:   d.ReplyTo,
		Priority:  string(d.Priority.Normalize()),
		UpdatedAt: d.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
	for _, f := range d.Files {
		v.Files = append(v.Files, f.Path)
	}
	return v
}

func newDraftsClearCmd(app *App) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "clear [group-id]",
		Short: "Delete the draft of one group, or every draft with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return writeErr(cmd, fmt.Errorf("give either a group id or --all"))
			}
			ctx := cmd.Context()
			store, err := app.openStore(ctx)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer store.Close()
			var n int64
			if all {
				n, err = store.DeleteAllDrafts(ctx)
			} else {
				err = store.DeleteDraft(ctx, args[0])
				n = 1
			}
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"deleted": n}, func() error {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "cleared %d draft(s)\n", n)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Delete every draft")
	return cmd
}

func truncateLine(s string, width int) string {
	r := []rune(s)
	for i, c := range r {
		if c == '\n' {
			r[i] = ' '
		}
	}
	if len(r) <= width {
		return string(r)
	}
	return string(r[:width-1]) + "…"
}
