package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/g960059/wgpanel/internal/api"
	"github.com/g960059/wgpanel/internal/model"
)

func newTailCmd(app *App) *cobra.Command {
	var (
		lines  int
		follow bool
	)
	cmd := &cobra.Command{
		Use:   "tail <group-id>",
		Short: "Print the newest ledger events of a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			groupID := args[0]
			if lines <= 0 {
				lines = app.Config.TailLines
			}
			events, err := app.Client.LedgerTail(ctx, groupID, lines)
			if err != nil {
				return writeErr(cmd, err)
			}
			printed := make(map[string]struct{}, len(events))
			out := cmd.OutOrStdout()
			emit := func(ev api.Event) error {
				if _, dup := printed[ev.ID]; dup {
					return nil
				}
				printed[ev.ID] = struct{}{}
				if app.JSON {
					raw, err := json.Marshal(ev)
					if err != nil {
						return err
					}
					_, err = fmt.Fprintln(out, string(raw))
					return err
				}
				return writeEvent(out, ev)
			}
			for _, ev := range events {
				if err := emit(ev); err != nil {
					return writeErr(cmd, err)
				}
			}
			if !follow {
				return nil
			}
			opts := app.followOptions()
			for _, ev := range events {
				opts.Known = append(opts.Known, ev.ID)
			}
			err = app.Client.FollowLedger(ctx, groupID, opts, emit)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			if err != nil {
				return writeErr(cmd, err)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 0, "Number of events (default tail_lines)")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new events")
	return cmd
}

// writeEvent prints one event. Chat messages show sender, recipients and
// text; everything else is a single summary line.
func writeEvent(w io.Writer, ev api.Event) error {
	ts := "--:--:--"
	if t := ev.Time(); !t.IsZero() {
		ts = t.Local().Format("15:04:05")
	}
	switch ev.Kind {
	case model.KindChatMessage:
		msg, err := ev.ChatMessage()
		if err != nil {
			_, werr := fmt.Fprintf(w, "%s %s %s (%v)\n", ts, ev.ID, ev.Kind, err)
			return werr
		}
		head := fmt.Sprintf("%s %s %s", ts, ev.ID, ev.By)
		if len(msg.To) > 0 {
			head += " -> " + strings.Join(msg.To, ",")
		}
		if msg.Priority == model.PriorityAttention {
			head += " [attention]"
		}
		if msg.ReplyTo != nil && *msg.ReplyTo != "" {
			head += " re:" + *msg.ReplyTo
		}
		body := strings.ReplaceAll(strings.TrimRight(msg.Text, "\n"), "\n", "\n    ")
		if _, err := fmt.Fprintf(w, "%s: %s\n", head, body); err != nil {
			return err
		}
		for _, a := range msg.Attachments {
			name := valueOr(a.Title, a.Path)
			if a.Bytes > 0 {
				name += " (" + humanize.IBytes(uint64(a.Bytes)) + ")"
			}
			if _, err := fmt.Fprintf(w, "    attachment %s\n", name); err != nil {
				return err
			}
		}
		return nil
	case model.KindSystemNotify:
		n, err := ev.Notify()
		if err == nil {
			_, err = fmt.Fprintf(w, "%s %s notify %s %s\n", ts, ev.ID, n.Title, n.Message)
		}
		return err
	}
	if rd, err := ev.Receipt(); err == nil && rd.EventID != "" {
		_, err = fmt.Fprintf(w, "%s %s %s %s %s\n", ts, ev.ID, ev.Kind, valueOr(rd.ActorID, ev.By), rd.EventID)
		return err
	}
	_, err := fmt.Fprintf(w, "%s %s %s %s\n", ts, ev.ID, ev.Kind, ev.By)
	return err
}
