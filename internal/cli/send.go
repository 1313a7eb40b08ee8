package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/g960059/wgpanel/internal/api"
	"github.com/g960059/wgpanel/internal/composer"
	"github.com/g960059/wgpanel/internal/model"
	"github.com/g960059/wgpanel/internal/panel"
)

const maxStdinPayloadBytes = 256 * 1024

func newSendCmd(app *App) *cobra.Command {
	var (
		to        []string
		attention bool
		yes       bool
		replyTo   string
		fromStdin bool
		files     []string
	)
	cmd := &cobra.Command{
		Use:   "send <group-id> [text...]",
		Short: "Send a chat message to a group",
		Long: strings.TrimSpace(`
Send a chat message. Recipients are actor ids or @all, @peers, @foreman;
with none the message is a broadcast. Attention messages must be
acknowledged by each recipient and need --yes.`),
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			groupID := args[0]
			text := strings.Join(args[1:], " ")
			if fromStdin {
				if text != "" {
					return writeErr(cmd, errors.New("--stdin cannot be combined with text arguments"))
				}
				payload, err := readStdinPayload(cmd.InOrStdin(), maxStdinPayloadBytes)
				if err != nil {
					return writeErr(cmd, err)
				}
				text = payload
			}

			comp, err := app.composerFor(ctx, groupID)
			if err != nil {
				return writeErr(cmd, err)
			}
			roster, err := app.Client.ListActors(ctx, groupID)
			if err != nil {
				return writeErr(cmd, err)
			}
			comp.SetRoster(roster)
			for _, token := range to {
				if err := checkRecipient(token, roster); err != nil {
					return writeErr(cmd, err)
				}
				comp.ToggleRecipient(token)
			}
			if replyTo != "" {
				ev, err := app.findEvent(ctx, groupID, replyTo)
				if err != nil {
					return writeErr(cmd, err)
				}
				comp.SetReplyTo(ev)
			}
			if len(files) > 0 {
				staged, err := statFiles(files)
				if err != nil {
					return writeErr(cmd, err)
				}
				if _, rejected := comp.AddFiles(staged); len(rejected) > 0 {
					return writeErr(cmd, &panel.ValidationError{Field: "file", Message: composer.RejectionMessage(rejected)})
				}
			}
			comp.SetText(text, -1)
			if attention {
				comp.SetPriority(model.PriorityAttention)
			}

			ev, err := comp.Send(ctx, func(composer.Prompt) bool { return yes })
			if errors.Is(err, composer.ErrNotConfirmed) {
				return writeErr(cmd, fmt.Errorf("%w: pass --yes to send as attention", err))
			}
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, ev, func() error {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "sent %s\n", ev.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&to, "to", nil, "Recipient token (repeatable)")
	cmd.Flags().BoolVar(&attention, "attention", false, "Require an acknowledgement from each recipient")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm an attention send")
	cmd.Flags().StringVar(&replyTo, "reply-to", "", "Event id to reply to")
	cmd.Flags().BoolVar(&fromStdin, "stdin", false, "Read the message text from piped stdin")
	cmd.Flags().StringArrayVar(&files, "file", nil, "File to attach (repeatable)")
	return cmd
}

// composerFor returns a composer bound to groupID. Drafts stay untouched:
// one-shot sends never read or write the panel's saved drafts.
func (app *App) composerFor(ctx context.Context, groupID string) (*composer.Composer, error) {
	comp := composer.New(app.Client, composer.Options{
		MaxFileBytes: app.Config.MaxAttachmentBytes,
		Logger:       app.Logger,
	})
	if err := comp.RestoreDraft(ctx, groupID); err != nil {
		return nil, err
	}
	return comp, nil
}

func checkRecipient(token string, roster []api.Actor) error {
	token = strings.TrimSpace(token)
	if model.IsUserToken(token) {
		return nil
	}
	for _, fixed := range model.FixedMentionTokens {
		if strings.EqualFold(token, fixed) {
			return nil
		}
	}
	id := strings.TrimPrefix(token, "@")
	for _, a := range roster {
		if a.ID == id {
			return nil
		}
	}
	return &panel.ValidationError{Field: "to", Message: fmt.Sprintf("unknown recipient %q", token)}
}

func (app *App) findEvent(ctx context.Context, groupID, eventID string) (api.Event, error) {
	events, err := app.Client.LedgerTail(ctx, groupID, app.Config.BufferCap)
	if err != nil {
		return api.Event{}, err
	}
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].ID == eventID {
			return events[i], nil
		}
	}
	return api.Event{}, &panel.ValidationError{Field: "reply_to", Message: fmt.Sprintf("event %s is not in the recent ledger", eventID)}
}

func statFiles(paths []string) ([]model.DraftFile, error) {
	out := make([]model.DraftFile, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("%s is a directory", p)
		}
		out = append(out, model.DraftFile{
			Name:       filepath.Base(p),
			Path:       p,
			Size:       info.Size(),
			ModifiedAt: info.ModTime(),
		})
	}
	return out, nil
}

func readStdinPayload(stdin io.Reader, maxBytes int64) (string, error) {
	if stdin == nil {
		return "", errors.New("stdin unavailable")
	}
	if f, ok := stdin.(*os.File); ok {
		stat, err := f.Stat()
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		if stat.Mode()&os.ModeCharDevice != 0 {
			return "", errors.New("--stdin requires piped input")
		}
	}
	body, err := io.ReadAll(io.LimitReader(stdin, maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	if int64(len(body)) > maxBytes {
		return "", fmt.Errorf("--stdin payload exceeds %d bytes", maxBytes)
	}
	if strings.TrimSpace(string(body)) == "" {
		return "", errors.New("--stdin requires non-empty payload")
	}
	return string(body), nil
}
