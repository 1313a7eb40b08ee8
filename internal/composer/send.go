package composer

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/g960059/wgpanel/internal/api"
	"github.com/g960059/wgpanel/internal/appclient"
	"github.com/g960059/wgpanel/internal/model"
)

// Recipients returns the tokens a send would use right now: the chips, or
// the reply target's author when replying without chips, or broadcast.
func (c *Composer) Recipients() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recipientsLocked()
}

// A mention at the very end of the text counts even though it has no chip
// yet.
func (c *Composer) recipientsLocked() []string {
	to := append([]string(nil), c.to...)
	for _, token := range c.mentionTokensLocked(true) {
		if !contains(to, token) {
			to = append(to, token)
		}
	}
	if len(to) > 0 {
		return to
	}
	if c.reply != nil && c.reply.By != "" && !model.IsUserToken(c.reply.By) {
		return []string{c.reply.By}
	}
	return []string{model.TokenAll}
}

// Send delivers the composed message. Attention messages go out only when
// confirm approves the prompt; otherwise ErrNotConfirmed is returned and no
// request is made. On success the composer and the group's draft are
// cleared; on failure every field is left as it was.
func (c *Composer) Send(ctx context.Context, confirm func(Prompt) bool) (api.Event, error) {
	c.mu.Lock()
	if c.groupID == "" {
		c.mu.Unlock()
		return api.Event{}, ErrNoGroup
	}
	if c.sending {
		c.mu.Unlock()
		return api.Event{}, ErrSending
	}
	text := strings.TrimSpace(c.text)
	if text == "" && len(c.files) == 0 {
		c.mu.Unlock()
		return api.Event{}, ErrEmptyMessage
	}
	groupID := c.groupID
	req := appclient.SendRequest{
		Text:     text,
		To:       c.recipientsLocked(),
		Priority: c.priority.Normalize(),
		ClientID: c.newClientID(),
	}
	if c.reply != nil {
		req.ReplyTo = c.reply.EventID
		req.QuoteText = c.reply.Quote
	}
	files := append([]model.DraftFile(nil), c.files...)
	c.mu.Unlock()

	if req.Priority == model.PriorityAttention {
		prompt := Prompt{
			Message:    fmt.Sprintf("Send as attention? Each of %s must acknowledge it.", strings.Join(req.To, ", ")),
			Recipients: req.To,
		}
		if confirm == nil || !confirm(prompt) {
			return api.Event{}, ErrNotConfirmed
		}
	}

	c.mu.Lock()
	if c.sending {
		c.mu.Unlock()
		return api.Event{}, ErrSending
	}
	c.sending = true
	c.mu.Unlock()

	ev, err := c.deliver(ctx, groupID, req, files)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.sending = false
	if err != nil {
		c.logger.Warn("send failed", zap.String("group_id", groupID), zap.Error(err))
		return api.Event{}, err
	}
	delete(c.cache, groupID)
	if c.groupID == groupID {
		c.resetLocked()
	}
	if c.drafts != nil {
		if derr := c.drafts.DeleteDraft(ctx, groupID); derr != nil {
			c.logger.Warn("clear draft after send", zap.String("group_id", groupID), zap.Error(derr))
		}
	}
	return ev, nil
}

func (c *Composer) deliver(ctx context.Context, groupID string, req appclient.SendRequest, files []model.DraftFile) (api.Event, error) {
	if len(files) == 0 {
		if req.ReplyTo != "" {
			return c.sender.Reply(ctx, groupID, req)
		}
		return c.sender.Send(ctx, groupID, req)
	}
	uploads := make([]appclient.Upload, 0, len(files))
	var closers []io.Closer
	defer func() {
		for _, cl := range closers {
			cl.Close() //nolint:errcheck
		}
	}()
	for _, f := range files {
		rc, err := c.open(f.Path)
		if err != nil {
			return api.Event{}, &appclient.RequestError{Code: "file_read_error", Message: fmt.Sprintf("open %s: %v", f.Name, err), Err: err}
		}
		closers = append(closers, rc)
		uploads = append(uploads, appclient.Upload{Name: f.Name, Reader: rc})
	}
	return c.sender.SendUpload(ctx, groupID, req, uploads)
}

func (c *Composer) resetLocked() {
	c.text = ""
	c.cursor = 0
	c.to = nil
	c.mentioned = map[string]bool{}
	c.reply = nil
	c.priority = model.PriorityNormal
	c.files = nil
	c.ac.Dismiss()
}
