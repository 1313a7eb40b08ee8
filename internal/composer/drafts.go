package composer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/g960059/wgpanel/internal/db"
	"github.com/g960059/wgpanel/internal/model"
)

// GroupID reports which group the composer is editing.
func (c *Composer) GroupID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.groupID
}

func (c *Composer) snapshotLocked() model.Draft {
	d := model.Draft{
		GroupID:   c.groupID,
		Text:      c.text,
		To:        append([]string(nil), c.to...),
		Priority:  c.priority.Normalize(),
		Files:     append([]model.DraftFile(nil), c.files...),
		UpdatedAt: time.Now().UTC(),
	}
	if c.reply != nil {
		d.ReplyTo = c.reply.EventID
		d.ReplyBy = c.reply.By
		d.QuoteText = c.reply.Quote
	}
	return d
}

// SaveDraft stores the current composer state as the draft of its group.
// An empty composer removes any stored draft.
func (c *Composer) SaveDraft(ctx context.Context) error {
	c.mu.Lock()
	if c.groupID == "" {
		c.mu.Unlock()
		return nil
	}
	d := c.snapshotLocked()
	if d.Empty() {
		delete(c.cache, d.GroupID)
	} else {
		c.cache[d.GroupID] = d
	}
	c.mu.Unlock()
	if c.drafts == nil {
		return nil
	}
	if err := c.drafts.UpsertDraft(ctx, d); err != nil {
		return fmt.Errorf("save draft for %s: %w", d.GroupID, err)
	}
	return nil
}

// RestoreDraft switches the composer to groupID and loads its draft, or
// starts empty when there is none. It does not save the previous group;
// callers call SaveDraft first.
func (c *Composer) RestoreDraft(ctx context.Context, groupID string) error {
	c.mu.Lock()
	d, cached := c.cache[groupID]
	c.mu.Unlock()

	var loadErr error
	if !cached && c.drafts != nil && groupID != "" {
		stored, err := c.drafts.GetDraft(ctx, groupID)
		switch {
		case err == nil:
			d, cached = stored, true
		case errors.Is(err, db.ErrNotFound):
		default:
			loadErr = fmt.Errorf("load draft for %s: %w", groupID, err)
			c.logger.Warn("load draft", zap.String("group_id", groupID), zap.Error(err))
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
	c.groupID = groupID
	if !cached {
		return loadErr
	}
	c.cache[groupID] = d
	c.text = d.Text
	c.cursor = len([]rune(d.Text))
	c.to = append([]string(nil), d.To...)
	c.adoptMentionChipsLocked()
	c.priority = d.Priority.Normalize()
	c.files = append([]model.DraftFile(nil), d.Files...)
	if d.ReplyTo != "" {
		c.reply = &ReplyTarget{EventID: d.ReplyTo, By: d.ReplyBy, Quote: d.QuoteText}
	}
	return nil
}

// SwitchGroup saves the current draft and restores the one of groupID.
func (c *Composer) SwitchGroup(ctx context.Context, groupID string) error {
	saveErr := c.SaveDraft(ctx)
	if err := c.RestoreDraft(ctx, groupID); err != nil {
		return err
	}
	return saveErr
}
