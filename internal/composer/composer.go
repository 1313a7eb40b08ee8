// Package composer holds the unsent message of the selected group: text,
// recipient chips, reply target, priority and staged files, plus the
// per-group drafts that survive group switches.
package composer

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/g960059/wgpanel/internal/api"
	"github.com/g960059/wgpanel/internal/appclient"
	"github.com/g960059/wgpanel/internal/model"
)

var (
	ErrNotConfirmed = errors.New("attention message not confirmed")
	ErrEmptyMessage = errors.New("message is empty")
	ErrNoGroup      = errors.New("no group selected")
	ErrSending      = errors.New("a send is already in progress")
)

// Sender is the slice of the backend client used to deliver messages.
type Sender interface {
	Send(ctx context.Context, groupID string, req appclient.SendRequest) (api.Event, error)
	Reply(ctx context.Context, groupID string, req appclient.SendRequest) (api.Event, error)
	SendUpload(ctx context.Context, groupID string, req appclient.SendRequest, files []appclient.Upload) (api.Event, error)
}

// DraftStore persists drafts between runs. *db.Store satisfies it.
type DraftStore interface {
	UpsertDraft(ctx context.Context, draft model.Draft) error
	GetDraft(ctx context.Context, groupID string) (model.Draft, error)
	DeleteDraft(ctx context.Context, groupID string) error
}

// ReplyTarget is the message being answered.
type ReplyTarget struct {
	EventID string
	By      string
	Quote   string
}

// Prompt describes what the user is asked to confirm before an attention
// send.
type Prompt struct {
	Message    string
	Recipients []string
}

type Options struct {
	MaxFileBytes int64
	Drafts       DraftStore
	Logger       *zap.Logger
	// Open reads staged files at send time. Defaults to os.Open.
	Open func(path string) (io.ReadCloser, error)
	// NewClientID mints the idempotency key of each send. Defaults to uuid.
	NewClientID func() string
}

type Composer struct {
	sender       Sender
	drafts       DraftStore
	logger       *zap.Logger
	open         func(path string) (io.ReadCloser, error)
	newClientID  func() string
	maxFileBytes int64

	mu        sync.Mutex
	groupID   string
	text      string
	cursor    int
	to        []string
	// mentioned holds chips that exist because the text mentions them.
	mentioned map[string]bool
	reply     *ReplyTarget
	priority  model.Priority
	files     []model.DraftFile
	roster    []api.Actor
	ac        Autocomplete
	sending   bool
	cache     map[string]model.Draft
}

func New(sender Sender, opts Options) *Composer {
	c := &Composer{
		sender:       sender,
		drafts:       opts.Drafts,
		logger:       opts.Logger,
		open:         opts.Open,
		newClientID:  opts.NewClientID,
		maxFileBytes: opts.MaxFileBytes,
		priority:     model.PriorityNormal,
		mentioned:    map[string]bool{},
		cache:        map[string]model.Draft{},
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.open == nil {
		c.open = func(path string) (io.ReadCloser, error) { return os.Open(path) }
	}
	if c.newClientID == nil {
		c.newClientID = uuid.NewString
	}
	if c.maxFileBytes <= 0 {
		c.maxFileBytes = DefaultMaxFileBytes
	}
	return c
}

// State is a copy of the composer for rendering.
type State struct {
	GroupID      string
	Text         string
	To           []string
	Reply        *ReplyTarget
	Priority     model.Priority
	Files        []model.DraftFile
	Autocomplete Autocomplete
	Sending      bool
}

func (c *Composer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := State{
		GroupID:      c.groupID,
		Text:         c.text,
		To:           append([]string(nil), c.to...),
		Priority:     c.priority,
		Files:        append([]model.DraftFile(nil), c.files...),
		Autocomplete: c.ac,
		Sending:      c.sending,
	}
	st.Autocomplete.Items = append([]string(nil), c.ac.Items...)
	if c.reply != nil {
		r := *c.reply
		st.Reply = &r
	}
	return st
}

func (c *Composer) SetRoster(roster []api.Actor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roster = append([]api.Actor(nil), roster...)
	c.adoptMentionChipsLocked()
	c.ac.update(c.text, c.cursor, c.roster)
}

// SetText replaces the text with the cursor at rune offset cursor (-1 for the
// end). Completed mentions that name a known recipient become chips, and a
// chip added by a mention goes away once the mention leaves the text.
func (c *Composer) SetText(text string, cursor int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.text = text
	c.cursor = runeCursor(text, cursor)
	c.syncMentionsLocked()
	c.ac.update(c.text, c.cursor, c.roster)
}

func (c *Composer) syncMentionsLocked() {
	present := c.mentionTokensLocked(true)
	for _, token := range c.mentionTokensLocked(false) {
		if c.hasChip(token) {
			continue
		}
		c.to = append(c.to, token)
		c.mentioned[token] = true
	}
	for token := range c.mentioned {
		if !contains(present, token) {
			c.removeChip(token)
			delete(c.mentioned, token)
		}
	}
}

// adoptMentionChipsLocked marks chips the text mentions as mention chips,
// for drafts restored from storage.
func (c *Composer) adoptMentionChipsLocked() {
	for _, token := range c.mentionTokensLocked(true) {
		if c.hasChip(token) {
			c.mentioned[token] = true
		}
	}
}

// mentionTokensLocked maps the text's mentions onto recipient tokens. With
// trailing unset, a mention with nothing after it is still being typed and
// is skipped.
func (c *Composer) mentionTokensLocked(trailing bool) []string {
	var out []string
	for _, m := range textMentions(c.text, trailing) {
		if token, ok := c.tokenFor(m); ok && !contains(out, token) {
			out = append(out, token)
		}
	}
	return out
}

// tokenFor maps a typed mention onto a recipient token: fixed tokens keep
// their '@', actor mentions become the bare actor id.
func (c *Composer) tokenFor(mention string) (string, bool) {
	for _, fixed := range model.FixedMentionTokens {
		if strings.EqualFold(mention, fixed) {
			return fixed, true
		}
	}
	id := strings.TrimPrefix(mention, "@")
	for _, a := range c.roster {
		if a.ID == id {
			return id, true
		}
	}
	return "", false
}

func (c *Composer) hasChip(token string) bool {
	return contains(c.to, token)
}

func (c *Composer) removeChip(token string) bool {
	for i, t := range c.to {
		if t == token {
			c.to = append(c.to[:i:i], c.to[i+1:]...)
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ToggleRecipient adds or removes a recipient chip.
func (c *Composer) ToggleRecipient(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	token = strings.TrimSpace(token)
	if token == "" {
		return
	}
	if t, ok := c.tokenFor(token); ok {
		token = t
	}
	// A toggled chip belongs to the user, not to the text.
	delete(c.mentioned, token)
	if !c.removeChip(token) {
		c.to = append(c.to, token)
	}
}

func (c *Composer) SetReplyTo(ev api.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	target := &ReplyTarget{EventID: ev.ID, By: ev.By}
	if msg, err := ev.ChatMessage(); err == nil {
		target.Quote = quote(msg.Text)
	}
	c.reply = target
}

func (c *Composer) ClearReply() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reply = nil
}

func (c *Composer) SetPriority(p model.Priority) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.priority = p.Normalize()
}

// AutocompleteUp, AutocompleteDown and DismissAutocomplete drive the popup.
func (c *Composer) AutocompleteUp() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ac.Up()
}

func (c *Composer) AutocompleteDown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ac.Down()
}

func (c *Composer) DismissAutocomplete() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ac.Dismiss()
}

// CommitAutocomplete replaces the partial mention with the highlighted item
// followed by a space, adds the matching recipient chip and returns the new
// text and cursor.
func (c *Composer) CommitAutocomplete() (string, int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.ac.Selected()
	if !ok {
		return c.text, c.cursor, false
	}
	runes := []rune(c.text)
	start, end := c.ac.start, c.ac.end
	if start < 0 || end > len(runes) || start > end {
		c.ac.Dismiss()
		return c.text, c.cursor, false
	}
	insert := []rune(item + " ")
	out := make([]rune, 0, len(runes)+len(insert))
	out = append(out, runes[:start]...)
	out = append(out, insert...)
	out = append(out, runes[end:]...)
	c.text = string(out)
	c.cursor = start + len(insert)
	if token, ok := c.tokenFor(item); ok && !c.hasChip(token) {
		c.to = append(c.to, token)
		c.mentioned[token] = true
	}
	c.ac.Dismiss()
	return c.text, c.cursor, true
}

func quote(text string) string {
	text = strings.TrimSpace(text)
	const max = 200
	r := []rune(text)
	if len(r) > max {
		return string(r[:max]) + "…"
	}
	return text
}
