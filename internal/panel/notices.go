package panel

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/g960059/wgpanel/internal/appclient"
)

type NoticeLevel string

const (
	NoticeInfo  NoticeLevel = "info"
	NoticeError NoticeLevel = "error"
)

// Notice is a dismissible, auto-expiring global message. Code and Message
// carry the backend's wording verbatim for request failures.
type Notice struct {
	ID        string
	Level     NoticeLevel
	Code      string
	Message   string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Notices is the panel-wide notice list.
type Notices struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	items []Notice
}

func NewNotices(ttl time.Duration, now func() time.Time) *Notices {
	if ttl <= 0 {
		ttl = 8 * time.Second
	}
	if now == nil {
		now = time.Now
	}
	return &Notices{ttl: ttl, now: now}
}

func (n *Notices) Push(level NoticeLevel, code, message string) Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	now := n.now()
	item := Notice{ID: uuid.NewString(), Level: level, Code: code, Message: message, CreatedAt: now, ExpiresAt: now.Add(n.ttl)}
	n.items = append(n.items, item)
	return item
}

// PushError records a request failure. Validation errors and the sentinel
// errors of this package are not notices and are ignored.
func (n *Notices) PushError(err error) (Notice, bool) {
	if err == nil || errors.Is(err, ErrNotConfirmed) || errors.Is(err, ErrBusy) || errors.Is(err, context.Canceled) {
		return Notice{}, false
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		return Notice{}, false
	}
	var perr *PartialError
	if errors.As(err, &perr) {
		reqErr := appclient.AsRequestError(perr.Err)
		return n.Push(NoticeError, reqErr.Code, perr.Error()), true
	}
	reqErr := appclient.AsRequestError(err)
	return n.Push(NoticeError, reqErr.Code, reqErr.Message), true
}

func (n *Notices) Dismiss(id string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, item := range n.items {
		if item.ID == id {
			n.items = append(n.items[:i:i], n.items[i+1:]...)
			return true
		}
	}
	return false
}

// Active drops expired notices and returns the rest, oldest first.
func (n *Notices) Active() []Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	now := n.now()
	kept := n.items[:0]
	for _, item := range n.items {
		if now.Before(item.ExpiresAt) {
			kept = append(kept, item)
		}
	}
	n.items = kept
	return append([]Notice(nil), kept...)
}
