package appclient

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/g960059/wgpanel/internal/api"
	"github.com/g960059/wgpanel/internal/model"
)

type FollowOptions struct {
	// FailureThreshold is the number of consecutive stream failures after
	// which the loop falls back to polling the ledger tail.
	FailureThreshold int
	PollInterval     time.Duration
	PollLines        int
	// ResumeInterval bounds how often a push stream is re-attempted while
	// polling. Zero disables resuming.
	ResumeInterval  time.Duration
	RetryMinBackoff time.Duration
	RetryMaxBackoff time.Duration
	OnModeChange    func(model.LiveMode)
	// Known holds ids of events the caller already has, typically from the
	// tail it loaded before following. They are never delivered.
	Known []string
}

func (o FollowOptions) withDefaults() FollowOptions {
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = 3
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 10 * time.Second
	}
	if o.PollLines <= 0 {
		o.PollLines = 200
	}
	if o.RetryMinBackoff <= 0 {
		o.RetryMinBackoff = 250 * time.Millisecond
	}
	if o.RetryMaxBackoff <= 0 {
		o.RetryMaxBackoff = 4 * time.Second
	}
	if o.RetryMaxBackoff < o.RetryMinBackoff {
		o.RetryMaxBackoff = o.RetryMinBackoff
	}
	return o
}

type handlerError struct {
	err error
}

func (e handlerError) Error() string { return e.err.Error() }
func (e handlerError) Unwrap() error { return e.err }

// seenSet remembers recently delivered event ids so polling never replays
// events the stream already delivered.
type seenSet struct {
	ids   map[string]struct{}
	order []string
	max   int
}

func newSeenSet(max int) *seenSet {
	return &seenSet{ids: make(map[string]struct{}, max), max: max}
}

func (s *seenSet) add(id string) bool {
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	s.order = append(s.order, id)
	for len(s.order) > s.max {
		delete(s.ids, s.order[0])
		s.order = s.order[1:]
	}
	return true
}

// FollowLedger keeps a group's events flowing to onEvent until ctx is done.
// It prefers the push stream, backs off between stream failures, and after
// FailureThreshold consecutive failures falls back to periodic polling of the
// ledger tail rather than going silent. While polling it opportunistically
// re-attempts the push stream at most once per ResumeInterval.
//
// The stream only carries events appended after it opens, so every open is
// followed by one pass over the ledger tail. Events appended before the first
// open or while disconnected are delivered by that pass; ids in opts.Known and
// ids already delivered are skipped.
func (c *Client) FollowLedger(ctx context.Context, groupID string, opts FollowOptions, onEvent func(api.Event) error) error {
	opts = opts.withDefaults()
	seen := newSeenSet(opts.PollLines*4 + len(opts.Known))
	for _, id := range opts.Known {
		seen.add(id)
	}
	mode := model.LiveOff
	setMode := func(next model.LiveMode) {
		if next == mode {
			return
		}
		mode = next
		c.logger.Info("live channel mode", zap.String("group_id", groupID), zap.String("mode", string(next)))
		if opts.OnModeChange != nil {
			opts.OnModeChange(next)
		}
	}
	deliver := func(ev api.Event) error {
		if !seen.add(ev.ID) {
			return nil
		}
		if onEvent == nil {
			return nil
		}
		if err := onEvent(ev); err != nil {
			return handlerError{err: err}
		}
		return nil
	}

	var resume *rate.Limiter
	if opts.ResumeInterval > 0 {
		resume = rate.NewLimiter(rate.Every(opts.ResumeInterval), 1)
	} else {
		resume = rate.NewLimiter(0, 0)
	}

	failures := 0
	backoff := opts.RetryMinBackoff
	polling := false
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if !polling || resume.Allow() {
			err := c.streamLedger(ctx, groupID, func() error {
				if err := c.catchUp(ctx, groupID, opts.PollLines, deliver); err != nil {
					return err
				}
				failures = 0
				backoff = opts.RetryMinBackoff
				polling = false
				setMode(model.LiveStreaming)
				return nil
			}, deliver)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			var hErr handlerError
			if errors.As(err, &hErr) {
				return hErr.err
			}
			var reqErr *RequestError
			if errors.As(err, &reqErr) && !reqErr.Retryable() {
				return err
			}
			failures++
			c.logger.Debug("ledger stream failed", zap.String("group_id", groupID), zap.Int("failures", failures), zap.Error(err))
			if !polling && failures >= opts.FailureThreshold {
				polling = true
				resume.Allow()
				setMode(model.LivePolling)
			}
			if !polling {
				if err := sleepWithContext(ctx, backoff); err != nil {
					return err
				}
				backoff *= 2
				if backoff > opts.RetryMaxBackoff {
					backoff = opts.RetryMaxBackoff
				}
				continue
			}
		}

		events, err := c.LedgerTail(ctx, groupID, opts.PollLines)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			var reqErr *RequestError
			if errors.As(err, &reqErr) && !reqErr.Retryable() {
				return err
			}
			c.logger.Debug("ledger poll failed", zap.String("group_id", groupID), zap.Error(err))
		}
		for _, ev := range events {
			if err := deliver(ev); err != nil {
				var hErr handlerError
				if errors.As(err, &hErr) {
					return hErr.err
				}
				return err
			}
		}
		if err := sleepWithContext(ctx, opts.PollInterval); err != nil {
			return err
		}
	}
}

// catchUp delivers the ledger tail. It runs with the stream already
// subscribed, so nothing appended in between is missed.
func (c *Client) catchUp(ctx context.Context, groupID string, lines int, deliver func(api.Event) error) error {
	events, err := c.LedgerTail(ctx, groupID, lines)
	if err != nil {
		return err
	}
	for _, ev := range events {
		if err := deliver(ev); err != nil {
			return err
		}
	}
	return nil
}

// FollowGlobal keeps the group-independent stream open, reconnecting with
// backoff. onReconnect runs after every successful reopen so the caller can
// catch up on notifications it may have missed.
func (c *Client) FollowGlobal(ctx context.Context, opts FollowOptions, onReconnect func(), onEvent func(api.Event) error) error {
	opts = opts.withDefaults()
	backoff := opts.RetryMinBackoff
	opened := false
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := c.stream(ctx, "/api/v1/events/stream", GlobalStreamEvent, func() error {
			backoff = opts.RetryMinBackoff
			if opened && onReconnect != nil {
				onReconnect()
			}
			opened = true
			return nil
		}, func(ev api.Event) error {
			if onEvent == nil {
				return nil
			}
			if err := onEvent(ev); err != nil {
				return handlerError{err: err}
			}
			return nil
		})
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		var hErr handlerError
		if errors.As(err, &hErr) {
			return hErr.err
		}
		var reqErr *RequestError
		if errors.As(err, &reqErr) && !reqErr.Retryable() {
			return err
		}
		if err := sleepWithContext(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
		if backoff > opts.RetryMaxBackoff {
			backoff = opts.RetryMaxBackoff
		}
	}
}
