package live

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/g960059/wgpanel/internal/api"
	"github.com/g960059/wgpanel/internal/appclient"
	"github.com/g960059/wgpanel/internal/model"
)

// Follower is the slice of the backend client a Channel needs.
type Follower interface {
	FollowLedger(ctx context.Context, groupID string, opts appclient.FollowOptions, onEvent func(api.Event) error) error
}

// Channel owns the single live connection of the selected group. Opening a
// new group closes the previous connection first; events from a closed
// connection are never dispatched.
type Channel struct {
	follower   Follower
	dispatcher *Dispatcher
	opts       appclient.FollowOptions
	metrics    *Metrics
	logger     *zap.Logger

	mu      sync.Mutex
	groupID string
	mode    model.LiveMode
	cancel  context.CancelFunc
	done    chan struct{}
	onMode  func(groupID string, mode model.LiveMode)
	onError func(groupID string, err error)
}

type ChannelOptions struct {
	Follow  appclient.FollowOptions
	Metrics *Metrics
	Logger  *zap.Logger
	// OnModeChange is called whenever the mode of the open connection changes,
	// including the transition to off when it closes.
	OnModeChange func(groupID string, mode model.LiveMode)
	// OnError receives the terminal error of a connection that stopped on its
	// own, for example after a non-retryable backend error.
	OnError func(groupID string, err error)
}

func NewChannel(follower Follower, dispatcher *Dispatcher, opts ChannelOptions) *Channel {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Channel{
		follower:   follower,
		dispatcher: dispatcher,
		opts:       opts.Follow,
		metrics:    opts.Metrics,
		logger:     logger,
		mode:       model.LiveOff,
		onMode:     opts.OnModeChange,
		onError:    opts.OnError,
	}
}

// Open starts following groupID, closing any connection already open.
// known lists ids of events the caller already loaded; they are not
// dispatched again when the connection catches up.
func (c *Channel) Open(ctx context.Context, groupID string, known ...string) {
	c.Close()
	if groupID == "" {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.mu.Lock()
	c.groupID = groupID
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	opts := c.opts
	opts.Known = append(append([]string(nil), opts.Known...), known...)
	opts.OnModeChange = func(mode model.LiveMode) {
		if runCtx.Err() != nil {
			return
		}
		c.setMode(groupID, mode)
	}
	go func() {
		defer close(done)
		err := c.follower.FollowLedger(runCtx, groupID, opts, func(ev api.Event) error {
			if runCtx.Err() != nil {
				return runCtx.Err()
			}
			c.dispatcher.Dispatch(groupID, ev)
			return nil
		})
		if err != nil && !errors.Is(err, context.Canceled) && runCtx.Err() == nil {
			c.logger.Warn("live channel stopped", zap.String("group_id", groupID), zap.Error(err))
			if c.onError != nil {
				c.onError(groupID, err)
			}
		}
	}()
}

// Close stops the open connection, if any, and waits for it to finish.
func (c *Channel) Close() {
	c.mu.Lock()
	cancel, done, groupID := c.cancel, c.done, c.groupID
	c.cancel, c.done, c.groupID = nil, nil, ""
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	c.setMode(groupID, model.LiveOff)
}

// GroupID reports the group currently followed, or "".
func (c *Channel) GroupID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.groupID
}

func (c *Channel) Mode() model.LiveMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

func (c *Channel) setMode(groupID string, mode model.LiveMode) {
	c.mu.Lock()
	if c.mode == mode {
		c.mu.Unlock()
		return
	}
	c.mode = mode
	c.mu.Unlock()
	c.metrics.observeMode(mode)
	if c.onMode != nil {
		c.onMode(groupID, mode)
	}
}
