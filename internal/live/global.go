package live

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/g960059/wgpanel/internal/api"
	"github.com/g960059/wgpanel/internal/appclient"
)

// GlobalFollower is the slice of the backend client the global watcher needs.
type GlobalFollower interface {
	FollowGlobal(ctx context.Context, opts appclient.FollowOptions, onReconnect func(), onEvent func(api.Event) error) error
}

// Global follows the group-independent stream for the lifetime of the panel.
// Its events are dispatched with the group id carried in the event itself.
type Global struct {
	follower    GlobalFollower
	dispatcher  *Dispatcher
	opts        appclient.FollowOptions
	onReconnect func()
	logger      *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewGlobal(follower GlobalFollower, dispatcher *Dispatcher, opts appclient.FollowOptions, onReconnect func(), logger *zap.Logger) *Global {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Global{follower: follower, dispatcher: dispatcher, opts: opts, onReconnect: onReconnect, logger: logger}
}

func (g *Global) Start(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	g.cancel, g.done = cancel, done
	go func() {
		defer close(done)
		err := g.follower.FollowGlobal(runCtx, g.opts, g.onReconnect, func(ev api.Event) error {
			g.dispatcher.Dispatch(ev.GroupID, ev)
			return nil
		})
		if err != nil && !errors.Is(err, context.Canceled) && runCtx.Err() == nil {
			g.logger.Warn("global stream stopped", zap.Error(err))
		}
	}()
}

func (g *Global) Stop() {
	g.mu.Lock()
	cancel, done := g.cancel, g.done
	g.cancel, g.done = nil, nil
	g.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
