package live

import (
	"sync"

	"go.uber.org/zap"

	"github.com/g960059/wgpanel/internal/api"
)

// Handler reacts to one live event belonging to groupID.
type Handler func(groupID string, ev api.Event)

// Dispatcher routes events to exactly one handler per Kind. Events of a kind
// without a handler are dropped.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[Kind]Handler
	metrics  *Metrics
	logger   *zap.Logger
}

func NewDispatcher(logger *zap.Logger, metrics *Metrics) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{handlers: map[Kind]Handler{}, metrics: metrics, logger: logger}
}

// Handle installs h for k, replacing any previous handler.
func (d *Dispatcher) Handle(k Kind, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if h == nil {
		delete(d.handlers, k)
		return
	}
	d.handlers[k] = h
}

// Dispatch classifies ev and runs its handler. It returns the kind so callers
// can log or count it.
func (d *Dispatcher) Dispatch(groupID string, ev api.Event) Kind {
	k := Classify(ev.Kind)
	d.metrics.observeEvent(k)
	d.mu.RLock()
	h, ok := d.handlers[k]
	d.mu.RUnlock()
	if !ok {
		d.logger.Debug("no handler for live event", zap.String("kind", ev.Kind), zap.String("event_id", ev.ID))
		return k
	}
	h(groupID, ev)
	return k
}
