// Package panel is the state store behind the control panel: the group list,
// the selected group's metadata, roster, ledger window and context document,
// plus the live channel feeding them. Views read State snapshots and call
// store operations; they never talk to the backend directly.
package panel

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/g960059/wgpanel/internal/api"
	"github.com/g960059/wgpanel/internal/appclient"
	"github.com/g960059/wgpanel/internal/ledger"
	"github.com/g960059/wgpanel/internal/live"
	"github.com/g960059/wgpanel/internal/model"
)

// API is the backend surface the store uses. *appclient.Client satisfies it.
type API interface {
	ListGroups(ctx context.Context) ([]api.Group, error)
	GetGroup(ctx context.Context, groupID string) (api.Group, error)
	CreateGroup(ctx context.Context, req appclient.CreateGroupRequest) (string, error)
	DeleteGroup(ctx context.Context, groupID, confirm string) error
	AttachScope(ctx context.Context, groupID, path string) (string, error)
	StartGroup(ctx context.Context, groupID string) error
	StopGroup(ctx context.Context, groupID string) error
	SetGroupState(ctx context.Context, groupID string, state model.GroupState) error
	ListActors(ctx context.Context, groupID string) ([]api.Actor, error)
	AddActor(ctx context.Context, groupID string, req appclient.AddActorRequest) error
	UpdateActor(ctx context.Context, groupID, actorID string, patch appclient.ActorPatch) error
	RemoveActor(ctx context.Context, groupID, actorID string) error
	StartActor(ctx context.Context, groupID, actorID string) error
	StopActor(ctx context.Context, groupID, actorID string) error
	RestartActor(ctx context.Context, groupID, actorID string) error
	LedgerTail(ctx context.Context, groupID string, lines int) ([]api.Event, error)
	Ack(ctx context.Context, groupID, eventID string) error
	GetContext(ctx context.Context, groupID string) (api.ContextDoc, error)
	ContextOps(ctx context.Context, groupID string, ops []api.ContextOp) error
	live.Follower
	live.GlobalFollower
}

// Drafts is the composer seen from the store: it swaps per-group drafts on
// selection and learns the roster for mentions.
type Drafts interface {
	SwitchGroup(ctx context.Context, groupID string) error
	SetRoster(roster []api.Actor)
}

// Prefs persists small settings such as the last selected group.
type Prefs interface {
	SetPref(ctx context.Context, key, value string) error
	GetPref(ctx context.Context, key string) (string, error)
}

const (
	TabChat = "chat"

	prefLastGroup = "last_group"

	sectionGroup   = "group"
	sectionActors  = "actors"
	sectionLedger  = "ledger"
	sectionContext = "context"
)

// ActorTab names the detail tab of one actor.
func ActorTab(actorID string) string { return "actor:" + actorID }

type Options struct {
	TailLines int
	BufferCap int
	Debounce  time.Duration
	Follow    appclient.FollowOptions
	NoticeTTL time.Duration
	Now       func() time.Time
}

type Deps struct {
	API     API
	Drafts  Drafts
	Prefs   Prefs
	Notices *Notices
	Metrics *live.Metrics
	Logger  *zap.Logger
	Options Options
}

// State is an immutable snapshot for rendering.
type State struct {
	Groups          []api.Group
	SelectedGroupID string
	Group           *api.Group
	Actors          []api.Actor
	Ledger          []ledger.Entry
	Context         *api.ContextDoc
	Unread          int
	ActiveTab       string
	ScrollAtBottom  bool
	Focused         bool
	Busy            []string
	Errors          map[string]string
	Notices         []Notice
	LiveMode        model.LiveMode
}

type Store struct {
	api     API
	drafts  Drafts
	prefs   Prefs
	notices *Notices
	logger  *zap.Logger
	opts    Options

	dispatcher *live.Dispatcher
	channel    *live.Channel
	global     *live.Global
	debounce   *live.Debouncer

	baseCtx context.Context
	cancel  context.CancelFunc
	bg      sync.WaitGroup

	// openMu orders channel open and close across concurrent selections.
	openMu sync.Mutex

	mu             sync.Mutex
	gen            uint64
	groups         []api.Group
	selected       string
	group          *api.Group
	actors         []api.Actor
	buf            *ledger.Buffer
	doc            *api.ContextDoc
	unread         int
	activeTab      string
	scrollAtBottom bool
	focused        bool
	busy           map[string]struct{}
	errs           map[string]string
	liveMode       model.LiveMode
	listeners      map[int]func()
	nextListener   int
	closed         bool
}

func New(deps Deps) *Store {
	opts := deps.Options
	if opts.TailLines <= 0 {
		opts.TailLines = 200
	}
	if opts.BufferCap <= 0 {
		opts.BufferCap = ledger.DefaultCap
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	notices := deps.Notices
	if notices == nil {
		notices = NewNotices(opts.NoticeTTL, opts.Now)
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Store{
		api:            deps.API,
		drafts:         deps.Drafts,
		prefs:          deps.Prefs,
		notices:        notices,
		logger:         logger,
		opts:           opts,
		baseCtx:        baseCtx,
		cancel:         cancel,
		buf:            ledger.NewBuffer(opts.BufferCap),
		activeTab:      TabChat,
		scrollAtBottom: true,
		focused:        true,
		busy:           map[string]struct{}{},
		errs:           map[string]string{},
		liveMode:       model.LiveOff,
		listeners:      map[int]func(){},
	}

	s.dispatcher = live.NewDispatcher(logger, deps.Metrics)
	s.registerHandlers(s.dispatcher)
	s.channel = live.NewChannel(deps.API, s.dispatcher, live.ChannelOptions{
		Follow:       opts.Follow,
		Metrics:      deps.Metrics,
		Logger:       logger,
		OnModeChange: s.onLiveMode,
		OnError:      s.onLiveError,
	})
	s.debounce = live.NewDebouncer(opts.Debounce, s.onContextSync)

	globalDispatcher := live.NewDispatcher(logger, nil)
	globalDispatcher.Handle(live.KindGroup, func(string, api.Event) { s.background(s.RefreshGroups) })
	s.global = live.NewGlobal(deps.API, globalDispatcher, opts.Follow, func() { s.background(s.RefreshGroups) }, logger)
	return s
}

// Start loads the group list, restores the last selected group and begins
// following the global stream.
func (s *Store) Start(ctx context.Context) error {
	s.global.Start(s.baseCtx)
	if err := s.RefreshGroups(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	target := s.selected
	groups := s.groups
	s.mu.Unlock()
	if target != "" {
		return nil
	}
	if s.prefs != nil {
		if last, err := s.prefs.GetPref(ctx, prefLastGroup); err == nil && containsGroup(groups, last) {
			target = last
		}
	}
	if target == "" && len(groups) > 0 {
		target = groups[0].GroupID
	}
	if target == "" {
		return nil
	}
	return s.SelectGroup(ctx, target)
}

// Close tears down live connections and waits for background refreshes.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.openMu.Lock()
	s.channel.Close()
	s.openMu.Unlock()
	s.global.Stop()
	s.debounce.Stop()
	s.cancel()
	s.bg.Wait()
}

// OnChange registers fn to run after every state change. The returned func
// unregisters it.
func (s *Store) OnChange(fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *Store) notify() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// background runs fn detached from the caller, bounded by the store's
// lifetime.
func (s *Store) background(fn func(context.Context) error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.bg.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.bg.Done()
		if err := fn(s.baseCtx); err != nil && s.baseCtx.Err() == nil {
			s.logger.Debug("background refresh failed", zap.Error(err))
		}
	}()
}

func (s *Store) State() State {
	notices := s.notices.Active()
	s.mu.Lock()
	defer s.mu.Unlock()
	st := State{
		Groups:          append([]api.Group(nil), s.groups...),
		SelectedGroupID: s.selected,
		Actors:          append([]api.Actor(nil), s.actors...),
		Ledger:          s.buf.Entries(),
		Unread:          s.unread,
		ActiveTab:       s.activeTab,
		ScrollAtBottom:  s.scrollAtBottom,
		Focused:         s.focused,
		Errors:          make(map[string]string, len(s.errs)),
		Notices:         notices,
		LiveMode:        s.liveMode,
	}
	if s.group != nil {
		g := *s.group
		st.Group = &g
	}
	if s.doc != nil {
		d := s.doc.Clone()
		st.Context = &d
	}
	for k := range s.busy {
		st.Busy = append(st.Busy, k)
	}
	sort.Strings(st.Busy)
	for k, v := range s.errs {
		st.Errors[k] = v
	}
	return st
}

func (s *Store) SelectedGroupID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

func (s *Store) Notices() *Notices { return s.notices }

func (s *Store) DismissNotice(id string) {
	if s.notices.Dismiss(id) {
		s.notify()
	}
}

// IsBusy reports whether the operation keyed by key is in flight.
func (s *Store) IsBusy(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.busy[key]
	return ok
}

// acquire marks key busy. It reports false when key is already busy so a
// double invocation is dropped.
func (s *Store) acquire(key string) bool {
	s.mu.Lock()
	if _, ok := s.busy[key]; ok {
		s.mu.Unlock()
		return false
	}
	s.busy[key] = struct{}{}
	s.mu.Unlock()
	s.notify()
	return true
}

func (s *Store) release(key string) {
	s.mu.Lock()
	delete(s.busy, key)
	s.mu.Unlock()
	s.notify()
}

// fail records a request failure as a notice and returns it unchanged.
func (s *Store) fail(err error) error {
	if _, ok := s.notices.PushError(err); ok {
		s.notify()
	}
	return err
}

// SetFocus, SetScrollAtBottom and SetActiveTab track whether the newest chat
// message is on screen; the unread counter resets once it is.
func (s *Store) SetFocus(focused bool) {
	s.mu.Lock()
	s.focused = focused
	s.resetUnreadIfVisibleLocked()
	s.mu.Unlock()
	s.notify()
}

func (s *Store) SetScrollAtBottom(atBottom bool) {
	s.mu.Lock()
	s.scrollAtBottom = atBottom
	s.resetUnreadIfVisibleLocked()
	s.mu.Unlock()
	s.notify()
}

func (s *Store) SetActiveTab(tab string) {
	s.mu.Lock()
	if tab == "" {
		tab = TabChat
	}
	s.activeTab = tab
	s.resetUnreadIfVisibleLocked()
	s.mu.Unlock()
	s.notify()
}

func (s *Store) chatVisibleLocked() bool {
	return s.focused && s.scrollAtBottom && s.activeTab == TabChat
}

func (s *Store) resetUnreadIfVisibleLocked() {
	if s.chatVisibleLocked() {
		s.unread = 0
	}
}

func containsGroup(groups []api.Group, id string) bool {
	for _, g := range groups {
		if g.GroupID == id {
			return true
		}
	}
	return false
}
