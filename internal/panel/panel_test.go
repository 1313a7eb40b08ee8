package panel

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/g960059/wgpanel/internal/api"
	"github.com/g960059/wgpanel/internal/appclient"
	"github.com/g960059/wgpanel/internal/composer"
	"github.com/g960059/wgpanel/internal/db"
	"github.com/g960059/wgpanel/internal/ledger"
	"github.com/g960059/wgpanel/internal/model"
	"github.com/g960059/wgpanel/internal/testutil"
)

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

type fixture struct {
	backend *testutil.Backend
	client  *appclient.Client
	db      *db.Store
	store   *Store
}

func fastFollow() appclient.FollowOptions {
	return appclient.FollowOptions{
		RetryMinBackoff: 10 * time.Millisecond,
		RetryMaxBackoff: 50 * time.Millisecond,
		PollInterval:    50 * time.Millisecond,
	}
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	backend := testutil.NewBackend(t)
	backend.AddGroup(api.Group{GroupID: "g1", Title: "one"})
	backend.AddGroup(api.Group{GroupID: "g2", Title: "two"})
	backend.AddGroup(api.Group{GroupID: "g3", Title: "empty"})
	for _, a := range []api.Actor{
		{ID: "lead", Role: model.RoleForeman, Runtime: "claude", Enabled: true},
		{ID: "peer-1", Role: model.RolePeer, Runtime: "codex", Enabled: true},
		{ID: "peer-2", Role: model.RolePeer, Runtime: "codex", Enabled: true},
	} {
		backend.AddActor("g1", a)
	}
	backend.AddActor("g2", api.Actor{ID: "solo", Role: model.RoleForeman, Enabled: true})
	backend.SetContext("g1", api.ContextDoc{
		Vision:     "ship it",
		Milestones: []api.Milestone{{ID: "m1", Name: "alpha", Status: model.MilestoneActive}},
		Tasks:      []api.Task{{ID: "t1", Name: "write docs", Status: model.TaskActive}},
	})
	backend.SetContext("g2", api.ContextDoc{Vision: "two"})

	client := appclient.New(backend.URL, "user")
	dbStore, _ := testutil.NewStore(t)
	f := &fixture{backend: backend, client: client, db: dbStore}
	f.store = f.newStore(t, opts)
	return f
}

func (f *fixture) newStore(t *testing.T, opts Options) *Store {
	t.Helper()
	if opts.Follow.PollInterval == 0 && opts.Follow.RetryMinBackoff == 0 {
		opts.Follow = fastFollow()
	}
	comp := composer.New(f.client, composer.Options{Drafts: f.db})
	s := New(Deps{API: f.client, Drafts: comp, Prefs: f.db, Options: opts})
	t.Cleanup(s.Close)
	return s
}

func (f *fixture) waitStream(t *testing.T, groupID string) {
	t.Helper()
	require.Eventually(t, func() bool { return f.backend.Streams(groupID) == 1 }, waitFor, tick)
}

func findEntry(entries []ledger.Entry, id string) (ledger.Entry, bool) {
	for _, e := range entries {
		if e.Event.ID == id {
			return e, true
		}
	}
	return ledger.Entry{}, false
}

func noticeCodes(st State) []string {
	var out []string
	for _, n := range st.Notices {
		out = append(out, n.Code)
	}
	return out
}

func TestSelectGroupLoadsEverySection(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.backend.Push("g1", testutil.ChatEvent("m1", "user", "hello", nil, ""))

	require.NoError(t, f.store.SelectGroup(ctx, "g1"))
	st := f.store.State()
	require.Equal(t, "g1", st.SelectedGroupID)
	require.NotNil(t, st.Group)
	require.Equal(t, "one", st.Group.Title)
	require.Len(t, st.Actors, 3)
	require.Len(t, st.Ledger, 1)
	require.Equal(t, map[string]bool{"lead": false, "peer-1": false, "peer-2": false}, st.Ledger[0].Status.Read)
	require.NotNil(t, st.Context)
	require.Equal(t, "ship it", st.Context.Vision)
	require.Empty(t, st.Errors)
	f.waitStream(t, "g1")
	require.Eventually(t, func() bool { return f.store.LiveMode() == model.LiveStreaming }, waitFor, tick)
}

func TestSelectGroupKeepsExactlyOneChannel(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	for _, id := range []string{"g1", "g2", "g1", "g3", "g2"} {
		require.NoError(t, f.store.SelectGroup(ctx, id))
	}
	require.Eventually(t, func() bool {
		return f.backend.Streams("g2") == 1 && f.backend.Streams("g1") == 0 && f.backend.Streams("g3") == 0
	}, waitFor, tick)
}

func TestSelectGroupResetsTransientViewState(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	require.NoError(t, f.store.SelectGroup(ctx, "g1"))
	f.store.SetActiveTab(ActorTab("peer-1"))
	f.store.SetScrollAtBottom(false)

	require.NoError(t, f.store.SelectGroup(ctx, "g2"))
	st := f.store.State()
	require.Equal(t, TabChat, st.ActiveTab)
	require.True(t, st.ScrollAtBottom)
	require.Zero(t, st.Unread)
}

func TestSelectGroupIsolatesFetchFailures(t *testing.T) {
	f := newFixture(t, Options{})
	f.backend.Fail(http.MethodGet, "/api/v1/groups/g1/context", http.StatusInternalServerError, "context_unavailable", "context store offline", 1)

	err := f.store.SelectGroup(context.Background(), "g1")
	require.Error(t, err)
	require.Equal(t, "context_unavailable", appclient.AsRequestError(err).Code)

	st := f.store.State()
	require.NotNil(t, st.Group)
	require.Len(t, st.Actors, 3)
	require.Nil(t, st.Context)
	require.Contains(t, st.Errors, sectionContext)
	require.Contains(t, noticeCodes(st), "context_unavailable")
	f.waitStream(t, "g1")

	require.NoError(t, f.store.RefreshContext(context.Background()))
	st = f.store.State()
	require.NotNil(t, st.Context)
	require.NotContains(t, st.Errors, sectionContext)
}

func TestLateResultDoesNotLeakIntoNewSelection(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	release := f.backend.Hold(http.MethodGet, "/api/v1/groups/g1/context")
	defer release()

	done := make(chan error, 1)
	go func() { done <- f.store.SelectGroup(ctx, "g1") }()
	require.Eventually(t, func() bool {
		return len(f.backend.Calls(http.MethodGet, "/api/v1/groups/g1/context")) == 1
	}, waitFor, tick)

	require.NoError(t, f.store.SelectGroup(ctx, "g2"))
	release()
	require.NoError(t, <-done)

	st := f.store.State()
	require.Equal(t, "g2", st.SelectedGroupID)
	require.Equal(t, "two", st.Context.Vision)
	require.Equal(t, "solo", st.Actors[0].ID)
	f.waitStream(t, "g2")
	require.Never(t, func() bool { return f.backend.Streams("g1") > 0 }, 200*time.Millisecond, tick)
}

func TestRefreshIsIdempotent(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	require.NoError(t, f.store.SelectGroup(ctx, "g1"))
	require.Eventually(t, func() bool { return f.store.LiveMode() == model.LiveStreaming }, waitFor, tick)
	require.NoError(t, f.store.RefreshGroups(ctx))
	require.NoError(t, f.store.RefreshActors(ctx))
	first := f.store.State()

	require.NoError(t, f.store.RefreshGroups(ctx))
	require.NoError(t, f.store.RefreshActors(ctx))
	second := f.store.State()
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("state changed across identical refreshes (-first +second):\n%s", diff)
	}
}

func TestRefreshGroupsFallsBackWhenSelectionDisappears(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	require.NoError(t, f.store.SelectGroup(ctx, "g2"))

	require.ErrorIs(t, f.store.DeleteGroup(ctx, "g2", "g"), ErrNotConfirmed)
	require.Empty(t, f.backend.Calls(http.MethodDelete, "/api/v1/groups/g2"))

	require.NoError(t, f.store.DeleteGroup(ctx, "g2", "g2"))
	require.Equal(t, "g1", f.store.SelectedGroupID())

	for _, id := range []string{"g1", "g3"} {
		require.NoError(t, f.client.DeleteGroup(ctx, id, id))
	}
	require.NoError(t, f.store.RefreshGroups(ctx))
	st := f.store.State()
	require.Empty(t, st.SelectedGroupID)
	require.Nil(t, st.Group)
	require.Empty(t, st.Groups)
}

func TestArchiveTaskIsOptimistic(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	require.NoError(t, f.store.SelectGroup(ctx, "g1"))
	release := f.backend.Hold(http.MethodPost, "/api/v1/groups/g1/context")
	defer release()

	done := make(chan error, 1)
	go func() { done <- f.store.ArchiveTask(ctx, "t1") }()
	require.Eventually(t, func() bool {
		st := f.store.State()
		return st.Context.Tasks[0].Status == model.TaskArchived && f.store.IsBusy("task-archive:t1")
	}, waitFor, tick)
	require.ErrorIs(t, f.store.ArchiveTask(ctx, "t1"), ErrBusy)

	release()
	require.NoError(t, <-done)
	require.False(t, f.store.IsBusy("task-archive:t1"))
	require.Equal(t, model.TaskArchived, f.backend.Context("g1").Tasks[0].Status)

	require.NoError(t, f.store.RestoreTask(ctx, "t1"))
	require.Equal(t, model.TaskPlanned, f.store.State().Context.Tasks[0].Status)
}

func TestArchiveTaskRollsBackOnFailure(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	require.NoError(t, f.store.SelectGroup(ctx, "g1"))
	before := *f.store.State().Context
	f.backend.Fail(http.MethodPost, "/api/v1/groups/g1/context", http.StatusConflict, "task_locked", "task is locked", 1)

	err := f.store.ArchiveTask(ctx, "t1")
	require.Error(t, err)
	require.Equal(t, "task_locked", appclient.AsRequestError(err).Code)

	st := f.store.State()
	require.Equal(t, model.TaskActive, st.Context.Tasks[0].Status)
	if diff := cmp.Diff(before, *st.Context); diff != "" {
		t.Fatalf("rollback is not exact (-before +after):\n%s", diff)
	}
	require.Contains(t, noticeCodes(st), "task_locked")
}

func TestArchiveMilestoneWaitsForBackend(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	require.NoError(t, f.store.SelectGroup(ctx, "g1"))
	release := f.backend.Hold(http.MethodPost, "/api/v1/groups/g1/context")
	defer release()

	done := make(chan error, 1)
	go func() { done <- f.store.ArchiveMilestone(ctx, "m1") }()
	require.Eventually(t, func() bool { return f.store.IsBusy("milestone-archive:m1") }, waitFor, tick)
	require.Equal(t, model.MilestoneActive, f.store.State().Context.Milestones[0].Status)

	release()
	require.NoError(t, <-done)
	require.Equal(t, model.MilestoneArchived, f.store.State().Context.Milestones[0].Status)

	require.NoError(t, f.store.RestoreMilestone(ctx, "m1"))
	require.Equal(t, model.MilestonePlanned, f.store.State().Context.Milestones[0].Status)
}

func TestContextEditsRefetchAfterAck(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	require.NoError(t, f.store.SelectGroup(ctx, "g1"))

	require.NoError(t, f.store.UpdateVision(ctx, "ship it twice"))
	require.NoError(t, f.store.UpdateSketch(ctx, "boxes and arrows"))
	require.NoError(t, f.store.AddNote(ctx, "remember the docs"))
	require.NoError(t, f.store.AddReference(ctx, "https://example.com/notes", "design"))

	doc := f.store.State().Context
	require.Equal(t, "ship it twice", doc.Vision)
	require.Equal(t, "boxes and arrows", doc.Sketch)
	require.Len(t, doc.Notes, 1)
	require.Len(t, doc.References, 1)

	require.NoError(t, f.store.EditNote(ctx, doc.Notes[0].ID, "remember the tests"))
	require.NoError(t, f.store.EditReference(ctx, doc.References[0].ID, "", "design doc"))
	name := "write more docs"
	require.NoError(t, f.store.UpdateTask(ctx, "t1", TaskPatch{Name: &name}))
	doc = f.store.State().Context
	require.Equal(t, "remember the tests", doc.Notes[0].Content)
	require.Equal(t, "design doc", doc.References[0].Note)
	require.Equal(t, "https://example.com/notes", doc.References[0].URL)
	require.Equal(t, name, doc.Tasks[0].Name)

	require.NoError(t, f.store.RemoveNote(ctx, doc.Notes[0].ID))
	require.NoError(t, f.store.RemoveReference(ctx, doc.References[0].ID))
	doc = f.store.State().Context
	require.Empty(t, doc.Notes)
	require.Empty(t, doc.References)

	var verr *ValidationError
	require.ErrorAs(t, f.store.AddNote(ctx, "  "), &verr)
	require.Equal(t, "content", verr.Field)
}

func TestEmptyGroupScenario(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	require.NoError(t, f.store.SelectGroup(ctx, "g3"))
	require.False(t, f.store.CanStartGroup())

	var verr *ValidationError
	require.ErrorAs(t, f.store.StartGroup(ctx), &verr)
	require.Contains(t, verr.Message, "no agents yet")
	require.Empty(t, f.backend.Calls(http.MethodPost, "/api/v1/groups/g3/start"))

	require.NoError(t, f.store.AddActor(ctx, NewActor{ID: "first", Role: model.RolePeer, Runtime: "claude"}))
	calls := f.backend.Calls(http.MethodPost, "/api/v1/groups/g3/actors")
	require.Len(t, calls, 1)
	require.Equal(t, "foreman", calls[0].Body["role"])
	require.Equal(t, model.RoleForeman, f.store.State().Actors[0].Role)

	err := f.store.AddActor(ctx, NewActor{ID: "second", Role: model.RoleForeman, Runtime: "claude"})
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "role", verr.Field)
	require.Contains(t, verr.Message, "already has a foreman")
	require.Len(t, f.backend.Calls(http.MethodPost, "/api/v1/groups/g3/actors"), 1)
	require.Empty(t, noticeCodes(f.store.State()), "validation errors are not notices")

	require.True(t, f.store.CanStartGroup())
	require.NoError(t, f.store.StartGroup(ctx))
	require.True(t, f.store.State().Group.Running)
}

func TestAddActorNeedsCommandForCustomRuntime(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	require.NoError(t, f.store.SelectGroup(ctx, "g1"))

	var verr *ValidationError
	require.ErrorAs(t, f.store.AddActor(ctx, NewActor{ID: "tool", Runtime: model.RuntimeCustom, Command: []string{" "}}), &verr)
	require.Equal(t, "command", verr.Field)

	require.NoError(t, f.store.AddActor(ctx, NewActor{ID: "tool", Runtime: model.RuntimeCustom, Command: []string{"./agent", "--serve"}}))
	require.Len(t, f.store.State().Actors, 4)
	require.Equal(t, model.RolePeer, f.store.State().Actors[3].Role)
}

func TestUpdateActorRejectedWhileRunning(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	require.NoError(t, f.store.SelectGroup(ctx, "g1"))
	require.NoError(t, f.store.StartActor(ctx, "peer-1"))

	title := "Reviewer"
	var verr *ValidationError
	require.ErrorAs(t, f.store.UpdateActor(ctx, "peer-1", ActorEdit{Title: &title}), &verr)
	require.Contains(t, verr.Message, "stop peer-1")
	require.Empty(t, f.backend.Calls(http.MethodPost, "/api/v1/groups/g1/actors/peer-1"))

	require.NoError(t, f.store.StopActor(ctx, "peer-1"))
	require.NoError(t, f.store.UpdateActor(ctx, "peer-1", ActorEdit{Title: &title}))
	for _, a := range f.store.State().Actors {
		if a.ID == "peer-1" {
			require.Equal(t, "Reviewer", a.Title)
		}
	}
}

func TestActorBusyKeysAreIndependent(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	require.NoError(t, f.store.SelectGroup(ctx, "g1"))
	release := f.backend.Hold(http.MethodPost, "/api/v1/groups/g1/actors/peer-1/stop")
	defer release()

	done := make(chan error, 1)
	go func() { done <- f.store.StopActor(ctx, "peer-1") }()
	require.Eventually(t, func() bool { return f.store.IsBusy("actor-stop:peer-1") }, waitFor, tick)

	require.NoError(t, f.store.StartActor(ctx, "peer-2"))
	require.ErrorIs(t, f.store.StopActor(ctx, "peer-1"), ErrBusy)
	require.Contains(t, f.store.State().Busy, "actor-stop:peer-1")

	release()
	require.NoError(t, <-done)
	require.False(t, f.store.IsBusy("actor-stop:peer-1"))
}

func TestActorFailureReleasesBusyKey(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	require.NoError(t, f.store.SelectGroup(ctx, "g1"))
	f.backend.Fail(http.MethodPost, "/api/v1/groups/g1/actors/lead/restart", http.StatusBadGateway, "runtime_unavailable", "runtime not installed", 1)

	err := f.store.RestartActor(ctx, "lead")
	require.Equal(t, "runtime_unavailable", appclient.AsRequestError(err).Code)
	require.False(t, f.store.IsBusy("actor-restart:lead"))
	require.Contains(t, noticeCodes(f.store.State()), "runtime_unavailable")
}

func TestRemoveActorRequiresConfirmation(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	require.NoError(t, f.store.SelectGroup(ctx, "g1"))

	require.ErrorIs(t, f.store.RemoveActor(ctx, "peer-2", false), ErrNotConfirmed)
	require.Empty(t, f.backend.Calls(http.MethodDelete, "/api/v1/groups/g1/actors/peer-2"))

	require.NoError(t, f.store.RemoveActor(ctx, "peer-2", true))
	require.Len(t, f.store.State().Actors, 2)
}

func TestCreateGroupReportsPartialFailure(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.backend.FailSuffix(http.MethodPost, "/attach", http.StatusBadRequest, "invalid_path", "path does not exist", 1)

	groupID, err := f.store.CreateGroup(ctx, "new work", "", "/nowhere")
	require.NotEmpty(t, groupID)
	var perr *PartialError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, "invalid_path", appclient.AsRequestError(perr.Err).Code)
	require.Contains(t, err.Error(), "created group "+groupID)
	require.Contains(t, err.Error(), "failed to attach /nowhere")

	st := f.store.State()
	require.Equal(t, groupID, st.SelectedGroupID)
	require.Contains(t, noticeCodes(st), "invalid_path")

	other, err := f.store.CreateGroup(ctx, "scoped", "topic", "/repo")
	require.NoError(t, err)
	g, ok := f.backend.Group(other)
	require.True(t, ok)
	require.Len(t, g.Scopes, 1)
}

func TestLiveChatMessagesAndReadCursor(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	require.NoError(t, f.store.SelectGroup(ctx, "g1"))
	f.waitStream(t, "g1")

	f.store.SetScrollAtBottom(false)
	f.backend.Push("g1", testutil.ChatEvent("m1", "user", "first", []string{"peer-1"}, ""))
	f.backend.Push("g1", testutil.ChatEvent("m2", "user", "second", []string{"@peers"}, ""))
	require.Eventually(t, func() bool {
		st := f.store.State()
		return len(st.Ledger) == 2 && st.Unread == 2
	}, waitFor, tick)

	f.backend.Push("g1", testutil.ReceiptEvent(model.KindChatRead, "peer-1", "m2"))
	require.Eventually(t, func() bool {
		st := f.store.State()
		m1, _ := findEntry(st.Ledger, "m1")
		m2, _ := findEntry(st.Ledger, "m2")
		return m1.Status.Read["peer-1"] && m2.Status.Read["peer-1"]
	}, waitFor, tick)
	st := f.store.State()
	m2, _ := findEntry(st.Ledger, "m2")
	require.False(t, m2.Status.Read["peer-2"])
	require.Len(t, st.Ledger, 2, "receipts never become timeline entries")

	f.store.SetScrollAtBottom(true)
	require.Zero(t, f.store.State().Unread)

	f.backend.Push("g1", testutil.ChatEvent("m3", "lead", "third", nil, ""))
	require.Eventually(t, func() bool { return len(f.store.State().Ledger) == 3 }, waitFor, tick)
	require.Zero(t, f.store.State().Unread, "visible messages are not unread")

	f.store.SetActiveTab(ActorTab("lead"))
	f.backend.Push("g1", testutil.ChatEvent("m4", "lead", "fourth", nil, ""))
	require.Eventually(t, func() bool { return f.store.State().Unread == 1 }, waitFor, tick)
}

func TestSelectGroupCatchesUpBeforeStreaming(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.backend.Push("g1", testutil.ChatEvent("m0", "lead", "before", nil, ""))
	release := f.backend.Hold(http.MethodGet, "/api/v1/groups/g1/context")
	defer release()

	done := make(chan error, 1)
	go func() { done <- f.store.SelectGroup(ctx, "g1") }()
	require.Eventually(t, func() bool {
		_, ok := findEntry(f.store.State().Ledger, "m0")
		return ok
	}, waitFor, tick)

	// Appended after the tail was served and before the stream opened.
	f.backend.Push("g1", testutil.ChatEvent("m1", "peer-1", "in between", []string{"lead"}, ""))
	release()
	require.NoError(t, <-done)
	f.waitStream(t, "g1")

	require.Eventually(t, func() bool {
		_, ok := findEntry(f.store.State().Ledger, "m1")
		return ok
	}, waitFor, tick)
	require.Len(t, f.store.State().Ledger, 2)
}

func TestReconnectDeliversEventsMissedWhileDown(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	require.NoError(t, f.store.SelectGroup(ctx, "g1"))
	f.waitStream(t, "g1")

	streamPath := "/api/v1/groups/g1/ledger/stream"
	release := f.backend.Hold(http.MethodGet, streamPath)
	defer release()
	f.backend.DropStreams("g1")
	require.Eventually(t, func() bool { return len(f.backend.Calls(http.MethodGet, streamPath)) >= 2 }, waitFor, tick)

	f.backend.Push("g1", testutil.ChatEvent("m1", "peer-1", "while down", nil, ""))
	f.backend.Push("g1", testutil.ReceiptEvent(model.KindChatRead, "lead", "m1"))
	release()

	require.Eventually(t, func() bool {
		e, ok := findEntry(f.store.State().Ledger, "m1")
		return ok && e.Status.Read["lead"]
	}, waitFor, tick)
	require.Equal(t, model.LiveStreaming, f.store.LiveMode())
	require.Len(t, f.store.State().Ledger, 1)
}

func TestLiveAckUpdatesOverlay(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	require.NoError(t, f.store.SelectGroup(ctx, "g1"))
	f.waitStream(t, "g1")

	f.backend.Push("g1", testutil.ChatEvent("m1", "user", "urgent", []string{"peer-1"}, model.PriorityAttention))
	f.backend.Push("g1", testutil.ReceiptEvent(model.KindChatAck, "peer-1", "m1"))
	require.Eventually(t, func() bool {
		e, ok := findEntry(f.store.State().Ledger, "m1")
		return ok && e.Status.Ack["peer-1"]
	}, waitFor, tick)
}

func TestContextSyncBurstIsDebounced(t *testing.T) {
	f := newFixture(t, Options{Debounce: 80 * time.Millisecond})
	ctx := context.Background()
	require.NoError(t, f.store.SelectGroup(ctx, "g1"))
	f.waitStream(t, "g1")
	path := "/api/v1/groups/g1/context"
	base := len(f.backend.Calls(http.MethodGet, path))

	for i := 0; i < 5; i++ {
		f.backend.Push("g1", api.Event{Kind: model.KindContextSync, By: "system"})
	}
	require.Eventually(t, func() bool { return len(f.backend.Calls(http.MethodGet, path)) == base+1 }, waitFor, tick)
	require.Never(t, func() bool { return len(f.backend.Calls(http.MethodGet, path)) > base+1 }, 300*time.Millisecond, tick)
}

func TestActorEventRefreshesRoster(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	require.NoError(t, f.store.SelectGroup(ctx, "g1"))
	f.waitStream(t, "g1")

	require.NoError(t, f.client.StartActor(ctx, "g1", "peer-2"))
	require.Eventually(t, func() bool {
		for _, a := range f.store.State().Actors {
			if a.ID == "peer-2" {
				return a.Running
			}
		}
		return false
	}, waitFor, tick)
}

func TestSystemNotifyBecomesNotice(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	require.NoError(t, f.store.SelectGroup(ctx, "g1"))
	f.waitStream(t, "g1")

	f.backend.Push("g1", api.Event{
		Kind: model.KindSystemNotify,
		By:   "system",
		Data: []byte(`{"kind":"idle","title":"lead","message":"waiting for input"}`),
	})
	require.Eventually(t, func() bool {
		for _, n := range f.store.State().Notices {
			if n.Level == NoticeInfo && n.Message == "lead: waiting for input" {
				return true
			}
		}
		return false
	}, waitFor, tick)
}

func TestStartRestoresLastGroupAndFollowsGlobalStream(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	require.NoError(t, f.store.SelectGroup(ctx, "g2"))
	f.store.Close()

	s := f.newStore(t, Options{})
	require.NoError(t, s.Start(ctx))
	require.Equal(t, "g2", s.SelectedGroupID())

	f.backend.AddGroup(api.Group{GroupID: "g9", Title: "late"})
	require.Eventually(t, func() bool {
		f.backend.PushGlobal(api.Event{Kind: "group.created", GroupID: "g9", By: "system"})
		return containsGroup(s.State().Groups, "g9")
	}, waitFor, 50*time.Millisecond)
	require.Equal(t, "g2", s.SelectedGroupID())
}

func TestNoticesExpireAndDismiss(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	n := NewNotices(time.Second, func() time.Time { return now })
	first, ok := n.PushError(&appclient.RequestError{Code: "boom", Message: "it broke"})
	require.True(t, ok)
	require.Equal(t, "it broke", first.Message)
	_, ok = n.PushError(invalid("title", "title is required"))
	require.False(t, ok)
	_, ok = n.PushError(ErrNotConfirmed)
	require.False(t, ok)
	second := n.Push(NoticeInfo, "", "hello")

	require.True(t, n.Dismiss(second.ID))
	require.False(t, n.Dismiss(second.ID))
	require.Len(t, n.Active(), 1)

	now = now.Add(2 * time.Second)
	require.Empty(t, n.Active())

	partial := &PartialError{Done: "created group g1", Failed: "attach /x", Err: errors.New("denied")}
	item, ok := n.PushError(partial)
	require.True(t, ok)
	require.Equal(t, "network_error", item.Code)
	require.Equal(t, "created group g1 but failed to attach /x: denied", item.Message)
}

func TestRosterRecoveryRebuildsComputedOverlays(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.backend.Push("g1", testutil.ChatEvent("m1", "user", "status?", []string{"@peers"}, ""))
	f.backend.Fail(http.MethodGet, "/api/v1/groups/g1/actors", http.StatusInternalServerError, "roster_unavailable", "actor registry offline", 1)

	require.Error(t, f.store.SelectGroup(ctx, "g1"))
	m1, ok := findEntry(f.store.State().Ledger, "m1")
	require.True(t, ok)
	require.Empty(t, m1.Status.Read, "no roster to resolve against yet")

	require.NoError(t, f.store.RefreshActors(ctx))
	m1, _ = findEntry(f.store.State().Ledger, "m1")
	require.Equal(t, map[string]bool{"peer-1": false, "peer-2": false}, m1.Status.Read)
}

func TestAckMarksHumanAcknowledgement(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.backend.Push("g1", testutil.ChatEvent("m1", "lead", "sign off?", []string{"user"}, model.PriorityAttention))
	require.NoError(t, f.store.SelectGroup(ctx, "g1"))

	m1, _ := findEntry(f.store.State().Ledger, "m1")
	require.False(t, m1.Status.UserAcked)
	require.NoError(t, f.store.Ack(ctx, "m1"))

	m1, _ = findEntry(f.store.State().Ledger, "m1")
	require.True(t, m1.Status.UserAcked)
	require.NotContains(t, m1.Status.Ack, model.TokenUser)
	calls := f.backend.Calls(http.MethodPost, "/api/v1/groups/g1/events/m1/ack")
	require.Len(t, calls, 1)
	require.Equal(t, model.TokenUser, calls[0].Body["actor_id"])
}
