package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/g960059/wgpanel/internal/model"
)

func openTestStore(t *testing.T) (*Store, context.Context) {
	t.Helper()
	ctx := context.Background()
	store, err := Open(ctx, filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	if err := ApplyMigrations(ctx, store.DB()); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return store, ctx
}

func TestDraftRoundTrip(t *testing.T) {
	store, ctx := openTestStore(t)
	modified := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	in := model.Draft{
		GroupID:   "g1",
		Text:      "half written",
		To:        []string{"@peers", "lead"},
		ReplyTo:   "ev-9",
		ReplyBy:   "lead",
		QuoteText: "earlier words",
		Priority:  model.PriorityAttention,
		Files: []model.DraftFile{
			{Name: "b.log", Path: "/tmp/b.log", Size: 20, ModifiedAt: modified},
			{Name: "a.png", Path: "/tmp/a.png", Size: 10, ModifiedAt: modified},
		},
	}
	if err := store.UpsertDraft(ctx, in); err != nil {
		t.Fatalf("upsert draft: %v", err)
	}
	got, err := store.GetDraft(ctx, "g1")
	if err != nil {
		t.Fatalf("get draft: %v", err)
	}
	if got.Text != in.Text || got.ReplyTo != "ev-9" || got.ReplyBy != "lead" || got.QuoteText != "earlier words" || got.Priority != model.PriorityAttention {
		t.Fatalf("unexpected draft: %+v", got)
	}
	if len(got.To) != 2 || got.To[0] != "@peers" || got.To[1] != "lead" {
		t.Fatalf("expected recipients preserved in order, got %v", got.To)
	}
	if len(got.Files) != 2 || got.Files[0].Name != "b.log" || !got.Files[1].ModifiedAt.Equal(modified) {
		t.Fatalf("expected files preserved in order, got %+v", got.Files)
	}

	in.Files = in.Files[:1]
	in.Text = "rewritten"
	if err := store.UpsertDraft(ctx, in); err != nil {
		t.Fatalf("re-upsert draft: %v", err)
	}
	got, err = store.GetDraft(ctx, "g1")
	if err != nil {
		t.Fatalf("get draft: %v", err)
	}
	if got.Text != "rewritten" || len(got.Files) != 1 {
		t.Fatalf("expected replaced draft, got %+v", got)
	}
}

func TestEmptyDraftDeletesRow(t *testing.T) {
	store, ctx := openTestStore(t)
	if err := store.UpsertDraft(ctx, model.Draft{GroupID: "g1", Text: "x", Files: []model.DraftFile{{Name: "a", Path: "/a", Size: 1}}}); err != nil {
		t.Fatalf("upsert draft: %v", err)
	}
	if err := store.UpsertDraft(ctx, model.Draft{GroupID: "g1"}); err != nil {
		t.Fatalf("upsert empty draft: %v", err)
	}
	if _, err := store.GetDraft(ctx, "g1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	n, err := store.CountRows(ctx, "draft_files")
	if err != nil {
		t.Fatalf("count draft files: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected draft files cascaded away, got %d", n)
	}
}

func TestUpsertDraftRequiresGroup(t *testing.T) {
	store, ctx := openTestStore(t)
	if err := store.UpsertDraft(ctx, model.Draft{Text: "orphan"}); err == nil {
		t.Fatalf("expected group_id validation error")
	}
}

func TestListDraftsNewestFirst(t *testing.T) {
	store, ctx := openTestStore(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"g-old", "g-new", "g-mid"} {
		offsets := []time.Duration{0, 2 * time.Hour, time.Hour}
		if err := store.UpsertDraft(ctx, model.Draft{GroupID: id, Text: id, UpdatedAt: base.Add(offsets[i])}); err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
	}
	drafts, err := store.ListDrafts(ctx)
	if err != nil {
		t.Fatalf("list drafts: %v", err)
	}
	if len(drafts) != 3 || drafts[0].GroupID != "g-new" || drafts[1].GroupID != "g-mid" || drafts[2].GroupID != "g-old" {
		t.Fatalf("unexpected order: %+v", drafts)
	}

	n, err := store.DeleteAllDrafts(ctx)
	if err != nil {
		t.Fatalf("delete all drafts: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 deleted drafts, got %d", n)
	}
}

func TestPrefs(t *testing.T) {
	store, ctx := openTestStore(t)
	if _, err := store.GetPref(ctx, "last_group"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.SetPref(ctx, "last_group", "g1"); err != nil {
		t.Fatalf("set pref: %v", err)
	}
	if err := store.SetPref(ctx, "last_group", "g2"); err != nil {
		t.Fatalf("overwrite pref: %v", err)
	}
	got, err := store.GetPref(ctx, "last_group")
	if err != nil {
		t.Fatalf("get pref: %v", err)
	}
	if got != "g2" {
		t.Fatalf("expected g2, got %q", got)
	}
	if err := store.SetPref(ctx, " ", "x"); err == nil {
		t.Fatalf("expected empty key rejection")
	}
}

func TestCountRowsRejectsUnknownTable(t *testing.T) {
	store, ctx := openTestStore(t)
	if _, err := store.CountRows(ctx, "sqlite_master; DROP TABLE drafts"); err == nil {
		t.Fatalf("expected unknown table error")
	}
}
