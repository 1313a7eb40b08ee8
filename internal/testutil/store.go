package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/g960059/wgpanel/internal/db"
	"github.com/g960059/wgpanel/internal/model"
)

func NewStore(t *testing.T) (*db.Store, context.Context) {
	t.Helper()
	ctx := context.Background()
	store, err := db.Open(ctx, filepath.Join(t.TempDir(), "wgpanel-test.db"))
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	if err := db.ApplyMigrations(ctx, store.DB()); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return store, ctx
}

// SeedDraft stores a draft with text for groupID and returns it.
func SeedDraft(t *testing.T, store *db.Store, ctx context.Context, groupID, text string) model.Draft {
	t.Helper()
	draft := model.Draft{
		GroupID:   groupID,
		Text:      text,
		To:        []string{model.TokenAll},
		UpdatedAt: time.Now().UTC(),
	}
	if err := store.UpsertDraft(ctx, draft); err != nil {
		t.Fatalf("seed draft: %v", err)
	}
	return draft
}
