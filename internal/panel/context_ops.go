package panel

import (
	"context"
	"strings"

	"github.com/g960059/wgpanel/internal/api"
	"github.com/g960059/wgpanel/internal/model"
)

// ArchiveTask flips the task to archived locally before the backend confirms.
// A failed request restores the document exactly as it was.
func (s *Store) ArchiveTask(ctx context.Context, taskID string) error {
	return s.setTaskStatus(ctx, "task-archive:"+taskID, taskID, model.TaskArchived)
}

// RestoreTask is the optimistic inverse of ArchiveTask; restored tasks are
// planned again.
func (s *Store) RestoreTask(ctx context.Context, taskID string) error {
	return s.setTaskStatus(ctx, "task-restore:"+taskID, taskID, model.TaskPlanned)
}

func (s *Store) setTaskStatus(ctx context.Context, key, taskID string, status model.TaskStatus) error {
	if strings.TrimSpace(taskID) == "" {
		return invalid("task_id", "task id is required")
	}
	if !s.acquire(key) {
		return ErrBusy
	}
	defer s.release(key)

	s.mu.Lock()
	groupID, gen := s.selected, s.gen
	if groupID == "" || s.doc == nil {
		s.mu.Unlock()
		return invalid("context", "context document is not loaded")
	}
	idx := -1
	for i, t := range s.doc.Tasks {
		if t.ID == taskID {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return invalid("task_id", "unknown task %s", taskID)
	}
	snapshot := s.doc
	next := snapshot.Clone()
	next.Tasks[idx].Status = status
	optimistic := &next
	s.doc = optimistic
	s.mu.Unlock()
	s.notify()

	op := api.NewOp(model.OpTaskUpdate, map[string]any{"task_id": taskID, "status": string(status)})
	err := s.api.ContextOps(ctx, groupID, []api.ContextOp{op})
	if err == nil {
		return nil
	}

	s.mu.Lock()
	rolledBack := false
	if s.gen == gen && s.doc == optimistic {
		s.doc = snapshot
		rolledBack = true
	}
	stillSelected := s.gen == gen
	s.mu.Unlock()
	if !rolledBack && stillSelected {
		// A refetch landed in between; the backend copy is authoritative.
		s.background(s.RefreshContext)
	}
	s.notify()
	return s.fail(err)
}

// ArchiveMilestone and RestoreMilestone wait for the backend and refetch;
// only task archival is applied optimistically.
func (s *Store) ArchiveMilestone(ctx context.Context, milestoneID string) error {
	return s.setMilestoneStatus(ctx, "milestone-archive:"+milestoneID, milestoneID, model.MilestoneArchived)
}

func (s *Store) RestoreMilestone(ctx context.Context, milestoneID string) error {
	return s.setMilestoneStatus(ctx, "milestone-restore:"+milestoneID, milestoneID, model.MilestonePlanned)
}

func (s *Store) setMilestoneStatus(ctx context.Context, key, milestoneID string, status model.MilestoneStatus) error {
	if strings.TrimSpace(milestoneID) == "" {
		return invalid("milestone_id", "milestone id is required")
	}
	return s.applyOps(ctx, key, api.NewOp(model.OpMilestoneUpdate, map[string]any{
		"milestone_id": milestoneID,
		"status":       string(status),
	}))
}

func (s *Store) UpdateVision(ctx context.Context, vision string) error {
	return s.applyOps(ctx, "context-vision", api.NewOp(model.OpVisionUpdate, map[string]any{"vision": vision}))
}

func (s *Store) UpdateSketch(ctx context.Context, sketch string) error {
	return s.applyOps(ctx, "context-sketch", api.NewOp(model.OpSketchUpdate, map[string]any{"sketch": sketch}))
}

func (s *Store) AddNote(ctx context.Context, content string) error {
	if strings.TrimSpace(content) == "" {
		return invalid("content", "note content is required")
	}
	return s.applyOps(ctx, "note-add", api.NewOp(model.OpNoteAdd, map[string]any{"content": content}))
}

func (s *Store) EditNote(ctx context.Context, noteID, content string) error {
	if strings.TrimSpace(noteID) == "" {
		return invalid("note_id", "note id is required")
	}
	if strings.TrimSpace(content) == "" {
		return invalid("content", "note content is required")
	}
	return s.applyOps(ctx, "note-edit:"+noteID, api.NewOp(model.OpNoteUpdate, map[string]any{"note_id": noteID, "content": content}))
}

func (s *Store) RemoveNote(ctx context.Context, noteID string) error {
	if strings.TrimSpace(noteID) == "" {
		return invalid("note_id", "note id is required")
	}
	return s.applyOps(ctx, "note-remove:"+noteID, api.NewOp(model.OpNoteRemove, map[string]any{"note_id": noteID}))
}

func (s *Store) AddReference(ctx context.Context, url, note string) error {
	if strings.TrimSpace(url) == "" {
		return invalid("url", "reference url is required")
	}
	return s.applyOps(ctx, "reference-add", api.NewOp(model.OpReferenceAdd, map[string]any{"url": strings.TrimSpace(url), "note": note}))
}

func (s *Store) EditReference(ctx context.Context, referenceID, url, note string) error {
	if strings.TrimSpace(referenceID) == "" {
		return invalid("reference_id", "reference id is required")
	}
	fields := map[string]any{"reference_id": referenceID, "note": note}
	if u := strings.TrimSpace(url); u != "" {
		fields["url"] = u
	}
	return s.applyOps(ctx, "reference-edit:"+referenceID, api.NewOp(model.OpReferenceUpdate, fields))
}

func (s *Store) RemoveReference(ctx context.Context, referenceID string) error {
	if strings.TrimSpace(referenceID) == "" {
		return invalid("reference_id", "reference id is required")
	}
	return s.applyOps(ctx, "reference-remove:"+referenceID, api.NewOp(model.OpReferenceRemove, map[string]any{"reference_id": referenceID}))
}

// TaskPatch names the task fields to change; nil fields are left alone.
type TaskPatch struct {
	Name     *string
	Status   *model.TaskStatus
	Assignee *string
}

func (s *Store) UpdateTask(ctx context.Context, taskID string, patch TaskPatch) error {
	if strings.TrimSpace(taskID) == "" {
		return invalid("task_id", "task id is required")
	}
	fields := map[string]any{"task_id": taskID}
	if patch.Name != nil {
		if strings.TrimSpace(*patch.Name) == "" {
			return invalid("name", "task name cannot be empty")
		}
		fields["name"] = *patch.Name
	}
	if patch.Status != nil {
		fields["status"] = string(*patch.Status)
	}
	if patch.Assignee != nil {
		fields["assignee"] = *patch.Assignee
	}
	return s.applyOps(ctx, "task-edit:"+taskID, api.NewOp(model.OpTaskUpdate, fields))
}

// applyOps sends ops for the selected group under the busy key, then
// replaces the local document with the backend's copy.
func (s *Store) applyOps(ctx context.Context, key string, ops ...api.ContextOp) error {
	groupID := s.SelectedGroupID()
	if groupID == "" {
		return invalid("group", "no group selected")
	}
	if !s.acquire(key) {
		return ErrBusy
	}
	defer s.release(key)
	if err := s.api.ContextOps(ctx, groupID, ops); err != nil {
		return s.fail(err)
	}
	return s.RefreshContext(ctx)
}
