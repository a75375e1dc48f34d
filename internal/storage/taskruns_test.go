package storage

import (
	"errors"
	"testing"

	"github.com/relayctl/relay/internal/models"
)

func seedRun(t *testing.T, db *DB, namespace, pipeline string, id int64) {
	t.Helper()
	seedPipeline(t, db, namespace, pipeline)
	run := models.NewRun(namespace, pipeline, id, models.TriggerInfo{Kind: "manual"}, nil)
	if err := db.InsertRun(nil, run); err != nil {
		t.Fatalf("seedRun: %v", err)
	}
}

func TestTaskRunCRUD(t *testing.T) {
	db := newTestDB(t)
	seedRun(t, db, "ns", "p1", 1)

	taskRun := models.NewTaskRun("ns", "p1", 1, models.Task{ID: "build", Image: "alpine"})
	if err := db.InsertTaskRun(nil, taskRun); err != nil {
		t.Fatalf("InsertTaskRun: %v", err)
	}

	got, err := db.GetTaskRun(nil, "ns", "p1", 1, "build")
	if err != nil {
		t.Fatalf("GetTaskRun: %v", err)
	}
	if got.State != models.TaskRunStateProcessing {
		t.Errorf("expected processing, got %s", got.State)
	}

	schedulerID := "container-123"
	if err := db.UpdateTaskRun(nil, "ns", "p1", 1, "build", UpdatableTaskRunFields{
		SchedulerID: &schedulerID,
	}); err != nil {
		t.Fatalf("UpdateTaskRun: %v", err)
	}

	got, err = db.GetTaskRun(nil, "ns", "p1", 1, "build")
	if err != nil {
		t.Fatalf("GetTaskRun after update: %v", err)
	}
	if got.SchedulerID != schedulerID {
		t.Errorf("expected scheduler id %q, got %q", schedulerID, got.SchedulerID)
	}

	list, err := db.ListTaskRuns(nil, "ns", "p1", 1)
	if err != nil {
		t.Fatalf("ListTaskRuns: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 task run, got %d", len(list))
	}
}

func TestUpdateTaskRunNotFound(t *testing.T) {
	db := newTestDB(t)
	seedRun(t, db, "ns", "p1", 1)

	schedulerID := "doesn't matter"
	err := db.UpdateTaskRun(nil, "ns", "p1", 1, "ghost", UpdatableTaskRunFields{SchedulerID: &schedulerID})
	if !errors.Is(err, ErrEntityNotFound) {
		t.Fatalf("expected ErrEntityNotFound, got %v", err)
	}
}
