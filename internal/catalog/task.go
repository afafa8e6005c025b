package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/helix-io/helix/internal/metadata"
	"github.com/helix-io/helix/internal/metadata/keys"
)

// OperationVariantPrune is the task operation name of a prune run.
const OperationVariantPrune = "VariantPrune"

// TaskStatus is the state of an operation task.
//
// State machine:
//
//	(absent) -> RUNNING -> READY
//	                    -> ERROR
//
// A resumed run may move READY, ERROR or a stale RUNNING task back to RUNNING.
type TaskStatus string

const (
	TaskRunning TaskStatus = "RUNNING"
	TaskReady   TaskStatus = "READY"
	TaskError   TaskStatus = "ERROR"
)

var (
	// ErrTaskNotFound is returned when no task exists for a study and operation.
	ErrTaskNotFound = errors.New("catalog: task not found")

	// ErrConflictingOperation is returned when a task already exists for a
	// study and operation and the caller did not ask to resume it.
	ErrConflictingOperation = errors.New("catalog: conflicting operation")

	// ErrInvalidTransition is returned when a status change is not allowed.
	ErrInvalidTransition = errors.New("catalog: invalid task transition")

	// ErrRunMismatch is returned when a task is updated by a run that does not own it.
	ErrRunMismatch = errors.New("catalog: task owned by another run")
)

// Task records one operation on one study.
type Task struct {
	StudyID     int        `json:"studyId"`
	Operation   string     `json:"operation"`
	RunID       string     `json:"runId"`
	Status      TaskStatus `json:"status"`
	Message     string     `json:"message,omitempty"`
	Attempts    int        `json:"attempts"`
	CreatedAtMs int64      `json:"createdAtMs"`
	UpdatedAtMs int64      `json:"updatedAtMs"`
}

var validTransitions = map[TaskStatus][]TaskStatus{
	TaskRunning: {TaskReady, TaskError},
	TaskReady:   {},
	TaskError:   {},
}

var resumeTransitions = map[TaskStatus][]TaskStatus{
	TaskRunning: {TaskRunning},
	TaskReady:   {TaskRunning},
	TaskError:   {TaskRunning},
}

func canTransition(table map[TaskStatus][]TaskStatus, from, to TaskStatus) bool {
	for _, s := range table[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CanTransitionTo checks whether the task may move to status without a resume.
func (t *Task) CanTransitionTo(status TaskStatus) bool {
	return canTransition(validTransitions, t.Status, status)
}

// GetTask returns the task for a study and operation along with its version.
func (m *Manager) GetTask(ctx context.Context, studyID int, operation string) (*Task, metadata.Version, error) {
	result, err := m.meta.Get(ctx, keys.TaskKeyPath(studyID, operation))
	if err != nil {
		return nil, 0, fmt.Errorf("catalog: get task: %w", err)
	}
	if !result.Exists {
		return nil, 0, ErrTaskNotFound
	}
	var task Task
	if err := json.Unmarshal(result.Value, &task); err != nil {
		return nil, 0, fmt.Errorf("catalog: unmarshal task: %w", err)
	}
	return &task, result.Version, nil
}

// CheckCanRun fails with ErrConflictingOperation if any task exists for the
// study and operation, whatever its status, unless resume is set.
func (m *Manager) CheckCanRun(ctx context.Context, studyID int, operation string, resume bool) error {
	task, _, err := m.GetTask(ctx, studyID, operation)
	if errors.Is(err, ErrTaskNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if resume {
		return nil
	}
	return fmt.Errorf("%w: study %d already has %s task in status %s (run %s)", ErrConflictingOperation, studyID, operation, task.Status, task.RunID)
}

// RegisterRunning creates a RUNNING task owned by runID. With resume, an
// existing task is taken over instead of rejected.
func (m *Manager) RegisterRunning(ctx context.Context, studyID int, operation, runID string, resume bool) (*Task, error) {
	key := keys.TaskKeyPath(studyID, operation)
	now := time.Now().UnixMilli()

	task, version, err := m.GetTask(ctx, studyID, operation)
	switch {
	case errors.Is(err, ErrTaskNotFound):
		task = &Task{
			StudyID:     studyID,
			Operation:   operation,
			CreatedAtMs: now,
		}
		version = 0
	case err != nil:
		return nil, err
	case !resume:
		return nil, fmt.Errorf("%w: study %d already has %s task in status %s (run %s)", ErrConflictingOperation, studyID, operation, task.Status, task.RunID)
	case !canTransition(resumeTransitions, task.Status, TaskRunning):
		return nil, fmt.Errorf("%w: cannot resume from %s", ErrInvalidTransition, task.Status)
	}

	task.RunID = runID
	task.Status = TaskRunning
	task.Message = ""
	task.Attempts++
	task.UpdatedAtMs = now

	if err := m.putTask(ctx, key, task, version); err != nil {
		return nil, err
	}
	return task, nil
}

// UpdateStatus moves a RUNNING task owned by runID to status.
func (m *Manager) UpdateStatus(ctx context.Context, studyID int, operation, runID string, status TaskStatus, message string) (*Task, error) {
	task, version, err := m.GetTask(ctx, studyID, operation)
	if err != nil {
		return nil, err
	}
	if task.RunID != runID {
		return nil, fmt.Errorf("%w: study %d task run %s, caller run %s", ErrRunMismatch, studyID, task.RunID, runID)
	}
	if !task.CanTransitionTo(status) {
		return nil, fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidTransition, task.Status, status)
	}

	task.Status = status
	task.Message = message
	task.UpdatedAtMs = time.Now().UnixMilli()

	if err := m.putTask(ctx, keys.TaskKeyPath(studyID, operation), task, version); err != nil {
		return nil, err
	}
	return task, nil
}

func (m *Manager) putTask(ctx context.Context, key string, task *Task, version metadata.Version) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("catalog: marshal task: %w", err)
	}
	if _, err := m.meta.Put(ctx, key, data, metadata.WithExpectedVersion(version)); err != nil {
		if errors.Is(err, metadata.ErrVersionMismatch) {
			return ErrConcurrentModification
		}
		return fmt.Errorf("catalog: persist task: %w", err)
	}
	return nil
}

// ListTasks returns every task recorded for a study.
func (m *Manager) ListTasks(ctx context.Context, studyID int) ([]Task, error) {
	kvs, err := m.meta.List(ctx, keys.TaskStudyPrefix(studyID), "", 0)
	if err != nil {
		return nil, fmt.Errorf("catalog: list tasks: %w", err)
	}
	tasks := make([]Task, 0, len(kvs))
	for _, kv := range kvs {
		var task Task
		if err := json.Unmarshal(kv.Value, &task); err != nil {
			return nil, fmt.Errorf("catalog: unmarshal %s: %w", kv.Key, err)
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}
