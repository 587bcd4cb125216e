// SPDX-License-Identifier: Apache-2.0
package core

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus describes the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
	TaskStatusRejected  TaskStatus = "rejected"
)

// Terminal reports whether no further transition is expected.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled, TaskStatusRejected:
		return true
	}
	return false
}

// Task is one goal handed to the engine.
type Task struct {
	ID         string
	Goal       string
	Session    string
	Status     TaskStatus
	Result     any
	Error      string
	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
	Metadata   map[string]string
}

// NewTask creates a pending task with a generated ID.
func NewTask(goal, session string) *Task {
	return &Task{
		ID:        uuid.NewString(),
		Goal:      goal,
		Session:   session,
		Status:    TaskStatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

// Start marks the task running.
func (t *Task) Start() {
	t.Status = TaskStatusRunning
	t.StartedAt = time.Now().UTC()
}

// Complete marks the task completed with a result.
func (t *Task) Complete(result any) {
	t.finish(TaskStatusCompleted)
	t.Result = result
}

// Fail marks the task failed with an error message.
func (t *Task) Fail(msg string) {
	t.finish(TaskStatusFailed)
	t.Error = msg
}

// Reject marks the task rejected by the human reviewer.
func (t *Task) Reject(reason string) {
	t.finish(TaskStatusRejected)
	t.Error = reason
}

// Cancel marks the task cancelled.
func (t *Task) Cancel() {
	t.finish(TaskStatusCancelled)
}

func (t *Task) finish(status TaskStatus) {
	t.Status = status
	t.FinishedAt = time.Now().UTC()
}
