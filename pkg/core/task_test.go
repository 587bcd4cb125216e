// SPDX-License-Identifier: Apache-2.0
package core

import "testing"

func TestTaskLifecycle(t *testing.T) {
	task := NewTask("goal", "session-1")
	if task.Status != TaskStatusPending {
		t.Fatalf("expected pending status")
	}
	if task.ID == "" || task.Session != "session-1" {
		t.Fatalf("expected id and session, got %+v", task)
	}
	task.Start()
	if task.Status != TaskStatusRunning || task.StartedAt.IsZero() {
		t.Fatalf("expected running status")
	}
	task.Complete("done")
	if task.Status != TaskStatusCompleted || task.Result != "done" {
		t.Fatalf("expected completed status with result")
	}
	if !task.Status.Terminal() {
		t.Fatalf("completed should be terminal")
	}
	task.Fail("err")
	if task.Status != TaskStatusFailed || task.Error == "" {
		t.Fatalf("expected failed status with error")
	}
}

func TestTaskReject(t *testing.T) {
	task := NewTask("goal", "")
	task.Start()
	task.Reject("needs sources")
	if task.Status != TaskStatusRejected || task.Error != "needs sources" {
		t.Fatalf("unexpected task state %+v", task)
	}
	if TaskStatusRunning.Terminal() {
		t.Fatalf("running is not terminal")
	}
}
