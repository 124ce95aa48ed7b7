package services

import (
	"testing"

	"github.com/pixlabel/backend/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestSSEHub_FiltersByOwner(t *testing.T) {
	hub := NewSSEHub()
	alice := hub.Subscribe("a", Caller{UserID: 1, Role: models.RoleAnnotator})
	bob := hub.Subscribe("b", Caller{UserID: 2, Role: models.RoleAnnotator})
	admin := hub.Subscribe("c", Caller{UserID: 3, Role: models.RoleAdmin})
	assert.Equal(t, 3, hub.ClientCount())

	hub.Publish(ExportEvent{JobID: 10, UserID: 1, Status: models.ExportJobRunning})

	assert.Equal(t, uint(10), (<-alice).JobID)
	assert.Equal(t, uint(10), (<-admin).JobID)
	select {
	case ev := <-bob:
		t.Fatalf("bob received %+v", ev)
	default:
	}
}

func TestSSEHub_UnsubscribeClosesChannel(t *testing.T) {
	hub := NewSSEHub()
	ch := hub.Subscribe("x", Caller{UserID: 1})
	hub.Unsubscribe("x")

	_, ok := <-ch
	assert.False(t, ok)
	assert.Zero(t, hub.ClientCount())

	hub.Unsubscribe("x")
	hub.Publish(ExportEvent{UserID: 1})
}

func TestSSEHub_FullBufferDoesNotBlock(t *testing.T) {
	hub := NewSSEHub()
	ch := hub.Subscribe("slow", Caller{UserID: 1})
	for i := 0; i < 150; i++ {
		hub.Publish(ExportEvent{JobID: uint(i), UserID: 1})
	}
	assert.Len(t, ch, 100)
}

func TestExportJob_PublishesEvents(t *testing.T) {
	f := newExportFixture(t)
	f.addImage(t, "a.jpg", "", true)

	events := GetSSEHub().Subscribe("job-test", f.admin)
	defer GetSSEHub().Unsubscribe("job-test")

	queue := NewSyncQueue()
	jobs := NewExportJobService(f.db, NewProjectAccess(f.db), f.svc, queue)
	queue.SetProcessor(jobs.Process)

	job, err := jobs.Submit(t.Context(), f.admin, f.project.ID)
	assert.NoError(t, err)
	assert.NoError(t, queue.Close())

	var statuses []string
	for len(events) > 0 {
		ev := <-events
		if ev.JobID == job.ID {
			statuses = append(statuses, ev.Status)
		}
	}
	assert.Equal(t, []string{models.ExportJobPending, models.ExportJobRunning, models.ExportJobCompleted}, statuses)
}
