package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEvent_Validate(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0).UTC()

	require.Error(t, Event{Type: EventJobUpdated, JobID: "j"}.Validate(), "missing timestamp")
	require.Error(t, Event{Type: EventJobUpdated, TS: now}.Validate(), "missing job id")
	require.Error(t, Event{Type: EventFileProcessed, TS: now, JobID: "j"}.Validate(), "missing item")
	require.Error(t, Event{Type: "totally_new", TS: now}.Validate(), "unknown type")

	require.NoError(t, Event{Type: EventJobUpdated, TS: now, JobID: "j"}.Validate())
	require.NoError(t, Event{Type: EventFileProcessed, TS: now, JobID: "j", Item: "a.cbz"}.Validate())
	require.NoError(t, Event{Type: EventWatcherStatus, TS: now}.Validate())
}

func TestEvent_Terminal(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0).UTC()
	job := Job{ID: "j", Status: JobStatusCompleted}

	require.True(t, JobUpdated(job, now).Terminal())
	job.Status = JobStatusRunning
	require.False(t, JobUpdated(job, now).Terminal())
	// file_processed never announces terminality, even on the last item.
	job.Status = JobStatusCompleted
	require.False(t, FileProcessed(job, "a.cbz", "", now).Terminal())
}

func TestJobStatus_Terminal(t *testing.T) {
	t.Parallel()

	for status, want := range map[JobStatus]bool{
		JobStatusQueued:    false,
		JobStatusRunning:   false,
		JobStatusCompleted: true,
		JobStatusFailed:    true,
		JobStatusCancelled: true,
	} {
		require.Equal(t, want, status.Terminal(), string(status))
	}
}

func TestJob_CloneIsDeep(t *testing.T) {
	t.Parallel()

	started := time.Unix(1000, 0).UTC()
	orig := Job{
		ID:            "j",
		Status:        JobStatusRunning,
		StartedAt:     &started,
		PerItemErrors: map[string]string{"a.cbz": "bad"},
	}
	cp := orig.Clone()
	cp.PerItemErrors["b.cbz"] = "new"
	*cp.StartedAt = cp.StartedAt.Add(time.Hour)

	require.Len(t, orig.PerItemErrors, 1)
	require.Equal(t, started, *orig.StartedAt)
}
