package catalog

import (
	"errors"
	"fmt"
	"time"
)

// EventType discriminates the progress event union pushed to observers.
type EventType string

// Supported event types.
const (
	EventJobUpdated    EventType = "job_updated"
	EventFileProcessed EventType = "file_processed"
	EventWatcherStatus EventType = "watcher_status"
)

// Event is a transient progress message. It is never persisted and is
// always reconstructible from the Job record it describes.
type Event struct {
	Type EventType `json:"type"`
	TS   time.Time `json:"ts"`

	// JobID scopes job_updated and file_processed events.
	JobID     string    `json:"job_id,omitempty"`
	Status    JobStatus `json:"status,omitempty"`
	Processed int       `json:"processed"`
	Total     int       `json:"total"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`

	// Item and ItemError describe the file a file_processed event covers.
	Item      string `json:"item,omitempty"`
	ItemError string `json:"item_error,omitempty"`

	// Watching carries the observer state for watcher_status events.
	Watching bool `json:"watching,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Type {
	case EventJobUpdated:
		if e.JobID == "" {
			return errors.New("job_updated requires job id")
		}
	case EventFileProcessed:
		if e.JobID == "" {
			return errors.New("file_processed requires job id")
		}
		if e.Item == "" {
			return errors.New("file_processed requires item")
		}
	case EventWatcherStatus:
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	return nil
}

// Terminal reports whether the event announces a terminal job status.
func (e Event) Terminal() bool {
	return e.Type == EventJobUpdated && e.Status.Terminal()
}

// JobUpdated builds a job_updated event from a job snapshot.
func JobUpdated(job Job, at time.Time) Event {
	return Event{
		Type:      EventJobUpdated,
		TS:        at,
		JobID:     job.ID,
		Status:    job.Status,
		Processed: job.Processed,
		Total:     job.Total,
		Succeeded: job.Succeeded,
		Failed:    job.Failed,
	}
}

// FileProcessed builds a file_processed event for one item outcome.
func FileProcessed(job Job, item, itemErr string, at time.Time) Event {
	return Event{
		Type:      EventFileProcessed,
		TS:        at,
		JobID:     job.ID,
		Status:    job.Status,
		Processed: job.Processed,
		Total:     job.Total,
		Succeeded: job.Succeeded,
		Failed:    job.Failed,
		Item:      item,
		ItemError: itemErr,
	}
}

// WatcherStatus builds a watcher_status event.
func WatcherStatus(watching bool, jobID string, at time.Time) Event {
	return Event{
		Type:     EventWatcherStatus,
		TS:       at,
		JobID:    jobID,
		Watching: watching,
	}
}
