package broadcast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mleenorris/ComicMaintainer-sub003/internal/catalog"
)

func testEvent(jobID string) catalog.Event {
	return catalog.Event{
		Type:      catalog.EventJobUpdated,
		TS:        time.Unix(1000, 0).UTC(),
		JobID:     jobID,
		Status:    catalog.JobStatusRunning,
		Processed: 1,
		Total:     3,
	}
}

func TestBroadcaster_FanOut(t *testing.T) {
	t.Parallel()

	b := New(Config{})
	first := b.Subscribe("")
	second := b.Subscribe("")
	defer first.Close()
	defer second.Close()

	require.NoError(t, b.Publish(testEvent("job-1")))

	for _, sub := range []*Subscription{first, second} {
		select {
		case evt := <-sub.C():
			require.Equal(t, "job-1", evt.JobID)
			require.Equal(t, 1, evt.Processed)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestBroadcaster_JobScopedSubscription(t *testing.T) {
	t.Parallel()

	b := New(Config{})
	scoped := b.Subscribe("job-1")
	defer scoped.Close()

	require.NoError(t, b.Publish(testEvent("job-2")))
	require.NoError(t, b.Publish(testEvent("job-1")))

	select {
	case evt := <-scoped.C():
		require.Equal(t, "job-1", evt.JobID)
	case <-time.After(time.Second):
		t.Fatal("scoped subscriber did not receive its event")
	}
	select {
	case evt := <-scoped.C():
		t.Fatalf("unexpected event for job %s", evt.JobID)
	default:
	}
}

func TestBroadcaster_SlowSubscriberPruned(t *testing.T) {
	t.Parallel()

	b := New(Config{BufferSize: 1, SendTimeout: 10 * time.Millisecond})
	slow := b.Subscribe("")
	healthy := b.Subscribe("")
	defer healthy.Close()

	// Fill the slow channel while the healthy subscriber keeps reading.
	require.NoError(t, b.Publish(testEvent("job-1")))
	select {
	case <-healthy.C():
	case <-time.After(time.Second):
		t.Fatal("healthy subscriber missed the first event")
	}

	err := b.Publish(testEvent("job-1"))
	require.ErrorIs(t, err, ErrDropped)

	select {
	case <-slow.Done():
	case <-time.After(time.Second):
		t.Fatal("slow subscriber was not pruned")
	}
	require.Equal(t, 1, b.SubscriberCount())

	select {
	case <-healthy.C():
	case <-time.After(time.Second):
		t.Fatal("healthy subscriber missed the second event")
	}
}

func TestBroadcaster_InvalidEventDiscarded(t *testing.T) {
	t.Parallel()

	b := New(Config{})
	sub := b.Subscribe("")
	defer sub.Close()

	require.NoError(t, b.Publish(catalog.Event{Type: catalog.EventJobUpdated}))

	select {
	case <-sub.C():
		t.Fatal("invalid event should not be delivered")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcaster_CloseTearsDownSubscribers(t *testing.T) {
	t.Parallel()

	b := New(Config{})
	sub := b.Subscribe("")

	b.Close()

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription not torn down on close")
	}
	require.NoError(t, b.Publish(testEvent("job-1")))
	require.Zero(t, b.SubscriberCount())
}

func TestSubscription_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	b := New(Config{})
	sub := b.Subscribe("")
	sub.Close()
	sub.Close()
	require.Zero(t, b.SubscriberCount())
}
