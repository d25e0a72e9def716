package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newRunningEmitter(t *testing.T) *Emitter {
	t.Helper()
	e := NewEmitter(&EmitterConfig{CoordinatorID: "coordinator-test"})
	require.NoError(t, e.Start())
	t.Cleanup(func() { e.Stop() })
	return e
}

type recorder struct {
	mu     sync.Mutex
	events []*Event
}

func (r *recorder) handle(e *Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestEmitRequiresRunning(t *testing.T) {
	e := NewEmitter(nil)
	event, err := NewEvent(EventSubmissionReceived, SeverityInfo, "test", nil)
	require.NoError(t, err)
	require.Error(t, e.Emit(event))
}

func TestStartTwiceFails(t *testing.T) {
	e := newRunningEmitter(t)
	require.Error(t, e.Start())
}

func TestSubscriberReceivesEvents(t *testing.T) {
	e := newRunningEmitter(t)

	rec := &recorder{}
	require.NoError(t, e.Subscribe(&Subscriber{ID: "rec", Handler: rec.handle}))

	require.NoError(t, e.EmitSubmissionReceived("coordinator", &SubmissionEventPayload{
		SubmissionID: "sub_1",
		InstanceName: "inst",
		AgentID:      "agent_1",
	}))

	require.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	event := rec.events[0]
	require.Equal(t, EventSubmissionReceived, event.Type)
	require.Equal(t, "sub_1", event.SubmissionID)
	require.Equal(t, "coordinator-test", event.CoordinatorID)
}

func TestSubscriberTypeFilter(t *testing.T) {
	e := newRunningEmitter(t)

	settlements := &recorder{}
	require.NoError(t, e.Subscribe(&Subscriber{
		ID:      "settlements-only",
		Handler: settlements.handle,
		Types:   []EventType{EventRewardSettled},
	}))
	all := &recorder{}
	require.NoError(t, e.Subscribe(&Subscriber{ID: "all", Handler: all.handle}))

	require.NoError(t, e.EmitVoteRecorded("coordinator", &VoteEventPayload{SubmissionID: "sub_1"}))
	require.NoError(t, e.EmitRewardSettled("coordinator", &SettlementEventPayload{SubmissionID: "sub_1"}))

	require.Eventually(t, func() bool { return all.count() == 2 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, 1, settlements.count())
}

func TestDuplicateSubscriberRejected(t *testing.T) {
	e := newRunningEmitter(t)

	rec := &recorder{}
	require.NoError(t, e.Subscribe(&Subscriber{ID: "rec", Handler: rec.handle}))
	require.Error(t, e.Subscribe(&Subscriber{ID: "rec", Handler: rec.handle}))

	require.NoError(t, e.Unsubscribe("rec"))
	require.Error(t, e.Unsubscribe("rec"))
}

func TestDegradedSettlementEmitsWarning(t *testing.T) {
	e := newRunningEmitter(t)

	rec := &recorder{}
	require.NoError(t, e.Subscribe(&Subscriber{ID: "rec", Handler: rec.handle}))

	require.NoError(t, e.EmitRewardSettled("coordinator", &SettlementEventPayload{
		SubmissionID: "sub_1",
		Degraded:     true,
	}))

	require.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Equal(t, SeverityWarning, rec.events[0].Severity)
}

func TestMetricsCounters(t *testing.T) {
	e := newRunningEmitter(t)

	require.NoError(t, e.EmitInstanceDeactivated("coordinator", "inst"))
	require.Eventually(t, func() bool {
		return e.Metrics()["events_processed"] == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.EqualValues(t, 1, e.Metrics()["events_emitted"])
	require.Zero(t, e.Metrics()["events_dropped"])
}
