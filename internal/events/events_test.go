package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTypeAccessors(t *testing.T) {
	assert.Equal(t, RunStarted, RunStartedData{}.EventType())
	assert.Equal(t, PhaseStarted, PhaseStartedData{}.EventType())
	assert.Equal(t, PortfolioProcessed, PortfolioProcessedData{}.EventType())
	assert.Equal(t, RunCompleted, RunCompletedData{}.EventType())
}

func TestBus_PublishDeliversToSubscriber(t *testing.T) {
	b := NewBus()
	ch, unsubscribe := b.Subscribe(4)
	defer unsubscribe()

	now := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	b.Publish(RunStartedData{BatchRunID: "run-1", Source: "cron"}, now)

	select {
	case evt := <-ch:
		assert.Equal(t, RunStarted, evt.Type)
		assert.Equal(t, RunStartedData{BatchRunID: "run-1", Source: "cron"}, evt.Data)
		assert.True(t, evt.At.Equal(now))
	default:
		t.Fatal("expected an event on the subscriber channel")
	}
}

func TestBus_PublishFansOutToMultipleSubscribers(t *testing.T) {
	b := NewBus()
	ch1, unsub1 := b.Subscribe(1)
	defer unsub1()
	ch2, unsub2 := b.Subscribe(1)
	defer unsub2()

	b.Publish(RunCompletedData{BatchRunID: "run-2", Status: "completed"}, time.Now())

	evt1 := <-ch1
	evt2 := <-ch2
	assert.Equal(t, RunCompleted, evt1.Type)
	assert.Equal(t, RunCompleted, evt2.Type)
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	b := NewBus()
	ch, unsubscribe := b.Subscribe(1)
	unsubscribe()

	_, open := <-ch
	assert.False(t, open)
}

func TestBus_SlowSubscriberDropsRatherThanBlocks(t *testing.T) {
	b := NewBus()
	ch, unsubscribe := b.Subscribe(1)
	defer unsubscribe()

	// Fill the buffer, then publish again - must not block or panic.
	b.Publish(RunStartedData{BatchRunID: "a"}, time.Now())
	b.Publish(RunStartedData{BatchRunID: "b"}, time.Now())

	evt := <-ch
	assert.Equal(t, "a", evt.Data.(RunStartedData).BatchRunID)
}

func TestEvent_MarshalJSON(t *testing.T) {
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	evt := Event{
		Type: PortfolioProcessed,
		Data: PortfolioProcessedData{BatchRunID: "run-3", PortfolioID: "pf-1", Failed: true},
		At:   now,
	}

	raw, err := json.Marshal(evt)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, string(PortfolioProcessed), decoded["type"])
	data := decoded["data"].(map[string]any)
	assert.Equal(t, "pf-1", data["portfolio_id"])
	assert.Equal(t, true, data["failed"])
}
