package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishDeliversToKindSubscribers(t *testing.T) {
	b := NewBus()

	var got []Event
	b.Subscribe(DecryptFailed, func(e Event) { got = append(got, e) })
	b.Subscribe(Initialized, func(Event) { t.Fatal("wrong kind delivered") })

	b.Publish(DecryptFailed, "jobs/1")
	b.Publish(DecryptFailed, "jobs/2")

	require.Len(t, got, 2)
	assert.Equal(t, "jobs/1", got[0].Payload)
	assert.Equal(t, "jobs/2", got[1].Payload)
	assert.Equal(t, DecryptFailed, got[0].Kind)
	assert.False(t, got[0].Time.IsZero())
}

func TestBus_Unsubscribe(t *testing.T) {
	b := NewBus()

	calls := 0
	unsub := b.Subscribe(Closed, func(Event) { calls++ })
	other := 0
	b.Subscribe(Closed, func(Event) { other++ })

	b.Publish(Closed, nil)
	unsub()
	unsub()
	b.Publish(Closed, nil)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 2, other)
}

func TestBus_NilAndZeroValue(t *testing.T) {
	var nilBus *Bus
	require.NotPanics(t, func() {
		nilBus.Subscribe(Closed, func(Event) {})()
		nilBus.Publish(Closed, nil)
	})

	var zero Bus
	n := 0
	zero.Subscribe(Closed, func(Event) { n++ })
	zero.Publish(Closed, nil)
	assert.Equal(t, 1, n)
}

func TestBus_ConcurrentPublish(t *testing.T) {
	b := NewBus()
	var mu sync.Mutex
	n := 0
	b.Subscribe(MigrationProgress, func(Event) {
		mu.Lock()
		n++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Publish(MigrationProgress, nil)
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, n)
}
