package connectivity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor_EdgeTriggered(t *testing.T) {
	m := NewMonitor(false)
	var onlineCalls, offlineCalls int
	m.OnOnline(func() { onlineCalls++ })
	m.OnOffline(func() { offlineCalls++ })

	assert.False(t, m.Set(false), "same state is not a transition")
	assert.Zero(t, offlineCalls)

	assert.True(t, m.Set(true))
	assert.False(t, m.Set(true))
	assert.True(t, m.IsOnline())
	assert.Equal(t, 1, onlineCalls)

	assert.True(t, m.Set(false))
	assert.Equal(t, 1, offlineCalls)
}

func TestMonitor_Remove(t *testing.T) {
	m := NewMonitor(false)
	var order []string
	removeA := m.OnOnline(func() { order = append(order, "a") })
	m.OnOnline(func() { order = append(order, "b") })

	m.Set(true)
	assert.Equal(t, []string{"a", "b"}, order)

	removeA()
	removeA()
	m.Set(false)
	m.Set(true)
	assert.Equal(t, []string{"a", "b", "b"}, order)
}

func TestMonitor_ConcurrentSetTransitionsOnce(t *testing.T) {
	m := NewMonitor(false)
	var mu sync.Mutex
	calls := 0
	m.OnOnline(func() {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Set(true)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, calls)
}

func TestMonitor_HandlersSeeTransitionsInOrder(t *testing.T) {
	m := NewMonitor(false)
	var mu sync.Mutex
	var events []string
	record := func(e string) func() {
		return func() {
			mu.Lock()
			events = append(events, e)
			mu.Unlock()
			time.Sleep(time.Millisecond)
		}
	}
	m.OnOnline(record("online"))
	m.OnOffline(record("offline"))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(online bool) {
			defer wg.Done()
			m.Set(online)
		}(i%2 == 0)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, events)
	assert.Equal(t, "online", events[0])
	for i := 1; i < len(events); i++ {
		assert.NotEqual(t, events[i-1], events[i], "event %d repeats %q", i, events[i])
	}
	last := events[len(events)-1] == "online"
	assert.Equal(t, last, m.IsOnline())
}

type fakePinger struct {
	mu  sync.Mutex
	err error
	n   int
}

func (f *fakePinger) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	return f.err
}

func (f *fakePinger) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func TestProber_Probe(t *testing.T) {
	m := NewMonitor(true)
	pinger := &fakePinger{err: errors.New("connection refused")}
	p := NewProber(m, pinger, "@every 1h", time.Second)

	assert.False(t, p.Probe(context.Background()))
	assert.False(t, m.IsOnline())

	pinger.setErr(nil)
	assert.True(t, p.Probe(context.Background()))
	assert.True(t, m.IsOnline())
}

func TestProber_StartRejectsBadSchedule(t *testing.T) {
	p := NewProber(NewMonitor(true), &fakePinger{}, "every now and then", time.Second)
	assert.Error(t, p.Start())
}

func TestProber_StartStop(t *testing.T) {
	m := NewMonitor(true)
	pinger := &fakePinger{err: errors.New("down")}
	p := NewProber(m, pinger, "@every 1s", time.Second)

	require.NoError(t, p.Start())
	require.Len(t, p.cron.Entries(), 1)

	require.Eventually(t, func() bool { return !m.IsOnline() }, 5*time.Second, 50*time.Millisecond)

	p.Stop()
	assert.Empty(t, p.cron.Entries())
}
