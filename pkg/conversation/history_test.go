package conversation

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances one millisecond per call.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

func newTestLog() *Log {
	clock := &fakeClock{t: time.UnixMilli(1700000000000)}
	return NewLog(WithClock(clock.now))
}

func TestLogAdd(t *testing.T) {
	l := newTestLog()

	u := l.AddUser("go to settings")
	a := l.AddAssistant("Opening settings.", "")
	e := l.AddAssistant("That failed.", StatusError)

	assert.Equal(t, "user-1700000000001", u.ID)
	assert.Equal(t, RoleUser, u.Role)
	assert.Empty(t, u.Status)
	assert.Equal(t, int64(1700000000001), u.Timestamp)

	assert.Equal(t, "assistant-1700000000002", a.ID)
	assert.Equal(t, StatusSuccess, a.Status, "assistant status defaults to success")
	assert.Equal(t, StatusError, e.Status)

	msgs := l.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, []Message{u, a, e}, msgs)
	assert.Equal(t, 3, l.Len())
	assert.Equal(t, time.UnixMilli(u.Timestamp), u.Time())
}

func TestLogSnapshotsAreStable(t *testing.T) {
	l := newTestLog()
	l.AddUser("one")
	before := l.Messages()

	l.AddUser("two")
	l.Clear()

	require.Len(t, before, 1, "earlier snapshot is unaffected by later changes")
	assert.Equal(t, "one", before[0].Content)
	assert.Empty(t, l.Messages())
}

func TestLogSubscribe(t *testing.T) {
	l := newTestLog()

	var got [][]Message
	unsubscribe := l.Subscribe(func(msgs []Message) { got = append(got, msgs) })

	l.AddUser("hi")
	l.AddAssistant("hello", StatusPending)
	l.Clear()

	require.Len(t, got, 3, "one notification per mutation")
	assert.Len(t, got[0], 1)
	assert.Len(t, got[1], 2)
	assert.Empty(t, got[2])

	unsubscribe()
	unsubscribe()
	l.AddUser("ignored")
	assert.Len(t, got, 3)
}

func TestLogSubscribersInOrder(t *testing.T) {
	l := newTestLog()

	var order []string
	l.Subscribe(func([]Message) { order = append(order, "a") })
	unsubB := l.Subscribe(func([]Message) { order = append(order, "b") })
	l.Subscribe(func([]Message) { order = append(order, "c") })

	l.AddUser("x")
	unsubB()
	l.AddUser("y")

	assert.Equal(t, []string{"a", "b", "c", "a", "c"}, order)
}

func TestLogConcurrentNotificationOrder(t *testing.T) {
	l := NewLog()

	var mu sync.Mutex
	var lens []int
	l.Subscribe(func(msgs []Message) {
		mu.Lock()
		lens = append(lens, len(msgs))
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.AddUser("msg")
		}()
	}
	wg.Wait()

	require.Len(t, lens, 50)
	for i, n := range lens {
		assert.Equal(t, i+1, n, "listeners see snapshots in mutation order")
	}
}
