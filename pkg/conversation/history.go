package conversation

import (
	"sync"
	"time"
)

// Listener receives the full message list after each change. The slice
// must not be modified.
type Listener func(messages []Message)

type subscriber struct {
	id int
	fn Listener
}

// Log is an ordered in-memory conversation history.
type Log struct {
	now func() time.Time

	// emitMu serialises change notification so listeners observe
	// snapshots in mutation order.
	emitMu sync.Mutex

	mu          sync.RWMutex
	messages    []Message
	subscribers []subscriber
	nextID      int
}

// LogOption configures a Log.
type LogOption func(*Log)

// WithClock sets the time source used for IDs and timestamps.
func WithClock(now func() time.Time) LogOption {
	return func(l *Log) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLog creates an empty log.
func NewLog(opts ...LogOption) *Log {
	l := &Log{now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// AddUser appends a user message.
func (l *Log) AddUser(content string) Message {
	return l.add(RoleUser, content, "")
}

// AddAssistant appends an assistant message. An empty status means
// success.
func (l *Log) AddAssistant(content string, status Status) Message {
	if status == "" {
		status = StatusSuccess
	}
	return l.add(RoleAssistant, content, status)
}

func (l *Log) add(role Role, content string, status Status) Message {
	l.emitMu.Lock()
	defer l.emitMu.Unlock()

	ms := l.now().UnixMilli()
	msg := Message{
		ID:        messageID(role, ms),
		Role:      role,
		Content:   content,
		Timestamp: ms,
		Status:    status,
	}

	l.mu.Lock()
	next := make([]Message, len(l.messages), len(l.messages)+1)
	copy(next, l.messages)
	l.messages = append(next, msg)
	snapshot, subs := l.messages, l.listeners()
	l.mu.Unlock()

	notify(subs, snapshot)
	return msg
}

// Messages returns the current snapshot. The slice is replaced, never
// modified, on change.
func (l *Log) Messages() []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.messages
}

// Len returns the number of messages.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}

// Clear removes all messages.
func (l *Log) Clear() {
	l.emitMu.Lock()
	defer l.emitMu.Unlock()

	l.mu.Lock()
	l.messages = nil
	subs := l.listeners()
	l.mu.Unlock()

	notify(subs, nil)
}

// Subscribe registers fn for change notifications and returns a function
// that removes it. fn runs synchronously on the mutating goroutine and
// must not mutate the log.
func (l *Log) Subscribe(fn Listener) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.nextID
	l.nextID++
	l.subscribers = append(l.subscribers, subscriber{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			for i, s := range l.subscribers {
				if s.id == id {
					l.subscribers = append(l.subscribers[:i:i], l.subscribers[i+1:]...)
					return
				}
			}
		})
	}
}

// listeners copies the subscriber functions. Caller holds mu.
func (l *Log) listeners() []Listener {
	out := make([]Listener, len(l.subscribers))
	for i, s := range l.subscribers {
		out[i] = s.fn
	}
	return out
}

func notify(subs []Listener, snapshot []Message) {
	for _, fn := range subs {
		fn(snapshot)
	}
}
