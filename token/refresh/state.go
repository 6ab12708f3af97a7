package refresh

import (
	"sync"
	"time"
)

// State of a client instance's bearer credential.
type State string

const (
	StateSignedOut            State = "signed_out"
	StateFresh                State = "authenticated"
	StateRefreshing           State = "refreshing"
	StateRefreshDegraded      State = "refresh_degraded" // retries ran out; the access token is still valid
	StateExpiredUnrecoverable State = "expired_unrecoverable"
)

// SessionState is the message broadcast to subscribers on every state change.
type SessionState struct {
	InstanceID string
	State      State
	ExpiresAt  time.Time // zero unless State is StateFresh or StateRefreshDegraded
	At         time.Time
}

const defaultSubscriberBuffer = 16

type broadcaster struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan SessionState
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan SessionState)}
}

func (b *broadcaster) subscribe(buffer int) (<-chan SessionState, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	ch := make(chan SessionState, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// publish never blocks. A subscriber whose buffer is full loses its oldest
// message, so the most recent state is always delivered.
func (b *broadcaster) publish(msg SessionState) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- msg:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- msg:
		default:
		}
	}
}
