package memory

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/MosChaimong123/gameedu-sub001/internal/domain"
	"github.com/MosChaimong123/gameedu-sub001/internal/game"
)

// SessionStore is the in-memory implementation of game.SessionStore: the
// single source of truth for in-progress games, keyed by pin.
type SessionStore struct {
	pinLength int
	capacity  int

	mu       sync.Mutex
	rnd      *rand.Rand
	sessions map[string]*game.Session
}

// NewSessionStore builds a store issuing numeric pins of pinLength digits.
// capacity <= 0 means unlimited concurrent sessions.
func NewSessionStore(pinLength, capacity int) *SessionStore {
	if pinLength < 4 {
		pinLength = 4
	}
	return &SessionStore{
		pinLength: pinLength,
		capacity:  capacity,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
		sessions:  make(map[string]*game.Session),
	}
}

// Create draws a pin not currently in use (collisions retried with a new
// draw), builds the session and registers it.
func (s *SessionStore) Create(build func(pin string) *game.Session) (*game.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.capacity > 0 && len(s.sessions) >= s.capacity {
		return nil, domain.ErrCapacityExceeded
	}

	var pin string
	for {
		pin = s.drawPin()
		if _, taken := s.sessions[pin]; !taken {
			break
		}
	}

	sess := build(pin)
	s.sessions[pin] = sess
	return sess, nil
}

func (s *SessionStore) Get(pin string) (*game.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[pin]
	return sess, ok
}

// Close evicts the pin, making it available for reuse. Closing an absent
// pin is a no-op.
func (s *SessionStore) Close(pin string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, pin)
}

// Len reports the number of live sessions.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *SessionStore) drawPin() string {
	max := 1
	for i := 0; i < s.pinLength; i++ {
		max *= 10
	}
	return fmt.Sprintf("%0*d", s.pinLength, s.rnd.Intn(max))
}
