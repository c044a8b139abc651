package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MosChaimong123/gameedu-sub001/internal/game"
)

// SessionRegistry decorates a game.SessionStore with Redis liveness
// markers for the pins currently in play.
// Notes:
//   - Game state itself stays in-process; Redis only marks which pins are
//     live so other instances (or operators) can see in-flight games.
//   - For true distribution you'd pair this with a pub/sub projector that
//     fans out session events across instances.
type SessionRegistry struct {
	inner  game.SessionStore
	client *redis.Client
	ttl    time.Duration
}

func NewSessionRegistry(inner game.SessionStore, client *redis.Client, ttl time.Duration) *SessionRegistry {
	return &SessionRegistry{inner: inner, client: client, ttl: ttl}
}

func (s *SessionRegistry) Create(build func(pin string) *game.Session) (*game.Session, error) {
	sess, err := s.inner.Create(build)
	if err != nil {
		return nil, err
	}
	// best-effort liveness marker
	_ = s.client.Set(context.Background(), s.key(sess.Pin()), "1", s.ttl).Err()
	return sess, nil
}

func (s *SessionRegistry) Get(pin string) (*game.Session, bool) {
	sess, ok := s.inner.Get(pin)
	if ok {
		// sliding expiry: command traffic keeps the marker alive, and a
		// marker that lapsed during a quiet stretch is re-created
		_ = s.client.Set(context.Background(), s.key(pin), "1", s.ttl).Err()
	}
	return sess, ok
}

func (s *SessionRegistry) Close(pin string) {
	s.inner.Close(pin)
	_ = s.client.Del(context.Background(), s.key(pin)).Err()
}

func (s *SessionRegistry) key(pin string) string {
	return "game:live:" + pin
}
