package redis

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/MosChaimong123/gameedu-sub001/internal/domain"
	"github.com/MosChaimong123/gameedu-sub001/internal/game"
	"github.com/MosChaimong123/gameedu-sub001/internal/infra/memory"
)

func buildSession(pin string) *game.Session {
	return game.NewSession(game.SessionParams{
		Pin:      pin,
		HostID:   "host-1",
		Settings: domain.Settings{MinPlayers: 1},
		Clock:    clockwork.NewFakeClock(),
	})
}

func TestSessionRegistryMarksLivePins(t *testing.T) {
	mr, client := newTestRedis(t)
	registry := NewSessionRegistry(memory.NewSessionStore(6, 0), client, time.Hour)

	sess, err := registry.Create(buildSession)
	require.NoError(t, err)

	key := "game:live:" + sess.Pin()
	require.True(t, mr.Exists(key))

	got, ok := registry.Get(sess.Pin())
	require.True(t, ok)
	require.Same(t, sess, got)

	registry.Close(sess.Pin())
	require.False(t, mr.Exists(key))
	_, ok = registry.Get(sess.Pin())
	require.False(t, ok)
}

func TestSessionRegistryRefreshesMarkerOnActivity(t *testing.T) {
	mr, client := newTestRedis(t)
	registry := NewSessionRegistry(memory.NewSessionStore(6, 0), client, time.Minute)

	sess, err := registry.Create(buildSession)
	require.NoError(t, err)
	key := "game:live:" + sess.Pin()

	// a long game outlives the initial TTL as long as commands keep coming
	mr.FastForward(45 * time.Second)
	_, ok := registry.Get(sess.Pin())
	require.True(t, ok)

	mr.FastForward(45 * time.Second)
	require.True(t, mr.Exists(key))

	// with no activity the marker eventually lapses
	mr.FastForward(2 * time.Minute)
	require.False(t, mr.Exists(key))
}

func TestSessionRegistryPropagatesCapacityError(t *testing.T) {
	mr, client := newTestRedis(t)
	registry := NewSessionRegistry(memory.NewSessionStore(6, 1), client, time.Hour)

	_, err := registry.Create(buildSession)
	require.NoError(t, err)

	_, err = registry.Create(buildSession)
	require.ErrorIs(t, err, domain.ErrCapacityExceeded)
	require.Len(t, mr.Keys(), 1)
}
