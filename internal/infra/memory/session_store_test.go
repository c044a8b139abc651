package memory

import (
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/MosChaimong123/gameedu-sub001/internal/domain"
	"github.com/MosChaimong123/gameedu-sub001/internal/game"
)

func buildSession(pin string) *game.Session {
	return game.NewSession(game.SessionParams{
		Pin:      pin,
		HostID:   "host-1",
		Settings: domain.Settings{MinPlayers: 1},
		Clock:    clockwork.NewFakeClock(),
	})
}

func TestSessionStorePinsAreUniqueAndWellFormed(t *testing.T) {
	store := NewSessionStore(6, 0)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		sess, err := store.Create(buildSession)
		require.NoError(t, err)
		pin := sess.Pin()
		require.Len(t, pin, 6)
		require.False(t, seen[pin], "pin %s issued twice", pin)
		seen[pin] = true

		got, ok := store.Get(pin)
		require.True(t, ok)
		require.Same(t, sess, got)
	}
	require.Equal(t, 50, store.Len())
}

func TestSessionStoreCapacity(t *testing.T) {
	store := NewSessionStore(6, 2)

	_, err := store.Create(buildSession)
	require.NoError(t, err)
	second, err := store.Create(buildSession)
	require.NoError(t, err)

	_, err = store.Create(buildSession)
	require.ErrorIs(t, err, domain.ErrCapacityExceeded)

	// releasing a pin frees a slot
	store.Close(second.Pin())
	_, err = store.Create(buildSession)
	require.NoError(t, err)
}

func TestSessionStoreCloseIsIdempotent(t *testing.T) {
	store := NewSessionStore(6, 0)

	sess, err := store.Create(buildSession)
	require.NoError(t, err)

	store.Close(sess.Pin())
	store.Close(sess.Pin())
	store.Close("000000")

	_, ok := store.Get(sess.Pin())
	require.False(t, ok)
	require.Zero(t, store.Len())
}

func TestSessionStoreMinimumPinLength(t *testing.T) {
	store := NewSessionStore(2, 0)

	sess, err := store.Create(buildSession)
	require.NoError(t, err)
	require.Len(t, sess.Pin(), 4)
}
