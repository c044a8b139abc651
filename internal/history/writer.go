package history

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/MosChaimong123/gameedu-sub001/internal/domain"
)

// Repository is the narrow persistence contract the engine depends on.
// Create must be conflict-safe on (pin, startedAt): a duplicate insert
// resolves to the existing record instead of writing a second one.
type Repository interface {
	Create(ctx context.Context, record domain.GameHistory) (string, error)
	FindByHost(ctx context.Context, hostID string) ([]domain.GameHistory, error)
	// FindByID returns ErrForbidden when the record belongs to another host.
	FindByID(ctx context.Context, id, callerID string) (domain.GameHistory, error)
}

// Config tunes the bounded retry applied to persistence failures.
type Config struct {
	Repo            Repository
	Clock           clockwork.Clock
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Writer finalizes sessions exactly once per (pin, startedAt). Duplicate
// triggers from host-reconnect races collapse onto the first write.
type Writer struct {
	repo            Repository
	clock           clockwork.Clock
	maxRetries      uint64
	initialInterval time.Duration
	maxInterval     time.Duration

	sf   singleflight.Group
	mu   sync.Mutex
	done map[string]string // finalize key -> record ID
}

func NewWriter(c Config) *Writer {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 500 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 5 * time.Second
	}
	return &Writer{
		repo:            c.Repo,
		clock:           c.Clock,
		maxRetries:      c.MaxRetries,
		initialInterval: c.InitialInterval,
		maxInterval:     c.MaxInterval,
		done:            make(map[string]string),
	}
}

// Finalize serializes the immutable final snapshot and submits it to the
// repository, retrying with bounded backoff. On exhausted retries the
// error is returned for the caller to surface as a warning; the session
// closes regardless.
func (w *Writer) Finalize(ctx context.Context, snap domain.SessionSnapshot) (string, error) {
	key := finalizeKey(snap)

	w.mu.Lock()
	if id, ok := w.done[key]; ok {
		w.mu.Unlock()
		return id, nil
	}
	w.mu.Unlock()

	id, err, _ := w.sf.Do(key, func() (interface{}, error) {
		w.mu.Lock()
		if id, ok := w.done[key]; ok {
			w.mu.Unlock()
			return id, nil
		}
		w.mu.Unlock()

		record := domain.GameHistory{
			ID:        uuid.NewString(),
			HostID:    snap.HostID,
			GameMode:  snap.GameMode,
			Pin:       snap.Pin,
			StartedAt: snap.StartedAt,
			EndedAt:   w.clock.Now(),
			Settings:  snap.Settings,
			Players:   snap.Players,
			Results:   snap.Results,
		}

		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = w.initialInterval
		bo.MaxInterval = w.maxInterval
		policy := backoff.WithContext(backoff.WithMaxRetries(bo, w.maxRetries), ctx)

		var recordID string
		err := backoff.Retry(func() error {
			id, err := w.repo.Create(ctx, record)
			if err != nil {
				log.Warn().Err(err).Str("pin", snap.Pin).Msg("history create failed, retrying")
				return err
			}
			recordID = id
			return nil
		}, policy)
		if err != nil {
			return "", err
		}

		w.mu.Lock()
		w.done[key] = recordID
		w.mu.Unlock()
		return recordID, nil
	})
	if err != nil {
		return "", err
	}
	return id.(string), nil
}

func finalizeKey(snap domain.SessionSnapshot) string {
	return snap.Pin + "|" + snap.StartedAt.UTC().Format(time.RFC3339Nano)
}
