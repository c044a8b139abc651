package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/MosChaimong123/gameedu-sub001/internal/domain"
)

// QuestionSetLoader fetches question sets from a backing store.
type QuestionSetLoader interface {
	LoadQuestionSet(ctx context.Context, setID string) (domain.QuestionSet, error)
}

// QuestionSetRepository keeps loaded question sets in process so session
// creation does not hit the backing store on every game. Entries expire
// after a jittered TTL; concurrent misses for the same set collapse into
// a single loader call.
type QuestionSetRepository struct {
	loader QuestionSetLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu    sync.RWMutex
	cache map[string]*setEntry
}

type setEntry struct {
	set       domain.QuestionSet
	expiresAt time.Time
}

func (e *setEntry) fresh(now time.Time) bool {
	return e != nil && e.expiresAt.After(now)
}

func NewQuestionSetRepository(loader QuestionSetLoader, ttl time.Duration) *QuestionSetRepository {
	return &QuestionSetRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]*setEntry),
	}
}

func (r *QuestionSetRepository) GetQuestionSet(ctx context.Context, setID string) (domain.QuestionSet, error) {
	if set, ok := r.cached(setID); ok {
		return set, nil
	}

	result, err, _ := r.sf.Do(setID, func() (interface{}, error) {
		// a concurrent miss may have filled the entry while we queued
		if set, ok := r.cached(setID); ok {
			return set, nil
		}
		set, err := r.loader.LoadQuestionSet(ctx, setID)
		if err != nil {
			return domain.QuestionSet{}, err
		}
		r.store(setID, set)
		return set, nil
	})
	if err != nil {
		return domain.QuestionSet{}, err
	}
	return result.(domain.QuestionSet), nil
}

func (r *QuestionSetRepository) cached(setID string) (domain.QuestionSet, bool) {
	r.mu.RLock()
	entry := r.cache[setID]
	r.mu.RUnlock()

	if !entry.fresh(r.clock()) {
		return domain.QuestionSet{}, false
	}
	return entry.set, true
}

func (r *QuestionSetRepository) store(setID string, set domain.QuestionSet) {
	lifetime := r.ttl
	if lifetime > 0 {
		// up to 10% jitter so entries loaded together do not expire together
		lifetime += time.Duration(r.rnd.Int63n(int64(r.ttl)/10 + 1))
	}

	r.mu.Lock()
	r.cache[setID] = &setEntry{set: set, expiresAt: r.clock().Add(lifetime)}
	r.mu.Unlock()
}

// StaticQuestionSetLoader is a loader backed by an in-memory map (useful
// for tests and no-database runs).
type StaticQuestionSetLoader struct {
	sets map[string]domain.QuestionSet
}

func NewStaticQuestionSetLoader(sets map[string]domain.QuestionSet) *StaticQuestionSetLoader {
	return &StaticQuestionSetLoader{sets: sets}
}

func (l *StaticQuestionSetLoader) LoadQuestionSet(_ context.Context, setID string) (domain.QuestionSet, error) {
	if set, ok := l.sets[setID]; ok {
		return set, nil
	}
	return domain.QuestionSet{}, domain.ErrQuestionSetNotFound
}
