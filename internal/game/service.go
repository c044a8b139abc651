package game

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/MosChaimong123/gameedu-sub001/internal/domain"
)

// SessionStore owns the pin → Session mapping and is the only component
// allowed to create or evict a session. Implementations must guarantee at
// most one live session per pin.
type SessionStore interface {
	// Create draws an unused pin, builds the session through the factory
	// and registers it. Returns ErrCapacityExceeded at the configured cap.
	Create(build func(pin string) *Session) (*Session, error)
	Get(pin string) (*Session, bool)
	// Close evicts the pin. Idempotent: closing an absent pin is a no-op.
	Close(pin string)
}

// QuestionSetRepository supplies the ordered questions for a session.
// Consumed read-only at session creation.
type QuestionSetRepository interface {
	GetQuestionSet(ctx context.Context, setID string) (domain.QuestionSet, error)
}

// Finalizer persists the final snapshot of a finished session.
type Finalizer interface {
	Finalize(ctx context.Context, snap domain.SessionSnapshot) (string, error)
}

// Rules are the product parameters applied to new sessions. The scoring
// formula shape is fixed; these constants tune it.
type Rules struct {
	DefaultTimeLimit time.Duration
	BaseScore        int
	MinPlayers       int
	HostGrace        time.Duration
}

// Config wires a Service.
type Config struct {
	Store     SessionStore
	Sets      QuestionSetRepository
	Finalizer Finalizer
	Clock     clockwork.Clock
	Rules     Rules
}

// Service is the engine facade: it owns session creation and translates
// transport calls into session commands.
type Service struct {
	store     SessionStore
	sets      QuestionSetRepository
	finalizer Finalizer
	clock     clockwork.Clock
	rules     Rules
}

func NewService(c Config) *Service {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return &Service{
		store:     c.Store,
		sets:      c.Sets,
		finalizer: c.Finalizer,
		clock:     c.Clock,
		rules:     c.Rules,
	}
}

// CreateSession pulls the question set, allocates a pin and starts the
// session loop in the lobby phase.
func (s *Service) CreateSession(ctx context.Context, hostID, gameMode, setID string) (string, error) {
	set, err := s.sets.GetQuestionSet(ctx, setID)
	if err != nil {
		return "", err
	}
	if len(set.Questions) == 0 {
		return "", domain.ErrQuestionSetNotFound
	}

	settings := domain.Settings{
		QuestionSetID: setID,
		TimeLimit:     s.rules.DefaultTimeLimit,
		BaseScore:     s.rules.BaseScore,
		MinPlayers:    s.rules.MinPlayers,
	}

	sess, err := s.store.Create(func(pin string) *Session {
		return NewSession(SessionParams{
			Pin:       pin,
			HostID:    hostID,
			GameMode:  gameMode,
			Settings:  settings,
			Questions: set.Questions,
			Clock:     s.clock,
			HostGrace: s.rules.HostGrace,
			Finalize:  s.finalizeFunc(),
			Release:   s.store.Close,
		})
	})
	if err != nil {
		return "", err
	}
	go sess.Run()

	log.Info().Str("pin", sess.Pin()).Str("host_id", hostID).Str("set_id", setID).Msg("session created")
	return sess.Pin(), nil
}

func (s *Service) finalizeFunc() FinalizeFunc {
	if s.finalizer == nil {
		return nil
	}
	return func(snap domain.SessionSnapshot) (string, error) {
		return s.finalizer.Finalize(context.Background(), snap)
	}
}

// HostConnect binds hostID as the host channel for pin. A different
// identity is rejected; the same host supersedes its prior binding. The
// returned token must accompany the matching HostDisconnect.
func (s *Service) HostConnect(pin, hostID string) (domain.SessionSnapshot, uint64, error) {
	sess, ok := s.store.Get(pin)
	if !ok {
		return domain.SessionSnapshot{}, 0, domain.ErrSessionNotFound
	}
	if sess.HostID() != hostID {
		return domain.SessionSnapshot{}, 0, domain.ErrForbidden
	}
	gen, snap, err := sess.HostConnect()
	return snap, gen, err
}

func (s *Service) HostDisconnect(pin, hostID string, gen uint64) {
	sess, ok := s.store.Get(pin)
	if !ok || sess.HostID() != hostID {
		return
	}
	sess.HostDisconnect(gen)
}

// Join admits a new player into the lobby for pin.
func (s *Service) Join(pin, displayName string) (string, domain.SessionSnapshot, error) {
	sess, ok := s.store.Get(pin)
	if !ok {
		return "", domain.SessionSnapshot{}, domain.ErrSessionNotFound
	}
	return sess.Join(displayName)
}

// Rejoin reconnects a known player; allowed in any phase.
func (s *Service) Rejoin(pin, playerID string) (domain.SessionSnapshot, error) {
	sess, ok := s.store.Get(pin)
	if !ok {
		return domain.SessionSnapshot{}, domain.ErrSessionNotFound
	}
	return sess.Rejoin(playerID)
}

func (s *Service) PlayerDisconnect(pin, playerID string) {
	if sess, ok := s.store.Get(pin); ok {
		sess.PlayerDisconnect(playerID)
	}
}

// Start begins the question cycle for pin on behalf of hostID.
func (s *Service) Start(pin, hostID string) error {
	sess, err := s.hostSession(pin, hostID)
	if err != nil {
		return err
	}
	return sess.Start()
}

// Next advances past the current reveal on behalf of hostID.
func (s *Service) Next(pin, hostID string) error {
	sess, err := s.hostSession(pin, hostID)
	if err != nil {
		return err
	}
	return sess.Next()
}

// SubmitAnswer forwards a submission, stamping the server receipt time.
// The client timestamp is logged for diagnostics only; it never feeds
// acceptance or scoring.
func (s *Service) SubmitAnswer(pin, playerID, optionID string, clientTS time.Time) error {
	sess, ok := s.store.Get(pin)
	if !ok {
		return domain.ErrSessionNotFound
	}
	receivedAt := s.clock.Now()
	if !clientTS.IsZero() {
		log.Debug().Str("pin", pin).Str("player_id", playerID).
			Dur("client_skew", receivedAt.Sub(clientTS)).Msg("answer received")
	}
	return sess.Answer(playerID, optionID, receivedAt)
}

// Snapshot returns the resync view used after a reconnect.
func (s *Service) Snapshot(pin string) (domain.SessionSnapshot, error) {
	sess, ok := s.store.Get(pin)
	if !ok {
		return domain.SessionSnapshot{}, domain.ErrSessionNotFound
	}
	return sess.Snapshot()
}

// Subscribe attaches a transport connection to a session's event stream.
func (s *Service) Subscribe(pin string, role Role, playerID string) (<-chan Event, func(), error) {
	sess, ok := s.store.Get(pin)
	if !ok {
		return nil, nil, domain.ErrSessionNotFound
	}
	ch, cancel := sess.Subscribe(role, playerID)
	return ch, cancel, nil
}

func (s *Service) hostSession(pin, hostID string) (*Session, error) {
	sess, ok := s.store.Get(pin)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	if sess.HostID() != hostID {
		return nil, domain.ErrForbidden
	}
	return sess, nil
}
