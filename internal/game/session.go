package game

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/MosChaimong123/gameedu-sub001/internal/domain"
)

// FinalizeFunc persists the final snapshot of a session and returns the
// history record ID. Called exactly once per session, on the transition
// into the finished phase.
type FinalizeFunc func(snap domain.SessionSnapshot) (string, error)

// SessionParams carries everything a session needs at construction.
// Questions are immutable after start; the release callback evicts the
// pin from the store once the session closes.
type SessionParams struct {
	Pin       string
	HostID    string
	GameMode  string
	Settings  domain.Settings
	Questions []domain.Question
	Clock     clockwork.Clock
	HostGrace time.Duration
	Finalize  FinalizeFunc
	Release   func(pin string)
}

// Session is one live game from lobby to close.
//
// All game state is owned by the run loop goroutine: public methods enqueue
// commands onto cmds and wait for the reply, so mutations for one pin are
// strictly sequential and need no lock. Only the subscriber registry is
// shared with transport goroutines and carries its own mutex.
type Session struct {
	pin       string
	hostID    string
	gameMode  string
	settings  domain.Settings
	questions []domain.Question
	createdAt time.Time

	clock     clockwork.Clock
	hostGrace time.Duration
	finalize  FinalizeFunc
	release   func(pin string)

	cmds    chan func()
	stopped chan struct{}

	subMu sync.Mutex
	subs  map[*subscription]struct{}

	// run loop state below; never touched outside the loop.
	phase         domain.Phase
	startedAt     time.Time
	current       int
	players       map[string]*player
	results       []domain.QuestionResult
	hostConnected bool
	hostGen       uint64

	windowTimer   clockwork.Timer
	windowC       <-chan time.Time
	windowStart   time.Time
	windowEnd     time.Time
	paused        bool
	pausedElapsed time.Duration

	graceTimer clockwork.Timer
	graceC     <-chan time.Time
}

type player struct {
	id        string
	name      string
	score     int
	connected bool
	answers   map[int]domain.PlayerAnswer
}

type subscription struct {
	role     Role
	playerID string
	ch       chan Event
}

// NewSession builds a session in the lobby phase. The caller must start
// the run loop with Run.
func NewSession(p SessionParams) *Session {
	return &Session{
		pin:       p.Pin,
		hostID:    p.HostID,
		gameMode:  p.GameMode,
		settings:  p.Settings,
		questions: p.Questions,
		createdAt: p.Clock.Now(),
		clock:     p.Clock,
		hostGrace: p.HostGrace,
		finalize:  p.Finalize,
		release:   p.Release,
		cmds:      make(chan func()),
		stopped:   make(chan struct{}),
		subs:      make(map[*subscription]struct{}),
		phase:     domain.PhaseLobby,
		players:   make(map[string]*player),
	}
}

func (s *Session) Pin() string    { return s.pin }
func (s *Session) HostID() string { return s.hostID }

// Run drives the session until it reaches the closed phase. The only
// asynchronous wake-ups are the question window timer and the host grace
// timer; everything else arrives as a command.
func (s *Session) Run() {
	defer s.shutdown()
	// Until the host binds its channel the session is effectively
	// host-less; the grace timer keeps an abandoned creation from
	// holding its pin forever.
	s.armGrace()
	for s.phase != domain.PhaseClosed {
		select {
		case cmd := <-s.cmds:
			cmd()
		case <-s.windowC:
			s.windowTimer = nil
			s.windowC = nil
			s.closeWindow()
		case <-s.graceC:
			s.graceTimer = nil
			s.graceC = nil
			s.expireGrace()
		}
	}
}

// do runs fn on the session loop and returns its error. Once the session
// has stopped, every command degrades to ErrSessionNotFound: the pin no
// longer names a live game.
func (s *Session) do(fn func() error) error {
	errc := make(chan error, 1)
	select {
	case s.cmds <- func() { errc <- fn() }:
	case <-s.stopped:
		return domain.ErrSessionNotFound
	}
	select {
	case err := <-errc:
		return err
	case <-s.stopped:
		select {
		case err := <-errc:
			return err
		default:
			return domain.ErrSessionNotFound
		}
	}
}

// Subscribe registers a recipient for session events. The caller must
// invoke the returned cancel function to avoid leaks.
func (s *Session) Subscribe(role Role, playerID string) (<-chan Event, func()) {
	sub := &subscription{role: role, playerID: playerID, ch: make(chan Event, 16)}

	s.subMu.Lock()
	s.subs[sub] = struct{}{}
	s.subMu.Unlock()

	cancel := func() {
		s.subMu.Lock()
		if _, ok := s.subs[sub]; ok {
			delete(s.subs, sub)
			close(sub.ch)
		}
		s.subMu.Unlock()
	}
	return sub.ch, cancel
}

// emit delivers an envelope to every matching subscriber. Delivery is
// best-effort; a full channel drops its oldest event so a slow client
// cannot stall the loop.
func (s *Session) emit(env envelope) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for sub := range s.subs {
		switch {
		case env.toHost && sub.role != RoleHost:
			continue
		case env.toPlayer != "" && sub.playerID != env.toPlayer:
			continue
		}
		select {
		case sub.ch <- env.event:
		default:
			select {
			case <-sub.ch:
			default:
			}
			sub.ch <- env.event
		}
	}
}

// HostConnect binds the host channel, resuming a paused game. The caller
// has already verified the host identity; a reconnect of the same host
// supersedes the prior binding. The returned token identifies this
// binding and must be passed back on disconnect.
func (s *Session) HostConnect() (uint64, domain.SessionSnapshot, error) {
	var (
		gen  uint64
		snap domain.SessionSnapshot
	)
	err := s.do(func() error {
		s.hostGen++
		gen = s.hostGen
		s.hostConnected = true
		s.cancelGrace()
		if s.paused {
			s.resumeWindow()
		}
		snap = s.snapshot()
		return nil
	})
	return gen, snap, err
}

// HostDisconnect pauses the game and arms the grace timer. A token from a
// binding that has been superseded is ignored, so a host page refresh
// (new connect, then the stale connection's teardown) never pauses its
// own replacement. The session is never destroyed by the disconnect
// itself.
func (s *Session) HostDisconnect(gen uint64) {
	_ = s.do(func() error {
		if !s.hostConnected || gen != s.hostGen {
			return nil
		}
		s.hostConnected = false
		if s.phase == domain.PhaseQuestionActive {
			s.pauseWindow()
		}
		if s.phase != domain.PhaseFinished && s.phase != domain.PhaseClosed {
			s.armGrace()
		}
		log.Info().Str("pin", s.pin).Str("phase", string(s.phase)).Msg("host disconnected, grace timer armed")
		return nil
	})
}

// Join admits a new player while the session is in the lobby.
func (s *Session) Join(name string) (string, domain.SessionSnapshot, error) {
	var (
		playerID string
		snap     domain.SessionSnapshot
	)
	err := s.do(func() error {
		if s.phase != domain.PhaseLobby {
			return domain.ErrSessionNotJoinable
		}
		for _, p := range s.players {
			if strings.EqualFold(p.name, name) {
				return domain.ErrDuplicateName
			}
		}
		playerID = uuid.NewString()
		s.players[playerID] = &player{
			id:        playerID,
			name:      name,
			connected: true,
			answers:   make(map[int]domain.PlayerAnswer),
		}
		s.emitLobby()
		snap = s.snapshot()
		return nil
	})
	return playerID, snap, err
}

// Rejoin reconnects a known player in any phase.
func (s *Session) Rejoin(playerID string) (domain.SessionSnapshot, error) {
	var snap domain.SessionSnapshot
	err := s.do(func() error {
		p, ok := s.players[playerID]
		if !ok {
			return domain.ErrPlayerNotFound
		}
		p.connected = true
		if s.phase == domain.PhaseLobby {
			s.emitLobby()
		}
		snap = s.snapshot()
		return nil
	})
	return snap, err
}

// PlayerDisconnect marks a player offline. Game state is untouched, but a
// disconnect can satisfy the all-connected-answered close condition.
func (s *Session) PlayerDisconnect(playerID string) {
	_ = s.do(func() error {
		p, ok := s.players[playerID]
		if !ok {
			return nil
		}
		p.connected = false
		if s.phase == domain.PhaseLobby {
			s.emitLobby()
		}
		if s.phase == domain.PhaseQuestionActive && s.allConnectedAnswered() {
			s.closeWindow()
		}
		return nil
	})
}

// Start begins the question cycle. Host-only; the gateway enforces the
// caller's role.
func (s *Session) Start() error {
	return s.do(func() error {
		if s.phase != domain.PhaseLobby {
			return domain.ErrInvalidPhase
		}
		min := s.settings.MinPlayers
		if min < 1 {
			min = 1
		}
		if len(s.players) < min {
			return domain.ErrNotEnoughPlayers
		}
		s.startedAt = s.clock.Now()
		s.cancelGrace()
		s.openQuestion(0)
		return nil
	})
}

// Next advances from reveal to the next question, or finishes the game
// after the last one.
func (s *Session) Next() error {
	return s.do(func() error {
		if s.phase != domain.PhaseQuestionReveal {
			return domain.ErrInvalidPhase
		}
		if s.current+1 < len(s.questions) {
			s.openQuestion(s.current + 1)
			return nil
		}
		s.finish()
		return nil
	})
}

// Answer records a submission. receivedAt is the server receipt timestamp
// stamped at the gateway; the client timestamp is advisory and plays no
// part in acceptance or scoring.
func (s *Session) Answer(playerID, optionID string, receivedAt time.Time) error {
	return s.do(func() error {
		switch s.phase {
		case domain.PhaseQuestionActive:
		case domain.PhaseQuestionReveal, domain.PhaseFinished:
			return domain.ErrWindowClosed
		default:
			return domain.ErrInvalidPhase
		}

		p, ok := s.players[playerID]
		if !ok {
			return domain.ErrPlayerNotFound
		}
		if _, dup := p.answers[s.current]; dup {
			return domain.ErrDuplicateAnswer
		}

		q := s.questions[s.current]
		var chosen *domain.Option
		for i := range q.Options {
			if q.Options[i].ID == optionID {
				chosen = &q.Options[i]
				break
			}
		}
		if chosen == nil {
			return domain.ErrOptionNotFound
		}

		latency := s.answerLatency(receivedAt)
		p.answers[s.current] = domain.PlayerAnswer{
			QuestionIndex: s.current,
			OptionID:      optionID,
			Correct:       chosen.Correct,
			Latency:       latency,
			Points:        scorePoints(s.settings.BaseScore, latency, s.settings.TimeLimit, chosen.Correct),
		}

		if s.allConnectedAnswered() {
			s.closeWindow()
		}
		return nil
	})
}

// Snapshot returns the resync view of the session.
func (s *Session) Snapshot() (domain.SessionSnapshot, error) {
	var snap domain.SessionSnapshot
	err := s.do(func() error {
		snap = s.snapshot()
		return nil
	})
	return snap, err
}

// answerLatency measures elapsed window time at receipt. While paused the
// window clock is frozen, so all answers during a pause share the elapsed
// time at the moment the host dropped.
func (s *Session) answerLatency(receivedAt time.Time) time.Duration {
	if s.paused {
		return s.pausedElapsed
	}
	latency := receivedAt.Sub(s.windowStart)
	if latency < 0 {
		latency = 0
	}
	if latency > s.settings.TimeLimit {
		latency = s.settings.TimeLimit
	}
	return latency
}

// allConnectedAnswered reports whether every currently-connected player
// has an answer for the current question. Vacuously false with nobody
// connected: an empty room waits for the timer.
func (s *Session) allConnectedAnswered() bool {
	connected := 0
	for _, p := range s.players {
		if !p.connected {
			continue
		}
		connected++
		if _, ok := p.answers[s.current]; !ok {
			return false
		}
	}
	return connected > 0
}

func (s *Session) openQuestion(index int) {
	s.phase = domain.PhaseQuestionActive
	s.current = index
	s.paused = false
	s.pausedElapsed = 0
	now := s.clock.Now()
	s.windowStart = now
	s.windowEnd = now.Add(s.settings.TimeLimit)
	s.windowTimer = s.clock.NewTimer(s.settings.TimeLimit)
	s.windowC = s.windowTimer.Chan()

	s.emit(broadcast(Event{Type: EventQuestion, Payload: s.questionState()}))
	log.Info().Str("pin", s.pin).Int("index", index).Time("deadline", s.windowEnd).Msg("question opened")
}

func (s *Session) questionState() QuestionState {
	q := s.questions[s.current]
	options := make([]OptionView, 0, len(q.Options))
	for _, opt := range q.Options {
		options = append(options, OptionView{ID: opt.ID, Text: opt.Text})
	}
	return QuestionState{
		Index:    s.current,
		Total:    len(s.questions),
		Prompt:   q.Prompt,
		Options:  options,
		Deadline: s.windowEnd,
		Limit:    s.settings.TimeLimit,
	}
}

// closeWindow freezes the QuestionResult, applies points at the question
// boundary and moves to reveal. The window timer is cancelled here and
// nowhere else.
func (s *Session) closeWindow() {
	s.stopWindowTimer()
	s.paused = false

	q := s.questions[s.current]
	result := domain.QuestionResult{
		QuestionIndex: s.current,
		CorrectOption: q.CorrectOption(),
		PerPlayer:     make(map[string]domain.AnswerOutcome),
	}
	for id, p := range s.players {
		a, ok := p.answers[s.current]
		if !ok {
			continue
		}
		p.score += a.Points
		result.PerPlayer[id] = domain.AnswerOutcome{
			OptionID: a.OptionID,
			Correct:  a.Correct,
			Latency:  a.Latency,
			Points:   a.Points,
		}
	}
	s.results = append(s.results, result)
	s.phase = domain.PhaseQuestionReveal

	board := s.leaderboard()
	rate := result.CorrectRate()
	for id, p := range s.players {
		reveal := PlayerReveal{
			Index:       s.current,
			Score:       p.score,
			CorrectRate: rate,
			Board:       board,
		}
		if a, ok := p.answers[s.current]; ok {
			reveal.Answered = true
			reveal.OptionID = a.OptionID
			reveal.Correct = a.Correct
			reveal.Points = a.Points
		}
		s.emit(toPlayer(id, Event{Type: EventReveal, Payload: reveal}))
	}
	s.emit(toHost(Event{Type: EventReveal, Payload: HostReveal{
		Result: result,
		Board:  board,
		Last:   s.current+1 >= len(s.questions),
	}}))
	log.Info().Str("pin", s.pin).Int("index", s.current).Int("answers", len(result.PerPlayer)).Msg("answer window closed")
}

// finish broadcasts the final leaderboard, writes history and closes. The
// finalize call may block this session's loop but never another session.
func (s *Session) finish() {
	s.stopWindowTimer()
	s.cancelGrace()
	s.phase = domain.PhaseFinished
	s.emit(broadcast(Event{Type: EventFinished, Payload: FinishedState{
		Pin:   s.pin,
		Board: s.leaderboard(),
	}}))

	if s.finalize != nil {
		if _, err := s.finalize(s.snapshot()); err != nil {
			log.Warn().Err(err).Str("pin", s.pin).Msg("history write failed, closing anyway")
			s.emit(toHost(Event{Type: EventWarning, Payload: Warning{
				Code:    "persistence_failure",
				Message: "game results could not be stored durably",
			}}))
		}
	}
	s.close()
}

func (s *Session) close() {
	s.stopWindowTimer()
	s.cancelGrace()
	s.phase = domain.PhaseClosed
	if s.release != nil {
		s.release(s.pin)
	}
	log.Info().Str("pin", s.pin).Msg("session closed, pin released")
}

func (s *Session) pauseWindow() {
	if s.paused || s.phase != domain.PhaseQuestionActive {
		return
	}
	s.paused = true
	s.pausedElapsed = s.clock.Now().Sub(s.windowStart)
	if s.pausedElapsed < 0 {
		s.pausedElapsed = 0
	}
	s.stopWindowTimer()
	s.emit(broadcast(Event{Type: EventPaused, Payload: PausedState{Phase: s.phase}}))
}

func (s *Session) resumeWindow() {
	if !s.paused {
		return
	}
	s.paused = false
	remaining := s.settings.TimeLimit - s.pausedElapsed
	if remaining <= 0 {
		s.closeWindow()
		return
	}
	now := s.clock.Now()
	s.windowStart = now.Add(-s.pausedElapsed)
	s.windowEnd = now.Add(remaining)
	s.windowTimer = s.clock.NewTimer(remaining)
	s.windowC = s.windowTimer.Chan()
	s.emit(broadcast(Event{Type: EventResumed, Payload: s.questionState()}))
	log.Info().Str("pin", s.pin).Dur("remaining", remaining).Msg("window resumed after host reconnect")
}

func (s *Session) armGrace() {
	s.cancelGrace()
	if s.hostGrace <= 0 {
		return
	}
	s.graceTimer = s.clock.NewTimer(s.hostGrace)
	s.graceC = s.graceTimer.Chan()
}

func (s *Session) cancelGrace() {
	if s.graceTimer != nil {
		stopAndDrainTimer(s.graceTimer)
		s.graceTimer = nil
		s.graceC = nil
	}
}

// expireGrace fires when the host never came back. A lobby that was never
// started just closes; a started game is force-finished with the answers
// already on record.
func (s *Session) expireGrace() {
	log.Warn().Str("pin", s.pin).Str("phase", string(s.phase)).Msg("host grace period expired")
	if s.phase == domain.PhaseLobby {
		s.close()
		return
	}
	if s.phase == domain.PhaseQuestionActive {
		s.closeWindow()
	}
	s.finish()
}

func (s *Session) stopWindowTimer() {
	if s.windowTimer != nil {
		stopAndDrainTimer(s.windowTimer)
		s.windowTimer = nil
		s.windowC = nil
	}
}

// stopAndDrainTimer stops a timer and drains a pending fire so nothing can
// wake the loop after the phase that owned the timer has exited.
func stopAndDrainTimer(t clockwork.Timer) {
	if !t.Stop() {
		select {
		case <-t.Chan():
		default:
		}
	}
}

func (s *Session) emitLobby() {
	s.emit(broadcast(Event{Type: EventLobby, Payload: s.lobbyState()}))
}

func (s *Session) lobbyState() LobbyState {
	roster := make([]PlayerSummary, 0, len(s.players))
	for _, p := range s.players {
		roster = append(roster, PlayerSummary{ID: p.id, Name: p.name, Connected: p.connected})
	}
	sort.Slice(roster, func(i, j int) bool { return roster[i].Name < roster[j].Name })
	return LobbyState{Pin: s.pin, Players: roster}
}

func (s *Session) leaderboard() []domain.LeaderboardEntry {
	states := make(map[string]*domain.PlayerState, len(s.players))
	for id, p := range s.players {
		st := p.state()
		states[id] = &st
	}
	return leaderboard(states)
}

func (s *Session) snapshot() domain.SessionSnapshot {
	players := make([]domain.PlayerState, 0, len(s.players))
	for _, p := range s.players {
		players = append(players, p.state())
	}
	sort.Slice(players, func(i, j int) bool { return players[i].Name < players[j].Name })

	results := make([]domain.QuestionResult, len(s.results))
	copy(results, s.results)

	return domain.SessionSnapshot{
		Pin:       s.pin,
		HostID:    s.hostID,
		GameMode:  s.gameMode,
		Phase:     s.phase,
		Settings:  s.settings,
		StartedAt: s.startedAt,
		Current:   s.current,
		Deadline:  s.windowEnd,
		Players:   players,
		Results:   results,
		Board:     s.leaderboard(),
	}
}

// state materializes the immutable domain view of a player, answers in
// question order.
func (p *player) state() domain.PlayerState {
	indexes := make([]int, 0, len(p.answers))
	for i := range p.answers {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	answers := make([]domain.PlayerAnswer, 0, len(indexes))
	for _, i := range indexes {
		answers = append(answers, p.answers[i])
	}
	return domain.PlayerState{
		ID:        p.id,
		Name:      p.name,
		Score:     p.score,
		Connected: p.connected,
		Answers:   answers,
	}
}

func (s *Session) shutdown() {
	s.subMu.Lock()
	for sub := range s.subs {
		delete(s.subs, sub)
		close(sub.ch)
	}
	s.subMu.Unlock()
	close(s.stopped)
}
