package domain

import "time"

// Phase is the stage a live session is in.
type Phase string

const (
	PhaseLobby          Phase = "lobby"
	PhaseQuestionActive Phase = "question_active"
	PhaseQuestionReveal Phase = "question_reveal"
	PhaseFinished       Phase = "finished"
	PhaseClosed         Phase = "closed"
)

// Settings carries the per-session product parameters fixed at creation.
type Settings struct {
	QuestionSetID string        `json:"questionSetId"`
	TimeLimit     time.Duration `json:"timeLimit"`
	BaseScore     int           `json:"baseScore"`
	MinPlayers    int           `json:"minPlayers"`
}

// Option represents a possible answer for a question.
type Option struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Question models an MCQ question with exactly one correct option.
type Question struct {
	ID      string   `json:"id"`
	Prompt  string   `json:"prompt"`
	Options []Option `json:"options"`
}

// CorrectOption returns the ID of the first option flagged correct.
func (q Question) CorrectOption() string {
	for _, opt := range q.Options {
		if opt.Correct {
			return opt.ID
		}
	}
	return ""
}

// QuestionSet is the ordered list of questions a session plays through.
// It is read once at session creation and never mutated afterwards.
type QuestionSet struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
}

// PlayerAnswer is one recorded submission. At most one exists per player
// per question; once recorded it is immutable.
type PlayerAnswer struct {
	QuestionIndex int           `json:"questionIndex"`
	OptionID      string        `json:"optionId"`
	Correct       bool          `json:"correct"`
	Latency       time.Duration `json:"latency"`
	Points        int           `json:"points"`
}

// PlayerState is the live view of one joined player.
type PlayerState struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Score     int            `json:"score"`
	Connected bool           `json:"connected"`
	Answers   []PlayerAnswer `json:"answers"`
}

// TotalLatency is the summed response latency over all recorded answers,
// used as the leaderboard tie-breaker.
func (p PlayerState) TotalLatency() time.Duration {
	var total time.Duration
	for _, a := range p.Answers {
		total += a.Latency
	}
	return total
}

// AnswerOutcome is the per-player slice of a QuestionResult.
type AnswerOutcome struct {
	OptionID string        `json:"optionId"`
	Correct  bool          `json:"correct"`
	Latency  time.Duration `json:"latency"`
	Points   int           `json:"points"`
}

// QuestionResult is produced once per question when its answer window
// closes, and is immutable thereafter.
type QuestionResult struct {
	QuestionIndex int                      `json:"questionIndex"`
	CorrectOption string                   `json:"correctOption"`
	PerPlayer     map[string]AnswerOutcome `json:"perPlayer"`
}

// CorrectRate returns the share of recorded answers that were correct.
func (r QuestionResult) CorrectRate() float64 {
	if len(r.PerPlayer) == 0 {
		return 0
	}
	correct := 0
	for _, o := range r.PerPlayer {
		if o.Correct {
			correct++
		}
	}
	return float64(correct) / float64(len(r.PerPlayer))
}

// LeaderboardEntry is a snapshot-friendly view of a player's standing.
type LeaderboardEntry struct {
	PlayerID string `json:"playerId"`
	Name     string `json:"name"`
	Score    int    `json:"score"`
}

// SessionSnapshot is the read-only view of a session handed to transports
// for resynchronization. It never aliases live state.
type SessionSnapshot struct {
	Pin       string             `json:"pin"`
	HostID    string             `json:"hostId"`
	GameMode  string             `json:"gameMode"`
	Phase     Phase              `json:"phase"`
	Settings  Settings           `json:"settings"`
	StartedAt time.Time          `json:"startedAt"`
	Current   int                `json:"currentQuestionIndex"`
	Deadline  time.Time          `json:"deadline"`
	Players   []PlayerState      `json:"players"`
	Results   []QuestionResult   `json:"results"`
	Board     []LeaderboardEntry `json:"leaderboard"`
}

// GameHistory is the durable record written exactly once per session at
// close. Never mutated after creation.
type GameHistory struct {
	ID        string           `json:"id"`
	HostID    string           `json:"hostId"`
	GameMode  string           `json:"gameMode"`
	Pin       string           `json:"pin"`
	StartedAt time.Time        `json:"startedAt"`
	EndedAt   time.Time        `json:"endedAt"`
	Settings  Settings         `json:"settings"`
	Players   []PlayerState    `json:"players"`
	Results   []QuestionResult `json:"results"`
}
