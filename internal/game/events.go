package game

import (
	"time"

	"github.com/MosChaimong123/gameedu-sub001/internal/domain"
)

// EventType names a server-to-client message kind.
type EventType string

const (
	EventLobby    EventType = "state:lobby"
	EventQuestion EventType = "state:question"
	EventReveal   EventType = "state:reveal"
	EventFinished EventType = "state:finished"
	EventPaused   EventType = "state:paused"
	EventResumed  EventType = "state:resumed"
	EventWarning  EventType = "warning"
)

// Event is one outbound message emitted by a session. Delivery is
// best-effort: a recipient that is disconnected at emit time receives
// nothing and resynchronizes from a snapshot on reconnect.
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// Role identifies which side of the session a subscriber is on.
type Role string

const (
	RoleHost   Role = "host"
	RolePlayer Role = "player"
)

// envelope addresses an event to the whole session, the host channel, or
// one player.
type envelope struct {
	toHost   bool
	toPlayer string // player ID; empty means not player-addressed
	event    Event
}

func broadcast(e Event) envelope          { return envelope{event: e} }
func toHost(e Event) envelope             { return envelope{toHost: true, event: e} }
func toPlayer(id string, e Event) envelope { return envelope{toPlayer: id, event: e} }

// PlayerSummary is the lobby roster view of one player.
type PlayerSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
}

// LobbyState is broadcast whenever the lobby roster changes.
type LobbyState struct {
	Pin     string          `json:"pin"`
	Players []PlayerSummary `json:"players"`
}

// OptionView is an answer option with the correct flag stripped.
type OptionView struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// QuestionState opens an answer window on every client.
type QuestionState struct {
	Index    int           `json:"index"`
	Total    int           `json:"total"`
	Prompt   string        `json:"prompt"`
	Options  []OptionView  `json:"options"`
	Deadline time.Time     `json:"deadline"`
	Limit    time.Duration `json:"limit"`
}

// PlayerReveal is the per-player outcome of one question.
type PlayerReveal struct {
	Index       int                       `json:"index"`
	OptionID    string                    `json:"optionId"`
	Answered    bool                      `json:"answered"`
	Correct     bool                      `json:"correct"`
	Points      int                       `json:"points"`
	Score       int                       `json:"score"`
	CorrectRate float64                   `json:"correctRate"`
	Board       []domain.LeaderboardEntry `json:"leaderboard"`
}

// HostReveal is the host's full view of one question outcome.
type HostReveal struct {
	Result domain.QuestionResult     `json:"result"`
	Board  []domain.LeaderboardEntry `json:"leaderboard"`
	Last   bool                      `json:"last"`
}

// FinishedState carries the final leaderboard.
type FinishedState struct {
	Pin   string                    `json:"pin"`
	Board []domain.LeaderboardEntry `json:"finalLeaderboard"`
}

// PausedState is broadcast when the session pauses on host loss.
type PausedState struct {
	Phase domain.Phase `json:"phase"`
}

// Warning is a non-fatal condition surfaced to the host.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
