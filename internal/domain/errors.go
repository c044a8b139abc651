package domain

import "errors"

var (
	// ErrSessionNotFound is returned when no live session exists for a pin.
	ErrSessionNotFound = errors.New("session not found")
	// ErrPlayerNotFound is returned when a player ID is unknown to a session.
	ErrPlayerNotFound = errors.New("player not found in session")
	// ErrSessionNotJoinable is returned for new joins outside the lobby phase.
	ErrSessionNotJoinable = errors.New("session is not accepting new players")
	// ErrDuplicateName is returned when a display name is already taken in the lobby.
	ErrDuplicateName = errors.New("display name already taken")
	// ErrDuplicateAnswer is returned when a player answers the same question twice.
	ErrDuplicateAnswer = errors.New("answer already submitted for this question")
	// ErrWindowClosed is returned for submissions after the answer window closed.
	ErrWindowClosed = errors.New("answer window is closed")
	// ErrForbidden indicates a role or ownership violation.
	ErrForbidden = errors.New("forbidden")
	// ErrCapacityExceeded is returned when the concurrent session cap is reached.
	ErrCapacityExceeded = errors.New("session capacity exceeded")
	// ErrNotEnoughPlayers is returned when the host starts below the minimum.
	ErrNotEnoughPlayers = errors.New("not enough players to start")
	// ErrInvalidPhase is returned for commands not valid in the current phase.
	ErrInvalidPhase = errors.New("command not valid in current phase")
	// ErrQuestionSetNotFound indicates the question set could not be loaded.
	ErrQuestionSetNotFound = errors.New("question set not found")
	// ErrOptionNotFound indicates a submitted option ID is invalid.
	ErrOptionNotFound = errors.New("option not found")
	// ErrHistoryNotFound indicates a requested history record does not exist.
	ErrHistoryNotFound = errors.New("game history not found")
)
