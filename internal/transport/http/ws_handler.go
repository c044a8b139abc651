package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/MosChaimong123/gameedu-sub001/internal/domain"
	"github.com/MosChaimong123/gameedu-sub001/internal/game"
)

// WSHandler bridges websocket connections to session commands. It owns
// the connection ↔ identity mapping and never mutates game state itself;
// every inbound frame becomes a command to the session's loop.
type WSHandler struct {
	service  *game.Service
	upgrader websocket.Upgrader
}

func NewWSHandler(service *game.Service) *WSHandler {
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	OptionID        string `json:"optionId"`
	ClientTimestamp int64  `json:"clientTimestamp"` // unix millis, advisory
}

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type joinedPayload struct {
	PlayerID string                 `json:"playerId"`
	Session  domain.SessionSnapshot `json:"session"`
}

type sessionPayload struct {
	Pin     string                 `json:"pin"`
	Session domain.SessionSnapshot `json:"session"`
}

// ServeHost binds a websocket as the host channel of a session. With a
// pin query parameter it resumes an existing session; otherwise it
// creates one from setId and mode.
func (h *WSHandler) ServeHost(w http.ResponseWriter, r *http.Request) {
	hostID := r.URL.Query().Get("hostId")
	pin := r.URL.Query().Get("pin")
	setID := r.URL.Query().Get("setId")
	mode := r.URL.Query().Get("mode")
	if hostID == "" || (pin == "" && setID == "") {
		http.Error(w, "missing hostId and one of pin or setId", http.StatusBadRequest)
		return
	}
	if mode == "" {
		mode = "classic"
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	if pin == "" {
		pin, err = h.service.CreateSession(r.Context(), hostID, mode, setID)
		if err != nil {
			writeError(conn, err)
			return
		}
	}

	snap, hostGen, err := h.service.HostConnect(pin, hostID)
	if err != nil {
		writeError(conn, err)
		return
	}

	events, cancel, err := h.service.Subscribe(pin, game.RoleHost, "")
	if err != nil {
		writeError(conn, err)
		return
	}
	defer cancel()
	defer h.service.HostDisconnect(pin, hostID, hostGen)

	send, done := h.startWriter(conn, events)
	defer close(done)

	send <- outboundMessage{Type: "session", Payload: sessionPayload{Pin: pin, Session: snap}}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			return
		}
		switch inbound.Type {
		case "host:start":
			if err := h.service.Start(pin, hostID); err != nil {
				send <- errorMessage(err)
			}
		case "host:next":
			if err := h.service.Next(pin, hostID); err != nil {
				send <- errorMessage(err)
			}
		default:
			send <- errorMessage(domain.ErrInvalidPhase)
		}
	}
}

// ServePlay joins a websocket as a player. A playerId query parameter
// makes this a rejoin of a known player; the fresh snapshot in the joined
// payload is the resynchronization contract after missed broadcasts.
func (h *WSHandler) ServePlay(w http.ResponseWriter, r *http.Request) {
	pin := r.URL.Query().Get("pin")
	name := r.URL.Query().Get("name")
	playerID := r.URL.Query().Get("playerId")
	if pin == "" || (name == "" && playerID == "") {
		http.Error(w, "missing pin and one of name or playerId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	var snap domain.SessionSnapshot
	if playerID != "" {
		snap, err = h.service.Rejoin(pin, playerID)
	} else {
		playerID, snap, err = h.service.Join(pin, name)
	}
	if err != nil {
		writeError(conn, err)
		return
	}

	events, cancel, err := h.service.Subscribe(pin, game.RolePlayer, playerID)
	if err != nil {
		writeError(conn, err)
		return
	}
	defer cancel()
	defer h.service.PlayerDisconnect(pin, playerID)

	send, done := h.startWriter(conn, events)
	defer close(done)

	send <- outboundMessage{Type: "joined", Payload: joinedPayload{PlayerID: playerID, Session: snap}}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			return
		}
		switch inbound.Type {
		case "player:answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- outboundMessage{Type: "error", Payload: errorPayload{Code: "invalid", Message: "invalid answer payload"}}
				continue
			}
			var clientTS time.Time
			if payload.ClientTimestamp > 0 {
				clientTS = time.UnixMilli(payload.ClientTimestamp)
			}
			if err := h.service.SubmitAnswer(pin, playerID, payload.OptionID, clientTS); err != nil {
				send <- errorMessage(err)
				continue
			}
			send <- outboundMessage{Type: "answer:ack", Payload: map[string]string{"optionId": payload.OptionID}}
		default:
			send <- outboundMessage{Type: "error", Payload: errorPayload{Code: "invalid", Message: "unsupported message type"}}
		}
	}
}

// startWriter serializes all writes to conn through a single goroutine
// and pumps session events into it until the session or connection ends.
// When the session closes, queued messages (the final leaderboard among
// them) are flushed before the close frame goes out.
func (h *WSHandler) startWriter(conn *websocket.Conn, events <-chan game.Event) (chan outboundMessage, chan struct{}) {
	send := make(chan outboundMessage, 16)
	done := make(chan struct{})
	ended := make(chan struct{})

	go func() {
		for {
			select {
			case msg, ok := <-send:
				if !ok {
					return
				}
				if err := conn.WriteJSON(msg); err != nil {
					log.Debug().Err(err).Msg("ws write error")
					return
				}
			case <-ended:
				// session over: drain what is queued, then nudge the
				// client to disconnect
				for {
					select {
					case msg := <-send:
						if err := conn.WriteJSON(msg); err != nil {
							return
						}
					default:
						_ = conn.WriteControl(websocket.CloseMessage,
							websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
							time.Now().Add(time.Second))
						return
					}
				}
			case <-done:
				return
			}
		}
	}()

	go func() {
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					close(ended)
					return
				}
				select {
				case send <- outboundMessage{Type: string(ev.Type), Payload: ev.Payload}:
				case <-done:
					return
				}
			case <-done:
				return
			}
		}
	}()

	return send, done
}

func errorMessage(err error) outboundMessage {
	return outboundMessage{Type: "error", Payload: errorPayload{Code: errorCode(err), Message: err.Error()}}
}

func writeError(conn *websocket.Conn, err error) {
	_ = conn.WriteJSON(errorMessage(err))
}

// errorCode maps the engine's error taxonomy onto wire codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrPlayerNotFound),
		errors.Is(err, domain.ErrQuestionSetNotFound),
		errors.Is(err, domain.ErrHistoryNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrForbidden):
		return "forbidden"
	case errors.Is(err, domain.ErrDuplicateName),
		errors.Is(err, domain.ErrDuplicateAnswer):
		return "conflict"
	case errors.Is(err, domain.ErrWindowClosed):
		return "window_closed"
	case errors.Is(err, domain.ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, domain.ErrSessionNotJoinable):
		return "not_joinable"
	case errors.Is(err, domain.ErrNotEnoughPlayers),
		errors.Is(err, domain.ErrInvalidPhase),
		errors.Is(err, domain.ErrOptionNotFound):
		return "invalid"
	default:
		return "internal"
	}
}
