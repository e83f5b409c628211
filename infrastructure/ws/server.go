// Package ws is the websocket rendition of the surrounding service
// layer: it upgrades connections, authenticates the first frame and
// bridges the socket to the hub through a bounded sink channel.
package ws

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"chat-hub/domain"
	apperrors "chat-hub/errors"
	"chat-hub/services"
	"chat-hub/sink"
)

type Server struct {
	log             *slog.Logger
	chat            services.IChatService
	groups          services.IGroupService
	upgrader        websocket.Upgrader
	bufferSize      int
	deliveryTimeout time.Duration
}

func NewServer(log *slog.Logger, chat services.IChatService, groups services.IGroupService,
	bufferSize int, deliveryTimeout time.Duration) *Server {
	return &Server{
		log:             log,
		chat:            chat,
		groups:          groups,
		upgrader:        websocket.Upgrader{},
		bufferSize:      bufferSize,
		deliveryTimeout: deliveryTimeout,
	}
}

func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Post("/users", s.handleRegister)
	r.Get("/users", s.handleSearch)
	r.Post("/groups", s.handleCreateGroup)
	r.Put("/groups/{groupID}/members/{userID}", s.handleAddMember)
	r.Delete("/groups/{groupID}/members/{userID}", s.handleRemoveMember)
	r.Get("/ws", s.handleStream)
	return r
}

// clientFrame is everything a client may send over the stream. The
// first frame must be an auth frame carrying the registration token.
type clientFrame struct {
	Type       string `json:"type"`
	Token      string `json:"token,omitempty"`
	TargetKind string `json:"target_kind,omitempty"`
	TargetID   string `json:"target_id,omitempty"`
	Body       string `json:"body,omitempty"`
}

type ackFrame struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	Delivered int    `json:"delivered"`
	Queued    int    `json:"queued"`
}

type errorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// handleStream blocks until the client disconnects or the channel
// errors. Cleanup goes through the hub's stale-guarded unregister, so a
// superseded session tearing down never clobbers the newer one.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	var first clientFrame
	if err := conn.ReadJSON(&first); err != nil || first.Type != "auth" {
		_ = conn.WriteJSON(errorFrame{Type: "error", Error: "first frame must be auth"})
		return
	}

	ch := sink.NewChannel(s.log, s.bufferSize, s.deliveryTimeout)
	userID, err := s.chat.Connect(first.Token, ch)
	if err != nil {
		_ = conn.WriteJSON(errorFrame{Type: "error", Error: "authentication failed"})
		return
	}
	defer s.chat.Disconnect(userID, ch)
	defer ch.Close()

	go s.writePump(conn, ch)

	for {
		var frame clientFrame
		if err := conn.ReadJSON(&frame); err != nil {
			s.log.Debug("client stream closed", "user_id", userID, "error", err)
			return
		}

		switch frame.Type {
		case "send":
			s.handleSend(ch, userID, frame)
		default:
			s.pushError(ch, "unknown frame type")
		}
	}
}

func (s *Server) handleSend(ch *sink.Channel, userID string, frame clientFrame) {
	cmd := domain.SendCommand{
		SenderID: userID,
		TargetID: frame.TargetID,
		Body:     frame.Body,
	}

	var ack domain.Ack
	var err error
	if frame.TargetKind == string(domain.TargetGroup) {
		ack, err = s.chat.SendGroup(cmd)
	} else {
		ack, err = s.chat.SendDirect(cmd)
	}
	if err != nil {
		s.log.Warn("send failed", "user_id", userID, "error", err)
		s.pushError(ch, err.Error())
		return
	}

	payload, err := json.Marshal(ackFrame{
		Type:      "ack",
		MessageID: ack.MessageID.String(),
		Delivered: ack.Delivered,
		Queued:    ack.Queued,
	})
	if err != nil {
		return
	}
	_ = ch.Send(payload)
}

func (s *Server) pushError(ch *sink.Channel, msg string) {
	payload, err := json.Marshal(errorFrame{Type: "error", Error: msg})
	if err != nil {
		return
	}
	_ = ch.Send(payload)
}

// writePump is the single goroutine allowed to write on the socket. It
// drains the sink's outbound buffer until the channel is closed, either
// by the client going away or by the hub superseding the session.
func (s *Server) writePump(conn *websocket.Conn, ch *sink.Channel) {
	for {
		select {
		case payload := <-ch.Outbound():
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				_ = ch.Close()
				_ = conn.Close()
				return
			}
		case <-ch.Done():
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = conn.Close()
			return
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type registerRequest struct {
	DisplayName string `json:"display_name"`
}

type registerResponse struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Token       string `json:"token"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, token, err := s.chat.RegisterUser(domain.RegisterUserCommand{DisplayName: req.DisplayName})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, registerResponse{
		UserID:      user.ID,
		DisplayName: user.DisplayName,
		Token:       token,
	})
}

type userResponse struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	users, err := s.chat.SearchUsers(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	res := make([]userResponse, 0, len(users))
	for _, u := range users {
		res = append(res, userResponse{UserID: u.ID, DisplayName: u.DisplayName})
	}
	s.writeJSON(w, http.StatusOK, res)
}

type createGroupRequest struct {
	Name string `json:"name"`
}

type groupResponse struct {
	GroupID string `json:"group_id"`
	Name    string `json:"name"`
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	group, err := s.groups.CreateGroup(req.Name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, groupResponse{GroupID: group.ID, Name: group.Name})
}

func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	err := s.groups.AddMember(chi.URLParam(r, "groupID"), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	err := s.groups.RemoveMember(chi.URLParam(r, "groupID"), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperrors.ErrRecipientUnknown),
		errors.Is(err, apperrors.ErrGroupUnknown),
		errors.Is(err, apperrors.ErrNotMember):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, apperrors.ErrInvalidToken):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
