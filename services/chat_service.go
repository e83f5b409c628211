package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/abadojack/whatlanggo"
	"github.com/go-playground/validator/v10"

	"chat-hub/auth"
	"chat-hub/contract"
	"chat-hub/domain"
	"chat-hub/hub"
	"chat-hub/infrastructure/storage"
	"chat-hub/moderation"
)

type IChatService interface {
	RegisterUser(cmd domain.RegisterUserCommand) (domain.User, string, error)
	SearchUsers(ctx context.Context, query string) ([]domain.User, error)
	Connect(token string, ch contract.Channel) (string, error)
	Disconnect(userID string, ch contract.Channel)
	SendDirect(cmd domain.SendCommand) (domain.Ack, error)
	SendGroup(cmd domain.SendCommand) (domain.Ack, error)
}

// ChatService sits between the transport layer and the hub: it
// validates commands, authenticates connecting sessions and sanitizes
// message bodies before the hub routes them.
type ChatService struct {
	log           *slog.Logger
	hub           *hub.Hub
	users         *storage.UserRepository
	moderator     moderation.Moderator
	validate      *validator.Validate
	tokenDuration time.Duration
}

func NewChatService(log *slog.Logger, h *hub.Hub, users *storage.UserRepository,
	moderator moderation.Moderator, tokenDuration time.Duration) *ChatService {
	return &ChatService{
		log:           log,
		hub:           h,
		users:         users,
		moderator:     moderator,
		validate:      validator.New(),
		tokenDuration: tokenDuration,
	}
}

// RegisterUser creates the user and hands back the token the client
// must present when opening its stream.
func (s *ChatService) RegisterUser(cmd domain.RegisterUserCommand) (domain.User, string, error) {
	if err := s.validate.Struct(cmd); err != nil {
		return domain.User{}, "", err
	}

	user, err := s.users.CreateUser(cmd.DisplayName)
	if err != nil {
		return domain.User{}, "", err
	}

	token, err := auth.GenerateToken(user.ID, s.tokenDuration)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("generate token: %w", err)
	}
	return user, token, nil
}

func (s *ChatService) SearchUsers(ctx context.Context, query string) ([]domain.User, error) {
	return s.users.SearchUsers(ctx, query)
}

// Connect covers the transient connecting state: the token is
// validated before the session registers, then the hub replays any
// queued messages before Connect returns.
func (s *ChatService) Connect(token string, ch contract.Channel) (string, error) {
	claims, err := auth.ValidateToken(token)
	if err != nil {
		return "", err
	}
	s.hub.Connect(claims.UserID, ch)
	return claims.UserID, nil
}

func (s *ChatService) Disconnect(userID string, ch contract.Channel) {
	s.hub.Disconnect(userID, ch)
}

func (s *ChatService) SendDirect(cmd domain.SendCommand) (domain.Ack, error) {
	if err := s.validate.Struct(cmd); err != nil {
		return domain.Ack{}, err
	}
	return s.hub.SendDirect(cmd.SenderID, cmd.TargetID, s.sanitize(cmd))
}

func (s *ChatService) SendGroup(cmd domain.SendCommand) (domain.Ack, error) {
	if err := s.validate.Struct(cmd); err != nil {
		return domain.Ack{}, err
	}
	return s.hub.SendGroup(cmd.SenderID, cmd.TargetID, s.sanitize(cmd))
}

func (s *ChatService) sanitize(cmd domain.SendCommand) string {
	sanitized, found := s.moderator.Censor(cmd.Body)
	if len(found) > 0 {
		info := whatlanggo.Detect(cmd.Body)
		s.log.Warn("censored message content",
			"sender_id", cmd.SenderID,
			"lang", info.Lang.Iso6391(),
			"words", len(found))
	}
	return sanitized
}
