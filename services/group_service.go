package services

import (
	"log/slog"

	"chat-hub/domain"
	apperrors "chat-hub/errors"
	"chat-hub/infrastructure/storage"
)

type IGroupService interface {
	CreateGroup(name string) (domain.Group, error)
	AddMember(groupID, userID string) error
	RemoveMember(groupID, userID string) error
	MembersOf(groupID string) ([]string, error)
}

type GroupService struct {
	log    *slog.Logger
	groups *storage.GroupRepository
	users  *storage.UserRepository
}

func NewGroupService(log *slog.Logger, groups *storage.GroupRepository,
	users *storage.UserRepository) *GroupService {
	return &GroupService{log: log, groups: groups, users: users}
}

func (s *GroupService) CreateGroup(name string) (domain.Group, error) {
	return s.groups.CreateGroup(name)
}

// AddMember refuses unknown users so a group never accumulates members
// that can't be routed to.
func (s *GroupService) AddMember(groupID, userID string) error {
	known, err := s.users.Exists(userID)
	if err != nil {
		return err
	}
	if !known {
		return apperrors.ErrRecipientUnknown
	}
	return s.groups.AddMember(groupID, userID)
}

func (s *GroupService) RemoveMember(groupID, userID string) error {
	return s.groups.RemoveMember(groupID, userID)
}

func (s *GroupService) MembersOf(groupID string) ([]string, error) {
	return s.groups.MembersOf(groupID)
}
