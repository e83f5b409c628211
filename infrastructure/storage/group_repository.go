package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"chat-hub/domain"
	apperrors "chat-hub/errors"
)

// GroupRepository stores group membership in BadgerDB and implements
// the hub's GroupDirectory. One document per group; membership updates
// are read-modify-write inside a serializable Update transaction.
type GroupRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewGroupRepository(db *badger.DB, log *slog.Logger) *GroupRepository {
	return &GroupRepository{db: db, log: log}
}

type storedGroup struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Members   []string  `json:"members"`
	CreatedAt time.Time `json:"created_at"`
}

func groupKey(id string) []byte {
	return []byte("group:" + id)
}

func (g *GroupRepository) CreateGroup(name string) (domain.Group, error) {
	group := domain.Group{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}

	data, err := json.Marshal(storedGroup{
		ID:        group.ID,
		Name:      group.Name,
		Members:   []string{},
		CreatedAt: group.CreatedAt,
	})
	if err != nil {
		return domain.Group{}, err
	}

	err = g.db.Update(func(txn *badger.Txn) error {
		return txn.Set(groupKey(group.ID), data)
	})
	if err != nil {
		return domain.Group{}, fmt.Errorf("store group: %w", err)
	}
	return group, nil
}

func (g *GroupRepository) AddMember(groupID, userID string) error {
	return g.db.Update(func(txn *badger.Txn) error {
		stored, err := g.getGroup(txn, groupID)
		if err != nil {
			return err
		}
		if lo.Contains(stored.Members, userID) {
			return nil
		}
		stored.Members = append(stored.Members, userID)
		return putGroup(txn, stored)
	})
}

func (g *GroupRepository) RemoveMember(groupID, userID string) error {
	return g.db.Update(func(txn *badger.Txn) error {
		stored, err := g.getGroup(txn, groupID)
		if err != nil {
			return err
		}
		if !lo.Contains(stored.Members, userID) {
			return apperrors.ErrNotMember
		}
		stored.Members = lo.Without(stored.Members, userID)
		return putGroup(txn, stored)
	})
}

// MembersOf returns the current member set. The hub resolves this at
// fan-out time and re-checks it before queued group replays.
func (g *GroupRepository) MembersOf(groupID string) ([]string, error) {
	var members []string
	err := g.db.View(func(txn *badger.Txn) error {
		stored, err := g.getGroup(txn, groupID)
		if err != nil {
			return err
		}
		members = append([]string(nil), stored.Members...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return members, nil
}

func (g *GroupRepository) IsMember(groupID, userID string) (bool, error) {
	members, err := g.MembersOf(groupID)
	if err != nil {
		return false, err
	}
	return lo.Contains(members, userID), nil
}

func (g *GroupRepository) getGroup(txn *badger.Txn, groupID string) (storedGroup, error) {
	item, err := txn.Get(groupKey(groupID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return storedGroup{}, fmt.Errorf("%w: %s", apperrors.ErrGroupUnknown, groupID)
	}
	if err != nil {
		return storedGroup{}, err
	}

	var stored storedGroup
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &stored)
	})
	return stored, err
}

func putGroup(txn *badger.Txn, stored storedGroup) error {
	data, err := json.Marshal(stored)
	if err != nil {
		return err
	}
	return txn.Set(groupKey(stored.ID), data)
}
