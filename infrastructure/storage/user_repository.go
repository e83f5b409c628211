package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"chat-hub/domain"
)

// UserRepository persists users in BadgerDB and keeps a Bluge index of
// display names for search. Badger stays authoritative; search hits are
// resolved back through it.
type UserRepository struct {
	db          *badger.DB
	index       *bluge.Writer
	log         *slog.Logger
	searchLimit int
}

func NewUserRepository(db *badger.DB, index *bluge.Writer, log *slog.Logger, searchLimit int) *UserRepository {
	return &UserRepository{db: db, index: index, log: log, searchLimit: searchLimit}
}

type storedUser struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

func userKey(id string) []byte {
	return []byte("user:" + id)
}

// CreateUser assigns a fresh identity, persists the user and indexes
// the display name. Duplicate display names are allowed.
func (u *UserRepository) CreateUser(displayName string) (domain.User, error) {
	user := domain.User{
		ID:          uuid.NewString(),
		DisplayName: displayName,
		CreatedAt:   time.Now().UTC(),
	}

	data, err := json.Marshal(storedUser{
		ID:          user.ID,
		DisplayName: user.DisplayName,
		CreatedAt:   user.CreatedAt,
	})
	if err != nil {
		return domain.User{}, err
	}

	err = u.db.Update(func(txn *badger.Txn) error {
		return txn.Set(userKey(user.ID), data)
	})
	if err != nil {
		return domain.User{}, fmt.Errorf("store user: %w", err)
	}

	doc := bluge.NewDocument(user.ID)
	doc.AddField(bluge.NewTextField("display_name", displayName).StoreValue())
	if err := u.index.Update(doc.ID(), doc); err != nil {
		return domain.User{}, fmt.Errorf("index user: %w", err)
	}

	return user, nil
}

// Exists backs the hub's RecipientUnknown check for direct sends.
func (u *UserRepository) Exists(userID string) (bool, error) {
	err := u.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(userKey(userID))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (u *UserRepository) Get(userID string) (domain.User, error) {
	var stored storedUser
	err := u.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(userKey(userID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &stored)
		})
	})
	if err != nil {
		return domain.User{}, err
	}
	return domain.User{
		ID:          stored.ID,
		DisplayName: stored.DisplayName,
		CreatedAt:   stored.CreatedAt,
	}, nil
}

// SearchUsers matches display names through the Bluge index and
// resolves each hit against Badger.
func (u *UserRepository) SearchUsers(ctx context.Context, query string) ([]domain.User, error) {
	reader, err := u.index.Reader()
	if err != nil {
		return nil, fmt.Errorf("index reader: %w", err)
	}
	defer reader.Close()

	q := bluge.NewMatchQuery(query).SetField("display_name")
	request := bluge.NewTopNSearch(u.searchLimit, q)

	iterator, err := reader.Search(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	var users []domain.User
	match, err := iterator.Next()
	for err == nil && match != nil {
		var id string
		visitErr := match.VisitStoredFields(func(field string, value []byte) bool {
			if field == "_id" {
				id = string(value)
			}
			return true
		})
		if visitErr != nil {
			return nil, visitErr
		}

		user, getErr := u.Get(id)
		if getErr != nil {
			// Index can be ahead of a deleted user; skip the hit.
			u.log.Warn("search hit without stored user", "user_id", id)
		} else {
			users = append(users, user)
		}
		match, err = iterator.Next()
	}
	if err != nil {
		return nil, err
	}
	return users, nil
}
