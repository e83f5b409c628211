package storage

import (
	"log/slog"
	"testing"

	"github.com/mama165/sdk-go/database"
	"github.com/stretchr/testify/require"

	apperrors "chat-hub/errors"
)

func TestGroupRepository_MembershipLifecycle(t *testing.T) {
	req := require.New(t)
	_, _, badgerDB, blugeWriter, err := database.SetupBenchmark(database.DefaultPath)
	req.NoError(err)
	defer database.CleanupDB(badgerDB, blugeWriter)

	repository := NewGroupRepository(badgerDB, slog.Default())

	group, err := repository.CreateGroup("team")
	req.NoError(err)
	req.NotEmpty(group.ID)

	req.NoError(repository.AddMember(group.ID, "alice"))
	req.NoError(repository.AddMember(group.ID, "bob"))

	// Adding twice is idempotent
	req.NoError(repository.AddMember(group.ID, "alice"))

	members, err := repository.MembersOf(group.ID)
	req.NoError(err)
	req.ElementsMatch([]string{"alice", "bob"}, members)

	isMember, err := repository.IsMember(group.ID, "alice")
	req.NoError(err)
	req.True(isMember)

	// When alice leaves
	req.NoError(repository.RemoveMember(group.ID, "alice"))

	isMember, err = repository.IsMember(group.ID, "alice")
	req.NoError(err)
	req.False(isMember)

	members, err = repository.MembersOf(group.ID)
	req.NoError(err)
	req.Equal([]string{"bob"}, members)
}

func TestGroupRepository_RemoveNonMember(t *testing.T) {
	req := require.New(t)
	_, _, badgerDB, blugeWriter, err := database.SetupBenchmark(database.DefaultPath)
	req.NoError(err)
	defer database.CleanupDB(badgerDB, blugeWriter)

	repository := NewGroupRepository(badgerDB, slog.Default())

	group, err := repository.CreateGroup("team")
	req.NoError(err)

	err = repository.RemoveMember(group.ID, "stranger")
	req.ErrorIs(err, apperrors.ErrNotMember)
}

func TestGroupRepository_UnknownGroup(t *testing.T) {
	req := require.New(t)
	_, _, badgerDB, blugeWriter, err := database.SetupBenchmark(database.DefaultPath)
	req.NoError(err)
	defer database.CleanupDB(badgerDB, blugeWriter)

	repository := NewGroupRepository(badgerDB, slog.Default())

	_, err = repository.MembersOf("no-such-group")
	req.ErrorIs(err, apperrors.ErrGroupUnknown)

	err = repository.AddMember("no-such-group", "alice")
	req.ErrorIs(err, apperrors.ErrGroupUnknown)
}
