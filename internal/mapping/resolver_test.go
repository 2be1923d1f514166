package mapping

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/lremane/gitlab-2-forge-migration/internal/forgejo"
	"github.com/lremane/gitlab-2-forge-migration/internal/gitlab"
	"github.com/lremane/gitlab-2-forge-migration/internal/ledger"
	"github.com/lremane/gitlab-2-forge-migration/internal/migrationerrors"
	"github.com/lremane/gitlab-2-forge-migration/internal/restclient"
)

type stubSourceDirectory struct {
	users map[int64]gitlab.User
	calls int
}

func (directory *stubSourceDirectory) GetUser(_ context.Context, userID int64) (gitlab.User, error) {
	directory.calls++
	user, found := directory.users[userID]
	if !found {
		return gitlab.User{}, restclient.ResponseError{StatusCode: http.StatusNotFound}
	}
	return user, nil
}

type stubTargetDirectory struct {
	users       []forgejo.User
	created     []forgejo.CreateUserOption
	listCalls   int
	nextID      int64
	createError error
}

func (directory *stubTargetDirectory) ListUsers(context.Context) ([]forgejo.User, error) {
	directory.listCalls++
	return append([]forgejo.User{}, directory.users...), nil
}

func (directory *stubTargetDirectory) GetUser(_ context.Context, login string) (forgejo.User, bool, error) {
	for _, user := range directory.users {
		if user.Login == login {
			return user, true, nil
		}
	}
	return forgejo.User{}, false, nil
}

func (directory *stubTargetDirectory) CreateUser(_ context.Context, option forgejo.CreateUserOption) (forgejo.User, error) {
	if directory.createError != nil {
		return forgejo.User{}, directory.createError
	}
	directory.nextID++
	directory.created = append(directory.created, option)
	createdUser := forgejo.User{ID: 1000 + directory.nextID, Login: option.Username, Email: option.Email}
	directory.users = append(directory.users, createdUser)
	return createdUser, nil
}

func newTestResolver(testInstance *testing.T, source *stubSourceDirectory, target *stubTargetDirectory, logger *zap.Logger) (*UserResolver, *ledger.Store) {
	testInstance.Helper()
	store, openError := ledger.Open(context.Background(), filepath.Join(testInstance.TempDir(), "ledger.db"))
	require.NoError(testInstance, openError)
	testInstance.Cleanup(func() { _ = store.Close() })

	resolver, resolverError := NewUserResolver(UserResolverDependencies{
		Source:            source,
		Target:            target,
		Store:             store,
		Logger:            logger,
		PasswordGenerator: func() (string, error) { return "Tmp1!0123456789", nil },
	})
	require.NoError(testInstance, resolverError)
	return resolver, store
}

func TestNewUserResolverRequiresCollaborators(testInstance *testing.T) {
	_, resolverError := NewUserResolver(UserResolverDependencies{})
	require.ErrorIs(testInstance, resolverError, ErrUserResolverNotConfigured)
}

func TestResolveMatchesTargetByNormalizedEmail(testInstance *testing.T) {
	source := &stubSourceDirectory{users: map[int64]gitlab.User{1: {ID: 1, Username: "alice", Email: " Alice@Example.com"}}}
	target := &stubTargetDirectory{users: []forgejo.User{{ID: 50, Login: "alice.w", Email: "alice@example.com"}}}
	resolver, _ := newTestResolver(testInstance, source, target, nil)

	mapping, resolveError := resolver.Resolve(context.Background(), gitlab.UserReference{ID: 1, Username: "alice"})
	require.NoError(testInstance, resolveError)
	require.Equal(testInstance, "alice.w", mapping.TargetUsername)
	require.Empty(testInstance, target.created)

	again, againError := resolver.Resolve(context.Background(), gitlab.UserReference{ID: 1, Username: "alice"})
	require.NoError(testInstance, againError)
	require.Equal(testInstance, mapping.TargetUserID, again.TargetUserID)
	require.Equal(testInstance, 1, source.calls)
}

func TestResolveConsolidatesEqualEmails(testInstance *testing.T) {
	source := &stubSourceDirectory{users: map[int64]gitlab.User{
		1: {ID: 1, Username: "alice", Email: "alice@example.com"},
		2: {ID: 2, Username: "alice-old", Email: "ALICE@example.com"},
	}}
	target := &stubTargetDirectory{}
	observerCore, observedLogs := observer.New(zapcore.WarnLevel)
	resolver, store := newTestResolver(testInstance, source, target, zap.New(observerCore))

	first, firstError := resolver.Resolve(context.Background(), gitlab.UserReference{ID: 1})
	require.NoError(testInstance, firstError)
	second, secondError := resolver.Resolve(context.Background(), gitlab.UserReference{ID: 2})
	require.NoError(testInstance, secondError)

	require.Equal(testInstance, first.TargetUserID, second.TargetUserID)
	require.True(testInstance, second.Collision)
	require.Len(testInstance, target.created, 1)
	require.Equal(testInstance, 1, observedLogs.Len())

	stored, found, loadError := store.UserMapping(context.Background(), 2)
	require.NoError(testInstance, loadError)
	require.True(testInstance, found)
	require.True(testInstance, stored.Collision)
}

func TestResolveRefusesUsernameCollision(testInstance *testing.T) {
	source := &stubSourceDirectory{users: map[int64]gitlab.User{
		1: {ID: 1, Username: "sam", Email: "sam@one.example"},
		2: {ID: 2, Username: "sam", Email: "sam@two.example"},
	}}
	target := &stubTargetDirectory{users: []forgejo.User{{ID: 60, Login: "sam", Email: "sam@elsewhere.example"}}}
	resolver, _ := newTestResolver(testInstance, source, target, nil)

	_, firstError := resolver.Resolve(context.Background(), gitlab.UserReference{ID: 1})
	require.NoError(testInstance, firstError)

	_, secondError := resolver.Resolve(context.Background(), gitlab.UserReference{ID: 2})
	var mappingError migrationerrors.MappingError
	require.True(testInstance, errors.As(secondError, &mappingError))
}

func TestResolveCreatesMissingAccount(testInstance *testing.T) {
	source := &stubSourceDirectory{users: map[int64]gitlab.User{3: {ID: 3, Username: "dave", Name: "Dave"}}}
	target := &stubTargetDirectory{}
	resolver, _ := newTestResolver(testInstance, source, target, nil)

	login, resolveError := resolver.ResolveLogin(context.Background(), gitlab.UserReference{ID: 3})
	require.NoError(testInstance, resolveError)
	require.Equal(testInstance, "dave", login)
	require.Len(testInstance, target.created, 1)
	require.Equal(testInstance, "dave@noemail-git.local", target.created[0].Email)
	require.Equal(testInstance, "Tmp1!0123456789", target.created[0].Password)
}

func TestResolveUnknownSourceAccount(testInstance *testing.T) {
	resolver, _ := newTestResolver(testInstance, &stubSourceDirectory{}, &stubTargetDirectory{}, nil)

	_, resolveError := resolver.Resolve(context.Background(), gitlab.UserReference{ID: 404, Username: "ghost"})
	var mappingError migrationerrors.MappingError
	require.True(testInstance, errors.As(resolveError, &mappingError))
	require.Equal(testInstance, "ghost", mappingError.Reference)
}

func TestUsersTable(testInstance *testing.T) {
	table := UsersTable([]ledger.UserMapping{{SourceUserID: 1, TargetUsername: "alice"}})
	require.Equal(testInstance, "alice", table[1])
}

func TestResolveCreatesAccountWithNotification(testInstance *testing.T) {
	store, openError := ledger.Open(context.Background(), filepath.Join(testInstance.TempDir(), "ledger.db"))
	require.NoError(testInstance, openError)
	testInstance.Cleanup(func() { _ = store.Close() })
	source := &stubSourceDirectory{users: map[int64]gitlab.User{3: {ID: 3, Username: "dave", Email: "dave@example.com"}}}
	target := &stubTargetDirectory{}
	resolver, resolverError := NewUserResolver(UserResolverDependencies{
		Source:            source,
		Target:            target,
		Store:             store,
		SendNotify:        true,
		PasswordGenerator: func() (string, error) { return "Tmp1!0123456789", nil },
	})
	require.NoError(testInstance, resolverError)

	_, resolveError := resolver.ResolveLogin(context.Background(), gitlab.UserReference{ID: 3})
	require.NoError(testInstance, resolveError)
	require.Len(testInstance, target.created, 1)
	require.True(testInstance, target.created[0].SendNotify)
}
