package mapping

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/lremane/gitlab-2-forge-migration/internal/forgejo"
	"github.com/lremane/gitlab-2-forge-migration/internal/gitlab"
	"github.com/lremane/gitlab-2-forge-migration/internal/ledger"
	"github.com/lremane/gitlab-2-forge-migration/internal/migrationerrors"
	"github.com/lremane/gitlab-2-forge-migration/internal/restclient"
)

const (
	temporaryPasswordPrefixConstant       = "Tmp1!"
	temporaryPasswordRandomLengthConstant = 10
	temporaryPasswordAlphabetConstant     = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	resolverLogFieldSourceUserConstant    = "source_user"
	resolverLogFieldSourceIDConstant      = "source_id"
	resolverLogFieldTargetUserConstant    = "target_user"
	resolverLogFieldEmailConstant         = "email"
	resolverLogFieldMatchConstant         = "match"
	resolverMatchLedgerConstant           = "ledger_email"
	resolverMatchTargetEmailConstant      = "target_email"
	resolverMatchTargetUsernameConstant   = "target_username"
	resolverMatchCreatedConstant          = "created"
	resolverConsolidatedMessageConstant   = "consolidated source accounts sharing an email address"
	resolverMappedMessageConstant         = "mapped source account"
	resolverRejectedMessageConstant       = "refused to merge source accounts onto one target account"
	resolverCollisionMessageConstant      = "target account already mapped to a source account with a different email"
	resolverUnknownSourceMessageConstant  = "source account no longer exists"
	resolverMappingKindConstant           = "user"
	resolverMappingFieldConstant          = "identity"
	resolveSourceUserErrorTemplate        = "load source user %d: %w"
	resolveLedgerErrorTemplate            = "consult user mappings for %d: %w"
	resolveTargetErrorTemplate            = "look up target user for %s: %w"
	resolveCreateErrorTemplate            = "create target user %s: %w"
	resolvePasswordErrorTemplate          = "generate temporary password: %w"
)

// ErrUserResolverNotConfigured indicates a resolver built without its collaborators.
var ErrUserResolverNotConfigured = errors.New("user resolver not configured")

// SourceUserDirectory exposes the source accounts.
type SourceUserDirectory interface {
	GetUser(executionContext context.Context, userID int64) (gitlab.User, error)
}

// TargetUserDirectory exposes and creates target accounts.
type TargetUserDirectory interface {
	ListUsers(executionContext context.Context) ([]forgejo.User, error)
	GetUser(executionContext context.Context, login string) (forgejo.User, bool, error)
	CreateUser(executionContext context.Context, option forgejo.CreateUserOption) (forgejo.User, error)
}

// UserMappingStore persists user mappings.
type UserMappingStore interface {
	UserMapping(executionContext context.Context, sourceUserID int64) (ledger.UserMapping, bool, error)
	UserMappingsByEmail(executionContext context.Context, normalizedEmail string) ([]ledger.UserMapping, error)
	UserMappingsByTarget(executionContext context.Context, targetUsername string) ([]ledger.UserMapping, error)
	SaveUserMapping(executionContext context.Context, mapping ledger.UserMapping) error
}

// PasswordGenerator produces the temporary password of created accounts.
type PasswordGenerator func() (string, error)

// UserResolverDependencies wires the collaborators of UserResolver.
type UserResolverDependencies struct {
	Source              SourceUserDirectory
	Target              TargetUserDirectory
	Store               UserMappingStore
	Logger              *zap.Logger
	FallbackEmailDomain string
	SendNotify          bool
	PasswordGenerator   PasswordGenerator
}

// UserResolver maps source accounts to target accounts, creating missing ones.
// Two source accounts with the same normalized email resolve to the same target
// account and the later mapping is flagged as a collision.
type UserResolver struct {
	source              SourceUserDirectory
	target              TargetUserDirectory
	store               UserMappingStore
	logger              *zap.Logger
	fallbackEmailDomain string
	sendNotify          bool
	passwordGenerator   PasswordGenerator

	mutex             sync.Mutex
	targetEmailIndex  map[string]forgejo.User
	targetIndexLoaded bool
}

// NewUserResolver constructs a resolver.
func NewUserResolver(dependencies UserResolverDependencies) (*UserResolver, error) {
	if dependencies.Source == nil || dependencies.Target == nil || dependencies.Store == nil {
		return nil, ErrUserResolverNotConfigured
	}
	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	passwordGenerator := dependencies.PasswordGenerator
	if passwordGenerator == nil {
		passwordGenerator = TemporaryPassword
	}
	return &UserResolver{
		source:              dependencies.Source,
		target:              dependencies.Target,
		store:               dependencies.Store,
		logger:              logger,
		fallbackEmailDomain: dependencies.FallbackEmailDomain,
		sendNotify:          dependencies.SendNotify,
		passwordGenerator:   passwordGenerator,
	}, nil
}

// Resolve returns the mapping of a source account. An account that cannot be
// mapped yields a MappingError; infrastructure failures are returned as is.
func (resolver *UserResolver) Resolve(executionContext context.Context, reference gitlab.UserReference) (ledger.UserMapping, error) {
	resolver.mutex.Lock()
	defer resolver.mutex.Unlock()

	existingMapping, found, lookupError := resolver.store.UserMapping(executionContext, reference.ID)
	if lookupError != nil {
		return ledger.UserMapping{}, fmt.Errorf(resolveLedgerErrorTemplate, reference.ID, lookupError)
	}
	if found {
		return existingMapping, nil
	}

	sourceUser, sourceError := resolver.source.GetUser(executionContext, reference.ID)
	if sourceError != nil {
		if restclient.IsNotFound(sourceError) {
			return ledger.UserMapping{}, migrationerrors.MappingError{
				Kind:      resolverMappingKindConstant,
				Reference: reference.Username,
				Field:     resolverMappingFieldConstant,
				Message:   resolverUnknownSourceMessageConstant,
			}
		}
		return ledger.UserMapping{}, fmt.Errorf(resolveSourceUserErrorTemplate, reference.ID, sourceError)
	}
	normalizedEmail := NormalizeEmail(sourceUser.ResolvedEmail())

	if len(normalizedEmail) > 0 {
		sharedMappings, sharedError := resolver.store.UserMappingsByEmail(executionContext, normalizedEmail)
		if sharedError != nil {
			return ledger.UserMapping{}, fmt.Errorf(resolveLedgerErrorTemplate, reference.ID, sharedError)
		}
		if len(sharedMappings) > 0 {
			consolidated := ledger.UserMapping{
				SourceUserID:    sourceUser.ID,
				SourceUsername:  sourceUser.Username,
				NormalizedEmail: normalizedEmail,
				TargetUserID:    sharedMappings[0].TargetUserID,
				TargetUsername:  sharedMappings[0].TargetUsername,
				Collision:       true,
			}
			resolver.logger.Warn(resolverConsolidatedMessageConstant,
				zap.String(resolverLogFieldSourceUserConstant, sourceUser.Username),
				zap.Int64(resolverLogFieldSourceIDConstant, sourceUser.ID),
				zap.String(resolverLogFieldTargetUserConstant, consolidated.TargetUsername),
				zap.String(resolverLogFieldEmailConstant, normalizedEmail),
			)
			return consolidated, resolver.save(executionContext, consolidated, resolverMatchLedgerConstant)
		}
	}

	targetUser, matchKind, targetError := resolver.findTarget(executionContext, sourceUser, normalizedEmail)
	if targetError != nil {
		return ledger.UserMapping{}, targetError
	}

	if len(matchKind) > 0 {
		if collisionError := resolver.rejectForeignMapping(executionContext, sourceUser, normalizedEmail, targetUser); collisionError != nil {
			return ledger.UserMapping{}, collisionError
		}
	} else {
		createdUser, createError := resolver.create(executionContext, sourceUser)
		if createError != nil {
			return ledger.UserMapping{}, createError
		}
		targetUser = createdUser
		matchKind = resolverMatchCreatedConstant
	}

	mapping := ledger.UserMapping{
		SourceUserID:    sourceUser.ID,
		SourceUsername:  sourceUser.Username,
		NormalizedEmail: normalizedEmail,
		TargetUserID:    targetUser.ID,
		TargetUsername:  targetUser.Login,
	}
	return mapping, resolver.save(executionContext, mapping, matchKind)
}

// ResolveLogin resolves a source account and returns only the target login.
func (resolver *UserResolver) ResolveLogin(executionContext context.Context, reference gitlab.UserReference) (string, error) {
	mapping, resolveError := resolver.Resolve(executionContext, reference)
	if resolveError != nil {
		return "", resolveError
	}
	return mapping.TargetUsername, nil
}

func (resolver *UserResolver) findTarget(executionContext context.Context, sourceUser gitlab.User, normalizedEmail string) (forgejo.User, string, error) {
	if len(normalizedEmail) > 0 {
		if indexError := resolver.loadTargetIndex(executionContext); indexError != nil {
			return forgejo.User{}, "", fmt.Errorf(resolveTargetErrorTemplate, sourceUser.Username, indexError)
		}
		if targetUser, found := resolver.targetEmailIndex[normalizedEmail]; found {
			return targetUser, resolverMatchTargetEmailConstant, nil
		}
	}

	targetUser, found, lookupError := resolver.target.GetUser(executionContext, CleanName(sourceUser.Username))
	if lookupError != nil {
		return forgejo.User{}, "", fmt.Errorf(resolveTargetErrorTemplate, sourceUser.Username, lookupError)
	}
	if found {
		return targetUser, resolverMatchTargetUsernameConstant, nil
	}
	return forgejo.User{}, "", nil
}

func (resolver *UserResolver) rejectForeignMapping(executionContext context.Context, sourceUser gitlab.User, normalizedEmail string, targetUser forgejo.User) error {
	existingMappings, lookupError := resolver.store.UserMappingsByTarget(executionContext, targetUser.Login)
	if lookupError != nil {
		return fmt.Errorf(resolveLedgerErrorTemplate, sourceUser.ID, lookupError)
	}
	for _, existingMapping := range existingMappings {
		if existingMapping.SourceUserID == sourceUser.ID || (len(normalizedEmail) > 0 && existingMapping.NormalizedEmail == normalizedEmail) {
			continue
		}
		resolver.logger.Warn(resolverRejectedMessageConstant,
			zap.String(resolverLogFieldSourceUserConstant, sourceUser.Username),
			zap.Int64(resolverLogFieldSourceIDConstant, sourceUser.ID),
			zap.String(resolverLogFieldTargetUserConstant, targetUser.Login),
		)
		return migrationerrors.MappingError{
			Kind:      resolverMappingKindConstant,
			Reference: sourceUser.Username,
			Field:     resolverMappingFieldConstant,
			Message:   resolverCollisionMessageConstant,
		}
	}
	return nil
}

func (resolver *UserResolver) create(executionContext context.Context, sourceUser gitlab.User) (forgejo.User, error) {
	password, passwordError := resolver.passwordGenerator()
	if passwordError != nil {
		return forgejo.User{}, fmt.Errorf(resolvePasswordErrorTemplate, passwordError)
	}
	option := MapUser(sourceUser, password, resolver.fallbackEmailDomain, resolver.sendNotify)
	createdUser, createError := resolver.target.CreateUser(executionContext, option)
	if createError != nil {
		if !restclient.IsAlreadyExists(createError) {
			return forgejo.User{}, fmt.Errorf(resolveCreateErrorTemplate, option.Username, createError)
		}
		existingUser, found, lookupError := resolver.target.GetUser(executionContext, option.Username)
		if lookupError != nil || !found {
			return forgejo.User{}, fmt.Errorf(resolveCreateErrorTemplate, option.Username, createError)
		}
		createdUser = existingUser
	}
	if resolver.targetEmailIndex != nil {
		resolver.targetEmailIndex[NormalizeEmail(createdUser.Email)] = createdUser
	}
	return createdUser, nil
}

func (resolver *UserResolver) loadTargetIndex(executionContext context.Context) error {
	if resolver.targetIndexLoaded {
		return nil
	}
	targetUsers, listError := resolver.target.ListUsers(executionContext)
	if listError != nil {
		return listError
	}
	resolver.targetEmailIndex = make(map[string]forgejo.User, len(targetUsers))
	for _, targetUser := range targetUsers {
		normalizedEmail := NormalizeEmail(targetUser.Email)
		if len(normalizedEmail) == 0 {
			continue
		}
		if _, exists := resolver.targetEmailIndex[normalizedEmail]; !exists {
			resolver.targetEmailIndex[normalizedEmail] = targetUser
		}
	}
	resolver.targetIndexLoaded = true
	return nil
}

func (resolver *UserResolver) save(executionContext context.Context, mapping ledger.UserMapping, matchKind string) error {
	if saveError := resolver.store.SaveUserMapping(executionContext, mapping); saveError != nil {
		return fmt.Errorf(resolveLedgerErrorTemplate, mapping.SourceUserID, saveError)
	}
	resolver.logger.Info(resolverMappedMessageConstant,
		zap.String(resolverLogFieldSourceUserConstant, mapping.SourceUsername),
		zap.Int64(resolverLogFieldSourceIDConstant, mapping.SourceUserID),
		zap.String(resolverLogFieldTargetUserConstant, mapping.TargetUsername),
		zap.String(resolverLogFieldMatchConstant, matchKind),
	)
	return nil
}

// TemporaryPassword returns Tmp1! followed by ten random alphanumerics.
func TemporaryPassword() (string, error) {
	var passwordBuilder strings.Builder
	passwordBuilder.WriteString(temporaryPasswordPrefixConstant)
	alphabetSize := big.NewInt(int64(len(temporaryPasswordAlphabetConstant)))
	for characterIndex := 0; characterIndex < temporaryPasswordRandomLengthConstant; characterIndex++ {
		position, randomError := rand.Int(rand.Reader, alphabetSize)
		if randomError != nil {
			return "", randomError
		}
		passwordBuilder.WriteByte(temporaryPasswordAlphabetConstant[position.Int64()])
	}
	return passwordBuilder.String(), nil
}

// UsersTable collects resolved logins keyed by source user identifier.
func UsersTable(mappings []ledger.UserMapping) map[int64]string {
	table := make(map[int64]string, len(mappings))
	for _, mapping := range mappings {
		table[mapping.SourceUserID] = mapping.TargetUsername
	}
	return table
}
