package projects

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lremane/gitlab-2-forge-migration/internal/forgejo"
	"github.com/lremane/gitlab-2-forge-migration/internal/gitlab"
	"github.com/lremane/gitlab-2-forge-migration/internal/inventory"
	"github.com/lremane/gitlab-2-forge-migration/internal/ledger"
	"github.com/lremane/gitlab-2-forge-migration/internal/migrationerrors"
	"github.com/lremane/gitlab-2-forge-migration/internal/restclient"
)

const (
	testForgeRootConstant  = "https://forge.example.com/"
	testSourceRootConstant = "https://gitlab.example.com/"
)

type fakeSource struct {
	projects      map[int64]gitlab.Project
	users         map[string]gitlab.User
	members       map[int64][]gitlab.Member
	labels        map[int64][]gitlab.Label
	milestones    map[int64][]gitlab.Milestone
	issues        map[int64][]gitlab.Issue
	mergeRequests map[int64][]gitlab.MergeRequest
	releases      map[int64][]gitlab.Release
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		projects:      map[int64]gitlab.Project{},
		users:         map[string]gitlab.User{},
		members:       map[int64][]gitlab.Member{},
		labels:        map[int64][]gitlab.Label{},
		milestones:    map[int64][]gitlab.Milestone{},
		issues:        map[int64][]gitlab.Issue{},
		mergeRequests: map[int64][]gitlab.MergeRequest{},
		releases:      map[int64][]gitlab.Release{},
	}
}

func (source *fakeSource) addProject(projectID int64, namespace gitlab.Namespace, path string) gitlab.Project {
	project := gitlab.Project{
		ID:                projectID,
		Name:              path,
		Path:              path,
		PathWithNamespace: namespace.FullPath + "/" + path,
		DefaultBranch:     "main",
		HTTPURLToRepo:     testSourceRootConstant + namespace.FullPath + "/" + path + ".git",
		Namespace:         namespace,
		Visibility:        "private",
	}
	source.projects[projectID] = project
	return project
}

func (source *fakeSource) GetProject(_ context.Context, projectID int64) (gitlab.Project, error) {
	project, found := source.projects[projectID]
	if !found {
		return gitlab.Project{}, restclient.ResponseError{Operation: "get project", Method: http.MethodGet, StatusCode: http.StatusNotFound}
	}
	return project, nil
}

func (source *fakeSource) FindUserByUsername(_ context.Context, username string) (gitlab.User, bool, error) {
	user, found := source.users[username]
	return user, found, nil
}

func (source *fakeSource) ListProjectMembers(_ context.Context, projectID int64) ([]gitlab.Member, error) {
	return source.members[projectID], nil
}

func (source *fakeSource) ListLabels(_ context.Context, projectID int64) ([]gitlab.Label, error) {
	return source.labels[projectID], nil
}

func (source *fakeSource) ListMilestones(_ context.Context, projectID int64) ([]gitlab.Milestone, error) {
	return source.milestones[projectID], nil
}

func (source *fakeSource) ListIssues(_ context.Context, projectID int64) ([]gitlab.Issue, error) {
	return source.issues[projectID], nil
}

func (source *fakeSource) ListMergeRequests(_ context.Context, projectID int64) ([]gitlab.MergeRequest, error) {
	return source.mergeRequests[projectID], nil
}

func (source *fakeSource) ListReleases(_ context.Context, projectID int64) ([]gitlab.Release, error) {
	return source.releases[projectID], nil
}

type fakeRepository struct {
	repository    forgejo.Repository
	branches      map[string]bool
	tags          map[string]bool
	labels        []forgejo.CreateLabelOption
	milestones    []forgejo.CreateMilestoneOption
	closed        []int64
	issues        []forgejo.CreateIssueOption
	pulls         []forgejo.CreatePullRequestOption
	pullNumbers   []int64
	closedPulls   []int64
	releases      map[string]forgejo.Release
	collaborators map[string]string
}

// fakeForge keeps repositories in memory. failIssue, when set, can reject an
// issue creation before it is stored. storedPullFailures counts pull requests
// that are stored but answered with a gateway error.
type fakeForge struct {
	repositories       map[string]*fakeRepository
	nextID             int64
	createdRepos       int
	rejectAssignees    bool
	failIssue          func(executionContext context.Context, option forgejo.CreateIssueOption) error
	rejectPulls        bool
	storedPullFailures int
}

func newFakeForge() *fakeForge {
	return &fakeForge{repositories: map[string]*fakeRepository{}, nextID: 1000}
}

func repositoryKey(owner string, name string) string {
	return strings.ToLower(owner + "/" + name)
}

func (forge *fakeForge) id() int64 {
	forge.nextID++
	return forge.nextID
}

// seed stores a repository that exists on the target without this migration having created it.
func (forge *fakeForge) seed(owner string, name string, empty bool) *fakeRepository {
	repository := &fakeRepository{
		repository:    forgejo.Repository{ID: forge.id(), Name: name, FullName: owner + "/" + name, Empty: empty},
		branches:      map[string]bool{},
		tags:          map[string]bool{},
		releases:      map[string]forgejo.Release{},
		collaborators: map[string]string{},
	}
	forge.repositories[repositoryKey(owner, name)] = repository
	return repository
}

func (forge *fakeForge) get(owner string, name string) *fakeRepository {
	return forge.repositories[repositoryKey(owner, name)]
}

func (forge *fakeForge) lookup(owner string, name string) (*fakeRepository, error) {
	repository, found := forge.repositories[repositoryKey(owner, name)]
	if !found {
		return nil, restclient.ResponseError{Operation: "repository", Method: http.MethodGet, Path: owner + "/" + name, StatusCode: http.StatusNotFound}
	}
	return repository, nil
}

func (forge *fakeForge) GetRepository(_ context.Context, owner string, name string) (forgejo.Repository, bool, error) {
	repository, found := forge.repositories[repositoryKey(owner, name)]
	if !found {
		return forgejo.Repository{}, false, nil
	}
	return repository.repository, true, nil
}

func (forge *fakeForge) create(owner string, option forgejo.CreateRepositoryOption) (forgejo.Repository, error) {
	if _, exists := forge.repositories[repositoryKey(owner, option.Name)]; exists {
		return forgejo.Repository{}, restclient.ResponseError{Operation: "create repository", Method: http.MethodPost, StatusCode: http.StatusConflict}
	}
	forge.createdRepos++
	repository := forge.seed(owner, option.Name, true)
	repository.repository.Private = option.Private
	return repository.repository, nil
}

func (forge *fakeForge) CreateOrganizationRepository(_ context.Context, organization string, option forgejo.CreateRepositoryOption) (forgejo.Repository, error) {
	return forge.create(organization, option)
}

func (forge *fakeForge) CreateUserRepository(_ context.Context, login string, option forgejo.CreateRepositoryOption) (forgejo.Repository, error) {
	return forge.create(login, option)
}

func (forge *fakeForge) EditRepository(_ context.Context, owner string, name string, option forgejo.EditRepositoryOption) (forgejo.Repository, error) {
	repository, lookupError := forge.lookup(owner, name)
	if lookupError != nil {
		return forgejo.Repository{}, lookupError
	}
	if option.DefaultBranch != nil {
		repository.repository.DefaultBranch = *option.DefaultBranch
	}
	if option.Archived != nil {
		repository.repository.Archived = *option.Archived
	}
	if option.HasWiki != nil {
		repository.repository.HasWiki = *option.HasWiki
	}
	return repository.repository, nil
}

func (forge *fakeForge) BranchExists(_ context.Context, owner string, name string, branch string) (bool, error) {
	repository, lookupError := forge.lookup(owner, name)
	if lookupError != nil {
		return false, lookupError
	}
	return repository.branches[branch], nil
}

func (forge *fakeForge) TagExists(_ context.Context, owner string, name string, tag string) (bool, error) {
	repository, lookupError := forge.lookup(owner, name)
	if lookupError != nil {
		return false, lookupError
	}
	return repository.tags[tag], nil
}

func (forge *fakeForge) CreateLabel(_ context.Context, owner string, name string, option forgejo.CreateLabelOption) (forgejo.Label, error) {
	repository, lookupError := forge.lookup(owner, name)
	if lookupError != nil {
		return forgejo.Label{}, lookupError
	}
	repository.labels = append(repository.labels, option)
	return forgejo.Label{ID: forge.id(), Name: option.Name, Color: option.Color}, nil
}

func (forge *fakeForge) CreateMilestone(_ context.Context, owner string, name string, option forgejo.CreateMilestoneOption) (forgejo.Milestone, error) {
	repository, lookupError := forge.lookup(owner, name)
	if lookupError != nil {
		return forgejo.Milestone{}, lookupError
	}
	repository.milestones = append(repository.milestones, option)
	return forgejo.Milestone{ID: forge.id(), Title: option.Title, State: forgejo.StateOpen}, nil
}

func (forge *fakeForge) EditMilestoneState(_ context.Context, owner string, name string, milestoneID int64, state string) error {
	repository, lookupError := forge.lookup(owner, name)
	if lookupError != nil {
		return lookupError
	}
	if state == forgejo.StateClosed {
		repository.closed = append(repository.closed, milestoneID)
	}
	return nil
}

func (forge *fakeForge) CreateIssue(executionContext context.Context, owner string, name string, option forgejo.CreateIssueOption) (forgejo.Issue, error) {
	repository, lookupError := forge.lookup(owner, name)
	if lookupError != nil {
		return forgejo.Issue{}, lookupError
	}
	if forge.failIssue != nil {
		if failError := forge.failIssue(executionContext, option); failError != nil {
			return forgejo.Issue{}, failError
		}
	}
	if forge.rejectAssignees && len(option.Assignees) > 0 {
		return forgejo.Issue{}, restclient.ResponseError{Operation: "create issue", Method: http.MethodPost, StatusCode: http.StatusUnprocessableEntity}
	}
	repository.issues = append(repository.issues, option)
	return forgejo.Issue{ID: forge.id(), Number: int64(len(repository.issues) + len(repository.pulls)), Title: option.Title}, nil
}

func (forge *fakeForge) CreatePullRequest(_ context.Context, owner string, name string, option forgejo.CreatePullRequestOption) (forgejo.PullRequest, error) {
	repository, lookupError := forge.lookup(owner, name)
	if lookupError != nil {
		return forgejo.PullRequest{}, lookupError
	}
	conflict := restclient.ResponseError{Operation: "create pull request", Method: http.MethodPost, StatusCode: http.StatusConflict}
	if forge.rejectPulls {
		return forgejo.PullRequest{}, conflict
	}
	for index, existing := range repository.pulls {
		if existing.Head == option.Head && existing.Base == option.Base && !slices.Contains(repository.closedPulls, repository.pullNumbers[index]) {
			return forgejo.PullRequest{}, conflict
		}
	}
	repository.pulls = append(repository.pulls, option)
	number := int64(len(repository.issues) + len(repository.pulls))
	repository.pullNumbers = append(repository.pullNumbers, number)
	if forge.storedPullFailures > 0 {
		forge.storedPullFailures--
		return forgejo.PullRequest{}, migrationerrors.TransientAPIError{Operation: "create pull request", StatusCode: http.StatusBadGateway, Cause: conflict}
	}
	return forgejo.PullRequest{ID: forge.id(), Number: number, Title: option.Title}, nil
}

func (forge *fakeForge) FindOpenPullRequest(_ context.Context, owner string, name string, head string, base string, title string) (forgejo.PullRequest, bool, error) {
	repository, lookupError := forge.lookup(owner, name)
	if lookupError != nil {
		return forgejo.PullRequest{}, false, lookupError
	}
	for index, existing := range repository.pulls {
		number := repository.pullNumbers[index]
		if existing.Head != head || existing.Base != base || slices.Contains(repository.closedPulls, number) {
			continue
		}
		if len(title) == 0 || existing.Title == title {
			return forgejo.PullRequest{Number: number, Title: existing.Title, State: forgejo.StateOpen}, true, nil
		}
	}
	return forgejo.PullRequest{}, false, nil
}

func (forge *fakeForge) EditPullRequestState(_ context.Context, owner string, name string, number int64, state string) error {
	repository, lookupError := forge.lookup(owner, name)
	if lookupError != nil {
		return lookupError
	}
	if state == forgejo.StateClosed {
		repository.closedPulls = append(repository.closedPulls, number)
	}
	return nil
}

func (forge *fakeForge) GetReleaseByTag(_ context.Context, owner string, name string, tag string) (forgejo.Release, bool, error) {
	repository, lookupError := forge.lookup(owner, name)
	if lookupError != nil {
		return forgejo.Release{}, false, lookupError
	}
	release, found := repository.releases[tag]
	return release, found, nil
}

func (forge *fakeForge) CreateRelease(_ context.Context, owner string, name string, option forgejo.CreateReleaseOption) (forgejo.Release, error) {
	repository, lookupError := forge.lookup(owner, name)
	if lookupError != nil {
		return forgejo.Release{}, lookupError
	}
	release := forgejo.Release{ID: forge.id(), TagName: option.TagName, Name: option.Title}
	repository.releases[option.TagName] = release
	return release, nil
}

func (forge *fakeForge) IsCollaborator(_ context.Context, owner string, name string, login string) (bool, error) {
	repository, lookupError := forge.lookup(owner, name)
	if lookupError != nil {
		return false, lookupError
	}
	_, found := repository.collaborators[login]
	return found, nil
}

func (forge *fakeForge) AddCollaborator(_ context.Context, owner string, name string, login string, permission string) error {
	repository, lookupError := forge.lookup(owner, name)
	if lookupError != nil {
		return lookupError
	}
	repository.collaborators[login] = permission
	return nil
}

func (forge *fakeForge) RepositoryCloneURL(owner string, name string) string {
	return testForgeRootConstant + owner + "/" + name + ".git"
}

func (forge *fakeForge) WikiCloneURL(owner string, name string) string {
	return testForgeRootConstant + owner + "/" + name + ".wiki.git"
}

// fakeGit answers ls-remote from references keyed by the credential-free URL
// and, on copy, publishes the branches and tags on the fake forge.
type fakeGit struct {
	forge      *fakeForge
	references map[string][]string
	copies     []string
}

func newFakeGit(forge *fakeForge) *fakeGit {
	return &fakeGit{forge: forge, references: map[string][]string{}}
}

func stripCredentials(remote string) string {
	schemeEnd := strings.Index(remote, "://")
	userEnd := strings.Index(remote, "@")
	if schemeEnd < 0 || userEnd < schemeEnd {
		return remote
	}
	return remote[:schemeEnd+3] + remote[userEnd+1:]
}

func (git *fakeGit) ListReferences(_ context.Context, remoteURL string) ([]string, error) {
	return git.references[stripCredentials(remoteURL)], nil
}

func (git *fakeGit) CopyAll(_ context.Context, sourceURL string, destinationURL string) error {
	destination := stripCredentials(destinationURL)
	git.copies = append(git.copies, destination)
	if strings.HasSuffix(destination, ".wiki.git") {
		return nil
	}
	fullName := strings.TrimSuffix(strings.TrimPrefix(destination, testForgeRootConstant), ".git")
	repository := git.forge.repositories[strings.ToLower(fullName)]
	if repository == nil {
		return fmt.Errorf("push to unknown repository %s", fullName)
	}
	for _, reference := range git.references[stripCredentials(sourceURL)] {
		switch {
		case strings.HasPrefix(reference, "refs/heads/"):
			repository.branches[strings.TrimPrefix(reference, "refs/heads/")] = true
		case strings.HasPrefix(reference, "refs/tags/"):
			repository.tags[strings.TrimPrefix(reference, "refs/tags/")] = true
		}
	}
	repository.repository.Empty = false
	return nil
}

type fakeResolver struct {
	logins map[int64]string
	calls  int
}

func (resolver *fakeResolver) Resolve(_ context.Context, reference gitlab.UserReference) (ledger.UserMapping, error) {
	resolver.calls++
	login, found := resolver.logins[reference.ID]
	if !found {
		return ledger.UserMapping{}, migrationerrors.MappingError{Kind: migrationerrors.MappingReferenceKindUser, Reference: reference.Username, Message: "no target account"}
	}
	return ledger.UserMapping{SourceUserID: reference.ID, SourceUsername: reference.Username, TargetUsername: login}, nil
}

type harness struct {
	source   *fakeSource
	forge    *fakeForge
	git      *fakeGit
	resolver *fakeResolver
	store    *ledger.Store
}

func newHarness(testInstance *testing.T) *harness {
	testInstance.Helper()
	store, openError := ledger.Open(context.Background(), filepath.Join(testInstance.TempDir(), "ledger.db"))
	require.NoError(testInstance, openError)
	testInstance.Cleanup(func() { _ = store.Close() })
	forge := newFakeForge()
	return &harness{
		source:   newFakeSource(),
		forge:    forge,
		git:      newFakeGit(forge),
		resolver: &fakeResolver{logins: map[int64]string{1: "alice", 2: "bob"}},
		store:    store,
	}
}

func (testHarness *harness) service(testInstance *testing.T, logger *zap.Logger, workers int) *Service {
	testInstance.Helper()
	service, serviceError := NewService(Dependencies{
		Source:      testHarness.source,
		Target:      testHarness.forge,
		Store:       testHarness.store,
		Resolver:    testHarness.resolver,
		Git:         testHarness.git,
		Logger:      logger,
		SourceToken: "source-secret",
		TargetToken: "target-secret",
		Workers:     workers,
	})
	require.NoError(testInstance, serviceError)
	return service
}

func entryFor(project gitlab.Project) inventory.Entry {
	return inventory.Entry{
		SourceID:      project.ID,
		Path:          project.PathWithNamespace,
		Namespace:     project.Namespace.FullPath,
		NamespaceKind: project.Namespace.Kind,
		Include:       true,
		HTTPURL:       project.HTTPURLToRepo,
	}
}

func groupNamespace(fullPath string) gitlab.Namespace {
	segments := strings.Split(fullPath, "/")
	return gitlab.Namespace{ID: 7, Name: segments[len(segments)-1], Path: segments[len(segments)-1], FullPath: fullPath, Kind: gitlab.NamespaceKindGroup}
}

func publishReferences(git *fakeGit, project gitlab.Project, references ...string) {
	git.references[project.HTTPURLToRepo] = references
}
