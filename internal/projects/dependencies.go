package projects

import (
	"context"

	"github.com/lremane/gitlab-2-forge-migration/internal/forgejo"
	"github.com/lremane/gitlab-2-forge-migration/internal/gitlab"
	"github.com/lremane/gitlab-2-forge-migration/internal/ledger"
)

// SourceProjects reads projects and their metadata from the source forge.
type SourceProjects interface {
	GetProject(executionContext context.Context, projectID int64) (gitlab.Project, error)
	FindUserByUsername(executionContext context.Context, username string) (gitlab.User, bool, error)
	ListProjectMembers(executionContext context.Context, projectID int64) ([]gitlab.Member, error)
	ListLabels(executionContext context.Context, projectID int64) ([]gitlab.Label, error)
	ListMilestones(executionContext context.Context, projectID int64) ([]gitlab.Milestone, error)
	ListIssues(executionContext context.Context, projectID int64) ([]gitlab.Issue, error)
	ListMergeRequests(executionContext context.Context, projectID int64) ([]gitlab.MergeRequest, error)
	ListReleases(executionContext context.Context, projectID int64) ([]gitlab.Release, error)
}

// TargetForge creates repositories and their metadata on the target forge.
type TargetForge interface {
	GetRepository(executionContext context.Context, owner string, name string) (forgejo.Repository, bool, error)
	CreateOrganizationRepository(executionContext context.Context, organization string, option forgejo.CreateRepositoryOption) (forgejo.Repository, error)
	CreateUserRepository(executionContext context.Context, login string, option forgejo.CreateRepositoryOption) (forgejo.Repository, error)
	EditRepository(executionContext context.Context, owner string, name string, option forgejo.EditRepositoryOption) (forgejo.Repository, error)
	BranchExists(executionContext context.Context, owner string, name string, branch string) (bool, error)
	TagExists(executionContext context.Context, owner string, name string, tag string) (bool, error)
	CreateLabel(executionContext context.Context, owner string, name string, option forgejo.CreateLabelOption) (forgejo.Label, error)
	CreateMilestone(executionContext context.Context, owner string, name string, option forgejo.CreateMilestoneOption) (forgejo.Milestone, error)
	EditMilestoneState(executionContext context.Context, owner string, name string, milestoneID int64, state string) error
	CreateIssue(executionContext context.Context, owner string, name string, option forgejo.CreateIssueOption) (forgejo.Issue, error)
	CreatePullRequest(executionContext context.Context, owner string, name string, option forgejo.CreatePullRequestOption) (forgejo.PullRequest, error)
	FindOpenPullRequest(executionContext context.Context, owner string, name string, head string, base string, title string) (forgejo.PullRequest, bool, error)
	EditPullRequestState(executionContext context.Context, owner string, name string, number int64, state string) error
	GetReleaseByTag(executionContext context.Context, owner string, name string, tag string) (forgejo.Release, bool, error)
	CreateRelease(executionContext context.Context, owner string, name string, option forgejo.CreateReleaseOption) (forgejo.Release, error)
	IsCollaborator(executionContext context.Context, owner string, name string, login string) (bool, error)
	AddCollaborator(executionContext context.Context, owner string, name string, login string, permission string) error
	RepositoryCloneURL(owner string, name string) string
	WikiCloneURL(owner string, name string) string
}

// Store is the slice of the ledger the state machine reads and commits to.
type Store interface {
	EnsureRepository(executionContext context.Context, sourceID int64, sourcePath string, sourceHTTPURL string) (ledger.RepositoryRecord, error)
	Repository(executionContext context.Context, sourceID int64) (ledger.RepositoryRecord, bool, error)
	RepositoryByTarget(executionContext context.Context, owner string, name string) (ledger.RepositoryRecord, bool, error)
	RecordTarget(executionContext context.Context, sourceID int64, owner string, name string, targetID int64) error
	CompleteStage(executionContext context.Context, sourceID int64, stage ledger.Stage) (ledger.RepositoryRecord, error)
	FailStage(executionContext context.Context, sourceID int64, stage ledger.Stage, message string) error
	ResetRepository(executionContext context.Context, sourceID int64) error
	Items(executionContext context.Context, targetRepositoryID int64, kind ledger.ItemKind) ([]ledger.ItemRecord, error)
	RecordItem(executionContext context.Context, item ledger.ItemRecord) error
	GroupMapping(executionContext context.Context, sourcePath string) (ledger.GroupMapping, bool, error)
}

// Resolver maps a source account to its target account.
type Resolver interface {
	Resolve(executionContext context.Context, reference gitlab.UserReference) (ledger.UserMapping, error)
}

// GitTransfer moves git content between remotes.
type GitTransfer interface {
	CopyAll(executionContext context.Context, sourceURL string, destinationURL string) error
	ListReferences(executionContext context.Context, remoteURL string) ([]string, error)
}
