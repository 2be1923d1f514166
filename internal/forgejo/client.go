package forgejo

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/lremane/gitlab-2-forge-migration/internal/restclient"
)

const (
	apiRootSuffixConstant              = "/api/v1"
	authorizationHeaderNameConstant    = "Authorization"
	authorizationValueTemplateConstant = "token %s"
	sudoHeaderNameConstant             = "Sudo"
	pageQueryParameterConstant         = "page"
	limitQueryParameterConstant        = "limit"
	stateQueryParameterConstant        = "state"
	stateAllValueConstant              = "all"
	typeQueryParameterConstant         = "type"
	issuesTypeValueConstant            = "issues"
	createdByQueryParameterConstant    = "created_by"
	pageSizeConstant                   = 50
	pathSeparatorConstant              = "/"
	gitSuffixConstant                  = ".git"
	wikiGitSuffixConstant              = ".wiki.git"
)

const (
	versionPath                       = "version"
	adminUsersPath                    = "admin/users"
	adminUserKeysPathTemplate         = "admin/users/%s/keys"
	adminUserRepositoriesPathTemplate = "admin/users/%s/repos"
	userPathTemplate                  = "users/%s"
	userKeysPathTemplate              = "users/%s/keys"
	organizationsPath                 = "orgs"
	organizationPathTemplate          = "orgs/%s"
	organizationTeamsPathTemplate     = "orgs/%s/teams"
	organizationReposPathTemplate     = "orgs/%s/repos"
	teamMembersPathTemplate           = "teams/%d/members"
	teamMemberPathTemplate            = "teams/%d/members/%s"
	repositoryPathTemplate            = "repos/%s/%s"
	branchPathTemplate                = "repos/%s/%s/branches/%s"
	tagPathTemplate                   = "repos/%s/%s/tags/%s"
	labelsPathTemplate                = "repos/%s/%s/labels"
	milestonesPathTemplate            = "repos/%s/%s/milestones"
	milestonePathTemplate             = "repos/%s/%s/milestones/%d"
	issuesPathTemplate                = "repos/%s/%s/issues"
	issuePathTemplate                 = "repos/%s/%s/issues/%d"
	pullsPathTemplate                 = "repos/%s/%s/pulls"
	pullPathTemplate                  = "repos/%s/%s/pulls/%d"
	releasesPathTemplate              = "repos/%s/%s/releases"
	releaseByTagPathTemplate          = "repos/%s/%s/releases/tags/%s"
	collaboratorPathTemplate          = "repos/%s/%s/collaborators/%s"
	pushMirrorsPathTemplate           = "repos/%s/%s/push_mirrors"
)

const (
	operationVersion             = "get target version"
	operationListUsers           = "list target users"
	operationGetUser             = "get target user"
	operationCreateUser          = "create target user"
	operationListUserKeys        = "list target user keys"
	operationCreateUserKey       = "create target user key"
	operationGetOrganization     = "get target organization"
	operationCreateOrganization  = "create target organization"
	operationListTeams           = "list target teams"
	operationCreateTeam          = "create target team"
	operationListTeamMembers     = "list target team members"
	operationAddTeamMember       = "add target team member"
	operationRemoveTeamMember    = "remove target team member"
	operationGetRepository       = "get target repository"
	operationCreateRepository    = "create target repository"
	operationEditRepository      = "edit target repository"
	operationGetBranch           = "get target branch"
	operationGetTag              = "get target tag"
	operationListLabels          = "list target labels"
	operationCreateLabel         = "create target label"
	operationListMilestones      = "list target milestones"
	operationCreateMilestone     = "create target milestone"
	operationEditMilestone       = "edit target milestone"
	operationListIssues          = "list target issues"
	operationCreateIssue         = "create target issue"
	operationListPullRequests    = "list target pull requests"
	operationCreatePullRequest   = "create target pull request"
	operationEditPullRequest     = "edit target pull request"
	operationEditIssue           = "edit target issue"
	operationGetReleaseByTag     = "get target release"
	operationCreateRelease       = "create target release"
	operationCheckCollaborator   = "check target collaborator"
	operationAddCollaborator     = "add target collaborator"
	operationListPushMirrors     = "list target push mirrors"
	operationCreatePushMirror    = "create target push mirror"
	requestErrorTemplateConstant = "%s %s: %w"
)

// Options configures the target client.
type Options struct {
	BaseURL     string
	Token       string
	AdminToken  string
	HTTPClient  *http.Client
	RetryPolicy restclient.RetryPolicy
	Logger      *zap.Logger
}

// Client performs the target-side operations of the migration.
type Client struct {
	transport      *restclient.Client
	adminTransport *restclient.Client
	webRoot        string
	token          string
}

// NewClient constructs a target client. Administrative calls use AdminToken when set and Token otherwise.
func NewClient(options Options) (*Client, error) {
	webRoot := strings.TrimSuffix(strings.TrimRight(strings.TrimSpace(options.BaseURL), pathSeparatorConstant), apiRootSuffixConstant)
	apiRoot := ""
	if len(webRoot) > 0 {
		apiRoot = webRoot + apiRootSuffixConstant
	}

	token := strings.TrimSpace(options.Token)
	transport, transportError := newTransport(apiRoot, token, options)
	if transportError != nil {
		return nil, transportError
	}

	adminTransport := transport
	if adminToken := strings.TrimSpace(options.AdminToken); len(adminToken) > 0 {
		adminTransport, transportError = newTransport(apiRoot, adminToken, options)
		if transportError != nil {
			return nil, transportError
		}
	}

	return &Client{transport: transport, adminTransport: adminTransport, webRoot: webRoot, token: token}, nil
}

func newTransport(apiRoot string, token string, options Options) (*restclient.Client, error) {
	return restclient.NewClient(restclient.Options{
		BaseURL:     apiRoot,
		Headers:     map[string]string{authorizationHeaderNameConstant: fmt.Sprintf(authorizationValueTemplateConstant, token)},
		HTTPClient:  options.HTTPClient,
		RetryPolicy: options.RetryPolicy,
		Logger:      options.Logger,
	})
}

// RepositoryCloneURL returns the HTTP clone URL of a target repository.
func (client *Client) RepositoryCloneURL(owner string, name string) string {
	return client.webRoot + pathSeparatorConstant + owner + pathSeparatorConstant + name + gitSuffixConstant
}

// WikiCloneURL returns the HTTP clone URL of a target repository wiki.
func (client *Client) WikiCloneURL(owner string, name string) string {
	return client.webRoot + pathSeparatorConstant + owner + pathSeparatorConstant + name + wikiGitSuffixConstant
}

// Token returns the credential used for git transport against the target.
func (client *Client) Token() string {
	return client.token
}

// Version returns the server version and doubles as a connectivity check.
func (client *Client) Version(executionContext context.Context) (string, error) {
	var versionResponse struct {
		Version string `json:"version"`
	}
	if _, requestError := client.transport.DoJSON(executionContext, getRequest(operationVersion, versionPath), &versionResponse); requestError != nil {
		return "", fmt.Errorf(requestErrorTemplateConstant, operationVersion, client.webRoot, requestError)
	}
	return versionResponse.Version, nil
}

// ListUsers returns every account known to the target. Requires administrative credentials.
func (client *Client) ListUsers(executionContext context.Context) ([]User, error) {
	return listAll[User](executionContext, client.adminTransport, operationListUsers, adminUsersPath, nil)
}

// GetUser looks an account up by login. The boolean is false when it does not exist.
func (client *Client) GetUser(executionContext context.Context, login string) (User, bool, error) {
	var user User
	found, requestError := client.lookup(executionContext, client.adminTransport, getRequest(operationGetUser, fmt.Sprintf(userPathTemplate, escape(login))), &user)
	return user, found, requestError
}

// CreateUser creates an account. Requires administrative credentials.
func (client *Client) CreateUser(executionContext context.Context, option CreateUserOption) (User, error) {
	find := func(findContext context.Context) (User, bool, error) {
		return client.GetUser(findContext, option.Username)
	}
	return createOnce(executionContext, client.adminTransport, operationCreateUser, adminUsersPath, option, nil, find)
}

// ListUserKeys returns the SSH keys registered for an account.
func (client *Client) ListUserKeys(executionContext context.Context, login string) ([]PublicKey, error) {
	return listAll[PublicKey](executionContext, client.adminTransport, operationListUserKeys, fmt.Sprintf(userKeysPathTemplate, escape(login)), nil)
}

// CreateUserKey registers an SSH key for an account. Requires administrative credentials.
func (client *Client) CreateUserKey(executionContext context.Context, login string, option CreateKeyOption) (PublicKey, error) {
	find := func(findContext context.Context) (PublicKey, bool, error) {
		keys, listError := client.ListUserKeys(findContext, login)
		if listError != nil {
			return PublicKey{}, false, listError
		}
		for _, key := range keys {
			if sameKeyMaterial(key.Key, option.Key) {
				return key, true, nil
			}
		}
		return PublicKey{}, false, nil
	}
	return createOnce(executionContext, client.adminTransport, operationCreateUserKey, fmt.Sprintf(adminUserKeysPathTemplate, escape(login)), option, nil, find)
}

// GetOrganization looks an organization up by name. The boolean is false when it does not exist.
func (client *Client) GetOrganization(executionContext context.Context, name string) (Organization, bool, error) {
	var organization Organization
	found, requestError := client.lookup(executionContext, client.transport, getRequest(operationGetOrganization, fmt.Sprintf(organizationPathTemplate, escape(name))), &organization)
	return organization, found, requestError
}

// CreateOrganization creates an organization owned by the credential.
func (client *Client) CreateOrganization(executionContext context.Context, option CreateOrganizationOption) (Organization, error) {
	find := func(findContext context.Context) (Organization, bool, error) {
		return client.GetOrganization(findContext, option.Name)
	}
	return createOnce(executionContext, client.adminTransport, operationCreateOrganization, organizationsPath, option, nil, find)
}

// ListTeams returns the teams of an organization.
func (client *Client) ListTeams(executionContext context.Context, organization string) ([]Team, error) {
	return listAll[Team](executionContext, client.transport, operationListTeams, fmt.Sprintf(organizationTeamsPathTemplate, escape(organization)), nil)
}

// CreateTeam creates a team inside an organization.
func (client *Client) CreateTeam(executionContext context.Context, organization string, option CreateTeamOption) (Team, error) {
	find := func(findContext context.Context) (Team, bool, error) {
		teams, listError := client.ListTeams(findContext, organization)
		if listError != nil {
			return Team{}, false, listError
		}
		for _, team := range teams {
			if strings.EqualFold(team.Name, option.Name) {
				return team, true, nil
			}
		}
		return Team{}, false, nil
	}
	return createOnce(executionContext, client.transport, operationCreateTeam, fmt.Sprintf(organizationTeamsPathTemplate, escape(organization)), option, nil, find)
}

// ListTeamMembers returns the members of a team.
func (client *Client) ListTeamMembers(executionContext context.Context, teamID int64) ([]User, error) {
	return listAll[User](executionContext, client.transport, operationListTeamMembers, fmt.Sprintf(teamMembersPathTemplate, teamID), nil)
}

// AddTeamMember adds an account to a team.
func (client *Client) AddTeamMember(executionContext context.Context, teamID int64, login string) error {
	_, requestError := client.transport.Do(executionContext, restclient.Request{
		Operation: operationAddTeamMember,
		Method:    http.MethodPut,
		Path:      fmt.Sprintf(teamMemberPathTemplate, teamID, escape(login)),
	})
	if requestError != nil {
		return fmt.Errorf(requestErrorTemplateConstant, operationAddTeamMember, login, requestError)
	}
	return nil
}

// RemoveTeamMember removes an account from a team. Removing an absent member succeeds.
func (client *Client) RemoveTeamMember(executionContext context.Context, teamID int64, login string) error {
	_, requestError := client.transport.Do(executionContext, restclient.Request{
		Operation: operationRemoveTeamMember,
		Method:    http.MethodDelete,
		Path:      fmt.Sprintf(teamMemberPathTemplate, teamID, escape(login)),
	})
	if requestError != nil && !restclient.IsNotFound(requestError) {
		return fmt.Errorf(requestErrorTemplateConstant, operationRemoveTeamMember, login, requestError)
	}
	return nil
}

// GetRepository looks a repository up. The boolean is false when it does not exist.
func (client *Client) GetRepository(executionContext context.Context, owner string, name string) (Repository, bool, error) {
	var repository Repository
	found, requestError := client.lookup(executionContext, client.transport, getRequest(operationGetRepository, fmt.Sprintf(repositoryPathTemplate, escape(owner), escape(name))), &repository)
	return repository, found, requestError
}

// CreateOrganizationRepository creates a repository owned by an organization.
func (client *Client) CreateOrganizationRepository(executionContext context.Context, organization string, option CreateRepositoryOption) (Repository, error) {
	find := func(findContext context.Context) (Repository, bool, error) {
		return client.GetRepository(findContext, organization, option.Name)
	}
	return createOnce(executionContext, client.transport, operationCreateRepository, fmt.Sprintf(organizationReposPathTemplate, escape(organization)), option, nil, find)
}

// CreateUserRepository creates a repository owned by an account. Requires administrative credentials.
func (client *Client) CreateUserRepository(executionContext context.Context, login string, option CreateRepositoryOption) (Repository, error) {
	find := func(findContext context.Context) (Repository, bool, error) {
		return client.GetRepository(findContext, login, option.Name)
	}
	return createOnce(executionContext, client.adminTransport, operationCreateRepository, fmt.Sprintf(adminUserRepositoriesPathTemplate, escape(login)), option, nil, find)
}

// EditRepository updates repository settings.
func (client *Client) EditRepository(executionContext context.Context, owner string, name string, option EditRepositoryOption) (Repository, error) {
	var repository Repository
	_, requestError := client.transport.DoJSON(executionContext, restclient.Request{
		Operation: operationEditRepository,
		Method:    http.MethodPatch,
		Path:      fmt.Sprintf(repositoryPathTemplate, escape(owner), escape(name)),
		Payload:   option,
	}, &repository)
	if requestError != nil {
		return Repository{}, fmt.Errorf(requestErrorTemplateConstant, operationEditRepository, owner+pathSeparatorConstant+name, requestError)
	}
	return repository, nil
}

// BranchExists reports whether a branch exists in a repository.
func (client *Client) BranchExists(executionContext context.Context, owner string, name string, branch string) (bool, error) {
	var targetBranch Branch
	return client.lookup(executionContext, client.transport, getRequest(operationGetBranch, fmt.Sprintf(branchPathTemplate, escape(owner), escape(name), escape(branch))), &targetBranch)
}

// TagExists reports whether a tag exists in a repository.
func (client *Client) TagExists(executionContext context.Context, owner string, name string, tag string) (bool, error) {
	var targetTag Tag
	return client.lookup(executionContext, client.transport, getRequest(operationGetTag, fmt.Sprintf(tagPathTemplate, escape(owner), escape(name), escape(tag))), &targetTag)
}

// ListLabels returns the labels of a repository.
func (client *Client) ListLabels(executionContext context.Context, owner string, name string) ([]Label, error) {
	return listAll[Label](executionContext, client.transport, operationListLabels, fmt.Sprintf(labelsPathTemplate, escape(owner), escape(name)), nil)
}

// CreateLabel creates a repository label.
func (client *Client) CreateLabel(executionContext context.Context, owner string, name string, option CreateLabelOption) (Label, error) {
	find := func(findContext context.Context) (Label, bool, error) {
		labels, listError := client.ListLabels(findContext, owner, name)
		if listError != nil {
			return Label{}, false, listError
		}
		for _, label := range labels {
			if label.Name == option.Name {
				return label, true, nil
			}
		}
		return Label{}, false, nil
	}
	return createOnce(executionContext, client.transport, operationCreateLabel, fmt.Sprintf(labelsPathTemplate, escape(owner), escape(name)), option, nil, find)
}

// ListMilestones returns every milestone of a repository regardless of state.
func (client *Client) ListMilestones(executionContext context.Context, owner string, name string) ([]Milestone, error) {
	query := url.Values{}
	query.Set(stateQueryParameterConstant, stateAllValueConstant)
	return listAll[Milestone](executionContext, client.transport, operationListMilestones, fmt.Sprintf(milestonesPathTemplate, escape(owner), escape(name)), query)
}

// CreateMilestone creates a repository milestone.
func (client *Client) CreateMilestone(executionContext context.Context, owner string, name string, option CreateMilestoneOption) (Milestone, error) {
	find := func(findContext context.Context) (Milestone, bool, error) {
		milestones, listError := client.ListMilestones(findContext, owner, name)
		if listError != nil {
			return Milestone{}, false, listError
		}
		for _, milestone := range milestones {
			if milestone.Title == option.Title {
				return milestone, true, nil
			}
		}
		return Milestone{}, false, nil
	}
	return createOnce(executionContext, client.transport, operationCreateMilestone, fmt.Sprintf(milestonesPathTemplate, escape(owner), escape(name)), option, nil, find)
}

// EditMilestoneState updates the state of a milestone.
func (client *Client) EditMilestoneState(executionContext context.Context, owner string, name string, milestoneID int64, state string) error {
	_, requestError := client.transport.Do(executionContext, restclient.Request{
		Operation: operationEditMilestone,
		Method:    http.MethodPatch,
		Path:      fmt.Sprintf(milestonePathTemplate, escape(owner), escape(name), milestoneID),
		Payload:   EditMilestoneOption{State: state},
	})
	if requestError != nil {
		return fmt.Errorf(requestErrorTemplateConstant, operationEditMilestone, strconv.FormatInt(milestoneID, 10), requestError)
	}
	return nil
}

// ListIssues returns the issues of a repository in every state, excluding
// pull requests. A non-empty author restricts the result to issues they opened.
func (client *Client) ListIssues(executionContext context.Context, owner string, name string, author string) ([]Issue, error) {
	query := url.Values{}
	query.Set(stateQueryParameterConstant, stateAllValueConstant)
	query.Set(typeQueryParameterConstant, issuesTypeValueConstant)
	if trimmedAuthor := strings.TrimSpace(author); len(trimmedAuthor) > 0 {
		query.Set(createdByQueryParameterConstant, trimmedAuthor)
	}
	return listAll[Issue](executionContext, client.transport, operationListIssues, fmt.Sprintf(issuesPathTemplate, escape(owner), escape(name)), query)
}

// CreateIssue creates an issue, acting as option.Author when it is set.
func (client *Client) CreateIssue(executionContext context.Context, owner string, name string, option CreateIssueOption) (Issue, error) {
	find := func(findContext context.Context) (Issue, bool, error) {
		issues, listError := client.ListIssues(findContext, owner, name, option.Author)
		if listError != nil {
			return Issue{}, false, listError
		}
		var adopted Issue
		found := false
		for _, issue := range issues {
			if issue.Title == option.Title && issue.Body == option.Body && (!found || issue.Number > adopted.Number) {
				adopted = issue
				found = true
			}
		}
		return adopted, found, nil
	}
	return createOnce(executionContext, client.adminTransport, operationCreateIssue, fmt.Sprintf(issuesPathTemplate, escape(owner), escape(name)), option, sudoHeaders(option.Author), find)
}

// EditIssueState updates the state of an issue.
func (client *Client) EditIssueState(executionContext context.Context, owner string, name string, number int64, state string) error {
	_, requestError := client.transport.Do(executionContext, restclient.Request{
		Operation: operationEditIssue,
		Method:    http.MethodPatch,
		Path:      fmt.Sprintf(issuePathTemplate, escape(owner), escape(name), number),
		Payload:   EditIssueOption{State: state},
	})
	if requestError != nil {
		return fmt.Errorf(requestErrorTemplateConstant, operationEditIssue, strconv.FormatInt(number, 10), requestError)
	}
	return nil
}

// ListPullRequests returns the pull requests of a repository in the given state.
func (client *Client) ListPullRequests(executionContext context.Context, owner string, name string, state string) ([]PullRequest, error) {
	query := url.Values{}
	query.Set(stateQueryParameterConstant, state)
	return listAll[PullRequest](executionContext, client.transport, operationListPullRequests, fmt.Sprintf(pullsPathTemplate, escape(owner), escape(name)), query)
}

// FindOpenPullRequest returns the open pull request from head into base with
// the given title. An empty title matches any open pull request for the pair.
func (client *Client) FindOpenPullRequest(executionContext context.Context, owner string, name string, head string, base string, title string) (PullRequest, bool, error) {
	pullRequests, listError := client.ListPullRequests(executionContext, owner, name, StateOpen)
	if listError != nil {
		return PullRequest{}, false, listError
	}
	for _, pullRequest := range pullRequests {
		if pullRequest.Head.Ref != head || pullRequest.Base.Ref != base {
			continue
		}
		if len(title) == 0 || pullRequest.Title == title {
			return pullRequest, true, nil
		}
	}
	return PullRequest{}, false, nil
}

// CreatePullRequest creates a pull request, acting as option.Author when it is set.
func (client *Client) CreatePullRequest(executionContext context.Context, owner string, name string, option CreatePullRequestOption) (PullRequest, error) {
	find := func(findContext context.Context) (PullRequest, bool, error) {
		return client.FindOpenPullRequest(findContext, owner, name, option.Head, option.Base, option.Title)
	}
	return createOnce(executionContext, client.adminTransport, operationCreatePullRequest, fmt.Sprintf(pullsPathTemplate, escape(owner), escape(name)), option, sudoHeaders(option.Author), find)
}

// EditPullRequestState updates the state of a pull request.
func (client *Client) EditPullRequestState(executionContext context.Context, owner string, name string, number int64, state string) error {
	_, requestError := client.transport.Do(executionContext, restclient.Request{
		Operation: operationEditPullRequest,
		Method:    http.MethodPatch,
		Path:      fmt.Sprintf(pullPathTemplate, escape(owner), escape(name), number),
		Payload:   EditIssueOption{State: state},
	})
	if requestError != nil {
		return fmt.Errorf(requestErrorTemplateConstant, operationEditPullRequest, strconv.FormatInt(number, 10), requestError)
	}
	return nil
}

// GetReleaseByTag looks a release up by tag. The boolean is false when it does not exist.
func (client *Client) GetReleaseByTag(executionContext context.Context, owner string, name string, tag string) (Release, bool, error) {
	var release Release
	found, requestError := client.lookup(executionContext, client.transport, getRequest(operationGetReleaseByTag, fmt.Sprintf(releaseByTagPathTemplate, escape(owner), escape(name), escape(tag))), &release)
	return release, found, requestError
}

// CreateRelease creates a release for an existing tag.
func (client *Client) CreateRelease(executionContext context.Context, owner string, name string, option CreateReleaseOption) (Release, error) {
	find := func(findContext context.Context) (Release, bool, error) {
		return client.GetReleaseByTag(findContext, owner, name, option.TagName)
	}
	return createOnce(executionContext, client.transport, operationCreateRelease, fmt.Sprintf(releasesPathTemplate, escape(owner), escape(name)), option, nil, find)
}

// IsCollaborator reports whether an account is a collaborator of a repository.
func (client *Client) IsCollaborator(executionContext context.Context, owner string, name string, login string) (bool, error) {
	return client.lookup(executionContext, client.transport, getRequest(operationCheckCollaborator, fmt.Sprintf(collaboratorPathTemplate, escape(owner), escape(name), escape(login))), nil)
}

// AddCollaborator grants an account access to a repository.
func (client *Client) AddCollaborator(executionContext context.Context, owner string, name string, login string, permission string) error {
	_, requestError := client.transport.Do(executionContext, restclient.Request{
		Operation: operationAddCollaborator,
		Method:    http.MethodPut,
		Path:      fmt.Sprintf(collaboratorPathTemplate, escape(owner), escape(name), escape(login)),
		Payload:   CollaboratorOption{Permission: permission},
	})
	if requestError != nil {
		return fmt.Errorf(requestErrorTemplateConstant, operationAddCollaborator, login, requestError)
	}
	return nil
}

// ListPushMirrors returns the push mirrors configured on a repository.
func (client *Client) ListPushMirrors(executionContext context.Context, owner string, name string) ([]PushMirror, error) {
	return listAll[PushMirror](executionContext, client.transport, operationListPushMirrors, fmt.Sprintf(pushMirrorsPathTemplate, escape(owner), escape(name)), nil)
}

// CreatePushMirror configures a push mirror on a repository.
func (client *Client) CreatePushMirror(executionContext context.Context, owner string, name string, option CreatePushMirrorOption) (PushMirror, error) {
	find := func(findContext context.Context) (PushMirror, bool, error) {
		pushMirrors, listError := client.ListPushMirrors(findContext, owner, name)
		if listError != nil {
			return PushMirror{}, false, listError
		}
		for _, pushMirror := range pushMirrors {
			if sameRemoteAddress(pushMirror.RemoteAddress, option.RemoteAddress) {
				return pushMirror, true, nil
			}
		}
		return PushMirror{}, false, nil
	}
	return createOnce(executionContext, client.transport, operationCreatePushMirror, fmt.Sprintf(pushMirrorsPathTemplate, escape(owner), escape(name)), option, nil, find)
}

func (client *Client) lookup(executionContext context.Context, transport *restclient.Client, request restclient.Request, destination any) (bool, error) {
	_, requestError := transport.DoJSON(executionContext, request, destination)
	if requestError != nil {
		if restclient.IsNotFound(requestError) {
			return false, nil
		}
		return false, fmt.Errorf(requestErrorTemplateConstant, request.Operation, request.Path, requestError)
	}
	return true, nil
}

// createOnce posts payload and, when the outcome of a post is unknown, uses
// find to adopt an entity the server created before posting again.
func createOnce[T any](executionContext context.Context, transport *restclient.Client, operation string, path string, payload any, headers map[string]string, find func(context.Context) (T, bool, error)) (T, error) {
	create := func(createContext context.Context) (T, error) {
		var created T
		_, requestError := transport.DoJSON(createContext, restclient.Request{
			Operation: operation,
			Method:    http.MethodPost,
			Path:      path,
			Payload:   payload,
			Headers:   headers,
		}, &created)
		return created, requestError
	}
	created, requestError := restclient.CreateOnce(executionContext, transport, operation, create, find)
	if requestError != nil {
		var zero T
		return zero, fmt.Errorf(requestErrorTemplateConstant, operation, path, requestError)
	}
	return created, nil
}

func sameKeyMaterial(left string, right string) bool {
	leftFields := strings.Fields(left)
	rightFields := strings.Fields(right)
	if len(leftFields) < 2 || len(rightFields) < 2 {
		return strings.TrimSpace(left) == strings.TrimSpace(right)
	}
	return leftFields[0] == rightFields[0] && leftFields[1] == rightFields[1]
}

func sameRemoteAddress(left string, right string) bool {
	normalize := func(address string) string {
		return strings.TrimSuffix(strings.TrimRight(strings.TrimSpace(address), pathSeparatorConstant), gitSuffixConstant)
	}
	return strings.EqualFold(normalize(left), normalize(right))
}

func getRequest(operation string, path string) restclient.Request {
	return restclient.Request{Operation: operation, Method: http.MethodGet, Path: path}
}

func sudoHeaders(login string) map[string]string {
	trimmedLogin := strings.TrimSpace(login)
	if len(trimmedLogin) == 0 {
		return nil
	}
	return map[string]string{sudoHeaderNameConstant: trimmedLogin}
}

func escape(segment string) string {
	return restclient.EscapePathSegment(segment)
}

func listAll[T any](executionContext context.Context, transport *restclient.Client, operation string, path string, query url.Values) ([]T, error) {
	fetcher := func(pageContext context.Context, pageNumber int) ([]T, int, error) {
		pageQuery := url.Values{}
		for queryKey, queryValues := range query {
			pageQuery[queryKey] = append([]string{}, queryValues...)
		}
		pageQuery.Set(pageQueryParameterConstant, strconv.Itoa(pageNumber))
		pageQuery.Set(limitQueryParameterConstant, strconv.Itoa(pageSizeConstant))

		var pageItems []T
		_, requestError := transport.DoJSON(pageContext, restclient.Request{
			Operation: operation,
			Method:    http.MethodGet,
			Path:      path,
			Query:     pageQuery,
		}, &pageItems)
		if requestError != nil {
			return nil, 0, requestError
		}
		if len(pageItems) < pageSizeConstant {
			return pageItems, 0, nil
		}
		return pageItems, pageNumber + 1, nil
	}

	items, collectError := restclient.CollectPages(executionContext, fetcher)
	if collectError != nil {
		return items, fmt.Errorf(requestErrorTemplateConstant, operation, path, collectError)
	}
	return items, nil
}
