package forgejo

import "time"

// Team permissions understood by Forgejo, ordered from weakest to strongest.
const (
	PermissionRead  = "read"
	PermissionWrite = "write"
	PermissionAdmin = "admin"
	PermissionOwner = "owner"
)

// Item states used by milestones, issues and pull requests.
const (
	StateOpen   = "open"
	StateClosed = "closed"
)

// User is a target account.
type User struct {
	ID       int64  `json:"id"`
	Login    string `json:"login"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	IsAdmin  bool   `json:"is_admin"`
}

// CreateUserOption is the payload for creating an account.
type CreateUserOption struct {
	Username           string `json:"username"`
	Email              string `json:"email"`
	FullName           string `json:"full_name,omitempty"`
	Password           string `json:"password"`
	MustChangePassword bool   `json:"must_change_password"`
	SendNotify         bool   `json:"send_notify"`
	Visibility         string `json:"visibility,omitempty"`
}

// PublicKey is an SSH key registered for an account.
type PublicKey struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	Key   string `json:"key"`
}

// CreateKeyOption is the payload for registering an SSH key.
type CreateKeyOption struct {
	Title    string `json:"title"`
	Key      string `json:"key"`
	ReadOnly bool   `json:"read_only"`
}

// Organization is a target group.
type Organization struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	FullName    string `json:"full_name"`
	Description string `json:"description"`
	Visibility  string `json:"visibility"`
}

// CreateOrganizationOption is the payload for creating an organization.
type CreateOrganizationOption struct {
	Name        string `json:"username"`
	FullName    string `json:"full_name,omitempty"`
	Description string `json:"description,omitempty"`
	Website     string `json:"website,omitempty"`
	Visibility  string `json:"visibility,omitempty"`
}

// Team is a permission group inside an organization.
type Team struct {
	ID                      int64    `json:"id"`
	Name                    string   `json:"name"`
	Description             string   `json:"description"`
	Permission              string   `json:"permission"`
	IncludesAllRepositories bool     `json:"includes_all_repositories"`
	Units                   []string `json:"units,omitempty"`
}

// CreateTeamOption is the payload for creating a team.
type CreateTeamOption struct {
	Name                    string   `json:"name"`
	Description             string   `json:"description,omitempty"`
	Permission              string   `json:"permission"`
	IncludesAllRepositories bool     `json:"includes_all_repositories"`
	CanCreateOrgRepo        bool     `json:"can_create_org_repo"`
	Units                   []string `json:"units"`
}

// Repository is a target repository.
type Repository struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	FullName      string `json:"full_name"`
	Owner         User   `json:"owner"`
	Private       bool   `json:"private"`
	Empty         bool   `json:"empty"`
	Archived      bool   `json:"archived"`
	DefaultBranch string `json:"default_branch"`
	CloneURL      string `json:"clone_url"`
	HTMLURL       string `json:"html_url"`
	HasWiki       bool   `json:"has_wiki"`
}

// CreateRepositoryOption is the payload for creating a repository.
type CreateRepositoryOption struct {
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	Private       bool   `json:"private"`
	AutoInit      bool   `json:"auto_init"`
	DefaultBranch string `json:"default_branch,omitempty"`
}

// EditRepositoryOption is the payload for updating repository settings.
type EditRepositoryOption struct {
	DefaultBranch *string `json:"default_branch,omitempty"`
	Archived      *bool   `json:"archived,omitempty"`
	HasWiki       *bool   `json:"has_wiki,omitempty"`
}

// Branch is a repository branch.
type Branch struct {
	Name string `json:"name"`
}

// Label is a repository label.
type Label struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Color       string `json:"color"`
	Description string `json:"description"`
}

// CreateLabelOption is the payload for creating a label.
type CreateLabelOption struct {
	Name        string `json:"name"`
	Color       string `json:"color"`
	Description string `json:"description,omitempty"`
}

// Milestone is a repository milestone.
type Milestone struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	State string `json:"state"`
}

// CreateMilestoneOption is the payload for creating a milestone.
type CreateMilestoneOption struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	State       string     `json:"state,omitempty"`
	Deadline    *time.Time `json:"due_on,omitempty"`
}

// EditMilestoneOption is the payload for updating a milestone.
type EditMilestoneOption struct {
	State string `json:"state"`
}

// Issue is a repository issue.
type Issue struct {
	ID     int64  `json:"id"`
	Number int64  `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	State  string `json:"state"`
	Poster User   `json:"user"`
}

// CreateIssueOption is the payload for creating an issue. Author is not
// serialized; it selects the account the request is made on behalf of.
type CreateIssueOption struct {
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	Assignees []string   `json:"assignees,omitempty"`
	Labels    []int64    `json:"labels,omitempty"`
	Milestone int64      `json:"milestone,omitempty"`
	Deadline  *time.Time `json:"due_date,omitempty"`
	Closed    bool       `json:"closed"`
	Author    string     `json:"-"`
}

// EditIssueOption is the payload for updating an issue or pull request state.
type EditIssueOption struct {
	State string `json:"state"`
}

// BranchReference identifies one side of a pull request.
type BranchReference struct {
	Ref string `json:"ref"`
}

// PullRequest is a repository pull request.
type PullRequest struct {
	ID     int64           `json:"id"`
	Number int64           `json:"number"`
	Title  string          `json:"title"`
	State  string          `json:"state"`
	Head   BranchReference `json:"head"`
	Base   BranchReference `json:"base"`
}

// CreatePullRequestOption is the payload for creating a pull request. Author
// is not serialized; it selects the account the request is made on behalf of.
type CreatePullRequestOption struct {
	Head      string   `json:"head"`
	Base      string   `json:"base"`
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	Assignees []string `json:"assignees,omitempty"`
	Labels    []int64  `json:"labels,omitempty"`
	Milestone int64    `json:"milestone,omitempty"`
	Author    string   `json:"-"`
}

// Release is a repository release.
type Release struct {
	ID      int64  `json:"id"`
	TagName string `json:"tag_name"`
	Name    string `json:"name"`
}

// CreateReleaseOption is the payload for creating a release.
type CreateReleaseOption struct {
	TagName      string `json:"tag_name"`
	Target       string `json:"target_commitish,omitempty"`
	Title        string `json:"name"`
	Note         string `json:"body"`
	IsDraft      bool   `json:"draft"`
	IsPrerelease bool   `json:"prerelease"`
}

// Tag is a repository tag.
type Tag struct {
	Name string `json:"name"`
}

// PushMirror is a push mirror configured on a repository.
type PushMirror struct {
	RemoteName    string `json:"remote_name"`
	RemoteAddress string `json:"remote_address"`
	Interval      string `json:"interval"`
	SyncOnCommit  bool   `json:"sync_on_commit"`
	LastError     string `json:"last_error"`
}

// CreatePushMirrorOption is the payload for creating a push mirror.
type CreatePushMirrorOption struct {
	RemoteAddress  string `json:"remote_address"`
	RemoteUsername string `json:"remote_username,omitempty"`
	RemotePassword string `json:"remote_password,omitempty"`
	Interval       string `json:"interval"`
	SyncOnCommit   bool   `json:"sync_on_commit"`
}

// CollaboratorOption is the payload for adding a repository collaborator.
type CollaboratorOption struct {
	Permission string `json:"permission"`
}
