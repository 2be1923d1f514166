package gitlab

import "strings"

const (
	namespaceKindGroupConstant = "group"
	namespaceKindUserConstant  = "user"
	gitSuffixConstant          = ".git"
	wikiGitSuffixConstant      = ".wiki.git"
)

// Namespace kinds reported by GitLab.
const (
	NamespaceKindGroup = namespaceKindGroupConstant
	NamespaceKindUser  = namespaceKindUserConstant
)

// Access levels used by GitLab memberships.
const (
	AccessLevelGuest      = 10
	AccessLevelReporter   = 20
	AccessLevelDeveloper  = 30
	AccessLevelMaintainer = 40
	AccessLevelOwner      = 50
)

// Namespace identifies the group or user that owns a project.
type Namespace struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	FullPath string `json:"full_path"`
	Kind     string `json:"kind"`
}

// ProjectStatistics carries storage sizes for a project.
type ProjectStatistics struct {
	RepositorySize int64 `json:"repository_size"`
	LFSObjectsSize int64 `json:"lfs_objects_size"`
}

// Project is a source repository.
type Project struct {
	ID                int64             `json:"id"`
	Name              string            `json:"name"`
	Path              string            `json:"path"`
	PathWithNamespace string            `json:"path_with_namespace"`
	Description       string            `json:"description"`
	Visibility        string            `json:"visibility"`
	Archived          bool              `json:"archived"`
	DefaultBranch     string            `json:"default_branch"`
	HTTPURLToRepo     string            `json:"http_url_to_repo"`
	WebURL            string            `json:"web_url"`
	WikiEnabled       bool              `json:"wiki_enabled"`
	LastActivityAt    string            `json:"last_activity_at"`
	Namespace         Namespace         `json:"namespace"`
	Statistics        ProjectStatistics `json:"statistics"`
}

// WikiURL derives the clone URL of the project wiki.
func (project Project) WikiURL() string {
	return WikiURLFor(project.HTTPURLToRepo)
}

// WikiURLFor derives a wiki clone URL from a repository clone URL.
func WikiURLFor(repositoryURL string) string {
	return strings.TrimSuffix(repositoryURL, gitSuffixConstant) + wikiGitSuffixConstant
}

// Group is a source namespace that owns projects and members.
type Group struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Path        string `json:"path"`
	FullName    string `json:"full_name"`
	FullPath    string `json:"full_path"`
	Description string `json:"description"`
	Visibility  string `json:"visibility"`
	WebURL      string `json:"web_url"`
}

// User is a source account as seen by an administrator.
type User struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	PublicEmail string `json:"public_email"`
	State       string `json:"state"`
	IsAdmin     bool   `json:"is_admin"`
	Bot         bool   `json:"bot"`
}

// ResolvedEmail returns the most authoritative email address known for the user.
func (user User) ResolvedEmail() string {
	if trimmedEmail := strings.TrimSpace(user.Email); len(trimmedEmail) > 0 {
		return trimmedEmail
	}
	return strings.TrimSpace(user.PublicEmail)
}

// UserReference is the abbreviated user embedded in issues, merge requests and memberships.
type UserReference struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

// Member is a group or project membership.
type Member struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	Name        string `json:"name"`
	State       string `json:"state"`
	AccessLevel int    `json:"access_level"`
}

// Reference returns the member as a user reference.
func (member Member) Reference() UserReference {
	return UserReference{ID: member.ID, Username: member.Username, Name: member.Name}
}

// SSHKey is a public key registered for a user.
type SSHKey struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	Key   string `json:"key"`
}

// Label is a project label.
type Label struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Color       string `json:"color"`
	Description string `json:"description"`
}

// MilestoneReference is the milestone embedded in issues and merge requests.
type MilestoneReference struct {
	ID    int64  `json:"id"`
	IID   int64  `json:"iid"`
	Title string `json:"title"`
}

// Milestone is a project milestone.
type Milestone struct {
	ID          int64  `json:"id"`
	IID         int64  `json:"iid"`
	Title       string `json:"title"`
	Description string `json:"description"`
	State       string `json:"state"`
	DueDate     string `json:"due_date"`
}

// Issue is a project issue.
type Issue struct {
	ID          int64               `json:"id"`
	IID         int64               `json:"iid"`
	Title       string              `json:"title"`
	Description string              `json:"description"`
	State       string              `json:"state"`
	Author      UserReference       `json:"author"`
	Assignees   []UserReference     `json:"assignees"`
	Labels      []string            `json:"labels"`
	Milestone   *MilestoneReference `json:"milestone"`
	DueDate     string              `json:"due_date"`
	WebURL      string              `json:"web_url"`
	CreatedAt   string              `json:"created_at"`
}

// MergeRequest is a project merge request.
type MergeRequest struct {
	ID           int64               `json:"id"`
	IID          int64               `json:"iid"`
	Title        string              `json:"title"`
	Description  string              `json:"description"`
	State        string              `json:"state"`
	SourceBranch string              `json:"source_branch"`
	TargetBranch string              `json:"target_branch"`
	Author       UserReference       `json:"author"`
	Assignees    []UserReference     `json:"assignees"`
	Labels       []string            `json:"labels"`
	Milestone    *MilestoneReference `json:"milestone"`
	WebURL       string              `json:"web_url"`
	CreatedAt    string              `json:"created_at"`
}

// ReleaseLink is an asset link attached to a release.
type ReleaseLink struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	URL      string `json:"url"`
	LinkType string `json:"link_type"`
}

// ReleaseAssets groups the assets of a release.
type ReleaseAssets struct {
	Links []ReleaseLink `json:"links"`
}

// Release is a tagged project release.
type Release struct {
	TagName         string        `json:"tag_name"`
	Name            string        `json:"name"`
	Description     string        `json:"description"`
	CreatedAt       string        `json:"created_at"`
	ReleasedAt      string        `json:"released_at"`
	UpcomingRelease bool          `json:"upcoming_release"`
	Assets          ReleaseAssets `json:"assets"`
}
