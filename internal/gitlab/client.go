package gitlab

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/lremane/gitlab-2-forge-migration/internal/restclient"
)

const (
	apiRootSuffixConstant               = "/api/v4"
	privateTokenHeaderNameConstant      = "PRIVATE-TOKEN"
	nextPageHeaderNameConstant          = "X-Next-Page"
	pageQueryParameterConstant          = "page"
	perPageQueryParameterConstant       = "per_page"
	pageSizeConstant                    = 100
	orderByQueryParameterConstant       = "order_by"
	sortQueryParameterConstant          = "sort"
	scopeQueryParameterConstant         = "scope"
	stateQueryParameterConstant         = "state"
	statisticsQueryParameterConstant    = "statistics"
	usernameQueryParameterConstant      = "username"
	orderByIDValueConstant              = "id"
	sortAscendingValueConstant          = "asc"
	scopeAllValueConstant               = "all"
	stateAllValueConstant               = "all"
	trueValueConstant                   = "true"
	projectsPathConstant                = "projects"
	projectPathTemplateConstant         = "projects/%d"
	projectMembersPathTemplateConstant  = "projects/%d/members"
	projectLabelsPathTemplateConstant   = "projects/%d/labels"
	projectMilestonesPathTemplate       = "projects/%d/milestones"
	projectIssuesPathTemplateConstant   = "projects/%d/issues"
	projectMergeRequestsPathTemplate    = "projects/%d/merge_requests"
	projectReleasesPathTemplateConstant = "projects/%d/releases"
	groupPathTemplateConstant           = "groups/%s"
	groupMembersPathTemplateConstant    = "groups/%d/members"
	usersPathConstant                   = "users"
	userPathTemplateConstant            = "users/%d"
	userKeysPathTemplateConstant        = "users/%d/keys"
	currentUserPathConstant             = "user"
	operationListProjectsConstant       = "list source projects"
	operationGetProjectConstant         = "get source project"
	operationGetGroupConstant           = "get source group"
	operationListGroupMembersConstant   = "list source group members"
	operationListProjectMembersConstant = "list source project members"
	operationListUsersConstant          = "list source users"
	operationGetUserConstant            = "get source user"
	operationFindUserConstant           = "find source user"
	operationListUserKeysConstant       = "list source user keys"
	operationCurrentUserConstant        = "get source credential owner"
	operationListLabelsConstant         = "list source labels"
	operationListMilestonesConstant     = "list source milestones"
	operationListIssuesConstant         = "list source issues"
	operationListMergeRequestsConstant  = "list source merge requests"
	operationListReleasesConstant       = "list source releases"
	listErrorTemplateConstant           = "%s: %w"
	lookupErrorTemplateConstant         = "%s %s: %w"
)

// Options configures the source client.
type Options struct {
	BaseURL     string
	Token       string
	HTTPClient  *http.Client
	RetryPolicy restclient.RetryPolicy
	Logger      *zap.Logger
}

// Client reads projects, groups, users and project metadata from GitLab.
type Client struct {
	transport *restclient.Client
	host      string
}

// NewClient constructs a source client rooted at the GitLab API of BaseURL.
func NewClient(options Options) (*Client, error) {
	apiRoot := strings.TrimRight(strings.TrimSpace(options.BaseURL), "/")
	if len(apiRoot) > 0 && !strings.HasSuffix(apiRoot, apiRootSuffixConstant) {
		apiRoot += apiRootSuffixConstant
	}

	transport, transportError := restclient.NewClient(restclient.Options{
		BaseURL:     apiRoot,
		Headers:     map[string]string{privateTokenHeaderNameConstant: strings.TrimSpace(options.Token)},
		HTTPClient:  options.HTTPClient,
		RetryPolicy: options.RetryPolicy,
		Logger:      options.Logger,
	})
	if transportError != nil {
		return nil, transportError
	}

	parsedURL, _ := url.Parse(apiRoot)
	host := ""
	if parsedURL != nil {
		host = parsedURL.Host
	}

	return &Client{transport: transport, host: host}, nil
}

// Host returns the host name of the source forge.
func (client *Client) Host() string {
	return client.host
}

// CurrentUser returns the account that owns the configured credential.
func (client *Client) CurrentUser(executionContext context.Context) (User, error) {
	var user User
	_, requestError := client.transport.DoJSON(executionContext, restclient.Request{
		Operation: operationCurrentUserConstant,
		Method:    http.MethodGet,
		Path:      currentUserPathConstant,
	}, &user)
	if requestError != nil {
		return User{}, fmt.Errorf(listErrorTemplateConstant, operationCurrentUserConstant, requestError)
	}
	return user, nil
}

// ListProjects returns every project visible to the credential ordered by identifier.
// When paging fails part way, the projects fetched so far are returned with the error.
func (client *Client) ListProjects(executionContext context.Context) ([]Project, error) {
	query := url.Values{}
	query.Set(orderByQueryParameterConstant, orderByIDValueConstant)
	query.Set(sortQueryParameterConstant, sortAscendingValueConstant)
	query.Set(statisticsQueryParameterConstant, trueValueConstant)
	return listAll[Project](executionContext, client, operationListProjectsConstant, projectsPathConstant, query)
}

// GetProject fetches a single project by identifier.
func (client *Client) GetProject(executionContext context.Context, projectID int64) (Project, error) {
	var project Project
	_, requestError := client.transport.DoJSON(executionContext, restclient.Request{
		Operation: operationGetProjectConstant,
		Method:    http.MethodGet,
		Path:      fmt.Sprintf(projectPathTemplateConstant, projectID),
	}, &project)
	if requestError != nil {
		return Project{}, fmt.Errorf(lookupErrorTemplateConstant, operationGetProjectConstant, strconv.FormatInt(projectID, 10), requestError)
	}
	return project, nil
}

// GetGroup resolves a group by its full path. The boolean is false when the group does not exist.
func (client *Client) GetGroup(executionContext context.Context, fullPath string) (Group, bool, error) {
	var group Group
	_, requestError := client.transport.DoJSON(executionContext, restclient.Request{
		Operation: operationGetGroupConstant,
		Method:    http.MethodGet,
		Path:      fmt.Sprintf(groupPathTemplateConstant, restclient.EscapePathSegment(strings.Trim(fullPath, "/"))),
	}, &group)
	if requestError != nil {
		if restclient.IsNotFound(requestError) {
			return Group{}, false, nil
		}
		return Group{}, false, fmt.Errorf(lookupErrorTemplateConstant, operationGetGroupConstant, fullPath, requestError)
	}
	return group, true, nil
}

// ListGroupMembers returns the direct members of a group.
func (client *Client) ListGroupMembers(executionContext context.Context, groupID int64) ([]Member, error) {
	return listAll[Member](executionContext, client, operationListGroupMembersConstant, fmt.Sprintf(groupMembersPathTemplateConstant, groupID), nil)
}

// ListProjectMembers returns the direct members of a project.
func (client *Client) ListProjectMembers(executionContext context.Context, projectID int64) ([]Member, error) {
	return listAll[Member](executionContext, client, operationListProjectMembersConstant, fmt.Sprintf(projectMembersPathTemplateConstant, projectID), nil)
}

// ListUsers returns every user account. Email addresses are only present for administrator credentials.
func (client *Client) ListUsers(executionContext context.Context) ([]User, error) {
	query := url.Values{}
	query.Set(orderByQueryParameterConstant, orderByIDValueConstant)
	query.Set(sortQueryParameterConstant, sortAscendingValueConstant)
	return listAll[User](executionContext, client, operationListUsersConstant, usersPathConstant, query)
}

// GetUser fetches a user by identifier.
func (client *Client) GetUser(executionContext context.Context, userID int64) (User, error) {
	var user User
	_, requestError := client.transport.DoJSON(executionContext, restclient.Request{
		Operation: operationGetUserConstant,
		Method:    http.MethodGet,
		Path:      fmt.Sprintf(userPathTemplateConstant, userID),
	}, &user)
	if requestError != nil {
		return User{}, fmt.Errorf(lookupErrorTemplateConstant, operationGetUserConstant, strconv.FormatInt(userID, 10), requestError)
	}
	return user, nil
}

// FindUserByUsername looks a user up by username. The boolean is false when nobody matches.
func (client *Client) FindUserByUsername(executionContext context.Context, username string) (User, bool, error) {
	query := url.Values{}
	query.Set(usernameQueryParameterConstant, strings.TrimSpace(username))
	var users []User
	_, requestError := client.transport.DoJSON(executionContext, restclient.Request{
		Operation: operationFindUserConstant,
		Method:    http.MethodGet,
		Path:      usersPathConstant,
		Query:     query,
	}, &users)
	if requestError != nil {
		return User{}, false, fmt.Errorf(lookupErrorTemplateConstant, operationFindUserConstant, username, requestError)
	}
	for _, user := range users {
		if strings.EqualFold(user.Username, strings.TrimSpace(username)) {
			return user, true, nil
		}
	}
	return User{}, false, nil
}

// ListUserKeys returns the SSH keys registered for a user.
func (client *Client) ListUserKeys(executionContext context.Context, userID int64) ([]SSHKey, error) {
	return listAll[SSHKey](executionContext, client, operationListUserKeysConstant, fmt.Sprintf(userKeysPathTemplateConstant, userID), nil)
}

// ListLabels returns the labels available to a project, including inherited group labels.
func (client *Client) ListLabels(executionContext context.Context, projectID int64) ([]Label, error) {
	return listAll[Label](executionContext, client, operationListLabelsConstant, fmt.Sprintf(projectLabelsPathTemplateConstant, projectID), nil)
}

// ListMilestones returns the project milestones ordered by internal identifier.
func (client *Client) ListMilestones(executionContext context.Context, projectID int64) ([]Milestone, error) {
	milestones, listError := listAll[Milestone](executionContext, client, operationListMilestonesConstant, fmt.Sprintf(projectMilestonesPathTemplate, projectID), nil)
	sort.SliceStable(milestones, func(leftIndex, rightIndex int) bool {
		return milestones[leftIndex].IID < milestones[rightIndex].IID
	})
	return milestones, listError
}

// ListIssues returns every project issue ordered by internal identifier.
func (client *Client) ListIssues(executionContext context.Context, projectID int64) ([]Issue, error) {
	query := url.Values{}
	query.Set(scopeQueryParameterConstant, scopeAllValueConstant)
	query.Set(stateQueryParameterConstant, stateAllValueConstant)
	query.Set(sortQueryParameterConstant, sortAscendingValueConstant)
	issues, listError := listAll[Issue](executionContext, client, operationListIssuesConstant, fmt.Sprintf(projectIssuesPathTemplateConstant, projectID), query)
	sort.SliceStable(issues, func(leftIndex, rightIndex int) bool {
		return issues[leftIndex].IID < issues[rightIndex].IID
	})
	return issues, listError
}

// ListMergeRequests returns every project merge request ordered by internal identifier.
func (client *Client) ListMergeRequests(executionContext context.Context, projectID int64) ([]MergeRequest, error) {
	query := url.Values{}
	query.Set(scopeQueryParameterConstant, scopeAllValueConstant)
	query.Set(stateQueryParameterConstant, stateAllValueConstant)
	query.Set(sortQueryParameterConstant, sortAscendingValueConstant)
	mergeRequests, listError := listAll[MergeRequest](executionContext, client, operationListMergeRequestsConstant, fmt.Sprintf(projectMergeRequestsPathTemplate, projectID), query)
	sort.SliceStable(mergeRequests, func(leftIndex, rightIndex int) bool {
		return mergeRequests[leftIndex].IID < mergeRequests[rightIndex].IID
	})
	return mergeRequests, listError
}

// ListReleases returns the project releases, oldest first.
func (client *Client) ListReleases(executionContext context.Context, projectID int64) ([]Release, error) {
	releases, listError := listAll[Release](executionContext, client, operationListReleasesConstant, fmt.Sprintf(projectReleasesPathTemplateConstant, projectID), nil)
	sort.SliceStable(releases, func(leftIndex, rightIndex int) bool {
		return releases[leftIndex].CreatedAt < releases[rightIndex].CreatedAt
	})
	return releases, listError
}

func listAll[T any](executionContext context.Context, client *Client, operation string, path string, query url.Values) ([]T, error) {
	fetcher := func(pageContext context.Context, pageNumber int) ([]T, int, error) {
		pageQuery := url.Values{}
		for queryKey, queryValues := range query {
			pageQuery[queryKey] = append([]string{}, queryValues...)
		}
		pageQuery.Set(pageQueryParameterConstant, strconv.Itoa(pageNumber))
		pageQuery.Set(perPageQueryParameterConstant, strconv.Itoa(pageSizeConstant))

		var pageItems []T
		response, requestError := client.transport.DoJSON(pageContext, restclient.Request{
			Operation: operation,
			Method:    http.MethodGet,
			Path:      path,
			Query:     pageQuery,
		}, &pageItems)
		if requestError != nil {
			return nil, 0, requestError
		}
		return pageItems, nextPageNumber(response, pageNumber, len(pageItems)), nil
	}

	items, collectError := restclient.CollectPages(executionContext, fetcher)
	if collectError != nil {
		return items, fmt.Errorf(listErrorTemplateConstant, operation, collectError)
	}
	return items, nil
}

func nextPageNumber(response restclient.Response, currentPage int, itemCount int) int {
	if headerValues, headerPresent := response.Header[http.CanonicalHeaderKey(nextPageHeaderNameConstant)]; headerPresent {
		if len(headerValues) == 0 || len(strings.TrimSpace(headerValues[0])) == 0 {
			return 0
		}
		nextPage, parseError := strconv.Atoi(strings.TrimSpace(headerValues[0]))
		if parseError != nil {
			return 0
		}
		return nextPage
	}
	if itemCount >= pageSizeConstant {
		return currentPage + 1
	}
	return 0
}
