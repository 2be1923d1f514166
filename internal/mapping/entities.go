package mapping

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/lremane/gitlab-2-forge-migration/internal/forgejo"
	"github.com/lremane/gitlab-2-forge-migration/internal/gitlab"
	"github.com/lremane/gitlab-2-forge-migration/internal/migrationerrors"
)

const (
	fallbackEmailTemplateConstant       = "%s@%s"
	defaultFallbackEmailDomainConstant  = "noemail-git.local"
	defaultLabelColorConstant           = "#428bca"
	labelColorPrefixConstant            = "#"
	dueDateLayoutConstant               = "2006-01-02"
	sourceStateClosedConstant           = "closed"
	sourceStateMergedConstant           = "merged"
	mergeRequestIssueTitleTemplate      = "[MR !%d] %s"
	mergeRequestBranchesTemplate        = "Source branch `%s` into `%s`."
	issueSourceIdentifierTemplate       = "issue #%d"
	mergeRequestSourceIdentifier        = "merge request !%d"
	placeholderBodyTemplate             = "_%s_\n\n%s"
	releaseAssetsHeadingConstant        = "\n\n### Assets\n"
	releaseAssetLineTemplate            = "- [%s](%s)\n"
	paragraphSeparatorConstant          = "\n\n"
	mappingKindLabelConstant            = "label"
	mappingKindMilestoneConstant        = "milestone"
	mappingFieldAssigneesConstant       = "assignees"
	mappingFieldLabelsConstant          = "labels"
	mappingFieldMilestoneConstant       = "milestone"
	mappingFieldDueDateConstant         = "due_date"
	mappingKindDateConstant             = "date"
	mappingMessageUnparsableDate        = "unparsable date"
	mappingMessageMissingTargetIdentity = "no target identity"
	hexColorPattern                     = `^#?[0-9A-Fa-f]{6}$`
)

var hexColor = regexp.MustCompile(hexColorPattern)

// Tables carries the mappings used to rewrite references inside issues and merge requests.
// FallbackAuthor, when set, is the target account that posts items whose author has no mapping.
type Tables struct {
	UsersBySourceID      map[int64]string
	LabelsByName         map[string]int64
	MilestonesBySourceID map[int64]int64
	FallbackAuthor       string
}

// FallbackEmail returns the synthetic address used when a source account exposes none.
func FallbackEmail(username string, domain string) string {
	trimmedDomain := strings.TrimSpace(domain)
	if len(trimmedDomain) == 0 {
		trimmedDomain = defaultFallbackEmailDomainConstant
	}
	return fmt.Sprintf(fallbackEmailTemplateConstant, CleanName(username), trimmedDomain)
}

// MapUser converts a source account into the payload that creates its target
// account. notify asks the target to mail the new account its credentials.
func MapUser(user gitlab.User, password string, fallbackEmailDomain string, notify bool) forgejo.CreateUserOption {
	email := user.ResolvedEmail()
	if len(email) == 0 {
		email = FallbackEmail(user.Username, fallbackEmailDomain)
	}
	fullName := strings.TrimSpace(user.Name)
	if len(fullName) == 0 {
		fullName = user.Username
	}
	return forgejo.CreateUserOption{
		Username:           CleanName(user.Username),
		Email:              email,
		FullName:           fullName,
		Password:           password,
		MustChangePassword: true,
		SendNotify:         notify,
	}
}

// MapGroup converts a source group into the payload that creates its organization.
func MapGroup(group gitlab.Group) forgejo.CreateOrganizationOption {
	fullName := strings.TrimSpace(group.FullName)
	if len(fullName) == 0 {
		fullName = group.Name
	}
	return forgejo.CreateOrganizationOption{
		Name:        OrganizationName(group.FullPath),
		FullName:    fullName,
		Description: group.Description,
		Website:     group.WebURL,
		Visibility:  MapOrganizationVisibility(group.Visibility),
	}
}

// MapRepository converts a source project into the payload that creates an empty target repository.
func MapRepository(project gitlab.Project) forgejo.CreateRepositoryOption {
	return forgejo.CreateRepositoryOption{
		Name:          CleanName(project.Path),
		Description:   project.Description,
		Private:       IsPrivateVisibility(project.Visibility),
		AutoInit:      false,
		DefaultBranch: project.DefaultBranch,
	}
}

// MapLabel converts a source label, normalising its color to #rrggbb.
func MapLabel(label gitlab.Label) forgejo.CreateLabelOption {
	color := strings.TrimSpace(label.Color)
	if !hexColor.MatchString(color) {
		color = defaultLabelColorConstant
	} else if !strings.HasPrefix(color, labelColorPrefixConstant) {
		color = labelColorPrefixConstant + color
	}
	return forgejo.CreateLabelOption{Name: label.Name, Color: color, Description: label.Description}
}

// MapMilestone converts a source milestone. An unparsable due date is dropped and reported.
func MapMilestone(milestone gitlab.Milestone) (forgejo.CreateMilestoneOption, []migrationerrors.MappingError) {
	option := forgejo.CreateMilestoneOption{Title: milestone.Title, Description: milestone.Description, State: MapMilestoneState(milestone.State)}
	deadline, dateError := parseDueDate(milestone.DueDate, milestone.Title)
	if dateError != nil {
		return option, []migrationerrors.MappingError{*dateError}
	}
	option.Deadline = deadline
	return option, nil
}

// MapMilestoneState converts a GitLab milestone state into a Forgejo state.
func MapMilestoneState(state string) string {
	if state == sourceStateClosedConstant {
		return forgejo.StateClosed
	}
	return forgejo.StateOpen
}

// MapIssue converts a source issue, rewriting author, assignee, label and milestone references.
func MapIssue(issue gitlab.Issue, tables Tables) (forgejo.CreateIssueOption, []migrationerrors.MappingError) {
	sourceIdentifier := sourceIdentifierFor(issue.WebURL, fmt.Sprintf(issueSourceIdentifierTemplate, issue.IID))
	references := mapReferences(trackedItem{
		sourceIdentifier: sourceIdentifier,
		author:           issue.Author,
		assignees:        issue.Assignees,
		labels:           issue.Labels,
		milestone:        issue.Milestone,
		description:      issue.Description,
	}, tables)

	option := forgejo.CreateIssueOption{
		Title:     issue.Title,
		Body:      references.body,
		Assignees: references.assignees,
		Labels:    references.labels,
		Milestone: references.milestone,
		Closed:    issue.State == sourceStateClosedConstant,
		Author:    references.author,
	}
	deadline, dateError := parseDueDate(issue.DueDate, sourceIdentifier)
	if dateError != nil {
		references.unresolved = append(references.unresolved, *dateError)
	}
	option.Deadline = deadline
	return option, references.unresolved
}

// MapMergeRequest converts a source merge request into a pull request between its branches.
func MapMergeRequest(mergeRequest gitlab.MergeRequest, tables Tables) (forgejo.CreatePullRequestOption, []migrationerrors.MappingError) {
	references := mapReferences(mergeRequestItem(mergeRequest), tables)
	return forgejo.CreatePullRequestOption{
		Head:      mergeRequest.SourceBranch,
		Base:      mergeRequest.TargetBranch,
		Title:     mergeRequest.Title,
		Body:      references.body,
		Assignees: references.assignees,
		Labels:    references.labels,
		Milestone: references.milestone,
		Author:    references.author,
	}, references.unresolved
}

// MapMergeRequestAsIssue converts a source merge request whose branches are gone into an issue.
func MapMergeRequestAsIssue(mergeRequest gitlab.MergeRequest, tables Tables) (forgejo.CreateIssueOption, []migrationerrors.MappingError) {
	item := mergeRequestItem(mergeRequest)
	item.description = fmt.Sprintf(mergeRequestBranchesTemplate, mergeRequest.SourceBranch, mergeRequest.TargetBranch) + paragraphSeparatorConstant + mergeRequest.Description
	references := mapReferences(item, tables)
	return forgejo.CreateIssueOption{
		Title:     fmt.Sprintf(mergeRequestIssueTitleTemplate, mergeRequest.IID, mergeRequest.Title),
		Body:      references.body,
		Assignees: references.assignees,
		Labels:    references.labels,
		Milestone: references.milestone,
		Closed:    MergeRequestClosed(mergeRequest),
		Author:    references.author,
	}, references.unresolved
}

// MergeRequestClosed reports whether a source merge request is no longer open.
func MergeRequestClosed(mergeRequest gitlab.MergeRequest) bool {
	return mergeRequest.State == sourceStateClosedConstant || mergeRequest.State == sourceStateMergedConstant
}

// MapRelease converts a source release, appending its asset links to the notes.
func MapRelease(release gitlab.Release) forgejo.CreateReleaseOption {
	title := strings.TrimSpace(release.Name)
	if len(title) == 0 {
		title = release.TagName
	}
	var noteBuilder strings.Builder
	noteBuilder.WriteString(release.Description)
	if len(release.Assets.Links) > 0 {
		noteBuilder.WriteString(releaseAssetsHeadingConstant)
		for _, link := range release.Assets.Links {
			linkName := strings.TrimSpace(link.Name)
			if len(linkName) == 0 {
				linkName = link.URL
			}
			noteBuilder.WriteString(fmt.Sprintf(releaseAssetLineTemplate, linkName, link.URL))
		}
	}
	return forgejo.CreateReleaseOption{
		TagName:      release.TagName,
		Title:        title,
		Note:         noteBuilder.String(),
		IsPrerelease: release.UpcomingRelease,
	}
}

// SourceItemKey renders the ledger key of an item identified by its project-scoped number.
func SourceItemKey(internalID int64) string {
	return strconv.FormatInt(internalID, 10)
}

type trackedItem struct {
	sourceIdentifier string
	author           gitlab.UserReference
	assignees        []gitlab.UserReference
	labels           []string
	milestone        *gitlab.MilestoneReference
	description      string
}

type mappedReferences struct {
	author     string
	body       string
	assignees  []string
	labels     []int64
	milestone  int64
	unresolved []migrationerrors.MappingError
}

func mergeRequestItem(mergeRequest gitlab.MergeRequest) trackedItem {
	return trackedItem{
		sourceIdentifier: sourceIdentifierFor(mergeRequest.WebURL, fmt.Sprintf(mergeRequestSourceIdentifier, mergeRequest.IID)),
		author:           mergeRequest.Author,
		assignees:        mergeRequest.Assignees,
		labels:           mergeRequest.Labels,
		milestone:        mergeRequest.Milestone,
		description:      mergeRequest.Description,
	}
}

func mapReferences(item trackedItem, tables Tables) mappedReferences {
	references := mappedReferences{body: item.description}

	if login, found := tables.UsersBySourceID[item.author.ID]; found && item.author.ID != 0 {
		references.author = login
	} else {
		references.author = strings.TrimSpace(tables.FallbackAuthor)
		references.body = fmt.Sprintf(placeholderBodyTemplate, migrationerrors.UnknownAuthorPlaceholder(item.sourceIdentifier), item.description)
		references.unresolved = append(references.unresolved, migrationerrors.MappingError{
			Kind:      migrationerrors.MappingReferenceKindUser,
			Reference: item.author.Username,
			Field:     migrationerrors.MappingFieldAuthor,
			Message:   mappingMessageMissingTargetIdentity,
		})
	}

	for _, assignee := range item.assignees {
		login, found := tables.UsersBySourceID[assignee.ID]
		if !found {
			references.unresolved = append(references.unresolved, migrationerrors.MappingError{
				Kind:      migrationerrors.MappingReferenceKindUser,
				Reference: assignee.Username,
				Field:     mappingFieldAssigneesConstant,
				Message:   mappingMessageMissingTargetIdentity,
			})
			continue
		}
		references.assignees = append(references.assignees, login)
	}

	for _, labelName := range item.labels {
		labelID, found := tables.LabelsByName[labelName]
		if !found {
			references.unresolved = append(references.unresolved, migrationerrors.MappingError{
				Kind:      mappingKindLabelConstant,
				Reference: labelName,
				Field:     mappingFieldLabelsConstant,
			})
			continue
		}
		references.labels = append(references.labels, labelID)
	}

	if item.milestone != nil {
		milestoneID, found := tables.MilestonesBySourceID[item.milestone.ID]
		if found {
			references.milestone = milestoneID
		} else {
			references.unresolved = append(references.unresolved, migrationerrors.MappingError{
				Kind:      mappingKindMilestoneConstant,
				Reference: item.milestone.Title,
				Field:     mappingFieldMilestoneConstant,
			})
		}
	}

	return references
}

func parseDueDate(value string, reference string) (*time.Time, *migrationerrors.MappingError) {
	trimmedValue := strings.TrimSpace(value)
	if len(trimmedValue) == 0 {
		return nil, nil
	}
	parsed, parseError := time.Parse(dueDateLayoutConstant, trimmedValue)
	if parseError != nil {
		return nil, &migrationerrors.MappingError{
			Kind:      mappingKindDateConstant,
			Reference: reference,
			Field:     mappingFieldDueDateConstant,
			Message:   mappingMessageUnparsableDate,
		}
	}
	deadline := parsed.UTC()
	return &deadline, nil
}

func sourceIdentifierFor(webURL string, fallback string) string {
	if trimmedURL := strings.TrimSpace(webURL); len(trimmedURL) > 0 {
		return trimmedURL
	}
	return fallback
}
