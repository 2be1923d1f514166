package projects

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/lremane/gitlab-2-forge-migration/internal/forgejo"
	"github.com/lremane/gitlab-2-forge-migration/internal/gitlab"
	"github.com/lremane/gitlab-2-forge-migration/internal/ledger"
	"github.com/lremane/gitlab-2-forge-migration/internal/mapping"
	"github.com/lremane/gitlab-2-forge-migration/internal/migrationerrors"
	"github.com/lremane/gitlab-2-forge-migration/internal/restclient"
)

const (
	assigneesRejectedMessageConstant   = "rejected by the target"
	assigneesFieldConstant             = "assignees"
	assigneeSeparatorConstant          = ","
	pullRequestFallbackMessageConstant = "merge request imported as an issue"
	pullRequestAdoptedMessageConstant  = "adopted existing pull request"
	logFieldNumberConstant             = "number"
	pullRequestLookupErrorTemplate     = "look up pull request for merge request %s: %w"
	logFieldReasonConstant             = "reason"
	reasonBranchesMissingConstant      = "branches missing on the target"
	reasonRejectedConstant             = "pull request rejected by the target"
	listSourceErrorTemplate            = "list source %s: %w"
	loadReferenceTablesErrorTemplate   = "load %s mappings: %w"
	branchLookupErrorTemplate          = "look up branch %s: %w"
	releaseTagMissingTemplate          = "tag %s does not exist on the target"
	releaseLookupErrorTemplate         = "look up release %s: %w"
	tagLookupErrorTemplate             = "look up tag %s: %w"
	sourceLabelsConstant               = "labels"
	sourceMilestonesConstant           = "milestones"
	sourceIssuesConstant               = "issues"
	sourceMergeRequestsConstant        = "merge requests"
	sourceReleasesConstant             = "releases"
)

func (service *Service) importLabels(executionContext context.Context, run *repositoryRun) error {
	labels, listError := service.source.ListLabels(executionContext, run.project.ID)
	if listError != nil {
		return fmt.Errorf(listSourceErrorTemplate, sourceLabelsConstant, listError)
	}
	imports := make([]itemImport, 0, len(labels))
	for _, label := range labels {
		imports = append(imports, itemImport{
			sourceItemID: mapping.SourceItemKey(label.ID),
			sourceName:   label.Name,
			create: func(itemContext context.Context) (int64, error) {
				created, createError := service.target.CreateLabel(itemContext, run.owner(), run.name(), mapping.MapLabel(label))
				return created.ID, createError
			},
		})
	}
	return service.importItems(executionContext, run, ledger.ItemKindLabel, imports)
}

func (service *Service) importMilestones(executionContext context.Context, run *repositoryRun) error {
	milestones, listError := service.source.ListMilestones(executionContext, run.project.ID)
	if listError != nil {
		return fmt.Errorf(listSourceErrorTemplate, sourceMilestonesConstant, listError)
	}
	imports := make([]itemImport, 0, len(milestones))
	for _, milestone := range milestones {
		sourceItemID := mapping.SourceItemKey(milestone.ID)
		closed := mapping.MapMilestoneState(milestone.State) == forgejo.StateClosed
		confirmedClosed := false
		imports = append(imports, itemImport{
			sourceItemID: sourceItemID,
			sourceName:   milestone.Title,
			create: func(itemContext context.Context) (int64, error) {
				option, unresolved := mapping.MapMilestone(milestone)
				run.logUnresolved(ledger.ItemKindMilestone, sourceItemID, unresolved)
				created, createError := service.target.CreateMilestone(itemContext, run.owner(), run.name(), option)
				confirmedClosed = created.State == forgejo.StateClosed
				return created.ID, createError
			},
			finish: func(itemContext context.Context, targetItemID int64) error {
				if !closed || confirmedClosed {
					return nil
				}
				return service.target.EditMilestoneState(itemContext, run.owner(), run.name(), targetItemID, forgejo.StateClosed)
			},
		})
	}
	return service.importItems(executionContext, run, ledger.ItemKindMilestone, imports)
}

func (service *Service) importIssues(executionContext context.Context, run *repositoryRun) error {
	issues, listError := service.source.ListIssues(executionContext, run.project.ID)
	if listError != nil {
		return fmt.Errorf(listSourceErrorTemplate, sourceIssuesConstant, listError)
	}
	tables, tablesError := service.referenceTables(executionContext, run)
	if tablesError != nil {
		return tablesError
	}
	imports := make([]itemImport, 0, len(issues))
	for _, issue := range issues {
		sourceItemID := mapping.SourceItemKey(issue.IID)
		imports = append(imports, itemImport{
			sourceItemID: sourceItemID,
			sourceName:   issue.Title,
			create: func(itemContext context.Context) (int64, error) {
				if prepareError := run.participants.prepare(itemContext, run, participantsOf(issue.Author, issue.Assignees)); prepareError != nil {
					return 0, prepareError
				}
				tables.UsersBySourceID = run.participants.usersTable()
				option, unresolved := mapping.MapIssue(issue, tables)
				run.logUnresolved(ledger.ItemKindIssue, sourceItemID, unresolved)
				return service.createIssue(itemContext, run, ledger.ItemKindIssue, sourceItemID, option)
			},
		})
	}
	return service.importItems(executionContext, run, ledger.ItemKindIssue, imports)
}

// importMergeRequests creates a pull request when both branches exist on the
// target and falls back to an issue otherwise.
func (service *Service) importMergeRequests(executionContext context.Context, run *repositoryRun) error {
	mergeRequests, listError := service.source.ListMergeRequests(executionContext, run.project.ID)
	if listError != nil {
		return fmt.Errorf(listSourceErrorTemplate, sourceMergeRequestsConstant, listError)
	}
	tables, tablesError := service.referenceTables(executionContext, run)
	if tablesError != nil {
		return tablesError
	}
	imports := make([]itemImport, 0, len(mergeRequests))
	for _, mergeRequest := range mergeRequests {
		sourceItemID := mapping.SourceItemKey(mergeRequest.IID)
		createdAsIssue := false
		imports = append(imports, itemImport{
			sourceItemID: sourceItemID,
			sourceName:   mergeRequest.Title,
			create: func(itemContext context.Context) (int64, error) {
				if prepareError := run.participants.prepare(itemContext, run, participantsOf(mergeRequest.Author, mergeRequest.Assignees)); prepareError != nil {
					return 0, prepareError
				}
				tables.UsersBySourceID = run.participants.usersTable()

				present, branchError := service.branchesPresent(itemContext, run, mergeRequest)
				if branchError != nil {
					return 0, branchError
				}
				reason := reasonBranchesMissingConstant
				if present {
					option, unresolved := mapping.MapMergeRequest(mergeRequest, tables)
					pullRequest, createError := service.target.CreatePullRequest(itemContext, run.owner(), run.name(), option)
					if createError == nil {
						run.logUnresolved(ledger.ItemKindMergeRequest, sourceItemID, unresolved)
						return pullRequest.Number, nil
					}
					if !restclient.IsAlreadyExists(createError) {
						return 0, createError
					}
					existing, found, findError := service.target.FindOpenPullRequest(itemContext, run.owner(), run.name(), option.Head, option.Base, option.Title)
					if findError != nil {
						return 0, fmt.Errorf(pullRequestLookupErrorTemplate, sourceItemID, findError)
					}
					if found {
						run.logger.Info(pullRequestAdoptedMessageConstant, zap.String(logFieldItemConstant, sourceItemID), zap.Int64(logFieldNumberConstant, existing.Number))
						run.logUnresolved(ledger.ItemKindMergeRequest, sourceItemID, unresolved)
						return existing.Number, nil
					}
					reason = reasonRejectedConstant
				}

				run.logger.Info(pullRequestFallbackMessageConstant, zap.String(logFieldItemConstant, sourceItemID), zap.String(logFieldReasonConstant, reason))
				option, unresolved := mapping.MapMergeRequestAsIssue(mergeRequest, tables)
				run.logUnresolved(ledger.ItemKindMergeRequest, sourceItemID, unresolved)
				createdAsIssue = true
				return service.createIssue(itemContext, run, ledger.ItemKindMergeRequest, sourceItemID, option)
			},
			finish: func(itemContext context.Context, targetItemID int64) error {
				if createdAsIssue || !mapping.MergeRequestClosed(mergeRequest) {
					return nil
				}
				return service.target.EditPullRequestState(itemContext, run.owner(), run.name(), targetItemID, forgejo.StateClosed)
			},
		})
	}
	return service.importItems(executionContext, run, ledger.ItemKindMergeRequest, imports)
}

func (service *Service) importReleases(executionContext context.Context, run *repositoryRun) error {
	releases, listError := service.source.ListReleases(executionContext, run.project.ID)
	if listError != nil {
		return fmt.Errorf(listSourceErrorTemplate, sourceReleasesConstant, listError)
	}
	imports := make([]itemImport, 0, len(releases))
	for _, release := range releases {
		imports = append(imports, itemImport{
			sourceItemID: release.TagName,
			sourceName:   release.Name,
			create: func(itemContext context.Context) (int64, error) {
				existing, found, lookupError := service.target.GetReleaseByTag(itemContext, run.owner(), run.name(), release.TagName)
				if lookupError != nil {
					return 0, fmt.Errorf(releaseLookupErrorTemplate, release.TagName, lookupError)
				}
				if found {
					return existing.ID, nil
				}
				tagExists, tagError := service.target.TagExists(itemContext, run.owner(), run.name(), release.TagName)
				if tagError != nil {
					return 0, fmt.Errorf(tagLookupErrorTemplate, release.TagName, tagError)
				}
				if !tagExists {
					return 0, fmt.Errorf(releaseTagMissingTemplate, release.TagName)
				}
				created, createError := service.target.CreateRelease(itemContext, run.owner(), run.name(), mapping.MapRelease(release))
				return created.ID, createError
			},
		})
	}
	return service.importItems(executionContext, run, ledger.ItemKindRelease, imports)
}

// createIssue creates an issue and retries once without assignees when the
// target rejects them.
func (service *Service) createIssue(executionContext context.Context, run *repositoryRun, kind ledger.ItemKind, sourceItemID string, option forgejo.CreateIssueOption) (int64, error) {
	created, createError := service.target.CreateIssue(executionContext, run.owner(), run.name(), option)
	if createError == nil {
		return created.Number, nil
	}
	if len(option.Assignees) == 0 || restclient.StatusCode(createError) != http.StatusUnprocessableEntity {
		return 0, createError
	}
	run.logUnresolved(kind, sourceItemID, []migrationerrors.MappingError{{
		Kind:      migrationerrors.MappingReferenceKindUser,
		Reference: strings.Join(option.Assignees, assigneeSeparatorConstant),
		Field:     assigneesFieldConstant,
		Message:   assigneesRejectedMessageConstant,
	}})
	option.Assignees = nil
	created, createError = service.target.CreateIssue(executionContext, run.owner(), run.name(), option)
	if createError != nil {
		return 0, createError
	}
	return created.Number, nil
}

func (service *Service) branchesPresent(executionContext context.Context, run *repositoryRun, mergeRequest gitlab.MergeRequest) (bool, error) {
	for _, branch := range []string{mergeRequest.SourceBranch, mergeRequest.TargetBranch} {
		if len(strings.TrimSpace(branch)) == 0 {
			return false, nil
		}
		exists, lookupError := service.target.BranchExists(executionContext, run.owner(), run.name(), branch)
		if lookupError != nil {
			return false, fmt.Errorf(branchLookupErrorTemplate, branch, lookupError)
		}
		if !exists {
			return false, nil
		}
	}
	return true, nil
}

// referenceTables loads the labels and milestones this repository already
// received, so issues and merge requests only reference existing targets.
func (service *Service) referenceTables(executionContext context.Context, run *repositoryRun) (mapping.Tables, error) {
	tables := mapping.Tables{
		LabelsByName:         make(map[string]int64),
		MilestonesBySourceID: make(map[int64]int64),
		FallbackAuthor:       service.fallback,
	}
	labels, labelsError := service.store.Items(executionContext, run.record.TargetID, ledger.ItemKindLabel)
	if labelsError != nil {
		return mapping.Tables{}, fmt.Errorf(loadReferenceTablesErrorTemplate, ledger.ItemKindLabel, labelsError)
	}
	for _, label := range labels {
		if label.Status == ledger.ItemStatusImported {
			tables.LabelsByName[label.SourceName] = label.TargetItemID
		}
	}
	milestones, milestonesError := service.store.Items(executionContext, run.record.TargetID, ledger.ItemKindMilestone)
	if milestonesError != nil {
		return mapping.Tables{}, fmt.Errorf(loadReferenceTablesErrorTemplate, ledger.ItemKindMilestone, milestonesError)
	}
	for _, milestone := range milestones {
		sourceID, parseError := strconv.ParseInt(milestone.SourceItemID, 10, 64)
		if parseError != nil || milestone.Status != ledger.ItemStatusImported {
			continue
		}
		tables.MilestonesBySourceID[sourceID] = milestone.TargetItemID
	}
	return tables, nil
}

func participantsOf(author gitlab.UserReference, assignees []gitlab.UserReference) []gitlab.UserReference {
	return append([]gitlab.UserReference{author}, assignees...)
}
