package report

import (
	"context"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/lremane/gitlab-2-forge-migration/internal/ledger"
)

const (
	yamlIndentConstant         = 2
	loadFailedItemsErrTemplate = "load failed items of %s: %w"
	renderErrorTemplate        = "render report: %w"
)

// Status classifies how far a repository got.
type Status string

// Repository statuses reported in the summary.
const (
	StatusSucceeded       Status = "succeeded"
	StatusPartiallyFailed Status = "partially_failed"
	StatusFailed          Status = "failed"
	StatusIncomplete      Status = "incomplete"
)

// FailedItem is one metadata item that did not reach the target.
type FailedItem struct {
	Kind         string `yaml:"kind"`
	SourceItemID string `yaml:"source_item"`
	Name         string `yaml:"name,omitempty"`
	Error        string `yaml:"error,omitempty"`
}

// RepositorySummary describes one repository of the worklist.
type RepositorySummary struct {
	SourceID    int64        `yaml:"source_id"`
	SourcePath  string       `yaml:"source_path"`
	Target      string       `yaml:"target,omitempty"`
	Status      Status       `yaml:"status"`
	Stage       string       `yaml:"stage"`
	FailedStage string       `yaml:"failed_stage,omitempty"`
	Error       string       `yaml:"error,omitempty"`
	FailedItems []FailedItem `yaml:"failed_items,omitempty"`
}

// Summary groups the repositories of a run by status so an operator can
// re-run exactly the ones that need it.
type Summary struct {
	Succeeded       []RepositorySummary `yaml:"succeeded"`
	PartiallyFailed []RepositorySummary `yaml:"partially_failed"`
	Failed          []RepositorySummary `yaml:"failed"`
	Incomplete      []RepositorySummary `yaml:"incomplete,omitempty"`
}

// FailedItemSource lists the failed items of a target repository.
type FailedItemSource interface {
	FailedItems(executionContext context.Context, targetRepositoryID int64) ([]ledger.ItemRecord, error)
}

// Classify derives the summary status of a repository record. A failed
// repository that already has its code on the target is partially failed.
func Classify(record ledger.RepositoryRecord) Status {
	switch {
	case record.State() == ledger.StageComplete:
		return StatusSucceeded
	case record.Failed && record.Stage.Reached(ledger.StageCodeImported):
		return StatusPartiallyFailed
	case record.Failed:
		return StatusFailed
	default:
		return StatusIncomplete
	}
}

// Summarize builds the summary of records, in their order, attaching the
// failed items of every repository that has a target.
func Summarize(executionContext context.Context, records []ledger.RepositoryRecord, items FailedItemSource) (Summary, error) {
	summary := Summary{
		Succeeded:       []RepositorySummary{},
		PartiallyFailed: []RepositorySummary{},
		Failed:          []RepositorySummary{},
	}
	for _, record := range records {
		repository := RepositorySummary{
			SourceID:   record.SourceID,
			SourcePath: record.SourcePath,
			Target:     record.TargetFullName(),
			Status:     Classify(record),
			Stage:      string(record.Stage),
			Error:      record.LastError,
		}
		if record.Failed {
			repository.FailedStage = string(record.FailedStage)
		}
		if record.HasTarget() && items != nil && repository.Status != StatusSucceeded {
			failedItems, listError := items.FailedItems(executionContext, record.TargetID)
			if listError != nil {
				return Summary{}, fmt.Errorf(loadFailedItemsErrTemplate, record.SourcePath, listError)
			}
			for _, item := range failedItems {
				repository.FailedItems = append(repository.FailedItems, FailedItem{
					Kind:         string(item.Kind),
					SourceItemID: item.SourceItemID,
					Name:         item.SourceName,
					Error:        item.LastError,
				})
			}
		}

		switch repository.Status {
		case StatusSucceeded:
			summary.Succeeded = append(summary.Succeeded, repository)
		case StatusPartiallyFailed:
			summary.PartiallyFailed = append(summary.PartiallyFailed, repository)
		case StatusFailed:
			summary.Failed = append(summary.Failed, repository)
		default:
			summary.Incomplete = append(summary.Incomplete, repository)
		}
	}
	return summary, nil
}

// Render writes document as YAML.
func Render(writer io.Writer, document any) error {
	encoder := yaml.NewEncoder(writer)
	encoder.SetIndent(yamlIndentConstant)
	if encodeError := encoder.Encode(document); encodeError != nil {
		return fmt.Errorf(renderErrorTemplate, encodeError)
	}
	if closeError := encoder.Close(); closeError != nil {
		return fmt.Errorf(renderErrorTemplate, closeError)
	}
	return nil
}
