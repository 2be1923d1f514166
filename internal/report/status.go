package report

import (
	"time"

	"github.com/lremane/gitlab-2-forge-migration/internal/ledger"
)

const timestampLayoutConstant = time.RFC3339

// ItemCounts totals the imported items of a repository per kind.
type ItemCounts struct {
	Labels        int `yaml:"labels"`
	Milestones    int `yaml:"milestones"`
	Issues        int `yaml:"issues"`
	MergeRequests int `yaml:"merge_requests"`
	Releases      int `yaml:"releases"`
}

// RepositoryStatus is the ledger view of one repository.
type RepositoryStatus struct {
	SourceID   int64      `yaml:"source_id"`
	SourcePath string     `yaml:"source_path"`
	Target     string     `yaml:"target,omitempty"`
	State      string     `yaml:"state"`
	NextStage  string     `yaml:"next_stage,omitempty"`
	LastError  string     `yaml:"last_error,omitempty"`
	Imported   ItemCounts `yaml:"imported"`
	UpdatedAt  string     `yaml:"updated_at,omitempty"`
}

// StatusView lists every repository the ledger knows and totals them by state.
type StatusView struct {
	Repositories []RepositoryStatus `yaml:"repositories"`
	Totals       map[string]int     `yaml:"totals"`
}

// BuildStatus renders ledger records into the status view.
func BuildStatus(records []ledger.RepositoryRecord) StatusView {
	view := StatusView{Repositories: make([]RepositoryStatus, 0, len(records)), Totals: make(map[string]int)}
	for _, record := range records {
		state := string(record.State())
		repository := RepositoryStatus{
			SourceID:   record.SourceID,
			SourcePath: record.SourcePath,
			Target:     record.TargetFullName(),
			State:      state,
			LastError:  record.LastError,
			Imported: ItemCounts{
				Labels:        record.Counts.Labels,
				Milestones:    record.Counts.Milestones,
				Issues:        record.Counts.Issues,
				MergeRequests: record.Counts.MergeRequests,
				Releases:      record.Counts.Releases,
			},
		}
		if record.Stage != ledger.StageComplete {
			repository.NextStage = string(record.NextStage())
		}
		if !record.UpdatedAt.IsZero() {
			repository.UpdatedAt = record.UpdatedAt.UTC().Format(timestampLayoutConstant)
		}
		view.Repositories = append(view.Repositories, repository)
		view.Totals[state]++
	}
	return view
}
