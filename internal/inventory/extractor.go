package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/lremane/gitlab-2-forge-migration/internal/gitlab"
)

const (
	extractionCompletedMessage   = "source inventory extracted"
	extractionPartialMessage     = "source inventory extraction interrupted, keeping partial results"
	mergeCompletedMessage        = "inventory merged"
	logFieldProjectCountConstant = "project_count"
	logFieldAppendedConstant     = "appended_count"
	logFieldKeptConstant         = "kept_count"
	extractErrorTemplate         = "extract source inventory: %w"
)

// ErrProjectListerNotConfigured indicates an extractor without a source.
var ErrProjectListerNotConfigured = errors.New("project lister not configured")

// ProjectLister lists every project the source credential can see. On failure
// it returns the projects fetched before the failure together with the error.
type ProjectLister interface {
	ListProjects(executionContext context.Context) ([]gitlab.Project, error)
}

// Extractor produces inventory entries from the source forge.
type Extractor struct {
	source ProjectLister
	logger *zap.Logger
}

// NewExtractor constructs an Extractor.
func NewExtractor(source ProjectLister, logger *zap.Logger) (*Extractor, error) {
	if source == nil {
		return nil, ErrProjectListerNotConfigured
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{source: source, logger: logger}, nil
}

// Extract lists every visible repository ordered by source identifier. When
// paging fails mid-way the entries fetched so far are returned with the error.
func (extractor *Extractor) Extract(executionContext context.Context) ([]Entry, error) {
	projects, listError := extractor.source.ListProjects(executionContext)

	entries := make([]Entry, 0, len(projects))
	for _, project := range projects {
		entries = append(entries, EntryFromProject(project))
	}
	sort.SliceStable(entries, func(left int, right int) bool {
		return entries[left].SourceID < entries[right].SourceID
	})

	if listError != nil {
		extractor.logger.Warn(extractionPartialMessage, zap.Int(logFieldProjectCountConstant, len(entries)), zap.Error(listError))
		return entries, fmt.Errorf(extractErrorTemplate, listError)
	}
	extractor.logger.Info(extractionCompletedMessage, zap.Int(logFieldProjectCountConstant, len(entries)))
	return entries, nil
}

// EntryFromProject builds the inventory entry of a source project.
func EntryFromProject(project gitlab.Project) Entry {
	return Entry{
		SourceID:       project.ID,
		Path:           project.PathWithNamespace,
		Namespace:      project.Namespace.FullPath,
		NamespaceKind:  project.Namespace.Kind,
		Visibility:     project.Visibility,
		Archived:       project.Archived,
		Include:        true,
		RevisionMarker: project.LastActivityAt,
		HTTPURL:        project.HTTPURLToRepo,
		WebURL:         project.WebURL,
		Attributes: map[string]string{
			ColumnRepositorySizeBytes: strconv.FormatInt(project.Statistics.RepositorySize, 10),
			ColumnLFSSizeBytes:        strconv.FormatInt(project.Statistics.LFSObjectsSize, 10),
		},
	}
}

// Merge appends the extracted entries whose source identifier the existing
// inventory lacks. Existing rows keep their edits and unknown columns.
func Merge(existing Inventory, extracted []Entry, logger *zap.Logger) Inventory {
	if logger == nil {
		logger = zap.NewNop()
	}
	header := append([]string{}, existing.Header...)
	presentColumns := make(map[string]struct{}, len(header))
	for _, column := range header {
		presentColumns[column] = struct{}{}
	}
	for _, column := range extractedColumns {
		if _, present := presentColumns[column]; !present {
			header = append(header, column)
			presentColumns[column] = struct{}{}
		}
	}

	merged := Inventory{Header: header, Entries: append([]Entry{}, existing.Entries...)}
	knownIdentifiers := make(map[int64]struct{}, len(existing.Entries))
	for _, entry := range existing.Entries {
		knownIdentifiers[entry.SourceID] = struct{}{}
	}
	appended := 0
	for _, entry := range extracted {
		if _, known := knownIdentifiers[entry.SourceID]; known {
			continue
		}
		knownIdentifiers[entry.SourceID] = struct{}{}
		merged.Entries = append(merged.Entries, entry)
		appended++
	}
	logger.Info(mergeCompletedMessage, zap.Int(logFieldKeptConstant, len(existing.Entries)), zap.Int(logFieldAppendedConstant, appended))
	return merged
}
