package projects

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/lremane/gitlab-2-forge-migration/internal/ledger"
)

const (
	itemFailedMessageConstant    = "item import failed"
	itemImportedMessageConstant  = "item imported"
	itemFailuresErrorTemplate    = "%d %s item(s) failed: %s"
	listItemsErrorTemplate       = "load %s records: %w"
	recordItemErrorTemplate      = "record %s %s: %w"
	itemIdentifierSeparator      = ", "
	logFieldTargetItemIDConstant = "target_item_id"
)

// ItemFailuresError lists the items of one kind that failed within a stage.
// A retry of the stage only attempts these items.
type ItemFailuresError struct {
	Kind          ledger.ItemKind
	SourceItemIDs []string
	Causes        []error
}

// Error lists the failed source identifiers.
func (failures ItemFailuresError) Error() string {
	return fmt.Sprintf(itemFailuresErrorTemplate, len(failures.SourceItemIDs), failures.Kind, strings.Join(failures.SourceItemIDs, itemIdentifierSeparator))
}

// Unwrap exposes the per-item causes.
func (failures ItemFailuresError) Unwrap() []error {
	return failures.Causes
}

// itemImport describes how to create one source item on the target.
// finish runs after creation, and alone on a retry when creation had already
// been confirmed.
type itemImport struct {
	sourceItemID string
	sourceName   string
	create       func(executionContext context.Context) (int64, error)
	finish       func(executionContext context.Context, targetItemID int64) error
}

// importItems creates every item not yet recorded as imported and records each
// outcome keyed by target repository, kind and source identifier.
func (service *Service) importItems(executionContext context.Context, run *repositoryRun, kind ledger.ItemKind, imports []itemImport) error {
	records, listError := service.store.Items(executionContext, run.record.TargetID, kind)
	if listError != nil {
		return fmt.Errorf(listItemsErrorTemplate, kind, listError)
	}
	known := make(map[string]ledger.ItemRecord, len(records))
	for _, record := range records {
		known[record.SourceItemID] = record
	}

	failures := ItemFailuresError{Kind: kind}
	for _, item := range imports {
		if contextError := executionContext.Err(); contextError != nil {
			return contextError
		}
		previous, recorded := known[item.sourceItemID]
		if recorded && previous.Status == ledger.ItemStatusImported {
			continue
		}

		targetItemID := previous.TargetItemID
		var importError error
		if targetItemID == 0 {
			targetItemID, importError = item.create(executionContext)
		}
		if importError == nil && item.finish != nil {
			importError = item.finish(executionContext, targetItemID)
		}

		// Confirmed side effects are recorded even when the run is being cancelled.
		recordContext := context.WithoutCancel(executionContext)
		if importError != nil {
			if isCancellation(importError) {
				if targetItemID > 0 {
					_ = service.recordItem(recordContext, run, kind, item, targetItemID, importError)
				}
				return importError
			}
			if recordError := service.recordItem(recordContext, run, kind, item, targetItemID, importError); recordError != nil {
				return recordError
			}
			run.logger.Warn(itemFailedMessageConstant,
				zap.String(logFieldItemKindConstant, string(kind)),
				zap.String(logFieldItemConstant, item.sourceItemID),
				zap.Error(importError),
			)
			failures.SourceItemIDs = append(failures.SourceItemIDs, item.sourceItemID)
			failures.Causes = append(failures.Causes, importError)
			continue
		}
		if recordError := service.recordItem(recordContext, run, kind, item, targetItemID, nil); recordError != nil {
			return recordError
		}
		run.logger.Debug(itemImportedMessageConstant,
			zap.String(logFieldItemKindConstant, string(kind)),
			zap.String(logFieldItemConstant, item.sourceItemID),
			zap.Int64(logFieldTargetItemIDConstant, targetItemID),
		)
	}

	if len(failures.SourceItemIDs) > 0 {
		return failures
	}
	return nil
}

func (service *Service) recordItem(executionContext context.Context, run *repositoryRun, kind ledger.ItemKind, item itemImport, targetItemID int64, importError error) error {
	record := ledger.ItemRecord{
		TargetRepositoryID: run.record.TargetID,
		Kind:               kind,
		SourceItemID:       item.sourceItemID,
		SourceName:         item.sourceName,
		TargetItemID:       targetItemID,
		Status:             ledger.ItemStatusImported,
	}
	if importError != nil {
		record.Status = ledger.ItemStatusFailed
		record.LastError = importError.Error()
	}
	if recordError := service.store.RecordItem(executionContext, record); recordError != nil {
		return fmt.Errorf(recordItemErrorTemplate, kind, item.sourceItemID, recordError)
	}
	return nil
}
