package projects

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lremane/gitlab-2-forge-migration/internal/inventory"
	"github.com/lremane/gitlab-2-forge-migration/internal/ledger"
)

const (
	tracerNameConstant                = "github.com/lremane/gitlab-2-forge-migration/internal/projects"
	spanNameTemplate                  = "stage %s"
	attributeRepositoryConstant       = "migration.repository"
	attributeSourceIDConstant         = "migration.source_id"
	attributeStageConstant            = "migration.stage"
	logFieldRepositoryConstant        = "repository"
	logFieldSourceIDConstant          = "source_id"
	logFieldStageConstant             = "stage"
	logFieldTargetConstant            = "target"
	logFieldTraceIDConstant           = "trace_id"
	logFieldWorkersConstant           = "workers"
	logFieldRepositoryCountConstant   = "repository_count"
	logFieldFailedCountConstant       = "failed_count"
	alreadyCompleteMessageConstant    = "repository already migrated"
	stageCommittedMessageConstant     = "stage committed"
	stageFailedMessageConstant        = "stage failed"
	stageInterruptedMessageConstant   = "stage interrupted"
	repositoryCompleteMessageConstant = "repository migrated"
	restartMessageConstant            = "restarting repository from pending"
	namespaceUnavailableMessage       = "organization unavailable, repository skipped"
	namespaceUnavailableErrorTemplate = "organization for %s unavailable: %w"
	worklistStartedMessageConstant    = "migrating worklist"
	worklistFinishedMessageConstant   = "worklist finished"
	defaultWorkersConstant            = 1
	ensureRecordErrorTemplate         = "record repository %s: %w"
	loadProjectErrorTemplate          = "load source project %d: %w"
	commitStageErrorTemplate          = "commit stage %s of %s: %w"
	stageErrorTemplate                = "%s at stage %s: %w"
	resetErrorTemplate                = "reset repository %s: %w"
	recordFailureErrorTemplate        = "record failure of %s: %w"
)

// ErrServiceNotConfigured indicates a service built without its collaborators.
var ErrServiceNotConfigured = errors.New("project migration service not configured")

// Dependencies wires the project migration service.
type Dependencies struct {
	Source         SourceProjects
	Target         TargetForge
	Store          Store
	Resolver       Resolver
	Git            GitTransfer
	Logger         *zap.Logger
	TracerProvider trace.TracerProvider
	SourceToken    string
	TargetToken    string
	Workers        int
	// FallbackAuthor posts items whose source author has no target account.
	FallbackAuthor string
}

// Options adjusts a worklist run.
type Options struct {
	// Restart resets every selected repository to pending before migrating.
	// Imported items stay recorded and are not created again.
	Restart bool
	// UnavailableNamespaces maps namespaces whose organization could not be
	// prepared to the reason. Their repositories fail without being touched.
	UnavailableNamespaces map[string]error
}

// Outcome is the result of migrating one repository.
type Outcome struct {
	SourceID   int64
	SourcePath string
	Record     ledger.RepositoryRecord
	Err        error
}

// Service runs the repository state machine.
type Service struct {
	source      SourceProjects
	target      TargetForge
	store       Store
	resolver    Resolver
	git         GitTransfer
	logger      *zap.Logger
	tracer      trace.Tracer
	sourceToken string
	targetToken string
	workers     int
	fallback    string
	handlers    map[ledger.Stage]stageHandler
}

type stageHandler func(executionContext context.Context, run *repositoryRun) error

// NewService constructs the project migration service.
func NewService(dependencies Dependencies) (*Service, error) {
	if dependencies.Source == nil || dependencies.Target == nil || dependencies.Store == nil || dependencies.Resolver == nil || dependencies.Git == nil {
		return nil, ErrServiceNotConfigured
	}
	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tracerProvider := dependencies.TracerProvider
	if tracerProvider == nil {
		tracerProvider = otel.GetTracerProvider()
	}
	workers := dependencies.Workers
	if workers < 1 {
		workers = defaultWorkersConstant
	}
	service := &Service{
		source:      dependencies.Source,
		target:      dependencies.Target,
		store:       dependencies.Store,
		resolver:    dependencies.Resolver,
		git:         dependencies.Git,
		logger:      logger,
		tracer:      tracerProvider.Tracer(tracerNameConstant),
		sourceToken: dependencies.SourceToken,
		targetToken: dependencies.TargetToken,
		workers:     workers,
		fallback:    strings.TrimSpace(dependencies.FallbackAuthor),
	}
	service.handlers = map[ledger.Stage]stageHandler{
		ledger.StageCodeImported:          service.importCode,
		ledger.StageWikiImported:          service.importWiki,
		ledger.StageLabelsImported:        service.importLabels,
		ledger.StageMilestonesImported:    service.importMilestones,
		ledger.StageIssuesImported:        service.importIssues,
		ledger.StageMergeRequestsImported: service.importMergeRequests,
		ledger.StageReleasesImported:      service.importReleases,
		ledger.StageComplete:              service.finishRepository,
	}
	return service, nil
}

// MigrateWorklist migrates the entries with at most Workers repositories in
// flight. A failing repository never stops the others; the returned error
// joins every repository failure, or is the context error on cancellation.
func (service *Service) MigrateWorklist(executionContext context.Context, entries []inventory.Entry, options Options) ([]Outcome, error) {
	if options.Restart {
		for _, entry := range entries {
			resetError := service.store.ResetRepository(executionContext, entry.SourceID)
			if resetError != nil && !errors.Is(resetError, ledger.ErrRepositoryNotRecorded) {
				return nil, fmt.Errorf(resetErrorTemplate, entry.Path, resetError)
			}
			if resetError == nil {
				service.logger.Info(restartMessageConstant, zap.String(logFieldRepositoryConstant, entry.Path))
			}
		}
	}

	service.logger.Info(worklistStartedMessageConstant, zap.Int(logFieldRepositoryCountConstant, len(entries)), zap.Int(logFieldWorkersConstant, service.workers))
	outcomes := make([]Outcome, len(entries))
	var workers errgroup.Group
	workers.SetLimit(service.workers)
	for entryIndex, entry := range entries {
		workers.Go(func() error {
			if contextError := executionContext.Err(); contextError != nil {
				outcomes[entryIndex] = Outcome{SourceID: entry.SourceID, SourcePath: entry.Path, Err: contextError}
				return nil
			}
			if namespaceError, unavailable := options.UnavailableNamespaces[entry.NamespacePath()]; unavailable {
				service.logger.Warn(namespaceUnavailableMessage, zap.String(logFieldRepositoryConstant, entry.Path), zap.Error(namespaceError))
				outcomes[entryIndex] = Outcome{SourceID: entry.SourceID, SourcePath: entry.Path, Err: fmt.Errorf(namespaceUnavailableErrorTemplate, entry.NamespacePath(), namespaceError)}
				return nil
			}
			outcomes[entryIndex] = service.MigrateRepository(executionContext, entry)
			return nil
		})
	}
	_ = workers.Wait()

	if contextError := executionContext.Err(); contextError != nil {
		return outcomes, contextError
	}
	var failures []error
	for _, outcome := range outcomes {
		if outcome.Err != nil {
			failures = append(failures, outcome.Err)
		}
	}
	service.logger.Info(worklistFinishedMessageConstant, zap.Int(logFieldRepositoryCountConstant, len(entries)), zap.Int(logFieldFailedCountConstant, len(failures)))
	return outcomes, errors.Join(failures...)
}

// MigrateRepository runs every stage the ledger has not committed yet for one
// repository, in order, and stops at the first failing stage.
func (service *Service) MigrateRepository(executionContext context.Context, entry inventory.Entry) Outcome {
	outcome := Outcome{SourceID: entry.SourceID, SourcePath: entry.Path}
	logger := service.logger.With(zap.String(logFieldRepositoryConstant, entry.Path), zap.Int64(logFieldSourceIDConstant, entry.SourceID))

	record, ensureError := service.store.EnsureRepository(executionContext, entry.SourceID, entry.Path, entry.HTTPURL)
	if ensureError != nil {
		outcome.Err = fmt.Errorf(ensureRecordErrorTemplate, entry.Path, ensureError)
		return outcome
	}
	outcome.Record = record
	if record.State() == ledger.StageComplete {
		logger.Info(alreadyCompleteMessageConstant, zap.String(logFieldTargetConstant, record.TargetFullName()))
		return outcome
	}

	project, projectError := service.source.GetProject(executionContext, entry.SourceID)
	if projectError != nil {
		return service.fail(executionContext, outcome, record.NextStage(), fmt.Errorf(loadProjectErrorTemplate, entry.SourceID, projectError), logger)
	}

	run := &repositoryRun{
		project:      project,
		record:       record,
		logger:       logger,
		participants: newParticipants(service, logger),
	}
	for run.record.Stage != ledger.StageComplete {
		stage := run.record.NextStage()
		if stageError := service.runStage(executionContext, stage, run); stageError != nil {
			outcome.Record = run.record
			return service.fail(executionContext, outcome, stage, stageError, logger)
		}
		committed, commitError := service.store.CompleteStage(executionContext, entry.SourceID, stage)
		if commitError != nil {
			outcome.Record = run.record
			outcome.Err = fmt.Errorf(commitStageErrorTemplate, stage, entry.Path, commitError)
			return outcome
		}
		run.record = committed
		logger.Info(stageCommittedMessageConstant, zap.String(logFieldStageConstant, string(stage)), zap.String(logFieldTargetConstant, committed.TargetFullName()))
	}

	outcome.Record = run.record
	logger.Info(repositoryCompleteMessageConstant, zap.String(logFieldTargetConstant, run.record.TargetFullName()))
	return outcome
}

func (service *Service) runStage(executionContext context.Context, stage ledger.Stage, run *repositoryRun) error {
	stageContext, span := service.tracer.Start(executionContext, fmt.Sprintf(spanNameTemplate, stage), trace.WithAttributes(
		attribute.String(attributeRepositoryConstant, run.record.SourcePath),
		attribute.Int64(attributeSourceIDConstant, run.record.SourceID),
		attribute.String(attributeStageConstant, string(stage)),
	))
	defer span.End()

	handlerError := service.handlers[stage](stageContext, run)
	if handlerError != nil {
		span.RecordError(handlerError)
		span.SetStatus(codes.Error, handlerError.Error())
		return handlerError
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// fail records a stage failure in the ledger. Cancellation is not a failure:
// the stage stays uncommitted and the next run simply executes it again.
func (service *Service) fail(executionContext context.Context, outcome Outcome, stage ledger.Stage, stageError error, logger *zap.Logger) Outcome {
	outcome.Err = fmt.Errorf(stageErrorTemplate, outcome.SourcePath, stage, stageError)
	if isCancellation(stageError) {
		logger.Warn(stageInterruptedMessageConstant, zap.String(logFieldStageConstant, string(stage)))
		return outcome
	}

	fields := []zap.Field{zap.String(logFieldStageConstant, string(stage)), zap.Error(stageError)}
	if spanContext := trace.SpanContextFromContext(executionContext); spanContext.IsValid() {
		fields = append(fields, zap.String(logFieldTraceIDConstant, spanContext.TraceID().String()))
	}
	logger.Error(stageFailedMessageConstant, fields...)

	if recordError := service.store.FailStage(executionContext, outcome.SourceID, stage, stageError.Error()); recordError != nil {
		outcome.Err = errors.Join(outcome.Err, fmt.Errorf(recordFailureErrorTemplate, outcome.SourcePath, recordError))
		return outcome
	}
	if refreshed, found, refreshError := service.store.Repository(executionContext, outcome.SourceID); refreshError == nil && found {
		outcome.Record = refreshed
	}
	return outcome
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
