package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/lremane/gitlab-2-forge-migration/internal/ledger/migrations"
)

const (
	sqliteDriverNameConstant          = "sqlite"
	sqliteOptionsConstant             = "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)"
	ledgerDirectoryPermissionConstant = 0o755
	storagePathRequiredMessage        = "ledger path is required"
	storeNotConfiguredMessage         = "ledger is not configured"
	stageOutOfOrderTemplate           = "stage %s cannot follow %s for repository %d"
	repositoryNotFoundTemplate        = "repository %d is not recorded in the ledger"
	createDirectoryErrorTemplate      = "create ledger directory: %w"
	openErrorTemplate                 = "open ledger: %w"
	pingErrorTemplate                 = "ping ledger: %w"
	migrateErrorTemplate              = "migrate ledger: %w"
	queryErrorTemplate                = "%s: %w"
	operationBeginRun                 = "begin run"
	operationFinishRun                = "finish run"
	operationEnsureRepository         = "ensure repository"
	operationLoadRepository           = "load repository"
	operationListRepositories         = "list repositories"
	operationRecordTarget             = "record target"
	operationCompleteStage            = "complete stage"
	operationFailStage                = "fail stage"
	operationResetRepository          = "reset repository"
	operationLoadItem                 = "load item"
	operationListItems                = "list items"
	operationRecordItem               = "record item"
	operationLoadUserMapping          = "load user mapping"
	operationSaveUserMapping          = "save user mapping"
	operationLoadGroupMapping         = "load group mapping"
	operationSaveGroupMapping         = "save group mapping"
	operationSaveGroupMember          = "save group member"
	operationListGroupMembers         = "list group members"
	operationLoadMirror               = "load mirror"
	operationSaveMirror               = "save mirror"
	operationListMirrors              = "list mirrors"
)

// ErrStoreNotConfigured indicates a nil or closed store.
var ErrStoreNotConfigured = errors.New(storeNotConfiguredMessage)

// ErrStagePredecessorMissing indicates an attempt to commit a stage whose predecessor is not committed.
var ErrStagePredecessorMissing = errors.New("stage predecessor not committed")

// ErrRepositoryNotRecorded indicates an operation on a repository the ledger does not know.
var ErrRepositoryNotRecorded = errors.New("repository not recorded")

const repositoryColumns = `source_id, source_path, source_http_url, target_owner, target_name, target_id, stage, failed, failed_stage, last_error,
labels_count, milestones_count, issues_count, merge_requests_count, releases_count, created_at, updated_at`

// Store is the SQLite-backed ledger.
type Store struct {
	database *sql.DB
	now      func() time.Time
}

// Open opens or creates the ledger at path and applies pending migrations.
func Open(executionContext context.Context, path string) (*Store, error) {
	trimmedPath := strings.TrimSpace(path)
	if len(trimmedPath) == 0 {
		return nil, errors.New(storagePathRequiredMessage)
	}
	cleanPath := filepath.Clean(trimmedPath)
	if directory := filepath.Dir(cleanPath); len(directory) > 0 {
		if creationError := os.MkdirAll(directory, ledgerDirectoryPermissionConstant); creationError != nil {
			return nil, fmt.Errorf(createDirectoryErrorTemplate, creationError)
		}
	}

	database, openError := sql.Open(sqliteDriverNameConstant, cleanPath+sqliteOptionsConstant)
	if openError != nil {
		return nil, fmt.Errorf(openErrorTemplate, openError)
	}
	database.SetMaxOpenConns(1)

	if pingError := database.PingContext(executionContext); pingError != nil {
		_ = database.Close()
		return nil, fmt.Errorf(pingErrorTemplate, pingError)
	}

	if migrationError := applyMigrations(executionContext, database, migrations.FS); migrationError != nil {
		_ = database.Close()
		return nil, fmt.Errorf(migrateErrorTemplate, migrationError)
	}

	return &Store{database: database, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close releases the database handle.
func (store *Store) Close() error {
	if store == nil || store.database == nil {
		return nil
	}
	return store.database.Close()
}

func (store *Store) ready(executionContext context.Context) error {
	if contextError := executionContext.Err(); contextError != nil {
		return contextError
	}
	if store == nil || store.database == nil {
		return ErrStoreNotConfigured
	}
	return nil
}

// BeginRun records the start of a command invocation under a fresh identifier.
func (store *Store) BeginRun(executionContext context.Context, command string) (Run, error) {
	if readyError := store.ready(executionContext); readyError != nil {
		return Run{}, readyError
	}
	run := Run{ID: uuid.NewString(), Command: strings.TrimSpace(command), StartedAt: store.now()}
	_, insertError := store.database.ExecContext(executionContext,
		`INSERT INTO runs (id, command, started_at) VALUES (?, ?, ?)`,
		run.ID, run.Command, run.StartedAt.UnixMilli(),
	)
	if insertError != nil {
		return Run{}, fmt.Errorf(queryErrorTemplate, operationBeginRun, insertError)
	}
	return run, nil
}

// FinishRun records the end of a command invocation.
func (store *Store) FinishRun(executionContext context.Context, runID string, outcome string) error {
	if readyError := store.ready(executionContext); readyError != nil {
		return readyError
	}
	_, updateError := store.database.ExecContext(executionContext,
		`UPDATE runs SET finished_at = ?, outcome = ? WHERE id = ?`,
		store.now().UnixMilli(), strings.TrimSpace(outcome), runID,
	)
	if updateError != nil {
		return fmt.Errorf(queryErrorTemplate, operationFinishRun, updateError)
	}
	return nil
}

// EnsureRepository inserts a pending record for the source repository when none exists and returns the current record.
func (store *Store) EnsureRepository(executionContext context.Context, sourceID int64, sourcePath string, sourceHTTPURL string) (RepositoryRecord, error) {
	if readyError := store.ready(executionContext); readyError != nil {
		return RepositoryRecord{}, readyError
	}
	timestamp := store.now().UnixMilli()
	_, insertError := store.database.ExecContext(executionContext,
		`INSERT INTO repositories (source_id, source_path, source_http_url, stage, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (source_id) DO UPDATE SET source_path = excluded.source_path,
    source_http_url = CASE WHEN excluded.source_http_url = '' THEN repositories.source_http_url ELSE excluded.source_http_url END`,
		sourceID, strings.TrimSpace(sourcePath), strings.TrimSpace(sourceHTTPURL), string(StagePending), timestamp, timestamp,
	)
	if insertError != nil {
		return RepositoryRecord{}, fmt.Errorf(queryErrorTemplate, operationEnsureRepository, insertError)
	}
	record, _, loadError := store.Repository(executionContext, sourceID)
	return record, loadError
}

// Repository loads the record of a source repository.
func (store *Store) Repository(executionContext context.Context, sourceID int64) (RepositoryRecord, bool, error) {
	if readyError := store.ready(executionContext); readyError != nil {
		return RepositoryRecord{}, false, readyError
	}
	row := store.database.QueryRowContext(executionContext, `SELECT `+repositoryColumns+` FROM repositories WHERE source_id = ?`, sourceID)
	record, scanError := scanRepository(row)
	if errors.Is(scanError, sql.ErrNoRows) {
		return RepositoryRecord{}, false, nil
	}
	if scanError != nil {
		return RepositoryRecord{}, false, fmt.Errorf(queryErrorTemplate, operationLoadRepository, scanError)
	}
	return record, true, nil
}

// RepositoryByTarget finds the record that owns a target owner/name, if any.
func (store *Store) RepositoryByTarget(executionContext context.Context, owner string, name string) (RepositoryRecord, bool, error) {
	if readyError := store.ready(executionContext); readyError != nil {
		return RepositoryRecord{}, false, readyError
	}
	row := store.database.QueryRowContext(executionContext,
		`SELECT `+repositoryColumns+` FROM repositories WHERE lower(target_owner) = lower(?) AND lower(target_name) = lower(?) ORDER BY source_id LIMIT 1`,
		owner, name,
	)
	record, scanError := scanRepository(row)
	if errors.Is(scanError, sql.ErrNoRows) {
		return RepositoryRecord{}, false, nil
	}
	if scanError != nil {
		return RepositoryRecord{}, false, fmt.Errorf(queryErrorTemplate, operationLoadRepository, scanError)
	}
	return record, true, nil
}

// ListRepositories returns every repository record ordered by source identifier.
func (store *Store) ListRepositories(executionContext context.Context) ([]RepositoryRecord, error) {
	if readyError := store.ready(executionContext); readyError != nil {
		return nil, readyError
	}
	rows, queryError := store.database.QueryContext(executionContext, `SELECT `+repositoryColumns+` FROM repositories ORDER BY source_id`)
	if queryError != nil {
		return nil, fmt.Errorf(queryErrorTemplate, operationListRepositories, queryError)
	}
	defer rows.Close()

	records := make([]RepositoryRecord, 0)
	for rows.Next() {
		record, scanError := scanRepository(rows)
		if scanError != nil {
			return nil, fmt.Errorf(queryErrorTemplate, operationListRepositories, scanError)
		}
		records = append(records, record)
	}
	if rowsError := rows.Err(); rowsError != nil {
		return nil, fmt.Errorf(queryErrorTemplate, operationListRepositories, rowsError)
	}
	return records, nil
}

// CompletedRepositories returns the records that reached the complete stage.
func (store *Store) CompletedRepositories(executionContext context.Context) ([]RepositoryRecord, error) {
	records, listError := store.ListRepositories(executionContext)
	if listError != nil {
		return nil, listError
	}
	completed := make([]RepositoryRecord, 0, len(records))
	for _, record := range records {
		if record.State() == StageComplete && record.HasTarget() {
			completed = append(completed, record)
		}
	}
	return completed, nil
}

// RecordTarget stores the target owner and name of a repository. A zero
// targetID records the intention to create it before the creation call.
func (store *Store) RecordTarget(executionContext context.Context, sourceID int64, owner string, name string, targetID int64) error {
	if readyError := store.ready(executionContext); readyError != nil {
		return readyError
	}
	result, updateError := store.database.ExecContext(executionContext,
		`UPDATE repositories SET target_owner = ?, target_name = ?, target_id = ?, updated_at = ? WHERE source_id = ?`,
		owner, name, targetID, store.now().UnixMilli(), sourceID,
	)
	if updateError != nil {
		return fmt.Errorf(queryErrorTemplate, operationRecordTarget, updateError)
	}
	return requireAffected(result, sourceID)
}

// CompleteStage commits stage for a repository. The stage must directly follow
// the last committed one; counts are recomputed from the item records.
func (store *Store) CompleteStage(executionContext context.Context, sourceID int64, stage Stage) (RepositoryRecord, error) {
	if readyError := store.ready(executionContext); readyError != nil {
		return RepositoryRecord{}, readyError
	}

	transaction, beginError := store.database.BeginTx(executionContext, nil)
	if beginError != nil {
		return RepositoryRecord{}, fmt.Errorf(queryErrorTemplate, operationCompleteStage, beginError)
	}
	defer func() { _ = transaction.Rollback() }()

	record, scanError := scanRepository(transaction.QueryRowContext(executionContext, `SELECT `+repositoryColumns+` FROM repositories WHERE source_id = ?`, sourceID))
	if errors.Is(scanError, sql.ErrNoRows) {
		return RepositoryRecord{}, fmt.Errorf(repositoryNotFoundTemplate+": %w", sourceID, ErrRepositoryNotRecorded)
	}
	if scanError != nil {
		return RepositoryRecord{}, fmt.Errorf(queryErrorTemplate, operationCompleteStage, scanError)
	}
	if record.Stage.Next() != stage {
		return RepositoryRecord{}, fmt.Errorf(stageOutOfOrderTemplate+": %w", stage, record.Stage, sourceID, ErrStagePredecessorMissing)
	}

	counts, countError := countItems(executionContext, transaction, record.TargetID)
	if countError != nil {
		return RepositoryRecord{}, fmt.Errorf(queryErrorTemplate, operationCompleteStage, countError)
	}

	_, updateError := transaction.ExecContext(executionContext,
		`UPDATE repositories SET stage = ?, failed = 0, failed_stage = '', last_error = '',
    labels_count = ?, milestones_count = ?, issues_count = ?, merge_requests_count = ?, releases_count = ?, updated_at = ?
WHERE source_id = ?`,
		string(stage), counts.Labels, counts.Milestones, counts.Issues, counts.MergeRequests, counts.Releases, store.now().UnixMilli(), sourceID,
	)
	if updateError != nil {
		return RepositoryRecord{}, fmt.Errorf(queryErrorTemplate, operationCompleteStage, updateError)
	}
	if commitError := transaction.Commit(); commitError != nil {
		return RepositoryRecord{}, fmt.Errorf(queryErrorTemplate, operationCompleteStage, commitError)
	}

	updatedRecord, _, loadError := store.Repository(executionContext, sourceID)
	return updatedRecord, loadError
}

// FailStage marks a repository failed at stage without moving its committed stage.
func (store *Store) FailStage(executionContext context.Context, sourceID int64, stage Stage, message string) error {
	if readyError := store.ready(executionContext); readyError != nil {
		return readyError
	}
	result, updateError := store.database.ExecContext(executionContext,
		`UPDATE repositories SET failed = 1, failed_stage = ?, last_error = ?, updated_at = ? WHERE source_id = ?`,
		string(stage), message, store.now().UnixMilli(), sourceID,
	)
	if updateError != nil {
		return fmt.Errorf(queryErrorTemplate, operationFailStage, updateError)
	}
	return requireAffected(result, sourceID)
}

// ResetRepository moves a repository back to pending. Target and item records are kept so nothing is created twice.
func (store *Store) ResetRepository(executionContext context.Context, sourceID int64) error {
	if readyError := store.ready(executionContext); readyError != nil {
		return readyError
	}
	result, updateError := store.database.ExecContext(executionContext,
		`UPDATE repositories SET stage = ?, failed = 0, failed_stage = '', last_error = '', updated_at = ? WHERE source_id = ?`,
		string(StagePending), store.now().UnixMilli(), sourceID,
	)
	if updateError != nil {
		return fmt.Errorf(queryErrorTemplate, operationResetRepository, updateError)
	}
	return requireAffected(result, sourceID)
}

// Item loads the idempotency record of one metadata item.
func (store *Store) Item(executionContext context.Context, targetRepositoryID int64, kind ItemKind, sourceItemID string) (ItemRecord, bool, error) {
	if readyError := store.ready(executionContext); readyError != nil {
		return ItemRecord{}, false, readyError
	}
	row := store.database.QueryRowContext(executionContext,
		`SELECT target_repository_id, kind, source_item_id, source_name, target_item_id, status, last_error, updated_at
FROM items WHERE target_repository_id = ? AND kind = ? AND source_item_id = ?`,
		targetRepositoryID, string(kind), sourceItemID,
	)
	item, scanError := scanItem(row)
	if errors.Is(scanError, sql.ErrNoRows) {
		return ItemRecord{}, false, nil
	}
	if scanError != nil {
		return ItemRecord{}, false, fmt.Errorf(queryErrorTemplate, operationLoadItem, scanError)
	}
	return item, true, nil
}

// Items lists the item records of one kind for a target repository, ordered by source identifier.
func (store *Store) Items(executionContext context.Context, targetRepositoryID int64, kind ItemKind) ([]ItemRecord, error) {
	if readyError := store.ready(executionContext); readyError != nil {
		return nil, readyError
	}
	rows, queryError := store.database.QueryContext(executionContext,
		`SELECT target_repository_id, kind, source_item_id, source_name, target_item_id, status, last_error, updated_at
FROM items WHERE target_repository_id = ? AND kind = ? ORDER BY source_item_id`,
		targetRepositoryID, string(kind),
	)
	if queryError != nil {
		return nil, fmt.Errorf(queryErrorTemplate, operationListItems, queryError)
	}
	defer rows.Close()

	items := make([]ItemRecord, 0)
	for rows.Next() {
		item, scanError := scanItem(rows)
		if scanError != nil {
			return nil, fmt.Errorf(queryErrorTemplate, operationListItems, scanError)
		}
		items = append(items, item)
	}
	if rowsError := rows.Err(); rowsError != nil {
		return nil, fmt.Errorf(queryErrorTemplate, operationListItems, rowsError)
	}
	return items, nil
}

// FailedItems lists the failed item records of every kind for a target repository.
func (store *Store) FailedItems(executionContext context.Context, targetRepositoryID int64) ([]ItemRecord, error) {
	failedItems := make([]ItemRecord, 0)
	for _, kind := range []ItemKind{ItemKindLabel, ItemKindMilestone, ItemKindIssue, ItemKindMergeRequest, ItemKindRelease} {
		items, listError := store.Items(executionContext, targetRepositoryID, kind)
		if listError != nil {
			return nil, listError
		}
		for _, item := range items {
			if item.Status == ItemStatusFailed {
				failedItems = append(failedItems, item)
			}
		}
	}
	return failedItems, nil
}

// RecordItem upserts an item record. A failure never overwrites an earlier successful import.
func (store *Store) RecordItem(executionContext context.Context, item ItemRecord) error {
	if readyError := store.ready(executionContext); readyError != nil {
		return readyError
	}
	_, upsertError := store.database.ExecContext(executionContext,
		`INSERT INTO items (target_repository_id, kind, source_item_id, source_name, target_item_id, status, last_error, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (target_repository_id, kind, source_item_id) DO UPDATE SET
    source_name = excluded.source_name,
    target_item_id = CASE WHEN items.status = 'imported' AND excluded.status = 'failed' THEN items.target_item_id ELSE excluded.target_item_id END,
    status = CASE WHEN items.status = 'imported' AND excluded.status = 'failed' THEN items.status ELSE excluded.status END,
    last_error = excluded.last_error,
    updated_at = excluded.updated_at`,
		item.TargetRepositoryID, string(item.Kind), item.SourceItemID, item.SourceName, item.TargetItemID, string(item.Status), item.LastError, store.now().UnixMilli(),
	)
	if upsertError != nil {
		return fmt.Errorf(queryErrorTemplate, operationRecordItem, upsertError)
	}
	return nil
}

// UserMapping loads the mapping of a source account.
func (store *Store) UserMapping(executionContext context.Context, sourceUserID int64) (UserMapping, bool, error) {
	mappings, queryError := store.queryUserMappings(executionContext, `WHERE source_user_id = ?`, sourceUserID)
	if queryError != nil || len(mappings) == 0 {
		return UserMapping{}, false, queryError
	}
	return mappings[0], true, nil
}

// UserMappingsByEmail lists the mappings sharing a normalized email address.
func (store *Store) UserMappingsByEmail(executionContext context.Context, normalizedEmail string) ([]UserMapping, error) {
	if len(strings.TrimSpace(normalizedEmail)) == 0 {
		return nil, nil
	}
	return store.queryUserMappings(executionContext, `WHERE normalized_email = ?`, normalizedEmail)
}

// UserMappingsByTarget lists the mappings that resolve to a target account.
func (store *Store) UserMappingsByTarget(executionContext context.Context, targetUsername string) ([]UserMapping, error) {
	return store.queryUserMappings(executionContext, `WHERE lower(target_username) = lower(?)`, targetUsername)
}

// ListUserMappings returns every user mapping.
func (store *Store) ListUserMappings(executionContext context.Context) ([]UserMapping, error) {
	return store.queryUserMappings(executionContext, ``)
}

// SaveUserMapping upserts a user mapping.
func (store *Store) SaveUserMapping(executionContext context.Context, mapping UserMapping) error {
	if readyError := store.ready(executionContext); readyError != nil {
		return readyError
	}
	collision := 0
	if mapping.Collision {
		collision = 1
	}
	_, upsertError := store.database.ExecContext(executionContext,
		`INSERT INTO user_mappings (source_user_id, source_username, normalized_email, target_user_id, target_username, collision, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (source_user_id) DO UPDATE SET source_username = excluded.source_username, normalized_email = excluded.normalized_email,
    target_user_id = excluded.target_user_id, target_username = excluded.target_username, collision = excluded.collision`,
		mapping.SourceUserID, mapping.SourceUsername, mapping.NormalizedEmail, mapping.TargetUserID, mapping.TargetUsername, collision, store.now().UnixMilli(),
	)
	if upsertError != nil {
		return fmt.Errorf(queryErrorTemplate, operationSaveUserMapping, upsertError)
	}
	return nil
}

func (store *Store) queryUserMappings(executionContext context.Context, whereClause string, arguments ...any) ([]UserMapping, error) {
	if readyError := store.ready(executionContext); readyError != nil {
		return nil, readyError
	}
	rows, queryError := store.database.QueryContext(executionContext,
		`SELECT source_user_id, source_username, normalized_email, target_user_id, target_username, collision, created_at FROM user_mappings `+whereClause+` ORDER BY source_user_id`,
		arguments...,
	)
	if queryError != nil {
		return nil, fmt.Errorf(queryErrorTemplate, operationLoadUserMapping, queryError)
	}
	defer rows.Close()

	mappings := make([]UserMapping, 0)
	for rows.Next() {
		var mapping UserMapping
		var collision int
		var createdAt int64
		if scanError := rows.Scan(&mapping.SourceUserID, &mapping.SourceUsername, &mapping.NormalizedEmail, &mapping.TargetUserID, &mapping.TargetUsername, &collision, &createdAt); scanError != nil {
			return nil, fmt.Errorf(queryErrorTemplate, operationLoadUserMapping, scanError)
		}
		mapping.Collision = collision != 0
		mapping.CreatedAt = time.UnixMilli(createdAt).UTC()
		mappings = append(mappings, mapping)
	}
	if rowsError := rows.Err(); rowsError != nil {
		return nil, fmt.Errorf(queryErrorTemplate, operationLoadUserMapping, rowsError)
	}
	return mappings, nil
}

// GroupMapping loads the mapping of a source group path.
func (store *Store) GroupMapping(executionContext context.Context, sourcePath string) (GroupMapping, bool, error) {
	if readyError := store.ready(executionContext); readyError != nil {
		return GroupMapping{}, false, readyError
	}
	var mapping GroupMapping
	var createdAt, updatedAt int64
	scanError := store.database.QueryRowContext(executionContext,
		`SELECT source_path, source_group_id, target_organization, target_organization_id, created_at, updated_at FROM group_mappings WHERE source_path = ?`,
		sourcePath,
	).Scan(&mapping.SourcePath, &mapping.SourceGroupID, &mapping.TargetOrganization, &mapping.TargetOrganizationID, &createdAt, &updatedAt)
	if errors.Is(scanError, sql.ErrNoRows) {
		return GroupMapping{}, false, nil
	}
	if scanError != nil {
		return GroupMapping{}, false, fmt.Errorf(queryErrorTemplate, operationLoadGroupMapping, scanError)
	}
	mapping.CreatedAt = time.UnixMilli(createdAt).UTC()
	mapping.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return mapping, true, nil
}

// SaveGroupMapping upserts a group mapping.
func (store *Store) SaveGroupMapping(executionContext context.Context, mapping GroupMapping) error {
	if readyError := store.ready(executionContext); readyError != nil {
		return readyError
	}
	timestamp := store.now().UnixMilli()
	_, upsertError := store.database.ExecContext(executionContext,
		`INSERT INTO group_mappings (source_path, source_group_id, target_organization, target_organization_id, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (source_path) DO UPDATE SET source_group_id = excluded.source_group_id, target_organization = excluded.target_organization,
    target_organization_id = excluded.target_organization_id, updated_at = excluded.updated_at`,
		mapping.SourcePath, mapping.SourceGroupID, mapping.TargetOrganization, mapping.TargetOrganizationID, timestamp, timestamp,
	)
	if upsertError != nil {
		return fmt.Errorf(queryErrorTemplate, operationSaveGroupMapping, upsertError)
	}
	return nil
}

// SaveGroupMember upserts the role granted to a source member.
func (store *Store) SaveGroupMember(executionContext context.Context, member GroupMember) error {
	if readyError := store.ready(executionContext); readyError != nil {
		return readyError
	}
	_, upsertError := store.database.ExecContext(executionContext,
		`INSERT INTO group_members (source_path, source_user_id, target_username, role, updated_at) VALUES (?, ?, ?, ?, ?)
ON CONFLICT (source_path, source_user_id) DO UPDATE SET target_username = excluded.target_username, role = excluded.role, updated_at = excluded.updated_at`,
		member.SourcePath, member.SourceUserID, member.TargetUsername, member.Role, store.now().UnixMilli(),
	)
	if upsertError != nil {
		return fmt.Errorf(queryErrorTemplate, operationSaveGroupMember, upsertError)
	}
	return nil
}

// GroupMembers lists the recorded members of a source group.
func (store *Store) GroupMembers(executionContext context.Context, sourcePath string) ([]GroupMember, error) {
	if readyError := store.ready(executionContext); readyError != nil {
		return nil, readyError
	}
	rows, queryError := store.database.QueryContext(executionContext,
		`SELECT source_path, source_user_id, target_username, role, updated_at FROM group_members WHERE source_path = ? ORDER BY source_user_id`,
		sourcePath,
	)
	if queryError != nil {
		return nil, fmt.Errorf(queryErrorTemplate, operationListGroupMembers, queryError)
	}
	defer rows.Close()

	members := make([]GroupMember, 0)
	for rows.Next() {
		var member GroupMember
		var updatedAt int64
		if scanError := rows.Scan(&member.SourcePath, &member.SourceUserID, &member.TargetUsername, &member.Role, &updatedAt); scanError != nil {
			return nil, fmt.Errorf(queryErrorTemplate, operationListGroupMembers, scanError)
		}
		member.UpdatedAt = time.UnixMilli(updatedAt).UTC()
		members = append(members, member)
	}
	if rowsError := rows.Err(); rowsError != nil {
		return nil, fmt.Errorf(queryErrorTemplate, operationListGroupMembers, rowsError)
	}
	return members, nil
}

// Mirror loads a mirror record by target repository and remote address.
func (store *Store) Mirror(executionContext context.Context, targetRepositoryID int64, remoteAddress string) (MirrorRecord, bool, error) {
	mirrors, listError := store.queryMirrors(executionContext, `WHERE target_repository_id = ? AND remote_address = ?`, targetRepositoryID, remoteAddress)
	if listError != nil || len(mirrors) == 0 {
		return MirrorRecord{}, false, listError
	}
	return mirrors[0], true, nil
}

// ListMirrors returns every mirror record.
func (store *Store) ListMirrors(executionContext context.Context) ([]MirrorRecord, error) {
	return store.queryMirrors(executionContext, ``)
}

// SaveMirror records a configured push mirror.
func (store *Store) SaveMirror(executionContext context.Context, mirror MirrorRecord) error {
	if readyError := store.ready(executionContext); readyError != nil {
		return readyError
	}
	_, insertError := store.database.ExecContext(executionContext,
		`INSERT INTO mirrors (target_repository_id, remote_address, credential_reference, sync_interval, created_at) VALUES (?, ?, ?, ?, ?)
ON CONFLICT (target_repository_id, remote_address) DO UPDATE SET credential_reference = excluded.credential_reference, sync_interval = excluded.sync_interval`,
		mirror.TargetRepositoryID, mirror.RemoteAddress, mirror.CredentialReference, mirror.SyncInterval, store.now().UnixMilli(),
	)
	if insertError != nil {
		return fmt.Errorf(queryErrorTemplate, operationSaveMirror, insertError)
	}
	return nil
}

func (store *Store) queryMirrors(executionContext context.Context, whereClause string, arguments ...any) ([]MirrorRecord, error) {
	if readyError := store.ready(executionContext); readyError != nil {
		return nil, readyError
	}
	rows, queryError := store.database.QueryContext(executionContext,
		`SELECT target_repository_id, remote_address, credential_reference, sync_interval, created_at FROM mirrors `+whereClause+` ORDER BY target_repository_id, remote_address`,
		arguments...,
	)
	if queryError != nil {
		return nil, fmt.Errorf(queryErrorTemplate, operationListMirrors, queryError)
	}
	defer rows.Close()

	mirrors := make([]MirrorRecord, 0)
	for rows.Next() {
		var mirror MirrorRecord
		var createdAt int64
		if scanError := rows.Scan(&mirror.TargetRepositoryID, &mirror.RemoteAddress, &mirror.CredentialReference, &mirror.SyncInterval, &createdAt); scanError != nil {
			return nil, fmt.Errorf(queryErrorTemplate, operationLoadMirror, scanError)
		}
		mirror.CreatedAt = time.UnixMilli(createdAt).UTC()
		mirrors = append(mirrors, mirror)
	}
	if rowsError := rows.Err(); rowsError != nil {
		return nil, fmt.Errorf(queryErrorTemplate, operationListMirrors, rowsError)
	}
	return mirrors, nil
}

type rowScanner interface {
	Scan(destinations ...any) error
}

func scanRepository(row rowScanner) (RepositoryRecord, error) {
	var record RepositoryRecord
	var stage, failedStage string
	var failed int
	var createdAt, updatedAt int64
	scanError := row.Scan(
		&record.SourceID, &record.SourcePath, &record.SourceHTTPURL, &record.TargetOwner, &record.TargetName, &record.TargetID,
		&stage, &failed, &failedStage, &record.LastError,
		&record.Counts.Labels, &record.Counts.Milestones, &record.Counts.Issues, &record.Counts.MergeRequests, &record.Counts.Releases,
		&createdAt, &updatedAt,
	)
	if scanError != nil {
		return RepositoryRecord{}, scanError
	}
	record.Stage = Stage(stage)
	record.Failed = failed != 0
	record.FailedStage = Stage(failedStage)
	record.CreatedAt = time.UnixMilli(createdAt).UTC()
	record.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return record, nil
}

func scanItem(row rowScanner) (ItemRecord, error) {
	var item ItemRecord
	var kind, status string
	var updatedAt int64
	scanError := row.Scan(&item.TargetRepositoryID, &kind, &item.SourceItemID, &item.SourceName, &item.TargetItemID, &status, &item.LastError, &updatedAt)
	if scanError != nil {
		return ItemRecord{}, scanError
	}
	item.Kind = ItemKind(kind)
	item.Status = ItemStatus(status)
	item.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return item, nil
}

func countItems(executionContext context.Context, transaction *sql.Tx, targetRepositoryID int64) (StageCounts, error) {
	var counts StageCounts
	if targetRepositoryID == 0 {
		return counts, nil
	}
	rows, queryError := transaction.QueryContext(executionContext,
		`SELECT kind, COUNT(*) FROM items WHERE target_repository_id = ? AND status = 'imported' GROUP BY kind`,
		targetRepositoryID,
	)
	if queryError != nil {
		return counts, queryError
	}
	defer rows.Close()

	for rows.Next() {
		var kind string
		var count int
		if scanError := rows.Scan(&kind, &count); scanError != nil {
			return counts, scanError
		}
		switch ItemKind(kind) {
		case ItemKindLabel:
			counts.Labels = count
		case ItemKindMilestone:
			counts.Milestones = count
		case ItemKindIssue:
			counts.Issues = count
		case ItemKindMergeRequest:
			counts.MergeRequests = count
		case ItemKindRelease:
			counts.Releases = count
		}
	}
	return counts, rows.Err()
}

func requireAffected(result sql.Result, sourceID int64) error {
	affectedRows, affectedError := result.RowsAffected()
	if affectedError != nil {
		return affectedError
	}
	if affectedRows == 0 {
		return fmt.Errorf(repositoryNotFoundTemplate+": %w", sourceID, ErrRepositoryNotRecorded)
	}
	return nil
}
