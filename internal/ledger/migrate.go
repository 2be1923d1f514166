package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"
)

const (
	migrationTableConstant        = "schema_migrations"
	migrationFileSuffixConstant   = ".sql"
	migrateUpMarkerConstant       = "-- +migrate Up"
	migrateDownMarkerConstant     = "-- +migrate Down"
	migrationRootConstant         = "."
	alreadyExistsFragmentConstant = "already exists"
	readMigrationsErrorTemplate   = "read migrations: %w"
	ensureMigrationTableTemplate  = "ensure migration table: %w"
	readMigrationErrorTemplate    = "read migration %s: %w"
	checkMigrationErrorTemplate   = "check migration %s: %w"
	beginMigrationErrorTemplate   = "begin migration %s: %w"
	executeMigrationErrorTemplate = "execute migration %s: %w"
	recordMigrationErrorTemplate  = "record migration %s: %w"
	commitMigrationErrorTemplate  = "commit migration %s: %w"
)

// applyMigrations executes every embedded migration at most once, each inside its own transaction.
func applyMigrations(executionContext context.Context, database *sql.DB, migrationFS fs.FS) error {
	entries, readError := fs.ReadDir(migrationFS, migrationRootConstant)
	if readError != nil {
		return fmt.Errorf(readMigrationsErrorTemplate, readError)
	}

	migrationFiles := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), migrationFileSuffixConstant) {
			migrationFiles = append(migrationFiles, entry.Name())
		}
	}
	sort.Strings(migrationFiles)

	createTableStatement := `CREATE TABLE IF NOT EXISTS ` + migrationTableConstant + ` (name TEXT PRIMARY KEY, applied_at INTEGER NOT NULL)`
	if _, createError := database.ExecContext(executionContext, createTableStatement); createError != nil {
		return fmt.Errorf(ensureMigrationTableTemplate, createError)
	}

	for _, migrationFile := range migrationFiles {
		content, fileError := fs.ReadFile(migrationFS, migrationFile)
		if fileError != nil {
			return fmt.Errorf(readMigrationErrorTemplate, migrationFile, fileError)
		}

		var appliedCount int
		countStatement := `SELECT COUNT(*) FROM ` + migrationTableConstant + ` WHERE name = ?`
		if countError := database.QueryRowContext(executionContext, countStatement, migrationFile).Scan(&appliedCount); countError != nil {
			return fmt.Errorf(checkMigrationErrorTemplate, migrationFile, countError)
		}
		if appliedCount > 0 {
			continue
		}

		upStatements := extractUpMigration(string(content))
		if len(strings.TrimSpace(upStatements)) == 0 {
			continue
		}

		transaction, beginError := database.BeginTx(executionContext, nil)
		if beginError != nil {
			return fmt.Errorf(beginMigrationErrorTemplate, migrationFile, beginError)
		}

		if _, executeError := transaction.ExecContext(executionContext, upStatements); executeError != nil && !strings.Contains(strings.ToLower(executeError.Error()), alreadyExistsFragmentConstant) {
			_ = transaction.Rollback()
			return fmt.Errorf(executeMigrationErrorTemplate, migrationFile, executeError)
		}

		insertStatement := `INSERT OR IGNORE INTO ` + migrationTableConstant + ` (name, applied_at) VALUES (?, ?)`
		if _, recordError := transaction.ExecContext(executionContext, insertStatement, migrationFile, time.Now().UTC().UnixMilli()); recordError != nil {
			_ = transaction.Rollback()
			return fmt.Errorf(recordMigrationErrorTemplate, migrationFile, recordError)
		}

		if commitError := transaction.Commit(); commitError != nil {
			return fmt.Errorf(commitMigrationErrorTemplate, migrationFile, commitError)
		}
	}

	return nil
}

func extractUpMigration(content string) string {
	upIndex := strings.Index(content, migrateUpMarkerConstant)
	if upIndex == -1 {
		return content
	}
	downIndex := strings.Index(content, migrateDownMarkerConstant)
	if downIndex == -1 {
		return content[upIndex+len(migrateUpMarkerConstant):]
	}
	return content[upIndex+len(migrateUpMarkerConstant) : downIndex]
}
