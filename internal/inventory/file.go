package inventory

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/lremane/gitlab-2-forge-migration/internal/migrationerrors"
)

const (
	inventoryFilePermissionConstant      = 0o644
	inventoryDirectoryPermissionConstant = 0o755
	headerRowConstant                    = 1
	byteOrderMarkConstant                = "\ufeff"
	messageInvalidIdentifierConstant     = "must be a positive integer"
	messageInvalidBooleanConstant        = "must be true or false"
	messageDuplicateColumnConstant       = "duplicate column"
	readInventoryErrorTemplate           = "read inventory: %w"
	writeInventoryErrorTemplate          = "write inventory: %w"
	openInventoryErrorTemplate           = "open inventory %s: %w"
	createInventoryErrorTemplate         = "create inventory %s: %w"
)

// Read parses an inventory. Every column it does not interpret is kept in Entry.Attributes.
func Read(reader io.Reader) (Inventory, error) {
	csvReader := csv.NewReader(reader)
	csvReader.FieldsPerRecord = -1
	csvReader.TrimLeadingSpace = true

	header, headerError := csvReader.Read()
	if errors.Is(headerError, io.EOF) {
		return Inventory{}, migrationerrors.ValidationError{Row: headerRowConstant, FieldName: ColumnSourceID, Message: migrationerrors.ValidationMessageRequired}
	}
	if headerError != nil {
		return Inventory{}, fmt.Errorf(readInventoryErrorTemplate, headerError)
	}

	columns := make([]string, len(header))
	columnIndex := make(map[string]int, len(header))
	for index, column := range header {
		normalizedColumn := strings.TrimSpace(strings.TrimPrefix(column, byteOrderMarkConstant))
		if loweredColumn := strings.ToLower(normalizedColumn); isKnownColumn(loweredColumn) {
			normalizedColumn = loweredColumn
		}
		if _, duplicate := columnIndex[normalizedColumn]; duplicate {
			return Inventory{}, migrationerrors.ValidationError{Row: headerRowConstant, FieldName: normalizedColumn, Message: messageDuplicateColumnConstant}
		}
		columns[index] = normalizedColumn
		columnIndex[normalizedColumn] = index
	}
	for _, requiredColumn := range []string{ColumnSourceID, ColumnPath} {
		if _, present := columnIndex[requiredColumn]; !present {
			return Inventory{}, migrationerrors.ValidationError{Row: headerRowConstant, FieldName: requiredColumn, Message: migrationerrors.ValidationMessageRequired}
		}
	}

	inventory := Inventory{Header: columns}
	rowNumber := headerRowConstant
	for {
		record, recordError := csvReader.Read()
		if errors.Is(recordError, io.EOF) {
			break
		}
		rowNumber++
		if recordError != nil {
			return Inventory{}, fmt.Errorf(readInventoryErrorTemplate, recordError)
		}
		if isBlankRecord(record) {
			continue
		}
		entry, entryError := parseRecord(columns, record, rowNumber)
		if entryError != nil {
			return Inventory{}, entryError
		}
		inventory.Entries = append(inventory.Entries, entry)
	}
	return inventory, nil
}

// ReadFile reads the inventory stored at path.
func ReadFile(path string) (Inventory, error) {
	file, openError := os.Open(path)
	if openError != nil {
		return Inventory{}, fmt.Errorf(openInventoryErrorTemplate, path, openError)
	}
	defer file.Close()
	return Read(file)
}

// Write renders the inventory using its header, or the extracted column set when it has none.
func Write(writer io.Writer, inventory Inventory) error {
	header := inventory.Header
	if len(header) == 0 {
		header = extractedColumns
	}
	csvWriter := csv.NewWriter(writer)
	if writeError := csvWriter.Write(header); writeError != nil {
		return fmt.Errorf(writeInventoryErrorTemplate, writeError)
	}
	for _, entry := range inventory.Entries {
		record := make([]string, len(header))
		for index, column := range header {
			record[index] = entry.value(column)
		}
		if writeError := csvWriter.Write(record); writeError != nil {
			return fmt.Errorf(writeInventoryErrorTemplate, writeError)
		}
	}
	csvWriter.Flush()
	if flushError := csvWriter.Error(); flushError != nil {
		return fmt.Errorf(writeInventoryErrorTemplate, flushError)
	}
	return nil
}

// WriteFile replaces the inventory stored at path.
func WriteFile(path string, inventory Inventory) error {
	if directory := filepath.Dir(path); len(directory) > 0 {
		if directoryError := os.MkdirAll(directory, inventoryDirectoryPermissionConstant); directoryError != nil {
			return fmt.Errorf(createInventoryErrorTemplate, path, directoryError)
		}
	}
	file, createError := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, inventoryFilePermissionConstant)
	if createError != nil {
		return fmt.Errorf(createInventoryErrorTemplate, path, createError)
	}
	writeError := Write(file, inventory)
	closeError := file.Close()
	return errors.Join(writeError, closeError)
}

func parseRecord(columns []string, record []string, rowNumber int) (Entry, error) {
	entry := Entry{Include: true, Row: rowNumber, Attributes: make(map[string]string)}
	for index, column := range columns {
		cell := ""
		if index < len(record) {
			cell = strings.TrimSpace(record[index])
		}
		switch column {
		case ColumnSourceID:
			if len(cell) == 0 {
				return Entry{}, migrationerrors.ValidationError{Row: rowNumber, FieldName: column, Message: migrationerrors.ValidationMessageRequired}
			}
			sourceID, parseError := strconv.ParseInt(cell, 10, 64)
			if parseError != nil || sourceID <= 0 {
				return Entry{}, migrationerrors.ValidationError{Row: rowNumber, FieldName: column, Message: messageInvalidIdentifierConstant}
			}
			entry.SourceID = sourceID
		case ColumnPath:
			entry.Path = cell
		case ColumnNamespace:
			entry.Namespace = cell
		case ColumnNamespaceKind:
			entry.NamespaceKind = cell
		case ColumnVisibility:
			entry.Visibility = cell
		case ColumnArchived:
			archived, parseError := parseOptionalBool(cell)
			if parseError != nil {
				return Entry{}, migrationerrors.ValidationError{Row: rowNumber, FieldName: column, Message: messageInvalidBooleanConstant}
			}
			entry.Archived = archived
		case ColumnInclude:
			entry.Include = ParseInclude(cell)
		case ColumnLastActivityAt:
			entry.RevisionMarker = cell
		case ColumnHTTPURL:
			entry.HTTPURL = cell
		case ColumnWebURL:
			entry.WebURL = cell
		default:
			entry.Attributes[column] = cell
		}
	}
	return entry, nil
}

func parseOptionalBool(value string) (bool, error) {
	if len(value) == 0 {
		return false, nil
	}
	return strconv.ParseBool(strings.ToLower(value))
}

func isBlankRecord(record []string) bool {
	for _, cell := range record {
		if len(strings.TrimSpace(cell)) > 0 {
			return false
		}
	}
	return true
}
