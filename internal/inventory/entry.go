package inventory

import (
	"strconv"
	"strings"
)

// Inventory column names.
const (
	ColumnSourceID            = "source_id"
	ColumnPath                = "path_with_namespace"
	ColumnNamespace           = "namespace"
	ColumnNamespaceKind       = "namespace_kind"
	ColumnVisibility          = "visibility"
	ColumnArchived            = "archived"
	ColumnInclude             = "include"
	ColumnLastActivityAt      = "last_activity_at"
	ColumnHTTPURL             = "http_url"
	ColumnWebURL              = "web_url"
	ColumnRepositorySizeBytes = "repository_size_bytes"
	ColumnLFSSizeBytes        = "lfs_size_bytes"
)

const (
	trueValueConstant  = "true"
	falseValueConstant = "false"
)

var knownColumns = []string{
	ColumnSourceID,
	ColumnPath,
	ColumnNamespace,
	ColumnNamespaceKind,
	ColumnVisibility,
	ColumnArchived,
	ColumnInclude,
	ColumnLastActivityAt,
	ColumnHTTPURL,
	ColumnWebURL,
}

var extractedColumns = append(append([]string{}, knownColumns...), ColumnRepositorySizeBytes, ColumnLFSSizeBytes)

var excludeValues = map[string]struct{}{
	"false":   {},
	"no":      {},
	"n":       {},
	"0":       {},
	"exclude": {},
	"skip":    {},
}

// Entry is one source repository row of the inventory.
type Entry struct {
	SourceID       int64
	Path           string
	Namespace      string
	NamespaceKind  string
	Visibility     string
	Archived       bool
	Include        bool
	RevisionMarker string
	HTTPURL        string
	WebURL         string
	// Attributes holds every column the selector does not interpret, keyed by header name.
	Attributes map[string]string
	// Row is the 1-based line of the entry in the file it was read from, or zero.
	Row int
}

// NamespacePath returns the full path of the namespace the entry lives in, or
// an empty string for a top-level path.
func (entry Entry) NamespacePath() string {
	return entryNamespace(entry)
}

// Inventory is an ordered set of entries plus the column order to write them back in.
type Inventory struct {
	Header  []string
	Entries []Entry
}

// ParseInclude interprets the include column. Empty means included.
func ParseInclude(value string) bool {
	_, excluded := excludeValues[strings.ToLower(strings.TrimSpace(value))]
	return !excluded
}

func formatBool(value bool) string {
	if value {
		return trueValueConstant
	}
	return falseValueConstant
}

func (entry Entry) value(column string) string {
	switch column {
	case ColumnSourceID:
		return strconv.FormatInt(entry.SourceID, 10)
	case ColumnPath:
		return entry.Path
	case ColumnNamespace:
		return entry.Namespace
	case ColumnNamespaceKind:
		return entry.NamespaceKind
	case ColumnVisibility:
		return entry.Visibility
	case ColumnArchived:
		return formatBool(entry.Archived)
	case ColumnInclude:
		return formatBool(entry.Include)
	case ColumnLastActivityAt:
		return entry.RevisionMarker
	case ColumnHTTPURL:
		return entry.HTTPURL
	case ColumnWebURL:
		return entry.WebURL
	default:
		return entry.Attributes[column]
	}
}

func isKnownColumn(column string) bool {
	for _, knownColumn := range knownColumns {
		if knownColumn == column {
			return true
		}
	}
	return false
}
