package inventory

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/lremane/gitlab-2-forge-migration/internal/gitlab"
	"github.com/lremane/gitlab-2-forge-migration/internal/migrationerrors"
)

const (
	messageDuplicateIdentifierTemplate = "duplicates row %d"
	messageUnresolvedGroupConstant     = "group does not resolve on the source"
	messageNamespaceMismatchTemplate   = "path does not start with namespace %q"
	namespaceSeparatorConstant         = "/"
	hostMismatchMessageConstant        = "inventory row points at a different host than the configured source"
	worklistReadyMessageConstant       = "migration worklist selected"
	logFieldRowConstant                = "row"
	logFieldPathConstant               = "path"
	logFieldHostConstant               = "host"
	logFieldExpectedHostConstant       = "expected_host"
	logFieldSelectedConstant           = "selected_count"
	logFieldExcludedConstant           = "excluded_count"
	logFieldGroupCountConstant         = "group_count"
	resolveGroupErrorTemplate          = "resolve group %s: %w"
)

// ErrGroupResolverNotConfigured indicates a selector without a group resolver.
var ErrGroupResolverNotConfigured = errors.New("group resolver not configured")

// GroupResolver looks up source groups by full path.
type GroupResolver interface {
	GetGroup(executionContext context.Context, fullPath string) (gitlab.Group, bool, error)
}

// Criterion decides whether an entry is migrated.
type Criterion func(entry Entry) bool

// IncludedEntries is the default criterion: every entry not marked excluded.
func IncludedEntries(entry Entry) bool {
	return entry.Include
}

// Worklist is the ordered, operator-approved set of repositories to migrate
// and the distinct groups they belong to.
type Worklist struct {
	Entries []Entry
	Groups  []gitlab.Group
}

// SelectorDependencies wires a Selector.
type SelectorDependencies struct {
	Groups     GroupResolver
	SourceHost string
	Criterion  Criterion
	Logger     *zap.Logger
}

// Selector turns an inventory into a worklist.
type Selector struct {
	groups     GroupResolver
	sourceHost string
	criterion  Criterion
	logger     *zap.Logger
}

// NewSelector constructs a Selector.
func NewSelector(dependencies SelectorDependencies) (*Selector, error) {
	if dependencies.Groups == nil {
		return nil, ErrGroupResolverNotConfigured
	}
	criterion := dependencies.Criterion
	if criterion == nil {
		criterion = IncludedEntries
	}
	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{
		groups:     dependencies.Groups,
		sourceHost: strings.ToLower(strings.TrimSpace(dependencies.SourceHost)),
		criterion:  criterion,
		logger:     logger,
	}, nil
}

// Select validates every entry and returns the selected entries in inventory
// order. Any malformed entry or unresolvable group fails the whole selection
// with a ValidationError before anything is migrated.
func (selector *Selector) Select(executionContext context.Context, inventory Inventory) (Worklist, error) {
	seenRows := make(map[int64]int, len(inventory.Entries))
	for entryIndex, entry := range inventory.Entries {
		row := rowOf(entry, entryIndex)
		if entry.SourceID <= 0 {
			return Worklist{}, migrationerrors.ValidationError{Row: row, FieldName: ColumnSourceID, Message: migrationerrors.ValidationMessageRequired}
		}
		if len(strings.TrimSpace(entry.Path)) == 0 {
			return Worklist{}, migrationerrors.ValidationError{Row: row, FieldName: ColumnPath, Message: migrationerrors.ValidationMessageRequired}
		}
		if firstRow, duplicate := seenRows[entry.SourceID]; duplicate {
			return Worklist{}, migrationerrors.ValidationError{Row: row, FieldName: ColumnSourceID, Message: fmt.Sprintf(messageDuplicateIdentifierTemplate, firstRow)}
		}
		seenRows[entry.SourceID] = row
		namespace := entryNamespace(entry)
		if len(strings.TrimSpace(entry.Namespace)) > 0 && !strings.HasPrefix(entry.Path, namespace+namespaceSeparatorConstant) {
			return Worklist{}, migrationerrors.ValidationError{Row: row, FieldName: ColumnNamespace, Message: fmt.Sprintf(messageNamespaceMismatchTemplate, namespace)}
		}
		selector.checkHost(entry, row)
	}

	worklist := Worklist{Entries: make([]Entry, 0, len(inventory.Entries))}
	resolvedGroups := make(map[string]struct{})
	for entryIndex, entry := range inventory.Entries {
		if !selector.criterion(entry) {
			continue
		}
		worklist.Entries = append(worklist.Entries, entry)

		if entry.NamespaceKind == gitlab.NamespaceKindUser {
			continue
		}
		namespace := entryNamespace(entry)
		if len(namespace) == 0 {
			continue
		}
		if _, resolved := resolvedGroups[namespace]; resolved {
			continue
		}
		group, found, lookupError := selector.groups.GetGroup(executionContext, namespace)
		if lookupError != nil {
			return Worklist{}, fmt.Errorf(resolveGroupErrorTemplate, namespace, lookupError)
		}
		if !found {
			if len(entry.NamespaceKind) == 0 {
				continue
			}
			return Worklist{}, migrationerrors.ValidationError{Row: rowOf(entry, entryIndex), FieldName: ColumnNamespace, Message: messageUnresolvedGroupConstant}
		}
		resolvedGroups[namespace] = struct{}{}
		worklist.Groups = append(worklist.Groups, group)
	}

	selector.logger.Info(worklistReadyMessageConstant,
		zap.Int(logFieldSelectedConstant, len(worklist.Entries)),
		zap.Int(logFieldExcludedConstant, len(inventory.Entries)-len(worklist.Entries)),
		zap.Int(logFieldGroupCountConstant, len(worklist.Groups)),
	)
	return worklist, nil
}

func (selector *Selector) checkHost(entry Entry, row int) {
	if len(selector.sourceHost) == 0 || len(entry.HTTPURL) == 0 {
		return
	}
	parsedURL, parseError := url.Parse(entry.HTTPURL)
	if parseError != nil {
		return
	}
	if strings.EqualFold(parsedURL.Host, selector.sourceHost) {
		return
	}
	selector.logger.Warn(hostMismatchMessageConstant,
		zap.Int(logFieldRowConstant, row),
		zap.String(logFieldPathConstant, entry.Path),
		zap.String(logFieldHostConstant, parsedURL.Host),
		zap.String(logFieldExpectedHostConstant, selector.sourceHost),
	)
}

// entryNamespace returns the explicit namespace, or the path without its last segment.
func entryNamespace(entry Entry) string {
	if trimmedNamespace := strings.Trim(strings.TrimSpace(entry.Namespace), namespaceSeparatorConstant); len(trimmedNamespace) > 0 {
		return trimmedNamespace
	}
	separatorIndex := strings.LastIndex(entry.Path, namespaceSeparatorConstant)
	if separatorIndex <= 0 {
		return ""
	}
	return entry.Path[:separatorIndex]
}

func rowOf(entry Entry, entryIndex int) int {
	if entry.Row > 0 {
		return entry.Row
	}
	return entryIndex + 1
}
