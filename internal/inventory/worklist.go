package inventory

import (
	"context"
	"fmt"
)

const loadInventoryErrorTemplate = "load inventory %s: %w"

// LoadWorklist reads the inventory file at path and selects the repositories marked for migration.
func LoadWorklist(executionContext context.Context, path string, dependencies SelectorDependencies) (Worklist, error) {
	selector, selectorError := NewSelector(dependencies)
	if selectorError != nil {
		return Worklist{}, selectorError
	}
	inventory, readError := ReadFile(path)
	if readError != nil {
		return Worklist{}, fmt.Errorf(loadInventoryErrorTemplate, path, readError)
	}
	return selector.Select(executionContext, inventory)
}
