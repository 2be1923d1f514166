// Package inventory extracts the source repositories into an editable CSV
// inventory and turns an operator-approved inventory into the ordered
// migration worklist.
package inventory
