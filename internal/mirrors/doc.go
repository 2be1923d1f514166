// Package mirrors configures push mirrors from migrated target repositories
// back to their source repositories.
package mirrors
