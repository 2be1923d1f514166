// Package groups creates target organizations for source groups and
// reconciles their membership through role teams.
package groups
