// Package projects drives each selected repository through the migration
// state machine: code, wiki, labels, milestones, issues, merge requests,
// releases and finally collaborators and archival. Every stage is committed to
// the ledger only after the target confirmed its side effects, so an
// interrupted run resumes at the first uncommitted stage.
package projects
