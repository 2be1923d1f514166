package ledger

import "time"

// ItemKind names a kind of per-repository metadata item.
type ItemKind string

// Item kinds tracked per repository.
const (
	ItemKindLabel        ItemKind = "label"
	ItemKindMilestone    ItemKind = "milestone"
	ItemKindIssue        ItemKind = "issue"
	ItemKindMergeRequest ItemKind = "merge_request"
	ItemKindRelease      ItemKind = "release"
)

// ItemStatus records whether an item reached the target.
type ItemStatus string

// Item statuses.
const (
	ItemStatusImported ItemStatus = "imported"
	ItemStatusFailed   ItemStatus = "failed"
)

// StageCounts totals the items imported per kind.
type StageCounts struct {
	Labels        int
	Milestones    int
	Issues        int
	MergeRequests int
	Releases      int
}

// RepositoryRecord tracks one repository through the migration state machine.
// Stage is the last stage committed; Failed marks that FailedStage was attempted and did not finish.
type RepositoryRecord struct {
	SourceID      int64
	SourcePath    string
	SourceHTTPURL string
	TargetOwner   string
	TargetName    string
	TargetID      int64
	Stage         Stage
	Failed        bool
	FailedStage   Stage
	LastError     string
	Counts        StageCounts
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// State returns the externally visible state: failed, or the last committed stage.
func (record RepositoryRecord) State() Stage {
	if record.Failed {
		return StageFailed
	}
	return record.Stage
}

// NextStage returns the stage the next run executes.
func (record RepositoryRecord) NextStage() Stage {
	return record.Stage.Next()
}

// HasTarget reports whether the target repository was created and recorded.
func (record RepositoryRecord) HasTarget() bool {
	return record.TargetID > 0
}

// TargetFullName returns owner/name of the target repository.
func (record RepositoryRecord) TargetFullName() string {
	if len(record.TargetOwner) == 0 {
		return record.TargetName
	}
	return record.TargetOwner + "/" + record.TargetName
}

// ItemRecord is the idempotency record of one metadata item, keyed by target repository, kind and source identifier.
type ItemRecord struct {
	TargetRepositoryID int64
	Kind               ItemKind
	SourceItemID       string
	SourceName         string
	TargetItemID       int64
	Status             ItemStatus
	LastError          string
	UpdatedAt          time.Time
}

// UserMapping links a source account to a target account.
type UserMapping struct {
	SourceUserID    int64
	SourceUsername  string
	NormalizedEmail string
	TargetUserID    int64
	TargetUsername  string
	Collision       bool
	CreatedAt       time.Time
}

// GroupMapping links a source group path to a target organization.
type GroupMapping struct {
	SourcePath           string
	SourceGroupID        int64
	TargetOrganization   string
	TargetOrganizationID int64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// GroupMember records the role a source member was granted in the target organization.
type GroupMember struct {
	SourcePath     string
	SourceUserID   int64
	TargetUsername string
	Role           string
	UpdatedAt      time.Time
}

// MirrorRecord is a push mirror configured on a target repository.
type MirrorRecord struct {
	TargetRepositoryID  int64
	RemoteAddress       string
	CredentialReference string
	SyncInterval        string
	CreatedAt           time.Time
}

// Run is one recorded command invocation.
type Run struct {
	ID         string
	Command    string
	StartedAt  time.Time
	FinishedAt time.Time
	Outcome    string
}
