package ledger

import "fmt"

const unknownStageErrorTemplateConstant = "unknown migration stage %q"

// Stage is a position in the repository migration state machine.
type Stage string

// Repository migration stages in the order they are reached.
const (
	StagePending               Stage = "pending"
	StageCodeImported          Stage = "code_imported"
	StageWikiImported          Stage = "wiki_imported"
	StageLabelsImported        Stage = "labels_imported"
	StageMilestonesImported    Stage = "milestones_imported"
	StageIssuesImported        Stage = "issues_imported"
	StageMergeRequestsImported Stage = "merge_requests_imported"
	StageReleasesImported      Stage = "releases_imported"
	StageComplete              Stage = "complete"
	StageFailed                Stage = "failed"
)

var orderedStages = []Stage{
	StagePending,
	StageCodeImported,
	StageWikiImported,
	StageLabelsImported,
	StageMilestonesImported,
	StageIssuesImported,
	StageMergeRequestsImported,
	StageReleasesImported,
	StageComplete,
}

// OrderedStages returns the forward stages, pending first and complete last.
func OrderedStages() []Stage {
	return append([]Stage{}, orderedStages...)
}

// ParseStage validates a stage name.
func ParseStage(value string) (Stage, error) {
	for _, stage := range orderedStages {
		if string(stage) == value {
			return stage, nil
		}
	}
	if Stage(value) == StageFailed {
		return StageFailed, nil
	}
	return "", fmt.Errorf(unknownStageErrorTemplateConstant, value)
}

// Index returns the position of the stage in the forward order, or -1 for failed and unknown stages.
func (stage Stage) Index() int {
	for stageIndex, candidate := range orderedStages {
		if candidate == stage {
			return stageIndex
		}
	}
	return -1
}

// Next returns the stage that follows, or the stage itself when it is terminal.
func (stage Stage) Next() Stage {
	stageIndex := stage.Index()
	if stageIndex < 0 || stageIndex == len(orderedStages)-1 {
		return stage
	}
	return orderedStages[stageIndex+1]
}

// Previous returns the stage that precedes, or pending for the first stages.
func (stage Stage) Previous() Stage {
	stageIndex := stage.Index()
	if stageIndex <= 0 {
		return StagePending
	}
	return orderedStages[stageIndex-1]
}

// Reached reports whether this stage is at or beyond target in the forward order.
func (stage Stage) Reached(target Stage) bool {
	return stage.Index() >= 0 && target.Index() >= 0 && stage.Index() >= target.Index()
}
