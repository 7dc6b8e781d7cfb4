package sync

import "strings"

// terminalStages are the workflow stage names that take a record out of the
// active set. Stage IDs look like DT1042_20:SUCCESS; only the segment after
// the last colon matters.
var terminalStages = map[string]struct{}{
	"SUCCESS": {},
	"FAIL":    {},
	"FAILURE": {},
	"LOSE":    {},
	"APOLOGY": {},
}

// IsActiveStage reports whether a stage ID represents an active (non-final)
// stage. Records with no stage, or a stage ID without a category prefix,
// are treated as active: a record the portal has not staged yet must not
// silently drop out of the link fields.
func IsActiveStage(stageID string) bool {
	if stageID == "" {
		return true
	}

	parts := strings.Split(stageID, ":")
	if len(parts) < 2 {
		return true
	}

	_, terminal := terminalStages[strings.ToUpper(parts[len(parts)-1])]
	return !terminal
}
