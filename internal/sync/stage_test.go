package sync

import "testing"

func TestIsActiveStageTreatsTerminalNamesAsInactive(t *testing.T) {
	cases := []struct {
		stageID string
		active  bool
	}{
		{"DT1042_20:SUCCESS", false},
		{"DT1042_20:FAIL", false},
		{"DT1042_20:FAILURE", false},
		{"DT1042_20:LOSE", false},
		{"DT1042_20:APOLOGY", false},
		{"DT1042_20:success", false},
		{"DT1042_20:NEW", true},
		{"DT1042_20:PREPARATION", true},
		{"DT1042_20:UC_A1B2C3", true},
	}

	for _, tc := range cases {
		if got := IsActiveStage(tc.stageID); got != tc.active {
			t.Errorf("IsActiveStage(%q) = %v, want %v", tc.stageID, got, tc.active)
		}
	}
}

func TestIsActiveStageFailsOpenOnMissingOrUnprefixedStage(t *testing.T) {
	if !IsActiveStage("") {
		t.Error("empty stage must count as active")
	}
	if !IsActiveStage("SUCCESS") {
		t.Error("stage without category prefix must count as active")
	}
}

func TestIsActiveStageUsesLastSegmentOnly(t *testing.T) {
	if IsActiveStage("DT1042_20:EXTRA:SUCCESS") {
		t.Error("terminal name in last segment must count as inactive")
	}
	if !IsActiveStage("SUCCESS:REOPENED") {
		t.Error("terminal name outside the last segment must not mark the stage inactive")
	}
}
