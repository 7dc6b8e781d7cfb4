package sync

import (
	"testing"
)

type stubSyncConfig struct{}

func (stubSyncConfig) GetCaseTypeID() int         { return 1106 }
func (stubSyncConfig) GetResidenceTypeID() int    { return 1042 }
func (stubSyncConfig) GetWorkPermitTypeID() int   { return 1046 }
func (stubSyncConfig) GetLegalizationTypeID() int { return 1110 }

func (stubSyncConfig) GetResidenceLinkField() string    { return "ufCrm38_resLinks" }
func (stubSyncConfig) GetResidenceDatesField() string   { return "ufCrm38_resDates" }
func (stubSyncConfig) GetResidenceDateField() string    { return "ufCrm10_validUntil" }
func (stubSyncConfig) GetWorkPermitLinkField() string   { return "ufCrm38_workLinks" }
func (stubSyncConfig) GetWorkPermitDatesField() string  { return "ufCrm38_workDates" }
func (stubSyncConfig) GetWorkPermitDateField() string   { return "ufCrm12_validUntil" }
func (stubSyncConfig) GetLegalizationLinkField() string { return "ufCrm38_legalLinks" }

func (stubSyncConfig) GetMirrorMappingFile() string { return "" }

func TestEnginesFromConfigBuildsOnePerChildCollection(t *testing.T) {
	engines := EnginesFromConfig(stubSyncConfig{}, newFakeCRM(), testLogger())

	if len(engines) != 3 {
		t.Fatalf("engine count = %d, want 3", len(engines))
	}

	wantTypes := map[string]int{
		"residence-permits": 1042,
		"work-permits":      1046,
		"legalization":      1110,
	}
	for _, engine := range engines {
		want, ok := wantTypes[engine.Name()]
		if !ok {
			t.Fatalf("unexpected engine %q", engine.Name())
		}
		if engine.ChildTypeID() != want {
			t.Fatalf("engine %q child type = %d, want %d", engine.Name(), engine.ChildTypeID(), want)
		}
	}

	if engines[0].Name() != "residence-permits" {
		t.Fatalf("first engine = %q, want the residence permit fallback", engines[0].Name())
	}
}

func TestMirrorFromConfigUsesDefaultMappingsWithoutFile(t *testing.T) {
	mirror, err := MirrorFromConfig(stubSyncConfig{}, newFakeCRM(), testLogger())
	if err != nil {
		t.Fatalf("MirrorFromConfig: %v", err)
	}
	if mirror == nil {
		t.Fatal("expected a mirror")
	}
}
