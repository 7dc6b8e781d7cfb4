package sync

import (
	"b24_case_sync/platform/bitrix"
	"b24_case_sync/platform/config"
	"b24_case_sync/platform/logger"
)

// EnginesFromConfig builds the engine set for the configured child
// collections. The residence permit engine comes first; the dispatcher
// uses the first engine as the fallback for unknown collections.
func EnginesFromConfig(cfg config.SyncConfig, crm bitrix.Client, log *logger.Logger) []*Engine {
	return []*Engine{
		NewEngine(EngineConfig{
			Name:           "residence-permits",
			ParentTypeID:   cfg.GetCaseTypeID(),
			ChildTypeID:    cfg.GetResidenceTypeID(),
			LinkField:      cfg.GetResidenceLinkField(),
			DatesField:     cfg.GetResidenceDatesField(),
			ChildDateField: cfg.GetResidenceDateField(),
		}, crm, log),
		NewEngine(EngineConfig{
			Name:           "work-permits",
			ParentTypeID:   cfg.GetCaseTypeID(),
			ChildTypeID:    cfg.GetWorkPermitTypeID(),
			LinkField:      cfg.GetWorkPermitLinkField(),
			DatesField:     cfg.GetWorkPermitDatesField(),
			ChildDateField: cfg.GetWorkPermitDateField(),
		}, crm, log),
		NewEngine(EngineConfig{
			Name:         "legalization",
			ParentTypeID: cfg.GetCaseTypeID(),
			ChildTypeID:  cfg.GetLegalizationTypeID(),
			LinkField:    cfg.GetLegalizationLinkField(),
		}, crm, log),
	}
}

// MirrorFromConfig builds the contact field mirror, loading mapping
// overrides from the configured YAML file when one is set.
func MirrorFromConfig(cfg config.SyncConfig, crm bitrix.Client, log *logger.Logger) (*Mirror, error) {
	mirrorCfg, err := LoadMirrorConfig(cfg.GetMirrorMappingFile())
	if err != nil {
		return nil, err
	}
	return NewMirror(mirrorCfg, cfg.GetCaseTypeID(), crm, log), nil
}
