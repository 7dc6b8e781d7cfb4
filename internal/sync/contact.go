package sync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"b24_case_sync/platform/bitrix"
	"b24_case_sync/platform/logger"

	"gopkg.in/yaml.v3"
)

// FieldMapping copies one value from a contact onto a case field. Either a
// single source field, or several source fields joined through a format
// template with {0}..{n} placeholders.
type FieldMapping struct {
	Name          string   `yaml:"name"`
	ContactField  string   `yaml:"contactField,omitempty"`
	ContactFields []string `yaml:"contactFields,omitempty"`
	Format        string   `yaml:"format,omitempty"`
	CaseField     string   `yaml:"caseField"`
}

// TitleConfig derives the case title from contact name parts and the case's
// own ID. Disabled by default: titles are managed manually in the portal.
type TitleConfig struct {
	Enabled bool   `yaml:"enabled"`
	Format  string `yaml:"format"`
}

// MirrorConfig is the ordered mapping set for the contact field mirror.
type MirrorConfig struct {
	Mappings []FieldMapping `yaml:"mappings"`
	Title    TitleConfig    `yaml:"title"`
}

// DefaultMirrorConfig returns the production mapping set: passport number
// and passport expiry date.
func DefaultMirrorConfig() MirrorConfig {
	return MirrorConfig{
		Mappings: []FieldMapping{
			{
				Name:         "passport number",
				ContactField: "UF_CRM_1758997725285",
				CaseField:    "ufCrm38_1764509760429",
			},
			{
				Name:         "passport expiry date",
				ContactField: "UF_CRM_1760984058065",
				CaseField:    "ufCrm38_1764509780038",
			},
		},
		Title: TitleConfig{
			Enabled: false,
			Format:  "{lastName} {name} • Case no. {id}",
		},
	}
}

// LoadMirrorConfig reads a mapping set from a YAML file. An empty path
// returns the defaults.
func LoadMirrorConfig(path string) (MirrorConfig, error) {
	if path == "" {
		return DefaultMirrorConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return MirrorConfig{}, fmt.Errorf("read mirror mapping file: %w", err)
	}

	var cfg MirrorConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return MirrorConfig{}, fmt.Errorf("parse mirror mapping file: %w", err)
	}

	for i, m := range cfg.Mappings {
		if m.CaseField == "" {
			return MirrorConfig{}, fmt.Errorf("mirror mapping %d (%q): caseField is required", i, m.Name)
		}
		if m.ContactField == "" && len(m.ContactFields) == 0 {
			return MirrorConfig{}, fmt.Errorf("mirror mapping %d (%q): contactField or contactFields is required", i, m.Name)
		}
	}
	return cfg, nil
}

// Mirror copies configured contact fields (and optionally a derived title)
// onto case records linked to the contact.
type Mirror struct {
	cfg          MirrorConfig
	parentTypeID int
	crm          bitrix.Client
	log          *logger.Logger
}

// NewMirror creates a contact field mirror for the case collection.
func NewMirror(cfg MirrorConfig, parentTypeID int, crm bitrix.Client, log *logger.Logger) *Mirror {
	return &Mirror{cfg: cfg, parentTypeID: parentTypeID, crm: crm, log: log}
}

// computeTargets evaluates the mapping set against current contact data.
func (m *Mirror) computeTargets(contact bitrix.Item) map[string]string {
	targets := make(map[string]string, len(m.cfg.Mappings))
	for _, mapping := range m.cfg.Mappings {
		if len(mapping.ContactFields) > 0 {
			values := make([]string, len(mapping.ContactFields))
			for i, field := range mapping.ContactFields {
				values[i] = contact.String(field)
			}
			format := mapping.Format
			if format == "" {
				placeholders := make([]string, len(values))
				for i := range values {
					placeholders[i] = "{" + strconv.Itoa(i) + "}"
				}
				format = strings.Join(placeholders, " ")
			}
			targets[mapping.CaseField] = strings.TrimSpace(expandPositional(format, values))
			continue
		}
		targets[mapping.CaseField] = contact.String(mapping.ContactField)
	}
	return targets
}

// renderTitle evaluates the title template for one case record.
// Returns "" when title derivation is disabled.
func (m *Mirror) renderTitle(contact bitrix.Item, parentID int64) string {
	if !m.cfg.Title.Enabled {
		return ""
	}

	replacer := strings.NewReplacer(
		"{lastName}", contact.String("LAST_NAME"),
		"{name}", contact.String("NAME"),
		"{id}", strconv.FormatInt(parentID, 10),
	)
	return strings.TrimSpace(replacer.Replace(m.cfg.Title.Format))
}

// expandPositional substitutes {0}..{n} placeholders with values.
func expandPositional(format string, values []string) string {
	pairs := make([]string, 0, len(values)*2)
	for i, v := range values {
		pairs = append(pairs, "{"+strconv.Itoa(i)+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(format)
}

// SyncOneParent copies contact fields onto a single case record, resolving
// the contact from the case when not supplied. At most one update is
// issued, carrying only the fields that differ.
func (m *Mirror) SyncOneParent(ctx context.Context, parentID, contactID int64) (*MirrorResult, error) {
	log := m.log.WithContext(ctx)

	parent, err := m.crm.GetItem(ctx, m.parentTypeID, parentID)
	if err != nil {
		return nil, fmt.Errorf("mirror: fetch case %d: %w", parentID, err)
	}

	if contactID == 0 {
		contactID = parent.ContactID()
	}
	if contactID == 0 {
		log.Warn("case has no contact, skipping field mirror", "parent_id", parentID)
		return &MirrorResult{
			Action:   ActionSkipped,
			ParentID: parentID,
			Reason:   "case record has no contact reference",
		}, nil
	}

	contact, err := m.crm.GetContact(ctx, contactID)
	if err != nil {
		return nil, fmt.Errorf("mirror: fetch contact %d: %w", contactID, err)
	}

	targets := m.computeTargets(contact)
	updates := make(map[string]any)
	updated := make(map[string]string)
	for field, target := range targets {
		if parent.String(field) != target {
			updates[field] = target
			updated[field] = target
		}
	}
	if title := m.renderTitle(contact, parentID); title != "" && parent.Title() != title {
		updates["title"] = title
		updated["title"] = title
	}

	if len(updates) == 0 {
		log.SyncOutcome("contact-mirror", parentID, OutcomeAlreadySynced)
		return &MirrorResult{
			Action:    OutcomeAlreadySynced,
			ContactID: contactID,
			ParentID:  parentID,
			Fields:    targets,
		}, nil
	}

	if _, err := m.crm.UpdateItem(ctx, m.parentTypeID, parentID, updates); err != nil {
		return nil, fmt.Errorf("mirror: update case %d: %w", parentID, err)
	}

	log.SyncOutcome("contact-mirror", parentID, OutcomeSynced)
	return &MirrorResult{
		Action:    OutcomeSynced,
		ContactID: contactID,
		ParentID:  parentID,
		Fields:    updated,
	}, nil
}

// SyncAllParentsForContact computes the target values once and applies
// them to every case record linked to the contact. A failure on one case
// is recorded and does not abort the rest; the aggregate error still fails
// the run so the transport redelivers, and the already-converged cases
// no-op on retry.
func (m *Mirror) SyncAllParentsForContact(ctx context.Context, contactID int64) (*MirrorResult, error) {
	log := m.log.WithContext(ctx)

	contact, err := m.crm.GetContact(ctx, contactID)
	if err != nil {
		return nil, fmt.Errorf("mirror: fetch contact %d: %w", contactID, err)
	}
	targets := m.computeTargets(contact)

	selectFields := []string{"id", "title"}
	for _, mapping := range m.cfg.Mappings {
		selectFields = append(selectFields, mapping.CaseField)
	}
	parents, err := m.crm.ListItems(ctx, m.parentTypeID, map[string]any{"contactId": contactID}, selectFields)
	if err != nil {
		return nil, fmt.Errorf("mirror: list cases for contact %d: %w", contactID, err)
	}

	result := &MirrorResult{
		Action:    ActionSyncContactFields,
		ContactID: contactID,
		Fields:    targets,
	}

	var failures []error
	for _, parent := range parents {
		parentID := parent.IntID()

		updates := make(map[string]any)
		updated := make(map[string]string)
		for field, target := range targets {
			if parent.String(field) != target {
				updates[field] = target
				updated[field] = target
			}
		}
		if title := m.renderTitle(contact, parentID); title != "" && parent.Title() != title {
			updates["title"] = title
			updated["title"] = title
		}

		if len(updates) == 0 {
			result.Parents = append(result.Parents, ParentOutcome{
				ParentID: parentID,
				Title:    parent.Title(),
				Outcome:  OutcomeAlreadySynced,
			})
			log.SyncOutcome("contact-mirror", parentID, OutcomeAlreadySynced)
			continue
		}

		if _, err := m.crm.UpdateItem(ctx, m.parentTypeID, parentID, updates); err != nil {
			failures = append(failures, fmt.Errorf("case %d: %w", parentID, err))
			result.Parents = append(result.Parents, ParentOutcome{
				ParentID: parentID,
				Title:    parent.Title(),
				Outcome:  OutcomeError,
				Error:    err.Error(),
			})
			log.Error("contact mirror update failed", "parent_id", parentID, "error", err)
			continue
		}

		result.Parents = append(result.Parents, ParentOutcome{
			ParentID:      parentID,
			Title:         parent.Title(),
			Outcome:       OutcomeSynced,
			UpdatedFields: updated,
		})
		log.SyncOutcome("contact-mirror", parentID, OutcomeSynced)
	}

	if len(failures) > 0 {
		return result, fmt.Errorf("mirror: %d of %d cases failed: %w", len(failures), len(parents), errors.Join(failures...))
	}
	return result, nil
}
