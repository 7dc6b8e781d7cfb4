package sync

// Per-record outcome values reported by the engines and the mirror.
const (
	OutcomeSynced        = "synced"
	OutcomeAlreadySynced = "already_synced"
	OutcomeUnlinked      = "unlinked"
	OutcomeSkipped       = "skipped"
	OutcomeError         = "error"
)

// Run-level action values.
const (
	ActionSyncAll            = "sync_all"
	ActionRemoved            = "removed"
	ActionSkipped            = "skipped"
	ActionSyncContactFields  = "sync_contact_fields"
	ActionSyncFieldsToParent = "sync_fields_to_parent"
)

// ParentOutcome records what one reconciliation run did to one parent
// record, including the before/after values when an update was issued.
type ParentOutcome struct {
	ParentID      int64             `json:"parentId"`
	Title         string            `json:"title,omitempty"`
	Outcome       string            `json:"outcome"`
	PreviousLinks []string          `json:"previousLinks,omitempty"`
	NewLinks      []string          `json:"newLinks,omitempty"`
	PreviousDates []string          `json:"previousDates,omitempty"`
	NewDates      []string          `json:"newDates,omitempty"`
	LinksUpdated  bool              `json:"linksUpdated,omitempty"`
	DatesUpdated  bool              `json:"datesUpdated,omitempty"`
	UpdatedFields map[string]string `json:"updatedFields,omitempty"`
	Error         string            `json:"error,omitempty"`
}

// ContactSyncResult is the structured result of a full convergence run for
// one contact in one child collection.
type ContactSyncResult struct {
	Action         string          `json:"action"`
	Collection     string          `json:"collection"`
	ContactID      int64           `json:"contactId"`
	Reason         string          `json:"reason,omitempty"`
	Total          int             `json:"total"`
	Active         int             `json:"active"`
	Inactive       int             `json:"inactive"`
	ActiveIDs      []string        `json:"activeIds,omitempty"`
	InactiveIDs    []string        `json:"inactiveIds,omitempty"`
	Parents        []ParentOutcome `json:"parents,omitempty"`
	TriggerChildID int64           `json:"triggerChildId,omitempty"`
}

// RemoveResult is the result of unlinking a deleted child from its parents.
type RemoveResult struct {
	Action  string          `json:"action"`
	ChildID int64           `json:"childId"`
	Parents []ParentOutcome `json:"parents,omitempty"`
}

// MirrorResult is the result of copying contact fields onto parent records.
type MirrorResult struct {
	Action    string            `json:"action"`
	ContactID int64             `json:"contactId"`
	ParentID  int64             `json:"parentId,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	Parents   []ParentOutcome   `json:"parents,omitempty"`
}
