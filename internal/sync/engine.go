// Package sync implements the reconciliation core: per child collection it
// recomputes the canonical set of active links (and companion dates) for a
// contact and converges every case record of that contact to it, and it
// mirrors contact fields onto case records.
package sync

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"b24_case_sync/platform/bitrix"
	"b24_case_sync/platform/logger"
)

// EngineConfig parameterizes one reconciliation engine instance. The three
// child collections differ only in these identifiers, so there is a single
// engine type instead of one service per collection.
type EngineConfig struct {
	// Name labels the collection in logs and results.
	Name string
	// ParentTypeID is the entity type of the case collection.
	ParentTypeID int
	// ChildTypeID is the entity type of the child collection.
	ChildTypeID int
	// LinkField is the case field holding the active child IDs.
	LinkField string
	// DatesField is the case field holding the companion dates.
	// Empty when the collection carries no date attribute.
	DatesField string
	// ChildDateField is the child field the companion dates come from.
	// Empty when DatesField is empty.
	ChildDateField string
}

// Engine converges the link/date state of case records for one child
// collection. It holds no state of its own: every run re-derives truth from
// the CRM's current data.
type Engine struct {
	cfg EngineConfig
	crm bitrix.Client
	log *logger.Logger
}

// NewEngine creates an engine for one child collection.
func NewEngine(cfg EngineConfig, crm bitrix.Client, log *logger.Logger) *Engine {
	return &Engine{cfg: cfg, crm: crm, log: log}
}

// Name returns the collection label this engine is configured for.
func (e *Engine) Name() string { return e.cfg.Name }

// ChildTypeID returns the entity type of the child collection.
func (e *Engine) ChildTypeID() int { return e.cfg.ChildTypeID }

// ReconcileAllForContact recomputes the full target link/date state from
// the contact's current child records and replaces the stored arrays on
// every case record of that contact. Re-running without an intervening CRM
// change issues zero update calls.
func (e *Engine) ReconcileAllForContact(ctx context.Context, contactID int64) (*ContactSyncResult, error) {
	log := e.log.WithContext(ctx)

	childSelect := []string{"id", "title", "stageId"}
	if e.cfg.ChildDateField != "" {
		childSelect = append(childSelect, e.cfg.ChildDateField)
	}
	children, err := e.crm.ListItems(ctx, e.cfg.ChildTypeID, map[string]any{"contactId": contactID}, childSelect)
	if err != nil {
		return nil, fmt.Errorf("%s: list children for contact %d: %w", e.cfg.Name, contactID, err)
	}

	activeIDs := make([]string, 0, len(children))
	inactiveIDs := make([]string, 0)
	dateByID := make(map[string]string)

	for _, child := range children {
		id := child.ID()
		if !IsActiveStage(child.StageID()) {
			inactiveIDs = append(inactiveIDs, id)
			continue
		}
		activeIDs = append(activeIDs, id)
		if e.cfg.ChildDateField != "" {
			if date := child.String(e.cfg.ChildDateField); date != "" {
				dateByID[id] = date
			}
		}
	}
	sort.Strings(activeIDs)

	targetDates := make([]string, 0, len(activeIDs))
	for _, id := range activeIDs {
		if date, ok := dateByID[id]; ok {
			targetDates = append(targetDates, date)
		}
	}

	log.Info("reconcile_contact",
		"collection", e.cfg.Name,
		"contact_id", contactID,
		"total", len(children),
		"active", len(activeIDs),
		"inactive", len(inactiveIDs),
	)

	parentSelect := []string{"id", "title", e.cfg.LinkField}
	if e.cfg.DatesField != "" {
		parentSelect = append(parentSelect, e.cfg.DatesField)
	}
	parents, err := e.crm.ListItems(ctx, e.cfg.ParentTypeID, map[string]any{"contactId": contactID}, parentSelect)
	if err != nil {
		return nil, fmt.Errorf("%s: list cases for contact %d: %w", e.cfg.Name, contactID, err)
	}

	result := &ContactSyncResult{
		Action:      ActionSyncAll,
		Collection:  e.cfg.Name,
		ContactID:   contactID,
		Total:       len(children),
		Active:      len(activeIDs),
		Inactive:    len(inactiveIDs),
		ActiveIDs:   activeIDs,
		InactiveIDs: inactiveIDs,
	}

	for _, parent := range parents {
		outcome, err := e.convergeParent(ctx, parent, activeIDs, targetDates)
		if err != nil {
			return nil, err
		}
		result.Parents = append(result.Parents, *outcome)
		log.SyncOutcome(e.cfg.Name, outcome.ParentID, outcome.Outcome)
	}

	return result, nil
}

// convergeParent diffs one case record against the target arrays and issues
// at most one update carrying only the fields that differ.
func (e *Engine) convergeParent(ctx context.Context, parent bitrix.Item, targetLinks, targetDates []string) (*ParentOutcome, error) {
	currentLinks := parent.StringList(e.cfg.LinkField)

	linksInSync := slices.Equal(currentLinks, targetLinks)
	datesInSync := true
	var currentDates []string
	if e.cfg.DatesField != "" {
		currentDates = parent.StringList(e.cfg.DatesField)
		datesInSync = slices.Equal(currentDates, targetDates)
	}

	outcome := &ParentOutcome{
		ParentID: parent.IntID(),
		Title:    parent.Title(),
	}

	if linksInSync && datesInSync {
		outcome.Outcome = OutcomeAlreadySynced
		return outcome, nil
	}

	fields := make(map[string]any, 2)
	if !linksInSync {
		fields[e.cfg.LinkField] = targetLinks
	}
	if !datesInSync {
		fields[e.cfg.DatesField] = targetDates
	}

	if _, err := e.crm.UpdateItem(ctx, e.cfg.ParentTypeID, parent.IntID(), fields); err != nil {
		return nil, fmt.Errorf("%s: update case %d: %w", e.cfg.Name, parent.IntID(), err)
	}

	outcome.Outcome = OutcomeSynced
	outcome.PreviousLinks = currentLinks
	outcome.NewLinks = targetLinks
	outcome.PreviousDates = currentDates
	outcome.NewDates = targetDates
	outcome.LinksUpdated = !linksInSync
	outcome.DatesUpdated = !datesInSync
	return outcome, nil
}

// ReconcileOne handles a create/update event for a single child record by
// resolving its contact and running the full convergence for that contact.
// An incremental patch would be cheaper but could diverge from remote
// state; the full recomputation keeps the idempotence guarantee, at the
// accepted cost of touching every child of the contact.
func (e *Engine) ReconcileOne(ctx context.Context, childID, contactID int64) (*ContactSyncResult, error) {
	if contactID == 0 {
		child, err := e.crm.GetItem(ctx, e.cfg.ChildTypeID, childID)
		if err != nil {
			return nil, fmt.Errorf("%s: fetch child %d: %w", e.cfg.Name, childID, err)
		}
		contactID = child.ContactID()
	}

	if contactID == 0 {
		e.log.WithContext(ctx).Warn("child has no contact, skipping",
			"collection", e.cfg.Name, "child_id", childID)
		return &ContactSyncResult{
			Action:         ActionSkipped,
			Collection:     e.cfg.Name,
			Reason:         "child record has no contact reference",
			TriggerChildID: childID,
		}, nil
	}

	result, err := e.ReconcileAllForContact(ctx, contactID)
	if err != nil {
		return nil, err
	}
	result.TriggerChildID = childID
	return result, nil
}

// RemoveChildFromParents unlinks a deleted child from every case record
// still referencing it. The deleted record no longer shows up in listings,
// so the full convergence cannot see it; this path filters it out of the
// link arrays directly. The companion date array is intentionally left
// untouched here: the next full convergence re-derives it.
func (e *Engine) RemoveChildFromParents(ctx context.Context, childID, contactID int64) (*RemoveResult, error) {
	log := e.log.WithContext(ctx)
	childIDStr := bitrix.ItemID(childID)

	filter := map[string]any{}
	if contactID != 0 {
		filter["contactId"] = contactID
	} else {
		// Without a contact hint this scans the whole case collection.
		log.Warn("removing child without contact filter, scanning all cases",
			"collection", e.cfg.Name, "child_id", childID)
	}

	parents, err := e.crm.ListItems(ctx, e.cfg.ParentTypeID, filter, []string{"id", "title", e.cfg.LinkField})
	if err != nil {
		return nil, fmt.Errorf("%s: list cases: %w", e.cfg.Name, err)
	}

	result := &RemoveResult{Action: ActionRemoved, ChildID: childID}

	for _, parent := range parents {
		currentLinks := parent.StringList(e.cfg.LinkField)
		if !slices.Contains(currentLinks, childIDStr) {
			continue
		}

		newLinks := make([]string, 0, len(currentLinks)-1)
		for _, link := range currentLinks {
			if link != childIDStr {
				newLinks = append(newLinks, link)
			}
		}

		fields := map[string]any{e.cfg.LinkField: newLinks}
		if _, err := e.crm.UpdateItem(ctx, e.cfg.ParentTypeID, parent.IntID(), fields); err != nil {
			return nil, fmt.Errorf("%s: unlink child %d from case %d: %w", e.cfg.Name, childID, parent.IntID(), err)
		}

		result.Parents = append(result.Parents, ParentOutcome{
			ParentID:      parent.IntID(),
			Title:         parent.Title(),
			Outcome:       OutcomeUnlinked,
			PreviousLinks: currentLinks,
			NewLinks:      newLinks,
			LinksUpdated:  true,
		})
		log.SyncOutcome(e.cfg.Name, parent.IntID(), OutcomeUnlinked)
	}

	return result, nil
}
