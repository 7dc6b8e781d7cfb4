package router

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"b24_case_sync/internal/sync"
	"b24_case_sync/platform/apperr"
	"b24_case_sync/platform/bitrix"
	"b24_case_sync/platform/logger"
	"b24_case_sync/platform/validator"
)

// Dispatch statuses.
const (
	StatusDone     = "done"
	StatusRejected = "rejected"
)

// DispatchResult reports what one event made the system do. Exactly one of
// the payload fields is populated per handled branch; skipped and no-op
// events carry only a reason.
type DispatchResult struct {
	Status  string                    `json:"status"`
	Handled string                    `json:"handled"`
	Reason  string                    `json:"reason,omitempty"`
	Sync    []*sync.ContactSyncResult `json:"sync,omitempty"`
	Removed *sync.RemoveResult        `json:"removed,omitempty"`
	Mirror  *sync.MirrorResult        `json:"mirror,omitempty"`
}

// Dispatcher routes one normalized event to the engine or mirror that
// handles it. It is stateless and safe for concurrent use.
type Dispatcher struct {
	engines    map[string]*sync.Engine
	sweep      []*sync.Engine
	fallback   *sync.Engine
	mirror     *sync.Mirror
	crm        bitrix.Client
	caseType   string
	caseTypeID int
	validate   *validator.Validator
	log        *logger.Logger
}

// NewDispatcher wires the dispatcher. The first engine doubles as the
// fallback for events whose collection discriminator is unknown; that
// matches the behavior inherited from before the engine set was
// configurable, when every event went to the residence permit flow.
func NewDispatcher(caseTypeID int, engines []*sync.Engine, mirror *sync.Mirror, crm bitrix.Client, v *validator.Validator, log *logger.Logger) *Dispatcher {
	byType := make(map[string]*sync.Engine, len(engines))
	for _, engine := range engines {
		byType[strconv.Itoa(engine.ChildTypeID())] = engine
	}

	var fallback *sync.Engine
	if len(engines) > 0 {
		fallback = engines[0]
	}

	return &Dispatcher{
		engines:    byType,
		sweep:      engines,
		fallback:   fallback,
		mirror:     mirror,
		crm:        crm,
		caseType:   strconv.Itoa(caseTypeID),
		caseTypeID: caseTypeID,
		validate:   v,
		log:        log,
	}
}

// Dispatch handles exactly one event and returns a terminal result. A
// returned validation error means the event can never succeed and must not
// be redelivered; any other error is transient and the caller should retry.
func (d *Dispatcher) Dispatch(ctx context.Context, env *Envelope) (*DispatchResult, error) {
	if err := env.Validate(d.validate); err != nil {
		d.log.WithContext(ctx).Warn("rejecting malformed event",
			"action", env.Action,
			"collection_type", env.CollectionType,
			"error", err,
		)
		return &DispatchResult{Status: StatusRejected, Reason: err.Error()}, err
	}

	ctx = logger.ContextWithCorrelationID(ctx, env.CorrelationID)
	log := d.log.WithContext(ctx)

	switch {
	case env.IsContactEvent:
		return d.dispatchContact(ctx, env)

	case env.Action == ActionFullSync:
		return d.fullSweep(ctx, env.ContactID, 0)

	case env.CollectionType == d.caseType:
		return d.dispatchCase(ctx, env)

	default:
		engine, ok := d.engines[env.CollectionType]
		if !ok {
			// Inherited default: unrecognized collections flow through the
			// first configured engine rather than being dropped.
			engine = d.fallback
			if engine == nil {
				return nil, apperr.Internal("no engines configured").WithOp("dispatch")
			}
			log.Warn("unknown collection type, using fallback engine",
				"collection_type", env.CollectionType,
				"engine", engine.Name(),
			)
		}
		return d.dispatchChild(ctx, env, engine)
	}
}

// dispatchContact handles contact lifecycle events. Deletions are a logged
// no-op: case records referencing a deleted contact are cleaned up manually
// in the portal.
func (d *Dispatcher) dispatchContact(ctx context.Context, env *Envelope) (*DispatchResult, error) {
	log := d.log.WithContext(ctx)
	contactID := env.SubjectContactID()

	if env.Action == ActionDelete {
		log.Info("contact deleted, no sync action", "contact_id", contactID)
		return &DispatchResult{
			Status:  StatusDone,
			Handled: "contact_delete",
			Reason:  "contact deletions are not propagated",
		}, nil
	}

	result, err := d.mirror.SyncAllParentsForContact(ctx, contactID)
	if err != nil {
		return nil, err
	}
	return &DispatchResult{Status: StatusDone, Handled: "contact_mirror", Mirror: result}, nil
}

// dispatchCase handles events on the case collection itself by resolving
// the contact and running the full sweep.
func (d *Dispatcher) dispatchCase(ctx context.Context, env *Envelope) (*DispatchResult, error) {
	log := d.log.WithContext(ctx)

	contactID := env.ContactID
	if contactID == 0 && env.RecordID != 0 {
		parent, err := d.crm.GetItem(ctx, d.caseTypeID, env.RecordID)
		if err != nil {
			if env.Action == ActionDelete {
				// The record is already gone; there is nothing left to
				// derive a contact from.
				log.Info("deleted case no longer readable, skipping",
					"case_id", env.RecordID)
				return &DispatchResult{
					Status:  StatusDone,
					Handled: "case_event",
					Reason:  "deleted case record is unreadable",
				}, nil
			}
			return nil, fmt.Errorf("resolve contact of case %d: %w", env.RecordID, err)
		}
		contactID = parent.ContactID()
	}

	if contactID == 0 {
		log.Warn("case has no contact, skipping sweep", "case_id", env.RecordID)
		return &DispatchResult{
			Status:  StatusDone,
			Handled: "case_event",
			Reason:  "case record has no contact reference",
		}, nil
	}

	return d.fullSweep(ctx, contactID, env.RecordID)
}

// dispatchChild handles events on one child collection. Removals are
// detected from the explicit delete action or from the raw upstream event
// name, which some webhook shapes carry instead of a usable action.
func (d *Dispatcher) dispatchChild(ctx context.Context, env *Envelope, engine *sync.Engine) (*DispatchResult, error) {
	isDelete := env.Action == ActionDelete ||
		strings.Contains(strings.ToUpper(env.RawUpstreamEventName), "DELETE")

	if isDelete {
		removed, err := engine.RemoveChildFromParents(ctx, env.RecordID, env.ContactID)
		if err != nil {
			return nil, err
		}
		return &DispatchResult{Status: StatusDone, Handled: engine.Name(), Removed: removed}, nil
	}

	result, err := engine.ReconcileOne(ctx, env.RecordID, env.ContactID)
	if err != nil {
		return nil, err
	}
	return &DispatchResult{
		Status:  StatusDone,
		Handled: engine.Name(),
		Sync:    []*sync.ContactSyncResult{result},
	}, nil
}

// fullSweep runs every engine for the contact, then mirrors contact fields.
// When parentID is set the mirror targets that single case record, otherwise
// every case of the contact.
func (d *Dispatcher) fullSweep(ctx context.Context, contactID, parentID int64) (*DispatchResult, error) {
	result := &DispatchResult{Status: StatusDone, Handled: "full_sweep"}

	for _, engine := range d.sweep {
		syncResult, err := engine.ReconcileAllForContact(ctx, contactID)
		if err != nil {
			return nil, err
		}
		result.Sync = append(result.Sync, syncResult)
	}

	var mirrorResult *sync.MirrorResult
	var err error
	if parentID != 0 {
		mirrorResult, err = d.mirror.SyncOneParent(ctx, parentID, contactID)
	} else {
		mirrorResult, err = d.mirror.SyncAllParentsForContact(ctx, contactID)
	}
	if err != nil {
		return nil, err
	}
	result.Mirror = mirrorResult

	return result, nil
}
