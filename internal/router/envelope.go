// Package router turns normalized CRM events into reconciliation runs.
package router

import (
	"time"

	"b24_case_sync/platform/apperr"
	"b24_case_sync/platform/validator"
)

// Event actions carried by an envelope.
const (
	ActionCreate   = "create"
	ActionUpdate   = "update"
	ActionDelete   = "delete"
	ActionFullSync = "full_sync"
)

// CollectionContact marks contact events; every other collectionType value
// is the numeric entity type ID of the collection the event belongs to.
const CollectionContact = "CONTACT"

// Envelope is the normalized event passed from the webhook ingress through
// the queue to the dispatcher. RecordID is the triggering record's ID in
// its own collection (a child ID, a case ID, or a contact ID depending on
// CollectionType).
type Envelope struct {
	Action               string    `json:"action" validate:"required,oneof=create update delete full_sync"`
	RecordID             int64     `json:"recordId,omitempty"`
	ContactID            int64     `json:"contactId,omitempty"`
	CollectionType       string    `json:"collectionType" validate:"required"`
	IsContactEvent       bool      `json:"isContactEvent"`
	RawUpstreamEventName string    `json:"rawUpstreamEventName,omitempty"`
	CorrelationID        string    `json:"correlationId" validate:"required"`
	Timestamp            time.Time `json:"timestamp"`
}

// Validate checks tag constraints plus the structural rules the tags cannot
// express, and normalizes the contact markers. A failure here is permanent:
// redelivering the same envelope can never make it valid.
func (e *Envelope) Validate(v *validator.Validator) error {
	if err := v.Struct(e); err != nil {
		return apperr.Wrap(apperr.KindValidation, "invalid event envelope", err)
	}

	// Publishers disagree on whether they set the flag, the collection
	// discriminator, or both; either marker alone means a contact event.
	if e.CollectionType == CollectionContact {
		e.IsContactEvent = true
	}

	switch {
	case e.IsContactEvent:
		if e.ContactID == 0 && e.RecordID == 0 {
			return apperr.Validation("contact event carries no contact ID")
		}
	case e.Action == ActionFullSync:
		if e.ContactID == 0 {
			return apperr.Validation("full_sync requires a contact ID")
		}
	default:
		if e.RecordID == 0 && e.ContactID == 0 {
			return apperr.Validation("event carries neither record ID nor contact ID")
		}
	}
	return nil
}

// SubjectContactID returns the contact the event is about, falling back to
// the record ID for contact events where the extractor only saw the record.
func (e *Envelope) SubjectContactID() int64 {
	if e.ContactID != 0 {
		return e.ContactID
	}
	if e.IsContactEvent {
		return e.RecordID
	}
	return 0
}
