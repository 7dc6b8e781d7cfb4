// Package dailysweep enqueues a full reconciliation for every active case
// record. Webhooks cover the steady state; the sweep catches events the
// portal dropped or that failed past their retry budget.
package dailysweep

import (
	"context"
	"fmt"
	"time"

	"b24_case_sync/internal/router"
	"b24_case_sync/internal/sync"
	"b24_case_sync/platform/bitrix"
	"b24_case_sync/platform/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// enqueueParallelism bounds concurrent publishes; Redis round-trips
// dominate the sweep's runtime.
const enqueueParallelism = 8

// Publisher hands an envelope to the queue transport.
type Publisher interface {
	EnqueueEvent(ctx context.Context, env *router.Envelope) error
}

// Report summarizes one sweep run.
type Report struct {
	Total            int `json:"total"`
	Active           int `json:"active"`
	Enqueued         int `json:"enqueued"`
	SkippedNoContact int `json:"skippedNoContact"`
}

// Sweeper publishes full-sync events for active case records.
type Sweeper struct {
	crm        bitrix.Client
	publisher  Publisher
	caseTypeID int
	log        *logger.Logger
}

// NewSweeper creates a sweeper over the case collection.
func NewSweeper(caseTypeID int, crm bitrix.Client, publisher Publisher, log *logger.Logger) *Sweeper {
	return &Sweeper{crm: crm, publisher: publisher, caseTypeID: caseTypeID, log: log}
}

// Run lists the case collection and enqueues one full-sync event per active
// record that has a contact. Records in terminal stages are left alone; a
// closed case's link fields are a historical snapshot, not live state.
func (s *Sweeper) Run(ctx context.Context) (*Report, error) {
	log := s.log.WithContext(ctx)
	runID := uuid.NewString()

	parents, err := s.crm.ListItems(ctx, s.caseTypeID, nil, []string{"id", "title", "stageId", "contactId"})
	if err != nil {
		return nil, fmt.Errorf("list case records: %w", err)
	}

	report := &Report{Total: len(parents)}
	now := time.Now().UTC()

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(enqueueParallelism)

	for _, parent := range parents {
		if !sync.IsActiveStage(parent.StageID()) {
			continue
		}
		report.Active++

		contactID := parent.ContactID()
		if contactID == 0 {
			report.SkippedNoContact++
			log.Warn("active case has no contact, skipping", "case_id", parent.IntID())
			continue
		}

		env := &router.Envelope{
			Action:         router.ActionFullSync,
			RecordID:       parent.IntID(),
			ContactID:      contactID,
			CollectionType: fmt.Sprintf("%d", s.caseTypeID),
			CorrelationID:  fmt.Sprintf("%s/%d", runID, parent.IntID()),
			Timestamp:      now,
		}

		report.Enqueued++
		group.Go(func() error {
			return s.publisher.EnqueueEvent(groupCtx, env)
		})
	}

	if err := group.Wait(); err != nil {
		return nil, fmt.Errorf("enqueue sweep events: %w", err)
	}

	log.Info("daily sweep enqueued",
		"run_id", runID,
		"total", report.Total,
		"active", report.Active,
		"enqueued", report.Enqueued,
		"skipped_no_contact", report.SkippedNoContact,
	)
	return report, nil
}
