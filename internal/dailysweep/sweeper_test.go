package dailysweep

import (
	"context"
	"errors"
	"io"
	"log/slog"
	stdsync "sync"
	"testing"

	"b24_case_sync/internal/router"
	"b24_case_sync/platform/bitrix"
	"b24_case_sync/platform/logger"
)

type listOnlyCRM struct {
	items []bitrix.Item
	err   error
}

func (f *listOnlyCRM) ListItems(ctx context.Context, entityTypeID int, filter map[string]any, selectFields []string) ([]bitrix.Item, error) {
	return f.items, f.err
}

func (f *listOnlyCRM) GetItem(ctx context.Context, entityTypeID int, id int64) (bitrix.Item, error) {
	return nil, errors.New("not used")
}

func (f *listOnlyCRM) UpdateItem(ctx context.Context, entityTypeID int, id int64, fields map[string]any) (bitrix.Item, error) {
	return nil, errors.New("not used")
}

func (f *listOnlyCRM) AddItem(ctx context.Context, entityTypeID int, fields map[string]any) (bitrix.Item, error) {
	return nil, errors.New("not used")
}

func (f *listOnlyCRM) GetContact(ctx context.Context, contactID int64) (bitrix.Item, error) {
	return nil, errors.New("not used")
}

type capturingPublisher struct {
	mu        stdsync.Mutex
	envelopes []*router.Envelope
	err       error
}

func (p *capturingPublisher) EnqueueEvent(ctx context.Context, env *router.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.envelopes = append(p.envelopes, env)
	return nil
}

func testLogger() *logger.Logger {
	return &logger.Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func TestRunEnqueuesFullSyncForActiveCasesOnly(t *testing.T) {
	crm := &listOnlyCRM{items: []bitrix.Item{
		{"id": float64(100), "contactId": float64(55), "stageId": "DT1106_10:NEW"},
		{"id": float64(101), "contactId": float64(56), "stageId": "DT1106_10:SUCCESS"},
		{"id": float64(102), "contactId": float64(57), "stageId": "DT1106_10:PREPARATION"},
		{"id": float64(103), "stageId": "DT1106_10:NEW"},
	}}
	publisher := &capturingPublisher{}

	sweeper := NewSweeper(1106, crm, publisher, testLogger())
	report, err := sweeper.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if report.Total != 4 || report.Active != 3 || report.Enqueued != 2 || report.SkippedNoContact != 1 {
		t.Fatalf("report = %+v, want total 4, active 3, enqueued 2, skipped 1", report)
	}

	if len(publisher.envelopes) != 2 {
		t.Fatalf("published %d envelopes, want 2", len(publisher.envelopes))
	}
	for _, env := range publisher.envelopes {
		if env.Action != router.ActionFullSync {
			t.Fatalf("action = %q, want full_sync", env.Action)
		}
		if env.ContactID == 0 {
			t.Fatal("published envelope without contact ID")
		}
		if env.CorrelationID == "" {
			t.Fatal("published envelope without correlation ID")
		}
	}
}

func TestRunFailsWhenListingFails(t *testing.T) {
	crm := &listOnlyCRM{err: errors.New("portal unavailable")}
	sweeper := NewSweeper(1106, crm, &capturingPublisher{}, testLogger())

	if _, err := sweeper.Run(context.Background()); err == nil {
		t.Fatal("expected error when listing fails")
	}
}

func TestRunFailsWhenEnqueueFails(t *testing.T) {
	crm := &listOnlyCRM{items: []bitrix.Item{
		{"id": float64(100), "contactId": float64(55), "stageId": "DT1106_10:NEW"},
	}}
	publisher := &capturingPublisher{err: errors.New("redis down")}

	sweeper := NewSweeper(1106, crm, publisher, testLogger())
	if _, err := sweeper.Run(context.Background()); err == nil {
		t.Fatal("expected error when enqueueing fails")
	}
}
