package webhook

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"b24_case_sync/internal/router"

	"github.com/gin-gonic/gin"
)

type capturingPublisher struct {
	envelopes []*router.Envelope
	err       error
}

func (p *capturingPublisher) EnqueueEvent(ctx context.Context, env *router.Envelope) error {
	if p.err != nil {
		return p.err
	}
	p.envelopes = append(p.envelopes, env)
	return nil
}

func newTestServer(publisher Publisher) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()

	extractor := testExtractor()
	handler := NewHandler(extractor, publisher, extractor.log)
	handler.RegisterRoutes(engine)
	return engine
}

func TestHandleWebhookQueuesNormalizedEvent(t *testing.T) {
	publisher := &capturingPublisher{}
	engine := newTestServer(publisher)

	body := "event=ONCRMDYNAMICITEMUPDATE&data[FIELDS][ID]=42&data[FIELDS][ENTITY_TYPE_ID]=1042"
	req := httptest.NewRequest("POST", "/webhook/b24", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; body = %s", rec.Code, rec.Body.String())
	}
	if len(publisher.envelopes) != 1 {
		t.Fatalf("published %d envelopes, want 1", len(publisher.envelopes))
	}
	env := publisher.envelopes[0]
	if env.RecordID != 42 || env.CollectionType != "1042" {
		t.Fatalf("envelope = %+v", env)
	}
	if !strings.Contains(rec.Body.String(), env.CorrelationID) {
		t.Fatal("response must echo the correlation ID")
	}
}

func TestHandleWebhookRejectsUninterpretableRequest(t *testing.T) {
	publisher := &capturingPublisher{}
	engine := newTestServer(publisher)

	req := httptest.NewRequest("POST", "/webhook/b24", strings.NewReader("unrelated=1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if len(publisher.envelopes) != 0 {
		t.Fatal("rejected request must not publish")
	}
}

func TestHandleWebhookReportsQueueOutage(t *testing.T) {
	publisher := &capturingPublisher{err: errors.New("redis down")}
	engine := newTestServer(publisher)

	body := "event=ONCRMDYNAMICITEMUPDATE&data[FIELDS][ID]=42"
	req := httptest.NewRequest("POST", "/webhook/b24", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	engine := newTestServer(&capturingPublisher{})

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
