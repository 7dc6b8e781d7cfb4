// Package webhook is the HTTP ingress: it normalizes the portal's webhook
// shapes into event envelopes and hands them to the queue.
package webhook

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"b24_case_sync/internal/router"
	"b24_case_sync/platform/apperr"
	"b24_case_sync/platform/logger"

	"github.com/google/uuid"
)

// ErrInvalidAppToken marks a request whose application token does not match
// the configured one.
var ErrInvalidAppToken = errors.New("invalid application token")

// The portal delivers outbound webhooks in several shapes depending on how
// the handler was registered: bracketed form fields in the POST body,
// the same fields as query parameters, or (for REST-registered handlers and
// manual triggers) a JSON body. The extractor tries them in that order.

// Extractor turns an incoming webhook request into a normalized envelope.
type Extractor struct {
	defaultCollection string
	appToken          string
	log               *logger.Logger
}

// NewExtractor creates an extractor. Events that carry no entity type
// discriminator are attributed to the given collection. When appToken is
// non-empty, every request must present the matching application token the
// portal includes in its outbound webhook payloads.
func NewExtractor(defaultTypeID int, appToken string, log *logger.Logger) *Extractor {
	return &Extractor{
		defaultCollection: strconv.Itoa(defaultTypeID),
		appToken:          appToken,
		log:               log,
	}
}

// verifyAppToken compares the presented token against the configured one in
// constant time.
func (x *Extractor) verifyAppToken(presented string) error {
	if x.appToken == "" {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(presented), []byte(x.appToken)) != 1 {
		return ErrInvalidAppToken
	}
	return nil
}

// FromRequest parses the request into an envelope. The returned error is
// always a validation error: a request the extractor cannot interpret will
// not become interpretable on retry.
func (x *Extractor) FromRequest(r *http.Request) (*router.Envelope, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindBadRequest, "failed to read request body", err)
	}

	contentType := r.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/json") && len(body) > 0 {
		env, err := x.fromJSON(body)
		if err == nil {
			return x.finalize(r, env), nil
		}
		if errors.Is(err, ErrInvalidAppToken) {
			return nil, err
		}
	}

	values := url.Values{}
	if len(body) > 0 {
		if parsed, err := url.ParseQuery(string(body)); err == nil {
			values = parsed
		}
	}
	// Query parameters fill in anything the body did not carry.
	for key, vals := range r.URL.Query() {
		if values.Get(key) == "" && len(vals) > 0 {
			values.Set(key, vals[0])
		}
	}

	env, err := x.fromFormValues(values)
	if err != nil {
		if errors.Is(err, ErrInvalidAppToken) {
			return nil, err
		}
		// Last resort: a JSON body sent without the JSON content type.
		if len(body) > 0 {
			jsonEnv, jsonErr := x.fromJSON(body)
			if jsonErr == nil {
				return x.finalize(r, jsonEnv), nil
			}
			if errors.Is(jsonErr, ErrInvalidAppToken) {
				return nil, jsonErr
			}
		}
		return nil, err
	}
	return x.finalize(r, env), nil
}

// fromJSON handles two JSON shapes: the portal's event document
// {"event": ..., "data": {"FIELDS": {"ID": ...}}} and a direct envelope
// {"action": ...} used for manual triggers.
func (x *Extractor) fromJSON(body []byte) (*router.Envelope, error) {
	var direct struct {
		Action           string `json:"action"`
		RecordID         int64  `json:"recordId"`
		ContactID        int64  `json:"contactId"`
		CollectionType   string `json:"collectionType"`
		ApplicationToken string `json:"applicationToken"`
	}
	if err := json.Unmarshal(body, &direct); err == nil && direct.Action != "" {
		if err := x.verifyAppToken(direct.ApplicationToken); err != nil {
			return nil, err
		}
		return &router.Envelope{
			Action:         direct.Action,
			RecordID:       direct.RecordID,
			ContactID:      direct.ContactID,
			CollectionType: direct.CollectionType,
			IsContactEvent: direct.CollectionType == router.CollectionContact,
		}, nil
	}

	var doc struct {
		Event string `json:"event"`
		Data  struct {
			Fields map[string]any `json:"FIELDS"`
		} `json:"data"`
		Auth struct {
			ApplicationToken string `json:"application_token"`
		} `json:"auth"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, apperr.Wrap(apperr.KindBadRequest, "unparseable webhook body", err)
	}
	if doc.Event == "" {
		return nil, apperr.BadRequest("webhook body carries no event name")
	}
	if err := x.verifyAppToken(doc.Auth.ApplicationToken); err != nil {
		return nil, err
	}

	recordID := asInt64(doc.Data.Fields["ID"])
	entityTypeID := asInt64(doc.Data.Fields["ENTITY_TYPE_ID"])
	return x.fromEvent(doc.Event, recordID, entityTypeID), nil
}

// fromFormValues handles the bracketed form encoding:
// event=ONCRMDYNAMICITEMUPDATE&data[FIELDS][ID]=42&...
func (x *Extractor) fromFormValues(values url.Values) (*router.Envelope, error) {
	event := values.Get("event")
	if event == "" {
		return nil, apperr.BadRequest("webhook request carries no event name")
	}
	if err := x.verifyAppToken(values.Get("auth[application_token]")); err != nil {
		return nil, err
	}

	recordID, _ := strconv.ParseInt(values.Get("data[FIELDS][ID]"), 10, 64)
	entityTypeID, _ := strconv.ParseInt(values.Get("data[FIELDS][ENTITY_TYPE_ID]"), 10, 64)
	return x.fromEvent(event, recordID, entityTypeID), nil
}

// fromEvent maps an upstream event name plus record identifiers onto an
// envelope. Contact events are recognized by name; everything else is
// attributed to the entity type from the payload, falling back to the
// default collection when the payload omits it.
func (x *Extractor) fromEvent(event string, recordID, entityTypeID int64) *router.Envelope {
	upper := strings.ToUpper(event)

	env := &router.Envelope{
		Action:               actionFromEvent(upper),
		RecordID:             recordID,
		RawUpstreamEventName: event,
	}

	if strings.HasPrefix(upper, "ONCRMCONTACT") {
		env.CollectionType = router.CollectionContact
		env.IsContactEvent = true
		env.ContactID = recordID
		return env
	}

	if entityTypeID != 0 {
		env.CollectionType = strconv.FormatInt(entityTypeID, 10)
	} else {
		env.CollectionType = x.defaultCollection
	}
	return env
}

// finalize stamps correlation metadata. The correlation ID reuses the
// request ID when the middleware set one, so ingress logs and worker logs
// line up.
func (x *Extractor) finalize(r *http.Request, env *router.Envelope) *router.Envelope {
	if requestID, ok := r.Context().Value(logger.RequestIDKey).(string); ok && requestID != "" {
		env.CorrelationID = requestID
	} else {
		env.CorrelationID = uuid.NewString()
	}
	env.Timestamp = time.Now().UTC()
	return env
}

// actionFromEvent derives the action from the upstream event name suffix.
// Unrecognized suffixes are treated as updates, which resolves to a full
// recomputation and is therefore safe for any event shape.
func actionFromEvent(upperEvent string) string {
	switch {
	case strings.HasSuffix(upperEvent, "ADD"):
		return router.ActionCreate
	case strings.HasSuffix(upperEvent, "DELETE"):
		return router.ActionDelete
	default:
		return router.ActionUpdate
	}
}

// asInt64 reads a numeric field that the portal serializes as either a JSON
// number or a string.
func asInt64(v any) int64 {
	switch value := v.(type) {
	case float64:
		return int64(value)
	case string:
		parsed, _ := strconv.ParseInt(value, 10, 64)
		return parsed
	case json.Number:
		parsed, _ := value.Int64()
		return parsed
	default:
		return 0
	}
}
