// Package bitrix provides a typed client for the Bitrix24 REST API.
// This is part of the platform layer and contains no business logic.
package bitrix

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"b24_case_sync/platform/apperr"
	"b24_case_sync/platform/logger"

	"golang.org/x/time/rate"
)

// Client is the CRM operation set consumed by the sync engines.
// Implemented by RESTClient; tests substitute in-package fakes.
type Client interface {
	// GetItem fetches a single record from a dynamic collection by ID.
	GetItem(ctx context.Context, entityTypeID int, id int64) (Item, error)
	// ListItems fetches all records matching the filter, transparently
	// following the paging cursor until the last page.
	ListItems(ctx context.Context, entityTypeID int, filter map[string]any, selectFields []string) ([]Item, error)
	// UpdateItem applies a partial update. Empty slices are sent as an
	// explicit empty value: the API treats an omitted field as "unchanged",
	// never as "clear".
	UpdateItem(ctx context.Context, entityTypeID int, id int64, fields map[string]any) (Item, error)
	// AddItem creates a new record in a dynamic collection.
	AddItem(ctx context.Context, entityTypeID int, fields map[string]any) (Item, error)
	// GetContact fetches a contact record by ID.
	GetContact(ctx context.Context, contactID int64) (Item, error)
}

// APIError is a structured error returned by the remote API.
type APIError struct {
	Method      string
	Code        string
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bitrix %s: %s - %s", e.Method, e.Code, e.Description)
}

// RESTClient talks to a Bitrix24 portal over its form-encoded REST surface.
// All calls share one rate limiter: the portal throttles aggressive clients,
// so pacing happens here rather than in every caller.
type RESTClient struct {
	baseURL string
	tokens  TokenSource
	http    *http.Client
	limiter *rate.Limiter
	log     *logger.Logger
}

// Options configures a RESTClient.
type Options struct {
	Domain      string
	Tokens      TokenSource
	CallTimeout time.Duration
	RateLimit   float64 // requests per second
	Logger      *logger.Logger
}

// NewRESTClient creates a client for the given portal domain.
func NewRESTClient(opts Options) *RESTClient {
	timeout := opts.CallTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	perSecond := opts.RateLimit
	if perSecond <= 0 {
		perSecond = 2
	}
	log := opts.Logger
	if log == nil {
		log = logger.New("production")
	}

	// Domain may carry an explicit scheme (local portals, tests); plain
	// portal hostnames default to https.
	base := opts.Domain
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}

	return &RESTClient{
		baseURL: base + "/rest",
		tokens:  opts.Tokens,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
		log:     log,
	}
}

type apiResponse struct {
	Result           json.RawMessage `json:"result"`
	Next             *int            `json:"next"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
}

// call issues one POST to the named REST method and returns the decoded
// response envelope.
func (c *RESTClient) call(ctx context.Context, method string, params url.Values) (*apiResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, apperr.Upstream("failed to obtain access token", err).WithOp(method)
	}
	params.Set("auth", token)

	endpoint := c.baseURL + "/" + method + ".json"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.CRMError(method, err)
		return nil, apperr.Upstream("crm request failed", err).WithOp(method)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Upstream("failed to read crm response", err).WithOp(method)
	}

	var decoded apiResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, apperr.Upstream("failed to decode crm response", err).WithOp(method)
	}

	if decoded.Error != "" {
		apiErr := &APIError{Method: method, Code: decoded.Error, Description: decoded.ErrorDescription}
		c.log.CRMError(method, apiErr)
		return nil, apperr.Upstream("crm api error", apiErr).WithOp(method)
	}

	if resp.StatusCode >= 400 {
		err := fmt.Errorf("unexpected status %d", resp.StatusCode)
		c.log.CRMError(method, err)
		return nil, apperr.Upstream("crm request rejected", err).WithOp(method)
	}

	c.log.Debug("crm_call", "method", method, "latency_ms", time.Since(start).Milliseconds())
	return &decoded, nil
}

// GetItem implements Client.
func (c *RESTClient) GetItem(ctx context.Context, entityTypeID int, id int64) (Item, error) {
	params := url.Values{}
	params.Set("entityTypeId", strconv.Itoa(entityTypeID))
	params.Set("id", strconv.FormatInt(id, 10))

	resp, err := c.call(ctx, "crm.item.get", params)
	if err != nil {
		return nil, err
	}
	return decodeItem(resp.Result)
}

// ListItems implements Client. Pages are fetched sequentially and
// aggregated; the cursor is the top-level "next" offset, absent on the
// final page.
func (c *RESTClient) ListItems(ctx context.Context, entityTypeID int, filter map[string]any, selectFields []string) ([]Item, error) {
	var all []Item
	start := 0

	for {
		params := url.Values{}
		params.Set("entityTypeId", strconv.Itoa(entityTypeID))
		params.Set("start", strconv.Itoa(start))
		for key, value := range filter {
			params.Set("filter["+key+"]", ItemID(value))
		}
		for i, field := range selectFields {
			params.Set("select["+strconv.Itoa(i)+"]", field)
		}

		resp, err := c.call(ctx, "crm.item.list", params)
		if err != nil {
			return nil, err
		}

		var page struct {
			Items []Item `json:"items"`
		}
		if err := json.Unmarshal(resp.Result, &page); err != nil {
			return nil, apperr.Upstream("failed to decode crm item list", err).WithOp("crm.item.list")
		}
		all = append(all, page.Items...)

		if resp.Next == nil {
			return all, nil
		}
		start = *resp.Next
	}
}

// UpdateItem implements Client.
func (c *RESTClient) UpdateItem(ctx context.Context, entityTypeID int, id int64, fields map[string]any) (Item, error) {
	params := url.Values{}
	params.Set("entityTypeId", strconv.Itoa(entityTypeID))
	params.Set("id", strconv.FormatInt(id, 10))
	encodeFields(params, fields)

	resp, err := c.call(ctx, "crm.item.update", params)
	if err != nil {
		return nil, err
	}
	return decodeItem(resp.Result)
}

// AddItem implements Client.
func (c *RESTClient) AddItem(ctx context.Context, entityTypeID int, fields map[string]any) (Item, error) {
	params := url.Values{}
	params.Set("entityTypeId", strconv.Itoa(entityTypeID))
	encodeFields(params, fields)

	resp, err := c.call(ctx, "crm.item.add", params)
	if err != nil {
		return nil, err
	}
	return decodeItem(resp.Result)
}

// GetContact implements Client. Contacts use the classic CRM surface whose
// result is the record itself, not an {item: ...} wrapper.
func (c *RESTClient) GetContact(ctx context.Context, contactID int64) (Item, error) {
	params := url.Values{}
	params.Set("id", strconv.FormatInt(contactID, 10))

	resp, err := c.call(ctx, "crm.contact.get", params)
	if err != nil {
		return nil, err
	}

	var contact Item
	if err := json.Unmarshal(resp.Result, &contact); err != nil {
		return nil, apperr.Upstream("failed to decode contact", err).WithOp("crm.contact.get")
	}
	return contact, nil
}

// encodeFields flattens an update payload into the bracketed form encoding
// the API expects. An empty slice becomes `fields[key]=` because the API
// needs an explicit empty value to clear a multi-value field.
func encodeFields(params url.Values, fields map[string]any) {
	for key, value := range fields {
		switch v := value.(type) {
		case []string:
			if len(v) == 0 {
				params.Set("fields["+key+"]", "")
				continue
			}
			for i, entry := range v {
				params.Set("fields["+key+"]["+strconv.Itoa(i)+"]", entry)
			}
		case []any:
			if len(v) == 0 {
				params.Set("fields["+key+"]", "")
				continue
			}
			for i, entry := range v {
				params.Set("fields["+key+"]["+strconv.Itoa(i)+"]", ItemID(entry))
			}
		default:
			params.Set("fields["+key+"]", ItemID(value))
		}
	}
}

// decodeItem unwraps the {item: {...}} envelope used by the dynamic item
// methods.
func decodeItem(result json.RawMessage) (Item, error) {
	var wrapper struct {
		Item Item `json:"item"`
	}
	if err := json.Unmarshal(result, &wrapper); err != nil {
		return nil, apperr.Upstream("failed to decode crm item", err)
	}
	if wrapper.Item == nil {
		return Item{}, nil
	}
	return wrapper.Item, nil
}
