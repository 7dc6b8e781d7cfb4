package bitrix

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"b24_case_sync/platform/apperr"
)

func newTestClient(t *testing.T, handler http.Handler) (*RESTClient, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewRESTClient(Options{
		Domain:    server.URL,
		Tokens:    StaticTokenSource("test-token"),
		RateLimit: 1000,
	})
	return client, server
}

func TestListItemsFollowsPagingCursor(t *testing.T) {
	var starts []string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		starts = append(starts, r.PostFormValue("start"))

		if len(starts) == 1 {
			fmt.Fprint(w, `{"result":{"items":[{"id":1},{"id":2}]},"next":50}`)
			return
		}
		fmt.Fprint(w, `{"result":{"items":[{"id":3}]}}`)
	}))

	items, err := client.ListItems(context.Background(), 1042, map[string]any{"contactId": 55}, []string{"id", "stageId"})
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}

	if len(items) != 3 {
		t.Fatalf("item count = %d, want 3 across both pages", len(items))
	}
	if len(starts) != 2 || starts[0] != "0" || starts[1] != "50" {
		t.Fatalf("start offsets = %v, want [0 50]", starts)
	}
	if items[2].ID() != "3" {
		t.Fatalf("last item ID = %q, want 3", items[2].ID())
	}
}

func TestListItemsSendsFilterAndSelect(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.PostFormValue("filter[contactId]"); got != "55" {
			t.Errorf("filter[contactId] = %q, want 55", got)
		}
		if got := r.PostFormValue("select[1]"); got != "stageId" {
			t.Errorf("select[1] = %q, want stageId", got)
		}
		if got := r.PostFormValue("auth"); got != "test-token" {
			t.Errorf("auth = %q, want the token", got)
		}
		fmt.Fprint(w, `{"result":{"items":[]}}`)
	}))

	if _, err := client.ListItems(context.Background(), 1042, map[string]any{"contactId": 55}, []string{"id", "stageId"}); err != nil {
		t.Fatalf("ListItems: %v", err)
	}
}

func TestUpdateItemEncodesEmptyArrayExplicitly(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		values, present := r.PostForm["fields[ufCrm38_links]"]
		if !present {
			t.Error("empty array must still be sent as an explicit empty field")
		} else if len(values) != 1 || values[0] != "" {
			t.Errorf("fields[ufCrm38_links] = %v, want one empty value", values)
		}
		fmt.Fprint(w, `{"result":{"item":{"id":100}}}`)
	}))

	_, err := client.UpdateItem(context.Background(), 1106, 100, map[string]any{"ufCrm38_links": []string{}})
	if err != nil {
		t.Fatalf("UpdateItem: %v", err)
	}
}

func TestUpdateItemEncodesArrayElementsWithIndices(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.PostFormValue("fields[ufCrm38_links][0]"); got != "3" {
			t.Errorf("fields[ufCrm38_links][0] = %q, want 3", got)
		}
		if got := r.PostFormValue("fields[ufCrm38_links][1]"); got != "7" {
			t.Errorf("fields[ufCrm38_links][1] = %q, want 7", got)
		}
		fmt.Fprint(w, `{"result":{"item":{"id":100}}}`)
	}))

	_, err := client.UpdateItem(context.Background(), 1106, 100, map[string]any{"ufCrm38_links": []string{"3", "7"}})
	if err != nil {
		t.Fatalf("UpdateItem: %v", err)
	}
}

func TestGetItemUnwrapsItemEnvelope(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"result":{"item":{"id":42,"contactId":"55","stageId":"DT1042_20:NEW"}}}`)
	}))

	item, err := client.GetItem(context.Background(), 1042, 42)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}

	if item.IntID() != 42 {
		t.Fatalf("item ID = %d, want 42", item.IntID())
	}
	if item.ContactID() != 55 {
		t.Fatalf("contact ID = %d, want 55", item.ContactID())
	}
	if item.StageID() != "DT1042_20:NEW" {
		t.Fatalf("stage = %q", item.StageID())
	}
}

func TestGetContactDecodesDirectResult(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"result":{"ID":"55","NAME":"Anna","UF_CRM_1758997725285":"AB1234567"}}`)
	}))

	contact, err := client.GetContact(context.Background(), 55)
	if err != nil {
		t.Fatalf("GetContact: %v", err)
	}
	if contact.String("NAME") != "Anna" {
		t.Fatalf("contact NAME = %q", contact.String("NAME"))
	}
	if contact.String("UF_CRM_1758997725285") != "AB1234567" {
		t.Fatalf("passport field = %q", contact.String("UF_CRM_1758997725285"))
	}
}

func TestAPIErrorsMapToUpstreamKind(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"expired_token","error_description":"The access token provided has expired."}`)
	}))

	_, err := client.GetItem(context.Background(), 1042, 42)
	if err == nil {
		t.Fatal("expected error from API error response")
	}
	if apperr.GetKind(err) != apperr.KindUpstream {
		t.Fatalf("error kind = %v, want upstream", apperr.GetKind(err))
	}
	if !apperr.IsRetryable(err) {
		t.Fatal("upstream errors must be retryable")
	}
}

func TestItemIDNormalizesNumbersAndStrings(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{float64(42), "42"},
		{"42", "42"},
		{" 42 ", "42"},
		{int64(42), "42"},
		{nil, ""},
	}
	for _, tc := range cases {
		if got := ItemID(tc.in); got != tc.want {
			t.Errorf("ItemID(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestStringListHandlesScalarAndAbsentFields(t *testing.T) {
	item := Item{"links": []any{float64(3), "7"}, "single": "9"}

	if got := item.StringList("links"); len(got) != 2 || got[0] != "3" || got[1] != "7" {
		t.Fatalf("StringList(links) = %v", got)
	}
	if got := item.StringList("single"); len(got) != 1 || got[0] != "9" {
		t.Fatalf("StringList(single) = %v", got)
	}
	if got := item.StringList("absent"); len(got) != 0 {
		t.Fatalf("StringList(absent) = %v, want empty", got)
	}
}
