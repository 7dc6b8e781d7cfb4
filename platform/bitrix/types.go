package bitrix

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Item is a single CRM record. Bitrix24 records are dominated by
// portal-defined user fields, so items stay map-shaped with typed accessors
// for the handful of well-known fields.
type Item map[string]any

// ID returns the record identifier in canonical string form.
func (it Item) ID() string {
	return ItemID(it["id"])
}

// IntID returns the record identifier as an integer, or 0 when absent.
func (it Item) IntID() int64 {
	id, err := strconv.ParseInt(it.ID(), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// ContactID returns the linked contact identifier, or 0 when the record has
// no contact reference.
func (it Item) ContactID() int64 {
	raw, ok := it["contactId"]
	if !ok || raw == nil {
		return 0
	}
	id, err := strconv.ParseInt(ItemID(raw), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// StageID returns the workflow stage identifier.
func (it Item) StageID() string {
	return it.String("stageId")
}

// Title returns the record display title.
func (it Item) Title() string {
	return it.String("title")
}

// String returns the named field as a string. Numeric values are rendered
// without a decimal point when integral, matching how the portal displays
// them.
func (it Item) String(field string) string {
	raw, ok := it[field]
	if !ok || raw == nil {
		return ""
	}
	return ItemID(raw)
}

// StringList returns the named field as a slice of canonical ID strings.
// The remote API returns multi-value fields as arrays of numbers or strings
// depending on the field type; absent or null fields yield an empty slice.
func (it Item) StringList(field string) []string {
	raw, ok := it[field]
	if !ok || raw == nil {
		return []string{}
	}

	list, ok := raw.([]any)
	if !ok {
		// A single scalar in a multi-value field still counts as one entry.
		return []string{ItemID(raw)}
	}

	out := make([]string, 0, len(list))
	for _, v := range list {
		out = append(out, ItemID(v))
	}
	return out
}

// ItemID normalizes a remote identifier to its canonical string form.
// The API returns IDs as JSON numbers or strings interchangeably, so every
// comparison in the sync engines goes through this one representation.
func ItemID(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case json.Number:
		return val.String()
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}
