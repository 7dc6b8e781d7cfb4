package sync

import (
	"context"
	"fmt"

	"b24_case_sync/platform/bitrix"
)

// updateCall records one UpdateItem invocation against the fake.
type updateCall struct {
	entityTypeID int
	id           int64
	fields       map[string]any
}

// fakeCRM is an in-memory bitrix.Client. Updates are applied to the stored
// items the way a JSON round-trip would deliver them, so a second
// reconciliation run sees its own writes.
type fakeCRM struct {
	items    map[int][]bitrix.Item
	contacts map[int64]bitrix.Item

	updates     []updateCall
	failUpdates map[int64]error
	failList    error
}

func newFakeCRM() *fakeCRM {
	return &fakeCRM{
		items:    make(map[int][]bitrix.Item),
		contacts: make(map[int64]bitrix.Item),
	}
}

func (f *fakeCRM) addItem(entityTypeID int, item bitrix.Item) {
	f.items[entityTypeID] = append(f.items[entityTypeID], item)
}

func (f *fakeCRM) updateCount() int { return len(f.updates) }

func (f *fakeCRM) GetItem(ctx context.Context, entityTypeID int, id int64) (bitrix.Item, error) {
	for _, item := range f.items[entityTypeID] {
		if item.IntID() == id {
			return item, nil
		}
	}
	return nil, fmt.Errorf("item %d not found in type %d", id, entityTypeID)
}

func (f *fakeCRM) ListItems(ctx context.Context, entityTypeID int, filter map[string]any, selectFields []string) ([]bitrix.Item, error) {
	if f.failList != nil {
		return nil, f.failList
	}

	var out []bitrix.Item
	for _, item := range f.items[entityTypeID] {
		if contactID, ok := filter["contactId"]; ok {
			if bitrix.ItemID(contactID) != bitrix.ItemID(item["contactId"]) {
				continue
			}
		}
		out = append(out, item)
	}
	return out, nil
}

func (f *fakeCRM) UpdateItem(ctx context.Context, entityTypeID int, id int64, fields map[string]any) (bitrix.Item, error) {
	if err, ok := f.failUpdates[id]; ok {
		return nil, err
	}

	f.updates = append(f.updates, updateCall{entityTypeID: entityTypeID, id: id, fields: fields})

	for _, item := range f.items[entityTypeID] {
		if item.IntID() != id {
			continue
		}
		for key, value := range fields {
			item[key] = roundTrip(value)
		}
		return item, nil
	}
	return nil, fmt.Errorf("item %d not found in type %d", id, entityTypeID)
}

func (f *fakeCRM) AddItem(ctx context.Context, entityTypeID int, fields map[string]any) (bitrix.Item, error) {
	item := bitrix.Item{}
	for key, value := range fields {
		item[key] = roundTrip(value)
	}
	f.items[entityTypeID] = append(f.items[entityTypeID], item)
	return item, nil
}

func (f *fakeCRM) GetContact(ctx context.Context, contactID int64) (bitrix.Item, error) {
	contact, ok := f.contacts[contactID]
	if !ok {
		return nil, fmt.Errorf("contact %d not found", contactID)
	}
	return contact, nil
}

// roundTrip converts typed slices into the []any shape JSON decoding
// produces for real responses.
func roundTrip(value any) any {
	if list, ok := value.([]string); ok {
		out := make([]any, len(list))
		for i, v := range list {
			out[i] = v
		}
		return out
	}
	return value
}
