package domain

// LineItem is one product entry in the cart with its cached unit price.
type LineItem struct {
	ID        int64   `json:"id" bson:"id"`
	Name      string  `json:"name" bson:"name"`
	UnitPrice float64 `json:"unit_price" bson:"unit_price"`
	Quantity  int     `json:"quantity" bson:"quantity"`
	Stock     int     `json:"stock" bson:"stock"`
	ImageRef  string  `json:"image_ref,omitempty" bson:"image_ref,omitempty"`
}

// CartState is the in-memory cart. Total and ItemCount are always derived from Items.
type CartState struct {
	Items     []LineItem `json:"items"`
	Total     float64    `json:"total"`
	ItemCount int        `json:"item_count"`
}

// PersistedCartRecord is the value written under the permanent and temporary namespaces.
type PersistedCartRecord struct {
	OwnerKey       string     `json:"owner_key"`
	Items          []LineItem `json:"items"`
	SavedAtEpochMs int64      `json:"saved_at_epoch_ms"`
}

// CloneItems returns a copy of items that shares no backing array with the input.
func CloneItems(items []LineItem) []LineItem {
	if items == nil {
		return []LineItem{}
	}
	out := make([]LineItem, len(items))
	copy(out, items)
	return out
}
