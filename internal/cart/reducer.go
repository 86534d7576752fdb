// Package cart holds the pure cart state transition function.
package cart

import "github.com/fjod/go_cart/cart-session/internal/domain"

type ActionType string

const (
	ActionAddItem        ActionType = "ADD_ITEM"
	ActionRemoveItem     ActionType = "REMOVE_ITEM"
	ActionUpdateQuantity ActionType = "UPDATE_QUANTITY"
	ActionClearCart      ActionType = "CLEAR_CART"
	ActionLoadCart       ActionType = "LOAD_CART"
)

// Action is one cart mutation. Which fields are read depends on Type:
// AddItem uses Item (Item.Quantity is the amount to add), RemoveItem and
// UpdateQuantity use ID (and Quantity), LoadCart uses Items.
type Action struct {
	Type     ActionType
	Item     domain.LineItem
	ID       int64
	Quantity int
	Items    []domain.LineItem
}

func AddItem(item domain.LineItem) Action {
	return Action{Type: ActionAddItem, Item: item}
}

func RemoveItem(id int64) Action {
	return Action{Type: ActionRemoveItem, ID: id}
}

func UpdateQuantity(id int64, quantity int) Action {
	return Action{Type: ActionUpdateQuantity, ID: id, Quantity: quantity}
}

func ClearCart() Action {
	return Action{Type: ActionClearCart}
}

func LoadCart(items []domain.LineItem) Action {
	return Action{Type: ActionLoadCart, Items: items}
}

// Empty returns a cart with no items.
func Empty() domain.CartState {
	return domain.CartState{Items: []domain.LineItem{}}
}

// Reduce applies action to state and returns the new state. state is never modified.
// Unknown action types return state unchanged.
func Reduce(state domain.CartState, action Action) domain.CartState {
	switch action.Type {
	case ActionAddItem:
		return withTotals(addItem(state.Items, action.Item))

	case ActionRemoveItem:
		items := make([]domain.LineItem, 0, len(state.Items))
		for _, it := range state.Items {
			if it.ID != action.ID {
				items = append(items, it)
			}
		}
		return withTotals(items)

	case ActionUpdateQuantity:
		qty := max(action.Quantity, 0)
		items := make([]domain.LineItem, 0, len(state.Items))
		for _, it := range state.Items {
			if it.ID == action.ID {
				if qty == 0 {
					continue
				}
				it.Quantity = qty
			}
			items = append(items, it)
		}
		return withTotals(items)

	case ActionClearCart:
		return Empty()

	case ActionLoadCart:
		return withTotals(domain.CloneItems(action.Items))

	default:
		return state
	}
}

func addItem(current []domain.LineItem, item domain.LineItem) []domain.LineItem {
	items := domain.CloneItems(current)
	for i := range items {
		if items[i].ID == item.ID {
			items[i].Quantity += item.Quantity
			return items
		}
	}
	return append(items, item)
}

// withTotals recomputes Total and ItemCount from scratch.
func withTotals(items []domain.LineItem) domain.CartState {
	s := domain.CartState{Items: items}
	for _, it := range items {
		s.Total += it.UnitPrice * float64(it.Quantity)
		s.ItemCount += it.Quantity
	}
	return s
}
