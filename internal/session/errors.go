package session

import "errors"

var (
	ErrOutOfStock       = errors.New("requested quantity exceeds stock")
	ErrInvalidQuantity  = errors.New("quantity must be at least 1")
	ErrAdminCart        = errors.New("admin sessions do not have a cart")
	ErrNotAuthenticated = errors.New("checkout requires an authenticated customer")
	ErrEmptyCart        = errors.New("cart is empty, nothing to checkout")
	ErrSessionExpired   = errors.New("session expired, log in again to continue shopping")
	ErrClosed           = errors.New("cart session closed")
)
