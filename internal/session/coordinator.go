// Package session runs the cart lifecycle of one client session: it decides which
// stored cart to show when authentication changes, persists the cart after every
// mutation and empties it when the login session runs out.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fjod/go_cart/cart-session/internal/cart"
	"github.com/fjod/go_cart/cart-session/internal/checkout"
	"github.com/fjod/go_cart/cart-session/internal/domain"
	"github.com/fjod/go_cart/cart-session/internal/persistence"
	"github.com/fjod/go_cart/cart-session/internal/token"
)

const DefaultSessionWindow = 15 * time.Minute

// Publisher receives the cart snapshot when the customer starts checkout.
type Publisher interface {
	Publish(ctx context.Context, s checkout.Snapshot) error
}

type Coordinator struct {
	store         *persistence.Store
	publisher     Publisher
	log           *zap.Logger
	now           func() time.Time
	sessionWindow time.Duration

	mu        sync.Mutex
	auth      domain.AuthState
	state     domain.CartState
	expiresAt time.Time
	timer     *time.Timer
	timerGen  uint64
	expired   bool
	closed    bool
}

type Option func(*Coordinator)

func WithPublisher(p Publisher) Option {
	return func(c *Coordinator) { c.publisher = p }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func WithSessionWindow(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.sessionWindow = d
		}
	}
}

func NewCoordinator(store *persistence.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:         store,
		publisher:     checkout.NopPublisher{},
		log:           zap.NewNop(),
		now:           time.Now,
		sessionWindow: DefaultSessionWindow,
		state:         cart.Empty(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetAuth records the latest authentication signals and reruns the whole
// decision procedure. Recovery from storage always finishes before anything
// is written, so an empty initial cart never overwrites a saved one.
func (c *Coordinator) SetAuth(ctx context.Context, auth domain.AuthState) domain.CartState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return c.snapshot()
	}

	prev := c.auth
	c.auth = auth
	c.expired = false
	c.stopTimer()

	switch {
	case auth.Authenticated && auth.Role == domain.RoleAdmin:
		c.state = cart.Empty()
		c.store.ClearAll(ctx, auth.Token)
		c.log.Info("admin session, cart cleared")

	case auth.Authenticated && auth.Role == domain.RoleUser:
		if !isUser(prev) || prev.Token != auth.Token {
			c.store.MarkLogin(ctx, auth.Token)
		}
		if tmp := c.store.LoadTemporary(ctx, auth.Token); tmp.IsValid && len(tmp.Items) > 0 {
			c.state = cart.Reduce(c.state, cart.LoadCart(tmp.Items))
			c.store.Save(ctx, c.state.Items, auth.Token)
			c.store.ClearTemporary(ctx, auth.Token)
			c.log.Info("temporary cart adopted", zap.Int("items", len(tmp.Items)))
		} else {
			c.state = cart.Reduce(c.state, cart.LoadCart(c.store.Load(ctx, auth.Token)))
		}
		c.armTimer(ctx)

	case auth.Token != "":
		// Logged out but the client still holds a token: park the previous
		// customer's cart under that customer's own key, then recover whatever
		// the current token owns within the window.
		if isUser(prev) && len(c.state.Items) > 0 {
			c.store.SaveTemporary(ctx, c.state.Items, prev.Token)
		}
		if tmp := c.store.LoadTemporary(ctx, auth.Token); tmp.IsValid && len(tmp.Items) > 0 {
			c.state = cart.Reduce(c.state, cart.LoadCart(tmp.Items))
		} else {
			c.state = cart.Empty()
		}

	default:
		c.state = cart.Empty()
	}

	return c.snapshot()
}

// Dispatch applies a cart action and persists the result.
func (c *Coordinator) Dispatch(ctx context.Context, action cart.Action) (domain.CartState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return domain.CartState{}, ErrClosed
	}
	if isAdmin(c.auth) {
		return c.snapshot(), ErrAdminCart
	}
	if c.expired {
		return c.snapshot(), ErrSessionExpired
	}
	if err := c.checkStock(action); err != nil {
		return c.snapshot(), err
	}

	c.state = cart.Reduce(c.state, action)
	c.persist(ctx, action.Type == cart.ActionClearCart)
	return c.snapshot(), nil
}

// State returns a copy of the current cart.
func (c *Coordinator) State() domain.CartState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot()
}

// RemainingSession reports how long the customer session has left. ok is false
// when no customer is logged in.
func (c *Coordinator) RemainingSession() (remaining time.Duration, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !isUser(c.auth) || c.expiresAt.IsZero() {
		return 0, false
	}
	return max(c.expiresAt.Sub(c.now()), 0), true
}

// Checkout hands a snapshot of the customer's cart to the publisher. The cart is
// kept until the order pipeline confirms the checkout.
func (c *Coordinator) Checkout(ctx context.Context) (checkout.Snapshot, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return checkout.Snapshot{}, ErrClosed
	}
	if !isUser(c.auth) {
		c.mu.Unlock()
		return checkout.Snapshot{}, ErrNotAuthenticated
	}
	if c.expired {
		c.mu.Unlock()
		return checkout.Snapshot{}, ErrSessionExpired
	}
	if len(c.state.Items) == 0 {
		c.mu.Unlock()
		return checkout.Snapshot{}, ErrEmptyCart
	}
	owner, _ := persistence.OwnerKey(c.auth.Token)
	snap := checkout.Snapshot{
		CheckoutID: uuid.NewString(),
		UserID:     owner,
		Items:      domain.CloneItems(c.state.Items),
		Total:      c.state.Total,
		ItemCount:  c.state.ItemCount,
		CreatedAt:  c.now().UTC(),
	}
	c.mu.Unlock()

	if err := c.publisher.Publish(ctx, snap); err != nil {
		return checkout.Snapshot{}, err
	}
	return snap, nil
}

// ClearIfOwner empties the in-memory cart when it belongs to owner.
func (c *Coordinator) ClearIfOwner(owner string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	current, ok := persistence.OwnerKey(c.auth.Token)
	if !ok || current != owner {
		return false
	}
	c.state = cart.Empty()
	return true
}

// Close stops the session timer. The coordinator rejects further mutations.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.stopTimer()
}

func (c *Coordinator) checkStock(action cart.Action) error {
	switch action.Type {
	case cart.ActionAddItem:
		if action.Item.Quantity < 1 {
			return ErrInvalidQuantity
		}
		inCart := 0
		for _, it := range c.state.Items {
			if it.ID == action.Item.ID {
				inCart = it.Quantity
				break
			}
		}
		if inCart+action.Item.Quantity > action.Item.Stock {
			return ErrOutOfStock
		}
	case cart.ActionUpdateQuantity:
		for _, it := range c.state.Items {
			if it.ID == action.ID && action.Quantity > it.Quantity && action.Quantity > it.Stock {
				return ErrOutOfStock
			}
		}
	}
	return nil
}

// persist writes the cart after a mutation. Logged-out carts only ever grow the
// temporary record: an empty list would erase the grace-period cart.
func (c *Coordinator) persist(ctx context.Context, explicitClear bool) {
	switch {
	case isUser(c.auth):
		if explicitClear {
			c.store.Clear(ctx, c.auth.Token)
			return
		}
		c.store.Save(ctx, c.state.Items, c.auth.Token)
	case !isAdmin(c.auth):
		if explicitClear {
			c.store.ClearTemporary(ctx, c.auth.Token)
			return
		}
		if len(c.state.Items) > 0 {
			c.store.SaveTemporary(ctx, c.state.Items, c.auth.Token)
		}
	}
}

// armTimer schedules a single expiry callback at the session deadline.
func (c *Coordinator) armTimer(ctx context.Context) {
	c.expiresAt = c.sessionDeadline(ctx)
	c.timerGen++
	gen := c.timerGen
	c.timer = time.AfterFunc(max(c.expiresAt.Sub(c.now()), 0), func() {
		c.expire(gen)
	})
}

func (c *Coordinator) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerGen++
	c.expiresAt = time.Time{}
}

// sessionDeadline prefers the token's exp, then iat plus the session window,
// then the recorded login time plus the window.
func (c *Coordinator) sessionDeadline(ctx context.Context) time.Time {
	hint, err := token.Decode(c.auth.Token)
	if err == nil {
		if exp, ok := hint.ExpiresAt(); ok {
			return exp
		}
		if iat, ok := hint.IssuedAt(); ok {
			return iat.Add(c.sessionWindow)
		}
	}
	if login, ok := c.store.LoginTime(ctx, c.auth.Token); ok {
		return login.Add(c.sessionWindow)
	}
	return c.now().Add(c.sessionWindow)
}

func (c *Coordinator) expire(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.timerGen || c.closed || !isUser(c.auth) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c.state = cart.Empty()
	c.store.Clear(ctx, c.auth.Token)
	c.timer = nil
	c.expired = true
	c.log.Info("customer session expired, cart cleared")
}

func (c *Coordinator) snapshot() domain.CartState {
	s := c.state
	s.Items = domain.CloneItems(c.state.Items)
	return s
}

func isUser(a domain.AuthState) bool {
	return a.Authenticated && a.Role == domain.RoleUser
}

func isAdmin(a domain.AuthState) bool {
	return a.Authenticated && a.Role == domain.RoleAdmin
}
