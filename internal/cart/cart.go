// Package cart mirrors the remote cart. Every successful mutation replaces the local snapshot
// with the server's response as a whole; totals and subtotals are never computed here.
package cart

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/events"
	"github.com/fjod/go_cart/storefront/internal/gateway"
	"github.com/fjod/go_cart/storefront/internal/phase"
)

type Op string

const (
	OpFetch  Op = "fetch"
	OpAdd    Op = "add"
	OpUpdate Op = "update"
	OpRemove Op = "remove"
	OpClear  Op = "clear"
)

const (
	FallbackFetch  = "Failed to load cart"
	FallbackAdd    = "Failed to add to cart."
	FallbackUpdate = "Failed to update cart item"
	FallbackRemove = "Failed to remove item from cart"
	FallbackClear  = "Failed to clear cart"
)

var fallbacks = map[Op]string{
	OpFetch:  FallbackFetch,
	OpAdd:    FallbackAdd,
	OpUpdate: FallbackUpdate,
	OpRemove: FallbackRemove,
	OpClear:  FallbackClear,
}

// ErrDiscarded is returned when an operation settled after a logout; its result was not applied.
var ErrDiscarded = errors.New("cart operation outlived its session")

type CartAPI interface {
	Get(ctx context.Context) (*domain.Cart, error)
	AddItem(ctx context.Context, req domain.AddItemRequest) (*domain.Cart, error)
	UpdateItem(ctx context.Context, cartItemID int64, quantity int) (*domain.Cart, error)
	RemoveItem(ctx context.Context, cartItemID int64) (*domain.Cart, error)
	Clear(ctx context.Context) (*domain.Cart, error)
}

type OpStatus struct {
	Phase phase.Phase
	Error string
}

// Snapshot is a copy of the cart slice. CartID is nil while no cart is known.
type Snapshot struct {
	CartID     *int64
	Items      []domain.CartItem
	TotalPrice decimal.Decimal

	// Phase and Error follow the most recent transition of any operation: loading while one
	// runs, idle after a success, failed after a failure.
	Phase phase.Phase
	Error string

	Ops map[Op]OpStatus
}

func (s Snapshot) Status(op Op) OpStatus {
	if st, ok := s.Ops[op]; ok {
		return st
	}
	return OpStatus{Phase: phase.Idle}
}

func (s Snapshot) Count() int {
	n := 0
	for _, it := range s.Items {
		n += it.Quantity
	}
	return n
}

type Store struct {
	api      CartAPI
	log      logrus.FieldLogger
	onChange func()

	mu     sync.RWMutex
	cartID *int64
	items  []domain.CartItem
	total  decimal.Decimal
	phase  phase.Phase
	err    string
	ops    map[Op]OpStatus
	// epoch counts local clears; an operation only applies its result inside the epoch it began in
	epoch uint64

	unsubscribe func()
}

type Option func(*Store)

func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Store) { s.log = log }
}

func WithOnChange(fn func()) Option {
	return func(s *Store) { s.onChange = fn }
}

// New returns an empty cart that clears itself on every events.LoggedOut.
func New(api CartAPI, bus *events.Bus, opts ...Option) *Store {
	s := &Store{
		api:   api,
		log:   logrus.StandardLogger(),
		phase: phase.Idle,
		ops:   make(map[Op]OpStatus),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("component", "cart")

	if bus != nil {
		s.unsubscribe = bus.Subscribe(events.LoggedOut, func(events.Event) {
			s.ClearLocal()
		})
	}
	return s
}

func (s *Store) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Items:      append([]domain.CartItem(nil), s.items...),
		TotalPrice: s.total,
		Phase:      s.phase,
		Error:      s.err,
		Ops:        make(map[Op]OpStatus, len(s.ops)),
	}
	if s.cartID != nil {
		id := *s.cartID
		snap.CartID = &id
	}
	for op, st := range s.ops {
		snap.Ops[op] = st
	}
	return snap
}

func (s *Store) FetchCart(ctx context.Context) error {
	return s.run(ctx, OpFetch, s.api.Get)
}

// AddToCart expects quantity >= 1; callers validate before dispatch.
func (s *Store) AddToCart(ctx context.Context, productID int64, quantity int) error {
	return s.run(ctx, OpAdd, func(ctx context.Context) (*domain.Cart, error) {
		return s.api.AddItem(ctx, domain.AddItemRequest{ProductID: productID, Quantity: quantity})
	})
}

func (s *Store) UpdateQuantity(ctx context.Context, cartItemID int64, quantity int) error {
	return s.run(ctx, OpUpdate, func(ctx context.Context) (*domain.Cart, error) {
		return s.api.UpdateItem(ctx, cartItemID, quantity)
	})
}

func (s *Store) RemoveFromCart(ctx context.Context, cartItemID int64) error {
	return s.run(ctx, OpRemove, func(ctx context.Context) (*domain.Cart, error) {
		return s.api.RemoveItem(ctx, cartItemID)
	})
}

// Clear empties the remote cart.
func (s *Store) Clear(ctx context.Context) error {
	return s.run(ctx, OpClear, s.api.Clear)
}

// ClearLocal resets the slice without calling the remote API. Operations still in flight will
// not apply their results.
func (s *Store) ClearLocal() {
	s.mu.Lock()
	s.epoch++
	s.cartID = nil
	s.items = nil
	s.total = decimal.Zero
	s.phase = phase.Idle
	s.err = ""
	s.ops = make(map[Op]OpStatus)
	s.mu.Unlock()

	s.log.Debug("cart cleared locally")
	s.notify()
}

func (s *Store) run(ctx context.Context, op Op, call func(context.Context) (*domain.Cart, error)) error {
	s.mu.Lock()
	epoch := s.epoch
	s.phase = phase.Loading
	s.ops[op] = OpStatus{Phase: phase.Loading}
	s.mu.Unlock()
	s.notify()

	log := s.log.WithField("op", op)
	cart, err := call(ctx)

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		log.WithError(err).Debug("discarding cart result settled after logout")
		if err != nil {
			return err
		}
		return ErrDiscarded
	}

	if err != nil {
		msg := gateway.Message(err, fallbacks[op])
		s.phase = phase.Failed
		s.err = msg
		s.ops[op] = OpStatus{Phase: phase.Failed, Error: msg}
		s.mu.Unlock()

		log.WithError(err).Warn("cart operation failed")
		s.notify()
		return err
	}

	s.replace(cart)
	s.phase = phase.Idle
	s.err = ""
	s.ops[op] = OpStatus{Phase: phase.Succeeded}
	s.mu.Unlock()

	log.WithField("items", len(cart.Items)).Debug("cart replaced from server")
	s.notify()
	return nil
}

// replace swaps in the server snapshot as a whole. Caller holds mu.
func (s *Store) replace(cart *domain.Cart) {
	id := cart.CartID
	s.cartID = &id
	s.items = cart.Items
	s.total = cart.TotalPrice
}

func (s *Store) notify() {
	if s.onChange != nil {
		s.onChange()
	}
}
