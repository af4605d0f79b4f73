// Package store is the root of the client state tree. It owns the event bus, the gateway and
// the three slice stores, and it is the only thing the presentation layer talks to.
package store

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/go-faster/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/fjod/go_cart/storefront/internal/api"
	"github.com/fjod/go_cart/storefront/internal/cart"
	"github.com/fjod/go_cart/storefront/internal/catalog"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/events"
	"github.com/fjod/go_cart/storefront/internal/gateway"
	"github.com/fjod/go_cart/storefront/internal/navigation"
	"github.com/fjod/go_cart/storefront/internal/session"
	"github.com/fjod/go_cart/storefront/internal/storage"
)

var (
	ErrEmptyCredentials = errors.New("email and password are required")
	ErrInvalidQuantity  = errors.New("quantity must be at least 1")
)

type Deps struct {
	Gateway   gateway.Config
	Storage   storage.Store
	Navigator navigation.Navigator
	Logger    logrus.FieldLogger
	// Registerer receives the gateway metrics. Nil keeps them in a private registry.
	Registerer prometheus.Registerer
	// Transport overrides the HTTP transport, mostly for tests.
	Transport http.RoundTripper
	PageSize  int
	Fencing   bool
}

// State is a point-in-time copy of every slice.
type State struct {
	Session session.Snapshot
	Catalog catalog.Snapshot
	Cart    cart.Snapshot
}

type Root struct {
	bus      *events.Bus
	session  *session.Store
	catalog  *catalog.Store
	cart     *cart.Store
	log      logrus.FieldLogger
	pageSize int

	subMu  sync.RWMutex
	nextID int
	subs   map[int]func(State)

	pending sync.WaitGroup
}

func New(deps Deps) (*Root, error) {
	if deps.Storage == nil {
		return nil, errors.New("storage is required")
	}
	log := deps.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	nav := deps.Navigator
	if nav == nil {
		nav = navigation.Noop{}
	}
	pageSize := deps.PageSize
	if pageSize <= 0 {
		pageSize = domain.DefaultPageSize
	}

	r := &Root{
		bus:      events.NewBus(),
		log:      log.WithField("component", "store"),
		pageSize: pageSize,
		subs:     make(map[int]func(State)),
	}

	opts := []gateway.Option{gateway.WithNavigator(nav), gateway.WithLogger(log)}
	if deps.Registerer != nil {
		opts = append(opts, gateway.WithRegisterer(deps.Registerer))
	}
	if deps.Transport != nil {
		opts = append(opts, gateway.WithTransport(deps.Transport))
	}
	gw, err := gateway.New(deps.Gateway, r.bus, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "create gateway")
	}
	client := api.NewClient(gw)

	r.session = session.New(client.Auth, deps.Storage, r.bus,
		session.WithLogger(log), session.WithOnChange(r.notify))
	gw.SetTokenSource(r.session)

	catalogOpts := []catalog.Option{catalog.WithLogger(log), catalog.WithOnChange(r.notify)}
	if deps.Fencing {
		catalogOpts = append(catalogOpts, catalog.WithFencing())
	}
	r.catalog = catalog.New(client.Products, catalogOpts...)

	r.cart = cart.New(client.Cart, r.bus, cart.WithLogger(log), cart.WithOnChange(r.notify))
	return r, nil
}

// Close waits for dispatched intents and detaches the stores from the bus.
func (r *Root) Close() {
	r.pending.Wait()
	r.session.Close()
	r.cart.Close()
}

func (r *Root) State() State {
	return State{
		Session: r.session.Snapshot(),
		Catalog: r.catalog.Snapshot(),
		Cart:    r.cart.Snapshot(),
	}
}

func (r *Root) Bus() *events.Bus {
	return r.bus
}

// Subscribe calls fn with a fresh State after every slice transition. fn runs on the goroutine
// that caused the transition and must not block.
func (r *Root) Subscribe(fn func(State)) func() {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	r.nextID++
	id := r.nextID
	r.subs[id] = fn
	return func() {
		r.subMu.Lock()
		defer r.subMu.Unlock()
		delete(r.subs, id)
	}
}

func (r *Root) notify() {
	r.subMu.RLock()
	subs := make([]func(State), 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}
	r.subMu.RUnlock()
	if len(subs) == 0 {
		return
	}

	st := r.State()
	for _, fn := range subs {
		fn(st)
	}
}

// Dispatch runs fn in the background. The channel yields its result once and is then closed.
func (r *Root) Dispatch(ctx context.Context, fn func(context.Context) error) <-chan error {
	done := make(chan error, 1)
	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		defer close(done)
		done <- fn(ctx)
	}()
	return done
}

// Bootstrap restores the persisted session, then loads the first catalog page and, for an
// authenticated session, the cart. The two loads do not cancel each other; failures are
// recorded in their slices and the first one is returned.
func (r *Root) Bootstrap(ctx context.Context) error {
	if err := r.session.Hydrate(ctx); err != nil {
		return errors.Wrap(err, "hydrate session")
	}
	authenticated := r.session.Snapshot().IsAuthenticated()
	r.log.WithField("authenticated", authenticated).Debug("session hydrated")

	var g errgroup.Group
	g.Go(func() error {
		return r.LoadProducts(ctx, domain.ProductQuery{})
	})
	if authenticated {
		g.Go(func() error {
			return r.FetchCart(ctx)
		})
	}
	return g.Wait()
}

func (r *Root) Login(ctx context.Context, creds domain.Credentials) error {
	if strings.TrimSpace(creds.Email) == "" || creds.Password == "" {
		return ErrEmptyCredentials
	}
	return r.session.Login(ctx, creds)
}

func (r *Root) Logout(ctx context.Context) {
	r.session.Logout(ctx)
}

func (r *Root) Register(ctx context.Context, req domain.RegisterRequest) (json.RawMessage, error) {
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return nil, ErrEmptyCredentials
	}
	return r.session.Register(ctx, req)
}

// LoadProducts applies the configured page size when the query leaves it unset.
func (r *Root) LoadProducts(ctx context.Context, q domain.ProductQuery) error {
	return r.catalog.LoadProducts(ctx, r.sized(q))
}

func (r *Root) Search(ctx context.Context, keyword string, q domain.ProductQuery) error {
	return r.catalog.Search(ctx, keyword, r.sized(q))
}

func (r *Root) ResetCatalog() {
	r.catalog.Reset()
}

func (r *Root) GetProduct(ctx context.Context, productID int64) (*domain.Product, error) {
	return r.catalog.GetProduct(ctx, productID)
}

func (r *Root) FetchCart(ctx context.Context) error {
	return r.cart.FetchCart(ctx)
}

func (r *Root) AddToCart(ctx context.Context, productID int64, quantity int) error {
	if quantity < 1 {
		return ErrInvalidQuantity
	}
	return r.cart.AddToCart(ctx, productID, quantity)
}

func (r *Root) UpdateCartItem(ctx context.Context, cartItemID int64, quantity int) error {
	if quantity < 1 {
		return ErrInvalidQuantity
	}
	return r.cart.UpdateQuantity(ctx, cartItemID, quantity)
}

func (r *Root) RemoveFromCart(ctx context.Context, cartItemID int64) error {
	return r.cart.RemoveFromCart(ctx, cartItemID)
}

func (r *Root) ClearCart(ctx context.Context) error {
	return r.cart.Clear(ctx)
}

func (r *Root) sized(q domain.ProductQuery) domain.ProductQuery {
	if q.PageSize == nil {
		size := r.pageSize
		q.PageSize = &size
	}
	return q
}
