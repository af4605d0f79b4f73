// Package catalog holds the current page of products and the query that produced it.
//
// Concurrent loads are settled last-settled-wins: whichever response arrives last overwrites
// the page, regardless of issue order. WithFencing switches to a monotonic request sequence
// that drops responses older than the newest applied one.
package catalog

import (
	"context"
	"strconv"
	"sync"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/gateway"
	"github.com/fjod/go_cart/storefront/internal/phase"
)

const FallbackLoad = "Failed to load products"

// ErrSuperseded is returned by a fenced load whose response lost to a newer request.
var ErrSuperseded = errors.New("superseded by a newer catalog request")

type ProductAPI interface {
	List(ctx context.Context, q domain.ProductQuery) (*domain.ProductPage, error)
	Search(ctx context.Context, keyword string, q domain.ProductQuery) (*domain.ProductPage, error)
	Get(ctx context.Context, productID int64) (*domain.Product, error)
}

type Snapshot struct {
	Items         []domain.Product
	PageNumber    int
	PageSize      int
	TotalElements int64
	TotalPages    int
	Last          bool

	// Query and Keyword describe the most recently issued request.
	Query   domain.ProductQuery
	Keyword string

	Phase phase.Phase
	Error string
}

type Store struct {
	api      ProductAPI
	log      logrus.FieldLogger
	onChange func()
	fencing  bool
	reads    singleflight.Group

	mu       sync.RWMutex
	slice    Snapshot
	issued   uint64
	accepted uint64
	resetAt  uint64
}

type Option func(*Store)

func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Store) { s.log = log }
}

func WithOnChange(fn func()) Option {
	return func(s *Store) { s.onChange = fn }
}

// WithFencing drops responses that settle after a newer request has already been applied.
func WithFencing() Option {
	return func(s *Store) { s.fencing = true }
}

func New(api ProductAPI, opts ...Option) *Store {
	s := &Store{
		api:   api,
		log:   logrus.StandardLogger(),
		slice: Snapshot{Phase: phase.Idle, PageSize: domain.DefaultPageSize},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("component", "catalog")
	return s
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := s.slice
	snap.Items = append([]domain.Product(nil), s.slice.Items...)
	return snap
}

// LoadProducts fetches one page. Paging defaults (page 0, size 12) are applied before dispatch.
func (s *Store) LoadProducts(ctx context.Context, q domain.ProductQuery) error {
	q = q.WithDefaults()
	return s.load(ctx, q, "", func(ctx context.Context) (*domain.ProductPage, error) {
		return s.api.List(ctx, q)
	})
}

// Search runs a keyword search with the same settlement rules as LoadProducts.
func (s *Store) Search(ctx context.Context, keyword string, q domain.ProductQuery) error {
	q = q.WithDefaults()
	return s.load(ctx, q, keyword, func(ctx context.Context) (*domain.ProductPage, error) {
		return s.api.Search(ctx, keyword, q)
	})
}

func (s *Store) load(ctx context.Context, q domain.ProductQuery, keyword string, fetch func(context.Context) (*domain.ProductPage, error)) error {
	s.mu.Lock()
	s.issued++
	seq := s.issued
	s.slice.Phase = phase.Loading
	s.slice.Error = ""
	s.slice.Query = q
	s.slice.Keyword = keyword
	s.mu.Unlock()
	s.notify()

	log := s.log.WithFields(logrus.Fields{
		"page":    q.Page(),
		"size":    q.Size(),
		"keyword": keyword,
		"seq":     seq,
	})

	page, err := fetch(ctx)

	s.mu.Lock()
	if s.fencing && (seq < s.accepted || seq <= s.resetAt) {
		accepted := s.accepted
		s.mu.Unlock()
		log.WithField("accepted", accepted).Debug("dropping stale catalog response")
		return ErrSuperseded
	}
	s.accepted = seq

	switch {
	case err == nil:
		s.slice.Items = page.Content
		s.slice.PageNumber = page.PageNumber
		s.slice.PageSize = page.PageSize
		s.slice.TotalElements = page.TotalElements
		s.slice.TotalPages = page.TotalPages
		s.slice.Last = page.Last
		s.slice.Phase = phase.Succeeded
		s.slice.Error = ""
	case gateway.IsUnauthorized(err):
		// the session is already torn down; this is not a catalog failure
		s.slice.Phase = phase.Idle
	default:
		s.slice.Phase = phase.Failed
		s.slice.Error = gateway.Message(err, FallbackLoad)
	}
	s.mu.Unlock()

	if err != nil {
		log.WithError(err).Warn("catalog load failed")
	} else {
		log.WithField("items", len(page.Content)).Debug("catalog page loaded")
	}
	s.notify()
	return err
}

// Reset clears the page and returns to idle. With fencing on, loads still in flight are dropped.
func (s *Store) Reset() {
	s.mu.Lock()
	s.slice = Snapshot{Phase: phase.Idle, PageSize: domain.DefaultPageSize}
	s.resetAt = s.issued
	s.mu.Unlock()
	s.notify()
}

// GetProduct reads a single product without touching the page. Concurrent reads of the same
// id share one request; each caller gets its own copy. The shared request ignores caller
// cancellation and is bounded by the gateway timeout.
func (s *Store) GetProduct(ctx context.Context, productID int64) (*domain.Product, error) {
	shared := context.WithoutCancel(ctx)
	ch := s.reads.DoChan(strconv.FormatInt(productID, 10), func() (any, error) {
		return s.api.Get(shared, productID)
	})
	select {
	case <-ctx.Done():
		return nil, errors.Wrapf(ctx.Err(), "get product %d", productID)
	case res := <-ch:
		if res.Err != nil {
			return nil, errors.Wrapf(res.Err, "get product %d", productID)
		}
		p := *res.Val.(*domain.Product)
		return &p, nil
	}
}

func (s *Store) notify() {
	if s.onChange != nil {
		s.onChange()
	}
}
