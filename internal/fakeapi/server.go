// Package fakeapi is an in-memory implementation of the remote storefront API. It backs local
// runs of the storefront and the integration tests, which steer it through Hold and FailNext.
package fakeapi

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/crypto/bcrypt"
)

const APIPrefix = "/api/v1"

type Options struct {
	JWTSecret  string
	TokenTTL   time.Duration
	BcryptCost int
	// SkipSeed starts with an empty catalog.
	SkipSeed bool
}

type Server struct {
	secret  []byte
	ttl     time.Duration
	cost    int
	log     logrus.FieldLogger
	handler http.Handler

	mu         sync.Mutex
	users      map[string]*account
	products   map[int64]*catalogEntry
	carts      map[string]*cartState
	nextUserID int64
	nextCartID int64
	nextItemID int64

	hooks hooks
}

func New(opts Options, log logrus.FieldLogger) *Server {
	if opts.JWTSecret == "" {
		opts.JWTSecret = "fakeapi-secret"
	}
	if opts.TokenTTL == 0 {
		opts.TokenTTL = 24 * time.Hour
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	s := &Server{
		secret:   []byte(opts.JWTSecret),
		ttl:      opts.TokenTTL,
		cost:     opts.BcryptCost,
		log:      log.WithField("component", "fakeapi"),
		users:    make(map[string]*account),
		products: make(map[int64]*catalogEntry),
		carts:    make(map[string]*cartState),
		hooks:    hooks{fails: make(map[string][]failure)},
	}
	if !opts.SkipSeed {
		s.seedCatalog()
	}
	s.handler = otelhttp.NewHandler(s.routes(), "fakeapi")
	return s
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route(APIPrefix, func(r chi.Router) {
		r.Use(s.hooks.middleware)

		r.Post("/auth/login", s.login)
		r.Post("/auth/register", s.register)

		r.Get("/products", s.listProducts)
		r.Get("/products/search", s.searchProducts)
		r.Get("/products/{productID}", s.getProduct)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)
			r.Get("/cart", s.getCart)
			r.Delete("/cart", s.clearCart)
			r.Post("/cart/items", s.addItem)
			r.Put("/cart/items/{itemID}", s.updateItem)
			r.Delete("/cart/items/{itemID}", s.removeItem)
		})
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		s.log.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(started).Milliseconds(),
			"request_id":  r.Header.Get("X-Request-ID"),
		}).Debug("request served")
	})
}

// routePath strips the api prefix: "/api/v1/cart/items/3" -> "cart/items/3".
func routePath(r *http.Request) string {
	return strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, APIPrefix), "/")
}
