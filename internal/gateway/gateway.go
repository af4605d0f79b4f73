// Package gateway is the single chokepoint for calls to the remote storefront api. It attaches
// the current bearer credential, and on a 401 it publishes events.SessionInvalidated and forces
// navigation to the login view before handing the error back to the caller.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fjod/go_cart/storefront/internal/events"
	"github.com/fjod/go_cart/storefront/internal/navigation"
)

const (
	DefaultTimeout   = 10 * time.Second
	DefaultLoginPath = "/login"

	maxBodySize     = 8 << 20
	requestIDHeader = "X-Request-ID"
)

type Config struct {
	BaseURL   string
	Timeout   time.Duration
	LoginPath string
	Breaker   BreakerConfig
}

// TokenSource yields the credential to attach. It is consulted at send time, never earlier.
type TokenSource interface {
	Token() string
}

type TokenFunc func() string

func (f TokenFunc) Token() string { return f() }

type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	RequestID  string
}

type Gateway struct {
	baseURL   *url.URL
	loginPath string
	client    *http.Client
	bus       *events.Bus
	nav       navigation.Navigator
	log       logrus.FieldLogger
	metrics   *metrics
	breaker   *gobreaker.CircuitBreaker[*Response]

	mu     sync.RWMutex
	tokens TokenSource
}

type Option func(*gatewayOptions)

type gatewayOptions struct {
	transport  http.RoundTripper
	nav        navigation.Navigator
	log        logrus.FieldLogger
	registerer prometheus.Registerer
	tokens     TokenSource
}

func WithTransport(rt http.RoundTripper) Option {
	return func(o *gatewayOptions) { o.transport = rt }
}

func WithNavigator(nav navigation.Navigator) Option {
	return func(o *gatewayOptions) { o.nav = nav }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(o *gatewayOptions) { o.log = log }
}

func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *gatewayOptions) { o.registerer = reg }
}

func WithTokenSource(ts TokenSource) Option {
	return func(o *gatewayOptions) { o.tokens = ts }
}

func New(cfg Config, bus *events.Bus, opts ...Option) (*Gateway, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, errors.Errorf("base url %q must be absolute", cfg.BaseURL)
	}

	o := gatewayOptions{
		transport:  http.DefaultTransport,
		nav:        navigation.Noop{},
		log:        logrus.StandardLogger(),
		registerer: prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	loginPath := cfg.LoginPath
	if loginPath == "" {
		loginPath = DefaultLoginPath
	}
	if bus == nil {
		bus = events.NewBus()
	}
	log := o.log.WithField("component", "gateway")

	return &Gateway{
		baseURL:   base,
		loginPath: loginPath,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(o.transport),
		},
		bus:     bus,
		nav:     o.nav,
		log:     log,
		metrics: newMetrics(o.registerer),
		breaker: newBreaker(cfg.Breaker, log),
		tokens:  o.tokens,
	}, nil
}

// SetTokenSource swaps the credential source. The session store is built after the gateway,
// so the root wires it here.
func (g *Gateway) SetTokenSource(ts TokenSource) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tokens = ts
}

func (g *Gateway) Bus() *events.Bus {
	return g.bus
}

func (g *Gateway) token() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.tokens == nil {
		return ""
	}
	return g.tokens.Token()
}

// Send dispatches req and returns the response. Non-2xx statuses come back as *APIError next
// to the response; transport failures wrap ErrTransport. Nothing is retried.
func (g *Gateway) Send(ctx context.Context, req Request) (*Response, error) {
	httpReq, requestID, err := g.newRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	log := g.log.WithFields(logrus.Fields{
		"method":     httpReq.Method,
		"path":       req.Path,
		"request_id": requestID,
	})

	started := time.Now()
	resp, err := g.roundTrip(httpReq, requestID)
	if resp == nil {
		g.metrics.observe(httpReq.Method, outcomeTransport, started)
		log.WithError(err).Warn("remote api request failed")
		return nil, errors.Wrapf(ErrTransport, "%s %s: %v", httpReq.Method, req.Path, err)
	}
	g.metrics.observe(httpReq.Method, outcomeFor(resp.StatusCode), started)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		apiErr := decodeAPIError(resp.StatusCode, req.Path, resp.Body)
		log.Info("credential rejected, invalidating session")
		g.invalidate(req.Path, resp.StatusCode)
		return resp, apiErr
	case resp.StatusCode >= 500:
		log.WithField("status", resp.StatusCode).
			WithField("body", truncate(resp.Body, 512)).
			Error("remote api server fault")
		return resp, decodeAPIError(resp.StatusCode, req.Path, resp.Body)
	case resp.StatusCode >= 400:
		log.WithField("status", resp.StatusCode).Debug("remote api rejected request")
		return resp, decodeAPIError(resp.StatusCode, req.Path, resp.Body)
	}
	return resp, nil
}

// Do sends req and decodes a successful JSON body into out when out is non-nil.
func (g *Gateway) Do(ctx context.Context, req Request, out any) error {
	resp, err := g.Send(ctx, req)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(resp.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return errors.Wrapf(err, "decode %s %s response", req.Method, req.Path)
	}
	return nil
}

func (g *Gateway) Get(ctx context.Context, path string, query url.Values, out any) error {
	return g.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: query}, out)
}

func (g *Gateway) Post(ctx context.Context, path string, body, out any) error {
	return g.Do(ctx, Request{Method: http.MethodPost, Path: path, Body: body}, out)
}

func (g *Gateway) Put(ctx context.Context, path string, body, out any) error {
	return g.Do(ctx, Request{Method: http.MethodPut, Path: path, Body: body}, out)
}

func (g *Gateway) Delete(ctx context.Context, path string, out any) error {
	return g.Do(ctx, Request{Method: http.MethodDelete, Path: path}, out)
}

func (g *Gateway) newRequest(ctx context.Context, req Request) (*http.Request, string, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	u := g.baseURL.JoinPath(req.Path)
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, "", errors.Wrap(err, "marshal request body")
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, "", errors.Wrap(err, "create request")
	}
	requestID := uuid.NewString()
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(requestIDHeader, requestID)
	if token := g.token(); token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	return httpReq, requestID, nil
}

func (g *Gateway) roundTrip(httpReq *http.Request, requestID string) (*Response, error) {
	if g.breaker == nil {
		return g.exchange(httpReq, requestID)
	}
	resp, err := g.breaker.Execute(func() (*Response, error) {
		resp, err := g.exchange(httpReq, requestID)
		if err == nil && resp.StatusCode >= 500 {
			return resp, errFaultStatus
		}
		return resp, err
	})
	if resp != nil && errors.Is(err, errFaultStatus) {
		err = nil
	}
	return resp, err
}

func (g *Gateway) exchange(httpReq *http.Request, requestID string) (*Response, error) {
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, errors.Wrap(err, "read response body")
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
		RequestID:  requestID,
	}, nil
}

// invalidate publishes the teardown event, then performs the one hard navigation for this 401.
func (g *Gateway) invalidate(path string, status int) {
	g.bus.Publish(events.Event{
		Topic:      events.SessionInvalidated,
		Reason:     "remote api rejected credential",
		StatusCode: status,
		Path:       path,
	})
	g.nav.Navigate(g.loginPath)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "...(truncated)"
}
