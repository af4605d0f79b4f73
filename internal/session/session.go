// Package session holds the authenticated identity and its credential, persists both together,
// and tears them down when the remote API rejects the credential.
package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/events"
	"github.com/fjod/go_cart/storefront/internal/gateway"
	"github.com/fjod/go_cart/storefront/internal/storage"
)

type State string

const (
	Anonymous      State = "anonymous"
	Authenticating State = "authenticating"
	Authenticated  State = "authenticated"
	AuthFailed     State = "auth_failed"
)

const (
	TokenKey = "token"
	UserKey  = "user"

	FallbackLogin    = "Login failed"
	FallbackRegister = "Registration failed"
)

var (
	ErrCorruptSession = errors.New("persisted session is corrupt")
	ErrNoToken        = errors.New("login response carried no token")
)

// AuthAPI is the remote half of authentication.
type AuthAPI interface {
	Login(ctx context.Context, creds domain.Credentials) (*domain.AuthResponse, error)
	Register(ctx context.Context, req domain.RegisterRequest) (json.RawMessage, error)
}

// Snapshot is a copy of the session slice. User is nil whenever Token is empty.
type Snapshot struct {
	State State
	User  *domain.User
	Token string
	Error string
}

func (s Snapshot) IsAuthenticated() bool {
	return s.State == Authenticated && s.Token != ""
}

// Failure carries the user-facing message of a rejected operation.
type Failure struct {
	Message string
	Err     error
}

func (f *Failure) Error() string { return f.Message }
func (f *Failure) Unwrap() error { return f.Err }

type Store struct {
	api      AuthAPI
	storage  storage.Store
	bus      *events.Bus
	log      logrus.FieldLogger
	onChange func()
	now      func() time.Time

	// persistMu pairs a login or logout commit with its storage writes.
	persistMu sync.Mutex

	mu    sync.RWMutex
	state State
	user  *domain.User
	token string
	err   string

	unsubscribe func()
}

type Option func(*Store)

func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Store) { s.log = log }
}

// WithOnChange registers a callback run after every transition, outside the store lock.
func WithOnChange(fn func()) Option {
	return func(s *Store) { s.onChange = fn }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New builds an anonymous store subscribed to events.SessionInvalidated. Call Hydrate to
// restore a persisted session.
func New(api AuthAPI, st storage.Store, bus *events.Bus, opts ...Option) *Store {
	s := &Store{
		api:     api,
		storage: st,
		bus:     bus,
		log:     logrus.StandardLogger(),
		now:     time.Now,
		state:   Anonymous,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("component", "session")

	s.unsubscribe = bus.Subscribe(events.SessionInvalidated, func(e events.Event) {
		s.log.WithField("path", e.Path).Info("session invalidated by remote api")
		s.Logout(context.Background())
	})
	return s
}

// Close detaches the store from the bus.
func (s *Store) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{State: s.state, Token: s.token, Error: s.err}
	if s.user != nil {
		u := *s.user
		snap.User = &u
	}
	return snap
}

// Token is read by the gateway on every send.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Hydrate restores the persisted session. Both keys must be present and well-formed, otherwise
// the store stays anonymous and any leftover key is removed. Only storage failures are returned.
func (s *Store) Hydrate(ctx context.Context) error {
	token, hasToken, err := s.storage.Get(ctx, TokenKey)
	if err != nil {
		return errors.Wrap(err, "read persisted token")
	}
	rawUser, hasUser, err := s.storage.Get(ctx, UserKey)
	if err != nil {
		return errors.Wrap(err, "read persisted user")
	}
	if !hasToken && !hasUser {
		return nil
	}

	user, err := s.restore(token, hasToken, rawUser, hasUser)
	if err != nil {
		s.log.WithError(err).Warn("discarding persisted session")
		s.clearPersisted(ctx)
		return nil
	}

	s.mu.Lock()
	s.state = Authenticated
	s.user = user
	s.token = token
	s.err = ""
	s.mu.Unlock()

	s.log.WithField("email", user.Email).Info("session restored")
	s.notify()
	return nil
}

func (s *Store) restore(token string, hasToken bool, rawUser string, hasUser bool) (*domain.User, error) {
	if !hasToken || token == "" {
		return nil, errors.Wrap(ErrCorruptSession, "token missing")
	}
	if !hasUser || rawUser == "" {
		return nil, errors.Wrap(ErrCorruptSession, "user missing")
	}
	var user *domain.User
	if err := json.Unmarshal([]byte(rawUser), &user); err != nil {
		return nil, errors.Wrapf(ErrCorruptSession, "user: %v", err)
	}
	if user == nil || (user.UserID == "" && user.Email == "") {
		return nil, errors.Wrap(ErrCorruptSession, "user has no identity")
	}
	if s.expired(token) {
		return nil, errors.Wrap(ErrCorruptSession, "token expired")
	}
	return user, nil
}

// expired reports whether token is a JWT whose exp lies in the past. Opaque tokens never expire
// client-side; the remote API remains the authority.
func (s *Store) expired(token string) bool {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return false
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !exp.After(s.now())
}

// Login issues one login request. Concurrent calls are not deduplicated; the last to settle
// decides the session.
func (s *Store) Login(ctx context.Context, creds domain.Credentials) error {
	s.mu.Lock()
	s.state = Authenticating
	s.err = ""
	s.mu.Unlock()
	s.notify()

	resp, err := s.api.Login(ctx, creds)
	if err == nil && (resp == nil || resp.Token == "") {
		err = errors.Wrap(ErrNoToken, "login")
	}
	if err != nil {
		if gateway.IsUnauthorized(err) {
			// teardown already ran through the invalidation event; keep the server's reason
			msg := gateway.Message(err, FallbackLogin)
			s.mu.Lock()
			if s.token == "" {
				s.state = AuthFailed
				s.err = msg
			}
			s.mu.Unlock()
			s.log.Debug("login rejected with 401")
			s.notify()
			return err
		}
		msg := gateway.Message(err, FallbackLogin)
		s.mu.Lock()
		s.state = AuthFailed
		s.user = nil
		s.token = ""
		s.err = msg
		s.mu.Unlock()
		s.log.WithError(err).Warn("login failed")
		s.notify()
		return &Failure{Message: msg, Err: err}
	}

	user := resp.User
	s.persistMu.Lock()
	s.mu.Lock()
	s.state = Authenticated
	s.user = &user
	s.token = resp.Token
	s.err = ""
	s.mu.Unlock()
	if err := s.persist(ctx, resp.Token, &user); err != nil {
		s.log.WithError(err).Error("failed to persist session")
	}
	s.persistMu.Unlock()

	s.log.WithField("email", user.Email).Info("logged in")
	s.notify()
	s.bus.Publish(events.Event{Topic: events.LoggedIn, Reason: "login"})
	return nil
}

// persist writes token then user. A half-written pair is rolled back.
func (s *Store) persist(ctx context.Context, token string, user *domain.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return errors.Wrap(err, "marshal user")
	}
	if err := s.storage.Set(ctx, TokenKey, token); err != nil {
		return errors.Wrap(err, "persist token")
	}
	if err := s.storage.Set(ctx, UserKey, string(data)); err != nil {
		if rmErr := s.storage.Remove(ctx, TokenKey); rmErr != nil {
			s.log.WithError(rmErr).Error("failed to roll back persisted token")
		}
		return errors.Wrap(err, "persist user")
	}
	return nil
}

// Logout always succeeds and is idempotent. It publishes events.LoggedOut every time so
// dependent slices can reset themselves.
func (s *Store) Logout(ctx context.Context) {
	s.persistMu.Lock()
	s.mu.Lock()
	wasAuthenticated := s.token != ""
	s.state = Anonymous
	s.user = nil
	s.token = ""
	s.err = ""
	s.mu.Unlock()
	s.clearPersisted(ctx)
	s.persistMu.Unlock()

	if wasAuthenticated {
		s.log.Info("logged out")
	}
	s.notify()
	s.bus.Publish(events.Event{Topic: events.LoggedOut, Reason: "logout"})
}

func (s *Store) clearPersisted(ctx context.Context) {
	for _, key := range []string{TokenKey, UserKey} {
		if err := s.storage.Remove(ctx, key); err != nil {
			s.log.WithError(err).WithField("key", key).Error("failed to remove persisted session key")
		}
	}
}

// Register creates an account. The session slice is left as is.
func (s *Store) Register(ctx context.Context, req domain.RegisterRequest) (json.RawMessage, error) {
	payload, err := s.api.Register(ctx, req)
	if err != nil {
		if gateway.IsUnauthorized(err) {
			return nil, err
		}
		s.log.WithError(err).Warn("registration failed")
		return nil, &Failure{Message: gateway.Message(err, FallbackRegister), Err: err}
	}
	s.log.WithField("email", req.Email).Info("registered")
	return payload, nil
}

func (s *Store) notify() {
	if s.onChange != nil {
		s.onChange()
	}
}
