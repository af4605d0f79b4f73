package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/events"
	"github.com/fjod/go_cart/storefront/internal/gateway"
	"github.com/fjod/go_cart/storefront/internal/storage"
)

type mockAuthAPI struct {
	loginFn    func(ctx context.Context, creds domain.Credentials) (*domain.AuthResponse, error)
	registerFn func(ctx context.Context, req domain.RegisterRequest) (json.RawMessage, error)
}

func (m *mockAuthAPI) Login(ctx context.Context, creds domain.Credentials) (*domain.AuthResponse, error) {
	return m.loginFn(ctx, creds)
}

func (m *mockAuthAPI) Register(ctx context.Context, req domain.RegisterRequest) (json.RawMessage, error) {
	return m.registerFn(ctx, req)
}

type failingStore struct {
	*storage.Memory
	failSet map[string]bool
}

func (f *failingStore) Set(ctx context.Context, key, value string) error {
	if f.failSet[key] {
		return errors.New("disk full")
	}
	return f.Memory.Set(ctx, key, value)
}

var alice = domain.User{UserID: "u-1", FirstName: "Alice", Email: "alice@example.com", Roles: []domain.Role{domain.RoleCustomer}}

func newTestLogger() *logrus.Logger {
	log, _ := logtest.NewNullLogger()
	return log
}

func setupStore(t *testing.T, api AuthAPI, st storage.Store) (*Store, *events.Bus) {
	t.Helper()
	bus := events.NewBus()
	s := New(api, st, bus, WithLogger(newTestLogger()))
	t.Cleanup(s.Close)
	return s, bus
}

func persistSession(t *testing.T, st storage.Store, token string, user *domain.User) {
	t.Helper()
	ctx := context.Background()
	if token != "" {
		require.NoError(t, st.Set(ctx, TokenKey, token))
	}
	if user != nil {
		data, err := json.Marshal(user)
		require.NoError(t, err)
		require.NoError(t, st.Set(ctx, UserKey, string(data)))
	}
}

func assertStorageEmpty(t *testing.T, st storage.Store) {
	t.Helper()
	for _, key := range []string{TokenKey, UserKey} {
		_, found, err := st.Get(context.Background(), key)
		require.NoError(t, err)
		assert.False(t, found, "key %q still persisted", key)
	}
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "alice@example.com",
		"exp": exp.Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)
	return token
}

func TestHydrate_BothKeysPresent(t *testing.T) {
	st := storage.NewMemory()
	persistSession(t, st, "t", &alice)
	s, _ := setupStore(t, nil, st)

	require.NoError(t, s.Hydrate(context.Background()))

	snap := s.Snapshot()
	assert.Equal(t, Authenticated, snap.State)
	assert.Equal(t, "t", snap.Token)
	require.NotNil(t, snap.User)
	assert.Equal(t, alice.Email, snap.User.Email)
	assert.True(t, snap.IsAuthenticated())
	assert.Equal(t, "t", s.Token())
}

func TestHydrate_NeverPartial(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		user    string
		hasUser bool
	}{
		{name: "only token", token: "t"},
		{name: "only user", user: `{"email":"alice@example.com"}`, hasUser: true},
		{name: "corrupt user", token: "t", user: "{not json", hasUser: true},
		{name: "empty user", token: "t", user: "", hasUser: true},
		{name: "null user", token: "t", user: "null", hasUser: true},
		{name: "user without identity", token: "t", user: "{}", hasUser: true},
		{name: "user not an object", token: "t", user: `["alice"]`, hasUser: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			st := storage.NewMemory()
			if tt.token != "" {
				require.NoError(t, st.Set(ctx, TokenKey, tt.token))
			}
			if tt.hasUser {
				require.NoError(t, st.Set(ctx, UserKey, tt.user))
			}
			s, _ := setupStore(t, nil, st)

			require.NoError(t, s.Hydrate(ctx))

			snap := s.Snapshot()
			assert.Equal(t, Anonymous, snap.State)
			assert.Empty(t, snap.Token)
			assert.Nil(t, snap.User)
			assertStorageEmpty(t, st)
		})
	}
}

func TestHydrate_NothingPersisted(t *testing.T) {
	s, _ := setupStore(t, nil, storage.NewMemory())
	require.NoError(t, s.Hydrate(context.Background()))
	assert.Equal(t, Anonymous, s.Snapshot().State)
}

func TestHydrate_JWTExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("expired token is discarded", func(t *testing.T) {
		st := storage.NewMemory()
		persistSession(t, st, signedToken(t, now.Add(-time.Minute)), &alice)
		s := New(nil, st, events.NewBus(), WithLogger(newTestLogger()), WithClock(func() time.Time { return now }))
		defer s.Close()

		require.NoError(t, s.Hydrate(context.Background()))
		assert.Equal(t, Anonymous, s.Snapshot().State)
		assertStorageEmpty(t, st)
	})

	t.Run("live token is restored", func(t *testing.T) {
		st := storage.NewMemory()
		token := signedToken(t, now.Add(time.Hour))
		persistSession(t, st, token, &alice)
		s := New(nil, st, events.NewBus(), WithLogger(newTestLogger()), WithClock(func() time.Time { return now }))
		defer s.Close()

		require.NoError(t, s.Hydrate(context.Background()))
		assert.Equal(t, Authenticated, s.Snapshot().State)
		assert.Equal(t, token, s.Token())
	})
}

func TestLogin_Success(t *testing.T) {
	st := storage.NewMemory()
	api := &mockAuthAPI{loginFn: func(_ context.Context, creds domain.Credentials) (*domain.AuthResponse, error) {
		assert.Equal(t, "alice@example.com", creds.Email)
		return &domain.AuthResponse{Token: "tok", User: alice}, nil
	}}
	s, bus := setupStore(t, api, st)

	var loggedIn int
	bus.Subscribe(events.LoggedIn, func(events.Event) { loggedIn++ })

	err := s.Login(context.Background(), domain.Credentials{Email: "alice@example.com", Password: "pw"})
	require.NoError(t, err)

	snap := s.Snapshot()
	assert.Equal(t, Authenticated, snap.State)
	assert.Equal(t, "tok", snap.Token)
	assert.Empty(t, snap.Error)
	assert.Equal(t, 1, loggedIn)

	token, found, _ := st.Get(context.Background(), TokenKey)
	assert.True(t, found)
	assert.Equal(t, "tok", token)
	raw, found, _ := st.Get(context.Background(), UserKey)
	assert.True(t, found)
	assert.JSONEq(t, mustJSON(t, alice), raw)
}

func TestLogin_PassesThroughAuthenticating(t *testing.T) {
	st := storage.NewMemory()
	var s *Store
	api := &mockAuthAPI{loginFn: func(context.Context, domain.Credentials) (*domain.AuthResponse, error) {
		assert.Equal(t, Authenticating, s.Snapshot().State)
		return &domain.AuthResponse{Token: "tok", User: alice}, nil
	}}
	s, _ = setupStore(t, api, st)

	require.NoError(t, s.Login(context.Background(), domain.Credentials{Email: "a", Password: "b"}))
}

func TestLogin_Failure(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{
			name:    "business rejection shows server message",
			err:     &gateway.APIError{StatusCode: 400, Message: "Email not verified"},
			wantMsg: "Email not verified",
		},
		{
			name:    "rejection without message uses fallback",
			err:     &gateway.APIError{StatusCode: 400},
			wantMsg: FallbackLogin,
		},
		{
			name:    "server fault uses fallback",
			err:     errors.Wrap(gateway.ErrServer, "boom"),
			wantMsg: FallbackLogin,
		},
		{
			name:    "transport failure uses fallback",
			err:     errors.Wrap(gateway.ErrTransport, "dial tcp"),
			wantMsg: FallbackLogin,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := storage.NewMemory()
			api := &mockAuthAPI{loginFn: func(context.Context, domain.Credentials) (*domain.AuthResponse, error) {
				return nil, tt.err
			}}
			s, _ := setupStore(t, api, st)

			err := s.Login(context.Background(), domain.Credentials{Email: "a", Password: "b"})

			var failure *Failure
			require.ErrorAs(t, err, &failure)
			assert.Equal(t, tt.wantMsg, failure.Message)
			assert.ErrorIs(t, err, tt.err)

			snap := s.Snapshot()
			assert.Equal(t, AuthFailed, snap.State)
			assert.Equal(t, tt.wantMsg, snap.Error)
			assert.Empty(t, snap.Token)
			assert.Nil(t, snap.User)
			assertStorageEmpty(t, st)
		})
	}
}

func TestLogin_RetryAfterFailureClearsError(t *testing.T) {
	calls := 0
	api := &mockAuthAPI{loginFn: func(context.Context, domain.Credentials) (*domain.AuthResponse, error) {
		calls++
		if calls == 1 {
			return nil, &gateway.APIError{StatusCode: 400, Message: "nope"}
		}
		return &domain.AuthResponse{Token: "tok", User: alice}, nil
	}}
	s, _ := setupStore(t, api, storage.NewMemory())

	require.Error(t, s.Login(context.Background(), domain.Credentials{}))
	assert.Equal(t, AuthFailed, s.Snapshot().State)

	require.NoError(t, s.Login(context.Background(), domain.Credentials{}))
	assert.Equal(t, Authenticated, s.Snapshot().State)
	assert.Empty(t, s.Snapshot().Error)
}

func TestLogin_ResponseWithoutToken(t *testing.T) {
	tests := []struct {
		name string
		resp *domain.AuthResponse
	}{
		{name: "empty body", resp: &domain.AuthResponse{}},
		{name: "user without token", resp: &domain.AuthResponse{User: alice}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := storage.NewMemory()
			api := &mockAuthAPI{loginFn: func(context.Context, domain.Credentials) (*domain.AuthResponse, error) {
				return tt.resp, nil
			}}
			s, bus := setupStore(t, api, st)
			var loggedIn int
			bus.Subscribe(events.LoggedIn, func(events.Event) { loggedIn++ })

			err := s.Login(context.Background(), domain.Credentials{Email: "a", Password: "b"})

			var failure *Failure
			require.ErrorAs(t, err, &failure)
			assert.Equal(t, FallbackLogin, failure.Message)
			assert.ErrorIs(t, err, ErrNoToken)

			snap := s.Snapshot()
			assert.Equal(t, AuthFailed, snap.State)
			assert.Empty(t, snap.Token)
			assert.Nil(t, snap.User)
			assert.False(t, snap.IsAuthenticated())
			assertStorageEmpty(t, st)
			assert.Zero(t, loggedIn)
		})
	}
}

func TestLogin_UnauthorizedLeavesTeardownState(t *testing.T) {
	st := storage.NewMemory()
	var bus *events.Bus
	api := &mockAuthAPI{loginFn: func(context.Context, domain.Credentials) (*domain.AuthResponse, error) {
		// what the gateway does on a 401
		bus.Publish(events.Event{Topic: events.SessionInvalidated, StatusCode: 401, Path: "auth/login"})
		return nil, errors.Wrap(gateway.ErrUnauthorized, "auth/login")
	}}
	s, b := setupStore(t, api, st)
	bus = b

	err := s.Login(context.Background(), domain.Credentials{Email: "a", Password: "b"})
	require.ErrorIs(t, err, gateway.ErrUnauthorized)

	snap := s.Snapshot()
	assert.Equal(t, AuthFailed, snap.State)
	assert.Equal(t, FallbackLogin, snap.Error)
	assert.Empty(t, snap.Token)
	assert.Nil(t, snap.User)
	assertStorageEmpty(t, st)
}

func TestLogin_LastSettledWins(t *testing.T) {
	st := storage.NewMemory()
	release := map[string]chan struct{}{
		"first@example.com":  make(chan struct{}),
		"second@example.com": make(chan struct{}),
	}
	api := &mockAuthAPI{loginFn: func(_ context.Context, creds domain.Credentials) (*domain.AuthResponse, error) {
		<-release[creds.Email]
		return &domain.AuthResponse{Token: "tok-" + creds.Email, User: domain.User{Email: creds.Email}}, nil
	}}
	s, _ := setupStore(t, api, st)

	var wg sync.WaitGroup
	for email := range release {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Login(context.Background(), domain.Credentials{Email: email, Password: "pw"}))
		}()
	}

	// the second call settles first, the first settles last
	close(release["second@example.com"])
	require.Eventually(t, func() bool { return s.Token() == "tok-second@example.com" }, time.Second, 5*time.Millisecond)
	close(release["first@example.com"])
	wg.Wait()

	snap := s.Snapshot()
	assert.Equal(t, "tok-first@example.com", snap.Token)
	assert.Equal(t, "first@example.com", snap.User.Email)
	token, _, _ := st.Get(context.Background(), TokenKey)
	assert.Equal(t, "tok-first@example.com", token)
}

func TestLogin_PersistFailureRollsBackToken(t *testing.T) {
	st := &failingStore{Memory: storage.NewMemory(), failSet: map[string]bool{UserKey: true}}
	api := &mockAuthAPI{loginFn: func(context.Context, domain.Credentials) (*domain.AuthResponse, error) {
		return &domain.AuthResponse{Token: "tok", User: alice}, nil
	}}
	s, _ := setupStore(t, api, st)

	require.NoError(t, s.Login(context.Background(), domain.Credentials{}))

	assert.Equal(t, Authenticated, s.Snapshot().State)
	assertStorageEmpty(t, st)
}

// gatedStore parks the write of the user key until release is closed.
type gatedStore struct {
	*storage.Memory
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) Set(ctx context.Context, key, value string) error {
	if key == UserKey {
		close(g.entered)
		<-g.release
	}
	return g.Memory.Set(ctx, key, value)
}

func assertStoragePaired(t *testing.T, st storage.Store) (persisted bool) {
	t.Helper()
	_, hasToken, err := st.Get(context.Background(), TokenKey)
	require.NoError(t, err)
	_, hasUser, err := st.Get(context.Background(), UserKey)
	require.NoError(t, err)
	require.Equal(t, hasToken, hasUser, "token persisted=%v, user persisted=%v", hasToken, hasUser)
	return hasToken
}

func TestLogoutDuringLoginRequest(t *testing.T) {
	st := storage.NewMemory()
	arrived := make(chan struct{})
	release := make(chan struct{})
	api := &mockAuthAPI{loginFn: func(context.Context, domain.Credentials) (*domain.AuthResponse, error) {
		close(arrived)
		<-release
		return &domain.AuthResponse{Token: "tok", User: alice}, nil
	}}
	s, _ := setupStore(t, api, st)

	done := make(chan error, 1)
	go func() { done <- s.Login(context.Background(), domain.Credentials{Email: "a", Password: "b"}) }()
	<-arrived

	s.Logout(context.Background())
	assert.False(t, assertStoragePaired(t, st))
	assert.Equal(t, Anonymous, s.Snapshot().State)

	close(release)
	require.NoError(t, <-done)

	// the login settled last, so it decides the session
	assert.True(t, assertStoragePaired(t, st))
	assert.True(t, s.Snapshot().IsAuthenticated())
}

func TestLogoutDuringLoginPersist(t *testing.T) {
	st := &gatedStore{Memory: storage.NewMemory(), entered: make(chan struct{}), release: make(chan struct{})}
	api := &mockAuthAPI{loginFn: func(context.Context, domain.Credentials) (*domain.AuthResponse, error) {
		return &domain.AuthResponse{Token: "tok", User: alice}, nil
	}}
	s, _ := setupStore(t, api, st)

	loginDone := make(chan error, 1)
	go func() { loginDone <- s.Login(context.Background(), domain.Credentials{Email: "a", Password: "b"}) }()
	<-st.entered

	logoutDone := make(chan struct{})
	go func() {
		s.Logout(context.Background())
		close(logoutDone)
	}()

	select {
	case <-logoutDone:
		t.Fatal("logout finished while the login was half persisted")
	case <-time.After(50 * time.Millisecond):
	}

	close(st.release)
	require.NoError(t, <-loginDone)
	<-logoutDone

	assert.False(t, assertStoragePaired(t, st))
	assert.Equal(t, Snapshot{State: Anonymous}, s.Snapshot())
}

func TestLogout_Idempotent(t *testing.T) {
	st := storage.NewMemory()
	persistSession(t, st, "t", &alice)
	s, bus := setupStore(t, nil, st)
	require.NoError(t, s.Hydrate(context.Background()))

	var loggedOut int
	bus.Subscribe(events.LoggedOut, func(events.Event) { loggedOut++ })

	s.Logout(context.Background())
	once := s.Snapshot()
	s.Logout(context.Background())
	twice := s.Snapshot()

	assert.Equal(t, once, twice)
	assert.Equal(t, Snapshot{State: Anonymous}, twice)
	assertStorageEmpty(t, st)
	assert.Equal(t, 2, loggedOut)
}

func TestLogout_ClearsError(t *testing.T) {
	api := &mockAuthAPI{loginFn: func(context.Context, domain.Credentials) (*domain.AuthResponse, error) {
		return nil, errors.Wrap(gateway.ErrServer, "boom")
	}}
	s, _ := setupStore(t, api, storage.NewMemory())
	require.Error(t, s.Login(context.Background(), domain.Credentials{}))

	s.Logout(context.Background())
	assert.Equal(t, Snapshot{State: Anonymous}, s.Snapshot())
}

func TestSessionInvalidated_TriggersLogout(t *testing.T) {
	st := storage.NewMemory()
	persistSession(t, st, "t", &alice)
	s, bus := setupStore(t, nil, st)
	require.NoError(t, s.Hydrate(context.Background()))

	var order []events.Topic
	bus.Subscribe(events.LoggedOut, func(e events.Event) { order = append(order, e.Topic) })

	bus.Publish(events.Event{Topic: events.SessionInvalidated, StatusCode: 401})

	assert.Equal(t, Anonymous, s.Snapshot().State)
	assertStorageEmpty(t, st)
	assert.Equal(t, []events.Topic{events.LoggedOut}, order)
}

func TestClose_StopsListening(t *testing.T) {
	st := storage.NewMemory()
	persistSession(t, st, "t", &alice)
	bus := events.NewBus()
	s := New(nil, st, bus, WithLogger(newTestLogger()))
	require.NoError(t, s.Hydrate(context.Background()))

	s.Close()
	bus.Publish(events.Event{Topic: events.SessionInvalidated})

	assert.Equal(t, Authenticated, s.Snapshot().State)
}

func TestOnChange(t *testing.T) {
	var changes int
	api := &mockAuthAPI{loginFn: func(context.Context, domain.Credentials) (*domain.AuthResponse, error) {
		return &domain.AuthResponse{Token: "tok", User: alice}, nil
	}}
	s := New(api, storage.NewMemory(), events.NewBus(), WithLogger(newTestLogger()), WithOnChange(func() { changes++ }))
	defer s.Close()

	require.NoError(t, s.Login(context.Background(), domain.Credentials{}))
	assert.Equal(t, 2, changes) // authenticating, authenticated

	s.Logout(context.Background())
	assert.Equal(t, 3, changes)
}

func TestRegister(t *testing.T) {
	t.Run("success leaves session untouched", func(t *testing.T) {
		api := &mockAuthAPI{registerFn: func(_ context.Context, req domain.RegisterRequest) (json.RawMessage, error) {
			assert.Equal(t, "bob@example.com", req.Email)
			return json.RawMessage(`{"userId":"u-2"}`), nil
		}}
		s, _ := setupStore(t, api, storage.NewMemory())

		payload, err := s.Register(context.Background(), domain.RegisterRequest{Email: "bob@example.com"})
		require.NoError(t, err)
		assert.JSONEq(t, `{"userId":"u-2"}`, string(payload))
		assert.Equal(t, Anonymous, s.Snapshot().State)
	})

	t.Run("conflict surfaces server message", func(t *testing.T) {
		api := &mockAuthAPI{registerFn: func(context.Context, domain.RegisterRequest) (json.RawMessage, error) {
			return nil, &gateway.APIError{StatusCode: 409, Message: "Email already in use"}
		}}
		s, _ := setupStore(t, api, storage.NewMemory())

		_, err := s.Register(context.Background(), domain.RegisterRequest{})
		require.EqualError(t, err, "Email already in use")
	})

	t.Run("server fault uses fallback", func(t *testing.T) {
		api := &mockAuthAPI{registerFn: func(context.Context, domain.RegisterRequest) (json.RawMessage, error) {
			return nil, errors.Wrap(gateway.ErrServer, "boom")
		}}
		s, _ := setupStore(t, api, storage.NewMemory())

		_, err := s.Register(context.Background(), domain.RegisterRequest{})
		require.EqualError(t, err, FallbackRegister)
	})
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}
