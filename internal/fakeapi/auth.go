package fakeapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

type account struct {
	user         domain.User
	passwordHash string
}

type ctxKey struct{}

// RegisterUser adds an account directly, bypassing the HTTP surface.
func (s *Server) RegisterUser(req domain.RegisterRequest) (domain.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return domain.User{}, errors.Wrap(err, "hash password")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, exists := s.users[email]; exists {
		return domain.User{}, errEmailTaken
	}
	s.nextUserID++
	user := domain.User{
		UserID:    strconv.FormatInt(s.nextUserID, 10),
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     email,
		Roles:     []domain.Role{domain.RoleCustomer},
		Addresses: req.Addresses,
	}
	for i := range user.Addresses {
		user.Addresses[i].AddressID = int64(i + 1)
	}
	s.users[email] = &account{user: user, passwordHash: string(hash)}
	s.cartFor(email)
	return user, nil
}

var errEmailTaken = errors.New("email already registered")

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	switch {
	case strings.TrimSpace(req.FirstName) == "" || strings.TrimSpace(req.LastName) == "":
		respondError(w, http.StatusBadRequest, "invalid_request", "First and last name are required")
		return
	case !strings.Contains(req.Email, "@"):
		respondError(w, http.StatusBadRequest, "invalid_request", "A valid email is required")
		return
	case len(req.Password) < 6:
		respondError(w, http.StatusBadRequest, "invalid_request", "Password must be at least 6 characters")
		return
	}

	user, err := s.RegisterUser(req)
	if errors.Is(err, errEmailTaken) {
		respondError(w, http.StatusConflict, "already_exists", "User with email "+req.Email+" already exists")
		return
	}
	if err != nil {
		s.log.WithError(err).Error("register failed")
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	respondJSON(w, http.StatusCreated, user)
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var creds domain.Credentials
	if err := decodeJSON(w, r, &creds); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	s.mu.Lock()
	acc, ok := s.users[strings.ToLower(strings.TrimSpace(creds.Email))]
	s.mu.Unlock()
	if !ok || bcrypt.CompareHashAndPassword([]byte(acc.passwordHash), []byte(creds.Password)) != nil {
		respondUnauthorized(w, "Bad credentials")
		return
	}

	token, err := s.IssueToken(acc.user.Email, s.ttl)
	if err != nil {
		s.log.WithError(err).Error("sign token failed")
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	respondJSON(w, http.StatusOK, domain.AuthResponse{Token: token, User: acc.user})
}

// IssueToken signs an HS256 token for email. A negative ttl yields an already expired token.
func (s *Server) IssueToken(email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   email,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			respondUnauthorized(w, "Full authentication is required to access this resource")
			return
		}

		var claims jwt.RegisteredClaims
		_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
			return s.secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			respondUnauthorized(w, "Invalid or expired token")
			return
		}

		s.mu.Lock()
		_, known := s.users[claims.Subject]
		s.mu.Unlock()
		if !known {
			respondUnauthorized(w, "Invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), ctxKey{}, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func emailFrom(ctx context.Context) string {
	email, _ := ctx.Value(ctxKey{}).(string)
	return email
}
