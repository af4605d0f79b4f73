package api

import (
	"context"
	"encoding/json"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

type AuthService struct {
	s Sender
}

func (a *AuthService) Login(ctx context.Context, creds domain.Credentials) (*domain.AuthResponse, error) {
	var resp domain.AuthResponse
	if err := a.s.Post(ctx, "auth/login", creds, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Register returns the raw payload; the server answers with a user object or a plain message.
func (a *AuthService) Register(ctx context.Context, req domain.RegisterRequest) (json.RawMessage, error) {
	var resp json.RawMessage
	if err := a.s.Post(ctx, "auth/register", req, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}
