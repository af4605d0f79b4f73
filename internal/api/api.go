// Package api maps the remote storefront endpoints onto typed calls through the gateway.
package api

import (
	"context"
	"net/url"

	"github.com/fjod/go_cart/storefront/internal/gateway"
)

// Sender is the part of the gateway the endpoint wrappers need.
type Sender interface {
	Get(ctx context.Context, path string, query url.Values, out any) error
	Post(ctx context.Context, path string, body, out any) error
	Put(ctx context.Context, path string, body, out any) error
	Delete(ctx context.Context, path string, out any) error
}

var _ Sender = (*gateway.Gateway)(nil)

type Client struct {
	Auth     *AuthService
	Products *ProductService
	Cart     *CartService
}

func NewClient(s Sender) *Client {
	return &Client{
		Auth:     &AuthService{s: s},
		Products: &ProductService{s: s},
		Cart:     &CartService{s: s},
	}
}
