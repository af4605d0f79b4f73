package api

import (
	"context"
	"encoding/json"
	"net/url"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

type call struct {
	method string
	path   string
	query  url.Values
	body   any
}

// fakeSender records calls and answers with a canned JSON body.
type fakeSender struct {
	calls []call
	reply string
	err   error
}

func (f *fakeSender) answer(c call, out any) error {
	f.calls = append(f.calls, c)
	if f.err != nil {
		return f.err
	}
	if out == nil || f.reply == "" {
		return nil
	}
	return json.Unmarshal([]byte(f.reply), out)
}

func (f *fakeSender) Get(_ context.Context, path string, query url.Values, out any) error {
	return f.answer(call{method: "GET", path: path, query: query}, out)
}

func (f *fakeSender) Post(_ context.Context, path string, body, out any) error {
	return f.answer(call{method: "POST", path: path, body: body}, out)
}

func (f *fakeSender) Put(_ context.Context, path string, body, out any) error {
	return f.answer(call{method: "PUT", path: path, body: body}, out)
}

func (f *fakeSender) Delete(_ context.Context, path string, out any) error {
	return f.answer(call{method: "DELETE", path: path}, out)
}

const cartReply = `{"cartId":4,"totalPrice":24,"items":[{"cartItemId":9,"product":{"productId":1},"quantity":2,"subTotal":24}]}`

func TestCartEndpoints(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		invoke func(c *CartService) (*domain.Cart, error)
		want   call
	}{
		{
			name:   "get",
			invoke: func(c *CartService) (*domain.Cart, error) { return c.Get(ctx) },
			want:   call{method: "GET", path: "cart"},
		},
		{
			name: "add",
			invoke: func(c *CartService) (*domain.Cart, error) {
				return c.AddItem(ctx, domain.AddItemRequest{ProductID: 1, Quantity: 2})
			},
			want: call{method: "POST", path: "cart/items", body: domain.AddItemRequest{ProductID: 1, Quantity: 2}},
		},
		{
			name:   "update",
			invoke: func(c *CartService) (*domain.Cart, error) { return c.UpdateItem(ctx, 9, 3) },
			want:   call{method: "PUT", path: "cart/items/9", body: domain.UpdateItemRequest{Quantity: 3}},
		},
		{
			name:   "remove",
			invoke: func(c *CartService) (*domain.Cart, error) { return c.RemoveItem(ctx, 9) },
			want:   call{method: "DELETE", path: "cart/items/9"},
		},
		{
			name:   "clear",
			invoke: func(c *CartService) (*domain.Cart, error) { return c.Clear(ctx) },
			want:   call{method: "DELETE", path: "cart"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &fakeSender{reply: cartReply}
			cart, err := tt.invoke(NewClient(s).Cart)
			require.NoError(t, err)
			assert.Equal(t, []call{tt.want}, s.calls)
			assert.Equal(t, int64(4), cart.CartID)
			require.Len(t, cart.Items, 1)
			assert.Equal(t, 2, cart.Items[0].Quantity)
		})
	}
}

func TestCartEndpoints_PropagateErrors(t *testing.T) {
	boom := errors.New("boom")
	s := &fakeSender{err: boom}

	cart, err := NewClient(s).Cart.Get(context.Background())
	assert.Nil(t, cart)
	assert.ErrorIs(t, err, boom)
}

func TestProducts_ListSendsQuery(t *testing.T) {
	s := &fakeSender{reply: `{"content":[],"pageNumber":1,"pageSize":5,"totalPages":3}`}

	page, err := NewClient(s).Products.List(context.Background(), domain.Page(1, 5))
	require.NoError(t, err)
	assert.Equal(t, 1, page.PageNumber)
	require.Len(t, s.calls, 1)
	assert.Equal(t, "products", s.calls[0].path)
	assert.Equal(t, url.Values{"pageNumber": {"1"}, "pageSize": {"5"}}, s.calls[0].query)
}

func TestProducts_SearchRenamesPaging(t *testing.T) {
	s := &fakeSender{reply: `{"content":[]}`}

	_, err := NewClient(s).Products.Search(context.Background(), "lamp", domain.ProductQuery{SortBy: "price"}.WithDefaults())
	require.NoError(t, err)
	require.Len(t, s.calls, 1)
	assert.Equal(t, "products/search", s.calls[0].path)
	assert.Equal(t, url.Values{
		"q":      {"lamp"},
		"page":   {"0"},
		"size":   {"12"},
		"sortBy": {"price"},
	}, s.calls[0].query)
}

func TestProducts_Get(t *testing.T) {
	s := &fakeSender{reply: `{"productId":42,"productName":"Lamp"}`}

	p, err := NewClient(s).Products.Get(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "Lamp", p.Name)
	assert.Equal(t, "products/42", s.calls[0].path)
}

func TestAuth(t *testing.T) {
	t.Run("login", func(t *testing.T) {
		s := &fakeSender{reply: `{"token":"t","user":{"email":"a@b.c"}}`}
		resp, err := NewClient(s).Auth.Login(context.Background(), domain.Credentials{Email: "a@b.c", Password: "pw"})
		require.NoError(t, err)
		assert.Equal(t, "t", resp.Token)
		assert.Equal(t, "auth/login", s.calls[0].path)
	})

	t.Run("register returns raw payload", func(t *testing.T) {
		s := &fakeSender{reply: `"User registered successfully!"`}
		raw, err := NewClient(s).Auth.Register(context.Background(), domain.RegisterRequest{Email: "a@b.c"})
		require.NoError(t, err)
		assert.JSONEq(t, `"User registered successfully!"`, string(raw))
		assert.Equal(t, "auth/register", s.calls[0].path)
	})
}
