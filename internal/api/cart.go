package api

import (
	"context"
	"strconv"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

type CartService struct {
	s Sender
}

func (c *CartService) Get(ctx context.Context) (*domain.Cart, error) {
	var cart domain.Cart
	if err := c.s.Get(ctx, "cart", nil, &cart); err != nil {
		return nil, err
	}
	return &cart, nil
}

func (c *CartService) AddItem(ctx context.Context, req domain.AddItemRequest) (*domain.Cart, error) {
	var cart domain.Cart
	if err := c.s.Post(ctx, "cart/items", req, &cart); err != nil {
		return nil, err
	}
	return &cart, nil
}

func (c *CartService) UpdateItem(ctx context.Context, cartItemID int64, quantity int) (*domain.Cart, error) {
	var cart domain.Cart
	if err := c.s.Put(ctx, itemPath(cartItemID), domain.UpdateItemRequest{Quantity: quantity}, &cart); err != nil {
		return nil, err
	}
	return &cart, nil
}

func (c *CartService) RemoveItem(ctx context.Context, cartItemID int64) (*domain.Cart, error) {
	var cart domain.Cart
	if err := c.s.Delete(ctx, itemPath(cartItemID), &cart); err != nil {
		return nil, err
	}
	return &cart, nil
}

func (c *CartService) Clear(ctx context.Context) (*domain.Cart, error) {
	var cart domain.Cart
	if err := c.s.Delete(ctx, "cart", &cart); err != nil {
		return nil, err
	}
	return &cart, nil
}

func itemPath(cartItemID int64) string {
	return "cart/items/" + strconv.FormatInt(cartItemID, 10)
}
