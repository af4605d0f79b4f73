package api

import (
	"context"
	"strconv"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

type ProductService struct {
	s Sender
}

func (p *ProductService) List(ctx context.Context, q domain.ProductQuery) (*domain.ProductPage, error) {
	var page domain.ProductPage
	if err := p.s.Get(ctx, "products", q.Values(), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Search uses the page/size parameter names of the search endpoint.
func (p *ProductService) Search(ctx context.Context, keyword string, q domain.ProductQuery) (*domain.ProductPage, error) {
	v := q.Values()
	v.Del("pageNumber")
	v.Del("pageSize")
	v.Set("q", keyword)
	v.Set("page", strconv.Itoa(q.Page()))
	v.Set("size", strconv.Itoa(q.Size()))

	var page domain.ProductPage
	if err := p.s.Get(ctx, "products/search", v, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (p *ProductService) Get(ctx context.Context, productID int64) (*domain.Product, error) {
	var product domain.Product
	if err := p.s.Get(ctx, "products/"+strconv.FormatInt(productID, 10), nil, &product); err != nil {
		return nil, err
	}
	return &product, nil
}
