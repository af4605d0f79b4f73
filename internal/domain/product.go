package domain

import (
	"net/url"
	"strconv"

	"github.com/shopspring/decimal"
)

const (
	DefaultPageNumber = 0
	DefaultPageSize   = 12
)

type SortOrder string

const (
	SortAsc  SortOrder = "ASC"
	SortDesc SortOrder = "DESC"
)

type Product struct {
	ProductID    int64           `json:"productId"`
	Name         string          `json:"productName"`
	Image        string          `json:"image"`
	Description  string          `json:"description"`
	Quantity     int             `json:"quantity"`
	Price        decimal.Decimal `json:"price"`
	Discount     decimal.Decimal `json:"discount"`
	SpecialPrice decimal.Decimal `json:"specialPrice"`
}

// ProductPage is one page of the catalog as returned by GET products.
type ProductPage struct {
	Content       []Product `json:"content"`
	PageNumber    int       `json:"pageNumber"`
	PageSize      int       `json:"pageSize"`
	TotalElements int64     `json:"totalElements"`
	TotalPages    int       `json:"totalPages"`
	Last          bool      `json:"last"`
}

// ProductQuery holds the catalog query. Nil pointers are omitted from the request.
type ProductQuery struct {
	PageNumber *int
	PageSize   *int
	SortBy     string
	SortOrder  SortOrder
	Category   *int64
	MinPrice   *decimal.Decimal
	MaxPrice   *decimal.Decimal
}

// WithDefaults fills in page 0 and size 12 when paging is not set.
func (q ProductQuery) WithDefaults() ProductQuery {
	if q.PageNumber == nil {
		n := DefaultPageNumber
		q.PageNumber = &n
	}
	if q.PageSize == nil {
		s := DefaultPageSize
		q.PageSize = &s
	}
	return q
}

func (q ProductQuery) Page() int {
	if q.PageNumber == nil {
		return DefaultPageNumber
	}
	return *q.PageNumber
}

func (q ProductQuery) Size() int {
	if q.PageSize == nil {
		return DefaultPageSize
	}
	return *q.PageSize
}

func (q ProductQuery) Values() url.Values {
	v := url.Values{}
	if q.PageNumber != nil {
		v.Set("pageNumber", strconv.Itoa(*q.PageNumber))
	}
	if q.PageSize != nil {
		v.Set("pageSize", strconv.Itoa(*q.PageSize))
	}
	if q.SortBy != "" {
		v.Set("sortBy", q.SortBy)
	}
	if q.SortOrder != "" {
		v.Set("sortOrder", string(q.SortOrder))
	}
	if q.Category != nil {
		v.Set("category", strconv.FormatInt(*q.Category, 10))
	}
	if q.MinPrice != nil {
		v.Set("minPrice", q.MinPrice.String())
	}
	if q.MaxPrice != nil {
		v.Set("maxPrice", q.MaxPrice.String())
	}
	return v
}

// Page builds a query for a single page.
func Page(number, size int) ProductQuery {
	return ProductQuery{PageNumber: &number, PageSize: &size}
}
