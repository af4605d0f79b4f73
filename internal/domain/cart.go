package domain

import "github.com/shopspring/decimal"

// Cart is the server's authoritative cart snapshot. Totals are never derived client-side.
type Cart struct {
	CartID     int64           `json:"cartId"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
	Items      []CartItem      `json:"items"`
}

type CartItem struct {
	CartItemID int64           `json:"cartItemId"`
	Product    Product         `json:"product"`
	Quantity   int             `json:"quantity"`
	Discount   decimal.Decimal `json:"discount"`
	SubTotal   decimal.Decimal `json:"subTotal"`
}

type AddItemRequest struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

type UpdateItemRequest struct {
	Quantity int `json:"quantity"`
}
