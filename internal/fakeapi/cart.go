package fakeapi

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

type cartState struct {
	id    int64
	items []*cartLine
}

type cartLine struct {
	id        int64
	productID int64
	quantity  int
	price     decimal.Decimal
	discount  decimal.Decimal
}

// statusError is a handler failure that maps straight onto a response.
type statusError struct {
	status  int
	code    string
	message string
}

func (e *statusError) Error() string { return e.message }

func badRequest(format string, args ...any) *statusError {
	return &statusError{status: http.StatusBadRequest, code: "invalid_request", message: fmt.Sprintf(format, args...)}
}

func notFound(format string, args ...any) *statusError {
	return &statusError{status: http.StatusNotFound, code: "not_found", message: fmt.Sprintf(format, args...)}
}

// cartFor returns the cart of email, creating it on first use. Caller holds s.mu.
func (s *Server) cartFor(email string) *cartState {
	c, ok := s.carts[email]
	if !ok {
		s.nextCartID++
		c = &cartState{id: s.nextCartID}
		s.carts[email] = c
	}
	return c
}

// snapshot renders the cart. Prices come from the line, product details from the catalog.
// Caller holds s.mu.
func (s *Server) snapshot(c *cartState) domain.Cart {
	out := domain.Cart{CartID: c.id, TotalPrice: decimal.Zero, Items: make([]domain.CartItem, 0, len(c.items))}
	for _, line := range c.items {
		subTotal := line.price.Mul(decimal.NewFromInt(int64(line.quantity)))
		var product domain.Product
		if e, ok := s.products[line.productID]; ok {
			product = e.product
		}
		out.Items = append(out.Items, domain.CartItem{
			CartItemID: line.id,
			Product:    product,
			Quantity:   line.quantity,
			Discount:   line.discount,
			SubTotal:   subTotal,
		})
		out.TotalPrice = out.TotalPrice.Add(subTotal)
	}
	return out
}

// mutateCart runs fn on the caller's cart under the lock and answers with the resulting snapshot.
func (s *Server) mutateCart(w http.ResponseWriter, r *http.Request, status int, fn func(c *cartState) *statusError) {
	s.mu.Lock()
	c := s.cartFor(emailFrom(r.Context()))
	var cart domain.Cart
	serr := fn(c)
	if serr == nil {
		cart = s.snapshot(c)
	}
	s.mu.Unlock()

	if serr != nil {
		respondError(w, serr.status, serr.code, serr.message)
		return
	}
	respondJSON(w, status, cart)
}

func (s *Server) getCart(w http.ResponseWriter, r *http.Request) {
	s.mutateCart(w, r, http.StatusOK, func(*cartState) *statusError { return nil })
}

func (s *Server) addItem(w http.ResponseWriter, r *http.Request) {
	var req domain.AddItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.ProductID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "productId must be positive")
		return
	}
	if req.Quantity <= 0 || req.Quantity > 99 {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be between 1 and 99")
		return
	}

	s.mutateCart(w, r, http.StatusCreated, func(c *cartState) *statusError {
		e, ok := s.products[req.ProductID]
		if !ok {
			return notFound("Product not found with productId: %d", req.ProductID)
		}
		for _, line := range c.items {
			if line.productID == req.ProductID {
				return badRequest("Product %s already exists in the cart", e.product.Name)
			}
		}
		if e.product.Quantity == 0 {
			return badRequest("Product %s is out of stock", e.product.Name)
		}
		if e.product.Quantity < req.Quantity {
			return badRequest("Product %s has only %d items in stock", e.product.Name, e.product.Quantity)
		}

		e.product.Quantity -= req.Quantity
		s.nextItemID++
		c.items = append(c.items, &cartLine{
			id:        s.nextItemID,
			productID: req.ProductID,
			quantity:  req.Quantity,
			price:     e.product.SpecialPrice,
			discount:  e.product.Discount,
		})
		return nil
	})
}

func (s *Server) updateItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := parseItemID(w, r)
	if !ok {
		return
	}
	var req domain.UpdateItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Quantity <= 0 || req.Quantity > 99 {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be between 1 and 99")
		return
	}

	s.mutateCart(w, r, http.StatusOK, func(c *cartState) *statusError {
		line := findLine(c, itemID)
		if line == nil {
			return notFound("Cart item not found with cartItemId: %d", itemID)
		}
		e := s.products[line.productID]
		diff := req.Quantity - line.quantity
		if diff > 0 && e.product.Quantity < diff {
			return badRequest("Cannot update cart. Only %d items available in stock.", e.product.Quantity)
		}
		e.product.Quantity -= diff
		line.quantity = req.Quantity
		line.price = e.product.SpecialPrice
		line.discount = e.product.Discount
		return nil
	})
}

func (s *Server) removeItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := parseItemID(w, r)
	if !ok {
		return
	}
	s.mutateCart(w, r, http.StatusOK, func(c *cartState) *statusError {
		for i, line := range c.items {
			if line.id == itemID {
				s.restock(line)
				c.items = append(c.items[:i], c.items[i+1:]...)
				return nil
			}
		}
		return notFound("Cart item not found with cartItemId: %d", itemID)
	})
}

func (s *Server) clearCart(w http.ResponseWriter, r *http.Request) {
	s.mutateCart(w, r, http.StatusOK, func(c *cartState) *statusError {
		for _, line := range c.items {
			s.restock(line)
		}
		c.items = nil
		return nil
	})
}

// restock returns a line's quantity to the catalog. Caller holds s.mu.
func (s *Server) restock(line *cartLine) {
	if e, ok := s.products[line.productID]; ok {
		e.product.Quantity += line.quantity
	}
}

func findLine(c *cartState, itemID int64) *cartLine {
	for _, line := range c.items {
		if line.id == itemID {
			return line
		}
	}
	return nil
}

func parseItemID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "itemID"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_item_id", "cartItemId must be a positive integer")
		return 0, false
	}
	return id, true
}
