package tui

import (
	"fmt"
	"strings"

	"github.com/fjod/go_cart/storefront/internal/phase"
)

func (m Model) View() string {
	b := &strings.Builder{}
	fmt.Fprintln(b, "Storefront")
	m.header(b)
	fmt.Fprintln(b, "")

	switch m.screen {
	case screenLogin:
		m.viewLogin(b)
	case screenCart:
		m.viewCart(b)
	case screenSearch:
		fmt.Fprintf(b, "Search: %s_\n", m.keyword)
		fmt.Fprintln(b, "\nControls: enter to search (empty shows all), esc to cancel")
	default:
		m.viewCatalog(b)
	}

	if m.status != "" {
		fmt.Fprintf(b, "\nStatus: %s\n", m.status)
	}
	return b.String()
}

func (m Model) header(b *strings.Builder) {
	s := m.state.Session
	if s.IsAuthenticated() && s.User != nil {
		fmt.Fprintf(b, "Signed in as %s | cart: %d item(s)\n", s.User.Email, m.state.Cart.Count())
		return
	}
	fmt.Fprintln(b, "Not signed in")
}

func (m Model) viewCatalog(b *strings.Builder) {
	cat := m.state.Catalog
	switch cat.Phase {
	case phase.Loading:
		fmt.Fprintln(b, "Loading products...")
		return
	case phase.Failed:
		fmt.Fprintf(b, "Error loading products: %s\n", cat.Error)
		fmt.Fprintln(b, "\nControls: r to retry, q to quit")
		return
	}

	title := "Our Products"
	if cat.Keyword != "" {
		title = fmt.Sprintf("Results for %q", cat.Keyword)
	}
	fmt.Fprintln(b, title)
	if len(cat.Items) == 0 {
		fmt.Fprintln(b, "  (nothing here)")
	}
	for i, p := range cat.Items {
		marker := " "
		if i == m.cursor {
			marker = ">"
		}
		price := "$" + p.SpecialPrice.StringFixed(2)
		if !p.SpecialPrice.Equal(p.Price) {
			price += fmt.Sprintf(" (was $%s)", p.Price.StringFixed(2))
		}
		stock := ""
		if p.Quantity == 0 {
			stock = " [out of stock]"
		}
		fmt.Fprintf(b, " %s %-22s %s%s\n", marker, p.Name, price, stock)
	}
	if cat.TotalPages > 0 {
		fmt.Fprintf(b, "\nPage %d of %d (%d products)\n", cat.PageNumber+1, cat.TotalPages, cat.TotalElements)
	}
	fmt.Fprintln(b, "\nControls: up/down select, left/right page, a add to cart, / search, c cart, l login/logout, q quit")
}

func (m Model) viewCart(b *strings.Builder) {
	c := m.state.Cart
	fmt.Fprintln(b, "Your Cart")
	if c.Phase == phase.Loading && len(c.Items) == 0 {
		fmt.Fprintln(b, "Loading cart...")
	}
	if len(c.Items) == 0 && c.Phase != phase.Loading {
		fmt.Fprintln(b, "  (empty)")
	}
	for i, it := range c.Items {
		marker := " "
		if i == m.cursor {
			marker = ">"
		}
		fmt.Fprintf(b, " %s %-22s x%-3d $%s\n", marker, it.Product.Name, it.Quantity, it.SubTotal.StringFixed(2))
	}
	fmt.Fprintf(b, "\nTotal: $%s\n", c.TotalPrice.StringFixed(2))
	if c.Error != "" {
		fmt.Fprintf(b, "Error: %s\n", c.Error)
	}
	fmt.Fprintln(b, "\nControls: up/down select, +/- quantity, d remove, x clear, r refresh, esc back, q quit")
}

func (m Model) viewLogin(b *strings.Builder) {
	fmt.Fprintln(b, "Log in")
	email, password := " ", " "
	if m.focus == fieldEmail {
		email = ">"
	} else {
		password = ">"
	}
	fmt.Fprintf(b, " %s Email:    %s\n", email, m.email)
	fmt.Fprintf(b, " %s Password: %s\n", password, strings.Repeat("*", len([]rune(m.secret))))
	if e := m.state.Session.Error; e != "" {
		fmt.Fprintf(b, "\n%s\n", e)
	}
	fmt.Fprintln(b, "\nControls: tab switch field, enter submit, esc back to catalog")
}
