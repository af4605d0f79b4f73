// Package tui is the terminal storefront. It reads the store root's state and turns key presses
// into intents; it never mutates state itself.
package tui

import (
	"context"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/gateway"
	"github.com/fjod/go_cart/storefront/internal/store"
)

// Root is the part of store.Root the terminal needs.
type Root interface {
	State() store.State
	Subscribe(fn func(store.State)) func()
	Dispatch(ctx context.Context, fn func(context.Context) error) <-chan error
	Bootstrap(ctx context.Context) error
	Login(ctx context.Context, creds domain.Credentials) error
	Logout(ctx context.Context)
	LoadProducts(ctx context.Context, q domain.ProductQuery) error
	Search(ctx context.Context, keyword string, q domain.ProductQuery) error
	FetchCart(ctx context.Context) error
	AddToCart(ctx context.Context, productID int64, quantity int) error
	UpdateCartItem(ctx context.Context, cartItemID int64, quantity int) error
	RemoveFromCart(ctx context.Context, cartItemID int64) error
	ClearCart(ctx context.Context) error
}

var _ Root = (*store.Root)(nil)

// Navigator hands hard navigations from the gateway to the running program.
type Navigator struct {
	ch chan string
}

func NewNavigator() *Navigator {
	return &Navigator{ch: make(chan string, 8)}
}

// Navigate never blocks; when the program is not draining, extra navigations are dropped.
func (n *Navigator) Navigate(path string) {
	select {
	case n.ch <- path:
	default:
	}
}

type screen int

const (
	screenCatalog screen = iota
	screenCart
	screenLogin
	screenSearch
)

type (
	stateChangedMsg struct{}
	navigateMsg     struct{ path string }
	resultMsg       struct {
		intent string
		err    error
	}
)

type field int

const (
	fieldEmail field = iota
	fieldPassword
)

type Model struct {
	root      Root
	ctx       context.Context
	changed   chan struct{}
	nav       *Navigator
	loginPath string

	state   store.State
	screen  screen
	cursor  int
	status  string
	email   string
	secret  string
	focus   field
	keyword string
}

// New subscribes to root. The returned func detaches the model and must be called on exit.
func New(ctx context.Context, root Root, nav *Navigator, loginPath string) (Model, func()) {
	if loginPath == "" {
		loginPath = gateway.DefaultLoginPath
	}
	changed := make(chan struct{}, 1)
	unsubscribe := root.Subscribe(func(store.State) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	m := Model{
		root:      root,
		ctx:       ctx,
		changed:   changed,
		nav:       nav,
		loginPath: loginPath,
		state:     root.State(),
		status:    "Loading...",
	}
	return m, unsubscribe
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.waitForChange(),
		m.waitForNavigation(),
		m.dispatch("bootstrap", m.root.Bootstrap),
	)
}

func (m Model) waitForChange() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-m.changed:
			return stateChangedMsg{}
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m Model) waitForNavigation() tea.Cmd {
	if m.nav == nil {
		return nil
	}
	return func() tea.Msg {
		select {
		case path := <-m.nav.ch:
			return navigateMsg{path: path}
		case <-m.ctx.Done():
			return nil
		}
	}
}

// dispatch runs fn through the root in the background and reports back as a resultMsg.
func (m Model) dispatch(intent string, fn func(context.Context) error) tea.Cmd {
	done := m.root.Dispatch(m.ctx, fn)
	return func() tea.Msg {
		return resultMsg{intent: intent, err: <-done}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case stateChangedMsg:
		m.state = m.root.State()
		m.clampCursor()
		return m, m.waitForChange()
	case navigateMsg:
		if msg.path == m.loginPath {
			m = m.toLogin("Authentication required")
		}
		return m, m.waitForNavigation()
	case resultMsg:
		return m.settled(msg)
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		switch m.screen {
		case screenLogin:
			return m.updateLogin(msg)
		case screenSearch:
			return m.updateSearch(msg)
		case screenCart:
			return m.updateCart(msg)
		default:
			return m.updateCatalog(msg)
		}
	}
	return m, nil
}

// toLogin is the hard navigation: everything typed or selected so far is dropped.
func (m Model) toLogin(status string) Model {
	m.screen = screenLogin
	m.cursor = 0
	m.email = ""
	m.secret = ""
	m.focus = fieldEmail
	m.keyword = ""
	m.status = status
	return m
}

func (m Model) settled(msg resultMsg) (tea.Model, tea.Cmd) {
	m.state = m.root.State()
	m.clampCursor()
	if msg.err == nil {
		m.status = "Ready"
		if msg.intent == "login" {
			m.screen = screenCatalog
			m.secret = ""
			return m, m.dispatch("fetch cart", m.root.FetchCart)
		}
		return m, nil
	}
	if gateway.IsUnauthorized(msg.err) {
		// the navigation message moves the screen
		return m, nil
	}
	m.status = msg.intent + ": " + msg.err.Error()
	return m, nil
}

func (m Model) updateCatalog(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	cat := m.state.Catalog
	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(cat.Items)-1 {
			m.cursor++
		}
	case "right", "n":
		if !cat.Last {
			return m, m.loadPage(cat.PageNumber + 1)
		}
	case "left", "p":
		if cat.PageNumber > 0 {
			return m, m.loadPage(cat.PageNumber - 1)
		}
	case "r":
		return m, m.loadPage(cat.PageNumber)
	case "/":
		m.screen = screenSearch
		m.keyword = cat.Keyword
	case "a", "enter":
		if len(cat.Items) == 0 {
			return m, nil
		}
		if !m.state.Session.IsAuthenticated() {
			return m.toLogin("Log in to add items to your cart"), nil
		}
		id := cat.Items[m.cursor].ProductID
		return m, m.dispatch("add to cart", func(ctx context.Context) error {
			return m.root.AddToCart(ctx, id, 1)
		})
	case "c":
		if !m.state.Session.IsAuthenticated() {
			return m.toLogin("Log in to see your cart"), nil
		}
		m.screen = screenCart
		m.cursor = 0
		return m, m.dispatch("fetch cart", m.root.FetchCart)
	case "l":
		if m.state.Session.IsAuthenticated() {
			return m, m.dispatch("logout", func(ctx context.Context) error {
				m.root.Logout(ctx)
				return nil
			})
		}
		return m.toLogin(""), nil
	}
	return m, nil
}

func (m Model) loadPage(n int) tea.Cmd {
	q := m.state.Catalog.Query
	q.PageNumber = &n
	if kw := m.state.Catalog.Keyword; kw != "" {
		return m.dispatch("search", func(ctx context.Context) error {
			return m.root.Search(ctx, kw, q)
		})
	}
	return m.dispatch("load products", func(ctx context.Context) error {
		return m.root.LoadProducts(ctx, q)
	})
}

func (m Model) updateSearch(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.screen = screenCatalog
		return m, nil
	case tea.KeyEnter:
		m.screen = screenCatalog
		m.cursor = 0
		kw := strings.TrimSpace(m.keyword)
		if kw == "" {
			return m, m.dispatch("load products", func(ctx context.Context) error {
				return m.root.LoadProducts(ctx, domain.ProductQuery{})
			})
		}
		return m, m.dispatch("search", func(ctx context.Context) error {
			return m.root.Search(ctx, kw, domain.ProductQuery{})
		})
	case tea.KeyBackspace:
		m.keyword = dropLast(m.keyword)
	case tea.KeySpace:
		m.keyword += " "
	case tea.KeyRunes:
		m.keyword += string(msg.Runes)
	}
	return m, nil
}

func (m Model) updateCart(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	items := m.state.Cart.Items
	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "esc", "b":
		m.screen = screenCatalog
		m.cursor = 0
		return m, nil
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(items)-1 {
			m.cursor++
		}
	case "+", "=":
		if len(items) > 0 {
			it := items[m.cursor]
			return m, m.dispatch("update quantity", func(ctx context.Context) error {
				return m.root.UpdateCartItem(ctx, it.CartItemID, it.Quantity+1)
			})
		}
	case "-":
		if len(items) > 0 {
			it := items[m.cursor]
			if it.Quantity <= 1 {
				return m, m.dispatch("remove item", func(ctx context.Context) error {
					return m.root.RemoveFromCart(ctx, it.CartItemID)
				})
			}
			return m, m.dispatch("update quantity", func(ctx context.Context) error {
				return m.root.UpdateCartItem(ctx, it.CartItemID, it.Quantity-1)
			})
		}
	case "d", "delete":
		if len(items) > 0 {
			id := items[m.cursor].CartItemID
			return m, m.dispatch("remove item", func(ctx context.Context) error {
				return m.root.RemoveFromCart(ctx, id)
			})
		}
	case "x":
		return m, m.dispatch("clear cart", m.root.ClearCart)
	case "r":
		return m, m.dispatch("fetch cart", m.root.FetchCart)
	}
	return m, nil
}

func (m Model) updateLogin(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.screen = screenCatalog
		m.status = ""
		return m, nil
	case tea.KeyTab, tea.KeyShiftTab, tea.KeyUp, tea.KeyDown:
		if m.focus == fieldEmail {
			m.focus = fieldPassword
		} else {
			m.focus = fieldEmail
		}
	case tea.KeyEnter:
		if m.focus == fieldEmail {
			m.focus = fieldPassword
			return m, nil
		}
		creds := domain.Credentials{Email: strings.TrimSpace(m.email), Password: m.secret}
		m.status = "Logging in..."
		return m, m.dispatch("login", func(ctx context.Context) error {
			return m.root.Login(ctx, creds)
		})
	case tea.KeyBackspace:
		if m.focus == fieldEmail {
			m.email = dropLast(m.email)
		} else {
			m.secret = dropLast(m.secret)
		}
	case tea.KeyRunes, tea.KeySpace:
		typed := string(msg.Runes)
		if msg.Type == tea.KeySpace {
			typed = " "
		}
		if m.focus == fieldEmail {
			m.email += typed
		} else {
			m.secret += typed
		}
	}
	return m, nil
}

func (m *Model) clampCursor() {
	n := len(m.state.Catalog.Items)
	if m.screen == screenCart {
		n = len(m.state.Cart.Items)
	}
	if m.cursor >= n {
		m.cursor = max(n-1, 0)
	}
}

func dropLast(s string) string {
	r := []rune(s)
	if len(r) == 0 {
		return s
	}
	return string(r[:len(r)-1])
}
