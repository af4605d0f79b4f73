package fakeapi

import (
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

type catalogEntry struct {
	product  domain.Product
	category int64
}

var seedProducts = []struct {
	name     string
	category int64
	price    int64
	discount int64
	stock    int
}{
	{"Ceramic Mug", 1, 12, 0, 40},
	{"French Press", 1, 35, 10, 15},
	{"Pour Over Kettle", 1, 58, 15, 8},
	{"Espresso Cups Set", 1, 24, 0, 20},
	{"Oak Serving Board", 1, 42, 5, 12},
	{"Cast Iron Skillet", 1, 49, 20, 6},
	{"Chef Knife", 1, 89, 10, 10},
	{"Linen Apron", 1, 28, 0, 25},
	{"Desk Lamp", 2, 45, 0, 18},
	{"Floor Lamp", 2, 120, 25, 4},
	{"Wool Throw", 2, 65, 10, 9},
	{"Cotton Cushion", 2, 22, 0, 30},
	{"Wall Clock", 2, 38, 0, 11},
	{"Ceramic Vase", 2, 31, 5, 14},
	{"Scented Candle", 2, 16, 0, 50},
	{"Picture Frame", 2, 19, 0, 35},
	{"Notebook A5", 3, 9, 0, 100},
	{"Fountain Pen", 3, 54, 10, 7},
	{"Desk Organizer", 3, 27, 0, 16},
	{"Leather Journal", 3, 39, 15, 5},
	{"Pencil Set", 3, 11, 0, 60},
	{"Monitor Stand", 3, 75, 20, 3},
	{"Mechanical Keyboard", 3, 130, 10, 0},
	{"Mouse Pad", 3, 14, 0, 45},
	{"Bookends", 3, 33, 0, 13},
}

func (s *Server) seedCatalog() {
	for _, p := range seedProducts {
		s.AddProduct(p.category, domain.Product{
			Name:        p.name,
			Image:       strings.ToLower(strings.ReplaceAll(p.name, " ", "-")) + ".png",
			Description: p.name + " from the house collection",
			Quantity:    p.stock,
			Price:       decimal.NewFromInt(p.price),
			Discount:    decimal.NewFromInt(p.discount),
		})
	}
}

// AddProduct registers p under category and assigns its id. SpecialPrice is derived from the
// discount percentage when not set.
func (s *Server) AddProduct(category int64, p domain.Product) domain.Product {
	s.mu.Lock()
	defer s.mu.Unlock()

	p.ProductID = int64(len(s.products) + 1)
	if p.SpecialPrice.IsZero() {
		off := p.Price.Mul(p.Discount).Div(decimal.NewFromInt(100))
		p.SpecialPrice = p.Price.Sub(off).Round(2)
	}
	s.products[p.ProductID] = &catalogEntry{product: p, category: category}
	return p
}

var sortFields = map[string]func(a, b domain.Product) int{
	"productId": func(a, b domain.Product) int { return compareInt(a.ProductID, b.ProductID) },
	"productName": func(a, b domain.Product) int {
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	},
	"price":        func(a, b domain.Product) int { return a.Price.Cmp(b.Price) },
	"specialPrice": func(a, b domain.Product) int { return a.SpecialPrice.Cmp(b.SpecialPrice) },
	"discount":     func(a, b domain.Product) int { return a.Discount.Cmp(b.Discount) },
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

type listParams struct {
	page, size int
	sortBy     string
	desc       bool
	category   *int64
	min, max   *decimal.Decimal
	keyword    string
}

// parseListParams reads paging under pageKey/sizeKey; products and search name them differently.
func parseListParams(r *http.Request, pageKey, sizeKey string) (listParams, string) {
	q := r.URL.Query()
	p := listParams{page: domain.DefaultPageNumber, size: domain.DefaultPageSize, sortBy: "productId"}

	if v := q.Get(pageKey); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, pageKey + " must be a non-negative integer"
		}
		p.page = n
	}
	if v := q.Get(sizeKey); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return p, sizeKey + " must be a positive integer"
		}
		p.size = n
	}
	if v := q.Get("sortBy"); v != "" {
		if _, ok := sortFields[v]; !ok {
			return p, "Invalid sort field: " + v
		}
		p.sortBy = v
	}
	switch strings.ToUpper(q.Get("sortOrder")) {
	case "", string(domain.SortAsc):
	case string(domain.SortDesc):
		p.desc = true
	default:
		return p, "sortOrder must be ASC or DESC"
	}
	if v := q.Get("category"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return p, "category must be an integer"
		}
		p.category = &n
	}
	for key, dst := range map[string]**decimal.Decimal{"minPrice": &p.min, "maxPrice": &p.max} {
		if v := q.Get(key); v != "" {
			d, err := decimal.NewFromString(v)
			if err != nil {
				return p, key + " must be a number"
			}
			*dst = &d
		}
	}
	p.keyword = strings.ToLower(strings.TrimSpace(q.Get("q")))
	return p, ""
}

func (s *Server) page(p listParams) domain.ProductPage {
	s.mu.Lock()
	matched := make([]domain.Product, 0, len(s.products))
	for _, e := range s.products {
		if p.category != nil && e.category != *p.category {
			continue
		}
		if p.min != nil && e.product.SpecialPrice.LessThan(*p.min) {
			continue
		}
		if p.max != nil && e.product.SpecialPrice.GreaterThan(*p.max) {
			continue
		}
		if p.keyword != "" &&
			!strings.Contains(strings.ToLower(e.product.Name), p.keyword) &&
			!strings.Contains(strings.ToLower(e.product.Description), p.keyword) {
			continue
		}
		matched = append(matched, e.product)
	}
	s.mu.Unlock()

	cmp := sortFields[p.sortBy]
	sort.SliceStable(matched, func(i, j int) bool {
		c := cmp(matched[i], matched[j])
		if c == 0 {
			c = compareInt(matched[i].ProductID, matched[j].ProductID)
		}
		if p.desc {
			return c > 0
		}
		return c < 0
	})

	total := len(matched)
	totalPages := (total + p.size - 1) / p.size
	start := min(p.page*p.size, total)
	end := min(start+p.size, total)

	return domain.ProductPage{
		Content:       matched[start:end],
		PageNumber:    p.page,
		PageSize:      p.size,
		TotalElements: int64(total),
		TotalPages:    totalPages,
		Last:          p.page >= totalPages-1,
	}
}

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	p, problem := parseListParams(r, "pageNumber", "pageSize")
	if problem != "" {
		respondError(w, http.StatusBadRequest, "invalid_argument", problem)
		return
	}
	p.keyword = ""
	respondJSON(w, http.StatusOK, s.page(p))
}

func (s *Server) searchProducts(w http.ResponseWriter, r *http.Request) {
	p, problem := parseListParams(r, "page", "size")
	if problem != "" {
		respondError(w, http.StatusBadRequest, "invalid_argument", problem)
		return
	}
	respondJSON(w, http.StatusOK, s.page(p))
}

func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "productId must be a positive integer")
		return
	}

	s.mu.Lock()
	e, ok := s.products[id]
	var p domain.Product
	if ok {
		p = e.product
	}
	s.mu.Unlock()

	if !ok {
		respondError(w, http.StatusNotFound, "not_found", "Product not found with productId: "+strconv.FormatInt(id, 10))
		return
	}
	respondJSON(w, http.StatusOK, p)
}
