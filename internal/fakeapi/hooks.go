package fakeapi

import (
	"net/http"
	"sync"
)

// Held is a set of requests parked by Server.Hold.
type Held struct {
	match   func(*http.Request) bool
	arrived chan struct{}
	release chan struct{}

	arrivedOnce sync.Once
	releaseOnce sync.Once
}

// Arrived is closed once the first matching request is parked.
func (h *Held) Arrived() <-chan struct{} {
	return h.arrived
}

// Release lets every parked request through and stops matching new ones.
func (h *Held) Release() {
	h.releaseOnce.Do(func() { close(h.release) })
}

type failure struct {
	status  int
	message string
}

type hooks struct {
	mu    sync.Mutex
	holds []*Held
	fails map[string][]failure
}

// Hold parks requests for which match returns true until Release is called. Requests are
// parked before they are handled, so their effects and responses both wait.
func (s *Server) Hold(match func(*http.Request) bool) *Held {
	h := &Held{
		match:   match,
		arrived: make(chan struct{}),
		release: make(chan struct{}),
	}
	s.hooks.mu.Lock()
	s.hooks.holds = append(s.hooks.holds, h)
	s.hooks.mu.Unlock()
	return h
}

// FailNext makes the next request to path (relative to the api prefix, e.g. "cart/items/3")
// answer with status and a {message} payload. An empty message sends an empty object.
func (s *Server) FailNext(path string, status int, message string) {
	s.hooks.mu.Lock()
	defer s.hooks.mu.Unlock()
	s.hooks.fails[path] = append(s.hooks.fails[path], failure{status: status, message: message})
}

// Matching helpers for Hold.

func PathIs(method, path string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		return r.Method == method && routePath(r) == path
	}
}

func QueryHas(path, key, value string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		return routePath(r) == path && r.URL.Query().Get(key) == value
	}
}

func (h *hooks) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if held := h.holdFor(r); held != nil {
			held.arrivedOnce.Do(func() { close(held.arrived) })
			select {
			case <-held.release:
			case <-r.Context().Done():
				return
			}
		}

		if f, ok := h.takeFailure(routePath(r)); ok {
			if f.message == "" {
				respondJSON(w, f.status, struct{}{})
			} else {
				respondJSON(w, f.status, ErrorResponse{Message: f.message})
			}
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *hooks) holdFor(r *http.Request) *Held {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, held := range h.holds {
		select {
		case <-held.release:
			continue
		default:
		}
		if held.match(r) {
			return held
		}
	}
	return nil
}

func (h *hooks) takeFailure(path string) (failure, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	queue := h.fails[path]
	if len(queue) == 0 {
		return failure{}, false
	}
	h.fails[path] = queue[1:]
	return queue[0], true
}
