package navigation

import "sync"

// Navigator performs a hard navigation that discards all in-memory client state.
type Navigator interface {
	Navigate(path string)
}

type Func func(path string)

func (f Func) Navigate(path string) { f(path) }

type Noop struct{}

func (Noop) Navigate(string) {}

// Recorder remembers every navigation. The TUI polls it to switch screens.
type Recorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *Recorder) Navigate(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
}

func (r *Recorder) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func (r *Recorder) Count(path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, p := range r.paths {
		if p == path {
			n++
		}
	}
	return n
}

// Take returns the recorded paths and forgets them.
func (r *Recorder) Take() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.paths
	r.paths = nil
	return out
}
