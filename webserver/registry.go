package webserver

import (
	"reflect"
	"slices"
	"sync"
)

// registry keeps handler templates ordered by descending priority. Equal
// priorities keep their registration order.
type registry struct {
	mu       sync.RWMutex
	handlers []RequestHandler
}

func (r *registry) add(h RequestHandler) error {
	if h == nil {
		return ErrNilHandler
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.indexLocked(h) >= 0 {
		return ErrDuplicate
	}
	r.handlers = append(r.handlers, h)
	slices.SortStableFunc(r.handlers, func(a, b RequestHandler) int {
		return b.Priority() - a.Priority()
	})
	return nil
}

func (r *registry) remove(h RequestHandler) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexLocked(h)
	if i < 0 {
		return false
	}
	r.handlers = slices.Delete(r.handlers, i, i+1)
	return true
}

func (r *registry) indexLocked(h RequestHandler) int {
	if h == nil || !reflect.TypeOf(h).Comparable() {
		return -1
	}
	for i, x := range r.handlers {
		if reflect.TypeOf(x) == reflect.TypeOf(h) && x == h {
			return i
		}
	}
	return -1
}

// find returns the first template willing to handle req.
func (r *registry) find(req *Request) RequestHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, h := range r.handlers {
		if h.CanHandleRequest(req) {
			return h
		}
	}
	return nil
}

func (r *registry) list() []RequestHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.handlers)
}
