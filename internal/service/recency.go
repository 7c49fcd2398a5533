package service

import "container/list"

// recency is a bounded set that forgets its least recently touched key
// once it holds more than size keys. It is not safe for concurrent use.
type recency[K comparable] struct {
	size  int
	order *list.List // front is most recent
	index map[K]*list.Element
}

func newRecency[K comparable](size int) *recency[K] {
	return &recency[K]{
		size:  max(size, 1),
		order: list.New(),
		index: make(map[K]*list.Element, size),
	}
}

// touch records k as most recent and reports whether it was already present.
func (r *recency[K]) touch(k K) bool {
	if el, ok := r.index[k]; ok {
		r.order.MoveToFront(el)
		return true
	}
	r.index[k] = r.order.PushFront(k)
	if r.order.Len() > r.size {
		oldest := r.order.Back()
		r.order.Remove(oldest)
		delete(r.index, oldest.Value.(K))
	}
	return false
}

func (r *recency[K]) contains(k K) bool {
	_, ok := r.index[k]
	return ok
}

func (r *recency[K]) len() int {
	return r.order.Len()
}
