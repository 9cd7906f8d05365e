// Package state holds the per-connection dashboard state: pins, multi-select
// sets and the persisted key-value store they are saved to.
package state

import "encoding/json"

// Set is a toggle set that remembers insertion order.
// It is not safe for concurrent use.
type Set[K comparable] struct {
	index map[K]int
	items []K
}

// NewSet returns a set holding items, duplicates dropped
func NewSet[K comparable](items ...K) *Set[K] {
	s := &Set[K]{}
	for _, item := range items {
		s.Add(item)
	}
	return s
}

// Add inserts item; it reports whether the set changed
func (s *Set[K]) Add(item K) bool {
	if s.index == nil {
		s.index = make(map[K]int)
	}
	if _, ok := s.index[item]; ok {
		return false
	}
	s.index[item] = len(s.items)
	s.items = append(s.items, item)
	return true
}

// Remove deletes item; it reports whether the set changed
func (s *Set[K]) Remove(item K) bool {
	i, ok := s.index[item]
	if !ok {
		return false
	}
	delete(s.index, item)
	s.items = append(s.items[:i], s.items[i+1:]...)
	for j := i; j < len(s.items); j++ {
		s.index[s.items[j]] = j
	}
	return true
}

// Toggle removes item when present and adds it otherwise.
// It returns true when item is in the set afterwards.
func (s *Set[K]) Toggle(item K) bool {
	if s.Remove(item) {
		return false
	}
	s.Add(item)
	return true
}

// Has reports whether item is in the set
func (s *Set[K]) Has(item K) bool {
	_, ok := s.index[item]
	return ok
}

// SelectAll adds every visible item (set union)
func (s *Set[K]) SelectAll(visible []K) {
	for _, item := range visible {
		s.Add(item)
	}
}

// Clear empties the set
func (s *Set[K]) Clear() {
	s.index = nil
	s.items = nil
}

// Len returns the number of items
func (s *Set[K]) Len() int {
	return len(s.items)
}

// Items returns a copy of the items in insertion order
func (s *Set[K]) Items() []K {
	out := make([]K, len(s.items))
	copy(out, s.items)
	return out
}

// AllSelected reports whether every visible item is in the set.
// An empty view is never fully selected.
func (s *Set[K]) AllSelected(visible []K) bool {
	if len(visible) == 0 {
		return false
	}
	for _, item := range visible {
		if !s.Has(item) {
			return false
		}
	}
	return true
}

// SomeSelected reports whether at least one visible item is in the set
func (s *Set[K]) SomeSelected(visible []K) bool {
	for _, item := range visible {
		if s.Has(item) {
			return true
		}
	}
	return false
}

// MarshalJSON encodes the set as an array in insertion order
func (s *Set[K]) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Items())
}

// UnmarshalJSON replaces the set with the decoded array
func (s *Set[K]) UnmarshalJSON(data []byte) error {
	var items []K
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	s.Clear()
	for _, item := range items {
		s.Add(item)
	}
	return nil
}

// Ordered returns all with the pinned entries first (in pin order), followed
// by the remaining entries in their original order. Pins that are not in all
// are skipped.
func Ordered[K comparable](all []K, pinned *Set[K]) []K {
	if pinned == nil {
		pinned = NewSet[K]()
	}
	present := make(map[K]bool, len(all))
	for _, item := range all {
		present[item] = true
	}

	out := make([]K, 0, len(all))
	for _, item := range pinned.Items() {
		if present[item] {
			out = append(out, item)
		}
	}
	for _, item := range all {
		if !pinned.Has(item) {
			out = append(out, item)
		}
	}
	return out
}
