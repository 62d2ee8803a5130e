// Package registry maps IRC names to entities by their casefolded form.
package registry

import "sort"

// Record is a registry entry: the most recently seen spelling of the name
// and the entity registered under it.
type Record[T any] struct {
	Name  string
	Value T
}

// Registry holds at most one entity per folded name. It is not safe for
// concurrent use; the owner is expected to serialise access.
type Registry[T any] struct {
	fold    func(string) string
	records map[string]*Record[T]
}

// New returns an empty registry keyed by fold.
func New[T any](fold func(string) string) *Registry[T] {
	return &Registry[T]{
		fold:    fold,
		records: make(map[string]*Record[T]),
	}
}

// Key returns the folded key of name.
func (r *Registry[T]) Key(name string) string {
	return r.fold(name)
}

// Upsert records name. If an entity is already registered under the same
// folded key its display name is updated and it is returned; otherwise
// create is called once to build a new one.
func (r *Registry[T]) Upsert(name string, create func(key string) T) (string, T) {
	key := r.fold(name)
	if rec, ok := r.records[key]; ok {
		rec.Name = name
		return key, rec.Value
	}

	rec := &Record[T]{Name: name, Value: create(key)}
	r.records[key] = rec
	return key, rec.Value
}

// Resolve looks up a folded key.
func (r *Registry[T]) Resolve(key string) (Record[T], bool) {
	rec, ok := r.records[key]
	if !ok {
		return Record[T]{}, false
	}
	return *rec, true
}

// Lookup folds name and looks it up.
func (r *Registry[T]) Lookup(name string) (Record[T], bool) {
	return r.Resolve(r.fold(name))
}

// Remove evicts the entry for name, which may be a raw name or a key.
func (r *Registry[T]) Remove(name string) {
	delete(r.records, r.fold(name))
}

// Rename moves the entity registered as from to the name to. It reports
// false if from is unknown. An entity already registered as to is
// replaced.
func (r *Registry[T]) Rename(from, to string) bool {
	oldKey := r.fold(from)
	rec, ok := r.records[oldKey]
	if !ok {
		return false
	}
	delete(r.records, oldKey)
	rec.Name = to
	r.records[r.fold(to)] = rec
	return true
}

// Refold re-keys every entry with a new fold function. Entries whose keys
// collide under the new function are merged, the one iterated last wins.
func (r *Registry[T]) Refold(fold func(string) string) {
	r.fold = fold
	records := make(map[string]*Record[T], len(r.records))
	for _, rec := range r.records {
		key := fold(rec.Name)
		if _, dup := records[key]; dup {
			duplicateKey(key)
		}
		records[key] = rec
	}
	r.records = records
}

func (r *Registry[T]) Len() int {
	return len(r.records)
}

// Keys returns the folded keys, sorted.
func (r *Registry[T]) Keys() []string {
	keys := make([]string, 0, len(r.records))
	for k := range r.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Each calls fn for every entry in key order.
func (r *Registry[T]) Each(fn func(key string, rec Record[T])) {
	for _, k := range r.Keys() {
		fn(k, *r.records[k])
	}
}
