package packet

import (
	"fmt"
	"slices"
	"sync"
)

// Built-in packet kinds every node understands.
var (
	// HDRPACK is a header-only packet used for acknowledgements and errors.
	HDRPACK = &Descriptor{ID: 0, Name: "HDRPACK", Tokens: 4}

	// VERSION carries the API version of a node.
	VERSION = &Descriptor{ID: 1, Name: "VERSION", Tokens: 8, Fields: []Field{
		{Name: "Major", Index: 4, Kind: KindUint},
		{Name: "Minor", Index: 5, Kind: KindUint},
		{Name: "Build", Index: 6, Kind: KindUint},
		{Name: "DevFlag", Index: 7, Kind: KindUint},
	}}
)

// Registry maps packet IDs and names to descriptors.
type Registry struct {
	mu     sync.RWMutex
	byID   map[int]*Descriptor
	byName map[string]*Descriptor
}

// NewRegistry builds a registry holding ds.
func NewRegistry(ds ...*Descriptor) (*Registry, error) {
	r := &Registry{byID: map[int]*Descriptor{}, byName: map[string]*Descriptor{}}
	for _, d := range ds {
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// DefaultRegistry holds the built-in catalog.
func DefaultRegistry() *Registry {
	r, _ := NewRegistry(HDRPACK, VERSION)
	return r
}

// Register adds d. IDs and names must be unique.
func (r *Registry) Register(d *Descriptor) error {
	if d == nil {
		return fmt.Errorf("nil descriptor")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.byID[d.ID]; ok {
		return fmt.Errorf("packet id %d already registered as %s", d.ID, prev.Name)
	}
	if _, ok := r.byName[d.Name]; ok {
		return fmt.Errorf("packet name %s already registered", d.Name)
	}
	r.byID[d.ID] = d
	r.byName[d.Name] = d
	return nil
}

func (r *Registry) ByID(id int) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byID[id]
	return d, ok
}

func (r *Registry) ByName(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[name]
	return d, ok
}

// Resolve identifies the packet held in v and returns v rebound to its
// descriptor.
func (r *Registry) Resolve(v View) (View, error) {
	if !v.Bound() {
		return v, ErrUnbound
	}
	if v.Mode() == ASCII {
		name := v.IDString()
		if d, ok := r.ByName(name); ok {
			return v.As(d), nil
		}
		return v, fmt.Errorf("%w: %q", ErrUnknownID, name)
	}
	id, err := Get[uint64](v.As(nil), IdxID)
	if err != nil {
		return v, err
	}
	if d, ok := r.ByID(int(id)); ok {
		return v.As(d), nil
	}
	return v, fmt.Errorf("%w: %d", ErrUnknownID, id)
}

// All returns the registered descriptors ordered by ID.
func (r *Registry) All() []*Descriptor {
	r.mu.RLock()
	out := make([]*Descriptor, 0, len(r.byID))
	for _, d := range r.byID {
		out = append(out, d)
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b *Descriptor) int { return a.ID - b.ID })
	return out
}
