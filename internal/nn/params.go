package nn

import (
	"github.com/samcharles93/dit/internal/tensor"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Params is an ordered registry of named parameter tensors. Tensors are
// registered by reference, so mutating a registered tensor mutates the layer
// that owns it.
type Params struct {
	m *orderedmap.OrderedMap[string, *tensor.Tensor]
}

// NewParams returns an empty registry.
func NewParams() *Params {
	return &Params{m: orderedmap.New[string, *tensor.Tensor]()}
}

// Add registers t under name, replacing any previous entry.
func (p *Params) Add(name string, t *tensor.Tensor) {
	p.m.Set(name, t)
}

// Get looks up a tensor by name.
func (p *Params) Get(name string) (*tensor.Tensor, bool) {
	return p.m.Get(name)
}

// Len returns the number of registered tensors.
func (p *Params) Len() int { return p.m.Len() }

// Count returns the total number of scalar parameters.
func (p *Params) Count() int {
	n := 0
	for pair := p.m.Oldest(); pair != nil; pair = pair.Next() {
		n += pair.Value.Numel()
	}
	return n
}

// Each visits every tensor in registration order.
func (p *Params) Each(fn func(name string, t *tensor.Tensor)) {
	for pair := p.m.Oldest(); pair != nil; pair = pair.Next() {
		fn(pair.Key, pair.Value)
	}
}

// Names returns the registered names in order.
func (p *Params) Names() []string {
	names := make([]string, 0, p.m.Len())
	for pair := p.m.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

// RoundTrip rounds every parameter to the precision of d in place.
func (p *Params) RoundTrip(d tensor.DType) {
	if d == tensor.DTypeF32 {
		return
	}
	p.Each(func(_ string, t *tensor.Tensor) {
		tensor.RoundTrip(t.Data, d)
	})
}

func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
