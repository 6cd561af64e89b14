package websocket

import (
	"sort"
	"sync"

	"github.com/wailbentafat/foxglove-hub/protocol"
)

// ParameterStore is the process-wide name → value map offered to clients.
type ParameterStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewParameterStore returns an empty store.
func NewParameterStore() *ParameterStore {
	return &ParameterStore{values: make(map[string]string)}
}

func (p *ParameterStore) Get(name string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.values[name]
	return v, ok
}

func (p *ParameterStore) Set(name, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[name] = value
}

// SetAll writes every entry of values, keeping parameters not mentioned.
func (p *ParameterStore) SetAll(values map[string]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, v := range values {
		p.values[k] = v
	}
}

// Replace swaps the whole content of the store for values.
func (p *ParameterStore) Replace(values map[string]string) {
	next := make(map[string]string, len(values))
	for k, v := range values {
		next[k] = v
	}
	p.mu.Lock()
	p.values = next
	p.mu.Unlock()
}

func (p *ParameterStore) Delete(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.values, name)
}

func (p *ParameterStore) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.values)
}

// Snapshot returns every parameter, sorted by name.
func (p *ParameterStore) Snapshot() []protocol.Parameter {
	p.mu.RLock()
	out := make([]protocol.Parameter, 0, len(p.values))
	for k, v := range p.values {
		out = append(out, protocol.Parameter{Name: k, Value: v})
	}
	p.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup returns the requested parameters that exist, in request order.
// An empty request returns the full snapshot.
func (p *ParameterStore) Lookup(names []string) []protocol.Parameter {
	if len(names) == 0 {
		return p.Snapshot()
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]protocol.Parameter, 0, len(names))
	for _, name := range names {
		if v, ok := p.values[name]; ok {
			out = append(out, protocol.Parameter{Name: name, Value: v})
		}
	}
	return out
}
