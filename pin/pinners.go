package pin

import (
	"fmt"
	"sync"
)

// Pinners holds the coordinators for each configured pinning service,
// keyed by service name.
type Pinners struct {
	mu           sync.Mutex
	order        []string
	coordinators map[string]*Coordinator
}

// Add registers a coordinator under its service name. Registering the same
// name twice is an error.
func (p *Pinners) Add(c *Coordinator) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	name := c.Service()
	if _, ok := p.coordinators[name]; ok {
		return fmt.Errorf("pinning service %q already added", name)
	}
	p.coordinators[name] = c
	p.order = append(p.order, name)
	return nil
}

// Get returns the coordinator for the named service. An empty name returns
// the first registered service.
func (p *Pinners) Get(name string) (*Coordinator, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if name == "" {
		if len(p.order) == 0 {
			return nil, fmt.Errorf("no pinning services configured")
		}
		name = p.order[0]
	}
	c, ok := p.coordinators[name]
	if !ok {
		return nil, fmt.Errorf("unknown pinning service %q", name)
	}
	return c, nil
}

// Names returns the registered service names in the order they were added.
func (p *Pinners) Names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.order...)
}

// NewPinners returns an empty set of coordinators.
func NewPinners() *Pinners {
	return &Pinners{
		coordinators: make(map[string]*Coordinator),
	}
}
