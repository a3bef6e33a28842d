// Package container is a small named-key dependency registry used to wire
// the supervisor's component graph at boot. Unlike a type-keyed injector
// (dig, fx), components here are registered and resolved by string name,
// matching the abstract Container contract's "named-registry" shape.
package container

import (
	"fmt"
	"sync"

	"github.com/dean0x/claudine-sub000/internal/errs"
)

// Factory builds a component, given access to the container so it can pull
// its own dependencies by name.
type Factory func(c *Container) (any, error)

// Container is a named singleton/transient component registry.
type Container struct {
	mu sync.Mutex

	factories map[string]Factory
	transient map[string]bool
	instances map[string]any
	building  map[string]bool // cycle guard during resolution
}

// New creates an empty container.
func New() *Container {
	return &Container{
		factories: make(map[string]Factory),
		transient: make(map[string]bool),
		instances: make(map[string]any),
		building:  make(map[string]bool),
	}
}

// RegisterSingleton registers a factory whose result is built once and
// memoized for every subsequent Resolve call.
func (c *Container) RegisterSingleton(name string, f Factory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factories[name] = f
}

// RegisterTransient registers a factory invoked fresh on every Resolve call.
func (c *Container) RegisterTransient(name string, f Factory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factories[name] = f
	c.transient[name] = true
}

// Resolve builds (or returns the memoized) instance registered under name.
func (c *Container) Resolve(name string) (any, error) {
	c.mu.Lock()
	if inst, ok := c.instances[name]; ok {
		c.mu.Unlock()
		return inst, nil
	}
	factory, ok := c.factories[name]
	if !ok {
		c.mu.Unlock()
		return nil, errs.New(errs.DependencyInjectionFailed, "no factory registered").
			WithContext(map[string]any{"name": name})
	}
	if c.building[name] {
		c.mu.Unlock()
		return nil, errs.New(errs.DependencyInjectionFailed, "cyclic dependency detected").
			WithContext(map[string]any{"name": name})
	}
	c.building[name] = true
	transient := c.transient[name]
	c.mu.Unlock()

	inst, err := factory(c)

	c.mu.Lock()
	delete(c.building, name)
	c.mu.Unlock()

	if err != nil {
		return nil, errs.Wrap(errs.DependencyInjectionFailed, fmt.Sprintf("factory for %q failed", name), err)
	}

	if !transient {
		c.mu.Lock()
		c.instances[name] = inst
		c.mu.Unlock()
	}

	return inst, nil
}

// MustResolve panics if Resolve fails; reserved for boot-time wiring where a
// missing/broken component should abort startup immediately.
func (c *Container) MustResolve(name string) any {
	inst, err := c.Resolve(name)
	if err != nil {
		panic(err)
	}
	return inst
}

// Has reports whether a factory is registered under name.
func (c *Container) Has(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.factories[name]
	return ok
}
