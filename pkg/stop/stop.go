// Package stop tears down a node's auxiliary components in registration
// order. node.Node registers its metrics server first (when configured)
// and its listener second, so Node.Stop closes the metrics endpoint
// before the listener it instruments stops accepting — tearing them down
// concurrently (as a generic fan-in would) can report a stale "still
// serving" metrics scrape for a listener that has already gone away.
package stop

import "sync"

// Stopper is anything with a clean-shutdown hook.
type Stopper interface {
	// Stop returns a channel that indicates whether the stop was
	// successful.
	//
	// The channel can either return one error or be closed. Closing the
	// channel signals a clean shutdown. Stop should return immediately
	// and perform the actual shutdown in a separate goroutine.
	Stop() <-chan error
}

// Func adapts a plain shutdown closure to Stopper.
type Func func() <-chan error

// Group is an ordered set of Stoppers torn down one at a time.
type Group struct {
	mu         sync.Mutex
	stoppables []Func
}

// NewGroup allocates an empty Group.
func NewGroup() *Group {
	return &Group{
		stoppables: make([]Func, 0),
	}
}

// Add registers a Stopper with the Group, after anything already
// registered.
func (g *Group) Add(toAdd Stopper) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.stoppables = append(g.stoppables, toAdd.Stop)
}

// AddFunc registers a shutdown closure with the Group, after anything
// already registered.
func (g *Group) AddFunc(toAddFunc Func) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.stoppables = append(g.stoppables, toAddFunc)
}

// Stop invokes each registered Stopper in registration order, waiting for
// one to finish before starting the next, and returns every non-nil error
// reported along the way. Shutdown is sequential rather than concurrent
// so it gets the same strict ordering the node's other state mutations
// get while it is running.
func (g *Group) Stop() []error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var errs []error
	for _, toStop := range g.stoppables {
		waitFor := toStop()
		if waitFor == nil {
			panic("stop: Stopper returned a nil channel")
		}
		if err := <-waitFor; err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
