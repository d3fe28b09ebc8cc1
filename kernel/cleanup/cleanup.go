// Package cleanup collects undo actions for a multi-step operation so that a
// failure at any step unwinds exactly the steps that completed.
package cleanup

// Cleanup holds undo functions that run in reverse registration order when
// Clean is called, unless ownership was handed over with Release.
type Cleanup struct {
	cleaners []func()
}

// Make returns a Cleanup whose first undo function is f. A nil f yields an
// empty Cleanup.
func Make(f func()) Cleanup {
	var c Cleanup
	c.Add(f)
	return c
}

// Add registers f to run on Clean. Functions added later run first.
func (c *Cleanup) Add(f func()) {
	if f == nil {
		return
	}
	c.cleaners = append(c.cleaners, f)
}

// Len returns the number of registered undo functions.
func (c *Cleanup) Len() int {
	return len(c.cleaners)
}

// Clean runs every registered undo function, newest first, and empties the
// list. Calling Clean after Release is a no-op.
func (c *Cleanup) Clean() {
	for i := len(c.cleaners) - 1; i >= 0; i-- {
		c.cleaners[i]()
	}
	c.cleaners = nil
}

// Release empties the list without running anything and returns a function
// that performs the released cleanup when invoked.
func (c *Cleanup) Release() func() {
	old := c.cleaners
	c.cleaners = nil
	return func() {
		for i := len(old) - 1; i >= 0; i-- {
			old[i]()
		}
	}
}
