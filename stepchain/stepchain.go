// Package stepchain runs a sequence of named steps, stopping at the first
// one that fails, for multi-stage operations like Close where each stage
// should be reported by name rather than a bare error.
package stepchain

import "fmt"

// Chain accumulates the first failure from a sequence of Then calls.
type Chain struct {
	err error
}

// New starts an empty chain.
func New() *Chain {
	return new(Chain)
}

// Then runs step unless an earlier step in this chain has already failed.
// A failing step's error is wrapped with name, so the caller can tell which
// stage of a multi-step Close failed.
func (c *Chain) Then(name string, step func() error) *Chain {
	if c.err != nil {
		return c
	}
	if err := step(); err != nil {
		c.err = fmt.Errorf("%s: %w", name, err)
	}
	return c
}

// Err returns the wrapped error from the first failed step, or nil if every
// step so far has succeeded.
func (c *Chain) Err() error {
	return c.err
}
