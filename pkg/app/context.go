package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"
)

// Context holds application-wide configuration and state
type Context struct {
	context.Context

	// Output preferences
	OutputFormat string
	Verbose      bool
	Quiet        bool

	// Out receives command results, ErrOut receives messages
	Out    io.Writer
	ErrOut io.Writer

	// Common timeouts
	DefaultTimeout time.Duration

	// Progress reporting
	ProgressCallback func(update ProgressUpdate)
}

// NewContext creates a new application context writing to stdout and stderr
func NewContext() *Context {
	return &Context{
		Context:        context.Background(),
		OutputFormat:   "table",
		Out:            os.Stdout,
		ErrOut:         os.Stderr,
		DefaultTimeout: 30 * time.Second,
	}
}

// WithTimeout creates a context with timeout
func (c *Context) WithTimeout(timeout time.Duration) (*Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(c.Context, timeout)
	newCtx := *c
	newCtx.Context = ctx
	return &newCtx, cancel
}

// WithCancel creates a cancellable context
func (c *Context) WithCancel() (*Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(c.Context)
	newCtx := *c
	newCtx.Context = ctx
	return &newCtx, cancel
}

// SetProgress sets the progress callback function
func (c *Context) SetProgress(callback func(ProgressUpdate)) {
	c.ProgressCallback = callback
}

// Progress reports progress if callback is set
func (c *Context) Progress(update ProgressUpdate) {
	if c.ProgressCallback != nil {
		c.ProgressCallback(update)
	}
}

// Log outputs a message based on verbosity settings
func (c *Context) Log(format string, args ...interface{}) {
	if !c.Quiet && c.Verbose {
		fmt.Fprintf(c.ErrOut, format+"\n", args...)
	}
}

// Info outputs a message unless quiet
func (c *Context) Info(format string, args ...interface{}) {
	if !c.Quiet {
		fmt.Fprintf(c.ErrOut, format+"\n", args...)
	}
}

// Error outputs an error message unless quiet
func (c *Context) Error(message string) {
	if !c.Quiet {
		fmt.Fprintln(c.ErrOut, "Error:", message)
	}
}
