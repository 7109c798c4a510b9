package panicerr

import (
	"context"

	"github.com/sourcegraph/conc/panics"
)

// Safe wraps fn so that a panic inside it is returned as an error instead of
// taking down the process.
func Safe(fn func() error) func() error {
	return func() error {
		var err error
		recovered := panics.Try(func() {
			err = fn()
		})
		if err != nil {
			return err
		}
		return recovered.AsError()
	}
}

// SafeContext is Safe for functions taking a context.
func SafeContext(fn func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		var err error
		recovered := panics.Try(func() {
			err = fn(ctx)
		})
		if err != nil {
			return err
		}
		return recovered.AsError()
	}
}
