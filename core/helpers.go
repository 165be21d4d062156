package orchestration

import (
	"context"
	"fmt"
)

type workerRun func(context.Context) error

// panicSafeNamedWorker turns a panic in run into an error.
func panicSafeNamedWorker(name string, run func(context.Context) error) workerRun {
	return func(ctx context.Context) (err error) {
		defer func() {
			if recovered := recover(); recovered != nil {
				err = fmt.Errorf("%s worker panicked: %v", name, recovered)
			}
		}()

		return run(ctx)
	}
}
