package job

import "context"

// Definition pairs a task name with a typed handler. The payload type T
// is JSON-bound at execution time.
type Definition[T any] struct {
	// Name is the task name jobs reference.
	Name string

	// Handler executes the task. The returned value is carried on the
	// executed event; for subprocess execution it must round-trip JSON.
	Handler func(ctx context.Context, payload T) (any, error)
}

// NewDefinition creates a typed task definition.
func NewDefinition[T any](name string, handler func(ctx context.Context, payload T) (any, error)) *Definition[T] {
	return &Definition[T]{Name: name, Handler: handler}
}
