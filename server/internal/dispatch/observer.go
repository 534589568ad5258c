package dispatch

import (
	"context"
	"fmt"

	"github.com/relicwatch/relicwatch/pkg/types"
)

// Observer receives every reading the Subject dispatches.
type Observer interface {
	Name() string
	OnReading(ctx context.Context, r types.Reading) error
}

type funcObserver struct {
	name string
	fn   func(context.Context, types.Reading) error
}

func (o *funcObserver) Name() string { return o.name }

func (o *funcObserver) OnReading(ctx context.Context, r types.Reading) error {
	return o.fn(ctx, r)
}

// ObserverFunc adapts fn to the Observer interface. Each call returns a
// distinct Observer, so the result can be passed to Unregister.
func ObserverFunc(name string, fn func(context.Context, types.Reading) error) Observer {
	return &funcObserver{name: name, fn: fn}
}

// ObserverError records one failed delivery.
type ObserverError struct {
	Observer string
	SensorID string
	Err      error
}

func (e *ObserverError) Error() string {
	return fmt.Sprintf("observer %s: sensor %s: %v", e.Observer, e.SensorID, e.Err)
}

func (e *ObserverError) Unwrap() error { return e.Err }

// PanicError wraps a value recovered from a panicking observer.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }
