package framework

import (
	"context"
	"time"
)

// Named is an abstraction for things with a name.
type Named interface {
	Name() string
}

// Runnable defines a generic interface for background runners.
type Runnable interface {
	Run(context.Context) error
}

// Message is anything posted to the loop for a controller to consume.
type Message interface{}

// Controller runs once per loop iteration.
type Controller interface {
	Control(ControlContext) error
}

// ControlFunc is the func form of Controller.
type ControlFunc func(ControlContext) error

// Control implements Controller.
func (f ControlFunc) Control(cc ControlContext) error {
	return f(cc)
}

// ControlContext is the context of one iteration.
type ControlContext interface {
	// Context is canceled when the loop stops.
	Context() context.Context
	// Time is when the iteration started.
	Time() time.Time
	// PriorityLevel is the level of the running controller.
	PriorityLevel() int
	// TakeMessages removes the messages accepted by fn from this
	// iteration and returns them in posting order. Messages nobody takes
	// are dropped at the end of the iteration.
	TakeMessages(fn func(Message) bool) []Message

	LoopControl
}

// LoopControl exposes access to the loop from anywhere.
type LoopControl interface {
	// PostMessage enqueues a message for the next iteration.
	PostMessage(Message)
	// TriggerNext runs the next iteration without waiting for the interval.
	TriggerNext()
}

// Priority levels. Controllers run level by level in each iteration.
const (
	// PrLvCommand runs requested operations first.
	PrLvCommand int = iota
	// PrLvSense reads the device.
	PrLvSense
	// PrLvReport hands readings to consumers.
	PrLvReport

	PriorityLevels
)
