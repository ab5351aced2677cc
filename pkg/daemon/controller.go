package daemon

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/minghe.go/pkg/framework"
	"github.com/robotalks/minghe.go/pkg/minghe"
)

// ErrNotRunning is returned when the loop stopped before a request ran.
var ErrNotRunning = errors.New("controller not running")

// Op is an operation on the converter executed inside the loop.
type Op func(conv *minghe.Converter) (interface{}, error)

type opResult struct {
	value interface{}
	err   error
}

type opMsg struct {
	ctx    context.Context
	op     Op
	result chan opResult
}

// StatusSink receives each polled status.
type StatusSink interface {
	ObserveStatus(s *minghe.Status, err error, at time.Time)
}

// StatusSinkFunc is the func form of StatusSink.
type StatusSinkFunc func(s *minghe.Status, err error, at time.Time)

// ObserveStatus implements StatusSink.
func (f StatusSinkFunc) ObserveStatus(s *minghe.Status, err error, at time.Time) {
	f(s, err, at)
}

// Snapshot is the latest polled status.
type Snapshot struct {
	Status *minghe.Status
	Err    error
	Time   time.Time
}

// Controller owns the converter. It polls the status at
// framework.PrLvSense and runs posted operations at
// framework.PrLvCommand, so only the loop goroutine touches the port.
type Controller struct {
	Converter *minghe.Converter
	Interval  time.Duration
	Sinks     []StatusSink

	loop *framework.Loop
	done chan struct{}

	lock     sync.RWMutex
	last     Snapshot
	lastPoll time.Time
	polled   *Snapshot
}

// NewController creates a Controller polling every interval.
func NewController(conv *minghe.Converter, interval time.Duration) *Controller {
	c := &Controller{Converter: conv, Interval: interval, done: make(chan struct{})}
	c.loop = framework.NewLoop(interval)
	c.loop.Add(c)
	return c
}

// AddToLoop implements framework.LoopAdder.
func (c *Controller) AddToLoop(l *framework.Loop) {
	l.AddController(framework.PrLvCommand, framework.ControlFunc(c.runOps))
	l.AddController(framework.PrLvSense, framework.ControlFunc(c.poll))
	l.AddController(framework.PrLvReport, framework.ControlFunc(c.report))
}

// Name implements framework.Named.
func (c *Controller) Name() string {
	return "controller"
}

// Run implements framework.Runnable.
// It must be called only once.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.done)
	return c.loop.Run(ctx)
}

// Do runs op inside the loop and waits for the result.
// Once ctx is done op is never run, so an error from ctx means the device
// was not touched.
func (c *Controller) Do(ctx context.Context, op Op) (interface{}, error) {
	msg := &opMsg{ctx: ctx, op: op, result: make(chan opResult, 1)}
	c.loop.PostMessage(msg)
	c.loop.TriggerNext()
	select {
	case r := <-msg.result:
		return r.value, r.err
	case <-c.done:
		return nil, ErrNotRunning
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Get reads an attribute by name.
func (c *Controller) Get(ctx context.Context, name string) (uint32, error) {
	v, err := c.Do(ctx, func(conv *minghe.Converter) (interface{}, error) {
		return conv.Get(name)
	})
	if err != nil {
		return 0, err
	}
	return v.(uint32), nil
}

// Set writes an attribute by name.
func (c *Controller) Set(ctx context.Context, name string, value uint32) error {
	_, err := c.Do(ctx, func(conv *minghe.Converter) (interface{}, error) {
		return nil, conv.Set(name, value)
	})
	return err
}

// Last returns the latest polled status.
func (c *Controller) Last() Snapshot {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.last
}

func (c *Controller) runOps(cc framework.ControlContext) error {
	msgs := cc.TakeMessages(func(m framework.Message) bool {
		_, ok := m.(*opMsg)
		return ok
	})
	for _, m := range msgs {
		msg := m.(*opMsg)
		var r opResult
		if r.err = msg.ctx.Err(); r.err == nil {
			r.value, r.err = msg.op(c.Converter)
		}
		msg.result <- r
	}
	if len(msgs) > 0 {
		// Reflect writes on the next poll.
		c.lastPoll = time.Time{}
	}
	return nil
}

func (c *Controller) poll(cc framework.ControlContext) error {
	now := cc.Time()
	if !c.lastPoll.IsZero() && now.Sub(c.lastPoll) < c.Interval*9/10 {
		return nil
	}
	c.lastPoll = now
	s, err := c.Converter.Status()
	if err != nil {
		glog.V(1).Infof("poll: %v", err)
	}
	snap := Snapshot{Status: s, Err: err, Time: now}
	c.lock.Lock()
	c.last = snap
	c.lock.Unlock()
	c.polled = &snap
	return nil
}

func (c *Controller) report(cc framework.ControlContext) error {
	snap := c.polled
	if snap == nil {
		return nil
	}
	c.polled = nil
	for _, sink := range c.Sinks {
		sink.ObserveStatus(snap.Status, snap.Err, snap.Time)
	}
	return nil
}
