package framework

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAggregatedError(t *testing.T) {
	var errs AggregatedError
	require.NoError(t, errs.Add(nil, nil).Aggregate())

	first, second := errors.New("first"), errors.New("second")
	errs.Add(first)
	require.Equal(t, "first", errs.Aggregate().Error())
	errs.Add(nil, second)
	err := errs.Aggregate()
	require.ErrorIs(t, err, first)
	require.ErrorIs(t, err, second)
	require.Contains(t, err.Error(), "multiple errors:")
}

type recordCtl struct {
	name  string
	lock  *sync.Mutex
	trace *[]string
	take  func(Message) bool
}

func (c *recordCtl) Control(cc ControlContext) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	*c.trace = append(*c.trace, c.name)
	if c.take != nil {
		for _, msg := range cc.TakeMessages(c.take) {
			*c.trace = append(*c.trace, c.name+":"+msg.(string))
		}
	}
	return nil
}

func TestLoopIteration(t *testing.T) {
	var (
		lock  sync.Mutex
		trace []string
	)
	snapshot := func() []string {
		lock.Lock()
		defer lock.Unlock()
		return append([]string(nil), trace...)
	}

	l := NewLoop(time.Hour)
	l.AddController(PrLvReport, &recordCtl{name: "report", lock: &lock, trace: &trace,
		take: func(Message) bool { return true }})
	l.AddController(PrLvCommand, &recordCtl{name: "cmd", lock: &lock, trace: &trace,
		take: func(m Message) bool { return m.(string) == "set" }})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	// the first iteration runs right away
	require.Eventually(t, func() bool { return len(snapshot()) == 2 }, time.Second, time.Millisecond)
	require.Equal(t, []string{"cmd", "report"}, snapshot())

	l.PostMessage("get")
	l.PostMessage("set")
	l.TriggerNext()
	require.Eventually(t, func() bool { return len(snapshot()) == 6 }, time.Second, time.Millisecond)
	require.Equal(t, []string{"cmd", "report", "cmd", "cmd:set", "report", "report:get"}, snapshot())

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestRunnerCollectsErrors(t *testing.T) {
	boom := errors.New("boom")
	r := NewRunner()
	r.Go(
		NamedRun("fail", RunFunc(func(context.Context) error { return boom })),
		RunFunc(func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}),
	)
	err := r.Wait()
	require.ErrorIs(t, err, boom)
	require.Contains(t, err.Error(), "fail")
}

func TestRunnerStop(t *testing.T) {
	r := NewRunner()
	r.Go(RunFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	r.Stop()
	require.NoError(t, r.Wait())
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestRunWithContextCloser(t *testing.T) {
	stopCh := make(chan struct{})
	var closes int
	closer := closerFunc(func() error {
		closes++
		close(stopCh)
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := RunWithContextCloser(ctx, closer, func() error {
		<-stopCh
		return io.EOF
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, closes)

	closes = 0
	stopCh = make(chan struct{})
	err = RunWithContextCloser(context.Background(), closer, func() error { return io.EOF })
	require.ErrorIs(t, err, io.EOF)
	require.Equal(t, 1, closes)
}
