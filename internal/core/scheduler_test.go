package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingEvaluator struct {
	mu       sync.Mutex
	triggers []Trigger
	calls    chan Trigger
	block    chan struct{}
}

func newRecordingEvaluator(block bool) *recordingEvaluator {
	e := &recordingEvaluator{calls: make(chan Trigger, 64)}
	if block {
		e.block = make(chan struct{})
	}
	return e
}

func (e *recordingEvaluator) Evaluate(ctx context.Context, trigger Trigger) {
	e.mu.Lock()
	e.triggers = append(e.triggers, trigger)
	e.mu.Unlock()
	e.calls <- trigger
	if e.block != nil {
		select {
		case <-e.block:
		case <-ctx.Done():
		}
	}
}

func (e *recordingEvaluator) seen() []Trigger {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Trigger(nil), e.triggers...)
}

func waitTrigger(t *testing.T, ch <-chan Trigger) Trigger {
	t.Helper()
	select {
	case tr := <-ch:
		return tr
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for evaluation")
		return ""
	}
}

func TestSchedulerFiresImmediately(t *testing.T) {
	eval := newRecordingEvaluator(false)
	s := NewScheduler(eval, zap.NewNop(), time.Hour, time.Hour)
	s.Start(context.Background())
	defer s.Stop()

	assert.Equal(t, TriggerInitial, waitTrigger(t, eval.calls))
}

func TestSchedulerPeriodicTicks(t *testing.T) {
	eval := newRecordingEvaluator(false)
	s := NewScheduler(eval, zap.NewNop(), 20*time.Millisecond, time.Hour)
	s.Start(context.Background())
	defer s.Stop()

	assert.Equal(t, TriggerInitial, waitTrigger(t, eval.calls))
	assert.Equal(t, TriggerPeriodic, waitTrigger(t, eval.calls))
}

func TestSchedulerRemeasureTicks(t *testing.T) {
	eval := newRecordingEvaluator(false)
	s := NewScheduler(eval, zap.NewNop(), time.Hour, 20*time.Millisecond)
	s.Start(context.Background())
	defer s.Stop()

	waitTrigger(t, eval.calls)
	assert.Equal(t, TriggerRemeasure, waitTrigger(t, eval.calls))
}

func TestSchedulerDropsTicksWhileMeasuring(t *testing.T) {
	eval := newRecordingEvaluator(true)
	s := NewScheduler(eval, zap.NewNop(), 5*time.Millisecond, time.Hour)
	s.Start(context.Background())

	waitTrigger(t, eval.calls)
	require.Equal(t, StateMeasuring, s.State())

	assert.False(t, s.TriggerNow(context.Background()), "manual trigger respects the in-flight guard")

	require.Eventually(t, func() bool { return s.Dropped() >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, eval.seen(), 1, "dropped ticks are not deferred")

	s.Stop()
	assert.Equal(t, StateIdle, s.State())
}

func TestSchedulerTriggerNow(t *testing.T) {
	eval := newRecordingEvaluator(false)
	s := NewScheduler(eval, zap.NewNop(), time.Hour, time.Hour)

	assert.True(t, s.TriggerNow(context.Background()))
	assert.Equal(t, TriggerManual, waitTrigger(t, eval.calls))
	assert.Equal(t, StateIdle, s.State())
}

func TestSchedulerStopCancelsInFlight(t *testing.T) {
	eval := newRecordingEvaluator(true)
	s := NewScheduler(eval, zap.NewNop(), time.Hour, time.Hour)
	s.Start(context.Background())
	waitTrigger(t, eval.calls)

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	s.Stop()
}

func TestSchedulerStopCancelsTriggerNow(t *testing.T) {
	eval := newRecordingEvaluator(true)
	s := NewScheduler(eval, zap.NewNop(), time.Hour, time.Hour)

	ran := make(chan bool, 1)
	go func() { ran <- s.TriggerNow(context.Background()) }()
	assert.Equal(t, TriggerManual, waitTrigger(t, eval.calls))

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not cancel the manual evaluation")
	}
	assert.True(t, <-ran)
	assert.Equal(t, StateIdle, s.State())

	assert.False(t, s.TriggerNow(context.Background()))
	assert.Len(t, eval.seen(), 1)
}

func TestSchedulerStartAfterStop(t *testing.T) {
	eval := newRecordingEvaluator(false)
	s := NewScheduler(eval, zap.NewNop(), time.Hour, time.Hour)
	s.Stop()
	s.Start(context.Background())

	assert.Empty(t, eval.seen())
}

func TestSchedulerStateString(t *testing.T) {
	assert.Equal(t, "IDLE", StateIdle.String())
	assert.Equal(t, "MEASURING", StateMeasuring.String())
}
