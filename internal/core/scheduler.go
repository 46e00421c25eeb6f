package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Default reevaluation periods.
const (
	DefaultCheckInterval     = 4 * time.Minute
	DefaultRemeasureInterval = 5 * time.Minute
)

// Trigger says why an evaluation ran.
type Trigger string

const (
	// TriggerInitial fires once when the scheduler starts.
	TriggerInitial Trigger = "initial"
	// TriggerPeriodic is the mode-suggestion check. Only this trigger may raise suggestions.
	TriggerPeriodic Trigger = "periodic"
	// TriggerRemeasure refreshes the bandwidth level without suggesting.
	TriggerRemeasure Trigger = "remeasure"
	// TriggerManual is an on-demand recheck.
	TriggerManual Trigger = "manual"
)

// Evaluator runs one measure-classify-resolve cycle.
type Evaluator interface {
	Evaluate(ctx context.Context, trigger Trigger)
}

// SchedulerState is the in-flight guard.
type SchedulerState int32

const (
	StateIdle SchedulerState = iota
	StateMeasuring
)

func (s SchedulerState) String() string {
	if s == StateMeasuring {
		return "MEASURING"
	}
	return "IDLE"
}

// Scheduler drives periodic reevaluation. At most one evaluation runs at a
// time; a trigger that arrives while one is in flight is dropped.
type Scheduler struct {
	eval              Evaluator
	log               *zap.Logger
	checkInterval     time.Duration
	remeasureInterval time.Duration

	state   atomic.Int32
	dropped atomic.Int64

	ctx     context.Context
	cancel  context.CancelFunc
	life    context.Context
	kill    context.CancelFunc
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started atomic.Bool
	once    sync.Once

	// mu orders wg.Add against Stop's wg.Wait.
	mu      sync.Mutex
	stopped bool
}

// NewScheduler creates a scheduler. Non-positive intervals use the defaults.
func NewScheduler(eval Evaluator, logger *zap.Logger, checkInterval, remeasureInterval time.Duration) *Scheduler {
	if checkInterval <= 0 {
		checkInterval = DefaultCheckInterval
	}
	if remeasureInterval <= 0 {
		remeasureInterval = DefaultRemeasureInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	life, kill := context.WithCancel(context.Background())
	return &Scheduler{
		eval:              eval,
		log:               logger.With(zap.String("component", "scheduler")),
		checkInterval:     checkInterval,
		remeasureInterval: remeasureInterval,
		life:              life,
		kill:              kill,
		stopCh:            make(chan struct{}),
	}
}

// Start fires the initial evaluation and begins the periodic loop. The
// context bounds every evaluation; Stop cancels it.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || !s.started.CompareAndSwap(false, true) {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.run()
	s.log.Info("reevaluation scheduler started",
		zap.Duration("check_interval", s.checkInterval),
		zap.Duration("remeasure_interval", s.remeasureInterval))
}

// Stop cancels any in-flight evaluation, including one started by TriggerNow,
// and waits for it to return. Later triggers are rejected. It is safe to call
// more than once.
func (s *Scheduler) Stop() {
	s.once.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()

		close(s.stopCh)
		s.kill()
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
		s.log.Info("reevaluation scheduler stopped", zap.Int64("dropped_ticks", s.dropped.Load()))
	})
}

// State reports whether an evaluation is in flight.
func (s *Scheduler) State() SchedulerState {
	return SchedulerState(s.state.Load())
}

// Dropped returns how many triggers were skipped by the in-flight guard.
func (s *Scheduler) Dropped() int64 {
	return s.dropped.Load()
}

// TriggerNow runs a manual evaluation on the caller's goroutine. It returns
// false without doing anything if an evaluation is already in flight or the
// scheduler has been stopped. Stop cancels the evaluation's context.
func (s *Scheduler) TriggerNow(ctx context.Context) bool {
	return s.runGuarded(ctx, TriggerManual)
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	s.fire(TriggerInitial)

	check := time.NewTicker(s.checkInterval)
	defer check.Stop()
	remeasure := time.NewTicker(s.remeasureInterval)
	defer remeasure.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-s.ctx.Done():
			return
		case <-check.C:
			s.fire(TriggerPeriodic)
		case <-remeasure.C:
			s.fire(TriggerRemeasure)
		}
	}
}

// fire starts an evaluation in the background unless one is in flight.
func (s *Scheduler) fire(trigger Trigger) {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateMeasuring)) {
		s.drop(trigger)
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.state.Store(int32(StateIdle))
		s.evaluate(s.ctx, trigger)
	}()
}

func (s *Scheduler) runGuarded(ctx context.Context, trigger Trigger) bool {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.log.Debug("scheduler stopped, rejecting trigger", zap.String("trigger", string(trigger)))
		return false
	}
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateMeasuring)) {
		s.mu.Unlock()
		s.drop(trigger)
		return false
	}
	s.wg.Add(1)
	s.mu.Unlock()

	defer s.wg.Done()
	defer s.state.Store(int32(StateIdle))

	evalCtx, cancel := context.WithCancel(ctx)
	release := context.AfterFunc(s.life, cancel)
	defer func() {
		release()
		cancel()
	}()

	s.evaluate(evalCtx, trigger)
	return true
}

func (s *Scheduler) evaluate(ctx context.Context, trigger Trigger) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("evaluation panicked", zap.String("trigger", string(trigger)), zap.Any("panic", r))
		}
	}()

	start := time.Now()
	s.eval.Evaluate(ctx, trigger)
	s.log.Debug("evaluation finished",
		zap.String("trigger", string(trigger)),
		zap.Duration("took", time.Since(start)))
}

func (s *Scheduler) drop(trigger Trigger) {
	s.dropped.Add(1)
	s.log.Debug("evaluation already in flight, dropping trigger", zap.String("trigger", string(trigger)))
}
