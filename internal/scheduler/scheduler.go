// Package scheduler triggers monitor cycles on a fixed period without overlap.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const (
	defaultLockKey     = "cfwatch:monitor:cycle"
	lockReleaseTimeout = 5 * time.Second
	lockTTLMargin      = 30 * time.Second
)

type Runner interface {
	RunOneCycle(ctx context.Context)
}

type Options struct {
	Interval     time.Duration
	CycleTimeout time.Duration
	Locker       Locker
	LockKey      string
}

type Scheduler struct {
	runner Runner
	opts   Options
	logger *logrus.Entry
}

func New(runner Runner, opts Options) *Scheduler {
	if opts.Locker == nil {
		opts.Locker = NopLocker{}
	}
	if opts.LockKey == "" {
		opts.LockKey = defaultLockKey
	}
	return &Scheduler{
		runner: runner,
		opts:   opts,
		logger: logrus.WithField("component", "scheduler"),
	}
}

// Run starts a cycle right away and then every Interval, skipping ticks while a cycle is running.
// It blocks until ctx is done and the running cycle, which sees the same cancellation, returns.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.opts.Interval <= 0 {
		return fmt.Errorf("invalid interval %s", s.opts.Interval)
	}

	log := cronLogger{entry: s.logger}
	job := cron.NewChain(
		cron.Recover(log),
		cron.SkipIfStillRunning(log),
	).Then(cron.FuncJob(func() {
		s.RunOnce(ctx)
	}))

	c := cron.New(cron.WithLogger(log))
	c.Schedule(cron.Every(s.opts.Interval), job)
	c.Start()
	s.logger.Infof("running a cycle every %s", s.opts.Interval)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		job.Run()
	}()

	<-ctx.Done()

	s.logger.Info("stopping, waiting for the running cycle")
	<-c.Stop().Done()
	wg.Wait()
	return nil
}

// RunOnce runs one cycle under the cross-replica lock and the cycle timeout.
func (s *Scheduler) RunOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	ttl := s.opts.CycleTimeout + lockTTLMargin
	unlock, ok, err := s.opts.Locker.TryLock(ctx, s.opts.LockKey, ttl)
	if err != nil {
		s.logger.Errorf("skipping cycle: %v", err)
		return
	}
	if !ok {
		s.logger.Info("another replica holds the cycle lock, skipping")
		return
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), lockReleaseTimeout)
		defer cancel()
		if err := unlock(releaseCtx); err != nil {
			s.logger.Warnf("releasing cycle lock: %v", err)
		}
	}()

	cycleCtx := ctx
	if s.opts.CycleTimeout > 0 {
		var cancel context.CancelFunc
		cycleCtx, cancel = context.WithTimeout(ctx, s.opts.CycleTimeout)
		defer cancel()
	}

	start := time.Now()
	s.runner.RunOneCycle(cycleCtx)
	s.logger.Debugf("cycle took %s", time.Since(start))
}

// cronLogger routes cron's own messages to logrus.
type cronLogger struct {
	entry *logrus.Entry
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.entry.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.entry.WithFields(fields(keysAndValues)).WithError(err).Error(msg)
}

func fields(keysAndValues []any) logrus.Fields {
	f := make(logrus.Fields, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		f[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return f
}
