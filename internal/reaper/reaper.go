// Package reaper periodically reclaims expired downloads and abandoned temporaries.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Reaper is the reclaim operation the scheduler triggers.
type Reaper interface {
	Reap(ctx context.Context, now time.Time) (int, error)
}

// Func adapts a function to Reaper.
type Func func(ctx context.Context, now time.Time) (int, error)

// Reap calls f.
func (f Func) Reap(ctx context.Context, now time.Time) (int, error) { return f(ctx, now) }

// Multi runs every Reaper in order, adding up the counts. A failing Reaper does not stop the
// ones after it; their errors are joined.
type Multi []Reaper

// Reap runs all reapers.
func (m Multi) Reap(ctx context.Context, now time.Time) (int, error) {
	var (
		total int
		errl  []error
	)
	for _, r := range m {
		n, err := r.Reap(ctx, now)
		total += n
		if err != nil {
			errl = append(errl, err)
		}
	}
	return total, errors.Join(errl...)
}

// Scheduler runs a Reaper every half download lifetime. A run that is still in progress
// when the next one is due causes that next run to be skipped.
type Scheduler struct {
	cron    *cron.Cron
	reaper  Reaper
	log     *zap.Logger
	timeout time.Duration
	now     func() time.Time
}

// Interval is the reap period for a download lifetime.
func Interval(ttl time.Duration) time.Duration {
	iv := ttl / 2
	if iv < time.Second {
		iv = time.Second
	}
	return iv
}

// New schedules r for a download lifetime of ttl.
func New(r Reaper, ttl time.Duration, log *zap.Logger) (*Scheduler, error) {
	if log == nil {
		log = zap.NewNop()
	}
	cl := cronLogger{log: log.Named("cron")}
	s := &Scheduler{
		cron:    cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		reaper:  r,
		log:     log,
		timeout: Interval(ttl),
		now:     time.Now,
	}
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", Interval(ttl)), s.RunOnce); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins scheduling in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop stops scheduling and waits for a running reap to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce performs one reap.
func (s *Scheduler) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	n, err := s.reaper.Reap(ctx, s.now())
	if err != nil {
		s.log.Error("reap downloads", zap.Error(err), zap.Int("removed", n))
		return
	}
	s.log.Debug("reap downloads", zap.Int("removed", n))
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct{ log *zap.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, fields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append(fields(keysAndValues), zap.Error(err))...)
}

func fields(kv []any) []zap.Field {
	out := make([]zap.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, zap.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
