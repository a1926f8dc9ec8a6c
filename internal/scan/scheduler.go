// Package scan decides when to walk the comment collection and feeds every
// comment through the ledger.
package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"commentguard/internal/classify"
	"commentguard/internal/ledger"
	"commentguard/internal/metrics"
)

var (
	// ErrStopped is returned for scans requested after Stop.
	ErrStopped = errors.New("scheduler stopped")

	errContainerNotFound = errors.New("comment container not found")
)

// Page is the live comment collection.
type Page interface {
	// Discover returns the first selector that matches the comment container,
	// or "" when none does yet.
	Discover(ctx context.Context, selectors []string) (string, error)
	// Subscribe calls onChange whenever the container subtree changes.
	Subscribe(ctx context.Context, selector string, onChange func()) (unsubscribe func(), err error)
	// Enumerate returns the comments currently present, in display order.
	Enumerate(ctx context.Context) ([]ledger.Item, error)
}

// Marker applies and clears visual treatments.
type Marker interface {
	Mark(ctx context.Context, ref string, verdict classify.Verdict) error
	ClearAll(ctx context.Context) error
}

// Reporter receives the tally after every completed scan.
type Reporter interface {
	ReportStats(ctx context.Context, stats ledger.Stats)
}

// Trigger names what started a scan.
type Trigger string

const (
	TriggerInitial  Trigger = "initial"
	TriggerChange   Trigger = "change"
	TriggerPeriodic Trigger = "periodic"
	TriggerRescan   Trigger = "rescan"
)

// Timer is a pending callback that can be canceled.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Config controls scheduling.
type Config struct {
	Selectors        []string
	DebounceWindow   time.Duration
	PeriodicInterval time.Duration // zero disables the periodic scan
	DiscoveryRetry   time.Duration
	// Highlights reports whether scans should mark comments.
	Highlights func() bool
	AfterFunc  AfterFunc
}

func (c *Config) defaults() {
	if c.DebounceWindow <= 0 {
		c.DebounceWindow = 300 * time.Millisecond
	}
	if c.DiscoveryRetry <= 0 {
		c.DiscoveryRetry = 3 * time.Second
	}
	if c.Highlights == nil {
		c.Highlights = func() bool { return true }
	}
	if c.AfterFunc == nil {
		c.AfterFunc = realAfterFunc
	}
}

// Scheduler owns the scan timers for one session.
type Scheduler struct {
	cfg      Config
	ledger   *ledger.Ledger
	page     Page
	marker   Marker
	reporter Reporter
	log      *zap.Logger

	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	started     bool
	stopped     bool
	debounce    Timer
	periodic    *cron.Cron
	unsubscribe func()
}

// New creates a scheduler. Nothing runs until Start.
func New(cfg Config, l *ledger.Ledger, page Page, marker Marker, reporter Reporter, log *zap.Logger) *Scheduler {
	cfg.defaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		cfg:      cfg,
		ledger:   l,
		page:     page,
		marker:   marker,
		reporter: reporter,
		log:      log,
	}
}

// Start begins container discovery in the background. Once the container is
// found it subscribes to changes, runs the initial scan and starts the
// periodic scan. Start is a no-op after the first call.
func (s *Scheduler) Start(parent context.Context) {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.ctx, s.cancel = context.WithCancel(parent)
	s.started = true
	ctx := s.ctx
	s.mu.Unlock()

	go s.run(ctx)
}

func (s *Scheduler) run(ctx context.Context) {
	selector, err := s.discover(ctx)
	if err != nil {
		return
	}
	s.log.Info("comment container found", zap.String("selector", selector))

	unsubscribe, err := s.page.Subscribe(ctx, selector, s.Notify)
	if err != nil {
		s.log.Warn("change subscription failed; relying on periodic scans", zap.Error(err))
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		if unsubscribe != nil {
			unsubscribe()
		}
		return
	}
	s.unsubscribe = unsubscribe
	s.mu.Unlock()

	if err := s.scan(ctx, TriggerInitial); err != nil && !errors.Is(err, ErrStopped) {
		s.log.Warn("initial scan failed", zap.Error(err))
	}
	s.startPeriodic(ctx)
}

// discover polls for the container on a constant backoff until it appears
// or ctx is canceled.
func (s *Scheduler) discover(ctx context.Context) (string, error) {
	var selector string
	operation := func() error {
		found, err := s.page.Discover(ctx, s.cfg.Selectors)
		if err != nil {
			return fmt.Errorf("discover comment container: %w", err)
		}
		if found == "" {
			return errContainerNotFound
		}
		selector = found
		return nil
	}
	notify := func(err error, next time.Duration) {
		s.log.Debug("comment container not ready, retrying", zap.Error(err), zap.Duration("retry_in", next))
	}

	policy := backoff.WithContext(backoff.NewConstantBackOff(s.cfg.DiscoveryRetry), ctx)
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return "", err
	}
	return selector, nil
}

func (s *Scheduler) startPeriodic(ctx context.Context) {
	if s.cfg.PeriodicInterval <= 0 {
		return
	}
	logger := cronLogger{log: s.log.Sugar()}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.SkipIfStillRunning(logger)))
	c.Schedule(cron.Every(s.cfg.PeriodicInterval), cron.FuncJob(func() {
		if err := s.scan(ctx, TriggerPeriodic); err != nil && !errors.Is(err, ErrStopped) {
			s.log.Warn("periodic scan failed", zap.Error(err))
		}
	}))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.periodic = c
	c.Start()
}

// Notify records a change notification. Bursts collapse into a single scan
// fired one debounce window after the last notification.
func (s *Scheduler) Notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.stopped {
		return
	}
	if s.debounce != nil {
		s.debounce.Stop()
	}
	ctx := s.ctx
	s.debounce = s.cfg.AfterFunc(s.cfg.DebounceWindow, func() {
		if err := s.scan(ctx, TriggerChange); err != nil && !errors.Is(err, ErrStopped) {
			s.log.Warn("change scan failed", zap.Error(err))
		}
	})
}

// Rescan clears the ledger and markings and performs a full scan, returning
// once it completes.
func (s *Scheduler) Rescan(ctx context.Context) error {
	scanCtx, cancel, err := s.requestContext(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	s.ledger.Reset()
	if err := s.marker.ClearAll(scanCtx); err != nil {
		s.log.Debug("clear markings failed", zap.Error(err))
	}
	return s.scan(scanCtx, TriggerRescan)
}

// ReapplyMarks marks every present comment that already has a verdict. It
// never classifies and never changes the tally.
func (s *Scheduler) ReapplyMarks(ctx context.Context) error {
	scanCtx, cancel, err := s.requestContext(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	items, err := s.page.Enumerate(scanCtx)
	if err != nil {
		return fmt.Errorf("enumerate comments: %w", err)
	}
	for _, item := range items {
		result, ok := s.ledger.Get(item.Key)
		if !ok {
			continue
		}
		if err := s.marker.Mark(scanCtx, item.Ref, result.Verdict); err != nil {
			s.log.Debug("mark comment failed", zap.String("fingerprint", ledger.Fingerprint(item.Key)), zap.Error(err))
		}
	}
	return nil
}

// requestContext derives a context canceled by either the caller or Stop.
func (s *Scheduler) requestContext(ctx context.Context) (context.Context, context.CancelFunc, error) {
	s.mu.Lock()
	base := s.ctx
	stopped := s.stopped
	s.mu.Unlock()
	if base == nil || stopped {
		return nil, nil, ErrStopped
	}

	scanCtx, cancel := context.WithCancel(base)
	stop := context.AfterFunc(ctx, cancel)
	return scanCtx, func() {
		stop()
		cancel()
	}, nil
}

// scan walks the collection once. A scan whose context is canceled stops
// without marking or reporting.
func (s *Scheduler) scan(ctx context.Context, trigger Trigger) error {
	if ctx.Err() != nil {
		return ErrStopped
	}
	started := time.Now()

	items, err := s.page.Enumerate(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ErrStopped
		}
		return fmt.Errorf("enumerate comments: %w", err)
	}

	marking := s.cfg.Highlights()
	for _, item := range items {
		if ctx.Err() != nil {
			return ErrStopped
		}
		if item.Key == "" {
			continue
		}
		result := s.ledger.Record(ctx, item)
		if !marking {
			continue
		}
		if err := s.marker.Mark(ctx, item.Ref, result.Verdict); err != nil {
			s.log.Debug("mark comment failed", zap.String("fingerprint", ledger.Fingerprint(item.Key)), zap.Error(err))
		}
	}

	if ctx.Err() != nil {
		return ErrStopped
	}
	stats := s.ledger.Stats()
	s.reporter.ReportStats(ctx, stats)

	metrics.Scans.WithLabelValues(string(trigger)).Inc()
	metrics.ScanDuration.WithLabelValues(string(trigger)).Observe(time.Since(started).Seconds())
	s.log.Debug("scan complete",
		zap.String("trigger", string(trigger)),
		zap.Int("present", len(items)),
		zap.Int("total", stats.Total))
	return nil
}

// Stop cancels every timer, the discovery retry and the change subscription.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
	}
	if s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
	}
	periodic, unsubscribe := s.periodic, s.unsubscribe
	s.periodic, s.unsubscribe = nil, nil
	s.mu.Unlock()

	if periodic != nil {
		periodic.Stop()
	}
	if unsubscribe != nil {
		unsubscribe()
	}
}

// cronLogger routes cron's chatty info logs to debug.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
