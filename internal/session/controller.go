// Package session owns the ledger and scan scheduler for the content unit
// currently on screen, and replaces both when the unit changes.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"commentguard/internal/classify"
	"commentguard/internal/ledger"
	"commentguard/internal/metrics"
	"commentguard/internal/scan"
)

// ErrNoSession is returned when no content unit has been observed yet.
var ErrNoSession = errors.New("no active session")

// Snapshot is the externally visible state of the active session.
type Snapshot struct {
	SessionID         string       `json:"sessionId,omitempty"`
	UnitID            string       `json:"unitId,omitempty"`
	Mode              Mode         `json:"mode,omitempty"`
	Stats             ledger.Stats `json:"stats"`
	AIEnabled         bool         `json:"aiEnabled"`
	HighlightsVisible bool         `json:"highlightsVisible"`
}

// Reporter receives a snapshot after every completed scan.
type Reporter interface {
	PublishStats(ctx context.Context, snapshot Snapshot)
}

// Config tunes session scheduling.
type Config struct {
	DebounceWindow   time.Duration
	PeriodicInterval time.Duration
	DiscoveryRetry   time.Duration
	SettleDelay      time.Duration
	Highlights       bool
	AfterFunc        scan.AfterFunc
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Pipeline *classify.Pipeline
	Page     scan.Page
	Marker   scan.Marker
	Reporter Reporter
}

type unitSession struct {
	id        uuid.UUID
	unitID    string
	mode      Mode
	ledger    *ledger.Ledger
	scheduler *scan.Scheduler
	settle    scan.Timer
}

func (s *unitSession) stop() {
	if s.settle != nil {
		s.settle.Stop()
	}
	s.scheduler.Stop()
}

// Controller tracks the current content unit.
type Controller struct {
	cfg  Config
	deps Deps
	log  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	current    *unitSession
	highlights bool
}

// New creates a controller. Sessions are created by Observe.
func New(parent context.Context, cfg Config, deps Deps, log *zap.Logger) *Controller {
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 400 * time.Millisecond
	}
	if cfg.AfterFunc == nil {
		cfg.AfterFunc = func(d time.Duration, f func()) scan.Timer { return time.AfterFunc(d, f) }
	}
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Controller{
		cfg:        cfg,
		deps:       deps,
		log:        log,
		ctx:        ctx,
		cancel:     cancel,
		highlights: cfg.Highlights,
	}
}

// Observe handles a navigation signal. It returns true when location names a
// new content unit and a fresh session was started for it.
func (c *Controller) Observe(ctx context.Context, location string) bool {
	unitID := ExtractUnitID(location)
	if unitID == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx.Err() != nil {
		return false
	}
	if c.current != nil && c.current.unitID == unitID {
		return false
	}

	previous := c.current
	if previous != nil {
		previous.stop()
		if err := c.deps.Marker.ClearAll(ctx); err != nil {
			c.log.Debug("clear markings failed", zap.Error(err))
		}
		c.log.Info("content unit changed",
			zap.String("from", previous.unitID), zap.String("to", unitID))
	}

	sess := c.newSession(unitID, ModeFor(location))
	c.current = sess
	metrics.Sessions.Inc()
	metrics.LedgerEntries.Set(0)

	if previous == nil {
		sess.scheduler.Start(c.ctx)
	} else {
		// Give the new comment container time to materialize.
		sess.settle = c.cfg.AfterFunc(c.cfg.SettleDelay, func() {
			sess.scheduler.Start(c.ctx)
		})
	}
	return true
}

func (c *Controller) newSession(unitID string, mode Mode) *unitSession {
	sess := &unitSession{
		id:     uuid.New(),
		unitID: unitID,
		mode:   mode,
	}
	log := c.log.With(zap.String("session_id", sess.id.String()), zap.String("unit_id", unitID))
	sess.ledger = ledger.New(c.deps.Pipeline, log.Named("ledger"))
	sess.scheduler = scan.New(scan.Config{
		Selectors:        Selectors(mode),
		DebounceWindow:   c.cfg.DebounceWindow,
		PeriodicInterval: c.cfg.PeriodicInterval,
		DiscoveryRetry:   c.cfg.DiscoveryRetry,
		Highlights:       c.HighlightsVisible,
		AfterFunc:        c.cfg.AfterFunc,
	}, sess.ledger, c.deps.Page, c.deps.Marker, &sessionReporter{controller: c, session: sess}, log.Named("scan"))

	log.Info("session started", zap.String("mode", string(mode)))
	return sess
}

// Rescan clears the active session and scans again.
func (c *Controller) Rescan(ctx context.Context) error {
	c.mu.Lock()
	sess := c.current
	c.mu.Unlock()
	if sess == nil {
		return ErrNoSession
	}
	return sess.scheduler.Rescan(ctx)
}

// ToggleHighlights flips marking on or off and returns the new state. Turning
// marking on reapplies cached verdicts; turning it off strips all markings.
// The ledger and the tally are never touched.
func (c *Controller) ToggleHighlights(ctx context.Context) bool {
	c.mu.Lock()
	c.highlights = !c.highlights
	visible := c.highlights
	sess := c.current
	c.mu.Unlock()

	if visible {
		if sess != nil {
			if err := sess.scheduler.ReapplyMarks(ctx); err != nil && !errors.Is(err, scan.ErrStopped) {
				c.log.Warn("reapply markings failed", zap.Error(err))
			}
		}
	} else if err := c.deps.Marker.ClearAll(ctx); err != nil {
		c.log.Warn("clear markings failed", zap.Error(err))
	}
	return visible
}

// HighlightsVisible reports whether scans mark comments.
func (c *Controller) HighlightsVisible() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.highlights
}

// SemanticEnabled reports whether the semantic tier is in use.
func (c *Controller) SemanticEnabled() bool {
	return c.deps.Pipeline != nil && c.deps.Pipeline.SemanticAvailable()
}

// Snapshot returns the state of the active session; the zero tally when none.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	sess := c.current
	visible := c.highlights
	c.mu.Unlock()
	return c.snapshotOf(sess, visible)
}

func (c *Controller) snapshotOf(sess *unitSession, visible bool) Snapshot {
	snap := Snapshot{
		AIEnabled:         c.SemanticEnabled(),
		HighlightsVisible: visible,
	}
	if sess != nil {
		snap.SessionID = sess.id.String()
		snap.UnitID = sess.unitID
		snap.Mode = sess.mode
		snap.Stats = sess.ledger.Stats()
	}
	return snap
}

// Close stops the active session. The controller ignores further navigation.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		c.current.stop()
	}
	c.cancel()
}

// sessionReporter forwards scan results and owns the ledger gauge while its
// session is still current.
type sessionReporter struct {
	controller *Controller
	session    *unitSession
}

func (r *sessionReporter) ReportStats(ctx context.Context, stats ledger.Stats) {
	c := r.controller
	c.mu.Lock()
	current := c.current == r.session
	visible := c.highlights
	c.mu.Unlock()
	if !current {
		return
	}
	metrics.LedgerEntries.Set(float64(r.session.ledger.Len()))
	if c.deps.Reporter == nil {
		return
	}

	snap := c.snapshotOf(r.session, visible)
	snap.Stats = stats
	c.deps.Reporter.PublishStats(ctx, snap)
}
