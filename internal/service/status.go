package service

import (
	"context"
	"sync"
	"time"

	"github.com/edirooss/zmux-relay/internal/relay"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ReportSource produces a fresh status report.
type ReportSource interface {
	Report() relay.Report
}

// ReportPublisher stores a report somewhere outside the process.
type ReportPublisher interface {
	Publish(ctx context.Context, rep relay.Report) error
}

type StatusOptions struct {
	// TTL controls how long the in-memory snapshot is served; default 250ms.
	TTL time.Duration
	// PublishInterval paces Run; default 2s.
	PublishInterval time.Duration
	// PublishTimeout bounds one publish; default 1s.
	PublishTimeout time.Duration
}

func (o *StatusOptions) setDefaults() {
	if o.TTL <= 0 {
		o.TTL = 250 * time.Millisecond
	}
	if o.PublishInterval <= 0 {
		o.PublishInterval = 2 * time.Second
	}
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = time.Second
	}
}

// StatusResult lets the handler set cache headers.
type StatusResult struct {
	Report      relay.Report
	CacheHit    bool
	GeneratedAt time.Time
}

// StatusService serves the relay report to HTTP pollers from a short-lived
// cache and, when a publisher is set, mirrors it out on a fixed interval.
type StatusService struct {
	log *zap.Logger
	src ReportSource
	pub ReportPublisher // nil disables Run

	mu      sync.RWMutex
	cache   *relay.Report
	expires time.Time
	genAt   time.Time

	opts StatusOptions
	now  func() time.Time

	sg singleflight.Group
}

func NewStatusService(log *zap.Logger, src ReportSource, pub ReportPublisher, opts StatusOptions) *StatusService {
	opts.setDefaults()
	return &StatusService{
		log:  log.Named("status_service"),
		src:  src,
		pub:  pub,
		opts: opts,
		now:  time.Now,
	}
}

// Get returns the cached report or builds a new one when expired.
// Concurrent refreshes are coalesced.
func (s *StatusService) Get() StatusResult {
	if res, ok := s.fresh(); ok {
		return res
	}

	v, _, _ := s.sg.Do("status-refresh", func() (any, error) {
		if res, ok := s.fresh(); ok {
			return res, nil
		}

		start := s.now()
		rep := s.src.Report()

		s.mu.Lock()
		s.cache = &rep
		s.expires = s.now().Add(s.opts.TTL)
		s.genAt = start
		s.mu.Unlock()

		return StatusResult{Report: rep, GeneratedAt: start}, nil
	})
	return v.(StatusResult)
}

func (s *StatusService) fresh() (StatusResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cache == nil || !s.now().Before(s.expires) {
		return StatusResult{}, false
	}
	return StatusResult{Report: *s.cache, CacheHit: true, GeneratedAt: s.genAt}, true
}

// Invalidate drops the cached report; the HTTP layer calls it after every
// mutation so the next poll sees the change.
func (s *StatusService) Invalidate() {
	s.mu.Lock()
	s.cache = nil
	s.expires = time.Time{}
	s.genAt = time.Time{}
	s.mu.Unlock()
}

// Run publishes the report every PublishInterval until ctx ends. Publish
// failures are logged and retried on the next tick.
func (s *StatusService) Run(ctx context.Context) {
	if s.pub == nil {
		return
	}
	t := time.NewTicker(s.opts.PublishInterval)
	defer t.Stop()

	failing := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		pctx, cancel := context.WithTimeout(ctx, s.opts.PublishTimeout)
		err := s.pub.Publish(pctx, s.Get().Report)
		cancel()

		switch {
		case err != nil && !failing:
			s.log.Warn("publish failed; retrying every interval", zap.Error(err))
			failing = true
		case err == nil && failing:
			s.log.Info("publish recovered")
			failing = false
		}
	}
}
