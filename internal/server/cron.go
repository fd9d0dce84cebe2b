package server

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"

	"github.com/dylanallan/genesiswebapp-sub003/internal/biz"
	"github.com/dylanallan/genesiswebapp-sub003/internal/conf"
	"github.com/dylanallan/genesiswebapp-sub003/internal/data"
	pkglog "github.com/dylanallan/genesiswebapp-sub003/pkg/log"
)

const (
	defaultMonitoringPeriod = 10 * time.Second

	// Warn before the audit channel (capacity 1000) starts dropping.
	auditQueueWarnDepth = 800

	// janitorPeriod is how often idle rate limit entries are pruned.
	janitorPeriod = 5 * time.Minute

	// rateEntryHorizon must exceed the longest configured minimum
	// interval, otherwise pruning could reopen a budget early.
	rateEntryHorizon = 10 * time.Minute
)

// rateStorePruner is the optional pruning capability of the in-process
// rate limit store. The Redis store expires its keys itself and does
// not implement it.
type rateStorePruner interface {
	Prune(olderThan time.Duration) int
}

// MonitorServer runs the periodic breaker health sweep alongside the
// HTTP transport, so OPEN breakers get logged even when no traffic
// arrives to probe them. It also hosts the rate limit janitor.
type MonitorServer struct {
	cron    *cron.Cron
	period  time.Duration
	manager *biz.BreakerManager
	trail   *data.AuditTrailImpl
	store   biz.RateLimitStore
	logger  *pkglog.LogHelper
}

func NewMonitorServer(c *conf.Router, manager *biz.BreakerManager, trail *data.AuditTrailImpl, store biz.RateLimitStore, logger log.Logger) *MonitorServer {
	period := defaultMonitoringPeriod
	if c != nil && c.MonitoringPeriod != nil {
		if d := c.MonitoringPeriod.AsDuration(); d > 0 {
			period = d
		}
	}
	return &MonitorServer{
		cron:    cron.New(cron.WithSeconds()),
		period:  period,
		manager: manager,
		trail:   trail,
		store:   store,
		logger:  pkglog.NewLogHelper(logger),
	}
}

// Start implements transport.Server.
func (s *MonitorServer) Start(_ context.Context) error {
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.period), s.sweep); err != nil {
		return err
	}
	if pruner, ok := s.store.(rateStorePruner); ok {
		if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", janitorPeriod), func() {
			if removed := pruner.Prune(rateEntryHorizon); removed > 0 {
				s.logger.Scheduler("pruned idle rate limit entries", "removed", removed)
			}
		}); err != nil {
			return err
		}
	}
	s.cron.Start()
	s.logger.Scheduler("breaker monitor started", "period", s.period.String())
	return nil
}

// Stop implements transport.Server. It waits for an in-flight sweep to
// finish before returning.
func (s *MonitorServer) Stop(_ context.Context) error {
	<-s.cron.Stop().Done()
	s.logger.Scheduler("breaker monitor stopped")
	return nil
}

func (s *MonitorServer) sweep() {
	s.manager.MonitorTick()
	if s.trail != nil {
		if depth := s.trail.QueueDepth(); depth > auditQueueWarnDepth {
			s.logger.Scheduler("audit queue filling up", "depth", depth)
		}
	}
}
