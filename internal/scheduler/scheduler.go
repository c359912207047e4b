package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"github.com/Bilolbee/apkban/internal/moderation"
	"github.com/Bilolbee/apkban/internal/strikes"
)

type StatsSource interface {
	AggregateStats() strikes.Stats
}

// Scheduler periodically snapshots ledger statistics into metrics and logs.
type Scheduler struct {
	spec    string
	source  StatsSource
	publish func(strikes.Stats)

	mu     sync.Mutex
	cron   *cron.Cron
	logger *log.Entry
}

// New schedules snapshots with a cron spec such as "@every 5m"; an empty spec disables them.
func New(spec string, source StatsSource) *Scheduler {
	return &Scheduler{
		spec:    spec,
		source:  source,
		publish: moderation.RecordLedgerStats,
		logger:  log.WithField("component", "scheduler"),
	}
}

func (s *Scheduler) Name() string {
	return "scheduler"
}

func (s *Scheduler) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.spec == "" {
		s.logger.Info("ledger snapshots disabled")
		return nil
	}
	if s.cron != nil {
		return fmt.Errorf("scheduler already started")
	}

	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(s.spec, s.Snapshot); err != nil {
		return fmt.Errorf("schedule %q: %w", s.spec, err)
	}
	s.Snapshot()
	c.Start()
	s.cron = c
	s.logger.WithField("schedule", s.spec).Info("scheduler started")
	return nil
}

func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot publishes the current ledger statistics once.
func (s *Scheduler) Snapshot() {
	stats := s.source.AggregateStats()
	s.publish(stats)

	entry := s.logger.WithFields(log.Fields{
		"users":      stats.TotalUsers,
		"violations": stats.TotalViolations,
	})
	if len(stats.TopOffenders) > 0 {
		top := stats.TopOffenders[0]
		entry = entry.WithFields(log.Fields{
			"top_chat_id": top.GroupID,
			"top_user_id": top.UserID,
			"top_strikes": top.Strikes,
		})
	}
	entry.Debug("ledger snapshot")
}
