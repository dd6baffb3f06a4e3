package scheduler

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"reflex-engine/internal/pkg/config"
	"reflex-engine/internal/pkg/database"
	"reflex-engine/internal/pkg/logger"
	"reflex-engine/internal/store"
)

// Stats holds the process counters the heartbeat and status report use.
type Stats struct {
	requests      atomic.Int64
	lastHeartbeat atomic.Int64
}

func (s *Stats) IncRequests() { s.requests.Add(1) }

func (s *Stats) Requests() int64 { return s.requests.Load() }

func (s *Stats) MarkHeartbeat() { s.lastHeartbeat.Store(time.Now().Unix()) }

func (s *Stats) SetLastHeartbeat(ts int64) { s.lastHeartbeat.Store(ts) }

func (s *Stats) LastHeartbeat() int64 { return s.lastHeartbeat.Load() }

// Scheduler runs the periodic maintenance jobs.
type Scheduler struct {
	cron  *cron.Cron
	cfg   *config.Config
	store *store.Store
	stats *Stats
}

// New wires the fixed interval jobs: heartbeat, status report, session
// reaper, and scope index refresh.
func New(cfg *config.Config, st *store.Store, stats *Stats) (*Scheduler, error) {
	s := &Scheduler{
		cron:  cron.New(),
		cfg:   cfg,
		store: st,
		stats: stats,
	}

	beat := cfg.Heartbeat / 2
	if beat < 1 {
		beat = 1
	}
	jobs := []struct {
		every int
		name  string
		run   func()
	}{
		{beat, "heartbeat", s.heartbeat},
		{cfg.StatusReport, "status-report", s.statusReport},
		{cfg.Auth.Expires, "session-reaper", s.reapSessions},
		{cfg.RefreshMaps, "scope-refresh", s.refreshScopes},
	}
	for _, job := range jobs {
		if job.every <= 0 {
			continue
		}
		spec := fmt.Sprintf("@every %ds", job.every)
		if _, err := s.cron.AddFunc(spec, job.run); err != nil {
			return nil, fmt.Errorf("cannot schedule %s: %w", job.name, err)
		}
	}
	return s, nil
}

// Start runs the jobs in the cron's own goroutines, firing the heartbeat
// once immediately so health checks pass during the first interval.
func (s *Scheduler) Start() {
	s.heartbeat()
	s.cron.Start()
}

// Stop halts scheduling and waits for running jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// heartbeat marks liveness only while the database answers.
func (s *Scheduler) heartbeat() {
	if err := database.Healthy(); err != nil {
		logger.Warn("heartbeat skipped, database unhealthy", zap.Error(err))
		return
	}
	s.stats.MarkHeartbeat()
}

func (s *Scheduler) statusReport() {
	logger.Info("status",
		zap.Int64("requests", s.stats.Requests()),
		zap.Int64("last-heartbeat", s.stats.LastHeartbeat()),
	)
}

func (s *Scheduler) reapSessions() {
	n, err := s.store.CleanSessions()
	if err != nil {
		logger.Error("session reaper failed", zap.Error(err))
		return
	}
	if n > 0 {
		logger.Info("reaped sessions", zap.Int64("count", n))
	}
}

func (s *Scheduler) refreshScopes() {
	if err := s.store.RemapAll(); err != nil {
		logger.Error("scope refresh failed", zap.Error(err))
	}
}
