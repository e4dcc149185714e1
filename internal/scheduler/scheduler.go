// Package scheduler drives the periodic escalation sweep and the nightly
// dedupe-ledger pruning. Each tick is a stateless re-evaluation of persisted
// case state; no watermark is kept between runs.
package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"casetrack-go/internal/config"
	"casetrack-go/internal/model"
	"casetrack-go/internal/notify"
	"casetrack-go/internal/service"
)

// Scheduler manages periodic case re-evaluation.
type Scheduler struct {
	cron     *cron.Cron
	entryID  cron.EntryID
	config   *config.SchedulerConfig
	service  *service.CaseService
	notifier *notify.Notifier

	wg        sync.WaitGroup
	isRunning bool
	mu        sync.RWMutex
}

// NewScheduler creates a new scheduler
func NewScheduler(cfg *config.SchedulerConfig, svc *service.CaseService, notifier *notify.Notifier) *Scheduler {
	return &Scheduler{
		cron:     cron.New(cron.WithSeconds()),
		config:   cfg,
		service:  svc,
		notifier: notifier,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}

	// Jobs survive a Stop/Start cycle; register them once.
	if s.entryID == 0 {
		schedule := fmt.Sprintf("0 */%d * * * *", s.config.IntervalMinutes)
		entryID, err := s.cron.AddFunc(schedule, s.runSweep)
		if err != nil {
			return fmt.Errorf("failed to add sweep job: %w", err)
		}
		s.entryID = entryID

		// Ledger retention pruning once a day, off-peak.
		if _, err := s.cron.AddFunc("0 0 3 * * *", s.runCleanup); err != nil {
			return fmt.Errorf("failed to add cleanup job: %w", err)
		}
	}

	s.cron.Start()
	s.isRunning = true

	logrus.Infof("Escalation scheduler started with interval: %d minutes", s.config.IntervalMinutes)
	return nil
}

// Stop stops the scheduler and waits for in-flight jobs.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}

	ctx := s.cron.Stop()
	select {
	case <-ctx.Done():
		logrus.Info("Escalation scheduler stopped gracefully")
	case <-time.After(30 * time.Second):
		logrus.Warn("Escalation scheduler stop timeout, forcing shutdown")
	}

	s.isRunning = false
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// runSweep executes one escalation sweep and dispatches the resulting alerts.
func (s *Scheduler) runSweep() {
	s.wg.Add(1)
	defer s.wg.Done()

	logrus.Debug("Starting escalation sweep")
	start := time.Now()

	intents, err := s.service.RunEscalationSweep()
	if err != nil {
		logrus.Errorf("Escalation sweep failed: %v", err)
		return
	}

	s.dispatch(intents)

	if len(intents) > 0 {
		logrus.Infof("Escalation sweep completed in %v, %d alerts issued", time.Since(start), len(intents))
	} else {
		logrus.Debugf("Escalation sweep completed in %v, no alerts", time.Since(start))
	}
}

func (s *Scheduler) runCleanup() {
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.service.CleanupProcessed(s.config.RetentionDays); err != nil {
		logrus.Errorf("Processed-message cleanup failed: %v", err)
	}
}

func (s *Scheduler) dispatch(intents []model.NotificationIntent) {
	s.notifier.Dispatch(intents)
}

// RunOnce triggers a single sweep immediately (manual trigger endpoint).
func (s *Scheduler) RunOnce() ([]model.NotificationIntent, error) {
	logrus.Info("Running escalation sweep once")
	intents, err := s.service.RunEscalationSweep()
	if err != nil {
		return nil, err
	}
	s.dispatch(intents)
	return intents, nil
}

// GetNextRun returns the time of the next scheduled sweep.
func (s *Scheduler) GetNextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isRunning {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// GetLastRun returns the time of the last sweep.
func (s *Scheduler) GetLastRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isRunning {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Prev
}

// Wait waits for in-flight jobs to finish after Stop.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
