package scheduler

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"casetrack-go/internal/config"
	"casetrack-go/internal/database"
	"casetrack-go/internal/repository"
	"casetrack-go/internal/rules"
	"casetrack-go/internal/service"
)

func testService(t *testing.T) *service.CaseService {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "casetrack_test.db")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	engine := rules.NewEngine(config.RulesConfig{
		EscalationHours:      48,
		MaxFollowups:         3,
		AlertIntervalMinutes: 60,
	})
	return service.NewCaseService(repository.New(db), engine, nil)
}

func TestSchedulerRestart(t *testing.T) {
	cfg := &config.SchedulerConfig{IntervalMinutes: 5, RetentionDays: 30}
	sched := NewScheduler(cfg, testService(t), nil)

	if err := sched.Start(); err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	if !sched.IsRunning() {
		t.Fatalf("scheduler should be running after Start")
	}
	if err := sched.Start(); err == nil {
		t.Fatalf("second Start while running should fail")
	}
	if sched.GetNextRun().IsZero() {
		t.Fatalf("next run should be scheduled while running")
	}
	if err := sched.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if sched.IsRunning() {
		t.Fatalf("scheduler should not be running after Stop")
	}
	// Stopping again is a no-op.
	if err := sched.Stop(); err != nil {
		t.Fatalf("second stop failed: %v", err)
	}
	if err := sched.Start(); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	if !sched.IsRunning() {
		t.Fatalf("scheduler should be running after restart")
	}
	sched.Stop()
	sched.Wait()
}

func TestRunOnceEmptyDatabase(t *testing.T) {
	cfg := &config.SchedulerConfig{IntervalMinutes: 5, RetentionDays: 30}
	sched := NewScheduler(cfg, testService(t), nil)

	intents, err := sched.RunOnce()
	if err != nil {
		t.Fatalf("run once failed: %v", err)
	}
	if len(intents) != 0 {
		t.Fatalf("expected no alerts from an empty database, got %d", len(intents))
	}
}
