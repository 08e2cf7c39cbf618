package app

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CounterReconciler сверка денормализованных счётчиков
type CounterReconciler interface {
	ReconcileCounters(ctx context.Context) (int, error)
}

// Scheduler управляет фоновыми задачами
type Scheduler struct {
	reconciler CounterReconciler
	interval   time.Duration
	logger     *zap.Logger
	stopChan   chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

// NewScheduler создаёт новый планировщик
func NewScheduler(reconciler CounterReconciler, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{
		reconciler: reconciler,
		interval:   interval,
		logger:     logger,
		stopChan:   make(chan struct{}),
	}
}

// Start запускает фоновые задачи
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Starting background scheduler", zap.Duration("reconcile_interval", s.interval))

	s.wg.Add(1)
	go s.runReconcileTask(ctx)
}

// Stop останавливает фоновые задачи и ждёт их завершения
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping background scheduler")
		close(s.stopChan)
	})
	s.wg.Wait()
}

// runReconcileTask периодически сверяет current_students групповых занятий
func (s *Scheduler) runReconcileTask(ctx context.Context) {
	defer s.wg.Done()

	// Первый запуск сразу при старте
	s.reconcile(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.reconcile(ctx)
		case <-s.stopChan:
			s.logger.Info("Reconcile task stopped")
			return
		case <-ctx.Done():
			s.logger.Info("Reconcile task cancelled")
			return
		}
	}
}

func (s *Scheduler) reconcile(ctx context.Context) {
	fixed, err := s.reconciler.ReconcileCounters(ctx)
	if err != nil {
		s.logger.Error("Failed to reconcile counters", zap.Error(err))
		return
	}

	if fixed > 0 {
		s.logger.Warn("Group lesson counters repaired", zap.Int("fixed", fixed))
		return
	}
	s.logger.Debug("Group lesson counters are consistent")
}
