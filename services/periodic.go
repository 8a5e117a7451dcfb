package services

import (
	"context"
	"sync"
	"time"

	"learnhub/realtime-service/utils"
)

// PeriodicTask runs fn every interval until stopped.
type PeriodicTask struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context) error
	logger   *utils.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPeriodicTask(name string, interval time.Duration, fn func(ctx context.Context) error, logger *utils.Logger) *PeriodicTask {
	ctx, cancel := context.WithCancel(context.Background())
	return &PeriodicTask{
		name:     name,
		interval: interval,
		fn:       fn,
		logger:   logger.With("task", name),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (p *PeriodicTask) Start() {
	p.logger.Info("Starting periodic task", "interval", p.interval.String())
	p.wg.Add(1)
	go p.periodicChecker()
}

func (p *PeriodicTask) Stop() {
	p.cancel()
	p.wg.Wait()
	p.logger.Info("Periodic task stopped")
}

func (p *PeriodicTask) periodicChecker() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if err := p.fn(p.ctx); err != nil && p.ctx.Err() == nil {
				p.logger.Error("Periodic task failed", "error", err)
			}
		}
	}
}
