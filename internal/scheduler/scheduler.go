package scheduler

import (
	"context"
	"time"

	"github.com/smallbiznis/apotheca/internal/clock"
	creditdomain "github.com/smallbiznis/apotheca/internal/credit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Config struct {
	RunInterval time.Duration
}

type Params struct {
	fx.In

	Log       *zap.Logger
	CreditSvc creditdomain.Service
	Clock     clock.Clock
	Config    Config
}

// Scheduler runs the periodic due-date sweep that flips pending credit
// transactions past their due date to overdue.
type Scheduler struct {
	log       *zap.Logger
	creditSvc creditdomain.Service
	clock     clock.Clock
	cfg       Config
}

func New(p Params) *Scheduler {
	cfg := p.Config
	if cfg.RunInterval <= 0 {
		cfg.RunInterval = time.Hour
	}
	return &Scheduler{
		log:       p.Log.Named("scheduler"),
		creditSvc: p.CreditSvc,
		clock:     p.Clock,
		cfg:       cfg,
	}
}

func (s *Scheduler) RunOnce(ctx context.Context) error {
	swept, err := s.creditSvc.SweepOverdue(ctx, s.clock.Now())
	if err != nil {
		s.log.Error("overdue sweep failed", zap.Error(err))
		return err
	}
	if swept > 0 {
		s.log.Info("overdue sweep run", zap.Int64("transactions", swept))
	}
	return nil
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.RunOnce(ctx)
		}
	}
}
