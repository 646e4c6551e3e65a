package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shirikacare/portal/internal/clock"
	obsmetrics "github.com/shirikacare/portal/internal/observability/metrics"
	paymentdomain "github.com/shirikacare/portal/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("scheduler requires db, log, payment repository and clock")

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	PaymentRepo paymentdomain.Repository
	Clock       clock.Clock
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
	Config      Config              `optional:"true"`
}

// Scheduler is an observe-only watchdog. It reports payment requests
// that have sat in pending longer than the stuck threshold, usually
// because the gateway never delivered a callback. It never rewrites
// payment state; operators reconcile stuck rows against the gateway.
type Scheduler struct {
	db          *gorm.DB
	log         *zap.Logger
	cfg         Config
	paymentRepo paymentdomain.Repository
	clock       clock.Clock
	obsMetrics  *obsmetrics.Metrics

	lastStuck int64
	reported  map[snowflake.ID]struct{}
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.PaymentRepo == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:          p.DB,
		log:         p.Log.Named("scheduler").With(zap.String("component", "payments_watchdog")),
		cfg:         p.Config.withDefaults(),
		paymentRepo: p.PaymentRepo,
		clock:       p.Clock,
		obsMetrics:  p.ObsMetrics,
		reported:    make(map[snowflake.ID]struct{}),
	}, nil
}

func (s *Scheduler) RunOnce(ctx context.Context) error {
	now := s.clock.Now()
	cutoff := now.Add(-s.cfg.StuckThreshold)

	stuck, err := s.paymentRepo.ListPendingOlderThan(ctx, s.db, cutoff, s.cfg.BatchSize)
	if err != nil {
		return err
	}

	current := make(map[snowflake.ID]struct{}, len(stuck))
	for _, row := range stuck {
		current[row.ID] = struct{}{}
		if _, seen := s.reported[row.ID]; seen {
			continue
		}
		s.log.Warn("payment stuck in pending",
			zap.String("payment_id", row.ID.String()),
			zap.String("user_id", row.UserID.String()),
			zap.Int64("amount", row.Amount),
			zap.Duration("age", now.Sub(row.CreatedAt)),
			zap.Bool("pushed", row.CheckoutRequestID != nil),
		)
	}
	s.reported = current

	if s.obsMetrics != nil {
		count := int64(len(stuck))
		if delta := count - s.lastStuck; delta != 0 {
			s.obsMetrics.RecordStuckPayments(ctx, delta)
		}
		s.lastStuck = count
	}
	return nil
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("watchdog run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
