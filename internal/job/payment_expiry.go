package job

import (
	"context"
	"errors"
	"time"

	"creditledger/internal/model"
	"creditledger/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PaymentExpiryJob sweeps pending payments past their expiry window into the
// expired terminal state. A payment that settles between the query and the
// transition loses the conditional update and is skipped.
type PaymentExpiryJob struct {
	paymentRepo *repository.PaymentRepository
	logger      *zap.SugaredLogger
	stopCh      chan struct{}
	interval    time.Duration
	batchSize   int
}

func NewPaymentExpiryJob(db *gorm.DB, logger *zap.SugaredLogger) *PaymentExpiryJob {
	return &PaymentExpiryJob{
		paymentRepo: repository.NewPaymentRepository(db),
		logger:      logger,
		stopCh:      make(chan struct{}),
		interval:    time.Minute,
		batchSize:   100,
	}
}

func (j *PaymentExpiryJob) Start(ctx context.Context) {
	j.logger.Infow("payment expiry job started", "interval", j.interval)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("payment expiry job stopped by context")
			return
		case <-j.stopCh:
			j.logger.Info("payment expiry job stopped")
			return
		case <-ticker.C:
			j.expirePendingPayments(ctx)
		}
	}
}

func (j *PaymentExpiryJob) Stop() {
	close(j.stopCh)
}

func (j *PaymentExpiryJob) expirePendingPayments(ctx context.Context) {
	payments, err := j.paymentRepo.GetExpiredPending(ctx, j.batchSize)
	if err != nil {
		j.logger.Errorw("query expired payments failed", "error", err)
		return
	}
	if len(payments) == 0 {
		return
	}

	reason := "payment window elapsed"
	expired := 0
	for _, p := range payments {
		err := j.paymentRepo.Transition(ctx, nil, p.PaymentNo,
			model.PaymentStatusPending, model.PaymentStatusExpired,
			repository.TransitionUpdates{Reason: &reason})
		if err != nil {
			if errors.Is(err, repository.ErrInvalidTransition) {
				// Settled concurrently, leave it alone.
				continue
			}
			j.logger.Errorw("expire payment failed", "payment_no", p.PaymentNo, "error", err)
			continue
		}
		expired++
	}
	if expired > 0 {
		j.logger.Infow("expired pending payments", "count", expired)
	}
}
