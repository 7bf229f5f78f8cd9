package services

import (
	"context"
	"errors"
	"time"

	"github.com/senyabanana/procurement-service/internal/lock"
	"github.com/senyabanana/procurement-service/internal/metrics"
	"github.com/senyabanana/procurement-service/internal/models"
)

// orderSection сериализует изменения состояния одного заказа.
type orderSection struct {
	locker  lock.Locker
	metrics *metrics.Metrics
}

func newOrderSection(locker lock.Locker, m *metrics.Metrics) *orderSection {
	if locker == nil {
		locker = lock.NewLocal(lock.DefaultTimeout)
	}
	return &orderSection{locker: locker, metrics: m}
}

// run выполняет fn, удерживая секцию заказа orderID.
func (s *orderSection) run(ctx context.Context, orderID string, fn func() error) error {
	started := time.Now()
	release, err := s.locker.Acquire(ctx, "order:"+orderID)
	s.metrics.ObserveLockWait(time.Since(started), err == nil)
	if err != nil {
		if errors.Is(err, lock.ErrLockTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return models.NewConflictError("order %s is busy, retry", orderID).WithCause(err)
		}
		return err
	}
	defer release()
	return fn()
}
