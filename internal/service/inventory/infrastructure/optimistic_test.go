package infrastructure

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"stockpile/internal/service/inventory/domain"
)

func TestRetryOptimistic_ExhaustsAfterBoundedAttempts(t *testing.T) {
	attempts := 0
	err := retryOptimistic(5, func() error {
		attempts++
		return errOptimisticConflict
	})

	assert.ErrorIs(t, err, domain.ErrConflictRetryExhausted)
	assert.Equal(t, 5, attempts)
}

func TestRetryOptimistic_RecoversFromTransientConflicts(t *testing.T) {
	attempts := 0
	err := retryOptimistic(5, func() error {
		attempts++
		if attempts < 3 {
			return errOptimisticConflict
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryOptimistic_BusinessErrorsAreNotRetried(t *testing.T) {
	attempts := 0
	err := retryOptimistic(5, func() error {
		attempts++
		return domain.ErrProductNotFound
	})

	assert.ErrorIs(t, err, domain.ErrProductNotFound)
	assert.Equal(t, 1, attempts)

	// 业务校验失败同样直接向上返回，不消耗重试额度
	stockErr := &domain.InsufficientStockError{Available: 2, Requested: 5}
	attempts = 0
	err = retryOptimistic(5, func() error {
		attempts++
		return stockErr
	})
	var insufficient *domain.InsufficientStockError
	assert.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 1, attempts)
}

func TestRetryOptimistic_WrappedConflictStillRetries(t *testing.T) {
	attempts := 0
	err := retryOptimistic(2, func() error {
		attempts++
		return errors.Wrap(errOptimisticConflict, "commit failed")
	})

	assert.ErrorIs(t, err, domain.ErrConflictRetryExhausted)
	assert.Equal(t, 2, attempts)
}
