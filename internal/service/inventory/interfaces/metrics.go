// internal/service/inventory/interfaces/metrics.go
package interfaces

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"stockpile/internal/service/inventory/domain"
)

var reservationAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "stockpile_reservation_attempts_total",
	Help: "Reservation operations by outcome.",
}, []string{"operation", "result"})

// observeReservation 按操作和结果打点
func observeReservation(operation string, err error) {
	reservationAttempts.WithLabelValues(operation, resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	var insufficientErr *domain.InsufficientStockError
	var policyErr *domain.PolicyViolationError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &insufficientErr):
		return "insufficient_stock"
	case errors.As(err, &policyErr):
		return "policy_rejected"
	case errors.Is(err, domain.ErrConflictRetryExhausted):
		return "conflict"
	case errors.Is(err, domain.ErrProductNotFound), errors.Is(err, domain.ErrReservationNotFound):
		return "not_found"
	default:
		return "error"
	}
}
