package metrics

import (
	"errors"

	"github.com/makkenzo/redeem-key-service/internal/domain/redeemkey"
	"github.com/makkenzo/redeem-key-service/internal/ierr"
	"github.com/makkenzo/redeem-key-service/internal/storage/connector"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	KeyOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redeemkey_operations_total",
		Help: "Key lifecycle operations by operation and outcome",
	}, []string{"operation", "outcome"})

	StoreAcquires = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redeemkey_store_acquire_total",
		Help: "Store connector acquisitions by result",
	}, []string{"backend", "result"})

	StoreConnectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redeemkey_store_connect_attempts_total",
		Help: "Store dial attempts made by the connector",
	}, []string{"backend"})

	KeysByState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "redeemkey_keys",
		Help: "Keys per lifecycle state as of the last inventory report",
	}, []string{"state"})

	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "redeemkey_rate_limited_total",
		Help: "Requests rejected by the rate limiter",
	})
)

// Outcome maps an operation error to a low-cardinality label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ierr.ErrNotFound):
		return "not_found"
	case errors.Is(err, ierr.ErrAlreadyBound):
		return "already_bound"
	case errors.Is(err, ierr.ErrNotBound):
		return "not_bound"
	case errors.Is(err, ierr.ErrNotBoundToIdentity):
		return "not_bound_to_identity"
	case errors.Is(err, ierr.ErrExpired):
		return "expired"
	case errors.Is(err, ierr.ErrNotWildcard):
		return "not_wildcard"
	case errors.Is(err, ierr.ErrWildcardUnbindDenied):
		return "wildcard_unbind_denied"
	case errors.Is(err, ierr.ErrKeyExists):
		return "key_exists"
	case errors.Is(err, ierr.ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, ierr.ErrInvalidArgument):
		return "invalid_argument"
	default:
		return "internal"
	}
}

func ObserveOperation(operation string, err error) {
	KeyOperations.WithLabelValues(operation, Outcome(err)).Inc()
}

func ObserveAcquire(backend string, st connector.Status, err error) {
	if st.Attempts > 0 && !st.Shared {
		StoreConnectAttempts.WithLabelValues(backend).Add(float64(st.Attempts))
	}

	result := "reused"
	switch {
	case err != nil:
		result = "unavailable"
	case st.Connected:
		result = "connected"
	case st.Shared:
		result = "shared"
	}
	StoreAcquires.WithLabelValues(backend, result).Inc()
}

func SetInventory(inv redeemkey.Inventory) {
	KeysByState.WithLabelValues("total").Set(float64(inv.Total))
	KeysByState.WithLabelValues("unbound").Set(float64(inv.Unbound))
	KeysByState.WithLabelValues("bound").Set(float64(inv.Bound))
	KeysByState.WithLabelValues("wildcard").Set(float64(inv.Wildcard))
	KeysByState.WithLabelValues("wildcard_expired").Set(float64(inv.ExpiredWildcard))
}
