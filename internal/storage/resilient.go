package storage

import (
	"context"
	"errors"
	"time"

	"github.com/eddiefleurent/wheel_tracker/internal/models"
	"github.com/eddiefleurent/wheel_tracker/internal/retry"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// CircuitBreakerSettings configures circuit breaker behavior
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Minimum requests before tripping
	FailureRatio float64       // Failure ratio to trip circuit
}

// DefaultCircuitBreakerSettings trips after repeated store failures.
var DefaultCircuitBreakerSettings = CircuitBreakerSettings{
	MaxRequests:  3,
	Interval:     60 * time.Second,
	Timeout:      30 * time.Second,
	MinRequests:  5,
	FailureRatio: 0.6,
}

// ResilientStorage wraps a store with retries for transient errors and a
// circuit breaker that fails fast while the store keeps failing. Domain
// errors (not found, invalid transition) do not count as failures.
type ResilientStorage struct {
	inner   Interface
	breaker *gobreaker.CircuitBreaker
	retry   *retry.Client
}

// NewResilientStorage wraps inner with the given retry client and breaker settings.
func NewResilientStorage(inner Interface, retrier *retry.Client, settings CircuitBreakerSettings, logger *logrus.Logger) *ResilientStorage {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if retrier == nil {
		retrier = retry.NewClient(logger)
	}

	gbSettings := gobreaker.Settings{
		Name:        "TradeStoreCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		IsSuccessful: isStoreHealthy,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	}

	return &ResilientStorage{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
		retry:   retrier,
	}
}

// isStoreHealthy treats domain rejections as successful store calls.
func isStoreHealthy(err error) bool {
	if err == nil {
		return true
	}
	for _, domain := range []error{
		ErrTradeNotFound, ErrDuplicateID, ErrImmutableField, ErrRollChain,
		models.ErrInvalidTransition, models.ErrInvalidTrade,
		context.Canceled, context.DeadlineExceeded,
	} {
		if errors.Is(err, domain) {
			return true
		}
	}
	return false
}

// State reports the circuit breaker state
func (r *ResilientStorage) State() gobreaker.State {
	return r.breaker.State()
}

// Unwrap returns the wrapped store
func (r *ResilientStorage) Unwrap() Interface {
	return r.inner
}

func execStore[T any](ctx context.Context, r *ResilientStorage, op string, fn func(context.Context, Interface) (T, error)) (T, error) {
	var zero T
	res, err := r.breaker.Execute(func() (interface{}, error) {
		return retry.Do(ctx, r.retry, op, func(ctx context.Context) (T, error) {
			return fn(ctx, r.inner)
		})
	})
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// CreateTrade wraps the underlying store call
func (r *ResilientStorage) CreateTrade(ctx context.Context, t *models.Trade) (string, error) {
	return execStore(ctx, r, "create trade", func(ctx context.Context, s Interface) (string, error) {
		return s.CreateTrade(ctx, t)
	})
}

// GetTrade wraps the underlying store call
func (r *ResilientStorage) GetTrade(ctx context.Context, id string) (*models.Trade, error) {
	return execStore(ctx, r, "get trade", func(ctx context.Context, s Interface) (*models.Trade, error) {
		return s.GetTrade(ctx, id)
	})
}

// UpdateTrade wraps the underlying store call
func (r *ResilientStorage) UpdateTrade(ctx context.Context, t *models.Trade) error {
	_, err := execStore(ctx, r, "update trade", func(ctx context.Context, s Interface) (struct{}, error) {
		return struct{}{}, s.UpdateTrade(ctx, t)
	})
	return err
}

// FindTrade wraps the underlying store call
func (r *ResilientStorage) FindTrade(ctx context.Context, pred func(*models.Trade) bool) (*models.Trade, error) {
	return execStore(ctx, r, "find trade", func(ctx context.Context, s Interface) (*models.Trade, error) {
		return s.FindTrade(ctx, pred)
	})
}

// ListTrades wraps the underlying store call
func (r *ResilientStorage) ListTrades(ctx context.Context) ([]*models.Trade, error) {
	return execStore(ctx, r, "list trades", func(ctx context.Context, s Interface) ([]*models.Trade, error) {
		return s.ListTrades(ctx)
	})
}

// TradesForTicker wraps the underlying store call
func (r *ResilientStorage) TradesForTicker(ctx context.Context, ticker string) ([]*models.Trade, error) {
	return execStore(ctx, r, "trades for ticker", func(ctx context.Context, s Interface) ([]*models.Trade, error) {
		return s.TradesForTicker(ctx, ticker)
	})
}

// SaveRoll wraps the underlying store call
func (r *ResilientStorage) SaveRoll(ctx context.Context, rolled, successor *models.Trade) (string, error) {
	return execStore(ctx, r, "save roll", func(ctx context.Context, s Interface) (string, error) {
		return s.SaveRoll(ctx, rolled, successor)
	})
}

// AddStockSale wraps the underlying store call
func (r *ResilientStorage) AddStockSale(ctx context.Context, sale *models.StockSale) (string, error) {
	return execStore(ctx, r, "add stock sale", func(ctx context.Context, s Interface) (string, error) {
		return s.AddStockSale(ctx, sale)
	})
}

// StockSales wraps the underlying store call
func (r *ResilientStorage) StockSales(ctx context.Context, ticker string) ([]*models.StockSale, error) {
	return execStore(ctx, r, "stock sales", func(ctx context.Context, s Interface) ([]*models.StockSale, error) {
		return s.StockSales(ctx, ticker)
	})
}

// Reset wraps the underlying store call
func (r *ResilientStorage) Reset(ctx context.Context) error {
	_, err := execStore(ctx, r, "reset", func(ctx context.Context, s Interface) (struct{}, error) {
		return struct{}{}, s.Reset(ctx)
	})
	return err
}

// Close closes the wrapped store
func (r *ResilientStorage) Close() error {
	return r.inner.Close()
}
