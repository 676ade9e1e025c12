// Package storage persists wheel trades and stock sales.
package storage

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/eddiefleurent/wheel_tracker/internal/models"
	"github.com/google/uuid"
)

// Interface defines the contract for trade and stock sale persistence.
//
// Implementations must be safe for concurrent use. Trades are returned as
// copies; mutating a returned trade has no effect until it is passed to
// UpdateTrade. Listing methods return records in creation order.
type Interface interface {
	// CreateTrade stores a new trade. An empty ID is filled in and written
	// back to t. Returns the stored ID.
	CreateTrade(ctx context.Context, t *models.Trade) (string, error)
	GetTrade(ctx context.Context, id string) (*models.Trade, error)
	// UpdateTrade replaces a stored trade. Terminal trades are final and
	// fields fixed at creation cannot change.
	UpdateTrade(ctx context.Context, t *models.Trade) error
	// FindTrade returns the first trade, in creation order, matching pred.
	FindTrade(ctx context.Context, pred func(*models.Trade) bool) (*models.Trade, error)
	ListTrades(ctx context.Context) ([]*models.Trade, error)
	TradesForTicker(ctx context.Context, ticker string) ([]*models.Trade, error)
	// SaveRoll atomically stores a Rolled predecessor and creates its
	// successor. The stored predecessor must still be Open.
	SaveRoll(ctx context.Context, rolled, successor *models.Trade) (string, error)

	AddStockSale(ctx context.Context, sale *models.StockSale) (string, error)
	StockSales(ctx context.Context, ticker string) ([]*models.StockSale, error)

	// Reset removes every record.
	Reset(ctx context.Context) error
	Close() error
}

// Backend names accepted by New.
const (
	BackendMemory = "memory"
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// Option configures a storage implementation.
type Option func(*options)

type options struct {
	newID func() string
}

func defaultOptions() options {
	return options{newID: uuid.NewString}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithIDGenerator replaces the UUID generator used for new records.
func WithIDGenerator(fn func() string) Option {
	return func(o *options) {
		if fn != nil {
			o.newID = fn
		}
	}
}

// SequentialIDs returns a generator producing prefix-1, prefix-2, ...
func SequentialIDs(prefix string) func() string {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("%s-%d", prefix, n.Add(1))
	}
}

// New creates the storage backend named by backend.
func New(backend, path string, opts ...Option) (Interface, error) {
	switch backend {
	case BackendMemory, "":
		return NewMemoryStorage(opts...), nil
	case BackendJSON:
		return NewJSONStorage(path, opts...)
	case BackendSQLite:
		return NewSQLiteStorage(path, opts...)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

// Ensure implementations satisfy Interface
var (
	_ Interface = (*MemoryStorage)(nil)
	_ Interface = (*JSONStorage)(nil)
	_ Interface = (*SQLiteStorage)(nil)
	_ Interface = (*ResilientStorage)(nil)
)

// checkUpdate enforces the rules shared by every backend for replacing stored with next.
func checkUpdate(stored, next *models.Trade) error {
	if stored.Status.IsTerminal() {
		return fmt.Errorf("trade %s is %s: %w", stored.ID, stored.Status, models.ErrInvalidTransition)
	}
	if next.Status == models.StatusOpen && stored.Status != models.StatusOpen {
		return fmt.Errorf("trade %s cannot re-enter Open: %w", stored.ID, models.ErrInvalidTransition)
	}
	switch {
	case !stored.Strike.Equal(next.Strike):
		return fmt.Errorf("%w: strike of trade %s", ErrImmutableField, stored.ID)
	case stored.Contracts != next.Contracts:
		return fmt.Errorf("%w: contracts of trade %s", ErrImmutableField, stored.ID)
	case stored.Ticker != next.Ticker:
		return fmt.Errorf("%w: ticker of trade %s", ErrImmutableField, stored.ID)
	case stored.Side != next.Side:
		return fmt.Errorf("%w: side of trade %s", ErrImmutableField, stored.ID)
	case stored.RolledFromID != next.RolledFromID:
		return fmt.Errorf("%w: rolled_from_id of trade %s", ErrImmutableField, stored.ID)
	}
	return next.ValidateState()
}

// checkRoll validates a roll against the stored predecessor.
func checkRoll(stored, rolled, successor *models.Trade) error {
	if rolled.Status != models.StatusRolled {
		return fmt.Errorf("%w: trade %s is %s, not Rolled", ErrRollChain, rolled.ID, rolled.Status)
	}
	if successor.RolledFromID != rolled.ID {
		return fmt.Errorf("%w: successor must reference %s, got %q", ErrRollChain, rolled.ID, successor.RolledFromID)
	}
	if successor.Status != models.StatusOpen {
		return fmt.Errorf("%w: successor must be Open, got %s", ErrRollChain, successor.Status)
	}
	if err := checkUpdate(stored, rolled); err != nil {
		return err
	}
	return successor.ValidateState()
}
