package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/eddiefleurent/wheel_tracker/internal/models"
)

// storageData is the full record set, also the JSON file layout.
type storageData struct {
	Trades      []*models.Trade     `json:"trades"`
	StockSales  []*models.StockSale `json:"stock_sales"`
	LastUpdated time.Time           `json:"last_updated"`
}

// clone copies the record slices. Stored records are never mutated in place,
// so sharing the pointers is safe.
func (d *storageData) clone() *storageData {
	return &storageData{
		Trades:      append([]*models.Trade(nil), d.Trades...),
		StockSales:  append([]*models.StockSale(nil), d.StockSales...),
		LastUpdated: d.LastUpdated,
	}
}

func (d *storageData) tradeIndex(id string) int {
	for i, t := range d.Trades {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func (d *storageData) saleIndex(id string) int {
	for i, s := range d.StockSales {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// MemoryStorage keeps records in process memory. Every mutation builds the
// next record set and hands it to commit, which JSONStorage uses to persist
// before the change becomes visible.
type MemoryStorage struct {
	mu     sync.RWMutex
	data   *storageData
	opts   options
	commit func(*storageData) error
}

// NewMemoryStorage creates an empty in-memory store
func NewMemoryStorage(opts ...Option) *MemoryStorage {
	return newMemoryStorage(&storageData{}, applyOptions(opts), nil)
}

func newMemoryStorage(data *storageData, o options, commit func(*storageData) error) *MemoryStorage {
	return &MemoryStorage{data: data, opts: o, commit: commit}
}

// mutate applies fn to a copy of the record set and installs it if fn and commit succeed.
func (s *MemoryStorage) mutate(ctx context.Context, fn func(*storageData) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.data.clone()
	if err := fn(next); err != nil {
		return err
	}
	next.LastUpdated = time.Now().UTC()
	if s.commit != nil {
		if err := s.commit(next); err != nil {
			return err
		}
	}
	s.data = next
	return nil
}

func (s *MemoryStorage) read(ctx context.Context) (*storageData, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	s.mu.RLock()
	return s.data, s.mu.RUnlock, nil
}

// CreateTrade stores a copy of t, assigning an ID when t has none.
func (s *MemoryStorage) CreateTrade(ctx context.Context, t *models.Trade) (string, error) {
	if t.RolledFromID != "" {
		return "", fmt.Errorf("%w: roll successors are created with SaveRoll", ErrRollChain)
	}
	if err := t.ValidateState(); err != nil {
		return "", err
	}

	var id string
	err := s.mutate(ctx, func(d *storageData) error {
		id = t.ID
		if id == "" {
			id = s.opts.newID()
		}
		if d.tradeIndex(id) >= 0 {
			return fmt.Errorf("%w: trade %s", ErrDuplicateID, id)
		}
		stored := t.Copy()
		stored.ID = id
		d.Trades = append(d.Trades, stored)
		return nil
	})
	if err != nil {
		return "", err
	}
	t.ID = id
	return id, nil
}

// GetTrade returns a copy of the trade with the given ID.
func (s *MemoryStorage) GetTrade(ctx context.Context, id string) (*models.Trade, error) {
	d, done, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	i := d.tradeIndex(id)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrTradeNotFound, id)
	}
	return d.Trades[i].Copy(), nil
}

// UpdateTrade replaces the stored trade with a copy of t.
func (s *MemoryStorage) UpdateTrade(ctx context.Context, t *models.Trade) error {
	return s.mutate(ctx, func(d *storageData) error {
		i := d.tradeIndex(t.ID)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrTradeNotFound, t.ID)
		}
		if err := checkUpdate(d.Trades[i], t); err != nil {
			return err
		}
		d.Trades[i] = t.Copy()
		return nil
	})
}

// FindTrade returns the first stored trade matching pred.
func (s *MemoryStorage) FindTrade(ctx context.Context, pred func(*models.Trade) bool) (*models.Trade, error) {
	d, done, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	for _, t := range d.Trades {
		c := t.Copy()
		if pred(c) {
			return c, nil
		}
	}
	return nil, ErrTradeNotFound
}

// ListTrades returns copies of every trade in creation order.
func (s *MemoryStorage) ListTrades(ctx context.Context) ([]*models.Trade, error) {
	return s.filterTrades(ctx, func(*models.Trade) bool { return true })
}

// TradesForTicker returns copies of the ticker's trades in creation order.
func (s *MemoryStorage) TradesForTicker(ctx context.Context, ticker string) ([]*models.Trade, error) {
	return s.filterTrades(ctx, func(t *models.Trade) bool { return t.Ticker == ticker })
}

func (s *MemoryStorage) filterTrades(ctx context.Context, keep func(*models.Trade) bool) ([]*models.Trade, error) {
	d, done, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	out := make([]*models.Trade, 0, len(d.Trades))
	for _, t := range d.Trades {
		if keep(t) {
			out = append(out, t.Copy())
		}
	}
	return out, nil
}

// SaveRoll stores the Rolled predecessor and its new successor together.
func (s *MemoryStorage) SaveRoll(ctx context.Context, rolled, successor *models.Trade) (string, error) {
	var id string
	err := s.mutate(ctx, func(d *storageData) error {
		i := d.tradeIndex(rolled.ID)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrTradeNotFound, rolled.ID)
		}
		if err := checkRoll(d.Trades[i], rolled, successor); err != nil {
			return err
		}

		id = successor.ID
		if id == "" {
			id = s.opts.newID()
		}
		if d.tradeIndex(id) >= 0 {
			return fmt.Errorf("%w: trade %s", ErrDuplicateID, id)
		}

		d.Trades[i] = rolled.Copy()
		stored := successor.Copy()
		stored.ID = id
		d.Trades = append(d.Trades, stored)
		return nil
	})
	if err != nil {
		return "", err
	}
	successor.ID = id
	return id, nil
}

// AddStockSale stores a copy of sale, assigning an ID when it has none.
func (s *MemoryStorage) AddStockSale(ctx context.Context, sale *models.StockSale) (string, error) {
	var id string
	err := s.mutate(ctx, func(d *storageData) error {
		id = sale.ID
		if id == "" {
			id = s.opts.newID()
		}
		if d.saleIndex(id) >= 0 {
			return fmt.Errorf("%w: stock sale %s", ErrDuplicateID, id)
		}
		stored := *sale
		stored.ID = id
		d.StockSales = append(d.StockSales, &stored)
		return nil
	})
	if err != nil {
		return "", err
	}
	sale.ID = id
	return id, nil
}

// StockSales returns the ticker's stock sales in creation order. An empty
// ticker returns every sale.
func (s *MemoryStorage) StockSales(ctx context.Context, ticker string) ([]*models.StockSale, error) {
	d, done, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	out := make([]*models.StockSale, 0)
	for _, sale := range d.StockSales {
		if ticker == "" || sale.Ticker == ticker {
			c := *sale
			out = append(out, &c)
		}
	}
	return out, nil
}

// Reset removes every record
func (s *MemoryStorage) Reset(ctx context.Context) error {
	return s.mutate(ctx, func(d *storageData) error {
		d.Trades = nil
		d.StockSales = nil
		return nil
	})
}

// Close is a no-op for the in-memory store
func (s *MemoryStorage) Close() error {
	return nil
}
