package reconcile

import (
	"fmt"
	"sort"

	"github.com/eddiefleurent/wheel_tracker/internal/models"
	"github.com/eddiefleurent/wheel_tracker/internal/symbol"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// strikeTolerance bounds how far a wheel-aware match may sit from the requested strike.
var strikeTolerance = decimal.RequireFromString("0.01")

// PositionKey identifies an open option by its contract terms. Strike and
// expiration are held in canonical string form so equal contracts compare equal.
type PositionKey struct {
	Ticker     string           `json:"ticker"`
	Strike     string           `json:"strike"`
	Expiration string           `json:"expiration"`
	Side       models.TradeSide `json:"side"`
}

// NewPositionKey builds a key from contract terms.
func NewPositionKey(ticker string, strike decimal.Decimal, expiration models.Date, side models.TradeSide) PositionKey {
	return PositionKey{
		Ticker:     ticker,
		Strike:     strike.String(),
		Expiration: expiration.String(),
		Side:       side,
	}
}

// KeyOf returns the key of a parsed contract
func KeyOf(c symbol.Contract) PositionKey {
	return NewPositionKey(c.Ticker, c.Strike, c.Expiration, c.Side)
}

// KeyOfTrade returns the key a trade is indexed under
func KeyOfTrade(t *models.Trade) PositionKey {
	return NewPositionKey(t.Ticker, t.Strike, t.ExpirationDate, t.Side)
}

func (k PositionKey) String() string {
	return fmt.Sprintf("(%s, %s, %s, %s)", k.Ticker, k.Strike, k.Expiration, k.Side)
}

func (k PositionKey) strike() decimal.Decimal {
	v, err := decimal.NewFromString(k.Strike)
	if err != nil {
		return decimal.Zero
	}
	return v
}

// OpenPosition is one index entry.
type OpenPosition struct {
	Key     PositionKey `json:"key"`
	TradeID string      `json:"trade_id"`
}

// OpenPositionIndex maps contract keys to the ID of the trade currently
// open under that key. It belongs to a single reconciliation run and is not
// safe for concurrent use.
type OpenPositionIndex struct {
	entries map[PositionKey]string
	logger  *logrus.Logger
}

// NewOpenPositionIndex creates an empty index
func NewOpenPositionIndex(logger *logrus.Logger) *OpenPositionIndex {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &OpenPositionIndex{
		entries: make(map[PositionKey]string),
		logger:  logger,
	}
}

// LookupExact returns the trade indexed under key.
func (x *OpenPositionIndex) LookupExact(key PositionKey) (string, bool) {
	id, ok := x.entries[key]
	return id, ok
}

// LookupWheelAware returns the trade for key and the key it was found under.
//
// When key is absent and names a covered call on a ticker whose wheel root
// (an indexed put) is present, an indexed call on the same ticker and
// expiration whose strike is within strikeTolerance is accepted instead.
// Only entries already in the index are ever returned.
func (x *OpenPositionIndex) LookupWheelAware(key PositionKey) (string, PositionKey, bool) {
	if id, ok := x.entries[key]; ok {
		return id, key, true
	}
	if key.Side != models.SideSellCall || !x.hasWheelRoot(key.Ticker) {
		return "", PositionKey{}, false
	}

	want := key.strike()
	var (
		best     PositionKey
		bestDiff decimal.Decimal
		found    bool
	)
	for _, k := range x.sortedKeys() {
		if k.Ticker != key.Ticker || k.Side != models.SideSellCall || k.Expiration != key.Expiration {
			continue
		}
		diff := k.strike().Sub(want).Abs()
		if diff.GreaterThan(strikeTolerance) {
			continue
		}
		if !found || diff.LessThan(bestDiff) {
			best, bestDiff, found = k, diff, true
		}
	}
	if !found {
		return "", PositionKey{}, false
	}

	id := x.entries[best]
	x.logger.WithFields(logrus.Fields{
		"requested": key.String(),
		"matched":   best.String(),
		"trade_id":  id,
	}).Info("Wheel-aware lookup matched a covered call under a different key")
	return id, best, true
}

func (x *OpenPositionIndex) hasWheelRoot(ticker string) bool {
	for k := range x.entries {
		if k.Ticker == ticker && k.Side == models.SideSellPut {
			return true
		}
	}
	return false
}

// Insert indexes id under key, replacing any previous entry.
func (x *OpenPositionIndex) Insert(key PositionKey, id string) {
	if prev, ok := x.entries[key]; ok && prev != id {
		x.logger.WithFields(logrus.Fields{
			"key":      key.String(),
			"previous": prev,
			"trade_id": id,
		}).Warn("Replacing open position already indexed under the same key")
	}
	x.entries[key] = id
}

// Remove drops key from the index
func (x *OpenPositionIndex) Remove(key PositionKey) {
	delete(x.entries, key)
}

// RemoveAllForTicker drops every entry for ticker and returns how many were removed.
func (x *OpenPositionIndex) RemoveAllForTicker(ticker string) int {
	removed := 0
	for k := range x.entries {
		if k.Ticker == ticker {
			delete(x.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of indexed positions
func (x *OpenPositionIndex) Len() int {
	return len(x.entries)
}

// Open returns every entry sorted by ticker, side, expiration and strike.
func (x *OpenPositionIndex) Open() []OpenPosition {
	keys := x.sortedKeys()
	out := make([]OpenPosition, 0, len(keys))
	for _, k := range keys {
		out = append(out, OpenPosition{Key: k, TradeID: x.entries[k]})
	}
	return out
}

func (x *OpenPositionIndex) sortedKeys() []PositionKey {
	keys := make([]PositionKey, 0, len(x.entries))
	for k := range x.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Ticker != b.Ticker {
			return a.Ticker < b.Ticker
		}
		if a.Side != b.Side {
			return a.Side < b.Side
		}
		if a.Expiration != b.Expiration {
			return a.Expiration < b.Expiration
		}
		return a.strike().LessThan(b.strike())
	})
	return keys
}
