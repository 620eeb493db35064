// Package baseline measures the public market-data path: it detects
// geo-blocking, times connect and subscribe, and derives the reference
// prices the taker probes need. It is independent of the dual-stream
// measurement; its failure aborts the run before any order is risked,
// never mid-measurement.
package baseline

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"

	"github.com/coveloop/lighterprobe/internal/lighter"
)

// Book is a price-sorted view of one market's depth, keyed by scaled
// integer price so ordering is numeric.
type Book struct {
	bids          *btree.Map[int64, decimal.Decimal]
	asks          *btree.Map[int64, decimal.Decimal]
	priceDecimals int32
}

// NewBook returns an empty book for a market with the given price scale.
func NewBook(priceDecimals int32) *Book {
	return &Book{
		bids:          btree.NewMap[int64, decimal.Decimal](32),
		asks:          btree.NewMap[int64, decimal.Decimal](32),
		priceDecimals: priceDecimals,
	}
}

// ApplySnapshot loads both sides from a subscription snapshot, replacing
// prior state.
func (b *Book) ApplySnapshot(snap lighter.BookSnapshot) error {
	b.bids = btree.NewMap[int64, decimal.Decimal](32)
	b.asks = btree.NewMap[int64, decimal.Decimal](32)
	return b.ApplyUpdate(snap)
}

// ApplyUpdate merges a delta into the book. A zero size removes the
// level, which is how the venue encodes consumed liquidity.
func (b *Book) ApplyUpdate(snap lighter.BookSnapshot) error {
	if err := applySide(b.bids, snap.Bids, b.priceDecimals); err != nil {
		return fmt.Errorf("bids: %w", err)
	}
	if err := applySide(b.asks, snap.Asks, b.priceDecimals); err != nil {
		return fmt.Errorf("asks: %w", err)
	}
	return nil
}

func applySide(side *btree.Map[int64, decimal.Decimal], levels []lighter.PriceLevel, priceDecimals int32) error {
	for _, lvl := range levels {
		price, err := decimal.NewFromString(lvl.Price)
		if err != nil {
			return fmt.Errorf("price %q: %w", lvl.Price, err)
		}
		size, err := decimal.NewFromString(lvl.Size)
		if err != nil {
			return fmt.Errorf("size %q: %w", lvl.Size, err)
		}
		key := lighter.ScaleToUnits(price, priceDecimals)
		if size.IsZero() {
			side.Delete(key)
			continue
		}
		side.Set(key, size)
	}
	return nil
}

// Best returns the highest bid and lowest ask. ok is false when either
// side is empty, which means the market is not tradeable for a probe.
func (b *Book) Best() (bid, ask decimal.Decimal, ok bool) {
	bidKey, _, haveBid := b.bids.Max()
	askKey, _, haveAsk := b.asks.Min()
	if !haveBid || !haveAsk {
		return decimal.Zero, decimal.Zero, false
	}
	return lighter.UnitsToDecimal(bidKey, b.priceDecimals),
		lighter.UnitsToDecimal(askKey, b.priceDecimals),
		true
}

// Depth reports the level counts per side.
func (b *Book) Depth() (bids, asks int) {
	return b.bids.Len(), b.asks.Len()
}
