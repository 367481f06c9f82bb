// Copyright 2023-2024
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package portfolio

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// LotTracker is the per-ticker FIFO queue of lots, ordered by purchase
// timestamp ascending with insertion order breaking ties.
type LotTracker struct {
	Ticker string
	Lots   []*Lot
}

// LotEngine maintains per-ticker lot queues and computes FIFO realized P&L.
// Lot state is derived from the trade log and never persisted; rebuild it
// from trades whenever the log changes.
type LotEngine struct {
	trackers map[string]*LotTracker
}

func NewLotEngine() *LotEngine {
	return &LotEngine{
		trackers: make(map[string]*LotTracker),
	}
}

func (le *LotEngine) tracker(ticker string) *LotTracker {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	tracker, ok := le.trackers[ticker]
	if !ok {
		tracker = &LotTracker{Ticker: ticker}
		le.trackers[ticker] = tracker
	}
	return tracker
}

// AddLot appends a new lot for a buy.
func (le *LotEngine) AddLot(ticker string, shares, price decimal.Decimal, timestamp time.Time, currency string) (*Lot, error) {
	if !shares.IsPositive() || !price.IsPositive() {
		return nil, ErrInvalidTrade
	}

	lot := &Lot{
		LotID:             uuid.New().String(),
		Ticker:            strings.ToUpper(strings.TrimSpace(ticker)),
		OriginalShares:    shares,
		RemainingShares:   shares,
		Price:             price,
		OriginalCostBasis: shares.Mul(price),
		PurchaseTimestamp: timestamp,
		Currency:          currency,
	}

	tracker := le.tracker(ticker)
	tracker.Lots = append(tracker.Lots, lot)
	// keep the queue ordered even when lots arrive out of order; the sort is
	// stable so equal timestamps stay in insertion order
	sort.SliceStable(tracker.Lots, func(i, j int) bool {
		return tracker.Lots[i].PurchaseTimestamp.Before(tracker.Lots[j].PurchaseTimestamp)
	})
	return lot, nil
}

// SellFIFO consumes lots oldest first, returning one slice per lot touched.
// Each slice carries the proportional cost basis so realized P&L sums
// exactly. Fails without mutating when the remaining shares across all lots
// cannot satisfy the sale.
func (le *LotEngine) SellFIFO(ticker string, shares, sellPrice decimal.Decimal, sellTimestamp time.Time) ([]SaleSlice, error) {
	if !shares.IsPositive() || !sellPrice.IsPositive() {
		return nil, ErrInvalidTrade
	}
	if le.RemainingShares(ticker).LessThan(shares) {
		return nil, ErrInsufficientShares
	}

	tracker := le.tracker(ticker)
	slices := make([]SaleSlice, 0, 1)
	toSell := shares

	for _, lot := range tracker.Lots {
		if toSell.IsZero() {
			break
		}
		if lot.RemainingShares.IsZero() {
			continue
		}

		sharesSold := decimal.Min(lot.RemainingShares, toSell)
		var costBasisSold decimal.Decimal
		if sharesSold.Equal(lot.OriginalShares) {
			costBasisSold = lot.OriginalCostBasis
		} else {
			costBasisSold = lot.OriginalCostBasis.Mul(sharesSold).Div(lot.OriginalShares)
		}
		proceeds := sharesSold.Mul(sellPrice)

		slices = append(slices, SaleSlice{
			LotID:         lot.LotID,
			Ticker:        tracker.Ticker,
			SharesSold:    sharesSold,
			CostBasisSold: costBasisSold,
			Proceeds:      proceeds,
			RealizedPnL:   proceeds.Sub(costBasisSold),
		})

		lot.RemainingShares = lot.RemainingShares.Sub(sharesSold)
		toSell = toSell.Sub(sharesSold)
	}

	return slices, nil
}

// RemainingShares sums the unsold shares across all lots for a ticker.
func (le *LotEngine) RemainingShares(ticker string) decimal.Decimal {
	total := decimal.Zero
	tracker, ok := le.trackers[strings.ToUpper(strings.TrimSpace(ticker))]
	if !ok {
		return total
	}
	for _, lot := range tracker.Lots {
		total = total.Add(lot.RemainingShares)
	}
	return total
}

// RemainingCostBasis sums the proportional cost still carried for a ticker.
func (le *LotEngine) RemainingCostBasis(ticker string) decimal.Decimal {
	total := decimal.Zero
	tracker, ok := le.trackers[strings.ToUpper(strings.TrimSpace(ticker))]
	if !ok {
		return total
	}
	for _, lot := range tracker.Lots {
		total = total.Add(lot.RemainingCostBasis())
	}
	return total
}

// AverageCost is remaining cost basis over remaining shares, zero when flat.
func (le *LotEngine) AverageCost(ticker string) decimal.Decimal {
	shares := le.RemainingShares(ticker)
	if shares.IsZero() {
		return decimal.Zero
	}
	return le.RemainingCostBasis(ticker).Div(shares)
}

// Tickers lists every ticker the engine has lots for.
func (le *LotEngine) Tickers() []string {
	tickers := make([]string, 0, len(le.trackers))
	for ticker := range le.trackers {
		tickers = append(tickers, ticker)
	}
	sort.Strings(tickers)
	return tickers
}

// RebuildFromTrades discards all lot state and replays the trade log in
// timestamp order. An unsatisfiable historical sell means the log is
// corrupt; the replay logs it, skips the sell, and continues so callers get
// a best-effort state. Returned issues feed the integrity check.
func (le *LotEngine) RebuildFromTrades(trades []*Trade) []string {
	le.trackers = make(map[string]*LotTracker)

	ordered := make([]*Trade, len(trades))
	copy(ordered, trades)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	var issues []string
	for _, trade := range ordered {
		switch trade.Action {
		case BuyAction:
			if _, err := le.AddLot(trade.Ticker, trade.Shares, trade.Price, trade.Timestamp, trade.Currency); err != nil {
				issues = append(issues, "invalid buy in trade log: "+trade.TradeID)
			}
		case SellAction:
			if _, err := le.SellFIFO(trade.Ticker, trade.Shares, trade.Price, trade.Timestamp); err != nil {
				log.Warn().
					Str("TradeID", trade.TradeID).
					Str("Ticker", trade.Ticker).
					Str("Shares", trade.Shares.String()).
					Msg("historical sell exceeds remaining lots; continuing best effort")
				issues = append(issues, "unsatisfiable historical sell: "+trade.TradeID+" "+trade.Ticker)
			}
		default:
			issues = append(issues, "unknown action in trade log: "+trade.TradeID)
		}
	}
	return issues
}
