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
	"strings"
	"time"

	"github.com/fundfolio/ff-api/common"
	"github.com/shopspring/decimal"
)

type TradeAction string

const (
	BuyAction  TradeAction = "BUY"
	SellAction TradeAction = "SELL"
)

// Persistence scales. Shares carry four decimal places, monetary values two,
// rounded half-up at write time only; in-memory math stays arbitrary
// precision.
const (
	SharesScale = 4
	MoneyScale  = 2
)

// RoundShares renders a share quantity at its persistence scale.
func RoundShares(d decimal.Decimal) decimal.Decimal {
	return d.Round(SharesScale)
}

// RoundMoney renders a monetary value at its persistence scale.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyScale)
}

// Trade is an immutable record of one transaction. CostBasis equals
// shares*price at creation; RealizedPnL is set only on sells.
type Trade struct {
	TradeID     string              `json:"tradeId"`
	SourceID    string              `json:"sourceId"`
	Fund        string              `json:"fund"`
	Ticker      string              `json:"ticker"`
	Action      TradeAction         `json:"action"`
	Shares      decimal.Decimal     `json:"shares"`
	Price       decimal.Decimal     `json:"price"`
	Timestamp   time.Time           `json:"timestamp"`
	CostBasis   decimal.Decimal     `json:"costBasis"`
	RealizedPnL decimal.NullDecimal `json:"realizedPnL"`
	Reason      string              `json:"reason"`
	Currency    string              `json:"currency"`
}

// Validate checks the fields every trade must carry.
func (t *Trade) Validate() error {
	if strings.TrimSpace(t.Ticker) == "" {
		return ErrInvalidTrade
	}
	if !t.Shares.IsPositive() || !t.Price.IsPositive() {
		return ErrInvalidTrade
	}
	if t.Action != BuyAction && t.Action != SellAction {
		return ErrInvalidTrade
	}
	if t.Timestamp.IsZero() {
		return ErrInvalidTrade
	}
	return nil
}

// InferAction classifies a journal entry from its free-text reason. Entries
// whose reason mentions selling are sells; everything else is a buy.
func InferAction(reason string) TradeAction {
	lowered := strings.ToLower(reason)
	if strings.Contains(lowered, "sell") {
		return SellAction
	}
	return BuyAction
}

// Lot is the remaining slice of one BUY held in the FIFO queue. Fully
// consumed lots stay in the tracker for audit but are skipped by sells.
type Lot struct {
	LotID             string          `json:"lotId"`
	Ticker            string          `json:"ticker"`
	OriginalShares    decimal.Decimal `json:"originalShares"`
	RemainingShares   decimal.Decimal `json:"remainingShares"`
	Price             decimal.Decimal `json:"price"`
	OriginalCostBasis decimal.Decimal `json:"originalCostBasis"`
	PurchaseTimestamp time.Time       `json:"purchaseTimestamp"`
	Currency          string          `json:"currency"`
}

// RemainingCostBasis is the cost still carried by the unsold portion,
// proportional to the original basis.
func (l *Lot) RemainingCostBasis() decimal.Decimal {
	if l.OriginalShares.IsZero() || l.RemainingShares.IsZero() {
		return decimal.Zero
	}
	if l.RemainingShares.Equal(l.OriginalShares) {
		return l.OriginalCostBasis
	}
	return l.OriginalCostBasis.Mul(l.RemainingShares).Div(l.OriginalShares)
}

// SaleSlice records how one sell consumed part of one lot.
type SaleSlice struct {
	LotID         string          `json:"lotId"`
	Ticker        string          `json:"ticker"`
	SharesSold    decimal.Decimal `json:"sharesSold"`
	CostBasisSold decimal.Decimal `json:"costBasisSold"`
	Proceeds      decimal.Decimal `json:"proceeds"`
	RealizedPnL   decimal.Decimal `json:"realizedPnL"`
}

// Position is the net holding of one ticker at a snapshot instant. A
// zero-share position is a closed position and stays in the snapshot so a
// later re-open keeps its history.
type Position struct {
	Ticker        string          `json:"ticker"`
	Company       string          `json:"company"`
	Shares        decimal.Decimal `json:"shares"`
	AvgPrice      decimal.Decimal `json:"avgPrice"`
	CostBasis     decimal.Decimal `json:"costBasis"`
	Currency      string          `json:"currency"`
	CurrentPrice  decimal.Decimal `json:"currentPrice"`
	MarketValue   decimal.Decimal `json:"marketValue"`
	UnrealizedPnL decimal.Decimal `json:"unrealizedPnL"`
	StopLoss      decimal.Decimal `json:"stopLoss"`
}

func (p *Position) Closed() bool {
	return p.Shares.IsZero()
}

// ApplyPrice recomputes the derived market fields from a new price.
func (p *Position) ApplyPrice(price decimal.Decimal) {
	p.CurrentPrice = price
	p.MarketValue = price.Mul(p.Shares)
	p.UnrealizedPnL = p.MarketValue.Sub(p.CostBasis)
}

// Clone returns a copy so snapshot mutations never alias older snapshots.
func (p *Position) Clone() *Position {
	dup := *p
	return &dup
}

// PortfolioSnapshot is the set of positions for one fund at one instant.
// Market-close snapshots are normalized to 16:00 eastern before storage.
type PortfolioSnapshot struct {
	SnapshotID  string          `json:"snapshotId"`
	Fund        string          `json:"fund"`
	Timestamp   time.Time       `json:"timestamp"`
	Positions   []*Position     `json:"positions"`
	TotalValue  decimal.Decimal `json:"totalValue"`
	CashBalance decimal.Decimal `json:"cashBalance"`
	TotalShares decimal.Decimal `json:"totalShares"`
}

// IsMarketClose reports whether the snapshot carries the official 16:00
// eastern close timestamp.
func (s *PortfolioSnapshot) IsMarketClose() bool {
	return common.IsMarketCloseTimestamp(s.Timestamp)
}

// FindPosition returns the position for a ticker, closed positions included.
func (s *PortfolioSnapshot) FindPosition(ticker string) *Position {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	for _, pos := range s.Positions {
		if pos.Ticker == ticker {
			return pos
		}
	}
	return nil
}

// Clone deep-copies the snapshot.
func (s *PortfolioSnapshot) Clone() *PortfolioSnapshot {
	dup := *s
	dup.Positions = make([]*Position, 0, len(s.Positions))
	for _, pos := range s.Positions {
		dup.Positions = append(dup.Positions, pos.Clone())
	}
	return &dup
}

// RecomputeTotals refreshes the aggregate fields from the positions.
func (s *PortfolioSnapshot) RecomputeTotals() {
	total := decimal.Zero
	shares := decimal.Zero
	for _, pos := range s.Positions {
		total = total.Add(pos.MarketValue)
		shares = shares.Add(pos.Shares)
	}
	s.TotalValue = total
	s.TotalShares = shares
}

// MarketData is one OHLCV observation for a ticker on a date, tagged with
// the vendor stage it came from.
type MarketData struct {
	Ticker   string          `json:"ticker"`
	Date     time.Time       `json:"date"`
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	AdjClose decimal.Decimal `json:"adjClose"`
	Volume   int64           `json:"volume"`
	Source   string          `json:"source"`
}
