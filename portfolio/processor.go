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
	"context"
	"errors"
	"strings"
	"time"

	"github.com/fundfolio/ff-api/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// dustThreshold is the market value below which a residual position is
// offered for auto-close after a sell.
var dustThreshold = decimal.NewFromInt(1)

// TradeProcessor executes buys and sells against the current snapshot,
// persists the trade log, and hands backdated trades to the rebuilder.
// AutoCloseDust controls whether sub-dollar remainders after a sell are
// zeroed out with a cleanup trade.
type TradeProcessor struct {
	repo          Repository
	prices        *PriceService
	rebuilder     *HistoricalRebuilder
	lots          *LotEngine
	baseCurrency  string
	AutoCloseDust bool
}

func NewTradeProcessor(repo Repository, prices *PriceService, rebuilder *HistoricalRebuilder, baseCurrency string) *TradeProcessor {
	return &TradeProcessor{
		repo:         repo,
		prices:       prices,
		rebuilder:    rebuilder,
		lots:         NewLotEngine(),
		baseCurrency: baseCurrency,
	}
}

// reloadLots rebuilds FIFO state from the trade log.
func (tp *TradeProcessor) reloadLots(ctx context.Context) error {
	trades, err := tp.repo.GetTradeHistory(ctx, "", nil)
	if err != nil {
		return err
	}
	if issues := tp.lots.RebuildFromTrades(trades); len(issues) > 0 {
		log.Warn().Str("Fund", tp.repo.FundID()).Strs("Issues", issues).Msg("trade log replay found inconsistencies")
	}
	return nil
}

func (tp *TradeProcessor) newTrade(ticker string, action TradeAction, shares, price decimal.Decimal, timestamp time.Time, reason, currency string) *Trade {
	if currency == "" {
		currency = tp.baseCurrency
	}
	trade := &Trade{
		TradeID:   uuid.New().String(),
		Fund:      tp.repo.FundID(),
		Ticker:    strings.ToUpper(strings.TrimSpace(ticker)),
		Action:    action,
		Shares:    shares,
		Price:     price,
		Timestamp: timestamp,
		CostBasis: shares.Mul(price),
		Reason:    reason,
		Currency:  currency,
	}
	trade.SourceID = ComputeTradeSourceID(trade)
	return trade
}

// ExecuteBuy validates and records a purchase, averaging the new cost into
// the current snapshot. Backdated buys hand off to the rebuilder instead of
// mutating the current snapshot.
func (tp *TradeProcessor) ExecuteBuy(ctx context.Context, ticker string, shares, price decimal.Decimal, timestamp time.Time, reason, currency string) (*Trade, error) {
	trade := tp.newTrade(ticker, BuyAction, shares, price, timestamp, reason, currency)
	if err := trade.Validate(); err != nil {
		return nil, err
	}

	tp.adviseCash(ctx, trade)

	if err := tp.ProcessTradeEntry(ctx, trade, true, false); err != nil {
		return nil, err
	}
	return trade, nil
}

// ExecuteSell validates sufficiency against the FIFO lots, computes realized
// P&L, and records the sale.
func (tp *TradeProcessor) ExecuteSell(ctx context.Context, ticker string, shares, price decimal.Decimal, timestamp time.Time, reason, currency string) (*Trade, []SaleSlice, error) {
	trade := tp.newTrade(ticker, SellAction, shares, price, timestamp, reason, currency)
	if err := trade.Validate(); err != nil {
		return nil, nil, err
	}

	if err := tp.reloadLots(ctx); err != nil {
		return nil, nil, err
	}

	slices, err := tp.lots.SellFIFO(trade.Ticker, shares, price, timestamp)
	if err != nil {
		return nil, nil, err
	}

	realized := decimal.Zero
	for _, slice := range slices {
		realized = realized.Add(slice.RealizedPnL)
	}
	trade.RealizedPnL = decimal.NewNullDecimal(realized)

	if err := tp.ProcessTradeEntry(ctx, trade, true, false); err != nil {
		return nil, nil, err
	}
	return trade, slices, nil
}

// ExecuteStopLossSell closes the full position at the stop price; the reason
// marks the trade as a stop-loss execution.
func (tp *TradeProcessor) ExecuteStopLossSell(ctx context.Context, ticker string, stopPrice decimal.Decimal, timestamp time.Time) (*Trade, []SaleSlice, error) {
	if err := tp.reloadLots(ctx); err != nil {
		return nil, nil, err
	}

	held := tp.lots.RemainingShares(ticker)
	if !held.IsPositive() {
		return nil, nil, ErrInsufficientShares
	}
	return tp.ExecuteSell(ctx, ticker, held, stopPrice, timestamp, "stop loss sell", "")
}

// ProcessTradeEntry persists the trade (unless the caller already did),
// applies it to the latest snapshot, and triggers a rebuild when backdated.
func (tp *TradeProcessor) ProcessTradeEntry(ctx context.Context, trade *Trade, clearCaches, alreadySaved bool) error {
	if err := trade.Validate(); err != nil {
		return err
	}

	if !alreadySaved {
		if _, err := tp.repo.SaveTrade(ctx, trade); err != nil {
			return err
		}
	}

	if clearCaches {
		defer tp.prices.InvalidateCaches()
	}

	// a backdated trade invalidates every snapshot from its date forward;
	// the rebuild regenerates them and the current snapshot is not touched
	// directly
	if common.CalendarDate(trade.Timestamp).Before(common.CalendarDate(time.Now())) {
		log.Info().
			Str("Fund", trade.Fund).
			Str("Ticker", trade.Ticker).
			Time("TradeDate", trade.Timestamp).
			Msg("backdated trade; rebuilding snapshots")
		return tp.rebuilder.RebuildFrom(ctx, trade.Timestamp)
	}

	snapshot, err := tp.latestOrEmpty(ctx, trade.Timestamp)
	if err != nil {
		return err
	}

	switch trade.Action {
	case BuyAction:
		tp.applyBuy(snapshot, trade)
	case SellAction:
		tp.applySell(snapshot, trade)
	}
	snapshot.RecomputeTotals()

	if _, err := tp.repo.SavePortfolioSnapshot(ctx, snapshot, true); err != nil {
		return err
	}

	if trade.Action == SellAction {
		if err := tp.repo.UpdateTickerInFutureSnapshots(ctx, trade.Ticker, trade.Timestamp); err != nil {
			log.Warn().Err(err).Str("Ticker", trade.Ticker).Msg("could not propagate sell to later snapshots")
		}
		tp.closeDust(ctx, snapshot, trade)
	}

	return nil
}

// latestOrEmpty returns a copy of the latest snapshot stamped with the trade
// time, or a fresh snapshot when the fund has none.
func (tp *TradeProcessor) latestOrEmpty(ctx context.Context, at time.Time) (*PortfolioSnapshot, error) {
	latest, err := tp.repo.GetLatestPortfolioSnapshot(ctx)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return &PortfolioSnapshot{
				SnapshotID: uuid.New().String(),
				Fund:       tp.repo.FundID(),
				Timestamp:  at,
			}, nil
		}
		return nil, err
	}

	snapshot := latest.Clone()
	snapshot.SnapshotID = uuid.New().String()
	snapshot.Timestamp = at
	return snapshot, nil
}

// applyBuy averages the new cost into the position, re-opening a closed row
// when present.
func (tp *TradeProcessor) applyBuy(snapshot *PortfolioSnapshot, trade *Trade) {
	pos := snapshot.FindPosition(trade.Ticker)
	if pos == nil {
		pos = &Position{Ticker: trade.Ticker, Currency: trade.Currency}
		if name, ok := tp.prices.CompanyName(trade.Ticker); ok {
			pos.Company = name
		}
		snapshot.Positions = append(snapshot.Positions, pos)
	}

	pos.Shares = pos.Shares.Add(trade.Shares)
	pos.CostBasis = pos.CostBasis.Add(trade.CostBasis)
	pos.AvgPrice = pos.CostBasis.Div(pos.Shares)
	pos.ApplyPrice(trade.Price)
}

// applySell reduces the position at unchanged average price; a fully sold
// position is kept as a zero-share row.
func (tp *TradeProcessor) applySell(snapshot *PortfolioSnapshot, trade *Trade) {
	pos := snapshot.FindPosition(trade.Ticker)
	if pos == nil {
		log.Warn().Str("Ticker", trade.Ticker).Msg("sell for ticker missing from snapshot")
		return
	}

	pos.Shares = pos.Shares.Sub(trade.Shares)
	if pos.Shares.IsPositive() {
		pos.CostBasis = pos.AvgPrice.Mul(pos.Shares)
		pos.ApplyPrice(trade.Price)
		return
	}

	pos.Shares = decimal.Zero
	pos.CostBasis = decimal.Zero
	pos.AvgPrice = decimal.Zero
	pos.MarketValue = decimal.Zero
	pos.UnrealizedPnL = decimal.Zero
	pos.StopLoss = decimal.Zero
}

// closeDust appends a cleanup sell when a residual position is worth less
// than a dollar.
func (tp *TradeProcessor) closeDust(ctx context.Context, snapshot *PortfolioSnapshot, trade *Trade) {
	pos := snapshot.FindPosition(trade.Ticker)
	if pos == nil || pos.Closed() {
		return
	}
	value := trade.Price.Mul(pos.Shares)
	if value.GreaterThanOrEqual(dustThreshold) {
		return
	}

	if !tp.AutoCloseDust {
		log.Warn().
			Str("Ticker", trade.Ticker).
			Str("Shares", pos.Shares.String()).
			Str("Value", RoundMoney(value).String()).
			Msg("residual dust position left open; rerun with auto-close to zero it out")
		return
	}

	log.Info().Str("Ticker", trade.Ticker).Str("Shares", pos.Shares.String()).Msg("auto-closing dust position")
	cleanup := tp.newTrade(trade.Ticker, SellAction, pos.Shares, trade.Price, trade.Timestamp, "sell dust cleanup", trade.Currency)
	cleanup.RealizedPnL = decimal.NewNullDecimal(cleanup.CostBasis.Sub(pos.AvgPrice.Mul(pos.Shares)))
	if err := tp.ProcessTradeEntry(ctx, cleanup, false, false); err != nil {
		log.Error().Stack().Err(err).Str("Ticker", trade.Ticker).Msg("dust cleanup trade failed")
	}
}

// adviseCash warns when the fund's cash balance cannot cover a buy; the
// check never blocks the trade.
func (tp *TradeProcessor) adviseCash(ctx context.Context, trade *Trade) {
	balances, err := tp.repo.GetCashBalances(ctx)
	if err != nil {
		return
	}
	available, ok := balances[trade.Currency]
	if !ok {
		return
	}
	if available.LessThan(trade.CostBasis) {
		log.Warn().
			Str("Ticker", trade.Ticker).
			Str("Cost", RoundMoney(trade.CostBasis).String()).
			Str("Available", RoundMoney(available).String()).
			Err(ErrInsufficientFunds).
			Msg("buy exceeds available cash; proceeding anyway")
	}
}
