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
	"fmt"
	"sort"
	"time"

	"github.com/fundfolio/ff-api/common"
	"github.com/fundfolio/ff-api/marketcal"
	"github.com/fundfolio/ff-api/observability/opentelemetry"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// HistoricalRebuilder regenerates market-close snapshots after a backdated
// trade and backfills trading days that have no snapshot. Every day is
// valued at that day's historical close, never today's price.
type HistoricalRebuilder struct {
	repo         Repository
	prices       *PriceService
	calendar     *marketcal.Calendar
	baseCurrency string
}

func NewHistoricalRebuilder(repo Repository, prices *PriceService, calendar *marketcal.Calendar, baseCurrency string) *HistoricalRebuilder {
	return &HistoricalRebuilder{
		repo:         repo,
		prices:       prices,
		calendar:     calendar,
		baseCurrency: baseCurrency,
	}
}

// runningPosition is the simplified per-day replay state: shares and total
// cost per ticker, with sells reducing both at the running average. FIFO
// realized P&L stays in the trade log; it is not re-derived here.
type runningPosition struct {
	shares   decimal.Decimal
	cost     decimal.Decimal
	currency string
}

// RebuildFrom regenerates one market-close snapshot for every trading day in
// [from, today]. Running it twice with identical inputs writes identical
// snapshots. Cancellation is honored between days so partial progress stays
// consistent.
func (hr *HistoricalRebuilder) RebuildFrom(ctx context.Context, from time.Time) error {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "rebuilder.RebuildFrom")
	defer span.End()
	span.SetAttributes(attribute.String("Fund", hr.repo.FundID()))

	now := time.Now()
	trades, err := hr.repo.GetTradeHistory(ctx, "", &DateRange{End: now})
	if err != nil {
		return fmt.Errorf("could not load trades for rebuild: %w", err)
	}
	sortTrades(trades)

	days := hr.calendar.TradingDaysBetween(common.CalendarDate(from), common.CalendarDate(now))
	subLog := log.With().Str("Fund", hr.repo.FundID()).Int("Days", len(days)).Logger()
	subLog.Info().Time("From", from).Msg("rebuilding snapshots")

	for _, day := range days {
		if err := ctx.Err(); err != nil {
			subLog.Warn().Err(err).Time("Day", day).Msg("rebuild cancelled; snapshots through the prior day are consistent")
			return err
		}

		snapshot, err := hr.buildDaySnapshot(ctx, trades, day)
		if err != nil {
			return err
		}
		// trade execution so an existing market-close snapshot for the day
		// is replaced
		if _, err := hr.repo.SavePortfolioSnapshot(ctx, snapshot, true); err != nil {
			return err
		}
	}

	return nil
}

// BackfillMissingTradingDays writes market-close snapshots for trading days
// strictly between the latest snapshot and today that have none, starting
// from the latest-position baseline. Today is never a candidate: the daily
// refresh writes it with live or close prices. Existing dates come from the
// repository so the check is correct against any backend. Returns the days
// created.
func (hr *HistoricalRebuilder) BackfillMissingTradingDays(ctx context.Context) ([]time.Time, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "rebuilder.BackfillMissingTradingDays")
	defer span.End()
	span.SetAttributes(attribute.String("Fund", hr.repo.FundID()))

	latest, err := hr.repo.GetLatestPortfolioSnapshot(ctx)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	now := time.Now()
	latestDate := common.CalendarDate(latest.Timestamp)
	today := common.CalendarDate(now)

	candidates := hr.calendar.TradingDaysBetween(latestDate.AddDate(0, 0, 1), today.AddDate(0, 0, -1))
	if len(candidates) == 0 {
		return nil, nil
	}

	existing, err := hr.repo.GetPortfolioData(ctx, &DateRange{Begin: latestDate, End: now})
	if err != nil {
		return nil, err
	}
	present := make(map[int64]bool, len(existing))
	for _, snap := range existing {
		present[common.CalendarDate(snap.Timestamp).Unix()] = true
	}

	trades, err := hr.repo.GetTradeHistory(ctx, "", &DateRange{End: now})
	if err != nil {
		return nil, err
	}
	sortTrades(trades)

	var created []time.Time
	for _, day := range candidates {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		if present[common.CalendarDate(day).Unix()] {
			continue
		}

		snapshot, err := hr.dayFromBaseline(ctx, latest, trades, day)
		if err != nil {
			return created, err
		}
		if _, err := hr.repo.SavePortfolioSnapshot(ctx, snapshot, false); err != nil {
			return created, err
		}
		created = append(created, day)
	}

	if len(created) > 0 {
		log.Info().Str("Fund", hr.repo.FundID()).Int("Created", len(created)).Msg("backfilled missing trading days")
	}
	return created, nil
}

// buildDaySnapshot replays the full trade log through end-of-day and values
// the result at the day's close.
func (hr *HistoricalRebuilder) buildDaySnapshot(ctx context.Context, trades []*Trade, day time.Time) (*PortfolioSnapshot, error) {
	running := replayThrough(trades, hr.endOfDay(day))
	return hr.assembleSnapshot(ctx, running, day)
}

// dayFromBaseline starts from an existing snapshot's positions and applies
// only the trades after it, avoiding a full replay for backfill.
func (hr *HistoricalRebuilder) dayFromBaseline(ctx context.Context, baseline *PortfolioSnapshot, trades []*Trade, day time.Time) (*PortfolioSnapshot, error) {
	running := make(map[string]*runningPosition, len(baseline.Positions))
	for _, pos := range baseline.Positions {
		running[pos.Ticker] = &runningPosition{
			shares:   pos.Shares,
			cost:     pos.CostBasis,
			currency: pos.Currency,
		}
	}

	cutoff := hr.endOfDay(day)
	for _, trade := range trades {
		if !trade.Timestamp.After(baseline.Timestamp) || trade.Timestamp.After(cutoff) {
			continue
		}
		applyTrade(running, trade)
	}

	return hr.assembleSnapshot(ctx, running, day)
}

// assembleSnapshot turns replay state into a market-close snapshot for the
// day. Closed positions are retained without a price fetch.
func (hr *HistoricalRebuilder) assembleSnapshot(ctx context.Context, running map[string]*runningPosition, day time.Time) (*PortfolioSnapshot, error) {
	tickers := make([]string, 0, len(running))
	for ticker := range running {
		tickers = append(tickers, ticker)
	}
	sort.Strings(tickers)

	positions := make([]*Position, 0, len(tickers))
	for _, ticker := range tickers {
		state := running[ticker]
		pos := &Position{
			Ticker:    ticker,
			Shares:    state.shares,
			CostBasis: state.cost,
			Currency:  state.currency,
		}
		if name, ok := hr.prices.CompanyName(ticker); ok {
			pos.Company = name
		}
		if state.shares.IsPositive() {
			pos.AvgPrice = state.cost.Div(state.shares)
			price, actual, err := hr.prices.GetHistoricalClose(ctx, ticker, day)
			if err != nil {
				return nil, fmt.Errorf("no close for %s on %s: %w", ticker, day.Format("2006-01-02"), err)
			}
			if !common.SameCalendarDate(actual, day) {
				log.Debug().
					Str("Ticker", ticker).
					Time("Requested", day).
					Time("Used", actual).
					Msg("valued with nearest available close")
			}
			pos.ApplyPrice(price)
		}
		positions = append(positions, pos)
	}

	snapshot := &PortfolioSnapshot{
		SnapshotID: uuid.New().String(),
		Fund:       hr.repo.FundID(),
		Timestamp:  common.MarketCloseAt(day),
		Positions:  positions,
	}
	snapshot.RecomputeTotals()

	if balances, err := hr.repo.GetCashBalances(ctx); err == nil {
		if amount, ok := balances[hr.baseCurrency]; ok {
			snapshot.CashBalance = amount
		}
	}

	return snapshot, nil
}

// endOfDay is the last instant of the day in the trading timezone; trades
// stamped any time that calendar day belong to its snapshot.
func (hr *HistoricalRebuilder) endOfDay(day time.Time) time.Time {
	return common.CalendarDate(day).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

func sortTrades(trades []*Trade) {
	sort.SliceStable(trades, func(i, j int) bool {
		return trades[i].Timestamp.Before(trades[j].Timestamp)
	})
}

// replayThrough computes running positions from all trades at or before
// cutoff.
func replayThrough(trades []*Trade, cutoff time.Time) map[string]*runningPosition {
	running := make(map[string]*runningPosition)
	for _, trade := range trades {
		if trade.Timestamp.After(cutoff) {
			continue
		}
		applyTrade(running, trade)
	}
	return running
}

// applyTrade mutates the running state: buys add cost, sells remove shares
// and cost proportionally at the running average.
func applyTrade(running map[string]*runningPosition, trade *Trade) {
	state, ok := running[trade.Ticker]
	if !ok {
		state = &runningPosition{currency: trade.Currency}
		running[trade.Ticker] = state
	}

	switch trade.Action {
	case BuyAction:
		state.shares = state.shares.Add(trade.Shares)
		state.cost = state.cost.Add(trade.CostBasis)
	case SellAction:
		if state.shares.LessThan(trade.Shares) {
			log.Warn().
				Str("TradeID", trade.TradeID).
				Str("Ticker", trade.Ticker).
				Msg("replay sell exceeds running shares; clamping")
		}
		sold := decimal.Min(state.shares, trade.Shares)
		if state.shares.IsPositive() {
			state.cost = state.cost.Sub(state.cost.Mul(sold).Div(state.shares))
		}
		state.shares = state.shares.Sub(sold)
		if state.shares.IsZero() {
			state.cost = decimal.Zero
		}
	}
}
