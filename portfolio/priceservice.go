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
	"time"

	"github.com/fundfolio/ff-api/common"
	"github.com/fundfolio/ff-api/data"
	"github.com/fundfolio/ff-api/marketcal"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

type PriceMode string

const (
	PriceModeCurrent    PriceMode = "current"
	PriceModeHistorical PriceMode = "historical"
)

// PriceService mediates between the portfolio engine and the market-data
// layer: batch price loads, position revaluation, and the decision of
// whether a portfolio needs refreshing at all.
type PriceService struct {
	manager  *data.Manager
	calendar *marketcal.Calendar
}

func NewPriceService(manager *data.Manager, calendar *marketcal.Calendar) *PriceService {
	return &PriceService{
		manager:  manager,
		calendar: calendar,
	}
}

// GetHistoricalPrices loads daily frames cache-first; see data.Manager.
func (ps *PriceService) GetHistoricalPrices(ctx context.Context, tickers []string, begin, end time.Time) (map[string]*data.PriceFrame, data.FetchStats, map[string]error) {
	return ps.manager.GetHistoricalPrices(ctx, tickers, begin, end)
}

// GetCurrentPrices returns session-only latest prices; see data.Manager.
func (ps *PriceService) GetCurrentPrices(ctx context.Context, tickers []string) (map[string]decimal.Decimal, map[string]error) {
	return ps.manager.GetCurrentPrices(ctx, tickers)
}

// GetHistoricalClose returns the valuation close for a ticker on a day.
func (ps *PriceService) GetHistoricalClose(ctx context.Context, ticker string, date time.Time) (decimal.Decimal, time.Time, error) {
	return ps.manager.GetHistoricalClose(ctx, ticker, date)
}

// CompanyName returns the remembered company name for a ticker.
func (ps *PriceService) CompanyName(ticker string) (string, bool) {
	return ps.manager.CompanyName(ticker)
}

// InvalidateCaches drops derived market-data state after a trade mutates the
// portfolio.
func (ps *PriceService) InvalidateCaches() {
	ps.manager.PurgeCaches()
}

// UpdatePositionsWithPrices revalues positions at either current session
// prices or the historical close for asOf. The input is never mutated; a
// position whose fetch fails keeps its prior price rather than being zeroed.
// Closed positions pass through untouched.
func (ps *PriceService) UpdatePositionsWithPrices(ctx context.Context, positions []*Position, mode PriceMode, asOf time.Time) ([]*Position, map[string]error) {
	failures := make(map[string]error)

	var open []string
	for _, pos := range positions {
		if !pos.Closed() {
			open = append(open, pos.Ticker)
		}
	}

	prices := make(map[string]decimal.Decimal, len(open))
	switch mode {
	case PriceModeCurrent:
		quotes, errs := ps.manager.GetCurrentPrices(ctx, open)
		for ticker, err := range errs {
			failures[ticker] = err
		}
		prices = quotes
	case PriceModeHistorical:
		for _, ticker := range open {
			price, _, err := ps.manager.GetHistoricalClose(ctx, ticker, asOf)
			if err != nil {
				failures[ticker] = err
				continue
			}
			prices[ticker] = price
		}
	}

	updated := make([]*Position, 0, len(positions))
	for _, pos := range positions {
		next := pos.Clone()
		if next.Company == "" {
			if name, ok := ps.manager.CompanyName(next.Ticker); ok {
				next.Company = name
			}
		}
		if next.Closed() {
			updated = append(updated, next)
			continue
		}

		if price, ok := prices[ps.manager.CorrectTicker(next.Ticker)]; ok {
			next.ApplyPrice(price)
		} else {
			log.Debug().Str("Ticker", next.Ticker).Msg("price fetch failed; keeping prior price")
		}
		updated = append(updated, next)
	}

	return updated, failures
}

// UpdateDecision is the outcome of ShouldUpdatePortfolio.
type UpdateDecision struct {
	Update bool
	// Backfill means trading days are missing between the latest snapshot
	// and today and must be filled with historical closes first.
	Backfill bool
	// UseClosePrices means the refresh should value at the official close
	// and write a market-close snapshot rather than live prices.
	UseClosePrices bool
	Reason         string
}

// ShouldUpdatePortfolio decides whether the fund's snapshot store needs a
// refresh right now. Missing days are determined through the repository, not
// by inspecting backing files.
func (ps *PriceService) ShouldUpdatePortfolio(ctx context.Context, repo Repository, now time.Time) (UpdateDecision, error) {
	today := common.CalendarDate(now)
	todayTrades := ps.calendar.IsTradingDay(today)

	latest, err := repo.GetLatestPortfolioSnapshot(ctx)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return UpdateDecision{}, err
		}
		if !todayTrades {
			return UpdateDecision{Reason: "no snapshots and today is not a trading day"}, nil
		}
		return UpdateDecision{Update: true, Reason: "no snapshot exists for a trading day"}, nil
	}

	latestDate := common.CalendarDate(latest.Timestamp)
	missing, err := ps.missingTradingDays(ctx, repo, latestDate, today)
	if err != nil {
		return UpdateDecision{}, err
	}

	if !todayTrades && len(missing) == 0 {
		return UpdateDecision{Reason: "not a trading day and no days missing"}, nil
	}

	if latestDate.Before(today) {
		if len(missing) > 0 {
			return UpdateDecision{Update: true, Backfill: true, Reason: "trading days missing since the latest snapshot"}, nil
		}
		return UpdateDecision{Update: true, Reason: "latest snapshot predates today"}, nil
	}

	// latest snapshot is from today
	if ps.calendar.IsMarketOpen(now) {
		return UpdateDecision{Update: true, Reason: "market open; refresh with live prices"}, nil
	}
	if latest.IsMarketClose() {
		return UpdateDecision{Reason: "official close already recorded for today"}, nil
	}
	return UpdateDecision{Update: true, UseClosePrices: true, Reason: "replace intraday snapshot with official close"}, nil
}

// missingTradingDays lists trading days strictly between latestDate and
// today that have no snapshot. Today itself is handled by the decision rows,
// not by backfill.
func (ps *PriceService) missingTradingDays(ctx context.Context, repo Repository, latestDate, today time.Time) ([]time.Time, error) {
	if !latestDate.Before(today) {
		return nil, nil
	}

	candidates := ps.calendar.TradingDaysBetween(latestDate.AddDate(0, 0, 1), today.AddDate(0, 0, -1))
	if len(candidates) == 0 {
		return nil, nil
	}

	snapshots, err := repo.GetPortfolioData(ctx, &DateRange{Begin: latestDate, End: today.AddDate(0, 0, 1)})
	if err != nil {
		return nil, err
	}

	present := make(map[int64]bool, len(snapshots))
	for _, snap := range snapshots {
		present[common.CalendarDate(snap.Timestamp).Unix()] = true
	}

	var missing []time.Time
	for _, day := range candidates {
		if !present[common.CalendarDate(day).Unix()] {
			missing = append(missing, day)
		}
	}
	return missing, nil
}
