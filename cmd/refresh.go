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

package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fundfolio/ff-api/common"
	"github.com/fundfolio/ff-api/portfolio"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(refreshCmd)
}

// dailyPnLProvider is satisfied by backends that compute daily P&L
// server-side from historical snapshots.
type dailyPnLProvider interface {
	DailyPnL(ctx context.Context) (map[string]decimal.Decimal, error)
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Bring the fund's snapshots up to date with market prices",
	Long:  `Backfills any missing trading days with historical closes, then refreshes today's snapshot with live prices while the market is open or the official close after hours. An official market-close snapshot is never overwritten.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		eng, err := newEngine(ctx)
		if err != nil {
			return err
		}

		decision, err := eng.prices.ShouldUpdatePortfolio(ctx, eng.repo, time.Now())
		if err != nil {
			return err
		}
		if !decision.Update {
			fmt.Printf("nothing to do: %s\n", decision.Reason)
			return nil
		}
		log.Info().Str("Reason", decision.Reason).Msg("refreshing portfolio")

		if decision.Backfill {
			created, err := eng.rebuilder.BackfillMissingTradingDays(ctx)
			if err != nil {
				return err
			}
			for _, day := range created {
				fmt.Printf("backfilled %s\n", day.Format("2006-01-02"))
			}
		}

		if err := refreshToday(ctx, eng, decision); err != nil {
			return err
		}

		if provider, ok := eng.repo.(dailyPnLProvider); ok {
			printDailyPnL(ctx, provider)
		}
		return nil
	},
}

// refreshToday writes today's snapshot: intraday while the market is open,
// the official close otherwise.
func refreshToday(ctx context.Context, eng *engine, decision portfolio.UpdateDecision) error {
	now := time.Now()
	latest, err := eng.repo.GetLatestPortfolioSnapshot(ctx)
	if err != nil {
		if !errors.Is(err, portfolio.ErrNotFound) {
			return err
		}
		fmt.Println("no positions yet; record a trade first")
		return nil
	}

	mode := portfolio.PriceModeCurrent
	timestamp := now
	if decision.UseClosePrices || !eng.calendar.IsMarketOpen(now) {
		mode = portfolio.PriceModeHistorical
		timestamp = common.MarketCloseAt(now)
	}

	positions, failures := eng.prices.UpdatePositionsWithPrices(ctx, latest.Positions, mode, now)
	for ticker, err := range failures {
		log.Warn().Err(err).Str("Ticker", ticker).Msg("price refresh failed; prior price retained")
	}

	snapshot := &portfolio.PortfolioSnapshot{
		SnapshotID:  uuid.New().String(),
		Fund:        eng.repo.FundID(),
		Timestamp:   timestamp,
		Positions:   positions,
		CashBalance: latest.CashBalance,
	}
	snapshot.RecomputeTotals()

	if _, err := eng.repo.UpdateDailyPortfolioSnapshot(ctx, snapshot); err != nil {
		return err
	}

	// official closes also feed the market data store so later rebuilds can
	// serve them without a vendor call
	if mode == portfolio.PriceModeHistorical {
		saveCloses(ctx, eng, snapshot)
	}

	fmt.Printf("snapshot for %s saved (%d positions, total value %s)\n",
		common.CalendarDate(timestamp).Format("2006-01-02"),
		len(snapshot.Positions),
		portfolio.RoundMoney(snapshot.TotalValue).StringFixed(portfolio.MoneyScale))
	return nil
}

func saveCloses(ctx context.Context, eng *engine, snapshot *portfolio.PortfolioSnapshot) {
	day := common.CalendarDate(snapshot.Timestamp)
	for _, pos := range snapshot.Positions {
		if pos.Closed() || !pos.CurrentPrice.IsPositive() {
			continue
		}
		md := &portfolio.MarketData{
			Ticker:   pos.Ticker,
			Date:     day,
			Close:    pos.CurrentPrice,
			AdjClose: pos.CurrentPrice,
			Source:   "cache",
		}
		if _, err := eng.repo.SaveMarketData(ctx, md); err != nil {
			log.Warn().Err(err).Str("Ticker", pos.Ticker).Msg("could not persist close price")
		}
	}
}

func printDailyPnL(ctx context.Context, provider dailyPnLProvider) {
	pnl, err := provider.DailyPnL(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("could not compute daily P&L")
		return
	}
	for ticker, amount := range pnl {
		fmt.Printf("%-8s daily P&L %s\n", ticker, portfolio.RoundMoney(amount).StringFixed(portfolio.MoneyScale))
	}
}
