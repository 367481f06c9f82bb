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

package portfolio_test

import (
	"context"
	"time"

	"github.com/fundfolio/ff-api/common"
	"github.com/fundfolio/ff-api/data"
	"github.com/fundfolio/ff-api/marketcal"
	"github.com/fundfolio/ff-api/portfolio"
	"github.com/jarcoal/httpmock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/viper"
)

var _ = Describe("HistoricalRebuilder", func() {
	var (
		ctx       context.Context
		repo      *memRepo
		calendar  *marketcal.Calendar
		rebuilder *portfolio.HistoricalRebuilder
		now       time.Time
	)

	addTrade := func(ticker string, action portfolio.TradeAction, shares, price string, at time.Time) {
		trade := &portfolio.Trade{
			TradeID:   ticker + "-" + at.Format(time.RFC3339),
			Fund:      "alpha",
			Ticker:    ticker,
			Action:    action,
			Shares:    dec(shares),
			Price:     dec(price),
			Timestamp: at,
			CostBasis: dec(shares).Mul(dec(price)),
			Currency:  "USD",
		}
		trade.SourceID = portfolio.ComputeTradeSourceID(trade)
		repo.trades = append(repo.trades, trade)
	}

	BeforeEach(func() {
		httpmock.Activate()
		common.CachePurge()
		viper.Set("cache.directory", "")
		viper.Set("cache.local_size", 64)
		viper.Set("cache.price_ttl", time.Minute)

		ctx = context.Background()
		now = time.Now()
		repo = newMemRepo("alpha")
		calendar = marketcal.New()
		prices := portfolio.NewPriceService(data.NewManager(), calendar)
		rebuilder = portfolio.NewHistoricalRebuilder(repo, prices, calendar, "USD")
	})

	AfterEach(func() {
		httpmock.DeactivateAndReset()
	})

	Describe("RebuildFrom", func() {
		It("writes one market-close snapshot per trading day, skipping weekends", func() {
			registerCloses("NVAX", 25)
			from := now.AddDate(0, 0, -9)
			addTrade("NVAX", portfolio.BuyAction, "10", "20", from)

			Expect(rebuilder.RebuildFrom(ctx, from)).To(Succeed())

			days := calendar.TradingDaysBetween(common.CalendarDate(from), common.CalendarDate(now))
			snaps, err := repo.GetPortfolioData(ctx, nil)
			Expect(err).To(BeNil())
			Expect(snaps).To(HaveLen(len(days)))

			for _, snap := range snaps {
				Expect(snap.IsMarketClose()).To(BeTrue())
				Expect(calendar.IsTradingDay(snap.Timestamp)).To(BeTrue())
				pos := snap.FindPosition("NVAX")
				Expect(pos).NotTo(BeNil())
				Expect(pos.AvgPrice.String()).To(Equal("20"))
				Expect(pos.CurrentPrice.String()).To(Equal("25"))
				Expect(snap.TotalValue.String()).To(Equal("250"))
			}
		})

		It("produces identical snapshots when run twice", func() {
			registerCloses("NVAX", 25)
			from := now.AddDate(0, 0, -9)
			addTrade("NVAX", portfolio.BuyAction, "10", "20", from)

			Expect(rebuilder.RebuildFrom(ctx, from)).To(Succeed())
			first, err := repo.GetPortfolioData(ctx, nil)
			Expect(err).To(BeNil())

			Expect(rebuilder.RebuildFrom(ctx, from)).To(Succeed())
			second, err := repo.GetPortfolioData(ctx, nil)
			Expect(err).To(BeNil())

			Expect(second).To(HaveLen(len(first)))
			for idx := range first {
				Expect(second[idx].Timestamp).To(Equal(first[idx].Timestamp))
				Expect(second[idx].TotalValue.Equal(first[idx].TotalValue)).To(BeTrue())
				Expect(second[idx].TotalShares.Equal(first[idx].TotalShares)).To(BeTrue())
			}
		})

		It("writes nothing when the context is already cancelled", func() {
			registerCloses("NVAX", 25)
			from := now.AddDate(0, 0, -9)
			addTrade("NVAX", portfolio.BuyAction, "10", "20", from)

			cancelled, cancel := context.WithCancel(ctx)
			cancel()

			err := rebuilder.RebuildFrom(cancelled, from)
			Expect(err).To(MatchError(context.Canceled))
			Expect(repo.snapshots).To(BeEmpty())
		})
	})

	Describe("BackfillMissingTradingDays", func() {
		It("is a no-op with no snapshots at all", func() {
			created, err := rebuilder.BackfillMissingTradingDays(ctx)
			Expect(err).To(BeNil())
			Expect(created).To(BeEmpty())
		})

		It("fills every trading day after the latest snapshot from its baseline", func() {
			registerCloses("NVAX", 30)

			baseDay := now.AddDate(0, 0, -6)
			baseline := &portfolio.PortfolioSnapshot{
				SnapshotID: "baseline",
				Fund:       "alpha",
				Timestamp:  common.MarketCloseAt(baseDay),
				Positions: []*portfolio.Position{{
					Ticker:    "NVAX",
					Shares:    dec("10"),
					AvgPrice:  dec("20"),
					CostBasis: dec("200"),
				}},
			}
			baseline.Positions[0].ApplyPrice(dec("20"))
			baseline.RecomputeTotals()
			repo.putSnapshot(baseline)

			// a sell after the baseline must show up in later snapshots
			addTrade("NVAX", portfolio.SellAction, "5", "30", baseline.Timestamp.Add(48*time.Hour))

			created, err := rebuilder.BackfillMissingTradingDays(ctx)
			Expect(err).To(BeNil())

			expected := calendar.TradingDaysBetween(
				common.CalendarDate(baseline.Timestamp).AddDate(0, 0, 1),
				common.CalendarDate(now).AddDate(0, 0, -1))
			Expect(created).To(Equal(expected))
			// backfilled days are not trade executions
			Expect(repo.lastTradeExecution).To(BeFalse())

			latest, err := repo.GetLatestPortfolioSnapshot(ctx)
			Expect(err).To(BeNil())
			Expect(latest.IsMarketClose()).To(BeTrue())
			pos := latest.FindPosition("NVAX")
			Expect(pos.Shares.String()).To(Equal("5"))
			Expect(pos.CostBasis.String()).To(Equal("100"))
			Expect(pos.MarketValue.String()).To(Equal("150"))
		})

		It("leaves today to the daily refresh", func() {
			registerCloses("NVAX", 30)

			baseDay := now.AddDate(0, 0, -6)
			baseline := &portfolio.PortfolioSnapshot{
				SnapshotID: "baseline",
				Fund:       "alpha",
				Timestamp:  common.MarketCloseAt(baseDay),
				Positions: []*portfolio.Position{{
					Ticker:    "NVAX",
					Shares:    dec("10"),
					AvgPrice:  dec("20"),
					CostBasis: dec("200"),
				}},
			}
			baseline.Positions[0].ApplyPrice(dec("20"))
			baseline.RecomputeTotals()
			repo.putSnapshot(baseline)

			created, err := rebuilder.BackfillMissingTradingDays(ctx)
			Expect(err).To(BeNil())
			for _, day := range created {
				Expect(common.SameCalendarDate(day, now)).To(BeFalse())
			}

			// today's snapshot is still the refresh step's to write
			todaySnap := &portfolio.PortfolioSnapshot{
				SnapshotID: "today",
				Fund:       "alpha",
				Timestamp:  common.MarketCloseAt(now),
				Positions: []*portfolio.Position{{
					Ticker:    "NVAX",
					Shares:    dec("10"),
					AvgPrice:  dec("20"),
					CostBasis: dec("200"),
				}},
			}
			todaySnap.Positions[0].ApplyPrice(dec("30"))
			todaySnap.RecomputeTotals()
			_, err = repo.UpdateDailyPortfolioSnapshot(ctx, todaySnap)
			Expect(err).To(BeNil())

			latest, err := repo.GetLatestPortfolioSnapshot(ctx)
			Expect(err).To(BeNil())
			Expect(common.SameCalendarDate(latest.Timestamp, now)).To(BeTrue())
		})

		It("skips days that already have a snapshot", func() {
			registerCloses("NVAX", 30)

			baseDay := now.AddDate(0, 0, -6)
			baseline := &portfolio.PortfolioSnapshot{
				SnapshotID: "baseline",
				Fund:       "alpha",
				Timestamp:  common.MarketCloseAt(baseDay),
			}
			repo.putSnapshot(baseline)

			candidates := calendar.TradingDaysBetween(
				common.CalendarDate(baseline.Timestamp).AddDate(0, 0, 1),
				common.CalendarDate(now).AddDate(0, 0, -1))
			Expect(candidates).NotTo(BeEmpty())

			// pre-seed the first candidate day
			repo.putSnapshot(&portfolio.PortfolioSnapshot{
				SnapshotID: "existing",
				Fund:       "alpha",
				Timestamp:  common.MarketCloseAt(candidates[0]),
			})

			created, err := rebuilder.BackfillMissingTradingDays(ctx)
			Expect(err).To(BeNil())
			Expect(created).To(HaveLen(len(candidates) - 1))
			for _, day := range created {
				Expect(common.SameCalendarDate(day, candidates[0])).To(BeFalse())
			}
		})
	})
})
