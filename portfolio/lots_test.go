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
	"time"

	"github.com/fundfolio/ff-api/portfolio"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
)

func dec(v string) decimal.Decimal {
	d, err := decimal.NewFromString(v)
	Expect(err).To(BeNil())
	return d
}

var _ = Describe("LotEngine", func() {
	var (
		engine *portfolio.LotEngine
		t1, t2 time.Time
	)

	BeforeEach(func() {
		engine = portfolio.NewLotEngine()
		t1 = time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
		t2 = time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)
	})

	It("realizes the full gain when a single lot sells out", func() {
		_, err := engine.AddLot("MSFT", dec("100"), dec("100"), t1, "USD")
		Expect(err).To(BeNil())

		slices, err := engine.SellFIFO("MSFT", dec("100"), dec("110"), t2)
		Expect(err).To(BeNil())
		Expect(slices).To(HaveLen(1))
		Expect(slices[0].CostBasisSold.String()).To(Equal("10000"))
		Expect(slices[0].Proceeds.String()).To(Equal("11000"))
		Expect(slices[0].RealizedPnL.String()).To(Equal("1000"))
		Expect(engine.RemainingShares("MSFT").String()).To(Equal("0"))
	})

	It("consumes the oldest lot first, not the average cost", func() {
		_, err := engine.AddLot("MSFT", dec("100"), dec("100"), t1, "USD")
		Expect(err).To(BeNil())
		_, err = engine.AddLot("MSFT", dec("100"), dec("120"), t2, "USD")
		Expect(err).To(BeNil())

		slices, err := engine.SellFIFO("MSFT", dec("100"), dec("130"), t2.AddDate(0, 1, 0))
		Expect(err).To(BeNil())
		Expect(slices).To(HaveLen(1))
		// the $100 lot sells; average cost would have realized only 2000
		Expect(slices[0].RealizedPnL.String()).To(Equal("3000"))

		Expect(engine.RemainingShares("MSFT").String()).To(Equal("100"))
		Expect(engine.RemainingCostBasis("MSFT").String()).To(Equal("12000"))
		Expect(engine.AverageCost("MSFT").String()).To(Equal("120"))
	})

	It("carries proportional basis through a partial sell and a rebuy", func() {
		_, err := engine.AddLot("MSFT", dec("100"), dec("100"), t1, "USD")
		Expect(err).To(BeNil())

		slices, err := engine.SellFIFO("MSFT", dec("50"), dec("110"), t2)
		Expect(err).To(BeNil())
		realized := decimal.Zero
		for _, slice := range slices {
			realized = realized.Add(slice.RealizedPnL)
		}
		Expect(realized.String()).To(Equal("500"))

		_, err = engine.AddLot("MSFT", dec("25"), dec("105"), t2.AddDate(0, 0, 1), "USD")
		Expect(err).To(BeNil())

		Expect(engine.RemainingShares("MSFT").String()).To(Equal("75"))
		Expect(engine.RemainingCostBasis("MSFT").String()).To(Equal("7625"))
	})

	It("keeps the cash-flow identity across a multi-lot sell", func() {
		_, err := engine.AddLot("MSFT", dec("60"), dec("95"), t1, "USD")
		Expect(err).To(BeNil())
		_, err = engine.AddLot("MSFT", dec("40"), dec("105"), t2, "USD")
		Expect(err).To(BeNil())

		slices, err := engine.SellFIFO("MSFT", dec("80"), dec("112"), t2.AddDate(0, 0, 5))
		Expect(err).To(BeNil())
		Expect(slices).To(HaveLen(2))

		proceeds := decimal.Zero
		basis := decimal.Zero
		realized := decimal.Zero
		for _, slice := range slices {
			proceeds = proceeds.Add(slice.Proceeds)
			basis = basis.Add(slice.CostBasisSold)
			realized = realized.Add(slice.RealizedPnL)
		}
		Expect(proceeds.Sub(basis).Equal(realized)).To(BeTrue())
		Expect(proceeds.String()).To(Equal("8960"))
	})

	It("orders lots by purchase time even when added out of order", func() {
		_, err := engine.AddLot("MSFT", dec("10"), dec("200"), t2, "USD")
		Expect(err).To(BeNil())
		_, err = engine.AddLot("MSFT", dec("10"), dec("100"), t1, "USD")
		Expect(err).To(BeNil())

		slices, err := engine.SellFIFO("MSFT", dec("10"), dec("150"), t2.AddDate(0, 0, 1))
		Expect(err).To(BeNil())
		// the earlier timestamped lot goes first
		Expect(slices[0].CostBasisSold.String()).To(Equal("1000"))
		Expect(slices[0].RealizedPnL.String()).To(Equal("500"))
	})

	It("fails an oversell without touching any lot", func() {
		_, err := engine.AddLot("MSFT", dec("100"), dec("100"), t1, "USD")
		Expect(err).To(BeNil())

		_, err = engine.SellFIFO("MSFT", dec("150"), dec("110"), t2)
		Expect(err).To(MatchError(portfolio.ErrInsufficientShares))
		Expect(engine.RemainingShares("MSFT").String()).To(Equal("100"))
		Expect(engine.RemainingCostBasis("MSFT").String()).To(Equal("10000"))
	})

	It("rejects non-positive quantities", func() {
		_, err := engine.AddLot("MSFT", decimal.Zero, dec("100"), t1, "USD")
		Expect(err).To(MatchError(portfolio.ErrInvalidTrade))

		_, err = engine.SellFIFO("MSFT", dec("10"), decimal.Zero, t1)
		Expect(err).To(MatchError(portfolio.ErrInvalidTrade))
	})

	Describe("RebuildFromTrades", func() {
		It("replays the log in timestamp order regardless of input order", func() {
			trades := []*portfolio.Trade{
				{TradeID: "b", Ticker: "MSFT", Action: portfolio.SellAction, Shares: dec("50"), Price: dec("110"), Timestamp: t2},
				{TradeID: "a", Ticker: "MSFT", Action: portfolio.BuyAction, Shares: dec("100"), Price: dec("100"), Timestamp: t1},
			}

			issues := engine.RebuildFromTrades(trades)
			Expect(issues).To(BeEmpty())
			Expect(engine.RemainingShares("MSFT").String()).To(Equal("50"))
			Expect(engine.Tickers()).To(Equal([]string{"MSFT"}))
		})

		It("reports an unsatisfiable historical sell and continues", func() {
			trades := []*portfolio.Trade{
				{TradeID: "a", Ticker: "MSFT", Action: portfolio.BuyAction, Shares: dec("10"), Price: dec("100"), Timestamp: t1},
				{TradeID: "b", Ticker: "MSFT", Action: portfolio.SellAction, Shares: dec("50"), Price: dec("110"), Timestamp: t2},
				{TradeID: "c", Ticker: "AAPL", Action: portfolio.BuyAction, Shares: dec("5"), Price: dec("180"), Timestamp: t2},
			}

			issues := engine.RebuildFromTrades(trades)
			Expect(issues).To(HaveLen(1))
			Expect(issues[0]).To(ContainSubstring("unsatisfiable historical sell"))
			// the rest of the log still applied
			Expect(engine.RemainingShares("MSFT").String()).To(Equal("10"))
			Expect(engine.RemainingShares("AAPL").String()).To(Equal("5"))
		})
	})
})
