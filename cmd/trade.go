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
	"fmt"
	"time"

	"github.com/fundfolio/ff-api/common"
	"github.com/fundfolio/ff-api/portfolio"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	tradeDate     string
	tradeReason   string
	tradeCurrency string
	autoCloseDust bool
)

func init() {
	tradeCmd.PersistentFlags().StringVar(&tradeDate, "date", "", "Trade timestamp (YYYY-MM-DD or 'YYYY-MM-DD HH:MM'); defaults to now. Past dates trigger a snapshot rebuild")
	tradeCmd.PersistentFlags().StringVar(&tradeReason, "reason", "", "Free-text journal reason for the trade")
	tradeCmd.PersistentFlags().StringVar(&tradeCurrency, "currency", "", "Trade currency; defaults to the fund base currency")
	sellCmd.Flags().BoolVar(&autoCloseDust, "auto-close-dust", false, "Zero out sub-dollar remainders with a cleanup trade")

	tradeCmd.AddCommand(buyCmd)
	tradeCmd.AddCommand(sellCmd)
	tradeCmd.AddCommand(stopLossCmd)
	rootCmd.AddCommand(tradeCmd)
}

var tradeCmd = &cobra.Command{
	Use:   "trade",
	Short: "Record buys and sells in the fund journal",
}

func parseTradeTime() (time.Time, error) {
	if tradeDate == "" {
		return time.Now(), nil
	}
	tz := common.GetTimezone()
	if t, err := time.ParseInLocation("2006-01-02 15:04", tradeDate, tz); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", tradeDate, tz); err == nil {
		// backdated date-only trades land at the close of that day
		return common.MarketCloseAt(t), nil
	}
	return time.Time{}, fmt.Errorf("%w: could not parse date %q", portfolio.ErrValidation, tradeDate)
}

func parsePositiveDecimal(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s %q is not a number", portfolio.ErrValidation, field, s)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s must be positive", portfolio.ErrValidation, field)
	}
	return d, nil
}

var buyCmd = &cobra.Command{
	Use:   "buy <ticker> <shares> <price>",
	Short: "Record a purchase",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		shares, err := parsePositiveDecimal("shares", args[1])
		if err != nil {
			return err
		}
		price, err := parsePositiveDecimal("price", args[2])
		if err != nil {
			return err
		}
		timestamp, err := parseTradeTime()
		if err != nil {
			return err
		}

		eng, err := newEngine(cmd.Context())
		if err != nil {
			return err
		}

		trade, err := eng.processor.ExecuteBuy(cmd.Context(), args[0], shares, price, timestamp, tradeReason, tradeCurrency)
		if err != nil {
			return err
		}
		fmt.Printf("bought %s %s @ %s (cost basis %s)\n",
			trade.Shares.StringFixed(portfolio.SharesScale), trade.Ticker,
			trade.Price.StringFixed(portfolio.MoneyScale),
			portfolio.RoundMoney(trade.CostBasis).StringFixed(portfolio.MoneyScale))
		return nil
	},
}

var sellCmd = &cobra.Command{
	Use:   "sell <ticker> <shares> <price>",
	Short: "Record a sale with FIFO realized P&L",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		shares, err := parsePositiveDecimal("shares", args[1])
		if err != nil {
			return err
		}
		price, err := parsePositiveDecimal("price", args[2])
		if err != nil {
			return err
		}
		timestamp, err := parseTradeTime()
		if err != nil {
			return err
		}

		eng, err := newEngine(cmd.Context())
		if err != nil {
			return err
		}
		eng.processor.AutoCloseDust = autoCloseDust

		reason := tradeReason
		if reason == "" {
			reason = "sell"
		}
		trade, slices, err := eng.processor.ExecuteSell(cmd.Context(), args[0], shares, price, timestamp, reason, tradeCurrency)
		if err != nil {
			return err
		}

		fmt.Printf("sold %s %s @ %s, realized P&L %s across %d lot(s)\n",
			trade.Shares.StringFixed(portfolio.SharesScale), trade.Ticker,
			trade.Price.StringFixed(portfolio.MoneyScale),
			portfolio.RoundMoney(trade.RealizedPnL.Decimal).StringFixed(portfolio.MoneyScale),
			len(slices))
		return nil
	},
}

var stopLossCmd = &cobra.Command{
	Use:   "stop-loss <ticker> <price>",
	Short: "Close the full position at the stop price",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		price, err := parsePositiveDecimal("price", args[1])
		if err != nil {
			return err
		}
		timestamp, err := parseTradeTime()
		if err != nil {
			return err
		}

		eng, err := newEngine(cmd.Context())
		if err != nil {
			return err
		}

		trade, _, err := eng.processor.ExecuteStopLossSell(cmd.Context(), args[0], price, timestamp)
		if err != nil {
			return err
		}
		fmt.Printf("stop loss closed %s %s @ %s, realized P&L %s\n",
			trade.Shares.StringFixed(portfolio.SharesScale), trade.Ticker,
			trade.Price.StringFixed(portfolio.MoneyScale),
			portfolio.RoundMoney(trade.RealizedPnL.Decimal).StringFixed(portfolio.MoneyScale))
		return nil
	},
}
