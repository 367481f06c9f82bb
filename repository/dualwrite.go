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

package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/fundfolio/ff-api/portfolio"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// DualWrite reads from the primary (authoritative) backend and writes to
// both. A write that lands on only one side is logged and reported through
// WriteResult, never rolled back; reconciliation is a diagnostic via
// ValidateDataIntegrity, not an automatic job.
type DualWrite struct {
	primary   portfolio.Repository
	secondary portfolio.Repository
}

func NewDualWrite(primary, secondary portfolio.Repository) (*DualWrite, error) {
	if primary.FundID() != secondary.FundID() {
		return nil, fmt.Errorf("%w: backends belong to different funds", portfolio.ErrValidation)
	}
	return &DualWrite{primary: primary, secondary: secondary}, nil
}

func (r *DualWrite) FundID() string {
	return r.primary.FundID()
}

// writeBoth runs the same mutation against both backends and folds the
// outcomes into one WriteResult.
func (r *DualWrite) writeBoth(op string, primary, secondary func() error) (*portfolio.WriteResult, error) {
	result := &portfolio.WriteResult{PrimaryOK: true, SecondaryOK: true}

	if err := primary(); err != nil {
		result.PrimaryOK = false
		result.Errors = append(result.Errors, fmt.Errorf("primary %s: %w", op, err))
	}
	if err := secondary(); err != nil {
		result.SecondaryOK = false
		result.Errors = append(result.Errors, fmt.Errorf("secondary %s: %w", op, err))
	}

	if !result.PrimaryOK && !result.SecondaryOK {
		return result, fmt.Errorf("%w: %s failed on both backends", portfolio.ErrRepository, op)
	}
	if len(result.Errors) > 0 {
		log.Error().
			Str("Fund", r.FundID()).
			Str("Operation", op).
			Errs("Errors", result.Errors).
			Msg("dual write partial failure; run validate to reconcile")
	}
	return result, nil
}

// --- reads: primary is authoritative ---

func (r *DualWrite) GetPortfolioData(ctx context.Context, dateRange *portfolio.DateRange) ([]*portfolio.PortfolioSnapshot, error) {
	return r.primary.GetPortfolioData(ctx, dateRange)
}

func (r *DualWrite) GetLatestPortfolioSnapshot(ctx context.Context) (*portfolio.PortfolioSnapshot, error) {
	return r.primary.GetLatestPortfolioSnapshot(ctx)
}

func (r *DualWrite) GetTradeHistory(ctx context.Context, ticker string, dateRange *portfolio.DateRange) ([]*portfolio.Trade, error) {
	return r.primary.GetTradeHistory(ctx, ticker, dateRange)
}

func (r *DualWrite) GetPositionsByTicker(ctx context.Context, ticker string) ([]*portfolio.Position, error) {
	return r.primary.GetPositionsByTicker(ctx, ticker)
}

func (r *DualWrite) GetMarketData(ctx context.Context, ticker string, dateRange *portfolio.DateRange) ([]*portfolio.MarketData, error) {
	return r.primary.GetMarketData(ctx, ticker, dateRange)
}

func (r *DualWrite) GetCashBalances(ctx context.Context) (map[string]decimal.Decimal, error) {
	return r.primary.GetCashBalances(ctx)
}

// --- writes: both backends ---

func (r *DualWrite) SavePortfolioSnapshot(ctx context.Context, snapshot *portfolio.PortfolioSnapshot, isTradeExecution bool) (*portfolio.WriteResult, error) {
	return r.writeBoth("save snapshot",
		func() error { _, err := r.primary.SavePortfolioSnapshot(ctx, snapshot, isTradeExecution); return err },
		func() error { _, err := r.secondary.SavePortfolioSnapshot(ctx, snapshot, isTradeExecution); return err })
}

func (r *DualWrite) UpdateDailyPortfolioSnapshot(ctx context.Context, snapshot *portfolio.PortfolioSnapshot) (*portfolio.WriteResult, error) {
	return r.writeBoth("update daily snapshot",
		func() error { _, err := r.primary.UpdateDailyPortfolioSnapshot(ctx, snapshot); return err },
		func() error { _, err := r.secondary.UpdateDailyPortfolioSnapshot(ctx, snapshot); return err })
}

func (r *DualWrite) SaveTrade(ctx context.Context, trade *portfolio.Trade) (*portfolio.WriteResult, error) {
	return r.writeBoth("save trade",
		func() error { _, err := r.primary.SaveTrade(ctx, trade); return err },
		func() error { _, err := r.secondary.SaveTrade(ctx, trade); return err })
}

func (r *DualWrite) SaveCashBalance(ctx context.Context, currency string, amount decimal.Decimal, date time.Time) (*portfolio.WriteResult, error) {
	return r.writeBoth("save cash balance",
		func() error { _, err := r.primary.SaveCashBalance(ctx, currency, amount, date); return err },
		func() error { _, err := r.secondary.SaveCashBalance(ctx, currency, amount, date); return err })
}

func (r *DualWrite) SaveMarketData(ctx context.Context, md *portfolio.MarketData) (*portfolio.WriteResult, error) {
	return r.writeBoth("save market data",
		func() error { _, err := r.primary.SaveMarketData(ctx, md); return err },
		func() error { _, err := r.secondary.SaveMarketData(ctx, md); return err })
}

func (r *DualWrite) UpdateTickerInFutureSnapshots(ctx context.Context, ticker string, from time.Time) error {
	result, err := r.writeBoth("update future snapshots",
		func() error { return r.primary.UpdateTickerInFutureSnapshots(ctx, ticker, from) },
		func() error { return r.secondary.UpdateTickerInFutureSnapshots(ctx, ticker, from) })
	if err != nil {
		return err
	}
	if !result.OK() {
		return nil // partial failure already logged; diverged side reconciles via validate
	}
	return nil
}

// --- backup / integrity ---

func (r *DualWrite) BackupData(ctx context.Context, path string) error {
	return writeArchive(ctx, r, path)
}

func (r *DualWrite) RestoreFromBackup(ctx context.Context, path string) error {
	return restoreArchive(ctx, r, path)
}

// ValidateDataIntegrity checks the primary's internal consistency and then
// compares the two backends so diverged dual writes surface.
func (r *DualWrite) ValidateDataIntegrity(ctx context.Context) ([]string, error) {
	issues, err := validateIntegrity(ctx, r.primary)
	if err != nil {
		return nil, err
	}

	primaryTrades, err := r.primary.GetTradeHistory(ctx, "", nil)
	if err != nil {
		return nil, err
	}
	secondaryTrades, err := r.secondary.GetTradeHistory(ctx, "", nil)
	if err != nil {
		return nil, err
	}
	if len(primaryTrades) != len(secondaryTrades) {
		issues = append(issues, fmt.Sprintf("trade count mismatch: primary has %d, secondary has %d",
			len(primaryTrades), len(secondaryTrades)))
	} else {
		secondaryIDs := make(map[string]bool, len(secondaryTrades))
		for _, trade := range secondaryTrades {
			secondaryIDs[trade.SourceID] = true
		}
		for _, trade := range primaryTrades {
			if !secondaryIDs[trade.SourceID] {
				issues = append(issues, fmt.Sprintf("trade %s (%s) missing from secondary", trade.SourceID, trade.Ticker))
			}
		}
	}

	primarySnaps, err := r.primary.GetPortfolioData(ctx, nil)
	if err != nil {
		return nil, err
	}
	secondarySnaps, err := r.secondary.GetPortfolioData(ctx, nil)
	if err != nil {
		return nil, err
	}
	if len(primarySnaps) != len(secondarySnaps) {
		issues = append(issues, fmt.Sprintf("snapshot count mismatch: primary has %d, secondary has %d",
			len(primarySnaps), len(secondarySnaps)))
	}

	return issues, nil
}
