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
	"time"

	"github.com/shopspring/decimal"
)

// DateRange bounds a query; a zero Begin or End leaves that side unbounded.
type DateRange struct {
	Begin time.Time
	End   time.Time
}

// Contains reports whether t falls inside the range.
func (dr *DateRange) Contains(t time.Time) bool {
	if dr == nil {
		return true
	}
	if !dr.Begin.IsZero() && t.Before(dr.Begin) {
		return false
	}
	if !dr.End.IsZero() && t.After(dr.End) {
		return false
	}
	return true
}

// WriteResult summarizes a write's per-backend outcome. Single-backend
// repositories report only the primary side; the dual-write wrapper fills
// both and attaches whatever failed.
type WriteResult struct {
	PrimaryOK   bool
	SecondaryOK bool
	Errors      []error
}

// OK reports whether every participating backend accepted the write.
func (wr *WriteResult) OK() bool {
	return wr != nil && wr.PrimaryOK && wr.SecondaryOK && len(wr.Errors) == 0
}

// Repository is the storage contract every backend implements. All
// operations are scoped to a single fund; cross-fund work composes multiple
// instances. Modules never inspect backing files directly; existence checks
// like "is there a snapshot for day d" go through these methods so the
// dual-write wrapper stays correct.
type Repository interface {
	FundID() string

	GetPortfolioData(ctx context.Context, dateRange *DateRange) ([]*PortfolioSnapshot, error)
	GetLatestPortfolioSnapshot(ctx context.Context) (*PortfolioSnapshot, error)
	SavePortfolioSnapshot(ctx context.Context, snapshot *PortfolioSnapshot, isTradeExecution bool) (*WriteResult, error)
	// UpdateDailyPortfolioSnapshot upserts by (ticker, calendar date). When
	// the stored snapshot for the date is a market-close snapshot the upsert
	// is refused unless the snapshot carries a trade execution.
	UpdateDailyPortfolioSnapshot(ctx context.Context, snapshot *PortfolioSnapshot) (*WriteResult, error)

	GetTradeHistory(ctx context.Context, ticker string, dateRange *DateRange) ([]*Trade, error)
	SaveTrade(ctx context.Context, trade *Trade) (*WriteResult, error)

	GetPositionsByTicker(ctx context.Context, ticker string) ([]*Position, error)
	// UpdateTickerInFutureSnapshots applies a ticker's latest position to
	// every snapshot at or after from; backdating uses it after a rebuild.
	UpdateTickerInFutureSnapshots(ctx context.Context, ticker string, from time.Time) error

	GetMarketData(ctx context.Context, ticker string, dateRange *DateRange) ([]*MarketData, error)
	SaveMarketData(ctx context.Context, md *MarketData) (*WriteResult, error)

	GetCashBalances(ctx context.Context) (map[string]decimal.Decimal, error)
	SaveCashBalance(ctx context.Context, currency string, amount decimal.Decimal, date time.Time) (*WriteResult, error)

	BackupData(ctx context.Context, path string) error
	RestoreFromBackup(ctx context.Context, path string) error

	// ValidateDataIntegrity returns human-readable issue strings; an empty
	// slice means the store is consistent.
	ValidateDataIntegrity(ctx context.Context) ([]string, error)
}
