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
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fundfolio/ff-api/common"
	"github.com/fundfolio/ff-api/portfolio"
	"github.com/shopspring/decimal"
)

// memRepo is an in-memory Repository for the engine tests. It mirrors the
// backend contract: trades dedup on SourceID, one snapshot per calendar date,
// and market-close snapshots refuse a non-trade overwrite.
type memRepo struct {
	fund       string
	trades     []*portfolio.Trade
	snapshots  map[int64]*portfolio.PortfolioSnapshot
	cash       map[string]decimal.Decimal
	marketData []*portfolio.MarketData

	lastTradeExecution bool
}

func newMemRepo(fund string) *memRepo {
	return &memRepo{
		fund:      fund,
		snapshots: make(map[int64]*portfolio.PortfolioSnapshot),
		cash:      make(map[string]decimal.Decimal),
	}
}

func (mr *memRepo) ok() (*portfolio.WriteResult, error) {
	return &portfolio.WriteResult{PrimaryOK: true, SecondaryOK: true}, nil
}

func (mr *memRepo) FundID() string {
	return mr.fund
}

// putSnapshot seeds a snapshot without going through the overwrite guard.
func (mr *memRepo) putSnapshot(snap *portfolio.PortfolioSnapshot) {
	mr.snapshots[common.CalendarDate(snap.Timestamp).Unix()] = snap.Clone()
}

func (mr *memRepo) sortedSnapshots() []*portfolio.PortfolioSnapshot {
	snaps := make([]*portfolio.PortfolioSnapshot, 0, len(mr.snapshots))
	for _, snap := range mr.snapshots {
		snaps = append(snaps, snap)
	}
	sort.SliceStable(snaps, func(i, j int) bool {
		return snaps[i].Timestamp.Before(snaps[j].Timestamp)
	})
	return snaps
}

func (mr *memRepo) GetPortfolioData(_ context.Context, dateRange *portfolio.DateRange) ([]*portfolio.PortfolioSnapshot, error) {
	var out []*portfolio.PortfolioSnapshot
	for _, snap := range mr.sortedSnapshots() {
		if dateRange.Contains(snap.Timestamp) {
			out = append(out, snap.Clone())
		}
	}
	return out, nil
}

func (mr *memRepo) GetLatestPortfolioSnapshot(_ context.Context) (*portfolio.PortfolioSnapshot, error) {
	snaps := mr.sortedSnapshots()
	if len(snaps) == 0 {
		return nil, portfolio.ErrNotFound
	}
	return snaps[len(snaps)-1].Clone(), nil
}

func (mr *memRepo) SavePortfolioSnapshot(_ context.Context, snapshot *portfolio.PortfolioSnapshot, isTradeExecution bool) (*portfolio.WriteResult, error) {
	key := common.CalendarDate(snapshot.Timestamp).Unix()
	if existing, ok := mr.snapshots[key]; ok && existing.IsMarketClose() && !isTradeExecution {
		return nil, fmt.Errorf("%w: market-close snapshot already stored for date", portfolio.ErrValidation)
	}
	mr.snapshots[key] = snapshot.Clone()
	mr.lastTradeExecution = isTradeExecution
	return mr.ok()
}

func (mr *memRepo) UpdateDailyPortfolioSnapshot(ctx context.Context, snapshot *portfolio.PortfolioSnapshot) (*portfolio.WriteResult, error) {
	return mr.SavePortfolioSnapshot(ctx, snapshot, false)
}

func (mr *memRepo) GetTradeHistory(_ context.Context, ticker string, dateRange *portfolio.DateRange) ([]*portfolio.Trade, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	var out []*portfolio.Trade
	for _, trade := range mr.trades {
		if ticker != "" && trade.Ticker != ticker {
			continue
		}
		if !dateRange.Contains(trade.Timestamp) {
			continue
		}
		out = append(out, trade)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

func (mr *memRepo) SaveTrade(_ context.Context, trade *portfolio.Trade) (*portfolio.WriteResult, error) {
	for _, existing := range mr.trades {
		if existing.SourceID == trade.SourceID {
			return mr.ok()
		}
	}
	dup := *trade
	mr.trades = append(mr.trades, &dup)
	return mr.ok()
}

func (mr *memRepo) GetPositionsByTicker(_ context.Context, ticker string) ([]*portfolio.Position, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	var out []*portfolio.Position
	for _, snap := range mr.sortedSnapshots() {
		if pos := snap.FindPosition(ticker); pos != nil {
			out = append(out, pos.Clone())
		}
	}
	return out, nil
}

func (mr *memRepo) UpdateTickerInFutureSnapshots(_ context.Context, _ string, _ time.Time) error {
	return nil
}

func (mr *memRepo) GetMarketData(_ context.Context, ticker string, dateRange *portfolio.DateRange) ([]*portfolio.MarketData, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	var out []*portfolio.MarketData
	for _, md := range mr.marketData {
		if md.Ticker == ticker && dateRange.Contains(md.Date) {
			out = append(out, md)
		}
	}
	return out, nil
}

func (mr *memRepo) SaveMarketData(_ context.Context, md *portfolio.MarketData) (*portfolio.WriteResult, error) {
	dup := *md
	mr.marketData = append(mr.marketData, &dup)
	return mr.ok()
}

func (mr *memRepo) GetCashBalances(_ context.Context) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(mr.cash))
	for currency, amount := range mr.cash {
		out[currency] = amount
	}
	return out, nil
}

func (mr *memRepo) SaveCashBalance(_ context.Context, currency string, amount decimal.Decimal, _ time.Time) (*portfolio.WriteResult, error) {
	mr.cash[currency] = amount
	return mr.ok()
}

func (mr *memRepo) BackupData(_ context.Context, _ string) error {
	return nil
}

func (mr *memRepo) RestoreFromBackup(_ context.Context, _ string) error {
	return nil
}

func (mr *memRepo) ValidateDataIntegrity(_ context.Context) ([]string, error) {
	return nil, nil
}

var _ portfolio.Repository = (*memRepo)(nil)
