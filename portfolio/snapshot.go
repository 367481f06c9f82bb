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
	"fmt"
	"sort"

	"github.com/fundfolio/ff-api/common"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// derivedFieldTolerance bounds the drift allowed between a stored derived
// value and its recomputation; persistence rounds money to two places so one
// cent of slack is legitimate.
var derivedFieldTolerance = decimal.NewFromFloat(0.01)

// SnapshotManager loads snapshots through the repository and enforces the
// one-snapshot-per-date rule. In strict mode a duplicate date is fatal; in
// lenient mode it is logged and the later snapshot wins.
type SnapshotManager struct {
	repo   Repository
	strict bool
}

func NewSnapshotManager(repo Repository, strict bool) *SnapshotManager {
	return &SnapshotManager{
		repo:   repo,
		strict: strict,
	}
}

// Load returns the fund's snapshots for the range, ascending by timestamp,
// after duplicate detection.
func (sm *SnapshotManager) Load(ctx context.Context, dateRange *DateRange) ([]*PortfolioSnapshot, error) {
	snapshots, err := sm.repo.GetPortfolioData(ctx, dateRange)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(snapshots, func(i, j int) bool {
		return snapshots[i].Timestamp.Before(snapshots[j].Timestamp)
	})

	byDate := make(map[int64]*PortfolioSnapshot, len(snapshots))
	deduped := make([]*PortfolioSnapshot, 0, len(snapshots))
	for _, snap := range snapshots {
		key := common.CalendarDate(snap.Timestamp).Unix()
		prev, ok := byDate[key]
		if !ok {
			byDate[key] = snap
			deduped = append(deduped, snap)
			continue
		}

		date := common.CalendarDate(snap.Timestamp).Format("2006-01-02")
		if sm.strict {
			return nil, fmt.Errorf("%w: multiple snapshots for %s on %s", ErrCorrupt, sm.repo.FundID(), date)
		}
		log.Warn().
			Str("Fund", sm.repo.FundID()).
			Str("Date", date).
			Msg("duplicate snapshot for date; keeping the later one")
		// replace in place so ordering is preserved
		for idx, kept := range deduped {
			if kept == prev {
				deduped[idx] = snap
				break
			}
		}
		byDate[key] = snap
	}

	return deduped, nil
}

// Latest returns the most recent snapshot or ErrNotFound.
func (sm *SnapshotManager) Latest(ctx context.Context) (*PortfolioSnapshot, error) {
	return sm.repo.GetLatestPortfolioSnapshot(ctx)
}

// ValidateSnapshot checks a snapshot's internal consistency: unique tickers,
// non-negative shares, and derived fields within tolerance. Issues are
// returned as human-readable strings.
func ValidateSnapshot(snap *PortfolioSnapshot) []string {
	var issues []string

	seen := make(map[string]bool, len(snap.Positions))
	totalValue := decimal.Zero
	for _, pos := range snap.Positions {
		if seen[pos.Ticker] {
			issues = append(issues, fmt.Sprintf("duplicate ticker %s in snapshot %s", pos.Ticker, snap.SnapshotID))
			continue
		}
		seen[pos.Ticker] = true

		if pos.Shares.IsNegative() {
			issues = append(issues, fmt.Sprintf("%s has negative shares %s", pos.Ticker, pos.Shares))
		}

		expectedBasis := pos.AvgPrice.Mul(pos.Shares)
		if outsideTolerance(pos.CostBasis, expectedBasis) {
			issues = append(issues, fmt.Sprintf("%s cost basis %s does not match avg price * shares %s",
				pos.Ticker, RoundMoney(pos.CostBasis), RoundMoney(expectedBasis)))
		}

		if pos.CurrentPrice.IsPositive() {
			expectedValue := pos.CurrentPrice.Mul(pos.Shares)
			if outsideTolerance(pos.MarketValue, expectedValue) {
				issues = append(issues, fmt.Sprintf("%s market value %s does not match current price * shares %s",
					pos.Ticker, RoundMoney(pos.MarketValue), RoundMoney(expectedValue)))
			}
			expectedPnL := pos.MarketValue.Sub(pos.CostBasis)
			if outsideTolerance(pos.UnrealizedPnL, expectedPnL) {
				issues = append(issues, fmt.Sprintf("%s unrealized pnl %s does not match market value - cost basis %s",
					pos.Ticker, RoundMoney(pos.UnrealizedPnL), RoundMoney(expectedPnL)))
			}
		}

		totalValue = totalValue.Add(pos.MarketValue)
	}

	if !snap.TotalValue.IsZero() && outsideTolerance(snap.TotalValue, totalValue) {
		issues = append(issues, fmt.Sprintf("snapshot total value %s does not match position sum %s",
			RoundMoney(snap.TotalValue), RoundMoney(totalValue)))
	}

	return issues
}

func outsideTolerance(actual, expected decimal.Decimal) bool {
	return actual.Sub(expected).Abs().GreaterThan(derivedFieldTolerance)
}
