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
	"os"
	"time"

	"github.com/fundfolio/ff-api/common"
	"github.com/fundfolio/ff-api/portfolio"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// archive is the lz4-compressed JSON backup shape. It goes through the
// repository interface on both sides so it works against any backend.
type archive struct {
	Fund       string                         `json:"fund"`
	CreatedAt  time.Time                      `json:"createdAt"`
	Trades     []*portfolio.Trade             `json:"trades"`
	Snapshots  []*portfolio.PortfolioSnapshot `json:"snapshots"`
	Cash       map[string]decimal.Decimal     `json:"cash"`
	MarketData []*portfolio.MarketData        `json:"marketData"`
}

// writeArchive serializes the fund's full state to path.
func writeArchive(ctx context.Context, repo portfolio.Repository, path string) error {
	trades, err := repo.GetTradeHistory(ctx, "", nil)
	if err != nil {
		return err
	}
	snapshots, err := repo.GetPortfolioData(ctx, nil)
	if err != nil {
		return err
	}
	cash, err := repo.GetCashBalances(ctx)
	if err != nil {
		return err
	}

	tickers := make(map[string]bool, len(trades))
	for _, trade := range trades {
		tickers[trade.Ticker] = true
	}
	var marketData []*portfolio.MarketData
	for ticker := range tickers {
		rows, err := repo.GetMarketData(ctx, ticker, nil)
		if err != nil {
			log.Warn().Err(err).Str("Ticker", ticker).Msg("skipping market data in backup")
			continue
		}
		marketData = append(marketData, rows...)
	}

	raw, err := json.Marshal(archive{
		Fund:       repo.FundID(),
		CreatedAt:  time.Now().UTC(),
		Trades:     trades,
		Snapshots:  snapshots,
		Cash:       cash,
		MarketData: marketData,
	})
	if err != nil {
		return err
	}

	compressed, err := common.Compress(raw)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, compressed, 0o644); err != nil {
		return fmt.Errorf("could not write backup: %w", err)
	}

	log.Info().
		Str("Fund", repo.FundID()).
		Str("Path", path).
		Int("Trades", len(trades)).
		Int("Snapshots", len(snapshots)).
		Msg("backup written")
	return nil
}

// restoreArchive replays a backup into the repository. Trades dedupe on
// their source IDs; snapshots replace whatever the store holds for each day.
func restoreArchive(ctx context.Context, repo portfolio.Repository, path string) error {
	compressed, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("could not read backup: %w", err)
	}
	raw, err := common.Decompress(compressed)
	if err != nil {
		return fmt.Errorf("%w: backup is not a valid archive: %v", portfolio.ErrCorrupt, err)
	}

	parsed := archive{}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("%w: backup is not valid JSON: %v", portfolio.ErrCorrupt, err)
	}
	if parsed.Fund != repo.FundID() {
		return fmt.Errorf("%w: backup is for fund %s, not %s", portfolio.ErrValidation, parsed.Fund, repo.FundID())
	}

	for _, trade := range parsed.Trades {
		if _, err := repo.SaveTrade(ctx, trade); err != nil {
			return err
		}
	}
	for _, snapshot := range parsed.Snapshots {
		if _, err := repo.SavePortfolioSnapshot(ctx, snapshot, true); err != nil {
			return err
		}
	}
	for currency, amount := range parsed.Cash {
		if _, err := repo.SaveCashBalance(ctx, currency, amount, parsed.CreatedAt); err != nil {
			return err
		}
	}
	for _, md := range parsed.MarketData {
		if _, err := repo.SaveMarketData(ctx, md); err != nil {
			return err
		}
	}

	log.Info().Str("Fund", repo.FundID()).Str("Path", path).Msg("backup restored")
	return nil
}

// validateIntegrity runs the backend-agnostic consistency checks: one
// snapshot per date, internally consistent snapshots, and a satisfiable
// trade log replay.
func validateIntegrity(ctx context.Context, repo portfolio.Repository) ([]string, error) {
	var issues []string

	snapshots, err := repo.GetPortfolioData(ctx, nil)
	if err != nil {
		return nil, err
	}
	seen := make(map[int64]bool, len(snapshots))
	for _, snap := range snapshots {
		key := common.CalendarDate(snap.Timestamp).Unix()
		if seen[key] {
			issues = append(issues, fmt.Sprintf("duplicate snapshot for %s",
				common.CalendarDate(snap.Timestamp).Format("2006-01-02")))
		}
		seen[key] = true
		issues = append(issues, portfolio.ValidateSnapshot(snap)...)
	}

	trades, err := repo.GetTradeHistory(ctx, "", nil)
	if err != nil {
		return nil, err
	}
	engine := portfolio.NewLotEngine()
	issues = append(issues, engine.RebuildFromTrades(trades)...)

	return issues, nil
}
