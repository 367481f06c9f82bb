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
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fundfolio/ff-api/common"
	"github.com/fundfolio/ff-api/portfolio"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	tradesFile     = "trades.csv"
	snapshotsFile  = "snapshots.csv"
	cashFile       = "cash.csv"
	marketDataFile = "market_data.csv"
	lockFile       = ".lock"

	// journal timestamps carry the writer's wall-clock zone label (PST/PDT)
	journalTimeFormat = "2006-01-02 15:04:05 MST"
)

var tradeColumns = []string{"Date", "Ticker", "Shares Bought", "Buy Price", "Cost Basis", "PnL", "Reason"}
var snapshotColumns = []string{"Date", "Ticker", "Shares", "Average Price", "Cost Basis", "Currency", "Company", "Current Price", "Total Value", "PnL", "Stop Loss"}
var cashColumns = []string{"Currency", "Amount", "Date"}
var marketDataColumns = []string{"Date", "Ticker", "Open", "High", "Low", "Close", "Adj Close", "Volume", "Source"}

// LocalFile stores one fund as a directory of CSV journals. Every query
// reads the file in full; every mutation rewrites it through a temp file and
// rename so readers see either the old state or the new, never a partial
// write. A lock file serializes writers within the fund.
type LocalFile struct {
	fund string
	dir  string
}

func NewLocalFile(fund, dir string) (*LocalFile, error) {
	if fund == "" || dir == "" {
		return nil, fmt.Errorf("%w: fund and directory are required", portfolio.ErrValidation)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create fund directory: %w", err)
	}
	return &LocalFile{fund: fund, dir: dir}, nil
}

func (r *LocalFile) FundID() string {
	return r.fund
}

func (r *LocalFile) path(name string) string {
	return filepath.Join(r.dir, name)
}

// lock serializes fund writers across processes. The token is advisory; a
// crashed writer leaves a stale lock that is broken after a timeout.
func (r *LocalFile) lock() (func(), error) {
	lockPath := r.path(lockFile)
	deadline := time.Now().Add(10 * time.Second)
	for {
		fh, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(fh, "%d\n", os.Getpid())
			fh.Close()
			return func() {
				if err := os.Remove(lockPath); err != nil {
					log.Warn().Err(err).Str("Fund", r.fund).Msg("could not remove lock file")
				}
			}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("could not acquire fund lock: %w", err)
		}

		if info, statErr := os.Stat(lockPath); statErr == nil && time.Since(info.ModTime()) > time.Minute {
			log.Warn().Str("Fund", r.fund).Msg("breaking stale fund lock")
			os.Remove(lockPath)
			continue
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: fund %s is locked by another writer", portfolio.ErrRepository, r.fund)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func singleBackendOK() *portfolio.WriteResult {
	return &portfolio.WriteResult{PrimaryOK: true, SecondaryOK: true}
}

// readRecords loads a CSV journal; a missing file is an empty journal.
func readRecords(path string, columns []string) ([][]string, error) {
	fh, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer fh.Close()

	reader := csv.NewReader(fh)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not valid CSV: %v", portfolio.ErrCorrupt, filepath.Base(path), err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	if len(rows[0]) < len(columns) {
		return nil, fmt.Errorf("%w: %s header has %d columns, want %d", portfolio.ErrCorrupt, filepath.Base(path), len(rows[0]), len(columns))
	}
	return rows[1:], nil
}

// writeRecords rewrites a journal atomically.
func writeRecords(path string, columns []string, rows [][]string) error {
	tmp := path + ".tmp"
	fh, err := os.Create(tmp)
	if err != nil {
		return err
	}

	writer := csv.NewWriter(fh)
	if err := writer.Write(columns); err != nil {
		fh.Close()
		return err
	}
	if err := writer.WriteAll(rows); err != nil {
		fh.Close()
		return err
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		fh.Close()
		return err
	}
	if err := fh.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func parseDecimal(s string) decimal.Decimal {
	s = strings.TrimSpace(strings.ReplaceAll(s, "$", ""))
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseJournalTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.ParseInLocation(journalTimeFormat, s, common.GetDisplayTimezone()); err == nil {
		return t, nil
	}
	// older journals recorded bare dates
	return time.ParseInLocation("2006-01-02", s, common.GetDisplayTimezone())
}

func formatJournalTime(t time.Time) string {
	return t.In(common.GetDisplayTimezone()).Format(journalTimeFormat)
}

// --- trades ---

func (r *LocalFile) readTrades() ([]*portfolio.Trade, error) {
	rows, err := readRecords(r.path(tradesFile), tradeColumns)
	if err != nil {
		return nil, err
	}

	trades := make([]*portfolio.Trade, 0, len(rows))
	for idx, row := range rows {
		if len(row) < len(tradeColumns) {
			return nil, fmt.Errorf("%w: trade row %d has %d fields", portfolio.ErrCorrupt, idx+2, len(row))
		}

		ts, err := parseJournalTime(row[0])
		if err != nil {
			return nil, fmt.Errorf("%w: trade row %d has invalid date %q", portfolio.ErrCorrupt, idx+2, row[0])
		}

		trade := &portfolio.Trade{
			Fund:      r.fund,
			Ticker:    strings.ToUpper(strings.TrimSpace(row[1])),
			Action:    portfolio.InferAction(row[6]),
			Shares:    parseDecimal(row[2]),
			Price:     parseDecimal(row[3]),
			Timestamp: ts,
			CostBasis: parseDecimal(row[4]),
			Reason:    row[6],
		}
		if pnl := strings.TrimSpace(row[5]); pnl != "" && trade.Action == portfolio.SellAction {
			trade.RealizedPnL = decimal.NewNullDecimal(parseDecimal(pnl))
		}
		trade.SourceID = portfolio.ComputeTradeSourceID(trade)
		trade.TradeID = trade.SourceID
		trades = append(trades, trade)
	}

	sort.SliceStable(trades, func(i, j int) bool {
		return trades[i].Timestamp.Before(trades[j].Timestamp)
	})
	return trades, nil
}

func tradeRow(t *portfolio.Trade) []string {
	pnl := ""
	if t.RealizedPnL.Valid {
		pnl = portfolio.RoundMoney(t.RealizedPnL.Decimal).StringFixed(portfolio.MoneyScale)
	}
	return []string{
		formatJournalTime(t.Timestamp),
		t.Ticker,
		portfolio.RoundShares(t.Shares).StringFixed(portfolio.SharesScale),
		portfolio.RoundMoney(t.Price).StringFixed(portfolio.MoneyScale),
		portfolio.RoundMoney(t.CostBasis).StringFixed(portfolio.MoneyScale),
		pnl,
		t.Reason,
	}
}

func (r *LocalFile) writeTrades(trades []*portfolio.Trade) error {
	rows := make([][]string, 0, len(trades))
	for _, trade := range trades {
		rows = append(rows, tradeRow(trade))
	}
	return writeRecords(r.path(tradesFile), tradeColumns, rows)
}

func (r *LocalFile) GetTradeHistory(_ context.Context, ticker string, dateRange *portfolio.DateRange) ([]*portfolio.Trade, error) {
	trades, err := r.readTrades()
	if err != nil {
		return nil, err
	}

	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	filtered := make([]*portfolio.Trade, 0, len(trades))
	for _, trade := range trades {
		if ticker != "" && trade.Ticker != ticker {
			continue
		}
		if !dateRange.Contains(trade.Timestamp) {
			continue
		}
		filtered = append(filtered, trade)
	}
	return filtered, nil
}

func (r *LocalFile) SaveTrade(_ context.Context, trade *portfolio.Trade) (*portfolio.WriteResult, error) {
	if err := trade.Validate(); err != nil {
		return nil, err
	}

	unlock, err := r.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	trades, err := r.readTrades()
	if err != nil {
		return nil, err
	}
	for _, existing := range trades {
		if existing.SourceID == trade.SourceID {
			log.Warn().Str("SourceID", trade.SourceID).Str("Ticker", trade.Ticker).Msg("duplicate trade import skipped")
			return singleBackendOK(), nil
		}
	}

	trades = append(trades, trade)
	sort.SliceStable(trades, func(i, j int) bool {
		return trades[i].Timestamp.Before(trades[j].Timestamp)
	})
	if err := r.writeTrades(trades); err != nil {
		return nil, err
	}
	return singleBackendOK(), nil
}

// --- snapshots ---

// readSnapshots groups the one-row-per-(date,ticker) journal back into
// snapshots, ascending by timestamp.
func (r *LocalFile) readSnapshots() ([]*portfolio.PortfolioSnapshot, error) {
	rows, err := readRecords(r.path(snapshotsFile), snapshotColumns)
	if err != nil {
		return nil, err
	}

	byStamp := make(map[int64]*portfolio.PortfolioSnapshot)
	for idx, row := range rows {
		if len(row) < len(snapshotColumns) {
			return nil, fmt.Errorf("%w: snapshot row %d has %d fields", portfolio.ErrCorrupt, idx+2, len(row))
		}

		ts, err := parseJournalTime(row[0])
		if err != nil {
			return nil, fmt.Errorf("%w: snapshot row %d has invalid date %q", portfolio.ErrCorrupt, idx+2, row[0])
		}

		snap, ok := byStamp[ts.Unix()]
		if !ok {
			snap = &portfolio.PortfolioSnapshot{
				SnapshotID: uuid.New().String(),
				Fund:       r.fund,
				Timestamp:  ts,
			}
			byStamp[ts.Unix()] = snap
		}

		pos := &portfolio.Position{
			Ticker:        strings.ToUpper(strings.TrimSpace(row[1])),
			Shares:        parseDecimal(row[2]),
			AvgPrice:      parseDecimal(row[3]),
			CostBasis:     parseDecimal(row[4]),
			Currency:      row[5],
			Company:       row[6],
			CurrentPrice:  parseDecimal(row[7]),
			MarketValue:   parseDecimal(row[8]),
			UnrealizedPnL: parseDecimal(row[9]),
			StopLoss:      parseDecimal(row[10]),
		}
		snap.Positions = append(snap.Positions, pos)
	}

	snapshots := make([]*portfolio.PortfolioSnapshot, 0, len(byStamp))
	for _, snap := range byStamp {
		snap.RecomputeTotals()
		snapshots = append(snapshots, snap)
	}
	sort.SliceStable(snapshots, func(i, j int) bool {
		return snapshots[i].Timestamp.Before(snapshots[j].Timestamp)
	})
	return snapshots, nil
}

func snapshotRows(snap *portfolio.PortfolioSnapshot) [][]string {
	rows := make([][]string, 0, len(snap.Positions))
	for _, pos := range snap.Positions {
		rows = append(rows, []string{
			formatJournalTime(snap.Timestamp),
			pos.Ticker,
			portfolio.RoundShares(pos.Shares).StringFixed(portfolio.SharesScale),
			portfolio.RoundMoney(pos.AvgPrice).StringFixed(portfolio.MoneyScale),
			portfolio.RoundMoney(pos.CostBasis).StringFixed(portfolio.MoneyScale),
			pos.Currency,
			pos.Company,
			portfolio.RoundMoney(pos.CurrentPrice).StringFixed(portfolio.MoneyScale),
			portfolio.RoundMoney(pos.MarketValue).StringFixed(portfolio.MoneyScale),
			portfolio.RoundMoney(pos.UnrealizedPnL).StringFixed(portfolio.MoneyScale),
			portfolio.RoundMoney(pos.StopLoss).StringFixed(portfolio.MoneyScale),
		})
	}
	return rows
}

func (r *LocalFile) writeSnapshots(snapshots []*portfolio.PortfolioSnapshot) error {
	sort.SliceStable(snapshots, func(i, j int) bool {
		return snapshots[i].Timestamp.Before(snapshots[j].Timestamp)
	})
	var rows [][]string
	for _, snap := range snapshots {
		rows = append(rows, snapshotRows(snap)...)
	}
	return writeRecords(r.path(snapshotsFile), snapshotColumns, rows)
}

func (r *LocalFile) GetPortfolioData(_ context.Context, dateRange *portfolio.DateRange) ([]*portfolio.PortfolioSnapshot, error) {
	snapshots, err := r.readSnapshots()
	if err != nil {
		return nil, err
	}

	filtered := make([]*portfolio.PortfolioSnapshot, 0, len(snapshots))
	for _, snap := range snapshots {
		if dateRange.Contains(snap.Timestamp) {
			filtered = append(filtered, snap)
		}
	}
	return filtered, nil
}

func (r *LocalFile) GetLatestPortfolioSnapshot(_ context.Context) (*portfolio.PortfolioSnapshot, error) {
	snapshots, err := r.readSnapshots()
	if err != nil {
		return nil, err
	}
	if len(snapshots) == 0 {
		return nil, fmt.Errorf("%w: fund %s has no snapshots", portfolio.ErrNotFound, r.fund)
	}
	return snapshots[len(snapshots)-1], nil
}

// upsertSnapshot replaces the snapshot for the new snapshot's calendar date,
// refusing to overwrite an official market-close snapshot unless the write
// comes from a trade execution.
func (r *LocalFile) upsertSnapshot(snapshot *portfolio.PortfolioSnapshot, isTradeExecution bool) error {
	unlock, err := r.lock()
	if err != nil {
		return err
	}
	defer unlock()

	snapshots, err := r.readSnapshots()
	if err != nil {
		return err
	}

	kept := make([]*portfolio.PortfolioSnapshot, 0, len(snapshots)+1)
	for _, existing := range snapshots {
		if !common.SameCalendarDate(existing.Timestamp, snapshot.Timestamp) {
			kept = append(kept, existing)
			continue
		}
		if existing.IsMarketClose() && !isTradeExecution {
			return fmt.Errorf("%w: market-close snapshot for %s already recorded",
				portfolio.ErrValidation, common.CalendarDate(existing.Timestamp).Format("2006-01-02"))
		}
		// intraday snapshot for the same date is replaced
	}

	kept = append(kept, snapshot)
	return r.writeSnapshots(kept)
}

func (r *LocalFile) SavePortfolioSnapshot(_ context.Context, snapshot *portfolio.PortfolioSnapshot, isTradeExecution bool) (*portfolio.WriteResult, error) {
	if err := r.upsertSnapshot(snapshot, isTradeExecution); err != nil {
		return nil, err
	}
	return singleBackendOK(), nil
}

func (r *LocalFile) UpdateDailyPortfolioSnapshot(_ context.Context, snapshot *portfolio.PortfolioSnapshot) (*portfolio.WriteResult, error) {
	if err := r.upsertSnapshot(snapshot, false); err != nil {
		return nil, err
	}
	return singleBackendOK(), nil
}

func (r *LocalFile) GetPositionsByTicker(_ context.Context, ticker string) ([]*portfolio.Position, error) {
	snapshots, err := r.readSnapshots()
	if err != nil {
		return nil, err
	}

	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	var positions []*portfolio.Position
	for _, snap := range snapshots {
		if pos := snap.FindPosition(ticker); pos != nil {
			positions = append(positions, pos)
		}
	}
	if len(positions) == 0 {
		return nil, fmt.Errorf("%w: no positions for %s", portfolio.ErrNotFound, ticker)
	}
	return positions, nil
}

// UpdateTickerInFutureSnapshots copies the ticker's position as of from into
// every later snapshot, revaluing at each snapshot's own stored price.
func (r *LocalFile) UpdateTickerInFutureSnapshots(_ context.Context, ticker string, from time.Time) error {
	unlock, err := r.lock()
	if err != nil {
		return err
	}
	defer unlock()

	snapshots, err := r.readSnapshots()
	if err != nil {
		return err
	}

	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	var baseline *portfolio.Position
	changed := false
	for _, snap := range snapshots {
		if snap.Timestamp.Before(from) {
			continue
		}
		pos := snap.FindPosition(ticker)
		if baseline == nil {
			if pos == nil {
				continue
			}
			baseline = pos
			continue
		}

		if pos == nil {
			pos = baseline.Clone()
			snap.Positions = append(snap.Positions, pos)
		} else {
			pos.Shares = baseline.Shares
			pos.AvgPrice = baseline.AvgPrice
			pos.CostBasis = baseline.CostBasis
		}
		if pos.CurrentPrice.IsPositive() {
			pos.ApplyPrice(pos.CurrentPrice)
		}
		snap.RecomputeTotals()
		changed = true
	}

	if !changed {
		return nil
	}
	return r.writeSnapshots(snapshots)
}

// --- cash ---

func (r *LocalFile) readCash() (map[string]decimal.Decimal, map[string]time.Time, error) {
	rows, err := readRecords(r.path(cashFile), cashColumns)
	if err != nil {
		return nil, nil, err
	}

	balances := make(map[string]decimal.Decimal)
	dates := make(map[string]time.Time)
	for idx, row := range rows {
		if len(row) < len(cashColumns) {
			return nil, nil, fmt.Errorf("%w: cash row %d has %d fields", portfolio.ErrCorrupt, idx+2, len(row))
		}
		currency := strings.ToUpper(strings.TrimSpace(row[0]))
		ts, err := parseJournalTime(row[2])
		if err != nil {
			return nil, nil, fmt.Errorf("%w: cash row %d has invalid date %q", portfolio.ErrCorrupt, idx+2, row[2])
		}
		// the latest row per currency wins
		if prev, ok := dates[currency]; !ok || ts.After(prev) {
			balances[currency] = parseDecimal(row[1])
			dates[currency] = ts
		}
	}
	return balances, dates, nil
}

func (r *LocalFile) GetCashBalances(_ context.Context) (map[string]decimal.Decimal, error) {
	balances, _, err := r.readCash()
	return balances, err
}

func (r *LocalFile) SaveCashBalance(_ context.Context, currency string, amount decimal.Decimal, date time.Time) (*portfolio.WriteResult, error) {
	unlock, err := r.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	balances, dates, err := r.readCash()
	if err != nil {
		return nil, err
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	balances[currency] = amount
	dates[currency] = date

	currencies := make([]string, 0, len(balances))
	for cur := range balances {
		currencies = append(currencies, cur)
	}
	sort.Strings(currencies)

	rows := make([][]string, 0, len(currencies))
	for _, cur := range currencies {
		rows = append(rows, []string{
			cur,
			portfolio.RoundMoney(balances[cur]).StringFixed(portfolio.MoneyScale),
			formatJournalTime(dates[cur]),
		})
	}
	if err := writeRecords(r.path(cashFile), cashColumns, rows); err != nil {
		return nil, err
	}
	return singleBackendOK(), nil
}

// --- market data ---

func (r *LocalFile) GetMarketData(_ context.Context, ticker string, dateRange *portfolio.DateRange) ([]*portfolio.MarketData, error) {
	rows, err := readRecords(r.path(marketDataFile), marketDataColumns)
	if err != nil {
		return nil, err
	}

	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	var out []*portfolio.MarketData
	for _, row := range rows {
		if len(row) < len(marketDataColumns) {
			continue
		}
		date, err := time.ParseInLocation("2006-01-02", row[0], time.UTC)
		if err != nil {
			continue
		}
		if strings.ToUpper(row[1]) != ticker || !dateRange.Contains(date) {
			continue
		}
		volume, _ := strconv.ParseInt(row[7], 10, 64)
		out = append(out, &portfolio.MarketData{
			Ticker:   ticker,
			Date:     date,
			Open:     parseDecimal(row[2]),
			High:     parseDecimal(row[3]),
			Low:      parseDecimal(row[4]),
			Close:    parseDecimal(row[5]),
			AdjClose: parseDecimal(row[6]),
			Volume:   volume,
			Source:   row[8],
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (r *LocalFile) SaveMarketData(_ context.Context, md *portfolio.MarketData) (*portfolio.WriteResult, error) {
	unlock, err := r.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	rows, err := readRecords(r.path(marketDataFile), marketDataColumns)
	if err != nil {
		return nil, err
	}

	dateStr := md.Date.UTC().Format("2006-01-02")
	ticker := strings.ToUpper(strings.TrimSpace(md.Ticker))
	newRow := []string{
		dateStr,
		ticker,
		portfolio.RoundMoney(md.Open).StringFixed(portfolio.MoneyScale),
		portfolio.RoundMoney(md.High).StringFixed(portfolio.MoneyScale),
		portfolio.RoundMoney(md.Low).StringFixed(portfolio.MoneyScale),
		portfolio.RoundMoney(md.Close).StringFixed(portfolio.MoneyScale),
		portfolio.RoundMoney(md.AdjClose).StringFixed(portfolio.MoneyScale),
		strconv.FormatInt(md.Volume, 10),
		md.Source,
	}

	// one row per (ticker, date)
	replaced := false
	for idx, row := range rows {
		if len(row) >= 2 && row[0] == dateStr && strings.ToUpper(row[1]) == ticker {
			rows[idx] = newRow
			replaced = true
			break
		}
	}
	if !replaced {
		rows = append(rows, newRow)
	}

	if err := writeRecords(r.path(marketDataFile), marketDataColumns, rows); err != nil {
		return nil, err
	}
	return singleBackendOK(), nil
}

// --- backup / integrity ---

func (r *LocalFile) BackupData(ctx context.Context, path string) error {
	return writeArchive(ctx, r, path)
}

func (r *LocalFile) RestoreFromBackup(ctx context.Context, path string) error {
	return restoreArchive(ctx, r, path)
}

func (r *LocalFile) ValidateDataIntegrity(_ context.Context) ([]string, error) {
	var issues []string

	snapshots, err := r.readSnapshots()
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]bool, len(snapshots))
	for _, snap := range snapshots {
		key := common.CalendarDate(snap.Timestamp).Unix()
		if seen[key] {
			issues = append(issues, fmt.Sprintf("duplicate snapshot for %s", common.CalendarDate(snap.Timestamp).Format("2006-01-02")))
		}
		seen[key] = true
		issues = append(issues, portfolio.ValidateSnapshot(snap)...)
	}

	trades, err := r.readTrades()
	if err != nil {
		return nil, err
	}
	engine := portfolio.NewLotEngine()
	issues = append(issues, engine.RebuildFromTrades(trades)...)

	return issues, nil
}
