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
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fundfolio/ff-api/common"
	"github.com/fundfolio/ff-api/portfolio"
	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// PgxIface is the subset of pgxpool.Pool the remote backend uses; pgxmock
// satisfies it in tests.
type PgxIface interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// Remote stores a fund in postgres. Daily and 5-day P&L are computed in the
// database from historical snapshots through the latest_positions view, so
// they can never be accidentally re-derived from the current snapshot's cost
// basis.
type Remote struct {
	fund string
	pool PgxIface
}

func NewRemote(ctx context.Context, fund, databaseURL string) (*Remote, error) {
	if fund == "" {
		return nil, fmt.Errorf("%w: fund is required", portfolio.ErrValidation)
	}
	pool, err := pgxpool.Connect(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}
	return &Remote{fund: fund, pool: pool}, nil
}

// SetPool replaces the connection; tests inject pgxmock here.
func (r *Remote) SetPool(pool PgxIface) {
	r.pool = pool
}

func (r *Remote) FundID() string {
	return r.fund
}

// Migrate creates the fund tables and the latest_positions view when they do
// not exist.
func (r *Remote) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS funds (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			base_currency TEXT NOT NULL DEFAULT 'USD',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS trade_log (
			source_id TEXT PRIMARY KEY,
			trade_id TEXT NOT NULL,
			fund TEXT NOT NULL,
			ticker TEXT NOT NULL,
			action TEXT NOT NULL,
			shares NUMERIC NOT NULL,
			price NUMERIC NOT NULL,
			cost_basis NUMERIC NOT NULL,
			realized_pnl NUMERIC,
			reason TEXT NOT NULL DEFAULT '',
			currency TEXT NOT NULL DEFAULT 'USD',
			event_date TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS portfolio_positions (
			fund TEXT NOT NULL,
			ticker TEXT NOT NULL,
			event_date TIMESTAMPTZ NOT NULL,
			snapshot_date DATE NOT NULL,
			shares NUMERIC NOT NULL,
			avg_price NUMERIC NOT NULL,
			cost_basis NUMERIC NOT NULL,
			currency TEXT NOT NULL DEFAULT 'USD',
			company TEXT NOT NULL DEFAULT '',
			current_price NUMERIC NOT NULL DEFAULT 0,
			market_value NUMERIC NOT NULL DEFAULT 0,
			unrealized_pnl NUMERIC NOT NULL DEFAULT 0,
			stop_loss NUMERIC NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (fund, ticker, snapshot_date)
		)`,
		`CREATE TABLE IF NOT EXISTS cash_balances (
			fund TEXT NOT NULL,
			currency TEXT NOT NULL,
			amount NUMERIC NOT NULL,
			event_date TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (fund, currency)
		)`,
		`CREATE TABLE IF NOT EXISTS market_data (
			ticker TEXT NOT NULL,
			event_date DATE NOT NULL,
			open NUMERIC NOT NULL DEFAULT 0,
			high NUMERIC NOT NULL DEFAULT 0,
			low NUMERIC NOT NULL DEFAULT 0,
			close NUMERIC NOT NULL,
			adj_close NUMERIC NOT NULL,
			volume BIGINT NOT NULL DEFAULT 0,
			source TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (ticker, event_date)
		)`,
		// daily and 5-day P&L derive from historical snapshot rows, never
		// from the latest row's cost basis
		`CREATE OR REPLACE VIEW latest_positions AS
		SELECT cur.fund,
			cur.ticker,
			cur.event_date,
			cur.shares,
			cur.avg_price,
			cur.cost_basis,
			cur.currency,
			cur.company,
			cur.current_price,
			cur.market_value,
			cur.unrealized_pnl,
			cur.stop_loss,
			prev1.current_price AS prior_close,
			prev5.current_price AS close_5d,
			(cur.current_price - prev1.current_price) * cur.shares AS daily_pnl,
			(cur.current_price - prev5.current_price) * cur.shares AS pnl_5d
		FROM portfolio_positions cur
		LEFT JOIN LATERAL (
			SELECT current_price FROM portfolio_positions p
			WHERE p.fund = cur.fund AND p.ticker = cur.ticker AND p.snapshot_date < cur.snapshot_date
			ORDER BY p.snapshot_date DESC LIMIT 1
		) prev1 ON true
		LEFT JOIN LATERAL (
			SELECT current_price FROM portfolio_positions p
			WHERE p.fund = cur.fund AND p.ticker = cur.ticker AND p.snapshot_date <= cur.snapshot_date - 5
			ORDER BY p.snapshot_date DESC LIMIT 1
		) prev5 ON true
		WHERE cur.snapshot_date = (
			SELECT max(snapshot_date) FROM portfolio_positions m WHERE m.fund = cur.fund
		)`,
	}

	for _, stmt := range statements {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

func toNumeric(d decimal.Decimal) pgtype.Numeric {
	var n pgtype.Numeric
	if err := n.Set(d.String()); err != nil {
		log.Panic().Err(err).Str("Value", d.String()).Msg("could not convert decimal")
	}
	return n
}

func fromNumeric(n pgtype.Numeric) decimal.Decimal {
	if n.Status != pgtype.Present {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}

// --- trades ---

const tradeSelect = `SELECT trade_id, source_id, ticker, action, shares, price, cost_basis, realized_pnl, reason, currency, event_date FROM trade_log WHERE fund = $1`

func (r *Remote) GetTradeHistory(ctx context.Context, ticker string, dateRange *portfolio.DateRange) ([]*portfolio.Trade, error) {
	query := tradeSelect
	args := []interface{}{r.fund}
	if ticker = strings.ToUpper(strings.TrimSpace(ticker)); ticker != "" {
		args = append(args, ticker)
		query += fmt.Sprintf(" AND ticker = $%d", len(args))
	}
	if dateRange != nil && !dateRange.Begin.IsZero() {
		args = append(args, dateRange.Begin)
		query += fmt.Sprintf(" AND event_date >= $%d", len(args))
	}
	if dateRange != nil && !dateRange.End.IsZero() {
		args = append(args, dateRange.End)
		query += fmt.Sprintf(" AND event_date <= $%d", len(args))
	}
	query += " ORDER BY event_date ASC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", portfolio.ErrRepository, err)
	}
	defer rows.Close()

	var trades []*portfolio.Trade
	for rows.Next() {
		trade := &portfolio.Trade{Fund: r.fund}
		var action string
		var shares, price, costBasis pgtype.Numeric
		var realized pgtype.Numeric
		if err := rows.Scan(&trade.TradeID, &trade.SourceID, &trade.Ticker, &action,
			&shares, &price, &costBasis, &realized, &trade.Reason, &trade.Currency, &trade.Timestamp); err != nil {
			return nil, fmt.Errorf("%w: %v", portfolio.ErrRepository, err)
		}
		trade.Action = portfolio.TradeAction(action)
		trade.Shares = fromNumeric(shares)
		trade.Price = fromNumeric(price)
		trade.CostBasis = fromNumeric(costBasis)
		if realized.Status == pgtype.Present {
			trade.RealizedPnL = decimal.NewNullDecimal(fromNumeric(realized))
		}
		trades = append(trades, trade)
	}
	return trades, rows.Err()
}

func (r *Remote) SaveTrade(ctx context.Context, trade *portfolio.Trade) (*portfolio.WriteResult, error) {
	if err := trade.Validate(); err != nil {
		return nil, err
	}

	var realized interface{}
	if trade.RealizedPnL.Valid {
		realized = toNumeric(trade.RealizedPnL.Decimal)
	}

	tag, err := r.pool.Exec(ctx,
		`INSERT INTO trade_log (source_id, trade_id, fund, ticker, action, shares, price, cost_basis, realized_pnl, reason, currency, event_date)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (source_id) DO NOTHING`,
		trade.SourceID, trade.TradeID, r.fund, trade.Ticker, string(trade.Action),
		toNumeric(trade.Shares), toNumeric(trade.Price), toNumeric(trade.CostBasis),
		realized, trade.Reason, trade.Currency, trade.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", portfolio.ErrRepository, err)
	}
	if tag.RowsAffected() == 0 {
		log.Warn().Str("SourceID", trade.SourceID).Str("Ticker", trade.Ticker).Msg("duplicate trade import skipped")
	}
	return singleBackendOK(), nil
}

// --- snapshots ---

const positionSelect = `SELECT ticker, event_date, shares, avg_price, cost_basis, currency, company, current_price, market_value, unrealized_pnl, stop_loss FROM portfolio_positions WHERE fund = $1`

func (r *Remote) queryPositions(ctx context.Context, query string, args ...interface{}) ([]*portfolio.PortfolioSnapshot, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", portfolio.ErrRepository, err)
	}
	defer rows.Close()

	byStamp := make(map[int64]*portfolio.PortfolioSnapshot)
	for rows.Next() {
		var ticker, currency, company string
		var eventDate time.Time
		var shares, avgPrice, costBasis, currentPrice, marketValue, unrealized, stopLoss pgtype.Numeric
		if err := rows.Scan(&ticker, &eventDate, &shares, &avgPrice, &costBasis, &currency,
			&company, &currentPrice, &marketValue, &unrealized, &stopLoss); err != nil {
			return nil, fmt.Errorf("%w: %v", portfolio.ErrRepository, err)
		}

		snap, ok := byStamp[eventDate.Unix()]
		if !ok {
			snap = &portfolio.PortfolioSnapshot{
				SnapshotID: uuid.New().String(),
				Fund:       r.fund,
				Timestamp:  eventDate,
			}
			byStamp[eventDate.Unix()] = snap
		}
		snap.Positions = append(snap.Positions, &portfolio.Position{
			Ticker:        ticker,
			Currency:      currency,
			Company:       company,
			Shares:        fromNumeric(shares),
			AvgPrice:      fromNumeric(avgPrice),
			CostBasis:     fromNumeric(costBasis),
			CurrentPrice:  fromNumeric(currentPrice),
			MarketValue:   fromNumeric(marketValue),
			UnrealizedPnL: fromNumeric(unrealized),
			StopLoss:      fromNumeric(stopLoss),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
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

func (r *Remote) GetPortfolioData(ctx context.Context, dateRange *portfolio.DateRange) ([]*portfolio.PortfolioSnapshot, error) {
	query := positionSelect
	args := []interface{}{r.fund}
	if dateRange != nil && !dateRange.Begin.IsZero() {
		args = append(args, dateRange.Begin)
		query += fmt.Sprintf(" AND event_date >= $%d", len(args))
	}
	if dateRange != nil && !dateRange.End.IsZero() {
		args = append(args, dateRange.End)
		query += fmt.Sprintf(" AND event_date <= $%d", len(args))
	}
	query += " ORDER BY event_date ASC, ticker ASC"
	return r.queryPositions(ctx, query, args...)
}

func (r *Remote) GetLatestPortfolioSnapshot(ctx context.Context) (*portfolio.PortfolioSnapshot, error) {
	snapshots, err := r.queryPositions(ctx,
		positionSelect+` AND snapshot_date = (SELECT max(snapshot_date) FROM portfolio_positions WHERE fund = $1) ORDER BY ticker ASC`,
		r.fund)
	if err != nil {
		return nil, err
	}
	if len(snapshots) == 0 {
		return nil, fmt.Errorf("%w: fund %s has no snapshots", portfolio.ErrNotFound, r.fund)
	}
	return snapshots[len(snapshots)-1], nil
}

func (r *Remote) SavePortfolioSnapshot(ctx context.Context, snapshot *portfolio.PortfolioSnapshot, isTradeExecution bool) (*portfolio.WriteResult, error) {
	day := common.CalendarDate(snapshot.Timestamp)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", portfolio.ErrRepository, err)
	}
	defer tx.Rollback(ctx)

	if !isTradeExecution {
		var existing time.Time
		err := tx.QueryRow(ctx,
			`SELECT event_date FROM portfolio_positions WHERE fund = $1 AND snapshot_date = $2 LIMIT 1`,
			r.fund, day).Scan(&existing)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %v", portfolio.ErrRepository, err)
		}
		if err == nil && common.IsMarketCloseTimestamp(existing) {
			return nil, fmt.Errorf("%w: market-close snapshot for %s already recorded",
				portfolio.ErrValidation, day.Format("2006-01-02"))
		}
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM portfolio_positions WHERE fund = $1 AND snapshot_date = $2`, r.fund, day); err != nil {
		return nil, fmt.Errorf("%w: %v", portfolio.ErrRepository, err)
	}

	for _, pos := range snapshot.Positions {
		if _, err := tx.Exec(ctx,
			`INSERT INTO portfolio_positions (fund, ticker, event_date, snapshot_date, shares, avg_price, cost_basis, currency, company, current_price, market_value, unrealized_pnl, stop_loss)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			r.fund, pos.Ticker, snapshot.Timestamp, day,
			toNumeric(portfolio.RoundShares(pos.Shares)),
			toNumeric(portfolio.RoundMoney(pos.AvgPrice)),
			toNumeric(portfolio.RoundMoney(pos.CostBasis)),
			pos.Currency, pos.Company,
			toNumeric(portfolio.RoundMoney(pos.CurrentPrice)),
			toNumeric(portfolio.RoundMoney(pos.MarketValue)),
			toNumeric(portfolio.RoundMoney(pos.UnrealizedPnL)),
			toNumeric(portfolio.RoundMoney(pos.StopLoss))); err != nil {
			return nil, fmt.Errorf("%w: %v", portfolio.ErrRepository, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", portfolio.ErrRepository, err)
	}
	return singleBackendOK(), nil
}

func (r *Remote) UpdateDailyPortfolioSnapshot(ctx context.Context, snapshot *portfolio.PortfolioSnapshot) (*portfolio.WriteResult, error) {
	return r.SavePortfolioSnapshot(ctx, snapshot, false)
}

func (r *Remote) GetPositionsByTicker(ctx context.Context, ticker string) ([]*portfolio.Position, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	snapshots, err := r.queryPositions(ctx,
		positionSelect+` AND ticker = $2 ORDER BY event_date ASC`, r.fund, ticker)
	if err != nil {
		return nil, err
	}

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

// UpdateTickerInFutureSnapshots copies the position as of from into later
// snapshot rows, revaluing at each row's stored price.
func (r *Remote) UpdateTickerInFutureSnapshots(ctx context.Context, ticker string, from time.Time) error {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	_, err := r.pool.Exec(ctx,
		`UPDATE portfolio_positions AS future
		 SET shares = base.shares,
		     avg_price = base.avg_price,
		     cost_basis = base.cost_basis,
		     market_value = future.current_price * base.shares,
		     unrealized_pnl = future.current_price * base.shares - base.cost_basis
		 FROM (
			SELECT shares, avg_price, cost_basis FROM portfolio_positions
			WHERE fund = $1 AND ticker = $2 AND event_date >= $3
			ORDER BY event_date ASC LIMIT 1
		 ) AS base
		 WHERE future.fund = $1 AND future.ticker = $2 AND future.event_date > $3`,
		r.fund, ticker, from)
	if err != nil {
		return fmt.Errorf("%w: %v", portfolio.ErrRepository, err)
	}
	return nil
}

// --- cash ---

func (r *Remote) GetCashBalances(ctx context.Context) (map[string]decimal.Decimal, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT currency, amount FROM cash_balances WHERE fund = $1`, r.fund)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", portfolio.ErrRepository, err)
	}
	defer rows.Close()

	balances := make(map[string]decimal.Decimal)
	for rows.Next() {
		var currency string
		var amount pgtype.Numeric
		if err := rows.Scan(&currency, &amount); err != nil {
			return nil, fmt.Errorf("%w: %v", portfolio.ErrRepository, err)
		}
		balances[currency] = fromNumeric(amount)
	}
	return balances, rows.Err()
}

func (r *Remote) SaveCashBalance(ctx context.Context, currency string, amount decimal.Decimal, date time.Time) (*portfolio.WriteResult, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	_, err := r.pool.Exec(ctx,
		`INSERT INTO cash_balances (fund, currency, amount, event_date)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (fund, currency) DO UPDATE SET amount = EXCLUDED.amount, event_date = EXCLUDED.event_date`,
		r.fund, currency, toNumeric(portfolio.RoundMoney(amount)), date)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", portfolio.ErrRepository, err)
	}
	return singleBackendOK(), nil
}

// --- market data ---

func (r *Remote) GetMarketData(ctx context.Context, ticker string, dateRange *portfolio.DateRange) ([]*portfolio.MarketData, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	query := `SELECT ticker, event_date, open, high, low, close, adj_close, volume, source FROM market_data WHERE ticker = $1`
	args := []interface{}{ticker}
	if dateRange != nil && !dateRange.Begin.IsZero() {
		args = append(args, dateRange.Begin)
		query += fmt.Sprintf(" AND event_date >= $%d", len(args))
	}
	if dateRange != nil && !dateRange.End.IsZero() {
		args = append(args, dateRange.End)
		query += fmt.Sprintf(" AND event_date <= $%d", len(args))
	}
	query += " ORDER BY event_date ASC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", portfolio.ErrRepository, err)
	}
	defer rows.Close()

	var out []*portfolio.MarketData
	for rows.Next() {
		md := &portfolio.MarketData{}
		var open, high, low, closePx, adjClose pgtype.Numeric
		if err := rows.Scan(&md.Ticker, &md.Date, &open, &high, &low, &closePx, &adjClose, &md.Volume, &md.Source); err != nil {
			return nil, fmt.Errorf("%w: %v", portfolio.ErrRepository, err)
		}
		md.Open = fromNumeric(open)
		md.High = fromNumeric(high)
		md.Low = fromNumeric(low)
		md.Close = fromNumeric(closePx)
		md.AdjClose = fromNumeric(adjClose)
		out = append(out, md)
	}
	return out, rows.Err()
}

func (r *Remote) SaveMarketData(ctx context.Context, md *portfolio.MarketData) (*portfolio.WriteResult, error) {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO market_data (ticker, event_date, open, high, low, close, adj_close, volume, source)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (ticker, event_date) DO UPDATE SET
			open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low,
			close = EXCLUDED.close, adj_close = EXCLUDED.adj_close,
			volume = EXCLUDED.volume, source = EXCLUDED.source`,
		strings.ToUpper(strings.TrimSpace(md.Ticker)), md.Date.UTC(),
		toNumeric(md.Open), toNumeric(md.High), toNumeric(md.Low),
		toNumeric(md.Close), toNumeric(md.AdjClose), md.Volume, md.Source)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", portfolio.ErrRepository, err)
	}
	return singleBackendOK(), nil
}

// --- integrity / backup ---

func (r *Remote) ValidateDataIntegrity(ctx context.Context) ([]string, error) {
	return validateIntegrity(ctx, r)
}

func (r *Remote) BackupData(ctx context.Context, path string) error {
	return writeArchive(ctx, r, path)
}

func (r *Remote) RestoreFromBackup(ctx context.Context, path string) error {
	return restoreArchive(ctx, r, path)
}

// DailyPnL returns per-ticker daily P&L from the latest_positions view; the
// baseline close comes from the prior snapshot row, never the current cost
// basis.
func (r *Remote) DailyPnL(ctx context.Context) (map[string]decimal.Decimal, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT ticker, daily_pnl FROM latest_positions WHERE fund = $1 AND daily_pnl IS NOT NULL`, r.fund)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", portfolio.ErrRepository, err)
	}
	defer rows.Close()

	out := make(map[string]decimal.Decimal)
	for rows.Next() {
		var ticker string
		var pnl pgtype.Numeric
		if err := rows.Scan(&ticker, &pnl); err != nil {
			return nil, fmt.Errorf("%w: %v", portfolio.ErrRepository, err)
		}
		out[ticker] = fromNumeric(pnl)
	}
	return out, rows.Err()
}
