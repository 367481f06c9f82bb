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

package data

import (
	"context"
	"sync"
	"time"

	"github.com/fundfolio/ff-api/observability/opentelemetry"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// maxConcurrentFetches bounds the per-ticker fan-out so a large watchlist
// does not hammer the vendors.
const maxConcurrentFetches = 4

// FetchStats counts how a batch request was satisfied.
type FetchStats struct {
	CacheHits int
	APICalls  int
}

// Manager is the market-data facade the rest of the system consumes. It
// layers the TTL price cache over the vendor fallback ladder and keeps a
// session-only quote map that is never persisted.
type Manager struct {
	fetcher       *Fetcher
	cache         *PriceCache
	fundamentals  *FundamentalsStore
	locker        sync.Mutex
	sessionQuotes map[string]decimal.Decimal
}

func NewManager() *Manager {
	return &Manager{
		fetcher:       NewFetcher(),
		cache:         NewPriceCache(),
		fundamentals:  NewFundamentalsStore(),
		sessionQuotes: make(map[string]decimal.Decimal),
	}
}

// CorrectTicker resolves persistent symbol corrections before any fetch.
func (m *Manager) CorrectTicker(ticker string) string {
	return m.fundamentals.CorrectTicker(ticker)
}

// CompanyName returns the remembered company name for a ticker.
func (m *Manager) CompanyName(ticker string) (string, bool) {
	return m.fundamentals.CompanyName(ticker)
}

// GetHistoricalPrices loads daily frames for every ticker over [begin, end],
// cache first, fetching misses concurrently. Tickers that fail every vendor
// stage land in the error map; the rest of the batch still succeeds.
func (m *Manager) GetHistoricalPrices(ctx context.Context, tickers []string, begin, end time.Time) (map[string]*PriceFrame, FetchStats, map[string]error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "manager.GetHistoricalPrices")
	defer span.End()
	span.SetAttributes(attribute.Int("NumTickers", len(tickers)))

	frames := make(map[string]*PriceFrame, len(tickers))
	failures := make(map[string]error)
	stats := FetchStats{}

	var locker sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFetches)

	seen := make(map[string]bool, len(tickers))
	for _, raw := range tickers {
		ticker := m.CorrectTicker(raw)
		if ticker == "" || seen[ticker] {
			continue
		}
		seen[ticker] = true

		g.Go(func() error {
			if frame, ok := m.cache.Get(ticker, begin, end); ok {
				locker.Lock()
				frames[ticker] = frame
				stats.CacheHits++
				locker.Unlock()
				return nil
			}

			frame, err := m.fetcher.FetchPrices(gctx, ticker, begin, end)
			locker.Lock()
			defer locker.Unlock()
			stats.APICalls++
			if err != nil {
				failures[ticker] = err
				return nil
			}
			m.cache.Put(frame, begin, end)
			frames[ticker] = frame
			return nil
		})
	}

	// workers never return errors; the group only propagates ctx cancellation
	if err := g.Wait(); err != nil {
		log.Warn().Err(err).Msg("historical price fetch interrupted")
	}

	return frames, stats, failures
}

// GetCurrentPrices returns the latest known close for each ticker. Quotes
// live only for the session and are never written to disk; a ticker with no
// quote this session falls back to a short history fetch.
func (m *Manager) GetCurrentPrices(ctx context.Context, tickers []string) (map[string]decimal.Decimal, map[string]error) {
	end := time.Now().UTC()
	begin := end.AddDate(0, 0, -7)

	quotes := make(map[string]decimal.Decimal, len(tickers))
	failures := make(map[string]error)

	var pending []string
	m.locker.Lock()
	for _, raw := range tickers {
		ticker := m.CorrectTicker(raw)
		if price, ok := m.sessionQuotes[ticker]; ok {
			quotes[ticker] = price
		} else {
			pending = append(pending, ticker)
		}
	}
	m.locker.Unlock()

	if len(pending) == 0 {
		return quotes, failures
	}

	frames, _, fetchErrs := m.GetHistoricalPrices(ctx, pending, begin, end)
	for ticker, err := range fetchErrs {
		failures[ticker] = err
	}

	m.locker.Lock()
	defer m.locker.Unlock()
	for ticker, frame := range frames {
		price, _, ok := frame.LastClose()
		if !ok {
			failures[ticker] = ErrPriceUnavailable
			continue
		}
		m.sessionQuotes[ticker] = price
		quotes[ticker] = price
	}
	return quotes, failures
}

// GetHistoricalClose returns the close used to value a position on a
// calendar day: the exact day when it traded, otherwise the nearest close
// within one day, then within three days, then the latest close at or before
// the day.
func (m *Manager) GetHistoricalClose(ctx context.Context, ticker string, date time.Time) (decimal.Decimal, time.Time, error) {
	ticker = m.CorrectTicker(ticker)
	day := NaiveDate(date)

	// pull a padded window once so the nearby-day probes never refetch
	begin := day.AddDate(0, 0, -7)
	end := day.AddDate(0, 0, 3)

	frame, ok := m.cache.Get(ticker, begin, end)
	if !ok {
		fetched, err := m.fetcher.FetchPrices(ctx, ticker, begin, end)
		if err != nil {
			return decimal.Zero, time.Time{}, err
		}
		m.cache.Put(fetched, begin, end)
		frame = fetched
	}

	if price, actual, ok := closeNear(frame, day, 0); ok {
		return price, actual, nil
	}
	if price, actual, ok := closeNear(frame, day, 1); ok {
		return price, actual, nil
	}
	if price, actual, ok := closeNear(frame, day, 3); ok {
		return price, actual, nil
	}
	if price, actual, ok := frame.CloseOnOrBefore(day); ok {
		return price, actual, nil
	}
	return decimal.Zero, time.Time{}, ErrPriceUnavailable
}

// closeNear finds a close within +/- window days of day, preferring earlier
// dates on ties.
func closeNear(frame *PriceFrame, day time.Time, window int) (decimal.Decimal, time.Time, bool) {
	for offset := 0; offset <= window; offset++ {
		for _, signed := range []int{-offset, offset} {
			candidate := day.AddDate(0, 0, signed)
			sub := frame.Window(candidate, candidate)
			if !sub.Empty() {
				return sub.Rows[0].Close, sub.Rows[0].Date, true
			}
			if offset == 0 {
				break
			}
		}
	}
	return decimal.Zero, time.Time{}, false
}

// GetFundamentals returns the fundamentals record for a ticker, serving from
// the disk cache inside its TTL and refreshing from the vendor otherwise.
func (m *Manager) GetFundamentals(ctx context.Context, ticker string) (*Fundamentals, error) {
	ticker = m.CorrectTicker(ticker)

	if rec, ok := m.fundamentals.Get(ticker); ok {
		return rec, nil
	}

	rec, err := m.fetcher.FetchFundamentals(ctx, ticker)
	if err != nil {
		return nil, err
	}

	m.fundamentals.Put(rec)
	return rec, nil
}

// PurgeCaches drops cached frames and session quotes after data-changing
// operations.
func (m *Manager) PurgeCaches() {
	m.cache.Purge()
	m.locker.Lock()
	m.sessionQuotes = make(map[string]decimal.Decimal)
	m.locker.Unlock()
}
