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
	"time"

	"github.com/fundfolio/ff-api/observability/opentelemetry"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// tickerBudget caps the total time one symbol may spend across all fallback
// stages.
const tickerBudget = 30 * time.Second

// Fetcher walks the vendor fallback ladder until a stage returns data:
//
//  1. primary vendor for the date range
//  2. secondary vendor full history, filtered locally
//  3. secondary vendor CSV endpoint with server-side date filtering
//  4. proxy symbol (broad index -> liquid ETF) through stage 1
//
// A blocklisted symbol skips stages 2 and 3.
type Fetcher struct {
	primary   *yahooClient
	secondary *stooqClient
}

func NewFetcher() *Fetcher {
	return &Fetcher{
		primary:   newYahooClient(),
		secondary: newStooqClient(),
	}
}

// FetchPrices returns the first non-empty frame from the ladder. The frame's
// Source field records the winning stage.
func (f *Fetcher) FetchPrices(ctx context.Context, ticker string, begin, end time.Time) (*PriceFrame, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "fetcher.FetchPrices")
	defer span.End()
	span.SetAttributes(attribute.String("Symbol", ticker))

	if end.Before(begin) {
		return nil, ErrInvalidTimeRange
	}

	ctx, cancel := context.WithTimeout(ctx, tickerBudget)
	defer cancel()

	subLog := log.With().Str("Symbol", ticker).Time("Begin", begin).Time("End", end).Logger()

	frame, err := f.primary.FetchPrices(ctx, ticker, begin, end)
	if err == nil && !frame.Empty() {
		return frame, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	subLog.Debug().Err(err).Msg("primary vendor miss; trying secondary")

	if !SecondaryBlocked(ticker) {
		frame, err = f.secondary.FetchHistory(ctx, ticker, begin, end)
		if err == nil && !frame.Empty() {
			return frame, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		subLog.Debug().Err(err).Msg("secondary vendor miss; trying CSV endpoint")

		frame, err = f.secondary.FetchRange(ctx, ticker, begin, end)
		if err == nil && !frame.Empty() {
			return frame, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		subLog.Debug().Err(err).Msg("secondary CSV miss")
	} else {
		subLog.Debug().Msg("symbol blocklisted for secondary vendor; skipping stages 2-3")
	}

	if proxy, ok := ProxyFor(ticker); ok {
		frame, err = f.primary.FetchPrices(ctx, proxy, begin, end)
		if err == nil && !frame.Empty() {
			frame.Ticker = NormalizeTicker(ticker)
			frame.Source = ProxySource(proxy)
			return frame, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		subLog.Warn().Err(err).Str("Proxy", proxy).Msg("proxy symbol fetch failed")
	}

	return nil, ErrAllSourcesFailed
}

// FetchFundamentals returns the vendor quote record with overrides applied
// and derived fields filled from a year of price history.
func (f *Fetcher) FetchFundamentals(ctx context.Context, ticker string) (*Fundamentals, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "fetcher.FetchFundamentals")
	defer span.End()
	span.SetAttributes(attribute.String("Symbol", ticker))

	ctx, cancel := context.WithTimeout(ctx, tickerBudget)
	defer cancel()

	rec, trailingDividendRate, err := f.primary.FetchQuote(ctx, ticker)
	if err != nil {
		return nil, err
	}

	needsHistory := rec.FiftyTwoWeekHigh.IsZero() || rec.FiftyTwoWeekLow.IsZero() ||
		(rec.DividendYield.IsZero() && trailingDividendRate.IsPositive())
	if needsHistory {
		end := time.Now().UTC()
		begin := end.AddDate(-1, 0, 0)
		if history, histErr := f.FetchPrices(ctx, ticker, begin, end); histErr == nil {
			deriveFundamentals(rec, history, trailingDividendRate)
		} else {
			log.Debug().Err(histErr).Str("Symbol", ticker).Msg("could not derive fundamentals from history")
		}
	}

	ApplyOverrides(rec)
	rec.Country = NormalizeCountry(rec.Country, ticker)
	return rec, nil
}
