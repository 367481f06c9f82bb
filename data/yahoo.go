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
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/fundfolio/ff-api/observability/opentelemetry"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// yahooAPI is a variable so tests can point httpmock at it.
var yahooAPI = "https://query1.finance.yahoo.com"

// requestTimeout is the per-HTTP-request budget; each request is retried
// once on failure.
const requestTimeout = 10 * time.Second

type yahooClient struct {
	client *http.Client
}

func newYahooClient() *yahooClient {
	return &yahooClient{
		client: &http.Client{Timeout: requestTimeout},
	}
}

type yahooChartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Currency string `json:"currency"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*int64   `json:"volume"`
				} `json:"quote"`
				AdjClose []struct {
					AdjClose []*float64 `json:"adjclose"`
				} `json:"adjclose"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type yahooQuoteResponse struct {
	QuoteResponse struct {
		Result []struct {
			Symbol                     string  `json:"symbol"`
			LongName                   string  `json:"longName"`
			ShortName                  string  `json:"shortName"`
			Region                     string  `json:"region"`
			MarketCap                  float64 `json:"marketCap"`
			TrailingPE                 float64 `json:"trailingPE"`
			TrailingAnnualDividendRate float64 `json:"trailingAnnualDividendRate"`
			TrailingAnnualDividendYld  float64 `json:"trailingAnnualDividendYield"`
			FiftyTwoWeekHigh           float64 `json:"fiftyTwoWeekHigh"`
			FiftyTwoWeekLow            float64 `json:"fiftyTwoWeekLow"`
		} `json:"result"`
	} `json:"quoteResponse"`
}

// doGet performs a GET with a single retry on transport or 5xx failure.
func (y *yahooClient) doGet(ctx context.Context, requestURL string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", "ffapi/"+requestUserAgentVersion)

		resp, err := y.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode)
			continue
		}
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode)
		}
		return body, nil
	}
	return nil, lastErr
}

// FetchPrices loads daily OHLCV for the ticker over [begin, end].
func (y *yahooClient) FetchPrices(ctx context.Context, ticker string, begin, end time.Time) (*PriceFrame, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "yahoo.FetchPrices")
	defer span.End()
	span.SetAttributes(attribute.String("Symbol", ticker))

	subLog := log.With().Str("Symbol", ticker).Time("Begin", begin).Time("End", end).Logger()

	// the chart endpoint's period2 is exclusive; extend by a day to include
	// the end date itself
	period1 := NaiveDate(begin).Unix()
	period2 := NaiveDate(end).AddDate(0, 0, 1).Unix()
	requestURL := fmt.Sprintf("%s/v8/finance/chart/%s?period1=%d&period2=%d&interval=1d&events=history",
		yahooAPI, url.PathEscape(NormalizeTicker(ticker)), period1, period2)

	body, err := y.doGet(ctx, requestURL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "primary vendor request failed")
		subLog.Warn().Err(err).Msg("primary vendor request failed")
		return nil, err
	}

	parsed := yahooChartResponse{}
	if err := json.Unmarshal(body, &parsed); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "could not unmarshal json")
		subLog.Warn().Err(err).Msg("could not unmarshal primary vendor response")
		return nil, err
	}

	if parsed.Chart.Error != nil {
		subLog.Warn().Str("VendorCode", parsed.Chart.Error.Code).Msg("primary vendor returned error")
		return nil, fmt.Errorf("primary vendor error: %s", parsed.Chart.Error.Code)
	}
	if len(parsed.Chart.Result) == 0 {
		return nil, ErrNoData
	}

	result := parsed.Chart.Result[0]
	if len(result.Timestamp) == 0 || len(result.Indicators.Quote) == 0 {
		return nil, ErrNoData
	}

	quote := result.Indicators.Quote[0]
	var adj []*float64
	if len(result.Indicators.AdjClose) > 0 {
		adj = result.Indicators.AdjClose[0].AdjClose
	}

	frame := &PriceFrame{Ticker: NormalizeTicker(ticker), Source: SourcePrimary}
	for idx, ts := range result.Timestamp {
		if idx >= len(quote.Close) || quote.Close[idx] == nil {
			continue
		}

		row := Row{
			Date:  NaiveDate(time.Unix(ts, 0).UTC()),
			Close: decimal.NewFromFloat(*quote.Close[idx]),
		}
		if idx < len(quote.Open) && quote.Open[idx] != nil {
			row.Open = decimal.NewFromFloat(*quote.Open[idx])
		}
		if idx < len(quote.High) && quote.High[idx] != nil {
			row.High = decimal.NewFromFloat(*quote.High[idx])
		}
		if idx < len(quote.Low) && quote.Low[idx] != nil {
			row.Low = decimal.NewFromFloat(*quote.Low[idx])
		}
		if idx < len(quote.Volume) && quote.Volume[idx] != nil {
			row.Volume = *quote.Volume[idx]
		}
		if idx < len(adj) && adj[idx] != nil {
			row.AdjClose = decimal.NewFromFloat(*adj[idx])
		} else {
			row.AdjClose = row.Close
		}
		frame.Rows = append(frame.Rows, row)
	}

	if frame.Empty() {
		return nil, ErrNoData
	}

	frame.SortRows()
	return frame.Window(begin, end), nil
}

// FetchQuote loads the fundamentals quote record for the ticker. The
// trailing annual dividend rate is returned separately so derived fields can
// be computed against price history.
func (y *yahooClient) FetchQuote(ctx context.Context, ticker string) (*Fundamentals, decimal.Decimal, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "yahoo.FetchQuote")
	defer span.End()
	span.SetAttributes(attribute.String("Symbol", ticker))

	subLog := log.With().Str("Symbol", ticker).Logger()

	requestURL := fmt.Sprintf("%s/v7/finance/quote?symbols=%s", yahooAPI, url.QueryEscape(NormalizeTicker(ticker)))
	body, err := y.doGet(ctx, requestURL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "quote request failed")
		subLog.Warn().Err(err).Msg("quote request failed")
		return nil, decimal.Zero, err
	}

	parsed := yahooQuoteResponse{}
	if err := json.Unmarshal(body, &parsed); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "could not unmarshal json")
		subLog.Warn().Err(err).Msg("could not unmarshal quote response")
		return nil, decimal.Zero, err
	}

	if len(parsed.QuoteResponse.Result) == 0 {
		return nil, decimal.Zero, ErrNoData
	}

	result := parsed.QuoteResponse.Result[0]
	company := result.LongName
	if company == "" {
		company = result.ShortName
	}

	rec := &Fundamentals{
		Ticker:           NormalizeTicker(ticker),
		Company:          company,
		Country:          NormalizeCountry(result.Region, ticker),
		MarketCap:        decimal.NewFromFloat(result.MarketCap),
		TrailingPE:       decimal.NewFromFloat(result.TrailingPE),
		DividendYield:    decimal.NewFromFloat(result.TrailingAnnualDividendYld),
		FiftyTwoWeekHigh: decimal.NewFromFloat(result.FiftyTwoWeekHigh),
		FiftyTwoWeekLow:  decimal.NewFromFloat(result.FiftyTwoWeekLow),
		FetchedAt:        time.Now().UTC(),
		Source:           SourcePrimary,
	}
	return rec, decimal.NewFromFloat(result.TrailingAnnualDividendRate), nil
}

var requestUserAgentVersion = "0.9"
