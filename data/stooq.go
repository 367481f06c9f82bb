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
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fundfolio/ff-api/observability/opentelemetry"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// stooqAPI is a variable so tests can point httpmock at it.
var stooqAPI = "https://stooq.com"

// The secondary vendor serves daily history as CSV with no API key. Stage 2
// of the fallback ladder pulls the full history and filters locally; stage 3
// asks the endpoint to filter by date range server side.

type stooqClient struct {
	client *http.Client
}

func newStooqClient() *stooqClient {
	return &stooqClient{
		client: &http.Client{Timeout: requestTimeout},
	}
}

func (s *stooqClient) doGet(ctx context.Context, requestURL string) ([]byte, error) {
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

		resp, err := s.client.Do(req)
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

// FetchHistory loads the vendor's full daily history for the symbol and
// filters to [begin, end] locally.
func (s *stooqClient) FetchHistory(ctx context.Context, ticker string, begin, end time.Time) (*PriceFrame, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "stooq.FetchHistory")
	defer span.End()
	span.SetAttributes(attribute.String("Symbol", ticker))

	requestURL := fmt.Sprintf("%s/q/d/l/?s=%s&i=d", stooqAPI, url.QueryEscape(SecondarySymbol(ticker)))
	frame, err := s.fetchCSV(ctx, ticker, requestURL, SourceSecondaryAPI)
	if err != nil {
		return nil, err
	}
	filtered := frame.Window(begin, end)
	if filtered.Empty() {
		return nil, ErrNoData
	}
	return filtered, nil
}

// FetchRange asks the CSV endpoint to filter by date range server side.
func (s *stooqClient) FetchRange(ctx context.Context, ticker string, begin, end time.Time) (*PriceFrame, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "stooq.FetchRange")
	defer span.End()
	span.SetAttributes(attribute.String("Symbol", ticker))

	requestURL := fmt.Sprintf("%s/q/d/l/?s=%s&d1=%s&d2=%s&i=d",
		stooqAPI, url.QueryEscape(SecondarySymbol(ticker)),
		NaiveDate(begin).Format("20060102"), NaiveDate(end).Format("20060102"))

	frame, err := s.fetchCSV(ctx, ticker, requestURL, SourceSecondaryCSV)
	if err != nil {
		return nil, err
	}
	// the endpoint is trusted to filter, but clamp anyway for vendors that
	// ignore the range parameters
	filtered := frame.Window(begin, end)
	if filtered.Empty() {
		return nil, ErrNoData
	}
	return filtered, nil
}

func (s *stooqClient) fetchCSV(ctx context.Context, ticker, requestURL, source string) (*PriceFrame, error) {
	subLog := log.With().Str("Symbol", ticker).Str("Source", source).Logger()

	body, err := s.doGet(ctx, requestURL)
	if err != nil {
		subLog.Warn().Err(err).Msg("secondary vendor request failed")
		return nil, err
	}

	return parseStooqCSV(ticker, source, body)
}

// parseStooqCSV decodes "Date,Open,High,Low,Close,Volume" rows, synthesizing
// Adj Close from Close when the column is absent.
func parseStooqCSV(ticker, source string, body []byte) (*PriceFrame, error) {
	reader := csv.NewReader(strings.NewReader(string(body)))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, ErrNoData
	}

	colIdx := make(map[string]int, len(header))
	for idx, name := range header {
		colIdx[strings.ToLower(strings.TrimSpace(name))] = idx
	}
	dateIdx, ok := colIdx["date"]
	if !ok {
		return nil, ErrNoData
	}

	frame := &PriceFrame{Ticker: NormalizeTicker(ticker), Source: source}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Warn().Err(err).Str("Symbol", ticker).Msg("skipping malformed CSV record")
			continue
		}
		if dateIdx >= len(record) {
			continue
		}

		date, err := time.ParseInLocation("2006-01-02", record[dateIdx], time.UTC)
		if err != nil {
			continue
		}

		row := Row{Date: date}
		row.Open = csvDecimal(record, colIdx, "open")
		row.High = csvDecimal(record, colIdx, "high")
		row.Low = csvDecimal(record, colIdx, "low")
		row.Close = csvDecimal(record, colIdx, "close")
		if row.Close.IsZero() {
			continue
		}
		if adjIdx, ok := colIdx["adj close"]; ok && adjIdx < len(record) {
			row.AdjClose = csvDecimal(record, colIdx, "adj close")
		}
		if row.AdjClose.IsZero() {
			row.AdjClose = row.Close
		}
		if volIdx, ok := colIdx["volume"]; ok && volIdx < len(record) {
			if vol, err := strconv.ParseFloat(record[volIdx], 64); err == nil {
				row.Volume = int64(vol)
			}
		}
		frame.Rows = append(frame.Rows, row)
	}

	if frame.Empty() {
		return nil, ErrNoData
	}
	frame.SortRows()
	return frame, nil
}

func csvDecimal(record []string, colIdx map[string]int, name string) decimal.Decimal {
	idx, ok := colIdx[name]
	if !ok || idx >= len(record) {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(strings.TrimSpace(record[idx]))
	if err != nil {
		return decimal.Zero
	}
	return d
}
