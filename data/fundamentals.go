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
	"os"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Fundamentals is the per-ticker descriptive record merged from the vendor
// and the static overrides file.
type Fundamentals struct {
	Ticker           string          `json:"ticker"`
	Company          string          `json:"company"`
	Sector           string          `json:"sector"`
	Industry         string          `json:"industry"`
	Country          string          `json:"country"`
	MarketCap        decimal.Decimal `json:"marketCap"`
	TrailingPE       decimal.Decimal `json:"trailingPE"`
	DividendYield    decimal.Decimal `json:"dividendYield"`
	FiftyTwoWeekHigh decimal.Decimal `json:"fiftyTwoWeekHigh"`
	FiftyTwoWeekLow  decimal.Decimal `json:"fiftyTwoWeekLow"`
	DescriptionNote  string          `json:"description_note"`
	FetchedAt        time.Time       `json:"fetchedAt"`
	Source           string          `json:"source"`
}

var (
	overridesOnce sync.Once
	overrides     map[string]map[string]interface{}
)

// loadOverrides reads the static fundamentals overrides file once. The file
// is a JSON object mapping upper-case tickers to field overrides; keys
// starting with underscore are metadata and ignored.
func loadOverrides() {
	overridesOnce.Do(func() {
		overrides = make(map[string]map[string]interface{})

		path := viper.GetString("data.fundamentals_overrides")
		if path == "" {
			return
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			log.Warn().Err(err).Str("Path", path).Msg("could not read fundamentals overrides")
			return
		}

		parsed := make(map[string]map[string]interface{})
		if err := json.Unmarshal(raw, &parsed); err != nil {
			log.Warn().Err(err).Str("Path", path).Msg("could not parse fundamentals overrides")
			return
		}

		for ticker, fields := range parsed {
			if strings.HasPrefix(ticker, "_") {
				continue
			}
			clean := make(map[string]interface{}, len(fields))
			for k, v := range fields {
				if strings.HasPrefix(k, "_") {
					continue
				}
				clean[k] = v
			}
			overrides[NormalizeTicker(ticker)] = clean
		}
	})
}

// ApplyOverrides replaces vendor values with entries from the overrides
// file. Overrides win unconditionally.
func ApplyOverrides(rec *Fundamentals) {
	loadOverrides()

	fields, ok := overrides[NormalizeTicker(rec.Ticker)]
	if !ok {
		return
	}

	for key, value := range fields {
		switch key {
		case "company":
			if s, ok := value.(string); ok {
				rec.Company = s
			}
		case "sector":
			if s, ok := value.(string); ok {
				rec.Sector = s
			}
		case "industry":
			if s, ok := value.(string); ok {
				rec.Industry = s
			}
		case "country":
			if s, ok := value.(string); ok {
				rec.Country = s
			}
		case "description_note":
			if s, ok := value.(string); ok {
				rec.DescriptionNote = s
			}
		case "marketCap":
			if d, ok := toDecimal(value); ok {
				rec.MarketCap = d
			}
		case "trailingPE":
			if d, ok := toDecimal(value); ok {
				rec.TrailingPE = d
			}
		case "dividendYield":
			if d, ok := toDecimal(value); ok {
				rec.DividendYield = d
			}
		case "fiftyTwoWeekHigh":
			if d, ok := toDecimal(value); ok {
				rec.FiftyTwoWeekHigh = d
			}
		case "fiftyTwoWeekLow":
			if d, ok := toDecimal(value); ok {
				rec.FiftyTwoWeekLow = d
			}
		default:
			log.Debug().Str("Ticker", rec.Ticker).Str("Field", key).Msg("unknown fundamentals override field")
		}
	}
}

func toDecimal(value interface{}) (decimal.Decimal, bool) {
	switch v := value.(type) {
	case float64:
		return decimal.NewFromFloat(v), true
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	}
	return decimal.Zero, false
}

// deriveFundamentals fills fields the vendor omitted: 52-week high/low come
// from a year of price history and dividend yield from the trailing
// 12-month dividend rate over the last close.
func deriveFundamentals(rec *Fundamentals, history *PriceFrame, trailingDividendRate decimal.Decimal) {
	if history.Empty() {
		return
	}

	if rec.FiftyTwoWeekHigh.IsZero() || rec.FiftyTwoWeekLow.IsZero() {
		high := history.Rows[0].High
		low := history.Rows[0].Low
		for _, row := range history.Rows[1:] {
			if row.High.GreaterThan(high) {
				high = row.High
			}
			if row.Low.LessThan(low) && row.Low.IsPositive() {
				low = row.Low
			}
		}
		if rec.FiftyTwoWeekHigh.IsZero() {
			rec.FiftyTwoWeekHigh = high
		}
		if rec.FiftyTwoWeekLow.IsZero() {
			rec.FiftyTwoWeekLow = low
		}
	}

	if rec.DividendYield.IsZero() && trailingDividendRate.IsPositive() {
		if lastClose, _, ok := history.LastClose(); ok && lastClose.IsPositive() {
			rec.DividendYield = trailingDividendRate.Div(lastClose)
		}
	}
}
