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
	"strings"

	"github.com/spf13/viper"
)

// secondaryIndexMap remaps index symbols to the secondary vendor's notation.
var secondaryIndexMap = map[string]string{
	"^GSPC":   "^SPX",
	"^DJI":    "^DJI",
	"^IXIC":   "^NDQ",
	"^RUT":    "^RUT",
	"^GSPTSE": "^TSX",
}

// proxySymbols maps hard-to-source index symbols to a liquid ETF stand-in.
var proxySymbols = map[string]string{
	"^GSPC":   "SPY",
	"^DJI":    "DIA",
	"^IXIC":   "QQQ",
	"^RUT":    "IWM",
	"^GSPTSE": "XIU.TO",
}

// countryAliases normalizes vendor country spellings.
var countryAliases = map[string]string{
	"USA":                      "United States",
	"US":                       "United States",
	"U.S.":                     "United States",
	"UNITED STATES OF AMERICA": "United States",
	"CA":                       "Canada",
	"CAN":                      "Canada",
}

// NormalizeTicker uppercases and trims a user-supplied symbol.
func NormalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

// SecondarySymbol converts a symbol to the secondary vendor's notation:
// indices go through the remap table, Canadian suffixes (.TO, .V) are
// retained, everything else defaults to the vendor's .us market suffix.
func SecondarySymbol(ticker string) string {
	ticker = NormalizeTicker(ticker)
	if mapped, ok := secondaryIndexMap[ticker]; ok {
		return strings.ToLower(mapped)
	}
	if strings.HasSuffix(ticker, ".TO") || strings.HasSuffix(ticker, ".V") {
		return strings.ToLower(ticker)
	}
	if strings.Contains(ticker, ".") {
		return strings.ToLower(ticker)
	}
	return strings.ToLower(ticker) + ".us"
}

// ProxyFor returns the stand-in symbol for a ticker, if one is configured.
func ProxyFor(ticker string) (string, bool) {
	sym, ok := proxySymbols[NormalizeTicker(ticker)]
	return sym, ok
}

// SecondaryBlocked reports whether a symbol is known to be absent from the
// secondary vendor; the fallback ladder skips its stages for these.
func SecondaryBlocked(ticker string) bool {
	ticker = NormalizeTicker(ticker)
	for _, blocked := range viper.GetStringSlice("data.secondary_blocklist") {
		if NormalizeTicker(blocked) == ticker {
			return true
		}
	}
	return false
}

// NormalizeCountry resolves vendor country values through the alias map; an
// empty value falls back to market-suffix inference.
func NormalizeCountry(country, ticker string) string {
	trimmed := strings.TrimSpace(country)
	if alias, ok := countryAliases[strings.ToUpper(trimmed)]; ok {
		return alias
	}
	if trimmed != "" {
		return trimmed
	}

	ticker = NormalizeTicker(ticker)
	if strings.HasSuffix(ticker, ".TO") || strings.HasSuffix(ticker, ".V") {
		return "Canada"
	}
	return "United States"
}
