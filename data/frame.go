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
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Source tags recorded on every frame so callers can tell where a price came
// from.
const (
	SourcePrimary      = "primary"
	SourceSecondaryAPI = "secondary-api"
	SourceSecondaryCSV = "secondary-csv"
	SourceCache        = "cache"
)

// ProxySource tags a frame fetched through a stand-in symbol.
func ProxySource(sym string) string {
	return "proxy:" + sym
}

// Row is a single OHLCV observation. Dates are timezone-naive calendar days
// stored at midnight UTC; prices are decimals, volume an integer.
type Row struct {
	Date     time.Time       `json:"date"`
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	AdjClose decimal.Decimal `json:"adjClose"`
	Volume   int64           `json:"volume"`
}

// PriceFrame is a date-ascending series of OHLCV rows for one ticker.
type PriceFrame struct {
	Ticker string `json:"ticker"`
	Source string `json:"source"`
	Rows   []Row  `json:"rows"`
}

// NaiveDate truncates t to its calendar day at midnight UTC.
func NaiveDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func (pf *PriceFrame) Empty() bool {
	return pf == nil || len(pf.Rows) == 0
}

// SortRows orders rows ascending by date; vendors do not agree on ordering.
func (pf *PriceFrame) SortRows() {
	sort.SliceStable(pf.Rows, func(i, j int) bool {
		return pf.Rows[i].Date.Before(pf.Rows[j].Date)
	})
}

// Begin returns the date of the first row.
func (pf *PriceFrame) Begin() time.Time {
	if pf.Empty() {
		return time.Time{}
	}
	return pf.Rows[0].Date
}

// End returns the date of the last row.
func (pf *PriceFrame) End() time.Time {
	if pf.Empty() {
		return time.Time{}
	}
	return pf.Rows[len(pf.Rows)-1].Date
}

// Window returns the sub-frame with dates in [start, end] inclusive.
func (pf *PriceFrame) Window(start, end time.Time) *PriceFrame {
	out := &PriceFrame{Ticker: pf.Ticker, Source: pf.Source}
	if pf.Empty() {
		return out
	}

	s := NaiveDate(start)
	e := NaiveDate(end)
	lo := sort.Search(len(pf.Rows), func(i int) bool {
		return !pf.Rows[i].Date.Before(s)
	})
	hi := sort.Search(len(pf.Rows), func(i int) bool {
		return pf.Rows[i].Date.After(e)
	})
	if lo < hi {
		out.Rows = append(out.Rows, pf.Rows[lo:hi]...)
	}
	return out
}

// CloseOnOrBefore returns the latest close at or before the requested date.
func (pf *PriceFrame) CloseOnOrBefore(date time.Time) (decimal.Decimal, time.Time, bool) {
	if pf.Empty() {
		return decimal.Zero, time.Time{}, false
	}

	d := NaiveDate(date)
	idx := sort.Search(len(pf.Rows), func(i int) bool {
		return pf.Rows[i].Date.After(d)
	})
	if idx == 0 {
		return decimal.Zero, time.Time{}, false
	}
	row := pf.Rows[idx-1]
	return row.Close, row.Date, true
}

// LastClose returns the most recent close in the frame.
func (pf *PriceFrame) LastClose() (decimal.Decimal, time.Time, bool) {
	if pf.Empty() {
		return decimal.Zero, time.Time{}, false
	}
	row := pf.Rows[len(pf.Rows)-1]
	return row.Close, row.Date, true
}

// Merge combines other into the frame, preferring existing rows on date
// collision, and re-sorts.
func (pf *PriceFrame) Merge(other *PriceFrame) {
	if other.Empty() {
		return
	}

	seen := make(map[int64]bool, len(pf.Rows))
	for _, row := range pf.Rows {
		seen[row.Date.Unix()] = true
	}
	for _, row := range other.Rows {
		if !seen[row.Date.Unix()] {
			pf.Rows = append(pf.Rows, row)
		}
	}
	pf.SortRows()
}
