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

package data_test

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fundfolio/ff-api/data"
	"github.com/jarcoal/httpmock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/viper"
)

// yahooChartBody builds a chart response with one row per consecutive
// calendar day starting at start.
func yahooChartBody(start time.Time, closes []float64) string {
	timestamps := make([]string, 0, len(closes))
	opens := make([]string, 0, len(closes))
	highs := make([]string, 0, len(closes))
	lows := make([]string, 0, len(closes))
	closeVals := make([]string, 0, len(closes))
	volumes := make([]string, 0, len(closes))

	day := time.Date(start.Year(), start.Month(), start.Day(), 12, 0, 0, 0, time.UTC)
	for _, close := range closes {
		timestamps = append(timestamps, fmt.Sprintf("%d", day.Unix()))
		opens = append(opens, fmt.Sprintf("%g", close-0.5))
		highs = append(highs, fmt.Sprintf("%g", close+1))
		lows = append(lows, fmt.Sprintf("%g", close-1))
		closeVals = append(closeVals, fmt.Sprintf("%g", close))
		volumes = append(volumes, "1000000")
		day = day.AddDate(0, 0, 1)
	}

	return fmt.Sprintf(`{"chart":{"result":[{"meta":{"currency":"USD"},"timestamp":[%s],`+
		`"indicators":{"quote":[{"open":[%s],"high":[%s],"low":[%s],"close":[%s],"volume":[%s]}],`+
		`"adjclose":[{"adjclose":[%s]}]}}],"error":null}}`,
		strings.Join(timestamps, ","), strings.Join(opens, ","), strings.Join(highs, ","),
		strings.Join(lows, ","), strings.Join(closeVals, ","), strings.Join(volumes, ","),
		strings.Join(closeVals, ","))
}

const stooqHistoryCSV = `Date,Open,High,Low,Close,Volume
2023-12-29,368,369,367,368.5,900000
2024-01-02,369.5,371,369,370,1000000
2024-01-03,370,372,369.5,371,1100000
2024-01-04,371,373,370.5,372,1200000
2024-01-05,372,374,371.5,373,1300000
2024-01-08,373,375,372.5,374,1400000
`

var _ = Describe("Fetcher", func() {
	var (
		ctx        context.Context
		fetcher    *data.Fetcher
		begin, end time.Time
	)

	BeforeEach(func() {
		httpmock.Activate()
		ctx = context.Background()
		fetcher = data.NewFetcher()
		begin = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
		end = time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	})

	AfterEach(func() {
		httpmock.DeactivateAndReset()
		viper.Set("data.secondary_blocklist", nil)
	})

	Describe("FetchPrices", func() {
		It("rejects a reversed time range without any request", func() {
			_, err := fetcher.FetchPrices(ctx, "MSFT", end, begin)
			Expect(err).To(MatchError(data.ErrInvalidTimeRange))
			Expect(httpmock.GetTotalCallCount()).To(Equal(0))
		})

		It("serves from the primary vendor when it has data", func() {
			httpmock.RegisterResponder("GET", `=~^https://query1\.finance\.yahoo\.com/v8/finance/chart/MSFT`,
				httpmock.NewStringResponder(200, yahooChartBody(begin, []float64{370, 371, 372, 373})))

			frame, err := fetcher.FetchPrices(ctx, "MSFT", begin, end)
			Expect(err).To(BeNil())
			Expect(frame.Source).To(Equal(data.SourcePrimary))
			Expect(frame.Ticker).To(Equal("MSFT"))
			Expect(frame.Rows).To(HaveLen(4))
			Expect(frame.Rows[0].Close.InexactFloat64()).To(Equal(370.0))
			Expect(frame.Rows[3].Close.InexactFloat64()).To(Equal(373.0))
		})

		It("falls back to the secondary vendor's history when the primary misses", func() {
			httpmock.RegisterResponder("GET", `=~^https://query1\.finance\.yahoo\.com/`,
				httpmock.NewStringResponder(404, "not found"))
			httpmock.RegisterResponder("GET", "https://stooq.com/q/d/l/?s=msft.us&i=d",
				httpmock.NewStringResponder(200, stooqHistoryCSV))

			frame, err := fetcher.FetchPrices(ctx, "MSFT", begin, end)
			Expect(err).To(BeNil())
			Expect(frame.Source).To(Equal(data.SourceSecondaryAPI))
			// filtered locally to the requested range
			Expect(frame.Rows).To(HaveLen(4))
			Expect(frame.Begin().Day()).To(Equal(2))
			Expect(frame.End().Day()).To(Equal(5))
		})

		It("falls back to the ranged CSV endpoint when the full history misses", func() {
			httpmock.RegisterResponder("GET", `=~^https://query1\.finance\.yahoo\.com/`,
				httpmock.NewStringResponder(404, "not found"))
			httpmock.RegisterResponder("GET", "https://stooq.com/q/d/l/?s=msft.us&i=d",
				httpmock.NewStringResponder(404, "not found"))
			httpmock.RegisterResponder("GET", "https://stooq.com/q/d/l/?s=msft.us&d1=20240102&d2=20240105&i=d",
				httpmock.NewStringResponder(200, stooqHistoryCSV))

			frame, err := fetcher.FetchPrices(ctx, "MSFT", begin, end)
			Expect(err).To(BeNil())
			Expect(frame.Source).To(Equal(data.SourceSecondaryCSV))
			Expect(frame.Rows).To(HaveLen(4))
		})

		It("skips the secondary vendor for blocklisted symbols and uses the proxy", func() {
			viper.Set("data.secondary_blocklist", []string{"^GSPC"})

			httpmock.RegisterResponder("GET", `=~^https://query1\.finance\.yahoo\.com/v8/finance/chart/%5EGSPC`,
				httpmock.NewStringResponder(404, "not found"))
			// would satisfy stage 2 if the blocklist were ignored
			httpmock.RegisterResponder("GET", `=~^https://stooq\.com/`,
				httpmock.NewStringResponder(200, stooqHistoryCSV))
			httpmock.RegisterResponder("GET", `=~^https://query1\.finance\.yahoo\.com/v8/finance/chart/SPY`,
				httpmock.NewStringResponder(200, yahooChartBody(begin, []float64{470, 471, 472, 473})))

			frame, err := fetcher.FetchPrices(ctx, "^GSPC", begin, end)
			Expect(err).To(BeNil())
			Expect(frame.Source).To(Equal(data.ProxySource("SPY")))
			Expect(frame.Ticker).To(Equal("^GSPC"))
			Expect(frame.Rows[0].Close.InexactFloat64()).To(Equal(470.0))
		})

		It("returns ErrAllSourcesFailed when every stage misses", func() {
			httpmock.RegisterResponder("GET", `=~^https://query1\.finance\.yahoo\.com/`,
				httpmock.NewStringResponder(404, "not found"))
			httpmock.RegisterResponder("GET", `=~^https://stooq\.com/`,
				httpmock.NewStringResponder(404, "not found"))

			_, err := fetcher.FetchPrices(ctx, "ZZZQ", begin, end)
			Expect(err).To(MatchError(data.ErrAllSourcesFailed))
		})
	})

	Describe("FetchFundamentals", func() {
		It("derives the 52-week range and dividend yield from history", func() {
			httpmock.RegisterResponder("GET", `=~^https://query1\.finance\.yahoo\.com/v7/finance/quote`,
				httpmock.NewStringResponder(200, `{"quoteResponse":{"result":[{
					"symbol":"MSFT","longName":"Microsoft Corporation","region":"US",
					"marketCap":3100000000000,"trailingPE":35.2,
					"trailingAnnualDividendRate":3.0,"trailingAnnualDividendYield":0,
					"fiftyTwoWeekHigh":0,"fiftyTwoWeekLow":0}]}}`))

			historyStart := time.Now().UTC().AddDate(0, 0, -10)
			httpmock.RegisterResponder("GET", `=~^https://query1\.finance\.yahoo\.com/v8/finance/chart/MSFT`,
				httpmock.NewStringResponder(200, yahooChartBody(historyStart, []float64{360, 365, 370, 375, 380})))

			rec, err := fetcher.FetchFundamentals(ctx, "msft")
			Expect(err).To(BeNil())
			Expect(rec.Ticker).To(Equal("MSFT"))
			Expect(rec.Company).To(Equal("Microsoft Corporation"))
			Expect(rec.Country).To(Equal("United States"))
			// high/low come from the row highs and lows, one off the close
			Expect(rec.FiftyTwoWeekHigh.InexactFloat64()).To(Equal(381.0))
			Expect(rec.FiftyTwoWeekLow.InexactFloat64()).To(Equal(359.0))
			// trailing rate over the last close
			Expect(rec.DividendYield.InexactFloat64()).To(BeNumerically("~", 3.0/380.0, 1e-9))
		})
	})
})
