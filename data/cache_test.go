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
	"os"
	"path/filepath"
	"time"

	"github.com/fundfolio/ff-api/common"
	"github.com/fundfolio/ff-api/data"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

var _ = Describe("PriceCache", func() {
	var cache *data.PriceCache

	BeforeEach(func() {
		common.CachePurge()
		viper.Set("cache.local_size", 64)
		viper.Set("cache.price_ttl", 15*time.Minute)
		cache = data.NewPriceCache()
	})

	It("hits only when the cached coverage contains the requested range", func() {
		frame := testFrame("CVRG", map[string]float64{
			"2024-01-02": 100,
			"2024-01-03": 101,
			"2024-01-04": 102,
		})
		begin := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		end := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
		cache.Put(frame, begin, end)

		window, ok := cache.Get("CVRG", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC))
		Expect(ok).To(BeTrue())
		Expect(window.Source).To(Equal(data.SourceCache))
		Expect(window.Rows).To(HaveLen(2))

		// a range wider than the covered interval misses even though some
		// rows overlap
		_, ok = cache.Get("CVRG", begin, end.AddDate(0, 0, 5))
		Expect(ok).To(BeFalse())
		_, ok = cache.Get("CVRG", begin.AddDate(0, 0, -5), end)
		Expect(ok).To(BeFalse())
	})

	It("misses for unknown tickers", func() {
		_, ok := cache.Get("NOPE", time.Now().AddDate(0, 0, -1), time.Now())
		Expect(ok).To(BeFalse())
	})

	It("expires entries after the TTL", func() {
		viper.Set("cache.price_ttl", 20*time.Millisecond)
		cache = data.NewPriceCache()

		frame := testFrame("TTLX", map[string]float64{"2024-01-02": 100})
		day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
		cache.Put(frame, day, day)

		_, ok := cache.Get("TTLX", day, day)
		Expect(ok).To(BeTrue())

		time.Sleep(40 * time.Millisecond)
		_, ok = cache.Get("TTLX", day, day)
		Expect(ok).To(BeFalse())
	})

	It("merges overlapping entries and widens the coverage", func() {
		early := testFrame("MRGE", map[string]float64{
			"2024-01-02": 100,
			"2024-01-03": 101,
		})
		late := testFrame("MRGE", map[string]float64{
			"2024-01-04": 102,
			"2024-01-05": 103,
		})
		cache.Put(early, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC))
		cache.Put(late, time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC))

		window, ok := cache.Get("MRGE", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC))
		Expect(ok).To(BeTrue())
		Expect(window.Rows).To(HaveLen(4))
	})

	It("drops everything on purge", func() {
		common.CachePurge()

		frame := testFrame("PRGE", map[string]float64{"2024-01-02": 100})
		day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
		cache.Put(frame, day, day)
		cache.Purge()
		common.CachePurge()

		_, ok := cache.Get("PRGE", day, day)
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("FundamentalsStore", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		viper.Set("cache.directory", dir)
		viper.Set("cache.fundamentals_ttl", 12*time.Hour)
	})

	AfterEach(func() {
		viper.Set("cache.directory", "")
	})

	It("persists records and company names across restarts", func() {
		store := data.NewFundamentalsStore()
		store.Put(&data.Fundamentals{
			Ticker:    "MSFT",
			Company:   "Microsoft Corporation",
			Country:   "United States",
			MarketCap: decimal.NewFromInt(3100000000000),
			FetchedAt: time.Now().UTC(),
			Source:    data.SourcePrimary,
		})

		reloaded := data.NewFundamentalsStore()
		rec, ok := reloaded.Get("msft")
		Expect(ok).To(BeTrue())
		Expect(rec.Company).To(Equal("Microsoft Corporation"))

		name, ok := reloaded.CompanyName("MSFT")
		Expect(ok).To(BeTrue())
		Expect(name).To(Equal("Microsoft Corporation"))
	})

	It("prunes expired records on load but keeps the company name", func() {
		store := data.NewFundamentalsStore()
		store.Put(&data.Fundamentals{
			Ticker:    "IBM",
			Company:   "International Business Machines",
			FetchedAt: time.Now().UTC().Add(-13 * time.Hour),
		})

		reloaded := data.NewFundamentalsStore()
		_, ok := reloaded.Get("IBM")
		Expect(ok).To(BeFalse())

		name, ok := reloaded.CompanyName("IBM")
		Expect(ok).To(BeTrue())
		Expect(name).To(Equal("International Business Machines"))
	})

	It("treats a corrupted cache file as empty", func() {
		Expect(os.WriteFile(filepath.Join(dir, "fundamentals.json"), []byte("{not json"), 0o644)).To(Succeed())

		store := data.NewFundamentalsStore()
		_, ok := store.Get("MSFT")
		Expect(ok).To(BeFalse())
	})

	It("applies and persists ticker corrections", func() {
		store := data.NewFundamentalsStore()
		Expect(store.CorrectTicker(" fb ")).To(Equal("FB"))

		store.AddCorrection("FB", "META")
		Expect(store.CorrectTicker("fb")).To(Equal("META"))

		reloaded := data.NewFundamentalsStore()
		Expect(reloaded.CorrectTicker("FB")).To(Equal("META"))
	})
})
