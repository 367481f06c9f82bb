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
	"github.com/fundfolio/ff-api/data"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/viper"
)

var _ = Describe("Symbol handling", func() {
	Describe("NormalizeTicker", func() {
		It("uppercases and trims", func() {
			Expect(data.NormalizeTicker("  aapl ")).To(Equal("AAPL"))
		})
	})

	Describe("SecondarySymbol", func() {
		DescribeTable("vendor notation",
			func(in, expected string) {
				Expect(data.SecondarySymbol(in)).To(Equal(expected))
			},

			Entry("US equity gets the .us suffix", "MSFT", "msft.us"),
			Entry("lowercase input", "aapl", "aapl.us"),
			Entry("Toronto listing keeps its suffix", "XIU.TO", "xiu.to"),
			Entry("Venture listing keeps its suffix", "ABC.V", "abc.v"),
			Entry("S&P 500 remaps to the vendor's index symbol", "^GSPC", "^spx"),
			Entry("NASDAQ composite remaps", "^IXIC", "^ndq"),
			Entry("TSX composite remaps", "^GSPTSE", "^tsx"),
		)
	})

	Describe("ProxyFor", func() {
		It("maps broad indices to liquid ETFs", func() {
			proxy, ok := data.ProxyFor("^GSPC")
			Expect(ok).To(BeTrue())
			Expect(proxy).To(Equal("SPY"))
		})

		It("has no proxy for ordinary equities", func() {
			_, ok := data.ProxyFor("MSFT")
			Expect(ok).To(BeFalse())
		})
	})

	Describe("SecondaryBlocked", func() {
		AfterEach(func() {
			viper.Set("data.secondary_blocklist", nil)
		})

		It("matches configured symbols case-insensitively", func() {
			viper.Set("data.secondary_blocklist", []string{"brk.a", "^GSPTSE"})
			Expect(data.SecondaryBlocked("BRK.A")).To(BeTrue())
			Expect(data.SecondaryBlocked("^gsptse")).To(BeTrue())
			Expect(data.SecondaryBlocked("MSFT")).To(BeFalse())
		})
	})

	Describe("NormalizeCountry", func() {
		DescribeTable("alias resolution",
			func(country, ticker, expected string) {
				Expect(data.NormalizeCountry(country, ticker)).To(Equal(expected))
			},

			Entry("US alias", "US", "MSFT", "United States"),
			Entry("long form", "united states of america", "MSFT", "United States"),
			Entry("Canadian alias", "CA", "XIU.TO", "Canada"),
			Entry("unknown values pass through", "Japan", "7203.T", "Japan"),
			Entry("empty falls back to the market suffix", "", "XIU.TO", "Canada"),
			Entry("empty defaults to the US", "", "MSFT", "United States"),
		)
	})
})
