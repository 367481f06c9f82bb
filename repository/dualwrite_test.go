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

package repository_test

import (
	"context"
	"errors"
	"time"

	"github.com/fundfolio/ff-api/common"
	"github.com/fundfolio/ff-api/portfolio"
	"github.com/fundfolio/ff-api/repository"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
)

var errBackendDown = errors.New("backend down")

// failRepo answers reads with empty results and fails every write.
type failRepo struct {
	fund string
}

func (fr *failRepo) FundID() string { return fr.fund }

func (fr *failRepo) GetPortfolioData(_ context.Context, _ *portfolio.DateRange) ([]*portfolio.PortfolioSnapshot, error) {
	return nil, nil
}

func (fr *failRepo) GetLatestPortfolioSnapshot(_ context.Context) (*portfolio.PortfolioSnapshot, error) {
	return nil, portfolio.ErrNotFound
}

func (fr *failRepo) SavePortfolioSnapshot(_ context.Context, _ *portfolio.PortfolioSnapshot, _ bool) (*portfolio.WriteResult, error) {
	return nil, errBackendDown
}

func (fr *failRepo) UpdateDailyPortfolioSnapshot(_ context.Context, _ *portfolio.PortfolioSnapshot) (*portfolio.WriteResult, error) {
	return nil, errBackendDown
}

func (fr *failRepo) GetTradeHistory(_ context.Context, _ string, _ *portfolio.DateRange) ([]*portfolio.Trade, error) {
	return nil, nil
}

func (fr *failRepo) SaveTrade(_ context.Context, _ *portfolio.Trade) (*portfolio.WriteResult, error) {
	return nil, errBackendDown
}

func (fr *failRepo) GetPositionsByTicker(_ context.Context, _ string) ([]*portfolio.Position, error) {
	return nil, portfolio.ErrNotFound
}

func (fr *failRepo) UpdateTickerInFutureSnapshots(_ context.Context, _ string, _ time.Time) error {
	return errBackendDown
}

func (fr *failRepo) GetMarketData(_ context.Context, _ string, _ *portfolio.DateRange) ([]*portfolio.MarketData, error) {
	return nil, nil
}

func (fr *failRepo) SaveMarketData(_ context.Context, _ *portfolio.MarketData) (*portfolio.WriteResult, error) {
	return nil, errBackendDown
}

func (fr *failRepo) GetCashBalances(_ context.Context) (map[string]decimal.Decimal, error) {
	return map[string]decimal.Decimal{}, nil
}

func (fr *failRepo) SaveCashBalance(_ context.Context, _ string, _ decimal.Decimal, _ time.Time) (*portfolio.WriteResult, error) {
	return nil, errBackendDown
}

func (fr *failRepo) BackupData(_ context.Context, _ string) error       { return errBackendDown }
func (fr *failRepo) RestoreFromBackup(_ context.Context, _ string) error { return errBackendDown }

func (fr *failRepo) ValidateDataIntegrity(_ context.Context) ([]string, error) {
	return nil, nil
}

var _ portfolio.Repository = (*failRepo)(nil)

var _ = Describe("DualWrite", func() {
	var (
		ctx       context.Context
		primary   *repository.LocalFile
		secondary *repository.LocalFile
		ts        time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		ts = time.Date(2024, 3, 5, 13, 30, 0, 0, common.GetDisplayTimezone())

		var err error
		primary, err = repository.NewLocalFile("alpha", GinkgoT().TempDir())
		Expect(err).To(BeNil())
		secondary, err = repository.NewLocalFile("alpha", GinkgoT().TempDir())
		Expect(err).To(BeNil())
	})

	It("rejects backends for different funds", func() {
		other, err := repository.NewLocalFile("beta", GinkgoT().TempDir())
		Expect(err).To(BeNil())

		_, err = repository.NewDualWrite(primary, other)
		Expect(err).To(MatchError(portfolio.ErrValidation))
	})

	It("writes to both backends on success", func() {
		dw, err := repository.NewDualWrite(primary, secondary)
		Expect(err).To(BeNil())

		result, err := dw.SaveTrade(ctx, buyTrade("MSFT", "10", "320", ts, "initial buy"))
		Expect(err).To(BeNil())
		Expect(result.OK()).To(BeTrue())

		primaryTrades, err := primary.GetTradeHistory(ctx, "", nil)
		Expect(err).To(BeNil())
		Expect(primaryTrades).To(HaveLen(1))
		secondaryTrades, err := secondary.GetTradeHistory(ctx, "", nil)
		Expect(err).To(BeNil())
		Expect(secondaryTrades).To(HaveLen(1))
	})

	It("reports a partial failure without failing the write", func() {
		dw, err := repository.NewDualWrite(primary, &failRepo{fund: "alpha"})
		Expect(err).To(BeNil())

		result, err := dw.SaveTrade(ctx, buyTrade("MSFT", "10", "320", ts, "initial buy"))
		Expect(err).To(BeNil())
		Expect(result.PrimaryOK).To(BeTrue())
		Expect(result.SecondaryOK).To(BeFalse())
		Expect(result.OK()).To(BeFalse())
		Expect(result.Errors).To(HaveLen(1))

		// the primary still holds the trade
		trades, err := primary.GetTradeHistory(ctx, "", nil)
		Expect(err).To(BeNil())
		Expect(trades).To(HaveLen(1))
	})

	It("fails when both backends fail", func() {
		dw, err := repository.NewDualWrite(&failRepo{fund: "alpha"}, &failRepo{fund: "alpha"})
		Expect(err).To(BeNil())

		_, err = dw.SaveTrade(ctx, buyTrade("MSFT", "10", "320", ts, "initial buy"))
		Expect(err).To(MatchError(portfolio.ErrRepository))
	})

	It("reads from the primary only", func() {
		_, err := primary.SaveTrade(ctx, buyTrade("MSFT", "10", "320", ts, "initial buy"))
		Expect(err).To(BeNil())

		dw, err := repository.NewDualWrite(primary, secondary)
		Expect(err).To(BeNil())

		trades, err := dw.GetTradeHistory(ctx, "", nil)
		Expect(err).To(BeNil())
		Expect(trades).To(HaveLen(1))
	})

	Describe("ValidateDataIntegrity", func() {
		It("passes when both backends agree", func() {
			dw, err := repository.NewDualWrite(primary, secondary)
			Expect(err).To(BeNil())
			_, err = dw.SaveTrade(ctx, buyTrade("MSFT", "10", "320", ts, "initial buy"))
			Expect(err).To(BeNil())

			issues, err := dw.ValidateDataIntegrity(ctx)
			Expect(err).To(BeNil())
			Expect(issues).To(BeEmpty())
		})

		It("surfaces a diverged dual write", func() {
			// write to the primary directly so the secondary never sees it
			_, err := primary.SaveTrade(ctx, buyTrade("MSFT", "10", "320", ts, "initial buy"))
			Expect(err).To(BeNil())

			dw, err := repository.NewDualWrite(primary, secondary)
			Expect(err).To(BeNil())

			issues, err := dw.ValidateDataIntegrity(ctx)
			Expect(err).To(BeNil())
			Expect(issues).To(HaveLen(1))
			Expect(issues[0]).To(ContainSubstring("trade count mismatch"))
		})
	})
})
