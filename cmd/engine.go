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

package cmd

import (
	"context"
	"fmt"

	"github.com/fundfolio/ff-api/data"
	"github.com/fundfolio/ff-api/fund"
	"github.com/fundfolio/ff-api/marketcal"
	"github.com/fundfolio/ff-api/portfolio"
	"github.com/spf13/viper"
)

// engine bundles the per-fund services commands need.
type engine struct {
	cfg       *fund.Config
	repo      portfolio.Repository
	calendar  *marketcal.Calendar
	manager   *data.Manager
	prices    *portfolio.PriceService
	rebuilder *portfolio.HistoricalRebuilder
	processor *portfolio.TradeProcessor
}

// newEngine resolves the fund (the --fund flag, or the only configured fund)
// and wires its repository and services.
func newEngine(ctx context.Context) (*engine, error) {
	registry, err := fund.LoadRegistry(viper.GetString("journal.funds_file"))
	if err != nil {
		return nil, err
	}

	id := fundID
	if id == "" {
		funds := registry.List()
		if len(funds) != 1 {
			return nil, fmt.Errorf("%w: %d funds configured; pass --fund", portfolio.ErrValidation, len(funds))
		}
		id = funds[0].ID
	}

	cfg, err := registry.Get(id)
	if err != nil {
		return nil, err
	}
	repo, err := cfg.NewRepository(ctx)
	if err != nil {
		return nil, err
	}

	calendar := marketcal.New()
	manager := data.NewManager()
	prices := portfolio.NewPriceService(manager, calendar)
	rebuilder := portfolio.NewHistoricalRebuilder(repo, prices, calendar, cfg.BaseCurrency)
	processor := portfolio.NewTradeProcessor(repo, prices, rebuilder, cfg.BaseCurrency)

	return &engine{
		cfg:       cfg,
		repo:      repo,
		calendar:  calendar,
		manager:   manager,
		prices:    prices,
		rebuilder: rebuilder,
		processor: processor,
	}, nil
}
