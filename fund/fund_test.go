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

package fund_test

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fundfolio/ff-api/fund"
	"github.com/fundfolio/ff-api/portfolio"
	"github.com/fundfolio/ff-api/repository"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func writeRegistry(contents string) string {
	path := filepath.Join(GinkgoT().TempDir(), "funds.toml")
	Expect(os.WriteFile(path, []byte(contents), 0600)).To(Succeed())
	return path
}

var _ = Describe("Registry", func() {
	It("loads funds with their settings", func() {
		registry, err := fund.LoadRegistry(writeRegistry(`
[[funds]]
id = "alpha"
name = "Alpha Fund"
backend = "local"
directory = "data/alpha"
base_currency = "CAD"

[[funds]]
id = "beta"
name = "Beta Fund"
`))
		Expect(err).To(BeNil())

		alpha, err := registry.Get("alpha")
		Expect(err).To(BeNil())
		Expect(alpha.Name).To(Equal("Alpha Fund"))
		Expect(alpha.Directory).To(Equal("data/alpha"))
		Expect(alpha.BaseCurrency).To(Equal("CAD"))

		Expect(registry.List()).To(HaveLen(2))
		Expect(registry.List()[1].ID).To(Equal("beta"))
	})

	It("fills in defaults for sparse entries", func() {
		registry, err := fund.LoadRegistry(writeRegistry(`
[[funds]]
id = "gamma"
`))
		Expect(err).To(BeNil())

		cfg, err := registry.Get("gamma")
		Expect(err).To(BeNil())
		Expect(cfg.Backend).To(Equal(fund.BackendLocal))
		Expect(cfg.BaseCurrency).To(Equal("USD"))
		Expect(cfg.Directory).To(Equal(filepath.Join("funds", "gamma")))
	})

	It("rejects duplicate fund ids", func() {
		_, err := fund.LoadRegistry(writeRegistry(`
[[funds]]
id = "alpha"

[[funds]]
id = "alpha"
`))
		Expect(err).To(MatchError(portfolio.ErrValidation))
	})

	It("rejects entries without an id", func() {
		_, err := fund.LoadRegistry(writeRegistry(`
[[funds]]
name = "Anonymous Fund"
`))
		Expect(err).To(MatchError(portfolio.ErrValidation))
	})

	It("rejects files that are not TOML", func() {
		_, err := fund.LoadRegistry(writeRegistry(`{"funds": []}`))
		Expect(err).To(MatchError(portfolio.ErrValidation))
	})

	It("fails on a missing registry file", func() {
		_, err := fund.LoadRegistry(filepath.Join(GinkgoT().TempDir(), "missing.toml"))
		Expect(err).ToNot(BeNil())
	})

	It("reports unknown funds", func() {
		registry, err := fund.LoadRegistry(writeRegistry(`
[[funds]]
id = "alpha"
`))
		Expect(err).To(BeNil())

		_, err = registry.Get("omega")
		Expect(err).To(MatchError(portfolio.ErrNotFound))
	})
})

var _ = Describe("Config.NewRepository", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("binds a local fund to a file journal", func() {
		cfg := &fund.Config{ID: "alpha", Backend: fund.BackendLocal, Directory: GinkgoT().TempDir()}

		repo, err := cfg.NewRepository(ctx)
		Expect(err).To(BeNil())
		Expect(repo.FundID()).To(Equal("alpha"))

		_, ok := repo.(*repository.LocalFile)
		Expect(ok).To(BeTrue())
	})

	It("rejects unknown backends", func() {
		cfg := &fund.Config{ID: "alpha", Backend: "sqlite"}

		_, err := cfg.NewRepository(ctx)
		Expect(err).To(MatchError(portfolio.ErrValidation))
	})

	It("requires a database_url for remote backends", func() {
		cfg := &fund.Config{ID: "alpha", Backend: fund.BackendRemote}

		_, err := cfg.NewRepository(ctx)
		Expect(err).To(MatchError(portfolio.ErrValidation))
	})

	It("requires a database_url for dual backends", func() {
		cfg := &fund.Config{ID: "alpha", Backend: fund.BackendDual, Directory: GinkgoT().TempDir()}

		_, err := cfg.NewRepository(ctx)
		Expect(err).To(MatchError(portfolio.ErrValidation))
	})
})
